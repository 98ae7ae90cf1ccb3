// Package gateway issues outbound provider HTTP requests with per-account
// authorization, correlation metadata, and a per-request deadline.
package gateway

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/njoerd114/socialsync/internal/apperr"
	"github.com/njoerd114/socialsync/internal/model"
)

// DefaultTimeout is the per-request deadline used when none is configured.
const DefaultTimeout = 60 * time.Second

// Purpose tags what an in-flight request is for.
type Purpose string

const (
	PurposeSignon Purpose = "signon"
	PurposeList   Purpose = "list"
	PurposePage   Purpose = "page"
	PurposeUpsync Purpose = "upsync"
)

// Request describes one outbound call.
type Request struct {
	Method string
	URL    string
	Body   []byte

	// ContentType is set on requests with a body. Form-encoded bodies are
	// included in the OAuth1 signature base.
	ContentType string

	Purpose Purpose
	Account model.AccountID
	Token   model.Token

	// Auth authorizes the request. Nil sends it unauthenticated.
	Auth Authorizer

	// Timeout overrides the gateway timeout for this request.
	Timeout time.Duration
}

// InFlight is an issued request together with the metadata needed to
// recover its context on completion.
type InFlight struct {
	Request
	CorrelationID string
	IssuedAt      time.Time
}

// Transport classifies transport-level failures.
type Transport int

const (
	TransportOK Transport = iota
	TransportNetwork
	TransportTimeout
	TransportTLS
)

func (t Transport) String() string {
	switch t {
	case TransportOK:
		return "ok"
	case TransportTimeout:
		return "timeout"
	case TransportTLS:
		return "ssl_error"
	default:
		return "network_error"
	}
}

// AppError is an application-level error embedded in a well-formed response.
type AppError struct {
	Code    int
	Type    string
	Message string
}

// Reply is the resolution of an InFlight request.
type Reply struct {
	Request *InFlight

	Status int
	Header http.Header
	Body   []byte

	// Transport is set when no usable response was received. Transport
	// errors short-circuit parsing.
	Transport Transport
	Err       error

	// App is set when the response body or status carries a provider error.
	App *AppError
}

// IsError reports whether the reply carries a transport or application error.
func (r *Reply) IsError() bool {
	return r.Transport != TransportOK || r.App != nil
}

// Error converts the reply into the error taxonomy, or nil on success.
func (r *Reply) Error(provider string) error {
	switch {
	case r.Transport != TransportOK:
		return &apperr.Error{
			Kind:      apperr.KindNetwork,
			Provider:  provider,
			AccountID: r.Request.Account,
			Msg:       fmt.Sprintf("%s %s: %s", r.Request.Purpose, r.Request.CorrelationID, r.Transport),
			Err:       r.Err,
		}
	case r.App != nil:
		msg := r.App.Message
		if msg == "" {
			msg = fmt.Sprintf("HTTP %d", r.Status)
		}
		return &apperr.Error{
			Kind:      apperr.KindApplication,
			Provider:  provider,
			AccountID: r.Request.Account,
			Code:      r.App.Code,
			Msg:       msg,
		}
	}
	return nil
}

// ErrorPaths names the gjson paths where a provider reports
// application-level errors.
type ErrorPaths struct {
	Code    []string
	Type    []string
	Message []string
}

// Options configures a Gateway.
type Options struct {
	HTTPClient *http.Client
	Timeout    time.Duration
	UserAgent  string
	Errors     ErrorPaths
	Logger     *slog.Logger
}

// Gateway issues provider requests. A Gateway is safe for concurrent use.
type Gateway struct {
	httpClient *http.Client
	timeout    time.Duration
	userAgent  string
	errors     ErrorPaths
	log        *slog.Logger
	now        func() time.Time
}

// New returns a Gateway with defaults applied to opts.
func New(opts Options) *Gateway {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	userAgent := strings.TrimSpace(opts.UserAgent)
	if userAgent == "" {
		userAgent = "socialsync"
	}
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Gateway{
		httpClient: httpClient,
		timeout:    timeout,
		userAgent:  userAgent,
		errors:     opts.Errors,
		log:        log,
		now:        time.Now,
	}
}

// Timeout returns the gateway's default per-request deadline.
func (g *Gateway) Timeout() time.Duration { return g.timeout }

// Issue tags req with a correlation id and sends it. It blocks until the
// response arrives, the deadline expires, or ctx is cancelled, and always
// returns a Reply.
func (g *Gateway) Issue(ctx context.Context, req Request) *Reply {
	inflight := &InFlight{
		Request:       req,
		CorrelationID: uuid.NewString(),
		IssuedAt:      g.now(),
	}
	reply := &Reply{Request: inflight}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = g.timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		reply.Transport = TransportNetwork
		reply.Err = fmt.Errorf("building request: %w", err)
		return reply
	}
	httpReq.Header.Set("User-Agent", g.userAgent)
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("X-Correlation-Id", inflight.CorrelationID)
	if req.ContentType != "" {
		httpReq.Header.Set("Content-Type", req.ContentType)
	}
	if req.Auth != nil {
		if err := req.Auth.Authorize(httpReq, req.Body); err != nil {
			reply.Transport = TransportNetwork
			reply.Err = fmt.Errorf("authorizing request: %w", err)
			return reply
		}
	}

	g.log.Debug("issuing request",
		"account_id", req.Account,
		"purpose", req.Purpose,
		"method", req.Method,
		"correlation_id", inflight.CorrelationID,
	)

	resp, err := g.httpClient.Do(httpReq)
	if err != nil {
		reply.Transport = classifyTransport(ctx, err)
		reply.Err = err
		return reply
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		reply.Transport = classifyTransport(ctx, err)
		reply.Err = fmt.Errorf("reading response body: %w", err)
		return reply
	}
	reply.Status = resp.StatusCode
	reply.Header = resp.Header
	reply.Body = data
	reply.App = g.detectAppError(resp.StatusCode, data)
	return reply
}

func (g *Gateway) detectAppError(status int, body []byte) *AppError {
	var app AppError
	found := false
	if r, ok := firstOf(body, g.errors.Code); ok {
		app.Code = int(r.Int())
		found = true
	}
	if r, ok := firstOf(body, g.errors.Type); ok {
		app.Type = r.String()
		found = true
	}
	if r, ok := firstOf(body, g.errors.Message); ok {
		app.Message = r.String()
		found = found || app.Message != ""
	}
	if !found && status < 400 {
		return nil
	}
	if !found {
		app.Code = status
	}
	return &app
}

func firstOf(body []byte, paths []string) (gjson.Result, bool) {
	if len(body) == 0 {
		return gjson.Result{}, false
	}
	for _, p := range paths {
		if r := gjson.GetBytes(body, p); r.Exists() {
			return r, true
		}
	}
	return gjson.Result{}, false
}

func classifyTransport(ctx context.Context, err error) Transport {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return TransportTimeout
	}
	var (
		certErr    *tls.CertificateVerificationError
		unknownCA  x509.UnknownAuthorityError
		hostErr    x509.HostnameError
		invalidErr x509.CertificateInvalidError
		recordErr  tls.RecordHeaderError
	)
	if errors.As(err, &certErr) || errors.As(err, &unknownCA) || errors.As(err, &hostErr) ||
		errors.As(err, &invalidErr) || errors.As(err, &recordErr) {
		return TransportTLS
	}
	return TransportNetwork
}
