package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	haclient "github.com/mkelcik/go-ha-client/v2"

	"github.com/njoerd114/socialsync/internal/model"
)

const (
	domainNotification = "persistent_notification"
	serviceCreate      = "create"
	serviceDismiss     = "dismiss"
)

// RESTClient is the subset of the Home Assistant REST API the publisher
// uses.
type RESTClient interface {
	Ping(ctx context.Context) error
	// CallService POSTs body to /api/services/<domain>/<service>.
	CallService(ctx context.Context, domain, service string, body io.Reader) error
}

// haClientWrapper uses [haclient.Client] for Ping and posts service calls
// itself, since persistent_notification services return no response.
type haClientWrapper struct {
	client  *haclient.Client
	baseURL string
	token   string
	hc      *http.Client
}

func (w *haClientWrapper) Ping(ctx context.Context) error {
	return w.client.Ping(ctx)
}

func (w *haClientWrapper) CallService(ctx context.Context, domain, service string, body io.Reader) error {
	endpoint := fmt.Sprintf("%s/api/services/%s/%s",
		strings.TrimRight(w.baseURL, "/"),
		url.PathEscape(domain),
		url.PathEscape(service),
	)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return Permanent(fmt.Errorf("create service request: %w", err))
	}
	req.Header.Set("Authorization", "Bearer "+w.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.hc.Do(req)
	if err != nil {
		return fmt.Errorf("execute service request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return Permanent(fmt.Errorf("HA returned 401 Unauthorized, check ha_token"))
	case resp.StatusCode == http.StatusBadRequest:
		var br struct {
			Message string `json:"message"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&br)
		return Permanent(fmt.Errorf("HA rejected %s.%s: %s", domain, service, br.Message))
	case resp.StatusCode >= 300:
		return fmt.Errorf("HA returned unexpected status %d", resp.StatusCode)
	}
	return nil
}

// HomeAssistantPublisher shows notifications as Home Assistant persistent
// notifications keyed by [Notification.ID].
type HomeAssistantPublisher struct {
	rest RESTClient
	log  *slog.Logger
}

// NewHomeAssistantPublisher creates a publisher for the HA instance at
// haURL.
func NewHomeAssistantPublisher(haURL, token string, logger *slog.Logger) (*HomeAssistantPublisher, error) {
	rest, err := haclient.NewClient(haURL,
		haclient.WithToken(token),
		haclient.WithLogger(logger),
	)
	if err != nil {
		return nil, fmt.Errorf("create HA REST client: %w", err)
	}
	wrapper := &haClientWrapper{
		client:  rest,
		baseURL: haURL,
		token:   token,
		hc:      &http.Client{Timeout: 30 * time.Second},
	}
	return &HomeAssistantPublisher{rest: wrapper, log: logger}, nil
}

// NewHomeAssistantPublisherWithClient creates a publisher over a
// caller-supplied client.
func NewHomeAssistantPublisherWithClient(rest RESTClient, logger *slog.Logger) *HomeAssistantPublisher {
	return &HomeAssistantPublisher{rest: rest, log: logger}
}

// Ping validates the HA connection and token with retry.
func (p *HomeAssistantPublisher) Ping(ctx context.Context) error {
	if err := Retry(ctx, defaultMaxAttempts, func() error { return p.rest.Ping(ctx) }); err != nil {
		return fmt.Errorf("ping HA: %w", err)
	}
	return nil
}

// Publish creates or replaces the notification.
func (p *HomeAssistantPublisher) Publish(ctx context.Context, n Notification) error {
	data := map[string]any{
		"notification_id": n.ID(),
		"title":           n.Body,
		"message":         formatMessage(n),
	}
	err := Retry(ctx, defaultMaxAttempts, func() error {
		return p.rest.CallService(ctx, domainNotification, serviceCreate, serviceBody(data))
	})
	if err != nil {
		return fmt.Errorf("publish notification %s: %w", n.ID(), err)
	}
	p.log.Debug("notification published", "id", n.ID(), "items", n.ItemCount)
	return nil
}

// Dismiss removes the account's notification of category, if shown.
func (p *HomeAssistantPublisher) Dismiss(ctx context.Context, category string, account model.AccountID) error {
	id := ID(category, account)
	data := map[string]any{"notification_id": id}
	err := Retry(ctx, defaultMaxAttempts, func() error {
		return p.rest.CallService(ctx, domainNotification, serviceDismiss, serviceBody(data))
	})
	if err != nil {
		return fmt.Errorf("dismiss notification %s: %w", id, err)
	}
	return nil
}

// formatMessage renders the summary with the link as markdown.
func formatMessage(n Notification) string {
	if n.Link == "" {
		return n.Summary
	}
	return fmt.Sprintf("%s\n\n[Open](%s)", n.Summary, n.Link)
}

// serviceBody marshals data to a JSON [io.Reader] for service calls.
func serviceBody(data map[string]any) io.Reader {
	b, _ := json.Marshal(data) //nolint:errcheck // map of strings always marshals
	return bytes.NewReader(b)
}
