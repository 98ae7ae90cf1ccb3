package gateway

import (
	"crypto/hmac"
	"crypto/sha1" //nolint:gosec // HMAC-SHA1 is mandated by OAuth 1.0a
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Authorizer adds credentials to an outbound request. body is the raw
// request body, or nil.
type Authorizer interface {
	Authorize(req *http.Request, body []byte) error
}

// Bearer authorizes with an "Authorization: Bearer" header.
type Bearer string

func (b Bearer) Authorize(req *http.Request, _ []byte) error {
	if b == "" {
		return fmt.Errorf("bearer token is empty")
	}
	req.Header.Set("Authorization", "Bearer "+string(b))
	return nil
}

// QueryToken authorizes by appending the token as a query parameter.
type QueryToken struct {
	Param string
	Token string
}

func (q QueryToken) Authorize(req *http.Request, _ []byte) error {
	if q.Token == "" {
		return fmt.Errorf("%s is empty", q.Param)
	}
	v := req.URL.Query()
	v.Set(q.Param, q.Token)
	req.URL.RawQuery = v.Encode()
	return nil
}

// OAuth1 signs requests with HMAC-SHA1 per RFC 5849. A fresh nonce and
// timestamp are generated for every request.
type OAuth1 struct {
	ConsumerKey    string
	ConsumerSecret string
	Token          string
	TokenSecret    string

	// Nonce and Now override nonce and clock generation in tests.
	Nonce func() string
	Now   func() time.Time
}

func (o OAuth1) Authorize(req *http.Request, body []byte) error {
	if o.ConsumerKey == "" || o.ConsumerSecret == "" {
		return fmt.Errorf("oauth1 consumer credentials are empty")
	}
	nonce := strings.ReplaceAll(uuid.NewString(), "-", "")
	if o.Nonce != nil {
		nonce = o.Nonce()
	}
	now := time.Now
	if o.Now != nil {
		now = o.Now
	}

	var form url.Values
	if body != nil && strings.HasPrefix(req.Header.Get("Content-Type"), "application/x-www-form-urlencoded") {
		parsed, err := url.ParseQuery(string(body))
		if err != nil {
			return fmt.Errorf("parsing form body for signature: %w", err)
		}
		form = parsed
	}

	req.Header.Set("Authorization", o.Header(req.Method, req.URL, form, nonce, now().Unix()))
	return nil
}

// Header returns the Authorization header value for the request. It is
// deterministic for fixed inputs.
func (o OAuth1) Header(method string, u *url.URL, form url.Values, nonce string, timestamp int64) string {
	oauth := map[string]string{
		"oauth_consumer_key":     o.ConsumerKey,
		"oauth_nonce":            nonce,
		"oauth_signature_method": "HMAC-SHA1",
		"oauth_timestamp":        strconv.FormatInt(timestamp, 10),
		"oauth_version":          "1.0",
	}
	if o.Token != "" {
		oauth["oauth_token"] = o.Token
	}

	type pair struct{ k, v string }
	var pairs []pair
	add := func(k, v string) { pairs = append(pairs, pair{percentEncode(k), percentEncode(v)}) }
	for k, v := range oauth {
		add(k, v)
	}
	for k, vs := range u.Query() {
		for _, v := range vs {
			add(k, v)
		}
	}
	for k, vs := range form {
		for _, v := range vs {
			add(k, v)
		}
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].k != pairs[j].k {
			return pairs[i].k < pairs[j].k
		}
		return pairs[i].v < pairs[j].v
	})
	params := make([]string, len(pairs))
	for i, p := range pairs {
		params[i] = p.k + "=" + p.v
	}

	base := strings.ToUpper(method) + "&" + percentEncode(baseURL(u)) + "&" + percentEncode(strings.Join(params, "&"))
	key := percentEncode(o.ConsumerSecret) + "&" + percentEncode(o.TokenSecret)

	mac := hmac.New(sha1.New, []byte(key))
	mac.Write([]byte(base))
	oauth["oauth_signature"] = base64.StdEncoding.EncodeToString(mac.Sum(nil))

	keys := make([]string, 0, len(oauth))
	for k := range oauth {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString("OAuth ")
	for i, k := range keys {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, `%s="%s"`, percentEncode(k), percentEncode(oauth[k]))
	}
	return b.String()
}

// baseURL is the scheme, host, and path of u with the query and fragment
// removed, lowercasing scheme and host and dropping default ports.
func baseURL(u *url.URL) string {
	scheme := strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Host)
	if (scheme == "http" && strings.HasSuffix(host, ":80")) || (scheme == "https" && strings.HasSuffix(host, ":443")) {
		host = host[:strings.LastIndex(host, ":")]
	}
	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	return scheme + "://" + host + path
}

// percentEncode applies RFC 3986 encoding: every byte except the
// unreserved set is escaped as %XX with uppercase hex.
func percentEncode(s string) string {
	const hex = "0123456789ABCDEF"
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case 'A' <= c && c <= 'Z', 'a' <= c && c <= 'z', '0' <= c && c <= '9',
			c == '-', c == '.', c == '_', c == '~':
			b.WriteByte(c)
		default:
			b.WriteByte('%')
			b.WriteByte(hex[c>>4])
			b.WriteByte(hex[c&15])
		}
	}
	return b.String()
}
