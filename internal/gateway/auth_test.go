package gateway

import (
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"
)

func TestPercentEncode(t *testing.T) {
	tests := []struct{ in, want string }{
		{"Ladies + Gentlemen", "Ladies%20%2B%20Gentlemen"},
		{"An encoded string!", "An%20encoded%20string%21"},
		{"Dogs, Cats & Mice", "Dogs%2C%20Cats%20%26%20Mice"},
		{"-._~", "-._~"},
		{"☃", "%E2%98%83"},
	}
	for _, tt := range tests {
		if got := percentEncode(tt.in); got != tt.want {
			t.Errorf("percentEncode(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

// Published reference vector for HMAC-SHA1 request signing.
func TestOAuth1Header_ReferenceVector(t *testing.T) {
	o := OAuth1{
		ConsumerKey:    "xvz1evFS4wEEPTGEFPHBog",
		ConsumerSecret: "kAcSOqF21Fu85e7zjz7ZN2U4ZRhfV3WpwPAoE3Z7kBw",
		Token:          "370773112-GmHxMAgYyLbNEtIKZeRNFsMKPR9EyMZeS9weJAEb",
		TokenSecret:    "LswwdoUaIvS8ltyTt5jkRh4J50vUPVVHtR2YPi5kE",
	}
	u, _ := url.Parse("https://api.twitter.com/1.1/statuses/update.json?include_entities=true")
	form := url.Values{"status": {"Hello Ladies + Gentlemen, a signed OAuth request!"}}

	got := o.Header(http.MethodPost, u, form, "kYjzVBB8Y0ZFabxSWbWovY3uYSQ2pTgmZeNu2VS4cg", 1318622958)

	want := `oauth_signature="hCtSmYh%2BiHYCEqBWrE7C7hYmtUk%3D"`
	if !strings.Contains(got, want) {
		t.Errorf("header %q does not contain %s", got, want)
	}
	if !strings.HasPrefix(got, "OAuth ") {
		t.Errorf("header %q missing OAuth scheme", got)
	}
	if strings.Contains(got, "include_entities") || strings.Contains(got, "status") {
		t.Errorf("header %q leaks request parameters", got)
	}
}

func TestOAuth1Header_Deterministic(t *testing.T) {
	o := OAuth1{ConsumerKey: "ck", ConsumerSecret: "cs", Token: "tk", TokenSecret: "ts"}
	u, _ := url.Parse("https://api.twitter.com/1.1/statuses/mentions_timeline.json?count=50&since_id=12")

	a := o.Header(http.MethodGet, u, nil, "abc", 1700000000)
	b := o.Header(http.MethodGet, u, nil, "abc", 1700000000)
	if a != b {
		t.Fatalf("header not deterministic:\n%s\n%s", a, b)
	}

	want := `OAuth oauth_consumer_key="ck", oauth_nonce="abc", ` +
		`oauth_signature="ZhIywxdZF6qG%2FaZsfqu70tffiCI%3D", oauth_signature_method="HMAC-SHA1", ` +
		`oauth_timestamp="1700000000", oauth_token="tk", oauth_version="1.0"`
	if a != want {
		t.Errorf("header =\n%s\nwant\n%s", a, want)
	}

	if c := o.Header(http.MethodGet, u, nil, "abd", 1700000000); c == a {
		t.Error("different nonce produced identical header")
	}
}

func TestOAuth1_AuthorizeFreshNoncePerRequest(t *testing.T) {
	fixed := time.Unix(1700000000, 0)
	o := OAuth1{ConsumerKey: "ck", ConsumerSecret: "cs", Token: "tk", TokenSecret: "ts", Now: func() time.Time { return fixed }}

	seen := map[string]bool{}
	for range 3 {
		req, _ := http.NewRequest(http.MethodGet, "https://api.twitter.com/1.1/statuses/mentions_timeline.json", nil)
		if err := o.Authorize(req, nil); err != nil {
			t.Fatalf("Authorize: %v", err)
		}
		h := req.Header.Get("Authorization")
		if seen[h] {
			t.Fatalf("header reused across requests: %s", h)
		}
		seen[h] = true
	}
}

func TestOAuth1_AuthorizeRequiresConsumer(t *testing.T) {
	req, _ := http.NewRequest(http.MethodGet, "https://example.com/", nil)
	if err := (OAuth1{}).Authorize(req, nil); err == nil {
		t.Fatal("expected error for empty consumer credentials")
	}
}

func TestBaseURL(t *testing.T) {
	tests := []struct{ in, want string }{
		{"HTTPS://API.Example.com:443/a/b?x=1", "https://api.example.com/a/b"},
		{"http://example.com:80", "http://example.com/"},
		{"http://example.com:8080/p", "http://example.com:8080/p"},
	}
	for _, tt := range tests {
		u, err := url.Parse(tt.in)
		if err != nil {
			t.Fatal(err)
		}
		if got := baseURL(u); got != tt.want {
			t.Errorf("baseURL(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestQueryTokenAndBearer(t *testing.T) {
	req, _ := http.NewRequest(http.MethodGet, "https://graph.facebook.com/me?fields=id", nil)
	if err := (QueryToken{Param: "access_token", Token: "t1"}).Authorize(req, nil); err != nil {
		t.Fatalf("QueryToken: %v", err)
	}
	q := req.URL.Query()
	if q.Get("access_token") != "t1" || q.Get("fields") != "id" {
		t.Errorf("query = %v", q)
	}

	if err := Bearer("b1").Authorize(req, nil); err != nil {
		t.Fatalf("Bearer: %v", err)
	}
	if got := req.Header.Get("Authorization"); got != "Bearer b1" {
		t.Errorf("Authorization = %q", got)
	}
	if err := Bearer("").Authorize(req, nil); err == nil {
		t.Error("expected error for empty bearer token")
	}
}
