package setup

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/njoerd114/socialsync/internal/config"
	"github.com/njoerd114/socialsync/internal/model"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeAccounts struct {
	acct *model.Account
	tok  model.Token
}

func (f *fakeAccounts) AddAccount(_ context.Context, acct *model.Account, tok model.Token) error {
	acct.ID = 12
	f.acct, f.tok = acct, tok
	return nil
}

type fakeKeys map[string]string

func (f fakeKeys) SetKey(provider, service, key, value string) error {
	f[provider+"/"+service+"/"+key] = value
	return nil
}

func newTestWizard(input string) (*Wizard, *bytes.Buffer) {
	var out bytes.Buffer
	return NewWizard(strings.NewReader(input), &out, discardLogger()), &out
}

func TestPrompter_StringDefaultAndRequired(t *testing.T) {
	var out bytes.Buffer
	p := NewPrompter(strings.NewReader("\n\nvalue\n"), &out)

	if got := p.String("Name", "def"); got != "def" {
		t.Errorf("String with default = %q", got)
	}
	if got := p.String("Name", ""); got != "value" {
		t.Errorf("String required = %q", got)
	}
	if !strings.Contains(out.String(), "a value is required") {
		t.Errorf("output = %q, want a retry hint", out.String())
	}
}

func TestPrompter_SecretEOF(t *testing.T) {
	p := NewPrompter(strings.NewReader(""), io.Discard)
	if _, err := p.Secret("Token"); !errors.Is(err, errNoInput) {
		t.Errorf("err = %v, want errNoInput", err)
	}
}

func TestPrompter_Select(t *testing.T) {
	p := NewPrompter(strings.NewReader("0\nx\n2\n"), io.Discard)
	i, err := p.Select("Pick", []string{"a", "b"})
	if err != nil || i != 1 {
		t.Errorf("Select = %d, %v; want 1", i, err)
	}
}

func TestParseChoices(t *testing.T) {
	tests := []struct {
		in   string
		want []int
		ok   bool
	}{
		{"1", []int{0}, true},
		{"3, 1,3", []int{2, 0}, true},
		{"4", nil, false},
		{"1,x", nil, false},
	}
	for _, tt := range tests {
		got, ok := parseChoices(tt.in, 3)
		if ok != tt.ok || !slices.Equal(got, tt.want) {
			t.Errorf("parseChoices(%q) = %v, %v; want %v, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestWizard_AddAccountOAuth1(t *testing.T) {
	cfg := &config.Config{Providers: map[string]config.ProviderConfig{
		"twitter": {Enabled: true},
		"vk":      {Enabled: true},
		"google":  {Enabled: false},
	}}
	// twitter, all services, token, token secret, consumer key, consumer secret.
	wiz, _ := newTestWizard("1\n\ntok\nsec\nck\ncs\n")
	accounts := &fakeAccounts{}
	keys := fakeKeys{}

	acct, err := wiz.AddAccount(context.Background(), cfg, accounts, keys)
	if err != nil {
		t.Fatalf("AddAccount: %v", err)
	}
	if acct.ID != 12 || acct.Provider != "twitter" || !slices.Equal(acct.Services, []string{"twitter-microblog"}) {
		t.Errorf("account = %+v", acct)
	}
	if accounts.tok != (model.Token{AccessToken: "tok", Secret: "sec"}) {
		t.Errorf("token = %+v", accounts.tok)
	}
	if keys["twitter/twitter-microblog/consumer_key"] != "ck" || keys["twitter/twitter-microblog/consumer_secret"] != "cs" {
		t.Errorf("keys = %v", keys)
	}
}

func TestWizard_AddAccountSkipsKeys(t *testing.T) {
	cfg := &config.Config{Providers: map[string]config.ProviderConfig{"facebook": {Enabled: true}}}
	// facebook, contacts only, token, skip the app credentials.
	wiz, _ := newTestWizard("1\n2\ntok\n\n")
	accounts := &fakeAccounts{}
	keys := fakeKeys{}

	if _, err := wiz.AddAccount(context.Background(), cfg, accounts, keys); err != nil {
		t.Fatalf("AddAccount: %v", err)
	}
	if !slices.Equal(accounts.acct.Services, []string{"facebook-contacts"}) || accounts.tok.Secret != "" {
		t.Errorf("account = %+v token = %+v", accounts.acct, accounts.tok)
	}
	if len(keys) != 0 {
		t.Errorf("keys = %v, want none", keys)
	}
}

func TestWizard_AddAccountNoProviders(t *testing.T) {
	wiz, _ := newTestWizard("")
	cfg := &config.Config{Providers: map[string]config.ProviderConfig{"vk": {}}}
	if _, err := wiz.AddAccount(context.Background(), cfg, &fakeAccounts{}, fakeKeys{}); err == nil {
		t.Error("expected error with no enabled providers")
	}
}

func TestWizard_InitHomeAssistant(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	// facebook and vk, default db, default keystore, HA, url, token, interval.
	wiz, _ := newTestWizard("1,4\n\n\n2\nhttp://ha.local:8123\nhatok\n15m\n")
	var pinged string
	wiz.ping = func(_ context.Context, haURL, token string) error {
		pinged = haURL + " " + token
		return nil
	}

	if err := wiz.Init(context.Background(), path); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if pinged != "http://ha.local:8123 hatok" {
		t.Errorf("pinged %q", pinged)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load written config: %v", err)
	}
	if _, ok := cfg.Provider("facebook"); !ok {
		t.Error("facebook not enabled")
	}
	if _, ok := cfg.Provider("vk"); !ok {
		t.Error("vk not enabled")
	}
	if _, ok := cfg.Provider("google"); ok {
		t.Error("google enabled")
	}
	if cfg.Notifications.Backend != config.BackendHomeAssistant || cfg.PollInterval.String() != "15m0s" {
		t.Errorf("config = %+v", cfg)
	}
	if cfg.KeystorePath != filepath.Join(filepath.Dir(path), "keys.yaml") {
		t.Errorf("keystore = %q", cfg.KeystorePath)
	}
}

func TestWizard_InitPingFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	wiz, _ := newTestWizard("1\n\n\n2\nhttp://ha.local:8123\nhatok\n")
	wiz.ping = func(context.Context, string, string) error { return errors.New("refused") }

	if err := wiz.Init(context.Background(), path); err == nil {
		t.Fatal("expected error when Home Assistant is unreachable")
	}
	if _, err := config.Load(path); err == nil {
		t.Error("config written despite failed ping")
	}
}
