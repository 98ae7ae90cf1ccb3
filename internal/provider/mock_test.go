package provider

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	stdsync "sync"
	"testing"

	"github.com/njoerd114/socialsync/internal/gateway"
	"github.com/njoerd114/socialsync/internal/keystore"
	"github.com/njoerd114/socialsync/internal/model"
	"github.com/njoerd114/socialsync/internal/notify"
	"github.com/njoerd114/socialsync/internal/state"
	"github.com/njoerd114/socialsync/internal/sync"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// --- Mock Publisher -----------------------------------------------------------

type recordingPublisher struct {
	mu        stdsync.Mutex
	published []notify.Notification
	dismissed []string
}

func (p *recordingPublisher) Publish(_ context.Context, n notify.Notification) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.published = append(p.published, n)
	return nil
}

func (p *recordingPublisher) Dismiss(_ context.Context, category string, account model.AccountID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dismissed = append(p.dismissed, notify.ID(category, account))
	return nil
}

func (p *recordingPublisher) all() []notify.Notification {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]notify.Notification(nil), p.published...)
}

// --- Static credentials -------------------------------------------------------

type stubCreds struct{}

func (stubCreds) Load(keystore.KeyNames) (keystore.Pair, error) {
	return keystore.Pair{ID: "ck", Secret: "cs"}, nil
}

// --- Test environment ---------------------------------------------------------

// env runs real adaptors against an httptest server with a SQLite store.
type env struct {
	t     *testing.T
	store *state.Store
	srv   *httptest.Server
	pub   *recordingPublisher
}

func newEnv(t *testing.T, h http.HandlerFunc) *env {
	t.Helper()
	st, err := state.Open(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("state.Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return &env{t: t, store: st, srv: srv, pub: &recordingPublisher{}}
}

func (e *env) account(provider string, services ...string) model.AccountID {
	e.t.Helper()
	acct := &model.Account{Provider: provider, Services: services, State: model.StateSynced}
	if err := e.store.AddAccount(context.Background(), acct, model.Token{AccessToken: "tok", Secret: "toksecret"}); err != nil {
		e.t.Fatalf("AddAccount: %v", err)
	}
	return acct.ID
}

func (e *env) adaptor(provider string, dt model.DataType) (sync.Adaptor, Variant) {
	e.t.Helper()
	for _, v := range Variants() {
		if v.Provider == provider && v.DataType == dt {
			return v.New(Settings{BaseURL: e.srv.URL}, Deps{
				Records:   e.store,
				Expirer:   e.store,
				Publisher: e.pub,
				Logger:    discardLogger(),
			}), v
		}
	}
	e.t.Fatalf("no variant %s/%s", provider, dt)
	return nil, Variant{}
}

func (e *env) orchestrator(a sync.Adaptor, v Variant) *sync.Orchestrator {
	gw := gateway.New(gateway.Options{
		HTTPClient: e.srv.Client(),
		Errors:     v.Errors,
		Logger:     discardLogger(),
	})
	return sync.NewOrchestrator(a, sync.Options{
		Accounts:    e.store,
		Records:     e.store,
		Credentials: stubCreds{},
		Issuer:      gw,
		Logger:      discardLogger(),
	})
}

func (e *env) sync(provider string, dt model.DataType) model.PassResult {
	e.t.Helper()
	a, v := e.adaptor(provider, dt)
	return e.orchestrator(a, v).Sync(context.Background(), sync.ScopeAll)
}

func (e *env) records(id model.AccountID, dt model.DataType) map[string]*model.Record {
	e.t.Helper()
	recs, err := e.store.Records(context.Background(), id, dt)
	if err != nil {
		e.t.Fatalf("Records: %v", err)
	}
	out := make(map[string]*model.Record, len(recs))
	for _, r := range recs {
		out[r.RemoteID] = r
	}
	return out
}

func (e *env) flag(id model.AccountID, service, key string) string {
	e.t.Helper()
	v, _, err := e.store.ConfigurationValue(context.Background(), id, service, key)
	if err != nil {
		e.t.Fatalf("ConfigurationValue: %v", err)
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}
