package sync

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/tidwall/gjson"

	"github.com/njoerd114/socialsync/internal/apperr"
	"github.com/njoerd114/socialsync/internal/gateway"
	"github.com/njoerd114/socialsync/internal/keystore"
	"github.com/njoerd114/socialsync/internal/model"
	"github.com/njoerd114/socialsync/internal/state"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// --- Mock Account Manager -----------------------------------------------------

type mockAccounts struct {
	mu        sync.Mutex
	accounts  map[model.AccountID]*model.Account
	signInErr map[model.AccountID]error
	config    map[model.AccountID]map[string]string
	synced    map[model.AccountID]int
	lookups   map[model.AccountID]int

	// onLookup runs before Account returns; it may mutate the account.
	onLookup func(m *mockAccounts, id model.AccountID, n int)
}

func newMockAccounts(accts ...*model.Account) *mockAccounts {
	m := &mockAccounts{
		accounts:  make(map[model.AccountID]*model.Account),
		signInErr: make(map[model.AccountID]error),
		config:    make(map[model.AccountID]map[string]string),
		synced:    make(map[model.AccountID]int),
		lookups:   make(map[model.AccountID]int),
	}
	for _, a := range accts {
		m.accounts[a.ID] = a
	}
	return m
}

func (m *mockAccounts) EnumerateAccounts(_ context.Context, provider string) ([]*model.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Account
	for _, a := range m.accounts {
		if a.Provider == provider {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *mockAccounts) Account(_ context.Context, id model.AccountID) (*model.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lookups[id]++
	if m.onLookup != nil {
		m.onLookup(m, id, m.lookups[id])
	}
	a, ok := m.accounts[id]
	if !ok {
		return nil, nil
	}
	cp := *a
	return &cp, nil
}

func (m *mockAccounts) SignIn(_ context.Context, id model.AccountID, _ string) (model.Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.signInErr[id]; err != nil {
		return model.Token{}, err
	}
	return model.Token{AccessToken: fmt.Sprintf("token-%d", id)}, nil
}

func (m *mockAccounts) SetConfigurationValue(_ context.Context, id model.AccountID, service, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.config[id] == nil {
		m.config[id] = make(map[string]string)
	}
	m.config[id][service+"/"+key] = value
	return nil
}

func (m *mockAccounts) SyncAccount(_ context.Context, id model.AccountID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.synced[id]++
	return nil
}

func (m *mockAccounts) value(id model.AccountID, service, key string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.config[id][service+"/"+key]
}

func (m *mockAccounts) remove(id model.AccountID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.accounts, id)
}

// --- Mock Record Store --------------------------------------------------------

type recordKey struct {
	acct model.AccountID
	dt   model.DataType
}

type mockRecords struct {
	mu       sync.Mutex
	provider string
	snaps    map[recordKey]*state.Snapshot
	local    map[recordKey][]state.LocalChange
	commits  []*state.Batch
	purges   [][]model.AccountID
}

func newMockRecords(provider string) *mockRecords {
	return &mockRecords{
		provider: provider,
		snaps:    make(map[recordKey]*state.Snapshot),
		local:    make(map[recordKey][]state.LocalChange),
	}
}

// seed stores records as previously synced for acct.
func (m *mockRecords) seed(acct model.AccountID, dt model.DataType, recs ...*model.Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap := &state.Snapshot{Records: make(map[string]*model.Record), LastSync: time.Now().Add(-time.Hour)}
	for i, r := range recs {
		r.AccountID = acct
		r.DataType = dt
		if r.LocalID == "" {
			r.LocalID = fmt.Sprintf("local-%d-%d", acct, i)
		}
		snap.Records[r.RemoteID] = r
	}
	m.snaps[recordKey{acct, dt}] = snap
}

func (m *mockRecords) Snapshot(_ context.Context, acct model.AccountID, dt model.DataType) (*state.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap, ok := m.snaps[recordKey{acct, dt}]
	if !ok {
		return &state.Snapshot{Records: map[string]*model.Record{}}, nil
	}
	cp := &state.Snapshot{Records: make(map[string]*model.Record, len(snap.Records)), LastSync: snap.LastSync}
	for id, r := range snap.Records {
		cp.Records[id] = r.Clone()
	}
	return cp, nil
}

func (m *mockRecords) KnownAccounts(_ context.Context, _ string, dt model.DataType) ([]model.AccountID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []model.AccountID
	for k := range m.snaps {
		if k.dt == dt {
			ids = append(ids, k.acct)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (m *mockRecords) LocalChanges(_ context.Context, acct model.AccountID, dt model.DataType) ([]state.LocalChange, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.local[recordKey{acct, dt}], nil
}

func (m *mockRecords) Commit(_ context.Context, b *state.Batch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commits = append(m.commits, b)
	k := recordKey{b.AccountID, b.DataType}
	snap, ok := m.snaps[k]
	if !ok {
		snap = &state.Snapshot{Records: make(map[string]*model.Record)}
		m.snaps[k] = snap
	}
	for _, r := range b.Upserts {
		snap.Records[r.RemoteID] = r.Clone()
	}
	for _, id := range b.Removed {
		delete(snap.Records, id)
	}
	if !b.LastSync.IsZero() {
		snap.LastSync = b.LastSync
	}
	return nil
}

func (m *mockRecords) Purge(_ context.Context, dt model.DataType, ids []model.AccountID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.purges = append(m.purges, append([]model.AccountID(nil), ids...))
	for _, id := range ids {
		delete(m.snaps, recordKey{id, dt})
	}
	return nil
}

func (m *mockRecords) commitFor(acct model.AccountID) *state.Batch {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range m.commits {
		if b.AccountID == acct {
			return b
		}
	}
	return nil
}

// --- Mock Profile Store -------------------------------------------------------

type mockProfiles struct {
	mu       sync.Mutex
	profiles map[string]model.Profile
	results  []model.PassResult
}

func newMockProfiles() *mockProfiles {
	return &mockProfiles{profiles: make(map[string]model.Profile)}
}

func (m *mockProfiles) Profile(_ context.Context, name string) (*model.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[name]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (m *mockProfiles) SaveProfile(_ context.Context, p model.Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profiles[p.Name()] = p
	return nil
}

func (m *mockProfiles) DeleteProfile(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.profiles, name)
	return nil
}

func (m *mockProfiles) RecordResult(_ context.Context, r model.PassResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results = append(m.results, r)
	return nil
}

// --- Mock Credentials ---------------------------------------------------------

type mockCreds struct {
	err error
}

func (m mockCreds) Load(keystore.KeyNames) (keystore.Pair, error) {
	if m.err != nil {
		return keystore.Pair{}, m.err
	}
	return keystore.Pair{ID: "client-id", Secret: "client-secret"}, nil
}

// --- Mock Issuer --------------------------------------------------------------

type mockIssuer struct {
	mu      sync.Mutex
	calls   []gateway.Request
	handler func(ctx context.Context, req gateway.Request) *gateway.Reply
}

func (m *mockIssuer) Issue(ctx context.Context, req gateway.Request) *gateway.Reply {
	m.mu.Lock()
	m.calls = append(m.calls, req)
	h := m.handler
	m.mu.Unlock()
	reply := h(ctx, req)
	reply.Request = &gateway.InFlight{Request: req, CorrelationID: "test"}
	return reply
}

func (m *mockIssuer) callsFor(acct model.AccountID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c.Account == acct {
			n++
		}
	}
	return n
}

func (m *mockIssuer) total() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

func okReply(body string) *gateway.Reply {
	return &gateway.Reply{Status: 200, Body: []byte(body)}
}

func appErrorReply(code int) *gateway.Reply {
	return &gateway.Reply{
		Status: 200,
		Body:   []byte(fmt.Sprintf(`{"error":{"code":%d}}`, code)),
		App:    &gateway.AppError{Code: code},
	}
}

func networkErrorReply() *gateway.Reply {
	return &gateway.Reply{Transport: gateway.TransportNetwork, Err: fmt.Errorf("connection reset")}
}

// --- Test adaptor -------------------------------------------------------------

const (
	testProvider = "testnet"
	testService  = "testnet-contacts"
)

// listAdaptor pages through "<base>?account=N[&cursor=C]" with bodies
// shaped {"items":[{"id":..,"name":..}],"next":".."}.
type listAdaptor struct {
	Base
	upsync bool
}

func testSpec() Spec {
	return Spec{
		Provider: testProvider,
		Service:  testService,
		DataType: model.DataTypeContacts,
		Keys:     keystore.KeyNames{Provider: testProvider, Service: testService, ID: "client_id", Secret: "client_secret"},
		Expired:  func(app *gateway.AppError) bool { return app.Code == 190 },
	}
}

func (a *listAdaptor) BeginSync(ap *AccountPass) {
	base := "https://api.test/items?account=" + ap.ID().String()
	ap.Paginate(PageSpec{
		First:   gateway.Request{Method: "GET", URL: base},
		Next:    func(c string) gateway.Request { return gateway.Request{Method: "GET", URL: base + "&cursor=" + url.QueryEscape(c)} },
		Extract: extractTestPage,
	}, func(recs []*model.Record, complete bool) {
		ap.Stage(Reconcile(ap.ID(), recs, ap.Snapshot, complete))
		if a.upsync {
			ap.Upsync(UpsyncSpec{
				Build: func(c state.LocalChange) (gateway.Request, error) {
					return gateway.Request{Method: "POST", URL: "https://api.test/upsync?account=" + ap.ID().String() + "&local=" + c.Record.LocalID}, nil
				},
				Accept: func(c state.LocalChange, reply *gateway.Reply) (string, error) {
					return gjson.GetBytes(reply.Body, "id").String(), nil
				},
			}, func() {})
		}
	})
}

func extractTestPage(body []byte) (Page, error) {
	if !gjson.ValidBytes(body) {
		return Page{}, apperr.New(apperr.KindParse, "invalid json")
	}
	var p Page
	gjson.GetBytes(body, "items").ForEach(func(_, item gjson.Result) bool {
		p.Records = append(p.Records, &model.Record{
			RemoteID: item.Get("id").String(),
			Fields:   map[string]string{"name": item.Get("name").String()},
		})
		return true
	})
	p.Next = gjson.GetBytes(body, "next").String()
	return p, nil
}

type fixture struct {
	accounts *mockAccounts
	records  *mockRecords
	issuer   *mockIssuer
	orch     *Orchestrator
	adaptor  *listAdaptor
}

func newFixture(creds CredentialProvider, accts ...*model.Account) *fixture {
	f := &fixture{
		accounts: newMockAccounts(accts...),
		records:  newMockRecords(testProvider),
		issuer: &mockIssuer{handler: func(context.Context, gateway.Request) *gateway.Reply {
			return okReply(`{"items":[]}`)
		}},
	}
	f.adaptor = &listAdaptor{Base: NewBase(testSpec(), f.records)}
	f.orch = NewOrchestrator(f.adaptor, Options{
		Accounts:    f.accounts,
		Records:     f.records,
		Credentials: creds,
		Issuer:      f.issuer,
		SignInWait:  time.Second,
		Logger:      discardLogger(),
	})
	f.orch.broker.poll = 5 * time.Millisecond
	return f
}

func testAccount(id model.AccountID) *model.Account {
	return &model.Account{ID: id, Provider: testProvider, Services: []string{testService}, State: model.StateSynced}
}

func rec(id, name string) *model.Record {
	return &model.Record{RemoteID: id, Fields: map[string]string{"name": name}}
}
