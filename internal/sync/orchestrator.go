package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"

	"github.com/njoerd114/socialsync/internal/apperr"
	"github.com/njoerd114/socialsync/internal/model"
)

const (
	otelScope      = "socialsync/sync"
	spanPass       = "sync.pass"
	metricAdded    = "socialsync.sync.records.added"
	metricModified = "socialsync.sync.records.modified"
	metricRemoved  = "socialsync.sync.records.removed"
	metricRequests = "socialsync.sync.requests"
	metricErrors   = "socialsync.sync.errors"
	metricUpsync   = "socialsync.sync.upsync.failures"
)

// Scope selects the accounts of a pass.
type Scope struct {
	// All selects every account of the provider, plus every previously
	// synced account that no longer exists.
	All bool

	// IDs selects specific accounts when All is false.
	IDs []model.AccountID

	// Exclude removes accounts from the selection.
	Exclude []model.AccountID
}

// ScopeAll selects every account.
var ScopeAll = Scope{All: true}

// ScopeAccount selects a single account.
func ScopeAccount(id model.AccountID) Scope { return Scope{IDs: []model.AccountID{id}} }

func (s Scope) includes(id model.AccountID) bool {
	if slices.Contains(s.Exclude, id) {
		return false
	}
	return s.All || slices.Contains(s.IDs, id)
}

// Classification splits a batch of accounts for one pass.
type Classification struct {
	// Purge lists accounts that were synced before but no longer exist.
	Purge []model.AccountID
	// New lists accounts that have never been synced for the data type.
	New []*model.Account
	// Update lists accounts with existing reconciliation state.
	Update []*model.Account
}

// Classify compares the enumerated accounts with the accounts that have
// reconciliation state.
func Classify(scope Scope, present []*model.Account, known []model.AccountID) Classification {
	var c Classification
	isPresent := make(map[model.AccountID]bool, len(present))
	isKnown := make(map[model.AccountID]bool, len(known))
	for _, id := range known {
		isKnown[id] = true
	}
	for _, a := range present {
		if !scope.includes(a.ID) {
			continue
		}
		isPresent[a.ID] = true
		if isKnown[a.ID] {
			c.Update = append(c.Update, a)
		} else {
			c.New = append(c.New, a)
		}
	}
	for _, id := range known {
		if scope.includes(id) && !isPresent[id] {
			c.Purge = append(c.Purge, id)
		}
	}
	slices.Sort(c.Purge)
	return c
}

// Options configures an Orchestrator.
type Options struct {
	Accounts    AccountManager
	Records     RecordStore
	Credentials CredentialProvider
	Issuer      Issuer

	// SignInWait bounds how long a signing-in account is waited for.
	SignInWait time.Duration

	Logger *slog.Logger
}

// Orchestrator runs sync passes for one adaptor. Overlapping passes are
// allowed, but an account is never part of two running passes at once.
//
// A pass loads the static app credentials, classifies accounts into new,
// updated and removed, and purges the removed ones before anything else.
// The remaining accounts are marked busy and added to a Pass, each
// holding one unit of work. The token broker signs each account in and
// then calls BeginSync. Once every account has been dispatched the hold
// is released, and the pass worker runs until all accounts have finished.
type Orchestrator struct {
	adaptor Adaptor
	spec    Spec
	records RecordStore
	accts   AccountManager
	creds   CredentialProvider
	issuer  Issuer

	// broker prepares each account's token before BeginSync.
	broker *TokenBroker

	log *slog.Logger

	// now returns the current time for pass timestamps.
	now func() time.Time

	// mu guards the fields below.
	mu sync.Mutex

	// busy marks accounts that belong to a running pass. An account is
	// marked before it is added to a pass and cleared when it finishes.
	busy map[model.AccountID]bool

	// running counts passes in progress. Status reports Busy while it is
	// above zero.
	running int

	// status is the outcome of the most recent pass.
	status model.Status

	// last is the most recently dispatched pass.
	last *Pass

	// OTel instruments, no-op when telemetry is disabled.
	tracer      trace.Tracer
	cntAdded    metric.Int64Counter
	cntModified metric.Int64Counter
	cntRemoved  metric.Int64Counter
	cntRequests metric.Int64Counter
	cntErrors   metric.Int64Counter
	cntUpsync   metric.Int64Counter
}

// NewOrchestrator creates an Orchestrator for adaptor.
func NewOrchestrator(adaptor Adaptor, opts Options) *Orchestrator {
	spec := adaptor.Spec()
	logger := opts.Logger.With("provider", spec.Provider, "data_type", spec.DataType)
	wait := opts.SignInWait
	if wait <= 0 {
		wait = 60 * time.Second
	}

	tracer := otel.Tracer(otelScope)
	meter := otel.Meter(otelScope)

	mustCounter := func(name, desc string) metric.Int64Counter {
		c, err := meter.Int64Counter(name, metric.WithDescription(desc))
		if err != nil {
			logger.Error("creating OTel counter", "name", name, "error", err)
			return noop.Int64Counter{}
		}
		return c
	}

	return &Orchestrator{
		adaptor: adaptor,
		spec:    spec,
		records: opts.Records,
		accts:   opts.Accounts,
		creds:   opts.Credentials,
		issuer:  opts.Issuer,
		broker:  NewTokenBroker(opts.Accounts, opts.Records, spec, wait, logger),
		log:     logger,
		now:     time.Now,
		busy:    make(map[model.AccountID]bool),

		tracer:      tracer,
		cntAdded:    mustCounter(metricAdded, "Number of records added from remote"),
		cntModified: mustCounter(metricModified, "Number of records modified from remote"),
		cntRemoved:  mustCounter(metricRemoved, "Number of records removed after remote deletion"),
		cntRequests: mustCounter(metricRequests, "Number of provider requests issued"),
		cntErrors:   mustCounter(metricErrors, "Number of accounts whose sync failed"),
		cntUpsync:   mustCounter(metricUpsync, "Number of local changes that failed to upsync"),
	}
}

// Spec returns the adaptor's provider configuration.
func (o *Orchestrator) Spec() Spec { return o.spec }

// Status returns Busy while a pass is running, otherwise the final status
// of the last pass.
func (o *Orchestrator) Status() model.Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.running > 0 {
		return model.StatusBusy
	}
	return o.status
}

// Accounts enumerates the provider's accounts that are enabled with the
// adaptor's service.
func (o *Orchestrator) Accounts(ctx context.Context) ([]*model.Account, error) {
	all, err := o.accts.EnumerateAccounts(ctx, o.spec.Provider)
	if err != nil {
		return nil, fmt.Errorf("enumerating %s accounts: %w", o.spec.Provider, err)
	}
	var out []*model.Account
	for _, a := range all {
		if a.EnabledWith(o.spec.Service) {
			out = append(out, a)
		}
	}
	return out, nil
}

// Purge deletes the local data of the given accounts. It is idempotent.
func (o *Orchestrator) Purge(ctx context.Context, ids []model.AccountID) error {
	if len(ids) == 0 {
		return nil
	}
	o.log.Info("purging data for removed accounts", "accounts", ids)
	return o.adaptor.PurgeDataForOldAccounts(ctx, ids)
}

// Sync runs one pass over scope and blocks until every account has
// finished. The status is Busy for the duration and Inactive or Error
// afterwards. Cancelling ctx aborts the pass.
func (o *Orchestrator) Sync(ctx context.Context, scope Scope) model.PassResult {
	ctx, span := o.tracer.Start(ctx, spanPass, trace.WithAttributes(
		attribute.String("sync.provider", o.spec.Provider),
		attribute.String("sync.data_type", string(o.spec.DataType)),
	))
	defer span.End()

	o.mu.Lock()
	o.running++
	o.mu.Unlock()

	res := o.sync(ctx, scope)
	res.FinishedAt = o.now()

	o.mu.Lock()
	o.running--
	o.status = model.StatusInactive
	if res.Result == model.ResultFailed {
		o.status = model.StatusError
	}
	o.mu.Unlock()

	span.SetAttributes(
		attribute.Int("sync.accounts", res.Accounts),
		attribute.Int("sync.purged", res.Purged),
		attribute.Int("sync.added", res.Added),
		attribute.Int("sync.modified", res.Modified),
		attribute.Int("sync.removed", res.Removed),
		attribute.Int("sync.upsynced", res.Upsynced),
		attribute.Int("sync.failures", res.Failures),
		attribute.String("sync.result", res.Result.String()),
		attribute.String("sync.error_code", res.Code.String()),
	)
	if res.Result == model.ResultFailed {
		span.SetStatus(codes.Error, res.Code.String())
	}

	o.log.Info("sync pass complete",
		"result", res.Result,
		"code", res.Code,
		"accounts", res.Accounts,
		"purged", res.Purged,
		"added", res.Added,
		"modified", res.Modified,
		"removed", res.Removed,
		"upsynced", res.Upsynced,
		"failures", res.Failures,
	)
	return res
}

func (o *Orchestrator) sync(ctx context.Context, scope Scope) model.PassResult {
	var res model.PassResult
	fail := func(err error) model.PassResult {
		trace.SpanFromContext(ctx).RecordError(err)
		o.cntErrors.Add(ctx, 1)
		res.Result = model.ResultFailed
		res.Code = apperr.Code(err)
		return res
	}

	// 1. Static app credentials. Nothing is attempted without them.
	static, err := o.creds.Load(o.spec.Keys)
	if err != nil {
		o.log.Error("static credentials missing", "error", err)
		return fail(&apperr.Error{Kind: apperr.KindConfig, Provider: o.spec.Provider, Msg: "static credentials missing", Err: err})
	}

	// 2. Classify.
	present, err := o.accts.EnumerateAccounts(ctx, o.spec.Provider)
	if err != nil {
		return fail(fmt.Errorf("enumerating accounts: %w", err))
	}
	known, err := o.records.KnownAccounts(ctx, o.spec.Provider, o.spec.DataType)
	if err != nil {
		return fail(fmt.Errorf("loading known accounts: %w", err))
	}
	cls := Classify(scope, present, known)

	// 3. Purge synchronously.
	var purgeErr error
	if err := o.Purge(ctx, cls.Purge); err != nil {
		o.log.Error("purge failed", "accounts", cls.Purge, "error", err)
		purgeErr = err
	} else {
		res.Purged = len(cls.Purge)
	}

	// 4. Dispatch, skipping accounts already in a running pass.
	var dispatch []*model.Account
	for _, a := range slices.Concat(cls.New, cls.Update) {
		if !o.acquireBusy(a.ID) {
			o.log.Info("account already syncing, skipping", "account_id", a.ID)
			continue
		}
		dispatch = append(dispatch, a)
	}

	if len(dispatch) > 0 {
		p := newPass(ctx, o, static)
		o.mu.Lock()
		o.last = p
		o.mu.Unlock()
		for _, a := range dispatch {
			p.add(a)
		}
		for _, ap := range p.accounts {
			o.broker.SignIn(ap, func() { o.adaptor.BeginSync(ap) })
		}
		for _, ap := range p.accounts {
			p.release(ap)
		}
		p.run()
		o.collect(ctx, p, &res)
	}

	switch {
	case ctx.Err() != nil:
		res.Result = model.ResultFailed
		res.Code = model.ErrAborted
	case res.Result == model.ResultFailed:
	case purgeErr != nil:
		return fail(purgeErr)
	}
	return res
}

// collect folds per-account outcomes into res. The first account error
// decides the pass error code.
func (o *Orchestrator) collect(ctx context.Context, p *Pass, res *model.PassResult) {
	res.Accounts = len(p.accounts)
	var firstErr error
	for _, ap := range p.accounts {
		res.Added += ap.Added
		res.Modified += ap.Modified
		res.Removed += ap.Removed
		res.Upsynced += ap.Upsynced
		res.Failures += len(ap.Failures)

		if pf := ap.PartialFailure(); pf != nil {
			o.log.Warn("upsync partially failed", "account_id", ap.ID(), "error", pf)
			o.cntUpsync.Add(ctx, int64(len(pf.Failures)))
		}
		if ap.err != nil {
			o.cntErrors.Add(ctx, 1)
			trace.SpanFromContext(ctx).RecordError(ap.err)
			if firstErr == nil {
				firstErr = ap.err
			}
		}
	}
	if res.Added > 0 {
		o.cntAdded.Add(ctx, int64(res.Added))
	}
	if res.Modified > 0 {
		o.cntModified.Add(ctx, int64(res.Modified))
	}
	if res.Removed > 0 {
		o.cntRemoved.Add(ctx, int64(res.Removed))
	}

	if firstErr != nil {
		res.Result = model.ResultFailed
		res.Code = apperr.Code(firstErr)
		if errors.Is(firstErr, context.Canceled) {
			res.Code = model.ErrAborted
		}
	}
}

// acquireBusy marks id busy. It reports false if id is already part of a
// running pass.
func (o *Orchestrator) acquireBusy(id model.AccountID) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.busy[id] {
		return false
	}
	o.busy[id] = true
	return true
}

func (o *Orchestrator) releaseBusy(id model.AccountID) {
	o.mu.Lock()
	delete(o.busy, id)
	o.mu.Unlock()
}

// Busy reports whether id is part of a running pass.
func (o *Orchestrator) Busy(id model.AccountID) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.busy[id]
}
