package sync

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/njoerd114/socialsync/internal/apperr"
	"github.com/njoerd114/socialsync/internal/gateway"
	"github.com/njoerd114/socialsync/internal/keystore"
	"github.com/njoerd114/socialsync/internal/model"
	"github.com/njoerd114/socialsync/internal/state"
)

// Pass is the context of one sync pass. Every continuation runs on the
// pass worker, one at a time, so per-account state needs no locking.
// Blocking work runs on its own goroutine and posts its continuation back.
//
// Each account's outstanding work is counted in the tracker. The count
// starts at one when the account is added; that hold is dropped by the
// orchestrator once BeginSync has been dispatched for every account.
// Every Issue or Go adds one more unit, which is dropped after its
// continuation returns. When the last unit of an account is released the
// account is finished: its batch is committed unless the account failed
// or was skipped. The worker loop exits once every count is zero.
type Pass struct {
	// ctx is cancelled when the pass is aborted. Work checks it before
	// running a continuation.
	ctx context.Context

	// orch owns the adaptor, stores and counters used by the pass.
	orch *Orchestrator

	// static holds the app credentials loaded when the pass began.
	static keystore.Pair

	// started is the pass start time, used as the sync watermark.
	started time.Time

	// tracker counts outstanding work per account.
	tracker *Tracker

	// events carries continuations to the worker. It is unbuffered, so a
	// poster blocks until the worker takes the continuation.
	events chan func()

	// done is closed when the worker loop has exited. Posts after that
	// are dropped.
	done chan struct{}

	log *slog.Logger

	// accounts lists every account in the pass in dispatch order.
	accounts []*AccountPass
}

func newPass(ctx context.Context, o *Orchestrator, static keystore.Pair) *Pass {
	return &Pass{
		ctx:     ctx,
		orch:    o,
		static:  static,
		started: o.now(),
		tracker: NewTracker(),
		events:  make(chan func()),
		done:    make(chan struct{}),
		log:     o.log,
	}
}

// add registers an account and takes the hold that keeps it open until
// dispatch has finished.
func (p *Pass) add(acct *model.Account) *AccountPass {
	ap := &AccountPass{
		pass:    p,
		Account: acct,
		Batch: &state.Batch{
			Provider:  p.orch.spec.Provider,
			AccountID: acct.ID,
			DataType:  p.orch.spec.DataType,
		},
		log: p.log.With("account_id", acct.ID),
	}
	p.accounts = append(p.accounts, ap)
	p.tracker.Inc(acct.ID)
	return ap
}

// run drains continuations until no account has outstanding work.
func (p *Pass) run() {
	defer close(p.done)
	for !p.tracker.Idle() {
		fn := <-p.events
		fn()
	}
}

// post queues fn for the worker. It is a no-op once the worker has exited.
func (p *Pass) post(fn func()) {
	select {
	case p.events <- fn:
	case <-p.done:
	}
}

// spawn runs work on its own goroutine, then cont on the worker. The
// tracker is incremented before the goroutine starts, so the account
// stays open until cont has returned. cont is skipped when the account
// has already failed or been skipped, and the account is aborted instead
// when the pass context is done.
func (p *Pass) spawn(ap *AccountPass, work func(ctx context.Context), cont func()) {
	p.tracker.Inc(ap.ID())
	go func() {
		work(p.ctx)
		p.post(func() {
			defer p.release(ap)
			if ap.closed() {
				return
			}
			if err := p.ctx.Err(); err != nil {
				ap.abort()
				return
			}
			cont()
		})
	}()
}

// issue sends req for ap and runs cont with the reply on the worker.
func (p *Pass) issue(ap *AccountPass, req gateway.Request, cont func(*gateway.Reply)) {
	req.Account = ap.ID()
	req.Token = ap.Token
	p.orch.cntRequests.Add(p.ctx, 1)

	var reply *gateway.Reply
	p.spawn(ap,
		func(ctx context.Context) { reply = p.orch.issuer.Issue(ctx, req) },
		func() { cont(reply) },
	)
}

// release drops one unit of work for ap. When it is the last one the
// account is finalized first, so its writes are durable before its count
// reaches zero and the worker may exit.
func (p *Pass) release(ap *AccountPass) {
	if p.tracker.Count(ap.ID()) == 1 {
		p.finish(ap)
	}
	if _, err := p.tracker.Dec(ap.ID()); err != nil {
		p.log.Error("semaphore underflow", "error", err)
	}
}

// finish ends ap's part of the pass exactly once. A failed or skipped
// account discards its batch; otherwise the adaptor's Finalize commits
// it. The account's busy mark is cleared in either case.
func (p *Pass) finish(ap *AccountPass) {
	if ap.finished {
		return
	}
	ap.finished = true
	defer p.orch.releaseBusy(ap.ID())

	if ap.skipped || ap.err != nil {
		if ap.err != nil {
			ap.log.Debug("discarding buffered writes", "upserts", len(ap.Batch.Upserts), "removed", len(ap.Batch.Removed))
		}
		return
	}
	if err := p.orch.adaptor.Finalize(p.ctx, ap); err != nil {
		ap.Fail(fmt.Errorf("finalizing: %w", err))
		return
	}
	ap.log.Debug("account finalized",
		"added", ap.Added, "modified", ap.Modified, "removed", ap.Removed, "upsynced", ap.Upsynced)
}

// AccountPass is one account's share of a pass. Its fields must only be
// touched from the pass worker, i.e. from BeginSync, Finalize, and the
// continuations passed to Issue, Paginate, and Upsync.
type AccountPass struct {
	// pass is the owning pass.
	pass *Pass

	// log is the pass logger tagged with the account id.
	log *slog.Logger

	// Account is the account being synced.
	Account *model.Account

	// Token is set by the token broker before BeginSync runs.
	Token model.Token

	// Snapshot is the stored state loaded before BeginSync.
	Snapshot *state.Snapshot

	// Local holds pending device-side changes for two-way adaptors.
	Local []state.LocalChange

	// Batch buffers writes until Finalize.
	Batch *state.Batch

	// Added, Modified and Removed count the staged remote changes.
	// Upsynced counts local changes accepted by the provider.
	Added    int
	Modified int
	Removed  int
	Upsynced int

	// Failures lists upsync items the provider rejected. They do not
	// fail the account.
	Failures []apperr.ItemFailure

	// err is the first error that failed the account. Later errors are
	// only logged.
	err error

	// skipped is set when the account ended early without error.
	skipped bool

	// finished is set once finish has run, so Finalize is called at most
	// once.
	finished bool
}

// ID returns the account id.
func (ap *AccountPass) ID() model.AccountID { return ap.Account.ID }

// Context returns the pass context.
func (ap *AccountPass) Context() context.Context { return ap.pass.ctx }

// Logger returns a logger tagged with the account id.
func (ap *AccountPass) Logger() *slog.Logger { return ap.log }

// Static returns the static app credentials loaded for the pass.
func (ap *AccountPass) Static() keystore.Pair { return ap.pass.static }

// Started returns the pass start time.
func (ap *AccountPass) Started() time.Time { return ap.pass.started }

// LastSync returns the finish time of the account's previous successful
// pass, zero if none.
func (ap *AccountPass) LastSync() time.Time {
	if ap.Snapshot == nil {
		return time.Time{}
	}
	return ap.Snapshot.LastSync
}

// Err returns the error that failed the account, if any.
func (ap *AccountPass) Err() error { return ap.err }

// Skipped reports whether the account was skipped without error.
func (ap *AccountPass) Skipped() bool { return ap.skipped }

// Issue sends req and runs cont with the reply on the worker. If the
// account has failed by the time the reply arrives, cont is not called.
func (ap *AccountPass) Issue(req gateway.Request, cont func(*gateway.Reply)) {
	ap.pass.issue(ap, req, cont)
}

// Go runs blocking work off the worker, then cont on it.
func (ap *AccountPass) Go(work func(ctx context.Context), cont func()) {
	ap.pass.spawn(ap, work, cont)
}

// Check converts reply into an error and fails the account with it. It
// returns true when the reply carries no error. An application error the
// adaptor classifies as expired credentials raises the re-authentication
// flag.
func (ap *AccountPass) Check(reply *gateway.Reply) bool {
	err := reply.Error(ap.pass.orch.spec.Provider)
	if err == nil {
		return true
	}
	spec := ap.pass.orch.spec
	if reply.App != nil && spec.Expired != nil && spec.Expired(reply.App) {
		err = &apperr.Error{
			Kind:               apperr.KindAuth,
			Provider:           spec.Provider,
			AccountID:          ap.ID(),
			Code:               reply.App.Code,
			CredentialsExpired: true,
			Msg:                "credentials expired",
			Err:                err,
		}
		ap.pass.orch.broker.raiseFlag(ap, spec.Origin())
	}
	ap.Fail(err)
	return false
}

// Fail marks the account failed. Only the first error is kept.
func (ap *AccountPass) Fail(err error) {
	if ap.err != nil || ap.skipped {
		return
	}
	ap.err = err
	ap.log.Error("account sync failed", "error", err)
}

// Skip ends the account's pass without error and without writes.
func (ap *AccountPass) Skip(reason string) {
	if ap.err != nil || ap.skipped {
		return
	}
	ap.skipped = true
	ap.log.Debug("account skipped", "reason", reason)
}

func (ap *AccountPass) abort() {
	ap.Fail(&apperr.Error{Kind: apperr.KindNetwork, AccountID: ap.ID(), Msg: "sync aborted", Err: context.Canceled})
}

func (ap *AccountPass) closed() bool {
	return ap.err != nil || ap.skipped || ap.finished
}
