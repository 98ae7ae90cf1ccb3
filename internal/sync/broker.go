package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/njoerd114/socialsync/internal/apperr"
	"github.com/njoerd114/socialsync/internal/model"
	"github.com/njoerd114/socialsync/internal/state"
)

// defaultStatusPoll is how often a signing-in account is re-read.
const defaultStatusPoll = 250 * time.Millisecond

// TokenBroker obtains a fresh access token per account and pass, and
// raises or lowers the account's re-authentication flag.
type TokenBroker struct {
	accounts AccountManager
	records  RecordStore
	spec     Spec
	wait     time.Duration
	poll     time.Duration
	log      *slog.Logger
}

// NewTokenBroker returns a broker for the adaptor described by spec. wait
// bounds how long a signing-in account is waited for.
func NewTokenBroker(accounts AccountManager, records RecordStore, spec Spec, wait time.Duration, logger *slog.Logger) *TokenBroker {
	return &TokenBroker{
		accounts: accounts,
		records:  records,
		spec:     spec,
		wait:     wait,
		poll:     defaultStatusPoll,
		log:      logger,
	}
}

type signInResult struct {
	acct    *model.Account
	tok     model.Token
	snap    *state.Snapshot
	local   []state.LocalChange
	skip    string
	err     error
	deleted bool
}

// SignIn resolves ap's token asynchronously. On success the stored
// snapshot is loaded and onToken runs on the worker. Every other outcome
// ends the account's pass.
func (b *TokenBroker) SignIn(ap *AccountPass, onToken func()) {
	id := ap.ID()
	var res signInResult
	ap.Go(
		func(ctx context.Context) { res = b.signIn(ctx, id) },
		func() {
			switch {
			case res.deleted:
				ap.log.Info("account removed during sync, skipping")
				ap.Skip("account removed")
			case res.skip != "":
				ap.Skip(res.skip)
			case res.err != nil:
				ap.Fail(res.err)
			default:
				ap.Account = res.acct
				ap.Token = res.tok
				ap.Snapshot = res.snap
				ap.Local = res.local
				onToken()
			}
		},
	)
}

func (b *TokenBroker) signIn(ctx context.Context, id model.AccountID) signInResult {
	acct, err := b.accounts.Account(ctx, id)
	if err != nil {
		return signInResult{err: fmt.Errorf("loading account: %w", err)}
	}
	if acct == nil {
		return signInResult{deleted: true}
	}
	if !acct.EnabledWith(b.spec.Service) {
		return signInResult{skip: "not enabled with " + b.spec.Service}
	}

	acct, err = b.awaitReady(ctx, acct)
	if err != nil {
		return signInResult{err: err}
	}
	if acct == nil {
		return signInResult{deleted: true}
	}

	tok, err := b.accounts.SignIn(ctx, id, b.spec.Service)
	if err != nil {
		if apperr.IsCredentialsExpired(err) {
			b.setFlag(ctx, id, true, b.spec.Origin())
			return signInResult{err: b.authError(id, true, err)}
		}
		b.log.Warn("transient sign-in failure", "account_id", id, "error", err)
		return signInResult{err: b.authError(id, false, err)}
	}

	res := signInResult{acct: acct, tok: tok}
	res.snap, err = b.records.Snapshot(ctx, id, b.spec.DataType)
	if err != nil {
		return signInResult{err: fmt.Errorf("loading snapshot: %w", err)}
	}
	if b.spec.TwoWay {
		res.local, err = b.records.LocalChanges(ctx, id, b.spec.DataType)
		if err != nil {
			return signInResult{err: fmt.Errorf("loading local changes: %w", err)}
		}
	}
	return res
}

// awaitReady re-reads a signing-in account until it is initialized or
// synced. It returns (nil, nil) if the account disappears meanwhile.
func (b *TokenBroker) awaitReady(ctx context.Context, acct *model.Account) (*model.Account, error) {
	if acct.State != model.StateSigningIn {
		return acct, nil
	}
	b.log.Debug("waiting for account sign-in to settle", "account_id", acct.ID)

	deadline := time.NewTimer(b.wait)
	defer deadline.Stop()
	ticker := time.NewTicker(b.poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return nil, b.authError(acct.ID, false, errors.New("account still signing in"))
		case <-ticker.C:
			cur, err := b.accounts.Account(ctx, acct.ID)
			if err != nil {
				return nil, fmt.Errorf("reloading account: %w", err)
			}
			if cur == nil {
				return nil, nil //nolint:nilnil // account removed
			}
			if cur.State != model.StateSigningIn {
				return cur, nil
			}
		}
	}
}

func (b *TokenBroker) authError(id model.AccountID, expired bool, err error) *apperr.Error {
	return &apperr.Error{
		Kind:               apperr.KindAuth,
		Provider:           b.spec.Provider,
		AccountID:          id,
		CredentialsExpired: expired,
		Msg:                "sign-in failed",
		Err:                err,
	}
}

// raiseFlag marks ap's account as needing re-authentication.
func (b *TokenBroker) raiseFlag(ap *AccountPass, origin string) {
	id := ap.ID()
	ap.Go(func(ctx context.Context) { b.setFlag(ctx, id, true, origin) }, func() {})
}

// LowerFlag clears ap's re-authentication flag after a successful
// authenticated request.
func (b *TokenBroker) LowerFlag(ap *AccountPass) {
	id := ap.ID()
	ap.Go(func(ctx context.Context) { b.setFlag(ctx, id, false, "") }, func() {})
}

// setFlag writes CredentialsNeedUpdate (and its origin when raising) and
// forces a re-sync of the account metadata. Failures are logged only.
func (b *TokenBroker) setFlag(ctx context.Context, id model.AccountID, raise bool, origin string) {
	if err := b.writeFlag(ctx, id, raise, origin); err != nil {
		b.log.Error("updating credentials flag", "account_id", id, "raise", raise, "error", err)
		return
	}
	if raise {
		b.log.Warn("account credentials need update", "account_id", id, "origin", origin)
	}
}

func (b *TokenBroker) writeFlag(ctx context.Context, id model.AccountID, raise bool, origin string) error {
	svc := b.spec.Service
	if err := b.accounts.SetConfigurationValue(ctx, id, svc, model.KeyCredentialsNeedUpdate, strconv.FormatBool(raise)); err != nil {
		return err
	}
	if raise {
		if err := b.accounts.SetConfigurationValue(ctx, id, svc, model.KeyCredentialsNeedUpdateFrom, origin); err != nil {
			return err
		}
	}
	if err := b.accounts.SyncAccount(ctx, id); err != nil {
		return fmt.Errorf("syncing account: %w", err)
	}
	return nil
}
