// Package sync implements the per-provider sync adaptor lifecycle for
// socialsync. For each (provider, data type, account) it acquires
// credentials, tracks in-flight requests, drives paginated fetches,
// reconciles remote data against the local store, and reports one
// aggregate result per pass.
//
// The package contains four main components:
//
//   - [Orchestrator] runs one sync pass for a data type across a batch of
//     accounts.
//   - [TokenBroker] obtains per-account tokens and maintains the
//     re-authentication flag.
//   - [Plugin] is the scheduler boundary: StartSync, AbortSync, CleanUp.
//   - [Engine] runs the polling loop that triggers template profiles.
package sync

import (
	"context"

	"github.com/njoerd114/socialsync/internal/gateway"
	"github.com/njoerd114/socialsync/internal/keystore"
	"github.com/njoerd114/socialsync/internal/model"
	"github.com/njoerd114/socialsync/internal/state"
)

// AccountManager is the platform account store.
// Implemented by [state.Store].
type AccountManager interface {
	EnumerateAccounts(ctx context.Context, provider string) ([]*model.Account, error)
	Account(ctx context.Context, id model.AccountID) (*model.Account, error)
	SignIn(ctx context.Context, id model.AccountID, service string) (model.Token, error)
	SetConfigurationValue(ctx context.Context, id model.AccountID, service, key, value string) error
	SyncAccount(ctx context.Context, id model.AccountID) error
}

// RecordStore is the local record store and reconciliation state.
// Implemented by [state.Store].
type RecordStore interface {
	Snapshot(ctx context.Context, acct model.AccountID, dt model.DataType) (*state.Snapshot, error)
	KnownAccounts(ctx context.Context, provider string, dt model.DataType) ([]model.AccountID, error)
	LocalChanges(ctx context.Context, acct model.AccountID, dt model.DataType) ([]state.LocalChange, error)
	Commit(ctx context.Context, b *state.Batch) error
	Purge(ctx context.Context, dt model.DataType, ids []model.AccountID) error
}

// ProfileStore persists sync profiles and their last results.
// Implemented by [state.Store].
type ProfileStore interface {
	Profile(ctx context.Context, name string) (*model.Profile, error)
	SaveProfile(ctx context.Context, p model.Profile) error
	DeleteProfile(ctx context.Context, name string) error
	RecordResult(ctx context.Context, r model.PassResult) error
}

// CredentialProvider loads static app credentials.
// Implemented by [keystore.Credentials].
type CredentialProvider interface {
	Load(names keystore.KeyNames) (keystore.Pair, error)
}

// Issuer sends provider requests. Implemented by [gateway.Gateway].
type Issuer interface {
	Issue(ctx context.Context, req gateway.Request) *gateway.Reply
}

// Spec is the provider configuration data of an adaptor.
type Spec struct {
	Provider string
	Service  string
	DataType model.DataType

	// Keys names the static app credentials the adaptor requires.
	Keys keystore.KeyNames

	// TwoWay adaptors get the account's pending local changes loaded
	// before BeginSync.
	TwoWay bool

	// FlagOrigin is written as CredentialsNeedUpdateFrom when the adaptor
	// raises the re-authentication flag. Defaults to "socialsync-<provider>".
	FlagOrigin string

	// Expired reports whether an application error means the account's
	// credentials must be renewed. Nil means no code does.
	Expired func(app *gateway.AppError) bool
}

// Origin returns FlagOrigin or its default.
func (s Spec) Origin() string {
	if s.FlagOrigin != "" {
		return s.FlagOrigin
	}
	return "socialsync-" + s.Provider
}

// Adaptor is one provider variant for one data type. The orchestrator only
// ever holds this interface.
//
// BeginSync and Finalize run on the pass worker. BeginSync must not block;
// it issues requests through the [AccountPass]. Finalize may block until
// its writes are durable.
type Adaptor interface {
	Spec() Spec
	SyncServiceName() string
	BeginSync(ap *AccountPass)
	PurgeDataForOldAccounts(ctx context.Context, ids []model.AccountID) error
	Finalize(ctx context.Context, ap *AccountPass) error
}
