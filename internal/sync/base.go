package sync

import (
	"context"
	"fmt"

	"github.com/njoerd114/socialsync/internal/model"
)

// Base implements the store-facing half of [Adaptor] for adaptors whose
// local data lives in a [RecordStore]. Provider variants embed it and add
// BeginSync.
type Base struct {
	spec    Spec
	records RecordStore
}

// NewBase returns a Base for spec backed by records.
func NewBase(spec Spec, records RecordStore) Base {
	return Base{spec: spec, records: records}
}

// Spec returns the adaptor's provider configuration.
func (b Base) Spec() Spec { return b.spec }

// SyncServiceName returns the account service the adaptor syncs.
func (b Base) SyncServiceName() string { return b.spec.Service }

// PurgeDataForOldAccounts deletes all local records of the given accounts.
func (b Base) PurgeDataForOldAccounts(ctx context.Context, ids []model.AccountID) error {
	if err := b.records.Purge(ctx, b.spec.DataType, ids); err != nil {
		return fmt.Errorf("purging %s for accounts %v: %w", b.spec.DataType, ids, err)
	}
	return nil
}

// Finalize commits the account's buffered writes, stamped with the pass
// start time as the new last sync time. It returns once the commit is
// durable.
func (b Base) Finalize(ctx context.Context, ap *AccountPass) error {
	ap.Batch.LastSync = ap.Started()
	if err := b.records.Commit(ctx, ap.Batch); err != nil {
		return fmt.Errorf("committing %s for account %d: %w", b.spec.DataType, ap.ID(), err)
	}
	return nil
}

// LowerCredentialsFlag clears the account's re-authentication flag.
func (ap *AccountPass) LowerCredentialsFlag() {
	ap.pass.orch.broker.LowerFlag(ap)
}
