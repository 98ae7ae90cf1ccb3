package sync

import (
	"slices"

	"github.com/njoerd114/socialsync/internal/apperr"
	"github.com/njoerd114/socialsync/internal/gateway"
	"github.com/njoerd114/socialsync/internal/model"
	"github.com/njoerd114/socialsync/internal/state"
)

// Diff is the result of reconciling a remote fetch against the stored
// snapshot.
type Diff struct {
	Added    []*model.Record
	Modified []*model.Record
	Removed  []string
}

// Empty reports whether the diff has no changes.
func (d Diff) Empty() bool {
	return len(d.Added) == 0 && len(d.Modified) == 0 && len(d.Removed) == 0
}

// Reconcile classifies remote records against snap by remote id. Records
// are stamped with acct and, when already known, the stored local id.
// Removed ids are only reported when complete is true, i.e. the fetch
// covered the whole remote set.
func Reconcile(acct model.AccountID, remote []*model.Record, snap *state.Snapshot, complete bool) Diff {
	var d Diff
	seen := make(map[string]bool, len(remote))
	for _, r := range remote {
		if r.RemoteID == "" || seen[r.RemoteID] {
			continue
		}
		seen[r.RemoteID] = true
		r.AccountID = acct

		if !snap.Known(r.RemoteID) {
			d.Added = append(d.Added, r)
			continue
		}
		if old := snap.Records[r.RemoteID]; !old.Equal(r) {
			r.LocalID = old.LocalID
			d.Modified = append(d.Modified, r)
		}
	}

	if complete && snap != nil {
		for id := range snap.Records {
			if !seen[id] {
				d.Removed = append(d.Removed, id)
			}
		}
		slices.Sort(d.Removed)
	}
	return d
}

// Stage buffers d into the account's batch. Remote changes to records
// with pending local changes are dropped; the local version is pushed by
// Upsync instead.
func (ap *AccountPass) Stage(d Diff) {
	if d.Empty() {
		ap.log.Debug("no remote changes")
		return
	}
	pending := make(map[string]bool, len(ap.Local))
	for _, c := range ap.Local {
		if c.Record.RemoteID != "" {
			pending[c.Record.RemoteID] = true
		}
	}

	for _, r := range d.Added {
		r.DataType = ap.Batch.DataType
		ap.Batch.Upserts = append(ap.Batch.Upserts, r)
		ap.Added++
	}
	for _, r := range d.Modified {
		if pending[r.RemoteID] {
			ap.log.Debug("remote change superseded by local change", "remote_id", r.RemoteID)
			continue
		}
		r.DataType = ap.Batch.DataType
		ap.Batch.Upserts = append(ap.Batch.Upserts, r)
		ap.Modified++
	}
	for _, id := range d.Removed {
		if pending[id] {
			continue
		}
		ap.Batch.Removed = append(ap.Batch.Removed, id)
		ap.Removed++
	}
}

// UpsyncSpec translates local changes into provider calls.
type UpsyncSpec struct {
	// Build returns the request for one change.
	Build func(c state.LocalChange) (gateway.Request, error)

	// Accept extracts the provider-assigned remote id from an insert reply.
	// Nil accepts every successful reply without an id.
	Accept func(c state.LocalChange, reply *gateway.Reply) (remoteID string, err error)
}

// Upsync pushes ap.Local upstream, one request per change. A failed item
// is recorded and logged but does not fail the account or stop the rest
// of the batch. done runs on the worker after the last reply.
func (ap *AccountPass) Upsync(spec UpsyncSpec, done func()) {
	if len(ap.Local) == 0 {
		done()
		return
	}
	remaining := len(ap.Local)
	finishOne := func() {
		remaining--
		if remaining == 0 {
			done()
		}
	}

	provider := ap.pass.orch.spec.Provider
	fail := func(c state.LocalChange, err error) {
		ap.Failures = append(ap.Failures, apperr.ItemFailure{
			RemoteID: c.Record.RemoteID,
			LocalID:  c.Record.LocalID,
			Err:      err,
		})
		ap.log.Debug("upsync item failed", "local_id", c.Record.LocalID, "kind", c.Kind, "error", err)
		finishOne()
	}

	for _, c := range ap.Local {
		req, err := spec.Build(c)
		if err != nil {
			fail(c, err)
			continue
		}
		req.Purpose = gateway.PurposeUpsync
		ap.Issue(req, func(reply *gateway.Reply) {
			if err := reply.Error(provider); err != nil {
				fail(c, err)
				return
			}
			res := state.Resolution{LocalID: c.Record.LocalID, Kind: c.Kind}
			if spec.Accept != nil {
				rid, err := spec.Accept(c, reply)
				if err != nil {
					fail(c, err)
					return
				}
				res.RemoteID = rid
			}
			ap.Batch.Resolved = append(ap.Batch.Resolved, res)
			ap.Upsynced++
			finishOne()
		})
	}
}

// PartialFailure returns the recorded upsync failures, or nil.
func (ap *AccountPass) PartialFailure() *apperr.PartialFailure {
	if len(ap.Failures) == 0 {
		return nil
	}
	return &apperr.PartialFailure{
		Provider:  ap.pass.orch.spec.Provider,
		AccountID: ap.ID(),
		Failures:  ap.Failures,
		Attempted: len(ap.Local),
	}
}
