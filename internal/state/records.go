package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/njoerd114/socialsync/internal/model"
)

// Snapshot is the previously synced state of one (account, data type).
type Snapshot struct {
	// Records maps remote id to the stored record. Records that only exist
	// locally (no remote id yet) are not included.
	Records map[string]*model.Record

	// LastSync is the finish time of the last successful pass, zero if the
	// pair has never been synced.
	LastSync time.Time
}

// Known reports whether the snapshot contains the given remote id. A nil
// snapshot knows nothing.
func (s *Snapshot) Known(remoteID string) bool {
	if s == nil {
		return false
	}
	_, ok := s.Records[remoteID]
	return ok
}

// LocalChange is a record changed on the device since the last pass.
type LocalChange struct {
	Kind   model.ChangeKind
	Record *model.Record
}

// Resolution reports the outcome of pushing one local change upstream.
type Resolution struct {
	LocalID string
	Kind    model.ChangeKind

	// RemoteID is the id assigned by the provider for an upsynced insert.
	RemoteID string
}

// Batch is the set of writes produced by one account's pass. It is applied
// atomically by Commit.
type Batch struct {
	Provider  string
	AccountID model.AccountID
	DataType  model.DataType

	// Upserts are remote adds and modifications, matched on remote id.
	Upserts []*model.Record

	// Removed lists remote ids deleted on the provider side.
	Removed []string

	// Resolved lists local changes that were accepted by the provider.
	Resolved []Resolution

	// LastSync is stamped into the reconciliation state when non-zero.
	LastSync time.Time
}

// Empty reports whether the batch carries no writes.
func (b *Batch) Empty() bool {
	return len(b.Upserts) == 0 && len(b.Removed) == 0 && len(b.Resolved) == 0 && b.LastSync.IsZero()
}

// Snapshot returns the stored records and last sync time for the pair.
func (s *Store) Snapshot(ctx context.Context, acct model.AccountID, dt model.DataType) (*Snapshot, error) {
	const q = `
		SELECT local_id, account_id, data_type, remote_id, fields, volatile, updated_at
		FROM records
		WHERE account_id = ? AND data_type = ? AND remote_id != '' AND local_change != 'added'`
	rows, err := s.db.QueryContext(ctx, q, int64(acct), string(dt))
	if err != nil {
		return nil, fmt.Errorf("querying snapshot for account %d/%s: %w", acct, dt, err)
	}
	defer func() { _ = rows.Close() }()

	snap := &Snapshot{Records: make(map[string]*model.Record)}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		snap.Records[rec.RemoteID] = rec
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	last, err := s.LastSync(ctx, acct, dt)
	if err != nil {
		return nil, err
	}
	snap.LastSync = last
	return snap, nil
}

// LastSync returns the last successful sync time for the pair.
func (s *Store) LastSync(ctx context.Context, acct model.AccountID, dt model.DataType) (time.Time, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT last_sync FROM sync_state WHERE account_id = ? AND data_type = ?`,
		int64(acct), string(dt)).Scan(&raw)
	if err == sql.ErrNoRows {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("reading last sync for account %d/%s: %w", acct, dt, err)
	}
	return parseTime(raw)
}

// KnownAccounts returns the ids of accounts of provider that have
// reconciliation state for dt, i.e. have been synced at least once.
func (s *Store) KnownAccounts(ctx context.Context, provider string, dt model.DataType) ([]model.AccountID, error) {
	const q = `SELECT account_id FROM sync_state WHERE provider = ? AND data_type = ? ORDER BY account_id`
	rows, err := s.db.QueryContext(ctx, q, provider, string(dt))
	if err != nil {
		return nil, fmt.Errorf("querying known accounts for %s/%s: %w", provider, dt, err)
	}
	defer func() { _ = rows.Close() }()

	var ids []model.AccountID
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning account id: %w", err)
		}
		ids = append(ids, model.AccountID(id))
	}
	return ids, rows.Err()
}

// LocalChanges returns records added, modified, or deleted on the device
// since the last pass.
func (s *Store) LocalChanges(ctx context.Context, acct model.AccountID, dt model.DataType) ([]LocalChange, error) {
	const q = `
		SELECT local_id, account_id, data_type, remote_id, fields, volatile, updated_at, local_change
		FROM records
		WHERE account_id = ? AND data_type = ? AND local_change != ''
		ORDER BY updated_at, local_id`
	rows, err := s.db.QueryContext(ctx, q, int64(acct), string(dt))
	if err != nil {
		return nil, fmt.Errorf("querying local changes for account %d/%s: %w", acct, dt, err)
	}
	defer func() { _ = rows.Close() }()

	var out []LocalChange
	for rows.Next() {
		var change string
		rec, err := scanRecord(rows, &change)
		if err != nil {
			return nil, err
		}
		out = append(out, LocalChange{Kind: model.ParseChangeKind(change), Record: rec})
	}
	return out, rows.Err()
}

// Records returns every stored record for the pair, synced or not.
func (s *Store) Records(ctx context.Context, acct model.AccountID, dt model.DataType) ([]*model.Record, error) {
	const q = `
		SELECT local_id, account_id, data_type, remote_id, fields, volatile, updated_at
		FROM records WHERE account_id = ? AND data_type = ? ORDER BY local_id`
	rows, err := s.db.QueryContext(ctx, q, int64(acct), string(dt))
	if err != nil {
		return nil, fmt.Errorf("querying records for account %d/%s: %w", acct, dt, err)
	}
	defer func() { _ = rows.Close() }()

	var out []*model.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// StageLocalChange records a change made on the device. Added records get
// a fresh local id when rec.LocalID is empty; it is written back to rec.
func (s *Store) StageLocalChange(ctx context.Context, kind model.ChangeKind, rec *model.Record) error {
	if kind == model.ChangeDeleted {
		return s.stageDelete(ctx, rec.LocalID)
	}
	fields, volatile, err := encodeFields(rec)
	if err != nil {
		return err
	}
	now := formatTime(s.now())

	if rec.LocalID != "" {
		const q = `
			UPDATE records SET
			    fields       = ?,
			    volatile     = ?,
			    hash         = ?,
			    local_change = CASE WHEN local_change = 'added' THEN 'added' ELSE ? END,
			    updated_at   = ?
			WHERE local_id = ?`
		res, err := s.db.ExecContext(ctx, q, fields, volatile, rec.ContentHash(), kind.String(), now, rec.LocalID)
		if err != nil {
			return fmt.Errorf("staging %s change for %s: %w", kind, rec.LocalID, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			return nil
		}
	} else {
		rec.LocalID = uuid.NewString()
	}

	const q = `
		INSERT INTO records (local_id, account_id, data_type, remote_id, fields, volatile, hash, local_change, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = s.db.ExecContext(ctx, q,
		rec.LocalID, int64(rec.AccountID), string(rec.DataType), rec.RemoteID,
		fields, volatile, rec.ContentHash(), kind.String(), now)
	if err != nil {
		return fmt.Errorf("staging %s change for %s: %w", kind, rec.LocalID, err)
	}
	return nil
}

// stageDelete marks a record deleted on the device. A record that was
// never pushed upstream is dropped outright.
func (s *Store) stageDelete(ctx context.Context, localID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM records WHERE local_id = ? AND local_change = 'added'`, localID)
	if err != nil {
		return fmt.Errorf("dropping unsynced record %s: %w", localID, err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	res, err = s.db.ExecContext(ctx,
		`UPDATE records SET local_change = 'deleted', updated_at = ? WHERE local_id = ?`,
		formatTime(s.now()), localID)
	if err != nil {
		return fmt.Errorf("staging delete for %s: %w", localID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("staging delete for %s: no such record", localID)
	}
	return nil
}

// Commit applies the batch in a single transaction and returns once the
// transaction is durable.
func (s *Store) Commit(ctx context.Context, b *Batch) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning commit for account %d/%s: %w", b.AccountID, b.DataType, err)
	}
	defer func() { _ = tx.Rollback() }()

	now := formatTime(s.now())

	const upsert = `
		INSERT INTO records (local_id, account_id, data_type, remote_id, fields, volatile, hash, local_change, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, '', ?)
		ON CONFLICT(account_id, data_type, remote_id) WHERE remote_id != '' DO UPDATE SET
		    fields       = excluded.fields,
		    volatile     = excluded.volatile,
		    hash         = excluded.hash,
		    local_change = '',
		    updated_at   = excluded.updated_at`
	for _, rec := range b.Upserts {
		// A fresh local id only takes effect for new rows; updates keep theirs.
		localID := uuid.NewString()
		fields, volatile, err := encodeFields(rec)
		if err != nil {
			return err
		}
		updated := now
		if !rec.UpdatedAt.IsZero() {
			updated = formatTime(rec.UpdatedAt)
		}
		if _, err := tx.ExecContext(ctx, upsert,
			localID, int64(b.AccountID), string(b.DataType), rec.RemoteID,
			fields, volatile, rec.ContentHash(), updated); err != nil {
			return fmt.Errorf("upserting record %q: %w", rec.RemoteID, err)
		}
	}

	for _, rid := range b.Removed {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM records WHERE account_id = ? AND data_type = ? AND remote_id = ?`,
			int64(b.AccountID), string(b.DataType), rid); err != nil {
			return fmt.Errorf("deleting record %q: %w", rid, err)
		}
	}

	for _, r := range b.Resolved {
		var err error
		switch r.Kind {
		case model.ChangeDeleted:
			_, err = tx.ExecContext(ctx, `DELETE FROM records WHERE local_id = ?`, r.LocalID)
		case model.ChangeAdded:
			_, err = tx.ExecContext(ctx,
				`UPDATE records SET local_change = '', remote_id = ? WHERE local_id = ?`, r.RemoteID, r.LocalID)
		default:
			_, err = tx.ExecContext(ctx, `UPDATE records SET local_change = '' WHERE local_id = ?`, r.LocalID)
		}
		if err != nil {
			return fmt.Errorf("resolving local %s change %s: %w", r.Kind, r.LocalID, err)
		}
	}

	if !b.LastSync.IsZero() {
		const q = `
			INSERT INTO sync_state (provider, account_id, data_type, last_sync)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(account_id, data_type) DO UPDATE SET
			    provider  = excluded.provider,
			    last_sync = excluded.last_sync`
		if _, err := tx.ExecContext(ctx, q, b.Provider, int64(b.AccountID), string(b.DataType), formatTime(b.LastSync)); err != nil {
			return fmt.Errorf("stamping last sync: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing account %d/%s: %w", b.AccountID, b.DataType, err)
	}
	return nil
}

// Purge deletes every record and the reconciliation state of the given
// accounts for dt. Purging an already purged account is a no-op.
func (s *Store) Purge(ctx context.Context, dt model.DataType, ids []model.AccountID) error {
	if len(ids) == 0 {
		return nil
	}
	args := make([]any, 0, len(ids)+1)
	args = append(args, string(dt))
	for _, id := range ids {
		args = append(args, int64(id))
	}
	in := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning purge: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM records WHERE data_type = ? AND account_id IN (`+in+`)`, args...); err != nil {
		return fmt.Errorf("purging records: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM sync_state WHERE data_type = ? AND account_id IN (`+in+`)`, args...); err != nil {
		return fmt.Errorf("purging sync state: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing purge: %w", err)
	}
	return nil
}

func encodeFields(rec *model.Record) (string, string, error) {
	fields, err := json.Marshal(nonNil(rec.Fields))
	if err != nil {
		return "", "", fmt.Errorf("encoding fields of %q: %w", rec.RemoteID, err)
	}
	volatile, err := json.Marshal(nonNil(rec.Volatile))
	if err != nil {
		return "", "", fmt.Errorf("encoding volatile fields of %q: %w", rec.RemoteID, err)
	}
	return string(fields), string(volatile), nil
}

func nonNil(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

// scanRecord reads the common record columns, plus any extra destinations
// appended after updated_at.
func scanRecord(sc scanner, extra ...any) (*model.Record, error) {
	var (
		rec              model.Record
		acct             int64
		dt               string
		fields, volatile string
		updated          string
	)
	dest := append([]any{&rec.LocalID, &acct, &dt, &rec.RemoteID, &fields, &volatile, &updated}, extra...)
	if err := sc.Scan(dest...); err != nil {
		return nil, fmt.Errorf("scanning record row: %w", err)
	}
	rec.AccountID = model.AccountID(acct)
	rec.DataType = model.DataType(dt)
	if err := json.Unmarshal([]byte(fields), &rec.Fields); err != nil {
		return nil, fmt.Errorf("decoding fields of %s: %w", rec.LocalID, err)
	}
	if err := json.Unmarshal([]byte(volatile), &rec.Volatile); err != nil {
		return nil, fmt.Errorf("decoding volatile fields of %s: %w", rec.LocalID, err)
	}
	rec.UpdatedAt, _ = parseTime(updated)
	return &rec, nil
}
