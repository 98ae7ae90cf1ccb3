package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/njoerd114/socialsync/internal/model"
)

// ProfileInfo is a stored sync profile together with the outcome of its
// last pass.
type ProfileInfo struct {
	model.Profile
	LastResult   string
	LastCode     string
	LastFinished time.Time
}

// SaveProfile creates the profile or updates its enabled flag.
func (s *Store) SaveProfile(ctx context.Context, p model.Profile) error {
	const q = `
		INSERT INTO profiles (name, provider, data_type, account_id, enabled)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET enabled = excluded.enabled`
	if _, err := s.db.ExecContext(ctx, q, p.Name(), p.Provider, string(p.DataType), int64(p.AccountID), boolInt(p.Enabled)); err != nil {
		return fmt.Errorf("saving profile %q: %w", p.Name(), err)
	}
	return nil
}

// Profile returns the named profile, or (nil, nil) if it does not exist.
func (s *Store) Profile(ctx context.Context, name string) (*model.Profile, error) {
	const q = `
		SELECT name, provider, data_type, account_id, enabled, last_result, last_code, last_finished
		FROM profiles WHERE name = ?`
	info, err := scanProfile(s.db.QueryRowContext(ctx, q, name))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil //nolint:nilnil // intentional: "not found" sentinel
	}
	if err != nil {
		return nil, err
	}
	return &info.Profile, nil
}

// Profiles returns every stored profile ordered by name.
func (s *Store) Profiles(ctx context.Context) ([]ProfileInfo, error) {
	const q = `
		SELECT name, provider, data_type, account_id, enabled, last_result, last_code, last_finished
		FROM profiles ORDER BY name`
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("querying profiles: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []ProfileInfo
	for rows.Next() {
		info, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *info)
	}
	return out, rows.Err()
}

// DeleteProfile removes the named profile. Deleting a missing profile is
// not an error.
func (s *Store) DeleteProfile(ctx context.Context, name string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM profiles WHERE name = ?`, name); err != nil {
		return fmt.Errorf("deleting profile %q: %w", name, err)
	}
	return nil
}

// RecordResult stores the outcome of a finished pass on its profile.
func (s *Store) RecordResult(ctx context.Context, r model.PassResult) error {
	const q = `UPDATE profiles SET last_result = ?, last_code = ?, last_finished = ? WHERE name = ?`
	if _, err := s.db.ExecContext(ctx, q, r.Result.String(), r.Code.String(), formatTime(r.FinishedAt), r.Profile); err != nil {
		return fmt.Errorf("recording result for %q: %w", r.Profile, err)
	}
	return nil
}

func scanProfile(sc scanner) (*ProfileInfo, error) {
	var (
		info     ProfileInfo
		name, dt string
		acct     int64
		enabled  int
		finished string
	)
	err := sc.Scan(&name, &info.Provider, &dt, &acct, &enabled, &info.LastResult, &info.LastCode, &finished)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning profile row: %w", err)
	}
	info.DataType = model.DataType(dt)
	info.AccountID = model.AccountID(acct)
	info.Enabled = enabled != 0
	info.LastFinished, _ = parseTime(finished)
	return &info, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
