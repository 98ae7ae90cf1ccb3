package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/njoerd114/socialsync/internal/apperr"
	"github.com/njoerd114/socialsync/internal/model"
)

// AddAccount inserts a new account with its access token. When acct.ID is
// zero an id is assigned and written back to acct.
func (s *Store) AddAccount(ctx context.Context, acct *model.Account, tok model.Token) error {
	const q = `
		INSERT INTO accounts (id, provider, services, state, access_token, token_secret)
		VALUES (NULLIF(?, 0), ?, ?, ?, ?, ?)`
	res, err := s.db.ExecContext(ctx, q,
		int64(acct.ID),
		acct.Provider,
		strings.Join(acct.Services, ","),
		acct.State.String(),
		tok.AccessToken,
		tok.Secret,
	)
	if err != nil {
		return fmt.Errorf("inserting account for %s: %w", acct.Provider, err)
	}
	if acct.ID == 0 {
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("reading account id: %w", err)
		}
		acct.ID = model.AccountID(id)
	}
	return nil
}

// RemoveAccount deletes the account and its configuration values. Local
// records are left in place so that the next sync pass classifies the
// account as removed and purges them.
func (s *Store) RemoveAccount(ctx context.Context, id model.AccountID) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM accounts WHERE id = ?`, int64(id)); err != nil {
		return fmt.Errorf("deleting account %d: %w", id, err)
	}
	return nil
}

// UpdateToken replaces the stored access token and resets the account to
// the initialized state.
func (s *Store) UpdateToken(ctx context.Context, id model.AccountID, tok model.Token) error {
	const q = `UPDATE accounts SET access_token = ?, token_secret = ?, state = ? WHERE id = ?`
	if _, err := s.db.ExecContext(ctx, q, tok.AccessToken, tok.Secret, model.StateInitialized.String(), int64(id)); err != nil {
		return fmt.Errorf("updating token for account %d: %w", id, err)
	}
	return nil
}

// EnumerateAccounts returns every account of provider, ordered by id.
func (s *Store) EnumerateAccounts(ctx context.Context, provider string) ([]*model.Account, error) {
	const q = `SELECT id, provider, services, state FROM accounts WHERE provider = ? ORDER BY id`
	rows, err := s.db.QueryContext(ctx, q, provider)
	if err != nil {
		return nil, fmt.Errorf("querying accounts for %s: %w", provider, err)
	}
	defer func() { _ = rows.Close() }()

	var out []*model.Account
	for rows.Next() {
		acct, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, acct)
	}
	return out, rows.Err()
}

// AllAccounts returns every account of every provider, ordered by id.
func (s *Store) AllAccounts(ctx context.Context) ([]*model.Account, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, provider, services, state FROM accounts ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("querying accounts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*model.Account
	for rows.Next() {
		acct, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, acct)
	}
	return out, rows.Err()
}

// Account returns the account with the given id, or (nil, nil) if it does
// not exist.
func (s *Store) Account(ctx context.Context, id model.AccountID) (*model.Account, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, provider, services, state FROM accounts WHERE id = ?`, int64(id))
	acct, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil //nolint:nilnil // intentional: "not found" sentinel
	}
	return acct, err
}

// SetState records the account's credential state.
func (s *Store) SetState(ctx context.Context, id model.AccountID, st model.CredentialState) error {
	if _, err := s.db.ExecContext(ctx, `UPDATE accounts SET state = ? WHERE id = ?`, st.String(), int64(id)); err != nil {
		return fmt.Errorf("setting state of account %d: %w", id, err)
	}
	return nil
}

// SignIn returns the stored access token for the account. An account with
// expired credentials, or with no token at all, fails with an
// authentication error flagged as expired.
func (s *Store) SignIn(ctx context.Context, id model.AccountID, service string) (model.Token, error) {
	const q = `SELECT provider, state, access_token, token_secret FROM accounts WHERE id = ?`
	var provider, st string
	var tok model.Token
	err := s.db.QueryRowContext(ctx, q, int64(id)).Scan(&provider, &st, &tok.AccessToken, &tok.Secret)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Token{}, &apperr.Error{Kind: apperr.KindAuth, AccountID: id, Msg: "account not found"}
	}
	if err != nil {
		return model.Token{}, fmt.Errorf("loading token for account %d: %w", id, err)
	}
	if st == model.StateCredentialsExpired.String() || tok.Empty() {
		return model.Token{}, &apperr.Error{
			Kind:               apperr.KindAuth,
			Provider:           provider,
			AccountID:          id,
			CredentialsExpired: true,
			Msg:                "no valid access token for " + service,
		}
	}
	return tok, nil
}

// SetConfigurationValue stores a per-service configuration value on the
// account.
func (s *Store) SetConfigurationValue(ctx context.Context, id model.AccountID, service, key, value string) error {
	const q = `
		INSERT INTO account_config (account_id, service, key, value)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(account_id, service, key) DO UPDATE SET value = excluded.value`
	if _, err := s.db.ExecContext(ctx, q, int64(id), service, key, value); err != nil {
		return fmt.Errorf("setting %s/%s on account %d: %w", service, key, id, err)
	}
	return nil
}

// ConfigurationValue returns a per-service configuration value and whether
// it is set.
func (s *Store) ConfigurationValue(ctx context.Context, id model.AccountID, service, key string) (string, bool, error) {
	const q = `SELECT value FROM account_config WHERE account_id = ? AND service = ? AND key = ?`
	var v string
	err := s.db.QueryRowContext(ctx, q, int64(id), service, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("reading %s/%s on account %d: %w", service, key, id, err)
	}
	return v, true, nil
}

// SyncAccount persists pending account metadata changes and stamps the
// account as synced.
func (s *Store) SyncAccount(ctx context.Context, id model.AccountID) error {
	const q = `UPDATE accounts SET synced_at = ? WHERE id = ?`
	if _, err := s.db.ExecContext(ctx, q, formatTime(s.now()), int64(id)); err != nil {
		return fmt.Errorf("syncing account %d: %w", id, err)
	}
	return nil
}

func scanAccount(sc scanner) (*model.Account, error) {
	var (
		acct     model.Account
		id       int64
		services string
		st       string
	)
	if err := sc.Scan(&id, &acct.Provider, &services, &st); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning account row: %w", err)
	}
	acct.ID = model.AccountID(id)
	if services != "" {
		acct.Services = strings.Split(services, ",")
	}
	state, err := model.ParseCredentialState(st)
	if err != nil {
		return nil, fmt.Errorf("account %d: %w", id, err)
	}
	acct.State = state
	return &acct, nil
}
