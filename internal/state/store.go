// Package state manages the SQLite database that plays the platform
// collaborators for the sync core: the account store, the local record
// store, the sync profile registry, and the per-account reconciliation
// state.
//
// Only this package may open or query the database. All other packages
// receive a [*Store] (or a narrow interface over it) and call its methods.
package state

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

const schema = `
CREATE TABLE IF NOT EXISTS accounts (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    provider     TEXT NOT NULL,
    services     TEXT NOT NULL DEFAULT '',
    state        TEXT NOT NULL DEFAULT 'initialized',
    access_token TEXT NOT NULL DEFAULT '',
    token_secret TEXT NOT NULL DEFAULT '',
    synced_at    TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_accounts_provider ON accounts (provider);

CREATE TABLE IF NOT EXISTS account_config (
    account_id INTEGER NOT NULL REFERENCES accounts (id) ON DELETE CASCADE,
    service    TEXT    NOT NULL,
    key        TEXT    NOT NULL,
    value      TEXT    NOT NULL,
    PRIMARY KEY (account_id, service, key)
);

CREATE TABLE IF NOT EXISTS profiles (
    name          TEXT    PRIMARY KEY,
    provider      TEXT    NOT NULL,
    data_type     TEXT    NOT NULL,
    account_id    INTEGER NOT NULL DEFAULT 0,
    enabled       INTEGER NOT NULL DEFAULT 1,
    last_result   TEXT    NOT NULL DEFAULT '',
    last_code     TEXT    NOT NULL DEFAULT '',
    last_finished TEXT    NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS records (
    local_id     TEXT    PRIMARY KEY,
    account_id   INTEGER NOT NULL,
    data_type    TEXT    NOT NULL,
    remote_id    TEXT    NOT NULL DEFAULT '',
    fields       TEXT    NOT NULL DEFAULT '{}',
    volatile     TEXT    NOT NULL DEFAULT '{}',
    hash         TEXT    NOT NULL DEFAULT '',
    local_change TEXT    NOT NULL DEFAULT '',
    updated_at   TEXT    NOT NULL DEFAULT ''
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_records_remote ON records (account_id, data_type, remote_id) WHERE remote_id != '';
CREATE INDEX        IF NOT EXISTS idx_records_owner  ON records (account_id, data_type);

CREATE TABLE IF NOT EXISTS sync_state (
    provider   TEXT    NOT NULL,
    account_id INTEGER NOT NULL,
    data_type  TEXT    NOT NULL,
    last_sync  TEXT    NOT NULL DEFAULT '',
    PRIMARY KEY (account_id, data_type)
);

CREATE INDEX IF NOT EXISTS idx_sync_state_provider ON sync_state (provider, data_type);
`

// Store is the SQLite-backed state repository.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (or creates) the SQLite database at path, applies the schema, and
// configures WAL mode for better concurrent read performance.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}

	// synchronous=FULL makes a returned COMMIT durable, which Commit relies on.
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=on&_synchronous=FULL")
	if err != nil {
		return nil, fmt.Errorf("opening database %q: %w", path, err)
	}

	// Single writer to avoid SQLITE_BUSY under WAL.
	db.SetMaxOpenConns(1)

	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}

	return &Store{db: db, now: time.Now}, nil
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate applies the schema DDL idempotently (CREATE IF NOT EXISTS).
func migrate(db *sql.DB) error {
	_, err := db.Exec(schema)
	return err
}

// --- helpers -----------------------------------------------------------------

// scanner matches both *sql.Row and *sql.Rows so scan helpers can be reused.
type scanner interface {
	Scan(dest ...any) error
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}
