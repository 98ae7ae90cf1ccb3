// Package keystore reads static application credentials from a YAML
// secrets file and caches them per provider.
//
// The secrets file is laid out as provider → service → key → value:
//
//	facebook:
//	  facebook-sync:
//	    client_id: "1234"
//	    client_secret: "abcd"
//	twitter:
//	  twitter-microblog:
//	    consumer_key: "ck"
//	    consumer_secret: "cs"
package keystore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// File is a YAML-backed secure key store. Lookups re-read the file so that
// edits are visible without a restart; callers that need caching go
// through Credentials.
type File struct {
	path string
	log  *slog.Logger
}

// Open returns a key store backed by the file at path. The file does not
// have to exist yet; a missing file behaves like an empty store.
func Open(path string, log *slog.Logger) *File {
	return &File{path: path, log: log}
}

// Path returns the secrets file location.
func (f *File) Path() string { return f.path }

type secrets map[string]map[string]map[string]string

func (f *File) load() (secrets, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return secrets{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading keystore %q: %w", f.path, err)
	}
	var s secrets
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parsing keystore %q: %w", f.path, err)
	}
	if s == nil {
		s = secrets{}
	}
	return s, nil
}

// StoredKey returns the secret stored for (provider, service, key). The
// boolean is false when no such entry exists.
func (f *File) StoredKey(provider, service, key string) (string, bool, error) {
	s, err := f.load()
	if err != nil {
		return "", false, err
	}
	v, ok := s[provider][service][key]
	if !ok || v == "" {
		return "", false, nil
	}
	return v, true, nil
}

// SetKey writes a secret and rewrites the file with 0600 permissions.
func (f *File) SetKey(provider, service, key, value string) error {
	s, err := f.load()
	if err != nil {
		return err
	}
	if s[provider] == nil {
		s[provider] = map[string]map[string]string{}
	}
	if s[provider][service] == nil {
		s[provider][service] = map[string]string{}
	}
	s[provider][service][key] = value

	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("encoding keystore: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return fmt.Errorf("creating keystore directory: %w", err)
	}
	if err := os.WriteFile(f.path, data, 0o600); err != nil {
		return fmt.Errorf("writing keystore %q: %w", f.path, err)
	}
	return nil
}

// Watch calls onChange whenever the secrets file is written, created,
// removed, or renamed. It blocks until ctx is cancelled. The parent
// directory is watched so that editors which replace the file atomically
// are handled.
func (f *File) Watch(ctx context.Context, onChange func()) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating keystore watcher: %w", err)
	}
	defer w.Close()

	dir := filepath.Dir(f.path)
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("watching %q: %w", dir, err)
	}
	target := filepath.Clean(f.path)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
				f.log.Debug("keystore changed", "path", ev.Name, "op", ev.Op.String())
				onChange()
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			f.log.Warn("keystore watcher error", "error", err)
		}
	}
}

// Store is the lookup surface Credentials needs.
type Store interface {
	StoredKey(provider, service, key string) (string, bool, error)
}

// Pair is a loaded (id, secret) credential pair, e.g. client id and
// client secret, or consumer key and consumer secret.
type Pair struct {
	ID     string
	Secret string
}

// Valid reports whether both halves are present.
func (p Pair) Valid() bool { return p.ID != "" && p.Secret != "" }

// KeyNames names the two keystore entries that make up a Pair.
type KeyNames struct {
	Provider string
	Service  string
	ID       string
	Secret   string
}

type entry struct {
	pair Pair
	err  error
}

// Credentials caches static app credentials. The first lookup for a set
// of key names loads them; later lookups return the cached outcome, even
// when it was absent, until Invalidate is called.
type Credentials struct {
	store Store
	log   *slog.Logger

	mu    sync.Mutex
	cache map[KeyNames]entry
}

// NewCredentials returns an empty cache over store.
func NewCredentials(store Store, log *slog.Logger) *Credentials {
	return &Credentials{store: store, log: log, cache: make(map[KeyNames]entry)}
}

// ErrMissing is returned when either half of a credential pair is absent.
var ErrMissing = errors.New("static credentials not available")

// Load returns the pair for names. A missing or incomplete pair yields an
// error wrapping ErrMissing.
func (c *Credentials) Load(names KeyNames) (Pair, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.cache[names]; ok {
		return e.pair, e.err
	}

	e := c.fetch(names)
	c.cache[names] = e
	if e.err != nil {
		c.log.Warn("static credentials unavailable", "provider", names.Provider, "service", names.Service, "error", e.err)
	}
	return e.pair, e.err
}

func (c *Credentials) fetch(names KeyNames) entry {
	id, okID, err := c.store.StoredKey(names.Provider, names.Service, names.ID)
	if err != nil {
		return entry{err: fmt.Errorf("loading %s: %w", names.ID, err)}
	}
	secret, okSecret, err := c.store.StoredKey(names.Provider, names.Service, names.Secret)
	if err != nil {
		return entry{err: fmt.Errorf("loading %s: %w", names.Secret, err)}
	}
	if !okID || !okSecret {
		return entry{err: fmt.Errorf("%s/%s: %w", names.Provider, names.Service, ErrMissing)}
	}
	return entry{pair: Pair{ID: id, Secret: secret}}
}

// Invalidate drops every cached result so the next Load re-reads the store.
func (c *Credentials) Invalidate() {
	c.mu.Lock()
	c.cache = make(map[KeyNames]entry)
	c.mu.Unlock()
}
