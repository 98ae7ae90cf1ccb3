package keystore

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type countingStore struct {
	mu    sync.Mutex
	calls int
	keys  map[string]string
}

func (s *countingStore) StoredKey(provider, service, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	v, ok := s.keys[provider+"/"+service+"/"+key]
	return v, ok, nil
}

var fbNames = KeyNames{Provider: "facebook", Service: "facebook-sync", ID: "client_id", Secret: "client_secret"}

func TestFile_StoredKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys.yaml")
	if err := os.WriteFile(path, []byte(`
facebook:
  facebook-sync:
    client_id: "1234"
    client_secret: "abcd"
`), 0o600); err != nil {
		t.Fatal(err)
	}
	f := Open(path, discardLogger())

	v, ok, err := f.StoredKey("facebook", "facebook-sync", "client_id")
	if err != nil || !ok || v != "1234" {
		t.Fatalf("StoredKey = %q, %v, %v; want 1234, true, nil", v, ok, err)
	}
	if _, ok, _ := f.StoredKey("facebook", "facebook-sync", "nope"); ok {
		t.Error("StoredKey reported missing key as present")
	}
	if _, ok, _ := f.StoredKey("vk", "vk-microblog", "client_id"); ok {
		t.Error("StoredKey reported missing provider as present")
	}
}

func TestFile_MissingFileIsEmpty(t *testing.T) {
	f := Open(filepath.Join(t.TempDir(), "absent.yaml"), discardLogger())
	_, ok, err := f.StoredKey("facebook", "facebook-sync", "client_id")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Error("expected absent key")
	}
}

func TestFile_SetKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "keys.yaml")
	f := Open(path, discardLogger())
	if err := f.SetKey("twitter", "twitter-microblog", "consumer_key", "ck"); err != nil {
		t.Fatalf("SetKey: %v", err)
	}
	if err := f.SetKey("twitter", "twitter-microblog", "consumer_secret", "cs"); err != nil {
		t.Fatalf("SetKey: %v", err)
	}
	v, ok, err := f.StoredKey("twitter", "twitter-microblog", "consumer_secret")
	if err != nil || !ok || v != "cs" {
		t.Fatalf("StoredKey = %q, %v, %v", v, ok, err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("keystore permissions = %o, want 600", perm)
	}
}

func TestCredentials_CachesResult(t *testing.T) {
	store := &countingStore{keys: map[string]string{
		"facebook/facebook-sync/client_id":     "id",
		"facebook/facebook-sync/client_secret": "secret",
	}}
	c := NewCredentials(store, discardLogger())

	for range 3 {
		p, err := c.Load(fbNames)
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if p.ID != "id" || p.Secret != "secret" {
			t.Fatalf("Load = %+v", p)
		}
	}
	if store.calls != 2 {
		t.Errorf("store calls = %d, want 2 (one load of both keys)", store.calls)
	}
}

func TestCredentials_CachesAbsence(t *testing.T) {
	store := &countingStore{keys: map[string]string{
		"facebook/facebook-sync/client_id": "id",
	}}
	c := NewCredentials(store, discardLogger())

	if _, err := c.Load(fbNames); !errors.Is(err, ErrMissing) {
		t.Fatalf("Load err = %v, want ErrMissing", err)
	}
	store.mu.Lock()
	store.keys["facebook/facebook-sync/client_secret"] = "secret"
	store.mu.Unlock()

	if _, err := c.Load(fbNames); !errors.Is(err, ErrMissing) {
		t.Fatalf("second Load err = %v, want cached ErrMissing", err)
	}

	c.Invalidate()
	p, err := c.Load(fbNames)
	if err != nil {
		t.Fatalf("Load after Invalidate: %v", err)
	}
	if !p.Valid() {
		t.Errorf("pair %+v not valid", p)
	}
}

func TestFile_WatchReportsWrites(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "keys.yaml")
	f := Open(path, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changed := make(chan struct{}, 16)
	done := make(chan error, 1)
	go func() {
		done <- f.Watch(ctx, func() { changed <- struct{}{} })
	}()

	// Give the watcher time to register before writing.
	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
	for {
		if err := f.SetKey("vk", "vk-microblog", "client_id", "x"); err != nil {
			t.Fatalf("SetKey: %v", err)
		}
		select {
		case <-changed:
			cancel()
			if err := <-done; err != nil {
				t.Fatalf("Watch returned %v", err)
			}
			return
		case <-deadline:
			t.Fatal("no change notification within 5s")
		case <-tick.C:
		}
	}
}
