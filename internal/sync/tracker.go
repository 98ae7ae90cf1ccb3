package sync

import (
	"fmt"
	"sync"

	"github.com/njoerd114/socialsync/internal/model"
)

// Tracker counts outstanding asynchronous work per account. An account's
// pass is complete when its count returns to zero.
type Tracker struct {
	mu     sync.Mutex
	counts map[model.AccountID]int
	total  int
}

// NewTracker returns an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{counts: make(map[model.AccountID]int)}
}

// Inc records one more outstanding unit of work for id.
func (t *Tracker) Inc(id model.AccountID) {
	t.mu.Lock()
	t.counts[id]++
	t.total++
	t.mu.Unlock()
}

// Dec releases one unit of work for id and returns the remaining count.
// Releasing an account that has nothing outstanding is an error and leaves
// the count at zero.
func (t *Tracker) Dec(id model.AccountID) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := t.counts[id]
	if n <= 0 {
		return 0, fmt.Errorf("account %d released with no outstanding requests", id)
	}
	n--
	t.counts[id] = n
	t.total--
	return n, nil
}

// Count returns the outstanding count for id.
func (t *Tracker) Count(id model.AccountID) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.counts[id]
}

// Idle reports whether no account has outstanding work.
func (t *Tracker) Idle() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.total == 0
}

// Snapshot returns a copy of all counts, including zero entries for
// accounts that were tracked at some point.
func (t *Tracker) Snapshot() map[model.AccountID]int {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[model.AccountID]int, len(t.counts))
	for id, n := range t.counts {
		out[id] = n
	}
	return out
}
