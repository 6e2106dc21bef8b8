package latch

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cuemby/burrow/pkg/types"
)

// Table provides per-document locks. A transaction must hold the latch
// for every document it writes before it touches the WAL. Latches are
// acquired in sorted id order so two transactions locking overlapping
// sets cannot deadlock.
type Table struct {
	mu      sync.Mutex
	latches map[string]chan struct{}
}

// NewTable creates an empty latch table. One table is shared by all
// transactions on a collection.
func NewTable() *Table {
	return &Table{
		latches: make(map[string]chan struct{}),
	}
}

// Acquire locks every id, blocking up to timeout for contended ones.
// ids are deduplicated and sorted internally. On success the returned
// release function unlocks all of them; it is safe to call once. On
// timeout every latch taken so far is released and ErrLockTimeout is
// returned.
func (t *Table) Acquire(ids []string, timeout time.Duration) (func(), error) {
	sorted := dedupeSorted(ids)
	deadline := time.Now().Add(timeout)

	acquired := make([]string, 0, len(sorted))
	release := func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		for _, id := range acquired {
			if ch, ok := t.latches[id]; ok {
				delete(t.latches, id)
				close(ch)
			}
		}
	}

	for _, id := range sorted {
		if err := t.acquireOne(id, deadline); err != nil {
			release()
			return nil, err
		}
		acquired = append(acquired, id)
	}

	var once sync.Once
	return func() { once.Do(release) }, nil
}

// acquireOne takes a single latch, waiting on the current holder's
// channel until the deadline.
func (t *Table) acquireOne(id string, deadline time.Time) error {
	for {
		t.mu.Lock()
		ch, held := t.latches[id]
		if !held {
			t.latches[id] = make(chan struct{})
			t.mu.Unlock()
			return nil
		}
		t.mu.Unlock()

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return fmt.Errorf("%w: document %q", types.ErrLockTimeout, id)
		}

		timer := time.NewTimer(remaining)
		select {
		case <-ch:
			timer.Stop()
			// Holder released; retry the take.
		case <-timer.C:
			return fmt.Errorf("%w: document %q", types.ErrLockTimeout, id)
		}
	}
}

func dedupeSorted(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
