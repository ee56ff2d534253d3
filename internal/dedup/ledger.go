// Package dedup records recently applied push event ids so redelivered
// events are applied once.
package dedup

import (
	"sync"

	"github.com/hashicorp/golang-lru/simplelru"
	"github.com/matheus3301/inboxsync/internal/metrics"
)

// DefaultCapacity is the number of most recent event ids remembered.
const DefaultCapacity = 300

// Ledger is a bounded, insertion-ordered set of applied event ids.
// Ids are only ever added once and never touched on lookup, so the LRU
// eviction order of the underlying list is strict FIFO.
type Ledger struct {
	mu  sync.Mutex
	ids *simplelru.LRU
}

// New creates a ledger remembering at most capacity ids.
// A non-positive capacity falls back to DefaultCapacity.
func New(capacity int) *Ledger {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	ids, err := simplelru.NewLRU(capacity, func(_, _ any) {
		metrics.DedupEvictions.Inc()
	})
	if err != nil {
		// Only returned for non-positive sizes, which are excluded above.
		panic(err)
	}
	return &Ledger{ids: ids}
}

// ShouldApply reports whether eventID has not been applied within the
// capacity window, recording it when so. Empty ids are always applied.
func (l *Ledger) ShouldApply(eventID string) bool {
	if eventID == "" {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ids.Contains(eventID) {
		return false
	}
	l.ids.Add(eventID, struct{}{})
	return true
}

// Len returns the number of ids currently remembered.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ids.Len()
}

// Reset forgets every recorded id. Intended for tests.
func (l *Ledger) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ids.Purge()
}
