package store

import (
	"sync"

	"go.uber.org/zap"
)

// Timelines keeps one Timeline per observed conversation. A timeline lives
// while at least one observer holds it open and is dropped afterwards.
type Timelines struct {
	mu      sync.Mutex
	entries map[string]*timelineEntry

	selfID  string
	fetcher PageFetcher
	logger  *zap.Logger
	opts    []TimelineOption
}

type timelineEntry struct {
	timeline  *Timeline
	observers int
}

// NewTimelines creates an empty registry. selfID is stamped on optimistic sends.
func NewTimelines(fetcher PageFetcher, selfID string, logger *zap.Logger, opts ...TimelineOption) *Timelines {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Timelines{
		entries: make(map[string]*timelineEntry),
		selfID:  selfID,
		fetcher: fetcher,
		logger:  logger,
		opts:    opts,
	}
}

// Open returns the conversation's timeline, creating it on first use, and
// registers one more observer.
func (r *Timelines) Open(conversationID string) *Timeline {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[conversationID]
	if !ok {
		e = &timelineEntry{timeline: NewTimeline(conversationID, r.selfID, r.fetcher, r.logger, r.opts...)}
		r.entries[conversationID] = e
		r.logger.Debug("timeline opened", zap.String("conversation_id", conversationID))
	}
	e.observers++
	return e.timeline
}

// Release drops one observer; the timeline is discarded with the last one.
func (r *Timelines) Release(conversationID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[conversationID]
	if !ok {
		return
	}
	e.observers--
	if e.observers <= 0 {
		delete(r.entries, conversationID)
		r.logger.Debug("timeline discarded", zap.String("conversation_id", conversationID))
	}
}

// Get returns the open timeline for a conversation, if any.
func (r *Timelines) Get(conversationID string) (*Timeline, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[conversationID]
	if !ok {
		return nil, false
	}
	return e.timeline, true
}

// List returns the open timelines in no particular order.
func (r *Timelines) List() []*Timeline {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Timeline, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.timeline)
	}
	return out
}

// Len returns the number of open timelines.
func (r *Timelines) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
