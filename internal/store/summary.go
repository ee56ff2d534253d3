package store

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/matheus3301/inboxsync/internal/bus"
	"github.com/matheus3301/inboxsync/internal/metrics"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// SummaryFetcher fetches the conversation summary list from the service.
type SummaryFetcher interface {
	ListConversations(ctx context.Context) ([]Summary, error)
}

// ReadMarker acknowledges a conversation as read on the service.
type ReadMarker interface {
	MarkRead(ctx context.Context, conversationID string) error
}

// Summaries is the process-wide conversation inbox. Every mutation leaves the
// list sorted by LastMessageAt descending and recomputes the unread total.
//
// Listeners run synchronously after each committed mutation, in mutation
// order. They may read the store but must not mutate it.
type Summaries struct {
	mu         sync.RWMutex
	items      []Summary
	unread     int
	loaded     bool
	loadFailed bool

	notify notifier
	group  singleflight.Group

	fetcher    SummaryFetcher
	marker     ReadMarker
	viewerRole string
	bus        *bus.Bus
	logger     *zap.Logger
}

// NewSummaries creates an empty summary store. viewerRole is the role string
// read receipts must carry to clear the local unread count.
func NewSummaries(fetcher SummaryFetcher, marker ReadMarker, viewerRole string, b *bus.Bus, logger *zap.Logger) *Summaries {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Summaries{
		fetcher:    fetcher,
		marker:     marker,
		viewerRole: viewerRole,
		bus:        b,
		logger:     logger,
	}
}

// LoadInitial fetches the summary list once per process. Concurrent callers
// share the in-flight fetch; after a success later calls return immediately.
func (s *Summaries) LoadInitial(ctx context.Context) error {
	if s.Loaded() {
		return nil
	}
	return s.fetch(ctx, false)
}

// Refresh refetches the baseline list even if it was already loaded.
func (s *Summaries) Refresh(ctx context.Context) error {
	return s.fetch(ctx, true)
}

func (s *Summaries) fetch(ctx context.Context, force bool) error {
	_, err, _ := s.group.Do("summaries", func() (any, error) {
		// A flight that finished between the caller's check and Do.
		if !force && s.Loaded() {
			return nil, nil
		}
		list, err := s.fetcher.ListConversations(ctx)
		metrics.RecordResult(metrics.SummaryLoads, err)
		if err != nil {
			s.mutate(func() bool {
				s.loadFailed = true
				return true
			})
			s.logger.Warn("failed to load conversation summaries", zap.Error(err))
			if s.bus != nil {
				s.bus.Emit(bus.KindSummaryFailure, err.Error())
			}
			return nil, err
		}
		s.mutate(func() bool {
			s.items = normalize(list)
			s.loaded = true
			s.loadFailed = false
			return true
		})
		s.logger.Info("conversation summaries loaded", zap.Int("count", len(list)))
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("load summaries: %w", err)
	}
	return nil
}

// ApplyIncomingMessage folds a pushed message into its conversation summary,
// synthesizing the summary when the conversation is unknown.
func (s *Summaries) ApplyIncomingMessage(evt IncomingMessage) {
	m := evt.Message
	convID := evt.ConversationID()
	if convID == "" {
		s.logger.Warn("dropping incoming message without any conversation reference", zap.String("msg_id", m.ID))
		return
	}
	s.mutate(func() bool {
		idx := s.indexOf(convID)
		if idx < 0 {
			cp := evt.Counterpart
			counterparty := cp.ID
			if counterparty == "" && m.Sender != SenderSelf {
				counterparty = m.SenderID
			}
			s.items = append(s.items, Summary{
				ID:             convID,
				CounterpartyID: counterparty,
				DisplayName:    cmp.Or(cp.DisplayName, cp.ID, convID),
				AvatarRef:      cp.AvatarRef,
			})
			idx = len(s.items) - 1
		}
		sum := &s.items[idx]
		if m.CreatedAt >= sum.LastMessageAt {
			sum.LastMessageAt = m.CreatedAt
			sum.LastMessagePreview = Preview(m)
		}
		if m.Sender != SenderSelf {
			sum.UnreadCount++
		}
		return true
	})
}

// ApplyReadReceipt clears the unread count when the receipt was issued by the
// local viewer role. Receipts from the counterparty are ignored.
func (s *Summaries) ApplyReadReceipt(conversationID, actor string) {
	if actor == "" || !strings.EqualFold(actor, s.viewerRole) {
		return
	}
	s.clearUnread(conversationID)
}

// ApplyPresenceUpdate sets IsOnline on every summary for the counterparty.
func (s *Summaries) ApplyPresenceUpdate(counterpartyID string, online bool) {
	s.mutate(func() bool {
		changed := false
		for i := range s.items {
			if s.items[i].CounterpartyID == counterpartyID && s.items[i].IsOnline != online {
				s.items[i].IsOnline = online
				changed = true
			}
		}
		return changed
	})
}

// MarkReadLocally optimistically clears the conversation's unread count.
func (s *Summaries) MarkReadLocally(conversationID string) {
	s.clearUnread(conversationID)
}

// MarkRead clears the unread count locally and acknowledges it on the service
// in the background. Acknowledgment failures are logged and not rolled back.
func (s *Summaries) MarkRead(ctx context.Context, conversationID string) {
	s.MarkReadLocally(conversationID)
	if s.marker == nil {
		return
	}
	go func() {
		if err := s.marker.MarkRead(ctx, conversationID); err != nil {
			s.logger.Warn("mark read failed", zap.Error(err), zap.String("conversation_id", conversationID))
		}
	}()
}

// UpdatePreview applies a confirmed outgoing message to its summary without
// touching the unread count.
func (s *Summaries) UpdatePreview(m Message) {
	s.mutate(func() bool {
		idx := s.indexOf(m.ConversationID)
		if idx < 0 || m.CreatedAt < s.items[idx].LastMessageAt {
			return false
		}
		s.items[idx].LastMessageAt = m.CreatedAt
		s.items[idx].LastMessagePreview = Preview(m)
		return true
	})
}

func (s *Summaries) clearUnread(conversationID string) {
	s.mutate(func() bool {
		idx := s.indexOf(conversationID)
		if idx < 0 || s.items[idx].UnreadCount == 0 {
			return false
		}
		s.items[idx].UnreadCount = 0
		return true
	})
}

// Subscribe registers a listener and returns its unsubscribe function.
func (s *Summaries) Subscribe(fn func()) func() {
	return s.notify.subscribe(fn)
}

// List returns a sorted copy of the summaries.
func (s *Summaries) List() []Summary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.items)
}

// Get returns the summary for a conversation.
func (s *Summaries) Get(conversationID string) (Summary, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if idx := s.indexOf(conversationID); idx >= 0 {
		return s.items[idx], true
	}
	return Summary{}, false
}

// UnreadTotal returns the sum of unread counts across all conversations.
func (s *Summaries) UnreadTotal() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.unread
}

// Loaded reports whether the initial fetch has succeeded.
func (s *Summaries) Loaded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loaded
}

// LoadFailed reports whether the most recent fetch failed.
func (s *Summaries) LoadFailed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loadFailed
}

// Reset clears all state and listeners. Intended for tests.
func (s *Summaries) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = nil
	s.unread = 0
	s.loaded = false
	s.loadFailed = false
	s.notify.reset()
}

// mutate runs fn under the write lock and, when fn reports a change,
// re-establishes the invariants and notifies listeners.
func (s *Summaries) mutate(fn func() bool) {
	s.notify.commit.Lock()
	defer s.notify.commit.Unlock()

	s.mu.Lock()
	if !fn() {
		s.mu.Unlock()
		return
	}
	s.sortAndCount()
	s.mu.Unlock()
	s.notify.fire()
}

func (s *Summaries) sortAndCount() {
	slices.SortStableFunc(s.items, compareSummaries)
	total := 0
	for i := range s.items {
		if s.items[i].UnreadCount < 0 {
			s.items[i].UnreadCount = 0
		}
		total += s.items[i].UnreadCount
	}
	s.unread = total
}

func (s *Summaries) indexOf(conversationID string) int {
	return slices.IndexFunc(s.items, func(sum Summary) bool { return sum.ID == conversationID })
}

func compareSummaries(a, b Summary) int {
	if c := cmp.Compare(b.LastMessageAt, a.LastMessageAt); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}

// normalize deduplicates fetched summaries by id, keeping the most recent,
// and clamps counters and previews.
func normalize(list []Summary) []Summary {
	out := make([]Summary, 0, len(list))
	seen := make(map[string]int, len(list))
	for _, sum := range list {
		if sum.ID == "" {
			continue
		}
		sum.UnreadCount = max(sum.UnreadCount, 0)
		sum.LastMessagePreview = truncate(sum.LastMessagePreview, previewMaxRunes)
		if sum.DisplayName == "" {
			sum.DisplayName = cmp.Or(sum.CounterpartyID, sum.ID)
		}
		if i, ok := seen[sum.ID]; ok {
			if sum.LastMessageAt > out[i].LastMessageAt {
				out[i] = sum
			}
			continue
		}
		seen[sum.ID] = len(out)
		out = append(out, sum)
	}
	return out
}
