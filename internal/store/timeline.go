package store

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// PageFetcher fetches one backward page of a conversation's messages.
// An empty cursor requests the newest page.
type PageFetcher interface {
	ListMessages(ctx context.Context, conversationID, cursor string, limit int) (Page, error)
}

// DefaultPageSize is used when a timeline is loaded without an explicit size.
const DefaultPageSize = 15

// NewLocalID returns a client-assigned temporary message id.
func NewLocalID() string {
	return "temp-" + uuid.NewString()
}

// Timeline is the ordered message cache of a single conversation.
type Timeline struct {
	mu            sync.RWMutex
	messages      []Message
	cursor        *string
	loaded        bool
	loadingRecent bool
	loadingOlder  bool
	pageSize      int

	notify notifier

	conversationID string
	selfID         string
	fetcher        PageFetcher
	newLocalID     func() string
	now            func() int64
	logger         *zap.Logger
}

// TimelineOption customizes a Timeline.
type TimelineOption func(*Timeline)

// WithLocalIDs overrides the local id generator.
func WithLocalIDs(gen func() string) TimelineOption {
	return func(t *Timeline) { t.newLocalID = gen }
}

// WithClock overrides the clock used to stamp optimistic messages (unix ms).
func WithClock(now func() int64) TimelineOption {
	return func(t *Timeline) { t.now = now }
}

// NewTimeline creates an empty, unloaded timeline for a conversation.
func NewTimeline(conversationID, selfID string, fetcher PageFetcher, logger *zap.Logger, opts ...TimelineOption) *Timeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &Timeline{
		conversationID: conversationID,
		selfID:         selfID,
		fetcher:        fetcher,
		pageSize:       DefaultPageSize,
		newLocalID:     NewLocalID,
		now:            func() int64 { return time.Now().UnixMilli() },
		logger:         logger.With(zap.String("conversation_id", conversationID)),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// ConversationID returns the conversation this timeline belongs to.
func (t *Timeline) ConversationID() string {
	return t.conversationID
}

// LoadRecent fetches the newest pageSize messages. On a fresh timeline the
// page replaces the contents; entries that arrived before it (optimistic
// sends, early pushes) are kept at the tail. On a loaded timeline unseen
// messages are appended and the cursor is kept. A pageSize of zero reuses
// the timeline's current page size.
func (t *Timeline) LoadRecent(ctx context.Context, pageSize int) error {
	t.mutate(func() bool {
		if pageSize <= 0 {
			pageSize = t.pageSize
		}
		t.pageSize = pageSize
		t.loadingRecent = true
		return true
	})

	page, err := t.fetcher.ListMessages(ctx, t.conversationID, "", pageSize)

	t.mutate(func() bool {
		t.loadingRecent = false
		if err != nil {
			return true
		}
		if !t.loaded {
			early := uniqueMessages(t.messages, page.Messages)
			t.messages = append(uniqueMessages(page.Messages, nil), early...)
			t.cursor = page.NextCursor
			t.loaded = true
			return true
		}
		t.messages = append(t.messages, uniqueMessages(page.Messages, t.messages)...)
		return true
	})
	if err != nil {
		return fmt.Errorf("load recent messages: %w", err)
	}
	return nil
}

// LoadOlder fetches the page behind the stored cursor and prepends it.
// It is a no-op when no older messages remain or a page load is in flight.
func (t *Timeline) LoadOlder(ctx context.Context) error {
	var cursor string
	var limit int
	started := false
	t.mutate(func() bool {
		if t.cursor == nil || t.loadingOlder {
			return false
		}
		cursor, limit = *t.cursor, t.pageSize
		t.loadingOlder = true
		started = true
		return true
	})
	if !started {
		return nil
	}

	page, err := t.fetcher.ListMessages(ctx, t.conversationID, cursor, limit)

	t.mutate(func() bool {
		t.loadingOlder = false
		if err != nil {
			return true
		}
		older := uniqueMessages(page.Messages, t.messages)
		t.messages = append(older, t.messages...)
		t.cursor = page.NextCursor
		return true
	})
	if err != nil {
		return fmt.Errorf("load older messages: %w", err)
	}
	return nil
}

// SendOptimistic appends draft in sending status and returns its local id.
// No network call is made.
func (t *Timeline) SendOptimistic(draft Draft) string {
	localID := t.newLocalID()
	kind := draft.Kind
	if kind == "" {
		kind = KindText
	}
	t.mutate(func() bool {
		t.messages = append(t.messages, Message{
			ID:             localID,
			LocalID:        localID,
			ConversationID: t.conversationID,
			Sender:         SenderSelf,
			SenderID:       t.selfID,
			Content:        draft.Content,
			Kind:           kind,
			Status:         StatusSending,
			CreatedAt:      t.now(),
			MediaRef:       draft.MediaRef,
			DurationMs:     draft.DurationMs,
		})
		return true
	})
	return localID
}

// Reconcile replaces the optimistic entry localID with the confirmed server
// message at the same index. Any other row already holding the server id
// (a self-echo that won the race) is removed. Reports whether the entry was found.
func (t *Timeline) Reconcile(localID string, server Message) bool {
	found := false
	t.mutate(func() bool {
		idx := t.indexOf(localID)
		if idx < 0 {
			return false
		}
		if server.ID == "" {
			server.ID = localID
		}
		server.LocalID = localID
		server.Status = StatusSent
		if server.ConversationID == "" {
			server.ConversationID = t.conversationID
		}
		if server.Sender == "" {
			server.Sender = SenderSelf
		}
		out := t.messages[:0]
		for i, m := range t.messages {
			switch {
			case i == idx:
				out = append(out, server)
			case m.ID == server.ID:
			default:
				out = append(out, m)
			}
		}
		t.messages = out
		found = true
		return true
	})
	if !found {
		t.logger.Debug("reconcile ignored, optimistic entry gone", zap.String("local_id", localID), zap.String("msg_id", server.ID))
	}
	return found
}

// DiscardFailed removes the optimistic entry for a send that failed terminally.
func (t *Timeline) DiscardFailed(localID string) bool {
	found := false
	t.mutate(func() bool {
		idx := t.indexOf(localID)
		if idx < 0 || t.messages[idx].Status != StatusSending {
			return false
		}
		t.messages = slices.Delete(t.messages, idx, idx+1)
		found = true
		return true
	})
	return found
}

// ApplyPush appends a pushed message unless its server id is already present.
func (t *Timeline) ApplyPush(msg Message) bool {
	applied := false
	t.mutate(func() bool {
		if msg.ID == "" || t.indexOf(msg.ID) >= 0 {
			return false
		}
		if msg.Status == "" {
			msg.Status = StatusSent
		}
		if msg.ConversationID == "" {
			msg.ConversationID = t.conversationID
		}
		t.messages = append(t.messages, msg)
		applied = true
		return true
	})
	return applied
}

// ApplyEdit replaces the content of an existing message.
func (t *Timeline) ApplyEdit(messageID, content string) bool {
	applied := false
	t.mutate(func() bool {
		idx := t.indexOf(messageID)
		if idx < 0 || t.messages[idx].Status == StatusDeleted {
			return false
		}
		t.messages[idx].Content = content
		t.messages[idx].Status = StatusEdited
		applied = true
		return true
	})
	return applied
}

// ApplyDelete marks an existing message deleted and clears its content.
func (t *Timeline) ApplyDelete(messageID string) bool {
	applied := false
	t.mutate(func() bool {
		idx := t.indexOf(messageID)
		if idx < 0 || t.messages[idx].Status == StatusDeleted {
			return false
		}
		t.messages[idx].Content = ""
		t.messages[idx].MediaRef = ""
		t.messages[idx].Status = StatusDeleted
		applied = true
		return true
	})
	return applied
}

// Subscribe registers a listener and returns its unsubscribe function.
func (t *Timeline) Subscribe(fn func()) func() {
	return t.notify.subscribe(fn)
}

// Messages returns a copy of the ordered timeline, oldest first.
func (t *Timeline) Messages() []Message {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return slices.Clone(t.messages)
}

// Latest returns the newest message in the timeline.
func (t *Timeline) Latest() (Message, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if len(t.messages) == 0 {
		return Message{}, false
	}
	return t.messages[len(t.messages)-1], true
}

// Len returns the number of messages in the timeline.
func (t *Timeline) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.messages)
}

// HasMore reports whether older messages can still be loaded.
func (t *Timeline) HasMore() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.cursor != nil
}

// Cursor returns the backward pagination cursor, or "" when exhausted.
func (t *Timeline) Cursor() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.cursor == nil {
		return ""
	}
	return *t.cursor
}

// Loading reports whether a page load is in flight.
func (t *Timeline) Loading() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.loadingRecent || t.loadingOlder
}

// Loaded reports whether the recent page has been fetched.
func (t *Timeline) Loaded() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.loaded
}

func (t *Timeline) mutate(fn func() bool) {
	t.notify.commit.Lock()
	defer t.notify.commit.Unlock()

	t.mu.Lock()
	if !fn() {
		t.mu.Unlock()
		return
	}
	t.mu.Unlock()
	t.notify.fire()
}

func (t *Timeline) indexOf(id string) int {
	return slices.IndexFunc(t.messages, func(m Message) bool { return m.ID == id })
}

// uniqueMessages returns the messages of page whose ids are neither in
// existing nor repeated earlier in page.
func uniqueMessages(page, existing []Message) []Message {
	seen := make(map[string]struct{}, len(existing)+len(page))
	for _, m := range existing {
		seen[m.ID] = struct{}{}
	}
	out := make([]Message, 0, len(page))
	for _, m := range page {
		if _, ok := seen[m.ID]; ok {
			continue
		}
		seen[m.ID] = struct{}{}
		out = append(out, m)
	}
	return out
}
