package store

import (
	"context"
	"errors"
	"math/rand"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/matheus3301/inboxsync/internal/bus"
	"go.uber.org/zap"
)

type fakeFetcher struct {
	mu      sync.Mutex
	calls   int
	list    []Summary
	err     error
	started chan struct{}
	release chan struct{}
}

func (f *fakeFetcher) ListConversations(_ context.Context) ([]Summary, error) {
	f.mu.Lock()
	f.calls++
	list, err, started, release := f.list, f.err, f.started, f.release
	f.mu.Unlock()

	if started != nil {
		select {
		case started <- struct{}{}:
		default:
		}
	}
	if release != nil {
		<-release
	}
	return slices.Clone(list), err
}

func (f *fakeFetcher) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeFetcher) set(list []Summary, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.list, f.err = list, err
}

type fakeMarker struct {
	err   error
	calls chan string
}

func (m *fakeMarker) MarkRead(_ context.Context, conversationID string) error {
	m.calls <- conversationID
	return m.err
}

func newTestSummaries(t *testing.T, list []Summary) (*Summaries, *fakeFetcher) {
	t.Helper()
	f := &fakeFetcher{list: list}
	s := NewSummaries(f, nil, "client", nil, zap.NewNop())
	if list != nil {
		if err := s.LoadInitial(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
	return s, f
}

func ids(list []Summary) []string {
	out := make([]string, len(list))
	for i, s := range list {
		out[i] = s.ID
	}
	return out
}

func assertInvariants(t *testing.T, s *Summaries) {
	t.Helper()
	list := s.List()
	sum := 0
	for i, item := range list {
		if item.UnreadCount < 0 {
			t.Errorf("summary %s has negative unread %d", item.ID, item.UnreadCount)
		}
		sum += item.UnreadCount
		if i > 0 && list[i-1].LastMessageAt < item.LastMessageAt {
			t.Errorf("list not sorted at %d: %d < %d", i, list[i-1].LastMessageAt, item.LastMessageAt)
		}
	}
	if got := s.UnreadTotal(); got != sum {
		t.Errorf("UnreadTotal() = %d, want %d", got, sum)
	}
}

func TestLoadInitialSortsAndCounts(t *testing.T) {
	s, _ := newTestSummaries(t, []Summary{
		{ID: "a", LastMessageAt: 100, UnreadCount: 2},
		{ID: "b", LastMessageAt: 300, UnreadCount: 1},
		{ID: "c", LastMessageAt: 200, UnreadCount: -4},
	})

	if got, want := ids(s.List()), []string{"b", "c", "a"}; !slices.Equal(got, want) {
		t.Errorf("order = %v, want %v", got, want)
	}
	if s.UnreadTotal() != 3 {
		t.Errorf("UnreadTotal() = %d, want 3", s.UnreadTotal())
	}
	if !s.Loaded() || s.LoadFailed() {
		t.Errorf("Loaded() = %v, LoadFailed() = %v, want true/false", s.Loaded(), s.LoadFailed())
	}
	c, _ := s.Get("c")
	if c.UnreadCount != 0 {
		t.Errorf("negative unread not clamped: %d", c.UnreadCount)
	}
}

func TestLoadInitialDeduplicatesSummaries(t *testing.T) {
	s, _ := newTestSummaries(t, []Summary{
		{ID: "a", LastMessageAt: 100, LastMessagePreview: "old"},
		{ID: "a", LastMessageAt: 200, LastMessagePreview: "new"},
		{ID: "", LastMessageAt: 500},
	})
	list := s.List()
	if len(list) != 1 {
		t.Fatalf("got %d summaries, want 1", len(list))
	}
	if list[0].LastMessagePreview != "new" {
		t.Errorf("preview = %q, want new", list[0].LastMessagePreview)
	}
}

func TestLoadInitialSharesInFlightFetch(t *testing.T) {
	f := &fakeFetcher{
		list:    []Summary{{ID: "a", LastMessageAt: 1}},
		started: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	s := NewSummaries(f, nil, "client", nil, nil)

	var wg sync.WaitGroup
	errs := make(chan error, 5)
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- s.LoadInitial(context.Background())
		}()
	}

	select {
	case <-f.started:
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for fetch to start")
	}
	time.Sleep(50 * time.Millisecond)
	close(f.release)
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Errorf("LoadInitial() error = %v", err)
		}
	}
	if f.Calls() != 1 {
		t.Errorf("fetch calls = %d, want 1 (in-flight memoization)", f.Calls())
	}
}

func TestLoadInitialOncePerProcess(t *testing.T) {
	s, f := newTestSummaries(t, []Summary{{ID: "a"}})
	if err := s.LoadInitial(context.Background()); err != nil {
		t.Fatal(err)
	}
	if f.Calls() != 1 {
		t.Errorf("fetch calls = %d, want 1", f.Calls())
	}

	if err := s.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}
	if f.Calls() != 2 {
		t.Errorf("fetch calls after Refresh = %d, want 2", f.Calls())
	}
}

func TestLoadInitialRechecksInsideFlight(t *testing.T) {
	s, f := newTestSummaries(t, []Summary{{ID: "a"}})

	// A caller that saw Loaded() == false just before the first flight
	// finished reaches the group afterwards.
	if err := s.fetch(context.Background(), false); err != nil {
		t.Fatal(err)
	}
	if f.Calls() != 1 {
		t.Errorf("fetch calls = %d, want 1", f.Calls())
	}
}

func TestLoadFailureKeepsPreviousState(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe("summary.", 10)
	defer unsub()

	f := &fakeFetcher{list: []Summary{{ID: "a", LastMessageAt: 10, UnreadCount: 2}}}
	s := NewSummaries(f, nil, "client", b, nil)
	if err := s.LoadInitial(context.Background()); err != nil {
		t.Fatal(err)
	}

	notified := 0
	s.Subscribe(func() { notified++ })

	f.set(nil, errors.New("network down"))
	if err := s.Refresh(context.Background()); err == nil {
		t.Fatal("Refresh() expected error")
	}

	if got := ids(s.List()); !slices.Equal(got, []string{"a"}) {
		t.Errorf("list = %v, want [a] (unchanged)", got)
	}
	if s.UnreadTotal() != 2 {
		t.Errorf("UnreadTotal() = %d, want 2", s.UnreadTotal())
	}
	if !s.LoadFailed() {
		t.Error("LoadFailed() = false, want true")
	}
	if notified != 1 {
		t.Errorf("listener calls = %d, want 1 (failure signal)", notified)
	}

	select {
	case evt := <-ch:
		if evt.Kind != bus.KindSummaryFailure {
			t.Errorf("event kind = %q, want %s", evt.Kind, bus.KindSummaryFailure)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for summary.load_failed event")
	}

	// Retry succeeds and clears the flag.
	f.set([]Summary{{ID: "b", LastMessageAt: 20}}, nil)
	if err := s.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}
	if s.LoadFailed() {
		t.Error("LoadFailed() = true after successful retry")
	}
}

func TestLoadInitialFailureIsRetryable(t *testing.T) {
	f := &fakeFetcher{err: errors.New("boom")}
	s := NewSummaries(f, nil, "client", nil, nil)

	if err := s.LoadInitial(context.Background()); err == nil {
		t.Fatal("LoadInitial() expected error")
	}
	if s.Loaded() {
		t.Error("Loaded() = true after failure")
	}

	f.set([]Summary{{ID: "a"}}, nil)
	if err := s.LoadInitial(context.Background()); err != nil {
		t.Fatal(err)
	}
	if f.Calls() != 2 || !s.Loaded() {
		t.Errorf("calls = %d, loaded = %v, want 2/true", f.Calls(), s.Loaded())
	}
}

// TestIncomingMessageReorders covers a push moving an older conversation
// to the top and bumping the aggregate unread by exactly one.
func TestIncomingMessageReorders(t *testing.T) {
	s, _ := newTestSummaries(t, []Summary{
		{ID: "A", LastMessageAt: 100},
		{ID: "B", LastMessageAt: 200},
	})
	before := s.UnreadTotal()

	s.ApplyIncomingMessage(IncomingMessage{Message: Message{
		ID: "m1", ConversationID: "A", Sender: SenderCounterparty, Content: "hey", CreatedAt: 300,
	}})

	if got := ids(s.List()); !slices.Equal(got, []string{"A", "B"}) {
		t.Errorf("order = %v, want [A B]", got)
	}
	if s.UnreadTotal() != before+1 {
		t.Errorf("UnreadTotal() = %d, want %d", s.UnreadTotal(), before+1)
	}
	a, _ := s.Get("A")
	if a.LastMessagePreview != "hey" || a.Priority() != PriorityHigh {
		t.Errorf("A = %+v, want preview hey and high priority", a)
	}
}

func TestIncomingMessageFromSelfKeepsUnread(t *testing.T) {
	s, _ := newTestSummaries(t, []Summary{{ID: "A", LastMessageAt: 100}})

	s.ApplyIncomingMessage(IncomingMessage{Message: Message{
		ID: "m1", ConversationID: "A", Sender: SenderSelf, Content: "mine", CreatedAt: 150,
	}})

	a, _ := s.Get("A")
	if a.UnreadCount != 0 {
		t.Errorf("unread = %d, want 0 for self message", a.UnreadCount)
	}
	if a.LastMessageAt != 150 || a.LastMessagePreview != "mine" {
		t.Errorf("A = %+v, want updated preview/timestamp", a)
	}
}

func TestIncomingOlderMessageKeepsLatestPreview(t *testing.T) {
	s, _ := newTestSummaries(t, []Summary{{ID: "A", LastMessageAt: 500, LastMessagePreview: "latest"}})

	s.ApplyIncomingMessage(IncomingMessage{Message: Message{
		ID: "m0", ConversationID: "A", Sender: SenderCounterparty, Content: "late", CreatedAt: 100,
	}})

	a, _ := s.Get("A")
	if a.LastMessageAt != 500 || a.LastMessagePreview != "latest" {
		t.Errorf("A = %+v, want timestamp/preview unchanged", a)
	}
	if a.UnreadCount != 1 {
		t.Errorf("unread = %d, want 1", a.UnreadCount)
	}
}

func TestIncomingMessageSynthesizesUnknownConversation(t *testing.T) {
	s, _ := newTestSummaries(t, []Summary{{ID: "A", LastMessageAt: 100}})

	s.ApplyIncomingMessage(IncomingMessage{
		Message: Message{
			ID: "m9", ConversationID: "Z", Sender: SenderCounterparty, SenderID: "u7",
			Kind: KindAudio, CreatedAt: 900,
		},
		Counterpart: Counterpart{ID: "u7", DisplayName: "Dana", AvatarRef: "av/7"},
	})

	z, ok := s.Get("Z")
	if !ok {
		t.Fatal("conversation Z not synthesized")
	}
	if z.DisplayName != "Dana" || z.CounterpartyID != "u7" || z.AvatarRef != "av/7" {
		t.Errorf("Z = %+v, want counterpart metadata", z)
	}
	if z.LastMessagePreview != "[audio]" {
		t.Errorf("preview = %q, want [audio]", z.LastMessagePreview)
	}
	if got := ids(s.List()); !slices.Equal(got, []string{"Z", "A"}) {
		t.Errorf("order = %v, want [Z A]", got)
	}
}

func TestIncomingMessageWithoutConversationReference(t *testing.T) {
	s, _ := newTestSummaries(t, []Summary{})

	s.ApplyIncomingMessage(IncomingMessage{Message: Message{
		ID: "m1", Sender: SenderCounterparty, SenderID: "u3", Content: "hi", CreatedAt: 10,
	}})

	sum, ok := s.Get("u3")
	if !ok {
		t.Fatal("expected a minimal summary keyed by the sender")
	}
	if sum.DisplayName != "u3" || sum.UnreadCount != 1 {
		t.Errorf("summary = %+v, want display name u3 and unread 1", sum)
	}
}

func TestSelfMessageWithoutConversationReference(t *testing.T) {
	s, _ := newTestSummaries(t, []Summary{})

	s.ApplyIncomingMessage(IncomingMessage{Message: Message{
		ID: "m1", Sender: SenderSelf, SenderID: "me", Content: "hi", CreatedAt: 10,
	}})
	if got := len(s.List()); got != 0 {
		t.Fatalf("summaries = %d, want 0", got)
	}

	// An explicit conversation id still applies, without the local user as
	// counterparty.
	s.ApplyIncomingMessage(IncomingMessage{Message: Message{
		ID: "m2", ConversationID: "c1", Sender: SenderSelf, SenderID: "me", Content: "hi", CreatedAt: 20,
	}})
	sum, ok := s.Get("c1")
	if !ok {
		t.Fatal("expected summary c1")
	}
	if sum.CounterpartyID != "" || sum.UnreadCount != 0 {
		t.Errorf("summary = %+v, want no counterparty and no unread", sum)
	}
}

func TestReadReceiptActorMatching(t *testing.T) {
	tests := []struct {
		name       string
		actor      string
		wantUnread int
	}{
		{"viewer role clears", "client", 0},
		{"case insensitive", "CLIENT", 0},
		{"counterparty ignored", "coach", 3},
		{"empty ignored", "", 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := newTestSummaries(t, []Summary{{ID: "c1", UnreadCount: 3}})
			s.ApplyReadReceipt("c1", tt.actor)
			c, _ := s.Get("c1")
			if c.UnreadCount != tt.wantUnread {
				t.Errorf("unread = %d, want %d", c.UnreadCount, tt.wantUnread)
			}
			assertInvariants(t, s)
		})
	}
}

func TestMarkReadLocally(t *testing.T) {
	s, _ := newTestSummaries(t, []Summary{
		{ID: "c1", UnreadCount: 3, LastMessageAt: 2},
		{ID: "c2", UnreadCount: 1, LastMessageAt: 1},
	})
	if s.UnreadTotal() != 4 {
		t.Fatalf("UnreadTotal() = %d, want 4", s.UnreadTotal())
	}

	s.MarkReadLocally("c1")

	c1, _ := s.Get("c1")
	if c1.UnreadCount != 0 || c1.Priority() != PriorityNormal {
		t.Errorf("c1 = %+v, want unread 0 and normal priority", c1)
	}
	if s.UnreadTotal() != 1 {
		t.Errorf("UnreadTotal() = %d, want 1", s.UnreadTotal())
	}
}

func TestMarkReadFailureIsNotRolledBack(t *testing.T) {
	f := &fakeFetcher{list: []Summary{{ID: "c1", UnreadCount: 3}}}
	m := &fakeMarker{err: errors.New("offline"), calls: make(chan string, 1)}
	s := NewSummaries(f, m, "client", nil, zap.NewNop())
	if err := s.LoadInitial(context.Background()); err != nil {
		t.Fatal(err)
	}

	s.MarkRead(context.Background(), "c1")

	select {
	case id := <-m.calls:
		if id != "c1" {
			t.Errorf("marked %q, want c1", id)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for mark-read call")
	}
	time.Sleep(20 * time.Millisecond)

	if s.UnreadTotal() != 0 {
		t.Errorf("UnreadTotal() = %d, want 0 (no rollback)", s.UnreadTotal())
	}
}

func TestPresenceUpdate(t *testing.T) {
	s, _ := newTestSummaries(t, []Summary{
		{ID: "c1", CounterpartyID: "u1"},
		{ID: "c2", CounterpartyID: "u1"},
		{ID: "c3", CounterpartyID: "u2"},
	})

	s.ApplyPresenceUpdate("u1", true)

	for _, sum := range s.List() {
		want := sum.CounterpartyID == "u1"
		if sum.IsOnline != want {
			t.Errorf("%s online = %v, want %v", sum.ID, sum.IsOnline, want)
		}
	}
}

func TestListenersNotifiedOnCommittedMutations(t *testing.T) {
	s, _ := newTestSummaries(t, []Summary{{ID: "c1", UnreadCount: 1}})

	var seen []int
	unsub := s.Subscribe(func() {
		// Reading inside a listener must not deadlock.
		seen = append(seen, s.UnreadTotal())
	})

	s.MarkReadLocally("c1")
	// Neither of these commits anything.
	s.MarkReadLocally("c1")
	s.ApplyReadReceipt("c1", "coach")
	s.ApplyIncomingMessage(IncomingMessage{Message: Message{ID: "m", ConversationID: "c1", CreatedAt: 5}})

	if !slices.Equal(seen, []int{0, 1}) {
		t.Errorf("listener saw %v, want [0 1]", seen)
	}

	unsub()
	s.MarkReadLocally("c1")
	if len(seen) != 2 {
		t.Errorf("listener called after unsubscribe")
	}
}

func TestPreviewTruncation(t *testing.T) {
	long := make([]rune, 150)
	for i := range long {
		long[i] = 'é'
	}
	s, _ := newTestSummaries(t, []Summary{{ID: "c1"}})
	s.ApplyIncomingMessage(IncomingMessage{Message: Message{ID: "m", ConversationID: "c1", Content: string(long), CreatedAt: 1}})

	c1, _ := s.Get("c1")
	if n := len([]rune(c1.LastMessagePreview)); n != 100 {
		t.Errorf("preview runes = %d, want 100", n)
	}
}

// TestInvariantsUnderRandomMutations drives the store through a random
// sequence of mutations and checks ordering and the unread total after each.
func TestInvariantsUnderRandomMutations(t *testing.T) {
	s, _ := newTestSummaries(t, []Summary{
		{ID: "c0", CounterpartyID: "u0", LastMessageAt: 10, UnreadCount: 1},
		{ID: "c1", CounterpartyID: "u1", LastMessageAt: 20},
	})
	rng := rand.New(rand.NewSource(42))
	convs := []string{"c0", "c1", "c2", "c3", "c4"}

	for i := range 500 {
		conv := convs[rng.Intn(len(convs))]
		switch rng.Intn(5) {
		case 0, 1:
			sender := SenderCounterparty
			if rng.Intn(3) == 0 {
				sender = SenderSelf
			}
			s.ApplyIncomingMessage(IncomingMessage{Message: Message{
				ID: "m", ConversationID: conv, Sender: sender, CreatedAt: int64(rng.Intn(1000)),
			}})
		case 2:
			s.MarkReadLocally(conv)
		case 3:
			s.ApplyReadReceipt(conv, []string{"client", "coach"}[rng.Intn(2)])
		case 4:
			s.ApplyPresenceUpdate("u"+conv[1:], rng.Intn(2) == 0)
		}
		assertInvariants(t, s)
		if t.Failed() {
			t.Fatalf("invariant broken after step %d", i)
		}
	}
}

func TestReset(t *testing.T) {
	s, _ := newTestSummaries(t, []Summary{{ID: "c1", UnreadCount: 2}})
	s.Reset()
	if len(s.List()) != 0 || s.UnreadTotal() != 0 || s.Loaded() {
		t.Error("Reset() did not clear state")
	}
}
