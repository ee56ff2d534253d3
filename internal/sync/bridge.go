package sync

import (
	"context"
	gosync "sync"

	"github.com/gammazero/deque"
	"github.com/matheus3301/inboxsync/internal/bus"
	"github.com/matheus3301/inboxsync/internal/dedup"
	"github.com/matheus3301/inboxsync/internal/metrics"
	"github.com/matheus3301/inboxsync/internal/push"
	"github.com/matheus3301/inboxsync/internal/status"
	"github.com/matheus3301/inboxsync/internal/store"
	"go.uber.org/zap"
)

// kindWatchStopped is queued when a Watch context ends.
const kindWatchStopped = "bridge.watch_stopped"

// Bridge routes push events into the summary store and the open timelines.
//
// For its whole lifetime the bridge receives "push.*" and channel status
// events into one unbounded queue, drained in publish order by a single
// goroutine. A Ready status is therefore handled before any frame read
// after it. Push events are applied only while attached, and every applied
// event is filtered through the dedup ledger first.
type Bridge struct {
	bus       *bus.Bus
	ledger    *dedup.Ledger
	summaries *store.Summaries
	timelines *store.Timelines
	logger    *zap.Logger

	mu    gosync.Mutex
	att   *attachment
	watch context.Context

	// Held while a push event is applied; Detach waits on it.
	applyMu gosync.Mutex

	qmu   gosync.Mutex
	queue deque.Deque[bus.Event]
	wake  chan struct{}

	unsubs    []func()
	done      chan struct{}
	stopped   chan struct{}
	closeOnce gosync.Once

	// Owned by the run goroutine.
	synced bool
	stale  bool
}

type attachment struct {
	teardown func()
}

// NewBridge creates a detached bridge and starts its event loop. Close
// releases it.
func NewBridge(b *bus.Bus, ledger *dedup.Ledger, summaries *store.Summaries, timelines *store.Timelines, logger *zap.Logger) *Bridge {
	if logger == nil {
		logger = zap.NewNop()
	}
	br := &Bridge{
		bus:       b,
		ledger:    ledger,
		summaries: summaries,
		timelines: timelines,
		logger:    logger,
		wake:      make(chan struct{}, 1),
		done:      make(chan struct{}),
		stopped:   make(chan struct{}),
	}
	br.unsubs = []func(){
		b.SubscribeFunc("push.", br.enqueue),
		b.SubscribeFunc(bus.KindChannelStatus, br.enqueue),
	}
	go br.run()
	return br
}

// Close detaches the bridge and stops its event loop. Queued events are
// discarded.
func (br *Bridge) Close() {
	br.closeOnce.Do(func() {
		for _, unsub := range br.unsubs {
			unsub()
		}
		close(br.done)
		<-br.stopped
		br.Detach()
	})
}

// Attach starts applying push events and returns the teardown. Calling it
// while attached changes nothing and returns the existing teardown.
func (br *Bridge) Attach() func() {
	br.mu.Lock()
	defer br.mu.Unlock()
	if br.att != nil {
		return br.att.teardown
	}
	a := &attachment{}
	a.teardown = func() { br.detach(a) }
	br.att = a

	metrics.BridgeAttached.Set(1)
	br.logger.Info("push bridge attached")
	return a.teardown
}

// Detach stops applying push events. It waits for an event being applied
// to finish and is a no-op when not attached.
func (br *Bridge) Detach() {
	br.mu.Lock()
	a := br.att
	br.mu.Unlock()
	if a != nil {
		br.detach(a)
	}
}

// Attached reports whether push events are being applied.
func (br *Bridge) Attached() bool {
	br.mu.Lock()
	defer br.mu.Unlock()
	return br.att != nil
}

func (br *Bridge) detach(a *attachment) {
	br.applyMu.Lock()
	defer br.applyMu.Unlock()

	br.mu.Lock()
	if br.att != a {
		br.mu.Unlock()
		return
	}
	br.att = nil
	br.mu.Unlock()

	metrics.BridgeAttached.Set(0)
	br.logger.Info("push bridge detached")
}

// enqueue runs on the publishing goroutine and never blocks on the loop.
func (br *Bridge) enqueue(evt bus.Event) {
	br.qmu.Lock()
	br.queue.PushBack(evt)
	n := br.queue.Len()
	br.qmu.Unlock()
	metrics.BridgeBacklog.Set(float64(n))

	select {
	case br.wake <- struct{}{}:
	default:
	}
}

func (br *Bridge) next() (bus.Event, bool) {
	br.qmu.Lock()
	defer br.qmu.Unlock()
	if br.queue.Len() == 0 {
		return bus.Event{}, false
	}
	evt := br.queue.PopFront()
	metrics.BridgeBacklog.Set(float64(br.queue.Len()))
	return evt, true
}

func (br *Bridge) run() {
	defer close(br.stopped)
	for {
		select {
		case <-br.wake:
		case <-br.done:
			return
		}
		for {
			evt, ok := br.next()
			if !ok {
				break
			}
			select {
			case <-br.done:
				return
			default:
			}
			br.dispatch(evt)
		}
	}
}

func (br *Bridge) dispatch(evt bus.Event) {
	switch evt.Kind {
	case bus.KindChannelStatus:
		change, ok := evt.Payload.(status.StatusChange)
		if !ok {
			return
		}
		br.mu.Lock()
		ctx := br.watch
		br.mu.Unlock()
		if ctx != nil {
			br.onStatus(ctx, change.To)
		}
	case kindWatchStopped:
		br.mu.Lock()
		if br.watch == evt.Payload {
			br.watch = nil
		}
		br.mu.Unlock()
		br.Detach()
	default:
		br.handle(evt)
	}
}

func (br *Bridge) handle(evt bus.Event) {
	br.applyMu.Lock()
	defer br.applyMu.Unlock()
	if !br.Attached() {
		br.logger.Debug("ignoring push event while detached", zap.String("kind", evt.Kind))
		return
	}

	e, ok := evt.Payload.(push.Event)
	if !ok {
		br.logger.Warn("ignoring push event with unexpected payload", zap.String("kind", evt.Kind))
		return
	}
	if !br.ledger.ShouldApply(e.EventID()) {
		metrics.RecordPushEvent(evt.Kind, false)
		br.logger.Debug("duplicate push event", zap.String("kind", evt.Kind), zap.String("event_id", e.EventID()))
		return
	}
	metrics.RecordPushEvent(evt.Kind, true)

	switch p := e.(type) {
	case push.MessageEvent:
		br.summaries.ApplyIncomingMessage(p.Incoming)
		if tl, ok := br.timelines.Get(p.Incoming.ConversationID()); ok {
			tl.ApplyPush(p.Incoming.Message)
		}
	case push.EditEvent:
		if tl, ok := br.timelines.Get(p.ConversationID); ok && tl.ApplyEdit(p.MessageID, p.Content) {
			br.refreshPreview(tl, p.MessageID)
		}
	case push.DeleteEvent:
		if tl, ok := br.timelines.Get(p.ConversationID); ok && tl.ApplyDelete(p.MessageID) {
			br.refreshPreview(tl, p.MessageID)
		}
	case push.ReceiptEvent:
		br.summaries.ApplyReadReceipt(p.ConversationID, p.Actor)
	case push.PresenceEvent:
		br.summaries.ApplyPresenceUpdate(p.CounterpartyID, p.Online)
	}
}

// refreshPreview carries a change to the newest message into its summary.
func (br *Bridge) refreshPreview(tl *store.Timeline, messageID string) {
	latest, ok := tl.Latest()
	if !ok || latest.ID != messageID {
		return
	}
	br.summaries.UpdatePreview(latest)
}

// Watch ties the bridge to push channel connectivity until ctx is done. The
// bridge attaches on Ready and detaches on Reconnecting or Disconnected. The
// first Ready loads the summary baseline; a Ready that follows a detach
// refetches it and the newest page of every open timeline so events missed
// while offline are reflected.
func (br *Bridge) Watch(ctx context.Context) {
	br.mu.Lock()
	br.watch = ctx
	br.mu.Unlock()
	context.AfterFunc(ctx, func() {
		br.enqueue(bus.Event{Kind: kindWatchStopped, Payload: ctx})
	})
}

func (br *Bridge) onStatus(ctx context.Context, state status.State) {
	switch state {
	case status.Ready:
		br.Attach()
		switch {
		case !br.synced:
			br.synced = true
			go br.load(ctx, "initial", br.summaries.LoadInitial)
		case br.stale:
			go br.load(ctx, "refresh", br.summaries.Refresh)
			br.resyncTimelines(ctx)
		}
		br.stale = false
	case status.Reconnecting, status.Disconnected:
		br.Detach()
		br.stale = br.synced
	}
}

func (br *Bridge) load(ctx context.Context, reason string, fn func(context.Context) error) {
	if err := fn(ctx); err != nil {
		br.logger.Warn("summary baseline load failed", zap.String("reason", reason), zap.Error(err))
	}
}

// resyncTimelines appends messages missed while detached to every loaded
// open timeline. Timelines still loading their first page are skipped.
func (br *Bridge) resyncTimelines(ctx context.Context) {
	for _, tl := range br.timelines.List() {
		if !tl.Loaded() {
			continue
		}
		go func() {
			if err := tl.LoadRecent(ctx, 0); err != nil {
				br.logger.Warn("timeline resync failed",
					zap.String("conversation_id", tl.ConversationID()), zap.Error(err))
			}
		}()
	}
}
