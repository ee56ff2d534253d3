package outbox

import (
	"context"
	"errors"

	"github.com/matheus3301/inboxsync/internal/bus"
	"github.com/matheus3301/inboxsync/internal/metrics"
	"github.com/matheus3301/inboxsync/internal/store"
	"go.uber.org/zap"
)

var (
	// ErrNotOpen is returned when sending to a conversation without an open timeline.
	ErrNotOpen = errors.New("conversation timeline is not open")
	// ErrQueueFull is returned when the send queue cannot take another job.
	ErrQueueFull = errors.New("send queue is full")
)

// MessageSender delivers a draft to the service and returns the stored message.
type MessageSender interface {
	SendMessage(ctx context.Context, conversationID string, draft store.Draft) (store.Message, error)
}

// Result is the payload of message.send_ack and message.send_failed events.
type Result struct {
	ConversationID string
	LocalID        string
	ServerID       string
	Err            error
}

type job struct {
	conversationID string
	localID        string
	draft          store.Draft
}

// Sender shows drafts optimistically and delivers them in the background.
// Jobs are sent one at a time in submission order.
type Sender struct {
	timelines *store.Timelines
	summaries *store.Summaries
	sender    MessageSender
	bus       *bus.Bus
	logger    *zap.Logger

	queue  chan job
	cancel context.CancelFunc
	done   chan struct{}
}

// DefaultQueueSize bounds the number of sends waiting for delivery.
const DefaultQueueSize = 64

// NewSender creates a new outbox sender. summaries may be nil.
func NewSender(timelines *store.Timelines, summaries *store.Summaries, sender MessageSender, b *bus.Bus, logger *zap.Logger, queueSize int) *Sender {
	if logger == nil {
		logger = zap.NewNop()
	}
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Sender{
		timelines: timelines,
		summaries: summaries,
		sender:    sender,
		bus:       b,
		logger:    logger,
		queue:     make(chan job, queueSize),
	}
}

// Start begins draining the send queue.
func (s *Sender) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go s.loop(ctx)
}

// Stop stops the sender loop and waits for an in-flight send to return.
func (s *Sender) Stop() {
	if s.cancel != nil {
		s.cancel()
		<-s.done
		s.cancel = nil
	}
}

// Send appends draft to the conversation's open timeline in sending status
// and queues its delivery. It returns the local id without waiting for the
// network.
func (s *Sender) Send(conversationID string, draft store.Draft) (string, error) {
	tl, ok := s.timelines.Get(conversationID)
	if !ok {
		return "", ErrNotOpen
	}
	localID := tl.SendOptimistic(draft)
	select {
	case s.queue <- job{conversationID: conversationID, localID: localID, draft: draft}:
		return localID, nil
	default:
		tl.DiscardFailed(localID)
		return "", ErrQueueFull
	}
}

func (s *Sender) loop(ctx context.Context) {
	defer close(s.done)
	for {
		select {
		case j := <-s.queue:
			s.process(ctx, j)
		case <-ctx.Done():
			return
		}
	}
}

func (s *Sender) process(ctx context.Context, j job) {
	msg, err := s.sender.SendMessage(ctx, j.conversationID, j.draft)
	metrics.RecordResult(metrics.Sends, err)
	if err != nil {
		s.logger.Error("failed to send message", zap.Error(err),
			zap.String("conversation_id", j.conversationID), zap.String("local_id", j.localID))
		if tl, ok := s.timelines.Get(j.conversationID); ok {
			tl.DiscardFailed(j.localID)
		}
		s.bus.Emit(bus.KindSendFailed, Result{ConversationID: j.conversationID, LocalID: j.localID, Err: err})
		return
	}

	if msg.ConversationID == "" {
		msg.ConversationID = j.conversationID
	}
	// The timeline may have been released while the send was in flight.
	if tl, ok := s.timelines.Get(j.conversationID); ok {
		tl.Reconcile(j.localID, msg)
	}
	if s.summaries != nil {
		s.summaries.UpdatePreview(msg)
	}

	s.logger.Info("message sent", zap.String("local_id", j.localID), zap.String("msg_id", msg.ID))
	s.bus.Emit(bus.KindSendAck, Result{ConversationID: j.conversationID, LocalID: j.localID, ServerID: msg.ID})
}
