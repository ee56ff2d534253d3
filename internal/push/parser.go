package push

import (
	"cmp"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"

	"github.com/matheus3301/inboxsync/internal/bus"
	"github.com/matheus3301/inboxsync/internal/store"
)

// ErrUnknownType is returned for frames whose type the client does not handle.
var ErrUnknownType = errors.New("unknown frame type")

// Frame is the envelope of every message on the push channel.
type Frame struct {
	Type    string          `json:"type"`
	EventID string          `json:"event_id,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

type messagePayload struct {
	ID             string            `json:"id"`
	ConversationID string            `json:"conversation_id"`
	SenderID       string            `json:"sender_id"`
	Content        string            `json:"content"`
	Kind           store.Kind        `json:"kind"`
	Status         store.Status      `json:"status"`
	CreatedAt      int64             `json:"created_at"`
	MediaRef       string            `json:"media_ref"`
	DurationMs     int64             `json:"duration_ms"`
	Counterpart    store.Counterpart `json:"counterpart"`
}

type editPayload struct {
	ConversationID string `json:"conversation_id"`
	MessageID      string `json:"message_id"`
	Content        string `json:"content"`
}

type receiptPayload struct {
	ConversationID string `json:"conversation_id"`
	ReaderRole     string `json:"reader_role"`
}

type presencePayload struct {
	UserID string `json:"user_id"`
	Online bool   `json:"online"`
}

// Parse decodes one wire frame into the bus kind and typed event to publish.
// selfID decides whether a message was authored by the local user.
func Parse(data []byte, selfID string) (string, Event, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return "", nil, fmt.Errorf("decode frame: %w", err)
	}

	switch f.Type {
	case TypeMessage:
		var p messagePayload
		if err := json.Unmarshal(f.Payload, &p); err != nil {
			return "", nil, fmt.Errorf("decode message payload: %w", err)
		}
		if p.ID == "" {
			return "", nil, errors.New("message without id")
		}
		return bus.KindPushMessage, MessageEvent{
			ID:       cmp.Or(f.EventID, p.ID),
			Incoming: p.toIncoming(selfID),
		}, nil

	case TypeEdited:
		var p editPayload
		if err := json.Unmarshal(f.Payload, &p); err != nil {
			return "", nil, fmt.Errorf("decode edit payload: %w", err)
		}
		return bus.KindPushEdited, EditEvent{
			ID:             cmp.Or(f.EventID, fmt.Sprintf("%s:%s:%x", TypeEdited, p.MessageID, contentHash(p.Content))),
			ConversationID: p.ConversationID,
			MessageID:      p.MessageID,
			Content:        p.Content,
		}, nil

	case TypeDeleted:
		var p editPayload
		if err := json.Unmarshal(f.Payload, &p); err != nil {
			return "", nil, fmt.Errorf("decode delete payload: %w", err)
		}
		return bus.KindPushDeleted, DeleteEvent{
			ID:             cmp.Or(f.EventID, TypeDeleted+":"+p.MessageID),
			ConversationID: p.ConversationID,
			MessageID:      p.MessageID,
		}, nil

	case TypeReceipt:
		var p receiptPayload
		if err := json.Unmarshal(f.Payload, &p); err != nil {
			return "", nil, fmt.Errorf("decode receipt payload: %w", err)
		}
		return bus.KindPushReceipt, ReceiptEvent{
			ID:             f.EventID,
			ConversationID: p.ConversationID,
			Actor:          p.ReaderRole,
		}, nil

	case TypePresence:
		var p presencePayload
		if err := json.Unmarshal(f.Payload, &p); err != nil {
			return "", nil, fmt.Errorf("decode presence payload: %w", err)
		}
		return bus.KindPushPresence, PresenceEvent{
			ID:             f.EventID,
			CounterpartyID: p.UserID,
			Online:         p.Online,
		}, nil
	}
	return "", nil, fmt.Errorf("%w: %q", ErrUnknownType, f.Type)
}

func (p messagePayload) toIncoming(selfID string) store.IncomingMessage {
	sender := store.SenderCounterparty
	if selfID != "" && p.SenderID == selfID {
		sender = store.SenderSelf
	}
	cp := p.Counterpart
	if cp.ID == "" && sender == store.SenderCounterparty {
		cp.ID = p.SenderID
	}
	return store.IncomingMessage{
		Message: store.Message{
			ID:             p.ID,
			ConversationID: cmp.Or(p.ConversationID, cp.ID),
			Sender:         sender,
			SenderID:       p.SenderID,
			Content:        p.Content,
			Kind:           cmp.Or(p.Kind, store.KindText),
			Status:         cmp.Or(p.Status, store.StatusSent),
			CreatedAt:      p.CreatedAt,
			MediaRef:       p.MediaRef,
			DurationMs:     p.DurationMs,
		},
		Counterpart: cp,
	}
}

func contentHash(s string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return h.Sum64()
}
