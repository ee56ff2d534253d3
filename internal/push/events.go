package push

import "github.com/matheus3301/inboxsync/internal/store"

// Wire frame types.
const (
	TypeMessage  = "message"
	TypeEdited   = "message_edited"
	TypeDeleted  = "message_deleted"
	TypeReceipt  = "read_receipt"
	TypePresence = "presence"
)

// Event is implemented by every payload the client publishes on the bus.
type Event interface {
	// EventID identifies the event for deduplication. Empty means the
	// event is idempotent and carries no id.
	EventID() string
}

// MessageEvent carries a newly delivered message.
type MessageEvent struct {
	ID       string
	Incoming store.IncomingMessage
}

// EditEvent replaces the content of a delivered message.
type EditEvent struct {
	ID             string
	ConversationID string
	MessageID      string
	Content        string
}

// DeleteEvent removes the content of a delivered message.
type DeleteEvent struct {
	ID             string
	ConversationID string
	MessageID      string
}

// ReceiptEvent reports that Actor read the conversation.
type ReceiptEvent struct {
	ID             string
	ConversationID string
	Actor          string
}

// PresenceEvent reports a counterparty going online or offline.
type PresenceEvent struct {
	ID             string
	CounterpartyID string
	Online         bool
}

func (e MessageEvent) EventID() string  { return e.ID }
func (e EditEvent) EventID() string     { return e.ID }
func (e DeleteEvent) EventID() string   { return e.ID }
func (e ReceiptEvent) EventID() string  { return e.ID }
func (e PresenceEvent) EventID() string { return e.ID }
