package store

import (
	"cmp"
	"fmt"
	"unicode/utf8"
)

// Priority is the derived inbox priority of a conversation.
type Priority string

const (
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

// Sender identifies which side of a conversation authored a message.
type Sender string

const (
	SenderSelf         Sender = "self"
	SenderCounterparty Sender = "counterparty"
)

// Kind is the content kind of a message.
type Kind string

const (
	KindText     Kind = "text"
	KindAudio    Kind = "audio"
	KindImage    Kind = "image"
	KindDocument Kind = "document"
	KindSystem   Kind = "system"
)

// Status is the delivery/lifecycle status of a message.
type Status string

const (
	StatusSending Status = "sending"
	StatusSent    Status = "sent"
	StatusRead    Status = "read"
	StatusEdited  Status = "edited"
	StatusDeleted Status = "deleted"
)

const previewMaxRunes = 100

// Summary represents one row of the conversation inbox.
type Summary struct {
	ID                 string `json:"id"`
	CounterpartyID     string `json:"counterparty_id"`
	DisplayName        string `json:"display_name"`
	AvatarRef          string `json:"avatar_ref,omitempty"`
	IsOnline           bool   `json:"is_online"`
	LastMessagePreview string `json:"last_message_preview"`
	LastMessageAt      int64  `json:"last_message_at"`
	UnreadCount        int    `json:"unread_count"`
}

// Priority is high while the conversation has unread messages.
func (s Summary) Priority() Priority {
	if s.UnreadCount > 0 {
		return PriorityHigh
	}
	return PriorityNormal
}

// Message represents a single timeline entry.
// While a send is in flight ID equals LocalID.
type Message struct {
	ID             string `json:"id"`
	LocalID        string `json:"local_id,omitempty"`
	ConversationID string `json:"conversation_id"`
	Sender         Sender `json:"sender"`
	SenderID       string `json:"sender_id"`
	Content        string `json:"content"`
	Kind           Kind   `json:"kind"`
	Status         Status `json:"status"`
	CreatedAt      int64  `json:"created_at"`
	MediaRef       string `json:"media_ref,omitempty"`
	DurationMs     int64  `json:"duration_ms,omitempty"`
}

// Draft is the user-authored content of a message about to be sent.
type Draft struct {
	Content    string `json:"content"`
	Kind       Kind   `json:"kind,omitempty"`
	MediaRef   string `json:"media_ref,omitempty"`
	DurationMs int64  `json:"duration_ms,omitempty"`
}

// Page is one backward page of a conversation timeline, oldest message first.
// A nil NextCursor means no older messages remain.
type Page struct {
	Messages   []Message `json:"messages"`
	NextCursor *string   `json:"next_cursor"`
}

// Counterpart is the conversation metadata embedded in a pushed message.
type Counterpart struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	AvatarRef   string `json:"avatar_ref,omitempty"`
}

// IncomingMessage is a newly pushed message plus the metadata needed to
// synthesize a summary for a conversation the store has not seen yet.
type IncomingMessage struct {
	Message     Message
	Counterpart Counterpart
}

// ConversationID resolves the conversation the message belongs to: the
// explicit id, then the counterpart, then the sender of a counterparty
// message. A self-authored message never resolves to its own sender.
func (e IncomingMessage) ConversationID() string {
	m := e.Message
	if m.Sender == SenderSelf {
		return cmp.Or(m.ConversationID, e.Counterpart.ID)
	}
	return cmp.Or(m.ConversationID, e.Counterpart.ID, m.SenderID)
}

// Preview returns the inbox preview text for a message.
func Preview(m Message) string {
	if m.Status == StatusDeleted {
		return ""
	}
	if m.Content == "" && m.Kind != "" && m.Kind != KindText {
		return fmt.Sprintf("[%s]", m.Kind)
	}
	return truncate(m.Content, previewMaxRunes)
}

func truncate(s string, maxRunes int) string {
	if utf8.RuneCountInString(s) <= maxRunes {
		return s
	}
	return string([]rune(s)[:maxRunes])
}
