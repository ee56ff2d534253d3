package bus

import "time"

// Event kinds published by the sync core.
const (
	KindChannelStatus  = "channel.status_changed"
	KindPushMessage    = "push.message"
	KindPushEdited     = "push.message_edited"
	KindPushDeleted    = "push.message_deleted"
	KindPushReceipt    = "push.read_receipt"
	KindPushPresence   = "push.presence"
	KindSendAck        = "message.send_ack"
	KindSendFailed     = "message.send_failed"
	KindSummaryFailure = "summary.load_failed"
)

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}
