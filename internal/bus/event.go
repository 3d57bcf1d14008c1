package bus

import "time"

// Event kinds. Subscribers filter by namespace prefix ("push.", "chat.", "conn.").
const (
	KindPushMessage     = "push.message"
	KindPushTyping      = "push.typing"
	KindPushReadReceipt = "push.read_receipt"
	KindPushUnreadCount = "push.unread_count"
	KindPushError       = "push.error"

	KindConnStateChanged = "conn.state_changed"

	KindChatMessageAdded        = "chat.message_added"
	KindChatConversationUpdated = "chat.conversation_updated"
	KindChatSendFailed          = "chat.send_failed"
	KindChatTyping              = "chat.typing"
	KindChatCleared             = "chat.cleared"
)

// Event is a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// NewEvent stamps an event with the current time.
func NewEvent(kind string, payload any) Event {
	return Event{Kind: kind, Timestamp: time.Now(), Payload: payload}
}
