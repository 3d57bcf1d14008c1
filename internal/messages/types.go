package messages

import (
	"time"

	"github.com/google/uuid"
)

// LocalStatus is the client-side delivery state of a message.
type LocalStatus string

const (
	StatusNone    LocalStatus = "none"
	StatusSending LocalStatus = "sending"
	StatusSent    LocalStatus = "sent"
	StatusFailed  LocalStatus = "failed"
)

// Message is a direct message. Only ReadStatus and LocalStatus change after
// creation, and only through Store.
type Message struct {
	ID          string      `json:"id"`
	SenderID    string      `json:"senderId"`
	ReceiverID  string      `json:"receiverId"`
	Content     string      `json:"content"`
	ReadStatus  bool        `json:"readStatus"`
	CreatedAt   string      `json:"createdAt"`
	LocalStatus LocalStatus `json:"-"`
}

// Time parses CreatedAt. An unparseable timestamp yields the zero time.
func (m Message) Time() time.Time {
	return ParseTimestamp(m.CreatedAt)
}

// Counterpart returns the participant that is not selfID.
func (m Message) Counterpart(selfID string) string {
	if m.SenderID == selfID {
		return m.ReceiverID
	}
	return m.SenderID
}

// ParseTimestamp accepts ISO8601 with or without fractional seconds.
func ParseTimestamp(s string) time.Time {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05"} {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts
		}
	}
	return time.Time{}
}

// FormatTimestamp renders t in the wire format used by CreatedAt.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// TemporaryMessage is an outgoing message shown before the server confirms it.
type TemporaryMessage struct {
	TemporaryID string
	ReceiverID  string
	Content     string
	Timestamp   time.Time
}

// NewTemporaryMessage creates a pending message with a fresh temporary ID.
func NewTemporaryMessage(receiverID, content string) TemporaryMessage {
	return TemporaryMessage{
		TemporaryID: "tmp-" + uuid.NewString(),
		ReceiverID:  receiverID,
		Content:     content,
		Timestamp:   time.Now(),
	}
}

// ToDisplayMessage renders the pending message as a Message in the sending state.
func (t TemporaryMessage) ToDisplayMessage(senderID string) Message {
	return Message{
		ID:          t.TemporaryID,
		SenderID:    senderID,
		ReceiverID:  t.ReceiverID,
		Content:     t.Content,
		ReadStatus:  true,
		CreatedAt:   FormatTimestamp(t.Timestamp),
		LocalStatus: StatusSending,
	}
}

// Phase is the lifecycle stage of a temporary message.
type Phase int

const (
	PhaseUnknown Phase = iota
	PhasePending
	PhaseConfirmed
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhasePending:
		return "pending"
	case PhaseConfirmed:
		return "confirmed"
	case PhaseFailed:
		return "failed"
	default:
		return "unknown"
	}
}
