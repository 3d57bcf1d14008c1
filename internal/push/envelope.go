package push

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/matheus3301/wallchat/internal/bus"
	"github.com/matheus3301/wallchat/internal/messages"
)

// Inbound envelope types.
const (
	typeMessageNew  = "message.new"
	typeTyping      = "typing"
	typeReadReceipt = "read_receipt"
	typeUnreadCount = "unread_count"
	typeError       = "error"
)

// Outbound envelope types.
const (
	typeMessageSend = "message.send"
	typeTypingSend  = "typing"
	typeMessageRead = "message.read"
)

// Envelope is the frame exchanged over the push socket.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// TypingEvent reports that SenderID is composing a message.
type TypingEvent struct {
	SenderID string `json:"senderId"`
}

// ReadReceipt reports that the counterpart read MessageID.
type ReadReceipt struct {
	MessageID string `json:"messageId"`
	ReaderID  string `json:"readerId,omitempty"`
}

// UnreadCount is the server's unread total for one conversation.
type UnreadCount struct {
	UserID string `json:"userId"`
	Count  int    `json:"count"`
}

type serverError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

type outboundMessage struct {
	ReceiverID string `json:"receiverId"`
	Content    string `json:"content"`
}

type outboundTyping struct {
	ReceiverID string `json:"receiverId"`
}

type outboundRead struct {
	MessageID string `json:"messageId"`
}

var errUnknownType = errors.New("unknown envelope type")

// decode maps one frame onto a bus event.
func decode(data []byte) (bus.Event, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return bus.Event{}, fmt.Errorf("unmarshal envelope: %w", err)
	}

	switch env.Type {
	case typeMessageNew:
		var m messages.Message
		if err := json.Unmarshal(env.Payload, &m); err != nil {
			return bus.Event{}, fmt.Errorf("unmarshal %s: %w", env.Type, err)
		}
		return bus.NewEvent(bus.KindPushMessage, m), nil
	case typeTyping:
		var t TypingEvent
		if err := json.Unmarshal(env.Payload, &t); err != nil {
			return bus.Event{}, fmt.Errorf("unmarshal %s: %w", env.Type, err)
		}
		return bus.NewEvent(bus.KindPushTyping, t), nil
	case typeReadReceipt:
		var r ReadReceipt
		if err := json.Unmarshal(env.Payload, &r); err != nil {
			return bus.Event{}, fmt.Errorf("unmarshal %s: %w", env.Type, err)
		}
		return bus.NewEvent(bus.KindPushReadReceipt, r), nil
	case typeUnreadCount:
		var u UnreadCount
		if err := json.Unmarshal(env.Payload, &u); err != nil {
			return bus.Event{}, fmt.Errorf("unmarshal %s: %w", env.Type, err)
		}
		return bus.NewEvent(bus.KindPushUnreadCount, u), nil
	case typeError:
		var e serverError
		_ = json.Unmarshal(env.Payload, &e)
		return bus.NewEvent(bus.KindPushError, fmt.Errorf("push server: %s", e.Message)), nil
	}
	return bus.Event{}, fmt.Errorf("%w: %q", errUnknownType, env.Type)
}

func encode(typ string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Type: typ, Payload: raw})
}
