package chat

import "github.com/matheus3301/wallchat/internal/messages"

// MessageAdded is the payload of bus.KindChatMessageAdded.
type MessageAdded struct {
	ConversationID string
	Message        messages.Message
	// Replaces is the temporary ID of the pending message this one
	// confirms, if any.
	Replaces string
}

// SendFailure is the payload of bus.KindChatSendFailed.
type SendFailure struct {
	TemporaryID string
	ReceiverID  string
	Content     string
	Err         error
}

// Typing is the payload of bus.KindChatTyping.
type Typing struct {
	UserID string
}

// Cleared is the payload of bus.KindChatCleared. An empty UserID means every
// conversation was cleared.
type Cleared struct {
	UserID string
}
