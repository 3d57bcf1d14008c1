package chat

import (
	"cmp"
	"slices"
	"strings"

	"github.com/matheus3301/wallchat/internal/messages"
	"github.com/matheus3301/wallchat/internal/store"
)

const previewLen = 100

// Conversation is one entry of the conversation list, keyed by the
// counterpart's user ID.
type Conversation struct {
	UserID      string
	ProfileName string
	LastMessage *messages.Message
	UnreadCount int
}

func (c *Conversation) clone() Conversation {
	out := *c
	if c.LastMessage != nil {
		m := *c.LastMessage
		out.LastMessage = &m
	}
	return out
}

func (c *Conversation) snapshot() *store.Conversation {
	s := &store.Conversation{
		UserID:      c.UserID,
		ProfileName: c.ProfileName,
		UnreadCount: c.UnreadCount,
	}
	if m := c.LastMessage; m != nil {
		s.LastMessageID = m.ID
		s.LastMessageSender = m.SenderID
		s.LastMessagePreview = truncate(m.Content, previewLen)
		s.LastMessageAt = m.CreatedAt
	}
	return s
}

func fromSnapshot(s store.Conversation, selfID string) *Conversation {
	c := &Conversation{
		UserID:      s.UserID,
		ProfileName: s.ProfileName,
		UnreadCount: s.UnreadCount,
	}
	if s.LastMessageID != "" {
		receiver := selfID
		if s.LastMessageSender == selfID {
			receiver = s.UserID
		}
		c.LastMessage = &messages.Message{
			ID:          s.LastMessageID,
			SenderID:    s.LastMessageSender,
			ReceiverID:  receiver,
			Content:     s.LastMessagePreview,
			ReadStatus:  true,
			CreatedAt:   s.LastMessageAt,
			LocalStatus: messages.StatusNone,
		}
	}
	return c
}

// sortConversations orders by last message time, newest first. Conversations
// without messages go last.
func sortConversations(convs []Conversation) {
	slices.SortFunc(convs, func(a, b Conversation) int {
		switch {
		case a.LastMessage == nil && b.LastMessage == nil:
			return strings.Compare(a.UserID, b.UserID)
		case a.LastMessage == nil:
			return 1
		case b.LastMessage == nil:
			return -1
		}
		if c := b.LastMessage.Time().Compare(a.LastMessage.Time()); c != 0 {
			return c
		}
		return cmp.Compare(a.UserID, b.UserID)
	})
}

func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen])
}
