package store

// Conversation is the persisted snapshot of a conversation list entry.
type Conversation struct {
	UserID             string
	ProfileName        string
	UnreadCount        int
	LastMessageID      string
	LastMessageSender  string
	LastMessagePreview string
	LastMessageAt      string
}

// Preference is one persisted key/value pair. Kind is "string" or "bool".
type Preference struct {
	Key   string
	Value string
	Kind  string
}
