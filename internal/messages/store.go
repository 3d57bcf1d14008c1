package messages

import (
	"cmp"
	"slices"
	"sync"
	"time"
)

// Store is the in-memory message cache, keyed by conversation. A single mutex
// serializes every operation across all conversations, so callers never see a
// partially applied update and cross-conversation totals stay consistent.
// Nothing here returns an error: absence is a nil, empty or false result.
type Store struct {
	mu            sync.Mutex
	conversations map[string]*conversation
	temporary     map[string]*pendingMessage

	// resolved remembers how each temporary message ended until its sender
	// collects the outcome with ReleaseTemporaryMessage.
	resolved map[string]resolution
}

type resolution struct {
	phase     Phase
	messageID string
}

type conversation struct {
	msgs []Message
	ids  map[string]struct{}
}

type pendingMessage struct {
	msg TemporaryMessage
	key string
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		conversations: make(map[string]*conversation),
		temporary:     make(map[string]*pendingMessage),
		resolved:      make(map[string]resolution),
	}
}

func compareMessages(a, b Message) int {
	if c := a.Time().Compare(b.Time()); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}

func (s *Store) conv(key string) *conversation {
	c, ok := s.conversations[key]
	if !ok {
		c = &conversation{ids: make(map[string]struct{})}
		s.conversations[key] = c
	}
	return c
}

// insert places m in chronological position unless its ID is already present.
func (c *conversation) insert(m Message) bool {
	if _, dup := c.ids[m.ID]; dup {
		return false
	}
	if m.LocalStatus == "" {
		m.LocalStatus = StatusNone
	}
	i, _ := slices.BinarySearchFunc(c.msgs, m, compareMessages)
	c.msgs = slices.Insert(c.msgs, i, m)
	c.ids[m.ID] = struct{}{}
	return true
}

func (c *conversation) remove(id string) bool {
	if _, ok := c.ids[id]; !ok {
		return false
	}
	delete(c.ids, id)
	c.msgs = slices.DeleteFunc(c.msgs, func(m Message) bool { return m.ID == id })
	return true
}

func (c *conversation) find(id string) *Message {
	if _, ok := c.ids[id]; !ok {
		return nil
	}
	for i := range c.msgs {
		if c.msgs[i].ID == id {
			return &c.msgs[i]
		}
	}
	return nil
}

// AddMessage inserts m into the conversation unless a message with the same ID
// is already there. The list stays sorted oldest first regardless of arrival
// order.
func (s *Store) AddMessage(m Message, key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conv(key).insert(m)
}

// AddMessages inserts a batch and returns how many were new. Duplicates of
// stored messages and repeats within the batch are skipped.
func (s *Store) AddMessages(msgs []Message, key string) int {
	return len(s.InsertMessages(msgs, key))
}

// InsertMessages is AddMessages returning the messages that were new, in
// batch order.
func (s *Store) InsertMessages(msgs []Message, key string) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.conv(key)
	var added []Message
	for _, m := range msgs {
		if c.insert(m) {
			added = append(added, *c.find(m.ID))
		}
	}
	return added
}

// GetMessage returns one message of the conversation by ID.
func (s *Store) GetMessage(id, key string) (Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.conversations[key]; ok {
		if m := c.find(id); m != nil {
			return *m, true
		}
	}
	return Message{}, false
}

// GetMessages returns a copy of the conversation, oldest first.
func (s *Store) GetMessages(key string) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[key]
	if !ok {
		return []Message{}
	}
	return slices.Clone(c.msgs)
}

// GetLastMessage returns the newest message in the conversation.
func (s *Store) GetLastMessage(key string) (Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[key]
	if !ok || len(c.msgs) == 0 {
		return Message{}, false
	}
	return c.msgs[len(c.msgs)-1], true
}

// GetMessagesNewerThan returns messages created strictly after ts, in order.
func (s *Store) GetMessagesNewerThan(ts time.Time, key string) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[key]
	if !ok {
		return []Message{}
	}
	i, _ := slices.BinarySearchFunc(c.msgs, ts, func(m Message, t time.Time) int {
		if m.Time().After(t) {
			return 1
		}
		return -1
	})
	return slices.Clone(c.msgs[i:])
}

// UpdateReadStatus sets the read flag of one message. Unknown IDs are ignored.
func (s *Store) UpdateReadStatus(id, key string, read bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.conversations[key]; ok {
		if m := c.find(id); m != nil {
			m.ReadStatus = read
		}
	}
}

// MarkAllAsRead sets the read flag on every message in the conversation.
func (s *Store) MarkAllAsRead(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[key]
	if !ok {
		return
	}
	for i := range c.msgs {
		c.msgs[i].ReadStatus = true
	}
}

// UpdateLocalStatus sets the delivery state of one message.
func (s *Store) UpdateLocalStatus(id, key string, status LocalStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.conversations[key]; ok {
		if m := c.find(id); m != nil {
			m.LocalStatus = status
		}
	}
}

// AddTemporaryMessage records a pending outgoing message and displays it in
// the conversation with status sending.
func (s *Store) AddTemporaryMessage(t TemporaryMessage, key, senderID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.temporary[t.TemporaryID] = &pendingMessage{msg: t, key: key}
	s.resolved[t.TemporaryID] = resolution{phase: PhasePending}
	s.conv(key).insert(t.ToDisplayMessage(senderID))
}

// GetTemporaryMessage returns a pending message by temporary ID.
func (s *Store) GetTemporaryMessage(id string) (TemporaryMessage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.temporary[id]
	if !ok {
		return TemporaryMessage{}, false
	}
	return p.msg, true
}

// ConfirmTemporaryMessage replaces the pending message with the server's copy
// in one step: the pending entry leaves both the temporary table and the
// displayed list before confirmed is inserted. It returns false when confirmed
// was already present, e.g. delivered earlier by the push channel.
func (s *Store) ConfirmTemporaryMessage(tempID string, confirmed Message, key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.temporary, tempID)
	s.resolved[tempID] = resolution{phase: PhaseConfirmed, messageID: confirmed.ID}
	c := s.conv(key)
	c.remove(tempID)
	return c.insert(confirmed)
}

// ConfirmEcho matches the server's copy of one of our own messages against
// the oldest pending message to the same conversation with the same content,
// and confirms that pending message with it. It returns the temporary ID it
// replaced, or false when nothing was pending; the echo is not stored then.
func (s *Store) ConfirmEcho(echo Message, key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var (
		tempID string
		match  *pendingMessage
	)
	for id, p := range s.temporary {
		if p.key != key || p.msg.Content != echo.Content {
			continue
		}
		if match == nil || p.msg.Timestamp.Before(match.msg.Timestamp) {
			tempID, match = id, p
		}
	}
	if match == nil {
		return "", false
	}
	delete(s.temporary, tempID)
	s.resolved[tempID] = resolution{phase: PhaseConfirmed, messageID: echo.ID}
	c := s.conv(key)
	c.remove(tempID)
	c.insert(echo)
	return tempID, true
}

// RemoveTemporaryMessage drops a pending message from the temporary table and
// the displayed list after a failed send. It returns false, and changes
// nothing, when the message is no longer pending.
func (s *Store) RemoveTemporaryMessage(tempID, key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.temporary[tempID]; !ok {
		return false
	}
	delete(s.temporary, tempID)
	s.resolved[tempID] = resolution{phase: PhaseFailed}
	if c, ok := s.conversations[key]; ok {
		c.remove(tempID)
	}
	return true
}

// ReleaseTemporaryMessage reports how a temporary message ended and forgets
// it. For a confirmed message it also returns the ID of the server's copy.
// A message still pending is reported but kept.
func (s *Store) ReleaseTemporaryMessage(tempID string) (Phase, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.resolved[tempID]
	if !ok {
		return PhaseUnknown, ""
	}
	if r.phase != PhasePending {
		delete(s.resolved, tempID)
	}
	return r.phase, r.messageID
}

// ClearMessages empties one conversation and its pending messages.
func (s *Store) ClearMessages(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conversations, key)
	for id, p := range s.temporary {
		if p.key == key {
			delete(s.temporary, id)
			delete(s.resolved, id)
		}
	}
}

// ClearAll empties the store.
func (s *Store) ClearAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations = make(map[string]*conversation)
	s.temporary = make(map[string]*pendingMessage)
	s.resolved = make(map[string]resolution)
}

// GetMessageCount returns the number of messages in the conversation.
func (s *Store) GetMessageCount(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.conversations[key]; ok {
		return len(c.msgs)
	}
	return 0
}

// UnreadCount counts unread messages in the conversation not sent by selfID.
func (s *Store) UnreadCount(key, selfID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[key]
	if !ok {
		return 0
	}
	return countUnread(c.msgs, selfID)
}

// TotalUnread counts unread messages from others across every conversation.
func (s *Store) TotalUnread(selfID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, c := range s.conversations {
		total += countUnread(c.msgs, selfID)
	}
	return total
}

// ConversationKeys lists the conversations that hold messages, sorted.
func (s *Store) ConversationKeys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.conversations))
	for k, c := range s.conversations {
		if len(c.msgs) > 0 {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)
	return keys
}

func countUnread(msgs []Message, selfID string) int {
	n := 0
	for _, m := range msgs {
		if !m.ReadStatus && m.SenderID != selfID {
			n++
		}
	}
	return n
}
