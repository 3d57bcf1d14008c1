// Package chat reconciles the live push stream with paginated REST history.
// All results go through a messages.Store. The package also drives read
// receipts and optimistic sends, and owns the conversation list.
package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/matheus3301/wallchat/internal/bus"
	"github.com/matheus3301/wallchat/internal/messages"
	"github.com/matheus3301/wallchat/internal/neterr"
	"github.com/matheus3301/wallchat/internal/push"
	"github.com/matheus3301/wallchat/internal/rest"
	"github.com/matheus3301/wallchat/internal/retry"
	"github.com/matheus3301/wallchat/internal/status"
	"github.com/matheus3301/wallchat/internal/store"
	"go.uber.org/zap"
)

// receiptTimeout bounds one outbound read receipt over push.
const receiptTimeout = 5 * time.Second

// Fetcher is the REST surface used by the repository. *rest.Client
// implements it.
type Fetcher interface {
	GetMessageHistory(ctx context.Context, userID string, page int) (*rest.HistoryPage, error)
	SendMessage(ctx context.Context, receiverID, content string) (*messages.Message, error)
	MarkMessageAsRead(ctx context.Context, messageID string) error
	MarkConversationAsRead(ctx context.Context, userID string) error
}

// Transport is the outbound push surface. *push.Client implements it.
type Transport interface {
	MarkAsRead(ctx context.Context, messageID string) error
	SendTypingIndicator(ctx context.Context, receiverID string) error
}

// Snapshots persists the conversation list and sync checkpoints. *store.DB
// implements it.
type Snapshots interface {
	UpsertConversation(c *store.Conversation) error
	ListConversations(limit int) ([]store.Conversation, error)
	DeleteConversation(userID string, checkpointKeys ...string) error
	DeleteAllConversations() error
	SetCheckpoint(key, value string) error
	Checkpoint(key string) (string, error)
}

// Config holds the repository's collaborators. Snapshots and Machine may be
// nil.
type Config struct {
	SelfID    string
	Store     *messages.Store
	Fetcher   Fetcher
	Transport Transport
	Snapshots Snapshots
	Bus       *bus.Bus
	Machine   *status.Machine
	Policy    retry.Policy
	Logger    *zap.Logger
}

// Repository owns the conversation list and the read/send policy on top of a
// messages.Store.
type Repository struct {
	selfID    string
	store     *messages.Store
	fetch     Fetcher
	transport Transport
	snaps     Snapshots
	bus       *bus.Bus
	machine   *status.Machine
	policy    retry.Policy
	logger    *zap.Logger

	// mu guards the fields below and is held across the store writes that
	// must agree with them. It is always taken before the store's own lock.
	mu            sync.Mutex
	conversations map[string]*Conversation
	viewActive    bool
	active        string

	// ctx scopes background work such as read receipts; Stop cancels it.
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a repository.
func New(cfg Config) *Repository {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	st := cfg.Store
	if st == nil {
		st = messages.NewStore()
	}
	return &Repository{
		selfID:        cfg.SelfID,
		store:         st,
		fetch:         cfg.Fetcher,
		transport:     cfg.Transport,
		snaps:         cfg.Snapshots,
		bus:           cfg.Bus,
		machine:       cfg.Machine,
		policy:        cfg.Policy,
		logger:        logger,
		conversations: make(map[string]*Conversation),
		ctx:           context.Background(),
	}
}

// Start subscribes to push and connection events and handles them in one
// goroutine, in arrival order. Push events are never dropped: a full buffer
// holds the push reader back until the loop catches up.
func (r *Repository) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)
	r.ctx = ctx
	r.done = make(chan struct{})
	pushCh, unsubPush := r.bus.SubscribeLossless("push.", 256)
	connCh, unsubConn := r.bus.Subscribe("conn.", 16)

	go func() {
		defer close(r.done)
		defer unsubPush()
		defer unsubConn()
		for {
			select {
			case evt := <-pushCh:
				r.handleEvent(ctx, evt)
			case evt := <-connCh:
				r.handleEvent(ctx, evt)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the receive loop and waits for it to exit.
func (r *Repository) Stop() {
	if r.cancel != nil {
		r.cancel()
		<-r.done
	}
}

func (r *Repository) handleEvent(ctx context.Context, evt bus.Event) {
	switch evt.Kind {
	case bus.KindPushMessage:
		if m, ok := evt.Payload.(messages.Message); ok {
			r.receive(m)
		}
	case bus.KindPushTyping:
		if t, ok := evt.Payload.(push.TypingEvent); ok {
			r.bus.Publish(bus.NewEvent(bus.KindChatTyping, Typing{UserID: t.SenderID}))
		}
	case bus.KindPushReadReceipt:
		if rr, ok := evt.Payload.(push.ReadReceipt); ok {
			r.applyReadReceipt(rr)
		}
	case bus.KindPushUnreadCount:
		if uc, ok := evt.Payload.(push.UnreadCount); ok {
			r.setUnread(uc.UserID, uc.Count)
		}
	case bus.KindPushError:
		if err, ok := evt.Payload.(error); ok {
			r.logger.Warn("push server error", zap.Error(err))
		}
	case bus.KindConnStateChanged:
		if sc, ok := evt.Payload.(status.StatusChange); ok && sc.From == status.Reconnecting && sc.To == status.Connected {
			r.resyncActive(ctx)
		}
	}
}

// receive stores a pushed message. When the conversation with its sender is
// on screen, it is marked read locally and a read receipt goes out instead of
// counting it as unread. The user's own echoed messages never count; an echo
// of a send still in flight replaces its pending message.
func (r *Repository) receive(m messages.Message) {
	key := m.Counterpart(r.selfID)
	fromOther := m.SenderID != r.selfID

	r.mu.Lock()
	autoRead := fromOther && r.foregroundLocked(m.SenderID)
	if autoRead {
		m.ReadStatus = true
	}
	var replaced string
	if !fromOther {
		echo := m
		echo.LocalStatus = messages.StatusSent
		if tempID, ok := r.store.ConfirmEcho(echo, key); ok {
			m, replaced = echo, tempID
		}
	}
	if replaced == "" && !r.store.AddMessage(m, key) {
		r.mu.Unlock()
		r.logger.Debug("duplicate push message", zap.String("msg_id", m.ID))
		return
	}
	conv := r.conversationLocked(key)
	r.refreshLastLocked(conv)
	if fromOther && !m.ReadStatus {
		conv.UnreadCount++
	}
	snap := conv.clone()
	r.mu.Unlock()

	if replaced != "" {
		r.logger.Debug("push echo confirmed pending message", zap.String("temp_id", replaced), zap.String("msg_id", m.ID))
	}
	r.persist(snap)
	r.bus.Publish(bus.NewEvent(bus.KindChatMessageAdded, MessageAdded{ConversationID: key, Message: m, Replaces: replaced}))
	r.bus.Publish(bus.NewEvent(bus.KindChatConversationUpdated, snap))

	if autoRead {
		r.emitReadReceipts(m.ID)
	}
}

func (r *Repository) foregroundLocked(userID string) bool {
	return r.viewActive && r.active == userID
}

// emitReadReceipts sends receipts in the background so a slow socket never
// holds up the caller.
func (r *Repository) emitReadReceipts(messageIDs ...string) {
	if len(messageIDs) == 0 {
		return
	}
	ctx := r.ctx
	go func() {
		for _, id := range messageIDs {
			if ctx.Err() != nil {
				return
			}
			r.sendReadReceipt(ctx, id)
		}
	}()
}

// sendReadReceipt sends the receipt over push, falling back to REST when the
// socket is down.
func (r *Repository) sendReadReceipt(ctx context.Context, messageID string) {
	if r.transport != nil {
		wctx, cancel := context.WithTimeout(ctx, receiptTimeout)
		err := r.transport.MarkAsRead(wctx, messageID)
		cancel()
		if err == nil {
			return
		}
		if !neterr.Is(err, neterr.NoConnection) {
			r.logger.Warn("failed to send read receipt", zap.Error(err), zap.String("msg_id", messageID))
			return
		}
	}
	if r.fetch == nil {
		return
	}
	_, err := retry.Do(ctx, r.policy, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, r.fetch.MarkMessageAsRead(ctx, messageID)
	}, retry.WithLogger(r.logger), retry.WithName("mark_message_read"))
	if err != nil && !neterr.IsCancelled(err) {
		r.logger.Warn("failed to mark message read", zap.Error(err), zap.String("msg_id", messageID))
	}
}

func (r *Repository) applyReadReceipt(rr push.ReadReceipt) {
	keys := []string{rr.ReaderID}
	if rr.ReaderID == "" {
		keys = r.store.ConversationKeys()
	}
	for _, key := range keys {
		r.store.UpdateReadStatus(rr.MessageID, key, true)
	}
}

func (r *Repository) setUnread(userID string, count int) {
	if userID == "" {
		return
	}
	r.mu.Lock()
	conv := r.conversationLocked(userID)
	conv.UnreadCount = max(count, 0)
	snap := conv.clone()
	r.mu.Unlock()

	r.persist(snap)
	r.bus.Publish(bus.NewEvent(bus.KindChatConversationUpdated, snap))
}

func (r *Repository) resyncActive(ctx context.Context) {
	r.mu.Lock()
	active := r.active
	r.mu.Unlock()
	if active == "" || r.fetch == nil {
		return
	}
	go func() {
		newer, err := r.SyncNewer(ctx, active)
		if err != nil {
			if !neterr.IsCancelled(err) {
				r.logger.Warn("resync after reconnect failed", zap.Error(err), zap.String("user_id", active))
			}
			return
		}
		r.logger.Info("resynced after reconnect", zap.String("user_id", active), zap.Int("newer", len(newer)))
	}()
}

// SetViewActive records whether the conversation screen is in the foreground.
func (r *Repository) SetViewActive(active bool) {
	r.mu.Lock()
	r.viewActive = active
	r.mu.Unlock()
}

// SetActiveConversation records which conversation is open; "" for none.
func (r *Repository) SetActiveConversation(userID string) {
	r.mu.Lock()
	r.active = userID
	r.mu.Unlock()
}

// SendTyping forwards a typing indicator to receiverID.
func (r *Repository) SendTyping(ctx context.Context, receiverID string) error {
	if r.transport == nil {
		return neterr.New(neterr.NoConnection, errors.New("no push transport"))
	}
	return r.transport.SendTypingIndicator(ctx, receiverID)
}

// Messages returns the cached messages of a conversation, oldest first.
func (r *Repository) Messages(userID string) []messages.Message {
	return r.store.GetMessages(userID)
}

// Conversations returns the conversation list, most recent first.
func (r *Repository) Conversations() []Conversation {
	r.mu.Lock()
	out := make([]Conversation, 0, len(r.conversations))
	for _, c := range r.conversations {
		out = append(out, c.clone())
	}
	r.mu.Unlock()
	sortConversations(out)
	return out
}

// TotalUnread sums the unread counts of every conversation.
func (r *Repository) TotalUnread() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	total := 0
	for _, c := range r.conversations {
		total += c.UnreadCount
	}
	return total
}

// ConnectionState reports the push connection state.
func (r *Repository) ConnectionState() status.State {
	if r.machine == nil {
		return status.Disconnected
	}
	return r.machine.Current()
}

// Restore loads persisted conversation snapshots. Entries already known in
// memory are kept.
func (r *Repository) Restore() error {
	if r.snaps == nil {
		return nil
	}
	snaps, err := r.snaps.ListConversations(0)
	if err != nil {
		return fmt.Errorf("list conversations: %w", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range snaps {
		if _, ok := r.conversations[s.UserID]; ok {
			continue
		}
		r.conversations[s.UserID] = fromSnapshot(s, r.selfID)
	}
	r.logger.Info("conversations restored", zap.Int("count", len(snaps)))
	return nil
}

// ClearConversation forgets the conversation with userID: its cached
// messages, pending sends, snapshot and history checkpoint.
func (r *Repository) ClearConversation(userID string) error {
	r.mu.Lock()
	r.store.ClearMessages(userID)
	delete(r.conversations, userID)
	r.mu.Unlock()

	if r.snaps != nil {
		if err := r.snaps.DeleteConversation(userID, checkpointKey(userID)); err != nil {
			return fmt.Errorf("delete conversation: %w", err)
		}
	}
	r.logger.Info("conversation cleared", zap.String("user_id", userID))
	r.bus.Publish(bus.NewEvent(bus.KindChatCleared, Cleared{UserID: userID}))
	return nil
}

// ClearAll forgets every conversation, as on logout.
func (r *Repository) ClearAll() error {
	r.mu.Lock()
	r.store.ClearAll()
	n := len(r.conversations)
	r.conversations = make(map[string]*Conversation)
	r.mu.Unlock()

	if r.snaps != nil {
		if err := r.snaps.DeleteAllConversations(); err != nil {
			return fmt.Errorf("delete conversations: %w", err)
		}
	}
	r.logger.Info("all conversations cleared", zap.Int("count", n))
	r.bus.Publish(bus.NewEvent(bus.KindChatCleared, Cleared{}))
	return nil
}

func (r *Repository) conversationLocked(userID string) *Conversation {
	c, ok := r.conversations[userID]
	if !ok {
		c = &Conversation{UserID: userID}
		r.conversations[userID] = c
	}
	return c
}

// refreshLastLocked points LastMessage at the newest cached message. A
// restored snapshot newer than anything cached is kept; a pending message that
// is no longer cached is dropped.
func (r *Repository) refreshLastLocked(c *Conversation) {
	last, ok := r.store.GetLastMessage(c.UserID)
	cur := c.LastMessage
	switch {
	case ok && (cur == nil || cur.LocalStatus == messages.StatusSending || !cur.Time().After(last.Time())):
		c.LastMessage = &last
	case !ok && cur != nil && cur.LocalStatus == messages.StatusSending:
		c.LastMessage = nil
	}
}

func (r *Repository) persist(c Conversation) {
	if r.snaps == nil {
		return
	}
	if err := r.snaps.UpsertConversation(c.snapshot()); err != nil {
		r.logger.Error("failed to persist conversation", zap.Error(err), zap.String("user_id", c.UserID))
	}
}
