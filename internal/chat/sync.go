package chat

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/matheus3301/wallchat/internal/bus"
	"github.com/matheus3301/wallchat/internal/messages"
	"github.com/matheus3301/wallchat/internal/rest"
	"github.com/matheus3301/wallchat/internal/retry"
	"go.uber.org/zap"
)

// ErrEmptyMessage is returned when sending blank content.
var ErrEmptyMessage = errors.New("message is empty")

func checkpointKey(userID string) string {
	return "history:" + userID
}

// LoadHistory fetches one page of the conversation with userID and merges it
// into the cache. It returns how many messages were new. New unread messages
// from userID count as unread, or are read on arrival while the conversation
// is on screen, exactly as pushed ones are.
func (r *Repository) LoadHistory(ctx context.Context, userID string, page int) (int, error) {
	hp, err := retry.Do(ctx, r.policy, func(ctx context.Context) (*rest.HistoryPage, error) {
		return r.fetch.GetMessageHistory(ctx, userID, page)
	}, retry.WithLogger(r.logger), retry.WithName("history"))
	if err != nil {
		return 0, fmt.Errorf("load history: %w", err)
	}

	r.mu.Lock()
	batch := hp.Messages
	var autoRead map[string]struct{}
	if r.foregroundLocked(userID) {
		batch = slices.Clone(hp.Messages)
		autoRead = make(map[string]struct{})
		for i := range batch {
			if batch[i].SenderID != r.selfID && !batch[i].ReadStatus {
				batch[i].ReadStatus = true
				autoRead[batch[i].ID] = struct{}{}
			}
		}
	}
	cached := r.store.GetMessageCount(userID) > 0
	inserted := r.store.InsertMessages(batch, userID)
	var receipts []string
	unread := 0
	for _, m := range inserted {
		if m.SenderID == r.selfID {
			continue
		}
		if _, ok := autoRead[m.ID]; ok {
			receipts = append(receipts, m.ID)
		} else if !m.ReadStatus {
			unread++
		}
	}
	conv := r.conversationLocked(userID)
	switch {
	case cached:
		conv.UnreadCount += unread
	case autoRead != nil:
		conv.UnreadCount = unread
	default:
		// A restored snapshot may already count these messages, and possibly
		// older ones not fetched yet.
		conv.UnreadCount = max(conv.UnreadCount, unread)
	}
	if hp.ProfileName != "" {
		conv.ProfileName = hp.ProfileName
	}
	r.refreshLastLocked(conv)
	snap := conv.clone()
	r.mu.Unlock()

	r.persist(snap)
	if snap.LastMessage != nil && r.snaps != nil {
		if err := r.snaps.SetCheckpoint(checkpointKey(userID), snap.LastMessage.CreatedAt); err != nil {
			r.logger.Error("failed to update checkpoint", zap.Error(err), zap.String("user_id", userID))
		}
	}
	r.bus.Publish(bus.NewEvent(bus.KindChatConversationUpdated, snap))
	r.emitReadReceipts(receipts...)
	r.logger.Debug("history page merged",
		zap.String("user_id", userID),
		zap.Int("page", page),
		zap.Int("fetched", len(hp.Messages)),
		zap.Int("added", len(inserted)),
		zap.Int("unread", unread),
		zap.Int("read_on_arrival", len(receipts)))
	return len(inserted), nil
}

// SyncNewer fetches the newest page and returns the messages that arrived
// after the last one previously known, e.g. while the socket was down.
func (r *Repository) SyncNewer(ctx context.Context, userID string) ([]messages.Message, error) {
	var since time.Time
	if last, ok := r.store.GetLastMessage(userID); ok {
		since = last.Time()
	} else if r.snaps != nil {
		if cp, err := r.snaps.Checkpoint(checkpointKey(userID)); err == nil && cp != "" {
			since = messages.ParseTimestamp(cp)
		}
	}

	if _, err := r.LoadHistory(ctx, userID, 1); err != nil {
		return nil, err
	}
	return r.store.GetMessagesNewerThan(since, userID), nil
}

// SendMessage shows content immediately as a pending message, then sends it
// through REST. The pending entry is replaced by the server's copy from the
// REST reply or from its push echo, whichever lands first. On failure it is
// removed and bus.KindChatSendFailed is published.
func (r *Repository) SendMessage(ctx context.Context, receiverID, content string) (messages.Message, error) {
	if strings.TrimSpace(content) == "" {
		return messages.Message{}, ErrEmptyMessage
	}

	tmp := messages.NewTemporaryMessage(receiverID, content)
	r.mu.Lock()
	r.store.AddTemporaryMessage(tmp, receiverID, r.selfID)
	conv := r.conversationLocked(receiverID)
	r.refreshLastLocked(conv)
	pending := conv.clone()
	r.mu.Unlock()
	r.bus.Publish(bus.NewEvent(bus.KindChatMessageAdded, MessageAdded{ConversationID: receiverID, Message: tmp.ToDisplayMessage(r.selfID)}))
	r.bus.Publish(bus.NewEvent(bus.KindChatConversationUpdated, pending))

	sent, err := retry.Do(ctx, r.policy, func(ctx context.Context) (*messages.Message, error) {
		return r.fetch.SendMessage(ctx, receiverID, content)
	}, retry.WithLogger(r.logger), retry.WithName("send"))
	if err != nil {
		return r.sendFailed(tmp, err)
	}

	confirmed := *sent
	if confirmed.SenderID == "" {
		confirmed.SenderID = r.selfID
	}
	if confirmed.ReceiverID == "" {
		confirmed.ReceiverID = receiverID
	}
	if confirmed.CreatedAt == "" {
		confirmed.CreatedAt = messages.FormatTimestamp(tmp.Timestamp)
	}
	confirmed.LocalStatus = messages.StatusSent

	r.mu.Lock()
	if !r.store.ConfirmTemporaryMessage(tmp.TemporaryID, confirmed, receiverID) {
		// The push echo got there first.
		r.store.UpdateLocalStatus(confirmed.ID, receiverID, messages.StatusSent)
	}
	r.store.ReleaseTemporaryMessage(tmp.TemporaryID)
	conv = r.conversationLocked(receiverID)
	r.refreshLastLocked(conv)
	snap := conv.clone()
	r.mu.Unlock()

	r.persist(snap)
	r.logger.Info("message sent", zap.String("temp_id", tmp.TemporaryID), zap.String("msg_id", confirmed.ID))
	r.bus.Publish(bus.NewEvent(bus.KindChatMessageAdded, MessageAdded{ConversationID: receiverID, Message: confirmed, Replaces: tmp.TemporaryID}))
	r.bus.Publish(bus.NewEvent(bus.KindChatConversationUpdated, snap))
	return confirmed, nil
}

// sendFailed resolves a pending message whose REST send failed. If its push
// echo already confirmed it, the message was delivered and that copy is
// returned instead of an error.
func (r *Repository) sendFailed(tmp messages.TemporaryMessage, sendErr error) (messages.Message, error) {
	receiverID := tmp.ReceiverID
	r.mu.Lock()
	removed := r.store.RemoveTemporaryMessage(tmp.TemporaryID, receiverID)
	phase, echoID := r.store.ReleaseTemporaryMessage(tmp.TemporaryID)
	var echoed messages.Message
	delivered := false
	if !removed && phase == messages.PhaseConfirmed {
		echoed, delivered = r.store.GetMessage(echoID, receiverID)
	}
	conv := r.conversationLocked(receiverID)
	r.refreshLastLocked(conv)
	snap := conv.clone()
	r.mu.Unlock()

	if delivered {
		r.logger.Warn("send failed after its push echo arrived",
			zap.Error(sendErr),
			zap.String("temp_id", tmp.TemporaryID),
			zap.String("msg_id", echoed.ID))
		return echoed, nil
	}

	r.logger.Error("failed to send message", zap.Error(sendErr), zap.String("temp_id", tmp.TemporaryID))
	r.bus.Publish(bus.NewEvent(bus.KindChatSendFailed, SendFailure{
		TemporaryID: tmp.TemporaryID,
		ReceiverID:  receiverID,
		Content:     tmp.Content,
		Err:         sendErr,
	}))
	r.bus.Publish(bus.NewEvent(bus.KindChatConversationUpdated, snap))
	return messages.Message{}, fmt.Errorf("send message: %w", sendErr)
}

// MarkConversationAsRead marks every cached message from userID read and sets
// the conversation's unread count to 0 before telling the server.
func (r *Repository) MarkConversationAsRead(ctx context.Context, userID string) error {
	r.mu.Lock()
	r.store.MarkAllAsRead(userID)
	conv := r.conversationLocked(userID)
	conv.UnreadCount = 0
	snap := conv.clone()
	r.mu.Unlock()

	r.persist(snap)
	r.bus.Publish(bus.NewEvent(bus.KindChatConversationUpdated, snap))

	_, err := retry.Do(ctx, r.policy, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, r.fetch.MarkConversationAsRead(ctx, userID)
	}, retry.WithLogger(r.logger), retry.WithName("mark_conversation_read"))
	if err != nil {
		return fmt.Errorf("mark conversation read: %w", err)
	}
	return nil
}
