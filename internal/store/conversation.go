package store

import (
	"fmt"
	"time"
)

// UpsertConversation inserts or updates a conversation snapshot.
func (db *DB) UpsertConversation(c *Conversation) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO conversations (user_id, profile_name, unread_count, last_message_id, last_message_sender, last_message_preview, last_message_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			profile_name = CASE WHEN excluded.profile_name != '' THEN excluded.profile_name ELSE conversations.profile_name END,
			unread_count = excluded.unread_count,
			last_message_id = excluded.last_message_id,
			last_message_sender = excluded.last_message_sender,
			last_message_preview = excluded.last_message_preview,
			last_message_at = excluded.last_message_at,
			updated_at = excluded.updated_at`,
		c.UserID, c.ProfileName, c.UnreadCount, c.LastMessageID, c.LastMessageSender, c.LastMessagePreview, c.LastMessageAt, now)
	return err
}

// ListConversations returns snapshots, newest last message first.
func (db *DB) ListConversations(limit int) ([]Conversation, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.Query(`
		SELECT user_id, profile_name, unread_count, last_message_id, last_message_sender, last_message_preview, last_message_at
		FROM conversations
		ORDER BY last_message_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var convs []Conversation
	for rows.Next() {
		var c Conversation
		if err := rows.Scan(&c.UserID, &c.ProfileName, &c.UnreadCount, &c.LastMessageID, &c.LastMessageSender, &c.LastMessagePreview, &c.LastMessageAt); err != nil {
			return nil, err
		}
		convs = append(convs, c)
	}
	return convs, rows.Err()
}

// DeleteConversation removes one snapshot together with the given sync
// checkpoints.
func (db *DB) DeleteConversation(userID string, checkpointKeys ...string) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM conversations WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	for _, key := range checkpointKeys {
		if _, err := tx.Exec(`DELETE FROM sync_state WHERE key = ?`, key); err != nil {
			return fmt.Errorf("delete checkpoint %s: %w", key, err)
		}
	}
	return tx.Commit()
}

// DeleteAllConversations removes every snapshot and sync checkpoint, used on
// logout. Preferences are kept.
func (db *DB) DeleteAllConversations() error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM conversations`); err != nil {
		return fmt.Errorf("delete conversations: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM sync_state`); err != nil {
		return fmt.Errorf("delete checkpoints: %w", err)
	}
	return tx.Commit()
}
