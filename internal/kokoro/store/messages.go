package store

import (
	"context"
	"fmt"
	"time"
)

// Message sender types. The message log only ever holds these two.
const (
	SenderUser      = "user"
	SenderCompanion = "companion"
)

// Message is one chat turn in a room. The log is append-only; messages are
// never updated or deleted.
type Message struct {
	ID         int64
	RoomID     string
	SenderType string
	Content    string
	Timestamp  time.Time
}

// InsertMessage appends a message to a room's log.
func (s *Store) InsertMessage(ctx context.Context, roomID, senderType, content string, ts time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (room_id, sender_type, content, timestamp)
		VALUES (?, ?, ?, ?)
	`, roomID, senderType, content, ts)
	if err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}
	return nil
}

// RecentMessages returns the last limit messages of a room in chronological
// order (oldest first), ready to be pasted into a prompt transcript.
func (s *Store) RecentMessages(ctx context.Context, roomID string, limit int) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, room_id, sender_type, content, timestamp
		FROM messages
		WHERE room_id = ?
		ORDER BY timestamp DESC, id DESC
		LIMIT ?
	`, roomID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.RoomID, &m.SenderType, &m.Content, &m.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating messages: %w", err)
	}

	// The query walks newest-first so LIMIT picks the right window; flip it
	// back to chronological order for the caller.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// MessageCount returns the number of messages logged for a room.
func (s *Store) MessageCount(ctx context.Context, roomID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM messages WHERE room_id = ?", roomID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count messages: %w", err)
	}
	return count, nil
}
