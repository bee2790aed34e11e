package store

import (
	"context"
	"fmt"
	"time"
)

// Recording is call recording metadata. The media itself lives in external
// object storage; only the URL and size are registered here.
type Recording struct {
	ID              string
	RoomID          string
	URL             string
	DurationSeconds int
	FileSizeMB      float64
	CreatedAt       time.Time
}

// InsertRecording registers recording metadata for a room.
func (s *Store) InsertRecording(ctx context.Context, r *Recording) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO call_recordings (id, room_id, url, duration_seconds, file_size_mb, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, r.ID, r.RoomID, r.URL, r.DurationSeconds, r.FileSizeMB, r.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert recording: %w", err)
	}
	return nil
}

// ListRecordings returns all recordings for a room, oldest first.
func (s *Store) ListRecordings(ctx context.Context, roomID string) ([]*Recording, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, room_id, url, duration_seconds, file_size_mb, created_at
		FROM call_recordings
		WHERE room_id = ?
		ORDER BY created_at
	`, roomID)
	if err != nil {
		return nil, fmt.Errorf("failed to list recordings: %w", err)
	}
	defer rows.Close()

	var recordings []*Recording
	for rows.Next() {
		r := &Recording{}
		err := rows.Scan(&r.ID, &r.RoomID, &r.URL, &r.DurationSeconds, &r.FileSizeMB, &r.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan recording: %w", err)
		}
		recordings = append(recordings, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating recordings: %w", err)
	}
	return recordings, nil
}
