package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Room lifecycle states. Transitions are monotonic:
// waiting → active → ended (active may be skipped, ended is terminal).
const (
	RoomWaiting = "waiting"
	RoomActive  = "active"
	RoomEnded   = "ended"
)

// Room is one video call between a user and a companion.
type Room struct {
	RoomID      string
	UserID      string
	CompanionID string
	Status      string
	CreatedAt   time.Time
	StartedAt   sql.NullTime
	EndedAt     sql.NullTime
	ExpiresAt   time.Time
}

// Ended reports whether the room has reached its terminal state.
func (r *Room) Ended() bool {
	return r.Status == RoomEnded
}

// CreateRoom inserts a new room. The caller populates all fields; Status
// defaults to waiting when empty.
func (s *Store) CreateRoom(ctx context.Context, room *Room) error {
	if room.Status == "" {
		room.Status = RoomWaiting
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO video_rooms (room_id, user_id, companion_id, status, created_at, started_at, ended_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, room.RoomID, room.UserID, room.CompanionID, room.Status,
		room.CreatedAt, room.StartedAt, room.EndedAt, room.ExpiresAt)

	if err != nil {
		return fmt.Errorf("failed to create room: %w", err)
	}
	return nil
}

// GetRoom retrieves a room by ID.
func (s *Store) GetRoom(ctx context.Context, roomID string) (*Room, error) {
	room := &Room{}
	err := s.db.QueryRowContext(ctx, `
		SELECT room_id, user_id, companion_id, status, created_at, started_at, ended_at, expires_at
		FROM video_rooms
		WHERE room_id = ?
	`, roomID).Scan(
		&room.RoomID, &room.UserID, &room.CompanionID, &room.Status,
		&room.CreatedAt, &room.StartedAt, &room.EndedAt, &room.ExpiresAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("room %s: %w", roomID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get room: %w", err)
	}
	return room, nil
}

// MarkRoomActive transitions a waiting room to active, recording startedAt.
// It reports whether the transition happened; rooms that are already active
// or ended (or missing) are left untouched. The WHERE clause is the
// monotonicity guard, so concurrent joins race safely inside SQLite.
func (s *Store) MarkRoomActive(ctx context.Context, roomID string, startedAt time.Time) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE video_rooms
		SET status = 'active', started_at = ?
		WHERE room_id = ? AND status = 'waiting'
	`, startedAt, roomID)
	if err != nil {
		return false, fmt.Errorf("failed to mark room active: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check rows affected: %w", err)
	}
	return rows > 0, nil
}

// EndRoom transitions a room to ended, recording endedAt. Ending an already
// ended room is a no-op so repeated end_call events stay idempotent. A
// missing room returns ErrNotFound.
func (s *Store) EndRoom(ctx context.Context, roomID string, endedAt time.Time) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE video_rooms
		SET status = 'ended', ended_at = ?
		WHERE room_id = ? AND status != 'ended'
	`, endedAt, roomID)
	if err != nil {
		return fmt.Errorf("failed to end room: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rows == 0 {
		var status string
		err := s.db.QueryRowContext(ctx,
			"SELECT status FROM video_rooms WHERE room_id = ?", roomID,
		).Scan(&status)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("room %s: %w", roomID, ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("failed to check room status: %w", err)
		}
	}
	return nil
}

// EndExpiredRooms ends every non-ended room whose expiry has passed and
// returns how many rooms were ended.
func (s *Store) EndExpiredRooms(ctx context.Context, now time.Time) (int, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE video_rooms
		SET status = 'ended', ended_at = ?
		WHERE status != 'ended' AND expires_at <= ?
	`, now, now)
	if err != nil {
		return 0, fmt.Errorf("failed to end expired rooms: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to check rows affected: %w", err)
	}
	return int(rows), nil
}

// ActiveRoomCount returns the number of rooms not yet ended.
func (s *Store) ActiveRoomCount(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM video_rooms WHERE status != 'ended'",
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count rooms: %w", err)
	}
	return count, nil
}
