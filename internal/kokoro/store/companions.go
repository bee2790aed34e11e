package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Companion is one catalog entry: the character a room's user talks to.
type Companion struct {
	ID          string
	Name        string
	Description string
	AvatarURL   string
	Personality string
	VoiceID     string
	PresenterID sql.NullString
	Specialties []string
	IsActive    bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// UpsertCompanion inserts a companion or updates the existing row with the
// same ID. Catalog syncs and seed loads both funnel through here, so a
// re-sync never duplicates companions.
func (s *Store) UpsertCompanion(ctx context.Context, c *Companion) error {
	specialties, err := json.Marshal(c.Specialties)
	if err != nil {
		return fmt.Errorf("failed to encode specialties: %w", err)
	}

	now := time.Now()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO companions (id, name, description, avatar_url, personality, voice_id, presenter_id, specialties, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			avatar_url = excluded.avatar_url,
			personality = excluded.personality,
			voice_id = excluded.voice_id,
			presenter_id = excluded.presenter_id,
			specialties = excluded.specialties,
			is_active = excluded.is_active,
			updated_at = excluded.updated_at
	`, c.ID, c.Name, c.Description, c.AvatarURL, c.Personality, c.VoiceID,
		c.PresenterID, string(specialties), c.IsActive, c.CreatedAt, c.UpdatedAt)

	if err != nil {
		return fmt.Errorf("failed to upsert companion: %w", err)
	}
	return nil
}

// GetCompanion retrieves a companion by ID.
func (s *Store) GetCompanion(ctx context.Context, id string) (*Companion, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, avatar_url, personality, voice_id, presenter_id, specialties, is_active, created_at, updated_at
		FROM companions
		WHERE id = ?
	`, id)

	c, err := scanCompanion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("companion %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get companion: %w", err)
	}
	return c, nil
}

// ListCompanions returns companions ordered by name. When activeOnly is set,
// deactivated catalog entries are filtered out.
func (s *Store) ListCompanions(ctx context.Context, activeOnly bool) ([]*Companion, error) {
	query := `
		SELECT id, name, description, avatar_url, personality, voice_id, presenter_id, specialties, is_active, created_at, updated_at
		FROM companions
	`
	if activeOnly {
		query += " WHERE is_active = 1"
	}
	query += " ORDER BY name"

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list companions: %w", err)
	}
	defer rows.Close()

	var companions []*Companion
	for rows.Next() {
		c, err := scanCompanion(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan companion: %w", err)
		}
		companions = append(companions, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating companions: %w", err)
	}
	return companions, nil
}

// CompanionCount returns the number of catalog entries, active or not.
func (s *Store) CompanionCount(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM companions").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count companions: %w", err)
	}
	return count, nil
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanCompanion(row scanner) (*Companion, error) {
	c := &Companion{}
	var specialties string
	err := row.Scan(
		&c.ID, &c.Name, &c.Description, &c.AvatarURL, &c.Personality,
		&c.VoiceID, &c.PresenterID, &specialties, &c.IsActive,
		&c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(specialties), &c.Specialties); err != nil {
		return nil, fmt.Errorf("failed to decode specialties: %w", err)
	}
	return c, nil
}
