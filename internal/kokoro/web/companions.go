package web

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"strings"
	"time"

	"github.com/kokoro-labs/kokoro/common/retry"
	"github.com/kokoro-labs/kokoro/common/spec/persona"
	"github.com/kokoro-labs/kokoro/internal/kokoro/store"
)

type companionResponse struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	AvatarURL   string    `json:"avatar_url"`
	Personality string    `json:"personality"`
	VoiceID     string    `json:"voice_id"`
	PresenterID string    `json:"presenter_id,omitempty"`
	Specialties []string  `json:"specialties"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func companionToResponse(c *store.Companion) companionResponse {
	resp := companionResponse{
		ID:          c.ID,
		Name:        c.Name,
		Description: c.Description,
		AvatarURL:   c.AvatarURL,
		Personality: c.Personality,
		VoiceID:     c.VoiceID,
		Specialties: c.Specialties,
		IsActive:    c.IsActive,
		CreatedAt:   c.CreatedAt,
		UpdatedAt:   c.UpdatedAt,
	}
	if resp.Specialties == nil {
		resp.Specialties = []string{}
	}
	if c.PresenterID.Valid {
		resp.PresenterID = c.PresenterID.String
	}
	return resp
}

// personaToCompanion maps a validated persona document onto a catalog row.
func personaToCompanion(p *persona.Persona) *store.Companion {
	c := &store.Companion{
		ID:          p.ID,
		Name:        p.Name,
		Description: p.Description,
		AvatarURL:   p.AvatarURL,
		Personality: p.Personality,
		VoiceID:     p.VoiceID,
		Specialties: p.Specialties,
		IsActive:    p.IsActive(),
	}
	if p.PresenterID != "" {
		c.PresenterID = sql.NullString{String: p.PresenterID, Valid: true}
	}
	return c
}

// handleCompanions handles GET /api/companions: the active catalog, ordered
// by name.
func (s *Server) handleCompanions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	companions, err := s.store.ListCompanions(r.Context(), true)
	if err != nil {
		s.logger.Error("list companions failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	resp := make([]companionResponse, 0, len(companions))
	for _, c := range companions {
		resp = append(resp, companionToResponse(c))
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleCompanion dispatches GET /api/companions/{id} and
// POST /api/companions/sync.
func (s *Server) handleCompanion(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(r.URL.Path, "/api/companions/")
	if name == "" || strings.Contains(name, "/") {
		http.NotFound(w, r)
		return
	}

	if name == "sync" {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		s.syncCatalog(w, r)
		return
	}

	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	companion, err := s.store.GetCompanion(r.Context(), name)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "companion not found")
		return
	}
	if err != nil {
		s.logger.Error("get companion failed", "companion_id", name, "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, companionToResponse(companion))
}

// syncResponse is the JSON body returned by POST /api/companions/sync.
type syncResponse struct {
	Synced  int `json:"synced"`
	Skipped int `json:"skipped"`
}

// syncCatalog fetches the persona catalog and upserts every entry that
// passes schema validation. Invalid entries are vendor data, not operator
// error, so they are skipped and counted rather than failing the sync.
func (s *Server) syncCatalog(w http.ResponseWriter, r *http.Request) {
	if s.cfg.CatalogURL == "" {
		writeError(w, http.StatusServiceUnavailable, "catalog sync is not configured")
		return
	}

	entries, err := s.fetchCatalog(r.Context())
	if err != nil {
		s.logger.Error("catalog fetch failed", "url", s.cfg.CatalogURL, "err", err)
		writeError(w, http.StatusBadGateway, "catalog fetch failed")
		return
	}

	var synced, skipped int
	for _, raw := range entries {
		p, err := persona.ParseCatalogEntry(raw)
		if err != nil {
			s.logger.Warn("skipping invalid catalog entry", "err", err)
			skipped++
			continue
		}
		if err := s.store.UpsertCompanion(r.Context(), personaToCompanion(p)); err != nil {
			s.logger.Error("upsert companion failed", "companion_id", p.ID, "err", err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		synced++
	}

	s.logger.Info("catalog synced", "synced", synced, "skipped", skipped)
	writeJSON(w, http.StatusOK, syncResponse{Synced: synced, Skipped: skipped})
}

// fetchCatalog GETs the catalog URL with retries and returns the raw
// entries. The catalog body is a JSON array of persona objects.
func (s *Server) fetchCatalog(ctx context.Context) ([]json.RawMessage, error) {
	var entries []json.RawMessage

	err := retry.Do(ctx, s.cfg.Retry, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.CatalogURL, nil)
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}

		resp, err := s.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			io.Copy(io.Discard, io.LimitReader(resp.Body, 512))
			return fmt.Errorf("catalog returned %d", resp.StatusCode)
		}

		entries = entries[:0]
		if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
			return fmt.Errorf("decode catalog: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// SeedCompanions loads persona YAML seed files from fsys and upserts each
// into the catalog. The application calls this at startup when the catalog
// is empty, so a fresh deployment is usable before the first sync.
func (s *Server) SeedCompanions(ctx context.Context, fsys fs.FS) (int, error) {
	personas, err := persona.LoadDir(fsys)
	if err != nil {
		return 0, fmt.Errorf("web: load persona seeds: %w", err)
	}

	for i, p := range personas {
		if err := s.store.UpsertCompanion(ctx, personaToCompanion(p)); err != nil {
			return i, fmt.Errorf("web: seed companion %s: %w", p.ID, err)
		}
	}

	s.logger.Info("companion seeds loaded", "count", len(personas))
	return len(personas), nil
}
