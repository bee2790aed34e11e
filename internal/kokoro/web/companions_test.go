package web

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"testing/fstest"

	"github.com/kokoro-labs/kokoro/internal/kokoro/store"
)

func seedCompanion(t *testing.T, env *testEnv, id, name string, active bool) {
	t.Helper()
	err := env.store.UpsertCompanion(context.Background(), &store.Companion{
		ID:          id,
		Name:        name,
		Personality: "warm",
		Specialties: []string{"astronomy"},
		IsActive:    active,
	})
	if err != nil {
		t.Fatalf("failed to seed companion: %v", err)
	}
}

func TestListCompanions_ActiveOnly(t *testing.T) {
	env := newTestEnv(t, Config{})
	seedCompanion(t, env, "luna", "Luna", true)
	seedCompanion(t, env, "kai", "Kai", true)
	seedCompanion(t, env, "retired", "Retired", false)

	rr := env.do(t, http.MethodGet, "/api/companions", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d", rr.Code)
	}

	var resp []companionResponse
	decodeInto(t, rr, &resp)

	if len(resp) != 2 {
		t.Fatalf("companions: got %d, want 2 active", len(resp))
	}
	// ListCompanions orders by name.
	if resp[0].ID != "kai" || resp[1].ID != "luna" {
		t.Errorf("order: got %s, %s", resp[0].ID, resp[1].ID)
	}
}

func TestGetCompanion(t *testing.T) {
	env := newTestEnv(t, Config{})
	seedCompanion(t, env, "luna", "Luna", true)

	rr := env.do(t, http.MethodGet, "/api/companions/luna", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d", rr.Code)
	}
	var resp companionResponse
	decodeInto(t, rr, &resp)
	if resp.Name != "Luna" || resp.Specialties[0] != "astronomy" {
		t.Errorf("companion: %+v", resp)
	}

	if rr := env.do(t, http.MethodGet, "/api/companions/nope", "", nil); rr.Code != http.StatusNotFound {
		t.Errorf("missing companion: got %d, want 404", rr.Code)
	}
}

func TestSyncCatalog(t *testing.T) {
	catalog := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[
			{"name": "Luna", "personality": "warm", "voice_id": "en-US-JennyNeural", "specialties": ["astronomy"]},
			{"name": "Kai", "presenter_id": "amy-jcwCkr1grs", "vendor_extra": 42},
			{"description": "no name, fails the schema"}
		]`))
	}))
	defer catalog.Close()

	env := newTestEnv(t, Config{CatalogURL: catalog.URL, Retry: fastRetry()})

	rr := env.do(t, http.MethodPost, "/api/companions/sync", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, body %s", rr.Code, rr.Body.String())
	}

	var resp syncResponse
	decodeInto(t, rr, &resp)
	if resp.Synced != 2 || resp.Skipped != 1 {
		t.Errorf("sync counts: %+v", resp)
	}

	luna, err := env.store.GetCompanion(context.Background(), "luna")
	if err != nil {
		t.Fatalf("luna was not upserted: %v", err)
	}
	if luna.VoiceID != "en-US-JennyNeural" || !luna.IsActive {
		t.Errorf("luna: %+v", luna)
	}
	kai, err := env.store.GetCompanion(context.Background(), "kai")
	if err != nil {
		t.Fatalf("kai was not upserted: %v", err)
	}
	if !kai.PresenterID.Valid || kai.PresenterID.String != "amy-jcwCkr1grs" {
		t.Errorf("kai presenter: %+v", kai.PresenterID)
	}
}

func TestSyncCatalog_ResyncDoesNotDuplicate(t *testing.T) {
	catalog := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"name": "Luna"}]`))
	}))
	defer catalog.Close()

	env := newTestEnv(t, Config{CatalogURL: catalog.URL, Retry: fastRetry()})

	for i := 0; i < 2; i++ {
		if rr := env.do(t, http.MethodPost, "/api/companions/sync", "", nil); rr.Code != http.StatusOK {
			t.Fatalf("sync %d: got %d", i, rr.Code)
		}
	}

	count, err := env.store.CompanionCount(context.Background())
	if err != nil {
		t.Fatalf("CompanionCount: %v", err)
	}
	if count != 1 {
		t.Errorf("companions after resync: got %d, want 1", count)
	}
}

func TestSyncCatalog_Unconfigured(t *testing.T) {
	env := newTestEnv(t, Config{})

	rr := env.do(t, http.MethodPost, "/api/companions/sync", "", nil)
	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("status: got %d, want 503", rr.Code)
	}
}

func TestSyncCatalog_FetchFailure(t *testing.T) {
	var calls atomic.Int32
	catalog := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer catalog.Close()

	env := newTestEnv(t, Config{CatalogURL: catalog.URL, Retry: fastRetry()})

	rr := env.do(t, http.MethodPost, "/api/companions/sync", "", nil)
	if rr.Code != http.StatusBadGateway {
		t.Errorf("status: got %d, want 502", rr.Code)
	}
	if calls.Load() != 2 {
		t.Errorf("fetch attempts: got %d, want 2", calls.Load())
	}
}

func TestSeedCompanions(t *testing.T) {
	env := newTestEnv(t, Config{})

	fsys := fstest.MapFS{
		"luna.yaml": {Data: []byte(
			"apiVersion: persona/v1\nname: Luna\npersonality: warm\nspecialties:\n  - astronomy\n")},
		"kai.yml": {Data: []byte(
			"apiVersion: persona/v1\nname: Kai\npresenterId: amy-jcwCkr1grs\n")},
		"notes.txt": {Data: []byte("ignored")},
	}

	n, err := env.srv.SeedCompanions(context.Background(), fsys)
	if err != nil {
		t.Fatalf("SeedCompanions: %v", err)
	}
	if n != 2 {
		t.Errorf("seeded: got %d, want 2", n)
	}

	luna, err := env.store.GetCompanion(context.Background(), "luna")
	if err != nil {
		t.Fatalf("luna was not seeded: %v", err)
	}
	if luna.Personality != "warm" {
		t.Errorf("luna: %+v", luna)
	}
}

func TestSeedCompanions_InvalidSeedAborts(t *testing.T) {
	env := newTestEnv(t, Config{})

	fsys := fstest.MapFS{
		"bad.yaml": {Data: []byte("name: MissingVersion\n")},
	}
	if _, err := env.srv.SeedCompanions(context.Background(), fsys); err == nil {
		t.Fatal("expected error for seed without apiVersion")
	}
}
