// Package app wires the call backend together: store, memory, completion
// provider, signaling, orchestrator and the HTTP surfaces.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/kokoro-labs/kokoro/internal/kokoro/ai"
	"github.com/kokoro-labs/kokoro/internal/kokoro/dstream"
	"github.com/kokoro-labs/kokoro/internal/kokoro/memory"
	"github.com/kokoro-labs/kokoro/internal/kokoro/orchestrator"
	sig "github.com/kokoro-labs/kokoro/internal/kokoro/signal"
	"github.com/kokoro-labs/kokoro/internal/kokoro/store"
	"github.com/kokoro-labs/kokoro/internal/kokoro/web"
)

// DefaultSweepInterval is how often expired rooms are swept.
const DefaultSweepInterval = time.Minute

// Config holds application configuration.
type Config struct {
	DatabasePath string

	// HTTPAddr is the TCP address every HTTP surface listens on (e.g.
	// ":8000"): health, REST API, stream relay and the signaling socket.
	HTTPAddr string

	// Gemini configures the completion provider. The API key is required.
	Gemini ai.GeminiConfig

	// MemoryBackend selects the cross-call memory backend: "bounded"
	// (default, in-process) or "remote" (external memory service).
	MemoryBackend string
	// MemoryURL is the remote memory service root. Required when
	// MemoryBackend is "remote".
	MemoryURL string
	// MemoryAPIKey authenticates against the remote memory service.
	MemoryAPIKey string

	// StreamAPIKey enables the talking-head stream relay. When empty the
	// /api/stream routes answer 503.
	StreamAPIKey string
	// StreamBaseURL overrides the stream provider endpoint (tests).
	StreamBaseURL string

	// CatalogURL is the persona catalog used by POST /api/companions/sync.
	CatalogURL string

	// PersonasDir is a directory of persona YAML seed files loaded at
	// startup when the companion catalog is empty.
	PersonasDir string

	// TURN relay offered to browsers alongside the STUN defaults.
	TURNURLs     []string
	TURNUsername string
	TURNPassword string
	// ICEServersFile optionally names a YAML file with extra ICE servers.
	ICEServersFile string

	// SweepInterval is how often expired rooms are ended. Defaults to
	// DefaultSweepInterval when zero.
	SweepInterval time.Duration
}

// App is the assembled call backend.
type App struct {
	config       *Config
	store        *store.Store
	registry     *sig.Registry
	signalServer *sig.Server
	webServer    *web.Server
	healthServer *HealthServer
}

// New creates the application: it opens the database, selects the memory
// backend, builds the conversation pipeline and mounts every HTTP surface
// on the health server.
func New(config *Config) (*App, error) {
	slog.Info("opening database", "path", config.DatabasePath)
	st, err := store.New(config.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	memoryProvider, err := buildMemoryProvider(config)
	if err != nil {
		st.Close()
		return nil, err
	}

	provider := ai.NewGemini(config.Gemini)

	registry := sig.NewRegistry(slog.Default())
	relay := sig.NewRelay(registry, st, slog.Default())
	orch := orchestrator.New(st, memoryProvider, provider, registry, slog.Default())
	signalServer := sig.NewServer(registry, relay, orch, slog.Default())

	var streamClient *dstream.Client
	if config.StreamAPIKey != "" {
		streamClient = dstream.New(dstream.Config{
			APIKey:  config.StreamAPIKey,
			BaseURL: config.StreamBaseURL,
		})
		slog.Info("talking-head stream relay ready")
	} else {
		slog.Info("no stream API key configured; stream relay disabled")
	}

	webServer, err := web.New(st, streamClient, web.Config{
		CatalogURL: config.CatalogURL,
		ICE: web.ICEConfig{
			TURNURLs:     config.TURNURLs,
			TURNUsername: config.TURNUsername,
			TURNPassword: config.TURNPassword,
			ExtraFile:    config.ICEServersFile,
		},
	}, slog.Default())
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("failed to initialize REST server: %w", err)
	}

	// Seed the companion catalog from YAML when it is empty so a fresh
	// deployment is usable before the first catalog sync.
	if config.PersonasDir != "" {
		seedCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		count, err := st.CompanionCount(seedCtx)
		switch {
		case err != nil:
			slog.Warn("could not check companion catalog; skipping seeds", "err", err)
		case count > 0:
			slog.Info("companion catalog already populated; skipping seeds", "count", count)
		default:
			if n, err := webServer.SeedCompanions(seedCtx, os.DirFS(config.PersonasDir)); err != nil {
				slog.Warn("companion seed load failed", "dir", config.PersonasDir, "err", err)
			} else {
				slog.Info("companion catalog seeded", "dir", config.PersonasDir, "count", n)
			}
		}
		cancel()
	}

	healthServer := NewHealthServer(config.HTTPAddr, st, registry)
	signalServer.RegisterRoutes(healthServer)
	webServer.RegisterRoutes(healthServer)
	slog.Info("http surfaces mounted", "addr", config.HTTPAddr)

	return &App{
		config:       config,
		store:        st,
		registry:     registry,
		signalServer: signalServer,
		webServer:    webServer,
		healthServer: healthServer,
	}, nil
}

// buildMemoryProvider selects the memory backend from configuration, never
// from runtime presence detection.
func buildMemoryProvider(config *Config) (memory.ContextProvider, error) {
	switch strings.ToLower(config.MemoryBackend) {
	case "", "bounded":
		slog.Info("memory backend: bounded (in-process)")
		return memory.NewBoundedProvider(0), nil
	case "remote":
		if config.MemoryURL == "" {
			return nil, fmt.Errorf("memory backend %q requires a memory URL", config.MemoryBackend)
		}
		slog.Info("memory backend: remote", "url", config.MemoryURL)
		return memory.NewRemoteProvider(memory.RemoteConfig{
			BaseURL: config.MemoryURL,
			APIKey:  config.MemoryAPIKey,
		}, slog.Default()), nil
	default:
		return nil, fmt.Errorf("unknown memory backend %q (want bounded or remote)", config.MemoryBackend)
	}
}

// Run starts the application and blocks until an interrupt signal arrives.
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := a.healthServer.Start(ctx); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	go a.runRoomSweeper(ctx)

	slog.Info("kokoro is running; press Ctrl+C to stop")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	slog.Info("shutting down")
	return nil
}

// runRoomSweeper periodically ends rooms whose expiry has passed, so
// abandoned calls do not stay joinable forever.
func (a *App) runRoomSweeper(ctx context.Context) {
	interval := a.config.SweepInterval
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := a.store.EndExpiredRooms(ctx, time.Now().UTC())
			if err != nil {
				slog.Warn("room expiry sweep failed", "err", err)
				continue
			}
			if n > 0 {
				slog.Info("expired rooms ended", "count", n)
			}
		}
	}
}

// Stop stops the application.
func (a *App) Stop() {
	slog.Info("stopping http server")
	a.healthServer.Stop()

	slog.Info("closing database")
	a.store.Close()
}
