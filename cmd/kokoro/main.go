package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/kokoro-labs/kokoro/common/environment"
	"github.com/kokoro-labs/kokoro/common/version"
	"github.com/kokoro-labs/kokoro/internal/kokoro/ai"
	"github.com/kokoro-labs/kokoro/internal/kokoro/app"
)

func main() {
	fmt.Printf("Kokoro Call Backend\n")
	fmt.Printf("Version: %s\n", version.Version)
	fmt.Printf("Commit: %s\n", version.GitCommit)
	fmt.Printf("Build Time: %s\n", version.BuildTime)
	fmt.Println()

	setupLogging()

	config, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	kokoro, err := app.New(config)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize kokoro: %v\n", err)
		os.Exit(1)
	}
	defer kokoro.Stop()

	if err := kokoro.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error running kokoro: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig loads configuration from environment variables.
func loadConfig() (*app.Config, error) {
	geminiKey, err := environment.RequiredString("KOKORO_GEMINI_API_KEY")
	if err != nil {
		return nil, err
	}

	return &app.Config{
		DatabasePath: environment.StringOr("KOKORO_DB_PATH", "./kokoro.db"),
		HTTPAddr:     environment.StringOr("KOKORO_HTTP_ADDR", ":8000"),
		Gemini: ai.GeminiConfig{
			APIKey: geminiKey,
			Model:  environment.StringOr("KOKORO_GEMINI_MODEL", ""),
		},
		MemoryBackend:  environment.StringOr("KOKORO_MEMORY_BACKEND", "bounded"),
		MemoryURL:      environment.StringOr("KOKORO_MEMORY_URL", ""),
		MemoryAPIKey:   environment.StringOr("KOKORO_MEMORY_API_KEY", ""),
		StreamAPIKey:   environment.StringOr("KOKORO_STREAM_API_KEY", ""),
		StreamBaseURL:  environment.StringOr("KOKORO_STREAM_BASE_URL", ""),
		CatalogURL:     environment.StringOr("KOKORO_CATALOG_URL", ""),
		PersonasDir:    environment.StringOr("KOKORO_PERSONAS_DIR", ""),
		TURNURLs:       environment.StringSliceOr("KOKORO_TURN_URLS", nil),
		TURNUsername:   environment.StringOr("KOKORO_TURN_USERNAME", ""),
		TURNPassword:   environment.StringOr("KOKORO_TURN_PASSWORD", ""),
		ICEServersFile: environment.StringOr("KOKORO_ICE_SERVERS_FILE", ""),
		SweepInterval:  environment.DurationOr("KOKORO_ROOM_SWEEP_INTERVAL", 0),
	}, nil
}

// setupLogging configures the default slog logger from KOKORO_LOG_LEVEL
// (debug, info, warn, error) and KOKORO_LOG_FORMAT (text, json).
func setupLogging() {
	var level slog.Level
	switch strings.ToLower(environment.StringOr("KOKORO_LOG_LEVEL", "info")) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.ToLower(environment.StringOr("KOKORO_LOG_FORMAT", "text")) == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}
