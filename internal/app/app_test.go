package app_test

import (
	"context"
	"testing"
	"time"

	"github.com/MrWong99/streamintel/internal/app"
	"github.com/MrWong99/streamintel/internal/config"
)

// testConfig returns a minimal, fully-populated config pointing at
// unreachable local addresses — New() never dials out, so this is enough to
// exercise every wiring path without a network.
func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			ListenAddr: "127.0.0.1:0",
			LogLevel:   config.LogLevelError,
		},
		WebSocket: config.WebSocketConfig{
			ReconnectBase: 5 * time.Millisecond,
			ReconnectCap:  20 * time.Millisecond,
			MaxAttempts:   2,
		},
		Ingest: config.IngestConfig{
			TranscriptionURL:   "ws://127.0.0.1:1/transcription",
			EventsURL:          "ws://127.0.0.1:1/events",
			ChannelEmotePrefix: "avalon",
		},
		Egress: config.EgressConfig{
			URL:             "ws://127.0.0.1:1/egress",
			SourceID:        "test-source",
			StreamSessionID: "test-session",
			Language:        "en",
		},
		LLM: config.LLMConfig{
			BaseURL: "http://127.0.0.1:1",
			Model:   "test-model",
		},
		Context: config.ContextConfig{
			BaseURL: "http://127.0.0.1:1",
		},
		Vocabulary: config.VocabularyConfig{
			BaseURL: "http://127.0.0.1:1",
		},
		Correlator: config.CorrelatorConfig{
			AnalysisInterval: time.Hour,
			Timezone:         "America/Los_Angeles",
		},
		RAG: config.RAGConfig{
			ServerURL:        "http://127.0.0.1:1",
			StreamerIdentity: "the streamer",
		},
	}
}

func TestNew_WiresEverySubsystem(t *testing.T) {
	t.Parallel()

	application, err := app.New(context.Background(), testConfig())
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}
	if application == nil {
		t.Fatal("New() returned nil app")
	}
}

func TestApp_Shutdown_IsIdempotent(t *testing.T) {
	t.Parallel()

	application, err := app.New(context.Background(), testConfig())
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := application.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error: %v", err)
	}
	if err := application.Shutdown(ctx); err != nil {
		t.Fatalf("second Shutdown() call error: %v", err)
	}
}

func TestApp_RunReturnsOnContextCancel(t *testing.T) {
	t.Parallel()

	application, err := app.New(context.Background(), testConfig())
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() { errCh <- application.Run(ctx) }()

	// Let the WebSocket clients spin through a couple of failed reconnect
	// attempts before tearing down.
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if err != nil && err != context.Canceled {
			t.Fatalf("Run() returned unexpected error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return within 5s after context cancellation")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := application.Shutdown(shutdownCtx); err != nil {
		t.Fatalf("Shutdown() error: %v", err)
	}
}
