// Package app wires all streamintel subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates (without dialing out)
// every client, the correlator, the RAG orchestrator, and the HTTP surface;
// Run connects and drives the WebSocket connections and the HTTP listener until the context
// is cancelled; Shutdown tears everything down in order.
//
// For testing, inject test doubles via functional options (WithCorrelator,
// WithRAGHandler, etc.). When an option is not provided, New builds the real
// implementation from cfg.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/streamintel/internal/activityclient"
	"github.com/MrWong99/streamintel/internal/config"
	"github.com/MrWong99/streamintel/internal/contextclient"
	"github.com/MrWong99/streamintel/internal/contextstore/localcache"
	"github.com/MrWong99/streamintel/internal/correlator"
	"github.com/MrWong99/streamintel/internal/egress/phoenix"
	"github.com/MrWong99/streamintel/internal/httpapi"
	"github.com/MrWong99/streamintel/internal/ingest/events"
	"github.com/MrWong99/streamintel/internal/ingest/transcription"
	"github.com/MrWong99/streamintel/internal/llmclient"
	"github.com/MrWong99/streamintel/internal/observe"
	"github.com/MrWong99/streamintel/internal/rag"
	"github.com/MrWong99/streamintel/internal/ratelimit"
	"github.com/MrWong99/streamintel/internal/vocabclient"
	"github.com/MrWong99/streamintel/internal/wsclient"
	"github.com/MrWong99/streamintel/pkg/types"
	"github.com/redis/go-redis/v9"
)

// App owns every subsystem's lifetime and drives the stream-intelligence
// pipeline end to end.
type App struct {
	cfg *config.Config

	metrics      *observe.Metrics
	otelShutdown func(context.Context) error

	llm            *llmclient.Client
	contextClient  *contextclient.Client
	vocabClient    *vocabclient.Client
	activityClient *activityclient.Client

	localcache *localcache.Store

	correlator *correlator.Correlator
	ragHandler *rag.Handler

	transcriptionIngest *wsclient.Client
	eventsIngest        *wsclient.Client
	transcriptionEgress *wsclient.Client
	egressClient        *phoenix.Client

	httpServer *httpapi.Server

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithCorrelator injects a correlator instead of building one from config.
func WithCorrelator(c *correlator.Correlator) Option {
	return func(a *App) { a.correlator = c }
}

// WithRAGHandler injects a RAG handler instead of building one from config.
func WithRAGHandler(h *rag.Handler) Option {
	return func(a *App) { a.ragHandler = h }
}

// WithMetrics injects a metrics instance instead of initialising OTel.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// New wires every subsystem together and performs all initialisation
// synchronously: observability, HTTP clients, optional local replay mirror,
// the correlator, the RAG orchestrator, the resilient WebSocket connections,
// and the HTTP API server. Use Option functions to inject test doubles for
// any subsystem.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}

	if err := a.initObserve(ctx); err != nil {
		return nil, fmt.Errorf("app: init observability: %w", err)
	}

	llmLimiter, vocabLimiter, err := a.initRateLimiters()
	if err != nil {
		return nil, fmt.Errorf("app: init rate limiters: %w", err)
	}

	if err := a.initClients(llmLimiter, vocabLimiter); err != nil {
		return nil, fmt.Errorf("app: init clients: %w", err)
	}

	if err := a.initSemanticIndex(ctx); err != nil {
		return nil, fmt.Errorf("app: init semantic index: %w", err)
	}

	if err := a.initLocalCache(ctx); err != nil {
		return nil, fmt.Errorf("app: init local cache: %w", err)
	}

	if err := a.initCorrelator(); err != nil {
		return nil, fmt.Errorf("app: init correlator: %w", err)
	}

	if err := a.initRAG(); err != nil {
		return nil, fmt.Errorf("app: init rag: %w", err)
	}

	a.initConnections()

	a.initHTTP()

	return a, nil
}

// initObserve sets up the OTel SDK (Prometheus metrics bridge + tracer
// provider) and constructs the shared [observe.Metrics] instance, unless a
// [Metrics] instance was injected via [WithMetrics].
func (a *App) initObserve(ctx context.Context) error {
	if a.metrics != nil {
		return nil
	}

	shutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "streamintel"})
	if err != nil {
		return err
	}
	a.otelShutdown = shutdown
	a.closers = append(a.closers, func() error {
		return a.otelShutdown(context.Background())
	})

	a.metrics = observe.DefaultMetrics()
	return nil
}

// initRateLimiters builds the LLM and Vocabulary rate limiters. When
// cfg.Redis.Addr is set, both are backed by the distributed Redis sliding
// window; otherwise each client falls back to its own in-process limiter
// (the vocabulary client builds its own when passed nil).
func (a *App) initRateLimiters() (llm ratelimit.Limiter, vocab ratelimit.Limiter, err error) {
	if a.cfg.Redis.Addr == "" {
		return ratelimit.NewLocal(ratelimit.Config{
			Requests: a.cfg.LLM.RateLimitRequests,
			Window:   a.cfg.LLM.RateLimitWindow,
		}), nil, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     a.cfg.Redis.Addr,
		Password: a.cfg.Redis.Password,
		DB:       a.cfg.Redis.DB,
	})
	a.closers = append(a.closers, client.Close)

	llm = ratelimit.NewRedis(client, "llmclient", ratelimit.Config{
		Requests: a.cfg.LLM.RateLimitRequests,
		Window:   a.cfg.LLM.RateLimitWindow,
	})
	vocab = ratelimit.NewRedis(client, "vocabclient", ratelimit.Config{
		Requests: a.cfg.Vocabulary.RateLimitRequests,
		Window:   a.cfg.Vocabulary.RateLimitWindow,
		MaxWait:  a.cfg.Vocabulary.RateLimitMaxWait,
	})
	return llm, vocab, nil
}

// initClients constructs the four upstream HTTP/LLM clients. Each client's
// circuit breaker is wired to record a trip via metrics.
func (a *App) initClients(llmLimiter, vocabLimiter ratelimit.Limiter) error {
	onTrip := func(name string) func(string) {
		return func(breaker string) {
			slog.Warn("circuit breaker tripped", "client", name, "breaker", breaker)
			a.metrics.RecordCircuitBreakerTrip(context.Background(), breaker)
		}
	}

	llm, err := llmclient.New(llmclient.Config{
		BaseURL:             a.cfg.LLM.BaseURL,
		APIKey:              a.cfg.LLM.APIKey,
		Model:               a.cfg.LLM.Model,
		MaxRetries:          a.cfg.LLM.MaxRetries,
		Timeout:             a.cfg.LLM.Timeout,
		AnalysisTemperature: a.cfg.LLM.AnalysisTemperature,
		AnalysisMaxTokens:   a.cfg.LLM.AnalysisMaxTokens,
		RAGTemperature:      a.cfg.LLM.RAGTemperature,
		RAGTopP:             a.cfg.LLM.RAGTopP,
		RAGMaxTokens:        a.cfg.LLM.RAGMaxTokens,
		CircuitThreshold:    a.cfg.LLM.CircuitThreshold,
		CircuitTimeout:      a.cfg.LLM.CircuitTimeout,
	}, llmLimiter, onTrip("llmclient"))
	if err != nil {
		return fmt.Errorf("llmclient: %w", err)
	}
	a.llm = llm

	cx, err := contextclient.New(contextclient.Config{
		BaseURL:          a.cfg.Context.BaseURL,
		Timeout:          a.cfg.Context.Timeout,
		CircuitThreshold: a.cfg.Context.CircuitThreshold,
		CircuitTimeout:   a.cfg.Context.CircuitTimeout,
	}, onTrip("contextclient"))
	if err != nil {
		return fmt.Errorf("contextclient: %w", err)
	}
	a.contextClient = cx

	vocab, err := vocabclient.New(vocabclient.Config{
		BaseURL:           a.cfg.Vocabulary.BaseURL,
		Timeout:           a.cfg.Vocabulary.Timeout,
		CacheSize:         a.cfg.Vocabulary.CacheSize,
		CacheTTL:          a.cfg.Vocabulary.CacheTTL,
		RateLimitRequests: a.cfg.Vocabulary.RateLimitRequests,
		RateLimitWindow:   a.cfg.Vocabulary.RateLimitWindow,
		RateLimitMaxWait:  a.cfg.Vocabulary.RateLimitMaxWait,
		CircuitThreshold:  a.cfg.Vocabulary.CircuitThreshold,
		CircuitTimeout:    a.cfg.Vocabulary.CircuitTimeout,
	}, vocabLimiter, onTrip("vocabclient"))
	if err != nil {
		return fmt.Errorf("vocabclient: %w", err)
	}
	a.vocabClient = vocab

	activity, err := activityclient.New(activityclient.Config{
		BaseURL:          a.cfg.RAG.ServerURL,
		Timeout:          a.cfg.RAG.RequestTimeout,
		CircuitThreshold: a.cfg.RAG.CircuitThreshold,
		CircuitTimeout:   a.cfg.RAG.CircuitTimeout,
	}, onTrip("activityclient"))
	if err != nil {
		return fmt.Errorf("activityclient: %w", err)
	}
	a.activityClient = activity

	return nil
}

// initSemanticIndex attaches a local pgvector nearest-neighbour mirror to
// the vocabulary client when a Postgres DSN is configured. Optional: the
// vocabulary client works without it, falling back entirely to plain
// keyword search.
func (a *App) initSemanticIndex(ctx context.Context) error {
	if a.cfg.Memory.PostgresDSN == "" {
		return nil
	}

	pool, err := pgxpool.New(ctx, a.cfg.Memory.PostgresDSN)
	if err != nil {
		return fmt.Errorf("vocabulary semantic index: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return fmt.Errorf("vocabulary semantic index: ping: %w", err)
	}
	a.closers = append(a.closers, func() error {
		pool.Close()
		return nil
	})

	a.vocabClient.SetSemanticIndex(vocabclient.NewSemanticIndex(pool))
	return nil
}

// initLocalCache connects the optional local context-replay mirror when a
// Postgres DSN is configured.
func (a *App) initLocalCache(ctx context.Context) error {
	if a.cfg.Memory.PostgresDSN == "" {
		return nil
	}

	store, err := localcache.New(ctx, a.cfg.Memory.PostgresDSN)
	if err != nil {
		return err
	}
	a.localcache = store
	a.closers = append(a.closers, store.Close)
	return nil
}

// initCorrelator builds the correlator, unless one was injected via
// [WithCorrelator], and wires the local replay mirror into its
// context-sealed callback.
func (a *App) initCorrelator() error {
	if a.correlator != nil {
		return nil
	}

	c, err := correlator.New(correlator.Config{
		WindowSize:        a.cfg.Correlator.WindowSize,
		AnalysisInterval:  a.cfg.Correlator.AnalysisInterval,
		AnalysisCooldown:  a.cfg.Correlator.AnalysisCooldown,
		CorrelationWindow: a.cfg.Correlator.CorrelationWindow,
		RetentionWindow:   a.cfg.Correlator.RetentionWindow,
		MaxBufferSize:     a.cfg.Correlator.MaxBufferSize,
		Timezone:          a.cfg.Correlator.Timezone,
	}, a.llm, a.contextClient)
	if err != nil {
		return err
	}
	a.correlator = c

	if a.localcache != nil {
		a.correlator.OnContextSealed(a.localcache.MirrorAsync)
	}
	return nil
}

// initRAG builds the RAG orchestrator, unless one was injected via
// [WithRAGHandler].
func (a *App) initRAG() error {
	if a.ragHandler != nil {
		return nil
	}

	h, err := rag.New(a.activityClient, a.contextClient, a.vocabClient, a.llm, a.cfg.RAG.StreamerIdentity)
	if err != nil {
		return err
	}
	a.ragHandler = h
	return nil
}

// initConnections builds the three resilient WebSocket connections: the
// transcription and event ingest clients (feeding the correlator) and the
// transcription egress client (republishing every ingested transcription
// fragment onward per spec §6).
func (a *App) initConnections() {
	loc := time.UTC
	if z, err := time.LoadLocation(a.cfg.Correlator.Timezone); err == nil {
		loc = z
	}

	a.egressClient = phoenix.New(a.cfg.Egress.URL, a.cfg.Egress.SourceID, a.cfg.Egress.StreamSessionID, a.cfg.Egress.Language, loc)
	a.transcriptionEgress = a.newWSClient("egress.transcription", a.egressClient)

	sink := &forwardingSink{correlator: a.correlator, egress: a.egressClient}
	transcriptionClient := transcription.New(a.cfg.Ingest.TranscriptionURL, sink)
	a.transcriptionIngest = a.newWSClient("ingest.transcription", transcriptionClient)

	eventsClient := events.New(a.cfg.Ingest.EventsURL, a.correlator, a.cfg.Ingest.ChannelEmotePrefix)
	a.eventsIngest = a.newWSClient("ingest.events", eventsClient)
}

// newWSClient wraps hooks in a [wsclient.Client] using the shared WebSocket
// tuning config, with the circuit breaker wired to metrics.
func (a *App) newWSClient(name string, hooks wsclient.Hooks) *wsclient.Client {
	return wsclient.New(wsclient.Config{
		Name:              name,
		ReconnectBase:     a.cfg.WebSocket.ReconnectBase,
		ReconnectCap:      a.cfg.WebSocket.ReconnectCap,
		MaxAttempts:       a.cfg.WebSocket.MaxAttempts,
		CircuitThreshold:  a.cfg.WebSocket.CircuitThreshold,
		CircuitTimeout:    a.cfg.WebSocket.CircuitTimeout,
		HeartbeatInterval: a.cfg.WebSocket.HeartbeatInterval,
		OnCircuitTrip: func(breaker string) {
			slog.Warn("circuit breaker tripped", "client", name, "breaker", breaker)
			a.metrics.RecordCircuitBreakerTrip(context.Background(), breaker)
		},
	}, hooks)
}

// initHTTP builds the HTTP API server exposing /health, /status, /metrics,
// and the RAG debug endpoint.
func (a *App) initHTTP() {
	a.httpServer = httpapi.New(httpapi.Config{
		ServiceName: "streamintel",
		Buffers:     a.correlator,
		Connections: []httpapi.Connection{
			{Name: "ingest.transcription", Client: a.transcriptionIngest},
			{Name: "ingest.events", Client: a.eventsIngest},
			{Name: "egress.transcription", Client: a.transcriptionEgress},
		},
		RAG:     a.ragHandler,
		Metrics: a.metrics,
	})
}

// forwardingSink implements [transcription.Sink]: it feeds every decoded
// transcription fragment to the correlator and republishes it to the
// transcription egress client, per spec §6's producer-side contract. A
// republish failure is logged and never blocks ingest or the correlator.
type forwardingSink struct {
	correlator *correlator.Correlator
	egress     *phoenix.Client
}

func (s *forwardingSink) AddTranscription(ctx context.Context, t types.Transcription) {
	s.correlator.AddTranscription(ctx, t)

	if err := s.egress.Submit(ctx, t.TimestampUs, t.DurationSeconds, t.Text, t.Confidence); err != nil {
		slog.Warn("egress: failed to republish transcription", "error", err)
	}
}

// ─── Run ─────────────────────────────────────────────────────────────────

// Run starts every background subsystem — the three resilient WebSocket
// connections, the correlator's periodic analysis tick, and the HTTP
// listener — and blocks until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	var wg sync.WaitGroup

	wg.Go(func() { a.runWSClient(ctx, "ingest.transcription", a.transcriptionIngest) })
	wg.Go(func() { a.runWSClient(ctx, "ingest.events", a.eventsIngest) })
	wg.Go(func() { a.runWSClient(ctx, "egress.transcription", a.transcriptionEgress) })

	wg.Go(func() {
		if err := a.correlator.Run(ctx); err != nil {
			slog.Error("correlator stopped with error", "error", err)
		}
	})

	wg.Go(func() {
		if err := a.httpServer.ListenAndServe(ctx, a.cfg.Server.ListenAddr); err != nil {
			slog.Error("http server stopped with error", "error", err)
		}
	})

	slog.Info("app running", "listen_addr", a.cfg.Server.ListenAddr)
	<-ctx.Done()

	wg.Wait()
	return ctx.Err()
}

// runWSClient drives a resilient WebSocket connection's reconnect loop until
// ctx is cancelled, logging (rather than propagating) a terminal Run error so
// one connection failing outright never takes down the others.
func (a *App) runWSClient(ctx context.Context, name string, client *wsclient.Client) {
	if err := client.Run(ctx); err != nil && ctx.Err() == nil {
		slog.Error("websocket client stopped with error", "client", name, "error", err)
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────

// Shutdown disconnects every WebSocket connection, then runs the closer
// chain in registration order. It respects ctx's deadline: if ctx expires
// before all closers finish, remaining closers are skipped and the context
// error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		for _, client := range []*wsclient.Client{a.transcriptionIngest, a.eventsIngest, a.transcriptionEgress} {
			if client == nil {
				continue
			}
			if err := client.Disconnect(ctx); err != nil {
				slog.Warn("websocket disconnect error", "error", err)
			}
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "error", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
