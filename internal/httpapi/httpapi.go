// Package httpapi exposes the service's HTTP surface: /health, /status,
// /metrics, and a RAG debug endpoint. Grounded on
// codeready-toolchain-tarsy's cmd/tarsy/main.go router setup (gin.Default,
// router.GET with a gin.Context handler) and internal/health/health.go's
// sequential component-checker composition style, adapted to this service's
// own /health and /status shapes (spec §6).
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/streamintel/internal/correlator"
	"github.com/MrWong99/streamintel/internal/observe"
	"github.com/MrWong99/streamintel/internal/rag"
	"github.com/MrWong99/streamintel/internal/wsclient"
)

// BufferReporter is satisfied by *[correlator.Correlator].
type BufferReporter interface {
	BufferStats() map[string]correlator.BufferStat
}

// Connection names one resilient WS client to report on /status.
type Connection struct {
	Name   string
	Client *wsclient.Client
}

// RAGQuerier is satisfied by *[rag.Handler].
type RAGQuerier interface {
	Query(ctx context.Context, question string, timeWindowHours *int) *rag.Result
}

// Server wires the HTTP API's dependencies and builds its gin router.
type Server struct {
	serviceName string
	startedAt   time.Time
	buffers     BufferReporter
	conns       []Connection
	ragHandler  RAGQuerier
	metrics     *observe.Metrics

	router *gin.Engine
}

// Config holds Server's constructor arguments.
type Config struct {
	ServiceName string
	Buffers     BufferReporter
	Connections []Connection
	RAG         RAGQuerier
	Metrics     *observe.Metrics

	// GinMode is forwarded to gin.SetMode; empty leaves gin's default
	// ("debug") in place.
	GinMode string
}

// New builds a [Server] and its gin router. The router is built eagerly so
// [Server.Router] and [Server.ListenAndServe] reflect the same routes.
func New(cfg Config) *Server {
	if cfg.GinMode != "" {
		gin.SetMode(cfg.GinMode)
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "streamintel"
	}

	s := &Server{
		serviceName: cfg.ServiceName,
		startedAt:   time.Now(),
		buffers:     cfg.Buffers,
		conns:       cfg.Connections,
		ragHandler:  cfg.RAG,
		metrics:     cfg.Metrics,
	}

	router := gin.New()
	router.Use(gin.Recovery())
	if cfg.Metrics != nil {
		router.Use(ginMiddleware(cfg.Metrics))
	}

	router.GET("/health", s.handleHealth)
	router.GET("/status", s.handleStatus)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.POST("/rag/query", s.handleRAGQuery)

	s.router = router
	return s
}

// Router returns the underlying [gin.Engine], e.g. for tests with
// httptest.NewServer(s.Router()).
func (s *Server) Router() *gin.Engine {
	return s.router
}

// ListenAndServe serves the router on addr until ctx is cancelled or the
// server errors. It shuts the underlying http.Server down gracefully on
// cancellation.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.router}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// ginMiddleware records request duration to [observe.Metrics], mirroring the
// accounting [observe.Middleware] does for the plain net/http services.
func ginMiddleware(m *observe.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		m.RecordHTTPRequest(c.Request.Context(), c.Request.Method, c.FullPath(), time.Since(start))
	}
}
