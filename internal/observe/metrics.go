// Package observe provides application-wide observability primitives for
// streamintel: OpenTelemetry metrics, distributed tracing, structured
// logging, and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all streamintel metrics.
const meterName = "github.com/MrWong99/streamintel"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// LLMDuration tracks LLM analysis/RAG call latency.
	LLMDuration metric.Float64Histogram

	// ContextClientDuration tracks Context HTTP client request latency.
	ContextClientDuration metric.Float64Histogram

	// VocabularyClientDuration tracks Vocabulary HTTP client request latency.
	VocabularyClientDuration metric.Float64Histogram

	// CorrelationAnalysisDuration tracks one run of the correlator's analysis.
	CorrelationAnalysisDuration metric.Float64Histogram

	// RAGQueryDuration tracks end-to-end RAG orchestration latency.
	RAGQueryDuration metric.Float64Histogram

	// --- Counters ---

	// WSReconnects counts reconnect attempts per WebSocket client. Use with
	// attribute: attribute.String("client", ...).
	WSReconnects metric.Int64Counter

	// WSMessagesReceived counts inbound WebSocket frames. Use with
	// attribute.String("client", ...).
	WSMessagesReceived metric.Int64Counter

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// TranscriptionsProcessed counts transcription fragments ingested.
	TranscriptionsProcessed metric.Int64Counter

	// ChatMessagesProcessed counts chat messages ingested.
	ChatMessagesProcessed metric.Int64Counter

	// RAGQueries counts RAG orchestration requests. Use with attribute:
	//   attribute.String("intent", ...), attribute.String("status", ...)
	RAGQueries metric.Int64Counter

	// --- Error counters ---

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// CircuitBreakerTrips counts circuit-breaker state transitions into Open.
	// Use with attribute.String("client", ...).
	CircuitBreakerTrips metric.Int64Counter

	// --- Gauges ---

	// ActiveWSConnections tracks the number of currently connected WebSocket
	// clients (transcription ingest, event ingest, egress).
	ActiveWSConnections metric.Int64UpDownCounter

	// BufferedEvents tracks the number of events currently held across the
	// correlator's bounded buffers.
	BufferedEvents metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for the mix of sub-second HTTP calls and multi-second LLM/RAG round trips
// in this pipeline.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.LLMDuration, err = m.Float64Histogram("streamintel.llm.duration",
		metric.WithDescription("Latency of LLM analysis and RAG calls."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ContextClientDuration, err = m.Float64Histogram("streamintel.context_client.duration",
		metric.WithDescription("Latency of Context HTTP client requests."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.VocabularyClientDuration, err = m.Float64Histogram("streamintel.vocabulary_client.duration",
		metric.WithDescription("Latency of Vocabulary HTTP client requests."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.CorrelationAnalysisDuration, err = m.Float64Histogram("streamintel.correlation.analysis.duration",
		metric.WithDescription("Duration of a single stream-correlator analysis run."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.RAGQueryDuration, err = m.Float64Histogram("streamintel.rag.query.duration",
		metric.WithDescription("End-to-end RAG orchestration latency."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.WSReconnects, err = m.Int64Counter("streamintel.ws.reconnects",
		metric.WithDescription("Total WebSocket reconnect attempts by client."),
	); err != nil {
		return nil, err
	}
	if met.WSMessagesReceived, err = m.Int64Counter("streamintel.ws.messages_received",
		metric.WithDescription("Total inbound WebSocket frames by client."),
	); err != nil {
		return nil, err
	}
	if met.ProviderRequests, err = m.Int64Counter("streamintel.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.TranscriptionsProcessed, err = m.Int64Counter("streamintel.transcriptions.processed",
		metric.WithDescription("Total transcription fragments ingested."),
	); err != nil {
		return nil, err
	}
	if met.ChatMessagesProcessed, err = m.Int64Counter("streamintel.chat_messages.processed",
		metric.WithDescription("Total chat messages ingested."),
	); err != nil {
		return nil, err
	}
	if met.RAGQueries, err = m.Int64Counter("streamintel.rag.queries",
		metric.WithDescription("Total RAG orchestration requests by intent and status."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.ProviderErrors, err = m.Int64Counter("streamintel.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}
	if met.CircuitBreakerTrips, err = m.Int64Counter("streamintel.circuit_breaker.trips",
		metric.WithDescription("Total circuit breaker transitions into the open state, by client."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveWSConnections, err = m.Int64UpDownCounter("streamintel.ws.active_connections",
		metric.WithDescription("Number of currently connected WebSocket clients."),
	); err != nil {
		return nil, err
	}
	if met.BufferedEvents, err = m.Int64UpDownCounter("streamintel.correlator.buffered_events",
		metric.WithDescription("Number of events currently held across the correlator's bounded buffers."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("streamintel.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordProviderRequest is a convenience method that records a provider
// request counter increment with the standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError is a convenience method that records a provider error
// counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordWSReconnect is a convenience method that records a WebSocket
// reconnect attempt for the named client.
func (m *Metrics) RecordWSReconnect(ctx context.Context, client string) {
	m.WSReconnects.Add(ctx, 1, metric.WithAttributes(attribute.String("client", client)))
}

// RecordCircuitBreakerTrip is a convenience method that records a
// circuit-breaker transition into the open state for the named client.
func (m *Metrics) RecordCircuitBreakerTrip(ctx context.Context, client string) {
	m.CircuitBreakerTrips.Add(ctx, 1, metric.WithAttributes(attribute.String("client", client)))
}

// RecordRAGQuery is a convenience method that records a RAG orchestration
// request with its routed intent and completion status.
func (m *Metrics) RecordRAGQuery(ctx context.Context, intent, status string) {
	m.RAGQueries.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("intent", intent),
			attribute.String("status", status),
		),
	)
}

// RecordHTTPRequest is a convenience method for HTTP frameworks (e.g. gin)
// that don't go through [Middleware] directly.
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, path string, duration time.Duration) {
	m.HTTPRequestDuration.Record(ctx, duration.Seconds(),
		metric.WithAttributes(
			attribute.String("method", method),
			attribute.String("path", path),
		),
	)
}
