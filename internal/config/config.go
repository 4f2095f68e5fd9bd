// Package config provides the configuration schema, loader, and environment
// overlay for the stream-intelligence service.
package config

import "time"

// LogLevel is a validated logging verbosity level.
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// IsValid reports whether l is one of the defined [LogLevel] values. An empty
// LogLevel is considered valid (callers default it to [LogLevelInfo]).
func (l LogLevel) IsValid() bool {
	switch l {
	case "", LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError:
		return true
	}
	return false
}

// Config is the root configuration structure for the stream-intelligence
// service. It is typically loaded from a YAML file via [Load] and then
// overlaid with environment variables via [ApplyEnv].
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	WebSocket  WebSocketConfig  `yaml:"websocket"`
	Ingest     IngestConfig     `yaml:"ingest"`
	Egress     EgressConfig     `yaml:"egress"`
	LLM        LLMConfig        `yaml:"llm"`
	Context    ContextConfig    `yaml:"context"`
	Vocabulary VocabularyConfig `yaml:"vocabulary"`
	Correlator CorrelatorConfig `yaml:"correlator"`
	RAG        RAGConfig        `yaml:"rag"`
	Memory     MemoryConfig     `yaml:"memory"`
	Redis      RedisConfig      `yaml:"redis"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the HTTP surface (/health, /status,
	// /metrics) listens on, e.g. ":8080".
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// WebSocketConfig holds the default tuning knobs for every [wsclient]-based
// connection (transcription ingest, event ingest, transcription egress).
// internal/app copies the same values into every client's wsclient.Config.
type WebSocketConfig struct {
	// ReconnectBase is the initial backoff delay. Default 1s.
	ReconnectBase time.Duration `yaml:"reconnect_base"`

	// ReconnectCap is the maximum backoff delay. Default 60s.
	ReconnectCap time.Duration `yaml:"reconnect_cap"`

	// MaxAttempts is the number of reconnect attempts before the client
	// transitions to Failed. Default 10.
	MaxAttempts int `yaml:"max_attempts"`

	// CircuitThreshold is the consecutive-failure count that opens the
	// circuit breaker. Default 5.
	CircuitThreshold int `yaml:"circuit_threshold"`

	// CircuitTimeout is how long the circuit stays open. Default 300s.
	CircuitTimeout time.Duration `yaml:"circuit_timeout"`

	// HeartbeatInterval is the period between heartbeat frames. Default 30s.
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`

	// InboundQueueSize is loaded and defaulted (1000), but no client reads
	// it: wsclient has no inbound message queue, so nothing is bounded or
	// dropped by this value.
	InboundQueueSize int `yaml:"inbound_queue_size"`
}

// IngestConfig configures the two WebSocket ingest clients.
type IngestConfig struct {
	// TranscriptionURL is the transcription WebSocket endpoint.
	TranscriptionURL string `yaml:"transcription_url"`

	// EventsURL is the chat/interaction events WebSocket endpoint.
	EventsURL string `yaml:"events_url"`

	// ChannelEmotePrefix identifies "native" emotes for engagement metrics
	// (e.g. "avalon").
	ChannelEmotePrefix string `yaml:"channel_emote_prefix"`
}

// EgressConfig configures the Phoenix transcription egress/producer client.
type EgressConfig struct {
	URL             string `yaml:"url"`
	SourceID        string `yaml:"source_id"`
	StreamSessionID string `yaml:"stream_session_id"`
	Language        string `yaml:"language"`
}

// LLMConfig configures the LLM HTTP client.
type LLMConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`

	// RateLimitRequests / RateLimitWindow define the sliding-window rate limit.
	// Defaults: 10 req / 60s.
	RateLimitRequests int           `yaml:"rate_limit_requests"`
	RateLimitWindow   time.Duration `yaml:"rate_limit_window"`

	MaxRetries int           `yaml:"max_retries"`
	Timeout    time.Duration `yaml:"timeout"`

	// Analysis-path generation params. Defaults: 0.7 / — / 800.
	AnalysisTemperature float64 `yaml:"analysis_temperature"`
	AnalysisMaxTokens   int     `yaml:"analysis_max_tokens"`

	// RAG-path generation params. Defaults: 0.8 / 0.9 / 500.
	RAGTemperature float64 `yaml:"rag_temperature"`
	RAGTopP        float64 `yaml:"rag_top_p"`
	RAGMaxTokens   int     `yaml:"rag_max_tokens"`

	CircuitThreshold int           `yaml:"circuit_threshold"`
	CircuitTimeout   time.Duration `yaml:"circuit_timeout"`
}

// ContextConfig configures the Context HTTP client.
type ContextConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`

	CircuitThreshold int           `yaml:"circuit_threshold"`
	CircuitTimeout   time.Duration `yaml:"circuit_timeout"`
}

// VocabularyConfig configures the Vocabulary HTTP client and its cache.
type VocabularyConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`

	CacheSize int           `yaml:"cache_size"` // default 1000
	CacheTTL  time.Duration `yaml:"cache_ttl"`  // default 300s

	RateLimitRequests int           `yaml:"rate_limit_requests"` // default 100
	RateLimitWindow   time.Duration `yaml:"rate_limit_window"`   // default 60s
	RateLimitMaxWait  time.Duration `yaml:"rate_limit_max_wait"` // default 5s

	CircuitThreshold int           `yaml:"circuit_threshold"`
	CircuitTimeout   time.Duration `yaml:"circuit_timeout"`
}

// CorrelatorConfig configures the Stream Correlator's windows and buffers.
type CorrelatorConfig struct {
	// WindowSize is the context-window duration. Default 120s.
	WindowSize time.Duration `yaml:"window_size"`

	// AnalysisInterval is the periodic-analysis tick period. Default 30s.
	AnalysisInterval time.Duration `yaml:"analysis_interval"`

	// AnalysisCooldown is the minimum gap between non-immediate analyses.
	// Default 10s.
	AnalysisCooldown time.Duration `yaml:"analysis_cooldown"`

	// CorrelationWindow is the forward-looking chat-attribution window after
	// a transcription. Default 10s.
	CorrelationWindow time.Duration `yaml:"correlation_window"`

	// RetentionWindow is the buffer age eviction bound. Default 120s.
	RetentionWindow time.Duration `yaml:"retention_window"`

	// MaxBufferSize bounds each buffer by element count. Default 1000.
	MaxBufferSize int `yaml:"max_buffer_size"`

	// Timezone is the IANA timezone used to compute session ids.
	// Default "America/Los_Angeles".
	Timezone string `yaml:"timezone"`
}

// RAGConfig configures the RAG Orchestrator's upstream data sources and
// identity framing.
type RAGConfig struct {
	// ServerURL is the base URL for the activity firehose and Twitch status
	// endpoints the orchestrator's retrievers query.
	ServerURL string `yaml:"server_url"`

	// StreamerIdentity names the streamer the orchestrator frames every
	// answer around ("your chat", "your stream").
	StreamerIdentity string `yaml:"streamer_identity"`

	// RequestTimeout bounds each retriever's HTTP call. Default 30s.
	RequestTimeout time.Duration `yaml:"request_timeout"`

	CircuitThreshold int           `yaml:"circuit_threshold"`
	CircuitTimeout   time.Duration `yaml:"circuit_timeout"`
}

// MemoryConfig configures the optional local context-replay mirror.
type MemoryConfig struct {
	// PostgresDSN enables the local replay mirror when non-empty. Leave
	// empty to disable it entirely — persistence remains solely the Context
	// HTTP endpoint's responsibility either way.
	PostgresDSN string `yaml:"postgres_dsn"`
}

// RedisConfig enables the distributed rate-limiter backend when Addr is set.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}
