package config

import (
	"os"
	"strconv"
	"time"
)

// ApplyEnv overlays environment variables onto cfg, following the prefixes
// named in spec.md §8: WS_, LLM_, CTX_, VOCAB_, CORR_, RAG_. Unset or
// unparsable variables leave the existing value untouched. Call after
// defaults have been applied and before [Validate].
func ApplyEnv(cfg *Config) {
	envString(&cfg.Server.ListenAddr, "SERVER_LISTEN_ADDR")
	envLogLevel(&cfg.Server.LogLevel, "SERVER_LOG_LEVEL")

	envDuration(&cfg.WebSocket.ReconnectBase, "WS_RECONNECT_BASE")
	envDuration(&cfg.WebSocket.ReconnectCap, "WS_RECONNECT_CAP")
	envInt(&cfg.WebSocket.MaxAttempts, "WS_MAX_ATTEMPTS")
	envInt(&cfg.WebSocket.CircuitThreshold, "WS_CIRCUIT_THRESHOLD")
	envDuration(&cfg.WebSocket.CircuitTimeout, "WS_CIRCUIT_TIMEOUT")
	envDuration(&cfg.WebSocket.HeartbeatInterval, "WS_HEARTBEAT_INTERVAL")
	envInt(&cfg.WebSocket.InboundQueueSize, "WS_INBOUND_QUEUE_SIZE")

	envString(&cfg.Ingest.TranscriptionURL, "WS_TRANSCRIPTION_URL")
	envString(&cfg.Ingest.EventsURL, "WS_EVENTS_URL")
	envString(&cfg.Ingest.ChannelEmotePrefix, "WS_CHANNEL_EMOTE_PREFIX")

	envString(&cfg.Egress.URL, "WS_EGRESS_URL")
	envString(&cfg.Egress.SourceID, "WS_EGRESS_SOURCE_ID")
	envString(&cfg.Egress.StreamSessionID, "WS_EGRESS_STREAM_SESSION_ID")
	envString(&cfg.Egress.Language, "WS_EGRESS_LANGUAGE")

	envString(&cfg.LLM.BaseURL, "LLM_BASE_URL")
	envString(&cfg.LLM.APIKey, "LLM_API_KEY")
	envString(&cfg.LLM.Model, "LLM_MODEL")
	envInt(&cfg.LLM.RateLimitRequests, "LLM_RATE_LIMIT_REQUESTS")
	envDuration(&cfg.LLM.RateLimitWindow, "LLM_RATE_LIMIT_WINDOW")
	envInt(&cfg.LLM.MaxRetries, "LLM_MAX_RETRIES")
	envDuration(&cfg.LLM.Timeout, "LLM_TIMEOUT")
	envFloat(&cfg.LLM.AnalysisTemperature, "LLM_ANALYSIS_TEMPERATURE")
	envInt(&cfg.LLM.AnalysisMaxTokens, "LLM_ANALYSIS_MAX_TOKENS")
	envFloat(&cfg.LLM.RAGTemperature, "LLM_RAG_TEMPERATURE")
	envFloat(&cfg.LLM.RAGTopP, "LLM_RAG_TOP_P")
	envInt(&cfg.LLM.RAGMaxTokens, "LLM_RAG_MAX_TOKENS")
	envInt(&cfg.LLM.CircuitThreshold, "LLM_CIRCUIT_THRESHOLD")
	envDuration(&cfg.LLM.CircuitTimeout, "LLM_CIRCUIT_TIMEOUT")

	envString(&cfg.Context.BaseURL, "CTX_BASE_URL")
	envDuration(&cfg.Context.Timeout, "CTX_TIMEOUT")

	envString(&cfg.Vocabulary.BaseURL, "VOCAB_BASE_URL")
	envDuration(&cfg.Vocabulary.Timeout, "VOCAB_TIMEOUT")
	envInt(&cfg.Vocabulary.CacheSize, "VOCAB_CACHE_SIZE")
	envDuration(&cfg.Vocabulary.CacheTTL, "VOCAB_CACHE_TTL")
	envInt(&cfg.Vocabulary.RateLimitRequests, "VOCAB_RATE_LIMIT_REQUESTS")
	envDuration(&cfg.Vocabulary.RateLimitWindow, "VOCAB_RATE_LIMIT_WINDOW")
	envDuration(&cfg.Vocabulary.RateLimitMaxWait, "VOCAB_RATE_LIMIT_MAX_WAIT")

	envDuration(&cfg.Correlator.WindowSize, "CORR_WINDOW_SIZE")
	envDuration(&cfg.Correlator.AnalysisInterval, "CORR_ANALYSIS_INTERVAL")
	envDuration(&cfg.Correlator.AnalysisCooldown, "CORR_ANALYSIS_COOLDOWN")
	envDuration(&cfg.Correlator.CorrelationWindow, "CORR_CORRELATION_WINDOW")
	envDuration(&cfg.Correlator.RetentionWindow, "CORR_RETENTION_WINDOW")
	envInt(&cfg.Correlator.MaxBufferSize, "CORR_MAX_BUFFER_SIZE")
	envString(&cfg.Correlator.Timezone, "CORR_TIMEZONE")

	envString(&cfg.RAG.ServerURL, "RAG_SERVER_URL")
	envString(&cfg.RAG.StreamerIdentity, "RAG_STREAMER_IDENTITY")
	envDuration(&cfg.RAG.RequestTimeout, "RAG_REQUEST_TIMEOUT")
	envInt(&cfg.RAG.CircuitThreshold, "RAG_CIRCUIT_THRESHOLD")
	envDuration(&cfg.RAG.CircuitTimeout, "RAG_CIRCUIT_TIMEOUT")

	envString(&cfg.Memory.PostgresDSN, "MEMORY_POSTGRES_DSN")

	envString(&cfg.Redis.Addr, "REDIS_ADDR")
	envString(&cfg.Redis.Password, "REDIS_PASSWORD")
	envInt(&cfg.Redis.DB, "REDIS_DB")
}

func envString(dst *string, name string) {
	if v, ok := os.LookupEnv(name); ok && v != "" {
		*dst = v
	}
}

func envLogLevel(dst *LogLevel, name string) {
	if v, ok := os.LookupEnv(name); ok && v != "" {
		*dst = LogLevel(v)
	}
}

func envInt(dst *int, name string) {
	if v, ok := os.LookupEnv(name); ok && v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envFloat(dst *float64, name string) {
	if v, ok := os.LookupEnv(name); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func envDuration(dst *time.Duration, name string) {
	if v, ok := os.LookupEnv(name); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
