package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path, applies defaults and the
// environment overlay, and returns a validated [Config].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and the
// environment overlay, and validates the result. Useful in tests where
// configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && err != io.EOF {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	applyDefaults(cfg)
	ApplyEnv(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults fills zero-valued fields with the defaults named in spec.md.
func applyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = ":8080"
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogLevelInfo
	}

	ws := &cfg.WebSocket
	if ws.ReconnectBase <= 0 {
		ws.ReconnectBase = time.Second
	}
	if ws.ReconnectCap <= 0 {
		ws.ReconnectCap = 60 * time.Second
	}
	if ws.MaxAttempts <= 0 {
		ws.MaxAttempts = 10
	}
	if ws.CircuitThreshold <= 0 {
		ws.CircuitThreshold = 5
	}
	if ws.CircuitTimeout <= 0 {
		ws.CircuitTimeout = 300 * time.Second
	}
	if ws.HeartbeatInterval <= 0 {
		ws.HeartbeatInterval = 30 * time.Second
	}
	if ws.InboundQueueSize <= 0 {
		ws.InboundQueueSize = 1000
	}

	if cfg.Ingest.ChannelEmotePrefix == "" {
		cfg.Ingest.ChannelEmotePrefix = "avalon"
	}

	llm := &cfg.LLM
	if llm.RateLimitRequests <= 0 {
		llm.RateLimitRequests = 10
	}
	if llm.RateLimitWindow <= 0 {
		llm.RateLimitWindow = 60 * time.Second
	}
	if llm.MaxRetries <= 0 {
		llm.MaxRetries = 3
	}
	if llm.Timeout <= 0 {
		llm.Timeout = 30 * time.Second
	}
	if llm.AnalysisTemperature == 0 {
		llm.AnalysisTemperature = 0.7
	}
	if llm.AnalysisMaxTokens <= 0 {
		llm.AnalysisMaxTokens = 800
	}
	if llm.RAGTemperature == 0 {
		llm.RAGTemperature = 0.8
	}
	if llm.RAGTopP == 0 {
		llm.RAGTopP = 0.9
	}
	if llm.RAGMaxTokens <= 0 {
		llm.RAGMaxTokens = 500
	}
	if llm.CircuitThreshold <= 0 {
		llm.CircuitThreshold = 5
	}
	if llm.CircuitTimeout <= 0 {
		llm.CircuitTimeout = 300 * time.Second
	}

	if cfg.Context.Timeout <= 0 {
		cfg.Context.Timeout = 10 * time.Second
	}

	vocab := &cfg.Vocabulary
	if vocab.Timeout <= 0 {
		vocab.Timeout = 10 * time.Second
	}
	if vocab.CacheSize <= 0 {
		vocab.CacheSize = 1000
	}
	if vocab.CacheTTL <= 0 {
		vocab.CacheTTL = 300 * time.Second
	}
	if vocab.RateLimitRequests <= 0 {
		vocab.RateLimitRequests = 100
	}
	if vocab.RateLimitWindow <= 0 {
		vocab.RateLimitWindow = 60 * time.Second
	}
	if vocab.RateLimitMaxWait <= 0 {
		vocab.RateLimitMaxWait = 5 * time.Second
	}

	corr := &cfg.Correlator
	if corr.WindowSize <= 0 {
		corr.WindowSize = 120 * time.Second
	}
	if corr.AnalysisInterval <= 0 {
		corr.AnalysisInterval = 30 * time.Second
	}
	if corr.AnalysisCooldown <= 0 {
		corr.AnalysisCooldown = 10 * time.Second
	}
	if corr.CorrelationWindow <= 0 {
		corr.CorrelationWindow = 10 * time.Second
	}
	if corr.RetentionWindow <= 0 {
		corr.RetentionWindow = 120 * time.Second
	}
	if corr.MaxBufferSize <= 0 {
		corr.MaxBufferSize = 1000
	}
	if corr.Timezone == "" {
		corr.Timezone = "America/Los_Angeles"
	}

	rag := &cfg.RAG
	if rag.RequestTimeout <= 0 {
		rag.RequestTimeout = 30 * time.Second
	}
	if rag.CircuitThreshold <= 0 {
		rag.CircuitThreshold = 5
	}
	if rag.CircuitTimeout <= 0 {
		rag.CircuitTimeout = 300 * time.Second
	}
	if rag.StreamerIdentity == "" {
		rag.StreamerIdentity = "the streamer"
	}
}

// Validate checks that cfg contains a coherent set of values, returning a
// joined error listing every validation failure found.
func Validate(cfg *Config) error {
	var errs []error

	if !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	if cfg.Ingest.TranscriptionURL == "" {
		errs = append(errs, errors.New("ingest.transcription_url is required"))
	}
	if cfg.Ingest.EventsURL == "" {
		errs = append(errs, errors.New("ingest.events_url is required"))
	}

	if cfg.LLM.BaseURL == "" {
		errs = append(errs, errors.New("llm.base_url is required"))
	}
	if cfg.LLM.Model == "" {
		errs = append(errs, errors.New("llm.model is required"))
	}

	if cfg.Context.BaseURL == "" {
		errs = append(errs, errors.New("context.base_url is required"))
	}

	if cfg.Vocabulary.BaseURL == "" {
		errs = append(errs, errors.New("vocabulary.base_url is required"))
	}

	if _, err := time.LoadLocation(cfg.Correlator.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("correlator.timezone %q is invalid: %w", cfg.Correlator.Timezone, err))
	}

	if cfg.RAG.ServerURL == "" {
		errs = append(errs, errors.New("rag.server_url is required"))
	}

	return errors.Join(errs...)
}
