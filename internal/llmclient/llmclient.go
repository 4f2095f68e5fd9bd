// Package llmclient provides the two entry points spec §4.3 names: analysis
// of a sealed-window transcript (Analyze) and the RAG layer's structured
// question answering (GenerateResponse). Both talk to a single
// OpenAI-compatible chat-completions endpoint via github.com/openai/openai-go,
// the same SDK the teacher's provider package wires up.
package llmclient

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/MrWong99/streamintel/internal/ratelimit"
	"github.com/MrWong99/streamintel/internal/resilience"
	"github.com/MrWong99/streamintel/pkg/types"
)

// Config tunes a [Client]. Zero-value fields fall back to the defaults
// named below, mirroring [config.LLMConfig].
type Config struct {
	BaseURL string
	APIKey  string
	Model   string

	MaxRetries int
	Timeout    time.Duration

	// AnalysisTemperature/AnalysisMaxTokens configure the analysis path.
	// Defaults: 0.7 / 800.
	AnalysisTemperature float64
	AnalysisMaxTokens   int

	// RAGTemperature/RAGTopP/RAGMaxTokens configure the RAG path.
	// Defaults: 0.8 / 0.9 / 500.
	RAGTemperature float64
	RAGTopP        float64
	RAGMaxTokens   int

	CircuitThreshold int
	CircuitTimeout   time.Duration
}

func (c *Config) setDefaults() {
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.AnalysisTemperature == 0 {
		c.AnalysisTemperature = 0.7
	}
	if c.AnalysisMaxTokens <= 0 {
		c.AnalysisMaxTokens = 800
	}
	if c.RAGTemperature == 0 {
		c.RAGTemperature = 0.8
	}
	if c.RAGTopP == 0 {
		c.RAGTopP = 0.9
	}
	if c.RAGMaxTokens <= 0 {
		c.RAGMaxTokens = 500
	}
	if c.CircuitThreshold <= 0 {
		c.CircuitThreshold = 5
	}
	if c.CircuitTimeout <= 0 {
		c.CircuitTimeout = 300 * time.Second
	}
}

// analysisSystemPrompt fixes the model's response to a single JSON object
// matching [types.AnalysisResult] (minus the four correlator-attached
// fields — momentum, chat_velocity, emote_frequency, native_emote_frequency —
// which are never asked of the model).
const analysisSystemPrompt = `You analyze a segment of a live stream's transcript and community chat.
Respond with a single JSON object and nothing else, matching this shape:
{
  "patterns": {"energy": 0.0-1.0, "engagement": 0.0-1.0, "community_sync": 0.0-1.0, "content_focus": ["..."], "mood_indicators": {}, "temporal_flow": "..."},
  "dynamics": {"energy_trajectory": "increasing|decreasing|stable", "engagement_trajectory": "increasing|decreasing|stable"},
  "sentiment": "positive|negative|neutral|mixed",
  "sentiment_trajectory": "...",
  "topics": ["..."],
  "context": "a short prose summary",
  "suggested_actions": ["..."]
}
Omit fields you have no basis for rather than guessing.`

// Client implements [types.AnalysisResult] generation and RAG structured
// question answering against a single OpenAI-compatible endpoint.
type Client struct {
	client  oai.Client
	cfg     Config
	limiter ratelimit.Limiter
	cb      *resilience.CircuitBreaker
}

// New constructs a [Client]. limiter is typically shared with nothing else
// — the LLM client gets its own rate-limit bucket, separate from the
// Vocabulary client's. onTrip, if non-nil, is wired as the circuit
// breaker's OnTrip callback (e.g. to feed observe.Metrics).
func New(cfg Config, limiter ratelimit.Limiter, onTrip func(string)) (*Client, error) {
	cfg.setDefaults()
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("llmclient: base URL must not be empty")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("llmclient: model must not be empty")
	}

	reqOpts := []option.RequestOption{
		option.WithBaseURL(cfg.BaseURL),
		option.WithMaxRetries(cfg.MaxRetries),
		option.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}),
	}
	if cfg.APIKey != "" {
		reqOpts = append(reqOpts, option.WithAPIKey(cfg.APIKey))
	}

	return &Client{
		client:  oai.NewClient(reqOpts...),
		cfg:     cfg,
		limiter: limiter,
		cb: resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name:         "llmclient",
			MaxFailures:  cfg.CircuitThreshold,
			ResetTimeout: cfg.CircuitTimeout,
			OnTrip:       onTrip,
		}),
	}, nil
}

// Analyze sends the sealed window's transcription and combined chat/emote
// context to the model and parses the response into a [types.AnalysisResult].
// Per spec §4.2 failure semantics, a transport/circuit failure is returned as
// an error; a response that parses as non-JSON is logged and yields (nil,
// nil) rather than an error, since the caller (the correlator) treats both
// uniformly as "no analysis this cycle".
func (c *Client) Analyze(ctx context.Context, transcriptionContext, chatContext string) (*types.AnalysisResult, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("llmclient: analyze: rate limit: %w", err)
	}

	params := oai.ChatCompletionNewParams{
		Model: shared.ChatModel(c.cfg.Model),
		Messages: []oai.ChatCompletionMessageParamUnion{
			oai.SystemMessage(analysisSystemPrompt),
			oai.UserMessage(fmt.Sprintf("Transcript context:\n%s\n\nChat context:\n%s", transcriptionContext, chatContext)),
		},
		Temperature:          param.NewOpt(c.cfg.AnalysisTemperature),
		MaxCompletionTokens: param.NewOpt(int64(c.cfg.AnalysisMaxTokens)),
	}

	var resp *oai.ChatCompletion
	err := c.cb.Execute(func() error {
		var callErr error
		resp, callErr = c.client.Chat.Completions.New(ctx, params)
		return callErr
	})
	if err != nil {
		return nil, fmt.Errorf("llmclient: analyze: %w", err)
	}
	if len(resp.Choices) == 0 {
		slog.Warn("llmclient: analyze response had no choices")
		return nil, nil
	}

	var result types.AnalysisResult
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &result); err != nil {
		slog.Warn("llmclient: analyze response was not valid JSON, dropping", "error", err)
		return nil, nil
	}
	return &result, nil
}

// ragResponseSchema is the JSON schema enforced on the structured-output
// path, mirroring [types.RAGResponse].
var ragResponseSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"answer":        map[string]any{"type": "string"},
		"confidence":    map[string]any{"type": "number", "minimum": 0, "maximum": 1},
		"reasoning":     map[string]any{"type": "string"},
		"response_type": map[string]any{"type": "string", "enum": []string{"factual", "creative", "clarification", "insufficient_data", "fallback"}},
		"suggestions":   map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
	},
	"required":             []string{"answer", "confidence", "response_type"},
	"additionalProperties": false,
}

// GenerateResponse sends a RAG-assembled prompt to the model with a
// structured-output schema and returns the parsed [types.RAGResponse]. If the
// model's content doesn't parse into the schema (missing required fields,
// non-JSON body), the raw content is wrapped as a plain-answer fallback with
// confidence 0.5, per spec §4.3.
func (c *Client) GenerateResponse(ctx context.Context, systemPrompt, prompt string) (*types.RAGResponse, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("llmclient: generate_response: rate limit: %w", err)
	}

	messages := []oai.ChatCompletionMessageParamUnion{}
	if systemPrompt != "" {
		messages = append(messages, oai.SystemMessage(systemPrompt))
	}
	messages = append(messages, oai.UserMessage(prompt))

	params := oai.ChatCompletionNewParams{
		Model:               shared.ChatModel(c.cfg.Model),
		Messages:            messages,
		Temperature:         param.NewOpt(c.cfg.RAGTemperature),
		TopP:                param.NewOpt(c.cfg.RAGTopP),
		MaxCompletionTokens: param.NewOpt(int64(c.cfg.RAGMaxTokens)),
		ResponseFormat: oai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &shared.ResponseFormatJSONSchemaParam{
				JSONSchema: shared.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:   "rag_response",
					Schema: ragResponseSchema,
				},
			},
		},
	}

	var resp *oai.ChatCompletion
	err := c.cb.Execute(func() error {
		var callErr error
		resp, callErr = c.client.Chat.Completions.New(ctx, params)
		return callErr
	})
	if err != nil {
		return nil, fmt.Errorf("llmclient: generate_response: %w", err)
	}
	if len(resp.Choices) == 0 {
		return &types.RAGResponse{
			Answer:       "",
			Confidence:   0.5,
			ResponseType: types.RAGResponseFallback,
		}, nil
	}

	content := resp.Choices[0].Message.Content

	var rr types.RAGResponse
	var required struct {
		Confidence *float64 `json:"confidence"`
	}
	err = json.Unmarshal([]byte(content), &rr)
	if err == nil {
		err = json.Unmarshal([]byte(content), &required)
	}
	if err != nil || rr.Answer == "" || rr.ResponseType == "" || required.Confidence == nil {
		slog.Info("llmclient: generate_response fell back to plain-content wrapping",
			"parse_error", err)
		return &types.RAGResponse{
			Answer:       content,
			Confidence:   0.5,
			ResponseType: types.RAGResponseFallback,
		}, nil
	}
	return &rr, nil
}
