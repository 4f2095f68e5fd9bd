// Package contextclient talks to the Context HTTP API: it persists sealed
// context windows (POST /api/contexts) and exposes read-only history queries
// (GET /api/contexts, /search, /stats), per spec §6.
package contextclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/MrWong99/streamintel/internal/resilience"
	"github.com/MrWong99/streamintel/pkg/types"
)

// Config tunes a [Client].
type Config struct {
	BaseURL string
	Timeout time.Duration

	CircuitThreshold int
	CircuitTimeout   time.Duration
}

func (c *Config) setDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.CircuitThreshold <= 0 {
		c.CircuitThreshold = 5
	}
	if c.CircuitTimeout <= 0 {
		c.CircuitTimeout = 300 * time.Second
	}
}

// Context is a sealed context window as persisted by [Client.CreateContext].
// Field names match the wire shape's JSON keys after [Context.validate]
// normalizes them.
type Context struct {
	Started  time.Time `json:"started"`
	Ended    time.Time `json:"ended"`
	Session  string    `json:"session"`
	Transcript string  `json:"transcript"`
	Duration float64   `json:"duration"`

	Sentiment *types.Sentiment `json:"sentiment,omitempty"`
	Topics    []string         `json:"topics,omitempty"`

	ChatVelocity float64        `json:"chat_velocity,omitempty"`
	Analysis     map[string]any `json:"analysis,omitempty"`
}

// validate checks the required fields and drops invalid optional fields,
// mirroring the upstream seed service's context_client._format_context_data.
// Unlike that Python, which only ever accepted three sentiment values, this
// validates sentiment against the full four-value [types.Sentiment] enum,
// since that enum (not the Python client) is authoritative here.
func (c *Context) validate() error {
	if c.Session == "" {
		return fmt.Errorf("contextclient: session is required")
	}
	if c.Transcript == "" {
		return fmt.Errorf("contextclient: transcript is required")
	}
	if c.Started.IsZero() {
		return fmt.Errorf("contextclient: started is required")
	}
	if c.Ended.IsZero() {
		return fmt.Errorf("contextclient: ended is required")
	}
	if c.Duration <= 0 {
		return fmt.Errorf("contextclient: duration must be positive")
	}
	if c.Sentiment != nil && !c.Sentiment.IsValid() {
		c.Sentiment = nil
	}
	return nil
}

// wireContext is the JSON shape actually sent on the wire: timestamps as
// RFC3339 strings, matching the upstream API's expectation.
type wireContext struct {
	Started    string           `json:"started"`
	Ended      string           `json:"ended"`
	Session    string           `json:"session"`
	Transcript string           `json:"transcript"`
	Duration   float64          `json:"duration"`
	Sentiment  *types.Sentiment `json:"sentiment,omitempty"`
	Topics     []string         `json:"topics,omitempty"`

	ChatVelocity float64        `json:"chat_velocity,omitempty"`
	Analysis     map[string]any `json:"analysis,omitempty"`
}

func (c Context) toWire() wireContext {
	return wireContext{
		Started:      c.Started.UTC().Format(time.RFC3339),
		Ended:        c.Ended.UTC().Format(time.RFC3339),
		Session:      c.Session,
		Transcript:   c.Transcript,
		Duration:     c.Duration,
		Sentiment:    c.Sentiment,
		Topics:       c.Topics,
		ChatVelocity: c.ChatVelocity,
		Analysis:     c.Analysis,
	}
}

// ValidationError carries the per-field errors reported by a 422 response.
type ValidationError struct {
	Errors map[string]any
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("contextclient: validation rejected context: %v", e.Errors)
}

// Client is a circuit-breaker-protected HTTP client for the Context API.
// There is no ecosystem HTTP client wrapper in play here — this is a small,
// synchronous request/response surface, so plain net/http is used directly
// rather than pulling in a generic REST client library.
type Client struct {
	baseURL    string
	httpClient *http.Client
	cb         *resilience.CircuitBreaker
}

// New constructs a [Client].
func New(cfg Config, onTrip func(string)) (*Client, error) {
	cfg.setDefaults()
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("contextclient: base URL must not be empty")
	}
	return &Client{
		baseURL:    cfg.BaseURL,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		cb: resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name:         "contextclient",
			MaxFailures:  cfg.CircuitThreshold,
			ResetTimeout: cfg.CircuitTimeout,
			OnTrip:       onTrip,
		}),
	}, nil
}

// CreateContext persists a sealed context window. It returns a
// *[ValidationError] (not a plain error) when the server rejects the payload
// with 422, so callers can distinguish "drop, log, move on" from a transient
// transport failure that should count toward the circuit breaker.
func (c *Client) CreateContext(ctx context.Context, cx Context) error {
	if err := cx.validate(); err != nil {
		return err
	}

	body, err := json.Marshal(cx.toWire())
	if err != nil {
		return fmt.Errorf("contextclient: encode: %w", err)
	}

	var validationErr *ValidationError
	cbErr := c.cb.Execute(func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/contexts", bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusCreated || resp.StatusCode == http.StatusOK:
			return nil
		case resp.StatusCode == http.StatusUnprocessableEntity:
			var decoded struct {
				Errors map[string]any `json:"errors"`
			}
			_ = json.NewDecoder(resp.Body).Decode(&decoded)
			validationErr = &ValidationError{Errors: decoded.Errors}
			return nil
		default:
			respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			return fmt.Errorf("contextclient: create_context: unexpected status %d: %s", resp.StatusCode, respBody)
		}
	})
	if cbErr != nil {
		return fmt.Errorf("contextclient: create_context: %w", cbErr)
	}
	if validationErr != nil {
		return validationErr
	}
	return nil
}

// envelope is the `{"data": ...}` wrapper every read endpoint returns.
type envelope[T any] struct {
	Data T `json:"data"`
}

func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	return c.cb.Execute(func() error {
		u := c.baseURL + path
		if len(query) > 0 {
			u += "?" + query.Encode()
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return err
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, respBody)
		}
		return json.NewDecoder(resp.Body).Decode(out)
	})
}

// GetContexts returns the most recent contexts, newest first. session, if
// non-empty, restricts results to that session id. Any failure is returned
// as a wrapped error; the caller logs it and continues, per spec §7's
// "non-fatal external read" handling.
func (c *Client) GetContexts(ctx context.Context, limit int, session string) ([]Context, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if session != "" {
		q.Set("session", session)
	}

	var env envelope[[]Context]
	if err := c.getJSON(ctx, "/api/contexts", q, &env); err != nil {
		return nil, fmt.Errorf("contextclient: get_contexts: %w", err)
	}
	return env.Data, nil
}

// SearchContexts performs a free-text search over transcript/context fields.
func (c *Client) SearchContexts(ctx context.Context, query string, limit int) ([]Context, error) {
	q := url.Values{"q": []string{query}}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}

	var env envelope[[]Context]
	if err := c.getJSON(ctx, "/api/contexts/search", q, &env); err != nil {
		return nil, fmt.Errorf("contextclient: search_contexts: %w", err)
	}
	return env.Data, nil
}

// Stats is the aggregate summary returned by [Client.GetContextStats].
type Stats struct {
	TotalContexts   int     `json:"total_contexts"`
	TotalDuration   float64 `json:"total_duration"`
	AverageDuration float64 `json:"average_duration"`
}

// GetContextStats returns aggregate stats over the trailing window of hours.
func (c *Client) GetContextStats(ctx context.Context, hours int) (*Stats, error) {
	q := url.Values{}
	if hours > 0 {
		q.Set("hours", strconv.Itoa(hours))
	}

	var env envelope[Stats]
	if err := c.getJSON(ctx, "/api/contexts/stats", q, &env); err != nil {
		return nil, fmt.Errorf("contextclient: get_context_stats: %w", err)
	}
	return &env.Data, nil
}
