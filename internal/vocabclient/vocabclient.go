// Package vocabclient talks to the community Vocabulary HTTP API: search,
// category listing, popular terms, and contribution of newly-discovered
// phrases, per spec §6. Results are cached (positive and negative) with an
// LRU+TTL cache, grounded on the upstream seed service's
// community_api.CommunityVocabularyClient.
package vocabclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/MrWong99/streamintel/internal/ratelimit"
	"github.com/MrWong99/streamintel/internal/resilience"
	"github.com/MrWong99/streamintel/pkg/types"
)

// Config tunes a [Client].
type Config struct {
	BaseURL string
	Timeout time.Duration

	CacheSize int
	CacheTTL  time.Duration

	RateLimitRequests int
	RateLimitWindow   time.Duration
	RateLimitMaxWait  time.Duration

	CircuitThreshold int
	CircuitTimeout   time.Duration

	MaxRetries int
}

func (c *Config) setDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.CacheSize <= 0 {
		c.CacheSize = 1000
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = 300 * time.Second
	}
	if c.RateLimitRequests <= 0 {
		c.RateLimitRequests = 100
	}
	if c.RateLimitWindow <= 0 {
		c.RateLimitWindow = 60 * time.Second
	}
	if c.RateLimitMaxWait <= 0 {
		c.RateLimitMaxWait = 5 * time.Second
	}
	if c.CircuitThreshold <= 0 {
		c.CircuitThreshold = 5
	}
	if c.CircuitTimeout <= 0 {
		c.CircuitTimeout = 300 * time.Second
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
}

// Client is a caching, rate-limited, circuit-breaker-protected client for
// the community Vocabulary HTTP API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    ratelimit.Limiter
	cb         *resilience.CircuitBreaker
	cache      *ttlCache
	maxRetries int

	semantic *SemanticIndex
}

// SetSemanticIndex attaches a local pgvector mirror. Once attached, every
// vocabulary entry fetched from the HTTP API that carries an embedding is
// opportunistically upserted into the mirror in the background, keeping it
// warm for nearest-neighbour lookups. Safe to call with nil to detach.
func (c *Client) SetSemanticIndex(idx *SemanticIndex) {
	c.semantic = idx
}

// mirrorEmbeddings upserts any entries carrying an embedding into the
// attached semantic index, best-effort. No-op if no index is attached.
func (c *Client) mirrorEmbeddings(entries []types.VocabularyEntry) {
	if c.semantic == nil {
		return
	}
	for _, entry := range entries {
		if len(entry.Embedding) == 0 {
			continue
		}
		go func(e types.VocabularyEntry) {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := c.semantic.Upsert(ctx, e); err != nil {
				slog.Warn("vocabclient: semantic mirror upsert failed", "phrase", e.Phrase, "error", err)
			}
		}(entry)
	}
}

// NearestNeighbours delegates to the attached semantic index, if any. It
// returns an empty slice (not an error) when no index is attached, since
// semantic enrichment is an optional, best-effort addition to plain keyword
// search.
func (c *Client) NearestNeighbours(ctx context.Context, embedding []float32, limit int) ([]types.VocabularyEntry, error) {
	if c.semantic == nil {
		return nil, nil
	}
	return c.semantic.NearestNeighbours(ctx, embedding, limit)
}

// New constructs a [Client]. limiter, if nil, gets its own in-process
// sliding-window limiter built from cfg's rate-limit fields.
func New(cfg Config, limiter ratelimit.Limiter, onTrip func(string)) (*Client, error) {
	cfg.setDefaults()
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("vocabclient: base URL must not be empty")
	}
	if limiter == nil {
		limiter = ratelimit.NewLocal(ratelimit.Config{
			Requests: cfg.RateLimitRequests,
			Window:   cfg.RateLimitWindow,
			MaxWait:  cfg.RateLimitMaxWait,
		})
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    limiter,
		cb: resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name:         "vocabclient",
			MaxFailures:  cfg.CircuitThreshold,
			ResetTimeout: cfg.CircuitTimeout,
			OnTrip:       onTrip,
		}),
		cache:      newTTLCache(cfg.CacheSize, cfg.CacheTTL),
		maxRetries: cfg.MaxRetries,
	}, nil
}

type envelope struct {
	Data []types.VocabularyEntry `json:"data"`
}

// get issues a rate-limited, circuit-breaker-wrapped, retrying GET against
// path with the given query parameters, decoding the `{"data": [...]}`
// envelope. A 404 is treated as an empty result, not an error, matching the
// upstream client's "resource not found" handling. 5xx responses and
// transport errors are retried, up to maxRetries attempts in all, with a
// delay that doubles from 500ms; any other status is returned immediately.
func (c *Client) get(ctx context.Context, path string, query url.Values) ([]types.VocabularyEntry, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("vocabclient: rate limit: %w", err)
	}

	var entries []types.VocabularyEntry
	err := c.cb.Execute(func() error {
		var lastErr error
		for attempt := 0; attempt < c.maxRetries; attempt++ {
			if attempt > 0 {
				delay := time.Duration(500*(1<<uint(attempt-1))) * time.Millisecond
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(delay):
				}
			}

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
				lastErr = err
				continue
			}

			switch {
			case resp.StatusCode == http.StatusOK:
				var env envelope
				err := json.NewDecoder(resp.Body).Decode(&env)
				resp.Body.Close()
				if err != nil {
					return fmt.Errorf("decode: %w", err)
				}
				entries = env.Data
				return nil
			case resp.StatusCode == http.StatusNotFound:
				resp.Body.Close()
				entries = nil
				return nil
			case resp.StatusCode >= 500:
				respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
				resp.Body.Close()
				lastErr = fmt.Errorf("server error: HTTP %d: %s", resp.StatusCode, respBody)
				continue
			default:
				respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
				resp.Body.Close()
				return fmt.Errorf("client error: HTTP %d: %s", resp.StatusCode, respBody)
			}
		}
		return fmt.Errorf("failed after %d attempts: %w", c.maxRetries, lastErr)
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// SearchVocabulary searches existing vocabulary entries by phrase or
// definition text. Results are cached (including negative/empty results)
// under a per-phrase cache key, matching the upstream client's per-phrase
// validation cache. On any error nothing is cached and the wrapped error is
// returned; the RAG caller logs it and skips the term, since vocabulary
// enrichment is best-effort per spec §4.6.
func (c *Client) SearchVocabulary(ctx context.Context, query string, limit int) ([]types.VocabularyEntry, error) {
	cacheKey := "search:" + strings.ToLower(query)
	if cached, ok := c.cache.get(cacheKey); ok {
		return cached.([]types.VocabularyEntry), nil
	}

	if limit <= 0 {
		limit = 25
	}
	q := url.Values{"q": []string{query}, "limit": []string{strconv.Itoa(limit)}}
	entries, err := c.get(ctx, "/community/vocabulary/search", q)
	if err != nil {
		return nil, fmt.Errorf("vocabclient: search_vocabulary: %w", err)
	}

	c.cache.set(cacheKey, entries)
	c.mirrorEmbeddings(entries)
	return entries, nil
}

// GetByCategory returns vocabulary entries in the given category.
func (c *Client) GetByCategory(ctx context.Context, category types.VocabularyCategory, limit int) ([]types.VocabularyEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	q := url.Values{"category": []string{string(category)}, "limit": []string{strconv.Itoa(limit)}}
	entries, err := c.get(ctx, "/community/vocabulary", q)
	if err != nil {
		return nil, fmt.Errorf("vocabclient: get_by_category: %w", err)
	}
	return entries, nil
}

// GetPopular returns the most-used vocabulary entries, cached under a
// shared key since the result set changes slowly.
func (c *Client) GetPopular(ctx context.Context, limit int) ([]types.VocabularyEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	cacheKey := fmt.Sprintf("popular:%d", limit)
	if cached, ok := c.cache.get(cacheKey); ok {
		return cached.([]types.VocabularyEntry), nil
	}

	q := url.Values{"type": []string{"popular"}, "limit": []string{strconv.Itoa(limit)}}
	entries, err := c.get(ctx, "/community/vocabulary", q)
	if err != nil {
		return nil, fmt.Errorf("vocabclient: get_popular: %w", err)
	}
	c.cache.set(cacheKey, entries)
	c.mirrorEmbeddings(entries)
	return entries, nil
}

// CreateEntry contributes a newly-discovered phrase to the community
// vocabulary. definition may be empty.
func (c *Client) CreateEntry(ctx context.Context, phrase string, category types.VocabularyCategory, definition string) (*types.VocabularyEntry, error) {
	if phrase == "" {
		return nil, fmt.Errorf("vocabclient: phrase must not be empty")
	}
	if !category.IsValid() {
		return nil, fmt.Errorf("vocabclient: invalid category %q", category)
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("vocabclient: create_entry: rate limit: %w", err)
	}

	body := map[string]any{"phrase": phrase, "category": string(category)}
	if definition != "" {
		body["definition"] = definition
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("vocabclient: create_entry: encode: %w", err)
	}

	var created types.VocabularyEntry
	var found bool
	cbErr := c.cb.Execute(func() error {
		return doJSON(ctx, c.httpClient, http.MethodPost, c.baseURL+"/community/vocabulary", payload, func(resp *http.Response) error {
			if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
				respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
				return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, respBody)
			}
			var env struct {
				Data types.VocabularyEntry `json:"data"`
			}
			if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
				return fmt.Errorf("decode: %w", err)
			}
			created = env.Data
			found = true
			return nil
		})
	})
	if cbErr != nil {
		return nil, fmt.Errorf("vocabclient: create_entry: %w", cbErr)
	}
	if !found {
		return nil, nil
	}
	return &created, nil
}

func doJSON(ctx context.Context, client *http.Client, method, url string, body []byte, handle func(*http.Response) error) error {
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return handle(resp)
}
