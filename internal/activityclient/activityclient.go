// Package activityclient talks to the read-only activity firehose HTTP API:
// per-type event queries, aggregate stats, and current stream/channel info,
// per spec §6 "Activity HTTP (read-only)". It is the data source behind
// most of internal/rag's retrievers, grounded on
// original_source/apps/seed/src/rag_handler.py's _get_subscription_data,
// _get_follower_data, _get_chat_data, _get_raid_data, _get_cheer_data,
// _get_activity_stats, and _get_stream_info.
package activityclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/MrWong99/streamintel/internal/resilience"
)

// EventType is one of the firehose's event_type query values.
type EventType string

const (
	EventSubscribe     EventType = "channel.subscribe"
	EventFollow        EventType = "channel.follow"
	EventChatMessage   EventType = "channel.chat.message"
	EventRaid          EventType = "channel.raid"
	EventCheer         EventType = "channel.cheer"
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
		c.Timeout = 15 * time.Second
	}
	if c.CircuitThreshold <= 0 {
		c.CircuitThreshold = 5
	}
	if c.CircuitTimeout <= 0 {
		c.CircuitTimeout = 300 * time.Second
	}
}

// Client is a circuit-breaker-protected read-only client for the activity
// firehose API. Like contextclient, this is a small synchronous
// request/response surface so plain net/http is used directly.
type Client struct {
	baseURL    string
	httpClient *http.Client
	cb         *resilience.CircuitBreaker
}

// New constructs a [Client].
func New(cfg Config, onTrip func(string)) (*Client, error) {
	cfg.setDefaults()
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("activityclient: base URL must not be empty")
	}
	return &Client{
		baseURL:    cfg.BaseURL,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		cb: resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name:         "activityclient",
			MaxFailures:  cfg.CircuitThreshold,
			ResetTimeout: cfg.CircuitTimeout,
			OnTrip:       onTrip,
		}),
	}, nil
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

// GetEvents returns every raw event of the given type. The firehose endpoint
// is unbounded — it always returns all available data regardless of any time
// window, matching the upstream behavior spec §4.6 step 1 describes.
func (c *Client) GetEvents(ctx context.Context, eventType EventType) ([]map[string]any, error) {
	q := url.Values{"event_type": []string{string(eventType)}}

	var env struct {
		Data struct {
			Events []map[string]any `json:"events"`
		} `json:"data"`
	}
	if err := c.getJSON(ctx, "/api/activity/events", q, &env); err != nil {
		return nil, fmt.Errorf("activityclient: get_events(%s): %w", eventType, err)
	}
	return env.Data.Events, nil
}

// Stats is the aggregate activity summary returned by [Client.GetStats].
type Stats struct {
	TotalEvents   int `json:"total_events"`
	UniqueUsers   int `json:"unique_users"`
	ChatMessages  int `json:"chat_messages"`
	Follows       int `json:"follows"`
	Subscriptions int `json:"subscriptions"`
	Cheers        int `json:"cheers"`
}

// GetStats returns the unbounded activity stats summary.
func (c *Client) GetStats(ctx context.Context) (*Stats, error) {
	var env struct {
		Data struct {
			Stats Stats `json:"stats"`
		} `json:"data"`
	}
	if err := c.getJSON(ctx, "/api/activity/stats", nil, &env); err != nil {
		return nil, fmt.Errorf("activityclient: get_stats: %w", err)
	}
	return &env.Data.Stats, nil
}

// StreamInfo is the current stream/channel snapshot returned by
// [Client.GetStreamInfo].
type StreamInfo struct {
	Stream struct {
		Type        string `json:"type"`
		Title       string `json:"title"`
		GameName    string `json:"game_name"`
		ViewerCount int    `json:"viewer_count"`
		StartedAt   string `json:"started_at"`
	} `json:"stream"`
	Channel struct {
		BroadcasterName string `json:"broadcaster_name"`
	} `json:"channel"`
}

// IsLive reports whether the stream is currently live.
func (s StreamInfo) IsLive() bool {
	return s.Stream.Type == "live"
}

// GetStreamInfo returns the current Twitch stream/channel status.
func (c *Client) GetStreamInfo(ctx context.Context) (*StreamInfo, error) {
	var env struct {
		Data StreamInfo `json:"data"`
	}
	if err := c.getJSON(ctx, "/api/twitch/status", nil, &env); err != nil {
		return nil, fmt.Errorf("activityclient: get_stream_info: %w", err)
	}
	return &env.Data, nil
}
