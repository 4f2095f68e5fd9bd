// Package phoenix implements the transcription egress/producer client: it
// joins the "transcription:live" Phoenix channel and publishes
// submit_transcription events upstream.
//
// Grounded on the Phoenix phx_join/ref-counter dialect in
// original_source/apps/seed/src/websocket_client.py and spec §6's
// "Transcription egress (WebSocket, Phoenix)".
package phoenix

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/streamintel/internal/wsclient"
	"github.com/coder/websocket"
)

// submitPayload is the wire shape of a submit_transcription event's payload.
type submitPayload struct {
	Timestamp       string         `json:"timestamp"`
	Duration        float64        `json:"duration"`
	Text            string         `json:"text"`
	SourceID        string         `json:"source_id"`
	StreamSessionID string         `json:"stream_session_id"`
	Confidence      *float64       `json:"confidence,omitempty"`
	Metadata        submitMetadata `json:"metadata"`
}

type submitMetadata struct {
	OriginalTimestampUs int64  `json:"original_timestamp_us"`
	Source              string `json:"source"`
	Language            string `json:"language"`
}

// Client publishes transcriptions to the upstream event server. It
// implements [wsclient.Hooks] and [wsclient.HeartbeatHook]; callers drive it
// with [wsclient.Client.Run] and call [Client.Submit] to publish.
type Client struct {
	url             string
	sourceID        string
	streamSessionID string
	language        string
	loc             *time.Location
	ch              *wsclient.Channel

	mu   sync.Mutex
	conn *websocket.Conn
}

// New creates a transcription egress Client. loc is the configured timezone
// timestamps are rendered in (spec §6: "timestamp: ISO8601 in configured TZ").
func New(url, sourceID, streamSessionID, language string, loc *time.Location) *Client {
	if loc == nil {
		loc = time.UTC
	}
	return &Client{
		url:             url,
		sourceID:        sourceID,
		streamSessionID: streamSessionID,
		language:        language,
		loc:             loc,
		ch:              wsclient.NewChannel("transcription:live"),
	}
}

// Connect dials the egress WebSocket and sends phx_join.
func (c *Client) Connect(ctx context.Context) error {
	conn, _, err := websocket.Dial(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("phoenix: dial: %w", err)
	}

	join, err := c.ch.Join(nil)
	if err != nil {
		conn.Close(websocket.StatusInternalError, "join encode failed")
		return fmt.Errorf("phoenix: build phx_join: %w", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, join); err != nil {
		conn.Close(websocket.StatusInternalError, "join send failed")
		return fmt.Errorf("phoenix: send phx_join: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	return nil
}

// Listen reads acknowledgement frames until ctx is cancelled or the
// connection ends. The producer side only needs to observe phx_reply/error
// frames for logging; it has no inbound data to dispatch elsewhere.
func (c *Client) Listen(ctx context.Context) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("phoenix: not connected")
	}

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return fmt.Errorf("phoenix: read: %w", err)
		}
		msg, err := wsclient.ParsePhoenixMessage(data)
		if err != nil {
			slog.Warn("phoenix: invalid frame", "error", err)
			continue
		}
		if msg.Event == "phx_reply" {
			slog.Debug("phoenix: submit acknowledged", "ref", msg.Ref)
		}
	}
}

// Submit publishes a single transcription fragment as a submit_transcription
// event. originalTimestampUs is the fragment's original microsecond
// timestamp, recorded verbatim in metadata for downstream debugging.
func (c *Client) Submit(ctx context.Context, originalTimestampUs int64, duration float64, text string, confidence *float64) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("phoenix: not connected")
	}

	payload := submitPayload{
		Timestamp:       time.UnixMicro(originalTimestampUs).In(c.loc).Format(time.RFC3339),
		Duration:        duration,
		Text:            text,
		SourceID:        c.sourceID,
		StreamSessionID: c.streamSessionID,
		Confidence:      confidence,
		Metadata: submitMetadata{
			OriginalTimestampUs: originalTimestampUs,
			Source:              c.sourceID,
			Language:            c.language,
		},
	}

	frame, err := c.ch.Send("submit_transcription", payload)
	if err != nil {
		return fmt.Errorf("phoenix: build submit_transcription: %w", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, frame); err != nil {
		return fmt.Errorf("phoenix: send submit_transcription: %w", err)
	}
	return nil
}

// SendHeartbeat sends a Phoenix heartbeat frame, satisfying
// [wsclient.HeartbeatHook].
func (c *Client) SendHeartbeat(ctx context.Context) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("phoenix: not connected")
	}

	frame, err := c.ch.Heartbeat()
	if err != nil {
		return fmt.Errorf("phoenix: build heartbeat: %w", err)
	}
	return conn.Write(ctx, websocket.MessageText, frame)
}

// Disconnect sends phx_leave and closes the transport.
func (c *Client) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	leave, err := c.ch.Leave()
	if err == nil {
		_ = conn.Write(ctx, websocket.MessageText, leave)
	}
	return conn.Close(websocket.StatusNormalClosure, "disconnect")
}
