// Package transcription implements the transcription ingest client: it joins
// the "transcription:live" Phoenix channel and decodes new_transcription
// events into [types.Transcription] values for the correlator.
//
// Grounded on original_source/apps/seed/src/websocket_client.py's
// PhononmaserClient, redesigned onto the Phoenix channel dialect per spec
// §6 ("Transcription ingest (WebSocket, Phoenix)").
package transcription

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/MrWong99/streamintel/internal/wsclient"
	"github.com/MrWong99/streamintel/pkg/types"
	"github.com/coder/websocket"
)

// Sink receives decoded transcription fragments. *[internal/correlator.Correlator]
// satisfies this via its AddTranscription method.
type Sink interface {
	AddTranscription(ctx context.Context, t types.Transcription)
}

// transcriptionPayload is the wire shape of a new_transcription event's
// payload: {timestamp: ISO8601, text, duration, confidence?}.
type transcriptionPayload struct {
	Timestamp  string   `json:"timestamp"`
	Text       string   `json:"text"`
	Duration   float64  `json:"duration"`
	Confidence *float64 `json:"confidence,omitempty"`
}

// Client joins "transcription:live" and feeds decoded fragments to a Sink.
// It implements [wsclient.Hooks] and [wsclient.HeartbeatHook]; callers drive
// it with [wsclient.Client.Run].
type Client struct {
	url  string
	sink Sink
	ch   *wsclient.Channel

	mu   sync.Mutex
	conn *websocket.Conn
}

// New creates a transcription ingest Client for the given WebSocket URL.
func New(url string, sink Sink) *Client {
	return &Client{
		url:  url,
		sink: sink,
		ch:   wsclient.NewChannel("transcription:live"),
	}
}

// Connect dials the transcription WebSocket and sends phx_join.
func (c *Client) Connect(ctx context.Context) error {
	conn, _, err := websocket.Dial(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("transcription: dial: %w", err)
	}

	join, err := c.ch.Join(nil)
	if err != nil {
		conn.Close(websocket.StatusInternalError, "join encode failed")
		return fmt.Errorf("transcription: build phx_join: %w", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, join); err != nil {
		conn.Close(websocket.StatusInternalError, "join send failed")
		return fmt.Errorf("transcription: send phx_join: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	return nil
}

// Listen reads Phoenix frames until ctx is cancelled or the connection ends.
func (c *Client) Listen(ctx context.Context) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("transcription: not connected")
	}

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return fmt.Errorf("transcription: read: %w", err)
		}
		c.handleFrame(ctx, data)
	}
}

// handleFrame decodes and dispatches a single inbound Phoenix frame, logging
// and dropping anything malformed rather than failing the connection.
func (c *Client) handleFrame(ctx context.Context, data []byte) {
	msg, err := wsclient.ParsePhoenixMessage(data)
	if err != nil {
		slog.Warn("transcription: invalid phoenix frame", "error", err)
		return
	}

	switch msg.Event {
	case "new_transcription":
		c.handleTranscription(ctx, msg.Payload)
	case "connection_established", "session_started", "session_ended", "transcription_stats", "phx_reply":
		// Informational/lifecycle events; no action needed.
	default:
		slog.Debug("transcription: unhandled event", "event", msg.Event)
	}
}

func (c *Client) handleTranscription(ctx context.Context, payload json.RawMessage) {
	var p transcriptionPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		slog.Warn("transcription: invalid new_transcription payload", "error", err)
		return
	}

	us, err := types.ParseISO8601Us(p.Timestamp)
	if err != nil {
		slog.Warn("transcription: unparsable timestamp", "timestamp", p.Timestamp, "error", err)
		return
	}

	c.sink.AddTranscription(ctx, types.Transcription{
		TimestampUs:     us,
		Text:            p.Text,
		DurationSeconds: p.Duration,
		Confidence:      p.Confidence,
	})
}

// SendHeartbeat sends a Phoenix heartbeat frame on the reserved "phoenix"
// topic, satisfying [wsclient.HeartbeatHook].
func (c *Client) SendHeartbeat(ctx context.Context) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("transcription: not connected")
	}

	frame, err := c.ch.Heartbeat()
	if err != nil {
		return fmt.Errorf("transcription: build heartbeat: %w", err)
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
