// Package events implements the event ingest client: it joins the
// "events:all" Phoenix channel and decodes chat, emote, and viewer
// interaction events into [types] values for the correlator.
//
// Grounded on original_source/apps/seed/src/websocket_client.py's
// ServerClient, including its fragment-based emote extraction, badge-based
// subscriber/moderator flags, and ISO-string-or-numeric timestamp handling.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/MrWong99/streamintel/internal/wsclient"
	"github.com/MrWong99/streamintel/pkg/types"
	"github.com/coder/websocket"
)

// Sink receives decoded chat messages and viewer interactions.
// *[internal/correlator.Correlator] satisfies this.
type Sink interface {
	AddChatMessage(msg types.ChatMessage)
	AddViewerInteraction(v types.ViewerInteraction)
}

// interactionKindByEvent maps the Phoenix event name to a [types.InteractionKind].
var interactionKindByEvent = map[string]types.InteractionKind{
	"follower":          types.InteractionFollow,
	"subscription":      types.InteractionSubscription,
	"gift_subscription": types.InteractionGiftSubscription,
	"cheer":             types.InteractionCheer,
}

// chatFragment is one element of a chat message's structured fragments.
type chatFragment struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// chatBadge identifies a chat badge, e.g. {"set_id":"subscriber"}.
type chatBadge struct {
	SetID string `json:"set_id"`
}

// chatMessageData is the wire shape of a chat_message event's payload.data.
type chatMessageData struct {
	UserName  string          `json:"user_name"`
	Message   string          `json:"message"`
	Timestamp json.RawMessage `json:"timestamp"`
	Fragments []chatFragment  `json:"fragments"`
	Badges    []chatBadge     `json:"badges"`
}

// interactionData is the wire shape of a viewer-interaction event's
// payload.data; unknown fields are retained verbatim in Details.
type interactionData struct {
	Timestamp json.RawMessage `json:"timestamp"`
	UserName  string          `json:"user_name"`
	UserID    string          `json:"user_id"`
	raw       map[string]any
}

func (d *interactionData) UnmarshalJSON(b []byte) error {
	type alias interactionData
	var a alias
	if err := json.Unmarshal(b, &a); err != nil {
		return err
	}
	*d = interactionData(a)
	return json.Unmarshal(b, &d.raw)
}

// Client joins "events:all" and feeds decoded events to a Sink. It
// implements [wsclient.Hooks] and [wsclient.HeartbeatHook]; callers drive it
// with [wsclient.Client.Run].
type Client struct {
	url          string
	sink         Sink
	emotePrefix  string
	ch           *wsclient.Channel

	mu   sync.Mutex
	conn *websocket.Conn
}

// New creates an event ingest Client. emotePrefix identifies "native" emotes
// (e.g. "avalon") for engagement metrics.
func New(url string, sink Sink, emotePrefix string) *Client {
	return &Client{
		url:         url,
		sink:        sink,
		emotePrefix: emotePrefix,
		ch:          wsclient.NewChannel("events:all"),
	}
}

// Connect dials the events WebSocket and sends phx_join.
func (c *Client) Connect(ctx context.Context) error {
	conn, _, err := websocket.Dial(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("events: dial: %w", err)
	}

	join, err := c.ch.Join(nil)
	if err != nil {
		conn.Close(websocket.StatusInternalError, "join encode failed")
		return fmt.Errorf("events: build phx_join: %w", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, join); err != nil {
		conn.Close(websocket.StatusInternalError, "join send failed")
		return fmt.Errorf("events: send phx_join: %w", err)
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
		return fmt.Errorf("events: not connected")
	}

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return fmt.Errorf("events: read: %w", err)
		}
		c.handleFrame(data)
	}
}

// handleFrame decodes and dispatches a single inbound Phoenix frame, logging
// and dropping anything malformed rather than failing the connection.
func (c *Client) handleFrame(data []byte) {
	msg, err := wsclient.ParsePhoenixMessage(data)
	if err != nil {
		slog.Warn("events: invalid phoenix frame", "error", err)
		return
	}

	if msg.Topic != "events:all" {
		return
	}

	switch {
	case msg.Event == "phx_reply":
		// Join confirmation; no action needed.
	case msg.Event == "chat_message":
		c.handleChatMessage(msg.Payload)
	default:
		if kind, ok := interactionKindByEvent[msg.Event]; ok {
			c.handleInteraction(kind, msg.Payload)
		} else {
			slog.Debug("events: unhandled event", "event", msg.Event)
		}
	}
}

// eventPayload is the outer payload shape {"data": {...}}.
type eventPayload struct {
	Data json.RawMessage `json:"data"`
}

func (c *Client) handleChatMessage(payload json.RawMessage) {
	var env eventPayload
	if err := json.Unmarshal(payload, &env); err != nil {
		slog.Warn("events: invalid chat_message payload", "error", err)
		return
	}
	var data chatMessageData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		slog.Warn("events: invalid chat_message data", "error", err)
		return
	}

	var emotes, nativeEmotes []string
	for _, f := range data.Fragments {
		if f.Type != "emote" {
			continue
		}
		emotes = append(emotes, f.Text)
		if c.emotePrefix != "" && strings.HasPrefix(f.Text, c.emotePrefix) {
			nativeEmotes = append(nativeEmotes, f.Text)
		}
	}

	var isSubscriber, isModerator bool
	for _, b := range data.Badges {
		switch b.SetID {
		case "subscriber":
			isSubscriber = true
		case "moderator":
			isModerator = true
		}
	}

	us, err := types.ParseFlexibleTimestampUs(data.Timestamp)
	if err != nil {
		slog.Warn("events: unparsable chat timestamp", "error", err)
		us = 0
	}

	c.sink.AddChatMessage(types.ChatMessage{
		TimestampUs:  us,
		Username:     data.UserName,
		Message:      data.Message,
		Emotes:       emotes,
		NativeEmotes: nativeEmotes,
		IsSubscriber: isSubscriber,
		IsModerator:  isModerator,
	})
}

func (c *Client) handleInteraction(kind types.InteractionKind, payload json.RawMessage) {
	var env eventPayload
	if err := json.Unmarshal(payload, &env); err != nil {
		slog.Warn("events: invalid interaction payload", "error", err)
		return
	}
	var data interactionData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		slog.Warn("events: invalid interaction data", "error", err)
		return
	}

	us, err := types.ParseFlexibleTimestampUs(data.Timestamp)
	if err != nil {
		slog.Warn("events: unparsable interaction timestamp", "error", err)
		us = 0
	}

	c.sink.AddViewerInteraction(types.ViewerInteraction{
		TimestampUs: us,
		Kind:        kind,
		Username:    data.UserName,
		UserID:      data.UserID,
		Details:     data.raw,
	})
}

// SendHeartbeat sends a Phoenix heartbeat frame, satisfying
// [wsclient.HeartbeatHook].
func (c *Client) SendHeartbeat(ctx context.Context) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("events: not connected")
	}

	frame, err := c.ch.Heartbeat()
	if err != nil {
		return fmt.Errorf("events: build heartbeat: %w", err)
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
