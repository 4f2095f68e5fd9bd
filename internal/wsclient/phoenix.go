package wsclient

import (
	"encoding/json"
	"fmt"
	"sync/atomic"
)

// PhoenixMessage is a decoded Phoenix-channel frame, accepting both the
// object form {topic, event, payload, ref} and the legacy array form
// [join_ref, ref, topic, event, payload].
type PhoenixMessage struct {
	JoinRef string
	Ref     string
	Topic   string
	Event   string
	Payload json.RawMessage
}

// phoenixObject is the wire shape of the object-form Phoenix frame.
type phoenixObject struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	Ref     json.RawMessage `json:"ref"`
	JoinRef json.RawMessage `json:"join_ref,omitempty"`
}

// ParsePhoenixMessage decodes a raw inbound frame into a [PhoenixMessage].
// It tries the legacy 5-element array form [join_ref, ref, topic, event,
// payload] first, then the object form. Per spec §4.1 failure semantics,
// callers should log-and-drop frames that fail to parse rather than treating
// it as fatal.
func ParsePhoenixMessage(data []byte) (PhoenixMessage, error) {
	var arr []json.RawMessage
	if err := json.Unmarshal(data, &arr); err == nil && len(arr) == 5 {
		msg := PhoenixMessage{
			JoinRef: rawStringOrNumber(arr[0]),
			Ref:     rawStringOrNumber(arr[1]),
			Payload: arr[4],
		}
		if err := json.Unmarshal(arr[2], &msg.Topic); err != nil {
			return PhoenixMessage{}, fmt.Errorf("wsclient: legacy frame topic: %w", err)
		}
		if err := json.Unmarshal(arr[3], &msg.Event); err != nil {
			return PhoenixMessage{}, fmt.Errorf("wsclient: legacy frame event: %w", err)
		}
		return msg, nil
	}

	var obj phoenixObject
	if err := json.Unmarshal(data, &obj); err != nil {
		return PhoenixMessage{}, fmt.Errorf("wsclient: decode phoenix frame: %w", err)
	}
	return PhoenixMessage{
		JoinRef: rawStringOrNumber(obj.JoinRef),
		Ref:     rawStringOrNumber(obj.Ref),
		Topic:   obj.Topic,
		Event:   obj.Event,
		Payload: obj.Payload,
	}, nil
}

// rawStringOrNumber renders a json.RawMessage holding either a JSON string
// or a JSON number as a plain string, returning "" for nil/absent input.
func rawStringOrNumber(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}

// outboundFrame is the object-form shape used for every frame this service
// sends: {topic, event, payload, ref}.
type outboundFrame struct {
	Topic   string `json:"topic"`
	Event   string `json:"event"`
	Payload any    `json:"payload"`
	Ref     string `json:"ref"`
}

// Channel implements the Phoenix dialect mixin described by spec §4.1: a
// monotonic per-connection ref counter, phx_join on connect, phx_leave and a
// ref reset on disconnect, and a heartbeat frame builder. Ingest and egress
// clients embed a Channel to construct outbound frames for a joined topic.
type Channel struct {
	topic  string
	ref    atomic.Int64
	joined atomic.Bool
}

// NewChannel creates a Channel bound to the given topic, e.g.
// "transcription:live" or "events:all".
func NewChannel(topic string) *Channel {
	c := &Channel{topic: topic}
	c.ref.Store(0)
	return c
}

// nextRef returns the next monotonic ref as a string, starting at "1".
func (c *Channel) nextRef() string {
	return fmt.Sprintf("%d", c.ref.Add(1))
}

// Join builds the outbound phx_join frame for this channel's topic. Marks
// the channel joined.
func (c *Channel) Join(payload any) ([]byte, error) {
	if payload == nil {
		payload = map[string]any{}
	}
	frame := outboundFrame{
		Topic:   c.topic,
		Event:   "phx_join",
		Payload: payload,
		Ref:     c.nextRef(),
	}
	data, err := json.Marshal(frame)
	if err != nil {
		return nil, fmt.Errorf("wsclient: marshal phx_join: %w", err)
	}
	c.joined.Store(true)
	return data, nil
}

// Leave builds the outbound phx_leave frame and resets the channel's ref
// counter and joined flag, per spec §4.1 ("On disconnect, resets ref to 1
// and clears channel-joined flag").
func (c *Channel) Leave() ([]byte, error) {
	frame := outboundFrame{
		Topic:   c.topic,
		Event:   "phx_leave",
		Payload: map[string]any{},
		Ref:     c.nextRef(),
	}
	data, err := json.Marshal(frame)
	if err != nil {
		return nil, fmt.Errorf("wsclient: marshal phx_leave: %w", err)
	}
	c.ref.Store(0)
	c.joined.Store(false)
	return data, nil
}

// Heartbeat builds the outbound heartbeat frame, sent on the reserved
// "phoenix" topic rather than this channel's own topic.
func (c *Channel) Heartbeat() ([]byte, error) {
	frame := outboundFrame{
		Topic:   "phoenix",
		Event:   "heartbeat",
		Payload: map[string]any{},
		Ref:     c.nextRef(),
	}
	data, err := json.Marshal(frame)
	if err != nil {
		return nil, fmt.Errorf("wsclient: marshal heartbeat: %w", err)
	}
	return data, nil
}

// Send builds an arbitrary outbound frame on this channel's topic, e.g.
// "submit_transcription".
func (c *Channel) Send(event string, payload any) ([]byte, error) {
	frame := outboundFrame{
		Topic:   c.topic,
		Event:   event,
		Payload: payload,
		Ref:     c.nextRef(),
	}
	data, err := json.Marshal(frame)
	if err != nil {
		return nil, fmt.Errorf("wsclient: marshal %s frame: %w", event, err)
	}
	return data, nil
}

// Joined reports whether Join has been called since the last Leave/reset.
func (c *Channel) Joined() bool {
	return c.joined.Load()
}

// Topic returns the channel's topic.
func (c *Channel) Topic() string {
	return c.topic
}
