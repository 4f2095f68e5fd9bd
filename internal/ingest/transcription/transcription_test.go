package transcription

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/MrWong99/streamintel/internal/wsclient"
	"github.com/MrWong99/streamintel/pkg/types"
)

type fakeSink struct {
	mu   sync.Mutex
	seen []types.Transcription
}

func (f *fakeSink) AddTranscription(_ context.Context, t types.Transcription) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen = append(f.seen, t)
}

func TestHandleFrame_DecodesNewTranscription(t *testing.T) {
	sink := &fakeSink{}
	c := New("ws://example/transcription", sink)

	conf := 0.92
	payload, _ := json.Marshal(transcriptionPayload{
		Timestamp:  "2024-05-01T12:00:00Z",
		Text:       "hello chat",
		Duration:   1.5,
		Confidence: &conf,
	})
	frame, _ := json.Marshal(map[string]any{
		"topic":   "transcription:live",
		"event":   "new_transcription",
		"payload": json.RawMessage(payload),
		"ref":     "2",
	})

	c.handleFrame(context.Background(), frame)

	if len(sink.seen) != 1 {
		t.Fatalf("expected 1 transcription, got %d", len(sink.seen))
	}
	got := sink.seen[0]
	if got.Text != "hello chat" || got.DurationSeconds != 1.5 {
		t.Errorf("unexpected transcription: %+v", got)
	}
	if got.Confidence == nil || *got.Confidence != 0.92 {
		t.Errorf("confidence not propagated: %+v", got.Confidence)
	}
}

func TestHandleFrame_IgnoresLifecycleEvents(t *testing.T) {
	sink := &fakeSink{}
	c := New("ws://example/transcription", sink)

	for _, event := range []string{"connection_established", "session_started", "session_ended", "transcription_stats"} {
		frame, _ := json.Marshal(map[string]any{
			"topic":   "transcription:live",
			"event":   event,
			"payload": map[string]any{},
			"ref":     "1",
		})
		c.handleFrame(context.Background(), frame)
	}

	if len(sink.seen) != 0 {
		t.Errorf("expected no transcriptions from lifecycle events, got %d", len(sink.seen))
	}
}

func TestHandleFrame_DropsMalformedJSON(t *testing.T) {
	sink := &fakeSink{}
	c := New("ws://example/transcription", sink)
	c.handleFrame(context.Background(), []byte("not json"))
	if len(sink.seen) != 0 {
		t.Errorf("expected malformed frame to be dropped")
	}
}

func TestHandleFrame_DropsUnparsableTimestamp(t *testing.T) {
	sink := &fakeSink{}
	c := New("ws://example/transcription", sink)

	payload, _ := json.Marshal(map[string]any{
		"timestamp": "not-a-timestamp",
		"text":      "hi",
		"duration":  1.0,
	})
	frame, _ := json.Marshal(map[string]any{
		"topic":   "transcription:live",
		"event":   "new_transcription",
		"payload": json.RawMessage(payload),
		"ref":     "3",
	})
	c.handleFrame(context.Background(), frame)

	if len(sink.seen) != 0 {
		t.Errorf("expected unparsable timestamp to be dropped")
	}
}

// Ensure Client satisfies the wsclient interfaces it's meant to plug into.
var (
	_ wsclient.Hooks         = (*Client)(nil)
	_ wsclient.HeartbeatHook = (*Client)(nil)
)
