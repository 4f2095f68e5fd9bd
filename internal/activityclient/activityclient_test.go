package activityclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := New(Config{BaseURL: srv.URL}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestGetEvents_SendsEventTypeAndParsesEnvelope(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("event_type"); got != "channel.subscribe" {
			t.Errorf("event_type = %q", got)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{
				"events": []map[string]any{{"user_name": "viewer1"}},
			},
		})
	})

	events, err := c.GetEvents(context.Background(), EventSubscribe)
	if err != nil {
		t.Fatalf("GetEvents: %v", err)
	}
	if len(events) != 1 || events[0]["user_name"] != "viewer1" {
		t.Errorf("events = %+v", events)
	}
}

func TestGetStats_ParsesStats(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{
				"stats": map[string]any{
					"total_events":  42,
					"chat_messages": 30,
					"follows":       5,
				},
			},
		})
	})

	stats, err := c.GetStats(context.Background())
	if err != nil {
		t.Fatalf("GetStats: %v", err)
	}
	if stats.TotalEvents != 42 || stats.ChatMessages != 30 || stats.Follows != 5 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestGetStreamInfo_ReportsLiveStatus(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{
				"stream": map[string]any{"type": "live", "title": "Building a RAG pipeline"},
			},
		})
	})

	info, err := c.GetStreamInfo(context.Background())
	if err != nil {
		t.Fatalf("GetStreamInfo: %v", err)
	}
	if !info.IsLive() {
		t.Error("expected IsLive() true")
	}
	if info.Stream.Title != "Building a RAG pipeline" {
		t.Errorf("title = %q", info.Stream.Title)
	}
}

func TestGetEvents_PropagatesTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c, err := New(Config{BaseURL: srv.URL}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if _, err := c.GetEvents(context.Background(), EventChatMessage); err == nil {
		t.Error("expected error on 500")
	}
}
