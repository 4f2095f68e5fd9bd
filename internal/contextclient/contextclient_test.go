package contextclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MrWong99/streamintel/pkg/types"
)

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	c, err := New(Config{BaseURL: baseURL, Timeout: 2 * time.Second}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestCreateContext_RequiredFields(t *testing.T) {
	c := newTestClient(t, "http://unused")

	err := c.CreateContext(context.Background(), Context{})
	if err == nil {
		t.Fatal("expected error for missing required fields")
	}
}

func TestCreateContext_DropsInvalidSentiment(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	bogus := types.Sentiment("ecstatic")
	cx := Context{
		Started:    time.Now().Add(-time.Minute),
		Ended:      time.Now(),
		Session:    "2026-07-31-01",
		Transcript: "hello stream",
		Duration:   60,
		Sentiment:  &bogus,
	}
	if err := c.CreateContext(context.Background(), cx); err != nil {
		t.Fatalf("CreateContext: %v", err)
	}
	if _, ok := gotBody["sentiment"]; ok {
		t.Errorf("expected invalid sentiment to be dropped from wire body, got %v", gotBody["sentiment"])
	}
}

func TestCreateContext_AcceptsMixedSentiment(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	mixed := types.SentimentMixed
	cx := Context{
		Started:    time.Now().Add(-time.Minute),
		Ended:      time.Now(),
		Session:    "2026-07-31-01",
		Transcript: "hello stream",
		Duration:   60,
		Sentiment:  &mixed,
	}
	if err := c.CreateContext(context.Background(), cx); err != nil {
		t.Fatalf("CreateContext: %v", err)
	}
	if gotBody["sentiment"] != "mixed" {
		t.Errorf("sentiment = %v, want mixed to survive (it is a valid types.Sentiment value)", gotBody["sentiment"])
	}
}

func TestCreateContext_422ReturnsValidationError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"errors": map[string]any{"duration": "must be positive"},
		})
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	cx := Context{
		Started:    time.Now().Add(-time.Minute),
		Ended:      time.Now(),
		Session:    "s",
		Transcript: "t",
		Duration:   1,
	}
	err := c.CreateContext(context.Background(), cx)
	if err == nil {
		t.Fatal("expected validation error")
	}
	var ve *ValidationError
	if !asValidationError(err, &ve) {
		t.Fatalf("expected *ValidationError, got %T: %v", err, err)
	}
}

func asValidationError(err error, target **ValidationError) bool {
	ve, ok := err.(*ValidationError)
	if ok {
		*target = ve
	}
	return ok
}

func TestGetContexts_ParsesEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("limit") != "5" {
			t.Errorf("limit query = %q, want 5", r.URL.Query().Get("limit"))
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{
				{"session": "s1", "transcript": "hi", "duration": 10},
			},
		})
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	contexts, err := c.GetContexts(context.Background(), 5, "")
	if err != nil {
		t.Fatalf("GetContexts: %v", err)
	}
	if len(contexts) != 1 || contexts[0].Session != "s1" {
		t.Errorf("contexts = %+v", contexts)
	}
}

func TestSearchContexts_SendsQueryParam(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("q") != "subscriber moment" {
			t.Errorf("q = %q", r.URL.Query().Get("q"))
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"data": []map[string]any{}})
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	if _, err := c.SearchContexts(context.Background(), "subscriber moment", 0); err != nil {
		t.Fatalf("SearchContexts: %v", err)
	}
}

func TestGetContextStats_ParsesStats(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("hours") != "24" {
			t.Errorf("hours = %q, want 24", r.URL.Query().Get("hours"))
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{"total_contexts": 3, "total_duration": 180.0, "average_duration": 60.0},
		})
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	stats, err := c.GetContextStats(context.Background(), 24)
	if err != nil {
		t.Fatalf("GetContextStats: %v", err)
	}
	if stats.TotalContexts != 3 {
		t.Errorf("total_contexts = %d, want 3", stats.TotalContexts)
	}
}
