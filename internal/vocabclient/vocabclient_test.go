package vocabclient

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"context"

	"github.com/MrWong99/streamintel/pkg/types"
)

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	c, err := New(Config{BaseURL: baseURL, Timeout: 2 * time.Second, MaxRetries: 1}, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestSearchVocabulary_ParsesAndCaches(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{
				{"phrase": "poggers", "category": "emote_phrase"},
			},
		})
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	entries, err := c.SearchVocabulary(context.Background(), "poggers", 0)
	if err != nil {
		t.Fatalf("SearchVocabulary: %v", err)
	}
	if len(entries) != 1 || entries[0].Phrase != "poggers" {
		t.Errorf("entries = %+v", entries)
	}

	// Second call should be served from cache, not hit the server again.
	if _, err := c.SearchVocabulary(context.Background(), "poggers", 0); err != nil {
		t.Fatalf("SearchVocabulary (cached): %v", err)
	}
	if calls != 1 {
		t.Errorf("server calls = %d, want 1 (second lookup should be cached)", calls)
	}
}

func TestSearchVocabulary_404IsEmptyNotError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	entries, err := c.SearchVocabulary(context.Background(), "nonexistent", 0)
	if err != nil {
		t.Fatalf("expected no error on 404, got %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("expected empty result, got %+v", entries)
	}
}

func TestGetPopular_UsesPopularQueryParam(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("type") != "popular" {
			t.Errorf("type = %q, want popular", r.URL.Query().Get("type"))
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"data": []map[string]any{}})
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	if _, err := c.GetPopular(context.Background(), 10); err != nil {
		t.Fatalf("GetPopular: %v", err)
	}
}

func TestGetByCategory_RejectsNothingClientSide(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("category") != "meme" {
			t.Errorf("category = %q", r.URL.Query().Get("category"))
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"data": []map[string]any{}})
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	if _, err := c.GetByCategory(context.Background(), types.VocabMeme, 0); err != nil {
		t.Fatalf("GetByCategory: %v", err)
	}
}

func TestCreateEntry_RejectsInvalidCategory(t *testing.T) {
	c := newTestClient(t, "http://unused")
	if _, err := c.CreateEntry(context.Background(), "gg", types.VocabularyCategory("nonsense"), ""); err == nil {
		t.Error("expected error for invalid category")
	}
}

func TestCreateEntry_ParsesCreatedEntry(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{"phrase": "gg", "category": "slang"},
		})
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	entry, err := c.CreateEntry(context.Background(), "gg", types.VocabSlang, "")
	if err != nil {
		t.Fatalf("CreateEntry: %v", err)
	}
	if entry == nil || entry.Phrase != "gg" {
		t.Errorf("entry = %+v", entry)
	}
}

func TestSearchVocabulary_RetriesOn5xxThenSucceeds(t *testing.T) {
	attempt := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempt++
		if attempt == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"data": []map[string]any{}})
	}))
	defer srv.Close()

	c, err := New(Config{BaseURL: srv.URL, Timeout: 2 * time.Second, MaxRetries: 3}, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := c.SearchVocabulary(context.Background(), "retryme", 0); err != nil {
		t.Fatalf("SearchVocabulary: %v", err)
	}
	if attempt < 2 {
		t.Errorf("attempt = %d, want at least 2 (one failure then a retry)", attempt)
	}
}
