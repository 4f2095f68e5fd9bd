package rag

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/MrWong99/streamintel/internal/activityclient"
	"github.com/MrWong99/streamintel/internal/contextclient"
	"github.com/MrWong99/streamintel/pkg/types"
)

type fakeActivity struct {
	events     map[activityclient.EventType][]map[string]any
	stats      *activityclient.Stats
	streamInfo *activityclient.StreamInfo
}

func (f *fakeActivity) GetEvents(_ context.Context, t activityclient.EventType) ([]map[string]any, error) {
	return f.events[t], nil
}
func (f *fakeActivity) GetStats(_ context.Context) (*activityclient.Stats, error) { return f.stats, nil }
func (f *fakeActivity) GetStreamInfo(_ context.Context) (*activityclient.StreamInfo, error) {
	return f.streamInfo, nil
}

type fakeContextReader struct {
	contexts []contextclient.Context
	stats    *contextclient.Stats
}

func (f *fakeContextReader) GetContexts(_ context.Context, limit int, session string) ([]contextclient.Context, error) {
	return f.contexts, nil
}
func (f *fakeContextReader) SearchContexts(_ context.Context, query string, limit int) ([]contextclient.Context, error) {
	return f.contexts, nil
}
func (f *fakeContextReader) GetContextStats(_ context.Context, hours int) (*contextclient.Stats, error) {
	return f.stats, nil
}

type fakeVocab struct {
	exact   map[string][]types.VocabularyEntry
	popular []types.VocabularyEntry
}

func (f *fakeVocab) SearchVocabulary(_ context.Context, query string, limit int) ([]types.VocabularyEntry, error) {
	return f.exact[query], nil
}
func (f *fakeVocab) GetPopular(_ context.Context, limit int) ([]types.VocabularyEntry, error) {
	return f.popular, nil
}

type fakeLLM struct {
	response *types.RAGResponse
	err      error
}

func (f *fakeLLM) GenerateResponse(_ context.Context, systemPrompt, prompt string) (*types.RAGResponse, error) {
	return f.response, f.err
}

func newTestHandler(t *testing.T, activity ActivityReader, ctxReader ContextReader, vocab VocabularyReader, llm ResponseGenerator) *Handler {
	t.Helper()
	h, err := New(activity, ctxReader, vocab, llm, "Avalonstar")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return h
}

func TestMatchedSources_RoutesByKeyword(t *testing.T) {
	cases := []struct {
		question string
		want     string
	}{
		{"How many subs do I have today?", "subscription_events"},
		{"Any new followers?", "follower_events"},
		{"What did chat say?", "chat_messages"},
		{"What game am I playing?", "stream_info"},
		{"Did anyone raid me?", "raid_events"},
		{"How many bits were cheered?", "cheer_events"},
		{"What's the mood of my stream?", "ai_context_analysis"},
	}
	for _, tc := range cases {
		t.Run(tc.want, func(t *testing.T) {
			sources := matchedSources(tc.question)
			found := false
			for _, s := range sources {
				if s == tc.want {
					found = true
				}
			}
			if !found {
				t.Errorf("matchedSources(%q) = %v, want to include %q", tc.question, sources, tc.want)
			}
		})
	}
}

func TestMatchedSources_NoKeywordsMatchesNothing(t *testing.T) {
	if sources := matchedSources("xyzzy plugh"); len(sources) != 0 {
		t.Errorf("expected no matched sources, got %v", sources)
	}
}

func TestExtractSearchTerms_DropsStopWordsAndCapsAtThree(t *testing.T) {
	got := extractSearchTerms("What did we talk about with the new game yesterday")
	words := strings.Fields(got)
	if len(words) > 3 {
		t.Errorf("expected at most 3 terms, got %v", words)
	}
	for _, w := range words {
		if _, stop := stopWords[w]; stop {
			t.Errorf("extractSearchTerms leaked stopword %q", w)
		}
	}
}

func TestExtractEmotesFromText_MatchesChannelEmoteShape(t *testing.T) {
	emotes := extractEmotesFromText("that was so avalonSTARWHEE today, great bardLove moment")
	if len(emotes) != 2 {
		t.Fatalf("expected 2 emotes, got %v", emotes)
	}
}

func TestExtractEmotesFromText_FiltersURLsAndShortMatches(t *testing.T) {
	emotes := extractEmotesFromText("check out httpFoo and the aBc")
	for _, e := range emotes {
		if strings.HasPrefix(strings.ToLower(e), "http") {
			t.Errorf("expected URL-shaped candidate filtered, got %q", e)
		}
	}
}

func TestFuzzyMatchPhrase_FindsCloseMatchAboveThreshold(t *testing.T) {
	known := []string{"avalonSTARWHEE", "bardLove"}
	if got := fuzzyMatchPhrase("avalonSTARWHE", known); got != "avalonSTARWHEE" {
		t.Errorf("fuzzyMatchPhrase = %q, want avalonSTARWHEE", got)
	}
}

func TestFuzzyMatchPhrase_NoMatchBelowThreshold(t *testing.T) {
	known := []string{"avalonSTARWHEE"}
	if got := fuzzyMatchPhrase("completelydifferent", known); got != "" {
		t.Errorf("expected no match, got %q", got)
	}
}

func TestQuery_UsesLLMResponseWhenAvailable(t *testing.T) {
	activity := &fakeActivity{stats: &activityclient.Stats{ChatMessages: 5}}
	ctxReader := &fakeContextReader{}
	llm := &fakeLLM{response: &types.RAGResponse{Answer: "You had 5 chat messages.", Confidence: 0.9, ResponseType: types.RAGResponseFactual}}

	h := newTestHandler(t, activity, ctxReader, nil, llm)
	result := h.Query(context.Background(), "How active was my chat?", nil)

	if !result.Success {
		t.Fatal("expected success")
	}
	if result.Answer != "You had 5 chat messages." {
		t.Errorf("answer = %q", result.Answer)
	}
	if result.Confidence != 0.9 {
		t.Errorf("confidence = %v", result.Confidence)
	}
}

func TestQuery_FallsBackWhenLLMErrors(t *testing.T) {
	activity := &fakeActivity{stats: &activityclient.Stats{ChatMessages: 7, Follows: 2, Subscriptions: 1}}
	ctxReader := &fakeContextReader{}
	llm := &fakeLLM{err: errTest{"model unavailable"}}

	h := newTestHandler(t, activity, ctxReader, nil, llm)
	result := h.Query(context.Background(), "What happened today?", nil)

	if !result.Success {
		t.Fatal("expected success even on LLM failure (fallback path)")
	}
	if result.Confidence != 0.6 {
		t.Errorf("expected fallback confidence 0.6, got %v", result.Confidence)
	}
	if !strings.Contains(result.Answer, "7 chat messages") {
		t.Errorf("fallback answer = %q", result.Answer)
	}
}

type errTest struct{ msg string }

func (e errTest) Error() string { return e.msg }

func TestHandleMessage_RoundTripsQueryAndResponse(t *testing.T) {
	activity := &fakeActivity{stats: &activityclient.Stats{}}
	ctxReader := &fakeContextReader{}
	llm := &fakeLLM{response: &types.RAGResponse{Answer: "all good", Confidence: 0.8, ResponseType: types.RAGResponseFactual}}
	h := newTestHandler(t, activity, ctxReader, nil, llm)

	raw, _ := json.Marshal(QueryMessage{Type: "rag_query", Question: "how's chat", CorrelationID: "abc123"})
	out := h.HandleMessage(context.Background(), raw)

	var decoded map[string]any
	if err := json.Unmarshal(out, &decoded); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if decoded["type"] != "rag_response" {
		t.Errorf("type = %v", decoded["type"])
	}
	if decoded["correlation_id"] != "abc123" {
		t.Errorf("correlation_id = %v", decoded["correlation_id"])
	}
	if decoded["answer"] != "all good" {
		t.Errorf("answer = %v", decoded["answer"])
	}
}

func TestHandleMessage_RejectsEmptyQuestion(t *testing.T) {
	activity := &fakeActivity{}
	ctxReader := &fakeContextReader{}
	llm := &fakeLLM{}
	h := newTestHandler(t, activity, ctxReader, nil, llm)

	raw, _ := json.Marshal(QueryMessage{Type: "rag_query", CorrelationID: "xyz"})
	out := h.HandleMessage(context.Background(), raw)

	var decoded map[string]any
	json.Unmarshal(out, &decoded)
	if decoded["type"] != "rag_error" {
		t.Errorf("type = %v, want rag_error", decoded["type"])
	}
}

func TestEnhanceWithVocabulary_AttachesDefinitions(t *testing.T) {
	activity := &fakeActivity{
		events: map[activityclient.EventType][]map[string]any{
			activityclient.EventChatMessage: {
				{"user_name": "viewer1", "data": map[string]any{"message": "nice avalonSTARWHEE today"}},
			},
		},
		stats: &activityclient.Stats{},
	}
	ctxReader := &fakeContextReader{}
	vocab := &fakeVocab{
		exact: map[string][]types.VocabularyEntry{
			"avalonSTARWHEE": {{Phrase: "avalonSTARWHEE", Category: types.VocabEmotePhrase}},
		},
	}
	llm := &fakeLLM{response: &types.RAGResponse{Answer: "ok", Confidence: 1, ResponseType: types.RAGResponseFactual}}
	h := newTestHandler(t, activity, ctxReader, vocab, llm)

	data := h.retrieveRelevantData(context.Background(), "what happened in my chat", nil)
	h.enhanceWithVocabulary(context.Background(), data)

	if data.vocabulary == nil || len(data.vocabulary.TermDefinitions) == 0 {
		t.Fatal("expected at least one vocabulary definition attached")
	}
}
