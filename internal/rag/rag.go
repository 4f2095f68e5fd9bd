// Package rag implements the RAG (Retrieval Augmented Generation) query
// orchestrator: it classifies a free-form question by keyword intent, fans
// out to the matching data sources concurrently, enriches the result with
// community vocabulary definitions, assembles a structured prompt, and
// calls the LLM client for a typed answer — falling back to a deterministic
// summary if the model is unavailable or returns nothing usable.
//
// Grounded on original_source/apps/seed/src/rag_handler.py's RAGHandler.
package rag

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrWong99/streamintel/internal/activityclient"
	"github.com/MrWong99/streamintel/internal/contextclient"
	"github.com/MrWong99/streamintel/pkg/types"
)

// ActivityReader is the subset of *[activityclient.Client] the orchestrator
// needs.
type ActivityReader interface {
	GetEvents(ctx context.Context, eventType activityclient.EventType) ([]map[string]any, error)
	GetStats(ctx context.Context) (*activityclient.Stats, error)
	GetStreamInfo(ctx context.Context) (*activityclient.StreamInfo, error)
}

// ContextReader is the subset of *[contextclient.Client] the orchestrator
// needs.
type ContextReader interface {
	GetContexts(ctx context.Context, limit int, session string) ([]contextclient.Context, error)
	SearchContexts(ctx context.Context, query string, limit int) ([]contextclient.Context, error)
	GetContextStats(ctx context.Context, hours int) (*contextclient.Stats, error)
}

// VocabularyReader is the subset of *[vocabclient.Client] the orchestrator
// needs. A nil VocabularyReader disables vocabulary enrichment entirely.
type VocabularyReader interface {
	SearchVocabulary(ctx context.Context, query string, limit int) ([]types.VocabularyEntry, error)
	GetPopular(ctx context.Context, limit int) ([]types.VocabularyEntry, error)
}

// ResponseGenerator is the subset of *[llmclient.Client] the orchestrator
// needs.
type ResponseGenerator interface {
	GenerateResponse(ctx context.Context, systemPrompt, prompt string) (*types.RAGResponse, error)
}

// Handler answers natural-language questions about the stream using the
// RAG pattern described in spec §4.6.
type Handler struct {
	activity         ActivityReader
	contextStore     ContextReader
	vocab            VocabularyReader
	llm              ResponseGenerator
	streamerIdentity string
}

// New constructs a [Handler]. activity, contextStore, and llm are required;
// vocab may be nil to disable vocabulary enrichment.
func New(activity ActivityReader, contextStore ContextReader, vocab VocabularyReader, llm ResponseGenerator, streamerIdentity string) (*Handler, error) {
	if activity == nil {
		return nil, fmt.Errorf("rag: activity reader is required")
	}
	if contextStore == nil {
		return nil, fmt.Errorf("rag: context reader is required")
	}
	if llm == nil {
		return nil, fmt.Errorf("rag: response generator is required")
	}
	if streamerIdentity == "" {
		streamerIdentity = "the streamer"
	}
	return &Handler{
		activity:         activity,
		contextStore:     contextStore,
		vocab:            vocab,
		llm:              llm,
		streamerIdentity: streamerIdentity,
	}, nil
}

// Result is the RAG query response shape spec §4.6 names.
type Result struct {
	Success         bool                  `json:"success"`
	Question        string                `json:"question"`
	Answer          string                `json:"answer,omitempty"`
	Confidence      float64               `json:"confidence,omitempty"`
	ResponseType    types.RAGResponseType `json:"response_type,omitempty"`
	Reasoning       string                `json:"reasoning,omitempty"`
	Suggestions     []string              `json:"suggestions,omitempty"`
	DataSummary     string                `json:"data_summary,omitempty"`
	Sources         []string              `json:"sources,omitempty"`
	TimeWindowHours *int                  `json:"time_window_hours,omitempty"`
	Timestamp       time.Time             `json:"timestamp"`
	Error           string                `json:"error,omitempty"`
}

// Query processes a natural-language question about streaming data and
// returns a [Result]. Data-source and model failures are absorbed rather
// than reported: a failed retriever leaves its source out of the data, and a
// failed or empty model call yields the fallback answer, per spec §7's
// "users observe failures as a reduced-confidence RAG answer" policy.
// Result.Success is always true and Result.Error is left empty.
func (h *Handler) Query(ctx context.Context, question string, timeWindowHours *int) *Result {
	now := time.Now()
	slog.Info("rag: processing query", "question", truncate(question, 100))

	data := h.retrieveRelevantData(ctx, question, timeWindowHours)
	h.enhanceWithVocabulary(ctx, data)

	answer := h.generateResponse(ctx, question, data)

	return &Result{
		Success:         true,
		Question:        question,
		Answer:          answer.Answer,
		Confidence:      answer.Confidence,
		ResponseType:    answer.ResponseType,
		Reasoning:       answer.Reasoning,
		Suggestions:     answer.Suggestions,
		DataSummary:     fmt.Sprintf("AI analysis of %d data sources", len(data.sources)),
		Sources:         data.sources,
		TimeWindowHours: timeWindowHours,
		Timestamp:       now,
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// generateResponse calls the LLM client with the assembled prompt, falling
// back to a deterministic summary per spec §4.6 step 6 if the call fails.
func (h *Handler) generateResponse(ctx context.Context, question string, data *retrievedData) *types.RAGResponse {
	prompt := h.buildPrompt(question, data)

	response, err := h.llm.GenerateResponse(ctx, "", prompt)
	if err != nil {
		slog.Warn("rag: llm generation failed, using fallback", "error", err)
		return h.fallbackResponse(data)
	}
	if response == nil || response.Answer == "" {
		slog.Warn("rag: llm returned no usable answer, using fallback")
		return h.fallbackResponse(data)
	}
	return response
}

// fallbackResponse synthesizes a basic answer from activity stats when the
// LLM is unavailable, per spec §4.6 step 6.
func (h *Handler) fallbackResponse(data *retrievedData) *types.RAGResponse {
	if subs, ok := data.raw["subscription_events"].([]map[string]any); ok && len(subs) > 0 {
		return &types.RAGResponse{
			Answer:       fmt.Sprintf("Found %d subscription events in the requested time period.", len(subs)),
			Confidence:   0.5,
			ResponseType: types.RAGResponseFactual,
		}
	}

	if stats, ok := data.raw["activity_stats"].(*activityclient.Stats); ok && stats != nil {
		return &types.RAGResponse{
			Answer: fmt.Sprintf("In the requested time period: %d chat messages, %d new followers, %d subscriptions.",
				stats.ChatMessages, stats.Follows, stats.Subscriptions),
			Confidence:   0.6,
			ResponseType: types.RAGResponseFactual,
		}
	}

	return &types.RAGResponse{
		Answer:       "I have the data but need the AI model to provide a detailed answer. Please try again.",
		Confidence:   0,
		ResponseType: types.RAGResponseInsufficientData,
	}
}
