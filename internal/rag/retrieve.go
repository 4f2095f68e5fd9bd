package rag

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/streamintel/internal/activityclient"
)

// retrievedData accumulates the per-source payloads gathered by
// [Handler.retrieveRelevantData], plus the vocabulary enrichment layered on
// top of it by [Handler.enhanceWithVocabulary].
type retrievedData struct {
	mu      sync.Mutex
	sources []string
	raw     map[string]any

	vocabulary *vocabularyContext
}

func newRetrievedData() *retrievedData {
	return &retrievedData{raw: map[string]any{}}
}

func (d *retrievedData) set(source string, value any) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.raw[source] = value
}

// intentKeywords maps a retrieval source name to the keyword set that
// triggers it, matching spec §4.6 step 1's routing table (itself grounded
// on rag_handler.py's _retrieve_relevant_data keyword checks).
var intentKeywords = []struct {
	source   string
	keywords []string
}{
	{"subscription_events", []string{"sub", "subscriber", "subscription", "resub", "gift"}},
	{"follower_events", []string{"follow", "follower", "new viewer"}},
	{"chat_messages", []string{"chat", "message", "said", "talking", "conversation"}},
	{"stream_info", []string{"game", "playing", "stream", "title", "category"}},
	{"raid_events", []string{"raid", "raided", "host"}},
	{"cheer_events", []string{"bits", "cheer", "cheered"}},
	{"ai_context_analysis", []string{"mood", "sentiment", "energy", "vibe", "feeling", "pattern", "trend", "topic"}},
}

// matchedSources returns the set of retrieval sources whose keyword group
// appears in question (case-folded).
func matchedSources(question string) []string {
	lower := strings.ToLower(question)
	var matched []string
	for _, group := range intentKeywords {
		for _, kw := range group.keywords {
			if strings.Contains(lower, kw) {
				matched = append(matched, group.source)
				break
			}
		}
	}
	return matched
}

// retrieveRelevantData fans out to every source the question's intent
// selects, plus activity stats (always included). Per spec §4.6 step 2,
// an individual retriever's failure is logged and the source is simply
// absent from the result — it never aborts the other in-flight retrievers.
//
// The fan-out uses golang.org/x/sync/errgroup for the same reason
// internal/hotctx/assembler.go does in the teacher repo: bounded concurrent
// I/O with a shared context. Unlike that assembler, a failing retriever here
// must not cancel its siblings, so each goroutine swallows its own error
// (logging it) and always returns nil to the group.
func (h *Handler) retrieveRelevantData(ctx context.Context, question string, timeWindowHours *int) *retrievedData {
	data := newRetrievedData()
	sources := matchedSources(question)
	data.sources = append(data.sources, sources...)

	eg, egCtx := errgroup.WithContext(ctx)

	for _, source := range sources {
		source := source
		eg.Go(func() error {
			value, err := h.runRetriever(egCtx, source, timeWindowHours)
			if err != nil {
				slog.Warn("rag: retriever failed", "source", source, "error", err)
				return nil
			}
			if value != nil {
				data.set(source, value)
			}
			return nil
		})
	}

	// Activity stats are always fetched, matching rag_handler.py's
	// unconditional "Always get basic stats for context" step.
	data.sources = append(data.sources, "activity_stats")
	eg.Go(func() error {
		stats, err := h.activity.GetStats(egCtx)
		if err != nil {
			slog.Warn("rag: retriever failed", "source", "activity_stats", "error", err)
			return nil
		}
		data.set("activity_stats", stats)
		return nil
	})

	// If intent routing found nothing source-specific, fall back to a
	// context-transcript search over extracted keywords.
	if len(sources) == 0 {
		if terms := extractSearchTerms(question); terms != "" {
			data.sources = append(data.sources, "context_search")
			eg.Go(func() error {
				results, err := h.contextStore.SearchContexts(egCtx, terms, 10)
				if err != nil {
					slog.Warn("rag: retriever failed", "source", "context_search", "error", err)
					return nil
				}
				data.set("context_search", results)
				return nil
			})
		}
	}

	_ = eg.Wait()
	return data
}

func (h *Handler) runRetriever(ctx context.Context, source string, timeWindowHours *int) (any, error) {
	switch source {
	case "subscription_events":
		return h.activity.GetEvents(ctx, activityclient.EventSubscribe)
	case "follower_events":
		return h.activity.GetEvents(ctx, activityclient.EventFollow)
	case "chat_messages":
		return h.activity.GetEvents(ctx, activityclient.EventChatMessage)
	case "stream_info":
		return h.activity.GetStreamInfo(ctx)
	case "raid_events":
		return h.activity.GetEvents(ctx, activityclient.EventRaid)
	case "cheer_events":
		return h.activity.GetEvents(ctx, activityclient.EventCheer)
	case "ai_context_analysis":
		return h.getContextPatterns(ctx, timeWindowHours)
	default:
		return nil, nil
	}
}

// contextPatterns bundles the aggregate stats and the most recent sealed
// contexts, as used by the "ai_context_analysis" prompt section.
type contextPatterns struct {
	Stats           any
	RecentContexts  any
}

// getContextPatterns is the only retriever that respects timeWindowHours —
// every other source is an unbounded bulk query, per spec §4.6 step 1's
// note that only AI context pattern retrieval is time-windowed. A nil
// timeWindowHours queries a full year, mirroring rag_handler.py's fallback.
func (h *Handler) getContextPatterns(ctx context.Context, timeWindowHours *int) (*contextPatterns, error) {
	hours := 8760
	if timeWindowHours != nil {
		hours = *timeWindowHours
	}
	stats, err := h.contextStore.GetContextStats(ctx, hours)
	if err != nil {
		return nil, err
	}
	contexts, err := h.contextStore.GetContexts(ctx, 10, "")
	if err != nil {
		return nil, err
	}
	return &contextPatterns{Stats: stats, RecentContexts: contexts}, nil
}
