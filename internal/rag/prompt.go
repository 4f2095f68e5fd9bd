package rag

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/MrWong99/streamintel/internal/activityclient"
	"github.com/MrWong99/streamintel/internal/contextclient"
	"github.com/MrWong99/streamintel/pkg/types"
)

// vocabularyContext is the enrichment layer spec §4.6 step 3 attaches to a
// retrievedData before prompt assembly.
type vocabularyContext struct {
	TermDefinitions   map[string]vocabDefinition
	PopularVocabulary []types.VocabularyEntry
	TermsSearched     int
}

type vocabDefinition struct {
	Phrase     string
	Category   types.VocabularyCategory
	Definition string
}

// enhanceWithVocabulary scans any retrieved chat messages for vocabulary
// candidates, looks each up (falling back to a fuzzy match against the
// popular-vocabulary pool on an exact miss), and attaches the result to
// data. A missing or failing vocabulary client is a no-op, not an error —
// per spec §4.6, enrichment failure must not abort the query.
func (h *Handler) enhanceWithVocabulary(ctx context.Context, data *retrievedData) {
	if h.vocab == nil {
		return
	}

	popular, err := h.vocab.GetPopular(ctx, 10)
	if err != nil {
		slog.Warn("rag: failed to fetch popular vocabulary", "error", err)
		popular = nil
	}
	knownPhrases := make([]string, len(popular))
	for i, p := range popular {
		knownPhrases[i] = p.Phrase
	}

	terms := map[string]struct{}{}
	if raw, ok := data.raw["chat_messages"]; ok {
		for _, text := range chatMessageTexts(raw) {
			for _, term := range extractVocabularyCandidates(text) {
				terms[term] = struct{}{}
			}
		}
	}

	definitions := map[string]vocabDefinition{}
	for term := range terms {
		results, err := h.vocab.SearchVocabulary(ctx, term, 1)
		if err != nil {
			slog.Warn("rag: vocabulary lookup failed", "term", term, "error", err)
			continue
		}
		if len(results) > 0 {
			definitions[term] = vocabDefinition{
				Phrase:     results[0].Phrase,
				Category:   results[0].Category,
				Definition: stringOrEmpty(results[0].Definition),
			}
			continue
		}
		if match := fuzzyMatchPhrase(term, knownPhrases); match != "" {
			for _, p := range popular {
				if p.Phrase == match {
					definitions[term] = vocabDefinition{
						Phrase:     p.Phrase,
						Category:   p.Category,
						Definition: stringOrEmpty(p.Definition),
					}
					break
				}
			}
		}
	}

	data.vocabulary = &vocabularyContext{
		TermDefinitions:   definitions,
		PopularVocabulary: popular,
		TermsSearched:     len(terms),
	}
	slog.Info("rag: enhanced data with vocabulary context",
		"definitions", len(definitions), "popular", len(popular))
}

func stringOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// chatMessageTexts extracts the message text from every raw chat event
// regardless of whether the payload nests it under data.message or
// data.message.text, matching rag_handler.py's defensive unwrapping.
func chatMessageTexts(raw any) []string {
	events, ok := raw.([]map[string]any)
	if !ok {
		return nil
	}
	var texts []string
	for _, evt := range events {
		data, _ := evt["data"].(map[string]any)
		if data == nil {
			continue
		}
		switch msg := data["message"].(type) {
		case string:
			texts = append(texts, msg)
		case map[string]any:
			if text, ok := msg["text"].(string); ok {
				texts = append(texts, text)
			}
		}
	}
	return texts
}

// buildStreamFlowContext describes whether the stream is currently live or
// offline, explicitly framing "offline" as the normal end-of-stream state
// rather than a problem, per spec §4.6 step 4.
func buildStreamFlowContext(data *retrievedData) string {
	lines := []string{"Stream Flow Context:"}

	info, _ := data.raw["stream_info"].(*activityclient.StreamInfo)
	switch {
	case info != nil && info.IsLive():
		lines = append(lines,
			"- Stream is currently LIVE (data represents active streaming period)",
			"- Recent events occur during active streaming")
	case info != nil:
		lines = append(lines,
			"- Stream is currently OFFLINE (most recent event: stream ended)",
			"- Events from time window include both streaming and offline periods",
			"- IMPORTANT: 'Stream offline' is normal end-of-stream, NOT a problem",
			"- Pre-stream setup -> Live streaming -> Post-stream analysis is normal flow")
	default:
		lines = append(lines, "- Stream status unknown - treat recent events as potentially from different stream states")
	}

	lines = append(lines,
		"- Stream Lifecycle: Pre-stream (setup) -> Live (active) -> Post-stream (offline)",
		"- Events from different lifecycle phases are all valid data points")
	return strings.Join(lines, "\n")
}

// buildVocabularyContext renders term definitions and popular community
// terms so the model can interpret stream lingo, per spec §4.6 step 4.
func buildVocabularyContext(data *retrievedData) string {
	if data.vocabulary == nil {
		return ""
	}
	vocab := data.vocabulary

	lines := []string{"Community Vocabulary Context:"}

	if len(vocab.TermDefinitions) > 0 {
		lines = append(lines, "- Term Definitions (stream lingo/community terms):")
		terms := make([]string, 0, len(vocab.TermDefinitions))
		for t := range vocab.TermDefinitions {
			terms = append(terms, t)
		}
		sort.Strings(terms)
		for _, term := range terms {
			def := vocab.TermDefinitions[term]
			if def.Definition != "" {
				lines = append(lines, fmt.Sprintf("  - %q (%s): %s", term, def.Category, def.Definition))
			} else {
				lines = append(lines, fmt.Sprintf("  - %q: recognized %s in this community", term, def.Category))
			}
		}
	}

	if len(vocab.PopularVocabulary) > 0 {
		lines = append(lines, "- Popular Community Terms:")
		top := vocab.PopularVocabulary
		if len(top) > 5 {
			top = top[:5]
		}
		for _, v := range top {
			def := stringOrEmpty(v.Definition)
			switch {
			case v.Phrase != "" && def != "":
				lines = append(lines, fmt.Sprintf("  - %q (%s): %s", v.Phrase, v.Category, def))
			case v.Phrase != "":
				lines = append(lines, fmt.Sprintf("  - %q: community %s", v.Phrase, v.Category))
			}
		}
	}

	lines = append(lines, "- Use these definitions when interpreting chat messages and user interactions")
	return strings.Join(lines, "\n")
}

// buildPrompt assembles the full user-turn prompt sent to the model,
// per spec §4.6 step 4.
func (h *Handler) buildPrompt(question string, data *retrievedData) string {
	var parts []string

	if flow := buildStreamFlowContext(data); flow != "" {
		parts = append(parts, flow)
	}
	if vocab := buildVocabularyContext(data); vocab != "" {
		parts = append(parts, vocab)
	}

	if stats, ok := data.raw["activity_stats"].(*activityclient.Stats); ok && stats != nil {
		parts = append(parts, fmt.Sprintf(
			"Stream Activity Summary:\n- Total events: %d\n- Unique users: %d\n- Chat messages: %d\n- New followers: %d\n- Subscriptions: %d\n- Cheers: %d",
			stats.TotalEvents, stats.UniqueUsers, stats.ChatMessages, stats.Follows, stats.Subscriptions, stats.Cheers))
	}

	for _, source := range data.sources {
		value, ok := data.raw[source]
		if !ok {
			continue
		}
		switch source {
		case "subscription_events":
			parts = append(parts, "\nSubscription Data:\n"+formatSubscriptionData(value))
		case "follower_events":
			parts = append(parts, "\nFollower Data:\n"+formatFollowerData(value))
		case "chat_messages":
			parts = append(parts, "\nRecent Chat Activity:\n"+formatChatData(value))
		case "stream_info":
			parts = append(parts, "\nStream Information:\n"+formatStreamInfo(value))
		case "ai_context_analysis":
			parts = append(parts, "\nAI Context Analysis:\n"+formatContextAnalysis(value))
		case "context_search":
			parts = append(parts, "\nRelevant Transcript Segments:\n"+formatContextSearch(value))
		}
	}

	fullContext := strings.Join(parts, "\n")

	return fmt.Sprintf(`You are answering questions about %s's Twitch stream based on real data.

Question: %q

Available Data:
%s

CRITICAL IDENTITY CONTEXT: The person asking this question IS %s, the streamer themselves. They are asking about THEIR OWN stream. When they say "my chat" they mean their channel's chat. When you see "%s" in the data, that refers to the person asking the question, not a separate user.

Instructions for your structured response:
1. answer: Provide a direct, concise answer (2-3 sentences max) using ONLY the provided data
2. confidence: Rate your confidence 0.0-1.0 based on data completeness and clarity
3. reasoning: Brief explanation of how you derived the answer from the data
4. response_type: one of factual, creative, clarification, insufficient_data
5. suggestions: (Optional) For creative responses, provide follow-up ideas

Guidelines:
- The person asking IS %s, so respond accordingly (use "your chat", "your stream", etc.)
- Be precise with numbers, usernames, and facts from the data
- Use Community Vocabulary Context to understand stream lingo, emotes, and inside jokes
- Channel emotes follow the pattern prefixSUFFIX/prefixSuffix - recognize these as reactions, not regular words
- Remember: "Stream offline" means the stream ended normally - this is NOT a problem`,
		h.streamerIdentity, question, fullContext, h.streamerIdentity, h.streamerIdentity, h.streamerIdentity)
}

func formatSubscriptionData(value any) string {
	subs, _ := value.([]map[string]any)
	if len(subs) == 0 {
		return "No subscriptions found"
	}

	tierCounts := map[string]int{}
	totalMonths := 0
	var lines []string
	limit := subs
	if len(limit) > 10 {
		limit = limit[:10]
	}
	for _, sub := range limit {
		data, _ := sub["data"].(map[string]any)
		tier, _ := data["tier"].(string)
		if tier == "" {
			tier = "1000"
		}
		months := intField(data, "cumulative_months", 1)
		tierCounts[tier]++
		totalMonths += months
		user, _ := sub["user_name"].(string)
		if user == "" {
			user = "Unknown"
		}
		tierDigit := "1"
		if tier != "" {
			tierDigit = string(tier[0])
		}
		lines = append(lines, fmt.Sprintf("- %s: Tier %s (%d months)", user, tierDigit, months))
	}

	summary := fmt.Sprintf("Total: %d subs", len(subs))
	if len(tierCounts) > 0 {
		summary += fmt.Sprintf(", Tiers: %v", tierCounts)
	}
	if totalMonths > len(subs) {
		summary += fmt.Sprintf(", Avg tenure: %.1f months", float64(totalMonths)/float64(len(subs)))
	}
	if len(lines) > 5 {
		lines = lines[:5]
	}
	return summary + "\n" + strings.Join(lines, "\n")
}

func formatFollowerData(value any) string {
	followers, _ := value.([]map[string]any)
	if len(followers) == 0 {
		return "No new followers found"
	}
	lines := []string{fmt.Sprintf("Total new followers: %d", len(followers))}
	limit := followers
	if len(limit) > 5 {
		limit = limit[:5]
	}
	for _, f := range limit {
		user, _ := f["user_name"].(string)
		if user == "" {
			user = "Unknown"
		}
		lines = append(lines, "- "+user)
	}
	return strings.Join(lines, "\n")
}

func formatChatData(value any) string {
	texts := chatMessageTexts(value)
	messages, _ := value.([]map[string]any)
	if len(messages) == 0 {
		return "No chat messages found"
	}

	chatters := map[string]struct{}{}
	emotes := map[string]struct{}{}
	for _, msg := range messages {
		if user, ok := msg["user_name"].(string); ok && user != "" {
			chatters[user] = struct{}{}
		}
	}
	for _, text := range texts {
		for _, e := range extractEmotesFromText(text) {
			emotes[e] = struct{}{}
		}
	}

	lines := []string{fmt.Sprintf("Total messages: %d", len(messages)), fmt.Sprintf("Active chatters: %d", len(chatters))}
	if len(emotes) > 0 {
		names := make([]string, 0, len(emotes))
		for e := range emotes {
			names = append(names, e)
		}
		sort.Strings(names)
		lines = append(lines, "Channel emotes used: "+strings.Join(names, ", "))
	}

	lines = append(lines, fmt.Sprintf("\nALL chat messages (%d total):", len(messages)))
	count := 0
	for _, msg := range messages {
		data, _ := msg["data"].(map[string]any)
		var text string
		if data != nil {
			switch m := data["message"].(type) {
			case string:
				text = m
			case map[string]any:
				text, _ = m["text"].(string)
			}
		}
		if text == "" {
			continue
		}
		user, _ := msg["user_name"].(string)
		if user == "" {
			user = "Unknown"
		}
		lines = append(lines, fmt.Sprintf("- %s: %s", user, text))
		count++
	}
	if count == 0 {
		lines = append(lines, "- No recent messages with text content")
	}
	return strings.Join(lines, "\n")
}

func formatStreamInfo(value any) string {
	info, _ := value.(*activityclient.StreamInfo)
	if info == nil {
		return "Stream information not available"
	}
	var lines []string
	if info.IsLive() {
		lines = append(lines,
			"Stream is LIVE",
			"Title: "+orUnknown(info.Stream.Title),
			"Game: "+orUnknown(info.Stream.GameName),
			fmt.Sprintf("Viewers: %d", info.Stream.ViewerCount),
			"Started: "+orUnknown(info.Stream.StartedAt))
	} else {
		lines = append(lines, "Stream is OFFLINE")
	}
	if info.Channel.BroadcasterName != "" {
		lines = append(lines, "Broadcaster: "+info.Channel.BroadcasterName)
	}
	return strings.Join(lines, "\n")
}

func orUnknown(s string) string {
	if s == "" {
		return "Unknown"
	}
	return s
}

func formatContextAnalysis(value any) string {
	patterns, _ := value.(*contextPatterns)
	if patterns == nil {
		return "No context analysis available"
	}
	var lines []string
	if stats, ok := patterns.Stats.(*contextclient.Stats); ok && stats != nil {
		lines = append(lines, fmt.Sprintf("Context windows analyzed: %d", stats.TotalContexts))
	}
	if contexts, ok := patterns.RecentContexts.([]contextclient.Context); ok {
		top := contexts
		if len(top) > 3 {
			top = top[:3]
		}
		if len(top) > 0 {
			lines = append(lines, "\nRecent patterns detected:")
		}
		for _, ctx := range top {
			sentiment := "neutral"
			if ctx.Sentiment != nil {
				sentiment = string(*ctx.Sentiment)
			}
			lines = append(lines, fmt.Sprintf("- Topics: %s", strings.Join(ctx.Topics, ", ")))
			lines = append(lines, "  Sentiment: "+sentiment)
		}
	}
	if len(lines) == 0 {
		return "No context analysis available"
	}
	return strings.Join(lines, "\n")
}

func formatContextSearch(value any) string {
	contexts, _ := value.([]contextclient.Context)
	if len(contexts) == 0 {
		return "No matching contexts found"
	}
	lines := []string{fmt.Sprintf("Found %d matching transcript segments:", len(contexts))}
	top := contexts
	if len(top) > 3 {
		top = top[:3]
	}
	for _, ctx := range top {
		transcript := ctx.Transcript
		if len(transcript) > 200 {
			transcript = transcript[:200]
		}
		lines = append(lines, "\n- "+transcript+"...")
		if ctx.Sentiment != nil {
			lines = append(lines, "  Sentiment: "+string(*ctx.Sentiment))
		}
	}
	return strings.Join(lines, "\n")
}

func intField(data map[string]any, key string, def int) int {
	if data == nil {
		return def
	}
	switch v := data[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return def
}
