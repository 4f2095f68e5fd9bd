package correlator

import (
	"fmt"
	"sort"
	"strings"

	"github.com/MrWong99/streamintel/pkg/types"
)

// buildCorrelatedChatContext pairs each buffered transcription fragment
// with the chat messages that arrived within CorrelationWindow afterward,
// falling back to a summary of all recent chat when no fragment has any
// correlated messages.
func (c *Correlator) buildCorrelatedChatContext() string {
	fragments := c.transcriptions.snapshot()
	chat := c.chat.snapshot()
	if len(fragments) == 0 || len(chat) == 0 {
		return ""
	}

	windowUs := c.cfg.CorrelationWindow.Microseconds()
	var parts []string
	for _, t := range fragments {
		var correlated []types.ChatMessage
		for _, msg := range chat {
			if msg.TimestampUs >= t.TimestampUs && msg.TimestampUs <= t.TimestampUs+windowUs {
				correlated = append(correlated, msg)
			}
		}
		if len(correlated) > 0 {
			parts = append(parts, fmt.Sprintf("After %q: %s", t.Text, summarizeChatMessages(correlated)))
		}
	}

	if len(parts) == 0 {
		return summarizeChatMessages(chat)
	}
	return strings.Join(parts, " | ")
}

// summarizeChatMessages describes a batch of chat messages: top emotes and
// a handful of sample messages, matching the upstream summary shape.
func summarizeChatMessages(messages []types.ChatMessage) string {
	if len(messages) == 0 {
		return "no reaction"
	}

	emoteCounts := map[string]int{}
	for _, msg := range messages {
		for _, emote := range msg.Emotes {
			emoteCounts[emote]++
		}
	}

	var sampleTexts []string
	for _, msg := range messages {
		if msg.Message == "" {
			continue
		}
		sampleTexts = append(sampleTexts, msg.Message)
		if len(sampleTexts) == 3 {
			break
		}
	}

	var summaryParts []string
	if len(emoteCounts) > 0 {
		top := topN(emoteCounts, 3)
		emoteStrs := make([]string, len(top))
		for i, e := range top {
			emoteStrs[i] = fmt.Sprintf("%sx%d", e.key, e.count)
		}
		summaryParts = append(summaryParts, "emotes: "+strings.Join(emoteStrs, ", "))
	}
	if len(sampleTexts) > 0 {
		summaryParts = append(summaryParts, "chat: "+strings.Join(sampleTexts, " / "))
	}

	return fmt.Sprintf("%d messages (%s)", len(messages), strings.Join(summaryParts, ", "))
}

// buildInteractionContext summarizes recent viewer interactions: totals by
// kind, plus the 5 most recent events.
func (c *Correlator) buildInteractionContext() string {
	interactions := c.interactions.snapshot()
	if len(interactions) == 0 {
		return ""
	}

	counts := map[string]int{}
	recent := make([]string, 0, len(interactions))
	for _, v := range interactions {
		counts[string(v.Kind)]++
		recent = append(recent, fmt.Sprintf("%s from %s", v.Kind, v.Username))
	}

	var summaryParts []string
	if len(counts) > 0 {
		kinds := sortedKeys(counts)
		sort.Slice(kinds, func(i, j int) bool { return counts[kinds[i]] > counts[kinds[j]] })
		pairs := make([]string, len(kinds))
		for i, k := range kinds {
			pairs[i] = fmt.Sprintf("%d %s", counts[k], k)
		}
		summaryParts = append(summaryParts, "Totals: "+strings.Join(pairs, ", "))
	}

	if len(recent) > 0 {
		start := len(recent) - 5
		if start < 0 {
			start = 0
		}
		summaryParts = append(summaryParts, "Recent: "+strings.Join(recent[start:], " | "))
	}

	return strings.Join(summaryParts, " | ")
}

// chatVelocity computes messages per minute over the buffered window. It
// returns 0 when the span is under 6 seconds, since the rate is too noisy
// to be meaningful at that scale.
func (c *Correlator) chatVelocity() float64 {
	chat := c.chat.snapshot()
	if len(chat) == 0 {
		return 0
	}
	spanUs := chat[len(chat)-1].TimestampUs - chat[0].TimestampUs
	spanMinutes := float64(spanUs) / 1e6 / 60
	if spanMinutes < 0.1 {
		return 0
	}
	return float64(len(chat)) / spanMinutes
}

// emoteFrequency returns the top 10 emotes by usage count, combining chat
// message emotes with standalone emote events.
func (c *Correlator) emoteFrequency() map[string]int {
	counts := map[string]int{}
	for _, msg := range c.chat.snapshot() {
		for _, e := range msg.Emotes {
			counts[e]++
		}
	}
	for _, e := range c.emotes.snapshot() {
		counts[e.EmoteName]++
	}
	return topNMap(counts, 10)
}

// nativeEmoteFrequency returns the top 10 channel-native emotes by usage
// count, drawn only from chat message native-emote tags.
func (c *Correlator) nativeEmoteFrequency() map[string]int {
	counts := map[string]int{}
	for _, msg := range c.chat.snapshot() {
		for _, e := range msg.NativeEmotes {
			counts[e]++
		}
	}
	return topNMap(counts, 10)
}

type countPair struct {
	key   string
	count int
}

// topN returns the n highest-count entries, ties broken alphabetically by
// key for determinism.
func topN(counts map[string]int, n int) []countPair {
	pairs := make([]countPair, 0, len(counts))
	for k, v := range counts {
		pairs = append(pairs, countPair{k, v})
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].count != pairs[j].count {
			return pairs[i].count > pairs[j].count
		}
		return pairs[i].key < pairs[j].key
	})
	if len(pairs) > n {
		pairs = pairs[:n]
	}
	return pairs
}

func topNMap(counts map[string]int, n int) map[string]int {
	top := topN(counts, n)
	out := make(map[string]int, len(top))
	for _, p := range top {
		out[p.key] = p.count
	}
	return out
}
