package correlator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/MrWong99/streamintel/internal/contextclient"
	"github.com/MrWong99/streamintel/pkg/types"
)

// generateSessionID formats a session id as stream_YYYY_MM_DD in the
// correlator's configured timezone.
func (c *Correlator) generateSessionID(t time.Time) string {
	local := t.In(c.loc)
	return fmt.Sprintf("stream_%04d_%02d_%02d", local.Year(), local.Month(), local.Day())
}

// sealContextWindow builds the rich context record for the just-completed
// window, persists it via contextStore (if configured), and resets the
// window for the next period.
func (c *Correlator) sealContextWindow(ctx context.Context) {
	c.windowMu.Lock()
	startUs := c.contextStartUs
	sessionID := c.sessionID
	c.windowMu.Unlock()

	if startUs == 0 {
		return
	}

	fragments := c.transcriptions.snapshot()
	if len(fragments) == 0 {
		slog.Warn("correlator: no transcript content for context, dropping window")
		c.resetContextWindow()
		return
	}

	transcript := c.buildTranscriptionContext()
	durationUs := fragments[len(fragments)-1].TimestampUs - fragments[0].TimestampUs
	duration := float64(durationUs) / 1e6
	if duration <= 0 {
		duration = c.cfg.WindowSize.Seconds()
	}

	started := time.UnixMicro(startUs).UTC()
	ended := started.Add(c.cfg.WindowSize)

	analysis := c.buildRichContextData(ctx, transcript, duration)

	cx := contextclient.Context{
		Started:    started,
		Ended:      ended,
		Session:    sessionID,
		Transcript: transcript,
		Duration:   duration,
		ChatVelocity: c.chatVelocity(),
		Analysis:   analysis,
	}
	if ai, ok := analysis["ai_analysis"].(map[string]any); ok && ai != nil {
		if s, ok := ai["sentiment"].(types.Sentiment); ok {
			cx.Sentiment = &s
		}
		if topics, ok := ai["topics"].([]string); ok {
			cx.Topics = topics
		}
	}

	if c.contextStore != nil {
		if err := c.contextStore.CreateContext(ctx, cx); err != nil {
			slog.Error("correlator: failed to store context", "session", sessionID, "error", err)
		} else {
			slog.Info("correlator: context stored", "session", sessionID, "duration", duration)
			c.notifySealed(cx)
		}
	} else {
		slog.Warn("correlator: no context store configured, window not persisted", "session", sessionID)
	}

	c.resetContextWindow()
}

// resetContextWindow clears the window start time. The session id is kept
// across the reset as long as it was generated for today; otherwise a new
// one is minted, matching the upstream "keep session id for the same day"
// rule.
func (c *Correlator) resetContextWindow() {
	c.windowMu.Lock()
	defer c.windowMu.Unlock()

	c.contextStartUs = 0
	today := c.generateSessionID(time.Now())
	if c.sessionID == "" || !strings.HasSuffix(c.sessionID, today[len("stream_"):]) {
		c.sessionID = today
	}

	c.transcriptions.clear()
	c.chat.clear()
	c.emotes.clear()
	c.interactions.clear()
}

// buildRichContextData assembles the temporal/content/community/
// correlation/AI-analysis blocks attached to a sealed context window.
func (c *Correlator) buildRichContextData(ctx context.Context, transcript string, duration float64) map[string]any {
	fragments := c.transcriptions.snapshot()

	data := map[string]any{
		"temporal_data":    c.temporalData(duration),
		"content_data":     c.contentData(transcript, fragments),
		"community_data":   c.communityData(),
		"correlation_data": c.correlationData(fragments),
	}

	result, err := c.Analyze(ctx, true)
	if err != nil {
		slog.Warn("correlator: ai analysis for sealed window failed", "error", err)
	} else if result != nil {
		data["ai_analysis"] = map[string]any{
			"patterns":             result.Patterns,
			"dynamics":             result.Dynamics,
			"sentiment":            result.Sentiment,
			"sentiment_trajectory": result.SentimentTrajectory,
			"topics":               result.Topics,
			"context":              result.Context,
			"suggested_actions":    result.SuggestedActions,
			"momentum":             result.Momentum,
		}
	}
	return data
}

func (c *Correlator) temporalData(duration float64) map[string]any {
	c.windowMu.Lock()
	startUs := c.contextStartUs
	sessionID := c.sessionID
	c.windowMu.Unlock()

	started := time.UnixMicro(startUs).UTC()
	return map[string]any{
		"started":        started.Format(time.RFC3339),
		"ended":          started.Add(c.cfg.WindowSize).Format(time.RFC3339),
		"duration":       duration,
		"session_id":     sessionID,
		"fragment_count": c.transcriptions.len(),
	}
}

func (c *Correlator) contentData(transcript string, fragments []types.Transcription) map[string]any {
	words := strings.Fields(transcript)
	sentenceCount := strings.Count(transcript, ".") + strings.Count(transcript, "!") + strings.Count(transcript, "?")

	avgWords := 0.0
	if len(fragments) > 0 {
		avgWords = float64(len(words)) / float64(len(fragments))
	}

	return map[string]any{
		"transcript":        transcript,
		"speaking_patterns":  c.speakingPatterns(fragments),
		"content_metrics": map[string]any{
			"word_count":             len(words),
			"sentence_count":         sentenceCount,
			"avg_words_per_fragment": avgWords,
		},
	}
}

func (c *Correlator) communityData() map[string]any {
	chat := c.chat.snapshot()
	participants := map[string]struct{}{}
	for _, msg := range chat {
		participants[msg.Username] = struct{}{}
	}

	return map[string]any{
		"chat_message_count":     len(chat),
		"unique_participants":    len(participants),
		"chat_velocity":          c.chatVelocity(),
		"emote_frequency":        c.emoteFrequency(),
		"native_emote_frequency": c.nativeEmoteFrequency(),
		"interaction_count":      c.interactions.len(),
	}
}

func (c *Correlator) correlationData(fragments []types.Transcription) map[string]any {
	return map[string]any{
		"speech_to_chat_correlation": c.speechChatCorrelation(fragments),
		"temporal_trend":             c.temporalTrend(fragments),
	}
}

func (c *Correlator) speechChatCorrelation(fragments []types.Transcription) map[string]any {
	chat := c.chat.snapshot()
	windowUs := c.cfg.CorrelationWindow.Microseconds()

	type correlation struct {
		SpeechTimestampUs int64   `json:"speech_timestamp_us"`
		SpeechText        string  `json:"speech_text"`
		RelatedChatCount  int     `json:"related_chat_count"`
		ChatDelayAvgUs    float64 `json:"chat_delay_avg_us"`
	}

	var correlations []correlation
	var totalDelay float64
	for _, t := range fragments {
		var related []types.ChatMessage
		for _, msg := range chat {
			if msg.TimestampUs >= t.TimestampUs && msg.TimestampUs <= t.TimestampUs+windowUs {
				related = append(related, msg)
			}
		}
		avgDelay := 0.0
		if len(related) > 0 {
			sum := int64(0)
			for _, msg := range related {
				sum += msg.TimestampUs - t.TimestampUs
			}
			avgDelay = float64(sum) / float64(len(related))
		}
		totalDelay += avgDelay
		correlations = append(correlations, correlation{
			SpeechTimestampUs: t.TimestampUs,
			SpeechText:        t.Text,
			RelatedChatCount:  len(related),
			ChatDelayAvgUs:    avgDelay,
		})
	}

	avgOverall := 0.0
	if len(correlations) > 0 {
		avgOverall = totalDelay / float64(len(correlations))
	}

	return map[string]any{
		"correlations":            correlations,
		"avg_chat_response_delay": avgOverall,
	}
}
