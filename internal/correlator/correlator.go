// Package correlator implements the Stream Correlator: it buffers
// transcription fragments, chat messages, emote events, and viewer
// interactions, periodically asks an LLM client to analyze the recent
// window, and seals completed context windows off to persistent storage.
// Grounded on the upstream seed service's StreamCorrelator
// (original_source/apps/seed/src/correlator.py).
package correlator

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/MrWong99/streamintel/internal/contextclient"
	"github.com/MrWong99/streamintel/pkg/types"
)

// Analyzer is satisfied by [llmclient.Client]; it is the one LLM entry point
// the correlator uses.
type Analyzer interface {
	Analyze(ctx context.Context, transcriptionContext, chatContext string) (*types.AnalysisResult, error)
}

// ContextStore is satisfied by [contextclient.Client]; it is how sealed
// context windows are persisted. A nil ContextStore is valid — sealed
// windows are then logged and dropped, never stored.
type ContextStore interface {
	CreateContext(ctx context.Context, cx contextclient.Context) error
}

// Config tunes a [Correlator], mirroring [config.CorrelatorConfig].
type Config struct {
	WindowSize        time.Duration
	AnalysisInterval  time.Duration
	AnalysisCooldown  time.Duration
	CorrelationWindow time.Duration
	RetentionWindow   time.Duration
	MaxBufferSize     int
	Timezone          string
}

func (c *Config) setDefaults() {
	if c.WindowSize <= 0 {
		c.WindowSize = 120 * time.Second
	}
	if c.AnalysisInterval <= 0 {
		c.AnalysisInterval = 30 * time.Second
	}
	if c.AnalysisCooldown <= 0 {
		c.AnalysisCooldown = 10 * time.Second
	}
	if c.CorrelationWindow <= 0 {
		c.CorrelationWindow = 10 * time.Second
	}
	if c.RetentionWindow <= 0 {
		c.RetentionWindow = c.WindowSize
	}
	if c.MaxBufferSize <= 0 {
		c.MaxBufferSize = 1000
	}
	if c.Timezone == "" {
		c.Timezone = "America/Los_Angeles"
	}
}

// BufferStat is a single buffer's current size, configured limit, and total
// overflow (items dropped for exceeding the limit since startup).
type BufferStat struct {
	Size     int   `json:"size"`
	Limit    int   `json:"limit"`
	Overflow int64 `json:"overflow"`
}

// Correlator buffers the live event streams and produces periodic AI
// analyses and sealed context-window records. Safe for concurrent use.
type Correlator struct {
	cfg Config
	loc *time.Location

	analyzer     Analyzer
	contextStore ContextStore

	transcriptions *boundedBuffer[types.Transcription]
	chat           *boundedBuffer[types.ChatMessage]
	emotes         *boundedBuffer[types.EmoteEvent]
	interactions   *boundedBuffer[types.ViewerInteraction]

	windowMu      sync.Mutex
	contextStartUs int64 // 0 means "no window open"
	sessionID     string

	isAnalyzing    atomic.Bool
	lastAnalysisUs atomic.Int64

	callbacksMu sync.Mutex
	callbacks   []func(*types.AnalysisResult)

	sealCallbacksMu sync.Mutex
	sealCallbacks   []func(contextclient.Context)

	cron *cron.Cron
}

// New constructs a [Correlator]. contextStore may be nil.
func New(cfg Config, analyzer Analyzer, contextStore ContextStore) (*Correlator, error) {
	cfg.setDefaults()
	if analyzer == nil {
		return nil, fmt.Errorf("correlator: analyzer must not be nil")
	}
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("correlator: invalid timezone %q: %w", cfg.Timezone, err)
	}

	return &Correlator{
		cfg:          cfg,
		loc:          loc,
		analyzer:     analyzer,
		contextStore: contextStore,
		transcriptions: newBoundedBuffer(cfg.MaxBufferSize, func(t types.Transcription) int64 {
			return t.TimestampUs
		}),
		chat: newBoundedBuffer(cfg.MaxBufferSize, func(m types.ChatMessage) int64 {
			return m.TimestampUs
		}),
		emotes: newBoundedBuffer(cfg.MaxBufferSize, func(e types.EmoteEvent) int64 {
			return e.TimestampUs
		}),
		interactions: newBoundedBuffer(cfg.MaxBufferSize, func(v types.ViewerInteraction) int64 {
			return v.TimestampUs
		}),
	}, nil
}

// OnAnalysis registers a callback invoked after every completed analysis. A
// panicking callback is recovered and logged; it never breaks the
// correlator or blocks other callbacks.
func (c *Correlator) OnAnalysis(cb func(*types.AnalysisResult)) {
	c.callbacksMu.Lock()
	defer c.callbacksMu.Unlock()
	c.callbacks = append(c.callbacks, cb)
}

func (c *Correlator) notify(result *types.AnalysisResult) {
	c.callbacksMu.Lock()
	cbs := make([]func(*types.AnalysisResult), len(c.callbacks))
	copy(cbs, c.callbacks)
	c.callbacksMu.Unlock()

	for _, cb := range cbs {
		c.invokeCallback(cb, result)
	}
}

func (c *Correlator) invokeCallback(cb func(*types.AnalysisResult), result *types.AnalysisResult) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("correlator: analysis callback panicked", "panic", r)
		}
	}()
	cb(result)
}

// OnContextSealed registers a callback invoked after a sealed context window
// has been successfully persisted via contextStore. This is how
// [internal/app] wires an optional local replay mirror without coupling the
// correlator to any particular storage backend. A panicking callback is
// recovered and logged; it never breaks the correlator.
func (c *Correlator) OnContextSealed(cb func(contextclient.Context)) {
	c.sealCallbacksMu.Lock()
	defer c.sealCallbacksMu.Unlock()
	c.sealCallbacks = append(c.sealCallbacks, cb)
}

func (c *Correlator) notifySealed(cx contextclient.Context) {
	c.sealCallbacksMu.Lock()
	cbs := make([]func(contextclient.Context), len(c.sealCallbacks))
	copy(cbs, c.sealCallbacks)
	c.sealCallbacksMu.Unlock()

	for _, cb := range cbs {
		c.invokeSealCallback(cb, cx)
	}
}

func (c *Correlator) invokeSealCallback(cb func(contextclient.Context), cx contextclient.Context) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("correlator: context-sealed callback panicked", "panic", r)
		}
	}()
	cb(cx)
}

// AddTranscription records a transcription fragment, opening a new context
// window if none is in progress, and seals the window if it has reached
// full duration.
func (c *Correlator) AddTranscription(ctx context.Context, t types.Transcription) {
	c.windowMu.Lock()
	if c.contextStartUs == 0 {
		c.contextStartUs = t.TimestampUs
		c.sessionID = c.generateSessionID(t.Time())
	}
	c.windowMu.Unlock()

	c.transcriptions.append(t)
	c.cleanup()
	c.checkContextCompletion(ctx)
}

// AddChatMessage records a chat message for correlation.
func (c *Correlator) AddChatMessage(msg types.ChatMessage) {
	c.chat.append(msg)
	c.cleanup()
}

// AddEmote records a standalone emote-usage event.
func (c *Correlator) AddEmote(e types.EmoteEvent) {
	c.emotes.append(e)
	c.cleanup()
}

// AddViewerInteraction records a follow/sub/cheer/raid event.
func (c *Correlator) AddViewerInteraction(v types.ViewerInteraction) {
	c.interactions.append(v)
	c.cleanup()
}

// BufferStats reports each buffer's current size, configured limit, and
// overflow count, suitable for exposing via the /health and /status HTTP
// endpoints. Grounded on original_source/apps/seed/src/health.py's
// buffer_sizes/buffer_limits shape, extended with the overflow counter the
// backpressure invariant requires.
func (c *Correlator) BufferStats() map[string]BufferStat {
	limit := c.cfg.MaxBufferSize
	return map[string]BufferStat{
		"transcriptions": {Size: c.transcriptions.len(), Limit: limit, Overflow: c.transcriptions.overflowCount()},
		"chat":           {Size: c.chat.len(), Limit: limit, Overflow: c.chat.overflowCount()},
		"emotes":         {Size: c.emotes.len(), Limit: limit, Overflow: c.emotes.overflowCount()},
		"interactions":   {Size: c.interactions.len(), Limit: limit, Overflow: c.interactions.overflowCount()},
	}
}

func (c *Correlator) cleanup() {
	cutoffUs := time.Now().Add(-c.cfg.RetentionWindow).UnixMicro()
	c.transcriptions.evictBefore(cutoffUs)
	c.chat.evictBefore(cutoffUs)
	c.emotes.evictBefore(cutoffUs)
	c.interactions.evictBefore(cutoffUs)
}

// Analyze runs one correlation analysis pass. It returns (nil, nil) when
// skipped (already analyzing, within cooldown, or no transcript content)
// and (nil, err) only for an actual analyzer failure.
func (c *Correlator) Analyze(ctx context.Context, immediate bool) (*types.AnalysisResult, error) {
	if !c.isAnalyzing.CompareAndSwap(false, true) {
		return nil, nil
	}
	defer c.isAnalyzing.Store(false)

	nowUs := time.Now().UnixMicro()
	if !immediate {
		last := c.lastAnalysisUs.Load()
		if last != 0 && time.Duration(nowUs-last)*time.Microsecond < c.cfg.AnalysisCooldown {
			return nil, nil
		}
	}
	c.lastAnalysisUs.Store(nowUs)

	transcriptionContext := c.buildTranscriptionContext()
	if transcriptionContext == "" {
		return nil, nil
	}

	chatContext := c.buildCorrelatedChatContext()
	interactionContext := c.buildInteractionContext()
	fullContext := chatContext
	if interactionContext != "" {
		if fullContext != "" {
			fullContext = fullContext + " | Interactions: " + interactionContext
		} else {
			fullContext = interactionContext
		}
	}

	result, err := c.analyzer.Analyze(ctx, transcriptionContext, fullContext)
	if err != nil {
		slog.Error("correlator: analysis failed", "error", err)
		return nil, fmt.Errorf("correlator: analyze: %w", err)
	}
	if result == nil {
		return nil, nil
	}

	result.TimestampUs = nowUs
	result.ChatVelocity = c.chatVelocity()
	result.EmoteFrequency = c.emoteFrequency()
	result.NativeEmoteFrequency = c.nativeEmoteFrequency()
	result.Momentum = c.temporalMomentum()

	slog.Info("correlator: analysis complete", "sentiment", result.Sentiment, "topics", len(result.Topics))
	c.notify(result)
	return result, nil
}

func (c *Correlator) buildTranscriptionContext() string {
	fragments := c.transcriptions.snapshot()
	if len(fragments) == 0 {
		return ""
	}
	texts := make([]string, len(fragments))
	for i, t := range fragments {
		texts[i] = t.Text
	}
	return strings.Join(texts, " ")
}

// checkContextCompletion seals the current window once it has run for at
// least WindowSize.
func (c *Correlator) checkContextCompletion(ctx context.Context) {
	c.windowMu.Lock()
	startUs := c.contextStartUs
	c.windowMu.Unlock()

	if startUs == 0 || c.transcriptions.len() == 0 {
		return
	}
	if time.Since(time.UnixMicro(startUs)) >= c.cfg.WindowSize {
		c.sealContextWindow(ctx)
	}
}

// Run starts the periodic analysis tick (a coarse cron schedule, per spec)
// and blocks until ctx is cancelled, then stops the scheduler and waits for
// any in-flight job to finish.
func (c *Correlator) Run(ctx context.Context) error {
	c.cron = cron.New()
	spec := fmt.Sprintf("@every %s", c.cfg.AnalysisInterval)
	if _, err := c.cron.AddFunc(spec, func() {
		if _, err := c.Analyze(ctx, false); err != nil {
			slog.Warn("correlator: periodic analysis failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("correlator: schedule periodic analysis: %w", err)
	}
	c.cron.Start()

	<-ctx.Done()
	stopCtx := c.cron.Stop()
	<-stopCtx.Done()
	return nil
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
