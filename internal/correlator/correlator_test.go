package correlator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/streamintel/internal/contextclient"
	"github.com/MrWong99/streamintel/pkg/types"
)

type fakeAnalyzer struct {
	mu     sync.Mutex
	calls  int
	result *types.AnalysisResult
	err    error
}

func (f *fakeAnalyzer) Analyze(ctx context.Context, transcriptionContext, chatContext string) (*types.AnalysisResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.result, f.err
}

type fakeContextStore struct {
	mu       sync.Mutex
	stored   []contextclient.Context
	storeErr error
}

func (f *fakeContextStore) CreateContext(ctx context.Context, cx contextclient.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.storeErr != nil {
		return f.storeErr
	}
	f.stored = append(f.stored, cx)
	return nil
}

func newTestCorrelator(t *testing.T, analyzer Analyzer, store ContextStore) *Correlator {
	t.Helper()
	c, err := New(Config{
		WindowSize:        2 * time.Second,
		AnalysisInterval:  time.Second,
		AnalysisCooldown:  0,
		CorrelationWindow: 10 * time.Second,
		RetentionWindow:   time.Minute,
		MaxBufferSize:     100,
		Timezone:          "UTC",
	}, analyzer, store)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestAnalyze_ReturnsNilWithoutTranscript(t *testing.T) {
	c := newTestCorrelator(t, &fakeAnalyzer{}, nil)
	result, err := c.Analyze(context.Background(), true)
	if err != nil || result != nil {
		t.Fatalf("expected (nil, nil), got (%v, %v)", result, err)
	}
}

func TestAnalyze_CallsAnalyzerAndMergesMetrics(t *testing.T) {
	analyzer := &fakeAnalyzer{result: &types.AnalysisResult{Sentiment: types.SentimentPositive, Topics: []string{"games"}}}
	c := newTestCorrelator(t, analyzer, nil)

	now := time.Now().UnixMicro()
	c.AddTranscription(context.Background(), types.Transcription{TimestampUs: now, Text: "hello world"})
	c.AddChatMessage(types.ChatMessage{TimestampUs: now + 1_000_000, Username: "viewer1", Message: "hi", Emotes: []string{"Kappa"}})
	c.AddChatMessage(types.ChatMessage{TimestampUs: now + 2_000_000, Username: "viewer2", Message: "lol"})

	result, err := c.Analyze(context.Background(), true)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if result == nil {
		t.Fatal("expected non-nil result")
	}
	if result.Sentiment != types.SentimentPositive {
		t.Errorf("sentiment = %q", result.Sentiment)
	}
	if result.EmoteFrequency["Kappa"] != 1 {
		t.Errorf("emote_frequency = %+v", result.EmoteFrequency)
	}
	if analyzer.calls != 1 {
		t.Errorf("analyzer calls = %d, want 1", analyzer.calls)
	}
}

func TestAnalyze_RespectsInFlightGuard(t *testing.T) {
	c := newTestCorrelator(t, &fakeAnalyzer{}, nil)
	c.isAnalyzing.Store(true)

	result, err := c.Analyze(context.Background(), true)
	if err != nil || result != nil {
		t.Fatalf("expected (nil, nil) while already analyzing, got (%v, %v)", result, err)
	}
}

func TestAnalyze_RespectsCooldownUnlessImmediate(t *testing.T) {
	analyzer := &fakeAnalyzer{result: &types.AnalysisResult{}}
	c := newTestCorrelator(t, analyzer, nil)
	c.cfg.AnalysisCooldown = time.Hour

	now := time.Now().UnixMicro()
	c.AddTranscription(context.Background(), types.Transcription{TimestampUs: now, Text: "hi"})

	if _, err := c.Analyze(context.Background(), false); err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if analyzer.calls != 1 {
		t.Fatalf("expected first call, got %d calls", analyzer.calls)
	}

	result, err := c.Analyze(context.Background(), false)
	if err != nil || result != nil {
		t.Fatalf("expected cooldown skip, got (%v, %v)", result, err)
	}
	if analyzer.calls != 1 {
		t.Errorf("expected no additional call during cooldown, got %d", analyzer.calls)
	}

	if _, err := c.Analyze(context.Background(), true); err != nil {
		t.Fatalf("Analyze immediate: %v", err)
	}
	if analyzer.calls != 2 {
		t.Errorf("expected immediate=true to bypass cooldown, got %d calls", analyzer.calls)
	}
}

func TestChatVelocity_ZeroUnderSixSeconds(t *testing.T) {
	c := newTestCorrelator(t, &fakeAnalyzer{}, nil)
	now := time.Now().UnixMicro()
	c.AddChatMessage(types.ChatMessage{TimestampUs: now, Username: "a", Message: "hi"})
	c.AddChatMessage(types.ChatMessage{TimestampUs: now + 1_000_000, Username: "b", Message: "hi"})

	if v := c.chatVelocity(); v != 0 {
		t.Errorf("chatVelocity = %v, want 0 under 6s span", v)
	}
}

func TestTemporalTrend_NilWithFewerThanThreeFragments(t *testing.T) {
	c := newTestCorrelator(t, &fakeAnalyzer{}, nil)
	now := time.Now().UnixMicro()
	fragments := []types.Transcription{
		{TimestampUs: now, Text: "one"},
		{TimestampUs: now + 1_000_000, Text: "two"},
	}
	if trend := c.temporalTrend(fragments); trend != nil {
		t.Errorf("expected nil trend with 2 fragments, got %v", trend)
	}
}

func TestTrendDirection(t *testing.T) {
	cases := []struct {
		name string
		segs []types.SegmentEnergy
		want types.DynamicsTrajectory
	}{
		{"increasing", []types.SegmentEnergy{{Index: 1, EnergyIndicator: 1}, {Index: 2, EnergyIndicator: 1}, {Index: 3, EnergyIndicator: 2}}, types.TrajectoryIncreasing},
		{"decreasing", []types.SegmentEnergy{{Index: 1, EnergyIndicator: 2}, {Index: 2, EnergyIndicator: 1}, {Index: 3, EnergyIndicator: 1}}, types.TrajectoryDecreasing},
		{"stable", []types.SegmentEnergy{{Index: 1, EnergyIndicator: 1}, {Index: 2, EnergyIndicator: 1}, {Index: 3, EnergyIndicator: 1.1}}, types.TrajectoryStable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := trendDirection(tc.segs); got != tc.want {
				t.Errorf("trendDirection = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestGenerateSessionID_Format(t *testing.T) {
	c := newTestCorrelator(t, &fakeAnalyzer{}, nil)
	ts := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	if got, want := c.generateSessionID(ts), "stream_2026_07_31"; got != want {
		t.Errorf("generateSessionID = %q, want %q", got, want)
	}
}

func TestBufferStats_ReportsOverflowOnBackpressure(t *testing.T) {
	c, err := New(Config{
		WindowSize:        time.Hour,
		AnalysisInterval:  time.Hour,
		AnalysisCooldown:  0,
		CorrelationWindow: 10 * time.Second,
		RetentionWindow:   time.Hour,
		MaxBufferSize:     2,
		Timezone:          "UTC",
	}, &fakeAnalyzer{}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	now := time.Now().UnixMicro()
	for i := 0; i < 5; i++ {
		c.AddTranscription(context.Background(), types.Transcription{
			TimestampUs: now + int64(i*1000),
			Text:        "fragment",
		})
	}

	stat := c.BufferStats()["transcriptions"]
	if stat.Size != 2 {
		t.Errorf("transcriptions size = %d, want 2", stat.Size)
	}
	if stat.Overflow != 3 {
		t.Errorf("transcriptions overflow = %d, want 3", stat.Overflow)
	}
}

func TestSealContextWindow_StoresAndResets(t *testing.T) {
	store := &fakeContextStore{}
	analyzer := &fakeAnalyzer{result: &types.AnalysisResult{Sentiment: types.SentimentNeutral}}
	c := newTestCorrelator(t, analyzer, store)
	// A long window so AddTranscription's own completion check doesn't
	// race the explicit sealContextWindow call below.
	c.cfg.WindowSize = time.Hour

	now := time.Now().Add(-3 * time.Second).UnixMicro()
	c.AddTranscription(context.Background(), types.Transcription{TimestampUs: now, Text: "segment one"})
	c.AddTranscription(context.Background(), types.Transcription{TimestampUs: now + 1_000_000, Text: "segment two"})

	c.sealContextWindow(context.Background())

	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.stored) != 1 {
		t.Fatalf("expected 1 stored context, got %d", len(store.stored))
	}
	if store.stored[0].Transcript == "" {
		t.Error("expected non-empty transcript in stored context")
	}

	c.windowMu.Lock()
	defer c.windowMu.Unlock()
	if c.contextStartUs != 0 {
		t.Error("expected window to be reset after sealing")
	}
}

func TestBuildCorrelatedChatContext_FallsBackToAllRecentChat(t *testing.T) {
	c := newTestCorrelator(t, &fakeAnalyzer{}, nil)
	now := time.Now().UnixMicro()
	// Transcription far enough in the past that chat falls outside the
	// correlation window, forcing the fallback summary path.
	c.transcriptions.append(types.Transcription{TimestampUs: now - 60_000_000, Text: "old fragment"})
	c.chat.append(types.ChatMessage{TimestampUs: now, Username: "viewer", Message: "unrelated chat"})

	ctxStr := c.buildCorrelatedChatContext()
	if ctxStr == "" {
		t.Error("expected fallback chat summary, got empty string")
	}
}
