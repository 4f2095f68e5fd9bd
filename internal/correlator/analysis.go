package correlator

import (
	"strings"

	"github.com/MrWong99/streamintel/pkg/types"
)

// speakingPatterns computes words-per-minute and inter-fragment pause
// statistics over the buffered transcription fragments. Returns an empty
// map when fewer than 2 fragments are buffered — a single fragment carries
// no pause information.
func (c *Correlator) speakingPatterns(fragments []types.Transcription) map[string]any {
	if len(fragments) < 2 {
		return map[string]any{}
	}

	totalWords := 0
	for _, t := range fragments {
		totalWords += len(strings.Fields(t.Text))
	}
	totalDuration := float64(fragments[len(fragments)-1].TimestampUs-fragments[0].TimestampUs) / 1e6
	wpm := 0.0
	if totalDuration > 0 {
		wpm = (float64(totalWords) / totalDuration) * 60
	}

	var pauses []float64
	durations := make([]float64, len(fragments))
	for i, t := range fragments {
		durations[i] = t.DurationSeconds
		if i == 0 {
			continue
		}
		prev := fragments[i-1]
		pause := float64(t.TimestampUs-prev.EndTimeUs()) / 1e6
		if pause < 0 {
			pause = 0
		}
		pauses = append(pauses, pause)
	}

	avgPause, maxPause := 0.0, 0.0
	if len(pauses) > 0 {
		sum := 0.0
		for _, p := range pauses {
			sum += p
			if p > maxPause {
				maxPause = p
			}
		}
		avgPause = sum / float64(len(pauses))
	}

	avgFragmentDuration := 0.0
	if len(durations) > 0 {
		sum := 0.0
		for _, d := range durations {
			sum += d
		}
		avgFragmentDuration = sum / float64(len(durations))
	}

	return map[string]any{
		"words_per_minute":      wpm,
		"avg_pause_duration":    avgPause,
		"max_pause_duration":    maxPause,
		"fragment_durations":    durations,
		"avg_fragment_duration": avgFragmentDuration,
	}
}

// temporalTrend divides the buffered fragments into 3 roughly-equal
// segments and reports each segment's chat-messages-per-fragment "energy
// indicator" plus the overall trend direction. Returns nil with fewer than
// 3 fragments — there's nothing to compare.
func (c *Correlator) temporalTrend(fragments []types.Transcription) map[string]any {
	const segments = 3
	if len(fragments) < segments {
		return nil
	}

	chat := c.chat.snapshot()
	segmentSize := len(fragments) / segments
	if segmentSize == 0 {
		return nil
	}

	segmentData := make([]types.SegmentEnergy, 0, segments)
	for i := 0; i < segments; i++ {
		start := i * segmentSize
		end := start + segmentSize
		if i == segments-1 {
			end = len(fragments)
		}
		segFragments := fragments[start:end]
		if len(segFragments) == 0 {
			continue
		}

		lo, hi := segFragments[0].TimestampUs, segFragments[len(segFragments)-1].TimestampUs
		chatCount := 0
		for _, msg := range chat {
			if msg.TimestampUs >= lo && msg.TimestampUs <= hi {
				chatCount++
			}
		}

		segmentData = append(segmentData, types.SegmentEnergy{
			Index:           i + 1,
			EnergyIndicator: float64(chatCount) / float64(len(segFragments)),
		})
	}

	return map[string]any{
		"segments":       segmentData,
		"trend_direction": trendDirection(segmentData),
	}
}

// trendDirection compares the last segment's energy indicator to the
// first's: >20% higher is increasing, >20% lower is decreasing, otherwise
// stable.
func trendDirection(segments []types.SegmentEnergy) types.DynamicsTrajectory {
	if len(segments) < 2 {
		return types.TrajectoryStable
	}
	first := segments[0].EnergyIndicator
	last := segments[len(segments)-1].EnergyIndicator

	switch {
	case last > first*1.2:
		return types.TrajectoryIncreasing
	case last < first*0.8:
		return types.TrajectoryDecreasing
	default:
		return types.TrajectoryStable
	}
}

// temporalMomentum runs [Correlator.temporalTrend] against the currently
// buffered fragments and packages the result as a [types.Momentum], used to
// enrich every [types.AnalysisResult] the correlator produces.
func (c *Correlator) temporalMomentum() types.Momentum {
	fragments := c.transcriptions.snapshot()
	trend := c.temporalTrend(fragments)
	if trend == nil {
		return types.Momentum{Trajectory: types.TrajectoryStable}
	}
	segments, _ := trend["segments"].([]types.SegmentEnergy)
	direction, _ := trend["trend_direction"].(types.DynamicsTrajectory)
	return types.Momentum{Trajectory: direction, Segments: segments}
}
