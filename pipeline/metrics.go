package pipeline

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/voxlens/voxlens/types"
)

// Valid cross-speaker response gaps. Gaps at or below the floor are
// same-breath artifacts; gaps at or above the ceiling are hold time, not
// response time.
const (
	minValidGapMs = 100
	maxValidGapMs = 10_000
)

// interruptionOverlapMs is the overlap beyond which simultaneous speech
// counts as an interruption rather than backchanneling.
const interruptionOverlapMs = 500

const (
	optimalWPMLow  = 120
	optimalWPMHigh = 180
)

func scoreLatency(entries []types.TranscriptEntry) types.LatencyMetric {
	var gaps []float64
	for i := 1; i < len(entries); i++ {
		prev, cur := entries[i-1], entries[i]
		if prev.Role == cur.Role || prev.Sentinel || cur.Sentinel {
			continue
		}
		gap := float64(cur.StartMs - prev.EndMs())
		if gap > minValidGapMs && gap < maxValidGapMs {
			gaps = append(gaps, gap)
		}
	}
	if len(gaps) == 0 {
		return types.LatencyMetric{}
	}

	sort.Float64s(gaps)
	var sum float64
	for _, g := range gaps {
		sum += g
	}
	p95 := percentile(gaps, 95)

	var score float64
	switch {
	case p95 <= 1000:
		score = 90
	case p95 <= 1500:
		score = 75
	case p95 <= 2000:
		score = 60
	case p95 <= 2500:
		score = 50
	case p95 <= 3000:
		score = 40
	default:
		score = 25
	}

	return types.LatencyMetric{
		Score:    types.ClampScore(score),
		P95GapMs: p95,
		AvgGapMs: sum / float64(len(gaps)),
		Samples:  len(gaps),
	}
}

// percentile computes the nearest-rank percentile of sorted values.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	rank := int(math.Ceil(p / 100 * float64(len(sorted))))
	if rank < 1 {
		rank = 1
	}
	if rank > len(sorted) {
		rank = len(sorted)
	}
	return sorted[rank-1]
}

func scoreInterruption(entries []types.TranscriptEntry) types.InterruptionMetric {
	spoken := withoutSentinels(entries)
	if len(spoken) < 2 {
		return types.InterruptionMetric{}
	}

	count := 0
	for i := 1; i < len(spoken); i++ {
		prev, cur := spoken[i-1], spoken[i]
		if prev.Role == cur.Role {
			continue
		}
		if overlap := prev.EndMs() - cur.StartMs; overlap > interruptionOverlapMs {
			count++
		}
	}

	durationMs := types.DurationMs(spoken)
	var perMinute float64
	if durationMs > 0 {
		perMinute = float64(count) / (float64(durationMs) / 60_000)
	}

	var score float64
	switch {
	case count == 0:
		score = 100
	case perMinute <= 1:
		score = 85
	case perMinute <= 2:
		score = 70
	case perMinute <= 4:
		score = 50
	default:
		score = 25
	}

	return types.InterruptionMetric{
		Score:     types.ClampScore(score),
		Count:     count,
		PerMinute: perMinute,
	}
}

func scorePronunciation(entries []types.TranscriptEntry) types.PronunciationMetric {
	spoken := withoutSentinels(entries)
	if len(spoken) == 0 {
		return types.PronunciationMetric{}
	}

	var confSum float64
	confSamples := 0
	wordCount := 0
	for _, e := range spoken {
		if e.Confidence > 0 {
			confSum += e.Confidence
			confSamples++
		}
		wordCount += len(strings.Fields(e.Text))
	}
	if confSamples == 0 {
		return types.PronunciationMetric{}
	}

	avgConf := confSum / float64(confSamples)
	score := avgConf * 100

	var wpm float64
	if durationMs := types.DurationMs(spoken); durationMs > 0 {
		wpm = float64(wordCount) / (float64(durationMs) / 60_000)
		if wpm < optimalWPMLow || wpm > optimalWPMHigh {
			score -= 15
		}
	}

	return types.PronunciationMetric{
		Score:          types.ClampScore(score),
		AvgConfidence:  avgConf,
		WordsPerMinute: wpm,
	}
}

func scoreRepetition(entries []types.TranscriptEntry) types.RepetitionMetric {
	spoken := withoutSentinels(entries)
	if len(spoken) == 0 {
		return types.RepetitionMetric{}
	}

	phraseCounts := map[string]int{}
	messageCounts := map[string]int{}
	for _, e := range spoken {
		norm := normalizeText(e.Text)
		if norm == "" {
			continue
		}
		messageCounts[norm]++
		words := strings.Fields(norm)
		for size := 3; size <= 5; size++ {
			for i := 0; i+size <= len(words); i++ {
				phraseCounts[strings.Join(words[i:i+size], " ")]++
			}
		}
	}

	var repeated []string
	for phrase, n := range phraseCounts {
		if n >= 2 {
			repeated = append(repeated, phrase)
		}
	}
	sort.Strings(repeated)
	if len(repeated) > 10 {
		repeated = repeated[:10]
	}

	loop := false
	for _, n := range messageCounts {
		if n >= 3 {
			loop = true
			break
		}
	}

	score := 100 - 8*float64(len(repeated))
	if loop {
		score = math.Min(score, 30)
	}

	return types.RepetitionMetric{
		Score:           types.ClampScore(score),
		LoopDetected:    loop,
		RepeatedPhrases: repeated,
	}
}

func scoreDisconnection(entries []types.TranscriptEntry, language string) types.DisconnectionMetric {
	spoken := withoutSentinels(entries)
	if len(spoken) == 0 {
		return types.DisconnectionMetric{}
	}

	final := spoken[len(spoken)-1]
	lex := lexiconFor(language)
	_, natural := containsAny(final.Text, lex.closingPhrases)

	score := 30.0
	if natural {
		score = 95
	}
	return types.DisconnectionMetric{
		Score:         types.ClampScore(score),
		NaturalEnding: natural,
		FinalSpeaker:  final.Role,
	}
}

func withoutSentinels(entries []types.TranscriptEntry) []types.TranscriptEntry {
	out := make([]types.TranscriptEntry, 0, len(entries))
	for _, e := range entries {
		if !e.Sentinel {
			out = append(out, e)
		}
	}
	return out
}

// deriveFindings produces the capped critical-issue and recommendation
// lists from the computed metrics.
func deriveFindings(r *types.EvaluationResult) (critical, recommendations []string) {
	if r.Latency.Samples > 0 && r.Latency.P95GapMs > 3000 {
		critical = append(critical, fmt.Sprintf(
			"Response latency is critically high (p95 %.0f ms)", r.Latency.P95GapMs))
	}
	if r.Interruption.PerMinute > 4 {
		critical = append(critical, fmt.Sprintf(
			"Agent interrupts the caller %.1f times per minute", r.Interruption.PerMinute))
	}
	if r.Repetition.LoopDetected {
		critical = append(critical, "Agent repeated the same message three or more times")
	}
	if r.Pronunciation.AvgConfidence > 0 && r.Pronunciation.AvgConfidence < 0.5 {
		critical = append(critical, fmt.Sprintf(
			"Transcription confidence is very low (%.0f%%), speech may be unclear",
			r.Pronunciation.AvgConfidence*100))
	}
	if r.Disconnection.Score > 0 && !r.Disconnection.NaturalEnding {
		critical = append(critical, "Call ended abruptly without a closing phrase")
	}

	if r.Latency.Samples > 0 && r.Latency.P95GapMs > 1500 && r.Latency.P95GapMs <= 3000 {
		recommendations = append(recommendations,
			"Reduce agent response latency; aim for p95 under 1.5 seconds")
	}
	if r.Interruption.Count > 0 && r.Interruption.PerMinute <= 4 {
		recommendations = append(recommendations,
			"Tune end-of-speech detection to avoid talking over the caller")
	}
	if len(r.Repetition.RepeatedPhrases) > 0 && !r.Repetition.LoopDetected {
		recommendations = append(recommendations,
			"Vary phrasing; several phrases repeat across the call")
	}
	if wpm := r.Pronunciation.WordsPerMinute; wpm > 0 && (wpm < optimalWPMLow || wpm > optimalWPMHigh) {
		recommendations = append(recommendations, fmt.Sprintf(
			"Adjust speaking pace (%.0f WPM) toward the %d-%d WPM range",
			wpm, optimalWPMLow, optimalWPMHigh))
	}
	if len(r.JobsToBeDone.MissingSteps) > 0 {
		recommendations = append(recommendations, fmt.Sprintf(
			"Cover the missing task steps: %s", strings.Join(r.JobsToBeDone.MissingSteps, ", ")))
	}

	if len(critical) > 5 {
		critical = critical[:5]
	}
	if len(recommendations) > 5 {
		recommendations = recommendations[:5]
	}
	return critical, recommendations
}
