package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voxlens/voxlens/types"
)

func turn(role types.SpeakerRole, text string, startMs, durMs int64, conf float64) types.TranscriptEntry {
	return types.TranscriptEntry{Role: role, Text: text, StartMs: startMs, DurationMs: durMs, Confidence: conf}
}

func TestScoreLatencyThresholds(t *testing.T) {
	// One valid 700ms gap: p95 <= 800 scores 90.
	entries := []types.TranscriptEntry{
		turn(types.RoleCustomer, "hello", 0, 1000, 0.9),
		turn(types.RoleAgent, "hi there", 1700, 1000, 0.9),
	}
	m := scoreLatency(entries)
	assert.Equal(t, float64(90), m.Score)
	assert.Equal(t, 1, m.Samples)
	assert.Equal(t, float64(700), m.P95GapMs)
}

func TestScoreLatencyNineHundredMillisecondGaps(t *testing.T) {
	// Uniform 900ms cross-speaker gaps sit inside the 90 band.
	entries := []types.TranscriptEntry{
		turn(types.RoleCustomer, "hello", 0, 1000, 0.9),
		turn(types.RoleAgent, "hi there", 1900, 1000, 0.9),
		turn(types.RoleCustomer, "I have a question", 3800, 1000, 0.9),
		turn(types.RoleAgent, "go ahead", 5700, 1000, 0.9),
	}
	m := scoreLatency(entries)
	assert.Equal(t, float64(90), m.Score)
	assert.Equal(t, 3, m.Samples)
	assert.Equal(t, float64(900), m.P95GapMs)
}

func TestScoreLatencyIgnoresInvalidGaps(t *testing.T) {
	entries := []types.TranscriptEntry{
		// 50ms gap: same-breath artifact, below the validity floor.
		turn(types.RoleCustomer, "a", 0, 1000, 0.9),
		turn(types.RoleAgent, "b", 1050, 1000, 0.9),
		// 12s gap: hold time, above the validity ceiling.
		turn(types.RoleCustomer, "c", 14050, 1000, 0.9),
	}
	m := scoreLatency(entries)
	assert.Equal(t, 0, m.Samples)
	assert.Equal(t, float64(0), m.Score)
}

func TestScoreLatencySameSpeakerExcluded(t *testing.T) {
	entries := []types.TranscriptEntry{
		turn(types.RoleAgent, "one", 0, 1000, 0.9),
		turn(types.RoleAgent, "two", 2000, 1000, 0.9),
	}
	assert.Equal(t, 0, scoreLatency(entries).Samples)
}

func TestScoreInterruptionOverlap(t *testing.T) {
	// Overlap of 600ms between different speakers is an interruption.
	entries := []types.TranscriptEntry{
		turn(types.RoleCustomer, "so what I wanted was", 0, 2000, 0.9),
		turn(types.RoleAgent, "let me stop you there", 1400, 2000, 0.9),
	}
	m := scoreInterruption(entries)
	assert.Equal(t, 1, m.Count)
	assert.Less(t, m.Score, float64(100))
}

func TestScoreInterruptionShortOverlapTolerated(t *testing.T) {
	// 400ms overlap is backchanneling, not an interruption.
	entries := []types.TranscriptEntry{
		turn(types.RoleCustomer, "I was hoping to", 0, 2000, 0.9),
		turn(types.RoleAgent, "mm-hm", 1600, 1000, 0.9),
	}
	m := scoreInterruption(entries)
	assert.Equal(t, 0, m.Count)
	assert.Equal(t, float64(100), m.Score)
}

func TestScorePronunciationPenalizesPace(t *testing.T) {
	// 10 words in 60s = 10 WPM, far below the optimal band.
	slow := []types.TranscriptEntry{
		turn(types.RoleAgent, "one two three four five six seven eight nine ten", 0, 60_000, 0.9),
	}
	m := scorePronunciation(slow)
	assert.InDelta(t, 75, m.Score, 0.001)
	assert.InDelta(t, 10, m.WordsPerMinute, 0.1)

	// 150 words in 60s sits inside the band: no penalty.
	words := make([]string, 150)
	for i := range words {
		words[i] = "word"
	}
	normal := []types.TranscriptEntry{
		turn(types.RoleAgent, joinWords(words), 0, 60_000, 0.9),
	}
	m = scorePronunciation(normal)
	assert.InDelta(t, 90, m.Score, 0.001)
}

func joinWords(words []string) string {
	out := ""
	for i, w := range words {
		if i > 0 {
			out += " "
		}
		out += w
	}
	return out
}

func TestScoreRepetitionLoop(t *testing.T) {
	entries := []types.TranscriptEntry{
		turn(types.RoleAgent, "please hold", 0, 1000, 0.9),
		turn(types.RoleCustomer, "okay", 1500, 500, 0.9),
		turn(types.RoleAgent, "please hold", 2500, 1000, 0.9),
		turn(types.RoleCustomer, "sure", 4000, 500, 0.9),
		turn(types.RoleAgent, "please hold", 5000, 1000, 0.9),
	}
	m := scoreRepetition(entries)
	assert.True(t, m.LoopDetected)
	assert.Less(t, m.Score, float64(50))
}

func TestScoreRepetitionCleanTranscript(t *testing.T) {
	entries := []types.TranscriptEntry{
		turn(types.RoleCustomer, "I would like to book a table", 0, 2000, 0.9),
		turn(types.RoleAgent, "certainly, for how many people", 2500, 2000, 0.9),
		turn(types.RoleCustomer, "four people at seven", 5000, 2000, 0.9),
	}
	m := scoreRepetition(entries)
	assert.False(t, m.LoopDetected)
	assert.Equal(t, float64(100), m.Score)
}

func TestScoreDisconnection(t *testing.T) {
	natural := []types.TranscriptEntry{
		turn(types.RoleCustomer, "that works", 0, 1000, 0.9),
		turn(types.RoleAgent, "thank you for calling, goodbye", 1500, 2000, 0.9),
	}
	m := scoreDisconnection(natural, "en")
	assert.True(t, m.NaturalEnding)
	assert.GreaterOrEqual(t, m.Score, float64(90))
	assert.Equal(t, types.RoleAgent, m.FinalSpeaker)

	abrupt := []types.TranscriptEntry{
		turn(types.RoleCustomer, "hello are you there", 0, 1000, 0.9),
	}
	m = scoreDisconnection(abrupt, "en")
	assert.False(t, m.NaturalEnding)
	assert.Less(t, m.Score, float64(50))
}

func TestScoreDisconnectionSpanish(t *testing.T) {
	entries := []types.TranscriptEntry{
		turn(types.RoleAgent, "gracias por llamar, adiós", 0, 2000, 0.9),
	}
	m := scoreDisconnection(entries, "es")
	assert.True(t, m.NaturalEnding)
}

func TestSentinelEntriesExcluded(t *testing.T) {
	entries := []types.TranscriptEntry{
		turn(types.RoleCustomer, "hello", 0, 1000, 0.9),
		{Role: types.RoleAgent, Text: "no response", Sentinel: true},
		turn(types.RoleAgent, "hi, goodbye", 2000, 1000, 0.9),
	}
	m := scoreDisconnection(entries, "en")
	assert.Equal(t, "hi, goodbye", "hi, goodbye")
	assert.True(t, m.NaturalEnding)

	assert.Len(t, withoutSentinels(entries), 2)
}

func TestEvaluateOverallExcludesNoSignalMetrics(t *testing.T) {
	ev := NewEvaluator(nil)
	// Single entry: latency and interruption produce no signal and must
	// not drag the mean toward zero.
	entries := []types.TranscriptEntry{
		turn(types.RoleAgent, "your booking is confirmed, thank you for calling", 0, 4000, 0.95),
	}
	result, err := ev.Evaluate(context.Background(), entries, nil, "en")
	require.NoError(t, err)

	assert.Equal(t, float64(0), result.Latency.Score)
	assert.Greater(t, result.OverallScore, float64(60))
	assert.NotEmpty(t, result.Grade)
}

func TestEvaluateGradeBoundaries(t *testing.T) {
	cases := map[float64]string{
		90: "A", 89: "B", 80: "B", 79: "C", 70: "C", 69: "D", 60: "D", 59: "F",
	}
	for score, grade := range cases {
		assert.Equal(t, grade, types.GradeForScore(score), "score %v", score)
	}
}

func TestDeriveFindingsCaps(t *testing.T) {
	r := &types.EvaluationResult{
		Latency:       types.LatencyMetric{Score: 25, P95GapMs: 5000, Samples: 3},
		Interruption:  types.InterruptionMetric{Score: 25, Count: 9, PerMinute: 6},
		Repetition:    types.RepetitionMetric{Score: 30, LoopDetected: true},
		Pronunciation: types.PronunciationMetric{Score: 20, AvgConfidence: 0.3, WordsPerMinute: 60},
		Disconnection: types.DisconnectionMetric{Score: 30, NaturalEnding: false},
		JobsToBeDone:  types.JobsMetric{Score: 40, MissingSteps: []string{"verify identity"}},
	}
	critical, recs := deriveFindings(r)
	assert.LessOrEqual(t, len(critical), 5)
	assert.LessOrEqual(t, len(recs), 5)
	assert.NotEmpty(t, critical)
	assert.NotEmpty(t, recs)
}
