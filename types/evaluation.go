package types

import "time"

// Grade letters derived from the overall score.
const (
	GradeA = "A"
	GradeB = "B"
	GradeC = "C"
	GradeD = "D"
	GradeF = "F"
)

// GradeForScore maps an overall score to its letter grade.
func GradeForScore(score float64) string {
	switch {
	case score >= 90:
		return GradeA
	case score >= 80:
		return GradeB
	case score >= 70:
		return GradeC
	case score >= 60:
		return GradeD
	default:
		return GradeF
	}
}

// ClampScore bounds a metric score to [0,100].
func ClampScore(s float64) float64 {
	if s < 0 {
		return 0
	}
	if s > 100 {
		return 100
	}
	return s
}

// LatencyMetric scores cross-speaker response gaps.
type LatencyMetric struct {
	Score    float64 `json:"score"`
	P95GapMs float64 `json:"p95_gap_ms"`
	AvgGapMs float64 `json:"avg_gap_ms"`
	Samples  int     `json:"samples"`
}

// InterruptionMetric scores overlapping speech between speakers.
type InterruptionMetric struct {
	Score     float64 `json:"score"`
	Count     int     `json:"count"`
	PerMinute float64 `json:"per_minute"`
}

// PronunciationMetric scores transcription confidence and speaking pace.
type PronunciationMetric struct {
	Score          float64 `json:"score"`
	AvgConfidence  float64 `json:"avg_confidence"`
	WordsPerMinute float64 `json:"words_per_minute"`
}

// RepetitionMetric detects repeated phrases and conversational loops.
type RepetitionMetric struct {
	Score           float64  `json:"score"`
	LoopDetected    bool     `json:"loop_detected"`
	RepeatedPhrases []string `json:"repeated_phrases,omitempty"`
}

// DisconnectionMetric classifies how the call ended.
type DisconnectionMetric struct {
	Score         float64     `json:"score"`
	NaturalEnding bool        `json:"natural_ending"`
	FinalSpeaker  SpeakerRole `json:"final_speaker,omitempty"`
}

// JobsMetric scores whether the caller's underlying task was accomplished.
// Source records which strategy produced the score ("llm" or "heuristic").
type JobsMetric struct {
	Score         float64  `json:"score"`
	CompletedJobs []string `json:"completed_jobs,omitempty"`
	MissingSteps  []string `json:"missing_steps,omitempty"`
	Source        string   `json:"source"`
}

// EvaluationResult is produced once per successful evaluation pass. Recomputed
// on retry, fully replacing the prior value. OverallScore is the unweighted
// mean of metrics that produced a positive score; Grade is derived, never
// independently settable.
type EvaluationResult struct {
	OverallScore    float64             `json:"overall_score"`
	Grade           string              `json:"grade"`
	ProcessedAt     time.Time           `json:"processed_at"`
	Latency         LatencyMetric       `json:"latency"`
	Interruption    InterruptionMetric  `json:"interruption"`
	Pronunciation   PronunciationMetric `json:"pronunciation"`
	Repetition      RepetitionMetric    `json:"repetition"`
	Disconnection   DisconnectionMetric `json:"disconnection"`
	JobsToBeDone    JobsMetric          `json:"jobs_to_be_done"`
	CriticalIssues  []string            `json:"critical_issues,omitempty"`
	Recommendations []string            `json:"recommendations,omitempty"`
}
