package types

import "time"

// SpeakerRole identifies who produced a transcript entry.
type SpeakerRole string

const (
	RoleCustomer SpeakerRole = "customer"
	RoleAgent    SpeakerRole = "agent"
	RoleSystem   SpeakerRole = "system"
)

// CallStatus is the lifecycle state of a call evaluation.
type CallStatus string

const (
	CallPending      CallStatus = "pending"
	CallUploading    CallStatus = "uploading"
	CallProcessing   CallStatus = "processing"
	CallTranscribing CallStatus = "transcribing"
	CallEvaluating   CallStatus = "evaluating"
	CallCompleted    CallStatus = "completed"
	CallFailed       CallStatus = "failed"
)

// Progress returns the progress percentage associated with a status.
func (s CallStatus) Progress() int {
	switch s {
	case CallPending:
		return 0
	case CallUploading:
		return 10
	case CallProcessing:
		return 20
	case CallTranscribing:
		return 60
	case CallEvaluating:
		return 90
	case CallCompleted:
		return 100
	default:
		return 0
	}
}

// Terminal reports whether the status admits no further transitions
// (failed is recoverable only through an explicit retry).
func (s CallStatus) Terminal() bool {
	return s == CallCompleted || s == CallFailed
}

// TranscriptEntry is a single utterance within a call. Entries are immutable
// once appended; insertion order is the turn order and is semantically
// meaningful for turn-taking analysis.
type TranscriptEntry struct {
	Role       SpeakerRole `json:"role"`
	Text       string      `json:"text"`
	StartMs    int64       `json:"start_ms"`
	DurationMs int64       `json:"duration_ms"`
	Confidence float64     `json:"confidence"`
	Language   string      `json:"language,omitempty"`
	Sentinel   bool        `json:"sentinel,omitempty"`
}

// EndMs returns the entry's end offset relative to call start.
func (e TranscriptEntry) EndMs() int64 {
	return e.StartMs + e.DurationMs
}

// CallMetadata is the free-form metadata accepted at ingestion.
type CallMetadata struct {
	CallDate     time.Time         `json:"call_date,omitempty"`
	CallerNumber string            `json:"caller_number,omitempty"`
	AgentID      string            `json:"agent_id,omitempty"`
	CampaignID   string            `json:"campaign_id,omitempty"`
	Region       string            `json:"region,omitempty"`
	Language     string            `json:"language,omitempty"`
	Custom       map[string]string `json:"custom,omitempty"`
}

// CallRecord is the unit the evaluation pipeline operates on. Created on
// upload, mutated only by the pipeline and explicit retry/delete operations.
type CallRecord struct {
	ID         string            `json:"id"`
	CustomerID string            `json:"customer_id"`
	Metadata   CallMetadata      `json:"metadata"`
	AudioRef   string            `json:"audio_ref,omitempty"`
	Status     CallStatus        `json:"status"`
	Progress   int               `json:"progress"`
	Transcript []TranscriptEntry `json:"transcript,omitempty"`
	Evaluation *EvaluationResult `json:"evaluation,omitempty"`
	RetryCount int               `json:"retry_count"`
	LastError  *ErrorDetail      `json:"last_error,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
	DeletedAt  *time.Time        `json:"deleted_at,omitempty"`
}

// DurationMs returns the call length implied by the transcript.
func DurationMs(entries []TranscriptEntry) int64 {
	var max int64
	for _, e := range entries {
		if end := e.EndMs(); end > max {
			max = end
		}
	}
	return max
}

// KnowledgeBaseEntry describes one expected job for an agent. Jobs are
// looked up by agent id; they are never created implicitly.
type KnowledgeBaseEntry struct {
	ID                   string   `json:"id"`
	AgentID              string   `json:"agent_id"`
	Name                 string   `json:"name"`
	RequiredSteps        []string `json:"required_steps,omitempty"`
	CompletionIndicators []string `json:"completion_indicators,omitempty"`
}
