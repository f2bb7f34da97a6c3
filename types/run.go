package types

import "time"

// RunStatus is the lifecycle state of a simulated conversation run.
type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// Terminal reports whether the run admits no further transitions.
func (s RunStatus) Terminal() bool {
	return s == RunCompleted || s == RunFailed
}

// RunConfig describes how a simulated call should be driven.
type RunConfig struct {
	AgentEndpoint string `json:"agent_endpoint"`
	AgentID       string `json:"agent_id,omitempty"`
	Language      string `json:"language,omitempty"`
	Persona       string `json:"persona,omitempty"`
	Scenario      string `json:"scenario,omitempty"`
	MaxTurns      int    `json:"max_turns,omitempty"`
}

// ConversationRun links a run configuration to its live call-control state,
// the accumulated transcript, and the derived evaluation. Terminal once
// completed or failed.
type ConversationRun struct {
	ID             string            `json:"id"`
	CustomerID     string            `json:"customer_id"`
	Config         RunConfig         `json:"config"`
	Status         RunStatus         `json:"status"`
	ExternalCallID string            `json:"external_call_id,omitempty"`
	CarrierStatus  string            `json:"carrier_status,omitempty"`
	Transcript     []TranscriptEntry `json:"transcript,omitempty"`
	Evaluation     *EvaluationResult `json:"evaluation,omitempty"`
	LastError      *ErrorDetail      `json:"last_error,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
	CompletedAt    *time.Time        `json:"completed_at,omitempty"`
}

// WebhookSubscription is a customer-registered notification endpoint.
// Mutated only by explicit configuration calls.
type WebhookSubscription struct {
	ID         string    `json:"id"`
	CustomerID string    `json:"customer_id"`
	URL        string    `json:"url"`
	Secret     string    `json:"-"`
	Events     []string  `json:"events"`
	CreatedAt  time.Time `json:"created_at"`
}

// SubscribedTo reports whether the subscription covers the given event.
// An empty event set subscribes to everything.
func (s *WebhookSubscription) SubscribedTo(event string) bool {
	if len(s.Events) == 0 {
		return true
	}
	for _, e := range s.Events {
		if e == event || e == "*" {
			return true
		}
	}
	return false
}
