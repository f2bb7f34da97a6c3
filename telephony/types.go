// Package telephony provides outbound call control for live agent test runs.
//
// A Provider places PSTN calls against a carrier API and reports carrier
// call state back through HTTP callbacks. Call-control instructions for
// those callbacks are rendered as TwiML-style XML documents.
package telephony

import (
	"context"
	"time"
)

// Carrier call status values, as reported on status callbacks.
const (
	StatusQueued     = "queued"
	StatusRinging    = "ringing"
	StatusInProgress = "in-progress"
	StatusCompleted  = "completed"
	StatusBusy       = "busy"
	StatusFailed     = "failed"
	StatusNoAnswer   = "no-answer"
	StatusCanceled   = "canceled"
)

// TerminalStatus reports whether a carrier status is final.
func TerminalStatus(status string) bool {
	switch status {
	case StatusCompleted, StatusBusy, StatusFailed, StatusNoAnswer, StatusCanceled:
		return true
	}
	return false
}

// CallRequest describes an outbound call to place.
type CallRequest struct {
	// To is the destination number or SIP endpoint in E.164 form.
	To string
	// From is the caller ID. Falls back to the provider's configured number.
	From string
	// AnswerURL receives the call-control instruction document when the
	// callee answers.
	AnswerURL string
	// StatusCallbackURL receives carrier status transitions.
	StatusCallbackURL string
	// Record enables full-call recording at the carrier.
	Record bool
	// Timeout is how long the carrier lets the call ring before giving up.
	Timeout time.Duration
}

// Call is the carrier's view of a placed call.
type Call struct {
	SID       string    `json:"sid"`
	Provider  string    `json:"provider"`
	To        string    `json:"to"`
	From      string    `json:"from"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}

// Provider places and controls calls against a carrier API.
type Provider interface {
	// PlaceCall starts an outbound call. The carrier drives the rest of
	// the call through the request's callback URLs.
	PlaceCall(ctx context.Context, req *CallRequest) (*Call, error)

	// HangupCall ends an in-progress call.
	HangupCall(ctx context.Context, sid string) error

	// Name returns the stable provider identifier.
	Name() string
}
