package store

import (
	"encoding/json"
	"time"

	"gorm.io/gorm"

	"github.com/voxlens/voxlens/types"
)

// callRow is the database shape of a call record. Structured fields the
// pipeline reads and writes whole (metadata, transcript, evaluation, last
// error) live in JSON columns.
type callRow struct {
	ID         string `gorm:"primaryKey;size:64"`
	CustomerID string `gorm:"index;size:64"`
	AgentID    string `gorm:"index;size:64"`
	Status     string `gorm:"index;size:24"`
	Progress   int
	AudioRef   string `gorm:"size:255"`
	Metadata   []byte
	Transcript []byte
	Evaluation []byte
	LastError  []byte
	RetryCount int
	CreatedAt  time.Time `gorm:"index"`
	UpdatedAt  time.Time
	DeletedAt  gorm.DeletedAt `gorm:"index"`
}

func (callRow) TableName() string { return "calls" }

type runRow struct {
	ID             string `gorm:"primaryKey;size:64"`
	CustomerID     string `gorm:"index;size:64"`
	Status         string `gorm:"index;size:24"`
	ExternalCallID string `gorm:"index;size:64"`
	CarrierStatus  string `gorm:"size:24"`
	Config         []byte
	Transcript     []byte
	Evaluation     []byte
	LastError      []byte
	CreatedAt      time.Time
	UpdatedAt      time.Time
	CompletedAt    *time.Time
}

func (runRow) TableName() string { return "runs" }

type knowledgeRow struct {
	ID                   string `gorm:"primaryKey;size:64"`
	AgentID              string `gorm:"index;size:64"`
	Name                 string `gorm:"size:255"`
	RequiredSteps        []byte
	CompletionIndicators []byte
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

func (knowledgeRow) TableName() string { return "knowledge_base" }

type subscriptionRow struct {
	ID         string `gorm:"primaryKey;size:64"`
	CustomerID string `gorm:"index;size:64"`
	URL        string `gorm:"size:512"`
	Secret     string `gorm:"size:255"`
	Events     []byte
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (subscriptionRow) TableName() string { return "webhook_subscriptions" }

func marshalJSON(v any) []byte {
	if v == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}

func newCallRow(c *types.CallRecord) *callRow {
	row := &callRow{
		ID:         c.ID,
		CustomerID: c.CustomerID,
		AgentID:    c.Metadata.AgentID,
		Status:     string(c.Status),
		Progress:   c.Progress,
		AudioRef:   c.AudioRef,
		Metadata:   marshalJSON(c.Metadata),
		RetryCount: c.RetryCount,
		CreatedAt:  c.CreatedAt,
		UpdatedAt:  c.UpdatedAt,
	}
	if len(c.Transcript) > 0 {
		row.Transcript = marshalJSON(c.Transcript)
	}
	if c.Evaluation != nil {
		row.Evaluation = marshalJSON(c.Evaluation)
	}
	if c.LastError != nil {
		row.LastError = marshalJSON(c.LastError)
	}
	return row
}

func (r *callRow) toRecord() *types.CallRecord {
	c := &types.CallRecord{
		ID:         r.ID,
		CustomerID: r.CustomerID,
		AudioRef:   r.AudioRef,
		Status:     types.CallStatus(r.Status),
		Progress:   r.Progress,
		RetryCount: r.RetryCount,
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
	}
	if len(r.Metadata) > 0 {
		_ = json.Unmarshal(r.Metadata, &c.Metadata)
	}
	if len(r.Transcript) > 0 {
		_ = json.Unmarshal(r.Transcript, &c.Transcript)
	}
	if len(r.Evaluation) > 0 {
		c.Evaluation = &types.EvaluationResult{}
		_ = json.Unmarshal(r.Evaluation, c.Evaluation)
	}
	if len(r.LastError) > 0 {
		c.LastError = &types.ErrorDetail{}
		_ = json.Unmarshal(r.LastError, c.LastError)
	}
	if r.DeletedAt.Valid {
		t := r.DeletedAt.Time
		c.DeletedAt = &t
	}
	return c
}

func newRunRow(run *types.ConversationRun) *runRow {
	row := &runRow{
		ID:             run.ID,
		CustomerID:     run.CustomerID,
		Status:         string(run.Status),
		ExternalCallID: run.ExternalCallID,
		CarrierStatus:  run.CarrierStatus,
		Config:         marshalJSON(run.Config),
		CreatedAt:      run.CreatedAt,
		UpdatedAt:      run.UpdatedAt,
		CompletedAt:    run.CompletedAt,
	}
	if len(run.Transcript) > 0 {
		row.Transcript = marshalJSON(run.Transcript)
	}
	if run.Evaluation != nil {
		row.Evaluation = marshalJSON(run.Evaluation)
	}
	if run.LastError != nil {
		row.LastError = marshalJSON(run.LastError)
	}
	return row
}

func (r *runRow) toRecord() *types.ConversationRun {
	run := &types.ConversationRun{
		ID:             r.ID,
		CustomerID:     r.CustomerID,
		Status:         types.RunStatus(r.Status),
		ExternalCallID: r.ExternalCallID,
		CarrierStatus:  r.CarrierStatus,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
		CompletedAt:    r.CompletedAt,
	}
	if len(r.Config) > 0 {
		_ = json.Unmarshal(r.Config, &run.Config)
	}
	if len(r.Transcript) > 0 {
		_ = json.Unmarshal(r.Transcript, &run.Transcript)
	}
	if len(r.Evaluation) > 0 {
		run.Evaluation = &types.EvaluationResult{}
		_ = json.Unmarshal(r.Evaluation, run.Evaluation)
	}
	if len(r.LastError) > 0 {
		run.LastError = &types.ErrorDetail{}
		_ = json.Unmarshal(r.LastError, run.LastError)
	}
	return run
}

func newKnowledgeRow(e *types.KnowledgeBaseEntry) *knowledgeRow {
	return &knowledgeRow{
		ID:                   e.ID,
		AgentID:              e.AgentID,
		Name:                 e.Name,
		RequiredSteps:        marshalJSON(e.RequiredSteps),
		CompletionIndicators: marshalJSON(e.CompletionIndicators),
	}
}

func (r *knowledgeRow) toEntry() *types.KnowledgeBaseEntry {
	e := &types.KnowledgeBaseEntry{
		ID:      r.ID,
		AgentID: r.AgentID,
		Name:    r.Name,
	}
	if len(r.RequiredSteps) > 0 {
		_ = json.Unmarshal(r.RequiredSteps, &e.RequiredSteps)
	}
	if len(r.CompletionIndicators) > 0 {
		_ = json.Unmarshal(r.CompletionIndicators, &e.CompletionIndicators)
	}
	return e
}

func newSubscriptionRow(s *types.WebhookSubscription) *subscriptionRow {
	return &subscriptionRow{
		ID:         s.ID,
		CustomerID: s.CustomerID,
		URL:        s.URL,
		Secret:     s.Secret,
		Events:     marshalJSON(s.Events),
		CreatedAt:  s.CreatedAt,
	}
}

func (r *subscriptionRow) toSubscription() *types.WebhookSubscription {
	s := &types.WebhookSubscription{
		ID:         r.ID,
		CustomerID: r.CustomerID,
		URL:        r.URL,
		Secret:     r.Secret,
		CreatedAt:  r.CreatedAt,
	}
	if len(r.Events) > 0 {
		_ = json.Unmarshal(r.Events, &s.Events)
	}
	return s
}
