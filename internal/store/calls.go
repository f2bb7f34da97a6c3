package store

import (
	"context"
	"errors"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/voxlens/voxlens/types"
)

// CallStore persists call records. Transcript appends and state
// transitions for one call are serialized through a per-record lock so
// the pipeline and the callback surface never interleave writes.
type CallStore struct {
	db    *gorm.DB
	locks sync.Map // call id -> *sync.Mutex
}

// NewCallStore builds a call store over the given database handle.
func NewCallStore(db *gorm.DB) *CallStore {
	return &CallStore{db: db}
}

func (s *CallStore) lockFor(id string) *sync.Mutex {
	mu, _ := s.locks.LoadOrStore(id, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// Create inserts a new call record.
func (s *CallStore) Create(ctx context.Context, c *types.CallRecord) error {
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	return s.db.WithContext(ctx).Create(newCallRow(c)).Error
}

// Get returns a call by id. Soft-deleted calls are not visible.
func (s *CallStore) Get(ctx context.Context, id string) (*types.CallRecord, error) {
	var row callRow
	err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, notFound("call", id)
	}
	if err != nil {
		return nil, err
	}
	return row.toRecord(), nil
}

// CallFilter narrows List results.
type CallFilter struct {
	CustomerID string
	AgentID    string
	Status     types.CallStatus
	From       time.Time
	To         time.Time
	Limit      int
	Offset     int
}

// List returns calls matching the filter, newest first.
func (s *CallStore) List(ctx context.Context, f CallFilter) ([]*types.CallRecord, error) {
	q := s.db.WithContext(ctx).Model(&callRow{}).Order("created_at DESC")
	if f.CustomerID != "" {
		q = q.Where("customer_id = ?", f.CustomerID)
	}
	if f.AgentID != "" {
		q = q.Where("agent_id = ?", f.AgentID)
	}
	if f.Status != "" {
		q = q.Where("status = ?", string(f.Status))
	}
	if !f.From.IsZero() {
		q = q.Where("created_at >= ?", f.From)
	}
	if !f.To.IsZero() {
		q = q.Where("created_at <= ?", f.To)
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	if f.Offset > 0 {
		q = q.Offset(f.Offset)
	}

	var rows []callRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*types.CallRecord, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toRecord())
	}
	return out, nil
}

// UpdateStatus transitions a call and records the matching progress value.
func (s *CallStore) UpdateStatus(ctx context.Context, id string, status types.CallStatus) error {
	mu := s.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	res := s.db.WithContext(ctx).Model(&callRow{}).Where("id = ?", id).Updates(map[string]any{
		"status":   string(status),
		"progress": status.Progress(),
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return notFound("call", id)
	}
	return nil
}

// SetAudioRef records the content-store reference for the uploaded audio.
func (s *CallStore) SetAudioRef(ctx context.Context, id, ref string) error {
	res := s.db.WithContext(ctx).Model(&callRow{}).Where("id = ?", id).
		Update("audio_ref", ref)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return notFound("call", id)
	}
	return nil
}

// AppendTranscript appends entries to the call's transcript in observation
// order. The per-record lock makes the read-modify-write atomic against
// concurrent appends for the same call.
func (s *CallStore) AppendTranscript(ctx context.Context, id string, entries ...types.TranscriptEntry) error {
	if len(entries) == 0 {
		return nil
	}
	mu := s.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	var row callRow
	err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return notFound("call", id)
	}
	if err != nil {
		return err
	}

	rec := row.toRecord()
	rec.Transcript = append(rec.Transcript, entries...)
	return s.db.WithContext(ctx).Model(&callRow{}).Where("id = ?", id).
		Update("transcript", marshalJSON(rec.Transcript)).Error
}

// SetTranscript replaces the call's transcript wholesale. Used by the
// pipeline after transcribing uploaded audio.
func (s *CallStore) SetTranscript(ctx context.Context, id string, entries []types.TranscriptEntry) error {
	mu := s.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	res := s.db.WithContext(ctx).Model(&callRow{}).Where("id = ?", id).
		Update("transcript", marshalJSON(entries))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return notFound("call", id)
	}
	return nil
}

// SetEvaluation stores the evaluation result and completes the call.
func (s *CallStore) SetEvaluation(ctx context.Context, id string, eval *types.EvaluationResult) error {
	mu := s.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	res := s.db.WithContext(ctx).Model(&callRow{}).Where("id = ?", id).Updates(map[string]any{
		"evaluation": marshalJSON(eval),
		"status":     string(types.CallCompleted),
		"progress":   types.CallCompleted.Progress(),
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return notFound("call", id)
	}
	return nil
}

// MarkFailed transitions the call to failed and records the error detail.
func (s *CallStore) MarkFailed(ctx context.Context, id string, detail *types.ErrorDetail) error {
	mu := s.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	res := s.db.WithContext(ctx).Model(&callRow{}).Where("id = ?", id).Updates(map[string]any{
		"status":     string(types.CallFailed),
		"last_error": marshalJSON(detail),
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return notFound("call", id)
	}
	return nil
}

// Retry resets a failed call to pending, increments the retry count, and
// clears the recorded error. Only failed calls can be retried.
func (s *CallStore) Retry(ctx context.Context, id string) (*types.CallRecord, error) {
	mu := s.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	var row callRow
	err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, notFound("call", id)
	}
	if err != nil {
		return nil, err
	}
	if row.Status != string(types.CallFailed) {
		return nil, types.NewError(types.ErrInvalidRequest,
			"only failed calls can be retried").WithHTTPStatus(409)
	}

	err = s.db.WithContext(ctx).Model(&callRow{}).Where("id = ?", id).Updates(map[string]any{
		"status":      string(types.CallPending),
		"progress":    types.CallPending.Progress(),
		"retry_count": gorm.Expr("retry_count + 1"),
		"last_error":  nil,
	}).Error
	if err != nil {
		return nil, err
	}

	if err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return row.toRecord(), nil
}

// Delete soft-deletes the call. The record stays recoverable in storage
// but disappears from reads.
func (s *CallStore) Delete(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Delete(&callRow{}, "id = ?", id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return notFound("call", id)
	}
	s.locks.Delete(id)
	return nil
}
