package store

import (
	"context"
	"errors"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/voxlens/voxlens/types"
)

// RunStore persists conversation runs. Like calls, each run has a single
// writer at a time: transcript appends from the callback surface and
// state changes from the orchestrator go through a per-record lock.
type RunStore struct {
	db    *gorm.DB
	locks sync.Map
}

// NewRunStore builds a run store over the given database handle.
func NewRunStore(db *gorm.DB) *RunStore {
	return &RunStore{db: db}
}

func (s *RunStore) lockFor(id string) *sync.Mutex {
	mu, _ := s.locks.LoadOrStore(id, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// Create inserts a new run.
func (s *RunStore) Create(ctx context.Context, run *types.ConversationRun) error {
	now := time.Now().UTC()
	if run.CreatedAt.IsZero() {
		run.CreatedAt = now
	}
	run.UpdatedAt = now
	return s.db.WithContext(ctx).Create(newRunRow(run)).Error
}

// Get returns a run by id.
func (s *RunStore) Get(ctx context.Context, id string) (*types.ConversationRun, error) {
	var row runRow
	err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, notFound("run", id)
	}
	if err != nil {
		return nil, err
	}
	return row.toRecord(), nil
}

// GetByExternalCallID resolves the run owning a carrier call. The callback
// surface uses this to route carrier events to the right run.
func (s *RunStore) GetByExternalCallID(ctx context.Context, callID string) (*types.ConversationRun, error) {
	var row runRow
	err := s.db.WithContext(ctx).First(&row, "external_call_id = ?", callID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, notFound("run", callID)
	}
	if err != nil {
		return nil, err
	}
	return row.toRecord(), nil
}

// List returns a customer's runs, newest first.
func (s *RunStore) List(ctx context.Context, customerID string, limit int) ([]*types.ConversationRun, error) {
	q := s.db.WithContext(ctx).Model(&runRow{}).Order("created_at DESC")
	if customerID != "" {
		q = q.Where("customer_id = ?", customerID)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []runRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*types.ConversationRun, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toRecord())
	}
	return out, nil
}

// UpdateStatus transitions the run.
func (s *RunStore) UpdateStatus(ctx context.Context, id string, status types.RunStatus) error {
	mu := s.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	updates := map[string]any{"status": string(status)}
	if status.Terminal() {
		now := time.Now().UTC()
		updates["completed_at"] = &now
	}
	res := s.db.WithContext(ctx).Model(&runRow{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return notFound("run", id)
	}
	return nil
}

// SetCarrierState records the carrier call id and its latest status.
func (s *RunStore) SetCarrierState(ctx context.Context, id, externalCallID, carrierStatus string) error {
	mu := s.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	updates := map[string]any{}
	if externalCallID != "" {
		updates["external_call_id"] = externalCallID
	}
	if carrierStatus != "" {
		updates["carrier_status"] = carrierStatus
	}
	if len(updates) == 0 {
		return nil
	}
	res := s.db.WithContext(ctx).Model(&runRow{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return notFound("run", id)
	}
	return nil
}

// AppendTranscript appends entries in observation order under the
// per-record lock.
func (s *RunStore) AppendTranscript(ctx context.Context, id string, entries ...types.TranscriptEntry) error {
	if len(entries) == 0 {
		return nil
	}
	mu := s.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	var row runRow
	err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return notFound("run", id)
	}
	if err != nil {
		return err
	}

	run := row.toRecord()
	run.Transcript = append(run.Transcript, entries...)
	return s.db.WithContext(ctx).Model(&runRow{}).Where("id = ?", id).
		Update("transcript", marshalJSON(run.Transcript)).Error
}

// SetEvaluation stores the terminal evaluation and completes the run.
func (s *RunStore) SetEvaluation(ctx context.Context, id string, eval *types.EvaluationResult) error {
	mu := s.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	now := time.Now().UTC()
	res := s.db.WithContext(ctx).Model(&runRow{}).Where("id = ?", id).Updates(map[string]any{
		"evaluation":   marshalJSON(eval),
		"status":       string(types.RunCompleted),
		"completed_at": &now,
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return notFound("run", id)
	}
	return nil
}

// MarkFailed transitions the run to failed with the error detail.
func (s *RunStore) MarkFailed(ctx context.Context, id string, detail *types.ErrorDetail) error {
	mu := s.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	now := time.Now().UTC()
	res := s.db.WithContext(ctx).Model(&runRow{}).Where("id = ?", id).Updates(map[string]any{
		"status":       string(types.RunFailed),
		"last_error":   marshalJSON(detail),
		"completed_at": &now,
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return notFound("run", id)
	}
	return nil
}
