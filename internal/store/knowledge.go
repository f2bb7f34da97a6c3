package store

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/voxlens/voxlens/types"
)

// KnowledgeStore persists the expected-jobs knowledge base, keyed by
// agent id.
type KnowledgeStore struct {
	db *gorm.DB
}

// NewKnowledgeStore builds a knowledge store over the given database
// handle.
func NewKnowledgeStore(db *gorm.DB) *KnowledgeStore {
	return &KnowledgeStore{db: db}
}

// Put inserts or replaces a knowledge-base entry.
func (s *KnowledgeStore) Put(ctx context.Context, e *types.KnowledgeBaseEntry) error {
	return s.db.WithContext(ctx).Save(newKnowledgeRow(e)).Error
}

// Get returns one entry by id.
func (s *KnowledgeStore) Get(ctx context.Context, id string) (*types.KnowledgeBaseEntry, error) {
	var row knowledgeRow
	err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, notFound("knowledge entry", id)
	}
	if err != nil {
		return nil, err
	}
	return row.toEntry(), nil
}

// ForAgent returns every expected job registered for an agent. An empty
// result is not an error: the evaluation pipeline falls back to its
// keyword heuristic when no knowledge base exists.
func (s *KnowledgeStore) ForAgent(ctx context.Context, agentID string) ([]*types.KnowledgeBaseEntry, error) {
	var rows []knowledgeRow
	if err := s.db.WithContext(ctx).Find(&rows, "agent_id = ?", agentID).Error; err != nil {
		return nil, err
	}
	out := make([]*types.KnowledgeBaseEntry, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toEntry())
	}
	return out, nil
}

// Delete removes an entry.
func (s *KnowledgeStore) Delete(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Delete(&knowledgeRow{}, "id = ?", id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return notFound("knowledge entry", id)
	}
	return nil
}
