package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/voxlens/voxlens/types"
)

// SubscriptionStore persists customer webhook subscriptions.
type SubscriptionStore struct {
	db *gorm.DB
}

// NewSubscriptionStore builds a subscription store over the given
// database handle.
func NewSubscriptionStore(db *gorm.DB) *SubscriptionStore {
	return &SubscriptionStore{db: db}
}

// Create inserts a subscription.
func (s *SubscriptionStore) Create(ctx context.Context, sub *types.WebhookSubscription) error {
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now().UTC()
	}
	return s.db.WithContext(ctx).Create(newSubscriptionRow(sub)).Error
}

// Get returns one subscription by id.
func (s *SubscriptionStore) Get(ctx context.Context, id string) (*types.WebhookSubscription, error) {
	var row subscriptionRow
	err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, notFound("subscription", id)
	}
	if err != nil {
		return nil, err
	}
	return row.toSubscription(), nil
}

// List returns a customer's subscriptions.
func (s *SubscriptionStore) List(ctx context.Context, customerID string) ([]*types.WebhookSubscription, error) {
	var rows []subscriptionRow
	if err := s.db.WithContext(ctx).Find(&rows, "customer_id = ?", customerID).Error; err != nil {
		return nil, err
	}
	out := make([]*types.WebhookSubscription, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toSubscription())
	}
	return out, nil
}

// ForEvent returns the customer's subscriptions covering an event name.
func (s *SubscriptionStore) ForEvent(ctx context.Context, customerID, event string) ([]*types.WebhookSubscription, error) {
	subs, err := s.List(ctx, customerID)
	if err != nil {
		return nil, err
	}
	out := subs[:0]
	for _, sub := range subs {
		if sub.SubscribedTo(event) {
			out = append(out, sub)
		}
	}
	return out, nil
}

// Update replaces a subscription's mutable fields.
func (s *SubscriptionStore) Update(ctx context.Context, sub *types.WebhookSubscription) error {
	res := s.db.WithContext(ctx).Model(&subscriptionRow{}).Where("id = ?", sub.ID).Updates(map[string]any{
		"url":    sub.URL,
		"secret": sub.Secret,
		"events": marshalJSON(sub.Events),
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return notFound("subscription", sub.ID)
	}
	return nil
}

// Delete removes a subscription.
func (s *SubscriptionStore) Delete(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Delete(&subscriptionRow{}, "id = ?", id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return notFound("subscription", id)
	}
	return nil
}
