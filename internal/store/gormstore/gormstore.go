// Package gormstore implements the store interfaces on top of GORM/MySQL
// for deployments that need durability across restarts.
package gormstore

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/crossborder/core/internal/models"
	"github.com/crossborder/core/internal/store"
)

// maxAttemptsPerSubscription caps the delivery attempt rows kept per
// subscription. RecordAttempt evicts the oldest rows past the cap.
const maxAttemptsPerSubscription = 100

func translate(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return store.ErrNotFound
	}
	return err
}

// QuoteStore is a MySQL-backed store.QuoteStore.
type QuoteStore struct{ db *gorm.DB }

func NewQuoteStore(db *gorm.DB) *QuoteStore { return &QuoteStore{db: db} }

func (s *QuoteStore) Create(ctx context.Context, quote *models.QuoteModel) error {
	return s.db.WithContext(ctx).Create(quote).Error
}

func (s *QuoteStore) Get(ctx context.Context, id string) (*models.QuoteModel, error) {
	var q models.QuoteModel
	if err := s.db.WithContext(ctx).First(&q, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &q, nil
}

func (s *QuoteStore) DeleteExpired(ctx context.Context, cutoff time.Time) (int, error) {
	res := s.db.WithContext(ctx).
		Where("expires_at < ?", cutoff).
		Delete(&models.QuoteModel{})
	return int(res.RowsAffected), res.Error
}

// PaymentStore is a MySQL-backed store.PaymentStore.
type PaymentStore struct{ db *gorm.DB }

func NewPaymentStore(db *gorm.DB) *PaymentStore { return &PaymentStore{db: db} }

func (s *PaymentStore) Create(ctx context.Context, payment *models.PaymentModel) error {
	return s.db.WithContext(ctx).Create(payment).Error
}

func (s *PaymentStore) Get(ctx context.Context, id string) (*models.PaymentModel, error) {
	var p models.PaymentModel
	if err := s.db.WithContext(ctx).First(&p, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &p, nil
}

func (s *PaymentStore) GetByExternalID(ctx context.Context, externalID string) (*models.PaymentModel, error) {
	var p models.PaymentModel
	if err := s.db.WithContext(ctx).First(&p, "external_id = ?", externalID).Error; err != nil {
		return nil, translate(err)
	}
	return &p, nil
}

func (s *PaymentStore) Update(ctx context.Context, payment *models.PaymentModel) error {
	res := s.db.WithContext(ctx).
		Model(&models.PaymentModel{}).
		Where("id = ?", payment.ID).
		Select("*").Omit("id", "created_at").
		Updates(payment)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *PaymentStore) List(ctx context.Context, filter store.PaymentFilter) ([]*models.PaymentModel, int64, error) {
	q := s.db.WithContext(ctx).Model(&models.PaymentModel{})
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	if filter.NetworkID != "" {
		q = q.Where("network_id = ?", filter.NetworkID)
	}
	if filter.SenderID != "" {
		q = q.Where("JSON_EXTRACT(sender, '$.id') = ?", filter.SenderID)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if filter.Offset > 0 {
		q = q.Offset(filter.Offset)
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}

	var out []*models.PaymentModel
	if err := q.Order("created_at DESC").Find(&out).Error; err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

// EventStore is a MySQL-backed store.EventStore. Seq is the auto-increment
// column and provides the insertion-order tiebreak.
type EventStore struct{ db *gorm.DB }

func NewEventStore(db *gorm.DB) *EventStore { return &EventStore{db: db} }

func (s *EventStore) Append(ctx context.Context, event *models.PaymentEventModel) error {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	return s.db.WithContext(ctx).Create(event).Error
}

func (s *EventStore) ListByPayment(ctx context.Context, paymentID string) ([]*models.PaymentEventModel, error) {
	return s.list(ctx, "payment_id = ?", paymentID)
}

func (s *EventStore) ListByType(ctx context.Context, eventType models.EventType) ([]*models.PaymentEventModel, error) {
	return s.list(ctx, "type = ?", eventType)
}

func (s *EventStore) ListAll(ctx context.Context) ([]*models.PaymentEventModel, error) {
	return s.list(ctx, "")
}

func (s *EventStore) Latest(ctx context.Context, paymentID string) (*models.PaymentEventModel, error) {
	var e models.PaymentEventModel
	err := s.db.WithContext(ctx).
		Where("payment_id = ?", paymentID).
		Order("timestamp DESC, seq DESC").
		First(&e).Error
	if err != nil {
		return nil, translate(err)
	}
	return &e, nil
}

func (s *EventStore) list(ctx context.Context, cond string, args ...any) ([]*models.PaymentEventModel, error) {
	q := s.db.WithContext(ctx).Model(&models.PaymentEventModel{})
	if cond != "" {
		q = q.Where(cond, args...)
	}
	var out []*models.PaymentEventModel
	if err := q.Order("timestamp ASC, seq ASC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// SubscriptionStore is a MySQL-backed store.SubscriptionStore.
type SubscriptionStore struct{ db *gorm.DB }

func NewSubscriptionStore(db *gorm.DB) *SubscriptionStore {
	return &SubscriptionStore{db: db}
}

func (s *SubscriptionStore) Create(ctx context.Context, sub *models.WebhookSubscriptionModel) error {
	return s.db.WithContext(ctx).Create(sub).Error
}

func (s *SubscriptionStore) Get(ctx context.Context, id string) (*models.WebhookSubscriptionModel, error) {
	var sub models.WebhookSubscriptionModel
	if err := s.db.WithContext(ctx).First(&sub, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &sub, nil
}

func (s *SubscriptionStore) Update(ctx context.Context, sub *models.WebhookSubscriptionModel) error {
	res := s.db.WithContext(ctx).
		Model(&models.WebhookSubscriptionModel{}).
		Where("id = ?", sub.ID).
		Select("*").Omit("id", "created_at").
		Updates(sub)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *SubscriptionStore) Delete(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Delete(&models.WebhookSubscriptionModel{}, "id = ?", id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return store.ErrNotFound
		}
		return tx.Delete(&models.DeliveryAttemptModel{}, "subscription_id = ?", id).Error
	})
}

func (s *SubscriptionStore) List(ctx context.Context) ([]*models.WebhookSubscriptionModel, error) {
	var out []*models.WebhookSubscriptionModel
	if err := s.db.WithContext(ctx).Order("created_at ASC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (s *SubscriptionStore) GetByClientID(ctx context.Context, clientID string) ([]*models.WebhookSubscriptionModel, error) {
	var out []*models.WebhookSubscriptionModel
	err := s.db.WithContext(ctx).
		Where("client_id = ?", clientID).
		Order("created_at ASC").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *SubscriptionStore) RecordAttempt(ctx context.Context, attempt *models.DeliveryAttemptModel) error {
	if attempt.ID == "" {
		attempt.ID = uuid.New().String()
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(attempt).Error; err != nil {
			return err
		}
		var count int64
		err := tx.Model(&models.DeliveryAttemptModel{}).
			Where("subscription_id = ?", attempt.SubscriptionID).
			Count(&count).Error
		if err != nil {
			return err
		}
		if excess := count - maxAttemptsPerSubscription; excess > 0 {
			return tx.Where("subscription_id = ?", attempt.SubscriptionID).
				Order("attempted_at ASC, attempt_number ASC").
				Limit(int(excess)).
				Delete(&models.DeliveryAttemptModel{}).Error
		}
		return nil
	})
}

func (s *SubscriptionStore) ListAttempts(ctx context.Context, subscriptionID string, limit int) ([]*models.DeliveryAttemptModel, error) {
	if limit <= 0 || limit > maxAttemptsPerSubscription {
		limit = maxAttemptsPerSubscription
	}
	var out []*models.DeliveryAttemptModel
	err := s.db.WithContext(ctx).
		Where("subscription_id = ?", subscriptionID).
		Order("attempted_at DESC, attempt_number DESC").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}
