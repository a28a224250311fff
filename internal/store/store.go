// Package store defines the persistence interfaces the service is built
// against. Backends: memory (default, zero-dependency runtime) and gormstore
// (MySQL via GORM, enabled through configuration).
package store

import (
	"context"
	"errors"
	"time"

	"github.com/crossborder/core/internal/models"
)

// ErrNotFound is returned when a lookup matches no record.
var ErrNotFound = errors.New("store: record not found")

// ErrAlreadyExists is returned by write-once stores on duplicate insert.
var ErrAlreadyExists = errors.New("store: record already exists")

// QuoteStore persists quotes. Quotes are immutable after Create.
type QuoteStore interface {
	Create(ctx context.Context, quote *models.QuoteModel) error
	Get(ctx context.Context, id string) (*models.QuoteModel, error)
	// DeleteExpired removes quotes whose expiry is before cutoff and returns
	// how many were removed.
	DeleteExpired(ctx context.Context, cutoff time.Time) (int, error)
}

// PaymentFilter narrows List results. Zero values mean "no constraint".
type PaymentFilter struct {
	Status    models.PaymentStatus
	NetworkID string
	SenderID  string
	Limit     int
	Offset    int
}

// PaymentStore persists payment records.
type PaymentStore interface {
	Create(ctx context.Context, payment *models.PaymentModel) error
	Get(ctx context.Context, id string) (*models.PaymentModel, error)
	GetByExternalID(ctx context.Context, externalID string) (*models.PaymentModel, error)
	Update(ctx context.Context, payment *models.PaymentModel) error
	List(ctx context.Context, filter PaymentFilter) ([]*models.PaymentModel, int64, error)
}

// EventStore is the append-only payment event log. Events returned by the
// list methods are ordered by timestamp, ties broken by insertion order.
type EventStore interface {
	Append(ctx context.Context, event *models.PaymentEventModel) error
	ListByPayment(ctx context.Context, paymentID string) ([]*models.PaymentEventModel, error)
	ListByType(ctx context.Context, eventType models.EventType) ([]*models.PaymentEventModel, error)
	ListAll(ctx context.Context) ([]*models.PaymentEventModel, error)
	Latest(ctx context.Context, paymentID string) (*models.PaymentEventModel, error)
}

// SubscriptionStore persists webhook subscriptions and delivery attempts.
// Attempt history is capped per subscription; backends evict oldest first.
type SubscriptionStore interface {
	Create(ctx context.Context, sub *models.WebhookSubscriptionModel) error
	Get(ctx context.Context, id string) (*models.WebhookSubscriptionModel, error)
	Update(ctx context.Context, sub *models.WebhookSubscriptionModel) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]*models.WebhookSubscriptionModel, error)
	GetByClientID(ctx context.Context, clientID string) ([]*models.WebhookSubscriptionModel, error)

	RecordAttempt(ctx context.Context, attempt *models.DeliveryAttemptModel) error
	// ListAttempts returns up to limit attempts, newest first. A limit of
	// zero or less returns everything the backend retains.
	ListAttempts(ctx context.Context, subscriptionID string, limit int) ([]*models.DeliveryAttemptModel, error)
}
