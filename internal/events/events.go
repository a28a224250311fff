// Package events provides the domain event constructor and an in-process
// bus used to fan events out to interested components (the webhook
// dispatcher, primarily) after they are appended to the event log.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/crossborder/core/internal/models"
)

// New builds a payment event ready to append.
func New(paymentID string, typ models.EventType, data map[string]any, correlationID string) *models.PaymentEventModel {
	return &models.PaymentEventModel{
		ID:            uuid.New().String(),
		PaymentID:     paymentID,
		Type:          typ,
		Timestamp:     time.Now().UTC(),
		Data:          data,
		CorrelationID: correlationID,
	}
}

// WebhookEventType maps a domain event type to its public webhook name.
// The second return is false for internal-only event types.
func WebhookEventType(typ models.EventType) (string, bool) {
	name, ok := webhookNames[typ]
	return name, ok
}

// KnownWebhookName reports whether name is a public webhook event name.
func KnownWebhookName(name string) bool {
	for _, n := range webhookNames {
		if n == name {
			return true
		}
	}
	return false
}

var webhookNames = map[models.EventType]string{
	models.EventPaymentCreated:           "payment.created",
	models.EventQuoteLocked:              "payment.quote_locked",
	models.EventComplianceCheckCompleted: "payment.compliance_check.completed",
	models.EventPaymentSubmitted:         "payment.submitted",
	models.EventPaymentConfirmed:         "payment.confirmed",
	models.EventPaymentSettled:           "payment.settled",
	models.EventPaymentCompleted:         "payment.completed",
	models.EventPaymentFailed:            "payment.failed",
	models.EventPaymentCancelled:         "payment.cancelled",
}

// Handler consumes a published event. Handlers must not block; anything
// slow should hand off to its own goroutine.
type Handler func(ctx context.Context, event *models.PaymentEventModel)

// Bus is a minimal in-process publish/subscribe fan-out.
type Bus struct {
	mu       sync.RWMutex
	handlers []Handler
}

func NewBus() *Bus { return &Bus{} }

// Subscribe registers a handler for all subsequent events.
func (b *Bus) Subscribe(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, h)
}

// Publish invokes every handler with the event, in subscription order.
func (b *Bus) Publish(ctx context.Context, event *models.PaymentEventModel) {
	b.mu.RLock()
	handlers := make([]Handler, len(b.handlers))
	copy(handlers, b.handlers)
	b.mu.RUnlock()

	for _, h := range handlers {
		h(ctx, event)
	}
}
