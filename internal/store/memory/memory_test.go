package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crossborder/core/internal/models"
	"github.com/crossborder/core/internal/store"
)

func TestQuoteStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewQuoteStore()

	q := &models.QuoteModel{
		NetworkID:      "mpesa-kenya",
		SourceAmount:   100,
		SourceCurrency: "USD",
		ExpiresAt:      time.Now().Add(30 * time.Second),
	}
	require.NoError(t, s.Create(ctx, q))
	require.NotEmpty(t, q.ID)

	got, err := s.Get(ctx, q.ID)
	require.NoError(t, err)
	assert.Equal(t, "mpesa-kenya", got.NetworkID)

	_, err = s.Get(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestQuoteStoreDeleteExpired(t *testing.T) {
	ctx := context.Background()
	s := NewQuoteStore()
	now := time.Now()

	expired := &models.QuoteModel{ExpiresAt: now.Add(-time.Minute)}
	live := &models.QuoteModel{ExpiresAt: now.Add(time.Minute)}
	require.NoError(t, s.Create(ctx, expired))
	require.NoError(t, s.Create(ctx, live))

	removed, err := s.DeleteExpired(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = s.Get(ctx, expired.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.Get(ctx, live.ID)
	assert.NoError(t, err)
}

func TestPaymentStoreMutationsAreIsolated(t *testing.T) {
	ctx := context.Background()
	s := NewPaymentStore()

	p := &models.PaymentModel{Status: models.StatusCreated, NetworkID: "stripe-card"}
	require.NoError(t, s.Create(ctx, p))

	got, err := s.Get(ctx, p.ID)
	require.NoError(t, err)
	got.Status = models.StatusFailed

	again, err := s.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCreated, again.Status, "caller mutation must not leak into the store")
}

func TestPaymentStoreListFilters(t *testing.T) {
	ctx := context.Background()
	s := NewPaymentStore()

	for i, st := range []models.PaymentStatus{
		models.StatusCreated, models.StatusCompleted, models.StatusCompleted,
	} {
		p := &models.PaymentModel{Status: st, NetworkID: "gcash-ph"}
		p.CreatedAt = time.Now().Add(time.Duration(i) * time.Millisecond)
		require.NoError(t, s.Create(ctx, p))
	}

	got, total, err := s.List(ctx, store.PaymentFilter{Status: models.StatusCompleted})
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)
	assert.Len(t, got, 2)

	got, total, err = s.List(ctx, store.PaymentFilter{Limit: 1})
	require.NoError(t, err)
	assert.EqualValues(t, 3, total)
	assert.Len(t, got, 1)
}

func TestEventStoreOrderingWithTimestampTies(t *testing.T) {
	ctx := context.Background()
	s := NewEventStore()
	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	// Same timestamp for all three; insertion order must win.
	for _, typ := range []models.EventType{
		models.EventPaymentCreated, models.EventQuoteLocked, models.EventPaymentSubmitted,
	} {
		require.NoError(t, s.Append(ctx, &models.PaymentEventModel{
			PaymentID: "pay-1",
			Type:      typ,
			Timestamp: ts,
		}))
	}
	// An earlier timestamp appended later still sorts first.
	require.NoError(t, s.Append(ctx, &models.PaymentEventModel{
		PaymentID: "pay-1",
		Type:      models.EventPaymentFailed,
		Timestamp: ts.Add(-time.Second),
	}))

	events, err := s.ListByPayment(ctx, "pay-1")
	require.NoError(t, err)
	require.Len(t, events, 4)
	assert.Equal(t, models.EventPaymentFailed, events[0].Type)
	assert.Equal(t, models.EventPaymentCreated, events[1].Type)
	assert.Equal(t, models.EventQuoteLocked, events[2].Type)
	assert.Equal(t, models.EventPaymentSubmitted, events[3].Type)
}

func TestEventStoreFilters(t *testing.T) {
	ctx := context.Background()
	s := NewEventStore()
	now := time.Now()

	require.NoError(t, s.Append(ctx, &models.PaymentEventModel{PaymentID: "a", Type: models.EventPaymentCreated, Timestamp: now}))
	require.NoError(t, s.Append(ctx, &models.PaymentEventModel{PaymentID: "b", Type: models.EventPaymentCreated, Timestamp: now}))
	require.NoError(t, s.Append(ctx, &models.PaymentEventModel{PaymentID: "a", Type: models.EventPaymentCompleted, Timestamp: now}))

	byPayment, err := s.ListByPayment(ctx, "a")
	require.NoError(t, err)
	assert.Len(t, byPayment, 2)

	byType, err := s.ListByType(ctx, models.EventPaymentCreated)
	require.NoError(t, err)
	assert.Len(t, byType, 2)

	all, err := s.ListAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestSubscriptionStoreAttemptBufferIsCapped(t *testing.T) {
	ctx := context.Background()
	s := NewSubscriptionStore()

	sub := &models.WebhookSubscriptionModel{URL: "https://example.com/hook", Secret: "whsec_x", Active: true}
	require.NoError(t, s.Create(ctx, sub))

	for i := 0; i < maxAttemptsPerSubscription+20; i++ {
		require.NoError(t, s.RecordAttempt(ctx, &models.DeliveryAttemptModel{
			SubscriptionID: sub.ID,
			AttemptNumber:  i + 1,
			Status:         models.DeliveryFailed,
			AttemptedAt:    time.Now(),
		}))
	}

	attempts, err := s.ListAttempts(ctx, sub.ID, 0)
	require.NoError(t, err)
	require.Len(t, attempts, maxAttemptsPerSubscription)
	// Oldest entries evicted first, listings newest first.
	assert.Equal(t, maxAttemptsPerSubscription+20, attempts[0].AttemptNumber)
	assert.Equal(t, 21, attempts[len(attempts)-1].AttemptNumber)
}

func TestSubscriptionStoreListAttemptsNewestFirstWithLimit(t *testing.T) {
	ctx := context.Background()
	s := NewSubscriptionStore()

	sub := &models.WebhookSubscriptionModel{URL: "https://example.com/hook", Secret: "whsec_x"}
	require.NoError(t, s.Create(ctx, sub))

	base := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	for i := 1; i <= 5; i++ {
		require.NoError(t, s.RecordAttempt(ctx, &models.DeliveryAttemptModel{
			SubscriptionID: sub.ID,
			AttemptNumber:  i,
			AttemptedAt:    base.Add(time.Duration(i) * time.Second),
		}))
	}

	attempts, err := s.ListAttempts(ctx, sub.ID, 2)
	require.NoError(t, err)
	require.Len(t, attempts, 2)
	assert.Equal(t, 5, attempts[0].AttemptNumber)
	assert.Equal(t, 4, attempts[1].AttemptNumber)
}

func TestSubscriptionStoreGetByClientID(t *testing.T) {
	ctx := context.Background()
	s := NewSubscriptionStore()

	mine := &models.WebhookSubscriptionModel{ClientID: "client-1", URL: "https://example.com/a", Secret: "whsec_a"}
	other := &models.WebhookSubscriptionModel{ClientID: "client-2", URL: "https://example.com/b", Secret: "whsec_b"}
	require.NoError(t, s.Create(ctx, mine))
	require.NoError(t, s.Create(ctx, other))

	subs, err := s.GetByClientID(ctx, "client-1")
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, mine.ID, subs[0].ID)

	subs, err = s.GetByClientID(ctx, "client-3")
	require.NoError(t, err)
	assert.Empty(t, subs)
}

func TestSubscriptionStoreDeleteRemovesAttempts(t *testing.T) {
	ctx := context.Background()
	s := NewSubscriptionStore()

	sub := &models.WebhookSubscriptionModel{URL: "https://example.com/hook", Secret: "whsec_x"}
	require.NoError(t, s.Create(ctx, sub))
	require.NoError(t, s.RecordAttempt(ctx, &models.DeliveryAttemptModel{SubscriptionID: sub.ID}))

	require.NoError(t, s.Delete(ctx, sub.ID))
	_, err := s.Get(ctx, sub.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	attempts, err := s.ListAttempts(ctx, sub.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, attempts)
}
