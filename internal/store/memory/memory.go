// Package memory provides in-process implementations of the store
// interfaces. They are the default backend and back most of the test suite.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/crossborder/core/internal/models"
	"github.com/crossborder/core/internal/store"
)

// maxAttemptsPerSubscription caps the delivery attempt history kept per
// subscription. Older attempts are evicted first.
const maxAttemptsPerSubscription = 100

// QuoteStore is an in-memory store.QuoteStore.
type QuoteStore struct {
	mu     sync.RWMutex
	quotes map[string]*models.QuoteModel
}

func NewQuoteStore() *QuoteStore {
	return &QuoteStore{quotes: make(map[string]*models.QuoteModel)}
}

func (s *QuoteStore) Create(_ context.Context, quote *models.QuoteModel) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if quote.ID == "" {
		quote.ID = uuid.New().String()
	}
	if _, ok := s.quotes[quote.ID]; ok {
		return store.ErrAlreadyExists
	}
	cp := *quote
	s.quotes[quote.ID] = &cp
	return nil
}

func (s *QuoteStore) Get(_ context.Context, id string) (*models.QuoteModel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	q, ok := s.quotes[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *q
	return &cp, nil
}

func (s *QuoteStore) DeleteExpired(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, q := range s.quotes {
		if q.ExpiresAt.Before(cutoff) {
			delete(s.quotes, id)
			removed++
		}
	}
	return removed, nil
}

// PaymentStore is an in-memory store.PaymentStore.
type PaymentStore struct {
	mu       sync.RWMutex
	payments map[string]*models.PaymentModel
	order    []string
}

func NewPaymentStore() *PaymentStore {
	return &PaymentStore{payments: make(map[string]*models.PaymentModel)}
}

func (s *PaymentStore) Create(_ context.Context, payment *models.PaymentModel) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if payment.ID == "" {
		payment.ID = uuid.New().String()
	}
	if _, ok := s.payments[payment.ID]; ok {
		return store.ErrAlreadyExists
	}
	now := time.Now()
	if payment.CreatedAt.IsZero() {
		payment.CreatedAt = now
	}
	payment.UpdatedAt = now
	cp := *payment
	s.payments[payment.ID] = &cp
	s.order = append(s.order, payment.ID)
	return nil
}

func (s *PaymentStore) Get(_ context.Context, id string) (*models.PaymentModel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.payments[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *PaymentStore) GetByExternalID(_ context.Context, externalID string) (*models.PaymentModel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, id := range s.order {
		if p := s.payments[id]; p.ExternalID == externalID {
			cp := *p
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *PaymentStore) Update(_ context.Context, payment *models.PaymentModel) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.payments[payment.ID]; !ok {
		return store.ErrNotFound
	}
	payment.UpdatedAt = time.Now()
	cp := *payment
	s.payments[payment.ID] = &cp
	return nil
}

func (s *PaymentStore) List(_ context.Context, filter store.PaymentFilter) ([]*models.PaymentModel, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]*models.PaymentModel, 0, len(s.order))
	for _, id := range s.order {
		p := s.payments[id]
		if filter.Status != "" && p.Status != filter.Status {
			continue
		}
		if filter.NetworkID != "" && p.NetworkID != filter.NetworkID {
			continue
		}
		if filter.SenderID != "" && p.Sender.ID != filter.SenderID {
			continue
		}
		matched = append(matched, p)
	}
	total := int64(len(matched))

	// Newest first for listings.
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(matched) {
			matched = nil
		} else {
			matched = matched[filter.Offset:]
		}
	}
	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}

	out := make([]*models.PaymentModel, len(matched))
	for i, p := range matched {
		cp := *p
		out[i] = &cp
	}
	return out, total, nil
}

// EventStore is an in-memory append-only store.EventStore.
type EventStore struct {
	mu     sync.RWMutex
	events []*models.PaymentEventModel
	seq    uint64
}

func NewEventStore() *EventStore {
	return &EventStore{}
}

func (s *EventStore) Append(_ context.Context, event *models.PaymentEventModel) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	s.seq++
	cp := *event
	cp.Seq = s.seq
	s.events = append(s.events, &cp)
	return nil
}

func (s *EventStore) ListByPayment(_ context.Context, paymentID string) ([]*models.PaymentEventModel, error) {
	return s.list(func(e *models.PaymentEventModel) bool { return e.PaymentID == paymentID })
}

func (s *EventStore) ListByType(_ context.Context, eventType models.EventType) ([]*models.PaymentEventModel, error) {
	return s.list(func(e *models.PaymentEventModel) bool { return e.Type == eventType })
}

func (s *EventStore) ListAll(_ context.Context) ([]*models.PaymentEventModel, error) {
	return s.list(func(*models.PaymentEventModel) bool { return true })
}

func (s *EventStore) Latest(ctx context.Context, paymentID string) (*models.PaymentEventModel, error) {
	events, err := s.ListByPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, store.ErrNotFound
	}
	return events[len(events)-1], nil
}

func (s *EventStore) list(match func(*models.PaymentEventModel) bool) ([]*models.PaymentEventModel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.PaymentEventModel, 0)
	for _, e := range s.events {
		if match(e) {
			cp := *e
			out = append(out, &cp)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Seq < out[j].Seq
		}
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out, nil
}

// SubscriptionStore is an in-memory store.SubscriptionStore. Delivery
// attempts are kept in a bounded buffer per subscription.
type SubscriptionStore struct {
	mu       sync.RWMutex
	subs     map[string]*models.WebhookSubscriptionModel
	attempts map[string][]*models.DeliveryAttemptModel
}

func NewSubscriptionStore() *SubscriptionStore {
	return &SubscriptionStore{
		subs:     make(map[string]*models.WebhookSubscriptionModel),
		attempts: make(map[string][]*models.DeliveryAttemptModel),
	}
}

func (s *SubscriptionStore) Create(_ context.Context, sub *models.WebhookSubscriptionModel) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sub.ID == "" {
		sub.ID = uuid.New().String()
	}
	if _, ok := s.subs[sub.ID]; ok {
		return store.ErrAlreadyExists
	}
	now := time.Now()
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = now
	}
	sub.UpdatedAt = now
	cp := *sub
	s.subs[sub.ID] = &cp
	return nil
}

func (s *SubscriptionStore) Get(_ context.Context, id string) (*models.WebhookSubscriptionModel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sub, ok := s.subs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *sub
	return &cp, nil
}

func (s *SubscriptionStore) Update(_ context.Context, sub *models.WebhookSubscriptionModel) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subs[sub.ID]; !ok {
		return store.ErrNotFound
	}
	sub.UpdatedAt = time.Now()
	cp := *sub
	s.subs[sub.ID] = &cp
	return nil
}

func (s *SubscriptionStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subs[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.subs, id)
	delete(s.attempts, id)
	return nil
}

func (s *SubscriptionStore) List(_ context.Context) ([]*models.WebhookSubscriptionModel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.WebhookSubscriptionModel, 0, len(s.subs))
	for _, sub := range s.subs {
		cp := *sub
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *SubscriptionStore) GetByClientID(_ context.Context, clientID string) ([]*models.WebhookSubscriptionModel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.WebhookSubscriptionModel, 0)
	for _, sub := range s.subs {
		if sub.ClientID != clientID {
			continue
		}
		cp := *sub
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *SubscriptionStore) RecordAttempt(_ context.Context, attempt *models.DeliveryAttemptModel) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if attempt.ID == "" {
		attempt.ID = uuid.New().String()
	}
	cp := *attempt
	buf := append(s.attempts[attempt.SubscriptionID], &cp)
	if len(buf) > maxAttemptsPerSubscription {
		buf = buf[len(buf)-maxAttemptsPerSubscription:]
	}
	s.attempts[attempt.SubscriptionID] = buf
	return nil
}

func (s *SubscriptionStore) ListAttempts(_ context.Context, subscriptionID string, limit int) ([]*models.DeliveryAttemptModel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	buf := s.attempts[subscriptionID]
	if limit <= 0 || limit > len(buf) {
		limit = len(buf)
	}
	// The buffer is in insertion order; listings are newest first.
	out := make([]*models.DeliveryAttemptModel, limit)
	for i := 0; i < limit; i++ {
		cp := *buf[len(buf)-1-i]
		out[i] = &cp
	}
	return out, nil
}
