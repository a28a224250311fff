package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/crossborder/core/internal/events"
	"github.com/crossborder/core/internal/models"
	"github.com/crossborder/core/internal/pkg/signer"
	"github.com/crossborder/core/internal/store"
)

// Delivery headers besides the signature.
const (
	headerEventType = "X-Webhook-Event"
	headerPayloadID = "X-Webhook-Id"
)

// DispatcherConfig tunes delivery behavior. The zero value gets defaults.
type DispatcherConfig struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Timeout      time.Duration
}

func (c DispatcherConfig) withDefaults() DispatcherConfig {
	if c.MaxRetries == 0 {
		c.MaxRetries = 6
	}
	if c.InitialDelay == 0 {
		c.InitialDelay = time.Second
	}
	if c.MaxDelay == 0 {
		c.MaxDelay = 60 * time.Second
	}
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
	return c
}

// Payload is the envelope POSTed to subscriber endpoints.
type Payload struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data"`
}

// RetryState describes a delivery waiting for its next retry.
type RetryState struct {
	SubscriptionID string    `json:"subscriptionId"`
	PayloadID      string    `json:"payloadId"`
	Attempt        int       `json:"attempt"`
	NextFireAt     time.Time `json:"nextFireAt"`
}

type pendingRetry struct {
	state  RetryState
	cancel chan struct{}
}

// Dispatcher fans payment events out to matching subscriptions. Delivery
// is fire-and-forget from the caller's perspective; failures are retried
// with exponential backoff until MaxRetries is exhausted.
type Dispatcher struct {
	subs   store.SubscriptionStore
	cfg    DispatcherConfig
	client *http.Client
	logger *zap.Logger
	now    func() time.Time

	mu      sync.Mutex
	pending map[string]map[string]*pendingRetry

	wg     sync.WaitGroup
	closed chan struct{}
}

func NewDispatcher(subs store.SubscriptionStore, cfg DispatcherConfig, logger *zap.Logger) *Dispatcher {
	cfg = cfg.withDefaults()
	return &Dispatcher{
		subs:    subs,
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		logger:  logger.Named("webhook-dispatcher"),
		now:     time.Now,
		pending: make(map[string]map[string]*pendingRetry),
		closed:  make(chan struct{}),
	}
}

// HandleEvent is the event bus subscription point. Internal-only event
// types are dropped; everything else is delivered to matching active
// subscriptions in their own goroutines.
func (d *Dispatcher) HandleEvent(ctx context.Context, event *models.PaymentEventModel) {
	name, ok := events.WebhookEventType(event.Type)
	if !ok {
		return
	}

	subs, err := d.subs.List(context.WithoutCancel(ctx))
	if err != nil {
		d.logger.Error("subscription listing failed", zap.Error(err))
		return
	}

	data := map[string]any{"paymentId": event.PaymentID}
	for k, v := range event.Data {
		data[k] = v
	}
	payload := Payload{
		ID:        uuid.New().String(),
		Type:      name,
		Timestamp: event.Timestamp,
		Data:      data,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		d.logger.Error("payload marshal failed", zap.Error(err))
		return
	}

	for _, sub := range subs {
		if !sub.Active || !sub.Matches(name) {
			continue
		}
		d.wg.Add(1)
		go d.deliverWithRetry(sub, payload, body)
	}
}

func (d *Dispatcher) deliverWithRetry(sub *models.WebhookSubscriptionModel, payload Payload, body []byte) {
	defer d.wg.Done()
	defer d.clearPending(sub.ID, payload.ID)

	for attempt := 1; ; attempt++ {
		ok := d.attempt(sub, payload, body, attempt)
		if ok {
			if attempt > 1 {
				d.logger.Info("webhook delivered after retries",
					zap.String("subscriptionId", sub.ID),
					zap.String("payloadId", payload.ID),
					zap.Int("attempts", attempt))
			}
			return
		}
		if attempt > d.cfg.MaxRetries {
			d.logger.Warn("webhook delivery abandoned",
				zap.String("subscriptionId", sub.ID),
				zap.String("payloadId", payload.ID),
				zap.Int("attempts", attempt))
			return
		}

		delay := d.backoff(attempt)
		cancel := d.setPending(sub.ID, payload.ID, attempt, delay)
		select {
		case <-time.After(delay):
		case <-cancel:
			return
		case <-d.closed:
			return
		}
	}
}

// attempt performs one HTTP delivery, records it and reports success.
func (d *Dispatcher) attempt(sub *models.WebhookSubscriptionModel, payload Payload, body []byte, attempt int) bool {
	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.Timeout)
	defer cancel()

	record := &models.DeliveryAttemptModel{
		SubscriptionID: sub.ID,
		EventID:        payload.ID,
		EventType:      payload.Type,
		AttemptNumber:  attempt,
		AttemptedAt:    d.now(),
	}

	start := time.Now()
	httpStatus, err := d.post(ctx, sub, payload, body)
	record.DurationMs = time.Since(start).Milliseconds()
	record.HTTPStatus = httpStatus

	success := err == nil && httpStatus >= 200 && httpStatus < 300
	if success {
		record.Status = models.DeliverySuccess
	} else {
		record.Status = models.DeliveryFailed
		if err != nil {
			record.Error = err.Error()
		} else {
			record.Error = fmt.Sprintf("endpoint returned HTTP %d", httpStatus)
		}
	}

	if rerr := d.subs.RecordAttempt(ctx, record); rerr != nil {
		d.logger.Error("delivery attempt recording failed",
			zap.String("subscriptionId", sub.ID), zap.Error(rerr))
	}
	return success
}

func (d *Dispatcher) post(ctx context.Context, sub *models.WebhookSubscriptionModel, payload Payload, body []byte) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.URL, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(headerEventType, payload.Type)
	req.Header.Set(headerPayloadID, payload.ID)
	req.Header.Set(signer.Header, signer.Sign(sub.Secret, body, d.now()))

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	return resp.StatusCode, nil
}

// backoff computes the delay before the next attempt: exponential from
// InitialDelay, capped at MaxDelay, plus up to 10% jitter.
func (d *Dispatcher) backoff(attempt int) time.Duration {
	delay := d.cfg.InitialDelay << (attempt - 1)
	if delay > d.cfg.MaxDelay || delay <= 0 {
		delay = d.cfg.MaxDelay
	}
	jitter := time.Duration(rand.Int64N(int64(delay)/10 + 1))
	return delay + jitter
}

func (d *Dispatcher) setPending(subID, payloadID string, attempt int, delay time.Duration) chan struct{} {
	d.mu.Lock()
	defer d.mu.Unlock()
	byPayload, ok := d.pending[subID]
	if !ok {
		byPayload = make(map[string]*pendingRetry)
		d.pending[subID] = byPayload
	}
	p, ok := byPayload[payloadID]
	if !ok {
		p = &pendingRetry{cancel: make(chan struct{})}
		byPayload[payloadID] = p
	}
	p.state = RetryState{
		SubscriptionID: subID,
		PayloadID:      payloadID,
		Attempt:        attempt,
		NextFireAt:     d.now().Add(delay),
	}
	return p.cancel
}

func (d *Dispatcher) clearPending(subID, payloadID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.pending[subID], payloadID)
	if len(d.pending[subID]) == 0 {
		delete(d.pending, subID)
	}
}

// CancelPending aborts every delivery currently waiting to retry against
// the given subscription.
func (d *Dispatcher) CancelPending(subscriptionID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, p := range d.pending[subscriptionID] {
		close(p.cancel)
	}
	delete(d.pending, subscriptionID)
}

// PendingRetries lists deliveries waiting for their next retry.
func (d *Dispatcher) PendingRetries() []RetryState {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []RetryState
	for _, byPayload := range d.pending {
		for _, p := range byPayload {
			out = append(out, p.state)
		}
	}
	return out
}

// SendTest posts a synthetic event to the subscription endpoint once,
// regardless of the subscription's event filter or active flag.
func (d *Dispatcher) SendTest(ctx context.Context, sub *models.WebhookSubscriptionModel) (*models.DeliveryAttemptModel, error) {
	payload := Payload{
		ID:        uuid.New().String(),
		Type:      "test.ping",
		Timestamp: d.now().UTC(),
		Data:      map[string]any{"message": "Webhook test delivery"},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	record := &models.DeliveryAttemptModel{
		SubscriptionID: sub.ID,
		EventID:        payload.ID,
		EventType:      payload.Type,
		AttemptNumber:  1,
		AttemptedAt:    d.now(),
	}
	start := time.Now()
	httpStatus, err := d.post(ctx, sub, payload, body)
	record.DurationMs = time.Since(start).Milliseconds()
	record.HTTPStatus = httpStatus
	if err == nil && httpStatus >= 200 && httpStatus < 300 {
		record.Status = models.DeliverySuccess
	} else {
		record.Status = models.DeliveryFailed
		if err != nil {
			record.Error = err.Error()
		} else {
			record.Error = fmt.Sprintf("endpoint returned HTTP %d", httpStatus)
		}
	}

	if rerr := d.subs.RecordAttempt(ctx, record); rerr != nil {
		return nil, rerr
	}
	return record, nil
}

// Close stops retry loops and waits for in-flight deliveries to finish.
func (d *Dispatcher) Close() {
	close(d.closed)
	d.wg.Wait()
}
