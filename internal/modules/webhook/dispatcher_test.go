package webhook

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/crossborder/core/internal/events"
	"github.com/crossborder/core/internal/models"
	"github.com/crossborder/core/internal/pkg/signer"
	"github.com/crossborder/core/internal/store/memory"
)

func fastConfig() DispatcherConfig {
	return DispatcherConfig{
		MaxRetries:   2,
		InitialDelay: 5 * time.Millisecond,
		MaxDelay:     20 * time.Millisecond,
		Timeout:      time.Second,
	}
}

func newSub(t *testing.T, subs *memory.SubscriptionStore, url string, eventNames ...string) *models.WebhookSubscriptionModel {
	t.Helper()
	sub := &models.WebhookSubscriptionModel{
		ClientID: "client-1",
		URL:      url,
		Secret:   "whsec_test",
		Events:   eventNames,
		Active:   true,
	}
	require.NoError(t, subs.Create(context.Background(), sub))
	return sub
}

func paymentEvent(typ models.EventType) *models.PaymentEventModel {
	return events.New("pay-1", typ, map[string]any{"sourceAmount": 100.0}, "corr-1")
}

func attemptCount(t *testing.T, subs *memory.SubscriptionStore, subID string) int {
	t.Helper()
	attempts, err := subs.ListAttempts(context.Background(), subID, 0)
	require.NoError(t, err)
	return len(attempts)
}

func TestDeliverySignedAndShaped(t *testing.T) {
	type received struct {
		body      []byte
		signature string
	}
	got := make(chan received, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		got <- received{body: body, signature: r.Header.Get(signer.Header)}
	}))
	defer srv.Close()

	subs := memory.NewSubscriptionStore()
	sub := newSub(t, subs, srv.URL)
	d := NewDispatcher(subs, fastConfig(), zap.NewNop())
	defer d.Close()

	d.HandleEvent(context.Background(), paymentEvent(models.EventPaymentCreated))

	select {
	case r := <-got:
		require.NoError(t, signer.Verify(sub.Secret, r.body, r.signature, time.Minute, time.Now()))
		assert.Contains(t, string(r.body), `"type":"payment.created"`)
		assert.Contains(t, string(r.body), `"paymentId":"pay-1"`)
		assert.Contains(t, string(r.body), `"sourceAmount":100`)
	case <-time.After(2 * time.Second):
		t.Fatal("webhook never delivered")
	}

	require.Eventually(t, func() bool {
		return attemptCount(t, subs, sub.ID) == 1
	}, time.Second, 5*time.Millisecond)

	attempts, _ := subs.ListAttempts(context.Background(), sub.ID, 0)
	assert.Equal(t, models.DeliverySuccess, attempts[0].Status)
	assert.Equal(t, http.StatusOK, attempts[0].HTTPStatus)
	assert.Equal(t, 1, attempts[0].AttemptNumber)
}

func TestRetriesUntilSuccess(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	subs := memory.NewSubscriptionStore()
	sub := newSub(t, subs, srv.URL)
	d := NewDispatcher(subs, fastConfig(), zap.NewNop())
	defer d.Close()

	d.HandleEvent(context.Background(), paymentEvent(models.EventPaymentSubmitted))

	// Two failures then a success makes three attempts.
	require.Eventually(t, func() bool {
		return attemptCount(t, subs, sub.ID) == 3
	}, 2*time.Second, 5*time.Millisecond)

	// Listings are newest first: the success is on top.
	attempts, _ := subs.ListAttempts(context.Background(), sub.ID, 0)
	assert.Equal(t, models.DeliverySuccess, attempts[0].Status)
	assert.Equal(t, 3, attempts[0].AttemptNumber)
	assert.Equal(t, models.DeliveryFailed, attempts[1].Status)
	assert.Equal(t, models.DeliveryFailed, attempts[2].Status)
	assert.Empty(t, d.PendingRetries())
}

func TestGivesUpAfterMaxRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	subs := memory.NewSubscriptionStore()
	sub := newSub(t, subs, srv.URL)
	d := NewDispatcher(subs, fastConfig(), zap.NewNop()) // MaxRetries: 2
	defer d.Close()

	d.HandleEvent(context.Background(), paymentEvent(models.EventPaymentFailed))

	// Initial attempt plus MaxRetries retries, then abandonment.
	require.Eventually(t, func() bool {
		return attemptCount(t, subs, sub.ID) == 3
	}, 2*time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 3, attemptCount(t, subs, sub.ID))

	for _, a := range mustAttempts(t, subs, sub.ID) {
		assert.Equal(t, models.DeliveryFailed, a.Status)
		assert.Contains(t, a.Error, "HTTP 503")
	}
}

func mustAttempts(t *testing.T, subs *memory.SubscriptionStore, subID string) []*models.DeliveryAttemptModel {
	t.Helper()
	attempts, err := subs.ListAttempts(context.Background(), subID, 0)
	require.NoError(t, err)
	return attempts
}

func TestEventFilterAndInactiveSkipped(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	subs := memory.NewSubscriptionStore()
	filtered := newSub(t, subs, srv.URL, "payment.failed")
	inactive := newSub(t, subs, srv.URL)
	inactive.Active = false
	require.NoError(t, subs.Update(context.Background(), inactive))
	wildcard := newSub(t, subs, srv.URL, "*")

	d := NewDispatcher(subs, fastConfig(), zap.NewNop())
	d.HandleEvent(context.Background(), paymentEvent(models.EventPaymentCreated))
	d.Close()

	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, 0, attemptCount(t, subs, filtered.ID))
	assert.Equal(t, 0, attemptCount(t, subs, inactive.ID))
	assert.Equal(t, 1, attemptCount(t, subs, wildcard.ID))
}

func TestCancelPendingStopsRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	subs := memory.NewSubscriptionStore()
	sub := newSub(t, subs, srv.URL)
	cfg := fastConfig()
	cfg.InitialDelay = 500 * time.Millisecond
	d := NewDispatcher(subs, cfg, zap.NewNop())

	d.HandleEvent(context.Background(), paymentEvent(models.EventPaymentCreated))

	require.Eventually(t, func() bool {
		return len(d.PendingRetries()) == 1
	}, time.Second, 5*time.Millisecond)

	state := d.PendingRetries()[0]
	assert.Equal(t, sub.ID, state.SubscriptionID)
	assert.Equal(t, 1, state.Attempt)
	assert.False(t, state.NextFireAt.IsZero())

	d.CancelPending(sub.ID)
	d.Close()

	assert.Equal(t, 1, attemptCount(t, subs, sub.ID))
	assert.Empty(t, d.PendingRetries())
}

func TestSendTest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NotEmpty(t, r.Header.Get(signer.Header))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	subs := memory.NewSubscriptionStore()
	sub := newSub(t, subs, srv.URL, "payment.completed")
	sub.Active = false
	require.NoError(t, subs.Update(context.Background(), sub))

	d := NewDispatcher(subs, fastConfig(), zap.NewNop())
	defer d.Close()

	// Test deliveries ignore both the filter and the active flag.
	attempt, err := d.SendTest(context.Background(), sub)
	require.NoError(t, err)
	assert.Equal(t, models.DeliverySuccess, attempt.Status)
	assert.Equal(t, "test.ping", attempt.EventType)
	assert.Equal(t, 1, attempt.AttemptNumber)
}

func TestSendTestUnreachableEndpoint(t *testing.T) {
	subs := memory.NewSubscriptionStore()
	sub := newSub(t, subs, "http://127.0.0.1:1")

	cfg := fastConfig()
	cfg.Timeout = 200 * time.Millisecond
	d := NewDispatcher(subs, cfg, zap.NewNop())
	defer d.Close()

	attempt, err := d.SendTest(context.Background(), sub)
	require.NoError(t, err)
	assert.Equal(t, models.DeliveryFailed, attempt.Status)
	assert.NotEmpty(t, attempt.Error)
}
