package payment

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/crossborder/core/internal/adapters"
	"github.com/crossborder/core/internal/events"
	"github.com/crossborder/core/internal/models"
	"github.com/crossborder/core/internal/modules/compliance"
	"github.com/crossborder/core/internal/modules/quote"
	"github.com/crossborder/core/internal/pkg/apperrors"
	"github.com/crossborder/core/internal/store"
	"github.com/crossborder/core/internal/store/memory"
)

// stubAdapter is a controllable settlement network.
type stubAdapter struct {
	mu            sync.Mutex
	quoteExpired  bool
	initResult    *adapters.InitiationResult
	initErr       error
	confirmResult *adapters.ConfirmationResult
	initiateCalls int
}

func (s *stubAdapter) Config() adapters.NetworkConfig {
	return adapters.NetworkConfig{
		ID:          "testnet",
		Type:        "stablecoin",
		DisplayName: "Test Network",
		SupportedCurrencies: []adapters.CurrencyPair{
			{Source: "USD", Dest: "USDC"},
		},
		Limits: adapters.Limits{Min: 0.5, Max: 1000000},
	}
}

func (s *stubAdapter) GetQuote(_ context.Context, req adapters.QuoteRequest) (*adapters.NetworkQuote, error) {
	expires := time.Now().Add(5 * time.Minute)
	if s.quoteExpired {
		expires = time.Now().Add(-time.Second)
	}
	return &adapters.NetworkQuote{
		NetworkID:      "testnet",
		SourceAmount:   req.SourceAmount,
		SourceCurrency: "USD",
		DestAmount:     req.SourceAmount - 0.01,
		DestCurrency:   "USDC",
		FxRate:         1,
		Fee:            0.01,
		ExpiresAt:      expires,
	}, nil
}

func (s *stubAdapter) InitiatePayment(context.Context, adapters.InitiationRequest) (*adapters.InitiationResult, error) {
	s.mu.Lock()
	s.initiateCalls++
	s.mu.Unlock()
	if s.initErr != nil {
		return nil, s.initErr
	}
	if s.initResult != nil {
		return s.initResult, nil
	}
	return &adapters.InitiationResult{
		NetworkPaymentID: "0xHASH",
		Status:           adapters.InitiationSubmitted,
	}, nil
}

func (s *stubAdapter) ConfirmPayment(context.Context, string) (*adapters.ConfirmationResult, error) {
	if s.confirmResult != nil {
		return s.confirmResult, nil
	}
	return &adapters.ConfirmationResult{Status: "CONFIRMED", ConfirmedAt: time.Now()}, nil
}

func (s *stubAdapter) GetPaymentStatus(context.Context, string) (*adapters.StatusResult, error) {
	return &adapters.StatusResult{Status: "SUBMITTED", UpdatedAt: time.Now()}, nil
}

// noConfirmAdapter lacks the confirmation capability.
type noConfirmAdapter struct{}

func (noConfirmAdapter) Config() adapters.NetworkConfig {
	return adapters.NetworkConfig{
		ID:          "testnet-noconfirm",
		Type:        "stablecoin",
		DisplayName: "Test Network Without Confirmation",
		SupportedCurrencies: []adapters.CurrencyPair{
			{Source: "USD", Dest: "USDC"},
		},
		Limits: adapters.Limits{Min: 0.5, Max: 1000000},
	}
}

func (noConfirmAdapter) GetQuote(context.Context, adapters.QuoteRequest) (*adapters.NetworkQuote, error) {
	return nil, errors.New("not implemented")
}

func (noConfirmAdapter) InitiatePayment(context.Context, adapters.InitiationRequest) (*adapters.InitiationResult, error) {
	return nil, errors.New("not implemented")
}

func (noConfirmAdapter) GetPaymentStatus(context.Context, string) (*adapters.StatusResult, error) {
	return nil, errors.New("not implemented")
}

type fixture struct {
	orc      *Orchestrator
	quotes   *quote.Service
	adapter  *stubAdapter
	eventLog store.EventStore
	payments store.PaymentStore
	bus      *events.Bus
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	adapter := &stubAdapter{}
	registry := adapters.NewEmptyRegistry()
	registry.Register(adapter)
	registry.Register(&noConfirmAdapter{})

	quoteStore := memory.NewQuoteStore()
	quotes := quote.NewService(quoteStore, registry, zap.NewNop())
	payments := memory.NewPaymentStore()
	eventLog := memory.NewEventStore()
	bus := events.NewBus()
	checker := compliance.NewChecker(zap.NewNop())

	return &fixture{
		orc:      NewOrchestrator(payments, eventLog, quotes, checker, registry, bus, zap.NewNop()),
		quotes:   quotes,
		adapter:  adapter,
		eventLog: eventLog,
		payments: payments,
		bus:      bus,
	}
}

func (f *fixture) quoteID(t *testing.T, amount float64) string {
	t.Helper()
	q, err := f.quotes.Create(context.Background(), quote.CreateQuoteDTO{
		NetworkID:      "testnet",
		SourceAmount:   &amount,
		SourceCurrency: "USD",
		DestCurrency:   "USDC",
	})
	require.NoError(t, err)
	return q.ID
}

func cleanDTO(quoteID string) CreatePaymentDTO {
	return CreatePaymentDTO{
		QuoteID:  quoteID,
		Sender:   models.SenderInfo{ID: "s1", FirstName: "John", LastName: "Doe"},
		Receiver: models.ReceiverInfo{WalletAddress: "0xABC"},
	}
}

func eventTypes(t *testing.T, f *fixture, paymentID string) []models.EventType {
	t.Helper()
	evts, err := f.eventLog.ListByPayment(context.Background(), paymentID)
	require.NoError(t, err)
	out := make([]models.EventType, len(evts))
	for i, e := range evts {
		out[i] = e.Type
	}
	return out
}

func TestCreatePaymentEndToEnd(t *testing.T) {
	f := newFixture(t)
	p, err := f.orc.CreatePayment(context.Background(), cleanDTO(f.quoteID(t, 100)), "corr-1")
	require.NoError(t, err)

	assert.Equal(t, models.StatusSubmitted, p.Status)
	assert.Equal(t, "0xHASH", p.NetworkPaymentID)
	assert.Equal(t, models.ComplianceApproved, p.ComplianceStatus)
	assert.InDelta(t, 100, p.SourceAmount, 1e-9)
	assert.InDelta(t, 99.99, p.DestAmount, 1e-9)

	assert.Equal(t, []models.EventType{
		models.EventPaymentCreated,
		models.EventQuoteLocked,
		models.EventComplianceCheckCompleted,
		models.EventPaymentSubmitted,
	}, eventTypes(t, f, p.ID))
}

func TestCreatePaymentEventsCarryCorrelationID(t *testing.T) {
	f := newFixture(t)
	p, err := f.orc.CreatePayment(context.Background(), cleanDTO(f.quoteID(t, 100)), "corr-xyz")
	require.NoError(t, err)

	evts, err := f.eventLog.ListByPayment(context.Background(), p.ID)
	require.NoError(t, err)
	for _, e := range evts {
		assert.Equal(t, "corr-xyz", e.CorrelationID)
	}
}

func TestCreatePaymentPublishesToBus(t *testing.T) {
	f := newFixture(t)
	var published []models.EventType
	f.bus.Subscribe(func(_ context.Context, e *models.PaymentEventModel) {
		published = append(published, e.Type)
	})

	_, err := f.orc.CreatePayment(context.Background(), cleanDTO(f.quoteID(t, 100)), "corr-1")
	require.NoError(t, err)
	assert.Len(t, published, 4)
}

func TestComplianceRejectionFailsPaymentButKeepsIt(t *testing.T) {
	f := newFixture(t)
	dto := cleanDTO(f.quoteID(t, 100))
	dto.Sender = models.SenderInfo{ID: "s1", FirstName: "Test", LastName: "Sanctions"}

	_, err := f.orc.CreatePayment(context.Background(), dto, "corr-1")
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeComplianceRejected))

	// The network was never touched.
	assert.Equal(t, 0, f.adapter.initiateCalls)

	// The payment remains queryable in FAILED.
	items, _, lerr := f.payments.List(context.Background(), store.PaymentFilter{})
	require.NoError(t, lerr)
	require.Len(t, items, 1)
	p := items[0]
	assert.Equal(t, models.StatusFailed, p.Status)
	assert.Equal(t, models.ComplianceRejected, p.ComplianceStatus)

	assert.Equal(t, []models.EventType{
		models.EventPaymentCreated,
		models.EventQuoteLocked,
		models.EventComplianceCheckCompleted,
		models.EventPaymentFailed,
	}, eventTypes(t, f, p.ID))
}

func TestPendingReviewParksPayment(t *testing.T) {
	f := newFixture(t)
	dto := cleanDTO(f.quoteID(t, 12000)) // PEP + amount threshold = review
	dto.Sender = models.SenderInfo{ID: "s1", FirstName: "Test", LastName: "Pep"}

	p, err := f.orc.CreatePayment(context.Background(), dto, "corr-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusComplianceCheck, p.Status)
	assert.Equal(t, models.CompliancePending, p.ComplianceStatus)
	assert.Equal(t, 0, f.adapter.initiateCalls)
}

func TestExpiredQuoteCreatesNoPayment(t *testing.T) {
	f := newFixture(t)
	f.adapter.quoteExpired = true
	id := f.quoteID(t, 100)

	_, err := f.orc.CreatePayment(context.Background(), cleanDTO(id), "corr-1")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeQuoteExpired))

	items, _, lerr := f.payments.List(context.Background(), store.PaymentFilter{})
	require.NoError(t, lerr)
	assert.Empty(t, items)
}

func TestAdapterErrorFailsPayment(t *testing.T) {
	f := newFixture(t)
	f.adapter.initErr = errors.New("connection refused")

	_, err := f.orc.CreatePayment(context.Background(), cleanDTO(f.quoteID(t, 100)), "corr-1")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeNetworkError))

	items, _, _ := f.payments.List(context.Background(), store.PaymentFilter{})
	require.Len(t, items, 1)
	assert.Equal(t, models.StatusFailed, items[0].Status)
	assert.Contains(t, eventTypes(t, f, items[0].ID), models.EventPaymentFailed)
}

func TestAdapterTerminalFailureStatus(t *testing.T) {
	f := newFixture(t)
	f.adapter.initResult = &adapters.InitiationResult{
		Status:          adapters.InitiationFailed,
		NetworkMetadata: map[string]any{"error": "Invalid recipient wallet address"},
	}

	_, err := f.orc.CreatePayment(context.Background(), cleanDTO(f.quoteID(t, 100)), "corr-1")
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeNetworkError))

	items, _, _ := f.payments.List(context.Background(), store.PaymentFilter{})
	require.Len(t, items, 1)
	assert.Equal(t, models.StatusFailed, items[0].Status)
}

func TestConfirmAdvancesToConfirmed(t *testing.T) {
	f := newFixture(t)
	p, err := f.orc.CreatePayment(context.Background(), cleanDTO(f.quoteID(t, 100)), "corr-1")
	require.NoError(t, err)

	got, err := f.orc.ConfirmPayment(context.Background(), p.ID, "corr-2")
	require.NoError(t, err)
	assert.Equal(t, models.StatusConfirmed, got.Status)
	assert.Contains(t, eventTypes(t, f, p.ID), models.EventPaymentConfirmed)
}

func TestConfirmCompletedWalksThroughConfirmed(t *testing.T) {
	f := newFixture(t)
	p, err := f.orc.CreatePayment(context.Background(), cleanDTO(f.quoteID(t, 100)), "corr-1")
	require.NoError(t, err)

	f.adapter.confirmResult = &adapters.ConfirmationResult{Status: "COMPLETED", ConfirmedAt: time.Now()}
	got, err := f.orc.ConfirmPayment(context.Background(), p.ID, "corr-2")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, got.Status)

	types := eventTypes(t, f, p.ID)
	assert.Contains(t, types, models.EventPaymentConfirmed)
	assert.Contains(t, types, models.EventPaymentCompleted)
}

func TestConfirmFailedResult(t *testing.T) {
	f := newFixture(t)
	p, err := f.orc.CreatePayment(context.Background(), cleanDTO(f.quoteID(t, 100)), "corr-1")
	require.NoError(t, err)

	f.adapter.confirmResult = &adapters.ConfirmationResult{
		Status:        "FAILED",
		FailureReason: "Transaction reverted",
	}
	got, err := f.orc.ConfirmPayment(context.Background(), p.ID, "corr-2")
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, got.Status)
}

func TestConfirmRequiresSubmittedStatus(t *testing.T) {
	f := newFixture(t)
	p, err := f.orc.CreatePayment(context.Background(), cleanDTO(f.quoteID(t, 100)), "corr-1")
	require.NoError(t, err)

	_, err = f.orc.ConfirmPayment(context.Background(), p.ID, "corr-2")
	require.NoError(t, err) // now CONFIRMED

	_, err = f.orc.ConfirmPayment(context.Background(), p.ID, "corr-3")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeConflict))
}

func TestConfirmUnsupportedByNetwork(t *testing.T) {
	f := newFixture(t)
	// Park a payment on the no-confirm network in SUBMITTED by hand.
	p := &models.PaymentModel{
		NetworkID:        "testnet-noconfirm",
		Status:           models.StatusSubmitted,
		NetworkPaymentID: "np-1",
	}
	require.NoError(t, f.payments.Create(context.Background(), p))

	_, err := f.orc.ConfirmPayment(context.Background(), p.ID, "corr-1")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeBadRequest))
}

func TestCancelParkedPayment(t *testing.T) {
	f := newFixture(t)
	dto := cleanDTO(f.quoteID(t, 12000))
	dto.Sender = models.SenderInfo{ID: "s1", FirstName: "Test", LastName: "Pep"}
	p, err := f.orc.CreatePayment(context.Background(), dto, "corr-1")
	require.NoError(t, err)

	got, err := f.orc.CancelPayment(context.Background(), p.ID, "customer request", "corr-2")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, got.Status)
	assert.Contains(t, eventTypes(t, f, p.ID), models.EventPaymentCancelled)
}

func TestCancelSubmittedPaymentConflicts(t *testing.T) {
	f := newFixture(t)
	p, err := f.orc.CreatePayment(context.Background(), cleanDTO(f.quoteID(t, 100)), "corr-1")
	require.NoError(t, err)

	_, err = f.orc.CancelPayment(context.Background(), p.ID, "", "corr-2")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeConflict))
}

func TestGetPaymentNotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.orc.GetPayment(context.Background(), "missing")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeNotFound))

	_, err = f.orc.GetPaymentEvents(context.Background(), "missing")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeNotFound))
}

func TestMachineRehydratesFromStoredStatus(t *testing.T) {
	f := newFixture(t)
	p, err := f.orc.CreatePayment(context.Background(), cleanDTO(f.quoteID(t, 100)), "corr-1")
	require.NoError(t, err)

	// A fresh orchestrator sharing the same stores simulates a restart.
	checker := compliance.NewChecker(zap.NewNop())
	registry := adapters.NewEmptyRegistry()
	registry.Register(f.adapter)
	orc2 := NewOrchestrator(f.payments, f.eventLog, f.quotes, checker, registry, events.NewBus(), zap.NewNop())

	got, err := orc2.ConfirmPayment(context.Background(), p.ID, "corr-2")
	require.NoError(t, err)
	assert.Equal(t, models.StatusConfirmed, got.Status)
}

func TestConcurrentConfirmsSerialized(t *testing.T) {
	f := newFixture(t)
	p, err := f.orc.CreatePayment(context.Background(), cleanDTO(f.quoteID(t, 100)), "corr-1")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = f.orc.ConfirmPayment(context.Background(), p.ID, "corr-c")
		}()
	}
	wg.Wait()

	got, err := f.orc.GetPayment(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusConfirmed, got.Status)

	// Only one confirmation can have succeeded.
	count := 0
	for _, typ := range eventTypes(t, f, p.ID) {
		if typ == models.EventPaymentConfirmed {
			count++
		}
	}
	assert.Equal(t, 1, count)
}
