// Package payment drives the payment lifecycle: quote consumption,
// compliance screening, network submission, confirmation and cancellation.
// All state transitions for a given payment are serialized on a per-id lock
// and recorded in the append-only event log.
package payment

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/crossborder/core/internal/adapters"
	"github.com/crossborder/core/internal/events"
	"github.com/crossborder/core/internal/models"
	"github.com/crossborder/core/internal/modules/compliance"
	"github.com/crossborder/core/internal/modules/quote"
	"github.com/crossborder/core/internal/pkg/apperrors"
	"github.com/crossborder/core/internal/pkg/fsm"
	"github.com/crossborder/core/internal/store"
)

// Call timeouts for the two external collaborators.
const (
	defaultComplianceTimeout = 5 * time.Second
	defaultNetworkTimeout    = 10 * time.Second
)

type CreatePaymentDTO struct {
	QuoteID    string              `json:"quoteId"  binding:"required"`
	ExternalID string              `json:"externalId"`
	Sender     models.SenderInfo   `json:"sender"   binding:"required"`
	Receiver   models.ReceiverInfo `json:"receiver" binding:"required"`
	Purpose    string              `json:"purpose"`
	Metadata   map[string]string   `json:"metadata"`
}

// Orchestrator owns one state machine per payment and is the only writer
// of payment status.
type Orchestrator struct {
	payments store.PaymentStore
	eventLog store.EventStore
	quotes   *quote.Service
	checker  *compliance.Checker
	registry *adapters.Registry
	bus      *events.Bus
	logger   *zap.Logger

	mu       sync.Mutex
	locks    map[string]*sync.Mutex
	machines map[string]*fsm.Machine

	complianceTimeout time.Duration
	networkTimeout    time.Duration
}

func NewOrchestrator(
	payments store.PaymentStore,
	eventLog store.EventStore,
	quotes *quote.Service,
	checker *compliance.Checker,
	registry *adapters.Registry,
	bus *events.Bus,
	logger *zap.Logger,
) *Orchestrator {
	return &Orchestrator{
		payments:          payments,
		eventLog:          eventLog,
		quotes:            quotes,
		checker:           checker,
		registry:          registry,
		bus:               bus,
		logger:            logger.Named("orchestrator"),
		locks:             make(map[string]*sync.Mutex),
		machines:          make(map[string]*fsm.Machine),
		complianceTimeout: defaultComplianceTimeout,
		networkTimeout:    defaultNetworkTimeout,
	}
}

// lockPayment returns the held per-payment mutex. Callers must Unlock it.
func (o *Orchestrator) lockPayment(paymentID string) *sync.Mutex {
	o.mu.Lock()
	l, ok := o.locks[paymentID]
	if !ok {
		l = &sync.Mutex{}
		o.locks[paymentID] = l
	}
	o.mu.Unlock()
	l.Lock()
	return l
}

// machine returns the state machine for a payment, rehydrating it from the
// stored status when this process has not seen the payment before.
func (o *Orchestrator) machine(ctx context.Context, paymentID string) (*fsm.Machine, error) {
	o.mu.Lock()
	m, ok := o.machines[paymentID]
	o.mu.Unlock()
	if ok {
		return m, nil
	}
	p, err := o.payments.Get(ctx, paymentID)
	if err != nil {
		return nil, apperrors.Internal(fmt.Sprintf("state machine not found for payment: %s", paymentID)).WithCause(err)
	}
	m = fsm.NewAt(p.Status)
	o.mu.Lock()
	o.machines[paymentID] = m
	o.mu.Unlock()
	return m, nil
}

func (o *Orchestrator) appendEvent(ctx context.Context, paymentID string, typ models.EventType, data map[string]any, correlationID string) {
	e := events.New(paymentID, typ, data, correlationID)
	if err := o.eventLog.Append(ctx, e); err != nil {
		o.logger.Error("event append failed",
			zap.String("paymentId", paymentID),
			zap.String("type", string(typ)),
			zap.Error(err))
		return
	}
	o.bus.Publish(ctx, e)
}

// CreatePayment runs a payment from quote consumption through network
// submission. The returned payment reflects the final state of this call;
// compliance rejection and network failure are surfaced as errors while
// the payment record remains queryable in its FAILED state.
func (o *Orchestrator) CreatePayment(ctx context.Context, dto CreatePaymentDTO, correlationID string) (*models.PaymentModel, error) {
	q, err := o.quotes.Validate(ctx, dto.QuoteID)
	if err != nil {
		return nil, err
	}

	paymentID := uuid.New().String()
	machine := fsm.New()
	o.mu.Lock()
	o.machines[paymentID] = machine
	o.mu.Unlock()

	lock := o.lockPayment(paymentID)
	defer lock.Unlock()

	p := &models.PaymentModel{
		Base:             models.Base{ID: paymentID},
		ExternalID:       dto.ExternalID,
		QuoteID:          q.ID,
		NetworkID:        q.NetworkID,
		Status:           models.StatusCreated,
		SourceAmount:     q.SourceAmount,
		SourceCurrency:   q.SourceCurrency,
		DestAmount:       q.DestAmount,
		DestCurrency:     q.DestCurrency,
		Fee:              q.Fee,
		FxRate:           q.FxRate,
		Sender:           dto.Sender,
		Receiver:         dto.Receiver,
		Purpose:          dto.Purpose,
		Metadata:         dto.Metadata,
		ComplianceStatus: models.CompliancePending,
	}
	if err := o.payments.Create(ctx, p); err != nil {
		return nil, err
	}

	o.appendEvent(ctx, paymentID, models.EventPaymentCreated, map[string]any{
		"quoteId":        q.ID,
		"networkId":      q.NetworkID,
		"sourceAmount":   q.SourceAmount,
		"sourceCurrency": q.SourceCurrency,
		"destAmount":     q.DestAmount,
		"destCurrency":   q.DestCurrency,
	}, correlationID)

	if err := o.fire(ctx, p, machine, fsm.TriggerLockQuote); err != nil {
		return nil, err
	}
	o.appendEvent(ctx, paymentID, models.EventQuoteLocked, map[string]any{"quoteId": q.ID}, correlationID)

	result, err := o.runComplianceCheck(ctx, p, machine, correlationID)
	if err != nil {
		return nil, err
	}

	switch result.Decision {
	case compliance.Rejected:
		if err := o.fire(ctx, p, machine, fsm.TriggerFail); err != nil {
			return nil, err
		}
		p.ComplianceStatus = models.ComplianceRejected
		p.ComplianceDetails = result.Details()
		if err := o.payments.Update(ctx, p); err != nil {
			return nil, err
		}
		o.appendEvent(ctx, paymentID, models.EventPaymentFailed, map[string]any{
			"reason": result.RejectionReason,
		}, correlationID)

		reason := result.RejectionReason
		if reason == "" {
			reason = "Payment rejected by compliance"
		}
		return nil, apperrors.New(apperrors.CodeComplianceRejected, reason).
			WithDetails(map[string]any{"complianceResult": result}).
			WithCorrelation(correlationID)

	case compliance.PendingReview:
		// Parked in COMPLIANCE_CHECK awaiting an out-of-band review
		// decision. No automatic resumption.
		p.ComplianceStatus = models.CompliancePending
		p.ComplianceDetails = result.Details()
		if err := o.payments.Update(ctx, p); err != nil {
			return nil, err
		}
		return o.payments.Get(ctx, paymentID)
	}

	p.ComplianceStatus = models.ComplianceApproved
	p.ComplianceDetails = result.Details()
	if err := o.fire(ctx, p, machine, fsm.TriggerPassCompliance); err != nil {
		return nil, err
	}

	if err := o.submitToNetwork(ctx, p, machine, correlationID); err != nil {
		return nil, err
	}
	return o.payments.Get(ctx, paymentID)
}

func (o *Orchestrator) runComplianceCheck(ctx context.Context, p *models.PaymentModel, machine *fsm.Machine, correlationID string) (*compliance.Result, error) {
	if err := o.fire(ctx, p, machine, fsm.TriggerStartCompliance); err != nil {
		return nil, err
	}

	checkCtx, cancel := context.WithTimeout(ctx, o.complianceTimeout)
	defer cancel()
	result, err := o.checker.CheckPayment(checkCtx, p.Sender, p.Receiver, p.SourceAmount, p.SourceCurrency)
	if err != nil {
		if ferr := o.fire(ctx, p, machine, fsm.TriggerFail); ferr != nil {
			return nil, ferr
		}
		o.appendEvent(ctx, p.ID, models.EventPaymentFailed, map[string]any{
			"reason": "compliance check failed: " + err.Error(),
		}, correlationID)
		return nil, apperrors.Internal("compliance check failed").WithCause(err).WithCorrelation(correlationID)
	}

	o.appendEvent(ctx, p.ID, models.EventComplianceCheckCompleted, map[string]any{
		"decision":  string(result.Decision),
		"riskScore": result.RiskScore,
		"checks":    result.Checks,
	}, correlationID)
	return result, nil
}

func (o *Orchestrator) submitToNetwork(ctx context.Context, p *models.PaymentModel, machine *fsm.Machine, correlationID string) error {
	adapter, err := o.registry.Get(p.NetworkID)
	if err != nil {
		return apperrors.Internal("network adapter unavailable").WithCause(err)
	}

	if err := o.fire(ctx, p, machine, fsm.TriggerSubmit); err != nil {
		return err
	}

	req := adapters.InitiationRequest{
		QuoteID:        p.QuoteID,
		NetworkID:      p.NetworkID,
		ExternalID:     p.ExternalID,
		SourceAmount:   p.SourceAmount,
		SourceCurrency: p.SourceCurrency,
		DestAmount:     p.DestAmount,
		DestCurrency:   p.DestCurrency,
		Sender: adapters.Party{
			ID: p.Sender.ID, FirstName: p.Sender.FirstName, LastName: p.Sender.LastName,
			Email: p.Sender.Email, Phone: p.Sender.Phone,
			Address: p.Sender.Address, Country: p.Sender.Country,
		},
		Receiver: adapters.Party{
			ID: p.Receiver.ID, FirstName: p.Receiver.FirstName, LastName: p.Receiver.LastName,
			Phone: p.Receiver.Phone, WalletAddress: p.Receiver.WalletAddress,
			BankAccount: p.Receiver.BankAccount, BankCode: p.Receiver.BankCode,
			Email: p.Receiver.Email,
		},
		Purpose:       p.Purpose,
		CorrelationID: correlationID,
	}
	if req.ExternalID == "" {
		req.ExternalID = p.ID
	}

	submitCtx, cancel := context.WithTimeout(ctx, o.networkTimeout)
	defer cancel()
	result, err := adapter.InitiatePayment(submitCtx, req)
	if err != nil {
		if ferr := o.fire(ctx, p, machine, fsm.TriggerFail); ferr != nil {
			return ferr
		}
		o.appendEvent(ctx, p.ID, models.EventPaymentFailed, map[string]any{
			"reason": err.Error(),
		}, correlationID)
		return apperrors.New(apperrors.CodeNetworkError, "network submission failed").
			WithCause(err).WithCorrelation(correlationID)
	}

	o.appendEvent(ctx, p.ID, models.EventPaymentSubmitted, map[string]any{
		"networkPaymentId": result.NetworkPaymentID,
		"status":           string(result.Status),
		"networkMetadata":  result.NetworkMetadata,
	}, correlationID)

	p.NetworkPaymentID = result.NetworkPaymentID
	if result.RequiresAction != nil {
		p.RequiresAction = &models.RequiredAction{
			Type:    result.RequiresAction.Type,
			URL:     result.RequiresAction.URL,
			Message: result.RequiresAction.Message,
		}
	}
	if err := o.payments.Update(ctx, p); err != nil {
		return err
	}

	if result.Status == adapters.InitiationFailed {
		if err := o.fire(ctx, p, machine, fsm.TriggerFail); err != nil {
			return err
		}
		reason := "network reported terminal failure"
		if msg, ok := result.NetworkMetadata["error"].(string); ok {
			reason = msg
		}
		o.appendEvent(ctx, p.ID, models.EventPaymentFailed, map[string]any{
			"reason": reason,
		}, correlationID)
		return apperrors.New(apperrors.CodeNetworkError, reason).WithCorrelation(correlationID)
	}

	o.logger.Info("payment submitted",
		zap.String("paymentId", p.ID),
		zap.String("networkId", p.NetworkID),
		zap.String("networkPaymentId", result.NetworkPaymentID))
	return nil
}

// ConfirmPayment polls the network for a confirmation result and advances
// the payment accordingly.
func (o *Orchestrator) ConfirmPayment(ctx context.Context, paymentID, correlationID string) (*models.PaymentModel, error) {
	lock := o.lockPayment(paymentID)
	defer lock.Unlock()

	p, err := o.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	machine, err := o.machine(ctx, paymentID)
	if err != nil {
		return nil, err
	}

	if p.Status != models.StatusSubmitted && p.Status != models.StatusPendingNetwork {
		return nil, apperrors.Conflict(fmt.Sprintf("Payment cannot be confirmed in status: %s", p.Status))
	}
	if p.NetworkPaymentID == "" {
		return nil, apperrors.Conflict("Payment has no network payment ID")
	}

	adapter, err := o.registry.Get(p.NetworkID)
	if err != nil {
		return nil, apperrors.Internal("network adapter unavailable").WithCause(err)
	}
	confirmer, ok := adapter.(adapters.Confirmer)
	if !ok {
		return nil, apperrors.BadRequest("Network does not support explicit confirmation")
	}

	confirmCtx, cancel := context.WithTimeout(ctx, o.networkTimeout)
	defer cancel()
	result, err := confirmer.ConfirmPayment(confirmCtx, p.NetworkPaymentID)
	if err != nil {
		return nil, apperrors.New(apperrors.CodeNetworkError, "network confirmation failed").
			WithCause(err).WithCorrelation(correlationID)
	}

	switch result.Status {
	case "CONFIRMED":
		if err := o.fire(ctx, p, machine, fsm.TriggerConfirm); err != nil {
			return nil, err
		}
		o.appendEvent(ctx, paymentID, models.EventPaymentConfirmed, map[string]any{
			"networkPaymentId": p.NetworkPaymentID,
			"networkMetadata":  result.NetworkMetadata,
		}, correlationID)

	case "SETTLED":
		if err := o.advanceThrough(ctx, p, machine, correlationID, fsm.TriggerSettle); err != nil {
			return nil, err
		}

	case "COMPLETED":
		if err := o.advanceThrough(ctx, p, machine, correlationID, fsm.TriggerComplete); err != nil {
			return nil, err
		}

	case "FAILED":
		if err := o.fire(ctx, p, machine, fsm.TriggerFail); err != nil {
			return nil, err
		}
		o.appendEvent(ctx, paymentID, models.EventPaymentFailed, map[string]any{
			"reason": result.FailureReason,
		}, correlationID)
	}

	return o.payments.Get(ctx, paymentID)
}

// advanceThrough fires the intermediate triggers needed to legally reach
// target from the current state, emitting the event for each transition.
// A SETTLED or COMPLETED confirmation from a payment still in SUBMITTED
// passes through CONFIRM first.
func (o *Orchestrator) advanceThrough(ctx context.Context, p *models.PaymentModel, machine *fsm.Machine, correlationID string, target fsm.Trigger) error {
	if target != fsm.TriggerConfirm && machine.State() == models.StatusSubmitted {
		if err := o.fire(ctx, p, machine, fsm.TriggerConfirm); err != nil {
			return err
		}
		o.appendEvent(ctx, p.ID, models.EventPaymentConfirmed, map[string]any{
			"networkPaymentId": p.NetworkPaymentID,
		}, correlationID)
	}
	if err := o.fire(ctx, p, machine, target); err != nil {
		return err
	}
	switch target {
	case fsm.TriggerSettle:
		o.appendEvent(ctx, p.ID, models.EventPaymentSettled, map[string]any{
			"networkPaymentId": p.NetworkPaymentID,
		}, correlationID)
	case fsm.TriggerComplete:
		o.appendEvent(ctx, p.ID, models.EventPaymentCompleted, map[string]any{
			"networkPaymentId": p.NetworkPaymentID,
		}, correlationID)
	}
	return nil
}

// CancelPayment cancels a payment that has not yet been submitted.
func (o *Orchestrator) CancelPayment(ctx context.Context, paymentID, reason, correlationID string) (*models.PaymentModel, error) {
	lock := o.lockPayment(paymentID)
	defer lock.Unlock()

	p, err := o.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	machine, err := o.machine(ctx, paymentID)
	if err != nil {
		return nil, err
	}

	if !machine.CanFire(fsm.TriggerCancel) {
		return nil, apperrors.Conflict(fmt.Sprintf("Payment cannot be cancelled in status: %s", p.Status))
	}
	if err := o.fire(ctx, p, machine, fsm.TriggerCancel); err != nil {
		return nil, err
	}
	o.appendEvent(ctx, paymentID, models.EventPaymentCancelled, map[string]any{
		"reason": reason,
	}, correlationID)

	return o.payments.Get(ctx, paymentID)
}

// GetPayment returns a payment by id.
func (o *Orchestrator) GetPayment(ctx context.Context, paymentID string) (*models.PaymentModel, error) {
	p, err := o.payments.Get(ctx, paymentID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperrors.NotFound(fmt.Sprintf("Payment not found: %s", paymentID))
	}
	return p, err
}

// GetPaymentEvents returns the event stream for a payment in order.
func (o *Orchestrator) GetPaymentEvents(ctx context.Context, paymentID string) ([]*models.PaymentEventModel, error) {
	if _, err := o.GetPayment(ctx, paymentID); err != nil {
		return nil, err
	}
	return o.eventLog.ListByPayment(ctx, paymentID)
}

// ListPayments returns payments matching the filter, newest first.
func (o *Orchestrator) ListPayments(ctx context.Context, filter store.PaymentFilter) ([]*models.PaymentModel, int64, error) {
	return o.payments.List(ctx, filter)
}

// fire applies a trigger and persists the resulting status. An illegal
// trigger surfaces as INVALID_TRANSITION.
func (o *Orchestrator) fire(ctx context.Context, p *models.PaymentModel, machine *fsm.Machine, trigger fsm.Trigger) error {
	next, err := machine.Fire(trigger)
	if err != nil {
		var ite *fsm.InvalidTransitionError
		if errors.As(err, &ite) {
			return apperrors.New(apperrors.CodeInvalidTransition, ite.Error())
		}
		return err
	}
	p.Status = next
	return o.payments.Update(ctx, p)
}
