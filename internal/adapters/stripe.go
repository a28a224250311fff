package adapters

import (
	"context"
	"time"
)

// Card pricing: no FX, 2.9% + $0.30 per transaction.
const (
	cardFeePct       = 0.029
	cardFeeFixed     = 0.30
	cardSuccess      = 0.97
	cardActionChance = 0.10
)

// StripeCardAdapter simulates a card acquirer. A fraction of initiations
// require a 3-D Secure redirect before the charge proceeds.
type StripeCardAdapter struct {
	backend *simBackend
	config  NetworkConfig
}

func NewStripeCardAdapter(opts SimOptions) *StripeCardAdapter {
	return &StripeCardAdapter{
		backend: newSimBackend(opts),
		config: NetworkConfig{
			ID:          "stripe-card",
			Type:        "card",
			DisplayName: "Card Payment (Stripe)",
			SupportedCurrencies: []CurrencyPair{
				{Source: "USD", Dest: "USD"},
				{Source: "EUR", Dest: "EUR"},
				{Source: "GBP", Dest: "GBP"},
			},
			RequiredFields: []RequiredField{
				{Path: "sender.firstName", Type: "string", Description: "Cardholder first name"},
				{Path: "sender.lastName", Type: "string", Description: "Cardholder last name"},
				{Path: "sender.email", Type: "string", Description: "Cardholder email"},
			},
			Limits: Limits{Min: 0.5, Max: 999999},
		},
	}
}

func (a *StripeCardAdapter) Config() NetworkConfig { return a.config }

func (a *StripeCardAdapter) GetQuote(_ context.Context, req QuoteRequest) (*NetworkQuote, error) {
	fee := req.SourceAmount*cardFeePct + cardFeeFixed
	return &NetworkQuote{
		NetworkID:      a.config.ID,
		SourceAmount:   req.SourceAmount,
		SourceCurrency: req.SourceCurrency,
		DestAmount:     round2(req.SourceAmount - fee),
		DestCurrency:   req.DestCurrency,
		FxRate:         1,
		Fee:            fee,
		ExpiresAt:      a.backend.now().Add(30 * time.Minute),
	}, nil
}

func (a *StripeCardAdapter) InitiatePayment(_ context.Context, req InitiationRequest) (*InitiationResult, error) {
	id := a.backend.generateID("pi")
	a.backend.put(id, "PENDING", map[string]any{
		"amountCents": int64(req.SourceAmount * 100),
		"currency":    req.SourceCurrency,
		"externalId":  req.ExternalID,
	})

	if a.backend.chance(cardActionChance) {
		a.backend.update(id, "PENDING", map[string]any{"stripeStatus": "requires_action"})
		return &InitiationResult{
			NetworkPaymentID: id,
			Status:           InitiationRequiresAction,
			NetworkMetadata: map[string]any{
				"clientSecret": id + "_secret_" + a.backend.generateID("cs"),
				"stripeStatus": "requires_action",
			},
			RequiresAction: &RequiredAction{
				Type: "REDIRECT",
				URL:  "https://checkout.example.com/3ds/" + id,
			},
		}, nil
	}

	a.backend.after(func() {
		if a.backend.chance(cardSuccess) {
			a.backend.update(id, "COMPLETED", map[string]any{
				"stripeStatus": "succeeded",
				"chargeId":     a.backend.generateID("ch"),
			})
			return
		}
		a.backend.update(id, "FAILED", map[string]any{
			"stripeStatus":  "canceled",
			"failureReason": "Your card was declined.",
		})
	})

	return &InitiationResult{
		NetworkPaymentID: id,
		Status:           InitiationPending,
		NetworkMetadata: map[string]any{
			"clientSecret": id + "_secret_" + a.backend.generateID("cs"),
			"stripeStatus": "processing",
		},
	}, nil
}

func (a *StripeCardAdapter) ConfirmPayment(_ context.Context, id string) (*ConfirmationResult, error) {
	status, data, ok := a.backend.get(id)
	if !ok {
		return nil, ErrPaymentNotFound
	}
	result := &ConfirmationResult{
		Status:          "CONFIRMED",
		ConfirmedAt:     a.backend.now(),
		NetworkMetadata: data,
	}
	switch status {
	case "COMPLETED":
		result.Status = "COMPLETED"
	case "FAILED":
		result.Status = "FAILED"
		if reason, ok := data["failureReason"].(string); ok {
			result.FailureReason = reason
		}
	}
	return result, nil
}

func (a *StripeCardAdapter) GetPaymentStatus(_ context.Context, id string) (*StatusResult, error) {
	return a.backend.statusOf(id)
}
