package adapters

import (
	"context"
	"strings"
	"time"
)

const (
	usdPhpRate   = 56.15
	gcashFeePct  = 0.02
	gcashSuccess = 0.92
)

// GcashAdapter simulates GCash Philippines mobile wallet payouts.
type GcashAdapter struct {
	backend *simBackend
	config  NetworkConfig
}

func NewGcashAdapter(opts SimOptions) *GcashAdapter {
	return &GcashAdapter{
		backend: newSimBackend(opts),
		config: NetworkConfig{
			ID:          "gcash-ph",
			Type:        "mobile_wallet",
			DisplayName: "GCash Philippines",
			SupportedCurrencies: []CurrencyPair{
				{Source: "USD", Dest: "PHP"},
			},
			RequiredFields: []RequiredField{
				{Path: "receiver.phone", Type: "string", Description: "Recipient phone number (+63...)"},
				{Path: "receiver.firstName", Type: "string", Description: "Recipient first name"},
				{Path: "receiver.lastName", Type: "string", Description: "Recipient last name"},
			},
			Limits: Limits{Min: 1, Max: 2000},
		},
	}
}

func (a *GcashAdapter) Config() NetworkConfig { return a.config }

func (a *GcashAdapter) GetQuote(_ context.Context, req QuoteRequest) (*NetworkQuote, error) {
	fee := req.SourceAmount * gcashFeePct
	net := req.SourceAmount - fee
	return &NetworkQuote{
		NetworkID:      a.config.ID,
		SourceAmount:   req.SourceAmount,
		SourceCurrency: "USD",
		DestAmount:     round2(net * usdPhpRate),
		DestCurrency:   "PHP",
		FxRate:         usdPhpRate,
		Fee:            fee,
		ExpiresAt:      a.backend.now().Add(10 * time.Minute),
		NetworkMetadata: map[string]any{
			"provider": "GCash by Globe",
			"corridor": "USD-PHP",
		},
	}, nil
}

func (a *GcashAdapter) InitiatePayment(_ context.Context, req InitiationRequest) (*InitiationResult, error) {
	phone := req.Receiver.Phone
	if !strings.HasPrefix(phone, "+63") {
		return &InitiationResult{
			Status:          InitiationFailed,
			NetworkMetadata: map[string]any{"error": "Invalid Philippine phone number"},
		}, nil
	}

	id := a.backend.generateID("GCASH")
	a.backend.put(id, "PENDING", map[string]any{
		"phone":      phone,
		"amount":     req.DestAmount,
		"currency":   "PHP",
		"externalId": req.ExternalID,
	})
	a.backend.after(func() {
		if a.backend.chance(gcashSuccess) {
			a.backend.update(id, "COMPLETED", map[string]any{
				"status":        "SUCCESS",
				"message":       "Payment completed successfully.",
				"transactionId": a.backend.generateID("TXN"),
				"completedAt":   a.backend.now().Format(time.RFC3339),
			})
			return
		}
		a.backend.update(id, "FAILED", map[string]any{
			"status":        "FAILED",
			"message":       "Transaction failed. Please try again.",
			"failureReason": "Transaction failed. Please try again.",
		})
	})

	return &InitiationResult{
		NetworkPaymentID: id,
		Status:           InitiationPending,
		NetworkMetadata: map[string]any{
			"referenceId": a.backend.generateID("REF"),
			"message":     "Transaction is being processed.",
		},
	}, nil
}

func (a *GcashAdapter) ConfirmPayment(_ context.Context, id string) (*ConfirmationResult, error) {
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

func (a *GcashAdapter) GetPaymentStatus(_ context.Context, id string) (*StatusResult, error) {
	return a.backend.statusOf(id)
}
