package adapters

import (
	"context"
	"strings"
	"time"
)

// Simulated corridor rate and fee for the USD-KES corridor.
const (
	usdKesRate   = 153.25
	mpesaFeePct  = 0.015
	mpesaSuccess = 0.90
)

// MpesaAdapter simulates M-Pesa Kenya mobile wallet payouts. Payouts
// complete asynchronously through a simulated network callback.
type MpesaAdapter struct {
	backend *simBackend
	config  NetworkConfig
}

func NewMpesaAdapter(opts SimOptions) *MpesaAdapter {
	return &MpesaAdapter{
		backend: newSimBackend(opts),
		config: NetworkConfig{
			ID:          "mpesa-kenya",
			Type:        "mobile_wallet",
			DisplayName: "M-Pesa Kenya",
			SupportedCurrencies: []CurrencyPair{
				{Source: "USD", Dest: "KES"},
			},
			RequiredFields: []RequiredField{
				{Path: "receiver.phone", Type: "string", Description: "Recipient phone number (+254...)"},
				{Path: "receiver.firstName", Type: "string", Description: "Recipient first name"},
				{Path: "receiver.lastName", Type: "string", Description: "Recipient last name"},
			},
			Limits: Limits{Min: 1, Max: 1000},
		},
	}
}

func (a *MpesaAdapter) Config() NetworkConfig { return a.config }

func (a *MpesaAdapter) GetQuote(_ context.Context, req QuoteRequest) (*NetworkQuote, error) {
	fee := req.SourceAmount * mpesaFeePct
	net := req.SourceAmount - fee
	return &NetworkQuote{
		NetworkID:      a.config.ID,
		SourceAmount:   req.SourceAmount,
		SourceCurrency: "USD",
		DestAmount:     round2(net * usdKesRate),
		DestCurrency:   "KES",
		FxRate:         usdKesRate,
		Fee:            fee,
		ExpiresAt:      a.backend.now().Add(10 * time.Minute),
		NetworkMetadata: map[string]any{
			"provider": "Safaricom M-Pesa",
			"corridor": "USD-KES",
		},
	}, nil
}

func (a *MpesaAdapter) InitiatePayment(_ context.Context, req InitiationRequest) (*InitiationResult, error) {
	phone := req.Receiver.Phone
	if !strings.HasPrefix(phone, "+254") {
		return &InitiationResult{
			Status:          InitiationFailed,
			NetworkMetadata: map[string]any{"error": "Invalid Kenyan phone number"},
		}, nil
	}

	id := a.backend.generateID("MPESA")
	a.backend.put(id, "PENDING", map[string]any{
		"phone":      phone,
		"amount":     req.DestAmount,
		"currency":   "KES",
		"externalId": req.ExternalID,
	})
	a.scheduleCallback(id)

	return &InitiationResult{
		NetworkPaymentID: id,
		Status:           InitiationPending,
		NetworkMetadata: map[string]any{
			"conversationId":           a.backend.generateID("CONV"),
			"originatorConversationId": a.backend.generateID("ORIG"),
			"responseDescription":      "Accept the service request successfully.",
		},
	}, nil
}

func (a *MpesaAdapter) scheduleCallback(id string) {
	a.backend.after(func() {
		if a.backend.chance(mpesaSuccess) {
			a.backend.update(id, "COMPLETED", map[string]any{
				"resultCode":    0,
				"resultDesc":    "The service request is processed successfully.",
				"transactionId": a.backend.generateID("TXN"),
				"completedAt":   a.backend.now().Format(time.RFC3339),
			})
			return
		}
		a.backend.update(id, "FAILED", map[string]any{
			"resultCode":    1,
			"resultDesc":    "The balance is insufficient for the transaction.",
			"failureReason": "The balance is insufficient for the transaction.",
		})
	})
}

func (a *MpesaAdapter) ConfirmPayment(_ context.Context, id string) (*ConfirmationResult, error) {
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

func (a *MpesaAdapter) GetPaymentStatus(_ context.Context, id string) (*StatusResult, error) {
	return a.backend.statusOf(id)
}
