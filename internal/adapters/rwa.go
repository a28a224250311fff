package adapters

import (
	"context"
	"time"
)

// Tokenized treasury bonds trade 1:1 with USD minus a management fee and
// settle on a T+1 window, compressed for simulation.
const (
	rwaFeePct  = 0.001
	rwaSuccess = 0.95
)

// RWATreasuryAdapter simulates purchases of tokenized US treasury bonds.
type RWATreasuryAdapter struct {
	backend *simBackend
	config  NetworkConfig
}

func NewRWATreasuryAdapter(opts SimOptions) *RWATreasuryAdapter {
	return &RWATreasuryAdapter{
		backend: newSimBackend(opts),
		config: NetworkConfig{
			ID:          "rwa-treasury",
			Type:        "tokenized_asset",
			DisplayName: "Tokenized US Treasury Bonds",
			SupportedCurrencies: []CurrencyPair{
				{Source: "USD", Dest: "TBOND"},
			},
			RequiredFields: []RequiredField{
				{Path: "receiver.walletAddress", Type: "string", Description: "Custody wallet address"},
				{Path: "sender.kycVerified", Type: "boolean", Description: "KYC verification status"},
			},
			Limits: Limits{Min: 1000, Max: 1000000},
		},
	}
}

func (a *RWATreasuryAdapter) Config() NetworkConfig { return a.config }

func (a *RWATreasuryAdapter) GetQuote(_ context.Context, req QuoteRequest) (*NetworkQuote, error) {
	fee := req.SourceAmount * rwaFeePct
	return &NetworkQuote{
		NetworkID:      a.config.ID,
		SourceAmount:   req.SourceAmount,
		SourceCurrency: "USD",
		DestAmount:     round2(req.SourceAmount - fee),
		DestCurrency:   "TBOND",
		FxRate:         1,
		Fee:            fee,
		ExpiresAt:      a.backend.now().Add(time.Hour),
		NetworkMetadata: map[string]any{
			"assetType":      "US_TREASURY_BOND",
			"settlementType": "T+1",
			"custodian":      "Mock Custody Services",
			"yield":          "4.25%",
		},
	}, nil
}

func (a *RWATreasuryAdapter) InitiatePayment(_ context.Context, req InitiationRequest) (*InitiationResult, error) {
	if req.Receiver.WalletAddress == "" {
		return &InitiationResult{
			Status:          InitiationFailed,
			NetworkMetadata: map[string]any{"error": "Custody wallet address required"},
		}, nil
	}

	id := a.backend.generateID("RWA")
	settlesAt := a.backend.now().Add(10 * time.Second)
	a.backend.put(id, "PENDING", map[string]any{
		"walletAddress": req.Receiver.WalletAddress,
		"amount":        req.DestAmount,
		"currency":      "TBOND",
		"externalId":    req.ExternalID,
		"settlesAt":     settlesAt.Format(time.RFC3339),
		"orderType":     "BUY",
	})
	a.backend.after(func() {
		if a.backend.chance(rwaSuccess) {
			a.backend.update(id, "COMPLETED", map[string]any{
				"settlementStatus": "SETTLED",
				"settledAt":        a.backend.now().Format(time.RFC3339),
				"transactionId":    a.backend.generateID("SETTLE"),
			})
			return
		}
		a.backend.update(id, "FAILED", map[string]any{
			"settlementStatus": "FAILED",
			"failureReason":    "Settlement failed - insufficient liquidity",
		})
	})

	return &InitiationResult{
		NetworkPaymentID: id,
		Status:           InitiationPending,
		NetworkMetadata: map[string]any{
			"orderId":        a.backend.generateID("ORD"),
			"settlementDate": settlesAt.Format(time.RFC3339),
			"status":         "QUEUED",
			"message":        "Order queued for T+1 settlement.",
		},
	}, nil
}

func (a *RWATreasuryAdapter) ConfirmPayment(_ context.Context, id string) (*ConfirmationResult, error) {
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

func (a *RWATreasuryAdapter) GetPaymentStatus(_ context.Context, id string) (*StatusResult, error) {
	return a.backend.statusOf(id)
}
