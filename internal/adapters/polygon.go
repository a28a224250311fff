package adapters

import (
	"context"
	"regexp"
	"time"
)

// USDC settles 1:1 with USD minus an estimated gas fee. Finality is
// modelled as confirmations accruing at the chain block interval.
const (
	usdcGasFee            = 0.01
	usdcBlockInterval     = 2 * time.Second
	requiredConfirmations = 12
)

var evmAddressRe = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

// PolygonUSDCAdapter simulates USDC transfers on a Polygon testnet.
type PolygonUSDCAdapter struct {
	backend *simBackend
	config  NetworkConfig
}

func NewPolygonUSDCAdapter(opts SimOptions) *PolygonUSDCAdapter {
	return &PolygonUSDCAdapter{
		backend: newSimBackend(opts),
		config: NetworkConfig{
			ID:          "polygon-amoy-usdc",
			Type:        "stablecoin",
			DisplayName: "USDC on Polygon (Testnet)",
			SupportedCurrencies: []CurrencyPair{
				{Source: "USD", Dest: "USDC"},
			},
			RequiredFields: []RequiredField{
				{Path: "receiver.walletAddress", Type: "string", Description: "Recipient wallet address (0x...)"},
			},
			Limits: Limits{Min: 1, Max: 10000},
		},
	}
}

func (a *PolygonUSDCAdapter) Config() NetworkConfig { return a.config }

func (a *PolygonUSDCAdapter) GetQuote(_ context.Context, req QuoteRequest) (*NetworkQuote, error) {
	return &NetworkQuote{
		NetworkID:      a.config.ID,
		SourceAmount:   req.SourceAmount,
		SourceCurrency: "USD",
		DestAmount:     round2(req.SourceAmount - usdcGasFee),
		DestCurrency:   "USDC",
		FxRate:         1,
		Fee:            usdcGasFee,
		ExpiresAt:      a.backend.now().Add(5 * time.Minute),
		NetworkMetadata: map[string]any{
			"network": "polygon-amoy",
		},
	}, nil
}

func (a *PolygonUSDCAdapter) InitiatePayment(_ context.Context, req InitiationRequest) (*InitiationResult, error) {
	addr := req.Receiver.WalletAddress
	if !evmAddressRe.MatchString(addr) {
		return &InitiationResult{
			Status:          InitiationFailed,
			NetworkMetadata: map[string]any{"error": "Invalid recipient wallet address"},
		}, nil
	}

	txHash := a.backend.generateHash()
	a.backend.put(txHash, "SUBMITTED", map[string]any{
		"txHash":      txHash,
		"to":          addr,
		"amount":      req.DestAmount,
		"network":     "polygon-amoy",
		"submittedAt": a.backend.now(),
	})

	return &InitiationResult{
		NetworkPaymentID: txHash,
		Status:           InitiationSubmitted,
		NetworkMetadata: map[string]any{
			"txHash":  txHash,
			"to":      addr,
			"amount":  req.DestAmount,
			"network": "polygon-amoy",
		},
	}, nil
}

// confirmations derives how many blocks have elapsed since submission.
func (a *PolygonUSDCAdapter) confirmations(data map[string]any) int {
	submittedAt, ok := data["submittedAt"].(time.Time)
	if !ok {
		return 0
	}
	elapsed := a.backend.now().Sub(submittedAt)
	if elapsed < 0 {
		return 0
	}
	return int(elapsed / usdcBlockInterval)
}

func (a *PolygonUSDCAdapter) ConfirmPayment(_ context.Context, id string) (*ConfirmationResult, error) {
	_, data, ok := a.backend.get(id)
	if !ok {
		return nil, ErrPaymentNotFound
	}
	conf := a.confirmations(data)
	status := "CONFIRMED"
	if conf >= requiredConfirmations {
		status = "COMPLETED"
	}
	return &ConfirmationResult{
		Status:      status,
		ConfirmedAt: a.backend.now(),
		NetworkMetadata: map[string]any{
			"confirmations":         conf,
			"requiredConfirmations": requiredConfirmations,
		},
	}, nil
}

func (a *PolygonUSDCAdapter) GetPaymentStatus(_ context.Context, id string) (*StatusResult, error) {
	_, data, ok := a.backend.get(id)
	if !ok {
		return nil, ErrPaymentNotFound
	}
	conf := a.confirmations(data)
	status := "CONFIRMED"
	switch {
	case conf == 0:
		status = "SUBMITTED"
	case conf >= requiredConfirmations:
		status = "COMPLETED"
	}
	return &StatusResult{
		NetworkPaymentID: id,
		Status:           status,
		UpdatedAt:        a.backend.now(),
		NetworkMetadata: map[string]any{
			"confirmations":         conf,
			"requiredConfirmations": requiredConfirmations,
		},
	}, nil
}
