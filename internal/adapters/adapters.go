// Package adapters defines the settlement network abstraction and the
// simulated network implementations behind it. Each network quotes, accepts
// payment initiations and reports status through the same interface; the
// orchestrator never talks to a network any other way.
package adapters

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// QuoteMode selects which side of the quote is fixed.
type QuoteMode string

const (
	ModeSource      QuoteMode = "SOURCE"
	ModeDestination QuoteMode = "DESTINATION"
)

// QuoteRequest asks a network to price a transfer.
type QuoteRequest struct {
	NetworkID      string
	SourceAmount   float64
	SourceCurrency string
	DestCurrency   string
	Mode           QuoteMode
}

// NetworkQuote is a network's priced offer.
type NetworkQuote struct {
	NetworkID       string
	SourceAmount    float64
	SourceCurrency  string
	DestAmount      float64
	DestCurrency    string
	FxRate          float64
	Fee             float64
	ExpiresAt       time.Time
	NetworkMetadata map[string]any
}

// Party mirrors the sender/receiver shapes on the payment record.
type Party struct {
	ID            string
	FirstName     string
	LastName      string
	Email         string
	Phone         string
	Address       string
	Country       string
	WalletAddress string
	BankAccount   string
	BankCode      string
}

// InitiationRequest submits a payment to a network.
type InitiationRequest struct {
	QuoteID        string
	NetworkID      string
	ExternalID     string
	SourceAmount   float64
	SourceCurrency string
	DestAmount     float64
	DestCurrency   string
	Sender         Party
	Receiver       Party
	Purpose        string
	CorrelationID  string
}

// InitiationStatus is the immediate outcome of an initiation.
type InitiationStatus string

const (
	InitiationPending        InitiationStatus = "PENDING"
	InitiationSubmitted      InitiationStatus = "SUBMITTED"
	InitiationRequiresAction InitiationStatus = "REQUIRES_ACTION"
	InitiationFailed         InitiationStatus = "FAILED"
)

// RequiredAction describes a step the sender must complete out of band.
type RequiredAction struct {
	Type    string // REDIRECT | OTP | CONFIRMATION
	URL     string
	Message string
}

// InitiationResult is what the network returns for a new payment.
type InitiationResult struct {
	NetworkPaymentID string
	Status           InitiationStatus
	NetworkMetadata  map[string]any
	RequiresAction   *RequiredAction
}

// ConfirmationResult reports how far a payment has progressed on the
// network when explicitly confirmed.
type ConfirmationResult struct {
	Status          string // CONFIRMED | SETTLED | COMPLETED | FAILED
	ConfirmedAt     time.Time
	NetworkMetadata map[string]any
	FailureReason   string
}

// StatusResult is a point-in-time network-side view of a payment.
type StatusResult struct {
	NetworkPaymentID string
	Status           string // PENDING..COMPLETED | FAILED | CANCELLED
	UpdatedAt        time.Time
	NetworkMetadata  map[string]any
	FailureReason    string
}

// CurrencyPair is one supported source/dest corridor.
type CurrencyPair struct {
	Source string `json:"source"`
	Dest   string `json:"dest"`
}

// RequiredField documents a request field a network insists on.
type RequiredField struct {
	Path        string `json:"path"`
	Type        string `json:"type"`
	Description string `json:"description"`
}

// Limits bound the source amount in source currency units.
type Limits struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// NetworkConfig is the static metadata describing a network.
type NetworkConfig struct {
	ID                  string          `json:"id"`
	Type                string          `json:"type"`
	DisplayName         string          `json:"displayName"`
	SupportedCurrencies []CurrencyPair  `json:"supportedCurrencies"`
	RequiredFields      []RequiredField `json:"requiredFields"`
	Limits              Limits          `json:"limits"`
}

// Supports reports whether the network serves a source/dest currency pair.
func (c NetworkConfig) Supports(source, dest string) bool {
	for _, p := range c.SupportedCurrencies {
		if p.Source == source && p.Dest == dest {
			return true
		}
	}
	return false
}

// ErrPaymentNotFound is returned by status lookups for unknown network
// payment ids.
var ErrPaymentNotFound = errors.New("adapters: network payment not found")

// NetworkAdapter is the contract every settlement network implements.
type NetworkAdapter interface {
	Config() NetworkConfig
	GetQuote(ctx context.Context, req QuoteRequest) (*NetworkQuote, error)
	InitiatePayment(ctx context.Context, req InitiationRequest) (*InitiationResult, error)
	GetPaymentStatus(ctx context.Context, networkPaymentID string) (*StatusResult, error)
}

// Confirmer is implemented by networks that require an explicit
// confirmation step. Callers discover support with a type assertion.
type Confirmer interface {
	ConfirmPayment(ctx context.Context, networkPaymentID string) (*ConfirmationResult, error)
}

// UnknownNetworkError is returned by the registry for unregistered ids.
type UnknownNetworkError struct{ NetworkID string }

func (e *UnknownNetworkError) Error() string {
	return fmt.Sprintf("adapters: unknown network %q", e.NetworkID)
}
