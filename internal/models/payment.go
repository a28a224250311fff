package models

// PaymentStatus is the lifecycle state of a payment. Transitions between
// statuses are governed exclusively by the payment state machine.
type PaymentStatus string

const (
	StatusCreated         PaymentStatus = "CREATED"
	StatusQuoteLocked     PaymentStatus = "QUOTE_LOCKED"
	StatusComplianceCheck PaymentStatus = "COMPLIANCE_CHECK"
	StatusPendingNetwork  PaymentStatus = "PENDING_NETWORK"
	StatusSubmitted       PaymentStatus = "SUBMITTED"
	StatusConfirmed       PaymentStatus = "CONFIRMED"
	StatusSettled         PaymentStatus = "SETTLED"
	StatusCompleted       PaymentStatus = "COMPLETED"
	StatusFailed          PaymentStatus = "FAILED"
	StatusCancelled       PaymentStatus = "CANCELLED"
)

// ComplianceStatus is the screening outcome persisted on the payment.
type ComplianceStatus string

const (
	CompliancePending  ComplianceStatus = "PENDING"
	ComplianceApproved ComplianceStatus = "APPROVED"
	ComplianceRejected ComplianceStatus = "REJECTED"
)

// SenderInfo identifies the paying party.
type SenderInfo struct {
	ID        string `json:"id,omitempty"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email,omitempty"`
	Phone     string `json:"phone,omitempty"`
	Address   string `json:"address,omitempty"`
	Country   string `json:"country,omitempty"`
}

// ReceiverInfo identifies the receiving party. Which fields are required
// depends on the settlement network (phone for mobile wallets, walletAddress
// for stablecoins, bankAccount for bank rails).
type ReceiverInfo struct {
	ID            string `json:"id,omitempty"`
	FirstName     string `json:"firstName,omitempty"`
	LastName      string `json:"lastName,omitempty"`
	Phone         string `json:"phone,omitempty"`
	WalletAddress string `json:"walletAddress,omitempty"`
	BankAccount   string `json:"bankAccount,omitempty"`
	BankCode      string `json:"bankCode,omitempty"`
	Email         string `json:"email,omitempty"`
}

// RequiredAction describes a follow-up step the sender must complete before
// the network will progress the payment (3DS redirect, OTP, confirmation).
type RequiredAction struct {
	Type    string `json:"type"` // REDIRECT | OTP | CONFIRMATION
	URL     string `json:"url,omitempty"`
	Message string `json:"message,omitempty"`
}

// PaymentModel is the payment record. It is owned by the orchestrator and
// mutated only through state-machine-gated transitions.
type PaymentModel struct {
	Base
	ExternalID        string            `json:"externalId,omitempty" gorm:"index"`
	QuoteID           string            `json:"quoteId"              gorm:"not null"`
	NetworkID         string            `json:"networkId"            gorm:"not null"`
	Status            PaymentStatus     `json:"status"               gorm:"index;not null"`
	SourceAmount      float64           `json:"sourceAmount"`
	SourceCurrency    string            `json:"sourceCurrency"`
	DestAmount        float64           `json:"destAmount"`
	DestCurrency      string            `json:"destCurrency"`
	Fee               float64           `json:"fee"`
	FxRate            float64           `json:"fxRate"`
	Sender            SenderInfo        `json:"sender"               gorm:"serializer:json"`
	Receiver          ReceiverInfo      `json:"receiver"             gorm:"serializer:json"`
	Purpose           string            `json:"purpose,omitempty"`
	Metadata          map[string]string `json:"metadata,omitempty"   gorm:"serializer:json"`
	NetworkPaymentID  string            `json:"networkPaymentId,omitempty" gorm:"index"`
	RequiresAction    *RequiredAction   `json:"requiresAction,omitempty"   gorm:"serializer:json"`
	ComplianceStatus  ComplianceStatus  `json:"complianceStatus"`
	ComplianceDetails map[string]any    `json:"complianceDetails,omitempty" gorm:"serializer:json"`
}

func (PaymentModel) TableName() string { return "payments" }

// Terminal reports whether the payment has reached a final status.
func (p *PaymentModel) Terminal() bool {
	switch p.Status {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}
