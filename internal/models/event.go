package models

import "time"

// EventType is the closed set of domain event types a payment can emit.
type EventType string

const (
	EventPaymentCreated            EventType = "PaymentCreated"
	EventQuoteLocked               EventType = "QuoteLocked"
	EventComplianceCheckCompleted  EventType = "ComplianceCheckCompleted"
	EventPaymentSubmitted          EventType = "PaymentSubmitted"
	EventPaymentConfirmed          EventType = "PaymentConfirmed"
	EventPaymentSettled            EventType = "PaymentSettled"
	EventPaymentCompleted          EventType = "PaymentCompleted"
	EventPaymentFailed             EventType = "PaymentFailed"
	EventPaymentCancelled          EventType = "PaymentCancelled"
)

// PaymentEventModel is one immutable entry in the append-only per-payment
// event log. Seq is assigned by the store and breaks timestamp ties.
type PaymentEventModel struct {
	ID            string         `json:"id"            gorm:"type:char(36);primaryKey"`
	Seq           uint64         `json:"-"             gorm:"autoIncrement;uniqueIndex"`
	PaymentID     string         `json:"paymentId"     gorm:"index;not null"`
	Type          EventType      `json:"type"          gorm:"not null"`
	Timestamp     time.Time      `json:"timestamp"     gorm:"index"`
	Data          map[string]any `json:"data"          gorm:"serializer:json"`
	CorrelationID string         `json:"correlationId"`
}

func (PaymentEventModel) TableName() string { return "payment_events" }
