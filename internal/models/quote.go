package models

import "time"

// QuoteModel is a time-boxed FX/fee offer. Quotes are immutable once stored
// and consumed (read) at most once per payment creation.
type QuoteModel struct {
	Base
	NetworkID       string         `json:"networkId"      gorm:"not null"`
	SourceAmount    float64        `json:"sourceAmount"`
	SourceCurrency  string         `json:"sourceCurrency"`
	DestAmount      float64        `json:"destAmount"`
	DestCurrency    string         `json:"destCurrency"`
	FxRate          float64        `json:"fxRate"`
	Fee             float64        `json:"fee"`
	ExpiresAt       time.Time      `json:"expiresAt"      gorm:"index"`
	NetworkMetadata map[string]any `json:"networkMetadata,omitempty" gorm:"serializer:json"`
}

func (QuoteModel) TableName() string { return "quotes" }

// Expired reports whether the quote can no longer be consumed.
func (q *QuoteModel) Expired(now time.Time) bool {
	return now.After(q.ExpiresAt)
}
