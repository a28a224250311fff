package models

import "time"

// DeliveryStatus is the outcome of a single webhook delivery attempt.
type DeliveryStatus string

const (
	DeliveryPending DeliveryStatus = "pending"
	DeliverySuccess DeliveryStatus = "success"
	DeliveryFailed  DeliveryStatus = "failed"
)

// WebhookSubscriptionModel registers an endpoint for event notifications.
// Secret never leaves the server after registration.
type WebhookSubscriptionModel struct {
	Base
	ClientID string   `json:"clientId" gorm:"index"`
	URL      string   `json:"url"      gorm:"not null"`
	Secret   string   `json:"-"        gorm:"not null"`
	Events   []string `json:"events"   gorm:"serializer:json"`
	Active   bool     `json:"active"`
}

func (WebhookSubscriptionModel) TableName() string { return "webhook_subscriptions" }

// Matches reports whether the subscription wants the given event type.
// An empty event list subscribes to everything; "*" works as a wildcard too.
func (s *WebhookSubscriptionModel) Matches(eventType string) bool {
	if len(s.Events) == 0 {
		return true
	}
	for _, e := range s.Events {
		if e == "*" || e == eventType {
			return true
		}
	}
	return false
}

// DeliveryAttemptModel records one HTTP delivery attempt for auditing.
type DeliveryAttemptModel struct {
	ID             string         `json:"id"             gorm:"type:char(36);primaryKey"`
	SubscriptionID string         `json:"subscriptionId" gorm:"index"`
	EventID        string         `json:"eventId"        gorm:"index"`
	EventType      string         `json:"eventType"`
	AttemptNumber  int            `json:"attemptNumber"`
	Status         DeliveryStatus `json:"status"`
	HTTPStatus     int            `json:"httpStatus,omitempty"`
	Error          string         `json:"error,omitempty"`
	DurationMs     int64          `json:"durationMs"`
	AttemptedAt    time.Time      `json:"attemptedAt"    gorm:"index"`
}

func (DeliveryAttemptModel) TableName() string { return "webhook_delivery_attempts" }
