package models

import "time"

// IdempotencyEntryModel is the write-once record backing Idempotency-Key
// replay. Fingerprint binds the key to the request that first used it.
type IdempotencyEntryModel struct {
	Key            string    `json:"key"            gorm:"primaryKey;type:varchar(255)"`
	Fingerprint    string    `json:"fingerprint"    gorm:"not null"`
	ResponseStatus int       `json:"responseStatus"`
	ResponseBody   []byte    `json:"responseBody"`
	CreatedAt      time.Time `json:"createdAt"      gorm:"index"`
}

func (IdempotencyEntryModel) TableName() string { return "idempotency_entries" }
