package models

import (
	"time"

	"gorm.io/datatypes"
)

const PaymentStatusSucceeded = "succeeded"

// Payment is one row per provider-reported payment. Rows are never updated.
type Payment struct {
	ID              string         `gorm:"primaryKey;size:40" json:"payment_id"`
	UserID          string         `gorm:"size:40;not null;index" json:"user_id"`
	Email           string         `gorm:"size:255;not null;index" json:"email"`
	Amount          float64        `gorm:"type:numeric(10,2)" json:"amount"`
	Currency        string         `gorm:"size:10" json:"currency"`
	Provider        string         `gorm:"size:50" json:"provider"`
	ProviderEventID string         `gorm:"size:255;not null;uniqueIndex" json:"provider_event_id"`
	PaidAt          time.Time      `json:"paid_at"`
	PeriodStart     *time.Time     `gorm:"type:date" json:"period_start"`
	PeriodEnd       *time.Time     `gorm:"type:date" json:"period_end"`
	Status          string         `gorm:"size:20" json:"status"`
	IdempotencyKey  string         `gorm:"size:300;not null;uniqueIndex" json:"idempotency_key"`
	RawPayload      datatypes.JSON `gorm:"type:jsonb" json:"raw_payload"`
}
