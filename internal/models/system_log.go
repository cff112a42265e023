package models

import (
	"time"

	"gorm.io/datatypes"
)

// SystemLog stores ERROR+ log records so failed deliveries can be traced after the fact.
type SystemLog struct {
	ID              string         `gorm:"primaryKey;size:36" json:"id"`
	Timestamp       time.Time      `gorm:"not null;index" json:"timestamp"`
	Level           string         `gorm:"size:10;not null;index" json:"level"`
	Message         string         `gorm:"type:text" json:"message"`
	RequestID       string         `gorm:"size:64;index" json:"request_id"`
	Email           string         `gorm:"size:255;index" json:"email"`
	UserID          *string        `gorm:"size:40" json:"user_id"`
	ProviderEventID string         `gorm:"size:255" json:"provider_event_id"`
	Action          string         `gorm:"size:100" json:"action"`
	Error           string         `gorm:"type:text" json:"error"`
	LatencyMs       int            `json:"latency_ms"`
	Extra           datatypes.JSON `gorm:"type:jsonb" json:"extra"`
	CreatedAt       time.Time      `json:"created_at"`
}
