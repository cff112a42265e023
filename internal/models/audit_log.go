package models

import "time"

const (
	AuditPaymentProcessed = "payment_processed"
	AuditSignupProcessed  = "signup_processed"
	AuditAccessRevoked    = "access_revoked"
)

// AuditLog is an append-only trail of reconciler actions.
type AuditLog struct {
	ID      uint      `gorm:"primaryKey" json:"id"`
	TS      time.Time `gorm:"column:ts;not null;index" json:"ts"`
	Event   string    `gorm:"size:50;not null" json:"event"`
	UserID  string    `gorm:"size:40;index" json:"user_id"`
	Email   string    `gorm:"size:255" json:"email"`
	Details string    `gorm:"type:text" json:"details"`
}

func (AuditLog) TableName() string { return "audit_log" }
