package models

import "time"

// Invite records a single access-grant attempt.
type Invite struct {
	ID           string       `gorm:"primaryKey;size:40" json:"invite_id"`
	UserID       string       `gorm:"size:40;not null;index" json:"user_id"`
	Email        string       `gorm:"size:255;not null;index" json:"email"`
	PlexServer   string       `gorm:"size:100" json:"plex_server"`
	SentAt       time.Time    `json:"sent_at"`
	AcceptedAt   *time.Time   `json:"accepted_at"`
	Status       InviteStatus `gorm:"size:20" json:"status"`
	ErrorMessage string       `gorm:"type:text" json:"error_message,omitempty"`
	Attempts     int          `gorm:"not null;default:0" json:"attempts"`
}
