package models

import (
	"time"
)

// InviteStatus tracks where a user stands with media server access.
type InviteStatus string

const (
	InviteStatusPending        InviteStatus = "pending"
	InviteStatusSent           InviteStatus = "sent"
	InviteStatusAlreadyShared  InviteStatus = "already_shared"
	InviteStatusAlreadyInvited InviteStatus = "already_invited"
	InviteStatusError          InviteStatus = "error"
	InviteStatusAccepted       InviteStatus = "accepted"
)

// Granted reports whether the status means the user already has (or has been
// offered) access, so no new invite should be sent.
func (s InviteStatus) Granted() bool {
	switch s {
	case InviteStatusSent, InviteStatusAlreadyShared, InviteStatusAlreadyInvited, InviteStatusAccepted:
		return true
	}
	return false
}

const (
	UserStatusActive = "active"
	UserStatusLapsed = "lapsed"
)

type User struct {
	ID               string       `gorm:"primaryKey;size:40" json:"user_id"`
	Email            string       `gorm:"not null;size:255;uniqueIndex" json:"email"`
	FullName         string       `gorm:"size:255" json:"full_name"`
	PlexUsername     string       `gorm:"size:255" json:"plex_username"`
	Status           string       `gorm:"size:20" json:"status"`
	JoinDate         time.Time    `json:"join_date"`
	LastPaidDate     *time.Time   `json:"last_paid_date"`
	NextDueDate      *time.Time   `gorm:"index" json:"next_due_date"`
	Plan             string       `gorm:"size:50" json:"plan"`
	MonthlyPrice     float64      `gorm:"type:numeric(10,2)" json:"monthly_price"`
	CreditsBalance   float64      `gorm:"type:numeric(10,2);not null;default:0" json:"credits_balance"`
	PlexInviteStatus InviteStatus `gorm:"size:20" json:"plex_invite_status"`
	PlexAccountID    string       `gorm:"size:64" json:"plex_account_id"`
	Notes            string       `gorm:"type:text" json:"notes"`
	CreatedAt        time.Time    `json:"created_at"`
	UpdatedAt        time.Time    `json:"updated_at"`
}
