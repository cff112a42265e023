package models

import "time"

const ReferralCredited = "credited"

// Referral is one credited referral. A referred email is credited at most once per code.
type Referral struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	ReferrerEmail  string    `gorm:"size:255" json:"referrer_email"`
	ReferrerUserID string    `gorm:"size:40" json:"referrer_user_id"`
	Code           string    `gorm:"size:100;not null;uniqueIndex:idx_referrals_code_referred" json:"code"`
	ReferredEmail  string    `gorm:"size:255;not null;uniqueIndex:idx_referrals_code_referred" json:"referred_email"`
	CreditedAmount float64   `gorm:"type:numeric(10,2)" json:"credited_amount"`
	CreditStatus   string    `gorm:"size:20" json:"credit_status"`
	CreditedAt     time.Time `json:"credited_at"`
	Note           string    `gorm:"type:text" json:"note"`
}
