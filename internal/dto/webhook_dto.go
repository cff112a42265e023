package dto

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

const EventPaymentSucceeded = "payment_succeeded"

// EventEnvelope is decoded before the full event so that unrelated event
// types are acknowledged whatever the rest of their payload looks like.
type EventEnvelope struct {
	EventType string `json:"event_type"`
}

// PaymentEvent is the normalized payment notification posted by the Wave relay.
type PaymentEvent struct {
	EventType       string `json:"event_type"`
	ProviderEventID string `json:"provider_event_id"`
	Email           string `json:"email"`
	FullName        string `json:"full_name,omitempty"`
	Amount          Amount `json:"amount"`
	Currency        string `json:"currency,omitempty"`
	PeriodStart     string `json:"period_start"`
	PeriodEnd       string `json:"period_end,omitempty"`
	ReferralCode    string `json:"referral_code,omitempty"`
}

// Amount accepts both JSON numbers and numeric strings, since relays are not
// consistent about which one they send.
type Amount float64

func (a *Amount) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*a = 0
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		if s == "" {
			*a = 0
			return nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return fmt.Errorf("invalid amount %q", s)
		}
		*a = Amount(f)
		return nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		return err
	}
	*a = Amount(f)
	return nil
}

// PaymentResult is returned to the relay. Ignored events only carry OK and Ignored.
type PaymentResult struct {
	OK         bool   `json:"ok"`
	Ignored    bool   `json:"ignored,omitempty"`
	User       string `json:"user,omitempty"`
	UserID     string `json:"user_id,omitempty"`
	InviteSent bool   `json:"invite_sent"`
}
