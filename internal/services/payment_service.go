package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/ahmetcoskunkizilkaya/reelspace-backend/internal/config"
	"github.com/ahmetcoskunkizilkaya/reelspace-backend/internal/dto"
	"github.com/ahmetcoskunkizilkaya/reelspace-backend/internal/metrics"
	"github.com/ahmetcoskunkizilkaya/reelspace-backend/internal/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const providerWave = "Wave"

// maxAmount is the first value that no longer fits payments.amount numeric(10,2).
const maxAmount = 1e8

// PaymentService turns at-least-once payment notifications into exactly-once
// ledger effects, media server access and a spreadsheet copy.
type PaymentService struct {
	db     *gorm.DB
	cfg    *config.Config
	access AccessGranter
	mirror LedgerMirror
	now    func() time.Time
}

func NewPaymentService(db *gorm.DB, cfg *config.Config, access AccessGranter, mirror LedgerMirror) *PaymentService {
	return &PaymentService{
		db:     db,
		cfg:    cfg,
		access: access,
		mirror: mirror,
		now:    time.Now,
	}
}

type normalizedPayment struct {
	email          string
	amount         float64
	currency       string
	periodStart    time.Time
	periodEnd      *time.Time
	idempotencyKey string
	referralCode   string
}

// HandlePaymentEvent reconciles one payment notification. raw is the request
// body as received and is stored verbatim on the payment row.
//
// Storage work runs in a single transaction; redelivery of an event is safe
// because the payment, user and referral inserts are all insert-if-absent.
// An access-grant failure is recorded but does not fail the call, and the
// mirror append happens after commit with its errors suppressed.
func (s *PaymentService) HandlePaymentEvent(ctx context.Context, event *dto.PaymentEvent, raw []byte) (*dto.PaymentResult, error) {
	if event.EventType != dto.EventPaymentSucceeded {
		slog.Info("payment event ignored", "event_type", event.EventType, "provider_event_id", event.ProviderEventID)
		return &dto.PaymentResult{OK: true, Ignored: true}, nil
	}

	p, err := normalizePayment(event)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		if raw, err = json.Marshal(event); err != nil {
			return nil, fmt.Errorf("encode payload: %w", err)
		}
	}

	now := s.now().UTC()
	var (
		user            models.User
		inserted        bool
		credited        bool
		inviteAttempted bool
	)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		if user, _, err = upsertUser(tx, s.cfg, p.email, strings.TrimSpace(event.FullName), now); err != nil {
			return err
		}

		start := p.periodStart
		payment := models.Payment{
			ID:              newID("p_"),
			UserID:          user.ID,
			Email:           p.email,
			Amount:          p.amount,
			Currency:        p.currency,
			Provider:        providerWave,
			ProviderEventID: event.ProviderEventID,
			PaidAt:          now,
			PeriodStart:     &start,
			PeriodEnd:       p.periodEnd,
			Status:          models.PaymentStatusSucceeded,
			IdempotencyKey:  p.idempotencyKey,
			RawPayload:      datatypes.JSON(raw),
		}
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&payment)
		if res.Error != nil {
			return fmt.Errorf("insert payment: %w", res.Error)
		}
		inserted = res.RowsAffected > 0

		if err := s.rollForward(tx, &user, now); err != nil {
			return err
		}

		if p.referralCode != "" {
			if credited, err = s.creditReferral(tx, &user, p.referralCode, now); err != nil {
				return err
			}
		}

		if !user.PlexInviteStatus.Granted() {
			inviteAttempted = true
			if _, err := grantAccess(ctx, tx, s.access, s.cfg.PlexServerName, &user, event.FullName, now); err != nil {
				return err
			}
		}

		details := fmt.Sprintf("amount=%.2f, invite=%s, duplicate=%s", p.amount, yesNo(inviteAttempted), yesNo(!inserted))
		return appendAudit(tx, models.AuditPaymentProcessed, user.ID, p.email, details, now)
	})
	if err != nil {
		return nil, fmt.Errorf("reconcile payment %s: %w", event.ProviderEventID, err)
	}

	if inserted {
		metrics.PaymentsRecorded.WithLabelValues("inserted").Inc()
		mirrorRow(ctx, s.mirror, paymentsSheet, []interface{}{
			now.Format(time.RFC3339),
			p.email,
			p.amount,
			p.currency,
			event.ProviderEventID,
			p.periodStart.Format(dateLayout),
			formatDate(p.periodEnd),
			p.idempotencyKey,
			"ok",
		})
	} else {
		metrics.PaymentsRecorded.WithLabelValues("duplicate").Inc()
	}
	if credited {
		metrics.ReferralCredits.Inc()
	}

	slog.Info("payment processed",
		"email", p.email,
		"user_id", user.ID,
		"provider_event_id", event.ProviderEventID,
		"duplicate", !inserted,
		"invite_attempted", inviteAttempted,
		"plex_invite_status", string(user.PlexInviteStatus),
	)

	return &dto.PaymentResult{
		OK:         true,
		User:       p.email,
		UserID:     user.ID,
		InviteSent: inviteAttempted,
	}, nil
}

// rollForward records the payment time and moves the due date one billing
// cycle past it. Reapplying it for a redelivered event is harmless.
func (s *PaymentService) rollForward(tx *gorm.DB, user *models.User, now time.Time) error {
	due := now.Add(s.cfg.BillingCycle)
	err := tx.Model(&models.User{}).Where("id = ?", user.ID).Updates(map[string]interface{}{
		"last_paid_date": now,
		"next_due_date":  due,
		"status":         models.UserStatusActive,
	}).Error
	if err != nil {
		return fmt.Errorf("roll billing dates: %w", err)
	}
	user.LastPaidDate = &now
	user.NextDueDate = &due
	user.Status = models.UserStatusActive
	return nil
}

// creditReferral credits the fixed referral amount the first time code is
// seen for the user's email. The unique (code, referred_email) index decides
// races the lookup cannot.
func (s *PaymentService) creditReferral(tx *gorm.DB, user *models.User, code string, now time.Time) (bool, error) {
	var existing int64
	if err := tx.Model(&models.Referral{}).
		Where("code = ? AND referred_email = ?", code, user.Email).
		Count(&existing).Error; err != nil {
		return false, fmt.Errorf("check referral: %w", err)
	}
	if existing > 0 {
		return false, nil
	}

	ref := models.Referral{
		Code:           code,
		ReferredEmail:  user.Email,
		CreditedAmount: s.cfg.ReferralCreditAmount,
		CreditStatus:   models.ReferralCredited,
		CreditedAt:     now,
		Note:           "Signup credit",
	}
	res := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "code"}, {Name: "referred_email"}},
		DoNothing: true,
	}).Create(&ref)
	if res.Error != nil {
		return false, fmt.Errorf("insert referral: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return false, nil
	}

	err := tx.Model(&models.User{}).Where("id = ?", user.ID).
		Update("credits_balance", gorm.Expr("COALESCE(credits_balance, 0) + ?", s.cfg.ReferralCreditAmount)).Error
	if err != nil {
		return false, fmt.Errorf("credit referral: %w", err)
	}
	user.CreditsBalance += s.cfg.ReferralCreditAmount
	return true, nil
}

func normalizePayment(event *dto.PaymentEvent) (*normalizedPayment, error) {
	p := &normalizedPayment{
		email:        NormalizeEmail(event.Email),
		amount:       float64(event.Amount),
		currency:     strings.ToUpper(strings.TrimSpace(event.Currency)),
		referralCode: strings.TrimSpace(event.ReferralCode),
	}
	if p.currency == "" {
		p.currency = "USD"
	}

	if strings.TrimSpace(event.ProviderEventID) == "" {
		return nil, fmt.Errorf("%w: provider_event_id is required", ErrInvalidEvent)
	}
	if !validEmail(p.email) {
		return nil, fmt.Errorf("%w: email %q is not valid", ErrInvalidEvent, event.Email)
	}
	if math.IsNaN(p.amount) || math.IsInf(p.amount, 0) || p.amount < 0 || p.amount >= maxAmount {
		return nil, fmt.Errorf("%w: amount %v is out of range", ErrInvalidEvent, p.amount)
	}

	start, err := parseDate(event.PeriodStart)
	if err != nil {
		return nil, fmt.Errorf("%w: period_start: %v", ErrInvalidEvent, err)
	}
	p.periodStart = start
	if strings.TrimSpace(event.PeriodEnd) != "" {
		end, err := parseDate(event.PeriodEnd)
		if err != nil {
			return nil, fmt.Errorf("%w: period_end: %v", ErrInvalidEvent, err)
		}
		p.periodEnd = &end
	}

	p.idempotencyKey = IdempotencyKey(p.email, start.Format(dateLayout))
	return p, nil
}

// parseDate accepts a plain date or an RFC 3339 timestamp and truncates to the UTC day.
func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, errors.New("is required")
	}
	if t, err := time.Parse(dateLayout, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%q is not a date", s)
	}
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
}

func formatDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(dateLayout)
}
