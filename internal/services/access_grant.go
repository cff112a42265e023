package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/ahmetcoskunkizilkaya/reelspace-backend/internal/config"
	"github.com/ahmetcoskunkizilkaya/reelspace-backend/internal/metrics"
	"github.com/ahmetcoskunkizilkaya/reelspace-backend/internal/models"
	"github.com/ahmetcoskunkizilkaya/reelspace-backend/internal/plex"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrInvalidEvent        = errors.New("invalid payment event")
	ErrInvalidSignup       = errors.New("invalid signup request")
	ErrUserNotFound        = errors.New("user not found")
	ErrAccessNotConfigured = errors.New("access grant capability not configured")
)

// AccessGranter manages membership on the media server.
type AccessGranter interface {
	Invite(ctx context.Context, email, displayName string) (plex.Outcome, error)
	Revoke(ctx context.Context, email string) (bool, error)
}

// LedgerMirror is the human-readable copy of ledger activity. It is never the
// source of truth and its failures are only logged.
type LedgerMirror interface {
	Append(ctx context.Context, sheetName string, values []interface{}) error
}

const (
	paymentsSheet = "Payments"
	usersSheet    = "user_id"
	dateLayout    = "2006-01-02"
	mirrorTimeout = 15 * time.Second
)

// NormalizeEmail lowercases and trims an address. All matching on email is
// done on the normalized form.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// IdempotencyKey derives the per-period payment key.
func IdempotencyKey(email, periodStart string) string {
	return email + "-" + periodStart
}

func validEmail(email string) bool {
	if email == "" {
		return false
	}
	addr, err := mail.ParseAddress(email)
	return err == nil && addr.Address == email
}

func newID(prefix string) string {
	return prefix + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// upsertUser inserts a user for email if none exists and returns the stored
// row. An existing user is returned untouched.
func upsertUser(tx *gorm.DB, cfg *config.Config, email, fullName string, now time.Time) (models.User, bool, error) {
	candidate := models.User{
		ID:               newID("u_"),
		Email:            email,
		FullName:         fullName,
		Status:           models.UserStatusActive,
		JoinDate:         now,
		Plan:             cfg.DefaultPlanName,
		MonthlyPrice:     cfg.DefaultPlanPrice,
		PlexInviteStatus: models.InviteStatusPending,
	}
	err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "email"}},
		DoNothing: true,
	}).Create(&candidate).Error
	if err != nil {
		return models.User{}, false, fmt.Errorf("upsert user: %w", err)
	}

	var user models.User
	if err := tx.Where("email = ?", email).First(&user).Error; err != nil {
		return models.User{}, false, fmt.Errorf("load user: %w", err)
	}
	return user, user.ID == candidate.ID, nil
}

// grantAccess asks the media server to invite the user and records the
// attempt. A provider failure is recorded as an error status and is not
// returned; only storage errors are.
func grantAccess(ctx context.Context, tx *gorm.DB, access AccessGranter, server string, user *models.User, displayName string, now time.Time) (models.InviteStatus, error) {
	status, errMsg := requestInvite(ctx, access, user.Email, displayName)

	inv := models.Invite{
		ID:           newID("i_"),
		UserID:       user.ID,
		Email:        user.Email,
		PlexServer:   server,
		SentAt:       now,
		Status:       status,
		ErrorMessage: errMsg,
		Attempts:     1,
	}
	if err := tx.Create(&inv).Error; err != nil {
		return "", fmt.Errorf("record invite: %w", err)
	}
	if err := tx.Model(&models.User{}).Where("id = ?", user.ID).Update("plex_invite_status", status).Error; err != nil {
		return "", fmt.Errorf("update invite status: %w", err)
	}
	user.PlexInviteStatus = status
	return status, nil
}

func requestInvite(ctx context.Context, access AccessGranter, email, displayName string) (models.InviteStatus, string) {
	if access == nil {
		metrics.InviteOutcomes.WithLabelValues(string(models.InviteStatusError)).Inc()
		return models.InviteStatusError, ErrAccessNotConfigured.Error()
	}

	outcome, err := access.Invite(ctx, email, displayName)
	if err != nil {
		slog.Error("access grant failed", "email", email, "action", "plex_invite", "error", err)
		metrics.InviteOutcomes.WithLabelValues(string(models.InviteStatusError)).Inc()
		return models.InviteStatusError, err.Error()
	}

	var status models.InviteStatus
	switch outcome {
	case plex.OutcomeSent:
		status = models.InviteStatusSent
	case plex.OutcomeAlreadyShared:
		status = models.InviteStatusAlreadyShared
	case plex.OutcomeAlreadyInvited:
		status = models.InviteStatusAlreadyInvited
	default:
		metrics.InviteOutcomes.WithLabelValues(string(models.InviteStatusError)).Inc()
		return models.InviteStatusError, fmt.Sprintf("unexpected invite outcome %s", outcome)
	}
	metrics.InviteOutcomes.WithLabelValues(string(status)).Inc()
	return status, ""
}

func appendAudit(tx *gorm.DB, event, userID, email, details string, now time.Time) error {
	entry := models.AuditLog{
		TS:      now,
		Event:   event,
		UserID:  userID,
		Email:   email,
		Details: details,
	}
	if err := tx.Create(&entry).Error; err != nil {
		return fmt.Errorf("append audit log: %w", err)
	}
	return nil
}

// mirrorRow appends to the ledger mirror and swallows any failure.
func mirrorRow(ctx context.Context, mirror LedgerMirror, sheet string, row []interface{}) {
	if mirror == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, mirrorTimeout)
	defer cancel()

	if err := mirror.Append(ctx, sheet, row); err != nil {
		metrics.MirrorFailures.WithLabelValues(sheet).Inc()
		slog.Warn("ledger mirror append failed", "sheet", sheet, "error", err)
	}
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
