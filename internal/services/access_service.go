package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ahmetcoskunkizilkaya/reelspace-backend/internal/config"
	"github.com/ahmetcoskunkizilkaya/reelspace-backend/internal/dto"
	"github.com/ahmetcoskunkizilkaya/reelspace-backend/internal/metrics"
	"github.com/ahmetcoskunkizilkaya/reelspace-backend/internal/models"
	"gorm.io/gorm"
)

// AccessService takes media server access away from users who stopped paying.
// Revoked users are left in the pending state so their next payment sends a
// fresh invite.
type AccessService struct {
	db     *gorm.DB
	cfg    *config.Config
	access AccessGranter
	now    func() time.Time
}

func NewAccessService(db *gorm.DB, cfg *config.Config, access AccessGranter) *AccessService {
	return &AccessService{
		db:     db,
		cfg:    cfg,
		access: access,
		now:    time.Now,
	}
}

// Revoke removes the user's media server access and marks them lapsed. The
// returned bool reports whether the media server actually had them as a member.
func (s *AccessService) Revoke(ctx context.Context, email string) (bool, error) {
	email = NormalizeEmail(email)

	var user models.User
	if err := s.db.WithContext(ctx).Where("email = ?", email).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, ErrUserNotFound
		}
		return false, fmt.Errorf("load user: %w", err)
	}
	if s.access == nil {
		return false, ErrAccessNotConfigured
	}

	removed, err := s.access.Revoke(ctx, email)
	if err != nil {
		metrics.Revocations.WithLabelValues("error").Inc()
		return false, fmt.Errorf("revoke %s: %w", email, err)
	}

	now := s.now().UTC()
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.User{}).Where("id = ?", user.ID).Updates(map[string]interface{}{
			"status":             models.UserStatusLapsed,
			"plex_invite_status": models.InviteStatusPending,
		}).Error; err != nil {
			return fmt.Errorf("mark user lapsed: %w", err)
		}
		return appendAudit(tx, models.AuditAccessRevoked, user.ID, email, "removed="+yesNo(removed), now)
	})
	if err != nil {
		return false, err
	}

	if removed {
		metrics.Revocations.WithLabelValues("removed").Inc()
	} else {
		metrics.Revocations.WithLabelValues("absent").Inc()
	}
	slog.Info("access revoked", "email", email, "user_id", user.ID, "removed", removed)
	return removed, nil
}

// SweepOverdue revokes every active user whose due date is more than the
// configured grace period in the past.
func (s *AccessService) SweepOverdue(ctx context.Context) (*dto.SweepResponse, error) {
	return s.SweepOverdueAfter(ctx, s.cfg.GracePeriod)
}

// SweepOverdueAfter is SweepOverdue with an explicit grace period.
func (s *AccessService) SweepOverdueAfter(ctx context.Context, grace time.Duration) (*dto.SweepResponse, error) {
	if grace < 0 {
		return nil, fmt.Errorf("grace period %s is negative", grace)
	}
	cutoff := s.now().UTC().Add(-grace)

	var overdue []models.User
	if err := s.db.WithContext(ctx).
		Where("status = ? AND next_due_date IS NOT NULL AND next_due_date < ?", models.UserStatusActive, cutoff).
		Order("next_due_date").
		Find(&overdue).Error; err != nil {
		return nil, fmt.Errorf("find overdue users: %w", err)
	}

	result := &dto.SweepResponse{Revoked: []string{}}
	for _, u := range overdue {
		if _, err := s.Revoke(ctx, u.Email); err != nil {
			slog.Error("overdue revoke failed", "email", u.Email, "user_id", u.ID, "action", "sweep", "error", err)
			result.Failed = append(result.Failed, u.Email)
			continue
		}
		result.Revoked = append(result.Revoked, u.Email)
	}
	if len(overdue) > 0 {
		slog.Info("overdue sweep completed", "revoked", len(result.Revoked), "failed", len(result.Failed))
	}
	return result, nil
}

// UserDetail returns a user with their payment and invite history, newest first.
func (s *AccessService) UserDetail(ctx context.Context, email string) (*dto.UserDetailResponse, error) {
	email = NormalizeEmail(email)
	db := s.db.WithContext(ctx)

	var detail dto.UserDetailResponse
	if err := db.Where("email = ?", email).First(&detail.User).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("load user: %w", err)
	}
	if err := db.Where("user_id = ?", detail.User.ID).Order("paid_at DESC").Find(&detail.Payments).Error; err != nil {
		return nil, fmt.Errorf("load payments: %w", err)
	}
	if err := db.Where("user_id = ?", detail.User.ID).Order("sent_at DESC").Find(&detail.Invites).Error; err != nil {
		return nil, fmt.Errorf("load invites: %w", err)
	}
	return &detail, nil
}

// StartSweeper runs SweepOverdue every interval until done is closed.
func StartSweeper(svc *AccessService, interval time.Duration, done chan struct{}) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), interval)
				if _, err := svc.SweepOverdue(ctx); err != nil {
					slog.Error("overdue sweep failed", "action", "sweep", "error", err)
				}
				cancel()
			case <-done:
				return
			}
		}
	}()
}
