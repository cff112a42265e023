package services

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/ahmetcoskunkizilkaya/reelspace-backend/internal/config"
	"github.com/ahmetcoskunkizilkaya/reelspace-backend/internal/dto"
	"github.com/ahmetcoskunkizilkaya/reelspace-backend/internal/models"
	"gorm.io/gorm"
)

// SignupService handles sign-ups posted by the checkout page after a
// successful Wave checkout, ahead of the first payment webhook.
type SignupService struct {
	db     *gorm.DB
	cfg    *config.Config
	access AccessGranter
	mirror LedgerMirror
	now    func() time.Time
}

func NewSignupService(db *gorm.DB, cfg *config.Config, access AccessGranter, mirror LedgerMirror) *SignupService {
	return &SignupService{
		db:     db,
		cfg:    cfg,
		access: access,
		mirror: mirror,
		now:    time.Now,
	}
}

func (s *SignupService) Signup(ctx context.Context, req *dto.SignupRequest) (*dto.SignupResponse, error) {
	email := NormalizeEmail(req.Email)
	if !validEmail(email) {
		return nil, fmt.Errorf("%w: email %q is not valid", ErrInvalidSignup, req.Email)
	}
	if strings.TrimSpace(req.FirstName) == "" {
		return nil, fmt.Errorf("%w: first_name is required", ErrInvalidSignup)
	}
	fullName := strings.TrimSpace(req.FullName())
	now := s.now().UTC()

	var (
		user    models.User
		created bool
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		if user, created, err = upsertUser(tx, s.cfg, email, fullName, now); err != nil {
			return err
		}

		invited := false
		if !user.PlexInviteStatus.Granted() {
			invited = true
			if _, err := grantAccess(ctx, tx, s.access, s.cfg.PlexServerName, &user, fullName, now); err != nil {
				return err
			}
		}

		details := fmt.Sprintf("created=%s, invite=%s", yesNo(created), yesNo(invited))
		return appendAudit(tx, models.AuditSignupProcessed, user.ID, email, details, now)
	})
	if err != nil {
		return nil, fmt.Errorf("signup %s: %w", email, err)
	}

	if created {
		today := now.Format(dateLayout)
		mirrorRow(ctx, s.mirror, usersSheet, []interface{}{
			user.ID,
			email,
			fullName,
			"",
			"",
			models.UserStatusActive,
			today,
			today,
			"",
			s.cfg.DefaultPlanName,
			strconv.FormatFloat(s.cfg.DefaultPlanPrice, 'f', 2, 64),
			"0",
			string(user.PlexInviteStatus),
			"Created via Wave checkout",
		})
	}

	slog.Info("signup processed", "email", email, "user_id", user.ID, "created", created, "plex_invite_status", string(user.PlexInviteStatus))

	return &dto.SignupResponse{
		Status:           "ok",
		UserID:           user.ID,
		PlexInviteStatus: string(user.PlexInviteStatus),
	}, nil
}
