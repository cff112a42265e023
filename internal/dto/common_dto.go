package dto

import "github.com/ahmetcoskunkizilkaya/reelspace-backend/internal/models"

type ErrorResponse struct {
	Error   bool   `json:"error"`
	Message string `json:"message"`
}

type HealthResponse struct {
	OK        bool   `json:"ok"`
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	DB        string `json:"db"`
}

type RevokeResponse struct {
	Email   string `json:"email"`
	Removed bool   `json:"removed"`
}

type SweepResponse struct {
	Revoked []string `json:"revoked"`
	Failed  []string `json:"failed,omitempty"`
}

type UserDetailResponse struct {
	User     models.User      `json:"user"`
	Payments []models.Payment `json:"payments"`
	Invites  []models.Invite  `json:"invites"`
}

type WorksheetsResponse struct {
	Worksheets []string `json:"worksheets"`
}
