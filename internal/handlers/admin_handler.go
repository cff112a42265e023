package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/url"

	"github.com/ahmetcoskunkizilkaya/reelspace-backend/internal/dto"
	"github.com/ahmetcoskunkizilkaya/reelspace-backend/internal/services"
	"github.com/gofiber/fiber/v2"
)

// Spreadsheet is the part of the ledger mirror the debug endpoints use.
type Spreadsheet interface {
	Append(ctx context.Context, sheetName string, values []interface{}) error
	Worksheets(ctx context.Context) ([]string, error)
}

type AdminHandler struct {
	accessService *services.AccessService
	sheet         Spreadsheet
}

// NewAdminHandler builds the operator endpoints. sheet may be nil when the
// mirror is not configured.
func NewAdminHandler(accessService *services.AccessService, sheet Spreadsheet) *AdminHandler {
	return &AdminHandler{accessService: accessService, sheet: sheet}
}

func (h *AdminHandler) RevokeUser(c *fiber.Ctx) error {
	email, err := url.PathUnescape(c.Params("email"))
	if err != nil || email == "" {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
			Error: true, Message: "Invalid email",
		})
	}

	removed, err := h.accessService.Revoke(c.UserContext(), email)
	switch {
	case errors.Is(err, services.ErrUserNotFound):
		return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{
			Error: true, Message: "User not found",
		})
	case errors.Is(err, services.ErrAccessNotConfigured):
		return c.Status(fiber.StatusServiceUnavailable).JSON(dto.ErrorResponse{
			Error: true, Message: "Plex access is not configured",
		})
	case err != nil:
		slog.Error("admin revoke failed", "email", email, "action", "admin_revoke", "error", err)
		return c.Status(fiber.StatusBadGateway).JSON(dto.ErrorResponse{
			Error: true, Message: "Failed to revoke access",
		})
	}

	return c.JSON(dto.RevokeResponse{Email: services.NormalizeEmail(email), Removed: removed})
}

func (h *AdminHandler) Sweep(c *fiber.Ctx) error {
	resp, err := h.accessService.SweepOverdue(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(resp)
}

func (h *AdminHandler) GetUser(c *fiber.Ctx) error {
	email, err := url.PathUnescape(c.Params("email"))
	if err != nil || email == "" {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
			Error: true, Message: "Invalid email",
		})
	}

	detail, err := h.accessService.UserDetail(c.UserContext(), email)
	if errors.Is(err, services.ErrUserNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{
			Error: true, Message: "User not found",
		})
	}
	if err != nil {
		return err
	}
	return c.JSON(detail)
}

// DebugSheets lists the worksheet tabs to confirm the Google Sheets connection.
func (h *AdminHandler) DebugSheets(c *fiber.Ctx) error {
	if h.sheet == nil {
		return sheetsNotConfigured(c)
	}
	titles, err := h.sheet.Worksheets(c.UserContext())
	if err != nil {
		slog.Error("list worksheets failed", "action", "debug_sheets", "error", err)
		return c.Status(fiber.StatusBadGateway).JSON(dto.ErrorResponse{
			Error: true, Message: "Google Sheets request failed",
		})
	}
	return c.JSON(dto.WorksheetsResponse{Worksheets: titles})
}

// AddDemoUser appends a fixed demo row to the user_id worksheet to verify writes.
func (h *AdminHandler) AddDemoUser(c *fiber.Ctx) error {
	if h.sheet == nil {
		return sheetsNotConfigured(c)
	}
	row := []interface{}{
		"u_demo_api",
		"demo_api@example.com",
		"Demo User From API",
		"DemoPlexUser",
		"",
		"active",
		"2025-11-15",
		"2025-11-15",
		"2025-12-15",
		"Standard",
		7,
		0,
		"sent",
		"",
		"Created via API test",
	}
	if err := h.sheet.Append(c.UserContext(), "user_id", row); err != nil {
		slog.Error("demo row append failed", "action", "debug_add_demo_user", "error", err)
		return c.Status(fiber.StatusBadGateway).JSON(dto.ErrorResponse{
			Error: true, Message: "Google Sheets request failed",
		})
	}
	return c.JSON(fiber.Map{"status": "row added"})
}

func sheetsNotConfigured(c *fiber.Ctx) error {
	return c.Status(fiber.StatusServiceUnavailable).JSON(dto.ErrorResponse{
		Error: true, Message: "Google Sheets is not configured",
	})
}
