package handlers

import (
	"errors"

	"github.com/ahmetcoskunkizilkaya/reelspace-backend/internal/config"
	"github.com/ahmetcoskunkizilkaya/reelspace-backend/internal/dto"
	"github.com/ahmetcoskunkizilkaya/reelspace-backend/internal/services"
	"github.com/gofiber/fiber/v2"
)

type SignupHandler struct {
	signupService *services.SignupService
	cfg           *config.Config
}

func NewSignupHandler(signupService *services.SignupService, cfg *config.Config) *SignupHandler {
	return &SignupHandler{signupService: signupService, cfg: cfg}
}

func (h *SignupHandler) FromWave(c *fiber.Ctx) error {
	var req dto.SignupRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
			Error: true, Message: "Invalid request body",
		})
	}

	resp, err := h.signupService.Signup(c.UserContext(), &req)
	if err != nil {
		if errors.Is(err, services.ErrInvalidSignup) {
			return c.Status(fiber.StatusUnprocessableEntity).JSON(dto.ErrorResponse{
				Error: true, Message: err.Error(),
			})
		}
		return err
	}
	return c.JSON(resp)
}

// Checkout tells the join page where to send the buyer and what they will pay.
func (h *SignupHandler) Checkout(c *fiber.Ctx) error {
	return c.JSON(dto.CheckoutResponse{
		CheckoutURL: h.cfg.WaveCheckoutURL,
		PlanName:    h.cfg.DefaultPlanName,
		Price:       h.cfg.DefaultPlanPrice,
		Currency:    "USD",
	})
}
