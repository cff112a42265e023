package middleware

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"

	"github.com/ahmetcoskunkizilkaya/reelspace-backend/internal/dto"
	"github.com/gofiber/fiber/v2"
)

const SignatureHeader = "X-Signature"

// Sign returns the hex HMAC-SHA256 of body keyed by secret, as expected in
// the X-Signature header.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// WebhookSignature rejects requests whose X-Signature does not match the raw
// body. An empty secret disables the check.
func WebhookSignature(secret string) fiber.Handler {
	if secret == "" {
		slog.Warn("webhook signature verification disabled: no shared secret configured")
	}
	return func(c *fiber.Ctx) error {
		if secret == "" {
			return c.Next()
		}
		expected := []byte(Sign(secret, c.Body()))
		if !hmac.Equal(expected, []byte(c.Get(SignatureHeader))) {
			slog.Warn("webhook signature rejected", "ip", c.IP(), "path", c.Path())
			return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{
				Error: true, Message: "Invalid signature",
			})
		}
		return c.Next()
	}
}
