package middleware

import (
	"crypto/subtle"
	"strings"

	"github.com/ahmetcoskunkizilkaya/reelspace-backend/internal/config"
	"github.com/gofiber/fiber/v2"
	"golang.org/x/crypto/bcrypt"
)

const AdminTokenHeader = "X-Admin-Token"

// AdminRequired guards the operator endpoints. It accepts either:
// 1. X-Admin-Token matching ADMIN_TOKEN_HASH (bcrypt) or ADMIN_TOKEN
// 2. A bearer JWT signed with ADMIN_JWT_SECRET whose email is in ADMIN_EMAILS
func AdminRequired(cfg *config.Config) fiber.Handler {
	adminEmails := parseCSV(cfg.AdminEmails)
	for i, e := range adminEmails {
		adminEmails[i] = normalize(e)
	}

	var bearer fiber.Handler
	if cfg.AdminJWTSecret != "" {
		bearer = AdminJWT(cfg.AdminJWTSecret, adminEmails)
	}

	return func(c *fiber.Ctx) error {
		if token := c.Get(AdminTokenHeader); token != "" && validAdminToken(cfg, token) {
			c.Locals("admin", "token")
			return c.Next()
		}

		if bearer != nil && strings.HasPrefix(c.Get(fiber.HeaderAuthorization), "Bearer ") {
			return bearer(c)
		}

		return unauthorized(c)
	}
}

func validAdminToken(cfg *config.Config, token string) bool {
	if cfg.AdminTokenHash != "" {
		return bcrypt.CompareHashAndPassword([]byte(cfg.AdminTokenHash), []byte(token)) == nil
	}
	if cfg.AdminToken != "" {
		return subtle.ConstantTimeCompare([]byte(token), []byte(cfg.AdminToken)) == 1
	}
	return false
}

func parseCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		trimmed := strings.TrimSpace(p)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func contains(list []string, val string) bool {
	for _, item := range list {
		if item == val {
			return true
		}
	}
	return false
}

func normalize(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
