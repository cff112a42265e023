package middleware

import (
	"github.com/ahmetcoskunkizilkaya/reelspace-backend/internal/config"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
)

// CORS lets the join page origins call the signup and checkout endpoints.
func CORS(cfg *config.Config) fiber.Handler {
	return cors.New(cors.Config{
		AllowOrigins:     cfg.CORSOrigins,
		AllowHeaders:     "Origin, Content-Type, Authorization, Accept, " + SignatureHeader + ", " + AdminTokenHeader,
		AllowMethods:     "GET, POST, OPTIONS",
		AllowCredentials: false,
	})
}
