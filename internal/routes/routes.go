package routes

import (
	"time"

	"github.com/ahmetcoskunkizilkaya/reelspace-backend/internal/config"
	"github.com/ahmetcoskunkizilkaya/reelspace-backend/internal/handlers"
	"github.com/ahmetcoskunkizilkaya/reelspace-backend/internal/middleware"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func Setup(
	app *fiber.App,
	cfg *config.Config,
	healthHandler *handlers.HealthHandler,
	webhookHandler *handlers.WebhookHandler,
	signupHandler *handlers.SignupHandler,
	adminHandler *handlers.AdminHandler,
) {
	// Health and metrics (no rate limit)
	app.Get("/healthz", healthHandler.Check)
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	// Webhooks: HMAC over the raw body, generous limit since the relay retries in bursts
	webhooks := app.Group("/webhooks", perIP(120))
	webhooks.Post("/wave", middleware.WebhookSignature(cfg.WebhookSecret), webhookHandler.HandleWave)

	// Join page endpoints: 30 req/min per IP
	public := perIP(30)
	app.Post("/signup/from-wave", public, signupHandler.FromWave)
	app.Get("/wave/checkout", public, signupHandler.Checkout)

	// Operator endpoints (admin token or admin JWT)
	admin := app.Group("/admin", middleware.AdminRequired(cfg))
	admin.Get("/users/:email", adminHandler.GetUser)
	admin.Post("/users/:email/revoke", adminHandler.RevokeUser)
	admin.Post("/sweep", adminHandler.Sweep)
	admin.Get("/debug/sheets", adminHandler.DebugSheets)
	admin.Post("/debug/add-demo-user", adminHandler.AddDemoUser)
}

func perIP(limit int) fiber.Handler {
	return limiter.New(limiter.Config{
		Max:               limit,
		Expiration:        1 * time.Minute,
		LimiterMiddleware: limiter.SlidingWindow{},
		KeyGenerator:      func(c *fiber.Ctx) string { return c.IP() },
	})
}
