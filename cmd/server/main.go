package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	sentryfiber "github.com/getsentry/sentry-go/fiber"

	"github.com/ahmetcoskunkizilkaya/reelspace-backend/internal/config"
	"github.com/ahmetcoskunkizilkaya/reelspace-backend/internal/database"
	"github.com/ahmetcoskunkizilkaya/reelspace-backend/internal/handlers"
	"github.com/ahmetcoskunkizilkaya/reelspace-backend/internal/logging"
	"github.com/ahmetcoskunkizilkaya/reelspace-backend/internal/middleware"
	"github.com/ahmetcoskunkizilkaya/reelspace-backend/internal/plex"
	"github.com/ahmetcoskunkizilkaya/reelspace-backend/internal/routes"
	"github.com/ahmetcoskunkizilkaya/reelspace-backend/internal/services"
	"github.com/ahmetcoskunkizilkaya/reelspace-backend/internal/sheets"
	"github.com/gofiber/fiber/v2"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
)

func main() {
	cfg := config.Load()

	// Structured logging (JSON to stdout)
	logging.Setup(cfg.Environment)

	if cfg.WebhookSecret == "" {
		if cfg.Environment == "production" {
			slog.Error("SHARED_WEBHOOK_SECRET is required in production")
			os.Exit(1)
		}
		slog.Warn("SHARED_WEBHOOK_SECRET not set: webhook events are trusted without a signature")
	}

	// Database
	if err := database.Connect(cfg); err != nil {
		slog.Error("database connection failed", "error", err)
		os.Exit(1)
	}
	if err := database.Migrate(database.DB); err != nil {
		slog.Error("migration failed", "error", err)
		os.Exit(1)
	}

	// PostgreSQL log handler (ERROR+ async batch)
	pgLogHandler := logging.NewPGHandler(database.DB, 5*time.Second)
	logging.Setup(cfg.Environment, pgLogHandler)

	// Log cleanup
	cleanupDone := make(chan struct{})
	logging.StartCleanup(database.DB, cfg.LogRetentionDays, cleanupDone)

	// External capabilities: Plex access and the Google Sheets ledger mirror.
	// Both are optional; without them payments are still recorded.
	var access services.AccessGranter
	if cfg.PlexConfigured() {
		access = plex.NewClient(plex.Config{
			BaseURL:    cfg.PlexAPIURL,
			Token:      cfg.PlexToken,
			ServerName: cfg.PlexServerName,
		})
	} else {
		slog.Warn("PLEX_TOKEN not set: invites will be recorded as errors")
	}

	var (
		mirror services.LedgerMirror
		sheet  handlers.Spreadsheet
	)
	if cfg.SheetsConfigured() {
		m, err := sheets.FromServiceAccount(context.Background(), cfg.GoogleSheetID, cfg.GoogleServiceAccountJSON, cfg.SheetsWritesPerMinute)
		if err != nil {
			slog.Error("google sheets mirror disabled", "error", err)
		} else {
			mirror, sheet = m, m
		}
	} else {
		slog.Info("google sheets mirror not configured")
	}

	// Services
	paymentService := services.NewPaymentService(database.DB, cfg, access, mirror)
	signupService := services.NewSignupService(database.DB, cfg, access, mirror)
	accessService := services.NewAccessService(database.DB, cfg, access)

	sweepDone := make(chan struct{})
	if cfg.SweepInterval > 0 && access != nil {
		services.StartSweeper(accessService, cfg.SweepInterval, sweepDone)
		slog.Info("overdue sweeper started", "interval", cfg.SweepInterval.String(), "grace_period", cfg.GracePeriod.String())
	}

	// Handlers
	healthHandler := handlers.NewHealthHandler(database.DB)
	webhookHandler := handlers.NewWebhookHandler(paymentService)
	signupHandler := handlers.NewSignupHandler(signupService, cfg)
	adminHandler := handlers.NewAdminHandler(accessService, sheet)

	// Sentry error tracking
	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.SentryDSN,
			EnableTracing:    true,
			TracesSampleRate: 0.2,
			Environment:      cfg.Environment,
		}); err != nil {
			slog.Error("sentry init failed", "error", err)
		} else {
			defer sentry.Flush(2 * time.Second)
		}
	}

	// Fiber app
	app := fiber.New(fiber.Config{
		BodyLimit:    1 * 1024 * 1024,
		ErrorHandler: handlers.ErrorHandler,
	})

	// Sentry middleware
	app.Use(sentryfiber.New(sentryfiber.Options{
		Repanic:         true,
		WaitForDelivery: false,
	}))

	// Global middleware
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(fiberlogger.New(fiberlogger.Config{
		Format: "${time} | ${status} | ${latency} | ${ip} | ${method} | ${path}\n",
	}))
	app.Use(middleware.CORS(cfg))
	app.Use(func(c *fiber.Ctx) error {
		c.Set("X-Content-Type-Options", "nosniff")
		c.Set("X-Frame-Options", "DENY")
		return c.Next()
	})

	// Routes
	routes.Setup(app, cfg, healthHandler, webhookHandler, signupHandler, adminHandler)

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("server starting", "port", cfg.Port, "env", cfg.Environment)
		if err := app.Listen(":" + cfg.Port); err != nil {
			slog.Error("server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	<-quit
	slog.Info("shutting down server...")

	close(sweepDone)
	close(cleanupDone)

	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	pgLogHandler.Stop()
	sentry.Flush(2 * time.Second)

	if err := database.Close(database.DB); err != nil {
		slog.Error("database close error", "error", err)
	}

	slog.Info("server stopped")
}
