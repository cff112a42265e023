package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Database
	DatabaseURL string
	DBHost      string
	DBPort      string
	DBUser      string
	DBPassword  string
	DBName      string
	DBSSLMode   string

	// Webhook authentication. Empty means every event is trusted.
	WebhookSecret string

	// Billing
	DefaultPlanName      string
	DefaultPlanPrice     float64
	ReferralCreditAmount float64
	BillingCycle         time.Duration
	WaveCheckoutURL      string

	// Plex
	PlexToken      string
	PlexServerName string
	PlexAPIURL     string

	// Google Sheets ledger mirror
	GoogleServiceAccountJSON string
	GoogleSheetID            string
	SheetsWritesPerMinute    int

	// Access sweep
	SweepInterval time.Duration
	GracePeriod   time.Duration

	// Admin
	AdminEmails    string
	AdminToken     string
	AdminTokenHash string
	AdminJWTSecret string

	// Server
	Port             string
	CORSOrigins      string
	LogRetentionDays int
	SentryDSN        string
	Environment      string
}

// Load reads an optional .env file and then the process environment.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		DatabaseURL: getEnv("DATABASE_URL", ""),
		DBHost:      getEnv("DB_HOST", "localhost"),
		DBPort:      getEnv("DB_PORT", "5432"),
		DBUser:      getEnv("DB_USER", "postgres"),
		DBPassword:  getEnv("DB_PASSWORD", ""),
		DBName:      getEnv("DB_NAME", "reelspace"),
		DBSSLMode:   getEnv("DB_SSLMODE", "disable"),

		WebhookSecret: getEnv("SHARED_WEBHOOK_SECRET", ""),

		DefaultPlanName:      getEnv("DEFAULT_PLAN_NAME", "Standard"),
		DefaultPlanPrice:     parseFloat(getEnv("DEFAULT_PLAN_PRICE", "9.00"), 9.00),
		ReferralCreditAmount: parseFloat(getEnv("REFERRAL_CREDIT_AMOUNT", "2.00"), 2.00),
		BillingCycle:         time.Duration(parseInt(getEnv("BILLING_CYCLE_DAYS", "30"), 30)) * 24 * time.Hour,
		WaveCheckoutURL:      getEnv("WAVE_CHECKOUT_URL", "https://link.waveapps.com/kbsw8p-n6f972"),

		PlexToken:      getEnv("PLEX_TOKEN", ""),
		PlexServerName: getEnv("PLEX_SERVER_NAME", "REELSPACE"),
		PlexAPIURL:     getEnv("PLEX_API_URL", "https://plex.tv"),

		GoogleServiceAccountJSON: getEnv("GOOGLE_SERVICE_ACCOUNT_JSON", ""),
		GoogleSheetID:            getEnv("GOOGLE_SHEET_ID", ""),
		SheetsWritesPerMinute:    parseInt(getEnv("SHEETS_WRITES_PER_MINUTE", "60"), 60),

		SweepInterval: parseDuration(getEnv("SWEEP_INTERVAL", "0s"), 0),
		GracePeriod:   parseDuration(getEnv("GRACE_PERIOD", "72h"), 72*time.Hour),

		AdminEmails:    getEnv("ADMIN_EMAILS", ""),
		AdminToken:     getEnv("ADMIN_TOKEN", ""),
		AdminTokenHash: getEnv("ADMIN_TOKEN_HASH", ""),
		AdminJWTSecret: getEnv("ADMIN_JWT_SECRET", ""),

		Port: getEnv("PORT", "8080"),
		CORSOrigins: getEnv("CORS_ORIGINS",
			"https://reelspace.watch, https://www.reelspace.watch, https://reelspace.pages.dev, http://localhost:3000, http://127.0.0.1:3000"),
		LogRetentionDays: parseInt(getEnv("LOG_RETENTION_DAYS", "30"), 30),
		SentryDSN:        getEnv("SENTRY_DSN", ""),
		Environment:      getEnv("APP_ENV", "development"),
	}
}

// DSN prefers DATABASE_URL and falls back to the discrete DB_* settings.
func (c *Config) DSN() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	return "host=" + c.DBHost +
		" user=" + c.DBUser +
		" password=" + c.DBPassword +
		" dbname=" + c.DBName +
		" port=" + c.DBPort +
		" sslmode=" + c.DBSSLMode +
		" TimeZone=UTC"
}

func (c *Config) PlexConfigured() bool {
	return c.PlexToken != "" && c.PlexServerName != ""
}

func (c *Config) SheetsConfigured() bool {
	return c.GoogleServiceAccountJSON != "" && c.GoogleSheetID != ""
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

func parseFloat(s string, fallback float64) float64 {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fallback
	}
	return f
}

func parseInt(s string, fallback int) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return fallback
	}
	return n
}
