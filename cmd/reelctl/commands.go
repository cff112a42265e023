package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/ahmetcoskunkizilkaya/reelspace-backend/internal/config"
	"github.com/ahmetcoskunkizilkaya/reelspace-backend/internal/database"
	"github.com/ahmetcoskunkizilkaya/reelspace-backend/internal/logging"
	"github.com/ahmetcoskunkizilkaya/reelspace-backend/internal/plex"
	"github.com/ahmetcoskunkizilkaya/reelspace-backend/internal/services"
	"github.com/ahmetcoskunkizilkaya/reelspace-backend/internal/sheets"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

// loadConfig and connect are replaced in tests.
var (
	loadConfig = config.Load
	connect    = connectLedger
)

// connectLedger loads configuration and opens the ledger database.
func connectLedger() (*config.Config, *gorm.DB, error) {
	cfg := loadConfig()
	logging.Setup(cfg.Environment)
	if err := database.Connect(cfg); err != nil {
		return nil, nil, err
	}
	return cfg, database.DB, nil
}

func accessService(cfg *config.Config, db *gorm.DB) *services.AccessService {
	var access services.AccessGranter
	if cfg.PlexConfigured() {
		access = plex.NewClient(plex.Config{
			BaseURL:    cfg.PlexAPIURL,
			Token:      cfg.PlexToken,
			ServerName: cfg.PlexServerName,
		})
	}
	return services.NewAccessService(db, cfg, access)
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the ledger tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, db, err := connect()
			if err != nil {
				return err
			}
			defer database.Close(db)

			if err := database.Migrate(db); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migration complete")
			return nil
		},
	}
}

func sweepCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Revoke Plex access for users past their due date and grace period",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, db, err := connect()
			if err != nil {
				return err
			}
			defer database.Close(db)

			grace := cfg.GracePeriod
			if cmd.Flags().Changed("grace") {
				grace, _ = cmd.Flags().GetDuration("grace")
			}
			res, err := accessService(cfg, db).SweepOverdueAfter(cmd.Context(), grace)
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		},
	}

	cmd.Flags().Duration("grace", 0, "Grace period for this run (default GRACE_PERIOD)")

	return cmd
}

func revokeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke [email]",
		Short: "Remove a user's Plex access and mark them lapsed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, db, err := connect()
			if err != nil {
				return err
			}
			defer database.Close(db)

			removed, err := accessService(cfg, db).Revoke(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s revoked (removed from Plex: %t)\n", services.NormalizeEmail(args[0]), removed)
			return nil
		},
	}
}

func userCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "user [email]",
		Short: "Show a user with their payments and invites",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, db, err := connect()
			if err != nil {
				return err
			}
			defer database.Close(db)

			detail, err := services.NewAccessService(db, cfg, nil).UserDetail(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, detail)
		},
	}
}

func sheetsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sheets",
		Short: "List worksheet tabs to confirm the Google Sheets connection",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()
			m, err := sheets.FromServiceAccount(cmd.Context(), cfg.GoogleSheetID, cfg.GoogleServiceAccountJSON, cfg.SheetsWritesPerMinute)
			if err != nil {
				return err
			}
			titles, err := m.Worksheets(cmd.Context())
			if err != nil {
				return err
			}
			for _, t := range titles {
				fmt.Fprintln(cmd.OutOrStdout(), t)
			}
			return nil
		},
	}
}

func pruneLogsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prune-logs",
		Short: "Delete system_logs rows older than the retention window",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, db, err := connect()
			if err != nil {
				return err
			}
			defer database.Close(db)

			days, _ := cmd.Flags().GetInt("days")
			if days <= 0 {
				days = cfg.LogRetentionDays
			}
			deleted, err := logging.Purge(db, time.Now().AddDate(0, 0, -days))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d log rows older than %d days\n", deleted, days)
			return nil
		},
	}

	cmd.Flags().Int("days", 0, "Retention in days (default LOG_RETENTION_DAYS)")

	return cmd
}
