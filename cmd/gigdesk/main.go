package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.io/infrasutra/gigdesk/internal/config"
	"github.io/infrasutra/gigdesk/internal/store"
)

var version = "dev"

var (
	cfg    config.Config
	db     *store.Store
	logger *slog.Logger

	jsonOutput bool
)

var rootCmd = &cobra.Command{
	Use:   "gigdesk",
	Short: "Booking inbox sync and calendar export",
	Long: `gigdesk pulls booking conversations from configured inboxes, threads them,
links them to bookings and serves the result over HTTP.

Configuration comes from the environment (or a .env file) and the inbox
list from INBOXES_FILE.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "version" {
			return nil
		}
		_ = godotenv.Load()
		cfg = config.Load()
		logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))

		inboxes, err := config.LoadInboxes(cfg.InboxesFile)
		if err != nil {
			return fmt.Errorf("load inboxes: %w", err)
		}
		cfg.Inboxes = inboxes

		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		db, err = store.Open(ctx, cfg.DBDriver, cfg.DBPath)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		if err := db.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if db != nil {
			db.Close()
		}
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the gigdesk version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), "gigdesk", version)
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
