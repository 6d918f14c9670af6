package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"meetbook/internal/app"
	"meetbook/internal/config"
	"meetbook/internal/logging"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "meetbook",
	Short: "Meeting room reservations with conflict detection and soft locks.",
	Long: `meetbook keeps a ledger of meeting room bookings, recurring reservations
and short-lived holds, and serves them over an HTTP API.`,
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	defaultConfig := os.Getenv("MEETBOOK_CONFIG")
	if defaultConfig == "" {
		defaultConfig = "configs/config.yaml"
	}
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", defaultConfig, "config file path")

	rootCmd.AddCommand(NewServeCommand())
	rootCmd.AddCommand(NewSyncCatalogCommand())
	rootCmd.AddCommand(NewExportCommand())
	rootCmd.AddCommand(NewSweepCommand())
}

// bootstrap loads the config, builds the logger and opens the ledger.
func bootstrap(ctx context.Context, cmd *cobra.Command) (*app.App, *zerolog.Logger, error) {
	path, err := cmd.Root().PersistentFlags().GetString("config")
	if err != nil {
		return nil, nil, err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	logger := logging.New(cfg.Log)
	a, err := app.Build(ctx, cfg, &logger)
	if err != nil {
		return nil, &logger, err
	}
	return a, &logger, nil
}
