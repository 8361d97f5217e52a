package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Version is set at build time via -ldflags.
var Version = "dev"

var (
	cfgFile   string
	logFormat string
)

var rootCmd = &cobra.Command{
	Use:   "awair",
	Short: "Backfill, store, and serve Awair air-quality data",
	Long: `awair fetches 1-minute resolution air-quality readings (temperature, CO2,
PM10, PM2.5, humidity, VOC) from the Awair cloud API, merges them
idempotently into parquet, SQLite, or PostgreSQL storage, and exposes a
REST API for querying the archive.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "json", "log format (text or json)")
}

func setupLogging() {
	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}

	if logFormat == "text" {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
