package cmd

import (
	"context"
	"errors"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/runsascoded/awair/internal/api"
	"github.com/runsascoded/awair/internal/awair"
	"github.com/runsascoded/awair/internal/collector"
	"github.com/runsascoded/awair/internal/config"
	"github.com/runsascoded/awair/internal/store"
	"github.com/runsascoded/awair/internal/updater"
)

var (
	listenAddr    string
	storageDriver string
	noUpdate      bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the REST API and keep the archive current",
	Long: `serve runs the HTTP API over a SQLite or PostgreSQL archive and
periodically tops it up from the cloud API. The parquet driver is
session-based and not suitable for a long-running server; use sqlite
or postgres here.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&listenAddr, "listen", "", "HTTP listen address (overrides config)")
	serveCmd.Flags().StringVar(&storageDriver, "storage-driver", "", "storage driver (overrides config)")
	serveCmd.Flags().BoolVar(&noUpdate, "no-update", false, "disable the periodic update loop")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	setupLogging()

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	// Apply flag overrides.
	if listenAddr != "" {
		cfg.ListenAddr = listenAddr
	}
	if storageDriver != "" {
		cfg.Storage.Driver = storageDriver
	}
	if cfg.Storage.Driver == "parquet" {
		return errors.New("serve requires the sqlite or postgres storage driver")
	}

	slog.Info("starting awair server",
		"listen_addr", cfg.ListenAddr,
		"storage_driver", cfg.Storage.Driver,
		"device_id", cfg.Device.ID,
	)

	var s store.Store
	var displayPath string
	switch cfg.Storage.Driver {
	case "sqlite":
		s, err = store.NewSQLiteStore(cfg.Storage.SQLite.Path, cfg.ConflictPolicy(), slog.Default())
		displayPath = cfg.Storage.SQLite.Path
	case "postgres":
		s, err = store.NewPostgresStore(cfg.Storage.Postgres.DSN, cfg.ConflictPolicy(), slog.Default())
		displayPath = redactDSN(cfg.Storage.Postgres.DSN)
	}
	if err != nil {
		return err
	}
	defer s.Close() //nolint:errcheck

	slog.Info("database ready", "driver", cfg.Storage.Driver)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	client, err := awair.NewClient(cfg.Device.Token, cfg.Device.Type, cfg.Device.ID)
	if err != nil {
		return err
	}

	b := collector.NewBackfiller(client, s, slog.Default())
	b.Limit = cfg.Fetch.Limit
	b.Fetcher().Sleep = cfg.Fetch.Sleep

	upd := updater.New(b, slog.Default())
	upd.Interval = cfg.Update.Interval
	upd.LookbackDays = cfg.Update.LookbackDays

	srv := api.NewServer(s, slog.Default())
	srv.SetVersion(Version)
	srv.SetStorageInfo(cfg.Storage.Driver, displayPath)

	slog.Info("awair server ready", "addr", cfg.ListenAddr)

	g, gctx := errgroup.WithContext(ctx)
	if !noUpdate {
		g.Go(func() error { return upd.Run(gctx) })
	}
	g.Go(func() error { return srv.ListenAndServe(gctx, cfg.ListenAddr) })

	waitErr := g.Wait()
	if waitErr != nil && !errors.Is(waitErr, context.Canceled) {
		slog.Error("awair server exited with error", "error", waitErr)
	}

	// Always run graceful cleanup, even on error.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	_ = srv.Shutdown(shutdownCtx)
	_ = s.Close()

	slog.Info("awair server shutdown complete")
	if waitErr != nil && !errors.Is(waitErr, context.Canceled) {
		return waitErr
	}
	return nil
}
