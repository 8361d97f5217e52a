package cmd

import (
	"context"
	"log/slog"
	"net/url"

	"github.com/runsascoded/awair/internal/config"
	"github.com/runsascoded/awair/internal/store"
)

// openStore opens the configured storage backend. dataPath, when
// non-empty, overrides the configured parquet path. The returned
// display string is safe to log.
func openStore(ctx context.Context, cfg *config.Config, dataPath string) (store.Store, string, error) {
	policy := cfg.ConflictPolicy()
	logger := slog.Default()

	switch cfg.Storage.Driver {
	case "sqlite":
		s, err := store.NewSQLiteStore(cfg.Storage.SQLite.Path, policy, logger)
		return s, cfg.Storage.SQLite.Path, err
	case "postgres":
		s, err := store.NewPostgresStore(cfg.Storage.Postgres.DSN, policy, logger)
		return s, redactDSN(cfg.Storage.Postgres.DSN), err
	default:
		path := cfg.Storage.Parquet.Path
		if dataPath != "" {
			path = dataPath
		}
		if cfg.Storage.Parquet.Monthly {
			s, err := store.OpenMonthly(ctx, path, policy, logger)
			return s, store.MonthlyBase(path) + "/", err
		}
		s, err := store.OpenParquet(ctx, path, policy, logger)
		return s, path, err
	}
}

// discardIfSession abandons pending session writes after a failure.
func discardIfSession(s store.Store) {
	type discarder interface{ Discard() }
	if d, ok := s.(discarder); ok {
		d.Discard()
	}
}

// redactDSN masks the password in a PostgreSQL DSN for safe display.
func redactDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return dsn
	}
	if u.User != nil {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}
