// Package updater keeps a dataset current: a periodic loop for the
// serve daemon and a handler for scheduled Lambda invocations.
package updater

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/runsascoded/awair/internal/awair"
	"github.com/runsascoded/awair/internal/collector"
	"github.com/runsascoded/awair/internal/store"
)

// Updater periodically tops up a store with recent readings.
type Updater struct {
	backfiller *collector.Backfiller
	logger     *slog.Logger

	Interval     time.Duration
	LookbackDays int
}

// New creates an Updater over an existing backfiller.
func New(b *collector.Backfiller, logger *slog.Logger) *Updater {
	if logger == nil {
		logger = slog.Default()
	}
	return &Updater{
		backfiller:   b,
		logger:       logger,
		Interval:     10 * time.Minute,
		LookbackDays: 34,
	}
}

// RunOnce performs a single update pass. A rate-limit stop is logged
// and not treated as a failure; whatever was merged stays merged.
func (u *Updater) RunOnce(ctx context.Context) (int, error) {
	added, err := u.backfiller.DetectAndFill(ctx, u.LookbackDays)
	if errors.Is(err, awair.ErrRateLimited) {
		u.logger.Warn("update stopped by rate limit", "new_records", added)
		return added, nil
	}
	return added, err
}

// Run updates on the configured interval until the context ends. The
// first pass runs immediately.
func (u *Updater) Run(ctx context.Context) error {
	ticker := time.NewTicker(u.Interval)
	defer ticker.Stop()

	for {
		if added, err := u.RunOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			u.logger.Error("update failed", "error", err)
		} else if added > 0 {
			u.logger.Info("update complete", "new_records", added)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// SessionStore is a store whose mutations persist on Close and can be
// abandoned with Discard. Both parquet stores satisfy it.
type SessionStore interface {
	store.Store
	Discard()
}

// UpdateSession runs one update pass against a fresh session store and
// closes it. On an insert failure the session is discarded so a
// partial merge never reaches the backing file.
func UpdateSession(ctx context.Context, client *awair.Client, s SessionStore, lookbackDays int, logger *slog.Logger) (int, error) {
	if logger == nil {
		logger = slog.Default()
	}
	b := collector.NewBackfiller(client, s, logger)
	u := New(b, logger)
	u.LookbackDays = lookbackDays

	added, err := u.RunOnce(ctx)
	if err != nil {
		s.Discard()
		return added, err
	}
	if err := s.Close(); err != nil {
		return added, err
	}
	return added, nil
}
