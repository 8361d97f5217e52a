// Package collector glues the vendor API client to a reading store.
package collector

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/runsascoded/awair/internal/awair"
	"github.com/runsascoded/awair/internal/store"
)

const (
	// futureBuffer pads the window end past "now" so the newest sample
	// is never excluded by clock skew.
	futureBuffer    = 10 * time.Minute
	defaultLookback = 34 // days
	// staleThreshold is the data age below which no update is needed.
	staleThreshold = 2 * time.Minute
)

// Backfiller fetches historical readings and merges them into a store.
type Backfiller struct {
	client  *awair.Client
	fetcher *awair.RangeFetcher
	store   store.Store
	logger  *slog.Logger

	// Limit is the page size per API request.
	Limit int
}

// NewBackfiller wires a client to a store.
func NewBackfiller(client *awair.Client, s store.Store, logger *slog.Logger) *Backfiller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Backfiller{
		client:  client,
		fetcher: awair.NewRangeFetcher(client, logger),
		store:   s,
		logger:  logger,
		Limit:   360,
	}
}

// Fetcher exposes the underlying range fetcher for pacing and request
// cap tuning.
func (b *Backfiller) Fetcher() *awair.RangeFetcher {
	return b.fetcher
}

// storeSink adapts a Store to the fetcher's per-page sink.
type storeSink struct {
	ctx   context.Context
	store store.Store
}

func (s storeSink) Insert(rows []awair.Reading) (int, error) {
	return s.store.Insert(s.ctx, rows)
}

// Backfill walks [from, to] backwards, merging each page into the
// store. It returns the growth in record count. A rate-limit stop
// surfaces as awair.ErrRateLimited with a partial count; already
// merged pages stay merged.
func (b *Backfiller) Backfill(ctx context.Context, from, to time.Time) (int, error) {
	b.logger.Info("backfilling",
		"from", from.Format(time.RFC3339),
		"to", to.Format(time.RFC3339),
	)
	total, err := b.fetcher.FetchRange(ctx, from, to, b.Limit, storeSink{ctx: ctx, store: b.store})
	if err != nil {
		return total, err
	}
	b.logger.Info("backfill complete", "new_records", total)
	return total, nil
}

// DetectAndFill fetches only what is missing: from the latest stored
// timestamp (or lookbackDays ago on an empty store) up to now plus a
// small future buffer. Data younger than two minutes needs nothing.
func (b *Backfiller) DetectAndFill(ctx context.Context, lookbackDays int) (int, error) {
	if lookbackDays <= 0 {
		lookbackDays = defaultLookback
	}

	latest, err := b.store.LatestTimestamp(ctx)
	if err != nil {
		return 0, fmt.Errorf("getting latest timestamp: %w", err)
	}

	now := time.Now().UTC()
	var from time.Time
	switch {
	case latest.IsZero():
		from = now.AddDate(0, 0, -lookbackDays)
		b.logger.Info("no existing data, backfilling from scratch", "days", lookbackDays)
	case now.Sub(latest) > staleThreshold:
		from = latest
		b.logger.Info("gap detected, backfilling", "gap_since", latest.Format(time.RFC3339))
	default:
		b.logger.Info("data is current, no backfill needed")
		return 0, nil
	}

	return b.Backfill(ctx, from, now.Add(futureBuffer))
}
