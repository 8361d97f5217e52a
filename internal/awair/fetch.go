package awair

import (
	"context"
	"log/slog"
	"time"
)

const (
	// errorRetreat is how far the window end steps back after a
	// generic HTTP failure before retrying.
	errorRetreat = time.Hour
	// stallRetreat forces progress when a page's oldest timestamp did
	// not advance past the current window end.
	stallRetreat = time.Minute
	// boundaryEpsilon keeps the next window from re-fetching the
	// oldest row of the previous page.
	boundaryEpsilon = time.Second
)

// FetchResult is the outcome of one raw API call. Constructed per
// call, consumed by the range loop, never persisted.
type FetchResult struct {
	Success        bool
	Rows           []Reading
	RequestedFrom  time.Time
	RequestedTo    time.Time
	RequestedLimit int

	// Derived, log-only statistics.
	ActualFrom  time.Time
	ActualTo    time.Time
	AvgInterval time.Duration

	// Set when Success is false.
	ErrClass string
	Message  string
}

func (r *FetchResult) computeStats() {
	if len(r.Rows) == 0 {
		return
	}
	min, max := r.Rows[0].Timestamp, r.Rows[0].Timestamp
	for _, row := range r.Rows[1:] {
		if row.Timestamp.Before(min) {
			min = row.Timestamp
		}
		if row.Timestamp.After(max) {
			max = row.Timestamp
		}
	}
	r.ActualFrom, r.ActualTo = min, max
	if n := len(r.Rows); n > 1 {
		r.AvgInterval = max.Sub(min) / time.Duration(n-1)
	}
}

// Sink consumes normalized row batches. A store session satisfies it;
// so does a pass-through writer.
type Sink interface {
	Insert(rows []Reading) (int, error)
}

// RangeFetcher walks a time window backward in adaptively-sized
// chunks, feeding each page's rows to a sink.
type RangeFetcher struct {
	client *Client
	logger *slog.Logger

	// Sleep is a courtesy delay applied before every page request.
	Sleep time.Duration
	// MaxRequests caps the number of API calls; 0 means unbounded.
	MaxRequests int
}

// NewRangeFetcher creates a fetcher over the given client.
func NewRangeFetcher(client *Client, logger *slog.Logger) *RangeFetcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &RangeFetcher{client: client, logger: logger}
}

// FetchRange retrieves all readings in [from, to], newest first, in
// pages of at most limit rows, handing each page to sink. It returns
// the total rows the sink reported inserted.
//
// A 429 aborts the whole operation and surfaces as ErrRateLimited;
// rows inserted before it are already in the sink. Other HTTP errors
// retreat the window end by an hour and continue.
func (f *RangeFetcher) FetchRange(ctx context.Context, from, to time.Time, limit int, sink Sink) (int, error) {
	from, to = from.UTC(), to.UTC()

	totalInserted := 0
	requests := 0
	currentEnd := to

	f.logger.Info("fetching range", "from", from, "to", to, "limit", limit)

	for currentEnd.After(from) {
		if err := f.pause(ctx); err != nil {
			return totalInserted, err
		}
		if f.MaxRequests > 0 && requests >= f.MaxRequests {
			f.logger.Info("request cap reached", "requests", requests)
			break
		}

		res, err := f.client.FetchRaw(ctx, from, currentEnd, limit)
		if err != nil {
			return totalInserted, err
		}
		requests++

		if !res.Success {
			if res.ErrClass == ErrClassRateLimit {
				f.logger.Warn("stopping on rate limit",
					"requests", requests,
					"requested_from", res.RequestedFrom,
					"requested_to", res.RequestedTo,
				)
				return totalInserted, ErrRateLimited
			}
			f.logger.Warn("fetch error, retreating window", "error", res.Message)
			currentEnd = currentEnd.Add(-errorRetreat)
			continue
		}

		f.logResult(res)

		if len(res.Rows) == 0 {
			f.logger.Info("no more data available")
			break
		}

		inserted, err := sink.Insert(res.Rows)
		if err != nil {
			return totalInserted, err
		}
		totalInserted += inserted

		oldest := res.ActualFrom
		if !oldest.Before(currentEnd) {
			// Page made no progress; step back to avoid looping.
			currentEnd = currentEnd.Add(-stallRetreat)
		} else {
			currentEnd = oldest.Add(-boundaryEpsilon)
		}
		f.logger.Debug("next chunk", "window_end", currentEnd)
	}

	f.logger.Info("fetch complete", "requests", requests, "inserted", totalInserted)
	return totalInserted, nil
}

// pause sleeps f.Sleep, honoring context cancellation.
func (f *RangeFetcher) pause(ctx context.Context) error {
	if f.Sleep <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(f.Sleep)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (f *RangeFetcher) logResult(res *FetchResult) {
	attrs := []any{
		"requested_from", res.RequestedFrom,
		"requested_to", res.RequestedTo,
		"limit", res.RequestedLimit,
		"records", len(res.Rows),
	}
	if len(res.Rows) > 0 {
		attrs = append(attrs, "actual_from", res.ActualFrom, "actual_to", res.ActualTo)
	}
	if res.AvgInterval > 0 {
		attrs = append(attrs, "avg_interval", res.AvgInterval.Round(time.Second))
	}
	f.logger.Info("fetched page", attrs...)
}
