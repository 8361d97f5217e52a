package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/runsascoded/awair/internal/awair"
)

// ConflictPolicy controls what happens when two readings share a
// timestamp but disagree on sensor values.
type ConflictPolicy string

const (
	// ConflictWarn logs the mismatch and keeps the first-seen values.
	ConflictWarn ConflictPolicy = "warn"
	// ConflictError aborts the insert.
	ConflictError ConflictPolicy = "error"
	// ConflictReplace keeps the last-seen values.
	ConflictReplace ConflictPolicy = "replace"
)

// ParseConflictPolicy validates a policy string, defaulting to warn.
func ParseConflictPolicy(s string) (ConflictPolicy, error) {
	switch ConflictPolicy(strings.ToLower(s)) {
	case "":
		return ConflictWarn, nil
	case ConflictWarn:
		return ConflictWarn, nil
	case ConflictError:
		return ConflictError, nil
	case ConflictReplace:
		return ConflictReplace, nil
	}
	return "", fmt.Errorf("conflict policy must be warn, error, or replace, got %q", s)
}

// ConflictErr describes two observations disagreeing at the same
// timestamp.
type ConflictErr struct {
	Timestamp time.Time
	Fields    []string
}

func (e *ConflictErr) Error() string {
	return fmt.Sprintf("data conflict at timestamp %s: %s",
		e.Timestamp.Format("2006-01-02T15:04:05"), strings.Join(e.Fields, ", "))
}

// Summary describes the persisted dataset. SizeBytes comes from the
// backing medium (file or object), independent of in-memory state.
type Summary struct {
	Count     int        `json:"count"`
	Earliest  *time.Time `json:"earliest,omitempty"`
	Latest    *time.Time `json:"latest,omitempty"`
	SizeBytes int64      `json:"size_bytes"`
}

// Store is the interface all reading stores satisfy: the session-based
// parquet stores as well as the SQLite and Postgres backends.
type Store interface {
	// Insert merges rows, resolving timestamp collisions under the
	// configured conflict policy. Returns the growth in record count
	// (never negative).
	Insert(ctx context.Context, rows []awair.Reading) (int, error)

	// LatestTimestamp returns the newest stored timestamp, or the zero
	// time if the store is empty.
	LatestTimestamp(ctx context.Context) (time.Time, error)

	// RecordCount returns the total number of stored readings.
	RecordCount(ctx context.Context) (int, error)

	// Summary returns count, time range, and backing-medium size.
	Summary(ctx context.Context) (*Summary, error)

	// ReadAll returns every reading, sorted ascending by timestamp.
	ReadAll(ctx context.Context) ([]awair.Reading, error)

	// Close releases resources. Session stores persist pending
	// mutations here.
	Close() error
}

// mergeRows folds rows into buf keyed by unix-millisecond timestamp,
// applying the conflict policy. It returns the buffer growth and
// whether any existing row was overwritten (replace policy).
func mergeRows(buf map[int64]awair.Reading, rows []awair.Reading, policy ConflictPolicy, warn func(*ConflictErr)) (grown int, replaced bool, err error) {
	for _, r := range rows {
		r.Timestamp = r.Timestamp.UTC()
		key := r.Timestamp.UnixMilli()

		existing, ok := buf[key]
		if !ok {
			buf[key] = r
			grown++
			continue
		}
		diffs := existing.Diff(r)
		if len(diffs) == 0 {
			// Exact duplicate; always collapses.
			continue
		}
		conflict := &ConflictErr{Timestamp: r.Timestamp, Fields: diffs}
		switch policy {
		case ConflictError:
			return grown, replaced, conflict
		case ConflictReplace:
			buf[key] = r
			replaced = true
		default: // warn: keep first-seen
			if warn != nil {
				warn(conflict)
			}
		}
	}
	return grown, replaced, nil
}
