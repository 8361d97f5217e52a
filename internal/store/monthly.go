package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/runsascoded/awair/internal/awair"
)

const monthLayout = "2006-01"

// monthShard is one calendar month's worth of readings.
type monthShard struct {
	buf   map[int64]awair.Reading
	dirty bool
}

// MonthlyParquetStore shards readings into one parquet file per
// calendar month under a base directory ({base}/2025-07.parquet).
// Like ParquetStore it is a session: shards load on open and dirty
// months rewrite on close.
type MonthlyParquetStore struct {
	base    string
	policy  ConflictPolicy
	logger  *slog.Logger
	backend objectBackend

	shards map[string]*monthShard
	closed bool

	rowGroupSize int
}

// MonthlyBase derives the shard directory from a dataset path: a
// trailing .parquet is stripped, so "data/air.parquet" shards under
// "data/air/".
func MonthlyBase(p string) string {
	return strings.TrimSuffix(p, ".parquet")
}

// OpenMonthly starts a session over every monthly shard under base.
func OpenMonthly(ctx context.Context, base string, policy ConflictPolicy, logger *slog.Logger, opts ...ParquetOption) (*MonthlyParquetStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	// Options are shared with ParquetStore; apply them via a scratch
	// receiver.
	scratch := &ParquetStore{rowGroupSize: DefaultRowGroupSize}
	for _, opt := range opts {
		opt(scratch)
	}
	s := &MonthlyParquetStore{
		base:         MonthlyBase(base),
		policy:       policy,
		logger:       logger,
		backend:      scratch.backend,
		shards:       make(map[string]*monthShard),
		rowGroupSize: scratch.rowGroupSize,
	}
	if s.backend == nil {
		b, err := newBackend(ctx, s.base)
		if err != nil {
			return nil, err
		}
		s.backend = b
	}

	paths, err := s.backend.List(ctx, s.base)
	if err != nil {
		return nil, err
	}
	for _, p := range paths {
		month, ok := monthFromPath(p)
		if !ok {
			continue
		}
		data, err := s.backend.Read(ctx, p)
		if err != nil {
			return nil, err
		}
		readings, err := decodeParquet(data)
		if err != nil {
			return nil, fmt.Errorf("shard %s: %w", p, err)
		}
		shard := &monthShard{buf: make(map[int64]awair.Reading, len(readings))}
		for _, r := range readings {
			shard.buf[r.Timestamp.UTC().UnixMilli()] = r
		}
		s.shards[month] = shard
	}
	return s, nil
}

// monthFromPath extracts "2025-07" from ".../2025-07.parquet".
func monthFromPath(p string) (string, bool) {
	name := strings.TrimSuffix(path.Base(filepath.ToSlash(p)), ".parquet")
	if _, err := time.Parse(monthLayout, name); err != nil {
		return "", false
	}
	return name, true
}

func (s *MonthlyParquetStore) shardFor(month string) *monthShard {
	shard, ok := s.shards[month]
	if !ok {
		shard = &monthShard{buf: make(map[int64]awair.Reading)}
		s.shards[month] = shard
	}
	return shard
}

func (s *MonthlyParquetStore) shardPath(month string) string {
	if IsS3Path(s.base) {
		return strings.TrimSuffix(s.base, "/") + "/" + month + ".parquet"
	}
	return filepath.Join(s.base, month+".parquet")
}

// Insert routes rows to their month's shard and merges each batch
// under the conflict policy.
func (s *MonthlyParquetStore) Insert(_ context.Context, rows []awair.Reading) (int, error) {
	if len(rows) == 0 || s.closed {
		return 0, nil
	}
	byMonth := make(map[string][]awair.Reading)
	for _, r := range rows {
		month := r.Timestamp.UTC().Format(monthLayout)
		byMonth[month] = append(byMonth[month], r)
	}
	total := 0
	for month, batch := range byMonth {
		shard := s.shardFor(month)
		grown, replaced, err := mergeRows(shard.buf, batch, s.policy, func(c *ConflictErr) {
			s.logger.Warn("data conflict, keeping existing values",
				"timestamp", c.Timestamp, "fields", c.Fields, "shard", month)
		})
		if err != nil {
			return total, err
		}
		if grown > 0 || replaced {
			shard.dirty = true
		}
		total += grown
	}
	return total, nil
}

// LatestTimestamp returns the newest timestamp across all shards.
func (s *MonthlyParquetStore) LatestTimestamp(context.Context) (time.Time, error) {
	var latest time.Time
	for _, shard := range s.shards {
		for _, r := range shard.buf {
			if r.Timestamp.After(latest) {
				latest = r.Timestamp
			}
		}
	}
	return latest, nil
}

// RecordCount returns the record count across all shards.
func (s *MonthlyParquetStore) RecordCount(context.Context) (int, error) {
	n := 0
	for _, shard := range s.shards {
		n += len(shard.buf)
	}
	return n, nil
}

// Summary aggregates count, range, and shard file sizes.
func (s *MonthlyParquetStore) Summary(ctx context.Context) (*Summary, error) {
	sum := &Summary{}
	for month, shard := range s.shards {
		sum.Count += len(shard.buf)
		for _, r := range shard.buf {
			ts := r.Timestamp
			if sum.Earliest == nil || ts.Before(*sum.Earliest) {
				t := ts
				sum.Earliest = &t
			}
			if sum.Latest == nil || ts.After(*sum.Latest) {
				t := ts
				sum.Latest = &t
			}
		}
		size, err := s.backend.Size(ctx, s.shardPath(month))
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return nil, err
		}
		sum.SizeBytes += size
	}
	return sum, nil
}

// ReadAll returns every reading across all shards, sorted ascending.
func (s *MonthlyParquetStore) ReadAll(context.Context) ([]awair.Reading, error) {
	merged := make(map[int64]awair.Reading)
	for _, shard := range s.shards {
		for k, r := range shard.buf {
			merged[k] = r
		}
	}
	return sortedReadings(merged), nil
}

// Months lists shard months present in the session, sorted ascending.
func (s *MonthlyParquetStore) Months() []string {
	months := make([]string, 0, len(s.shards))
	for m := range s.shards {
		months = append(months, m)
	}
	sort.Strings(months)
	return months
}

// Close rewrites every dirty shard.
func (s *MonthlyParquetStore) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	defer func() { s.shards = nil }()

	for _, month := range s.Months() {
		shard := s.shards[month]
		if !shard.dirty {
			continue
		}
		data, err := encodeParquet(sortedReadings(shard.buf), s.rowGroupSize)
		if err != nil {
			return fmt.Errorf("shard %s: %w", month, err)
		}
		p := s.shardPath(month)
		if err := s.backend.Write(context.Background(), p, data); err != nil {
			return fmt.Errorf("shard %s: %w", month, err)
		}
		s.logger.Info("wrote shard", "path", p, "records", len(shard.buf))
	}
	return nil
}

// Discard drops all shard buffers without writing.
func (s *MonthlyParquetStore) Discard() {
	s.closed = true
	s.shards = nil
}
