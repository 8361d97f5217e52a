package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/runsascoded/awair/internal/awair"
)

// readingRow is the parquet row shape. Struct field order fixes the
// on-disk column order: timestamp, temp, co2, pm10, pm25, humid, voc.
// Timestamps are UTC unix milliseconds.
type readingRow struct {
	Timestamp int64   `parquet:"timestamp"`
	Temp      float64 `parquet:"temp"`
	CO2       float64 `parquet:"co2"`
	PM10      float64 `parquet:"pm10"`
	PM25      float64 `parquet:"pm25"`
	Humid     float64 `parquet:"humid"`
	VOC       float64 `parquet:"voc"`
}

func toRow(r awair.Reading) readingRow {
	return readingRow{
		Timestamp: r.Timestamp.UTC().UnixMilli(),
		Temp:      r.Temp,
		CO2:       r.CO2,
		PM10:      r.PM10,
		PM25:      r.PM25,
		Humid:     r.Humid,
		VOC:       r.VOC,
	}
}

func fromRow(row readingRow) awair.Reading {
	return awair.Reading{
		Timestamp: time.UnixMilli(row.Timestamp).UTC(),
		Temp:      row.Temp,
		CO2:       row.CO2,
		PM10:      row.PM10,
		PM25:      row.PM25,
		Humid:     row.Humid,
		VOC:       row.VOC,
	}
}

// DefaultRowGroupSize targets ~3.5 days of 1-minute samples per row
// group, which keeps monthly shards at a cache-friendly granularity.
const DefaultRowGroupSize = 5000

func decodeParquet(data []byte) ([]awair.Reading, error) {
	if len(data) == 0 {
		return nil, nil
	}
	rows, err := parquet.Read[readingRow](bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("reading parquet: %w", err)
	}
	readings := make([]awair.Reading, len(rows))
	for i, row := range rows {
		readings[i] = fromRow(row)
	}
	return readings, nil
}

func encodeParquet(readings []awair.Reading, rowGroupSize int) ([]byte, error) {
	if rowGroupSize <= 0 {
		rowGroupSize = DefaultRowGroupSize
	}
	rows := make([]readingRow, len(readings))
	for i, r := range readings {
		rows[i] = toRow(r)
	}
	var buf bytes.Buffer
	err := parquet.Write(&buf, rows,
		parquet.Compression(&parquet.Zstd),
		parquet.MaxRowsPerRowGroup(int64(rowGroupSize)),
	)
	if err != nil {
		return nil, fmt.Errorf("writing parquet: %w", err)
	}
	return buf.Bytes(), nil
}

// sortedReadings flattens a timestamp-keyed buffer into ascending
// timestamp order.
func sortedReadings(buf map[int64]awair.Reading) []awair.Reading {
	out := make([]awair.Reading, 0, len(buf))
	for _, r := range buf {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}

// ParquetStore is a session over one columnar file. Open loads the
// whole dataset into memory; Close sorts and rewrites the file if any
// insert mutated it. There is no locking: one session per path.
type ParquetStore struct {
	path    string
	policy  ConflictPolicy
	logger  *slog.Logger
	backend objectBackend

	buf    map[int64]awair.Reading
	dirty  bool
	closed bool

	rowGroupSize int
}

// ParquetOption configures a ParquetStore.
type ParquetOption func(*ParquetStore)

// WithRowGroupSize overrides the parquet row group size.
func WithRowGroupSize(n int) ParquetOption {
	return func(s *ParquetStore) { s.rowGroupSize = n }
}

// OpenParquet starts a session against path (local or s3://). An
// absent file is an empty dataset; any other read failure propagates.
func OpenParquet(ctx context.Context, path string, policy ConflictPolicy, logger *slog.Logger, opts ...ParquetOption) (*ParquetStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &ParquetStore{
		path:         path,
		policy:       policy,
		logger:       logger,
		rowGroupSize: DefaultRowGroupSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.backend == nil {
		b, err := newBackend(ctx, path)
		if err != nil {
			return nil, err
		}
		s.backend = b
	}

	s.buf = make(map[int64]awair.Reading)
	data, err := s.backend.Read(ctx, path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		// Empty dataset.
	case err != nil:
		return nil, err
	default:
		readings, err := decodeParquet(data)
		if err != nil {
			return nil, err
		}
		for _, r := range readings {
			s.buf[r.Timestamp.UTC().UnixMilli()] = r
		}
	}
	return s, nil
}

// Path returns the backing path.
func (s *ParquetStore) Path() string { return s.path }

// Insert merges rows into the session buffer. On a ConflictErr under
// the error policy the session is left undefined and must be
// discarded.
func (s *ParquetStore) Insert(_ context.Context, rows []awair.Reading) (int, error) {
	if len(rows) == 0 || s.buf == nil || s.closed {
		return 0, nil
	}
	grown, replaced, err := s.mergeWarned(s.buf, rows)
	if err != nil {
		return 0, err
	}
	if grown > 0 || replaced {
		s.dirty = true
	}
	return grown, nil
}

func (s *ParquetStore) mergeWarned(buf map[int64]awair.Reading, rows []awair.Reading) (int, bool, error) {
	return mergeRows(buf, rows, s.policy, func(c *ConflictErr) {
		s.logger.Warn("data conflict, keeping existing values",
			"timestamp", c.Timestamp, "fields", c.Fields)
	})
}

// LatestTimestamp returns the newest buffered timestamp.
func (s *ParquetStore) LatestTimestamp(context.Context) (time.Time, error) {
	var latest time.Time
	for _, r := range s.buf {
		if r.Timestamp.After(latest) {
			latest = r.Timestamp
		}
	}
	return latest, nil
}

// RecordCount returns the buffered record count.
func (s *ParquetStore) RecordCount(context.Context) (int, error) {
	return len(s.buf), nil
}

// Summary reports count and range from the buffer and size from the
// backing medium.
func (s *ParquetStore) Summary(ctx context.Context) (*Summary, error) {
	sum := &Summary{Count: len(s.buf)}
	for _, r := range s.buf {
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
	size, err := s.backend.Size(ctx, s.path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	sum.SizeBytes = size
	return sum, nil
}

// ReadAll returns the buffered readings sorted ascending.
func (s *ParquetStore) ReadAll(context.Context) ([]awair.Reading, error) {
	return sortedReadings(s.buf), nil
}

// Close ends the session, rewriting the whole file (sorted, unique
// timestamps) if any insert mutated it.
func (s *ParquetStore) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	defer func() { s.buf = nil }()

	if !s.dirty {
		return nil
	}
	data, err := encodeParquet(sortedReadings(s.buf), s.rowGroupSize)
	if err != nil {
		return err
	}
	if err := s.backend.Write(context.Background(), s.path, data); err != nil {
		return err
	}
	s.logger.Info("wrote dataset", "path", s.path, "records", len(s.buf))
	return nil
}

// Discard drops the session buffer without writing.
func (s *ParquetStore) Discard() {
	s.closed = true
	s.dirty = false
	s.buf = nil
}
