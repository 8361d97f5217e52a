package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log/slog"
	"time"

	"github.com/runsascoded/awair/internal/awair"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Timestamps are stored as UTC unix milliseconds (BIGINT primary key)
// so the schema and queries are identical across SQLite and Postgres.

// replacePlaceholders converts ? to $1, $2, $3 etc for postgres.
func replacePlaceholders(query string) string {
	result := make([]byte, 0, len(query))
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, fmt.Sprintf("$%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}

// dbStore holds the dialect-independent query logic shared by the
// SQLite and Postgres stores.
type dbStore struct {
	db      *sql.DB
	dialect string // "sqlite" or "postgres"
	policy  ConflictPolicy
	logger  *slog.Logger
}

func (s *dbStore) rebind(query string) string {
	if s.dialect == "postgres" {
		return replacePlaceholders(query)
	}
	return query
}

const selectColumns = `timestamp, temp, co2, pm10, pm25, humid, voc`

func scanReading(row interface{ Scan(...any) error }) (awair.Reading, error) {
	var r awair.Reading
	var ms int64
	err := row.Scan(&ms, &r.Temp, &r.CO2, &r.PM10, &r.PM25, &r.Humid, &r.VOC)
	if err != nil {
		return awair.Reading{}, err
	}
	r.Timestamp = time.UnixMilli(ms).UTC()
	return r, nil
}

// Insert merges rows in batched transactions under the conflict
// policy, returning the growth in record count.
func (s *dbStore) Insert(ctx context.Context, rows []awair.Reading) (int, error) {
	const batchSize = 500
	total := 0
	for i := 0; i < len(rows); i += batchSize {
		end := i + batchSize
		if end > len(rows) {
			end = len(rows)
		}
		n, err := s.insertBatch(ctx, rows[i:end])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func (s *dbStore) insertBatch(ctx context.Context, rows []awair.Reading) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is harmless

	selectStmt, err := tx.PrepareContext(ctx, s.rebind(
		`SELECT `+selectColumns+` FROM air_data WHERE timestamp = ?`))
	if err != nil {
		return 0, fmt.Errorf("preparing select: %w", err)
	}
	defer selectStmt.Close() //nolint:errcheck

	insertStmt, err := tx.PrepareContext(ctx, s.rebind(`
		INSERT INTO air_data (timestamp, temp, co2, pm10, pm25, humid, voc)
		VALUES (?, ?, ?, ?, ?, ?, ?)`))
	if err != nil {
		return 0, fmt.Errorf("preparing insert: %w", err)
	}
	defer insertStmt.Close() //nolint:errcheck

	updateStmt, err := tx.PrepareContext(ctx, s.rebind(`
		UPDATE air_data SET temp = ?, co2 = ?, pm10 = ?, pm25 = ?, humid = ?, voc = ?
		WHERE timestamp = ?`))
	if err != nil {
		return 0, fmt.Errorf("preparing update: %w", err)
	}
	defer updateStmt.Close() //nolint:errcheck

	grown := 0
	for _, r := range rows {
		r.Timestamp = r.Timestamp.UTC()
		ms := r.Timestamp.UnixMilli()

		existing, err := scanReading(selectStmt.QueryRowContext(ctx, ms))
		if err == sql.ErrNoRows {
			if _, err := insertStmt.ExecContext(ctx, ms, r.Temp, r.CO2, r.PM10, r.PM25, r.Humid, r.VOC); err != nil {
				return 0, fmt.Errorf("inserting reading: %w", err)
			}
			grown++
			continue
		}
		if err != nil {
			return 0, fmt.Errorf("checking existing reading: %w", err)
		}

		diffs := existing.Diff(r)
		if len(diffs) == 0 {
			continue
		}
		conflict := &ConflictErr{Timestamp: r.Timestamp, Fields: diffs}
		switch s.policy {
		case ConflictError:
			return 0, conflict
		case ConflictReplace:
			if _, err := updateStmt.ExecContext(ctx, r.Temp, r.CO2, r.PM10, r.PM25, r.Humid, r.VOC, ms); err != nil {
				return 0, fmt.Errorf("replacing reading: %w", err)
			}
		default:
			s.logger.Warn("data conflict, keeping existing values",
				"timestamp", conflict.Timestamp, "fields", conflict.Fields)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing transaction: %w", err)
	}
	return grown, nil
}

func (s *dbStore) LatestTimestamp(ctx context.Context) (time.Time, error) {
	var ms *int64
	err := s.db.QueryRowContext(ctx, `SELECT MAX(timestamp) FROM air_data`).Scan(&ms)
	if err != nil {
		return time.Time{}, fmt.Errorf("querying latest timestamp: %w", err)
	}
	if ms == nil {
		return time.Time{}, nil
	}
	return time.UnixMilli(*ms).UTC(), nil
}

func (s *dbStore) RecordCount(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM air_data`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting readings: %w", err)
	}
	return count, nil
}

// summaryRange fills count and range; SizeBytes is dialect-specific.
func (s *dbStore) summaryRange(ctx context.Context) (*Summary, error) {
	var count int
	var earliest, latest *int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), MIN(timestamp), MAX(timestamp) FROM air_data`).
		Scan(&count, &earliest, &latest)
	if err != nil {
		return nil, fmt.Errorf("querying summary: %w", err)
	}
	sum := &Summary{Count: count}
	if earliest != nil {
		t := time.UnixMilli(*earliest).UTC()
		sum.Earliest = &t
	}
	if latest != nil {
		t := time.UnixMilli(*latest).UTC()
		sum.Latest = &t
	}
	return sum, nil
}

func (s *dbStore) ReadAll(ctx context.Context) ([]awair.Reading, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+selectColumns+` FROM air_data ORDER BY timestamp`)
	if err != nil {
		return nil, fmt.Errorf("querying readings: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var result []awair.Reading
	for rows.Next() {
		r, err := scanReading(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning reading: %w", err)
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

func (s *dbStore) Close() error {
	return s.db.Close()
}
