package collector

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/runsascoded/awair/internal/awair"
	"github.com/runsascoded/awair/internal/store"
)

func pageJSON(timestamps ...time.Time) map[string]any {
	data := make([]map[string]any, 0, len(timestamps))
	for _, ts := range timestamps {
		data = append(data, map[string]any{
			"timestamp": ts.UTC().Format("2006-01-02T15:04:05.000Z"),
			"sensors": []map[string]any{
				{"comp": "temp", "value": 70.0},
				{"comp": "co2", "value": 400.0},
				{"comp": "pm10", "value": 5.0},
				{"comp": "pm25", "value": 3.0},
				{"comp": "humid", "value": 40.0},
				{"comp": "voc", "value": 100.0},
			},
		})
	}
	return map[string]any{"data": data}
}

func newTestBackfiller(t *testing.T, handler http.HandlerFunc) (*Backfiller, *store.ParquetStore) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client, err := awair.NewClient("test-token", "awair-element", 17617, awair.WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	path := filepath.Join(t.TempDir(), "air.parquet")
	s, err := store.OpenParquet(context.Background(), path, store.ConflictWarn, nil)
	if err != nil {
		t.Fatalf("OpenParquet: %v", err)
	}
	t.Cleanup(s.Discard)

	b := NewBackfiller(client, s, nil)
	b.Fetcher().Sleep = 0
	return b, s
}

func TestBackfill_MergesPagesIntoStore(t *testing.T) {
	base := time.Date(2025, 7, 10, 0, 0, 0, 0, time.UTC)
	var call atomic.Int64
	b, s := newTestBackfiller(t, func(w http.ResponseWriter, r *http.Request) {
		if call.Add(1) == 1 {
			_ = json.NewEncoder(w).Encode(pageJSON(
				base.Add(-1*time.Minute), base.Add(-2*time.Minute),
			))
			return
		}
		_ = json.NewEncoder(w).Encode(pageJSON())
	})

	total, err := b.Backfill(context.Background(), base.Add(-time.Hour), base)
	if err != nil {
		t.Fatalf("Backfill: %v", err)
	}
	if total != 2 {
		t.Errorf("total = %d, want 2", total)
	}
	count, _ := s.RecordCount(context.Background())
	if count != 2 {
		t.Errorf("store count = %d, want 2", count)
	}
}

func TestDetectAndFill_SkipsFreshData(t *testing.T) {
	var call atomic.Int64
	b, s := newTestBackfiller(t, func(w http.ResponseWriter, r *http.Request) {
		call.Add(1)
		_ = json.NewEncoder(w).Encode(pageJSON())
	})

	// Seed a reading newer than the stale threshold.
	if _, err := s.Insert(context.Background(), []awair.Reading{{
		Timestamp: time.Now().UTC().Add(-30 * time.Second),
		Temp:      70, CO2: 400, PM10: 5, PM25: 3, Humid: 40, VOC: 100,
	}}); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	total, err := b.DetectAndFill(context.Background(), 34)
	if err != nil {
		t.Fatalf("DetectAndFill: %v", err)
	}
	if total != 0 {
		t.Errorf("total = %d, want 0", total)
	}
	if call.Load() != 0 {
		t.Errorf("API calls = %d, want 0", call.Load())
	}
}

func TestDetectAndFill_ResumesFromLatest(t *testing.T) {
	latest := time.Now().UTC().Add(-2 * time.Hour)
	var froms []string
	b, s := newTestBackfiller(t, func(w http.ResponseWriter, r *http.Request) {
		froms = append(froms, r.URL.Query().Get("from"))
		_ = json.NewEncoder(w).Encode(pageJSON())
	})

	if _, err := s.Insert(context.Background(), []awair.Reading{{
		Timestamp: latest,
		Temp:      70, CO2: 400, PM10: 5, PM25: 3, Humid: 40, VOC: 100,
	}}); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	if _, err := b.DetectAndFill(context.Background(), 34); err != nil {
		t.Fatalf("DetectAndFill: %v", err)
	}
	if len(froms) == 0 {
		t.Fatal("no API calls made")
	}
	got, err := time.Parse("2006-01-02T15:04:05", froms[0])
	if err != nil {
		t.Fatalf("parsing from param %q: %v", froms[0], err)
	}
	if diff := got.Sub(latest.Truncate(time.Second)); diff < 0 || diff > time.Second {
		t.Errorf("window start = %v, want latest stored %v", got, latest)
	}
}

func TestDetectAndFill_EmptyStoreUsesLookback(t *testing.T) {
	var froms []string
	b, _ := newTestBackfiller(t, func(w http.ResponseWriter, r *http.Request) {
		froms = append(froms, r.URL.Query().Get("from"))
		_ = json.NewEncoder(w).Encode(pageJSON())
	})

	if _, err := b.DetectAndFill(context.Background(), 7); err != nil {
		t.Fatalf("DetectAndFill: %v", err)
	}
	if len(froms) == 0 {
		t.Fatal("no API calls made")
	}
	got, err := time.Parse("2006-01-02T15:04:05", froms[0])
	if err != nil {
		t.Fatalf("parsing from param %q: %v", froms[0], err)
	}
	want := time.Now().UTC().AddDate(0, 0, -7)
	if diff := want.Sub(got); diff < 0 || diff > time.Minute {
		t.Errorf("window start = %v, want ~%v", got, want)
	}
}
