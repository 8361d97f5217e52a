package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"testing"
	"time"

	"github.com/runsascoded/awair/internal/awair"
	"github.com/runsascoded/awair/internal/store"
)

// mockStore implements store.Store for testing.
type mockStore struct {
	readings []awair.Reading
	fail     bool
}

func (m *mockStore) Insert(_ context.Context, rows []awair.Reading) (int, error) {
	m.readings = append(m.readings, rows...)
	return len(rows), nil
}

func (m *mockStore) LatestTimestamp(context.Context) (time.Time, error) {
	var latest time.Time
	for _, r := range m.readings {
		if r.Timestamp.After(latest) {
			latest = r.Timestamp
		}
	}
	return latest, nil
}

func (m *mockStore) RecordCount(context.Context) (int, error) {
	return len(m.readings), nil
}

func (m *mockStore) Summary(context.Context) (*store.Summary, error) {
	if m.fail {
		return nil, fmt.Errorf("backend unavailable")
	}
	sum := &store.Summary{Count: len(m.readings), SizeBytes: 1024}
	for i := range m.readings {
		ts := m.readings[i].Timestamp
		if sum.Earliest == nil || ts.Before(*sum.Earliest) {
			t := ts
			sum.Earliest = &t
		}
		if sum.Latest == nil || ts.After(*sum.Latest) {
			t := ts
			sum.Latest = &t
		}
	}
	return sum, nil
}

func (m *mockStore) ReadAll(context.Context) ([]awair.Reading, error) {
	if m.fail {
		return nil, fmt.Errorf("backend unavailable")
	}
	out := make([]awair.Reading, len(m.readings))
	copy(out, m.readings)
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func (m *mockStore) Close() error { return nil }

func seedStore(n int, start time.Time, step time.Duration) *mockStore {
	m := &mockStore{}
	for i := 0; i < n; i++ {
		m.readings = append(m.readings, awair.Reading{
			Timestamp: start.Add(time.Duration(i) * step),
			Temp:      70 + float64(i),
			CO2:       400,
			PM10:      5,
			PM25:      3,
			Humid:     40,
			VOC:       100,
		})
	}
	return m
}

func serve(t *testing.T, m store.Store, url string) *httptest.ResponseRecorder {
	t.Helper()
	srv := NewServer(m, nil)
	srv.SetStorageInfo("parquet", "data/awair.parquet")
	srv.SetVersion("test")
	req := httptest.NewRequest(http.MethodGet, url, nil)
	rec := httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decoding response: %v\n%s", err, rec.Body.String())
	}
}

func TestHealth(t *testing.T) {
	base := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
	rec := serve(t, seedStore(3, base, time.Minute), "/api/v1/health")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got := rec.Header().Get("X-Request-ID"); got == "" {
		t.Error("missing X-Request-ID header")
	}
	if got := rec.Header().Get("Content-Type"); got != "application/json" {
		t.Errorf("content-type = %q", got)
	}

	var resp struct {
		Status  string `json:"status"`
		Version string `json:"version"`
		Storage struct {
			Driver       string `json:"driver"`
			TotalRecords int    `json:"total_records"`
		} `json:"storage"`
	}
	decode(t, rec, &resp)
	if resp.Status != "healthy" || resp.Version != "test" {
		t.Errorf("health = %+v", resp)
	}
	if resp.Storage.Driver != "parquet" || resp.Storage.TotalRecords != 3 {
		t.Errorf("storage = %+v", resp.Storage)
	}
}

func TestHealth_DegradedOnStoreError(t *testing.T) {
	rec := serve(t, &mockStore{fail: true}, "/api/v1/health")
	var resp struct {
		Status string `json:"status"`
	}
	decode(t, rec, &resp)
	if resp.Status != "degraded" {
		t.Errorf("status = %q, want degraded", resp.Status)
	}
}

func TestLatest(t *testing.T) {
	base := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
	rec := serve(t, seedStore(3, base, time.Minute), "/api/v1/latest")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var r awair.Reading
	decode(t, rec, &r)
	if r.Temp != 72 {
		t.Errorf("latest temp = %v, want 72", r.Temp)
	}
}

func TestLatest_EmptyIs404(t *testing.T) {
	rec := serve(t, &mockStore{}, "/api/v1/latest")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestReadings_RangeAndPagination(t *testing.T) {
	base := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
	m := seedStore(10, base, time.Minute)

	rec := serve(t, m, "/api/v1/readings?from=2025-07-01T00:02:00Z&limit=3&offset=1")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Readings []awair.Reading `json:"readings"`
		Count    int             `json:"count"`
		Total    int             `json:"total"`
		Offset   int             `json:"offset"`
	}
	decode(t, rec, &resp)
	if resp.Total != 8 {
		t.Errorf("total = %d, want 8", resp.Total)
	}
	if resp.Count != 3 || len(resp.Readings) != 3 {
		t.Errorf("count = %d, want 3", resp.Count)
	}
	// Offset 1 past the from bound lands on minute 3.
	if !resp.Readings[0].Timestamp.Equal(base.Add(3 * time.Minute)) {
		t.Errorf("first reading = %v", resp.Readings[0].Timestamp)
	}
}

func TestReadings_BadParams(t *testing.T) {
	m := &mockStore{}
	for _, url := range []string{
		"/api/v1/readings?from=banana",
		"/api/v1/readings?limit=0",
		"/api/v1/readings?offset=-1",
	} {
		rec := serve(t, m, url)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", url, rec.Code)
		}
	}
}

func TestGaps(t *testing.T) {
	base := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
	m := &mockStore{}
	for _, off := range []time.Duration{0, time.Minute, 31 * time.Minute, 32 * time.Minute} {
		m.readings = append(m.readings, awair.Reading{Timestamp: base.Add(off)})
	}

	rec := serve(t, m, "/api/v1/gaps?min_gap=300")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp struct {
		Gaps []struct {
			Start    time.Time     `json:"start"`
			Duration time.Duration `json:"duration"`
		} `json:"gaps"`
		Count int `json:"count"`
	}
	decode(t, rec, &resp)
	if resp.Count != 1 {
		t.Fatalf("gap count = %d, want 1: %s", resp.Count, rec.Body.String())
	}
	if !resp.Gaps[0].Start.Equal(base.Add(time.Minute)) {
		t.Errorf("gap start = %v", resp.Gaps[0].Start)
	}
}

func TestDays(t *testing.T) {
	base := time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC)
	rec := serve(t, seedStore(3, base, 12*time.Hour), "/api/v1/days")
	var resp struct {
		Days []struct {
			Date  string `json:"date"`
			Count int    `json:"count"`
		} `json:"days"`
	}
	decode(t, rec, &resp)
	if len(resp.Days) != 2 {
		t.Fatalf("days = %d, want 2: %s", len(resp.Days), rec.Body.String())
	}
	if resp.Days[0].Date != "2025-07-01" || resp.Days[0].Count != 2 {
		t.Errorf("day 0 = %+v", resp.Days[0])
	}
}

func TestSummary(t *testing.T) {
	base := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
	rec := serve(t, seedStore(2, base, time.Hour), "/api/v1/summary")
	var sum store.Summary
	decode(t, rec, &sum)
	if sum.Count != 2 || sum.SizeBytes != 1024 {
		t.Errorf("summary = %+v", sum)
	}
}
