package awair

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

// collectSink records every inserted row.
type collectSink struct {
	rows []Reading
}

func (s *collectSink) Insert(rows []Reading) (int, error) {
	s.rows = append(s.rows, rows...)
	return len(rows), nil
}

func sensorsJSON(temp float64) []map[string]any {
	return []map[string]any{
		{"comp": "temp", "value": temp},
		{"comp": "co2", "value": 400.0},
		{"comp": "pm10", "value": 5.0},
		{"comp": "pm25", "value": 3.0},
		{"comp": "humid", "value": 40.0},
		{"comp": "voc", "value": 100.0},
	}
}

func pageJSON(timestamps ...time.Time) map[string]any {
	data := make([]map[string]any, 0, len(timestamps))
	for _, ts := range timestamps {
		data = append(data, map[string]any{
			"timestamp": ts.UTC().Format("2006-01-02T15:04:05.000Z"),
			"sensors":   sensorsJSON(70),
		})
	}
	return map[string]any{"data": data}
}

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := NewClient("test-token", "awair-element", 17617, WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c, srv
}

func TestFetchRange_BackwardPaginationTerminates(t *testing.T) {
	base := time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)

	// Three pages of monotonically older rows, then an empty page.
	pages := []map[string]any{
		pageJSON(base.Add(-1*time.Minute), base.Add(-2*time.Minute)),
		pageJSON(base.Add(-10*time.Minute), base.Add(-11*time.Minute)),
		pageJSON(base.Add(-20 * time.Minute)),
		pageJSON(),
	}
	var call atomic.Int64
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		n := call.Add(1) - 1
		if int(n) >= len(pages) {
			n = int64(len(pages) - 1)
		}
		_ = json.NewEncoder(w).Encode(pages[n])
	})

	sink := &collectSink{}
	f := NewRangeFetcher(client, nil)
	total, err := f.FetchRange(context.Background(), base.AddDate(0, 0, -1), base, 360, sink)
	if err != nil {
		t.Fatalf("FetchRange: %v", err)
	}
	if total != 5 {
		t.Errorf("total inserted = %d, want 5", total)
	}
	if len(sink.rows) != 5 {
		t.Errorf("sink rows = %d, want 5", len(sink.rows))
	}
	if got := call.Load(); got != 4 {
		t.Errorf("API calls = %d, want 4", got)
	}
}

func TestFetchRange_RateLimitShortCircuits(t *testing.T) {
	base := time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)
	var call atomic.Int64
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if call.Add(1) == 1 {
			_ = json.NewEncoder(w).Encode(pageJSON(base.Add(-1 * time.Minute)))
			return
		}
		w.WriteHeader(http.StatusTooManyRequests)
	})

	sink := &collectSink{}
	f := NewRangeFetcher(client, nil)
	total, err := f.FetchRange(context.Background(), base.AddDate(0, 0, -1), base, 360, sink)
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("err = %v, want ErrRateLimited", err)
	}
	if total != 1 {
		t.Errorf("total inserted before rate limit = %d, want 1", total)
	}
	if got := call.Load(); got != 2 {
		t.Errorf("API calls = %d, want 2", got)
	}
}

func TestFetchRange_HTTPErrorRetreatsWindow(t *testing.T) {
	base := time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)
	var windows []string
	var call atomic.Int64
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		windows = append(windows, r.URL.Query().Get("to"))
		if call.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_ = json.NewEncoder(w).Encode(pageJSON())
	})

	sink := &collectSink{}
	f := NewRangeFetcher(client, nil)
	if _, err := f.FetchRange(context.Background(), base.Add(-4*time.Hour), base, 360, sink); err != nil {
		t.Fatalf("FetchRange: %v", err)
	}

	if len(windows) != 2 {
		t.Fatalf("API calls = %d, want 2", len(windows))
	}
	first, _ := time.Parse(apiTime, windows[0])
	second, _ := time.Parse(apiTime, windows[1])
	if got := first.Sub(second); got != time.Hour {
		t.Errorf("window retreat after HTTP error = %v, want 1h", got)
	}
}

func TestFetchRange_NoProgressStepsBack(t *testing.T) {
	base := time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)
	var tos []string
	var call atomic.Int64
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		tos = append(tos, r.URL.Query().Get("to"))
		// First page's oldest row equals the window end: no progress.
		if call.Add(1) == 1 {
			_ = json.NewEncoder(w).Encode(pageJSON(base))
			return
		}
		_ = json.NewEncoder(w).Encode(pageJSON())
	})

	sink := &collectSink{}
	f := NewRangeFetcher(client, nil)
	if _, err := f.FetchRange(context.Background(), base.Add(-time.Hour), base, 360, sink); err != nil {
		t.Fatalf("FetchRange: %v", err)
	}
	if len(tos) != 2 {
		t.Fatalf("API calls = %d, want 2", len(tos))
	}
	first, _ := time.Parse(apiTime, tos[0])
	second, _ := time.Parse(apiTime, tos[1])
	if got := first.Sub(second); got != time.Minute {
		t.Errorf("anti-stall step = %v, want 1m", got)
	}
}

func TestFetchRange_MaxRequestsCap(t *testing.T) {
	base := time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)
	var call atomic.Int64
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		n := call.Add(1)
		ts := base.Add(-time.Duration(n) * time.Hour)
		_ = json.NewEncoder(w).Encode(pageJSON(ts))
	})

	sink := &collectSink{}
	f := NewRangeFetcher(client, nil)
	f.MaxRequests = 2
	total, err := f.FetchRange(context.Background(), base.AddDate(0, 0, -30), base, 360, sink)
	if err != nil {
		t.Fatalf("FetchRange: %v", err)
	}
	if got := call.Load(); got != 2 {
		t.Errorf("API calls = %d, want 2", got)
	}
	if total != 2 {
		t.Errorf("total inserted = %d, want 2", total)
	}
}

func TestFetchRange_ContextCancellation(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(pageJSON())
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	f := NewRangeFetcher(client, nil)
	f.Sleep = time.Second
	_, err := f.FetchRange(ctx, time.Now().Add(-time.Hour), time.Now(), 360, &collectSink{})
	if err == nil {
		t.Error("expected context cancellation error")
	}
}

func TestFetchRaw_Stats(t *testing.T) {
	base := time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(pageJSON(
			base, base.Add(-1*time.Minute), base.Add(-2*time.Minute),
		))
	})

	res, err := client.FetchRaw(context.Background(), base.Add(-time.Hour), base, 360)
	if err != nil {
		t.Fatalf("FetchRaw: %v", err)
	}
	if !res.Success {
		t.Fatalf("unexpected failure: %s", res.Message)
	}
	if !res.ActualFrom.Equal(base.Add(-2 * time.Minute)) {
		t.Errorf("actual_from = %v, want %v", res.ActualFrom, base.Add(-2*time.Minute))
	}
	if !res.ActualTo.Equal(base) {
		t.Errorf("actual_to = %v, want %v", res.ActualTo, base)
	}
	if res.AvgInterval != time.Minute {
		t.Errorf("avg_interval = %v, want 1m", res.AvgInterval)
	}
}

func TestFetchRaw_MalformedRowPropagates(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data":[{"timestamp":"2025-01-01T00:00:00Z","sensors":[{"comp":"temp","value":70}]}]}`)
	})

	_, err := client.FetchRaw(context.Background(), time.Now().Add(-time.Hour), time.Now(), 360)
	var malformed *MalformedRowError
	if !errors.As(err, &malformed) {
		t.Fatalf("want MalformedRowError, got %v", err)
	}
}
