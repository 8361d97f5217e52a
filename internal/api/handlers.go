package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/runsascoded/awair/internal/analysis"
	"github.com/runsascoded/awair/internal/awair"
	"github.com/runsascoded/awair/internal/store"
)

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	Store         store.Store
	Logger        *slog.Logger
	StartTime     time.Time
	StorageDriver string
	StoragePath   string
	Version       string
}

// apiError is a JSON error response.
type apiError struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, apiError{Error: msg, Code: status})
}

func parseTime(s string) (time.Time, error) {
	// Try RFC3339 first, then YYYY-MM-DD, then Unix epoch.
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t, nil
	}
	if epoch, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(epoch, 0).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("invalid time format: %q (expected RFC3339, YYYY-MM-DD, or Unix epoch)", s)
}

func formatUptime(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm", days, hours, minutes)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, minutes)
	}
	return fmt.Sprintf("%dm", minutes)
}

// Health handles GET /api/v1/health
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	type storageHealth struct {
		Driver       string     `json:"driver"`
		Path         string     `json:"path,omitempty"`
		Status       string     `json:"status"`
		SizeBytes    int64      `json:"size_bytes,omitempty"`
		TotalRecords int        `json:"total_records"`
		Earliest     *time.Time `json:"earliest,omitempty"`
		Latest       *time.Time `json:"latest,omitempty"`
	}
	type healthResponse struct {
		Status  string        `json:"status"`
		Version string        `json:"version"`
		Uptime  string        `json:"uptime"`
		Storage storageHealth `json:"storage"`
	}

	resp := healthResponse{
		Status:  "healthy",
		Version: h.Version,
		Uptime:  formatUptime(time.Since(h.StartTime)),
		Storage: storageHealth{
			Driver: h.StorageDriver,
			Path:   h.StoragePath,
			Status: "ok",
		},
	}

	sum, err := h.Store.Summary(r.Context())
	if err != nil {
		resp.Status = "degraded"
		resp.Storage.Status = "error"
	} else {
		resp.Storage.TotalRecords = sum.Count
		resp.Storage.SizeBytes = sum.SizeBytes
		resp.Storage.Earliest = sum.Earliest
		resp.Storage.Latest = sum.Latest
	}

	writeJSON(w, http.StatusOK, resp)
}

// Latest handles GET /api/v1/latest
func (h *Handlers) Latest(w http.ResponseWriter, r *http.Request) {
	readings, err := h.Store.ReadAll(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read data")
		return
	}
	if len(readings) == 0 {
		writeError(w, http.StatusNotFound, "no data")
		return
	}
	writeJSON(w, http.StatusOK, readings[len(readings)-1])
}

// Readings handles GET /api/v1/readings?from=...&to=...&limit=N&offset=N
func (h *Handlers) Readings(w http.ResponseWriter, r *http.Request) {
	var from, to time.Time
	q := r.URL.Query()
	if s := q.Get("from"); s != "" {
		t, err := parseTime(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		from = t
	}
	if s := q.Get("to"); s != "" {
		t, err := parseTime(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		to = t
	}
	limit := 1000
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	offset := 0
	if s := q.Get("offset"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "offset must be a non-negative integer")
			return
		}
		offset = n
	}

	all, err := h.Store.ReadAll(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read data")
		return
	}
	filtered := analysis.FilterRange(all, from, to)

	total := len(filtered)
	if offset > total {
		offset = total
	}
	page := filtered[offset:]
	if len(page) > limit {
		page = page[:limit]
	}
	if page == nil {
		page = []awair.Reading{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"readings": page,
		"count":    len(page),
		"total":    total,
		"offset":   offset,
	})
}

// Summary handles GET /api/v1/summary
func (h *Handlers) Summary(w http.ResponseWriter, r *http.Request) {
	sum, err := h.Store.Summary(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to summarize data")
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

// Gaps handles GET /api/v1/gaps?min_gap=300&count=10&from=...&to=...
func (h *Handlers) Gaps(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	minGap := 5 * time.Minute
	if s := q.Get("min_gap"); s != "" {
		secs, err := strconv.Atoi(s)
		if err != nil || secs < 0 {
			writeError(w, http.StatusBadRequest, "min_gap must be a non-negative integer (seconds)")
			return
		}
		minGap = time.Duration(secs) * time.Second
	}
	count := 10
	if s := q.Get("count"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "count must be a positive integer")
			return
		}
		count = n
	}
	var from, to time.Time
	if s := q.Get("from"); s != "" {
		t, err := parseTime(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		from = t
	}
	if s := q.Get("to"); s != "" {
		t, err := parseTime(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		to = t
	}

	all, err := h.Store.ReadAll(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read data")
		return
	}
	gaps := analysis.FindGaps(analysis.FilterRange(all, from, to), minGap)
	if len(gaps) > count {
		gaps = gaps[:count]
	}
	if gaps == nil {
		gaps = []analysis.Gap{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"gaps":            gaps,
		"count":           len(gaps),
		"min_gap_seconds": int(minGap.Seconds()),
	})
}

// Days handles GET /api/v1/days
func (h *Handlers) Days(w http.ResponseWriter, r *http.Request) {
	all, err := h.Store.ReadAll(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read data")
		return
	}
	days := analysis.DailyCounts(all)
	if days == nil {
		days = []analysis.DayCount{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"days": days, "count": len(days)})
}
