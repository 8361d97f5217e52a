// Package dt parses the compact datetime shorthand accepted by CLI
// flags: 20250630, 250630 (century assumed 20xx), 250630T16,
// 20250630T1620, and full ISO timestamps.
package dt

import (
	"fmt"
	"strings"
	"time"

	"github.com/runsascoded/awair/internal/awair"
)

// Parse expands a compact datetime string and returns the UTC
// wall-clock time it names. Full ISO strings pass through to the
// standard timestamp parser.
func Parse(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty datetime")
	}

	// Already a full ISO timestamp.
	if strings.Contains(s, "T") && len(s) >= 19 {
		return awair.ParseTimestamp(s)
	}

	// Two-digit years get the 20xx century.
	if len(s) >= 6 && !strings.HasPrefix(s, "20") {
		s = "20" + s
	}

	if len(s) < 8 || !allDigits(s[:8]) {
		return time.Time{}, fmt.Errorf("invalid date format: %q, expected formats like 20250630, 250630T16", s)
	}
	datePart := s[:8]
	timePart := strings.TrimPrefix(s[8:], "T")

	var clock string
	switch {
	case timePart == "":
		clock = "00:00:00"
	case len(timePart) == 2 && allDigits(timePart): // HH
		clock = timePart + ":00:00"
	case len(timePart) == 4 && allDigits(timePart): // HHMM
		clock = timePart[:2] + ":" + timePart[2:] + ":00"
	case len(timePart) == 5 && strings.Count(timePart, ":") == 1: // HH:MM
		clock = timePart + ":00"
	case len(timePart) == 8 && strings.Count(timePart, ":") == 2: // HH:MM:SS
		clock = timePart
	default:
		return time.Time{}, fmt.Errorf("invalid time format in: %q", s)
	}

	iso := fmt.Sprintf("%s-%s-%sT%s", datePart[:4], datePart[4:6], datePart[6:8], clock)
	t, err := time.Parse("2006-01-02T15:04:05", iso)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid datetime %q: %w", s, err)
	}
	return t.UTC(), nil
}

func allDigits(s string) bool {
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
