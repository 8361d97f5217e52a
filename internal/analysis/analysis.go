// Package analysis computes timing and density statistics over stored
// readings.
package analysis

import (
	"sort"
	"time"

	"github.com/runsascoded/awair/internal/awair"
)

// Gap is a span between two consecutive readings.
type Gap struct {
	Start    time.Time     `json:"start"`
	End      time.Time     `json:"end"`
	Duration time.Duration `json:"duration"`
}

// FilterRange keeps readings with from <= timestamp <= to. A zero
// bound is open.
func FilterRange(readings []awair.Reading, from, to time.Time) []awair.Reading {
	var out []awair.Reading
	for _, r := range readings {
		if !from.IsZero() && r.Timestamp.Before(from) {
			continue
		}
		if !to.IsZero() && r.Timestamp.After(to) {
			continue
		}
		out = append(out, r)
	}
	return out
}

// FindGaps returns gaps of at least minGap between consecutive
// readings, largest first. Readings may arrive in any order.
func FindGaps(readings []awair.Reading, minGap time.Duration) []Gap {
	if len(readings) < 2 {
		return nil
	}
	sorted := make([]awair.Reading, len(readings))
	copy(sorted, readings)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	var gaps []Gap
	for i := 1; i < len(sorted); i++ {
		d := sorted[i].Timestamp.Sub(sorted[i-1].Timestamp)
		if d >= minGap {
			gaps = append(gaps, Gap{
				Start:    sorted[i-1].Timestamp,
				End:      sorted[i].Timestamp,
				Duration: d,
			})
		}
	}
	sort.SliceStable(gaps, func(i, j int) bool {
		return gaps[i].Duration > gaps[j].Duration
	})
	return gaps
}

// DayCount is the number of readings on one UTC calendar day.
type DayCount struct {
	Date  string `json:"date"` // YYYY-MM-DD
	Count int    `json:"count"`
}

// DailyCounts buckets readings per UTC day, sorted by date.
func DailyCounts(readings []awair.Reading) []DayCount {
	byDay := make(map[string]int)
	for _, r := range readings {
		byDay[r.Timestamp.UTC().Format("2006-01-02")]++
	}
	days := make([]DayCount, 0, len(byDay))
	for d, n := range byDay {
		days = append(days, DayCount{Date: d, Count: n})
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Date < days[j].Date })
	return days
}
