package awair

import (
	"fmt"
	"strings"
	"time"
)

// SensorFields is the canonical set of sensor components, in on-disk
// column order. Payload components outside this set are dropped.
var SensorFields = []string{"temp", "co2", "pm10", "pm25", "humid", "voc"}

// Fields is SensorFields prefixed with the timestamp column.
var Fields = append([]string{"timestamp"}, SensorFields...)

// Reading is one sensor sample. Timestamps are normalized to UTC
// wall-clock at every ingestion boundary; mixing zoned and unzoned
// values in comparisons is not possible past this type.
type Reading struct {
	Timestamp time.Time `json:"timestamp"`
	Temp      float64   `json:"temp"`
	CO2       float64   `json:"co2"`
	PM10      float64   `json:"pm10"`
	PM25      float64   `json:"pm25"`
	Humid     float64   `json:"humid"`
	VOC       float64   `json:"voc"`
}

// Value returns the named sensor field.
func (r Reading) Value(field string) float64 {
	switch field {
	case "temp":
		return r.Temp
	case "co2":
		return r.CO2
	case "pm10":
		return r.PM10
	case "pm25":
		return r.PM25
	case "humid":
		return r.Humid
	case "voc":
		return r.VOC
	}
	return 0
}

func (r *Reading) setValue(field string, v float64) {
	switch field {
	case "temp":
		r.Temp = v
	case "co2":
		r.CO2 = v
	case "pm10":
		r.PM10 = v
	case "pm25":
		r.PM25 = v
	case "humid":
		r.Humid = v
	case "voc":
		r.VOC = v
	}
}

// SameValues reports whether two readings agree on every sensor field.
func (r Reading) SameValues(o Reading) bool {
	return len(r.Diff(o)) == 0
}

// Diff lists the sensor fields on which two readings disagree, as
// "field: old -> new" descriptions.
func (r Reading) Diff(o Reading) []string {
	var diffs []string
	for _, f := range SensorFields {
		a, b := r.Value(f), o.Value(f)
		if a != b {
			diffs = append(diffs, fmt.Sprintf("%s: %v -> %v", f, a, b))
		}
	}
	return diffs
}

// MalformedRowError reports a fetched datum missing a canonical sensor
// component. Rows like this violate the input contract and are never
// silently dropped.
type MalformedRowError struct {
	Timestamp string
	Field     string
}

func (e *MalformedRowError) Error() string {
	return fmt.Sprintf("malformed row at %s: missing field %q", e.Timestamp, e.Field)
}

// rawDatum is one entry of the vendor's raw air-data payload.
type rawDatum struct {
	Timestamp string `json:"timestamp"`
	Sensors   []struct {
		Comp  string  `json:"comp"`
		Value float64 `json:"value"`
	} `json:"sensors"`
}

// newReading pivots a vendor datum into a flat Reading.
func newReading(d rawDatum) (Reading, error) {
	ts, err := ParseTimestamp(d.Timestamp)
	if err != nil {
		return Reading{}, fmt.Errorf("parsing timestamp %q: %w", d.Timestamp, err)
	}

	present := make(map[string]float64, len(d.Sensors))
	for _, s := range d.Sensors {
		present[s.Comp] = s.Value
	}

	r := Reading{Timestamp: ts}
	for _, f := range SensorFields {
		v, ok := present[f]
		if !ok {
			return Reading{}, &MalformedRowError{Timestamp: d.Timestamp, Field: f}
		}
		r.setValue(f, v)
	}
	return r, nil
}

// ParseTimestamp parses an ISO-8601 timestamp (with or without a zone
// offset or sub-second precision) and normalizes it to UTC.
func ParseTimestamp(s string) (time.Time, error) {
	layouts := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02T15:04:05.999999999",
		"2006-01-02T15:04:05",
		"2006-01-02T15:04",
		"2006-01-02",
	}
	s = strings.TrimSpace(s)
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp format: %q", s)
}
