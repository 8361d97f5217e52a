package awair

import (
	"errors"
	"testing"
	"time"
)

func datum(ts string, comps map[string]float64) rawDatum {
	d := rawDatum{Timestamp: ts}
	for k, v := range comps {
		d.Sensors = append(d.Sensors, struct {
			Comp  string  `json:"comp"`
			Value float64 `json:"value"`
		}{Comp: k, Value: v})
	}
	return d
}

func fullSensors() map[string]float64 {
	return map[string]float64{
		"temp": 70.1, "co2": 412, "pm10": 5, "pm25": 3, "humid": 41.5, "voc": 120,
	}
}

func TestNewReading_Pivot(t *testing.T) {
	r, err := newReading(datum("2025-01-01T00:00:00.000Z", fullSensors()))
	if err != nil {
		t.Fatalf("newReading: %v", err)
	}
	want := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	if !r.Timestamp.Equal(want) {
		t.Errorf("timestamp = %v, want %v", r.Timestamp, want)
	}
	if r.Temp != 70.1 || r.CO2 != 412 || r.PM10 != 5 || r.PM25 != 3 || r.Humid != 41.5 || r.VOC != 120 {
		t.Errorf("unexpected values: %+v", r)
	}
}

func TestNewReading_DropsUnknownComponents(t *testing.T) {
	comps := fullSensors()
	comps["lux"] = 99 // not canonical
	if _, err := newReading(datum("2025-01-01T00:00:00Z", comps)); err != nil {
		t.Fatalf("unknown component should be dropped, got error: %v", err)
	}
}

func TestNewReading_MissingFieldIsMalformed(t *testing.T) {
	comps := fullSensors()
	delete(comps, "voc")
	_, err := newReading(datum("2025-01-01T00:00:00Z", comps))
	var malformed *MalformedRowError
	if !errors.As(err, &malformed) {
		t.Fatalf("want MalformedRowError, got %v", err)
	}
	if malformed.Field != "voc" {
		t.Errorf("missing field = %q, want voc", malformed.Field)
	}
}

func TestParseTimestamp_NormalizesToUTC(t *testing.T) {
	tests := []struct {
		in   string
		want time.Time
	}{
		{"2025-01-01T12:00:00Z", time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)},
		{"2025-01-01T12:00:00+02:00", time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)},
		{"2025-01-01T12:00:00", time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)},
		{"2025-01-01T12:00:00.500Z", time.Date(2025, 1, 1, 12, 0, 0, 500000000, time.UTC)},
		{"2025-01-01", time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		got, err := ParseTimestamp(tt.in)
		if err != nil {
			t.Errorf("ParseTimestamp(%q): %v", tt.in, err)
			continue
		}
		if !got.Equal(tt.want) {
			t.Errorf("ParseTimestamp(%q) = %v, want %v", tt.in, got, tt.want)
		}
		if got.Location() != time.UTC {
			t.Errorf("ParseTimestamp(%q) location = %v, want UTC", tt.in, got.Location())
		}
	}
}

func TestReading_Diff(t *testing.T) {
	a := Reading{Temp: 70, CO2: 400, PM10: 5, PM25: 3, Humid: 40, VOC: 100}
	b := a
	if !a.SameValues(b) {
		t.Error("identical readings should have no diff")
	}
	b.Temp = 71
	b.VOC = 110
	diffs := a.Diff(b)
	if len(diffs) != 2 {
		t.Fatalf("diff count = %d, want 2: %v", len(diffs), diffs)
	}
}
