package domain

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestTimestampCompare(t *testing.T) {
	tests := []struct {
		name string
		a, b Timestamp
		want int
	}{
		{name: "equal", a: "1.000100", b: "1.000100", want: 0},
		{name: "seconds decide", a: "2.000000", b: "10.000000", want: -1},
		{name: "fraction decides", a: "1500000000.000200", b: "1500000000.000100", want: 1},
		{name: "different fraction width", a: "5.1", b: "5.100000", want: 0},
		{name: "empty is epoch", a: "", b: "0", want: 0},
		{name: "empty before any", a: "", b: "0.000001", want: -1},
		{name: "precision beyond float", a: "1700000000.123457", b: "1700000000.123456", want: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.Compare(tt.b); got != tt.want {
				t.Fatalf("Compare(%q, %q) = %d, want %d", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestTimestampDay(t *testing.T) {
	ts := Timestamp("1488339000.000000") // 2017-03-01 03:30:00 UTC
	day, err := ts.Day(time.UTC)
	if err != nil {
		t.Fatalf("Day: %v", err)
	}
	if day != "2017-03-01" {
		t.Fatalf("unexpected day %s", day)
	}

	ny, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	day, err = ts.Day(ny)
	if err != nil {
		t.Fatalf("Day: %v", err)
	}
	if day != "2017-02-28" {
		t.Fatalf("expected previous day in New York, got %s", day)
	}
}

func TestTimestampInvalid(t *testing.T) {
	if _, err := Timestamp("abc").Time(); !errors.Is(err, ErrInvalidTimestamp) {
		t.Fatalf("expected ErrInvalidTimestamp, got %v", err)
	}
	if Timestamp("").String() != "0" {
		t.Fatalf("empty cursor must render as 0")
	}
	if !Timestamp("").IsZero() || Timestamp("1.0").IsZero() {
		t.Fatalf("IsZero mismatch")
	}
}

func TestTimestampUnmarshalNumber(t *testing.T) {
	var m struct {
		TS Timestamp `json:"ts"`
	}
	if err := json.Unmarshal([]byte(`{"ts": 1.5}`), &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if m.TS != "1.5" {
		t.Fatalf("unexpected ts %q", m.TS)
	}
	if err := json.Unmarshal([]byte(`{"ts": true}`), &m); err == nil {
		t.Fatalf("expected error for bool ts")
	}
}
