/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */

package wire

import (
	"testing"
	"time"
)

func TestParseISO8601Duration(t *testing.T) {
	cases := []struct {
		in   string
		want time.Duration
	}{
		{"P79D", 79 * 24 * time.Hour},
		{"P9D", 9 * 24 * time.Hour},
		{"PT0S", 0},
		{"P1DT12H", 36 * time.Hour},
		{"PT1H30M", 90 * time.Minute},
	}
	for _, c := range cases {
		got, err := ParseISO8601Duration(c.in)
		if err != nil {
			t.Fatalf("ParseISO8601Duration(%q) error: %v", c.in, err)
		}
		if got != c.want {
			t.Errorf("ParseISO8601Duration(%q) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestParseISO8601DurationRejectsCalendarUnits(t *testing.T) {
	for _, in := range []string{"P1Y", "P1M", "P1Y2D"} {
		if _, err := ParseISO8601Duration(in); err == nil {
			t.Errorf("ParseISO8601Duration(%q) should have failed", in)
		}
	}
}

func TestFormatISO8601DurationRoundTrip(t *testing.T) {
	durations := []time.Duration{79 * 24 * time.Hour, 9*24*time.Hour + 3*time.Hour, 0, 90 * time.Second}
	for _, d := range durations {
		s := FormatISO8601Duration(d)
		got, err := ParseISO8601Duration(s)
		if err != nil {
			t.Fatalf("round trip of %v (%q) failed to reparse: %v", d, s, err)
		}
		if got != d {
			t.Errorf("round trip of %v via %q gave %v", d, s, got)
		}
	}
}
