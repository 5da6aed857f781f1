/*
 * Copyright (c) 2024 Johan Stenstam, johani@johani.org
 */

package wire

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseISO8601Duration parses the subset of ISO 8601 durations the KSR/SKR
// format and the configuration surface use: P[nD]T[nH][nM][nS], plus the
// common day-only shorthand PnD. Years and months are rejected: every
// duration this module handles (signature validities, bundle intervals,
// cycle lengths) is expressed in days or smaller, and a calendar month is
// not a fixed duration.
func ParseISO8601Duration(s string) (time.Duration, error) {
	orig := s
	if !strings.HasPrefix(s, "P") {
		return 0, fmt.Errorf("duration %q: must start with P", orig)
	}
	s = s[1:]

	datePart, timePart, hasTime := strings.Cut(s, "T")
	if !hasTime {
		datePart = s
		timePart = ""
	}

	var total time.Duration

	if datePart != "" {
		n, unit, rest, err := takeNumberUnit(datePart)
		for datePart != "" {
			if err != nil {
				return 0, fmt.Errorf("duration %q: %w", orig, err)
			}
			switch unit {
			case "D":
				total += time.Duration(n) * 24 * time.Hour
			case "W":
				total += time.Duration(n) * 7 * 24 * time.Hour
			case "Y", "M":
				return 0, fmt.Errorf("duration %q: calendar years/months are not supported", orig)
			default:
				return 0, fmt.Errorf("duration %q: unknown date unit %q", orig, unit)
			}
			datePart = rest
			if datePart != "" {
				n, unit, rest, err = takeNumberUnit(datePart)
			}
		}
	}

	if timePart != "" {
		n, unit, rest, err := takeNumberUnit(timePart)
		for timePart != "" {
			if err != nil {
				return 0, fmt.Errorf("duration %q: %w", orig, err)
			}
			switch unit {
			case "H":
				total += time.Duration(n) * time.Hour
			case "M":
				total += time.Duration(n) * time.Minute
			case "S":
				total += time.Duration(n) * time.Second
			default:
				return 0, fmt.Errorf("duration %q: unknown time unit %q", orig, unit)
			}
			timePart = rest
			if timePart != "" {
				n, unit, rest, err = takeNumberUnit(timePart)
			}
		}
	}

	return total, nil
}

func takeNumberUnit(s string) (n int64, unit string, rest string, err error) {
	i := 0
	for i < len(s) && (s[i] >= '0' && s[i] <= '9') {
		i++
	}
	if i == 0 {
		return 0, "", s, fmt.Errorf("expected a number at %q", s)
	}
	n, err = strconv.ParseInt(s[:i], 10, 64)
	if err != nil {
		return 0, "", s, err
	}
	if i >= len(s) {
		return 0, "", s, fmt.Errorf("missing unit after %q", s[:i])
	}
	return n, s[i : i+1], s[i+1:], nil
}

// FormatISO8601Duration renders d as a PnDTnHnMnS-style ISO 8601 duration,
// the inverse of ParseISO8601Duration, used when emitting policy records.
func FormatISO8601Duration(d time.Duration) string {
	if d == 0 {
		return "PT0S"
	}
	days := d / (24 * time.Hour)
	d -= days * 24 * time.Hour
	hours := d / time.Hour
	d -= hours * time.Hour
	mins := d / time.Minute
	d -= mins * time.Minute
	secs := d / time.Second

	var b strings.Builder
	b.WriteByte('P')
	if days > 0 {
		fmt.Fprintf(&b, "%dD", days)
	}
	if hours > 0 || mins > 0 || secs > 0 {
		b.WriteByte('T')
		if hours > 0 {
			fmt.Fprintf(&b, "%dH", hours)
		}
		if mins > 0 {
			fmt.Fprintf(&b, "%dM", mins)
		}
		if secs > 0 {
			fmt.Fprintf(&b, "%dS", secs)
		}
	}
	return b.String()
}
