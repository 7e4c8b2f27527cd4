// Package timespan parses the compact time-span format used for the
// hardware sync cadence. Only hours, minutes and seconds are recognised:
// "15m", "1h 30m", "90s". A bare integer is a number of seconds.
package timespan

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DefaultSyncInterval is the fallback cadence applied when no interval has
// been configured or the configured string cannot be parsed leniently.
const DefaultSyncInterval = 15 * time.Minute

// Parse converts a compact time-span string into a duration. Units coarser
// than hours are rejected; spans must resolve to whole seconds.
func Parse(raw string) (time.Duration, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return 0, fmt.Errorf("empty time span")
	}

	// A bare integer is seconds.
	if secs, err := strconv.ParseInt(trimmed, 10, 64); err == nil {
		if secs <= 0 {
			return 0, fmt.Errorf("time span must be positive, got %q", raw)
		}
		return time.Duration(secs) * time.Second, nil
	}

	var total time.Duration
	for _, field := range splitFields(trimmed) {
		d, err := parseField(field)
		if err != nil {
			return 0, err
		}
		total += d
	}

	if total <= 0 {
		return 0, fmt.Errorf("time span must be positive, got %q", raw)
	}
	return total, nil
}

// ParseLenient parses raw and falls back to DefaultSyncInterval when the
// value is malformed. The configuration interface accepts invalid interval
// strings without raising an error, so the soft fallback happens here rather
// than at the settings endpoint.
func ParseLenient(raw string) time.Duration {
	d, err := Parse(raw)
	if err != nil {
		return DefaultSyncInterval
	}
	return d
}

// Seconds returns the span as whole seconds, the unit stored on machine
// records and echoed on the read interface.
func Seconds(d time.Duration) int {
	return int(d / time.Second)
}

// Format renders a duration back into the compact form, largest unit first.
// Zero and negative durations render as "0s".
func Format(d time.Duration) string {
	if d <= 0 {
		return "0s"
	}

	secs := int64(d / time.Second)
	var parts []string
	if h := secs / 3600; h > 0 {
		parts = append(parts, fmt.Sprintf("%dh", h))
		secs -= h * 3600
	}
	if m := secs / 60; m > 0 {
		parts = append(parts, fmt.Sprintf("%dm", m))
		secs -= m * 60
	}
	if secs > 0 || len(parts) == 0 {
		parts = append(parts, fmt.Sprintf("%ds", secs))
	}
	return strings.Join(parts, " ")
}

func splitFields(s string) []string {
	// "1h30m" and "1h 30m" are both valid; break on unit boundaries first,
	// then discard whitespace-only fragments.
	var fields []string
	start := 0
	for i, r := range s {
		switch r {
		case 'h', 'm', 's':
			fields = append(fields, strings.TrimSpace(s[start:i+1]))
			start = i + 1
		}
	}
	if rest := strings.TrimSpace(s[start:]); rest != "" {
		fields = append(fields, rest)
	}

	out := fields[:0]
	for _, f := range fields {
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

func parseField(field string) (time.Duration, error) {
	if len(field) < 2 {
		return 0, fmt.Errorf("invalid time span field %q", field)
	}

	unit := field[len(field)-1]
	value, err := strconv.ParseInt(strings.TrimSpace(field[:len(field)-1]), 10, 64)
	if err != nil || value < 0 {
		return 0, fmt.Errorf("invalid time span field %q", field)
	}

	switch unit {
	case 'h':
		return time.Duration(value) * time.Hour, nil
	case 'm':
		return time.Duration(value) * time.Minute, nil
	case 's':
		return time.Duration(value) * time.Second, nil
	default:
		return 0, fmt.Errorf("unknown time span unit %q in %q", string(unit), field)
	}
}
