package utils

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// timestampLayouts are tried in order when a date cell is textual.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"2006/01/02",
	"01/02/2006",
	"02-Jan-2006",
	"Jan 2006",
	"2006-01",
	"2006",
}

// compactDateLayout is an eight-digit YYYYMMDD date, tried before the epoch fallback.
const compactDateLayout = "20060102"

// epochMillisCutoff separates epoch seconds from epoch milliseconds for numeric dates.
// 1e11 seconds is in the year 5138, 1e11 milliseconds is March 1973.
const epochMillisCutoff = 1e11

// ParseTimestamp parses a textual date in one of the supported layouts. Eight digits
// forming a valid calendar date are read as YYYYMMDD. Other purely numeric input is
// treated as a Unix epoch (seconds, or milliseconds above epochMillisCutoff).
// The result is always in UTC.
func ParseTimestamp(value string) (time.Time, error) {
	value = strings.TrimSpace(strings.Trim(value, "\""))
	if value == "" {
		return time.Time{}, fmt.Errorf("empty time value")
	}
	if t, ok := compactDate(value); ok {
		return t, nil
	}
	// A bare four-digit value is a year, not an epoch.
	if len(value) != 4 {
		if n, err := strconv.ParseFloat(value, 64); err == nil {
			return EpochTimestamp(n)
		}
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("parse time %q: no matching layout", value)
}

// NumericTimestamp converts a numeric date cell. Integral values that spell a valid
// YYYYMMDD date are read as such; everything else is a Unix epoch.
func NumericTimestamp(n float64) (time.Time, error) {
	if n >= 1e7 && n < 1e8 && n == math.Trunc(n) {
		if t, ok := compactDate(strconv.FormatInt(int64(n), 10)); ok {
			return t, nil
		}
	}
	return EpochTimestamp(n)
}

func compactDate(value string) (time.Time, bool) {
	if len(value) != len(compactDateLayout) {
		return time.Time{}, false
	}
	for _, r := range value {
		if r < '0' || r > '9' {
			return time.Time{}, false
		}
	}
	t, err := time.Parse(compactDateLayout, value)
	if err != nil {
		return time.Time{}, false
	}
	return t.UTC(), true
}

// EpochTimestamp converts a numeric Unix epoch into a UTC time.
func EpochTimestamp(n float64) (time.Time, error) {
	if math.IsNaN(n) || math.IsInf(n, 0) {
		return time.Time{}, fmt.Errorf("non-finite epoch %v", n)
	}
	if math.Abs(n) >= epochMillisCutoff {
		return time.UnixMilli(int64(n)).UTC(), nil
	}
	sec, frac := math.Modf(n)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC(), nil
}
