// Package interval parses refresh intervals and relative time expressions.
package interval

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"time"
)

var intervalPattern = regexp.MustCompile(`^(\d+)([smhd])$`)

var unitMillis = map[string]int64{
	"s": 1000,
	"m": 60 * 1000,
	"h": 60 * 60 * 1000,
	"d": 24 * 60 * 60 * 1000,
}

// maxMillis is the longest interval a time.Duration can hold.
const maxMillis = math.MaxInt64 / int64(time.Millisecond)

// ParseMillis converts a compact interval such as "10s", "5m", "2h" or "1d"
// to milliseconds. Anything that does not match, or is too long for a
// time.Duration, returns 0, which callers treat as "no refresh".
func ParseMillis(s string) int64 {
	m := intervalPattern.FindStringSubmatch(s)
	if m == nil {
		return 0
	}
	n, err := strconv.ParseInt(m[1], 10, 64)
	unit := unitMillis[m[2]]
	if err != nil || n > maxMillis/unit {
		return 0
	}
	return n * unit
}

// Parse is ParseMillis as a time.Duration.
func Parse(s string) time.Duration {
	return time.Duration(ParseMillis(s)) * time.Millisecond
}

// Valid reports whether s is a usable refresh interval.
func Valid(s string) bool {
	return ParseMillis(s) > 0
}

var niceIntervals = []time.Duration{
	time.Millisecond,
	10 * time.Millisecond,
	50 * time.Millisecond,
	100 * time.Millisecond,
	500 * time.Millisecond,
	time.Second,
	5 * time.Second,
	10 * time.Second,
	15 * time.Second,
	30 * time.Second,
	time.Minute,
	5 * time.Minute,
	10 * time.Minute,
	15 * time.Minute,
	30 * time.Minute,
	time.Hour,
	3 * time.Hour,
	6 * time.Hour,
	12 * time.Hour,
	24 * time.Hour,
	7 * 24 * time.Hour,
	30 * 24 * time.Hour,
}

// Calculate picks the query step for a time range so that roughly
// maxDataPoints points are returned. The result snaps up to a round value and
// is never below minInterval (a compact interval string, may be empty).
func Calculate(span time.Duration, maxDataPoints int, minInterval string) time.Duration {
	if maxDataPoints <= 0 {
		maxDataPoints = 1000
	}
	raw := span / time.Duration(maxDataPoints)
	step := niceIntervals[len(niceIntervals)-1]
	for _, d := range niceIntervals {
		if d >= raw {
			step = d
			break
		}
	}
	if floor := Parse(minInterval); floor > step {
		step = floor
	}
	return step
}

// Format renders a duration in the compact form used by template variables,
// e.g. "30s", "5m", "1h", "7d" or "500ms".
func Format(d time.Duration) string {
	switch {
	case d <= 0:
		return "0s"
	case d%(24*time.Hour) == 0:
		return fmt.Sprintf("%dd", d/(24*time.Hour))
	case d%time.Hour == 0:
		return fmt.Sprintf("%dh", d/time.Hour)
	case d%time.Minute == 0:
		return fmt.Sprintf("%dm", d/time.Minute)
	case d%time.Second == 0:
		return fmt.Sprintf("%ds", d/time.Second)
	default:
		return fmt.Sprintf("%dms", d/time.Millisecond)
	}
}
