package interval

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/inferloop/dashengine/pkg/constants"
	"github.com/inferloop/dashengine/pkg/models"
)

var relativePattern = regexp.MustCompile(`^now(?:([+-])(\d+)([smhdwMy]))?(?:/([smhdwMy]))?$`)

var absoluteLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// ParseTime evaluates a time bound against now. It accepts "now",
// "now-6h", "now+15m", "now-1d/d" (rounded to the start of the unit),
// RFC3339 timestamps, plain dates and epoch milliseconds.
func ParseTime(expr string, now time.Time) (time.Time, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return time.Time{}, fmt.Errorf("empty time expression")
	}

	if m := relativePattern.FindStringSubmatch(expr); m != nil {
		t := now
		if m[1] != "" {
			n, err := strconv.Atoi(m[2])
			if err != nil {
				return time.Time{}, fmt.Errorf("invalid offset in %q: %w", expr, err)
			}
			if m[1] == "-" {
				n = -n
			}
			t = shift(t, n, m[3])
		}
		if m[4] != "" {
			t = truncate(t, m[4])
		}
		return t, nil
	}

	if ms, err := strconv.ParseInt(expr, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC(), nil
	}

	for _, layout := range absoluteLayouts {
		if t, err := time.Parse(layout, expr); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time expression %q", expr)
}

func shift(t time.Time, n int, unit string) time.Time {
	switch unit {
	case "s":
		return t.Add(time.Duration(n) * time.Second)
	case "m":
		return t.Add(time.Duration(n) * time.Minute)
	case "h":
		return t.Add(time.Duration(n) * time.Hour)
	case "d":
		return t.AddDate(0, 0, n)
	case "w":
		return t.AddDate(0, 0, 7*n)
	case "M":
		return t.AddDate(0, n, 0)
	case "y":
		return t.AddDate(n, 0, 0)
	}
	return t
}

func truncate(t time.Time, unit string) time.Time {
	y, mo, d := t.Date()
	loc := t.Location()
	switch unit {
	case "s":
		return t.Truncate(time.Second)
	case "m":
		return t.Truncate(time.Minute)
	case "h":
		return time.Date(y, mo, d, t.Hour(), 0, 0, 0, loc)
	case "d":
		return time.Date(y, mo, d, 0, 0, 0, 0, loc)
	case "w":
		offset := (int(t.Weekday()) + 6) % 7
		return time.Date(y, mo, d-offset, 0, 0, 0, 0, loc)
	case "M":
		return time.Date(y, mo, 1, 0, 0, 0, 0, loc)
	case "y":
		return time.Date(y, 1, 1, 0, 0, 0, 0, loc)
	}
	return t
}

// DefaultTimeRange is the range new dashboards start with.
func DefaultTimeRange() models.TimeRange {
	return models.TimeRange{From: constants.DefaultTimeFrom, To: constants.DefaultTimeTo}
}

// Resolve evaluates both bounds of tr against now. It fails when a bound
// does not parse or when from is after to.
func Resolve(tr models.TimeRange, now time.Time) (models.ResolvedTimeRange, error) {
	from, err := ParseTime(tr.From, now)
	if err != nil {
		return models.ResolvedTimeRange{}, fmt.Errorf("from: %w", err)
	}
	to, err := ParseTime(tr.To, now)
	if err != nil {
		return models.ResolvedTimeRange{}, fmt.Errorf("to: %w", err)
	}
	if from.After(to) {
		return models.ResolvedTimeRange{}, fmt.Errorf("from %s is after to %s", from.Format(time.RFC3339), to.Format(time.RFC3339))
	}
	return models.ResolvedTimeRange{From: from, To: to, Raw: tr}, nil
}

// ResolveOrDefault is Resolve that falls back to the default range instead of
// failing. The returned bool is false when the fallback was used.
func ResolveOrDefault(tr models.TimeRange, now time.Time) (models.ResolvedTimeRange, bool) {
	if r, err := Resolve(tr, now); err == nil {
		return r, true
	}
	r, _ := Resolve(DefaultTimeRange(), now)
	return r, false
}
