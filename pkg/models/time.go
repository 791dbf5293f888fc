package models

import "time"

// TimeRange holds the raw user-facing bounds, e.g. "now-6h" and "now", or
// absolute timestamps.
type TimeRange struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// IsZero reports whether neither bound is set.
func (t TimeRange) IsZero() bool {
	return t.From == "" && t.To == ""
}

// ResolvedTimeRange is a TimeRange evaluated against a point in time.
type ResolvedTimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
	Raw  TimeRange `json:"raw"`
}

// Duration returns the span of the range.
func (r ResolvedTimeRange) Duration() time.Duration {
	return r.To.Sub(r.From)
}
