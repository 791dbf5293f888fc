// Package search implements dashboard search over stored JSON documents. Every
// store backend that keeps opaque blobs filters them through Collect so that
// search semantics are identical across backends.
package search

import (
	"sort"
	"strings"

	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"github.com/inferloop/dashengine/pkg/models"
)

// Entry is one stored document.
type Entry struct {
	UID  string
	Data []byte
}

// Candidate reports whether a stored document may match q. It only reads the
// fields search looks at, so a negative answer avoids decoding the document.
// Invalid JSON is reported as a candidate so that Collect can log it.
func Candidate(data []byte, q *models.SearchQuery) bool {
	if q == nil || (q.Query == "" && len(q.Tags) == 0) {
		return true
	}
	if !gjson.ValidBytes(data) {
		return true
	}

	fields := gjson.GetManyBytes(data, "title", "description", "tags")
	tags := lo.Map(fields[2].Array(), func(r gjson.Result, _ int) string { return r.String() })

	return matches(fields[0].String(), fields[1].String(), tags, q)
}

// Match reports whether a decoded dashboard matches q.
func Match(d *models.Dashboard, q *models.SearchQuery) bool {
	if q == nil {
		return true
	}
	return matches(d.Title, d.Description, d.Tags, q)
}

func matches(title, description string, tags []string, q *models.SearchQuery) bool {
	for _, want := range q.Tags {
		if !lo.ContainsBy(tags, func(t string) bool { return strings.EqualFold(t, want) }) {
			return false
		}
	}

	needle := strings.ToLower(strings.TrimSpace(q.Query))
	if needle == "" {
		return true
	}
	if strings.Contains(strings.ToLower(title), needle) || strings.Contains(strings.ToLower(description), needle) {
		return true
	}
	return lo.ContainsBy(tags, func(t string) bool { return strings.Contains(strings.ToLower(t), needle) })
}

// Collect decodes the matching entries, orders them most recently updated
// first and applies the query limit. Entries that fail to decode are logged
// and skipped.
func Collect(entries []Entry, q *models.SearchQuery, logger *logrus.Logger) []*models.Dashboard {
	if logger == nil {
		logger = logrus.New()
	}

	results := make([]*models.Dashboard, 0, len(entries))
	for _, entry := range entries {
		if !Candidate(entry.Data, q) {
			continue
		}
		d, err := models.DecodeDashboard(entry.Data)
		if err != nil {
			logger.WithError(err).WithField("uid", entry.UID).Warn("Skipping undecodable dashboard")
			continue
		}
		if d.UID == "" {
			d.UID = entry.UID
		}
		if Match(d, q) {
			results = append(results, d)
		}
	}

	Sort(results)
	if q != nil && q.Limit > 0 && len(results) > q.Limit {
		results = results[:q.Limit]
	}
	return results
}

// Sort orders dashboards by update time, newest first, then by uid.
func Sort(dashboards []*models.Dashboard) {
	sort.SliceStable(dashboards, func(i, j int) bool {
		a, b := dashboards[i].Meta.Updated, dashboards[j].Meta.Updated
		if !a.Equal(b) {
			return a.After(b)
		}
		return dashboards[i].UID < dashboards[j].UID
	})
}
