package templating

import (
	"strconv"
	"time"

	"github.com/inferloop/dashengine/internal/interval"
	"github.com/inferloop/dashengine/pkg/constants"
	"github.com/inferloop/dashengine/pkg/models"
)

// Built-in variable names.
const (
	BuiltinFrom        = "__from"
	BuiltinTo          = "__to"
	BuiltinInterval    = "__interval"
	BuiltinIntervalMs  = "__interval_ms"
	BuiltinRange       = "__range"
	BuiltinRangeS      = "__range_s"
	BuiltinRangeMs     = "__range_ms"
	BuiltinDashboard   = "__dashboard"
	BuiltinDashboardID = "__dashboard_uid"
)

var builtins = map[string]bool{
	BuiltinFrom: true, BuiltinTo: true,
	BuiltinInterval: true, BuiltinIntervalMs: true,
	BuiltinRange: true, BuiltinRangeS: true, BuiltinRangeMs: true,
	BuiltinDashboard: true, BuiltinDashboardID: true,
}

// IsBuiltin reports whether name is supplied by the engine rather than by a
// dashboard variable.
func IsBuiltin(name string) bool {
	return builtins[name]
}

type entry struct {
	values []string
	// raw values bypass formatting; used for a custom allValue.
	raw bool
}

// Scope is the set of values that tokens resolve against.
type Scope struct {
	entries map[string]entry
}

// NewScope captures the current selection of every variable.
func NewScope(vars []*models.Variable) *Scope {
	s := &Scope{entries: make(map[string]entry, len(vars)+8)}
	for _, v := range vars {
		if v == nil || v.Name == "" {
			continue
		}
		s.entries[v.Name] = resolve(v)
	}
	return s
}

func resolve(v *models.Variable) entry {
	if v.IsAll() {
		if v.AllValue != "" {
			return entry{values: []string{v.AllValue}, raw: true}
		}
		all := make([]string, 0, len(v.Options))
		for _, o := range v.Options {
			for _, val := range o.Value {
				if val != constants.AllValueMarker {
					all = append(all, val)
				}
			}
		}
		return entry{values: all}
	}

	values := v.Values()
	if len(values) == 0 {
		switch v.Type {
		case models.VariableConstant, models.VariableTextbox:
			if q := v.QueryString(); q != "" {
				values = []string{q}
			}
		}
	}
	return entry{values: append([]string(nil), values...)}
}

// Set overrides or adds a value.
func (s *Scope) Set(name string, values ...string) *Scope {
	s.entries[name] = entry{values: values}
	return s
}

// Lookup returns the values bound to name.
func (s *Scope) Lookup(name string) ([]string, bool) {
	e, ok := s.entries[name]
	return e.values, ok
}

// WithTimeRange adds the built-in time variables.
func (s *Scope) WithTimeRange(tr models.ResolvedTimeRange, step time.Duration) *Scope {
	span := tr.Duration()
	s.Set(BuiltinFrom, strconv.FormatInt(tr.From.UnixMilli(), 10))
	s.Set(BuiltinTo, strconv.FormatInt(tr.To.UnixMilli(), 10))
	s.Set(BuiltinRange, interval.Format(span.Truncate(time.Second)))
	s.Set(BuiltinRangeS, strconv.FormatInt(int64(span/time.Second), 10))
	s.Set(BuiltinRangeMs, strconv.FormatInt(span.Milliseconds(), 10))
	if step > 0 {
		s.Set(BuiltinInterval, interval.Format(step))
		s.Set(BuiltinIntervalMs, strconv.FormatInt(step.Milliseconds(), 10))
	}
	return s
}

// WithDashboard adds the built-in dashboard variables.
func (s *Scope) WithDashboard(d *models.Dashboard) *Scope {
	if d == nil {
		return s
	}
	s.Set(BuiltinDashboard, d.Title)
	s.Set(BuiltinDashboardID, d.UID)
	return s
}
