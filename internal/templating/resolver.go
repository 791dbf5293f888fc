package templating

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/samber/lo"
	"github.com/sirupsen/logrus"

	"github.com/inferloop/dashengine/pkg/constants"
	"github.com/inferloop/dashengine/pkg/errors"
	"github.com/inferloop/dashengine/pkg/interfaces"
	"github.com/inferloop/dashengine/pkg/models"
)

// Resolver recomputes variable options and keeps selections valid.
type Resolver struct {
	provider interfaces.OptionsProvider
	logger   *logrus.Logger
}

// NewResolver creates a resolver. provider may be nil, in which case query
// and datasource variables keep whatever options they were stored with.
func NewResolver(provider interfaces.OptionsProvider, logger *logrus.Logger) *Resolver {
	if logger == nil {
		logger = logrus.New()
	}
	return &Resolver{provider: provider, logger: logger}
}

// ForTrigger returns the variables whose refresh policy matches trigger.
// onTimeRangeChanged variables also refresh on dashboard load.
func ForTrigger(vars []*models.Variable, trigger models.VariableRefresh) []*models.Variable {
	return lo.Filter(vars, func(v *models.Variable, _ int) bool {
		if v == nil {
			return false
		}
		switch trigger {
		case models.RefreshOnDashboardLoad:
			return v.Refresh == models.RefreshOnDashboardLoad || v.Refresh == models.RefreshOnTimeRangeChanged
		case models.RefreshOnTimeRangeChanged:
			return v.Refresh == models.RefreshOnTimeRangeChanged
		}
		return false
	})
}

// RefreshAll recomputes options of targets in order. all is the complete
// variable list used to interpolate chained queries. Failures are logged and
// leave the variable untouched; the first failure is returned.
func (r *Resolver) RefreshAll(ctx context.Context, all, targets []*models.Variable, tr models.ResolvedTimeRange) error {
	var firstErr error
	for _, v := range targets {
		if err := r.Refresh(ctx, v, all, tr); err != nil {
			r.logger.WithFields(logrus.Fields{
				"variable": v.Name,
				"type":     v.Type,
			}).WithError(err).Warn("Failed to refresh variable options")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// Refresh recomputes the options of v in place.
func (r *Resolver) Refresh(ctx context.Context, v *models.Variable, all []*models.Variable, tr models.ResolvedTimeRange) error {
	var options []models.VariableOption

	switch v.Type {
	case models.VariableCustom, models.VariableInterval:
		options = splitOptions(v.QueryString())

	case models.VariableConstant:
		options = []models.VariableOption{models.Option(v.QueryString())}

	case models.VariableTextbox:
		value := v.QueryString()
		if vals := v.Values(); len(vals) > 0 {
			value = vals[0]
		}
		options = []models.VariableOption{models.Option(value)}

	case models.VariableQuery, models.VariableDatasource:
		if r.provider == nil {
			r.logger.WithField("variable", v.Name).Debug("No options provider, keeping stored options")
			return nil
		}
		scope := NewScope(others(all, v.Name)).WithTimeRange(tr, 0)
		query := v.Clone()
		query.Query = Interpolate(v.Query, scope)
		if query.Datasource != nil {
			query.Datasource.UID = InterpolateString(query.Datasource.UID, scope)
		}

		fetched, err := r.provider.VariableOptions(ctx, query, tr)
		if err != nil {
			return errors.WrapError(err, errors.ErrorTypeQuery, errors.CodeQueryFailed,
				fmt.Sprintf("failed to fetch options for variable %q", v.Name))
		}
		options, err = filterOptions(fetched, v.Regex)
		if err != nil {
			return errors.NewValidationError("regex", fmt.Sprintf("variable %q: %v", v.Name, err))
		}

	default:
		return nil
	}

	if v.IncludeAll && v.Type != models.VariableConstant && v.Type != models.VariableTextbox {
		allOption := models.VariableOption{
			Text:  models.StringList{constants.AllOptionText},
			Value: models.StringList{constants.AllValueMarker},
		}
		options = append([]models.VariableOption{allOption}, options...)
	}

	v.Options = options
	KeepSelectionValid(v)
	return nil
}

// KeepSelectionValid drops selected values that are no longer options. When
// nothing valid remains the first option with a value is selected.
func KeepSelectionValid(v *models.Variable) {
	first, ok := lo.Find(v.Options, func(o models.VariableOption) bool { return len(o.Value) > 0 })
	if !ok {
		return
	}
	if v.Type == models.VariableConstant || v.Type == models.VariableTextbox {
		v.SetValues([]string{first.Value[0]})
		return
	}

	valid := make(map[string]struct{}, len(v.Options))
	for _, o := range v.Options {
		if len(o.Value) > 0 {
			valid[o.Value[0]] = struct{}{}
		}
	}

	kept := lo.Filter(v.Values(), func(val string, _ int) bool {
		_, ok := valid[val]
		return ok
	})
	if len(kept) == 0 {
		kept = []string{first.Value[0]}
	}
	v.SetValues(kept)
}

// splitOptions parses "a, b, label : value" lists used by custom and interval
// variables. Commas may be escaped with a backslash.
func splitOptions(query string) []models.VariableOption {
	var parts []string
	var cur strings.Builder
	for i := 0; i < len(query); i++ {
		c := query[i]
		if c == '\\' && i+1 < len(query) && query[i+1] == ',' {
			cur.WriteByte(',')
			i++
			continue
		}
		if c == ',' {
			parts = append(parts, cur.String())
			cur.Reset()
			continue
		}
		cur.WriteByte(c)
	}
	parts = append(parts, cur.String())

	options := make([]models.VariableOption, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if text, value, ok := strings.Cut(p, " : "); ok {
			options = append(options, models.VariableOption{
				Text:  models.StringList{strings.TrimSpace(text)},
				Value: models.StringList{strings.TrimSpace(value)},
			})
			continue
		}
		options = append(options, models.Option(p))
	}
	return options
}

func filterOptions(options []models.VariableOption, pattern string) ([]models.VariableOption, error) {
	options = lo.Filter(options, func(o models.VariableOption, _ int) bool { return len(o.Value) > 0 })
	options = lo.UniqBy(options, func(o models.VariableOption) string {
		return strings.Join(o.Value, "\x00")
	})
	if pattern == "" {
		return options, nil
	}
	pattern = strings.TrimSuffix(strings.TrimPrefix(pattern, "/"), "/")
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	return lo.Filter(options, func(o models.VariableOption, _ int) bool {
		return len(o.Value) > 0 && re.MatchString(o.Value[0])
	}), nil
}

func others(vars []*models.Variable, name string) []*models.Variable {
	return lo.Filter(vars, func(v *models.Variable, _ int) bool { return v != nil && v.Name != name })
}

// ValidateNew checks that v can be added next to existing.
func ValidateNew(v *models.Variable, existing []*models.Variable) error {
	if v == nil || v.Name == "" {
		return errors.NewValidationError("name", "variable name is required")
	}
	if strings.ContainsFunc(v.Name, func(r rune) bool {
		return !(r == '_' || r >= '0' && r <= '9' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z')
	}) {
		return errors.NewValidationError("name", "variable name may only contain letters, digits and underscores")
	}
	if strings.HasPrefix(v.Name, "__") {
		return errors.NewValidationError("name", "names starting with __ are reserved")
	}
	for _, e := range existing {
		if e != nil && e.Name == v.Name {
			return errors.NewValidationError("name", errors.ErrDuplicateName.Error()).WithContext("name", v.Name)
		}
	}
	if v.Type == "" {
		return errors.NewValidationError("type", "variable type is required")
	}
	return nil
}
