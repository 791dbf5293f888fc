package models

import (
	"encoding/json"
	"fmt"

	"github.com/inferloop/dashengine/pkg/constants"
)

// VariableType selects how a template variable gets its options.
type VariableType string

const (
	VariableQuery      VariableType = "query"
	VariableCustom     VariableType = "custom"
	VariableConstant   VariableType = "constant"
	VariableInterval   VariableType = "interval"
	VariableDatasource VariableType = "datasource"
	VariableTextbox    VariableType = "textbox"
	VariableAdhoc      VariableType = "adhoc"
)

// VariableRefresh is the policy deciding when a variable's options are
// recomputed.
type VariableRefresh int

const (
	RefreshNever              VariableRefresh = 0
	RefreshOnDashboardLoad    VariableRefresh = 1
	RefreshOnTimeRangeChanged VariableRefresh = 2
)

func (r VariableRefresh) String() string {
	switch r {
	case RefreshOnDashboardLoad:
		return "onDashboardLoad"
	case RefreshOnTimeRangeChanged:
		return "onTimeRangeChanged"
	default:
		return "never"
	}
}

// StringList is a JSON value that may be written either as a single string
// or as an array of strings.
type StringList []string

// UnmarshalJSON accepts a string, an array of strings or null.
func (s *StringList) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*s = StringList{single}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return fmt.Errorf("expected string or string array: %w", err)
	}
	*s = StringList(many)
	return nil
}

// MarshalJSON writes one element as a bare string and anything else as an array.
func (s StringList) MarshalJSON() ([]byte, error) {
	if len(s) == 1 {
		return json.Marshal(s[0])
	}
	if s == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]string(s))
}

// VariableOption is one selectable value of a variable.
type VariableOption struct {
	Text     StringList `json:"text"`
	Value    StringList `json:"value"`
	Selected bool       `json:"selected"`
}

// Option builds a single-valued option whose text and value match.
func Option(value string) VariableOption {
	return VariableOption{Text: StringList{value}, Value: StringList{value}}
}

// Variable is a named template variable.
type Variable struct {
	Name        string           `json:"name"`
	Label       string           `json:"label,omitempty"`
	Description string           `json:"description,omitempty"`
	Type        VariableType     `json:"type"`
	Query       interface{}      `json:"query,omitempty"`
	Datasource  *DatasourceRef   `json:"datasource,omitempty"`
	Current     VariableOption   `json:"current"`
	Options     []VariableOption `json:"options"`
	Multi       bool             `json:"multi"`
	IncludeAll  bool             `json:"includeAll"`
	AllValue    string           `json:"allValue,omitempty"`
	Refresh     VariableRefresh  `json:"refresh"`
	Regex       string           `json:"regex,omitempty"`
	Hide        int              `json:"hide"`
}

// QueryString returns the query when it is a plain string. Query variables
// backed by structured queries return "".
func (v *Variable) QueryString() string {
	s, _ := v.Query.(string)
	return s
}

// Values returns the currently selected values.
func (v *Variable) Values() []string {
	return []string(v.Current.Value)
}

// IsAll reports whether the "All" option is selected.
func (v *Variable) IsAll() bool {
	return v.IncludeAll && len(v.Current.Value) == 1 && v.Current.Value[0] == constants.AllValueMarker
}

// SetValues replaces the current selection and marks matching options.
// A single-value variable keeps only the first value.
func (v *Variable) SetValues(values []string) {
	if !v.Multi && len(values) > 1 {
		values = values[:1]
	}

	selected := make(map[string]struct{}, len(values))
	for _, val := range values {
		selected[val] = struct{}{}
	}

	text := make(StringList, 0, len(values))
	for _, val := range values {
		text = append(text, v.textFor(val))
	}

	v.Current = VariableOption{
		Text:     text,
		Value:    append(StringList(nil), values...),
		Selected: true,
	}
	for i := range v.Options {
		_, ok := selected[firstOf(v.Options[i].Value)]
		v.Options[i].Selected = ok
	}
}

func (v *Variable) textFor(value string) string {
	if value == constants.AllValueMarker {
		return constants.AllOptionText
	}
	for _, o := range v.Options {
		if firstOf(o.Value) == value && len(o.Text) > 0 {
			return o.Text[0]
		}
	}
	return value
}

// Clone returns a structural copy of the variable.
func (v *Variable) Clone() *Variable {
	if v == nil {
		return nil
	}
	out := *v
	out.Query = DeepCopy(v.Query)
	if v.Datasource != nil {
		ds := *v.Datasource
		out.Datasource = &ds
	}
	out.Current = v.Current.clone()
	if v.Options != nil {
		out.Options = make([]VariableOption, len(v.Options))
		for i, o := range v.Options {
			out.Options[i] = o.clone()
		}
	}
	return &out
}

func (o VariableOption) clone() VariableOption {
	return VariableOption{
		Text:     StringList(cloneStrings(o.Text)),
		Value:    StringList(cloneStrings(o.Value)),
		Selected: o.Selected,
	}
}

func firstOf(s StringList) string {
	if len(s) == 0 {
		return ""
	}
	return s[0]
}
