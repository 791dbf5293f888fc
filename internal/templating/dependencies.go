package templating

import (
	"sort"

	"github.com/inferloop/dashengine/pkg/models"
)

// ReferencedVariables lists the distinct variable names referenced anywhere
// in value, sorted.
func ReferencedVariables(value interface{}) []string {
	seen := map[string]struct{}{}
	visitStrings(value, func(s string) {
		for _, m := range tokenPattern.FindAllStringSubmatch(s, -1) {
			seen[parseToken(m).name] = struct{}{}
		}
	})

	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// References reports whether value contains a token for name.
func References(value interface{}, name string) bool {
	found := false
	visitStrings(value, func(s string) {
		if found {
			return
		}
		for _, m := range tokenPattern.FindAllStringSubmatch(s, -1) {
			if parseToken(m).name == name {
				found = true
				return
			}
		}
	})
	return found
}

// PanelReferences reports whether any query input of p references name: its
// targets, its datasource uid or its minimum interval.
func PanelReferences(p *models.Panel, name string) bool {
	if p == nil {
		return false
	}
	if References(p.Targets, name) || References(p.Interval, name) {
		return true
	}
	return p.Datasource != nil && References(p.Datasource.UID, name)
}

// DependentPanels returns the ids of panels whose queries reference name.
func DependentPanels(panels []*models.Panel, name string) []int {
	var ids []int
	for _, p := range panels {
		if PanelReferences(p, name) {
			ids = append(ids, p.ID)
		}
	}
	return ids
}

// DependentVariables returns the variables whose query references name,
// directly or through another variable, in list order.
func DependentVariables(vars []*models.Variable, name string) []*models.Variable {
	affected := map[string]bool{name: true}
	// Variables can only depend on variables that precede them, but a
	// fixed-point loop tolerates any ordering.
	for changed := true; changed; {
		changed = false
		for _, v := range vars {
			if v == nil || affected[v.Name] {
				continue
			}
			for _, ref := range variableRefs(v) {
				if affected[ref] {
					affected[v.Name] = true
					changed = true
					break
				}
			}
		}
	}

	var out []*models.Variable
	for _, v := range vars {
		if v != nil && v.Name != name && affected[v.Name] {
			out = append(out, v)
		}
	}
	return out
}

func variableRefs(v *models.Variable) []string {
	refs := ReferencedVariables(v.Query)
	if v.Datasource != nil {
		refs = append(refs, ReferencedVariables(v.Datasource.UID)...)
	}
	return refs
}
