package models

import (
	"github.com/mitchellh/copystructure"
)

// Target is one query of a panel. Its shape belongs to the data source, so it
// is kept as a generic JSON object.
type Target map[string]interface{}

// RefID returns the target's refId, or "" when it has none.
func (t Target) RefID() string {
	return t.String("refId")
}

// String returns a string field, or "" when missing or not a string.
func (t Target) String(key string) string {
	if s, ok := t[key].(string); ok {
		return s
	}
	return ""
}

// Hidden reports whether the target is disabled in the editor.
func (t Target) Hidden() bool {
	h, _ := t["hide"].(bool)
	return h
}

// Datasource returns the target-level datasource reference, if any.
func (t Target) Datasource() *DatasourceRef {
	switch v := t["datasource"].(type) {
	case string:
		return &DatasourceRef{UID: v}
	case map[string]interface{}:
		ref := &DatasourceRef{}
		ref.Type, _ = v["type"].(string)
		ref.UID, _ = v["uid"].(string)
		return ref
	case *DatasourceRef:
		return v
	}
	return nil
}

// Clone deep copies the target.
func (t Target) Clone() Target {
	if t == nil {
		return nil
	}
	return Target(deepCopyMap(t))
}

func deepCopyMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	// JSON-shaped values contain no unexported fields or channels, so the
	// copy cannot fail.
	return copystructure.Must(copystructure.Copy(m)).(map[string]interface{})
}

// DeepCopy copies an arbitrary JSON-shaped value.
func DeepCopy(v interface{}) interface{} {
	if v == nil {
		return nil
	}
	return copystructure.Must(copystructure.Copy(v))
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	return append([]string(nil), in...)
}
