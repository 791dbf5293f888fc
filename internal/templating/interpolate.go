// Package templating resolves template variable tokens in panel queries and
// tracks which panels and variables depend on which variables.
package templating

import (
	"regexp"

	"github.com/inferloop/dashengine/pkg/models"
)

// tokenPattern matches $name, ${name}, ${name:format} and [[name]]. Names are
// maximal runs of word characters, so $env never matches inside $environment.
var tokenPattern = regexp.MustCompile(`\$(\w+)|\$\{(\w+)(?::(\w+))?\}|\[\[(\w+)(?::(\w+))?\]\]`)

type token struct {
	name   string
	format Format
}

func parseToken(match []string) token {
	switch {
	case match[1] != "":
		return token{name: match[1]}
	case match[2] != "":
		return token{name: match[2], format: Format(match[3])}
	default:
		return token{name: match[4], format: Format(match[5])}
	}
}

// InterpolateString replaces every known token in s. Tokens naming unknown
// variables are left as they are. Substituted text is not scanned again.
func InterpolateString(s string, scope *Scope) string {
	if scope == nil || len(s) < 2 {
		return s
	}
	return tokenPattern.ReplaceAllStringFunc(s, func(m string) string {
		tok := parseToken(tokenPattern.FindStringSubmatch(m))
		e, ok := scope.entries[tok.name]
		if !ok {
			return m
		}
		if e.raw {
			return e.values[0]
		}
		return apply(tok.format, tok.name, e.values)
	})
}

// Interpolate returns a copy of value with every string leaf interpolated.
// Strings, slices, maps and targets are walked recursively; any other value
// is returned as is. The input is not modified.
func Interpolate(value interface{}, scope *Scope) interface{} {
	return mapStrings(value, func(s string) string { return InterpolateString(s, scope) })
}

// InterpolateTargets interpolates a panel's targets, returning new targets.
func InterpolateTargets(targets []models.Target, scope *Scope) []models.Target {
	out := make([]models.Target, len(targets))
	for i, t := range targets {
		out[i] = Interpolate(t, scope).(models.Target)
	}
	return out
}

func mapStrings(value interface{}, fn func(string) string) interface{} {
	switch v := value.(type) {
	case string:
		return fn(v)
	case []string:
		out := make([]string, len(v))
		for i, s := range v {
			out[i] = fn(s)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, item := range v {
			out[i] = mapStrings(item, fn)
		}
		return out
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for k, item := range v {
			out[k] = mapStrings(item, fn)
		}
		return out
	case map[string]string:
		out := make(map[string]string, len(v))
		for k, s := range v {
			out[k] = fn(s)
		}
		return out
	case models.Target:
		if v == nil {
			return v
		}
		out := make(models.Target, len(v))
		for k, item := range v {
			out[k] = mapStrings(item, fn)
		}
		return out
	case []models.Target:
		out := make([]models.Target, len(v))
		for i, t := range v {
			out[i] = mapStrings(t, fn).(models.Target)
		}
		return out
	default:
		return value
	}
}

func visitStrings(value interface{}, fn func(string)) {
	mapStrings(value, func(s string) string {
		fn(s)
		return s
	})
}
