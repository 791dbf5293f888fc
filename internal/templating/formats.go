package templating

import (
	"encoding/json"
	"net/url"
	"regexp"
	"strings"

	"github.com/samber/lo"

	"github.com/inferloop/dashengine/pkg/constants"
)

// Format selects how a multi-value selection is rendered into a query.
type Format string

const (
	FormatDefault       Format = ""
	FormatCSV           Format = "csv"
	FormatPipe          Format = "pipe"
	FormatRaw           Format = "raw"
	FormatRegex         Format = "regex"
	FormatJSON          Format = "json"
	FormatSingleQuote   Format = "singlequote"
	FormatDoubleQuote   Format = "doublequote"
	FormatSQLString     Format = "sqlstring"
	FormatGlob          Format = "glob"
	FormatText          Format = "text"
	FormatQueryParam    Format = "queryparam"
	FormatLucene        Format = "lucene"
	FormatPercentEncode Format = "percentencode"
)

var luceneSpecial = regexp.MustCompile(`([+\-!(){}\[\]^"~*?:\\/ ]|&&|\|\|)`)

// apply renders values in format f. name is only used by queryparam.
func apply(f Format, name string, values []string) string {
	switch f {
	case FormatCSV, FormatRaw:
		return strings.Join(values, ",")
	case FormatPipe:
		return strings.Join(values, "|")
	case FormatRegex:
		escaped := lo.Map(values, func(v string, _ int) string { return regexp.QuoteMeta(v) })
		if len(escaped) == 1 {
			return escaped[0]
		}
		return "(" + strings.Join(escaped, "|") + ")"
	case FormatJSON:
		data, _ := json.Marshal(values)
		return string(data)
	case FormatSingleQuote:
		return strings.Join(lo.Map(values, func(v string, _ int) string {
			return "'" + strings.ReplaceAll(v, "'", `\'`) + "'"
		}), ",")
	case FormatDoubleQuote:
		return strings.Join(lo.Map(values, func(v string, _ int) string {
			return `"` + strings.ReplaceAll(v, `"`, `\"`) + `"`
		}), ",")
	case FormatSQLString:
		return strings.Join(lo.Map(values, func(v string, _ int) string {
			return "'" + strings.ReplaceAll(v, "'", "''") + "'"
		}), ",")
	case FormatGlob:
		if len(values) == 1 {
			return values[0]
		}
		return "{" + strings.Join(values, ",") + "}"
	case FormatQueryParam:
		return strings.Join(lo.Map(values, func(v string, _ int) string {
			return constants.URLVariablePrefix + url.QueryEscape(name) + "=" + url.QueryEscape(v)
		}), "&")
	case FormatLucene:
		escaped := lo.Map(values, func(v string, _ int) string {
			return luceneSpecial.ReplaceAllString(v, `\$1`)
		})
		if len(escaped) == 1 {
			return escaped[0]
		}
		return "(" + strings.Join(lo.Map(escaped, func(v string, _ int) string { return `"` + v + `"` }), " OR ") + ")"
	case FormatPercentEncode:
		return strings.Join(lo.Map(values, func(v string, _ int) string { return url.QueryEscape(v) }), ",")
	default:
		// FormatDefault and FormatText, plus anything unrecognized.
		return strings.Join(values, constants.MultiValueSeparator)
	}
}
