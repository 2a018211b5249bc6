package cache

import (
	"net/url"
	"sort"
	"strings"
)

// excludedKeyFields never contribute to a cache key. They carry credentials or
// response-envelope settings that do not change the resource being addressed.
var excludedKeyFields = map[string]struct{}{
	"api_key":  {},
	"api_sig":  {},
	"sk":       {},
	"token":    {},
	"format":   {},
	"callback": {},
}

// DeriveKey builds the canonical key for one request parameter set.
//
// Pairs are sorted by field name and joined as `k=v` with `|`. Names and
// values are query-escaped so that separators inside a value cannot forge
// another pair. Present but empty values are kept. The operation name must be part of params (for
// example the "method" field) so that different operations never share a key.
func DeriveKey(params map[string]string) string {
	fields := make([]string, 0, len(params))
	for field := range params {
		if _, excluded := excludedKeyFields[field]; excluded {
			continue
		}
		fields = append(fields, field)
	}
	sort.Strings(fields)

	var builder strings.Builder
	for index, field := range fields {
		if index > 0 {
			builder.WriteByte('|')
		}
		builder.WriteString(url.QueryEscape(field))
		builder.WriteByte('=')
		builder.WriteString(url.QueryEscape(params[field]))
	}

	return builder.String()
}
