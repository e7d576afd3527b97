// Package strings holds the id-list helpers shared by the bulk endpoints,
// the CLI and env parsing.
package strings

import (
	"strings"
)

// DedupeAndTrim trims each id, drops empties and keeps the first occurrence of
// each, in order.
func DedupeAndTrim(values []string) []string {
	if len(values) == 0 {
		return values
	}

	seen := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))
	for _, v := range values {
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		result = append(result, trimmed)
	}
	return result
}

// SplitList splits every value on commas and dedupes the parts, so
// "a,b" "c" and "a, b,c" yield the same list.
//
//	SplitList("t-1, t-2", "t-3,t-1") // []string{"t-1", "t-2", "t-3"}
func SplitList(values ...string) []string {
	var parts []string
	for _, v := range values {
		parts = append(parts, strings.Split(v, ",")...)
	}
	if out := DedupeAndTrim(parts); len(out) > 0 {
		return out
	}
	return nil
}
