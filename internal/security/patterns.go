package security

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// pattern is a compiled blacklist signature together with its source text,
// which is what gets reported in the audit preview on a hit.
type pattern struct {
	source string
	re     *regexp.Regexp
}

// Simple strings are converted to case-insensitive substring patterns.
func compilePatterns(patterns []string) ([]pattern, error) {
	compiled := make([]pattern, 0, len(patterns))
	for _, p := range patterns {
		if strings.TrimSpace(p) == "" {
			continue
		}
		var re *regexp.Regexp
		var err error
		if isRegex(p) {
			re, err = regexp.Compile(p)
		} else {
			re, err = regexp.Compile(`(?i)` + regexp.QuoteMeta(p))
		}
		if err != nil {
			return nil, fmt.Errorf("pattern %q: %w", p, err)
		}
		compiled = append(compiled, pattern{source: p, re: re})
	}
	return compiled, nil
}

func isRegex(s string) bool {
	for _, c := range s {
		switch c {
		case '(', ')', '[', ']', '{', '}', '|', '^', '$', '.', '*', '+', '?', '\\':
			return true
		}
	}
	return false
}

func firstMatch(patterns []pattern, text string) (string, bool) {
	for _, p := range patterns {
		if p.re.MatchString(text) {
			return p.source, true
		}
	}
	return "", false
}

// FlattenParams renders params as deterministic text for blacklist scanning:
// one "key=value" line per leaf, keys sorted, nested maps and slices walked
// with dotted/indexed keys. Code bodies end up verbatim in their value.
func FlattenParams(params map[string]any) string {
	var sb strings.Builder
	flattenInto(&sb, "", params)
	return sb.String()
}

func flattenInto(sb *strings.Builder, prefix string, v any) {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			flattenInto(sb, joinKey(prefix, k), val[k])
		}
	case []any:
		for i, item := range val {
			flattenInto(sb, fmt.Sprintf("%s[%d]", prefix, i), item)
		}
	case []string:
		for i, item := range val {
			flattenInto(sb, fmt.Sprintf("%s[%d]", prefix, i), item)
		}
	case nil:
		writeLeaf(sb, prefix, "")
	case string:
		writeLeaf(sb, prefix, val)
	default:
		b, err := json.Marshal(val)
		if err != nil {
			writeLeaf(sb, prefix, fmt.Sprint(val))
			return
		}
		writeLeaf(sb, prefix, string(b))
	}
}

func joinKey(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}

func writeLeaf(sb *strings.Builder, key, value string) {
	sb.WriteString(key)
	sb.WriteByte('=')
	sb.WriteString(value)
	sb.WriteByte('\n')
}
