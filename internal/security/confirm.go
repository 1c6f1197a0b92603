package security

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"agentgate/internal/domain"
)

const maxDetailLen = 200

var placeholderRe = regexp.MustCompile(`\{([a-zA-Z0-9_]+)\}`)

// riskKeywords mark a confirmation prompt as high risk.
var riskKeywords = []string{
	"system32", "registry", "sudo", "rm -rf", "rmdir", "format",
	"delete", "powershell", "cmd.exe", "/etc/",
}

// Describe renders the human-readable explanation shown with a
// confirmation_required response. template may reference params as {key};
// when empty, fallback (usually the capability's own description) is used.
// The rendered text is followed by one "Key: value" line per param.
// Credential-like params are masked in both places, since the text is also
// the audit preview of a confirmation_required response.
func Describe(actionName, template, fallback string, params map[string]any) string {
	text := template
	if text == "" {
		text = fallback
	}
	if text == "" {
		text = "Run action " + actionName
	}
	text = placeholderRe.ReplaceAllStringFunc(text, func(m string) string {
		key := m[1 : len(m)-1]
		v, ok := params[key]
		if !ok {
			return m
		}
		return truncate(detailValue(key, v), 80)
	})

	var sb strings.Builder
	if isHighRisk(params) {
		sb.WriteString("HIGH RISK: ")
	}
	sb.WriteString(text)

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&sb, "\n%s: %s", readableKey(k), truncate(detailValue(k, params[k]), maxDetailLen))
	}
	return sb.String()
}

func detailValue(key string, v any) string {
	if domain.IsSensitiveKey(key) {
		return domain.Redacted
	}
	if m, ok := v.(map[string]any); ok {
		return stringify(maskNested(m))
	}
	return stringify(v)
}

func maskNested(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if domain.IsSensitiveKey(k) {
			out[k] = domain.Redacted
			continue
		}
		if sub, ok := v.(map[string]any); ok {
			v = maskNested(sub)
		}
		out[k] = v
	}
	return out
}

func isHighRisk(params map[string]any) bool {
	flat := strings.ToLower(FlattenParams(params))
	for _, kw := range riskKeywords {
		if strings.Contains(flat, kw) {
			return true
		}
	}
	return false
}

func readableKey(k string) string {
	words := strings.Fields(strings.ReplaceAll(k, "_", " "))
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

func stringify(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case nil:
		return ""
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(b)
	}
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len([]rune(s)) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n]) + "..."
}
