package audit

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"agentgate/internal/domain"
)

// DefaultPreviewLen bounds result_preview.
const DefaultPreviewLen = 256

var secretValueRe = regexp.MustCompile(`(?i)(bearer\s+[a-z0-9._\-]+|sk-[a-z0-9]{16,}|\d{6,}:[a-z0-9_\-]{30,})`)

// Preview renders v as a short, non-sensitive string for the audit log.
// Map keys that look like credentials are masked, bearer tokens and API key
// shapes are replaced, and the result is cut to max runes.
func Preview(v any, max int) string {
	if max <= 0 {
		max = DefaultPreviewLen
	}
	var s string
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		s = val
	case error:
		s = val.Error()
	default:
		b, err := json.Marshal(redact(val))
		if err != nil {
			s = fmt.Sprint(val)
		} else {
			s = string(b)
		}
	}
	s = secretValueRe.ReplaceAllString(s, domain.Redacted)
	s = strings.Join(strings.Fields(s), " ")
	if utf8.RuneCountInString(s) > max {
		r := []rune(s)
		s = string(r[:max]) + "..."
	}
	return s
}

func redact(v any) any {
	// Round-trip through JSON so structs are treated like maps.
	b, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var generic any
	if err := json.Unmarshal(b, &generic); err != nil {
		return v
	}
	return redactValue(generic)
}

func redactValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			if domain.IsSensitiveKey(k) {
				out[k] = domain.Redacted
				continue
			}
			out[k] = redactValue(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = redactValue(item)
		}
		return out
	default:
		return v
	}
}
