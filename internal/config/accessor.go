package config

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// GetByPath retrieves a config value by dot-notation path (e.g. "http.port").
func GetByPath(cfg *Config, path string) (any, error) {
	m, err := toMap(cfg)
	if err != nil {
		return nil, err
	}

	var current any = m
	for _, key := range strings.Split(path, ".") {
		switch v := current.(type) {
		case map[string]any:
			val, ok := v[key]
			if !ok {
				return nil, fmt.Errorf("key not found: %s", path)
			}
			current = val
		case []any:
			idx, err := strconv.Atoi(key)
			if err != nil || idx < 0 || idx >= len(v) {
				return nil, fmt.Errorf("invalid array index: %s", key)
			}
			current = v[idx]
		default:
			return nil, fmt.Errorf("cannot traverse into %T at %s", current, key)
		}
	}
	return current, nil
}

// SetByPath sets a config value by dot-notation path. Unknown keys are
// rejected so a typo cannot silently create a setting nothing reads.
// The result is validated; on error cfg is left unchanged.
func SetByPath(cfg *Config, path string, value any) error {
	m, err := toMap(cfg)
	if err != nil {
		return err
	}
	if path == "" {
		return fmt.Errorf("empty path")
	}

	parts := strings.Split(path, ".")
	parent := m
	for _, p := range parts[:len(parts)-1] {
		child, ok := parent[p]
		if !ok {
			return fmt.Errorf("key not found: %s", path)
		}
		childMap, ok := child.(map[string]any)
		if !ok {
			return fmt.Errorf("cannot traverse into %T at %s", child, p)
		}
		parent = childMap
	}

	lastKey := parts[len(parts)-1]
	if _, ok := parent[lastKey]; !ok && !optionalKeys[path] {
		return fmt.Errorf("key not found: %s", path)
	}
	parent[lastKey] = parseValue(value)

	newData, err := json.Marshal(m)
	if err != nil {
		return err
	}
	next := Defaults()
	if err := json.Unmarshal(newData, next); err != nil {
		return fmt.Errorf("cannot set %s: %w", path, err)
	}
	if err := Validate(next); err != nil {
		return err
	}
	*cfg = *next
	return nil
}

// optionalKeys are omitempty fields that may be absent from the marshalled form.
var optionalKeys = map[string]bool{
	"general.logFile":                 true,
	"security.criticalPaths":          true,
	"audit.jsonlPath":                 true,
	"http.apiKey":                     true,
	"http.webhookSecret":              true,
	"channels.telegram.defaultChat":   true,
	"channels.discord":                true,
	"channels.discord.defaultChannel": true,
}

// parseValue tries to convert string values to appropriate Go types.
func parseValue(v any) any {
	s, ok := v.(string)
	if !ok {
		return v
	}

	if s == "true" {
		return true
	}
	if s == "false" {
		return false
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	if strings.HasPrefix(s, "[") {
		var list []any
		if err := json.Unmarshal([]byte(s), &list); err == nil {
			return list
		}
	}
	return s
}

// Sanitize returns a copy of the config with sensitive values masked.
func Sanitize(cfg *Config) *Config {
	data, err := json.Marshal(cfg)
	if err != nil {
		return cfg
	}
	var copy Config
	if err := json.Unmarshal(data, &copy); err != nil {
		return cfg
	}

	copy.HTTP.APIKey = maskString(copy.HTTP.APIKey)
	copy.HTTP.WebhookSecret = maskString(copy.HTTP.WebhookSecret)
	copy.Channels.Telegram.Token = maskString(copy.Channels.Telegram.Token)
	copy.Channels.Discord.Token = maskString(copy.Channels.Discord.Token)
	return &copy
}

// maskString shows first 4 and last 4 chars, masks the rest.
func maskString(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return "***"
	}
	return s[:4] + "****" + s[len(s)-4:]
}

// ListPaths returns all settable config paths with their current values.
func ListPaths(cfg *Config) map[string]any {
	m, err := toMap(cfg)
	if err != nil {
		return nil
	}
	result := make(map[string]any)
	flattenMap("", m, result)
	return result
}

// SortedPaths returns the keys of ListPaths in order.
func SortedPaths(cfg *Config) []string {
	paths := ListPaths(cfg)
	keys := make([]string, 0, len(paths))
	for k := range paths {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func toMap(cfg *Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func flattenMap(prefix string, m map[string]any, result map[string]any) {
	for k, v := range m {
		path := k
		if prefix != "" {
			path = prefix + "." + k
		}
		switch val := v.(type) {
		case map[string]any:
			flattenMap(path, val, result)
		default:
			result[path] = val
		}
	}
}
