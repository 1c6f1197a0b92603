package domain

import (
	"context"
	"strings"
	"time"
)

// Redacted replaces values that must never reach logs or audit records.
const Redacted = "[REDACTED]"

var sensitiveKeys = []string{"password", "passwd", "secret", "token", "api_key", "apikey", "authorization", "cookie"}

// IsSensitiveKey reports whether a params or result key names a credential.
func IsSensitiveKey(k string) bool {
	k = strings.ToLower(k)
	for _, s := range sensitiveKeys {
		if strings.Contains(k, s) {
			return true
		}
	}
	return false
}

// AuditRecord is one immutable audit line, created once per request resolution.
type AuditRecord struct {
	ID            string    `json:"id"`
	Timestamp     time.Time `json:"timestamp"`
	ActorID       string    `json:"actor_id"`
	ActionName    string    `json:"action_name"`
	Category      string    `json:"category,omitempty"`
	Mode          Mode      `json:"mode,omitempty"`
	Outcome       Outcome   `json:"outcome"`
	ResultPreview string    `json:"result_preview,omitempty"`
	DurationMs    int64     `json:"duration_ms"`
	Source        string    `json:"source,omitempty"`
}

// AuditSink is an append-only consumer of audit records. The gateway never
// reads its own audit history back through this interface.
type AuditSink interface {
	Append(ctx context.Context, rec AuditRecord) error
	Close() error
}
