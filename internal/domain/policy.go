package domain

import "strings"

// Mode is a global safety posture. It only ever narrows what the whitelist allows.
type Mode string

const (
	ModeNormal   Mode = "normal"
	ModeFairplay Mode = "fairplay"
	ModeCurious  Mode = "curious"
)

// Known reports whether m is one of the enumerated modes.
func (m Mode) Known() bool {
	switch m {
	case ModeNormal, ModeFairplay, ModeCurious:
		return true
	}
	return false
}

// ParseMode normalises s. Unknown values are returned as-is so that the mode
// guard can treat them as most restrictive instead of silently defaulting.
func ParseMode(s string) Mode {
	return Mode(strings.ToLower(strings.TrimSpace(s)))
}

// Well-known action categories.
const (
	CategoryCheat          = "cheat"
	CategoryGameMemory     = "game_memory"
	CategorySystemCritical = "system_critical"
	CategoryDiscordPost    = "discord_post"
)

// PolicyEntry is one whitelist record.
type PolicyEntry struct {
	ActionName string `yaml:"name" json:"name" validate:"required"`
	// RequiresConfirmation is nil when unset, which means true (fail-closed).
	RequiresConfirmation *bool    `yaml:"requires_confirmation,omitempty" json:"requires_confirmation,omitempty"`
	Mutating             bool     `yaml:"mutating,omitempty" json:"mutating,omitempty"`
	Category             string   `yaml:"category,omitempty" json:"category,omitempty"`
	Resource             string   `yaml:"resource,omitempty" json:"resource,omitempty"` // exclusive lease key, e.g. "browser"
	BlacklistPatterns    []string `yaml:"blacklist,omitempty" json:"blacklist,omitempty"`
	TimeoutSeconds       int      `yaml:"timeout_seconds,omitempty" json:"timeout_seconds,omitempty" validate:"gte=0,lte=3600"`
	Description          string   `yaml:"description,omitempty" json:"description,omitempty"`
	// ReadOnlyOperations lists values of params["operation"] that do not
	// mutate anything (e.g. "read" for file_operation). Such requests skip
	// the self-protection check.
	ReadOnlyOperations []string `yaml:"read_only_operations,omitempty" json:"read_only_operations,omitempty"`
}

// MutatesWith reports whether a request with params mutates state under e.
func (e PolicyEntry) MutatesWith(params map[string]any) bool {
	if !e.Mutating {
		return false
	}
	op, _ := params["operation"].(string)
	if op == "" {
		return true
	}
	for _, ro := range e.ReadOnlyOperations {
		if strings.EqualFold(ro, op) {
			return false
		}
	}
	return true
}

// ConfirmationRequired resolves the fail-closed default.
func (e PolicyEntry) ConfirmationRequired() bool {
	if e.RequiresConfirmation == nil {
		return true
	}
	return *e.RequiresConfirmation
}

// ModeRule is the restriction attached to a safety mode.
type ModeRule struct {
	Mode             Mode     `yaml:"mode" json:"mode"`
	DeniedCategories []string `yaml:"denied_categories,omitempty" json:"denied_categories,omitempty"`
	// DiscordAllowed is the curious-mode sub-policy for discord_post. nil means false.
	DiscordAllowed *bool `yaml:"discord_allowed,omitempty" json:"discord_allowed,omitempty"`
}

// Bool returns a pointer to v, for optional policy flags.
func Bool(v bool) *bool { return &v }
