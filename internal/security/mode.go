package security

import (
	"fmt"
	"slices"

	"agentgate/internal/domain"
)

// ModeTable maps each safety mode to its restriction rule.
type ModeTable map[domain.Mode]domain.ModeRule

// DefaultModeTable is the built-in restriction table.
func DefaultModeTable() ModeTable {
	return ModeTable{
		domain.ModeNormal: {Mode: domain.ModeNormal},
		domain.ModeFairplay: {
			Mode:             domain.ModeFairplay,
			DeniedCategories: []string{domain.CategoryCheat, domain.CategoryGameMemory},
		},
		domain.ModeCurious: {
			Mode: domain.ModeCurious,
			DeniedCategories: []string{
				domain.CategoryCheat,
				domain.CategoryGameMemory,
				domain.CategorySystemCritical,
			},
			DiscordAllowed: domain.Bool(false),
		},
	}
}

// CheckMode decides whether an action of the given category may run under
// mode. It is a pure function of its inputs and the table.
//
// A mode missing from the table is treated as most restrictive: any
// categorised action is denied. Unknown categories are unrestricted by
// category rules.
func CheckMode(table ModeTable, actionName, category string, mode domain.Mode) (bool, string) {
	rule, ok := table[mode]
	if !ok {
		if category == "" {
			return true, ""
		}
		return false, fmt.Sprintf("unknown safety mode %q: category %q denied", mode, category)
	}
	if category == "" {
		return true, ""
	}

	if mode == domain.ModeCurious && category == domain.CategoryDiscordPost {
		if rule.DiscordAllowed != nil && *rule.DiscordAllowed {
			return true, ""
		}
		return false, fmt.Sprintf("%s: discord posting is disabled in curious mode", actionName)
	}

	if slices.Contains(rule.DeniedCategories, category) {
		return false, fmt.Sprintf("%s: category %q is not allowed in %s mode", actionName, category, mode)
	}
	return true, ""
}

// CheckModeAll applies CheckMode to every category in turn; the first denial wins.
func CheckModeAll(table ModeTable, actionName string, categories []string, mode domain.Mode) (bool, string) {
	for _, c := range categories {
		if ok, reason := CheckMode(table, actionName, c, mode); !ok {
			return false, reason
		}
	}
	return true, ""
}
