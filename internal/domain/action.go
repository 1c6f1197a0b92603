package domain

import "context"

// Capability is the contract every pluggable action must satisfy to be
// callable through the gateway (shell, file ops, browser, chat posts, ...).
//
// Invoke must honour ctx's deadline: when ctx is done the capability aborts
// and returns ctx.Err() rather than running unbounded. Expected domain
// failures are returned as ordinary errors; failures of the execution
// surface itself (missing binary, crashed helper) are wrapped with
// Infrastructure so the dispatcher can tell the two apart.
type Capability interface {
	Name() string
	Description() string
	Parameters() map[string]any
	Invoke(ctx context.Context, params map[string]any) (any, error)
}

// ActionRegistry resolves action names to capabilities.
type ActionRegistry interface {
	Lookup(name string) (Capability, bool)
}

// ActionDefinition describes a capability for listings and schemas.
type ActionDefinition struct {
	Name                 string         `json:"name"`
	Description          string         `json:"description"`
	Parameters           map[string]any `json:"parameters,omitempty"`
	Category             string         `json:"category,omitempty"`
	RequiresConfirmation bool           `json:"requires_confirmation"`
	Mutating             bool           `json:"mutating"`
}
