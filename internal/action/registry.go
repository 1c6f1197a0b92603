package action

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/go-playground/validator/v10"

	"agentgate/internal/domain"
)

var validate = validator.New()

// Registry holds the installed capabilities, keyed by action name.
// It satisfies domain.ActionRegistry.
type Registry struct {
	mu     sync.RWMutex
	caps   map[string]domain.Capability
	logger *slog.Logger
}

func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		caps:   make(map[string]domain.Capability),
		logger: logger,
	}
}

// Register installs c, replacing any capability with the same name.
func (r *Registry) Register(c domain.Capability) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.caps[c.Name()] = c
	r.logger.Debug("registered action", "name", c.Name())
}

func (r *Registry) Lookup(name string) (domain.Capability, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.caps[name]
	return c, ok
}

// Names returns the registered action names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.caps))
	for n := range r.caps {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Definitions describes every registered capability.
func (r *Registry) Definitions() []domain.ActionDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]domain.ActionDefinition, 0, len(r.caps))
	for _, c := range r.caps {
		defs = append(defs, domain.ActionDefinition{
			Name:        c.Name(),
			Description: c.Description(),
			Parameters:  c.Parameters(),
		})
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// Param describes a single action parameter.
type Param struct {
	Type        string
	Description string
	Enum        []string
}

// Parameters builds a JSON Schema "parameters" object for an action.
func Parameters(properties map[string]Param, required []string) map[string]any {
	props := make(map[string]any)
	for name, p := range properties {
		prop := map[string]any{"type": p.Type, "description": p.Description}
		if len(p.Enum) > 0 {
			prop["enum"] = p.Enum
		}
		props[name] = prop
	}
	schema := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// decodeParams converts the opaque params map into a typed struct and runs
// its validation tags. Errors are domain failures: the caller sent bad input.
func decodeParams(params map[string]any, target any) error {
	data, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("encode params: %w", err)
	}
	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("invalid params: %w", err)
	}
	if err := validate.Struct(target); err != nil {
		return fmt.Errorf("invalid params: %w", err)
	}
	return nil
}
