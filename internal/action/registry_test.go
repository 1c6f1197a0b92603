package action

import (
	"context"
	"log/slog"
	"os"
	"testing"

	"agentgate/internal/domain"
)

// stubCapability is a minimal capability for testing the registry.
type stubCapability struct {
	name   string
	result any
	err    error
}

func (s *stubCapability) Name() string               { return s.name }
func (s *stubCapability) Description() string        { return "stub: " + s.name }
func (s *stubCapability) Parameters() map[string]any { return Parameters(nil, nil) }
func (s *stubCapability) Invoke(ctx context.Context, params map[string]any) (any, error) {
	return s.result, s.err
}

var _ domain.Capability = (*stubCapability)(nil)
var _ domain.ActionRegistry = (*Registry)(nil)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestRegistry_RegisterAndLookup(t *testing.T) {
	reg := NewRegistry(testLogger())
	reg.Register(&stubCapability{name: "echo", result: "ok"})

	got, ok := reg.Lookup("echo")
	if !ok {
		t.Fatal("expected to find registered capability")
	}
	if got.Name() != "echo" {
		t.Fatalf("expected 'echo', got %q", got.Name())
	}
	if _, ok := reg.Lookup("nonexistent"); ok {
		t.Fatal("expected lookup miss")
	}
}

func TestRegistry_NamesAndDefinitionsSorted(t *testing.T) {
	reg := NewRegistry(testLogger())
	reg.Register(&stubCapability{name: "zeta"})
	reg.Register(&stubCapability{name: "alpha"})

	names := reg.Names()
	if len(names) != 2 || names[0] != "alpha" || names[1] != "zeta" {
		t.Fatalf("Names = %v", names)
	}
	defs := reg.Definitions()
	if defs[0].Name != "alpha" || defs[0].Description != "stub: alpha" {
		t.Fatalf("Definitions[0] = %+v", defs[0])
	}
}

func TestParameters_Schema(t *testing.T) {
	schema := Parameters(map[string]Param{
		"op": {Type: "string", Description: "operation", Enum: []string{"a", "b"}},
	}, []string{"op"})

	if schema["type"] != "object" {
		t.Fatalf("type = %v", schema["type"])
	}
	props := schema["properties"].(map[string]any)
	op := props["op"].(map[string]any)
	if enum, ok := op["enum"].([]string); !ok || len(enum) != 2 {
		t.Fatalf("enum = %v", op["enum"])
	}
	if req := schema["required"].([]string); req[0] != "op" {
		t.Fatalf("required = %v", req)
	}
}

func TestDecodeParams_Validation(t *testing.T) {
	var p fileParams
	err := decodeParams(map[string]any{"operation": "explode", "path": "x"}, &p)
	if err == nil {
		t.Fatal("expected oneof validation error")
	}
	if domain.IsInfrastructure(err) {
		t.Fatal("bad input must be a domain failure")
	}
	if err := decodeParams(map[string]any{"operation": "read", "path": "x"}, &p); err != nil {
		t.Fatalf("valid params rejected: %v", err)
	}
}
