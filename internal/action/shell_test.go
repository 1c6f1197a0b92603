//go:build unix

package action

import (
	"context"
	"errors"
	"os/exec"
	"strings"
	"testing"
	"time"

	"agentgate/internal/domain"
)

func TestShellExec_Metadata(t *testing.T) {
	s := NewShellExec(ShellConfig{})
	if s.Name() != "shell_exec" {
		t.Errorf("Name: got %q", s.Name())
	}
	if s.Description() == "" {
		t.Error("Description should not be empty")
	}
	if s.Parameters() == nil {
		t.Fatal("Parameters returned nil")
	}
}

func TestShellExec_EmptyCommand(t *testing.T) {
	s := NewShellExec(ShellConfig{})
	ctx := context.Background()
	if _, err := s.Invoke(ctx, map[string]any{}); err == nil {
		t.Fatal("expected error for missing command")
	}
	if _, err := s.Invoke(ctx, map[string]any{"command": "   "}); err == nil {
		t.Fatal("expected error for whitespace-only command")
	}
}

func TestShellExec_Echo(t *testing.T) {
	s := NewShellExec(ShellConfig{WorkingDir: t.TempDir(), MaxOutputBytes: 4096})
	out, err := s.Invoke(context.Background(), map[string]any{"command": "echo hello"})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	res := out.(*ProcessResult)
	if strings.TrimSpace(res.Output) != "hello" || res.ExitCode != 0 {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestShellExec_NonZeroExitIsDomainFailure(t *testing.T) {
	s := NewShellExec(ShellConfig{WorkingDir: t.TempDir()})
	out, err := s.Invoke(context.Background(), map[string]any{"command": "echo boom >&2; exit 3"})
	if err == nil {
		t.Fatal("expected error")
	}
	if domain.IsInfrastructure(err) {
		t.Fatal("exit status must not be infrastructure")
	}
	if !strings.Contains(err.Error(), "exit status 3") || !strings.Contains(err.Error(), "boom") {
		t.Fatalf("error = %v", err)
	}
	if res, ok := out.(*ProcessResult); !ok || res.ExitCode != 3 {
		t.Fatalf("result = %#v", out)
	}
}

func TestShellExec_OutputTruncated(t *testing.T) {
	s := NewShellExec(ShellConfig{WorkingDir: t.TempDir(), MaxOutputBytes: 10})
	out, err := s.Invoke(context.Background(), map[string]any{"command": "printf '%050d' 0"})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasSuffix(out.(*ProcessResult).Output, "(output truncated)") {
		t.Fatalf("output not truncated: %q", out.(*ProcessResult).Output)
	}
}

func TestShellExec_FloodingOutputStaysBounded(t *testing.T) {
	s := NewShellExec(ShellConfig{WorkingDir: t.TempDir(), MaxOutputBytes: 1024})
	out, err := s.Invoke(context.Background(), map[string]any{"command": "yes | head -c 50000000"})
	if err != nil {
		t.Fatal(err)
	}
	got := out.(*ProcessResult).Output
	if len(got) > 1024+len("\n... (output truncated)") {
		t.Fatalf("output length %d exceeds cap", len(got))
	}
	if !strings.HasSuffix(got, "(output truncated)") {
		t.Fatalf("output not marked truncated")
	}
}

func TestShellExec_DeadlineKillsProcessGroup(t *testing.T) {
	s := NewShellExec(ShellConfig{WorkingDir: t.TempDir()})
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	// The background sleep keeps stdout open; only a group kill ends it promptly.
	_, err := s.Invoke(ctx, map[string]any{"command": "sleep 30 & sleep 30"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("invoke returned after %v", elapsed)
	}
}

func TestShellExec_MissingShellIsInfrastructure(t *testing.T) {
	s := NewShellExec(ShellConfig{Shell: "definitely-not-a-shell-binary"})
	_, err := s.Invoke(context.Background(), map[string]any{"command": "true"})
	if !domain.IsInfrastructure(err) {
		t.Fatalf("expected infrastructure error, got %v", err)
	}
}

func TestPythonExec(t *testing.T) {
	if _, err := exec.LookPath("python3"); err != nil {
		t.Skip("python3 not installed")
	}
	p := NewPythonExec(ShellConfig{WorkingDir: t.TempDir()})
	out, err := p.Invoke(context.Background(), map[string]any{"code": "print(6*7)"})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if strings.TrimSpace(out.(*ProcessResult).Output) != "42" {
		t.Fatalf("output = %q", out.(*ProcessResult).Output)
	}
}

func TestShellExec_CwdOutsideWorkspace(t *testing.T) {
	s := NewShellExec(ShellConfig{WorkingDir: t.TempDir()})
	if _, err := s.Invoke(context.Background(), map[string]any{"command": "pwd", "cwd": "../.."}); err == nil {
		t.Fatal("expected cwd outside workspace to be rejected")
	}
}
