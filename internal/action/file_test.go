package action

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"agentgate/internal/security"
)

func TestFileOperation_WriteAppendReadDelete(t *testing.T) {
	ws := t.TempDir()
	f := NewFileOperation(FileConfig{Workspace: ws, RestrictToWorkspace: true})
	ctx := context.Background()

	if _, err := f.Invoke(ctx, map[string]any{"operation": "write", "path": "notes/a.txt", "content": "hello"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := f.Invoke(ctx, map[string]any{"operation": "append", "path": "notes/a.txt", "content": " world"}); err != nil {
		t.Fatalf("append: %v", err)
	}

	out, err := f.Invoke(ctx, map[string]any{"operation": "read", "path": "notes/a.txt"})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got := out.(map[string]any)["content"]; got != "hello world" {
		t.Fatalf("content = %q", got)
	}

	if _, err := f.Invoke(ctx, map[string]any{"operation": "delete", "path": "notes/a.txt"}); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := os.Stat(filepath.Join(ws, "notes", "a.txt")); !os.IsNotExist(err) {
		t.Fatalf("file still exists: %v", err)
	}
}

func TestFileOperation_List(t *testing.T) {
	ws := t.TempDir()
	if err := os.WriteFile(filepath.Join(ws, "one.txt"), []byte("12345"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Mkdir(filepath.Join(ws, "dir"), 0o755); err != nil {
		t.Fatal(err)
	}

	f := NewFileOperation(FileConfig{Workspace: ws})
	out, err := f.Invoke(context.Background(), map[string]any{"operation": "list", "path": "."})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	entries := out.([]FileEntry)
	if len(entries) != 2 {
		t.Fatalf("entries = %+v", entries)
	}
	for _, e := range entries {
		if e.Name == "one.txt" && (e.Size != 5 || e.SizeText != "5 B") {
			t.Errorf("one.txt entry = %+v", e)
		}
		if e.Name == "dir" && !e.Dir {
			t.Errorf("dir entry = %+v", e)
		}
	}
}

func TestFileOperation_RestrictToWorkspace(t *testing.T) {
	f := NewFileOperation(FileConfig{Workspace: t.TempDir(), RestrictToWorkspace: true})
	_, err := f.Invoke(context.Background(), map[string]any{"operation": "read", "path": "../../etc/passwd"})
	if err == nil || !strings.Contains(err.Error(), "outside workspace") {
		t.Fatalf("expected workspace error, got %v", err)
	}
}

func TestFileOperation_InvalidOperation(t *testing.T) {
	f := NewFileOperation(FileConfig{Workspace: t.TempDir()})
	if _, err := f.Invoke(context.Background(), map[string]any{"operation": "chmod", "path": "x"}); err == nil {
		t.Fatal("expected error")
	}
	if _, err := f.Invoke(context.Background(), map[string]any{"operation": "read"}); err == nil {
		t.Fatal("expected missing path error")
	}
}

func TestFileOperation_ReadMissing(t *testing.T) {
	f := NewFileOperation(FileConfig{Workspace: t.TempDir()})
	if _, err := f.Invoke(context.Background(), map[string]any{"operation": "read", "path": "nope.txt"}); err == nil {
		t.Fatal("expected error")
	}
}

func TestSystemInfo(t *testing.T) {
	s := NewSystemInfo(t.TempDir())
	out, err := s.Invoke(context.Background(), nil)
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	info := out.(map[string]any)
	for _, key := range []string{"hostname", "os", "logical_cores", "time"} {
		if _, ok := info[key]; !ok {
			t.Errorf("missing %q in %v", key, info)
		}
	}
}

func TestFileOperation_SymlinkedWorkspaceTouchesCheckedPath(t *testing.T) {
	base := t.TempDir()
	if err := os.MkdirAll(filepath.Join(base, "real", "ws"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(base, "gw"), 0o755); err != nil {
		t.Fatal(err)
	}
	ws := filepath.Join(base, "ws")
	if err := os.Symlink(filepath.Join(base, "real", "ws"), ws); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}
	guard, err := security.NewSelfProtect(ws, []string{filepath.Join(base, "gw")})
	if err != nil {
		t.Fatal(err)
	}
	if ok, _ := guard.CheckSelfProtect("file_operation", "../gw/policy.yaml"); ok {
		t.Fatal("traversal out of a symlinked workspace must hit the protected directory")
	}

	// An allowed relative path lands exactly where the guard resolved it.
	f := NewFileOperation(FileConfig{Workspace: ws})
	ok, checked := guard.CheckSelfProtect("file_operation", "../notes.txt")
	if !ok {
		t.Fatalf("../notes.txt should be allowed, resolved %s", checked)
	}
	if _, err := f.Invoke(context.Background(), map[string]any{"operation": "write", "path": "../notes.txt", "content": "x"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if data, err := os.ReadFile(checked); err != nil || string(data) != "x" {
		t.Fatalf("written file not at checked path %s: %q %v", checked, data, err)
	}
}
