package action

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"

	"agentgate/internal/security"
)

const maxReadBytes = 1 << 20

// resolvePath resolves path the same way self-protection does and, when
// confine is set, rejects anything outside the workspace. The returned path
// is canonical, so the file touched is the file that was checked.
func resolvePath(workspace, path string, confine bool) (string, error) {
	wsAbs := ""
	if workspace != "" {
		abs, err := filepath.Abs(workspace)
		if err != nil {
			return "", fmt.Errorf("resolve workspace: %w", err)
		}
		wsAbs = abs
	}
	resolved := security.ResolvePath(wsAbs, path)
	if confine && wsAbs != "" {
		root := security.ResolvePath(wsAbs, ".")
		if !security.Within(root, resolved) {
			return "", fmt.Errorf("path %q is outside workspace %q", resolved, root)
		}
	}
	return resolved, nil
}

// FileConfig configures file_operation.
type FileConfig struct {
	// Workspace confines all paths when RestrictToWorkspace is set; relative
	// paths are always resolved against it.
	Workspace           string
	RestrictToWorkspace bool
}

// FileOperation reads, writes, appends, deletes and lists files.
type FileOperation struct {
	cfg FileConfig
}

func NewFileOperation(cfg FileConfig) *FileOperation {
	return &FileOperation{cfg: cfg}
}

func (f *FileOperation) Name() string { return "file_operation" }

func (f *FileOperation) Description() string {
	return "Read, write, append, delete or list files on the host."
}

func (f *FileOperation) Parameters() map[string]any {
	return Parameters(
		map[string]Param{
			"operation": {Type: "string", Description: "Operation to perform", Enum: []string{"read", "write", "append", "delete", "list"}},
			"path":      {Type: "string", Description: "Target path (relative to the workspace or absolute)"},
			"content":   {Type: "string", Description: "Content for write and append"},
		},
		[]string{"operation", "path"},
	)
}

type fileParams struct {
	Operation string `json:"operation" validate:"required,oneof=read write append delete list"`
	Path      string `json:"path" validate:"required"`
	Content   string `json:"content"`
}

// FileEntry is one line of a directory listing.
type FileEntry struct {
	Name     string    `json:"name"`
	Dir      bool      `json:"dir"`
	Size     int64     `json:"size"`
	SizeText string    `json:"size_text"`
	Modified time.Time `json:"modified"`
}

func (f *FileOperation) Invoke(ctx context.Context, params map[string]any) (any, error) {
	var p fileParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}

	path, err := f.resolve(p.Path)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	switch p.Operation {
	case "read":
		return readFile(path)
	case "write":
		return writeFile(path, p.Content, os.O_CREATE|os.O_WRONLY|os.O_TRUNC)
	case "append":
		return writeFile(path, p.Content, os.O_CREATE|os.O_WRONLY|os.O_APPEND)
	case "delete":
		if err := os.Remove(path); err != nil {
			return nil, fmt.Errorf("delete: %w", err)
		}
		return map[string]any{"deleted": path}, nil
	case "list":
		return listDir(path)
	}
	return nil, fmt.Errorf("unsupported operation %q", p.Operation)
}

func (f *FileOperation) resolve(path string) (string, error) {
	return resolvePath(f.cfg.Workspace, path, f.cfg.RestrictToWorkspace)
}

func readFile(path string) (any, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("read file: %s is a directory", path)
	}
	if info.Size() > maxReadBytes {
		return nil, fmt.Errorf("read file: %s is %s, limit is %s",
			path, humanize.Bytes(uint64(info.Size())), humanize.Bytes(maxReadBytes))
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	return map[string]any{"path": path, "content": string(data), "size": humanize.Bytes(uint64(len(data)))}, nil
}

func writeFile(path, content string, flag int) (any, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}
	fh, err := os.OpenFile(path, flag, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	n, werr := fh.WriteString(content)
	cerr := fh.Close()
	if err := errors.Join(werr, cerr); err != nil {
		return nil, fmt.Errorf("write file: %w", err)
	}
	return map[string]any{"path": path, "written": humanize.Bytes(uint64(n))}, nil
}

func listDir(path string) (any, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("list dir: %w", err)
	}
	out := make([]FileEntry, 0, len(entries))
	for _, e := range entries {
		info, err := e.Info()
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("list dir: %w", err)
		}
		out = append(out, FileEntry{
			Name:     e.Name(),
			Dir:      e.IsDir(),
			Size:     info.Size(),
			SizeText: humanize.Bytes(uint64(info.Size())),
			Modified: info.ModTime(),
		})
	}
	return out, nil
}
