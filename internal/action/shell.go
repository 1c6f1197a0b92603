package action

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
)

// ShellConfig configures the shell_exec and python_exec actions.
type ShellConfig struct {
	WorkingDir     string
	MaxOutputBytes int
	Shell          string // default "sh"
	Python         string // default "python3"
}

// ShellExec runs a command line through the shell.
type ShellExec struct {
	cfg ShellConfig
}

func NewShellExec(cfg ShellConfig) *ShellExec {
	if cfg.Shell == "" {
		cfg.Shell = "sh"
	}
	return &ShellExec{cfg: cfg}
}

func (s *ShellExec) Name() string { return "shell_exec" }

func (s *ShellExec) Description() string {
	return "Execute a shell command on the host. Returns combined stdout and stderr."
}

func (s *ShellExec) Parameters() map[string]any {
	return Parameters(
		map[string]Param{
			"command": {Type: "string", Description: "The shell command to execute (e.g. 'ls -la', 'git status')"},
			"cwd":     {Type: "string", Description: "Working directory, relative to the gateway workspace"},
		},
		[]string{"command"},
	)
}

type shellParams struct {
	Command string `json:"command" validate:"required"`
	Cwd     string `json:"cwd"`
}

func (s *ShellExec) Invoke(ctx context.Context, params map[string]any) (any, error) {
	var p shellParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	command := strings.TrimSpace(p.Command)
	if command == "" {
		return nil, fmt.Errorf("missing argument: command")
	}

	dir, err := workDir(s.cfg.WorkingDir, p.Cwd)
	if err != nil {
		return nil, err
	}

	// sh -c handles pipes, redirects and quoting.
	return runProcess(ctx, processSpec{
		name:      s.cfg.Shell,
		args:      []string{"-c", command},
		dir:       dir,
		maxOutput: s.cfg.MaxOutputBytes,
	})
}

// PythonExec runs a Python snippet with the configured interpreter. The code
// is passed on stdin so it never appears in the process table.
type PythonExec struct {
	cfg ShellConfig
}

func NewPythonExec(cfg ShellConfig) *PythonExec {
	if cfg.Python == "" {
		cfg.Python = "python3"
	}
	return &PythonExec{cfg: cfg}
}

func (p *PythonExec) Name() string { return "python_exec" }

func (p *PythonExec) Description() string {
	return "Execute a Python code snippet and return its output."
}

func (p *PythonExec) Parameters() map[string]any {
	return Parameters(
		map[string]Param{
			"code": {Type: "string", Description: "Python source to execute"},
		},
		[]string{"code"},
	)
}

type pythonParams struct {
	Code string `json:"code" validate:"required"`
}

func (p *PythonExec) Invoke(ctx context.Context, params map[string]any) (any, error) {
	var in pythonParams
	if err := decodeParams(params, &in); err != nil {
		return nil, err
	}
	dir, err := workDir(p.cfg.WorkingDir, "")
	if err != nil {
		return nil, err
	}
	return runProcess(ctx, processSpec{
		name:      p.cfg.Python,
		args:      []string{"-"},
		dir:       dir,
		stdin:     in.Code,
		env:       []string{"PYTHONUNBUFFERED=1"},
		maxOutput: p.cfg.MaxOutputBytes,
	})
}

func workDir(base, sub string) (string, error) {
	if base == "" {
		base = "."
	}
	dir := base
	if sub != "" {
		resolved, err := resolvePath(base, sub, true)
		if err != nil {
			return "", err
		}
		dir = resolved
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return dir, nil
	}
	return abs, nil
}
