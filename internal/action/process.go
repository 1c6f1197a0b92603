package action

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"time"

	"agentgate/internal/domain"
)

const (
	defaultMaxOutputBytes = 65536
	killGrace             = 2 * time.Second
)

// ProcessResult is what process-backed actions return.
type ProcessResult struct {
	Output   string `json:"output"`
	ExitCode int    `json:"exit_code"`
	Duration string `json:"duration"`
}

type processSpec struct {
	name      string
	args      []string
	dir       string
	stdin     string
	env       []string
	maxOutput int
}

// runProcess starts the process in its own process group so that on
// cancellation the whole tree is killed, not just the direct child.
func runProcess(ctx context.Context, spec processSpec) (*ProcessResult, error) {
	cmd := exec.CommandContext(ctx, spec.name, spec.args...)
	cmd.Dir = spec.dir
	if len(spec.env) > 0 {
		cmd.Env = append(cmd.Environ(), spec.env...)
	}
	if spec.stdin != "" {
		cmd.Stdin = strings.NewReader(spec.stdin)
	}
	out := &limitedBuffer{limit: outputLimit(spec.maxOutput)}
	cmd.Stdout = out
	cmd.Stderr = out
	configureProcessGroup(cmd)
	cmd.WaitDelay = killGrace

	start := time.Now()
	err := cmd.Run()
	res := &ProcessResult{
		Output:   out.String(),
		Duration: time.Since(start).Round(time.Millisecond).String(),
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return nil, domain.Infrastructure(fmt.Errorf("%s not available: %w", spec.name, err))
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
			return res, fmt.Errorf("exit status %d: %s", res.ExitCode, lastLine(res.Output))
		}
		return nil, domain.Infrastructure(fmt.Errorf("start %s: %w", spec.name, err))
	}
	return res, nil
}

func outputLimit(limit int) int {
	if limit <= 0 {
		return defaultMaxOutputBytes
	}
	return limit
}

// limitedBuffer keeps the first limit bytes written to it and discards the
// rest while still reporting success, so a chatty process is never blocked
// or killed by a short write.
type limitedBuffer struct {
	buf       bytes.Buffer
	limit     int
	truncated bool
}

func (l *limitedBuffer) Write(p []byte) (int, error) {
	remaining := l.limit - l.buf.Len()
	if remaining <= 0 {
		l.truncated = true
		return len(p), nil
	}
	if len(p) > remaining {
		l.truncated = true
		l.buf.Write(p[:remaining])
		return len(p), nil
	}
	return l.buf.Write(p)
}

func (l *limitedBuffer) String() string {
	s := strings.ToValidUTF8(l.buf.String(), "")
	if l.truncated {
		s += "\n... (output truncated)"
	}
	return s
}

var _ io.Writer = (*limitedBuffer)(nil)

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}
