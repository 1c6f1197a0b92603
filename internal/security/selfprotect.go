package security

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/zeebo/blake3"
)

// PathParamKeys are the params fields inspected for a target path. Every key
// present is checked, so a request cannot hide a protected path behind a
// second field.
var PathParamKeys = []string{"path", "target", "dest", "destination", "file", "filepath"}

// SelfProtect denies mutations of the gateway's own critical files.
// Paths are compared after canonicalisation, so "../" traversal and symlinks
// pointing into a protected location are caught.
type SelfProtect struct {
	workDir string
	paths   []string // canonical absolute paths
	globs   []string // doublestar patterns, matched against canonical paths
}

// NewSelfProtect builds a guard for the given critical entries. Entries
// containing glob metacharacters are kept as doublestar patterns; everything
// else is resolved against workDir.
func NewSelfProtect(workDir string, critical []string) (*SelfProtect, error) {
	if workDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("resolve working directory: %w", err)
		}
		workDir = wd
	}
	absWork, err := filepath.Abs(expandHome(workDir))
	if err != nil {
		return nil, fmt.Errorf("resolve working directory: %w", err)
	}

	p := &SelfProtect{workDir: absWork}
	seen := make(map[string]bool)
	for _, c := range critical {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		if hasGlobMeta(c) {
			if !doublestar.ValidatePattern(c) {
				return nil, fmt.Errorf("invalid critical path pattern %q", c)
			}
			p.globs = append(p.globs, filepath.ToSlash(c))
			continue
		}
		resolved := p.Resolve(c)
		if !seen[resolved] {
			seen[resolved] = true
			p.paths = append(p.paths, resolved)
		}
	}
	sort.Strings(p.paths)
	return p, nil
}

// WorkDir is the absolute, not symlink-evaluated, directory relative paths
// are resolved against.
func (p *SelfProtect) WorkDir() string { return p.workDir }

// Paths returns the canonical critical paths (globs excluded).
func (p *SelfProtect) Paths() []string {
	out := make([]string, len(p.paths))
	copy(out, p.paths)
	return out
}

// Resolve turns path into an absolute canonical path. See ResolvePath.
func (p *SelfProtect) Resolve(path string) string {
	return ResolvePath(p.workDir, path)
}

// ResolvePath is the single path resolution shared by self-protection and the
// file capabilities: home-expand, join to workDir when relative, clean
// lexically, then evaluate symlinks in the longest existing prefix. The join
// uses workDir as given so "../" is applied before any symlink in it is
// followed. An empty workDir means the process working directory.
func ResolvePath(workDir, path string) string {
	path = expandHome(strings.TrimSpace(path))
	if !filepath.IsAbs(path) {
		if workDir == "" {
			workDir, _ = os.Getwd()
		}
		path = filepath.Join(workDir, path)
	}
	return canonical(filepath.Clean(path))
}

// Within reports whether target equals root or lies beneath it. Both must be
// clean absolute paths.
func Within(root, target string) bool {
	return within(root, target)
}

// CheckSelfProtect reports whether a mutation of path is allowed, together
// with the canonical path that was checked.
func (p *SelfProtect) CheckSelfProtect(actionName, path string) (bool, string) {
	if p == nil || strings.TrimSpace(path) == "" {
		return true, ""
	}
	resolved := p.Resolve(path)
	for _, crit := range p.paths {
		if within(crit, resolved) {
			return false, resolved
		}
	}
	slashed := strings.TrimPrefix(filepath.ToSlash(resolved), "/")
	for _, g := range p.globs {
		if ok, _ := doublestar.Match(strings.TrimPrefix(g, "/"), slashed); ok {
			return false, resolved
		}
	}
	return true, resolved
}

// TargetPaths extracts the candidate target paths from params.
func TargetPaths(params map[string]any) []string {
	var out []string
	for _, k := range PathParamKeys {
		if s, ok := params[k].(string); ok && strings.TrimSpace(s) != "" {
			out = append(out, s)
		}
	}
	return out
}

func within(root, target string) bool {
	if root == target {
		return true
	}
	rel, err := filepath.Rel(root, target)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && !filepath.IsAbs(rel)
}

// canonical evaluates symlinks of the longest existing prefix of an absolute,
// clean path and re-attaches the non-existent remainder.
func canonical(path string) string {
	rest := ""
	cur := path
	for {
		if resolved, err := filepath.EvalSymlinks(cur); err == nil {
			if rest == "" {
				return resolved
			}
			return filepath.Join(resolved, rest)
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return path
		}
		if rest == "" {
			rest = filepath.Base(cur)
		} else {
			rest = filepath.Join(filepath.Base(cur), rest)
		}
		cur = parent
	}
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}

func hasGlobMeta(s string) bool {
	return strings.ContainsAny(s, "*?[{")
}

// IntegrityReport lists protected files whose content changed since the
// baseline was taken.
type IntegrityReport struct {
	Modified []string `json:"modified,omitempty"`
	Deleted  []string `json:"deleted,omitempty"`
}

// Clean reports whether nothing changed.
func (r IntegrityReport) Clean() bool {
	return len(r.Modified) == 0 && len(r.Deleted) == 0
}

// Baseline hashes every regular file under the critical paths with BLAKE3.
// Missing critical paths are skipped; they may legitimately not exist yet.
func (p *SelfProtect) Baseline() (map[string]string, error) {
	sums := make(map[string]string)
	for _, root := range p.paths {
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				if errors.Is(err, fs.ErrNotExist) {
					return nil
				}
				return err
			}
			if !d.Type().IsRegular() {
				return nil
			}
			sum, err := hashFile(path)
			if err != nil {
				return err
			}
			sums[path] = sum
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("baseline %s: %w", root, err)
		}
	}
	return sums, nil
}

// Verify compares the current state of the baseline's files against it.
func (p *SelfProtect) Verify(baseline map[string]string) (IntegrityReport, error) {
	var report IntegrityReport
	for path, want := range baseline {
		got, err := hashFile(path)
		if errors.Is(err, fs.ErrNotExist) {
			report.Deleted = append(report.Deleted, path)
			continue
		}
		if err != nil {
			return report, fmt.Errorf("verify %s: %w", path, err)
		}
		if got != want {
			report.Modified = append(report.Modified, path)
		}
	}
	sort.Strings(report.Modified)
	sort.Strings(report.Deleted)
	return report, nil
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := blake3.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
