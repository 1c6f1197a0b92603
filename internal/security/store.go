package security

import (
	"fmt"
	"log/slog"
	"sort"
	"sync/atomic"
	"time"

	"agentgate/internal/domain"
)

// FallbackTimeout applies when neither the entry nor the policy sets one.
const FallbackTimeout = 30 * time.Second

type compiledEntry struct {
	domain.PolicyEntry
	patterns []pattern
}

// Snapshot is an immutable view of the whole policy: whitelist, patterns,
// mode table, active mode and self-protection. Requests evaluate against
// exactly one snapshot.
type Snapshot struct {
	mode           domain.Mode
	entries        map[string]compiledEntry
	global         []pattern
	modes          ModeTable
	protect        *SelfProtect
	defaultTimeout time.Duration
	loadedAt       time.Time
}

// NewSnapshot compiles pf. extraCritical is appended to the file's critical
// paths (the gateway's own config, policy and database locations).
func NewSnapshot(pf *PolicyFile, workDir string, extraCritical ...string) (*Snapshot, error) {
	if err := pf.Validate(); err != nil {
		return nil, err
	}

	s := &Snapshot{
		mode:           pf.Mode,
		entries:        make(map[string]compiledEntry, len(pf.Actions)),
		modes:          pf.ModeTable(),
		defaultTimeout: time.Duration(pf.DefaultTimeoutSeconds) * time.Second,
		loadedAt:       time.Now(),
	}

	var err error
	s.global, err = compilePatterns(pf.GlobalBlacklist)
	if err != nil {
		return nil, fmt.Errorf("invalid global blacklist: %w", err)
	}

	for _, e := range pf.Actions {
		patterns, err := compilePatterns(e.BlacklistPatterns)
		if err != nil {
			return nil, fmt.Errorf("invalid blacklist for %s: %w", e.ActionName, err)
		}
		s.entries[e.ActionName] = compiledEntry{PolicyEntry: e, patterns: patterns}
	}

	critical := append(append([]string{}, pf.CriticalPaths...), extraCritical...)
	s.protect, err = NewSelfProtect(workDir, critical)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Mode is the active safety mode.
func (s *Snapshot) Mode() domain.Mode { return s.mode }

// Modes is the restriction table.
func (s *Snapshot) Modes() ModeTable { return s.modes }

// SelfProtect is the self-protection guard for this snapshot.
func (s *Snapshot) SelfProtect() *SelfProtect { return s.protect }

// LoadedAt is when the snapshot was built.
func (s *Snapshot) LoadedAt() time.Time { return s.loadedAt }

// IsWhitelisted reports whether name has a policy entry.
func (s *Snapshot) IsWhitelisted(name string) bool {
	_, ok := s.entries[name]
	return ok
}

// Entry returns the policy entry for name.
func (s *Snapshot) Entry(name string) (domain.PolicyEntry, bool) {
	e, ok := s.entries[name]
	if !ok {
		return domain.PolicyEntry{}, false
	}
	return e.PolicyEntry, true
}

// Entries returns all entries sorted by name.
func (s *Snapshot) Entries() []domain.PolicyEntry {
	out := make([]domain.PolicyEntry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e.PolicyEntry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ActionName < out[j].ActionName })
	return out
}

// BlacklistHit scans payload with the action's own patterns, then the global
// set. The first matching pattern is returned. An action without an entry
// is still checked against the global set.
func (s *Snapshot) BlacklistHit(name, payload string) (string, bool) {
	if e, ok := s.entries[name]; ok {
		if p, hit := firstMatch(e.patterns, payload); hit {
			return p, true
		}
	}
	return firstMatch(s.global, payload)
}

// TimeoutFor returns the entry's timeout, the policy default, or FallbackTimeout.
func (s *Snapshot) TimeoutFor(name string) time.Duration {
	if e, ok := s.entries[name]; ok && e.TimeoutSeconds > 0 {
		return time.Duration(e.TimeoutSeconds) * time.Second
	}
	if s.defaultTimeout > 0 {
		return s.defaultTimeout
	}
	return FallbackTimeout
}

// NeedsConfirmation is true iff the action requires confirmation and the
// caller has not supplied it. Unknown actions require confirmation.
func (s *Snapshot) NeedsConfirmation(name string, confirmed bool) bool {
	if confirmed {
		return false
	}
	e, ok := s.entries[name]
	if !ok {
		return true
	}
	return e.ConfirmationRequired()
}

// CheckMode applies the mode guard against this snapshot's mode and table.
func (s *Snapshot) CheckMode(name string, categories ...string) (bool, string) {
	return CheckModeAll(s.modes, name, categories, s.mode)
}

// WithMode returns a copy of s with a different active mode.
func (s *Snapshot) WithMode(mode domain.Mode) *Snapshot {
	cp := *s
	cp.mode = mode
	cp.loadedAt = time.Now()
	return &cp
}

// StoreConfig holds dependencies for the Store.
type StoreConfig struct {
	// Loader builds a fresh snapshot; used by Reload.
	Loader func() (*Snapshot, error)
	Logger *slog.Logger
}

// Store publishes the current Snapshot. Readers never lock; Reload and
// SetMode replace the whole snapshot atomically.
type Store struct {
	cur    atomic.Pointer[Snapshot]
	loader func() (*Snapshot, error)
	logger *slog.Logger
}

// NewStore creates a store holding initial.
func NewStore(initial *Snapshot, cfg StoreConfig) *Store {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{loader: cfg.Loader, logger: logger}
	s.cur.Store(initial)
	return s
}

// Snapshot returns the current snapshot.
func (s *Store) Snapshot() *Snapshot { return s.cur.Load() }

// Swap replaces the current snapshot.
func (s *Store) Swap(next *Snapshot) {
	s.cur.Store(next)
}

// Reload rebuilds the snapshot with the configured loader. On error the
// current snapshot stays in place.
func (s *Store) Reload() error {
	if s.loader == nil {
		return fmt.Errorf("policy reload not configured")
	}
	next, err := s.loader()
	if err != nil {
		s.logger.Error("policy reload failed, keeping current policy", "err", err)
		return err
	}
	prev := s.cur.Swap(next)
	s.logger.Info("policy reloaded",
		"actions", len(next.entries),
		"mode", next.mode,
		"previous_mode", prev.mode,
	)
	return nil
}

// SetMode switches the active mode. Modes missing from the table are
// rejected so the gateway never runs under a mode it cannot describe.
func (s *Store) SetMode(mode domain.Mode) (domain.Mode, error) {
	for {
		cur := s.cur.Load()
		if _, ok := cur.modes[mode]; !ok {
			return cur.mode, fmt.Errorf("unknown safety mode %q", mode)
		}
		if s.cur.CompareAndSwap(cur, cur.WithMode(mode)) {
			s.logger.Info("safety mode changed", "from", cur.mode, "to", mode)
			return cur.mode, nil
		}
	}
}
