package security

import (
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"agentgate/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testPolicy() *PolicyFile {
	return &PolicyFile{
		Mode:                  domain.ModeNormal,
		DefaultTimeoutSeconds: 20,
		GlobalBlacklist:       []string{"rm -rf /", "mkfs"},
		Actions: []domain.PolicyEntry{
			{ActionName: "get_system_info", RequiresConfirmation: domain.Bool(false)},
			{ActionName: "python_exec", Mutating: true, BlacklistPatterns: []string{"os.system", "subprocess"}, TimeoutSeconds: 5},
			{ActionName: "file_operation", Mutating: true},
		},
	}
}

func mustSnapshot(t *testing.T, pf *PolicyFile) *Snapshot {
	t.Helper()
	s, err := NewSnapshot(pf, t.TempDir())
	if err != nil {
		t.Fatalf("NewSnapshot: %v", err)
	}
	return s
}

func TestSnapshot_ClosedWorldWhitelist(t *testing.T) {
	s := mustSnapshot(t, testPolicy())

	if !s.IsWhitelisted("get_system_info") {
		t.Fatal("expected get_system_info whitelisted")
	}
	for _, name := range []string{"", "delete_everything", "GET_SYSTEM_INFO"} {
		if s.IsWhitelisted(name) {
			t.Errorf("%q should not be whitelisted", name)
		}
		if _, ok := s.Entry(name); ok {
			t.Errorf("Entry(%q) should be absent", name)
		}
	}
}

func TestSnapshot_BlacklistActionBeforeGlobal(t *testing.T) {
	s := mustSnapshot(t, testPolicy())
	payload := FlattenParams(map[string]any{"code": "import os; os.system('rm -rf /')"})

	p, hit := s.BlacklistHit("python_exec", payload)
	if !hit {
		t.Fatal("expected hit")
	}
	if p != "os.system" {
		t.Fatalf("expected per-action pattern first, got %q", p)
	}

	// Other actions still see the global set.
	p, hit = s.BlacklistHit("file_operation", payload)
	if !hit || p != "rm -rf /" {
		t.Fatalf("expected global hit, got %q %v", p, hit)
	}

	if _, hit := s.BlacklistHit("python_exec", FlattenParams(map[string]any{"code": "print(1)"})); hit {
		t.Fatal("unexpected hit on benign code")
	}
}

func TestSnapshot_BlacklistCaseInsensitive(t *testing.T) {
	s := mustSnapshot(t, testPolicy())
	if _, hit := s.BlacklistHit("file_operation", "cmd=MKFS.ext4 /dev/sda"); !hit {
		t.Fatal("plain patterns should match case-insensitively")
	}
}

func TestSnapshot_TimeoutFor(t *testing.T) {
	s := mustSnapshot(t, testPolicy())
	if got := s.TimeoutFor("python_exec"); got != 5*time.Second {
		t.Errorf("entry timeout = %v", got)
	}
	if got := s.TimeoutFor("get_system_info"); got != 20*time.Second {
		t.Errorf("default timeout = %v", got)
	}

	pf := testPolicy()
	pf.DefaultTimeoutSeconds = 0
	s = mustSnapshot(t, pf)
	if got := s.TimeoutFor("unknown"); got != FallbackTimeout {
		t.Errorf("fallback timeout = %v", got)
	}
}

func TestSnapshot_NeedsConfirmation(t *testing.T) {
	s := mustSnapshot(t, testPolicy())
	cases := []struct {
		name      string
		confirmed bool
		want      bool
	}{
		{"get_system_info", false, false},
		{"file_operation", false, true}, // unset defaults to required
		{"file_operation", true, false},
		{"unknown", false, true},
	}
	for _, tc := range cases {
		if got := s.NeedsConfirmation(tc.name, tc.confirmed); got != tc.want {
			t.Errorf("NeedsConfirmation(%s, %v) = %v, want %v", tc.name, tc.confirmed, got, tc.want)
		}
	}
}

func TestSnapshot_InvalidPattern(t *testing.T) {
	pf := testPolicy()
	pf.Actions[1].BlacklistPatterns = []string{"(unclosed"}
	if _, err := NewSnapshot(pf, t.TempDir()); err == nil {
		t.Fatal("expected compile error")
	}
}

func TestStore_SetMode(t *testing.T) {
	store := NewStore(mustSnapshot(t, testPolicy()), StoreConfig{Logger: testLogger()})
	before := store.Snapshot()

	prev, err := store.SetMode(domain.ModeFairplay)
	if err != nil {
		t.Fatal(err)
	}
	if prev != domain.ModeNormal {
		t.Errorf("prev = %s", prev)
	}
	if store.Snapshot().Mode() != domain.ModeFairplay {
		t.Errorf("mode = %s", store.Snapshot().Mode())
	}
	if before.Mode() != domain.ModeNormal {
		t.Error("old snapshot must not change")
	}

	if _, err := store.SetMode("party"); err == nil {
		t.Fatal("expected unknown mode rejected")
	}
	if store.Snapshot().Mode() != domain.ModeFairplay {
		t.Error("rejected mode must not be applied")
	}
}

func TestStore_ReloadKeepsCurrentOnError(t *testing.T) {
	calls := 0
	loader := func() (*Snapshot, error) {
		calls++
		pf := testPolicy()
		if calls > 1 {
			pf.GlobalBlacklist = []string{"[bad"}
		} else {
			pf.Mode = domain.ModeCurious
		}
		return NewSnapshot(pf, t.TempDir())
	}

	store := NewStore(mustSnapshot(t, testPolicy()), StoreConfig{Loader: loader, Logger: testLogger()})
	if err := store.Reload(); err != nil {
		t.Fatalf("first reload: %v", err)
	}
	if store.Snapshot().Mode() != domain.ModeCurious {
		t.Fatal("reload not applied")
	}
	if err := store.Reload(); err == nil {
		t.Fatal("expected second reload to fail")
	}
	if store.Snapshot().Mode() != domain.ModeCurious {
		t.Fatal("failed reload replaced the snapshot")
	}
}

func TestStore_ReloadNotConfigured(t *testing.T) {
	store := NewStore(mustSnapshot(t, testPolicy()), StoreConfig{Logger: testLogger()})
	if err := store.Reload(); err == nil {
		t.Fatal("expected error without loader")
	}
}

// Readers racing a reload observe either the old or the new snapshot as a whole.
func TestStore_AtomicSwap(t *testing.T) {
	oldPF := testPolicy()
	newPF := testPolicy()
	newPF.Mode = domain.ModeCurious
	newPF.Actions = append(newPF.Actions, domain.PolicyEntry{ActionName: "added"})

	store := NewStore(mustSnapshot(t, oldPF), StoreConfig{Logger: testLogger()})
	next := mustSnapshot(t, newPF)

	var wg sync.WaitGroup
	errs := make(chan string, 100)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 500; j++ {
				s := store.Snapshot()
				if (s.Mode() == domain.ModeCurious) != s.IsWhitelisted("added") {
					errs <- "mixed snapshot observed"
					return
				}
			}
		}()
	}
	store.Swap(next)
	wg.Wait()
	close(errs)
	for e := range errs {
		t.Fatal(e)
	}
}

func TestFlattenParams_Deterministic(t *testing.T) {
	params := map[string]any{
		"b":    "two",
		"a":    1,
		"nest": map[string]any{"z": true, "y": []any{"x", 2}},
	}
	first := FlattenParams(params)
	for i := 0; i < 10; i++ {
		if got := FlattenParams(params); got != first {
			t.Fatalf("flatten not deterministic:\n%s\nvs\n%s", first, got)
		}
	}
	want := "a=1\nb=two\nnest.y[0]=x\nnest.y[1]=2\nnest.z=true\n"
	if first != want {
		t.Fatalf("flatten = %q, want %q", first, want)
	}
}

func TestCompilePatterns(t *testing.T) {
	patterns, err := compilePatterns([]string{"Drop Table", `^rm\s`, "  "})
	if err != nil {
		t.Fatal(err)
	}
	if len(patterns) != 2 {
		t.Fatalf("blank pattern should be skipped, got %d", len(patterns))
	}
	if p, ok := firstMatch(patterns, "please drop table users"); !ok || p != "Drop Table" {
		t.Errorf("substring match failed: %q %v", p, ok)
	}
	if _, ok := firstMatch(patterns, "echo rm x"); ok {
		t.Error("anchored regex should not match mid-string")
	}
	if _, err := compilePatterns([]string{"a(b"}); err == nil || !strings.Contains(err.Error(), "a(b") {
		t.Errorf("expected error naming the pattern, got %v", err)
	}
}
