package main

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"agentgate/internal/config"
	"agentgate/internal/security"
)

func init() {
	logger = slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig(t *testing.T) (*config.Config, string) {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Defaults()
	cfg.General.Workspace = filepath.Join(dir, "workspace")
	cfg.Security.PolicyFile = filepath.Join(dir, "policy.yaml")
	cfg.Security.BaselineFile = filepath.Join(dir, "integrity.json")
	cfg.Audit.DBPath = filepath.Join(dir, "audit.db")
	cfgPath := filepath.Join(dir, "config.json")
	if err := config.Save(cfgPath, cfg); err != nil {
		t.Fatal(err)
	}
	if err := writePolicy(cfg.Security.PolicyFile, security.DefaultPolicy(), false); err != nil {
		t.Fatal(err)
	}
	return cfg, cfgPath
}

func TestParseTimeFlag(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	got, err := parseTimeFlag("24h", now)
	if err != nil || !got.Equal(now.Add(-24*time.Hour)) {
		t.Fatalf("duration: got %v, %v", got, err)
	}
	got, err = parseTimeFlag("2026-02-01T00:00:00Z", now)
	if err != nil || got.Month() != time.February {
		t.Fatalf("rfc3339: got %v, %v", got, err)
	}
	if got, err := parseTimeFlag("", now); err != nil || !got.IsZero() {
		t.Fatalf("empty: got %v, %v", got, err)
	}
	if _, err := parseTimeFlag("yesterday", now); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestRequestFlags(t *testing.T) {
	f := requestFlags{params: `{"path":"a.txt"}`, confirmed: true, actor: "ops"}
	req, err := f.request("file_operation")
	if err != nil {
		t.Fatal(err)
	}
	if req.Params["path"] != "a.txt" || !req.Confirmed || req.ActorID != "ops" || req.Source != "cli" {
		t.Fatalf("unexpected request: %+v", req)
	}

	f = requestFlags{params: `[1,2]`}
	if _, err := f.request("x"); err == nil {
		t.Fatal("expected error for non-object params")
	}
}

func TestIntegrityBaselineDetectsDrift(t *testing.T) {
	cfg, cfgPath := testConfig(t)

	if _, err := checkIntegrity(cfg, cfgPath); err == nil {
		t.Fatal("expected error without a baseline")
	}
	if err := writeBaseline(cfg, cfgPath); err != nil {
		t.Fatal(err)
	}
	report, err := checkIntegrity(cfg, cfgPath)
	if err != nil || !report.Clean() {
		t.Fatalf("fresh baseline should be clean: %+v %v", report, err)
	}

	if err := os.WriteFile(cfg.Security.PolicyFile, []byte("mode: curious\nactions: []\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	report, err = checkIntegrity(cfg, cfgPath)
	if err != nil {
		t.Fatal(err)
	}
	if len(report.Modified) != 1 {
		t.Fatalf("expected policy drift, got %+v", report)
	}
}

func TestRuntimeEvaluatesWithoutActions(t *testing.T) {
	cfg, cfgPath := testConfig(t)

	rt, err := newRuntime(cfg, cfgPath, runtimeOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if rt.writer != nil {
		t.Fatal("evaluate-only runtime must not open audit sinks")
	}
	if !rt.store.Snapshot().IsWhitelisted("get_system_info") {
		t.Fatal("default policy should whitelist get_system_info")
	}
	if err := rt.close(time.Second); err != nil {
		t.Fatal(err)
	}
}

func TestRuntimeProtectsOwnFiles(t *testing.T) {
	cfg, cfgPath := testConfig(t)

	snap, err := policyLoader(cfg, cfgPath)()
	if err != nil {
		t.Fatal(err)
	}
	guard := snap.SelfProtect()
	if ok, _ := guard.CheckSelfProtect("file_operation", cfg.Security.PolicyFile); ok {
		t.Fatal("policy file must be protected")
	}
	if ok, _ := guard.CheckSelfProtect("file_operation", cfgPath); ok {
		t.Fatal("config file must be protected")
	}
}

func TestHTTPRateLimiter(t *testing.T) {
	cfg := config.Defaults().HTTP
	cfg.RateLimitPerMinute = 60
	cfg.RateLimitBurst = 2
	rl := httpRateLimiter(cfg)
	if rl == nil {
		t.Fatal("expected a limiter")
	}
	if !rl.Allow("a") || !rl.Allow("a") || rl.Allow("a") {
		t.Fatal("burst of 2 should admit exactly two requests")
	}

	cfg.RateLimitPerMinute = 0
	if httpRateLimiter(cfg) != nil {
		t.Fatal("rate 0 disables limiting")
	}
}
