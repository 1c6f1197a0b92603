package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// --- Validate ---

func TestValidate_ValidConfig(t *testing.T) {
	cfg := Defaults()
	if err := Validate(cfg); err != nil {
		t.Fatalf("expected valid config, got: %v", err)
	}
}

func TestValidate_LogLevel(t *testing.T) {
	for _, lvl := range []string{"debug", "INFO", "warn", "error"} {
		cfg := Defaults()
		cfg.General.LogLevel = lvl
		if err := Validate(cfg); err != nil {
			t.Fatalf("logLevel %q should be valid: %v", lvl, err)
		}
	}

	cfg := Defaults()
	cfg.General.LogLevel = "verbose"
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for logLevel=verbose")
	}
}

func TestValidate_InvalidPort(t *testing.T) {
	cfg := Defaults()
	cfg.HTTP.Port = -1
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for negative port")
	}

	cfg.HTTP.Port = 70000
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for port > 65535")
	}
}

func TestValidate_APIKeyRequiredOffLoopback(t *testing.T) {
	cfg := Defaults()
	cfg.HTTP.Host = "0.0.0.0"
	err := Validate(cfg)
	if err == nil || !strings.Contains(err.Error(), "http.apiKey") {
		t.Fatalf("expected apiKey error, got %v", err)
	}

	cfg.HTTP.APIKey = "secret-key"
	if err := Validate(cfg); err != nil {
		t.Fatalf("expected valid with apiKey: %v", err)
	}

	cfg = Defaults()
	cfg.HTTP.Host = "localhost"
	if err := Validate(cfg); err != nil {
		t.Fatalf("localhost should not need an apiKey: %v", err)
	}
}

func TestValidate_TelegramNeedsTokenAndAllowList(t *testing.T) {
	cfg := Defaults()
	cfg.Channels.Telegram.Enabled = true
	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{"channels.telegram.token", "channels.telegram.allowFrom"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("expected %q in %v", want, err)
		}
	}
}

func TestValidate_Audit(t *testing.T) {
	cfg := Defaults()
	cfg.Audit.DBPath = ""
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error with no audit sink")
	}
	cfg.Audit.JSONLPath = "/tmp/audit.jsonl"
	if err := Validate(cfg); err != nil {
		t.Fatalf("jsonl-only audit should be valid: %v", err)
	}

	cfg = Defaults()
	cfg.Audit.Buffer = 0
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for buffer=0")
	}
}

func TestValidate_RateLimit(t *testing.T) {
	cfg := Defaults()
	cfg.HTTP.RateLimitBurst = 0
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for burst=0 with rate limiting on")
	}
	cfg.HTTP.RateLimitPerMinute = 0
	if err := Validate(cfg); err != nil {
		t.Fatalf("disabled rate limiting needs no burst: %v", err)
	}
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	cfg := Defaults()
	cfg.General.LogLevel = "loud"
	cfg.HTTP.Port = -5
	cfg.Actions.Shell.MaxOutputBytes = 10

	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected error")
	}
	if n := strings.Count(err.Error(), "\n  - "); n != 3 {
		t.Fatalf("expected 3 messages, got %d: %v", n, err)
	}
}

// --- Load / Save ---

func TestLoadSave_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")

	original := Defaults()
	original.HTTP.Port = 9911
	original.Channels.Discord.DefaultChannel = "1234"

	if err := Save(path, original); err != nil {
		t.Fatalf("save: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("config file should be private, got %v", info.Mode().Perm())
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.HTTP.Port != 9911 {
		t.Fatalf("expected port 9911, got %d", loaded.HTTP.Port)
	}
	if loaded.Channels.Discord.DefaultChannel != "1234" {
		t.Fatalf("expected discord channel, got %q", loaded.Channels.Discord.DefaultChannel)
	}
	if strings.HasPrefix(loaded.Audit.DBPath, "~") {
		t.Fatalf("paths should be expanded, got %q", loaded.Audit.DBPath)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.json")
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadOrDefault_MissingFile(t *testing.T) {
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil {
		t.Fatalf("expected defaults, got %v", err)
	}
	if cfg.HTTP.Port != Defaults().HTTP.Port {
		t.Fatal("expected default port")
	}
}

func TestLoad_InvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	os.WriteFile(path, []byte("{not json}"), 0o644)

	if _, err := Load(path); err == nil {
		t.Fatal("expected error for invalid JSON")
	}
	if _, err := LoadOrDefault(path); err == nil {
		t.Fatal("LoadOrDefault must not hide a broken file")
	}
}

func TestLoad_AcceptsComments(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	content := `{
		// local only
		"http": {
			"port": 9000, /* moved off the default */
		},
	}`
	os.WriteFile(path, []byte(content), 0o644)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTP.Port != 9000 {
		t.Fatalf("expected 9000, got %d", cfg.HTTP.Port)
	}
	if cfg.HTTP.Host != "127.0.0.1" {
		t.Fatal("unset fields keep their defaults")
	}
}

func TestLoad_ValidatesConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	content := `{"audit": {"buffer": 0}}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(path); err == nil {
		t.Fatal("expected validation error for buffer=0")
	}
}

func TestLoad_WithEnvVarSubstitution(t *testing.T) {
	t.Setenv("TEST_AGENTGATE_WORKSPACE", "/tmp/test-workspace")
	t.Setenv("TEST_AGENTGATE_TOKEN", "123:abc")

	path := filepath.Join(t.TempDir(), "config.json")
	content := `{
		"general": {"workspace": "${TEST_AGENTGATE_WORKSPACE}", "logLevel": "${UNSET_LEVEL_XYZ:-debug}"},
		"channels": {"telegram": {"enabled": true, "token": "${TEST_AGENTGATE_TOKEN}", "allowFrom": [42]}}
	}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.General.Workspace != "/tmp/test-workspace" {
		t.Fatalf("expected workspace '/tmp/test-workspace', got %q", cfg.General.Workspace)
	}
	if cfg.General.LogLevel != "debug" {
		t.Fatalf("expected default log level, got %q", cfg.General.LogLevel)
	}
	if cfg.Channels.Telegram.Token != "123:abc" || cfg.Channels.Telegram.AllowFrom[0] != "42" {
		t.Fatalf("unexpected telegram config: %+v", cfg.Channels.Telegram)
	}
}

func TestProtectedPaths(t *testing.T) {
	cfg := Defaults()
	cfg.expandPaths()
	cfg.Security.CriticalPaths = []string{"/etc/agentgate"}

	paths := cfg.ProtectedPaths("/srv/gw/config.json")
	for _, want := range []string{"/srv/gw/config.json", cfg.Security.PolicyFile, cfg.Audit.DBPath, "/etc/agentgate", DefaultConfigDir()} {
		found := false
		for _, p := range paths {
			if p == want {
				found = true
			}
		}
		if !found {
			t.Errorf("missing %q in %v", want, paths)
		}
	}
}

// --- Accessor ---

func TestGetByPath_ValidPaths(t *testing.T) {
	cfg := Defaults()

	val, err := GetByPath(cfg, "http.host")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if val != "127.0.0.1" {
		t.Fatalf("expected '127.0.0.1', got %v", val)
	}
}

func TestGetByPath_InvalidPath(t *testing.T) {
	cfg := Defaults()
	if _, err := GetByPath(cfg, "nonexistent.path"); err == nil {
		t.Fatal("expected error for nonexistent path")
	}
}

func TestSetByPath_ValidPath(t *testing.T) {
	cfg := Defaults()
	if err := SetByPath(cfg, "security.policyFile", "/srv/policy.yaml"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if cfg.Security.PolicyFile != "/srv/policy.yaml" {
		t.Fatalf("expected '/srv/policy.yaml', got %q", cfg.Security.PolicyFile)
	}
}

func TestSetByPath_UnknownKeyRejected(t *testing.T) {
	cfg := Defaults()
	if err := SetByPath(cfg, "http.prot", "9000"); err == nil {
		t.Fatal("expected error for misspelled key")
	}
	if err := SetByPath(cfg, "http.apiKey", "k-123456789"); err != nil {
		t.Fatalf("omitempty key should be settable: %v", err)
	}
}

func TestSetByPath_InvalidValueLeavesConfig(t *testing.T) {
	cfg := Defaults()
	if err := SetByPath(cfg, "http.port", "99999"); err == nil {
		t.Fatal("expected validation error")
	}
	if cfg.HTTP.Port != Defaults().HTTP.Port {
		t.Fatal("config must be unchanged after a failed set")
	}
}

func TestSetByPath_Conversions(t *testing.T) {
	cfg := Defaults()
	if err := SetByPath(cfg, "metrics.enabled", "false"); err != nil {
		t.Fatalf("set bool: %v", err)
	}
	if cfg.Metrics.Enabled {
		t.Fatal("expected metrics.enabled=false")
	}

	if err := SetByPath(cfg, "http.port", "9000"); err != nil {
		t.Fatalf("set int: %v", err)
	}
	if cfg.HTTP.Port != 9000 {
		t.Fatalf("expected 9000, got %d", cfg.HTTP.Port)
	}

	if err := SetByPath(cfg, "security.criticalPaths", `["/a", "/b"]`); err != nil {
		t.Fatalf("set list: %v", err)
	}
	if len(cfg.Security.CriticalPaths) != 2 {
		t.Fatalf("expected 2 critical paths, got %v", cfg.Security.CriticalPaths)
	}
}

// --- Sanitize ---

func TestSanitize_MasksSecrets(t *testing.T) {
	cfg := Defaults()
	cfg.Channels.Telegram.Token = "123456789:ABCdefGHIjklMNOpqrSTUvwxyz"
	cfg.Channels.Discord.Token = "discord-token-1234567890"
	cfg.HTTP.APIKey = "api-gateway-key-12345678"
	cfg.HTTP.WebhookSecret = "short"

	sanitized := Sanitize(cfg)

	if sanitized.Channels.Telegram.Token == cfg.Channels.Telegram.Token {
		t.Fatal("telegram token should be masked")
	}
	if sanitized.Channels.Discord.Token == cfg.Channels.Discord.Token {
		t.Fatal("discord token should be masked")
	}
	if sanitized.HTTP.APIKey != "api-****5678" {
		t.Fatalf("unexpected mask %q", sanitized.HTTP.APIKey)
	}
	if sanitized.HTTP.WebhookSecret != "***" {
		t.Fatalf("short secret should be '***', got %q", sanitized.HTTP.WebhookSecret)
	}
	if cfg.Channels.Telegram.Token != "123456789:ABCdefGHIjklMNOpqrSTUvwxyz" {
		t.Fatal("original config should not be modified")
	}
}

// --- ListPaths ---

func TestListPaths_ReturnsAllLeaves(t *testing.T) {
	cfg := Defaults()
	paths := ListPaths(cfg)
	for _, expected := range []string{"general.workspace", "http.port", "audit.dbPath", "actions.browser.headless"} {
		if _, ok := paths[expected]; !ok {
			t.Errorf("missing expected path: %s", expected)
		}
	}

	sorted := SortedPaths(cfg)
	if len(sorted) != len(paths) {
		t.Fatal("SortedPaths should list every path")
	}
}

// --- FlexStringList ---

func TestFlexStringList_MixedTypes(t *testing.T) {
	var list FlexStringList
	if err := json.Unmarshal([]byte(`["hello", 123, "world", 456.0]`), &list); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(list) != 4 {
		t.Fatalf("expected 4 items, got %d", len(list))
	}
	if list[1] != "123" || list[3] != "456" {
		t.Fatalf("number conversion mismatch: %v", list)
	}
}

func TestFlexStringList_InvalidJSON(t *testing.T) {
	var list FlexStringList
	if err := json.Unmarshal([]byte(`not json`), &list); err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

// --- ExpandEnvVars ---

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("TEST_API_KEY", "sk-abc123")
	t.Setenv("MY_PORT", "9090")
	t.Setenv("EMPTY_VAR", "")
	os.Unsetenv("TOTALLY_UNSET_VAR_XYZ")

	tests := []struct {
		in, want string
	}{
		{`{"apiKey": "${TEST_API_KEY}"}`, `{"apiKey": "sk-abc123"}`},
		{`"${TOTALLY_UNSET_VAR_XYZ:-8080}"`, `"8080"`},
		{`"${MY_PORT:-8080}"`, `"9090"`},
		{`"${EMPTY_VAR:-fallback}"`, `"fallback"`},
		{`"${TOTALLY_UNSET_VAR_XYZ}"`, `"${TOTALLY_UNSET_VAR_XYZ}"`},
		{`"$HOME is not substituted"`, `"$HOME is not substituted"`},
	}
	for _, tt := range tests {
		if got := ExpandEnvVars(tt.in); got != tt.want {
			t.Errorf("ExpandEnvVars(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	if got := ExpandPath("~/x/y"); got != filepath.Join(home, "x", "y") {
		t.Fatalf("got %q", got)
	}
	if got := ExpandPath("~"); got != home {
		t.Fatalf("got %q", got)
	}
	if got := ExpandPath("/abs"); got != "/abs" {
		t.Fatalf("got %q", got)
	}
}
