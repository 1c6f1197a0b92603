package config

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/tidwall/jsonc"
)

// Config is the root configuration for the gateway process. The action
// policy itself lives in a separate YAML file (Security.PolicyFile).
type Config struct {
	General  GeneralConfig  `json:"general"`
	Security SecurityConfig `json:"security"`
	Audit    AuditConfig    `json:"audit"`
	HTTP     HTTPConfig     `json:"http"`
	Channels ChannelsConfig `json:"channels"`
	Actions  ActionsConfig  `json:"actions"`
	Metrics  MetricsConfig  `json:"metrics"`
}

type GeneralConfig struct {
	Workspace string `json:"workspace"` // base for relative paths in actions and self-protection
	LogLevel  string `json:"logLevel"`
	LogFile   string `json:"logFile,omitempty"` // optional log file path
}

type SecurityConfig struct {
	PolicyFile    string   `json:"policyFile"`
	CriticalPaths []string `json:"criticalPaths,omitempty"` // added to the policy file's list
	BaselineFile  string   `json:"baselineFile"`            // blake3 digests of critical files
	GraceSeconds  int      `json:"graceSeconds"`            // wait after a deadline before abandoning an action
}

type AuditConfig struct {
	DBPath             string `json:"dbPath"`
	JSONLPath          string `json:"jsonlPath,omitempty"`
	Buffer             int    `json:"buffer"`
	PreviewLen         int    `json:"previewLen"`
	SinkTimeoutSeconds int    `json:"sinkTimeoutSeconds"`
}

// HTTPConfig configures the JSON API channel.
type HTTPConfig struct {
	Enabled            bool   `json:"enabled"`
	Host               string `json:"host"`
	Port               int    `json:"port"`
	APIKey             string `json:"apiKey,omitempty"`
	WebhookSecret      string `json:"webhookSecret,omitempty"` // HMAC-SHA256 over the body, X-Signature-256 header
	RateLimitPerMinute int    `json:"rateLimitPerMinute"`      // per actor; 0 disables
	RateLimitBurst     int    `json:"rateLimitBurst"`
}

// Addr returns host:port.
func (h HTTPConfig) Addr() string {
	return net.JoinHostPort(h.Host, strconv.Itoa(h.Port))
}

type ChannelsConfig struct {
	Telegram TelegramConfig `json:"telegram"`
	Discord  DiscordConfig  `json:"discord,omitempty"`
}

type TelegramConfig struct {
	Enabled     bool           `json:"enabled"`
	Token       string         `json:"token"`
	AllowFrom   FlexStringList `json:"allowFrom"`
	DefaultChat string         `json:"defaultChat,omitempty"` // target for telegram_send without chat_id
}

type DiscordConfig struct {
	Token          string `json:"token"`
	DefaultChannel string `json:"defaultChannel,omitempty"`
}

// FlexStringList is a []string that can unmarshal from JSON arrays containing
// both strings and numbers (e.g. ["123", 456] both become "123", "456").
type FlexStringList []string

func (f *FlexStringList) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, item := range raw {
		var s string
		if err := json.Unmarshal(item, &s); err == nil {
			result = append(result, s)
			continue
		}
		var n float64
		if err := json.Unmarshal(item, &n); err == nil {
			result = append(result, strconv.FormatInt(int64(n), 10))
			continue
		}
		result = append(result, string(item))
	}
	*f = result
	return nil
}

type ActionsConfig struct {
	Shell      ShellActionConfig   `json:"shell"`
	File       FileActionConfig    `json:"file"`
	Browser    BrowserActionConfig `json:"browser"`
	SystemInfo SystemInfoConfig    `json:"systemInfo"`
}

type ShellActionConfig struct {
	Shell          string `json:"shell"`
	Python         string `json:"python"`
	MaxOutputBytes int    `json:"maxOutputBytes"`
}

type FileActionConfig struct {
	RestrictToWorkspace bool `json:"restrictToWorkspace"`
}

type BrowserActionConfig struct {
	ProfileDir string `json:"profileDir"`
	Headless   bool   `json:"headless"`
}

type SystemInfoConfig struct {
	DiskPath string `json:"diskPath"`
}

// MetricsConfig configures the Prometheus text endpoint on the HTTP channel.
type MetricsConfig struct {
	Enabled  bool   `json:"enabled"`
	Endpoint string `json:"endpoint"`
}

// DefaultConfigDir returns the default config directory (~/.agentgate).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".agentgate"
	}
	return filepath.Join(home, ".agentgate")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

// Load reads a JSON config file. Comments and trailing commas are accepted.
func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}
	return Parse(data, path)
}

// Parse decodes config data on top of Defaults. name is used in errors.
func Parse(data []byte, name string) (*Config, error) {
	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = jsonc.ToJSON([]byte(ExpandEnvVars(string(data))))

	cfg := Defaults()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", name, err)
	}
	cfg.expandPaths()

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// LoadOrDefault loads path, falling back to Defaults when it does not exist.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if err == nil {
		return cfg, nil
	}
	if _, statErr := os.Stat(ExpandPath(path)); os.IsNotExist(statErr) {
		cfg = Defaults()
		cfg.expandPaths()
		return cfg, nil
	}
	return nil, err
}

func (c *Config) expandPaths() {
	c.General.Workspace = ExpandPath(c.General.Workspace)
	c.General.LogFile = ExpandPath(c.General.LogFile)
	c.Security.PolicyFile = ExpandPath(c.Security.PolicyFile)
	c.Security.BaselineFile = ExpandPath(c.Security.BaselineFile)
	c.Audit.DBPath = ExpandPath(c.Audit.DBPath)
	c.Audit.JSONLPath = ExpandPath(c.Audit.JSONLPath)
	c.Actions.Browser.ProfileDir = ExpandPath(c.Actions.Browser.ProfileDir)
	for i, p := range c.Security.CriticalPaths {
		c.Security.CriticalPaths[i] = ExpandPath(p)
	}
}

// ProtectedPaths lists the gateway's own files: the config file, the policy,
// the audit stores, the integrity baseline and the config directory itself.
// They are always critical regardless of the policy file's contents.
func (c *Config) ProtectedPaths(configPath string) []string {
	paths := []string{DefaultConfigDir()}
	for _, p := range []string{
		ExpandPath(configPath),
		c.Security.PolicyFile,
		c.Security.BaselineFile,
		c.Audit.DBPath,
		c.Audit.JSONLPath,
	} {
		if p != "" {
			paths = append(paths, p)
		}
	}
	return append(paths, c.Security.CriticalPaths...)
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultVal := ""
		hasDefault := len(groups) >= 3 && groups[2] != ""
		if hasDefault {
			defaultVal = groups[2]
		}

		val, exists := os.LookupEnv(varName)
		if !exists || val == "" {
			if hasDefault {
				return defaultVal
			}
			return match
		}
		return val
	})
}

func Save(path string, cfg *Config) error {
	path = ExpandPath(path)
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}
	// Holds bot tokens and the API key.
	return os.WriteFile(path, data, 0o600)
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	switch strings.ToLower(cfg.General.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}
	if cfg.General.Workspace == "" {
		errs = append(errs, "general.workspace is required")
	}
	if cfg.Security.PolicyFile == "" {
		errs = append(errs, "security.policyFile is required")
	}
	if cfg.Security.GraceSeconds < 0 || cfg.Security.GraceSeconds > 60 {
		errs = append(errs, "security.graceSeconds must be between 0 and 60")
	}

	if cfg.Audit.DBPath == "" && cfg.Audit.JSONLPath == "" {
		errs = append(errs, "audit: at least one of dbPath or jsonlPath is required")
	}
	if cfg.Audit.Buffer < 1 {
		errs = append(errs, "audit.buffer must be >= 1")
	}
	if cfg.Audit.PreviewLen < 16 {
		errs = append(errs, "audit.previewLen must be >= 16")
	}

	if cfg.HTTP.Port < 0 || cfg.HTTP.Port > 65535 {
		errs = append(errs, "http.port must be between 0 and 65535")
	}
	if cfg.HTTP.RateLimitPerMinute < 0 {
		errs = append(errs, "http.rateLimitPerMinute must be >= 0")
	}
	if cfg.HTTP.RateLimitPerMinute > 0 && cfg.HTTP.RateLimitBurst < 1 {
		errs = append(errs, "http.rateLimitBurst must be >= 1 when rate limiting is enabled")
	}
	if cfg.HTTP.Enabled && cfg.HTTP.APIKey == "" && !isLoopback(cfg.HTTP.Host) {
		errs = append(errs, fmt.Sprintf("http.apiKey is required when listening on non-loopback host %q", cfg.HTTP.Host))
	}

	if cfg.Channels.Telegram.Enabled {
		if cfg.Channels.Telegram.Token == "" {
			errs = append(errs, "channels.telegram.token is required when telegram is enabled")
		}
		if len(cfg.Channels.Telegram.AllowFrom) == 0 {
			errs = append(errs, "channels.telegram.allowFrom must list at least one user")
		}
	}

	if cfg.Actions.Shell.MaxOutputBytes < 1024 {
		errs = append(errs, "actions.shell.maxOutputBytes must be >= 1024")
	}
	if cfg.Metrics.Enabled && !strings.HasPrefix(cfg.Metrics.Endpoint, "/") {
		errs = append(errs, "metrics.endpoint must start with /")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func isLoopback(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, strings.TrimPrefix(path[1:], "/"))
	}
	return path
}
