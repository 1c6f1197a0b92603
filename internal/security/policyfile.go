package security

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"agentgate/internal/domain"
)

var validate = validator.New()

// PolicyFile is the on-disk YAML form of the policy.
type PolicyFile struct {
	Mode                  domain.Mode          `yaml:"mode" json:"mode"`
	DefaultTimeoutSeconds int                  `yaml:"default_timeout_seconds,omitempty" json:"default_timeout_seconds,omitempty" validate:"gte=0,lte=3600"`
	GlobalBlacklist       []string             `yaml:"global_blacklist,omitempty" json:"global_blacklist,omitempty"`
	CriticalPaths         []string             `yaml:"critical_paths,omitempty" json:"critical_paths,omitempty"`
	Modes                 []domain.ModeRule    `yaml:"modes,omitempty" json:"modes,omitempty"`
	Actions               []domain.PolicyEntry `yaml:"actions" json:"actions" validate:"dive"`
}

// LoadPolicyFile reads and validates a YAML policy file. A missing file
// yields DefaultPolicy.
func LoadPolicyFile(path string) (*PolicyFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return DefaultPolicy(), nil
		}
		return nil, fmt.Errorf("read policy: %w", err)
	}
	return ParsePolicy(data)
}

// ParsePolicy decodes YAML policy data and validates it.
func ParsePolicy(data []byte) (*PolicyFile, error) {
	var pf PolicyFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("parse policy: %w", err)
	}
	if pf.Mode == "" {
		pf.Mode = domain.ModeNormal
	}
	pf.Mode = domain.ParseMode(string(pf.Mode))
	if err := pf.Validate(); err != nil {
		return nil, err
	}
	return &pf, nil
}

// Validate checks struct tags, duplicate action names and pattern syntax.
// All problems are reported together.
func (pf *PolicyFile) Validate() error {
	var errs []string
	if err := validate.Struct(pf); err != nil {
		errs = append(errs, err.Error())
	}

	seen := make(map[string]bool, len(pf.Actions))
	for _, e := range pf.Actions {
		if seen[e.ActionName] {
			errs = append(errs, fmt.Sprintf("duplicate action %q", e.ActionName))
		}
		seen[e.ActionName] = true
		if _, err := compilePatterns(e.BlacklistPatterns); err != nil {
			errs = append(errs, fmt.Sprintf("action %q: %v", e.ActionName, err))
		}
	}
	if _, err := compilePatterns(pf.GlobalBlacklist); err != nil {
		errs = append(errs, fmt.Sprintf("global_blacklist: %v", err))
	}

	modes := make(map[domain.Mode]bool, len(pf.Modes))
	for _, r := range pf.Modes {
		if r.Mode == "" {
			errs = append(errs, "mode rule without a mode name")
			continue
		}
		if modes[r.Mode] {
			errs = append(errs, fmt.Sprintf("duplicate mode rule %q", r.Mode))
		}
		modes[r.Mode] = true
	}

	if len(errs) > 0 {
		return fmt.Errorf("policy validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ModeTable returns the built-in table overlaid with the file's mode rules.
func (pf *PolicyFile) ModeTable() ModeTable {
	table := DefaultModeTable()
	for _, r := range pf.Modes {
		r.Mode = domain.ParseMode(string(r.Mode))
		// Request categories are compared lowercased.
		denied := make([]string, 0, len(r.DeniedCategories))
		for _, c := range r.DeniedCategories {
			if c = strings.ToLower(strings.TrimSpace(c)); c != "" {
				denied = append(denied, c)
			}
		}
		r.DeniedCategories = denied
		table[r.Mode] = r
	}
	return table
}

// Marshal renders the policy as YAML.
func (pf *PolicyFile) Marshal() ([]byte, error) {
	return yaml.Marshal(pf)
}

// DefaultPolicy is used when no policy file exists.
func DefaultPolicy() *PolicyFile {
	return &PolicyFile{
		Mode:                  domain.ModeNormal,
		DefaultTimeoutSeconds: 30,
		GlobalBlacklist: []string{
			`rm\s+-(rf|fr)\s+/(\s|$|\*|'|")`,
			"mkfs",
			"dd if=/dev/zero",
			`:\(\)\s*\{\s*:\|:&\s*\};:`,
			"format c:",
			"chmod -R 777 /",
		},
		CriticalPaths: []string{"~/.agentgate"},
		Actions: []domain.PolicyEntry{
			{
				ActionName:           "get_system_info",
				RequiresConfirmation: domain.Bool(false),
				TimeoutSeconds:       10,
				Description:          "Report host OS, CPU, memory and disk usage",
			},
			{
				ActionName:         "file_operation",
				Mutating:           true,
				TimeoutSeconds:     30,
				ReadOnlyOperations: []string{"read", "list"},
				Description:        "File {operation} on {path}",
			},
			{
				ActionName:        "shell_exec",
				Mutating:          true,
				TimeoutSeconds:    60,
				BlacklistPatterns: []string{"sudo ", "shutdown", "reboot"},
				Description:       "Run shell command: {command}",
			},
			{
				ActionName:     "python_exec",
				Mutating:       true,
				TimeoutSeconds: 60,
				BlacklistPatterns: []string{
					"os.system",
					"shutil.rmtree",
					`subprocess\.(run|call|Popen)`,
					"__import__",
				},
				Description: "Execute Python code ({code})",
			},
			{
				ActionName:     "set_safety_mode",
				Category:       domain.CategorySystemCritical,
				TimeoutSeconds: 5,
				Description:    "Switch safety mode to {mode}",
			},
			{
				ActionName:     "browser_open",
				Resource:       "browser",
				TimeoutSeconds: 45,
				Description:    "Open {url} in the automation browser",
			},
			{
				ActionName:     "telegram_send",
				TimeoutSeconds: 15,
				Description:    "Send Telegram message to {chat_id}: {text}",
			},
			{
				ActionName:     "discord_post",
				Category:       domain.CategoryDiscordPost,
				TimeoutSeconds: 15,
				Description:    "Post to Discord channel {channel_id}: {content}",
			},
		},
	}
}
