package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"agentgate/internal/audit"
	"agentgate/internal/config"
	"agentgate/internal/security"
)

// integrityBaseline is the on-disk form of security.baselineFile.
type integrityBaseline struct {
	CreatedAt time.Time         `json:"created_at"`
	Files     map[string]string `json:"files"` // canonical path -> blake3 hex
}

func doctorCmd() *cobra.Command {
	var rebaseline bool
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on your agentgate installation",
		Long: `Verifies that agentgate's configuration, policy, audit database,
workspace and gateway files are correctly set up. Reports pass/fail for
each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			fmt.Printf("agentgate doctor v%s\n", version)
			fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

			passed := 0
			failed := 0
			warned := 0

			// 1. Config file exists
			if _, err := os.Stat(cfgPath); err != nil {
				printFail("Config file", fmt.Sprintf("not found at %s", cfgPath))
				fmt.Printf("\nRun 'agentgate init' to create a default configuration.\n")
				return nil
			}
			printPass("Config file", cfgPath)
			passed++

			// 2. Config loads and validates
			cfg, err := config.Load(cfgPath)
			if err != nil {
				printFail("Config validation", err.Error())
				fmt.Printf("\n%d passed, 1 failed\n", passed)
				return fmt.Errorf("config invalid")
			}
			printPass("Config validation", "valid")
			passed++

			// 3. Policy parses and compiles
			if snap, err := policyLoader(cfg, cfgPath)(); err != nil {
				printFail("Policy", err.Error())
				failed++
			} else {
				detail := fmt.Sprintf("%d actions, mode %s", len(snap.Entries()), snap.Mode())
				if _, err := os.Stat(cfg.Security.PolicyFile); errors.Is(err, os.ErrNotExist) {
					printWarn("Policy", "file missing, using built-in default ("+detail+")")
					warned++
				} else {
					printPass("Policy", detail)
					passed++
				}
			}

			// 4. Workspace directory exists
			if info, err := os.Stat(cfg.General.Workspace); err != nil {
				printFail("Workspace", fmt.Sprintf("not found: %s", cfg.General.Workspace))
				failed++
			} else if !info.IsDir() {
				printFail("Workspace", fmt.Sprintf("not a directory: %s", cfg.General.Workspace))
				failed++
			} else {
				printPass("Workspace", cfg.General.Workspace)
				passed++
			}

			// 5. Audit database writable and migrated
			if cfg.Audit.DBPath != "" {
				if n, err := checkDatabase(cfg.Audit.DBPath); err != nil {
					printFail("Audit database", err.Error())
					failed++
				} else {
					printPass("Audit database", fmt.Sprintf("%s (%d records)", cfg.Audit.DBPath, n))
					passed++
				}
			} else {
				printWarn("Audit database", "disabled, audit goes to JSONL only")
				warned++
			}

			// 6. HTTP port
			if cfg.HTTP.Enabled {
				if err := checkPort(cfg.HTTP.Addr()); err != nil {
					printWarn("HTTP port", fmt.Sprintf("%s may be in use: %v", cfg.HTTP.Addr(), err))
					warned++
				} else {
					printPass("HTTP port", cfg.HTTP.Addr()+" available")
					passed++
				}
				if cfg.HTTP.APIKey == "" {
					printWarn("HTTP auth", "no apiKey set; any local process can submit actions")
					warned++
				}
			}

			// 7. Interpreters used by shell_exec and python_exec
			for _, bin := range []string{cfg.Actions.Shell.Shell, cfg.Actions.Shell.Python} {
				if p, err := exec.LookPath(bin); err != nil {
					printWarn("Interpreter", fmt.Sprintf("%s not found in PATH", bin))
					warned++
				} else {
					printPass("Interpreter", p)
					passed++
				}
			}

			// 8. Integrity of gateway files
			if rebaseline {
				if err := writeBaseline(cfg, cfgPath); err != nil {
					printFail("Integrity", err.Error())
					failed++
				} else {
					printPass("Integrity", "baseline written to "+cfg.Security.BaselineFile)
					passed++
				}
			} else if report, err := checkIntegrity(cfg, cfgPath); err != nil {
				printWarn("Integrity", err.Error())
				warned++
			} else if !report.Clean() {
				for _, p := range report.Modified {
					printFail("Integrity", "modified: "+p)
				}
				for _, p := range report.Deleted {
					printFail("Integrity", "deleted: "+p)
				}
				failed++
			} else {
				printPass("Integrity", "gateway files match baseline")
				passed++
			}

			// Summary
			fmt.Printf("\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
			fmt.Printf("Results: %d passed, %d warnings, %d failed\n", passed, warned, failed)
			if failed > 0 {
				fmt.Printf("\nPlease fix the failed checks before running agentgate.\n")
				return fmt.Errorf("%d check(s) failed", failed)
			}
			if warned > 0 {
				fmt.Printf("\nagentgate should work but consider fixing the warnings.\n")
			} else {
				fmt.Printf("\nAll checks passed! agentgate is ready to run.\n")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&rebaseline, "rebaseline", false, "record the current gateway files as the trusted baseline")
	return cmd
}

// integrityGuard covers the files whose content defines the gateway's
// behaviour. The audit database is excluded since it changes on every request.
func integrityGuard(cfg *config.Config, cfgPath string) (*security.SelfProtect, error) {
	targets := append([]string{cfgPath, cfg.Security.PolicyFile}, cfg.Security.CriticalPaths...)
	return security.NewSelfProtect(cfg.General.Workspace, targets)
}

func writeBaseline(cfg *config.Config, cfgPath string) error {
	guard, err := integrityGuard(cfg, cfgPath)
	if err != nil {
		return err
	}
	files, err := guard.Baseline()
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(integrityBaseline{CreatedAt: time.Now().UTC(), Files: files}, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Security.BaselineFile), 0o700); err != nil {
		return err
	}
	return os.WriteFile(cfg.Security.BaselineFile, data, 0o600)
}

func checkIntegrity(cfg *config.Config, cfgPath string) (security.IntegrityReport, error) {
	data, err := os.ReadFile(cfg.Security.BaselineFile)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return security.IntegrityReport{}, fmt.Errorf("no baseline; run 'agentgate doctor --rebaseline'")
		}
		return security.IntegrityReport{}, err
	}
	var b integrityBaseline
	if err := json.Unmarshal(data, &b); err != nil {
		return security.IntegrityReport{}, fmt.Errorf("parse baseline: %w", err)
	}
	guard, err := integrityGuard(cfg, cfgPath)
	if err != nil {
		return security.IntegrityReport{}, err
	}
	return guard.Verify(b.Files)
}

// verifyIntegrity logs drift at startup. It never blocks the gateway.
func verifyIntegrity(cfg *config.Config, cfgPath string) {
	report, err := checkIntegrity(cfg, cfgPath)
	if err != nil {
		logger.Warn("integrity check skipped", "err", err)
		return
	}
	if !report.Clean() {
		logger.Warn("gateway files changed since baseline",
			"modified", report.Modified,
			"deleted", report.Deleted)
		return
	}
	logger.Info("integrity check passed")
}

// checkDatabase opens the audit database, applying migrations, and returns
// the number of stored records.
func checkDatabase(dbPath string) (int, error) {
	db, err := audit.NewSQLiteSink(dbPath, logger)
	if err != nil {
		return 0, err
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return db.Count(ctx)
}

func checkPort(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	ln.Close()
	return nil
}

func printPass(check, detail string) {
	fmt.Printf("  [PASS] %-20s %s\n", check, detail)
}

func printFail(check, detail string) {
	fmt.Printf("  [FAIL] %-20s %s\n", check, detail)
}

func printWarn(check, detail string) {
	fmt.Printf("  [WARN] %-20s %s\n", check, detail)
}
