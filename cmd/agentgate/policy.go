package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"agentgate/internal/security"
)

func policyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Inspect and validate the action policy",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective policy as YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			pf, err := security.LoadPolicyFile(cfg.Security.PolicyFile)
			if err != nil {
				return err
			}
			data, err := pf.Marshal()
			if err != nil {
				return err
			}
			fmt.Print(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List whitelisted actions",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			rt, err := newRuntime(cfg, resolveConfigPath(), runtimeOptions{})
			if err != nil {
				return err
			}
			snap := rt.store.Snapshot()
			fmt.Printf("mode: %s\n\n", snap.Mode())
			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ACTION\tCATEGORY\tCONFIRM\tTIMEOUT\tRESOURCE")
			for _, e := range snap.Entries() {
				confirm := "no"
				if e.ConfirmationRequired() {
					confirm = "yes"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
					e.ActionName, e.Category, confirm, snap.TimeoutFor(e.ActionName), e.Resource)
			}
			return tw.Flush()
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "validate [file]",
		Short: "Validate a policy file (default: the configured one)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			path := cfg.Security.PolicyFile
			if len(args) == 1 {
				path = args[0]
			}
			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("read policy: %w", err)
			}
			pf, err := security.ParsePolicy(data)
			if err != nil {
				return err
			}
			snap, err := security.NewSnapshot(pf, cfg.General.Workspace, cfg.ProtectedPaths(resolveConfigPath())...)
			if err != nil {
				return err
			}
			fmt.Printf("%s: ok (%d actions, mode %s, %d protected paths)\n",
				path, len(snap.Entries()), snap.Mode(), len(snap.SelfProtect().Paths()))
			return nil
		},
	})

	var force bool
	initPolicy := &cobra.Command{
		Use:   "init",
		Short: "Write the built-in default policy to the configured path",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := writePolicy(cfg.Security.PolicyFile, security.DefaultPolicy(), force); err != nil {
				return err
			}
			logger.Info("policy written", "path", cfg.Security.PolicyFile)
			return nil
		},
	}
	initPolicy.Flags().BoolVar(&force, "force", false, "overwrite an existing policy file")
	cmd.AddCommand(initPolicy)

	return cmd
}

// writePolicy writes pf as YAML unless the file already exists and force is
// not set.
func writePolicy(path string, pf *security.PolicyFile, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return nil
	} else if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	data, err := pf.Marshal()
	if err != nil {
		return fmt.Errorf("marshal policy: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create policy directory: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}
