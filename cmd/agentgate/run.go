package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/user"
	"time"

	"github.com/spf13/cobra"

	"agentgate/internal/domain"
)

// requestFlags are shared by run and check.
type requestFlags struct {
	params    string
	confirmed bool
	actor     string
	category  string
}

func (f *requestFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.params, "params", "p", "", `action parameters as a JSON object (e.g. '{"path":"notes.txt"}')`)
	cmd.Flags().BoolVar(&f.confirmed, "confirm", false, "mark the request as confirmed")
	cmd.Flags().StringVar(&f.actor, "actor", "", "actor identity (default: cli:<username>)")
	cmd.Flags().StringVar(&f.category, "category", "", "request category used by the safety mode")
}

func (f *requestFlags) request(actionName string) (domain.ActionRequest, error) {
	req := domain.ActionRequest{
		ActionName: actionName,
		Confirmed:  f.confirmed,
		ActorID:    f.actor,
		Category:   f.category,
		Source:     "cli",
	}
	if f.params != "" {
		if err := json.Unmarshal([]byte(f.params), &req.Params); err != nil {
			return req, fmt.Errorf("--params must be a JSON object: %w", err)
		}
	}
	if req.ActorID == "" {
		req.ActorID = "cli"
		if u, err := user.Current(); err == nil {
			req.ActorID = "cli:" + u.Username
		}
	}
	return req, nil
}

func runCmd() *cobra.Command {
	var flags requestFlags
	cmd := &cobra.Command{
		Use:   "run <action>",
		Short: "Submit one action request through the full pipeline",
		Long: `Evaluate and, if allowed, execute one action locally. The request is
audited exactly like a remote one. Exit status is 0 on success, 2 when
confirmation is required and 1 otherwise.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			req, err := flags.request(args[0])
			if err != nil {
				return err
			}
			rt, err := newRuntime(cfg, resolveConfigPath(), runtimeOptions{withActions: true})
			if err != nil {
				return err
			}

			resp := rt.dispatcher.Handle(context.Background(), req)
			if err := rt.close(5 * time.Second); err != nil {
				logger.Warn("audit flush", "err", err)
			}
			if err := printJSON(resp); err != nil {
				return err
			}

			switch {
			case resp.Success:
				return nil
			case resp.RequiresConfirmation:
				os.Exit(2)
			}
			os.Exit(1)
			return nil
		},
	}
	flags.register(cmd)
	return cmd
}

func checkCmd() *cobra.Command {
	var flags requestFlags
	cmd := &cobra.Command{
		Use:   "check <action>",
		Short: "Show the policy decision for a request without executing it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			req, err := flags.request(args[0])
			if err != nil {
				return err
			}
			rt, err := newRuntime(cfg, resolveConfigPath(), runtimeOptions{})
			if err != nil {
				return err
			}
			d := rt.dispatcher.Evaluate(req)
			return printJSON(struct {
				domain.Decision
				Mode    domain.Mode `json:"mode"`
				Timeout string      `json:"timeout,omitempty"`
			}{Decision: d, Mode: rt.dispatcher.Mode(), Timeout: durationString(d.Timeout)})
		},
	}
	flags.register(cmd)
	return cmd
}

func durationString(d time.Duration) string {
	if d == 0 {
		return ""
	}
	return d.String()
}
