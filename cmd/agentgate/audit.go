package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"agentgate/internal/audit"
	"agentgate/internal/domain"
)

// auditFlags are the query filters shared by the audit subcommands.
type auditFlags struct {
	since   string
	until   string
	actor   string
	action  string
	outcome string
	limit   int
}

func (f *auditFlags) register(cmd *cobra.Command, defaultLimit int) {
	cmd.Flags().StringVar(&f.since, "since", "", "only records at or after this time (RFC3339 or a duration like 24h)")
	cmd.Flags().StringVar(&f.until, "until", "", "only records before this time (RFC3339 or a duration like 1h)")
	cmd.Flags().StringVar(&f.actor, "actor", "", "filter by actor id")
	cmd.Flags().StringVar(&f.action, "action", "", "filter by action name")
	cmd.Flags().StringVar(&f.outcome, "outcome", "", "filter by outcome (e.g. denied_pattern, executed_ok)")
	cmd.Flags().IntVarP(&f.limit, "limit", "n", defaultLimit, "maximum records (0 = unlimited)")
}

func (f *auditFlags) filter(now time.Time) (audit.Filter, error) {
	since, err := parseTimeFlag(f.since, now)
	if err != nil {
		return audit.Filter{}, fmt.Errorf("--since: %w", err)
	}
	until, err := parseTimeFlag(f.until, now)
	if err != nil {
		return audit.Filter{}, fmt.Errorf("--until: %w", err)
	}
	return audit.Filter{
		Since:   since,
		Until:   until,
		Actor:   f.actor,
		Action:  f.action,
		Outcome: domain.Outcome(f.outcome),
		Limit:   f.limit,
	}, nil
}

// parseTimeFlag accepts RFC3339 timestamps or a duration relative to now.
func parseTimeFlag(s string, now time.Time) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if d, err := time.ParseDuration(s); err == nil {
		return now.Add(-d), nil
	}
	return time.Parse(time.RFC3339, s)
}

func openAuditDB() (*audit.SQLiteSink, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if cfg.Audit.DBPath == "" {
		return nil, fmt.Errorf("audit.dbPath is not configured")
	}
	return audit.NewSQLiteSink(cfg.Audit.DBPath, logger)
}

func auditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Query and export the audit log",
	}
	cmd.AddCommand(auditListCmd())
	cmd.AddCommand(auditExportCmd())
	return cmd
}

func auditListCmd() *cobra.Command {
	var flags auditFlags
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Show audit records as a table",
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := flags.filter(time.Now())
			if err != nil {
				return err
			}
			db, err := openAuditDB()
			if err != nil {
				return err
			}
			defer db.Close()

			records, err := db.Query(cmd.Context(), f)
			if err != nil {
				return err
			}
			return printRecords(os.Stdout, records)
		},
	}
	flags.register(cmd, 50)
	return cmd
}

func printRecords(w io.Writer, records []domain.AuditRecord) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "WHEN\tACTOR\tACTION\tMODE\tOUTCOME\tDURATION\tPREVIEW")
	for _, r := range records {
		preview := r.ResultPreview
		if len(preview) > 60 {
			preview = preview[:57] + "..."
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%dms\t%s\n",
			humanize.Time(r.Timestamp), r.ActorID, r.ActionName, r.Mode, r.Outcome, r.DurationMs, preview)
	}
	return tw.Flush()
}

func auditExportCmd() *cobra.Command {
	var (
		flags    auditFlags
		output   string
		compress bool
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export audit records as JSON lines",
		Long:  "Export matching audit records as JSON lines, optionally zstd-compressed. Writes to stdout unless --output is given.",
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := flags.filter(time.Now())
			if err != nil {
				return err
			}
			db, err := openAuditDB()
			if err != nil {
				return err
			}
			defer db.Close()

			var w io.Writer = os.Stdout
			if output != "" {
				file, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
				if err != nil {
					return fmt.Errorf("create export file: %w", err)
				}
				defer file.Close()
				w = file
			}

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			n, err := audit.Export(ctx, db, w, audit.ExportOptions{Filter: f, Compress: compress})
			if err != nil {
				return err
			}
			logger.Info("audit exported", "records", n, "compressed", compress, "output", output)
			return nil
		},
	}
	flags.register(cmd, 0)
	cmd.Flags().StringVarP(&output, "output", "o", "", "write to file instead of stdout")
	cmd.Flags().BoolVar(&compress, "zstd", false, "compress the output with zstd")
	return cmd
}
