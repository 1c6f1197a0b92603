package audit

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"agentgate/internal/domain"
)

// SQLiteSink stores audit records in an append-only SQLite table.
type SQLiteSink struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewSQLiteSink(dbPath string, logger *slog.Logger) (*SQLiteSink, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// Single connection for SQLite.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := RunMigrations(db, logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}
	return &SQLiteSink{db: db, logger: logger}, nil
}

func (s *SQLiteSink) Append(ctx context.Context, rec domain.AuditRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_log (id, ts, actor_id, action_name, category, mode, outcome, result_preview, duration_ms, source)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Timestamp.UTC(), rec.ActorID, rec.ActionName, rec.Category, string(rec.Mode),
		string(rec.Outcome), rec.ResultPreview, rec.DurationMs, rec.Source,
	)
	return err
}

// Filter narrows an export query. Zero values mean "no restriction".
type Filter struct {
	Since   time.Time
	Until   time.Time
	Actor   string
	Action  string
	Outcome domain.Outcome
	Limit   int
}

// Query reads records back for operator export. The gateway itself never
// calls this while serving requests.
func (s *SQLiteSink) Query(ctx context.Context, f Filter) ([]domain.AuditRecord, error) {
	q := `SELECT id, ts, actor_id, action_name, category, mode, outcome, result_preview, duration_ms, source
	      FROM audit_log WHERE 1=1`
	var args []any
	if !f.Since.IsZero() {
		q += " AND ts >= ?"
		args = append(args, f.Since.UTC())
	}
	if !f.Until.IsZero() {
		q += " AND ts < ?"
		args = append(args, f.Until.UTC())
	}
	if f.Actor != "" {
		q += " AND actor_id = ?"
		args = append(args, f.Actor)
	}
	if f.Action != "" {
		q += " AND action_name = ?"
		args = append(args, f.Action)
	}
	if f.Outcome != "" {
		q += " AND outcome = ?"
		args = append(args, string(f.Outcome))
	}
	q += " ORDER BY seq"
	if f.Limit > 0 {
		q += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit log: %w", err)
	}
	defer rows.Close()

	var out []domain.AuditRecord
	for rows.Next() {
		var rec domain.AuditRecord
		var mode, outcome string
		if err := rows.Scan(&rec.ID, &rec.Timestamp, &rec.ActorID, &rec.ActionName, &rec.Category,
			&mode, &outcome, &rec.ResultPreview, &rec.DurationMs, &rec.Source); err != nil {
			return nil, fmt.Errorf("scan audit row: %w", err)
		}
		rec.Mode = domain.Mode(mode)
		rec.Outcome = domain.Outcome(outcome)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Count returns the number of stored records.
func (s *SQLiteSink) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM audit_log").Scan(&n)
	return n, err
}

func (s *SQLiteSink) Close() error {
	return s.db.Close()
}
