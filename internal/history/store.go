// Package history keeps a SQLite log of pipeline runs so successive runs
// can be compared: which passes failed, how long they took, and whether
// the generated workspace changed.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/steveyegge/repodoc/internal/pipeline"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// ErrRunNotFound is returned when a run id has no record.
var ErrRunNotFound = errors.New("run not found")

// timeLayout is used for every stored timestamp; it sorts lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Run is the stored summary of one pipeline run.
type Run struct {
	ID          string
	Runner      string
	StartedAt   time.Time
	CompletedAt time.Time
	Duration    time.Duration
	Incomplete  bool
	CancelError string
	Fingerprint string
	Succeeded   int
	Failed      int
	Skipped     int
	NotRun      int
}

// PassOutcome is the stored record of one pass in a run.
type PassOutcome struct {
	RunID     string
	Pass      string
	Wave      int
	Status    pipeline.Status
	Reason    pipeline.SkipReason
	Detail    string
	Error     string
	Duration  time.Duration
	Additions int
}

// Store is the run history database.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the history database at path.
func Open(path string) (*Store, error) {
	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection keeps the pragmas below in effect
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA foreign_keys=ON;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to configure database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record stores a finished report with the fingerprint of the workspace
// it produced. Recording the same run id twice is an error.
func (s *Store) Record(ctx context.Context, report *pipeline.Report, fingerprint string) error {
	if report == nil || report.RunID == "" {
		return fmt.Errorf("report has no run id")
	}

	counts := report.Counts()
	cancelErr := ""
	if report.CancelErr != nil {
		cancelErr = report.CancelErr.Error()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, runner, started_at, completed_at, duration_ms, incomplete,
		                  cancel_error, fingerprint, succeeded, failed, skipped, not_run)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		report.RunID,
		report.Runner,
		formatTime(report.StartedAt),
		formatTime(report.CompletedAt),
		report.Duration().Milliseconds(),
		report.Incomplete,
		cancelErr,
		fingerprint,
		counts[pipeline.StatusSuccess],
		counts[pipeline.StatusFailed],
		counts[pipeline.StatusSkipped],
		counts[pipeline.StatusNotRun],
	)
	if err != nil {
		return fmt.Errorf("failed to insert run %s: %w", report.RunID, err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO pass_outcomes (run_id, seq, pass, wave, status, reason, detail, error, duration_ms, additions)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare outcome insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for i, o := range report.Outcomes {
		errText := ""
		if o.Err != nil {
			errText = o.Err.Err.Error()
		}
		if _, err := stmt.ExecContext(ctx,
			report.RunID, i, o.Pass, o.Wave, string(o.Status), string(o.Reason),
			o.Detail, errText, o.Duration.Milliseconds(), o.Additions,
		); err != nil {
			return fmt.Errorf("failed to insert outcome for pass %s: %w", o.Pass, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit run %s: %w", report.RunID, err)
	}
	return nil
}

// Recent returns up to n runs, newest first.
func (s *Store) Recent(ctx context.Context, n int) ([]Run, error) {
	if n <= 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, runner, started_at, completed_at, duration_ms, incomplete,
		       cancel_error, fingerprint, succeeded, failed, skipped, not_run
		FROM runs
		ORDER BY started_at DESC, id DESC
		LIMIT ?
	`, n)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []Run
	for rows.Next() {
		var r Run
		var started, completed string
		var durationMS int64
		if err := rows.Scan(
			&r.ID, &r.Runner, &started, &completed, &durationMS, &r.Incomplete,
			&r.CancelError, &r.Fingerprint, &r.Succeeded, &r.Failed, &r.Skipped, &r.NotRun,
		); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		if r.StartedAt, err = parseTime(started); err != nil {
			return nil, err
		}
		if r.CompletedAt, err = parseTime(completed); err != nil {
			return nil, err
		}
		r.Duration = time.Duration(durationMS) * time.Millisecond
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}
	return runs, nil
}

// Outcomes returns the pass outcomes of a run in registration order.
func (s *Store) Outcomes(ctx context.Context, runID string) ([]PassOutcome, error) {
	var exists int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM runs WHERE id = ?", runID).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("failed to look up run %s: %w", runID, err)
	}
	if exists == 0 {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT pass, wave, status, reason, detail, error, duration_ms, additions
		FROM pass_outcomes
		WHERE run_id = ?
		ORDER BY seq ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query outcomes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var outcomes []PassOutcome
	for rows.Next() {
		o := PassOutcome{RunID: runID}
		var status, reason string
		var durationMS int64
		if err := rows.Scan(&o.Pass, &o.Wave, &status, &reason, &o.Detail, &o.Error, &durationMS, &o.Additions); err != nil {
			return nil, fmt.Errorf("failed to scan outcome: %w", err)
		}
		o.Status = pipeline.Status(status)
		o.Reason = pipeline.SkipReason(reason)
		o.Duration = time.Duration(durationMS) * time.Millisecond
		outcomes = append(outcomes, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating outcomes: %w", err)
	}
	return outcomes, nil
}

// Prune deletes all but the newest keep runs and returns how many were removed.
func (s *Store) Prune(ctx context.Context, keep int) (int, error) {
	if keep < 0 {
		return 0, fmt.Errorf("keep must be non-negative, got %d", keep)
	}

	res, err := s.db.ExecContext(ctx, `
		DELETE FROM runs
		WHERE id NOT IN (
			SELECT id FROM runs ORDER BY started_at DESC, id DESC LIMIT ?
		)
	`, keep)
	if err != nil {
		return 0, fmt.Errorf("failed to prune runs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count pruned runs: %w", err)
	}
	return int(n), nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid stored timestamp %q: %w", s, err)
	}
	return t, nil
}
