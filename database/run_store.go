// database/run_store.go
package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jeremymoreau/covid19mtl/models"
	"github.com/jeremymoreau/covid19mtl/utils"
)

// Ledger records what every family cycle checked and decided.
type Ledger interface {
	RecordRun(ctx context.Context, run models.RefreshRun) error
	LatestRuns(ctx context.Context) ([]models.RefreshRun, error)
	Close() error
}

// NopLedger is used when no database is configured.
type NopLedger struct{}

func (NopLedger) RecordRun(context.Context, models.RefreshRun) error         { return nil }
func (NopLedger) LatestRuns(context.Context) ([]models.RefreshRun, error) { return nil, nil }
func (NopLedger) Close() error                                             { return nil }

const createRefreshRuns = `
	CREATE TABLE IF NOT EXISTS refresh_runs (
		run_id        CHAR(36)     NOT NULL,
		family        VARCHAR(16)  NOT NULL,
		expected_date DATE         NOT NULL,
		fresh         BOOLEAN      NOT NULL,
		outcome       VARCHAR(32)  NOT NULL,
		snapshot_dir  VARCHAR(512) NULL,
		error         TEXT         NULL,
		checked_at    DATETIME     NOT NULL,
		PRIMARY KEY (run_id, family),
		KEY idx_family_checked (family, checked_at)
	)`

// RunStore is the MySQL-backed Ledger.
type RunStore struct {
	DB     *sql.DB
	Logger *utils.Logger
}

// NewRunStore wraps db and makes sure the refresh_runs table exists.
func NewRunStore(ctx context.Context, db *sql.DB, logger *utils.Logger) (*RunStore, error) {
	if _, err := db.ExecContext(ctx, createRefreshRuns); err != nil {
		return nil, fmt.Errorf("failed to create refresh_runs: %w", err)
	}
	return &RunStore{DB: db, Logger: logger}, nil
}

// RecordRun inserts or updates the row of one family cycle.
func (s *RunStore) RecordRun(ctx context.Context, run models.RefreshRun) error {
	query := `
		INSERT INTO refresh_runs (
			run_id, family, expected_date, fresh, outcome, snapshot_dir, error, checked_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			fresh = VALUES(fresh),
			outcome = VALUES(outcome),
			snapshot_dir = VALUES(snapshot_dir),
			error = VALUES(error),
			checked_at = VALUES(checked_at)
	`
	_, err := s.DB.ExecContext(ctx, query,
		run.RunID, string(run.Family), run.ExpectedDate, run.Fresh, string(run.Outcome),
		nullString(run.SnapshotDir), nullString(run.Error), run.CheckedAt.UTC(),
	)
	if err != nil {
		s.Logger.Error("[ledger] failed to record %s run %s: %v", run.Family, run.RunID, err)
		return fmt.Errorf("failed to record refresh run for %s: %w", run.Family, err)
	}
	s.Logger.Debug("[ledger] recorded %s run %s: %s", run.Family, run.RunID, run.Outcome)
	return nil
}

// LatestRuns returns the most recent run of every family.
func (s *RunStore) LatestRuns(ctx context.Context) ([]models.RefreshRun, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT r.run_id, r.family, r.expected_date, r.fresh, r.outcome,
		       r.snapshot_dir, r.error, r.checked_at
		FROM refresh_runs r
		JOIN (
			SELECT family, MAX(checked_at) AS checked_at
			FROM refresh_runs
			GROUP BY family
		) latest ON latest.family = r.family AND latest.checked_at = r.checked_at
		ORDER BY r.family
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query refresh_runs: %w", err)
	}
	defer rows.Close()

	var runs []models.RefreshRun
	for rows.Next() {
		var run models.RefreshRun
		var family, outcome string
		var expected time.Time
		var snapshotDir, runErr sql.NullString
		if err := rows.Scan(
			&run.RunID, &family, &expected, &run.Fresh, &outcome,
			&snapshotDir, &runErr, &run.CheckedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan refresh_runs row: %w", err)
		}
		run.Family = models.Family(family)
		run.ExpectedDate = expected.Format(models.DateLayout)
		run.Outcome = models.Outcome(outcome)
		run.SnapshotDir = snapshotDir.String
		run.Error = runErr.String
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating refresh_runs rows: %w", err)
	}
	return runs, nil
}

func (s *RunStore) Close() error { return s.DB.Close() }

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
