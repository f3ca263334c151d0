// models/meta.go
package models

import "time"

// Outcome of one family cycle.
type Outcome string

const (
	OutcomeCommitted Outcome = "committed"
	OutcomeSkipped   Outcome = "already_committed"
	OutcomeNotFresh  Outcome = "not_fresh"
	OutcomeFailed    Outcome = "failed"
)

// RefreshRun tracks one family cycle: when it was checked, what was decided
// and which snapshot fed it.
type RefreshRun struct {
	RunID        string    `db:"run_id" json:"run_id"`
	Family       Family    `db:"family" json:"family"`
	ExpectedDate string    `db:"expected_date" json:"expected_date"`
	Fresh        bool      `db:"fresh" json:"fresh"`
	Outcome      Outcome   `db:"outcome" json:"outcome"`
	SnapshotDir  string    `db:"snapshot_dir" json:"snapshot_dir,omitempty"`
	Error        string    `db:"error" json:"error,omitempty"`
	CheckedAt    time.Time `db:"checked_at" json:"checked_at"`
}
