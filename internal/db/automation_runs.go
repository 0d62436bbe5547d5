package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog/log"
)

// Run lifecycle states. pending and running are non-terminal; completed and
// failed are terminal and may never be left.
const (
	RunStatusPending   = "pending"
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)

// Trigger types
const (
	TriggerTypeScheduled = "scheduled"
	TriggerTypeManual    = "manual"
)

// scheduledRunIndexName is the partial unique index enforcing at most one
// scheduled run per account per day. Inserts that trip it map to
// ErrDuplicateScheduledRun; any other unique violation is a real error.
const scheduledRunIndexName = "idx_automation_runs_scheduled_day"

// ErrRunNotFound is returned when an automation run is not found
var ErrRunNotFound = errors.New("automation run not found")

// ErrDuplicateScheduledRun is returned when creating a scheduled run for an
// account that already has one today. The unique index on
// (account_id, trigger_date) makes the check-and-create atomic, so losing
// this race is a guarded no-op for the caller, not a failure.
var ErrDuplicateScheduledRun = errors.New("scheduled run already exists for today")

// ErrRunConflict is returned when a status transition is rejected because the
// run is no longer in the expected state
var ErrRunConflict = errors.New("automation run not in expected state")

// AutomationRun is one entry in the append-only run ledger
type AutomationRun struct {
	ID           string
	AccountID    string
	TriggerType  string // scheduled | manual
	Source       string // all | gpt | google_aio
	Status       string
	TriggeredBy  string
	ErrorMessage string
	CreatedAt    time.Time
	StartedAt    *time.Time
	FinishedAt   *time.Time
}

// CreateAutomationRun inserts a new ledger entry in pending state
func (db *DB) CreateAutomationRun(ctx context.Context, run *AutomationRun) error {
	if run.Status == "" {
		run.Status = RunStatusPending
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO automation_runs (
			id, account_id, trigger_type, source, status, triggered_by, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := db.client.ExecContext(ctx, query,
		run.ID, run.AccountID, run.TriggerType, run.Source,
		run.Status, run.TriggeredBy, run.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == scheduledRunIndexName {
			log.Warn().
				Str("account_id", run.AccountID).
				Str("trigger_type", run.TriggerType).
				Msg("Scheduled run for today already exists, skipping create")
			return ErrDuplicateScheduledRun
		}
		log.Error().Err(err).Str("run_id", run.ID).Str("account_id", run.AccountID).Msg("Failed to create automation run")
		return fmt.Errorf("failed to create automation run: %w", err)
	}

	return nil
}

// GetAutomationRun retrieves a run by ID
func (db *DB) GetAutomationRun(ctx context.Context, runID string) (*AutomationRun, error) {
	run := &AutomationRun{}
	var errMsg sql.NullString
	var startedAt, finishedAt sql.NullTime

	query := `
		SELECT id, account_id, trigger_type, source, status, triggered_by,
		       error_message, created_at, started_at, finished_at
		FROM automation_runs
		WHERE id = $1
	`

	err := db.client.QueryRowContext(ctx, query, runID).Scan(
		&run.ID, &run.AccountID, &run.TriggerType, &run.Source, &run.Status,
		&run.TriggeredBy, &errMsg, &run.CreatedAt, &startedAt, &finishedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrRunNotFound
		}
		return nil, fmt.Errorf("failed to get automation run: %w", err)
	}

	if errMsg.Valid {
		run.ErrorMessage = errMsg.String
	}
	if startedAt.Valid {
		run.StartedAt = &startedAt.Time
	}
	if finishedAt.Valid {
		run.FinishedAt = &finishedAt.Time
	}

	return run, nil
}

// ListAutomationRuns retrieves the most recent runs for an account
func (db *DB) ListAutomationRuns(ctx context.Context, accountID string, limit int) ([]*AutomationRun, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, account_id, trigger_type, source, status, triggered_by,
		       error_message, created_at, started_at, finished_at
		FROM automation_runs
		WHERE account_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := db.client.QueryContext(ctx, query, accountID, limit)
	if err != nil {
		log.Error().Err(err).Str("account_id", accountID).Msg("Failed to query automation runs")
		return nil, fmt.Errorf("failed to list automation runs: %w", err)
	}
	defer rows.Close()

	// Initialise slice to return empty array instead of null in JSON
	runs := make([]*AutomationRun, 0)
	for rows.Next() {
		run := &AutomationRun{}
		var errMsg sql.NullString
		var startedAt, finishedAt sql.NullTime

		err := rows.Scan(
			&run.ID, &run.AccountID, &run.TriggerType, &run.Source, &run.Status,
			&run.TriggeredBy, &errMsg, &run.CreatedAt, &startedAt, &finishedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan automation run: %w", err)
		}

		if errMsg.Valid {
			run.ErrorMessage = errMsg.String
		}
		if startedAt.Valid {
			run.StartedAt = &startedAt.Time
		}
		if finishedAt.Valid {
			run.FinishedAt = &finishedAt.Time
		}

		runs = append(runs, run)
	}

	return runs, rows.Err()
}

// StartAutomationRun moves a pending run to running. The WHERE clause guards
// the transition so a run that has already left pending is not touched.
func (db *DB) StartAutomationRun(ctx context.Context, runID string) error {
	result, err := db.client.ExecContext(ctx, `
		UPDATE automation_runs
		SET status = $1, started_at = $2
		WHERE id = $3 AND status = $4
	`, RunStatusRunning, time.Now().UTC(), runID, RunStatusPending)
	if err != nil {
		return fmt.Errorf("failed to start automation run: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrRunConflict
	}

	return nil
}

// CompleteAutomationRun moves a running run to completed and stamps
// finished_at. Terminal states are never re-entered: only a run still in
// running at write time is updated.
func (db *DB) CompleteAutomationRun(ctx context.Context, runID string) error {
	result, err := db.client.ExecContext(ctx, `
		UPDATE automation_runs
		SET status = $1, finished_at = $2
		WHERE id = $3 AND status = $4
	`, RunStatusCompleted, time.Now().UTC(), runID, RunStatusRunning)
	if err != nil {
		return fmt.Errorf("failed to complete automation run: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrRunConflict
	}

	return nil
}

// FailAutomationRun moves a running run to failed with a diagnostic message.
// The status guard makes concurrent reaper passes idempotent: whichever
// writer sees the row still running wins, the other is a no-op.
func (db *DB) FailAutomationRun(ctx context.Context, runID string, message string) error {
	result, err := db.client.ExecContext(ctx, `
		UPDATE automation_runs
		SET status = $1, finished_at = $2, error_message = $3
		WHERE id = $4 AND status = $5
	`, RunStatusFailed, time.Now().UTC(), message, runID, RunStatusRunning)
	if err != nil {
		return fmt.Errorf("failed to fail automation run: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrRunConflict
	}

	return nil
}

// GetStuckAutomationRuns returns runs still in running whose started_at is
// older than the cutoff. Used by the stuck-run reaper.
func (db *DB) GetStuckAutomationRuns(ctx context.Context, cutoff time.Time) ([]*AutomationRun, error) {
	query := `
		SELECT id, account_id, trigger_type, source, status, triggered_by,
		       error_message, created_at, started_at, finished_at
		FROM automation_runs
		WHERE status = $1 AND started_at < $2
		ORDER BY started_at ASC
	`

	rows, err := db.client.QueryContext(ctx, query, RunStatusRunning, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to query stuck runs: %w", err)
	}
	defer rows.Close()

	runs := make([]*AutomationRun, 0)
	for rows.Next() {
		run := &AutomationRun{}
		var errMsg sql.NullString
		var startedAt, finishedAt sql.NullTime

		err := rows.Scan(
			&run.ID, &run.AccountID, &run.TriggerType, &run.Source, &run.Status,
			&run.TriggeredBy, &errMsg, &run.CreatedAt, &startedAt, &finishedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan stuck run: %w", err)
		}

		if errMsg.Valid {
			run.ErrorMessage = errMsg.String
		}
		if startedAt.Valid {
			run.StartedAt = &startedAt.Time
		}
		if finishedAt.Valid {
			run.FinishedAt = &finishedAt.Time
		}

		runs = append(runs, run)
	}

	return runs, rows.Err()
}
