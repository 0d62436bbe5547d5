package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// DbQueue is a PostgreSQL implementation of a work queue for automation runs
type DbQueue struct {
	db *sql.DB
}

// NewDbQueue creates a PostgreSQL work queue
func NewDbQueue(database *DB) *DbQueue {
	return &DbQueue{
		db: database.client,
	}
}

// Execute runs a database operation in a transaction
func (q *DbQueue) Execute(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// ClaimNextAutomationRun picks up a pending automation run using row-level
// locking and marks it running. FOR UPDATE SKIP LOCKED lets concurrent
// workers each claim a different run. Returns nil when nothing is pending.
func (q *DbQueue) ClaimNextAutomationRun(ctx context.Context) (*AutomationRun, error) {
	var run AutomationRun

	err := q.Execute(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `
			SELECT id, account_id, trigger_type, source, status, created_at
			FROM automation_runs
			WHERE status = 'pending'
			ORDER BY created_at ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		`)

		err := row.Scan(&run.ID, &run.AccountID, &run.TriggerType, &run.Source, &run.Status, &run.CreatedAt)
		if err == sql.ErrNoRows {
			return sql.ErrNoRows
		}
		if err != nil {
			return fmt.Errorf("failed to query pending run: %w", err)
		}

		now := time.Now().UTC()
		_, err = tx.ExecContext(ctx, `
			UPDATE automation_runs
			SET status = 'running', started_at = $1
			WHERE id = $2
		`, now, run.ID)
		if err != nil {
			return fmt.Errorf("failed to mark run as running: %w", err)
		}

		run.Status = RunStatusRunning
		run.StartedAt = &now

		return nil
	})

	if err == sql.ErrNoRows {
		return nil, nil // No pending runs
	}
	if err != nil {
		return nil, err
	}

	return &run, nil
}
