package db

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// ProviderRun is a per-provider execution record for one automation run.
// AutomationRunID is a soft link: rows written before the column existed
// carry nil, and nothing joins on it with a constraint.
type ProviderRun struct {
	ID              string
	AutomationRunID *string
	AccountID       string
	Source          string // gpt | google_aio
	Status          string
	ResponsesCount  int
	Error           string
	CreatedAt       time.Time
	StartedAt       *time.Time
	FinishedAt      *time.Time
}

// CreateProviderRun inserts a provider execution record
func (db *DB) CreateProviderRun(ctx context.Context, run *ProviderRun) error {
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}

	_, err := db.client.ExecContext(ctx, `
		INSERT INTO runs (
			id, automation_run_id, account_id, source, status, responses_count, created_at, started_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, run.ID, run.AutomationRunID, run.AccountID, run.Source, run.Status,
		run.ResponsesCount, run.CreatedAt, run.StartedAt)
	if err != nil {
		log.Error().Err(err).Str("run_id", run.ID).Str("source", run.Source).Msg("Failed to create provider run")
		return fmt.Errorf("failed to create provider run: %w", err)
	}

	return nil
}

// FinishProviderRun records the terminal state of a provider run together
// with its final response count
func (db *DB) FinishProviderRun(ctx context.Context, runID string, status string, responsesCount int, errMessage string) error {
	var errVal interface{}
	if errMessage != "" {
		errVal = errMessage
	}

	_, err := db.client.ExecContext(ctx, `
		UPDATE runs
		SET status = $1, responses_count = $2, error = $3, finished_at = $4
		WHERE id = $5
	`, status, responsesCount, errVal, time.Now().UTC(), runID)
	if err != nil {
		return fmt.Errorf("failed to finish provider run: %w", err)
	}

	return nil
}

// RunProgress reports per-source response counts for an automation run's
// provider rows. The link column may be absent on drifted schemas and rows
// may simply not exist, so callers treat any error here as "no progress
// information", never as a reason to abort.
func (db *DB) RunProgress(ctx context.Context, automationRunID string) (map[string]int, error) {
	rows, err := db.client.QueryContext(ctx, `
		SELECT source, COALESCE(SUM(responses_count), 0)
		FROM runs
		WHERE automation_run_id = $1
		GROUP BY source
	`, automationRunID)
	if err != nil {
		return nil, fmt.Errorf("failed to query run progress: %w", err)
	}
	defer rows.Close()

	progress := make(map[string]int)
	for rows.Next() {
		var source string
		var count int
		if err := rows.Scan(&source, &count); err != nil {
			return nil, fmt.Errorf("failed to scan run progress: %w", err)
		}
		progress[source] = count
	}

	return progress, rows.Err()
}

// FailProviderRuns marks any still-running provider rows of an automation
// run as failed. Best effort: the status guard keeps it idempotent.
func (db *DB) FailProviderRuns(ctx context.Context, automationRunID string, message string) error {
	result, err := db.client.ExecContext(ctx, `
		UPDATE runs
		SET status = $1, error = $2, finished_at = $3
		WHERE automation_run_id = $4 AND status = $5
	`, RunStatusFailed, message, time.Now().UTC(), automationRunID, RunStatusRunning)
	if err != nil {
		return fmt.Errorf("failed to fail provider runs: %w", err)
	}

	if n, err := result.RowsAffected(); err == nil && n > 0 {
		log.Debug().Str("automation_run_id", automationRunID).Int64("provider_runs", n).Msg("Marked provider runs as failed")
	}

	return nil
}

// MonthlySourceCounts returns per-source response counts for an account in
// the calendar month containing ts (UTC). Used for budget estimation and the
// sentiment stats command.
func (db *DB) MonthlySourceCounts(ctx context.Context, accountID string, ts time.Time) (map[string]int, error) {
	monthStart := time.Date(ts.Year(), ts.Month(), 1, 0, 0, 0, 0, time.UTC)
	monthEnd := monthStart.AddDate(0, 1, 0)

	rows, err := db.client.QueryContext(ctx, `
		SELECT r.source, COUNT(*)
		FROM responses resp
		JOIN runs r ON resp.run_id = r.id
		WHERE r.account_id = $1
		  AND resp.created_at >= $2
		  AND resp.created_at < $3
		GROUP BY r.source
	`, accountID, monthStart, monthEnd)
	if err != nil {
		return nil, fmt.Errorf("failed to query monthly source counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var source string
		var count int
		if err := rows.Scan(&source, &count); err != nil {
			return nil, fmt.Errorf("failed to scan source count: %w", err)
		}
		counts[source] = count
	}

	return counts, rows.Err()
}
