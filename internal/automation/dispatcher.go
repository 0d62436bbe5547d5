package automation

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/olexisomar/ai-visibility/internal/db"
)

// RunsChannel is the LISTEN/NOTIFY channel that wakes collector workers when
// a run becomes pending
const RunsChannel = "automation_runs"

// PgDispatcher wakes collector workers through PostgreSQL NOTIFY. The run row
// itself is the source of truth: a lost notification only delays pickup until
// the workers' pending monitor next polls.
type PgDispatcher struct {
	db *sql.DB
}

// NewPgDispatcher creates a NOTIFY-based dispatcher
func NewPgDispatcher(database *db.DB) *PgDispatcher {
	return &PgDispatcher{db: database.GetDB()}
}

// Dispatch publishes the run ID on the runs channel
func (d *PgDispatcher) Dispatch(ctx context.Context, run *db.AutomationRun) error {
	_, err := d.db.ExecContext(ctx, `SELECT pg_notify($1, $2)`, RunsChannel, run.ID)
	if err != nil {
		return fmt.Errorf("failed to notify runs channel: %w", err)
	}

	log.Debug().
		Str("run_id", run.ID).
		Str("channel", RunsChannel).
		Msg("Run dispatched")

	return nil
}
