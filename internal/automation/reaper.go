package automation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/rs/zerolog/log"

	"github.com/olexisomar/ai-visibility/internal/db"
)

// DefaultStuckRunTimeout is how long a run may sit in running before the
// reaper presumes its worker is gone
const DefaultStuckRunTimeout = 7200 * time.Second

// ReaperStore defines the database operations needed by the reaper
type ReaperStore interface {
	GetStuckAutomationRuns(ctx context.Context, cutoff time.Time) ([]*db.AutomationRun, error)
	RunProgress(ctx context.Context, automationRunID string) (map[string]int, error)
	FailAutomationRun(ctx context.Context, runID string, message string) error
	FailProviderRuns(ctx context.Context, automationRunID string, message string) error
}

// Reaper reclaims automation runs stuck in running past a timeout. Every run
// eventually reaches a terminal state because of this sweep: a crashed worker
// or lost notification leaves a run stranded for at most the timeout plus one
// sweep interval.
type Reaper struct {
	store   ReaperStore
	timeout time.Duration
}

// NewReaper creates a stuck-run reaper. A non-positive timeout falls back to
// the default of two hours.
func NewReaper(store ReaperStore, timeout time.Duration) *Reaper {
	if timeout <= 0 {
		timeout = DefaultStuckRunTimeout
	}
	return &Reaper{store: store, timeout: timeout}
}

// Sweep finds and fails all runs that have overstayed the timeout, returning
// the number reaped. Processing is isolated per run: a failure on one run is
// logged and the sweep moves on.
func (r *Reaper) Sweep(ctx context.Context, now time.Time) (int, error) {
	span := sentry.StartSpan(ctx, "automation.reap_stuck_runs")
	defer span.Finish()

	cutoff := now.Add(-r.timeout)
	runs, err := r.store.GetStuckAutomationRuns(ctx, cutoff)
	if err != nil {
		span.SetTag("error", "true")
		return 0, fmt.Errorf("failed to query stuck runs: %w", err)
	}

	reaped := 0
	for _, run := range runs {
		if r.reapRun(ctx, run, now) {
			reaped++
		}
	}

	if reaped > 0 {
		log.Info().
			Int("reaped", reaped).
			Dur("timeout", r.timeout).
			Msg("Reaped stuck automation runs")
	}

	return reaped, nil
}

// reapRun fails a single stuck run, annotating the message with per-provider
// progress when it can be read. Reports whether this pass performed the
// transition.
func (r *Reaper) reapRun(ctx context.Context, run *db.AutomationRun, now time.Time) bool {
	elapsed := r.timeout
	if run.StartedAt != nil {
		elapsed = now.Sub(*run.StartedAt)
	}

	// Progress annotation is best-effort: the provider rows are soft-linked
	// and may not exist at all for older data.
	progress, err := r.store.RunProgress(ctx, run.ID)
	if err != nil {
		log.Warn().Err(err).Str("run_id", run.ID).Msg("Could not read run progress, reaping without counts")
		progress = nil
	}

	message := fmt.Sprintf("Run exceeded %ds timeout (running for %.1f hours)", int(r.timeout.Seconds()), elapsed.Hours())
	if len(progress) > 0 {
		message += "; processed: " + formatProgress(progress)
	}

	if err := r.store.FailAutomationRun(ctx, run.ID, message); err != nil {
		if errors.Is(err, db.ErrRunConflict) {
			// Already moved out of running by a worker or a concurrent sweep
			log.Debug().Str("run_id", run.ID).Msg("Stuck run already transitioned, skipping")
			return false
		}
		log.Error().Err(err).Str("run_id", run.ID).Str("account_id", run.AccountID).Msg("Failed to reap stuck run")
		sentry.CaptureException(err)
		return false
	}

	// Also close out any provider rows the dead worker left running
	if err := r.store.FailProviderRuns(ctx, run.ID, message); err != nil {
		log.Warn().Err(err).Str("run_id", run.ID).Msg("Failed to fail provider runs for reaped run")
	}

	logEvent := log.Warn().
		Str("run_id", run.ID).
		Str("account_id", run.AccountID).
		Dur("elapsed", elapsed)
	for source, count := range progress {
		logEvent = logEvent.Int("responses_"+source, count)
	}
	logEvent.Msg("Marked stuck automation run as failed")

	return true
}

func formatProgress(progress map[string]int) string {
	sources := make([]string, 0, len(progress))
	for source := range progress {
		sources = append(sources, source)
	}
	sort.Strings(sources)

	parts := make([]string, 0, len(sources))
	for _, source := range sources {
		parts = append(parts, fmt.Sprintf("%s=%d", source, progress[source]))
	}
	return strings.Join(parts, " ")
}
