package automation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/olexisomar/ai-visibility/internal/db"
)

// ErrDailyLimitReached is returned when an account has exhausted its daily
// run quota
var ErrDailyLimitReached = errors.New("daily run limit reached")

// Store defines the database operations needed by the manager
type Store interface {
	ListAccountIDs(ctx context.Context) ([]string, error)
	GetAutomationSettings(ctx context.Context, accountID string) (*db.AutomationSettings, error)
	CountRunsToday(ctx context.Context, accountID string) (int, error)
	CountScheduledRunsToday(ctx context.Context, accountID string) (int, error)
	CreateAutomationRun(ctx context.Context, run *db.AutomationRun) error
	MonthlySourceCounts(ctx context.Context, accountID string, ts time.Time) (map[string]int, error)
}

// Dispatcher hands a freshly created run to whatever executes it
type Dispatcher interface {
	Dispatch(ctx context.Context, run *db.AutomationRun) error
}

// Manager owns trigger evaluation and run creation. It is stateless between
// invocations: every decision is made against the persisted ledger, so any
// node of a scaled deployment can run it.
type Manager struct {
	store      Store
	dispatcher Dispatcher
	costs      CostModel
}

// NewManager creates an automation manager
func NewManager(store Store, dispatcher Dispatcher) *Manager {
	return &Manager{
		store:      store,
		dispatcher: dispatcher,
		costs:      DefaultCostModel(),
	}
}

// EvaluateSchedules walks every account and triggers today's scheduled run
// for each one whose schedule matches the current minute. Per-account
// failures are logged and skipped so one broken tenant cannot starve the
// rest.
func (m *Manager) EvaluateSchedules(ctx context.Context, now time.Time) {
	span := sentry.StartSpan(ctx, "automation.evaluate_schedules")
	defer span.Finish()

	accountIDs, err := m.store.ListAccountIDs(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list accounts for schedule evaluation")
		sentry.CaptureException(err)
		return
	}

	triggered := 0
	for _, accountID := range accountIDs {
		run, err := m.evaluateAccount(ctx, accountID, now)
		if err != nil {
			log.Error().Err(err).Str("account_id", accountID).Msg("Schedule evaluation failed for account")
			continue
		}
		if run != nil {
			triggered++
		}
	}

	if triggered > 0 {
		log.Info().
			Int("triggered", triggered).
			Int("accounts", len(accountIDs)).
			Msg("Scheduled automation runs triggered")
	}
}

// evaluateAccount applies the trigger preconditions in order, short-circuiting
// on the first failure. Returns the created run, or nil when no trigger fired.
func (m *Manager) evaluateAccount(ctx context.Context, accountID string, now time.Time) (*db.AutomationRun, error) {
	settings, err := m.store.GetAutomationSettings(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}

	if settings.IsPaused() {
		log.Debug().Str("account_id", accountID).Msg("Automation paused, skipping")
		return nil, nil
	}

	if !scheduleMatches(now, settings.ScheduleDay, settings.ScheduleTime) {
		log.Debug().
			Str("account_id", accountID).
			Str("schedule_day", settings.ScheduleDay).
			Str("schedule_time", settings.ScheduleTime).
			Time("now", now.UTC()).
			Msg("Schedule not due, skipping")
		return nil, nil
	}

	// Idempotence guard: at most one scheduled run per account per day.
	// The unique index backs this up if two evaluator ticks race.
	count, err := m.store.CountScheduledRunsToday(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to count scheduled runs: %w", err)
	}
	if count > 0 {
		log.Debug().
			Str("account_id", accountID).
			Int("existing_runs", count).
			Msg("Scheduled run already created today, skipping")
		return nil, nil
	}

	log.Info().
		Str("account_id", accountID).
		Str("schedule_day", settings.ScheduleDay).
		Str("schedule_time", settings.ScheduleTime).
		Str("source", settings.DefaultSource).
		Msg("Schedule matched, triggering run")

	run, err := m.TriggerRun(ctx, accountID, db.TriggerTypeScheduled, settings.DefaultSource, "scheduler")
	if err != nil {
		if errors.Is(err, db.ErrDuplicateScheduledRun) {
			// Lost the create race to a concurrent evaluator tick
			return nil, nil
		}
		if errors.Is(err, ErrDailyLimitReached) {
			log.Warn().Str("account_id", accountID).Msg("Daily run limit reached, scheduled run not created")
			return nil, nil
		}
		return nil, err
	}

	return run, nil
}

// TriggerRun creates a new pending ledger entry and hands it to the
// dispatcher. The daily quota is enforced here for both scheduled and manual
// triggers.
func (m *Manager) TriggerRun(ctx context.Context, accountID, triggerType, source, triggeredBy string) (*db.AutomationRun, error) {
	settings, err := m.store.GetAutomationSettings(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}

	count, err := m.store.CountRunsToday(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to count today's runs: %w", err)
	}
	if count >= settings.MaxRunsPerDay {
		return nil, fmt.Errorf("%w: %d of %d runs used today", ErrDailyLimitReached, count, settings.MaxRunsPerDay)
	}

	if source == "" {
		source = settings.DefaultSource
	}

	run := &db.AutomationRun{
		ID:          uuid.New().String(),
		AccountID:   accountID,
		TriggerType: triggerType,
		Source:      source,
		Status:      db.RunStatusPending,
		TriggeredBy: triggeredBy,
		CreatedAt:   time.Now().UTC(),
	}

	if err := m.store.CreateAutomationRun(ctx, run); err != nil {
		return nil, err
	}

	log.Info().
		Str("run_id", run.ID).
		Str("account_id", accountID).
		Str("trigger_type", triggerType).
		Str("source", run.Source).
		Str("triggered_by", triggeredBy).
		Msg("Automation run created")

	m.warnIfOverBudget(ctx, accountID, settings)

	if m.dispatcher != nil {
		if err := m.dispatcher.Dispatch(ctx, run); err != nil {
			// The run is already persisted as pending; a worker's pending
			// monitor will still pick it up without the wakeup.
			log.Warn().Err(err).Str("run_id", run.ID).Msg("Failed to dispatch run notification")
		}
	}

	return run, nil
}
