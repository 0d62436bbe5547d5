package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	emailverifier "github.com/AfterShip/email-verifier"
	"github.com/rs/zerolog/log"
)

// Schedule cadence values
const (
	ScheduleWeekly = "weekly"
	SchedulePaused = "paused"
)

// Data-collection sources
const (
	SourceAll       = "all"
	SourceGPT       = "gpt"
	SourceGoogleAIO = "google_aio"
)

// Bounds enforced on settings writes
const (
	MinRunsPerDay    = 1
	MaxRunsPerDay    = 50
	MaxMonthlyBudget = 10000
)

// ErrInvalidSettings is returned when a settings write fails validation
var ErrInvalidSettings = errors.New("invalid automation settings")

var settingsVerifier = emailverifier.NewVerifier()

// AutomationSettings is the singleton automation configuration for an account
type AutomationSettings struct {
	AccountID            string
	Schedule             string // weekly | paused
	ScheduleDay          string // day-of-week name, e.g. "monday"
	ScheduleTime         string // HH:MM, 24-hour
	DefaultSource        string // all | gpt | google_aio
	MaxRunsPerDay        int
	NotificationsEnabled bool
	NotificationEmail    string
	MonthlyBudget        float64
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// DefaultAutomationSettings returns the hard-coded defaults used when an
// account has no settings row yet.
func DefaultAutomationSettings(accountID string) *AutomationSettings {
	return &AutomationSettings{
		AccountID:     accountID,
		Schedule:      ScheduleWeekly,
		ScheduleDay:   "monday",
		ScheduleTime:  "09:00",
		DefaultSource: SourceAll,
		MaxRunsPerDay: 10,
	}
}

// Validate checks enum domains and numeric ranges. It returns an error
// wrapping ErrInvalidSettings on the first violation found.
func (s *AutomationSettings) Validate() error {
	switch s.Schedule {
	case ScheduleWeekly, SchedulePaused:
	default:
		return fmt.Errorf("%w: unknown schedule %q", ErrInvalidSettings, s.Schedule)
	}

	switch s.DefaultSource {
	case SourceAll, SourceGPT, SourceGoogleAIO:
	default:
		return fmt.Errorf("%w: unknown source %q", ErrInvalidSettings, s.DefaultSource)
	}

	if s.MaxRunsPerDay < MinRunsPerDay || s.MaxRunsPerDay > MaxRunsPerDay {
		return fmt.Errorf("%w: max_runs_per_day %d outside [%d,%d]", ErrInvalidSettings, s.MaxRunsPerDay, MinRunsPerDay, MaxRunsPerDay)
	}

	if s.MonthlyBudget < 0 || s.MonthlyBudget > MaxMonthlyBudget {
		return fmt.Errorf("%w: monthly_budget %.2f outside [0,%d]", ErrInvalidSettings, s.MonthlyBudget, MaxMonthlyBudget)
	}

	if _, err := time.Parse("15:04", s.ScheduleTime); err != nil {
		return fmt.Errorf("%w: schedule_time %q is not HH:MM", ErrInvalidSettings, s.ScheduleTime)
	}

	if s.NotificationEmail != "" {
		syntax := settingsVerifier.ParseAddress(s.NotificationEmail)
		if !syntax.Valid {
			return fmt.Errorf("%w: notification_email %q is not a valid address", ErrInvalidSettings, s.NotificationEmail)
		}
	}

	return nil
}

// IsPaused reports whether automation is paused for these settings
func (s *AutomationSettings) IsPaused() bool {
	return s.Schedule == SchedulePaused
}

func settingsCacheKey(accountID string) string {
	return "automation_settings:" + accountID
}

// GetAutomationSettings retrieves an account's automation settings.
// A missing row yields the hard-coded defaults rather than an error, so reads
// never fail for an uninitialised account.
func (db *DB) GetAutomationSettings(ctx context.Context, accountID string) (*AutomationSettings, error) {
	// The cache holds a value copy and every read gets its own pointer, so
	// callers mutating the result (e.g. a rejected settings update) cannot
	// corrupt what later reads see.
	if cached, ok := db.Cache.Get(settingsCacheKey(accountID)); ok {
		if s, ok := cached.(AutomationSettings); ok {
			settings := s
			return &settings, nil
		}
	}

	s := &AutomationSettings{AccountID: accountID}
	var email sql.NullString

	query := `
		SELECT schedule, schedule_day, schedule_time, default_source,
		       max_runs_per_day, notifications_enabled, notification_email,
		       monthly_budget, created_at, updated_at
		FROM automation_settings
		WHERE account_id = $1
	`

	err := db.client.QueryRowContext(ctx, query, accountID).Scan(
		&s.Schedule, &s.ScheduleDay, &s.ScheduleTime, &s.DefaultSource,
		&s.MaxRunsPerDay, &s.NotificationsEnabled, &email,
		&s.MonthlyBudget, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return DefaultAutomationSettings(accountID), nil
		}
		log.Error().Err(err).Str("account_id", accountID).Msg("Failed to get automation settings")
		return nil, fmt.Errorf("failed to get automation settings: %w", err)
	}

	if email.Valid {
		s.NotificationEmail = email.String
	}

	db.Cache.Set(settingsCacheKey(accountID), *s, time.Minute)
	return s, nil
}

// UpdateAutomationSettings validates and upserts an account's settings.
// Invalid settings are rejected with no partial write.
func (db *DB) UpdateAutomationSettings(ctx context.Context, s *AutomationSettings) error {
	if err := s.Validate(); err != nil {
		return err
	}

	query := `
		INSERT INTO automation_settings (
			account_id, schedule, schedule_day, schedule_time, default_source,
			max_runs_per_day, notifications_enabled, notification_email,
			monthly_budget, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW(), NOW())
		ON CONFLICT (account_id) DO UPDATE SET
			schedule = EXCLUDED.schedule,
			schedule_day = EXCLUDED.schedule_day,
			schedule_time = EXCLUDED.schedule_time,
			default_source = EXCLUDED.default_source,
			max_runs_per_day = EXCLUDED.max_runs_per_day,
			notifications_enabled = EXCLUDED.notifications_enabled,
			notification_email = EXCLUDED.notification_email,
			monthly_budget = EXCLUDED.monthly_budget,
			updated_at = NOW()
	`

	var email interface{}
	if s.NotificationEmail != "" {
		email = s.NotificationEmail
	}

	_, err := db.client.ExecContext(ctx, query,
		s.AccountID, s.Schedule, s.ScheduleDay, s.ScheduleTime, s.DefaultSource,
		s.MaxRunsPerDay, s.NotificationsEnabled, email, s.MonthlyBudget,
	)
	if err != nil {
		log.Error().Err(err).Str("account_id", s.AccountID).Msg("Failed to update automation settings")
		return fmt.Errorf("failed to update automation settings: %w", err)
	}

	db.Cache.Delete(settingsCacheKey(s.AccountID))
	return nil
}

// CountRunsToday counts automation runs created today (UTC) for an account,
// regardless of trigger type. Used for the daily-quota predicate.
func (db *DB) CountRunsToday(ctx context.Context, accountID string) (int, error) {
	var count int
	err := db.client.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM automation_runs
		WHERE account_id = $1 AND trigger_date = (NOW() AT TIME ZONE 'UTC')::date
	`, accountID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count today's runs: %w", err)
	}
	return count, nil
}

// CountScheduledRunsToday counts scheduled automation runs created today
// (UTC) for an account. Backs the evaluator's idempotence guard.
func (db *DB) CountScheduledRunsToday(ctx context.Context, accountID string) (int, error) {
	var count int
	err := db.client.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM automation_runs
		WHERE account_id = $1
		  AND trigger_type = $2
		  AND trigger_date = (NOW() AT TIME ZONE 'UTC')::date
	`, accountID, TriggerTypeScheduled).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count today's scheduled runs: %w", err)
	}
	return count, nil
}

// CanRunToday reports whether the account is still under its daily run quota
func (db *DB) CanRunToday(ctx context.Context, accountID string) (bool, error) {
	settings, err := db.GetAutomationSettings(ctx, accountID)
	if err != nil {
		return false, err
	}

	count, err := db.CountRunsToday(ctx, accountID)
	if err != nil {
		return false, err
	}

	return count < settings.MaxRunsPerDay, nil
}
