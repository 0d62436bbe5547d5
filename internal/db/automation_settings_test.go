package db

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/olexisomar/ai-visibility/internal/cache"
)

func newMockDB(t *testing.T) (*DB, sqlmock.Sqlmock) {
	t.Helper()

	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)

	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		mockDB.Close()
	})

	return &DB{
		client: mockDB,
		config: &Config{},
		Cache:  cache.NewInMemoryCache(),
	}, mock
}

func settingsColumns() []string {
	return []string{
		"schedule", "schedule_day", "schedule_time", "default_source",
		"max_runs_per_day", "notifications_enabled", "notification_email",
		"monthly_budget", "created_at", "updated_at",
	}
}

func TestGetAutomationSettings(t *testing.T) {
	database, mock := newMockDB(t)

	now := time.Now().UTC()
	mock.ExpectQuery(regexp.QuoteMeta("FROM automation_settings")).
		WithArgs("account-1").
		WillReturnRows(sqlmock.NewRows(settingsColumns()).
			AddRow("weekly", "friday", "14:30", "gpt", 5, true, "team@example.com", 100.0, now, now))

	settings, err := database.GetAutomationSettings(context.Background(), "account-1")
	require.NoError(t, err)
	assert.Equal(t, "friday", settings.ScheduleDay)
	assert.Equal(t, "14:30", settings.ScheduleTime)
	assert.Equal(t, "gpt", settings.DefaultSource)
	assert.Equal(t, 5, settings.MaxRunsPerDay)
	assert.Equal(t, "team@example.com", settings.NotificationEmail)
}

func TestGetAutomationSettingsDefaultsWhenMissing(t *testing.T) {
	database, mock := newMockDB(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM automation_settings")).
		WithArgs("account-1").
		WillReturnError(sql.ErrNoRows)

	settings, err := database.GetAutomationSettings(context.Background(), "account-1")
	require.NoError(t, err)
	assert.Equal(t, ScheduleWeekly, settings.Schedule)
	assert.Equal(t, "monday", settings.ScheduleDay)
	assert.Equal(t, "09:00", settings.ScheduleTime)
	assert.Equal(t, SourceAll, settings.DefaultSource)
	assert.Equal(t, 10, settings.MaxRunsPerDay)
	assert.False(t, settings.NotificationsEnabled)
}

func TestGetAutomationSettingsUsesCache(t *testing.T) {
	database, mock := newMockDB(t)

	now := time.Now().UTC()
	// Only one query expected, the second read must come from cache
	mock.ExpectQuery(regexp.QuoteMeta("FROM automation_settings")).
		WithArgs("account-1").
		WillReturnRows(sqlmock.NewRows(settingsColumns()).
			AddRow("weekly", "monday", "09:00", "all", 10, false, nil, 0.0, now, now))

	first, err := database.GetAutomationSettings(context.Background(), "account-1")
	require.NoError(t, err)

	second, err := database.GetAutomationSettings(context.Background(), "account-1")
	require.NoError(t, err)
	assert.Equal(t, first, second)
	// Each read gets its own copy, never the cached object itself
	assert.NotSame(t, first, second)
}

func TestGetAutomationSettingsRejectedUpdateKeepsStoreUnchanged(t *testing.T) {
	database, mock := newMockDB(t)

	now := time.Now().UTC()
	// One query only: the second read must come from the cache and still
	// see the original values after the rejected write
	mock.ExpectQuery(regexp.QuoteMeta("FROM automation_settings")).
		WithArgs("account-1").
		WillReturnRows(sqlmock.NewRows(settingsColumns()).
			AddRow("weekly", "monday", "09:00", "all", 10, false, nil, 0.0, now, now))

	settings, err := database.GetAutomationSettings(context.Background(), "account-1")
	require.NoError(t, err)

	settings.MaxRunsPerDay = 0
	err = database.UpdateAutomationSettings(context.Background(), settings)
	assert.ErrorIs(t, err, ErrInvalidSettings)

	reread, err := database.GetAutomationSettings(context.Background(), "account-1")
	require.NoError(t, err)
	assert.Equal(t, 10, reread.MaxRunsPerDay)
}

func TestUpdateAutomationSettings(t *testing.T) {
	database, mock := newMockDB(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO automation_settings")).
		WithArgs("account-1", "weekly", "friday", "14:30", "gpt", 5, true, "team@example.com", 100.0).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := database.UpdateAutomationSettings(context.Background(), &AutomationSettings{
		AccountID:            "account-1",
		Schedule:             ScheduleWeekly,
		ScheduleDay:          "friday",
		ScheduleTime:         "14:30",
		DefaultSource:        SourceGPT,
		MaxRunsPerDay:        5,
		NotificationsEnabled: true,
		NotificationEmail:    "team@example.com",
		MonthlyBudget:        100,
	})
	require.NoError(t, err)
}

func TestUpdateAutomationSettingsRejectsInvalid(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*AutomationSettings)
	}{
		{"unknown schedule", func(s *AutomationSettings) { s.Schedule = "hourly" }},
		{"unknown source", func(s *AutomationSettings) { s.DefaultSource = "bing" }},
		{"runs below minimum", func(s *AutomationSettings) { s.MaxRunsPerDay = 0 }},
		{"runs above maximum", func(s *AutomationSettings) { s.MaxRunsPerDay = 51 }},
		{"bad time format", func(s *AutomationSettings) { s.ScheduleTime = "9am" }},
		{"negative budget", func(s *AutomationSettings) { s.MonthlyBudget = -1 }},
		{"budget above cap", func(s *AutomationSettings) { s.MonthlyBudget = 10001 }},
		{"bad email", func(s *AutomationSettings) { s.NotificationEmail = "not-an-email" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// No SQL expectations: validation must reject before any write
			database, _ := newMockDB(t)

			settings := DefaultAutomationSettings("account-1")
			tt.mutate(settings)

			err := database.UpdateAutomationSettings(context.Background(), settings)
			assert.ErrorIs(t, err, ErrInvalidSettings)
		})
	}
}

func TestCountRunsToday(t *testing.T) {
	database, mock := newMockDB(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM automation_runs")).
		WithArgs("account-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

	count, err := database.CountRunsToday(context.Background(), "account-1")
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestCanRunToday(t *testing.T) {
	t.Run("under limit", func(t *testing.T) {
		database, mock := newMockDB(t)

		now := time.Now().UTC()
		mock.ExpectQuery(regexp.QuoteMeta("FROM automation_settings")).
			WithArgs("account-1").
			WillReturnRows(sqlmock.NewRows(settingsColumns()).
				AddRow("weekly", "monday", "09:00", "all", 2, false, nil, 0.0, now, now))
		mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM automation_runs")).
			WithArgs("account-1").
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

		ok, err := database.CanRunToday(context.Background(), "account-1")
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("at limit", func(t *testing.T) {
		database, mock := newMockDB(t)

		now := time.Now().UTC()
		mock.ExpectQuery(regexp.QuoteMeta("FROM automation_settings")).
			WithArgs("account-1").
			WillReturnRows(sqlmock.NewRows(settingsColumns()).
				AddRow("weekly", "monday", "09:00", "all", 2, false, nil, 0.0, now, now))
		mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM automation_runs")).
			WithArgs("account-1").
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))

		ok, err := database.CanRunToday(context.Background(), "account-1")
		require.NoError(t, err)
		assert.False(t, ok)
	})
}
