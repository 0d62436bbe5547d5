package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/olexisomar/ai-visibility/internal/auth"
	"github.com/olexisomar/ai-visibility/internal/automation"
	"github.com/olexisomar/ai-visibility/internal/db"
)

type fakeDBClient struct {
	pingErr       error
	settings      map[string]*db.AutomationSettings
	updated       []*db.AutomationSettings
	runs          map[string]*db.AutomationRun
	runList       []*db.AutomationRun
	progress      map[string]map[string]int
	notifications []*db.Notification
	read          []string
	stats         *db.SentimentStats
}

func (f *fakeDBClient) Ping(ctx context.Context) error { return f.pingErr }

func (f *fakeDBClient) GetAutomationSettings(ctx context.Context, accountID string) (*db.AutomationSettings, error) {
	if s, ok := f.settings[accountID]; ok {
		return s, nil
	}
	return db.DefaultAutomationSettings(accountID), nil
}

func (f *fakeDBClient) UpdateAutomationSettings(ctx context.Context, s *db.AutomationSettings) error {
	if err := s.Validate(); err != nil {
		return err
	}
	f.updated = append(f.updated, s)
	return nil
}

func (f *fakeDBClient) GetAutomationRun(ctx context.Context, runID string) (*db.AutomationRun, error) {
	if run, ok := f.runs[runID]; ok {
		return run, nil
	}
	return nil, db.ErrRunNotFound
}

func (f *fakeDBClient) ListAutomationRuns(ctx context.Context, accountID string, limit int) ([]*db.AutomationRun, error) {
	return f.runList, nil
}

func (f *fakeDBClient) RunProgress(ctx context.Context, automationRunID string) (map[string]int, error) {
	if p, ok := f.progress[automationRunID]; ok {
		return p, nil
	}
	return map[string]int{}, nil
}

func (f *fakeDBClient) ListNotifications(ctx context.Context, accountID string, limit, offset int, unreadOnly bool) ([]*db.Notification, int, error) {
	return f.notifications, len(f.notifications), nil
}

func (f *fakeDBClient) MarkNotificationRead(ctx context.Context, notificationID, accountID string) error {
	for _, n := range f.notifications {
		if n.ID == notificationID && n.AccountID == accountID {
			f.read = append(f.read, notificationID)
			return nil
		}
	}
	return db.ErrNotificationNotFound
}

func (f *fakeDBClient) GetUnreadNotificationCount(ctx context.Context, accountID string) (int, error) {
	return len(f.notifications) - len(f.read), nil
}

func (f *fakeDBClient) GetSentimentStats(ctx context.Context, accountID, month string) (*db.SentimentStats, error) {
	if f.stats != nil {
		return f.stats, nil
	}
	return &db.SentimentStats{Month: month, BySource: map[string]int{}}, nil
}

type fakeAutomationManager struct {
	triggered  []*db.AutomationRun
	triggerErr error
}

func (f *fakeAutomationManager) TriggerRun(ctx context.Context, accountID, triggerType, source, triggeredBy string) (*db.AutomationRun, error) {
	if f.triggerErr != nil {
		return nil, f.triggerErr
	}
	run := &db.AutomationRun{
		ID:          fmt.Sprintf("run-%d", len(f.triggered)+1),
		AccountID:   accountID,
		TriggerType: triggerType,
		Source:      source,
		Status:      db.RunStatusPending,
		TriggeredBy: triggeredBy,
		CreatedAt:   time.Now().UTC(),
	}
	f.triggered = append(f.triggered, run)
	return run, nil
}

func newTestHandler(dbClient *fakeDBClient, manager *fakeAutomationManager) *Handler {
	return NewHandler(dbClient, manager, nil)
}

// authedRequest builds a request carrying an authenticated identity, the way
// the auth middleware would after validating an API key.
func authedRequest(method, target string, body string) *http.Request {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}

	identity := &auth.Identity{
		UserID:    "user-1",
		AccountID: "account-1",
		Email:     "owner@example.com",
		Role:      db.RoleAdmin,
	}
	return auth.NewAPIKeyAuthClient(nil).SetIdentityInContext(req, identity)
}

func decodeSuccess(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()

	var resp struct {
		Status string                 `json:"status"`
		Data   map[string]interface{} `json:"data"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "success", resp.Status)
	return resp.Data
}

func TestHealthCheck(t *testing.T) {
	h := newTestHandler(&fakeDBClient{}, &fakeAutomationManager{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	h.HealthCheck(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "healthy")

	req = httptest.NewRequest(http.MethodPost, "/health", nil)
	rec = httptest.NewRecorder()
	h.HealthCheck(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestDatabaseHealthCheck(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		h := newTestHandler(&fakeDBClient{}, &fakeAutomationManager{})
		rec := httptest.NewRecorder()
		h.DatabaseHealthCheck(rec, httptest.NewRequest(http.MethodGet, "/health/db", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("unhealthy", func(t *testing.T) {
		h := newTestHandler(&fakeDBClient{pingErr: errors.New("connection refused")}, &fakeAutomationManager{})
		rec := httptest.NewRecorder()
		h.DatabaseHealthCheck(rec, httptest.NewRequest(http.MethodGet, "/health/db", nil))
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Contains(t, rec.Body.String(), "connection refused")
	})
}

func TestGetAutomationSettingsReturnsDefaults(t *testing.T) {
	h := newTestHandler(&fakeDBClient{}, &fakeAutomationManager{})

	rec := httptest.NewRecorder()
	h.AutomationSettingsHandler(rec, authedRequest(http.MethodGet, "/v1/automation/settings", ""))

	require.Equal(t, http.StatusOK, rec.Code)
	data := decodeSuccess(t, rec)
	assert.Equal(t, "weekly", data["schedule"])
	assert.Equal(t, "monday", data["schedule_day"])
	assert.Equal(t, "09:00", data["schedule_time"])
	assert.Equal(t, "all", data["default_source"])
	assert.Equal(t, float64(10), data["max_runs_per_day"])
}

func TestUpdateAutomationSettings(t *testing.T) {
	t.Run("partial update keeps unset fields", func(t *testing.T) {
		dbClient := &fakeDBClient{}
		h := newTestHandler(dbClient, &fakeAutomationManager{})

		body := `{"schedule_day": "friday", "max_runs_per_day": 3}`
		rec := httptest.NewRecorder()
		h.AutomationSettingsHandler(rec, authedRequest(http.MethodPut, "/v1/automation/settings", body))

		require.Equal(t, http.StatusOK, rec.Code)
		require.Len(t, dbClient.updated, 1)
		saved := dbClient.updated[0]
		assert.Equal(t, "account-1", saved.AccountID)
		assert.Equal(t, "friday", saved.ScheduleDay)
		assert.Equal(t, 3, saved.MaxRunsPerDay)
		assert.Equal(t, "weekly", saved.Schedule)
		assert.Equal(t, "09:00", saved.ScheduleTime)
	})

	t.Run("rejects invalid values", func(t *testing.T) {
		tests := []struct {
			name string
			body string
		}{
			{"unknown schedule", `{"schedule": "hourly"}`},
			{"unknown source", `{"default_source": "bing"}`},
			{"runs below minimum", `{"max_runs_per_day": 0}`},
			{"runs above maximum", `{"max_runs_per_day": 51}`},
			{"bad time", `{"schedule_time": "25:00"}`},
			{"negative budget", `{"monthly_budget": -5}`},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				dbClient := &fakeDBClient{}
				h := newTestHandler(dbClient, &fakeAutomationManager{})

				rec := httptest.NewRecorder()
				h.AutomationSettingsHandler(rec, authedRequest(http.MethodPut, "/v1/automation/settings", tt.body))

				assert.Equal(t, http.StatusBadRequest, rec.Code)
				assert.Contains(t, rec.Body.String(), "VALIDATION_ERROR")
				assert.Empty(t, dbClient.updated)
			})
		}
	})

	t.Run("rejects malformed JSON", func(t *testing.T) {
		h := newTestHandler(&fakeDBClient{}, &fakeAutomationManager{})
		rec := httptest.NewRecorder()
		h.AutomationSettingsHandler(rec, authedRequest(http.MethodPut, "/v1/automation/settings", "{not json"))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestListAutomationRuns(t *testing.T) {
	started := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)
	dbClient := &fakeDBClient{
		runList: []*db.AutomationRun{
			{
				ID:          "run-1",
				AccountID:   "account-1",
				TriggerType: db.TriggerTypeScheduled,
				Source:      db.SourceAll,
				Status:      db.RunStatusCompleted,
				CreatedAt:   started,
				StartedAt:   &started,
			},
		},
	}
	h := newTestHandler(dbClient, &fakeAutomationManager{})

	rec := httptest.NewRecorder()
	h.AutomationRunsHandler(rec, authedRequest(http.MethodGet, "/v1/automation/runs", ""))

	require.Equal(t, http.StatusOK, rec.Code)
	data := decodeSuccess(t, rec)
	assert.Equal(t, float64(1), data["count"])
}

func TestListAutomationRunsEmpty(t *testing.T) {
	h := newTestHandler(&fakeDBClient{}, &fakeAutomationManager{})

	rec := httptest.NewRecorder()
	h.AutomationRunsHandler(rec, authedRequest(http.MethodGet, "/v1/automation/runs", ""))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"runs":[]`)
}

func TestTriggerAutomationRun(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		manager := &fakeAutomationManager{}
		h := newTestHandler(&fakeDBClient{}, manager)

		rec := httptest.NewRecorder()
		h.AutomationRunsHandler(rec, authedRequest(http.MethodPost, "/v1/automation/runs", `{"source": "gpt"}`))

		require.Equal(t, http.StatusCreated, rec.Code)
		require.Len(t, manager.triggered, 1)
		assert.Equal(t, db.TriggerTypeManual, manager.triggered[0].TriggerType)
		assert.Equal(t, "gpt", manager.triggered[0].Source)
		assert.Equal(t, "owner@example.com", manager.triggered[0].TriggeredBy)
	})

	t.Run("empty body uses default source", func(t *testing.T) {
		manager := &fakeAutomationManager{}
		h := newTestHandler(&fakeDBClient{}, manager)

		rec := httptest.NewRecorder()
		h.AutomationRunsHandler(rec, authedRequest(http.MethodPost, "/v1/automation/runs", ""))

		require.Equal(t, http.StatusCreated, rec.Code)
		require.Len(t, manager.triggered, 1)
		assert.Empty(t, manager.triggered[0].Source)
	})

	t.Run("daily limit returns 429 with Retry-After", func(t *testing.T) {
		manager := &fakeAutomationManager{triggerErr: fmt.Errorf("%w: 10 of 10 runs used today", automation.ErrDailyLimitReached)}
		h := newTestHandler(&fakeDBClient{}, manager)

		rec := httptest.NewRecorder()
		h.AutomationRunsHandler(rec, authedRequest(http.MethodPost, "/v1/automation/runs", ""))

		assert.Equal(t, http.StatusTooManyRequests, rec.Code)
		assert.NotEmpty(t, rec.Header().Get("Retry-After"))
		assert.Contains(t, rec.Body.String(), "RATE_LIMIT_EXCEEDED")
	})
}

func TestGetAutomationRun(t *testing.T) {
	dbClient := &fakeDBClient{
		runs: map[string]*db.AutomationRun{
			"run-1": {
				ID:        "run-1",
				AccountID: "account-1",
				Status:    db.RunStatusRunning,
				CreatedAt: time.Now().UTC(),
			},
			"run-other": {
				ID:        "run-other",
				AccountID: "account-2",
				Status:    db.RunStatusCompleted,
				CreatedAt: time.Now().UTC(),
			},
		},
		progress: map[string]map[string]int{
			"run-1": {"gpt": 12, "google_aio": 3},
		},
	}
	h := newTestHandler(dbClient, &fakeAutomationManager{})

	t.Run("includes progress", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.AutomationRunHandler(rec, authedRequest(http.MethodGet, "/v1/automation/runs/run-1", ""))

		require.Equal(t, http.StatusOK, rec.Code)
		data := decodeSuccess(t, rec)
		progress, ok := data["progress"].(map[string]interface{})
		require.True(t, ok)
		assert.Equal(t, float64(12), progress["gpt"])
	})

	t.Run("unknown run", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.AutomationRunHandler(rec, authedRequest(http.MethodGet, "/v1/automation/runs/missing", ""))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("other account's run reads as not found", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.AutomationRunHandler(rec, authedRequest(http.MethodGet, "/v1/automation/runs/run-other", ""))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestNotificationsHandler(t *testing.T) {
	dbClient := &fakeDBClient{
		notifications: []*db.Notification{
			{
				ID:        "n-1",
				AccountID: "account-1",
				Type:      db.NotificationRunComplete,
				Subject:   "Visibility run complete",
				CreatedAt: time.Now().UTC(),
			},
		},
	}
	h := newTestHandler(dbClient, &fakeAutomationManager{})

	rec := httptest.NewRecorder()
	h.NotificationsHandler(rec, authedRequest(http.MethodGet, "/v1/notifications", ""))

	require.Equal(t, http.StatusOK, rec.Code)
	data := decodeSuccess(t, rec)
	assert.Equal(t, float64(1), data["total"])
	assert.Equal(t, float64(1), data["unread"])
}

func TestNotificationReadHandler(t *testing.T) {
	dbClient := &fakeDBClient{
		notifications: []*db.Notification{
			{ID: "n-1", AccountID: "account-1", Type: db.NotificationRunComplete, CreatedAt: time.Now().UTC()},
		},
	}
	h := newTestHandler(dbClient, &fakeAutomationManager{})

	t.Run("marks read", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.NotificationReadHandler(rec, authedRequest(http.MethodPost, "/v1/notifications/n-1/read", ""))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, []string{"n-1"}, dbClient.read)
	})

	t.Run("unknown notification", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.NotificationReadHandler(rec, authedRequest(http.MethodPost, "/v1/notifications/n-404/read", ""))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("unknown action", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.NotificationReadHandler(rec, authedRequest(http.MethodPost, "/v1/notifications/n-1/archive", ""))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestSentimentStatsHandler(t *testing.T) {
	dbClient := &fakeDBClient{
		stats: &db.SentimentStats{
			Month:        "2025-06",
			Responses:    40,
			Mentions:     25,
			AvgSentiment: 0.31,
			MentionRate:  0.625,
			BySource:     map[string]int{"gpt": 30, "google_aio": 10},
		},
	}
	h := newTestHandler(dbClient, &fakeAutomationManager{})

	t.Run("returns stats", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.SentimentStatsHandler(rec, authedRequest(http.MethodGet, "/v1/sentiment/stats?month=2025-06", ""))

		require.Equal(t, http.StatusOK, rec.Code)
		data := decodeSuccess(t, rec)
		assert.Equal(t, "2025-06", data["month"])
		assert.Equal(t, float64(40), data["responses"])
	})

	t.Run("rejects bad month", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.SentimentStatsHandler(rec, authedRequest(http.MethodGet, "/v1/sentiment/stats?month=June", ""))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestRequestIDMiddleware(t *testing.T) {
	handler := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NotEmpty(t, GetRequestID(r))
		w.WriteHeader(http.StatusOK)
	}))

	t.Run("generates when absent", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/automation/runs", nil))
		assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	})

	t.Run("preserves upstream ID", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/v1/automation/runs", nil)
		req.Header.Set("X-Request-ID", "upstream-123")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, "upstream-123", rec.Header().Get("X-Request-ID"))
	})
}

func TestCORSMiddlewarePreflight(t *testing.T) {
	handler := CORSMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("preflight should not reach the handler")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/v1/automation/runs", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
