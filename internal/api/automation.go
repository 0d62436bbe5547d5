package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/olexisomar/ai-visibility/internal/automation"
	"github.com/olexisomar/ai-visibility/internal/db"
)

// AutomationSettingsResponse represents automation settings in API responses
type AutomationSettingsResponse struct {
	AccountID            string  `json:"account_id"`
	Schedule             string  `json:"schedule"`
	ScheduleDay          string  `json:"schedule_day"`
	ScheduleTime         string  `json:"schedule_time"`
	DefaultSource        string  `json:"default_source"`
	MaxRunsPerDay        int     `json:"max_runs_per_day"`
	NotificationsEnabled bool    `json:"notifications_enabled"`
	NotificationEmail    string  `json:"notification_email,omitempty"`
	MonthlyBudget        float64 `json:"monthly_budget"`
	UpdatedAt            string  `json:"updated_at,omitempty"`
}

// AutomationSettingsUpdateRequest is the PUT body for settings updates.
// Pointers distinguish "not sent" from zero values so partial updates work.
type AutomationSettingsUpdateRequest struct {
	Schedule             *string  `json:"schedule"`
	ScheduleDay          *string  `json:"schedule_day"`
	ScheduleTime         *string  `json:"schedule_time"`
	DefaultSource        *string  `json:"default_source"`
	MaxRunsPerDay        *int     `json:"max_runs_per_day"`
	NotificationsEnabled *bool    `json:"notifications_enabled"`
	NotificationEmail    *string  `json:"notification_email"`
	MonthlyBudget        *float64 `json:"monthly_budget"`
}

// AutomationRunResponse represents a run ledger entry in API responses
type AutomationRunResponse struct {
	ID           string         `json:"id"`
	AccountID    string         `json:"account_id"`
	TriggerType  string         `json:"trigger_type"`
	Source       string         `json:"source"`
	Status       string         `json:"status"`
	TriggeredBy  string         `json:"triggered_by,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
	CreatedAt    string         `json:"created_at"`
	StartedAt    *string        `json:"started_at,omitempty"`
	FinishedAt   *string        `json:"finished_at,omitempty"`
	Progress     map[string]int `json:"progress,omitempty"`
}

// TriggerRunRequest is the POST body for manual run triggers
type TriggerRunRequest struct {
	Source string `json:"source,omitempty"`
}

func settingsResponse(s *db.AutomationSettings) *AutomationSettingsResponse {
	resp := &AutomationSettingsResponse{
		AccountID:            s.AccountID,
		Schedule:             s.Schedule,
		ScheduleDay:          s.ScheduleDay,
		ScheduleTime:         s.ScheduleTime,
		DefaultSource:        s.DefaultSource,
		MaxRunsPerDay:        s.MaxRunsPerDay,
		NotificationsEnabled: s.NotificationsEnabled,
		NotificationEmail:    s.NotificationEmail,
		MonthlyBudget:        s.MonthlyBudget,
	}
	if !s.UpdatedAt.IsZero() {
		resp.UpdatedAt = s.UpdatedAt.Format(time.RFC3339)
	}
	return resp
}

func runResponse(run *db.AutomationRun) *AutomationRunResponse {
	resp := &AutomationRunResponse{
		ID:           run.ID,
		AccountID:    run.AccountID,
		TriggerType:  run.TriggerType,
		Source:       run.Source,
		Status:       run.Status,
		TriggeredBy:  run.TriggeredBy,
		ErrorMessage: run.ErrorMessage,
		CreatedAt:    run.CreatedAt.Format(time.RFC3339),
	}
	if run.StartedAt != nil {
		started := run.StartedAt.Format(time.RFC3339)
		resp.StartedAt = &started
	}
	if run.FinishedAt != nil {
		finished := run.FinishedAt.Format(time.RFC3339)
		resp.FinishedAt = &finished
	}
	return resp
}

// AutomationSettingsHandler handles GET and PUT /v1/automation/settings
func (h *Handler) AutomationSettingsHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.getAutomationSettings(w, r)
	case http.MethodPut:
		h.updateAutomationSettings(w, r)
	default:
		MethodNotAllowed(w, r)
	}
}

func (h *Handler) getAutomationSettings(w http.ResponseWriter, r *http.Request) {
	identity, ok := requestIdentity(w, r)
	if !ok {
		return
	}

	settings, err := h.DB.GetAutomationSettings(r.Context(), identity.AccountID)
	if err != nil {
		DatabaseError(w, r, err)
		return
	}

	WriteSuccess(w, r, settingsResponse(settings), "")
}

func (h *Handler) updateAutomationSettings(w http.ResponseWriter, r *http.Request) {
	identity, ok := requestIdentity(w, r)
	if !ok {
		return
	}

	var req AutomationSettingsUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, r, "Invalid JSON request body")
		return
	}

	// Merge the request into current settings so omitted fields keep their
	// values and validation always sees a complete record.
	settings, err := h.DB.GetAutomationSettings(r.Context(), identity.AccountID)
	if err != nil {
		DatabaseError(w, r, err)
		return
	}

	if req.Schedule != nil {
		settings.Schedule = strings.ToLower(strings.TrimSpace(*req.Schedule))
	}
	if req.ScheduleDay != nil {
		settings.ScheduleDay = strings.ToLower(strings.TrimSpace(*req.ScheduleDay))
	}
	if req.ScheduleTime != nil {
		settings.ScheduleTime = strings.TrimSpace(*req.ScheduleTime)
	}
	if req.DefaultSource != nil {
		settings.DefaultSource = strings.ToLower(strings.TrimSpace(*req.DefaultSource))
	}
	if req.MaxRunsPerDay != nil {
		settings.MaxRunsPerDay = *req.MaxRunsPerDay
	}
	if req.NotificationsEnabled != nil {
		settings.NotificationsEnabled = *req.NotificationsEnabled
	}
	if req.NotificationEmail != nil {
		settings.NotificationEmail = strings.TrimSpace(*req.NotificationEmail)
	}
	if req.MonthlyBudget != nil {
		settings.MonthlyBudget = *req.MonthlyBudget
	}

	settings.AccountID = identity.AccountID

	if err := h.DB.UpdateAutomationSettings(r.Context(), settings); err != nil {
		if errors.Is(err, db.ErrInvalidSettings) {
			ValidationError(w, r, err.Error())
			return
		}
		DatabaseError(w, r, err)
		return
	}

	WriteSuccess(w, r, settingsResponse(settings), "Automation settings updated")
}

// AutomationRunsHandler handles GET (list) and POST (trigger) /v1/automation/runs
func (h *Handler) AutomationRunsHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.listAutomationRuns(w, r)
	case http.MethodPost:
		h.triggerAutomationRun(w, r)
	default:
		MethodNotAllowed(w, r)
	}
}

func (h *Handler) listAutomationRuns(w http.ResponseWriter, r *http.Request) {
	identity, ok := requestIdentity(w, r)
	if !ok {
		return
	}

	limit := parseIntParam(r, "limit", 50)
	if limit < 1 || limit > 200 {
		BadRequest(w, r, "limit must be between 1 and 200")
		return
	}

	runs, err := h.DB.ListAutomationRuns(r.Context(), identity.AccountID, limit)
	if err != nil {
		DatabaseError(w, r, err)
		return
	}

	// Initialise slice to return empty array instead of null in JSON
	items := make([]*AutomationRunResponse, 0, len(runs))
	for _, run := range runs {
		items = append(items, runResponse(run))
	}

	WriteSuccess(w, r, map[string]interface{}{
		"runs":  items,
		"count": len(items),
	}, "")
}

func (h *Handler) triggerAutomationRun(w http.ResponseWriter, r *http.Request) {
	identity, ok := requestIdentity(w, r)
	if !ok {
		return
	}

	var req TriggerRunRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			BadRequest(w, r, "Invalid JSON request body")
			return
		}
	}

	run, err := h.Automation.TriggerRun(r.Context(), identity.AccountID, db.TriggerTypeManual, req.Source, identity.Email)
	if err != nil {
		if errors.Is(err, automation.ErrDailyLimitReached) {
			TooManyRequests(w, r, "Daily run limit reached", 24*time.Hour)
			return
		}
		InternalError(w, r, err)
		return
	}

	WriteCreated(w, r, runResponse(run), "Visibility run triggered")
}

// AutomationRunHandler handles GET /v1/automation/runs/:id
func (h *Handler) AutomationRunHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		MethodNotAllowed(w, r)
		return
	}

	identity, ok := requestIdentity(w, r)
	if !ok {
		return
	}

	runID := strings.TrimPrefix(r.URL.Path, "/v1/automation/runs/")
	if runID == "" || strings.Contains(runID, "/") {
		BadRequest(w, r, "Run ID is required")
		return
	}

	run, err := h.DB.GetAutomationRun(r.Context(), runID)
	if err != nil {
		if errors.Is(err, db.ErrRunNotFound) {
			NotFound(w, r, "Run not found")
			return
		}
		DatabaseError(w, r, err)
		return
	}

	// Tenants can only see their own ledger. Report not-found rather than
	// forbidden so run IDs do not leak across accounts.
	if run.AccountID != identity.AccountID {
		NotFound(w, r, "Run not found")
		return
	}

	resp := runResponse(run)

	// Progress is best-effort enrichment, the run itself is the answer
	if progress, err := h.DB.RunProgress(r.Context(), run.ID); err == nil && len(progress) > 0 {
		resp.Progress = progress
	}

	WriteSuccess(w, r, resp, "")
}

// parseIntParam reads an integer query parameter with a default
func parseIntParam(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return -1
	}
	return value
}
