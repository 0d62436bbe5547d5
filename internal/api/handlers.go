package api

import (
	"context"
	"net/http"
	"time"

	"github.com/olexisomar/ai-visibility/internal/auth"
	"github.com/olexisomar/ai-visibility/internal/db"
)

// Version is the current API version (can be set via ldflags at build time)
var Version = "0.2.0"

// DBClient is an interface for database operations used by API handlers
type DBClient interface {
	Ping(ctx context.Context) error
	GetAutomationSettings(ctx context.Context, accountID string) (*db.AutomationSettings, error)
	UpdateAutomationSettings(ctx context.Context, s *db.AutomationSettings) error
	GetAutomationRun(ctx context.Context, runID string) (*db.AutomationRun, error)
	ListAutomationRuns(ctx context.Context, accountID string, limit int) ([]*db.AutomationRun, error)
	RunProgress(ctx context.Context, automationRunID string) (map[string]int, error)
	ListNotifications(ctx context.Context, accountID string, limit, offset int, unreadOnly bool) ([]*db.Notification, int, error)
	MarkNotificationRead(ctx context.Context, notificationID, accountID string) error
	GetUnreadNotificationCount(ctx context.Context, accountID string) (int, error)
	GetSentimentStats(ctx context.Context, accountID, month string) (*db.SentimentStats, error)
}

// AutomationManager is the subset of the automation manager the API needs
type AutomationManager interface {
	TriggerRun(ctx context.Context, accountID, triggerType, source, triggeredBy string) (*db.AutomationRun, error)
}

// Handler holds dependencies for API handlers
type Handler struct {
	DB         DBClient
	Automation AutomationManager
	Keys       auth.KeyStore
}

// NewHandler creates a new API handler with dependencies
func NewHandler(pgDB DBClient, automation AutomationManager, keys auth.KeyStore) *Handler {
	return &Handler{
		DB:         pgDB,
		Automation: automation,
		Keys:       keys,
	}
}

// SetupRoutes configures all API routes with proper middleware
func (h *Handler) SetupRoutes(mux *http.ServeMux) {
	requireAuth := auth.AuthMiddleware(h.Keys)

	// Health check endpoints (no auth required)
	mux.HandleFunc("/health", h.HealthCheck)
	mux.HandleFunc("/health/db", h.DatabaseHealthCheck)

	// Automation routes (require auth)
	mux.Handle("/v1/automation/settings", requireAuth(http.HandlerFunc(h.AutomationSettingsHandler)))
	mux.Handle("/v1/automation/runs", requireAuth(http.HandlerFunc(h.AutomationRunsHandler)))
	mux.Handle("/v1/automation/runs/", requireAuth(http.HandlerFunc(h.AutomationRunHandler))) // For /v1/automation/runs/:id

	// Notification routes (require auth)
	mux.Handle("/v1/notifications", requireAuth(http.HandlerFunc(h.NotificationsHandler)))
	mux.Handle("/v1/notifications/", requireAuth(http.HandlerFunc(h.NotificationReadHandler))) // For /v1/notifications/:id/read

	// Sentiment routes (require auth)
	mux.Handle("/v1/sentiment/stats", requireAuth(http.HandlerFunc(h.SentimentStatsHandler)))
}

// HealthCheck handles basic health check requests
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		MethodNotAllowed(w, r)
		return
	}

	WriteHealthy(w, r, "ai-visibility", Version)
}

// DatabaseHealthCheck verifies database connectivity
func (h *Handler) DatabaseHealthCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		MethodNotAllowed(w, r)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := h.DB.Ping(ctx); err != nil {
		WriteUnhealthy(w, r, "database", err)
		return
	}

	WriteHealthy(w, r, "database", "")
}

// requestIdentity pulls the authenticated identity or writes a 401
func requestIdentity(w http.ResponseWriter, r *http.Request) (*auth.Identity, bool) {
	identity, ok := auth.GetIdentityFromContext(r.Context())
	if !ok {
		Unauthorised(w, r, "Authentication required")
		return nil, false
	}
	return identity, true
}
