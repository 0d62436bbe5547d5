package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/olexisomar/ai-visibility/internal/db"
)

// NotificationResponse represents a notification in API responses
type NotificationResponse struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	Subject   string                 `json:"subject"`
	Preview   string                 `json:"preview,omitempty"`
	Message   string                 `json:"message,omitempty"`
	Link      string                 `json:"link,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
	ReadAt    *string                `json:"read_at,omitempty"`
	CreatedAt string                 `json:"created_at"`
}

func notificationResponse(n *db.Notification) *NotificationResponse {
	resp := &NotificationResponse{
		ID:        n.ID,
		Type:      string(n.Type),
		Subject:   n.Subject,
		Preview:   n.Preview,
		Message:   n.Message,
		Link:      n.Link,
		Data:      n.Data,
		CreatedAt: n.CreatedAt.Format(time.RFC3339),
	}
	if n.ReadAt != nil {
		read := n.ReadAt.Format(time.RFC3339)
		resp.ReadAt = &read
	}
	return resp
}

// NotificationsHandler handles GET /v1/notifications
func (h *Handler) NotificationsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		MethodNotAllowed(w, r)
		return
	}

	identity, ok := requestIdentity(w, r)
	if !ok {
		return
	}

	limit := parseIntParam(r, "limit", 20)
	if limit < 1 || limit > 100 {
		BadRequest(w, r, "limit must be between 1 and 100")
		return
	}
	offset := parseIntParam(r, "offset", 0)
	if offset < 0 {
		BadRequest(w, r, "offset must not be negative")
		return
	}
	unreadOnly := r.URL.Query().Get("unread") == "true"

	notifications, total, err := h.DB.ListNotifications(r.Context(), identity.AccountID, limit, offset, unreadOnly)
	if err != nil {
		DatabaseError(w, r, err)
		return
	}

	unread, err := h.DB.GetUnreadNotificationCount(r.Context(), identity.AccountID)
	if err != nil {
		DatabaseError(w, r, err)
		return
	}

	// Initialise slice to return empty array instead of null in JSON
	items := make([]*NotificationResponse, 0, len(notifications))
	for _, n := range notifications {
		items = append(items, notificationResponse(n))
	}

	WriteSuccess(w, r, map[string]interface{}{
		"notifications": items,
		"total":         total,
		"unread":        unread,
		"limit":         limit,
		"offset":        offset,
	}, "")
}

// NotificationReadHandler handles POST /v1/notifications/:id/read
func (h *Handler) NotificationReadHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		MethodNotAllowed(w, r)
		return
	}

	identity, ok := requestIdentity(w, r)
	if !ok {
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/v1/notifications/")
	notificationID, action, found := strings.Cut(path, "/")
	if !found || action != "read" || notificationID == "" {
		NotFound(w, r, "Not found")
		return
	}

	if err := h.DB.MarkNotificationRead(r.Context(), notificationID, identity.AccountID); err != nil {
		if errors.Is(err, db.ErrNotificationNotFound) {
			NotFound(w, r, "Notification not found")
			return
		}
		DatabaseError(w, r, err)
		return
	}

	WriteSuccess(w, r, map[string]interface{}{"id": notificationID}, "Notification marked as read")
}

// SentimentStatsResponse represents monthly sentiment stats in API responses
type SentimentStatsResponse struct {
	Month         string         `json:"month"`
	Responses     int            `json:"responses"`
	Mentions      int            `json:"mentions"`
	Citations     int            `json:"citations"`
	AvgSentiment  float64        `json:"avg_sentiment"`
	PositiveShare float64        `json:"positive_share"`
	NegativeShare float64        `json:"negative_share"`
	MentionRate   float64        `json:"mention_rate"`
	BySource      map[string]int `json:"by_source"`
}

// SentimentStatsHandler handles GET /v1/sentiment/stats?month=YYYY-MM
func (h *Handler) SentimentStatsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		MethodNotAllowed(w, r)
		return
	}

	identity, ok := requestIdentity(w, r)
	if !ok {
		return
	}

	month := r.URL.Query().Get("month")
	if month == "" {
		month = time.Now().UTC().Format("2006-01")
	}
	if _, err := time.Parse("2006-01", month); err != nil {
		BadRequest(w, r, "month must be in YYYY-MM format")
		return
	}

	stats, err := h.DB.GetSentimentStats(r.Context(), identity.AccountID, month)
	if err != nil {
		DatabaseError(w, r, err)
		return
	}

	WriteSuccess(w, r, &SentimentStatsResponse{
		Month:         stats.Month,
		Responses:     stats.Responses,
		Mentions:      stats.Mentions,
		Citations:     stats.Citations,
		AvgSentiment:  stats.AvgSentiment,
		PositiveShare: stats.PositiveShare,
		NegativeShare: stats.NegativeShare,
		MentionRate:   stats.MentionRate,
		BySource:      stats.BySource,
	}, "")
}
