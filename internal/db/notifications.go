package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// ErrNotificationNotFound is returned when a notification does not exist or
// belongs to a different account
var ErrNotificationNotFound = errors.New("notification not found")

// NotificationType defines the types of notifications
type NotificationType string

const (
	NotificationRunComplete   NotificationType = "run_complete"
	NotificationRunFailed     NotificationType = "run_failed"
	NotificationRunStuck      NotificationType = "run_stuck"
	NotificationBudgetWarning NotificationType = "budget_warning"
)

// Notification represents a notification record
type Notification struct {
	ID               string
	AccountID        string
	Type             NotificationType
	Subject          string                 // Main heading (e.g., "Weekly visibility run complete")
	Preview          string                 // Short summary for previews/toasts
	Message          string                 // Full details (optional)
	Link             string                 // URL path to view details (e.g., "/runs/abc-123")
	Data             map[string]interface{} // Additional structured data
	ReadAt           *time.Time
	SlackDeliveredAt *time.Time
	EmailDeliveredAt *time.Time
	CreatedAt        time.Time
}

// CreateNotification inserts a notification record
func (db *DB) CreateNotification(ctx context.Context, n *Notification) error {
	var dataJSON []byte
	if n.Data != nil {
		var err error
		dataJSON, err = json.Marshal(n.Data)
		if err != nil {
			return fmt.Errorf("failed to marshal notification data: %w", err)
		}
	}

	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}

	_, err := db.client.ExecContext(ctx, `
		INSERT INTO notifications (id, account_id, type, subject, preview, message, link, data, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, n.ID, n.AccountID, n.Type, n.Subject, n.Preview, n.Message, n.Link, dataJSON, n.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create notification: %w", err)
	}

	return nil
}

func scanNotification(scanner interface {
	Scan(dest ...interface{}) error
}) (*Notification, error) {
	n := &Notification{}
	var preview, message, link sql.NullString
	var dataJSON []byte
	var readAt, slackDeliveredAt, emailDeliveredAt sql.NullTime

	err := scanner.Scan(
		&n.ID, &n.AccountID, &n.Type, &n.Subject, &preview, &message, &link, &dataJSON,
		&readAt, &slackDeliveredAt, &emailDeliveredAt, &n.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if preview.Valid {
		n.Preview = preview.String
	}
	if message.Valid {
		n.Message = message.String
	}
	if link.Valid {
		n.Link = link.String
	}
	if readAt.Valid {
		n.ReadAt = &readAt.Time
	}
	if slackDeliveredAt.Valid {
		n.SlackDeliveredAt = &slackDeliveredAt.Time
	}
	if emailDeliveredAt.Valid {
		n.EmailDeliveredAt = &emailDeliveredAt.Time
	}
	if dataJSON != nil {
		n.Data = make(map[string]interface{})
		if err := json.Unmarshal(dataJSON, &n.Data); err != nil {
			log.Warn().Err(err).Str("notification_id", n.ID).Msg("Failed to unmarshal notification data")
		}
	}

	return n, nil
}

// ListNotifications retrieves notifications for an account
func (db *DB) ListNotifications(ctx context.Context, accountID string, limit, offset int, unreadOnly bool) ([]*Notification, int, error) {
	whereClause := "WHERE account_id = $1"
	if unreadOnly {
		whereClause = "WHERE account_id = $1 AND read_at IS NULL"
	}

	countQuery := fmt.Sprintf(`SELECT COUNT(*) FROM notifications %s`, whereClause)
	var total int
	if err := db.client.QueryRowContext(ctx, countQuery, accountID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count notifications: %w", err)
	}

	query := fmt.Sprintf(`
		SELECT id, account_id, type, subject, preview, message, link, data,
		       read_at, slack_delivered_at, email_delivered_at, created_at
		FROM notifications
		%s
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, whereClause)

	rows, err := db.client.QueryContext(ctx, query, accountID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list notifications: %w", err)
	}
	defer rows.Close()

	var notifications []*Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan notification: %w", err)
		}
		notifications = append(notifications, n)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating notifications: %w", err)
	}

	return notifications, total, nil
}

// MarkNotificationRead marks a notification as read
func (db *DB) MarkNotificationRead(ctx context.Context, notificationID, accountID string) error {
	result, err := db.client.ExecContext(ctx, `
		UPDATE notifications
		SET read_at = NOW()
		WHERE id = $1 AND account_id = $2
	`, notificationID, accountID)
	if err != nil {
		return fmt.Errorf("failed to mark notification read: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotificationNotFound
	}

	return nil
}

// GetPendingNotifications retrieves notifications not yet delivered to a channel
func (db *DB) GetPendingNotifications(ctx context.Context, channel string, limit int) ([]*Notification, error) {
	column, err := deliveryColumn(channel)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`
		SELECT id, account_id, type, subject, preview, message, link, data,
		       read_at, slack_delivered_at, email_delivered_at, created_at
		FROM notifications
		WHERE %s IS NULL
		ORDER BY created_at ASC
		LIMIT $1
	`, column)

	rows, err := db.client.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get pending notifications: %w", err)
	}
	defer rows.Close()

	var notifications []*Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		notifications = append(notifications, n)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating notifications: %w", err)
	}

	return notifications, nil
}

// MarkNotificationDelivered marks a notification as delivered to a channel
func (db *DB) MarkNotificationDelivered(ctx context.Context, notificationID, channel string) error {
	column, err := deliveryColumn(channel)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`
		UPDATE notifications
		SET %s = NOW()
		WHERE id = $1
	`, column)

	if _, err := db.client.ExecContext(ctx, query, notificationID); err != nil {
		return fmt.Errorf("failed to mark notification delivered: %w", err)
	}

	return nil
}

func deliveryColumn(channel string) (string, error) {
	switch channel {
	case "slack":
		return "slack_delivered_at", nil
	case "email":
		return "email_delivered_at", nil
	default:
		return "", fmt.Errorf("unknown channel: %s", channel)
	}
}

// DeleteNotificationsOlderThan removes delivered notifications created before the cutoff
func (db *DB) DeleteNotificationsOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := db.client.ExecContext(ctx, `
		DELETE FROM notifications
		WHERE created_at < $1
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old notifications: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	if deleted > 0 {
		log.Info().
			Int64("deleted", deleted).
			Time("cutoff", cutoff).
			Msg("Cleaned up old notifications")
	}

	return deleted, nil
}

// GetUnreadNotificationCount returns the count of unread notifications for an account
func (db *DB) GetUnreadNotificationCount(ctx context.Context, accountID string) (int, error) {
	var count int
	err := db.client.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM notifications WHERE account_id = $1 AND read_at IS NULL
	`, accountID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to get unread count: %w", err)
	}

	return count, nil
}
