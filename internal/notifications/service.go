package notifications

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/olexisomar/ai-visibility/internal/db"
)

// Service handles notification creation and delivery
type Service struct {
	db       NotificationDB
	channels []DeliveryChannel
}

// NotificationDB defines the database operations needed by the service
type NotificationDB interface {
	CreateNotification(ctx context.Context, n *db.Notification) error
	GetPendingNotifications(ctx context.Context, channel string, limit int) ([]*db.Notification, error)
	MarkNotificationDelivered(ctx context.Context, notificationID, channel string) error
	GetAutomationSettings(ctx context.Context, accountID string) (*db.AutomationSettings, error)
}

// DeliveryChannel defines the interface for notification delivery
type DeliveryChannel interface {
	Name() string
	Deliver(ctx context.Context, n *db.Notification) error
}

// NewService creates a notification service
func NewService(database NotificationDB) *Service {
	return &Service{db: database}
}

// AddChannel adds a delivery channel to the service
func (s *Service) AddChannel(ch DeliveryChannel) {
	s.channels = append(s.channels, ch)
}

// notificationsWanted reports whether the account has opted in
func (s *Service) notificationsWanted(ctx context.Context, accountID string) bool {
	settings, err := s.db.GetAutomationSettings(ctx, accountID)
	if err != nil {
		log.Warn().Err(err).Str("account_id", accountID).Msg("Could not read settings, skipping notification")
		return false
	}
	return settings.NotificationsEnabled
}

// NotifyRunComplete creates a notification for a completed automation run
func (s *Service) NotifyRunComplete(ctx context.Context, run *db.AutomationRun, responses int) {
	if !s.notificationsWanted(ctx, run.AccountID) {
		return
	}

	duration := "N/A"
	if run.StartedAt != nil {
		duration = formatDuration(time.Since(*run.StartedAt))
	}

	n := &db.Notification{
		ID:        uuid.New().String(),
		AccountID: run.AccountID,
		Type:      db.NotificationRunComplete,
		Subject:   "Visibility run complete",
		Preview:   fmt.Sprintf("%d answers collected", responses),
		Message:   fmt.Sprintf("%d answers collected from %s in %s", responses, run.Source, duration),
		Link:      "/runs/" + run.ID,
		Data: map[string]interface{}{
			"run_id":    run.ID,
			"source":    run.Source,
			"responses": responses,
			"duration":  duration,
		},
		CreatedAt: time.Now().UTC(),
	}

	if err := s.db.CreateNotification(ctx, n); err != nil {
		log.Warn().Err(err).Str("run_id", run.ID).Msg("Failed to create run complete notification")
		return
	}

	log.Info().
		Str("notification_id", n.ID).
		Str("run_id", run.ID).
		Msg("Run complete notification created")
}

// NotifyRunFailed creates a notification for a failed automation run
func (s *Service) NotifyRunFailed(ctx context.Context, run *db.AutomationRun) {
	if !s.notificationsWanted(ctx, run.AccountID) {
		return
	}

	n := &db.Notification{
		ID:        uuid.New().String(),
		AccountID: run.AccountID,
		Type:      db.NotificationRunFailed,
		Subject:   "Visibility run failed",
		Preview:   run.ErrorMessage,
		Message:   run.ErrorMessage,
		Link:      "/runs/" + run.ID,
		Data: map[string]interface{}{
			"run_id":        run.ID,
			"source":        run.Source,
			"error_message": run.ErrorMessage,
		},
		CreatedAt: time.Now().UTC(),
	}

	if err := s.db.CreateNotification(ctx, n); err != nil {
		log.Warn().Err(err).Str("run_id", run.ID).Msg("Failed to create run failed notification")
		return
	}

	log.Info().
		Str("notification_id", n.ID).
		Str("run_id", run.ID).
		Msg("Run failed notification created")
}

// ProcessPendingNotifications delivers pending notifications to all channels
func (s *Service) ProcessPendingNotifications(ctx context.Context, limit int) error {
	for _, ch := range s.channels {
		if err := s.deliverToChannel(ctx, ch, limit); err != nil {
			log.Warn().Err(err).Str("channel", ch.Name()).Msg("Failed to deliver notifications")
		}
	}
	return nil
}

func (s *Service) deliverToChannel(ctx context.Context, ch DeliveryChannel, limit int) error {
	notifications, err := s.db.GetPendingNotifications(ctx, ch.Name(), limit)
	if err != nil {
		return err
	}

	for _, n := range notifications {
		if err := ch.Deliver(ctx, n); err != nil {
			log.Warn().
				Err(err).
				Str("notification_id", n.ID).
				Str("channel", ch.Name()).
				Msg("Failed to deliver notification")
			continue
		}

		if err := s.db.MarkNotificationDelivered(ctx, n.ID, ch.Name()); err != nil {
			log.Warn().
				Err(err).
				Str("notification_id", n.ID).
				Msg("Failed to mark notification delivered")
		}
	}

	return nil
}

// StartProcessor polls for undelivered notifications until the context ends
func (s *Service) StartProcessor(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		log.Info().Dur("interval", interval).Msg("Notification processor started")

		for {
			select {
			case <-ctx.Done():
				log.Info().Msg("Notification processor stopped")
				return
			case <-ticker.C:
				if err := s.ProcessPendingNotifications(ctx, 50); err != nil {
					if ctx.Err() == nil {
						log.Warn().Err(err).Msg("Failed to process pending notifications")
					}
				}
			}
		}
	}()
}

func formatDuration(d time.Duration) string {
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	default:
		return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
	}
}
