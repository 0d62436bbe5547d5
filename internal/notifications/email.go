package notifications

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/olexisomar/ai-visibility/internal/db"
	"github.com/olexisomar/ai-visibility/internal/loops"
)

// EmailChannel delivers notifications to the account's configured address
// through Loops transactional templates
type EmailChannel struct {
	client          *loops.Client
	settings        SettingsReader
	transactionalID string
}

// SettingsReader resolves the recipient address for an account
type SettingsReader interface {
	GetAutomationSettings(ctx context.Context, accountID string) (*db.AutomationSettings, error)
}

// NewEmailChannel creates a Loops-backed email delivery channel
func NewEmailChannel(client *loops.Client, settings SettingsReader, transactionalID string) *EmailChannel {
	return &EmailChannel{
		client:          client,
		settings:        settings,
		transactionalID: transactionalID,
	}
}

// Name returns the channel name
func (c *EmailChannel) Name() string {
	return "email"
}

// Deliver sends the notification to the account's notification address.
// Accounts without an address are skipped, which counts as delivered so the
// row is not retried forever.
func (c *EmailChannel) Deliver(ctx context.Context, n *db.Notification) error {
	settings, err := c.settings.GetAutomationSettings(ctx, n.AccountID)
	if err != nil {
		return err
	}

	if settings.NotificationEmail == "" {
		log.Debug().
			Str("notification_id", n.ID).
			Str("account_id", n.AccountID).
			Msg("No notification email configured, skipping")
		return nil
	}

	err = c.client.SendTransactional(ctx, &loops.TransactionalRequest{
		Email:           settings.NotificationEmail,
		TransactionalID: c.transactionalID,
		IdempotencyKey:  n.ID,
		DataVariables: map[string]any{
			"subject": n.Subject,
			"preview": n.Preview,
			"message": n.Message,
			"link":    n.Link,
		},
	})
	if err != nil {
		return err
	}

	log.Info().
		Str("notification_id", n.ID).
		Str("account_id", n.AccountID).
		Msg("Email notification sent")

	return nil
}
