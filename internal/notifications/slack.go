package notifications

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/slack-go/slack"

	"github.com/olexisomar/ai-visibility/internal/db"
)

// SlackChannel posts notifications to a shared Slack channel via a bot token
type SlackChannel struct {
	client    *slack.Client
	channelID string
}

// NewSlackChannel creates a Slack delivery channel from SLACK_BOT_TOKEN and
// SLACK_CHANNEL_ID. Returns an error when either is unset so the caller can
// simply not wire the channel.
func NewSlackChannel() (*SlackChannel, error) {
	token := os.Getenv("SLACK_BOT_TOKEN")
	channelID := os.Getenv("SLACK_CHANNEL_ID")
	if token == "" || channelID == "" {
		return nil, fmt.Errorf("SLACK_BOT_TOKEN and SLACK_CHANNEL_ID are required")
	}

	return &SlackChannel{
		client:    slack.New(token),
		channelID: channelID,
	}, nil
}

// Name returns the channel name
func (c *SlackChannel) Name() string {
	return "slack"
}

// Deliver sends a notification to the configured Slack channel
func (c *SlackChannel) Deliver(ctx context.Context, n *db.Notification) error {
	blocks := c.buildMessageBlocks(n)
	fallbackText := fmt.Sprintf("%s: %s", n.Subject, n.Preview)

	_, _, err := c.client.PostMessageContext(
		ctx,
		c.channelID,
		slack.MsgOptionBlocks(blocks...),
		slack.MsgOptionText(fallbackText, false),
	)
	if err != nil {
		return fmt.Errorf("failed to post Slack message: %w", err)
	}

	log.Info().
		Str("notification_id", n.ID).
		Str("channel_id", c.channelID).
		Msg("Slack notification sent")

	return nil
}

func (c *SlackChannel) buildMessageBlocks(n *db.Notification) []slack.Block {
	appURL := os.Getenv("APP_URL")
	if appURL == "" {
		appURL = "https://app.ai-visibility.dev"
	}

	var emoji string
	switch n.Type {
	case db.NotificationRunComplete:
		emoji = ":white_check_mark:"
	case db.NotificationRunFailed, db.NotificationRunStuck:
		emoji = ":x:"
	case db.NotificationBudgetWarning:
		emoji = ":moneybag:"
	default:
		emoji = ":bell:"
	}

	blocks := []slack.Block{
		slack.NewSectionBlock(
			slack.NewTextBlockObject(
				"mrkdwn",
				fmt.Sprintf("%s *%s*", emoji, n.Subject),
				false,
				false,
			),
			nil,
			nil,
		),
	}

	if n.Message != "" {
		blocks = append(blocks, slack.NewSectionBlock(
			slack.NewTextBlockObject("mrkdwn", n.Message, false, false),
			nil,
			nil,
		))
	}

	if n.Link != "" {
		blocks = append(blocks, slack.NewSectionBlock(
			slack.NewTextBlockObject(
				"mrkdwn",
				fmt.Sprintf("<%s%s|View details>", appURL, n.Link),
				false,
				false,
			),
			nil,
			nil,
		))
	}

	return blocks
}
