package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Prompt is a tracked question whose AI answers are collected each run
type Prompt struct {
	ID        int
	AccountID string
	Text      string
	Topic     string
	Active    bool
	CreatedAt time.Time
}

// CreatePrompt adds a tracked prompt for an account
func (db *DB) CreatePrompt(ctx context.Context, accountID, text, topic string) (*Prompt, error) {
	prompt := &Prompt{AccountID: accountID, Text: text, Topic: topic, Active: true}

	err := db.client.QueryRowContext(ctx, `
		INSERT INTO prompts (account_id, text, topic)
		VALUES ($1, $2, $3)
		ON CONFLICT (account_id, text) DO UPDATE SET active = TRUE
		RETURNING id, created_at
	`, accountID, text, topic).Scan(&prompt.ID, &prompt.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create prompt: %w", err)
	}

	return prompt, nil
}

// ListActivePrompts returns the prompts collected for an account's runs
func (db *DB) ListActivePrompts(ctx context.Context, accountID string) ([]*Prompt, error) {
	rows, err := db.client.QueryContext(ctx, `
		SELECT id, account_id, text, topic, active, created_at
		FROM prompts
		WHERE account_id = $1 AND active = TRUE
		ORDER BY id ASC
	`, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to list prompts: %w", err)
	}
	defer rows.Close()

	prompts := make([]*Prompt, 0)
	for rows.Next() {
		prompt := &Prompt{}
		var topic sql.NullString
		if err := rows.Scan(&prompt.ID, &prompt.AccountID, &prompt.Text, &topic, &prompt.Active, &prompt.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan prompt: %w", err)
		}
		if topic.Valid {
			prompt.Topic = topic.String
		}
		prompts = append(prompts, prompt)
	}

	return prompts, rows.Err()
}
