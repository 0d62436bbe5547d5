package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// ErrAccountNotFound is returned when an account is not found
var ErrAccountNotFound = errors.New("account not found")

// Account is a tenant workspace. All automation state is scoped to one.
type Account struct {
	ID        string
	Name      string
	Brand     string // brand name matched against collected answers
	CreatedAt time.Time
	UpdatedAt time.Time
}

// CreateAccount creates a new account
func (db *DB) CreateAccount(ctx context.Context, name, brand string) (*Account, error) {
	account := &Account{Name: name, Brand: brand}

	err := db.client.QueryRowContext(ctx, `
		INSERT INTO accounts (name, brand)
		VALUES ($1, $2)
		RETURNING id, created_at, updated_at
	`, name, brand).Scan(&account.ID, &account.CreatedAt, &account.UpdatedAt)
	if err != nil {
		log.Error().Err(err).Str("name", name).Msg("Failed to create account")
		return nil, fmt.Errorf("failed to create account: %w", err)
	}

	return account, nil
}

// GetAccount retrieves an account by ID
func (db *DB) GetAccount(ctx context.Context, accountID string) (*Account, error) {
	account := &Account{}

	err := db.client.QueryRowContext(ctx, `
		SELECT id, name, brand, created_at, updated_at
		FROM accounts
		WHERE id = $1
	`, accountID).Scan(&account.ID, &account.Name, &account.Brand, &account.CreatedAt, &account.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to get account: %w", err)
	}

	return account, nil
}

// ListAccountIDs returns the IDs of all accounts. The trigger evaluator
// walks this list every tick.
func (db *DB) ListAccountIDs(ctx context.Context) ([]string, error) {
	rows, err := db.client.QueryContext(ctx, `SELECT id FROM accounts ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan account id: %w", err)
		}
		ids = append(ids, id)
	}

	return ids, rows.Err()
}
