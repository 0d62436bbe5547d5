package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// User roles
const (
	RoleAdmin  = "admin"
	RoleMember = "member"
)

// ErrUserNotFound is returned when a user is not found
var ErrUserNotFound = errors.New("user not found")

// ErrAPIKeyNotFound is returned when no API key matches a prefix
var ErrAPIKeyNotFound = errors.New("api key not found")

// User belongs to exactly one account
type User struct {
	ID        string
	AccountID string
	Email     string
	FullName  string
	Role      string // admin | member
	CreatedAt time.Time
	UpdatedAt time.Time
}

// APIKey stores only the bcrypt hash of the secret; the plain key is shown
// once at generation time and never persisted.
type APIKey struct {
	ID         string
	UserID     string
	Prefix     string
	KeyHash    string
	CreatedAt  time.Time
	LastUsedAt *time.Time
}

// CreateUser creates a user within an account
func (db *DB) CreateUser(ctx context.Context, accountID, email, fullName, role string) (*User, error) {
	if role == "" {
		role = RoleMember
	}

	user := &User{AccountID: accountID, Email: email, FullName: fullName, Role: role}

	err := db.client.QueryRowContext(ctx, `
		INSERT INTO users (account_id, email, full_name, role)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at, updated_at
	`, accountID, email, fullName, role).Scan(&user.ID, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		log.Error().Err(err).Str("email", email).Msg("Failed to create user")
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	return user, nil
}

// GetUser retrieves a user by ID
func (db *DB) GetUser(ctx context.Context, userID string) (*User, error) {
	user := &User{}
	var fullName sql.NullString

	err := db.client.QueryRowContext(ctx, `
		SELECT id, account_id, email, full_name, role, created_at, updated_at
		FROM users
		WHERE id = $1
	`, userID).Scan(&user.ID, &user.AccountID, &user.Email, &fullName, &user.Role, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	if fullName.Valid {
		user.FullName = fullName.String
	}

	return user, nil
}

// ListUsersWithoutAPIKey returns users that have no API key yet.
// Backs the generate-api-keys command.
func (db *DB) ListUsersWithoutAPIKey(ctx context.Context) ([]*User, error) {
	rows, err := db.client.QueryContext(ctx, `
		SELECT u.id, u.account_id, u.email, u.full_name, u.role, u.created_at, u.updated_at
		FROM users u
		LEFT JOIN api_keys k ON k.user_id = u.id
		WHERE k.id IS NULL
		ORDER BY u.created_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list users without api key: %w", err)
	}
	defer rows.Close()

	users := make([]*User, 0)
	for rows.Next() {
		user := &User{}
		var fullName sql.NullString
		if err := rows.Scan(&user.ID, &user.AccountID, &user.Email, &fullName, &user.Role, &user.CreatedAt, &user.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		if fullName.Valid {
			user.FullName = fullName.String
		}
		users = append(users, user)
	}

	return users, rows.Err()
}

// CreateAPIKey stores a hashed API key for a user
func (db *DB) CreateAPIKey(ctx context.Context, userID, prefix, keyHash string) error {
	_, err := db.client.ExecContext(ctx, `
		INSERT INTO api_keys (user_id, prefix, key_hash)
		VALUES ($1, $2, $3)
	`, userID, prefix, keyHash)
	if err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("Failed to create api key")
		return fmt.Errorf("failed to create api key: %w", err)
	}

	return nil
}

// GetAPIKeyByPrefix looks up a key record by its public prefix, together with
// the owning user's account. The caller compares the secret against KeyHash.
func (db *DB) GetAPIKeyByPrefix(ctx context.Context, prefix string) (*APIKey, *User, error) {
	key := &APIKey{}
	user := &User{}
	var fullName sql.NullString
	var lastUsed sql.NullTime

	err := db.client.QueryRowContext(ctx, `
		SELECT k.id, k.user_id, k.prefix, k.key_hash, k.created_at, k.last_used_at,
		       u.id, u.account_id, u.email, u.full_name, u.role, u.created_at, u.updated_at
		FROM api_keys k
		JOIN users u ON u.id = k.user_id
		WHERE k.prefix = $1
	`, prefix).Scan(
		&key.ID, &key.UserID, &key.Prefix, &key.KeyHash, &key.CreatedAt, &lastUsed,
		&user.ID, &user.AccountID, &user.Email, &fullName, &user.Role, &user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil, ErrAPIKeyNotFound
		}
		return nil, nil, fmt.Errorf("failed to get api key: %w", err)
	}

	if lastUsed.Valid {
		key.LastUsedAt = &lastUsed.Time
	}
	if fullName.Valid {
		user.FullName = fullName.String
	}

	return key, user, nil
}

// TouchAPIKey records the last use of an API key. Best effort.
func (db *DB) TouchAPIKey(ctx context.Context, keyID string) {
	if _, err := db.client.ExecContext(ctx, `
		UPDATE api_keys SET last_used_at = NOW() WHERE id = $1
	`, keyID); err != nil {
		log.Debug().Err(err).Str("key_id", keyID).Msg("Failed to update api key last_used_at")
	}
}
