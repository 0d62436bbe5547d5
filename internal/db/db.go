package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/olexisomar/ai-visibility/internal/cache"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/rs/zerolog/log"
)

// DB represents a PostgreSQL database connection
type DB struct {
	client *sql.DB
	config *Config
	Cache  *cache.InMemoryCache
}

// GetConfig returns the original DB connection settings
func (d *DB) GetConfig() *Config {
	return d.config
}

// Config holds PostgreSQL connection configuration
type Config struct {
	Host         string        // Database host
	Port         string        // Database port
	User         string        // Database user
	Password     string        // Database password
	Database     string        // Database name
	SSLMode      string        // SSL mode (disable, require, verify-ca, verify-full)
	MaxIdleConns int           // Maximum number of idle connections
	MaxOpenConns int           // Maximum number of open connections
	MaxLifetime  time.Duration // Maximum lifetime of a connection
	DatabaseURL  string        // Original DATABASE_URL if used
}

// ConnectionString returns the PostgreSQL connection string
func (c *Config) ConnectionString() string {
	// If we have a DatabaseURL, use it directly
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}

	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

// New creates a new PostgreSQL database connection
func New(config *Config) (*DB, error) {
	if config.Host == "" {
		return nil, fmt.Errorf("database host is required")
	}
	if config.Port == "" {
		return nil, fmt.Errorf("database port is required")
	}
	if config.User == "" {
		return nil, fmt.Errorf("database user is required")
	}
	if config.Database == "" {
		return nil, fmt.Errorf("database name is required")
	}

	// Set defaults for optional fields
	if config.SSLMode == "" {
		config.SSLMode = "disable"
	}
	if config.MaxIdleConns == 0 {
		config.MaxIdleConns = 20
	}
	if config.MaxOpenConns == 0 {
		config.MaxOpenConns = 50
	}
	if config.MaxLifetime == 0 {
		config.MaxLifetime = 20 * time.Minute
	}

	client, err := sql.Open("pgx", config.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	client.SetMaxOpenConns(config.MaxOpenConns)
	client.SetMaxIdleConns(config.MaxIdleConns)
	client.SetConnMaxLifetime(config.MaxLifetime)

	if err := client.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}

	if err := setupSchema(client); err != nil {
		return nil, fmt.Errorf("failed to setup schema: %w", err)
	}

	return &DB{client: client, config: config, Cache: cache.NewInMemoryCache()}, nil
}

// InitFromEnv creates a PostgreSQL connection using environment variables
func InitFromEnv() (*DB, error) {
	// If DATABASE_URL is provided, use it with default config
	if url := os.Getenv("DATABASE_URL"); url != "" {
		config := &Config{
			DatabaseURL:  url,
			MaxIdleConns: 20,
			MaxOpenConns: 50,
			MaxLifetime:  20 * time.Minute,
		}

		client, err := sql.Open("pgx", url)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to PostgreSQL via DATABASE_URL: %w", err)
		}

		client.SetMaxOpenConns(config.MaxOpenConns)
		client.SetMaxIdleConns(config.MaxIdleConns)
		client.SetConnMaxLifetime(config.MaxLifetime)

		if err := client.Ping(); err != nil {
			return nil, fmt.Errorf("failed to ping PostgreSQL via DATABASE_URL: %w", err)
		}

		if err := setupSchema(client); err != nil {
			return nil, fmt.Errorf("failed to setup schema: %w", err)
		}

		return &DB{client: client, config: config, Cache: cache.NewInMemoryCache()}, nil
	}

	config := &Config{
		Host:         os.Getenv("POSTGRES_HOST"),
		Port:         os.Getenv("POSTGRES_PORT"),
		User:         os.Getenv("POSTGRES_USER"),
		Password:     os.Getenv("POSTGRES_PASSWORD"),
		Database:     os.Getenv("POSTGRES_DB"),
		SSLMode:      os.Getenv("POSTGRES_SSL_MODE"),
		MaxIdleConns: 20,
		MaxOpenConns: 50,
		MaxLifetime:  20 * time.Minute,
	}

	// Use defaults if not set
	if config.Host == "" {
		config.Host = "localhost"
	}
	if config.Port == "" {
		config.Port = "5432"
	}
	if config.User == "" {
		config.User = "postgres"
	}
	if config.Database == "" {
		config.Database = "ai_visibility"
	}

	return New(config)
}

// setupSchema creates the necessary tables in PostgreSQL
func setupSchema(db *sql.DB) error {
	// Accounts first (referenced by everything else)
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS accounts (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			name TEXT NOT NULL,
			brand TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMP NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create accounts table: %w", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS users (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			account_id UUID NOT NULL REFERENCES accounts(id),
			email TEXT NOT NULL,
			full_name TEXT,
			role TEXT NOT NULL DEFAULT 'member',
			created_at TIMESTAMP NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMP NOT NULL DEFAULT NOW(),
			UNIQUE(email)
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create users table: %w", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS api_keys (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			user_id UUID NOT NULL REFERENCES users(id),
			prefix TEXT NOT NULL,
			key_hash TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT NOW(),
			last_used_at TIMESTAMP,
			UNIQUE(prefix)
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create api_keys table: %w", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS prompts (
			id SERIAL PRIMARY KEY,
			account_id UUID NOT NULL REFERENCES accounts(id),
			text TEXT NOT NULL,
			topic TEXT,
			active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMP NOT NULL DEFAULT NOW(),
			UNIQUE(account_id, text)
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create prompts table: %w", err)
	}

	// Singleton automation configuration per account
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS automation_settings (
			account_id UUID PRIMARY KEY REFERENCES accounts(id),
			schedule TEXT NOT NULL DEFAULT 'weekly',
			schedule_day TEXT NOT NULL DEFAULT 'monday',
			schedule_time TEXT NOT NULL DEFAULT '09:00',
			default_source TEXT NOT NULL DEFAULT 'all',
			max_runs_per_day INTEGER NOT NULL DEFAULT 10,
			notifications_enabled BOOLEAN NOT NULL DEFAULT FALSE,
			notification_email TEXT,
			monthly_budget NUMERIC(8,2) NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMP NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create automation_settings table: %w", err)
	}

	// Run ledger. trigger_date is generated so the partial unique index below
	// can enforce at-most-one scheduled run per account per calendar day.
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS automation_runs (
			id TEXT PRIMARY KEY,
			account_id UUID NOT NULL REFERENCES accounts(id),
			trigger_type TEXT NOT NULL,
			source TEXT NOT NULL,
			status TEXT NOT NULL,
			triggered_by TEXT NOT NULL,
			error_message TEXT,
			created_at TIMESTAMP NOT NULL,
			started_at TIMESTAMP,
			finished_at TIMESTAMP,
			trigger_date DATE GENERATED ALWAYS AS (created_at::date) STORED
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create automation_runs table: %w", err)
	}

	// Per-provider execution records. automation_run_id is a soft link only:
	// older rows predate the column and carry NULL.
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			automation_run_id TEXT,
			account_id UUID NOT NULL REFERENCES accounts(id),
			source TEXT NOT NULL,
			status TEXT NOT NULL,
			responses_count INTEGER NOT NULL DEFAULT 0,
			error TEXT,
			created_at TIMESTAMP NOT NULL,
			started_at TIMESTAMP,
			finished_at TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create runs table: %w", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS responses (
			id TEXT PRIMARY KEY,
			run_id TEXT NOT NULL REFERENCES runs(id),
			prompt_id INTEGER NOT NULL REFERENCES prompts(id),
			source TEXT NOT NULL,
			answer TEXT NOT NULL,
			brand_mentioned BOOLEAN NOT NULL DEFAULT FALSE,
			brand_cited BOOLEAN NOT NULL DEFAULT FALSE,
			position INTEGER,
			sentiment REAL,
			cost_usd NUMERIC(8,4) NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create responses table: %w", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS notifications (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			account_id UUID NOT NULL REFERENCES accounts(id),
			type TEXT NOT NULL,
			subject TEXT NOT NULL,
			preview TEXT,
			message TEXT,
			link TEXT,
			data JSONB,
			read_at TIMESTAMP,
			slack_delivered_at TIMESTAMP,
			email_delivered_at TIMESTAMP,
			created_at TIMESTAMP NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create notifications table: %w", err)
	}

	// The compare-and-set for the evaluator's "already ran today" guard:
	// two concurrent ticks can both pass the count check, only one insert wins.
	_, err = db.Exec(`
		CREATE UNIQUE INDEX IF NOT EXISTS idx_automation_runs_scheduled_day
		ON automation_runs(account_id, trigger_date)
		WHERE trigger_type = 'scheduled'
	`)
	if err != nil {
		return fmt.Errorf("failed to create scheduled-run unique index: %w", err)
	}

	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_automation_runs_account_created ON automation_runs(account_id, created_at)`)
	if err != nil {
		return fmt.Errorf("failed to create automation_runs account index: %w", err)
	}

	// Optimised index for collector run claiming
	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_automation_runs_pending ON automation_runs (created_at) WHERE status = 'pending'`)
	if err != nil {
		return fmt.Errorf("failed to create pending run index: %w", err)
	}

	// Reaper sweep index
	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_automation_runs_running ON automation_runs (started_at) WHERE status = 'running'`)
	if err != nil {
		return fmt.Errorf("failed to create running run index: %w", err)
	}

	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_runs_automation_run ON runs(automation_run_id)`)
	if err != nil {
		return fmt.Errorf("failed to create runs link index: %w", err)
	}

	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_responses_run ON responses(run_id)`)
	if err != nil {
		return fmt.Errorf("failed to create responses run index: %w", err)
	}

	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_notifications_account_created ON notifications(account_id, created_at)`)
	if err != nil {
		return fmt.Errorf("failed to create notifications index: %w", err)
	}

	return nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.client.Close()
}

// GetDB returns the underlying database connection
func (db *DB) GetDB() *sql.DB {
	return db.client
}

// ResetSchema drops and recreates all tables
func (db *DB) ResetSchema() error {
	log.Warn().Msg("Resetting PostgreSQL schema")

	// Drop tables in reverse order to respect foreign keys
	tables := []string{"responses", "runs", "automation_runs", "notifications", "automation_settings", "prompts", "api_keys", "users", "accounts"}
	for _, table := range tables {
		if _, err := db.client.Exec(fmt.Sprintf(`DROP TABLE IF EXISTS %s CASCADE`, table)); err != nil {
			log.Error().Err(err).Str("table", table).Msg("Failed to drop table")
			return fmt.Errorf("failed to drop table %s: %w", table, err)
		}
	}

	if err := setupSchema(db.client); err != nil {
		log.Error().Err(err).Msg("Failed to recreate schema")
		return fmt.Errorf("failed to recreate schema: %w", err)
	}

	log.Info().Msg("Successfully reset database schema")
	return nil
}

// Ping verifies the database connection is alive
func (db *DB) Ping(ctx context.Context) error {
	return db.client.PingContext(ctx)
}

// Serialise converts data to JSON string representation.
// It is named with British English spelling for consistency.
func Serialise(v interface{}) string {
	data, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Msg("Failed to serialise data")
		return "{}"
	}
	return string(data)
}
