package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"trade-guard/internal/logging"
)

// DB wraps the PostgreSQL connection pool
type DB struct {
	Pool *pgxpool.Pool
}

// Config holds database configuration
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int32
}

// DSN builds the libpq-style connection string
func (c Config) DSN() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, sslMode,
	)
}

// NewDB creates a new database connection
func NewDB(ctx context.Context, cfg Config) (*DB, error) {
	db, err := Open(ctx, cfg.DSN(), cfg.MaxConns)
	if err != nil {
		return nil, err
	}
	logging.WithComponent("database").Info("connected to PostgreSQL", "database", cfg.Database, "host", cfg.Host)
	return db, nil
}

// Open connects to dsn, which may be a URL or a key=value string
func Open(ctx context.Context, dsn string, maxConns int32) (*DB, error) {
	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	// Advisory locks pin one connection each for the length of a cycle, so
	// the pool must stay larger than the number of concurrent cycles.
	poolConfig.MaxConns = 25
	if maxConns > 0 {
		poolConfig.MaxConns = maxConns
	}
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(connectCtx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return &DB{Pool: pool}, nil
}

// Close closes the database connection
func (db *DB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
		logging.WithComponent("database").Info("database connection closed")
	}
}

// HealthCheck pings the database
func (db *DB) HealthCheck(ctx context.Context) error {
	return db.Pool.Ping(ctx)
}

// migrations create the guard tables. Every statement is idempotent.
var migrations = []string{
	// Single process-wide guard row
	`CREATE TABLE IF NOT EXISTS system_guard (
		id SMALLINT PRIMARY KEY DEFAULT 1 CHECK (id = 1),
		allowed BOOLEAN NOT NULL DEFAULT TRUE,
		trading_enabled BOOLEAN NOT NULL DEFAULT TRUE,
		reason TEXT NOT NULL DEFAULT '',
		trip_trigger VARCHAR(32) NOT NULL DEFAULT '',
		tripped_at TIMESTAMPTZ,
		soft_until TIMESTAMPTZ,
		last_recovery_attempt_at TIMESTAMPTZ,
		version BIGINT NOT NULL DEFAULT 0,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`INSERT INTO system_guard (id) VALUES (1) ON CONFLICT (id) DO NOTHING`,

	// Daily counters, one row per account and UTC day
	`CREATE TABLE IF NOT EXISTS daily_trade_counters (
		account_id VARCHAR(64) NOT NULL,
		trade_date DATE NOT NULL,
		trade_count INTEGER NOT NULL DEFAULT 0 CHECK (trade_count >= 0),
		realized_loss DECIMAL(20, 8) NOT NULL DEFAULT 0 CHECK (realized_loss >= 0),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (account_id, trade_date)
	)`,

	// Circuit breaker, one row per execution channel
	`CREATE TABLE IF NOT EXISTS circuit_breaker (
		channel VARCHAR(64) PRIMARY KEY,
		status VARCHAR(16) NOT NULL DEFAULT 'CLOSED',
		consecutive_failures INTEGER NOT NULL DEFAULT 0,
		opened_at TIMESTAMPTZ,
		cooldown_ms BIGINT NOT NULL DEFAULT 0,
		reopen_count INTEGER NOT NULL DEFAULT 0,
		trial_started_at TIMESTAMPTZ,
		version BIGINT NOT NULL DEFAULT 0,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,

	// Held notional per symbol and per asset class
	`CREATE TABLE IF NOT EXISTS exposure (
		account_id VARCHAR(64) NOT NULL,
		kind VARCHAR(8) NOT NULL CHECK (kind IN ('symbol', 'class')),
		key VARCHAR(32) NOT NULL,
		notional DECIMAL(20, 8) NOT NULL DEFAULT 0 CHECK (notional >= 0),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (account_id, kind, key)
	)`,

	// Decision audit trail
	`CREATE TABLE IF NOT EXISTS guard_decisions (
		id VARCHAR(26) PRIMARY KEY,
		account_id VARCHAR(64) NOT NULL,
		symbol VARCHAR(32) NOT NULL DEFAULT '',
		allowed BOOLEAN NOT NULL,
		recovered BOOLEAN NOT NULL DEFAULT FALSE,
		trial BOOLEAN NOT NULL DEFAULT FALSE,
		reasons JSONB NOT NULL DEFAULT '[]',
		adjustments JSONB NOT NULL DEFAULT '[]',
		risk_adjusted_size DECIMAL(20, 8),
		evaluated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_guard_decisions_account_time ON guard_decisions(account_id, evaluated_at DESC)`,

	// Capacity held by approved decisions until their fill is booked
	`CREATE TABLE IF NOT EXISTS guard_reservations (
		id VARCHAR(26) PRIMARY KEY,
		account_id VARCHAR(64) NOT NULL,
		symbol VARCHAR(32) NOT NULL,
		class VARCHAR(32) NOT NULL DEFAULT '',
		notional DECIMAL(20, 8) NOT NULL CHECK (notional >= 0),
		trial BOOLEAN NOT NULL DEFAULT FALSE,
		expires_at TIMESTAMPTZ NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_guard_reservations_account ON guard_reservations(account_id, expires_at)`,
}

// RunMigrations executes database migrations
func (db *DB) RunMigrations(ctx context.Context) error {
	log := logging.DatabaseContext("migrate", "all")
	log.Info("running database migrations", "count", len(migrations))

	for i, migration := range migrations {
		if _, err := db.Pool.Exec(ctx, migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}

	log.Info("database migrations completed")
	return nil
}
