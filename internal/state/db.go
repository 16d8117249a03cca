// ./internal/state/db.go
package state

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/rs/zerolog/log"
)

// DB is a global database connection pool.
var DB *sql.DB

// DBConfig holds database connection parameters.
type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string // "disable", "require", "verify-full", etc.
}

// InitDB initializes the database connection pool.
func InitDB(cfg DBConfig) error {
	psqlInfo := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode)

	var err error
	DB, err = sql.Open("postgres", psqlInfo)
	if err != nil {
		return fmt.Errorf("failed to open database connection: %w", err)
	}

	DB.SetMaxOpenConns(25)
	DB.SetMaxIdleConns(25)
	DB.SetConnMaxLifetime(5 * time.Minute)

	err = DB.Ping()
	if err != nil {
		DB.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	log.Info().Msg("Successfully connected to the PostgreSQL database!")
	return nil
}

// CloseDB closes the database connection pool.
func CloseDB() {
	if DB != nil {
		log.Info().Msg("Closing database connection...")
		if err := DB.Close(); err != nil {
			log.Error().Err(err).Msg("Error closing database connection")
		}
	}
}

// EnsureSchema applies the necessary DDL to create tables if they don't exist.
func EnsureSchema() error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}

	schemaSQL := `
		CREATE TABLE IF NOT EXISTS risk_parameters (
			params_id SERIAL PRIMARY KEY,
			version INTEGER NOT NULL DEFAULT 1,
			config_name VARCHAR(255) NOT NULL DEFAULT 'default',
			is_active BOOLEAN NOT NULL DEFAULT FALSE,
			activated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			loss_tolerance_bps INTEGER NOT NULL,
			deposit_fee_bps INTEGER NOT NULL,
			withdraw_fee_bps INTEGER NOT NULL,
			max_price_staleness_secs BIGINT NOT NULL,
			max_update_interval_secs BIGINT NOT NULL,
			cancel_lock_secs BIGINT NOT NULL,
			market_deviation_bps INTEGER NOT NULL,
			epoch_duration_secs BIGINT NOT NULL,
			CONSTRAINT uq_risk_parameters_config_version UNIQUE (config_name, version)
		);
		CREATE INDEX IF NOT EXISTS idx_risk_parameters_config_active ON risk_parameters(config_name, is_active, activated_at DESC);

		CREATE TABLE IF NOT EXISTS vault_snapshots (
			snapshot_id BIGSERIAL PRIMARY KEY,
			epoch_number INTEGER NOT NULL,
			snapshot_timestamp TIMESTAMPTZ NOT NULL,
			status VARCHAR(32) NOT NULL,
			total_shares NUMERIC(78, 0) NOT NULL,
			total_value_usd NUMERIC(78, 0) NOT NULL,
			free_principal NUMERIC(78, 0) NOT NULL,
			accrued_fees NUMERIC(78, 0) NOT NULL,
			epoch_loss NUMERIC(78, 0) NOT NULL,
			epoch_loss_baseline NUMERIC(78, 0) NOT NULL,
			pending_deposits INTEGER NOT NULL,
			pending_withdrawals INTEGER NOT NULL,
			asset_values JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_vault_snapshots_timestamp ON vault_snapshots(snapshot_timestamp DESC);

		CREATE TABLE IF NOT EXISTS operation_journal (
			event_id BIGSERIAL PRIMARY KEY,
			event_timestamp TIMESTAMPTZ NOT NULL,
			kind VARCHAR(64) NOT NULL,
			vault_id VARCHAR(64) NOT NULL,
			operation_id VARCHAR(64),
			detail JSONB,
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_operation_journal_kind ON operation_journal(kind, event_timestamp DESC);
	`

	if _, err := DB.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to ensure schema: %w", err)
	}

	log.Info().Msg("Database schema ensured")
	return nil
}
