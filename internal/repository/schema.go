package repository

import (
	"database/sql"
	"fmt"
)

// Schema - таблицы сервиса (PostgreSQL)
//
// Денежные величины хранятся как NUMERIC(78, 18): 18 знаков после
// запятой, целая часть до uint256.
var Schema = []string{
	`CREATE TABLE IF NOT EXISTS events (
		id UUID PRIMARY KEY,
		timestamp TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		type VARCHAR(64) NOT NULL,
		symbol VARCHAR(32) NOT NULL DEFAULT '',
		position_id CHAR(66) NOT NULL DEFAULT '',
		trader VARCHAR(42) NOT NULL DEFAULT '',
		data JSONB NOT NULL DEFAULT '{}'
	)`,
	`CREATE INDEX IF NOT EXISTS idx_events_position ON events (position_id)`,
	`CREATE INDEX IF NOT EXISTS idx_events_timestamp ON events (timestamp DESC)`,
	`CREATE TABLE IF NOT EXISTS positions (
		id CHAR(66) PRIMARY KEY,
		trader VARCHAR(42) NOT NULL,
		symbol VARCHAR(32) NOT NULL,
		size NUMERIC(78, 18) NOT NULL,
		collateral NUMERIC(78, 18) NOT NULL,
		entry_price NUMERIC(78, 18) NOT NULL,
		entry_time TIMESTAMPTZ NOT NULL,
		is_long BOOLEAN NOT NULL,
		funding_index_at_entry NUMERIC(78, 18) NOT NULL DEFAULT 0,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_positions_trader ON positions (trader)`,
	`CREATE TABLE IF NOT EXISTS markets (
		symbol VARCHAR(32) PRIMARY KEY,
		max_leverage BIGINT NOT NULL,
		funding_rate BIGINT NOT NULL DEFAULT 0,
		last_funding_time TIMESTAMPTZ NOT NULL,
		open_interest_long NUMERIC(78, 18) NOT NULL DEFAULT 0,
		open_interest_short NUMERIC(78, 18) NOT NULL DEFAULT 0,
		cumulative_funding_index NUMERIC(78, 18) NOT NULL DEFAULT 0,
		is_active BOOLEAN NOT NULL DEFAULT true,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS risk_parameters (
		symbol VARCHAR(32) PRIMARY KEY REFERENCES markets(symbol) ON DELETE CASCADE,
		initial_margin_ratio BIGINT NOT NULL,
		maintenance_margin_ratio BIGINT NOT NULL,
		liquidation_fee_ratio BIGINT NOT NULL,
		insurance_fee_ratio BIGINT NOT NULL,
		max_leverage BIGINT NOT NULL,
		max_position_size NUMERIC(78, 18) NOT NULL,
		liquidation_threshold BIGINT NOT NULL,
		max_liquidation_ratio BIGINT NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
}

// Migrate создаёт недостающие таблицы и индексы
func Migrate(db *sql.DB) error {
	for i, stmt := range Schema {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate statement %d: %w", i, err)
		}
	}
	return nil
}
