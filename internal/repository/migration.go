package repository

import (
	"database/sql"
	"fmt"
)

// InitMigration initializes the database. In production, this would use a proper migration
// library like go-migrate
func InitMigration(db *sql.DB) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS orders (
			id VARCHAR(64) PRIMARY KEY,
			token_symbol VARCHAR(10) NOT NULL,
			amount_vnd DECIMAL(20,2) NOT NULL,
			amount_token DECIMAL(78,0) NOT NULL,
			payment_status VARCHAR(20) NOT NULL DEFAULT 'PENDING',
			tx_hash VARCHAR(66),
			failure_reason VARCHAR(40),
			created_at TIMESTAMP NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMP NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_payment_status ON orders (payment_status)`,
		`CREATE TABLE IF NOT EXISTS order_transactions (
			order_id VARCHAR(64) NOT NULL,
			tx_hash VARCHAR(66) NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT NOW(),
			PRIMARY KEY (order_id, tx_hash)
		)`,
		`CREATE TABLE IF NOT EXISTS event_outbox (
			event_id UUID PRIMARY KEY,
			order_id VARCHAR(64) NOT NULL,
			event_type VARCHAR(30) NOT NULL,
			status VARCHAR(20) NOT NULL DEFAULT 'unsent',
			payload JSONB NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_event_outbox_status ON event_outbox (status, created_at)`,
		`CREATE TABLE IF NOT EXISTS listener_state (
			id INTEGER PRIMARY KEY DEFAULT 1,
			last_processed_block BIGINT NOT NULL DEFAULT 0,
			updated_at TIMESTAMP DEFAULT NOW(),
			CONSTRAINT single_row CHECK (id = 1)
		)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("failed to execute query %s: %w", query, err)
		}
	}

	// Initialize listener state if not exists
	_, err := db.Exec(`
		INSERT INTO listener_state (id, last_processed_block)
		VALUES (1, 0)
		ON CONFLICT (id) DO NOTHING
	`)

	return err
}
