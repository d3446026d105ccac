package repository

import (
	"database/sql"

	"go.uber.org/zap"
)

// WatermarkRepository persists the listener's last fully processed block so
// gap recovery survives process restarts.
type WatermarkRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewWatermarkRepository(db *sql.DB, logger *zap.Logger) *WatermarkRepository {
	return &WatermarkRepository{db: db, logger: logger}
}

func (r *WatermarkRepository) GetLastProcessedBlock() (uint64, error) {
	var block uint64
	err := r.db.QueryRow(`
		SELECT last_processed_block FROM listener_state WHERE id = 1
	`).Scan(&block)
	return block, err
}

func (r *WatermarkRepository) UpdateLastProcessedBlock(block uint64) error {
	_, err := r.db.Exec(`
		UPDATE listener_state
		SET last_processed_block = $1, updated_at = NOW()
		WHERE id = 1
	`, block)
	return err
}
