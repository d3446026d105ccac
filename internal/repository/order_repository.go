package repository

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"payrecon/internal/model"
)

type OrderRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewOrderRepository(db *sql.DB, logger *zap.Logger) *OrderRepository {
	return &OrderRepository{db: db, logger: logger}
}

// CreateOrUpdatePending records the crypto payment intent for an order: the
// token chosen at checkout and the expected amount converted at creation
// time. A terminal order is never touched.
func (r *OrderRepository) CreateOrUpdatePending(ctx context.Context, order model.Order) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO orders (id, token_symbol, amount_vnd, amount_token, payment_status)
		VALUES ($1, $2, $3, $4, 'PENDING')
		ON CONFLICT (id) DO UPDATE SET
			token_symbol = EXCLUDED.token_symbol,
			amount_vnd = EXCLUDED.amount_vnd,
			amount_token = EXCLUDED.amount_token,
			updated_at = NOW()
		WHERE orders.payment_status = 'PENDING'
	`, order.ID, order.TokenSymbol, order.AmountVND, order.AmountToken)

	if err != nil {
		return fmt.Errorf("failed to upsert order: %w", err)
	}

	r.logger.Info("Recorded crypto payment intent",
		zap.String("order_id", order.ID),
		zap.String("token_symbol", order.TokenSymbol),
		zap.String("amount_token", order.AmountToken))
	return nil
}

func (r *OrderRepository) GetOrder(ctx context.Context, orderID string) (*model.Order, error) {
	var order model.Order
	err := r.db.QueryRowContext(ctx, `
		SELECT id, token_symbol, amount_vnd, amount_token, payment_status, tx_hash, failure_reason, created_at, updated_at
		FROM orders
		WHERE id = $1
	`, orderID).Scan(&order.ID, &order.TokenSymbol, &order.AmountVND, &order.AmountToken,
		&order.PaymentStatus, &order.TxHash, &order.FailureReason, &order.CreatedAt, &order.UpdatedAt)

	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get order: %w", err)
	}

	return &order, nil
}

// CompleteOrder transitions PENDING -> COMPLETED with a compare-and-set, so
// two concurrent completions cannot both succeed. The transaction hash and
// the outbox event are recorded in the same database transaction as the
// transition. Returns false if the order was not in PENDING.
func (r *OrderRepository) CompleteOrder(ctx context.Context, orderID, txHash string, event model.OutboxEvent) (bool, error) {
	return r.transition(ctx, orderID, txHash, "COMPLETED", nil, event)
}

// FailOrder transitions PENDING -> FAILED with the verifier's classification
// attached. Same compare-and-set discipline as CompleteOrder.
func (r *OrderRepository) FailOrder(ctx context.Context, orderID, txHash, reason string, event model.OutboxEvent) (bool, error) {
	return r.transition(ctx, orderID, txHash, "FAILED", &reason, event)
}

func (r *OrderRepository) transition(ctx context.Context, orderID, txHash, status string, reason *string, event model.OutboxEvent) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() // Will be ignored if tx.Commit() succeeds

	result, err := tx.ExecContext(ctx, `
		UPDATE orders
		SET payment_status = $1, tx_hash = $2, failure_reason = $3, updated_at = NOW()
		WHERE id = $4 AND payment_status = 'PENDING'
	`, status, txHash, reason, orderID)
	if err != nil {
		return false, fmt.Errorf("failed to update payment status: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		// A concurrent call won the transition.
		return false, nil
	}

	// Processed transaction hashes form a permanent, append-only set per order.
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO order_transactions (order_id, tx_hash)
		VALUES ($1, $2)
		ON CONFLICT (order_id, tx_hash) DO NOTHING
	`, orderID, txHash); err != nil {
		return false, fmt.Errorf("failed to record transaction hash: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO event_outbox (event_id, order_id, event_type, status, payload)
		VALUES ($1, $2, $3, 'unsent', $4)
	`, event.EventID, event.OrderID, event.EventType, event.Payload); err != nil {
		return false, fmt.Errorf("failed to store outbox event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit transition: %w", err)
	}

	r.logger.Info("Applied payment transition",
		zap.String("order_id", orderID),
		zap.String("status", status),
		zap.String("tx_hash", txHash))
	return true, nil
}

// TransactionHashes returns every transaction hash ever recorded against the
// order, oldest first.
func (r *OrderRepository) TransactionHashes(ctx context.Context, orderID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT tx_hash FROM order_transactions
		WHERE order_id = $1
		ORDER BY created_at
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to get order transactions: %w", err)
	}
	defer rows.Close()

	var hashes []string
	for rows.Next() {
		var hash string
		if err := rows.Scan(&hash); err != nil {
			return nil, fmt.Errorf("failed to scan transaction hash: %w", err)
		}
		hashes = append(hashes, hash)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating order transactions: %w", err)
	}

	return hashes, nil
}
