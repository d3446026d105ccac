package model

import (
	"time"
)

// Payment status values for the crypto leg of an order. COMPLETED and FAILED
// are terminal: once reached, no further transition is applied.
const (
	PaymentStatusPending   = "PENDING"
	PaymentStatusCompleted = "COMPLETED"
	PaymentStatusFailed    = "FAILED"
)

type Order struct {
	ID            string    `db:"id"`
	TokenSymbol   string    `db:"token_symbol"`
	AmountVND     float64   `db:"amount_vnd"`
	AmountToken   string    `db:"amount_token"` // expected amount in smallest token unit
	PaymentStatus string    `db:"payment_status"`
	TxHash        *string   `db:"tx_hash"`
	FailureReason *string   `db:"failure_reason"`
	CreatedAt     time.Time `db:"created_at"`
	UpdatedAt     time.Time `db:"updated_at"`
}

// Terminal reports whether the order's payment status can no longer change.
func (o *Order) Terminal() bool {
	return o.PaymentStatus == PaymentStatusCompleted || o.PaymentStatus == PaymentStatusFailed
}
