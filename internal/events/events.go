package events

import (
	"time"
)

// Event types published to Kafka when an order's payment status changes.
const (
	EventTypePaymentCompleted = "payment_completed"
	EventTypePaymentFailed    = "payment_failed"
)

// PaymentStatusEvent notifies the rest of the platform that reconciliation
// reached a terminal state for an order. Delivery is at-least-once; consumers
// deduplicate on EventID.
type PaymentStatusEvent struct {
	EventID    string    `json:"event_id"`
	EventType  string    `json:"event_type"`
	OrderID    string    `json:"order_id"`
	Status     string    `json:"status"`
	TxHash     string    `json:"tx_hash"`
	Reason     string    `json:"reason,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}
