package model

import (
	"encoding/json"
	"time"
)

type OutboxEvent struct {
	EventID   string          `db:"event_id"`
	OrderID   string          `db:"order_id"`
	EventType string          `db:"event_type"`
	Status    string          `db:"status"`
	Payload   json.RawMessage `db:"payload"`
	CreatedAt time.Time       `db:"created_at"`
}
