package api

import (
	"time"
)

// VerifyRequest represents the request body for on-demand verification
type VerifyRequest struct {
	TxHash string `json:"tx_hash"`
}

// VerifyResponse represents the outcome of an on-demand verification
type VerifyResponse struct {
	Valid         bool          `json:"valid"`
	Reason        string        `json:"reason,omitempty"`
	Confirmations uint64        `json:"confirmations"`
	Event         *EventDetails `json:"event,omitempty"`
}

// EventDetails is the decoded on-chain payment event
type EventDetails struct {
	OrderTag      string    `json:"order_tag"`
	Payer         string    `json:"payer"`
	Amount        string    `json:"amount"`
	Token         string    `json:"token"`
	PaymentMethod string    `json:"payment_method"`
	BlockTime     time.Time `json:"block_time"`
	BlockNumber   uint64    `json:"block_number"`
}

// PaymentRequest represents the request body for submitting a payment
type PaymentRequest struct {
	TxHash string `json:"tx_hash"`
}

// PaymentResponse represents the outcome of a reconciliation attempt
type PaymentResponse struct {
	OrderID          string `json:"order_id"`
	Status           string `json:"status"`
	TxHash           string `json:"tx_hash,omitempty"`
	Reason           string `json:"reason,omitempty"`
	AlreadyProcessed bool   `json:"already_processed"`
}

// OrderStatusResponse reports whether reconciliation has completed for an order
type OrderStatusResponse struct {
	OrderID       string   `json:"order_id"`
	PaymentStatus string   `json:"payment_status"`
	TxHash        *string  `json:"tx_hash,omitempty"`
	FailureReason *string  `json:"failure_reason,omitempty"`
	TxHashes      []string `json:"tx_hashes"`
}

// IntentRequest represents the request body for recording a crypto payment intent
type IntentRequest struct {
	AmountVND   float64 `json:"amount_vnd"`
	TokenSymbol string  `json:"token_symbol"`
}

// IntentResponse echoes the expected token amount fixed for the order
type IntentResponse struct {
	OrderID     string  `json:"order_id"`
	TokenSymbol string  `json:"token_symbol"`
	AmountVND   float64 `json:"amount_vnd"`
	Rate        float64 `json:"rate"`
	AmountToken string  `json:"amount_token"`
}

// RatesResponse represents the current exchange rate snapshot
type RatesResponse struct {
	Rates     map[string]float64 `json:"rates"`
	FetchedAt time.Time          `json:"fetched_at"`
}

// ConvertRequest represents the request body for a currency conversion
type ConvertRequest struct {
	Amount      float64 `json:"amount"`
	TokenSymbol string  `json:"token_symbol"`
	Direction   string  `json:"direction"` // "vnd_to_token" or "token_to_vnd"
}

// ConvertResponse represents a conversion result
type ConvertResponse struct {
	Amount      float64 `json:"amount"`
	TokenSymbol string  `json:"token_symbol"`
	Direction   string  `json:"direction"`
	Result      float64 `json:"result"`
	Rate        float64 `json:"rate"`
}

// ErrorResponse represents the API error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}
