package model

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// PaymentEvent is a single PaymentReceived notification decoded from the
// payment contract. It is a transient unit of work: created by the listener or
// verifier, handed to the reconciler, never persisted directly.
type PaymentEvent struct {
	OrderTag      string
	Payer         common.Address
	Amount        *big.Int // smallest token unit
	Token         common.Address
	PaymentMethod string
	BlockTime     time.Time
	TxHash        common.Hash
	BlockNumber   uint64
	LogIndex      uint
}
