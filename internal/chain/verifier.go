package chain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"payrecon/internal/metrics"
	"payrecon/internal/model"
)

// FailureReason classifies why a transaction did not verify.
type FailureReason string

const (
	ReasonNotFound        FailureReason = "not_found"
	ReasonPending         FailureReason = "pending"
	ReasonReverted        FailureReason = "reverted"
	ReasonWrongRecipient  FailureReason = "wrong_recipient"
	ReasonNoMatchingEvent FailureReason = "no_matching_event"
)

// Transient reports whether the failure can resolve on its own as the chain
// advances. Transient failures must never produce a terminal order state.
func (r FailureReason) Transient() bool {
	return r == ReasonNotFound || r == ReasonPending
}

// VerificationResult is the outcome of checking a transaction hash against
// the chain. Created fresh per call, never persisted.
type VerificationResult struct {
	Valid         bool
	Reason        FailureReason
	Confirmations uint64
	Event         *model.PaymentEvent
}

// Verifier independently confirms that a claimed transaction hash corresponds
// to a real, successful, correctly-parameterized payment on chain. Safe for
// concurrent and repeated use; it only reads from the chain.
type Verifier struct {
	client        Client
	contract      common.Address
	confirmations uint64
	timeout       time.Duration
	logger        *zap.Logger
}

func NewVerifier(client Client, contract common.Address, confirmations uint64, logger *zap.Logger) *Verifier {
	return &Verifier{
		client:        client,
		contract:      contract,
		confirmations: confirmations,
		timeout:       15 * time.Second,
		logger:        logger,
	}
}

// Verify checks a transaction hash against the chain. A non-nil error means
// the chain could not be consulted; classification outcomes are returned in
// the result, not as errors.
func (v *Verifier) Verify(ctx context.Context, txHash common.Hash) (*VerificationResult, error) {
	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	receipt, err := v.client.TransactionReceipt(ctx, txHash)
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return v.invalid(txHash, ReasonNotFound, 0), nil
		}
		return nil, fmt.Errorf("failed to get transaction receipt: %w", err)
	}

	head, err := v.client.BlockNumber(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get latest block: %w", err)
	}

	txBlock := receipt.BlockNumber.Uint64()
	var depth uint64
	if head > txBlock {
		depth = head - txBlock
	}
	if depth < v.confirmations {
		return v.invalid(txHash, ReasonPending, depth), nil
	}

	if receipt.Status == types.ReceiptStatusFailed {
		return v.invalid(txHash, ReasonReverted, depth), nil
	}

	tx, isPending, err := v.client.TransactionByHash(ctx, txHash)
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return v.invalid(txHash, ReasonNotFound, depth), nil
		}
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	if isPending {
		return v.invalid(txHash, ReasonPending, depth), nil
	}
	if tx.To() == nil || *tx.To() != v.contract {
		return v.invalid(txHash, ReasonWrongRecipient, depth), nil
	}

	event := v.findPaymentEvent(receipt)
	if event == nil {
		return v.invalid(txHash, ReasonNoMatchingEvent, depth), nil
	}

	return &VerificationResult{
		Valid:         true,
		Confirmations: depth,
		Event:         event,
	}, nil
}

// findPaymentEvent scans the receipt for a PaymentReceived log emitted by the
// payment contract.
func (v *Verifier) findPaymentEvent(receipt *types.Receipt) *model.PaymentEvent {
	for _, eventLog := range receipt.Logs {
		if eventLog.Address != v.contract {
			continue
		}
		if len(eventLog.Topics) == 0 || eventLog.Topics[0] != PaymentReceivedSig {
			continue
		}

		event, err := decodePaymentEvent(*eventLog)
		if err != nil {
			v.logger.Warn("Failed to decode PaymentReceived log",
				zap.String("tx_hash", eventLog.TxHash.Hex()),
				zap.Uint("log_index", eventLog.Index),
				zap.Error(err))
			continue
		}
		return event
	}
	return nil
}

func (v *Verifier) invalid(txHash common.Hash, reason FailureReason, depth uint64) *VerificationResult {
	metrics.VerificationFailures.WithLabelValues(string(reason)).Inc()
	v.logger.Info("Transaction failed verification",
		zap.String("tx_hash", txHash.Hex()),
		zap.String("reason", string(reason)),
		zap.Uint64("confirmations", depth))

	return &VerificationResult{
		Valid:         false,
		Reason:        reason,
		Confirmations: depth,
	}
}
