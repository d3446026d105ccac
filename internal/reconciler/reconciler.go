package reconciler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"payrecon/internal/chain"
	"payrecon/internal/events"
	"payrecon/internal/metrics"
	"payrecon/internal/model"
	"payrecon/internal/tokens"
)

// ErrOrderNotFound means the reconciliation target does not exist.
var ErrOrderNotFound = errors.New("order not found")

// Failure classifications applied by the reconciler itself, on top of the
// verifier's. Mismatches are fraud-suspect and logged for manual review.
const (
	ReasonOrderTagMismatch = "order_tag_mismatch"
	ReasonTokenMismatch    = "token_mismatch"
	ReasonAmountMismatch   = "amount_mismatch"
)

// OrderStore is the slice of the order repository the reconciler needs.
type OrderStore interface {
	GetOrder(ctx context.Context, orderID string) (*model.Order, error)
	CompleteOrder(ctx context.Context, orderID, txHash string, event model.OutboxEvent) (bool, error)
	FailOrder(ctx context.Context, orderID, txHash, reason string, event model.OutboxEvent) (bool, error)
	TransactionHashes(ctx context.Context, orderID string) ([]string, error)
}

// TxVerifier confirms a transaction hash against the chain.
type TxVerifier interface {
	Verify(ctx context.Context, txHash common.Hash) (*chain.VerificationResult, error)
}

// Result is the outcome of a reconciliation attempt.
type Result struct {
	OrderID          string
	Status           string
	TxHash           string
	Reason           string
	AlreadyProcessed bool
}

// Reconciler turns a verified on-chain payment event into an order mutation,
// exactly once. The terminal-status check plus the store's compare-and-set is
// what makes concurrent and redelivered events safe.
type Reconciler struct {
	store       OrderStore
	verifier    TxVerifier
	registry    *tokens.Registry
	toleranceBP uint64
	logger      *zap.Logger
}

func NewReconciler(store OrderStore, verifier TxVerifier, registry *tokens.Registry, toleranceBP uint64, logger *zap.Logger) *Reconciler {
	return &Reconciler{
		store:       store,
		verifier:    verifier,
		registry:    registry,
		toleranceBP: toleranceBP,
		logger:      logger,
	}
}

// ProcessPayment drives the order's payment-status state machine:
// PENDING -> COMPLETED or PENDING -> FAILED, both terminal.
func (r *Reconciler) ProcessPayment(ctx context.Context, orderID, txHash string) (*Result, error) {
	order, err := r.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up order %s: %w", orderID, err)
	}
	if order == nil {
		return nil, ErrOrderNotFound
	}

	// Idempotency guard: the listener may redeliver after a reconnect, and a
	// client may submit the same hash it already pushed through the listener
	// path. Return the existing result without re-applying anything.
	if order.Terminal() {
		return r.existingResult(order), nil
	}

	verification, err := r.verifier.Verify(ctx, common.HexToHash(txHash))
	if err != nil {
		return nil, fmt.Errorf("failed to verify transaction %s: %w", txHash, err)
	}

	if !verification.Valid {
		if verification.Reason.Transient() {
			// Not yet mined or not yet confirmation-deep. A transient outcome
			// must not poison the order with a terminal FAILED; the caller can
			// retry once the chain has advanced.
			return &Result{
				OrderID: orderID,
				Status:  order.PaymentStatus,
				TxHash:  txHash,
				Reason:  string(verification.Reason),
			}, nil
		}
		return r.fail(ctx, order, txHash, string(verification.Reason))
	}

	event := verification.Event

	// The decoded event, never the caller's claim, is the source of truth.
	if event.OrderTag != order.ID {
		r.logger.Error("On-chain order tag does not match requested order, possible tampering",
			zap.String("order_id", order.ID),
			zap.String("event_order_tag", event.OrderTag),
			zap.String("tx_hash", txHash),
			zap.String("payer", event.Payer.Hex()))
		return r.fail(ctx, order, txHash, ReasonOrderTagMismatch)
	}

	token, exists := r.registry.GetBySymbol(order.TokenSymbol)
	if !exists || event.Token != token.Address {
		r.logger.Error("Payment made in a different token than the order expects",
			zap.String("order_id", order.ID),
			zap.String("expected_token", order.TokenSymbol),
			zap.String("event_token", event.Token.Hex()),
			zap.String("tx_hash", txHash))
		return r.fail(ctx, order, txHash, ReasonTokenMismatch)
	}

	// Expected amount was fixed at order creation so rate drift between
	// checkout and confirmation cannot invalidate a legitimate payment.
	expected, ok := new(big.Int).SetString(order.AmountToken, 10)
	if !ok {
		return nil, fmt.Errorf("order %s has malformed expected amount %q", order.ID, order.AmountToken)
	}
	if !withinTolerance(expected, event.Amount, r.toleranceBP) {
		r.logger.Error("On-chain amount does not match order total, flagging for manual review",
			zap.String("order_id", order.ID),
			zap.String("expected_amount", expected.String()),
			zap.String("event_amount", event.Amount.String()),
			zap.String("tx_hash", txHash))
		return r.fail(ctx, order, txHash, ReasonAmountMismatch)
	}

	return r.complete(ctx, order, txHash)
}

func (r *Reconciler) complete(ctx context.Context, order *model.Order, txHash string) (*Result, error) {
	outbox, err := statusEvent(order.ID, model.PaymentStatusCompleted, txHash, "")
	if err != nil {
		return nil, err
	}

	applied, err := r.store.CompleteOrder(ctx, order.ID, txHash, outbox)
	if err != nil {
		return nil, fmt.Errorf("failed to complete order %s: %w", order.ID, err)
	}
	if !applied {
		// Lost the race: a concurrent call already applied a transition.
		return r.refetchResult(ctx, order.ID)
	}

	metrics.PaymentsCompleted.Inc()
	r.logger.Info("Order payment completed",
		zap.String("order_id", order.ID),
		zap.String("tx_hash", txHash))

	return &Result{
		OrderID: order.ID,
		Status:  model.PaymentStatusCompleted,
		TxHash:  txHash,
	}, nil
}

func (r *Reconciler) fail(ctx context.Context, order *model.Order, txHash, reason string) (*Result, error) {
	outbox, err := statusEvent(order.ID, model.PaymentStatusFailed, txHash, reason)
	if err != nil {
		return nil, err
	}

	applied, err := r.store.FailOrder(ctx, order.ID, txHash, reason, outbox)
	if err != nil {
		return nil, fmt.Errorf("failed to fail order %s: %w", order.ID, err)
	}
	if !applied {
		return r.refetchResult(ctx, order.ID)
	}

	metrics.PaymentsFailed.Inc()
	return &Result{
		OrderID: order.ID,
		Status:  model.PaymentStatusFailed,
		TxHash:  txHash,
		Reason:  reason,
	}, nil
}

func (r *Reconciler) refetchResult(ctx context.Context, orderID string) (*Result, error) {
	order, err := r.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to re-read order %s: %w", orderID, err)
	}
	if order == nil {
		return nil, ErrOrderNotFound
	}
	return r.existingResult(order), nil
}

func (r *Reconciler) existingResult(order *model.Order) *Result {
	result := &Result{
		OrderID:          order.ID,
		Status:           order.PaymentStatus,
		AlreadyProcessed: true,
	}
	if order.TxHash != nil {
		result.TxHash = *order.TxHash
	}
	if order.FailureReason != nil {
		result.Reason = *order.FailureReason
	}
	return result
}

// HandleEvent is the listener sink: it runs ProcessPayment for a decoded
// on-chain event. Domain-level outcomes are swallowed here so one bad event
// never stops the listener; only infrastructure failures propagate, which
// keeps the watermark behind the event for redelivery.
func (r *Reconciler) HandleEvent(ctx context.Context, event model.PaymentEvent) error {
	result, err := r.ProcessPayment(ctx, event.OrderTag, event.TxHash.Hex())
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			// Should not happen for events our contract emitted.
			r.logger.Error("On-chain payment references unknown order",
				zap.String("order_tag", event.OrderTag),
				zap.String("tx_hash", event.TxHash.Hex()),
				zap.String("payer", event.Payer.Hex()))
			return nil
		}
		return err
	}

	if result.AlreadyProcessed {
		r.logger.Debug("Skipped redelivered payment event",
			zap.String("order_id", result.OrderID),
			zap.String("tx_hash", event.TxHash.Hex()))
		return nil
	}

	// The listener's node and the verifier's node can disagree on chain depth,
	// so an event that is confirmation-deep at delivery may still verify as
	// pending or not-found here. Returning an error holds the watermark behind
	// the event; it is redelivered once the verifier's node catches up.
	if result.Status == model.PaymentStatusPending && chain.FailureReason(result.Reason).Transient() {
		r.logger.Warn("Verification not final for delivered event, holding for redelivery",
			zap.String("order_id", result.OrderID),
			zap.String("tx_hash", event.TxHash.Hex()),
			zap.String("reason", result.Reason))
		return fmt.Errorf("verification of %s not final yet: %s", event.TxHash.Hex(), result.Reason)
	}

	return nil
}

// withinTolerance reports whether actual is within toleranceBP basis points
// of expected.
func withinTolerance(expected, actual *big.Int, toleranceBP uint64) bool {
	diff := new(big.Int).Sub(actual, expected)
	diff.Abs(diff)
	// diff * 10000 <= expected * toleranceBP
	left := new(big.Int).Mul(diff, big.NewInt(10_000))
	right := new(big.Int).Mul(expected, new(big.Int).SetUint64(toleranceBP))
	return left.Cmp(right) <= 0
}

func statusEvent(orderID, status, txHash, reason string) (model.OutboxEvent, error) {
	eventType := events.EventTypePaymentCompleted
	if status == model.PaymentStatusFailed {
		eventType = events.EventTypePaymentFailed
	}

	statusEvent := events.PaymentStatusEvent{
		EventID:    uuid.New().String(),
		EventType:  eventType,
		OrderID:    orderID,
		Status:     status,
		TxHash:     txHash,
		Reason:     reason,
		OccurredAt: time.Now().UTC(),
	}

	payload, err := json.Marshal(statusEvent)
	if err != nil {
		return model.OutboxEvent{}, fmt.Errorf("failed to marshal status event: %w", err)
	}

	return model.OutboxEvent{
		EventID:   statusEvent.EventID,
		OrderID:   orderID,
		EventType: eventType,
		Payload:   payload,
	}, nil
}
