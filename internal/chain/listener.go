package chain

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"payrecon/internal/metrics"
	"payrecon/internal/model"
)

const rpcTimeout = 15 * time.Second

// State is the listener's connection state.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateSubscribed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateSubscribed:
		return "subscribed"
	default:
		return "disconnected"
	}
}

// Backoff is a capped exponential backoff policy.
type Backoff struct {
	Initial time.Duration
	Max     time.Duration
	Factor  float64
}

// DefaultBackoff retries at 1s doubling up to 60s, forever.
var DefaultBackoff = Backoff{
	Initial: 1 * time.Second,
	Max:     60 * time.Second,
	Factor:  2.0,
}

// Next returns the delay to use after the given one.
func (b Backoff) Next(current time.Duration) time.Duration {
	next := time.Duration(float64(current) * b.Factor)
	if next > b.Max {
		next = b.Max
	}
	return next
}

// Sink receives decoded payment events. Implementations must swallow
// domain-level outcomes (failed verification, unknown order) and return an
// error only when the event could not be processed at all and should be
// redelivered.
type Sink interface {
	HandleEvent(ctx context.Context, event model.PaymentEvent) error
}

// WatermarkStore persists the last fully processed block number.
type WatermarkStore interface {
	GetLastProcessedBlock() (uint64, error)
	UpdateLastProcessedBlock(block uint64) error
}

// Listener observes the payment contract's PaymentReceived stream. A head
// subscription is the liveness signal; actual event delivery scans finalized
// block ranges from the durable watermark, so reconnects inherently replay
// any gap and only confirmation-deep events reach the sink.
type Listener struct {
	dial      func(ctx context.Context) (Client, error)
	contract  common.Address
	sink      Sink
	watermark WatermarkStore
	logger    *zap.Logger

	confirmations uint64
	chunkSize     uint64
	idleTimeout   time.Duration
	backoff       Backoff

	mu     sync.Mutex
	state  State
	cancel context.CancelFunc
}

func NewListener(
	dial func(ctx context.Context) (Client, error),
	contract common.Address,
	sink Sink,
	watermark WatermarkStore,
	confirmations uint64,
	chunkSize uint64,
	idleTimeout time.Duration,
	logger *zap.Logger) *Listener {
	return &Listener{
		dial:          dial,
		contract:      contract,
		sink:          sink,
		watermark:     watermark,
		confirmations: confirmations,
		chunkSize:     chunkSize,
		idleTimeout:   idleTimeout,
		backoff:       DefaultBackoff,
		logger:        logger,
	}
}

// Run connects and follows the chain until ctx is cancelled or Stop is
// called. Connection failures are retried with capped backoff, never
// surfaced as a process crash.
func (l *Listener) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	l.mu.Lock()
	l.cancel = cancel
	l.mu.Unlock()
	defer cancel()

	delay := l.backoff.Initial
	for {
		l.setState(StateConnecting)

		client, sub, heads, err := l.connect(runCtx)
		if err != nil {
			l.setState(StateDisconnected)
			if runCtx.Err() != nil {
				return runCtx.Err()
			}
			l.logger.Error("Failed to establish chain subscription",
				zap.Error(err),
				zap.Duration("retry_in", delay))
			if !sleepCtx(runCtx, delay) {
				return runCtx.Err()
			}
			delay = l.backoff.Next(delay)
			continue
		}

		l.setState(StateSubscribed)
		l.logger.Info("Chain subscription established", zap.String("contract", l.contract.Hex()))
		delay = l.backoff.Initial

		err = l.follow(runCtx, client, sub, heads)
		sub.Unsubscribe()
		client.Close()
		l.setState(StateDisconnected)

		if runCtx.Err() != nil {
			return runCtx.Err()
		}

		metrics.ListenerReconnects.Inc()
		l.logger.Warn("Chain subscription lost, reconnecting",
			zap.Error(err),
			zap.Duration("retry_in", delay))
		if !sleepCtx(runCtx, delay) {
			return runCtx.Err()
		}
		delay = l.backoff.Next(delay)
	}
}

// Stop releases the subscription and any open connections. Safe to call even
// if Run was never started, and more than once.
func (l *Listener) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cancel != nil {
		l.cancel()
	}
}

// State returns the current connection state.
func (l *Listener) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *Listener) setState(s State) {
	l.mu.Lock()
	l.state = s
	l.mu.Unlock()
}

func (l *Listener) connect(ctx context.Context) (Client, ethereum.Subscription, chan *types.Header, error) {
	// A wedged node must not stall reconnection: the dial and the subscribe
	// call are bounded, the subscription itself outlives this deadline.
	rpcCtx, cancel := context.WithTimeout(ctx, rpcTimeout)
	defer cancel()

	client, err := l.dial(rpcCtx)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to dial node: %w", err)
	}

	heads := make(chan *types.Header, 16)
	sub, err := client.SubscribeNewHead(rpcCtx, heads)
	if err != nil {
		client.Close()
		return nil, nil, nil, fmt.Errorf("failed to subscribe to new heads: %w", err)
	}

	return client, sub, heads, nil
}

// follow processes finalized ranges as heads arrive. Returns when the
// subscription errors, no heads arrive within the idle timeout, or ctx ends.
func (l *Listener) follow(ctx context.Context, client Client, sub ethereum.Subscription, heads chan *types.Header) error {
	// Recover whatever was missed while disconnected before waiting on heads.
	if err := l.catchUp(ctx, client); err != nil {
		return err
	}

	idle := time.NewTimer(l.idleTimeout)
	defer idle.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-sub.Err():
			return fmt.Errorf("head subscription failed: %w", err)
		case <-idle.C:
			return fmt.Errorf("no new heads within %s", l.idleTimeout)
		case head := <-heads:
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(l.idleTimeout)

			if err := l.catchUpTo(ctx, client, head.Number.Uint64()); err != nil {
				return err
			}
		}
	}
}

func (l *Listener) catchUp(ctx context.Context, client Client) error {
	rpcCtx, cancel := context.WithTimeout(ctx, rpcTimeout)
	head, err := client.BlockNumber(rpcCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("failed to get latest block: %w", err)
	}
	return l.catchUpTo(ctx, client, head)
}

// catchUpTo scans (watermark, head-confirmations] in chunks, delivering every
// PaymentReceived event and persisting the watermark per chunk.
func (l *Listener) catchUpTo(ctx context.Context, client Client, head uint64) error {
	if head < l.confirmations {
		return nil
	}
	safe := head - l.confirmations

	lastProcessed, err := l.watermark.GetLastProcessedBlock()
	if err != nil {
		return fmt.Errorf("failed to get last processed block: %w", err)
	}
	if safe <= lastProcessed {
		return nil
	}

	for start := lastProcessed + 1; start <= safe; start += l.chunkSize {
		end := start + l.chunkSize - 1
		if end > safe {
			end = safe
		}

		if err := l.scanRange(ctx, client, start, end); err != nil {
			return err
		}

		if err := l.watermark.UpdateLastProcessedBlock(end); err != nil {
			return fmt.Errorf("failed to update last processed block: %w", err)
		}
		metrics.WatermarkBlock.Set(float64(end))
	}

	return nil
}

func (l *Listener) scanRange(ctx context.Context, client Client, fromBlock, toBlock uint64) error {
	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		ToBlock:   new(big.Int).SetUint64(toBlock),
		Addresses: []common.Address{l.contract},
		Topics:    [][]common.Hash{{PaymentReceivedSig}},
	}

	rpcCtx, cancel := context.WithTimeout(ctx, rpcTimeout)
	logs, err := client.FilterLogs(rpcCtx, query)
	cancel()
	if err != nil {
		return fmt.Errorf("failed to filter logs for blocks %d-%d: %w", fromBlock, toBlock, err)
	}

	for _, eventLog := range logs {
		event, err := decodePaymentEvent(eventLog)
		if err != nil {
			// A malformed event must not stop the pipeline.
			l.logger.Error("Skipping undecodable PaymentReceived log",
				zap.String("tx_hash", eventLog.TxHash.Hex()),
				zap.Uint("log_index", eventLog.Index),
				zap.Error(err))
			continue
		}

		metrics.EventsReceived.Inc()
		if err := l.sink.HandleEvent(ctx, *event); err != nil {
			// Infrastructure failure: keep the watermark behind this chunk so
			// the event is redelivered after reconnect.
			return fmt.Errorf("failed to hand off event %s: %w", event.TxHash.Hex(), err)
		}
	}

	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
