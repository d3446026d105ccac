package chain

import (
	"context"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"

	"payrecon/internal/model"
)

var (
	testContract = common.HexToAddress("0x1111111111111111111111111111111111111111")
	testPayer    = common.HexToAddress("0x2222222222222222222222222222222222222222")
	testToken    = common.HexToAddress("0xdAC17F958D2ee523a2206206994597C13D831ec7")
)

func packPaymentData(t *testing.T, orderID string, amount *big.Int, method string, timestamp *big.Int) []byte {
	t.Helper()
	data, err := paymentABI.Events["PaymentReceived"].Inputs.NonIndexed().Pack(orderID, amount, method, timestamp)
	require.NoError(t, err)
	return data
}

func paymentLog(t *testing.T, orderID string, amount *big.Int, blockNumber uint64, txHash common.Hash) types.Log {
	t.Helper()
	return types.Log{
		Address: testContract,
		Topics: []common.Hash{
			PaymentReceivedSig,
			common.BytesToHash(testPayer.Bytes()),
			common.BytesToHash(testToken.Bytes()),
		},
		Data:        packPaymentData(t, orderID, amount, "crypto", big.NewInt(1700000000)),
		BlockNumber: blockNumber,
		TxHash:      txHash,
	}
}

// fakeClient is an in-memory Client for verifier and listener tests.
type fakeClient struct {
	mu sync.Mutex

	head    uint64
	headErr error

	receipts   map[common.Hash]*types.Receipt
	receiptErr error
	txs        map[common.Hash]*types.Transaction
	pendingTxs map[common.Hash]bool

	logs      []types.Log
	filterErr error
	queries   []ethereum.FilterQuery

	subErr         error
	heads          chan<- *types.Header
	subbed         chan struct{}
	subHadDeadline bool

	closed bool
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		receipts:   make(map[common.Hash]*types.Receipt),
		txs:        make(map[common.Hash]*types.Transaction),
		pendingTxs: make(map[common.Hash]bool),
		subbed:     make(chan struct{}, 1),
	}
}

func (c *fakeClient) BlockNumber(ctx context.Context) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.headErr != nil {
		return 0, c.headErr
	}
	return c.head, nil
}

func (c *fakeClient) TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	tx, ok := c.txs[hash]
	if !ok {
		return nil, false, ethereum.NotFound
	}
	return tx, c.pendingTxs[hash], nil
}

func (c *fakeClient) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.receiptErr != nil {
		return nil, c.receiptErr
	}
	receipt, ok := c.receipts[txHash]
	if !ok {
		return nil, ethereum.NotFound
	}
	return receipt, nil
}

func (c *fakeClient) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queries = append(c.queries, q)
	if c.filterErr != nil {
		return nil, c.filterErr
	}

	var matched []types.Log
	from := q.FromBlock.Uint64()
	to := q.ToBlock.Uint64()
	for _, eventLog := range c.logs {
		if eventLog.BlockNumber >= from && eventLog.BlockNumber <= to {
			matched = append(matched, eventLog)
		}
	}
	return matched, nil
}

func (c *fakeClient) SubscribeNewHead(ctx context.Context, ch chan<- *types.Header) (ethereum.Subscription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.subErr != nil {
		return nil, c.subErr
	}
	_, c.subHadDeadline = ctx.Deadline()
	c.heads = ch
	select {
	case c.subbed <- struct{}{}:
	default:
	}
	return &fakeSubscription{errc: make(chan error, 1)}, nil
}

func (c *fakeClient) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

func (c *fakeClient) pushHead(number uint64) {
	c.mu.Lock()
	heads := c.heads
	c.mu.Unlock()
	heads <- &types.Header{Number: new(big.Int).SetUint64(number)}
}

type fakeSubscription struct {
	errc chan error
}

func (s *fakeSubscription) Err() <-chan error { return s.errc }
func (s *fakeSubscription) Unsubscribe()      {}

// memWatermark is an in-memory WatermarkStore recording every update.
type memWatermark struct {
	mu      sync.Mutex
	block   uint64
	history []uint64
	getErr  error
}

func (w *memWatermark) GetLastProcessedBlock() (uint64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.getErr != nil {
		return 0, w.getErr
	}
	return w.block, nil
}

func (w *memWatermark) UpdateLastProcessedBlock(block uint64) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.block = block
	w.history = append(w.history, block)
	return nil
}

func (w *memWatermark) current() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.block
}

// recordSink collects delivered events, optionally failing on a given order tag.
type recordSink struct {
	mu        sync.Mutex
	events    []model.PaymentEvent
	failOnTag string
	err       error
}

func (s *recordSink) HandleEvent(ctx context.Context, event model.PaymentEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failOnTag != "" && event.OrderTag == s.failOnTag {
		return s.err
	}
	s.events = append(s.events, event)
	return nil
}

func (s *recordSink) received() []model.PaymentEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.PaymentEvent, len(s.events))
	copy(out, s.events)
	return out
}
