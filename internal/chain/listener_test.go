package chain

import (
	"context"
	"errors"
	"math/big"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestBackoffNext(t *testing.T) {
	b := DefaultBackoff

	delay := b.Initial
	assert.Equal(t, 1*time.Second, delay)

	delay = b.Next(delay)
	assert.Equal(t, 2*time.Second, delay)

	for i := 0; i < 10; i++ {
		delay = b.Next(delay)
	}
	assert.Equal(t, 60*time.Second, delay)

	// Stays capped once reached.
	assert.Equal(t, 60*time.Second, b.Next(delay))
}

func newTestListener(client *fakeClient, sink Sink, watermark WatermarkStore, confirmations, chunkSize uint64) *Listener {
	return NewListener(
		func(ctx context.Context) (Client, error) { return client, nil },
		testContract,
		sink,
		watermark,
		confirmations,
		chunkSize,
		time.Minute,
		zap.NewNop(),
	)
}

func TestCatchUpToScansInChunks(t *testing.T) {
	client := newFakeClient()
	client.logs = []types.Log{
		paymentLog(t, "order-a", big.NewInt(100), 5, common.HexToHash("0x5")),
		paymentLog(t, "order-b", big.NewInt(200), 8, common.HexToHash("0x8")),
	}
	sink := &recordSink{}
	watermark := &memWatermark{block: 3}

	listener := newTestListener(client, sink, watermark, 2, 2)

	// head 10, confirmations 2: scan (3, 8] as 4-5, 6-7, 8-8.
	require.NoError(t, listener.catchUpTo(context.Background(), client, 10))

	require.Len(t, client.queries, 3)
	assert.Equal(t, uint64(4), client.queries[0].FromBlock.Uint64())
	assert.Equal(t, uint64(5), client.queries[0].ToBlock.Uint64())
	assert.Equal(t, uint64(6), client.queries[1].FromBlock.Uint64())
	assert.Equal(t, uint64(7), client.queries[1].ToBlock.Uint64())
	assert.Equal(t, uint64(8), client.queries[2].FromBlock.Uint64())
	assert.Equal(t, uint64(8), client.queries[2].ToBlock.Uint64())
	assert.Equal(t, [][]common.Hash{{PaymentReceivedSig}}, client.queries[0].Topics)

	events := sink.received()
	require.Len(t, events, 2)
	assert.Equal(t, "order-a", events[0].OrderTag)
	assert.Equal(t, "order-b", events[1].OrderTag)

	assert.Equal(t, []uint64{5, 7, 8}, watermark.history)
}

func TestCatchUpToNothingNew(t *testing.T) {
	client := newFakeClient()
	sink := &recordSink{}
	watermark := &memWatermark{block: 98}

	listener := newTestListener(client, sink, watermark, 2, 100)

	require.NoError(t, listener.catchUpTo(context.Background(), client, 100))
	assert.Empty(t, client.queries)
	assert.Empty(t, sink.received())
}

func TestCatchUpToHeadBelowConfirmations(t *testing.T) {
	client := newFakeClient()
	sink := &recordSink{}
	watermark := &memWatermark{}

	listener := newTestListener(client, sink, watermark, 12, 100)

	require.NoError(t, listener.catchUpTo(context.Background(), client, 5))
	assert.Empty(t, client.queries)
}

func TestCatchUpToSinkErrorHoldsWatermark(t *testing.T) {
	client := newFakeClient()
	client.logs = []types.Log{
		paymentLog(t, "order-a", big.NewInt(100), 5, common.HexToHash("0x5")),
		paymentLog(t, "order-b", big.NewInt(200), 6, common.HexToHash("0x6")),
	}
	sink := &recordSink{failOnTag: "order-b", err: errors.New("database down")}
	watermark := &memWatermark{block: 3}

	listener := newTestListener(client, sink, watermark, 2, 2)

	err := listener.catchUpTo(context.Background(), client, 10)
	require.Error(t, err)

	// First chunk (4-5) committed, second chunk (6-7) held back for redelivery.
	assert.Equal(t, uint64(5), watermark.current())
	require.Len(t, sink.received(), 1)
	assert.Equal(t, "order-a", sink.received()[0].OrderTag)
}

func TestCatchUpToSkipsUndecodableLog(t *testing.T) {
	badLog := paymentLog(t, "order-a", big.NewInt(100), 5, common.HexToHash("0x5"))
	badLog.Data = []byte{0xde, 0xad}

	client := newFakeClient()
	client.logs = []types.Log{
		badLog,
		paymentLog(t, "order-b", big.NewInt(200), 6, common.HexToHash("0x6")),
	}
	sink := &recordSink{}
	watermark := &memWatermark{block: 3}

	listener := newTestListener(client, sink, watermark, 2, 100)

	require.NoError(t, listener.catchUpTo(context.Background(), client, 10))

	// The malformed event is dropped, the rest of the range still lands and
	// the watermark advances past it.
	events := sink.received()
	require.Len(t, events, 1)
	assert.Equal(t, "order-b", events[0].OrderTag)
	assert.Equal(t, uint64(8), watermark.current())
}

func TestRunRecoversFromDialFailure(t *testing.T) {
	client := newFakeClient()
	client.logs = []types.Log{
		paymentLog(t, "order-a", big.NewInt(100), 50, common.HexToHash("0x50")),
	}
	sink := &recordSink{}
	watermark := &memWatermark{}

	var attempts atomic.Int64
	listener := NewListener(
		func(ctx context.Context) (Client, error) {
			if attempts.Add(1) == 1 {
				return nil, errors.New("connection refused")
			}
			return client, nil
		},
		testContract,
		sink,
		watermark,
		2,
		100,
		time.Minute,
		zap.NewNop(),
	)
	listener.backoff = Backoff{Initial: time.Millisecond, Max: 10 * time.Millisecond, Factor: 2.0}

	done := make(chan error, 1)
	go func() { done <- listener.Run(context.Background()) }()

	// Second dial attempt succeeds and subscribes.
	select {
	case <-client.subbed:
	case <-time.After(5 * time.Second):
		t.Fatal("listener never subscribed")
	}
	assert.GreaterOrEqual(t, attempts.Load(), int64(2))

	// A new head triggers a scan of the finalized range behind it.
	client.pushHead(100)
	require.Eventually(t, func() bool {
		return len(sink.received()) == 1
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, "order-a", sink.received()[0].OrderTag)
	assert.Equal(t, uint64(98), watermark.current())

	listener.Stop()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("listener did not stop")
	}
}

func TestConnectBoundsDialAndSubscribe(t *testing.T) {
	client := newFakeClient()
	var dialHadDeadline bool
	listener := NewListener(
		func(ctx context.Context) (Client, error) {
			_, dialHadDeadline = ctx.Deadline()
			return client, nil
		},
		testContract,
		&recordSink{},
		&memWatermark{},
		2,
		100,
		time.Minute,
		zap.NewNop(),
	)

	_, sub, _, err := listener.connect(context.Background())
	require.NoError(t, err)
	sub.Unsubscribe()

	// Dialing and subscribing are bounded so a wedged node cannot stall the
	// reconnect loop.
	assert.True(t, dialHadDeadline)
	assert.True(t, client.subHadDeadline)
}

func TestStopBeforeRunIsSafe(t *testing.T) {
	listener := newTestListener(newFakeClient(), &recordSink{}, &memWatermark{}, 2, 100)
	listener.Stop()
	listener.Stop()
	assert.Equal(t, StateDisconnected, listener.State())
}
