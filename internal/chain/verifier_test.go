package chain

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testConfirmations = 12

func newTestVerifier(client *fakeClient) *Verifier {
	return NewVerifier(client, testContract, testConfirmations, zap.NewNop())
}

func contractTx() *types.Transaction {
	to := testContract
	return types.NewTx(&types.LegacyTx{
		Nonce:    1,
		To:       &to,
		Value:    big.NewInt(0),
		Gas:      100_000,
		GasPrice: big.NewInt(1),
	})
}

// addConfirmedTx installs a successful, confirmation-deep transaction to the
// payment contract with the given receipt logs.
func addConfirmedTx(client *fakeClient, txHash common.Hash, logs []*types.Log) {
	client.head = 100
	client.receipts[txHash] = &types.Receipt{
		Status:      types.ReceiptStatusSuccessful,
		BlockNumber: big.NewInt(50),
		Logs:        logs,
	}
	client.txs[txHash] = contractTx()
}

func TestVerifySuccess(t *testing.T) {
	txHash := common.HexToHash("0xaaaa")
	client := newFakeClient()
	eventLog := paymentLog(t, "order-1", big.NewInt(2_000_000), 50, txHash)
	addConfirmedTx(client, txHash, []*types.Log{&eventLog})

	result, err := newTestVerifier(client).Verify(context.Background(), txHash)
	require.NoError(t, err)

	assert.True(t, result.Valid)
	assert.Equal(t, uint64(50), result.Confirmations)
	require.NotNil(t, result.Event)
	assert.Equal(t, "order-1", result.Event.OrderTag)
	assert.Equal(t, big.NewInt(2_000_000), result.Event.Amount)
	assert.Equal(t, testToken, result.Event.Token)
}

func TestVerifyNotFound(t *testing.T) {
	client := newFakeClient()
	client.head = 100

	result, err := newTestVerifier(client).Verify(context.Background(), common.HexToHash("0xbbbb"))
	require.NoError(t, err)

	assert.False(t, result.Valid)
	assert.Equal(t, ReasonNotFound, result.Reason)
	assert.True(t, result.Reason.Transient())
}

func TestVerifyPending(t *testing.T) {
	txHash := common.HexToHash("0xcccc")
	client := newFakeClient()
	client.head = 100
	client.receipts[txHash] = &types.Receipt{
		Status:      types.ReceiptStatusSuccessful,
		BlockNumber: big.NewInt(95),
	}
	client.txs[txHash] = contractTx()

	result, err := newTestVerifier(client).Verify(context.Background(), txHash)
	require.NoError(t, err)

	assert.False(t, result.Valid)
	assert.Equal(t, ReasonPending, result.Reason)
	assert.Equal(t, uint64(5), result.Confirmations)
	assert.True(t, result.Reason.Transient())
}

func TestVerifyReverted(t *testing.T) {
	txHash := common.HexToHash("0xdddd")
	client := newFakeClient()
	client.head = 100
	client.receipts[txHash] = &types.Receipt{
		Status:      types.ReceiptStatusFailed,
		BlockNumber: big.NewInt(50),
	}
	client.txs[txHash] = contractTx()

	result, err := newTestVerifier(client).Verify(context.Background(), txHash)
	require.NoError(t, err)

	assert.False(t, result.Valid)
	assert.Equal(t, ReasonReverted, result.Reason)
	assert.False(t, result.Reason.Transient())
}

func TestVerifyWrongRecipient(t *testing.T) {
	txHash := common.HexToHash("0xeeee")
	client := newFakeClient()
	addConfirmedTx(client, txHash, nil)

	other := common.HexToAddress("0x9999999999999999999999999999999999999999")
	client.txs[txHash] = types.NewTx(&types.LegacyTx{
		Nonce:    1,
		To:       &other,
		Value:    big.NewInt(0),
		Gas:      100_000,
		GasPrice: big.NewInt(1),
	})

	result, err := newTestVerifier(client).Verify(context.Background(), txHash)
	require.NoError(t, err)

	assert.False(t, result.Valid)
	assert.Equal(t, ReasonWrongRecipient, result.Reason)
}

func TestVerifyContractCreation(t *testing.T) {
	txHash := common.HexToHash("0xffff")
	client := newFakeClient()
	addConfirmedTx(client, txHash, nil)
	client.txs[txHash] = types.NewTx(&types.LegacyTx{
		Nonce:    1,
		Value:    big.NewInt(0),
		Gas:      100_000,
		GasPrice: big.NewInt(1),
	})

	result, err := newTestVerifier(client).Verify(context.Background(), txHash)
	require.NoError(t, err)

	assert.False(t, result.Valid)
	assert.Equal(t, ReasonWrongRecipient, result.Reason)
}

func TestVerifyNoMatchingEvent(t *testing.T) {
	txHash := common.HexToHash("0xabab")
	client := newFakeClient()

	// A PaymentReceived-shaped log from some other contract must not count.
	eventLog := paymentLog(t, "order-1", big.NewInt(1), 50, txHash)
	eventLog.Address = common.HexToAddress("0x9999999999999999999999999999999999999999")
	addConfirmedTx(client, txHash, []*types.Log{&eventLog})

	result, err := newTestVerifier(client).Verify(context.Background(), txHash)
	require.NoError(t, err)

	assert.False(t, result.Valid)
	assert.Equal(t, ReasonNoMatchingEvent, result.Reason)
}

func TestVerifyChainErrorPropagates(t *testing.T) {
	client := newFakeClient()
	client.receiptErr = errors.New("connection refused")

	result, err := newTestVerifier(client).Verify(context.Background(), common.HexToHash("0xabcd"))
	assert.Error(t, err)
	assert.Nil(t, result)
}
