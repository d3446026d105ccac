package chain

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"payrecon/internal/model"
)

const PaymentABI = `[
	{
		"type": "event",
		"name": "PaymentReceived",
		"inputs": [
			{"internalType": "string", "name": "orderId", "type": "string", "indexed": false},
			{"internalType": "address", "name": "payer", "type": "address", "indexed": true},
			{"internalType": "uint256", "name": "amount", "type": "uint256", "indexed": false},
			{"internalType": "address", "name": "token", "type": "address", "indexed": true},
			{"internalType": "string", "name": "paymentMethod", "type": "string", "indexed": false},
			{"internalType": "uint256", "name": "timestamp", "type": "uint256", "indexed": false}
		]
	}
]`

var (
	// PaymentReceivedSig is the topic the listener subscribes by.
	PaymentReceivedSig = crypto.Keccak256Hash([]byte("PaymentReceived(string,address,uint256,address,string,uint256)"))

	paymentABI = mustParseABI(PaymentABI)
)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic("failed to parse payment ABI: " + err.Error())
	}
	return parsed
}

// decodePaymentEvent turns a raw PaymentReceived log into a PaymentEvent. The
// decoded fields, not any caller-supplied metadata, are the reconciler's
// source of truth.
func decodePaymentEvent(eventLog types.Log) (*model.PaymentEvent, error) {
	if len(eventLog.Topics) < 3 || eventLog.Topics[0] != PaymentReceivedSig {
		return nil, fmt.Errorf("log is not a PaymentReceived event")
	}

	var eventData struct {
		OrderId       string
		Amount        *big.Int
		PaymentMethod string
		Timestamp     *big.Int
	}

	if err := paymentABI.UnpackIntoInterface(&eventData, "PaymentReceived", eventLog.Data); err != nil {
		return nil, fmt.Errorf("failed to unpack PaymentReceived event data: %w", err)
	}

	// Topics[1] is payer (address), Topics[2] is token (address)
	payer := common.BytesToAddress(eventLog.Topics[1].Bytes())
	token := common.BytesToAddress(eventLog.Topics[2].Bytes())

	return &model.PaymentEvent{
		OrderTag:      eventData.OrderId,
		Payer:         payer,
		Amount:        eventData.Amount,
		Token:         token,
		PaymentMethod: eventData.PaymentMethod,
		BlockTime:     time.Unix(eventData.Timestamp.Int64(), 0),
		TxHash:        eventLog.TxHash,
		BlockNumber:   eventLog.BlockNumber,
		LogIndex:      eventLog.Index,
	}, nil
}
