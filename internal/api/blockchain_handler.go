package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"regexp"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"payrecon/internal/chain"
	"payrecon/internal/model"
	"payrecon/internal/reconciler"
)

var txHashPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{64}$`)

type paymentProcessor interface {
	ProcessPayment(ctx context.Context, orderID, txHash string) (*reconciler.Result, error)
}

type txVerifier interface {
	Verify(ctx context.Context, txHash common.Hash) (*chain.VerificationResult, error)
}

type orderReader interface {
	GetOrder(ctx context.Context, orderID string) (*model.Order, error)
	TransactionHashes(ctx context.Context, orderID string) ([]string, error)
}

// BlockchainHandler handles verification and reconciliation endpoints
type BlockchainHandler struct {
	processor paymentProcessor
	verifier  txVerifier
	orders    orderReader
	logger    *zap.Logger
}

func NewBlockchainHandler(processor paymentProcessor, verifier txVerifier, orders orderReader, logger *zap.Logger) *BlockchainHandler {
	return &BlockchainHandler{
		processor: processor,
		verifier:  verifier,
		orders:    orders,
		logger:    logger,
	}
}

// VerifyTransaction handles POST /api/blockchain/verify
func (h *BlockchainHandler) VerifyTransaction(w http.ResponseWriter, r *http.Request) {
	var req VerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorResponse(w, h.logger, http.StatusBadRequest, "invalid_request_body", "Invalid JSON in request body")
		return
	}

	if !txHashPattern.MatchString(req.TxHash) {
		writeErrorResponse(w, h.logger, http.StatusBadRequest, "invalid_tx_hash", "Transaction hash must be a 0x-prefixed 32-byte hex string")
		return
	}

	result, err := h.verifier.Verify(r.Context(), common.HexToHash(req.TxHash))
	if err != nil {
		h.logger.Error("Failed to verify transaction", zap.String("tx_hash", req.TxHash), zap.Error(err))
		writeErrorResponse(w, h.logger, http.StatusBadGateway, "chain_unavailable", "Could not consult the blockchain node")
		return
	}

	response := VerifyResponse{
		Valid:         result.Valid,
		Reason:        string(result.Reason),
		Confirmations: result.Confirmations,
	}
	if result.Event != nil {
		response.Event = &EventDetails{
			OrderTag:      result.Event.OrderTag,
			Payer:         result.Event.Payer.Hex(),
			Amount:        result.Event.Amount.String(),
			Token:         result.Event.Token.Hex(),
			PaymentMethod: result.Event.PaymentMethod,
			BlockTime:     result.Event.BlockTime,
			BlockNumber:   result.Event.BlockNumber,
		}
	}

	status := http.StatusOK
	if !result.Valid {
		status = http.StatusBadRequest
	}
	writeJSONResponse(w, h.logger, status, response)
}

// SubmitPayment handles POST /api/orders/{order_id}/blockchain-payment
func (h *BlockchainHandler) SubmitPayment(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	orderID := vars["order_id"]

	var req PaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorResponse(w, h.logger, http.StatusBadRequest, "invalid_request_body", "Invalid JSON in request body")
		return
	}

	if !txHashPattern.MatchString(req.TxHash) {
		writeErrorResponse(w, h.logger, http.StatusBadRequest, "invalid_tx_hash", "Transaction hash must be a 0x-prefixed 32-byte hex string")
		return
	}

	result, err := h.processor.ProcessPayment(r.Context(), orderID, req.TxHash)
	if err != nil {
		if errors.Is(err, reconciler.ErrOrderNotFound) {
			writeErrorResponse(w, h.logger, http.StatusNotFound, "order_not_found", "Order not found")
			return
		}
		h.logger.Error("Failed to process payment",
			zap.String("order_id", orderID),
			zap.String("tx_hash", req.TxHash),
			zap.Error(err))
		writeErrorResponse(w, h.logger, http.StatusInternalServerError, "reconciliation_error", "Failed to process payment")
		return
	}

	response := PaymentResponse{
		OrderID:          result.OrderID,
		Status:           result.Status,
		TxHash:           result.TxHash,
		Reason:           result.Reason,
		AlreadyProcessed: result.AlreadyProcessed,
	}

	// Completed payments and idempotent replays are success; everything else
	// tells the client the payment was not accepted.
	status := http.StatusOK
	if result.Status != model.PaymentStatusCompleted && !result.AlreadyProcessed {
		status = http.StatusBadRequest
	}
	writeJSONResponse(w, h.logger, status, response)
}

// GetOrderStatus handles GET /api/blockchain/order/{order_id}/status
func (h *BlockchainHandler) GetOrderStatus(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	orderID := vars["order_id"]

	order, err := h.orders.GetOrder(r.Context(), orderID)
	if err != nil {
		h.logger.Error("Failed to get order", zap.String("order_id", orderID), zap.Error(err))
		writeErrorResponse(w, h.logger, http.StatusInternalServerError, "database_error", "Failed to retrieve order")
		return
	}
	if order == nil {
		writeErrorResponse(w, h.logger, http.StatusNotFound, "order_not_found", "Order not found")
		return
	}

	hashes, err := h.orders.TransactionHashes(r.Context(), orderID)
	if err != nil {
		h.logger.Error("Failed to get order transactions", zap.String("order_id", orderID), zap.Error(err))
		writeErrorResponse(w, h.logger, http.StatusInternalServerError, "database_error", "Failed to retrieve order transactions")
		return
	}
	if hashes == nil {
		hashes = []string{}
	}

	writeJSONResponse(w, h.logger, http.StatusOK, OrderStatusResponse{
		OrderID:       order.ID,
		PaymentStatus: order.PaymentStatus,
		TxHash:        order.TxHash,
		FailureReason: order.FailureReason,
		TxHashes:      hashes,
	})
}
