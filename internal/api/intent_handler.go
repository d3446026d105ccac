package api

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"payrecon/internal/model"
	"payrecon/internal/rates"
	"payrecon/internal/tokens"
)

type orderIntake interface {
	CreateOrUpdatePending(ctx context.Context, order model.Order) error
	GetOrder(ctx context.Context, orderID string) (*model.Order, error)
}

// IntentHandler records the crypto leg of an order at checkout time. The
// expected token amount is converted from the VND total here, once, so later
// rate drift cannot invalidate a legitimate payment.
type IntentHandler struct {
	orders   orderIntake
	cache    *rates.Cache
	registry *tokens.Registry
	logger   *zap.Logger
}

func NewIntentHandler(orders orderIntake, cache *rates.Cache, registry *tokens.Registry, logger *zap.Logger) *IntentHandler {
	return &IntentHandler{
		orders:   orders,
		cache:    cache,
		registry: registry,
		logger:   logger,
	}
}

// CreateIntent handles POST /api/orders/{order_id}/crypto-intent
func (h *IntentHandler) CreateIntent(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	orderID := vars["order_id"]

	var req IntentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorResponse(w, h.logger, http.StatusBadRequest, "invalid_request_body", "Invalid JSON in request body")
		return
	}

	if req.AmountVND <= 0 {
		writeErrorResponse(w, h.logger, http.StatusBadRequest, "invalid_amount", "Amount must be positive")
		return
	}

	symbol := strings.ToUpper(req.TokenSymbol)
	token, exists := h.registry.GetBySymbol(symbol)
	if !exists {
		writeErrorResponse(w, h.logger, http.StatusBadRequest, "unsupported_token",
			"Token not supported. Supported tokens: "+strings.Join(h.registry.Symbols(), ", "))
		return
	}

	existing, err := h.orders.GetOrder(r.Context(), orderID)
	if err != nil {
		h.logger.Error("Failed to get order", zap.String("order_id", orderID), zap.Error(err))
		writeErrorResponse(w, h.logger, http.StatusInternalServerError, "database_error", "Failed to retrieve order")
		return
	}
	if existing != nil && existing.Terminal() {
		writeErrorResponse(w, h.logger, http.StatusConflict, "order_finalized", "Order payment is already in a terminal state")
		return
	}

	rate, err := h.cache.Rate(symbol)
	if err != nil {
		writeErrorResponse(w, h.logger, http.StatusBadRequest, "unsupported_token", "No exchange rate for token "+symbol)
		return
	}

	amountToken := toSmallestUnit(req.AmountVND/rate, token.Decimals)

	order := model.Order{
		ID:          orderID,
		TokenSymbol: symbol,
		AmountVND:   req.AmountVND,
		AmountToken: amountToken.String(),
	}
	if err := h.orders.CreateOrUpdatePending(r.Context(), order); err != nil {
		h.logger.Error("Failed to record crypto intent", zap.String("order_id", orderID), zap.Error(err))
		writeErrorResponse(w, h.logger, http.StatusInternalServerError, "database_error", "Failed to record payment intent")
		return
	}

	writeJSONResponse(w, h.logger, http.StatusCreated, IntentResponse{
		OrderID:     orderID,
		TokenSymbol: symbol,
		AmountVND:   req.AmountVND,
		Rate:        rate,
		AmountToken: amountToken.String(),
	})
}

// toSmallestUnit scales a whole-token amount to the token's smallest unit.
func toSmallestUnit(amount float64, decimals int) *big.Int {
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	scaled := new(big.Float).Mul(big.NewFloat(amount), new(big.Float).SetInt(scale))
	result, _ := scaled.Int(nil)
	return result
}
