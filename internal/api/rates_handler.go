package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"payrecon/internal/rates"
)

// RatesHandler exposes the exchange rate cache to the storefront and admins
type RatesHandler struct {
	cache  *rates.Cache
	logger *zap.Logger
}

func NewRatesHandler(cache *rates.Cache, logger *zap.Logger) *RatesHandler {
	return &RatesHandler{cache: cache, logger: logger}
}

// GetRates handles GET /api/rates
func (h *RatesHandler) GetRates(w http.ResponseWriter, r *http.Request) {
	snapshot := h.cache.Rates()
	writeJSONResponse(w, h.logger, http.StatusOK, RatesResponse{
		Rates:     snapshot.Rates,
		FetchedAt: snapshot.FetchedAt,
	})
}

// RefreshRates handles POST /api/rates/refresh (administrative force refresh)
func (h *RatesHandler) RefreshRates(w http.ResponseWriter, r *http.Request) {
	if err := h.cache.ForceRefresh(r.Context()); err != nil {
		h.logger.Error("Manual rate refresh failed", zap.Error(err))
		writeErrorResponse(w, h.logger, http.StatusBadGateway, "rate_source_unavailable", "Failed to fetch fresh rates; previous snapshot remains in effect")
		return
	}

	snapshot := h.cache.Rates()
	writeJSONResponse(w, h.logger, http.StatusOK, RatesResponse{
		Rates:     snapshot.Rates,
		FetchedAt: snapshot.FetchedAt,
	})
}

// Convert handles POST /api/rates/convert
func (h *RatesHandler) Convert(w http.ResponseWriter, r *http.Request) {
	var req ConvertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorResponse(w, h.logger, http.StatusBadRequest, "invalid_request_body", "Invalid JSON in request body")
		return
	}

	if req.Amount <= 0 {
		writeErrorResponse(w, h.logger, http.StatusBadRequest, "invalid_amount", "Amount must be positive")
		return
	}

	var direction rates.Direction
	switch strings.ToLower(req.Direction) {
	case "vnd_to_token":
		direction = rates.VNDToToken
	case "token_to_vnd":
		direction = rates.TokenToVND
	default:
		writeErrorResponse(w, h.logger, http.StatusBadRequest, "invalid_direction", "Direction must be vnd_to_token or token_to_vnd")
		return
	}

	symbol := strings.ToUpper(req.TokenSymbol)
	result, rate, err := h.cache.Convert(req.Amount, symbol, direction)
	if err != nil {
		writeErrorResponse(w, h.logger, http.StatusBadRequest, "unsupported_token", "No exchange rate for token "+symbol)
		return
	}

	writeJSONResponse(w, h.logger, http.StatusOK, ConvertResponse{
		Amount:      req.Amount,
		TokenSymbol: symbol,
		Direction:   strings.ToLower(req.Direction),
		Result:      result,
		Rate:        rate,
	})
}
