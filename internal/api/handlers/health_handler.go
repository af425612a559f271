package handlers

import (
	"net/http"

	"perpetual/internal/service"
)

// HealthResponse - ответ /health
type HealthResponse struct {
	Status  string `json:"status"`
	Solvent bool   `json:"solvent"`
	Details string `json:"details,omitempty"`
}

// HealthHandler - проверка живости и платежеспособности
type HealthHandler struct {
	trading service.TradingServiceInterface
}

// NewHealthHandler создает новый HealthHandler
func NewHealthHandler(trading service.TradingServiceInterface) *HealthHandler {
	return &HealthHandler{trading: trading}
}

// Health сверяет баланс хранилища с заблокированным залогом
// GET /health
//
// Responses:
// - 200 OK: хранилище покрывает залог
// - 503 Service Unavailable: нарушена платежеспособность
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	if h.trading == nil {
		respondWithJSON(w, http.StatusOK, HealthResponse{Status: "ok", Solvent: true})
		return
	}
	if err := h.trading.CheckSolvency(r.Context()); err != nil {
		respondWithJSON(w, http.StatusServiceUnavailable, HealthResponse{Status: "degraded", Details: err.Error()})
		return
	}
	respondWithJSON(w, http.StatusOK, HealthResponse{Status: "ok", Solvent: true})
}
