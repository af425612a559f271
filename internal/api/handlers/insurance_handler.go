package handlers

import (
	"net/http"

	"perpetual/internal/service"
)

// InsuranceHandler обрабатывает HTTP запросы страхового фонда
type InsuranceHandler struct {
	trading service.TradingServiceInterface
}

// NewInsuranceHandler создает новый InsuranceHandler
func NewInsuranceHandler(trading service.TradingServiceInterface) *InsuranceHandler {
	return &InsuranceHandler{trading: trading}
}

// GetStatus возвращает баланс, покрытие и показатели фонда
// GET /api/v1/insurance
func (h *InsuranceHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.trading.InsuranceStatus()
	if err != nil {
		respondWithError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, status)
}

// Contribute вносит средства вызывающего в фонд
// POST /api/v1/insurance/contributions
//
// Request body: {"amount": "100"}
//
// Responses:
// - 201 Created: новое состояние фонда
// - 400 Bad Request: невалидная сумма
// - 422 Unprocessable Entity: недостаточно средств у вызывающего
func (h *InsuranceHandler) Contribute(w http.ResponseWriter, r *http.Request) {
	caller, err := callerAddress(r)
	if err != nil {
		respondWithError(w, err)
		return
	}

	var req service.AmountRequest
	if err := decodeJSON(r, &req); err != nil {
		respondWithError(w, err)
		return
	}

	status, err := h.trading.Contribute(r.Context(), caller, &req)
	if err != nil {
		respondWithError(w, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, status)
}

// ListClaims возвращает заявки фонда
// GET /api/v1/insurance/claims?status=PENDING
func (h *InsuranceHandler) ListClaims(w http.ResponseWriter, r *http.Request) {
	claims, err := h.trading.Claims(r.URL.Query().Get("status"))
	if err != nil {
		respondWithError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, ListResponse{Items: claims, Total: len(claims)})
}

// DistributeRewards распределяет вознаграждения участникам
// POST /api/v1/insurance/distribute
//
// Responses:
// - 200 OK: выплаты по участникам
// - 422 Unprocessable Entity: нет участников или излишка
// - 429 Too Many Requests: период распределения не истёк
func (h *InsuranceHandler) DistributeRewards(w http.ResponseWriter, r *http.Request) {
	payouts, err := h.trading.DistributeRewards(r.Context())
	if err != nil {
		respondWithError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, ListResponse{Items: payouts, Total: len(payouts)})
}
