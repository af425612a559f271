package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"perpetual/internal/service"
)

// LiquidationHandler обрабатывает HTTP запросы ликвидаторов
type LiquidationHandler struct {
	trading service.TradingServiceInterface
}

// NewLiquidationHandler создает новый LiquidationHandler
func NewLiquidationHandler(trading service.TradingServiceInterface) *LiquidationHandler {
	return &LiquidationHandler{trading: trading}
}

// RegisterLiquidator регистрирует вызывающего как ликвидатора
// POST /api/v1/liquidators
//
// Responses:
// - 201 Created: профиль ликвидатора
// - 409 Conflict: уже зарегистрирован
func (h *LiquidationHandler) RegisterLiquidator(w http.ResponseWriter, r *http.Request) {
	caller, err := callerAddress(r)
	if err != nil {
		respondWithError(w, err)
		return
	}

	info, err := h.trading.RegisterLiquidator(r.Context(), caller)
	if err != nil {
		respondWithError(w, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, info)
}

// ListLiquidators возвращает всех зарегистрированных ликвидаторов
// GET /api/v1/liquidators
func (h *LiquidationHandler) ListLiquidators(w http.ResponseWriter, r *http.Request) {
	list := h.trading.Liquidators()
	respondWithJSON(w, http.StatusOK, ListResponse{Items: list, Total: len(list)})
}

// GetLiquidator возвращает статистику ликвидатора
// GET /api/v1/liquidators/{address}
func (h *LiquidationHandler) GetLiquidator(w http.ResponseWriter, r *http.Request) {
	info, err := h.trading.Liquidator(mux.Vars(r)["address"])
	if err != nil {
		respondWithError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, info)
}

// Liquidate ликвидирует позицию от имени вызывающего
// POST /api/v1/positions/{id}/liquidate
//
// Responses:
// - 200 OK: итог ликвидации
// - 403 Forbidden: ликвидатор не зарегистрирован или неактивен
// - 409 Conflict: позиция не подлежит ликвидации
// - 429 Too Many Requests: cooldown ликвидатора
func (h *LiquidationHandler) Liquidate(w http.ResponseWriter, r *http.Request) {
	caller, err := callerAddress(r)
	if err != nil {
		respondWithError(w, err)
		return
	}

	result, err := h.trading.Liquidate(r.Context(), caller, mux.Vars(r)["id"])
	if err != nil {
		respondWithError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, result)
}

// EstimateLiquidation рассчитывает итог ликвидации без изменения состояния
// GET /api/v1/positions/{id}/liquidation
func (h *LiquidationHandler) EstimateLiquidation(w http.ResponseWriter, r *http.Request) {
	caller, err := callerAddress(r)
	if err != nil {
		respondWithError(w, err)
		return
	}

	result, err := h.trading.EstimateLiquidation(r.Context(), caller, mux.Vars(r)["id"])
	if err != nil {
		respondWithError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, result)
}
