package handlers

import (
	"net/http"

	"perpetual/internal/service"
)

// KeeperHandler - управление ботом-ликвидатором
type KeeperHandler struct {
	trading service.TradingServiceInterface
}

// NewKeeperHandler создает новый KeeperHandler
func NewKeeperHandler(trading service.TradingServiceInterface) *KeeperHandler {
	return &KeeperHandler{trading: trading}
}

// GetTargets возвращает самые рискованные цели
// GET /api/v1/keeper/targets?limit=50
func (h *KeeperHandler) GetTargets(w http.ResponseWriter, r *http.Request) {
	targets, err := h.trading.KeeperTargets(queryInt(r, "limit", 0))
	if err != nil {
		respondWithError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, ListResponse{Items: targets, Total: len(targets)})
}

// RefreshTargets пересобирает список целей
// POST /api/v1/keeper/refresh
func (h *KeeperHandler) RefreshTargets(w http.ResponseWriter, r *http.Request) {
	result, err := h.trading.RefreshKeeperTargets(r.Context())
	if err != nil {
		respondWithError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, result)
}

// ExecuteLiquidations выполняет батч ликвидаций
// POST /api/v1/keeper/execute
//
// Request body: service.ExecuteLiquidationsRequest
//
// Responses:
// - 200 OK: итог батча (частичные отказы внутри результата)
// - 400 Bad Request: пустой батч или цена газа выше лимита
// - 503 Service Unavailable: кипер отключён
func (h *KeeperHandler) ExecuteLiquidations(w http.ResponseWriter, r *http.Request) {
	var req service.ExecuteLiquidationsRequest
	if err := decodeJSON(r, &req); err != nil {
		respondWithError(w, err)
		return
	}

	result, err := h.trading.ExecuteLiquidations(r.Context(), &req)
	if err != nil {
		respondWithError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, result)
}

// LastBatch возвращает итог последнего батча
// GET /api/v1/keeper/last-batch
func (h *KeeperHandler) LastBatch(w http.ResponseWriter, r *http.Request) {
	result, err := h.trading.LastKeeperBatch()
	if err != nil {
		respondWithError(w, err)
		return
	}
	if result == nil {
		respondWithMessage(w, http.StatusNotFound, CodeNotFound, "no batch executed yet")
		return
	}
	respondWithJSON(w, http.StatusOK, result)
}
