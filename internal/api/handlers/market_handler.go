package handlers

import (
	"net/http"

	"perpetual/internal/service"
)

// MarketHandler обрабатывает HTTP запросы для рынков
type MarketHandler struct {
	trading service.TradingServiceInterface
}

// NewMarketHandler создает новый MarketHandler
func NewMarketHandler(trading service.TradingServiceInterface) *MarketHandler {
	return &MarketHandler{trading: trading}
}

// ListMarkets возвращает все рынки с параметрами риска
// GET /api/v1/markets
func (h *MarketHandler) ListMarkets(w http.ResponseWriter, r *http.Request) {
	markets := h.trading.Markets()
	respondWithJSON(w, http.StatusOK, ListResponse{Items: markets, Total: len(markets)})
}

// GetMarket возвращает рынок по символу
// GET /api/v1/markets/{base}/{quote}
//
// Responses:
// - 200 OK: рынок
// - 400 Bad Request: невалидный символ
// - 404 Not Found: рынок не найден
func (h *MarketHandler) GetMarket(w http.ResponseWriter, r *http.Request) {
	market, err := h.trading.Market(symbolFromPath(r))
	if err != nil {
		respondWithError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, market)
}

// UpdateFunding пересчитывает ставку фандинга рынка. Вызов доступен любому,
// частоту ограничивает FUNDING_INTERVAL.
// POST /api/v1/markets/{base}/{quote}/funding
//
// Responses:
// - 200 OK: рынок с новой ставкой
// - 404 Not Found: рынок не найден
// - 429 Too Many Requests: интервал фандинга не истёк
// - 503 Service Unavailable: цена недоступна
func (h *MarketHandler) UpdateFunding(w http.ResponseWriter, r *http.Request) {
	market, err := h.trading.UpdateFunding(r.Context(), symbolFromPath(r))
	if err != nil {
		respondWithError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, market)
}
