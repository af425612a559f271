package handlers

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"perpetual/internal/engine"
	"perpetual/internal/service"
)

const defaultTWAPPeriod = time.Hour

// TWAPResponse - ответ на запрос средней цены
type TWAPResponse struct {
	Symbol string          `json:"symbol"`
	Period string          `json:"period"`
	Price  decimal.Decimal `json:"price"`
}

// PriceHandler обрабатывает HTTP запросы к оракулу
type PriceHandler struct {
	trading service.TradingServiceInterface
}

// NewPriceHandler создает новый PriceHandler
func NewPriceHandler(trading service.TradingServiceInterface) *PriceHandler {
	return &PriceHandler{trading: trading}
}

// GetPrice возвращает агрегированную цену
// GET /api/v1/prices/{base}/{quote}
//
// Responses:
// - 200 OK: цена, уверенность, число источников
// - 503 Service Unavailable: недостаточно источников или символ неизвестен
func (h *PriceHandler) GetPrice(w http.ResponseWriter, r *http.Request) {
	price, err := h.trading.Price(r.Context(), symbolFromPath(r))
	if err != nil {
		respondWithError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, price)
}

// GetTWAP возвращает TWAP за период
// GET /api/v1/prices/{base}/{quote}/twap?period=1h
//
// period - длительность Go (15m, 1h) или число секунд; по умолчанию 1h.
func (h *PriceHandler) GetTWAP(w http.ResponseWriter, r *http.Request) {
	period, err := parsePeriod(r.URL.Query().Get("period"))
	if err != nil {
		respondWithError(w, err)
		return
	}

	symbol := symbolFromPath(r)
	price, err := h.trading.TWAP(r.Context(), symbol, period)
	if err != nil {
		respondWithError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, TWAPResponse{Symbol: symbol, Period: period.String(), Price: price})
}

func parsePeriod(raw string) (time.Duration, error) {
	if raw == "" {
		return defaultTWAPPeriod, nil
	}
	if secs, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid period %q", engine.ErrValidation, raw)
	}
	return d, nil
}
