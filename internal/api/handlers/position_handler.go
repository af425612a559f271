package handlers

import (
	"context"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"

	"perpetual/internal/models"
	"perpetual/internal/service"
)

// PositionHandler обрабатывает HTTP запросы для позиций трейдеров.
// Адрес трейдера передаётся в заголовке X-Trader-Address.
type PositionHandler struct {
	trading service.TradingServiceInterface
	events  service.EventServiceInterface
}

// NewPositionHandler создает новый PositionHandler
func NewPositionHandler(trading service.TradingServiceInterface, events service.EventServiceInterface) *PositionHandler {
	return &PositionHandler{trading: trading, events: events}
}

// ListPositions возвращает открытые позиции, опционально по трейдеру
// GET /api/v1/positions?trader=0x...
func (h *PositionHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	positions, err := h.trading.ListPositions(r.URL.Query().Get("trader"))
	if err != nil {
		respondWithError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, ListResponse{Items: positions, Total: len(positions)})
}

// OpenPosition открывает позицию
// POST /api/v1/positions
//
// Request body: service.OpenPositionRequest
//
// Responses:
// - 201 Created: открытая позиция
// - 400 Bad Request: невалидные параметры, неактивный рынок, проскальзывание
// - 404 Not Found: рынок не найден
// - 422 Unprocessable Entity: отказ риск-проверки или недостаточно средств
// - 503 Service Unavailable: цена недоступна
func (h *PositionHandler) OpenPosition(w http.ResponseWriter, r *http.Request) {
	trader, err := callerAddress(r)
	if err != nil {
		respondWithError(w, err)
		return
	}

	var req service.OpenPositionRequest
	if err := decodeJSON(r, &req); err != nil {
		respondWithError(w, err)
		return
	}

	pos, err := h.trading.OpenPosition(r.Context(), trader, &req)
	if err != nil {
		respondWithError(w, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, pos)
}

// GetPosition возвращает позицию с текущей оценкой риска
// GET /api/v1/positions/{id}
func (h *PositionHandler) GetPosition(w http.ResponseWriter, r *http.Request) {
	risk, err := h.trading.GetPosition(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		respondWithError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, risk)
}

// ClosePosition закрывает позицию владельца. Тело запроса опционально.
// POST /api/v1/positions/{id}/close
//
// Responses:
// - 200 OK: итог закрытия (PnL, фандинг, комиссии, выплата)
// - 403 Forbidden: вызывающий не владелец
// - 404 Not Found: позиция не найдена
func (h *PositionHandler) ClosePosition(w http.ResponseWriter, r *http.Request) {
	trader, err := callerAddress(r)
	if err != nil {
		respondWithError(w, err)
		return
	}

	var req service.ClosePositionRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			respondWithError(w, err)
			return
		}
	}

	result, err := h.trading.ClosePosition(r.Context(), trader, mux.Vars(r)["id"], &req)
	if err != nil {
		respondWithError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, result)
}

// AddCollateral добавляет залог к позиции
// POST /api/v1/positions/{id}/collateral
func (h *PositionHandler) AddCollateral(w http.ResponseWriter, r *http.Request) {
	h.changeCollateral(w, r, h.trading.AddCollateral)
}

// RemoveCollateral выводит залог из позиции. Вывод, нарушающий
// initial margin, отклоняется с 422.
// POST /api/v1/positions/{id}/collateral/remove
func (h *PositionHandler) RemoveCollateral(w http.ResponseWriter, r *http.Request) {
	h.changeCollateral(w, r, h.trading.RemoveCollateral)
}

type collateralFunc func(ctx context.Context, trader common.Address, positionID string, req *service.AmountRequest) (*models.Position, error)

func (h *PositionHandler) changeCollateral(w http.ResponseWriter, r *http.Request, fn collateralFunc) {
	trader, err := callerAddress(r)
	if err != nil {
		respondWithError(w, err)
		return
	}

	var req service.AmountRequest
	if err := decodeJSON(r, &req); err != nil {
		respondWithError(w, err)
		return
	}

	pos, err := fn(r.Context(), trader, mux.Vars(r)["id"], &req)
	if err != nil {
		respondWithError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, pos)
}

// GetPositionEvents возвращает историю событий позиции из журнала
// GET /api/v1/positions/{id}/events
func (h *PositionHandler) GetPositionEvents(w http.ResponseWriter, r *http.Request) {
	events, err := h.events.GetPositionHistory(mux.Vars(r)["id"])
	if err != nil {
		respondWithError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, ListResponse{Items: events, Total: len(events)})
}
