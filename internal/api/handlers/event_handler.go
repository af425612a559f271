package handlers

import (
	"net/http"

	"perpetual/internal/service"
)

// EventHandler - чтение журнала событий
type EventHandler struct {
	events service.EventServiceInterface
}

// NewEventHandler создает новый EventHandler
func NewEventHandler(events service.EventServiceInterface) *EventHandler {
	return &EventHandler{events: events}
}

// ListEvents возвращает последние события, опционально по типу
// GET /api/v1/events?type=PositionOpened&limit=100
func (h *EventHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	events, err := h.events.GetRecent(r.URL.Query().Get("type"), queryInt(r, "limit", 0))
	if err != nil {
		respondWithError(w, err)
		return
	}

	total, err := h.events.Count()
	if err != nil {
		respondWithError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, ListResponse{Items: events, Total: total})
}
