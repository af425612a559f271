package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"perpetual/internal/engine"
	"perpetual/internal/models"
	"perpetual/internal/service"
)

// ActiveRequest - включение/выключение рынка или ликвидатора
type ActiveRequest struct {
	Active *bool `json:"active"`
}

// ClaimantRequest - права заявителя страхового фонда
type ClaimantRequest struct {
	Allowed *bool `json:"allowed"`
}

// GovernanceHandler обрабатывает действия governance.
// Аутентификация выполняется middleware.GovernanceAuth до вызова хендлера.
type GovernanceHandler struct {
	governance service.GovernanceServiceInterface
}

// NewGovernanceHandler создает новый GovernanceHandler
func NewGovernanceHandler(governance service.GovernanceServiceInterface) *GovernanceHandler {
	return &GovernanceHandler{governance: governance}
}

// AddMarket создает рынок
// POST /api/v1/governance/markets
//
// Request body: service.AddMarketRequest
//
// Responses:
// - 201 Created: рынок с параметрами риска
// - 400 Bad Request: невалидный символ, плечо или параметры
// - 409 Conflict: рынок уже существует
// - 500 Internal Server Error: рынок создан, но не сохранён в БД
func (h *GovernanceHandler) AddMarket(w http.ResponseWriter, r *http.Request) {
	var req service.AddMarketRequest
	if err := decodeJSON(r, &req); err != nil {
		respondWithError(w, err)
		return
	}

	market, err := h.governance.AddMarket(r.Context(), &req)
	if err != nil {
		respondWithError(w, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, market)
}

// SetRiskParameters заменяет параметры риска рынка
// PUT /api/v1/governance/markets/{base}/{quote}/risk
func (h *GovernanceHandler) SetRiskParameters(w http.ResponseWriter, r *http.Request) {
	var params models.RiskParameters
	if err := decodeJSON(r, &params); err != nil {
		respondWithError(w, err)
		return
	}

	market, err := h.governance.SetRiskParameters(r.Context(), symbolFromPath(r), params)
	if err != nil {
		respondWithError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, market)
}

// SetMarketActive включает или выключает рынок
// PUT /api/v1/governance/markets/{base}/{quote}/active
func (h *GovernanceHandler) SetMarketActive(w http.ResponseWriter, r *http.Request) {
	active, err := decodeActive(r)
	if err != nil {
		respondWithError(w, err)
		return
	}

	market, err := h.governance.SetMarketActive(r.Context(), symbolFromPath(r), active)
	if err != nil {
		respondWithError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, market)
}

// SetLiquidatorActive включает или выключает ликвидатора
// PUT /api/v1/governance/liquidators/{address}/active
func (h *GovernanceHandler) SetLiquidatorActive(w http.ResponseWriter, r *http.Request) {
	active, err := decodeActive(r)
	if err != nil {
		respondWithError(w, err)
		return
	}

	info, err := h.governance.SetLiquidatorActive(r.Context(), mux.Vars(r)["address"], active)
	if err != nil {
		respondWithError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, info)
}

// AuthorizeClaimant выдает или отзывает право подавать заявки в фонд
// PUT /api/v1/governance/claimants/{address}
func (h *GovernanceHandler) AuthorizeClaimant(w http.ResponseWriter, r *http.Request) {
	var req ClaimantRequest
	if err := decodeJSON(r, &req); err != nil {
		respondWithError(w, err)
		return
	}
	if req.Allowed == nil {
		respondWithError(w, fmt.Errorf("%w: allowed is required", engine.ErrValidation))
		return
	}

	address := mux.Vars(r)["address"]
	if err := h.governance.AuthorizeClaimant(address, *req.Allowed); err != nil {
		respondWithError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, SuccessResponse{Message: "claimant updated", Data: map[string]interface{}{
		"address": address,
		"allowed": *req.Allowed,
	}})
}

// ApproveClaim одобряет заявку
// POST /api/v1/governance/claims/{id}/approve
func (h *GovernanceHandler) ApproveClaim(w http.ResponseWriter, r *http.Request) {
	h.claimAction(w, r, h.governance.ApproveClaim)
}

// RejectClaim отклоняет заявку
// POST /api/v1/governance/claims/{id}/reject
func (h *GovernanceHandler) RejectClaim(w http.ResponseWriter, r *http.Request) {
	h.claimAction(w, r, h.governance.RejectClaim)
}

// PayClaim выплачивает одобренную заявку
// POST /api/v1/governance/claims/{id}/pay
//
// Responses:
// - 200 OK: выплаченная заявка
// - 404 Not Found: заявка не найдена
// - 409 Conflict: заявка не одобрена
// - 422 Unprocessable Entity: баланс фонда недостаточен
func (h *GovernanceHandler) PayClaim(w http.ResponseWriter, r *http.Request) {
	h.claimAction(w, r, h.governance.PayClaim)
}

type claimFunc func(ctx context.Context, id uint64) (*models.InsuranceClaim, error)

func (h *GovernanceHandler) claimAction(w http.ResponseWriter, r *http.Request, fn claimFunc) {
	id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	if err != nil || id == 0 {
		respondWithError(w, fmt.Errorf("%w: invalid claim id", engine.ErrValidation))
		return
	}

	claim, err := fn(r.Context(), id)
	if err != nil {
		respondWithError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, claim)
}

// SetManualPrice публикует цену ручного источника оракула
// PUT /api/v1/governance/prices/{base}/{quote}
func (h *GovernanceHandler) SetManualPrice(w http.ResponseWriter, r *http.Request) {
	var req service.ManualPriceRequest
	if err := decodeJSON(r, &req); err != nil {
		respondWithError(w, err)
		return
	}

	symbol := symbolFromPath(r)
	if err := h.governance.SetManualPrice(symbol, &req); err != nil {
		respondWithError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, SuccessResponse{Message: "price updated", Data: map[string]string{
		"symbol": symbol,
		"price":  req.Price,
	}})
}

func decodeActive(r *http.Request) (bool, error) {
	var req ActiveRequest
	if err := decodeJSON(r, &req); err != nil {
		return false, err
	}
	if req.Active == nil {
		return false, fmt.Errorf("%w: active is required", engine.ErrValidation)
	}
	return *req.Active, nil
}
