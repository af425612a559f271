package handlers

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	jsoniter "github.com/json-iterator/go"

	"perpetual/internal/engine"
	"perpetual/internal/insurance"
	"perpetual/internal/keeper"
	"perpetual/internal/oracle"
	"perpetual/internal/service"
	"perpetual/pkg/utils"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// TraderHeader - заголовок с адресом вызывающего (трейдер, ликвидатор, участник фонда).
// На изменяющих маршрутах его подлинность проверяет middleware.TraderSignature.
const TraderHeader = "X-Trader-Address"

// maxBodyBytes - ограничение размера тела запроса
const maxBodyBytes = 1 << 20

// ErrorResponse стандартный формат ответа об ошибке для всех API endpoints
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

// SuccessResponse стандартный формат успешного ответа
type SuccessResponse struct {
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// ListResponse - список с общим количеством
type ListResponse struct {
	Items interface{} `json:"items"`
	Total int         `json:"total"`
}

// Коды ошибок в ErrorResponse.Code
const (
	CodeValidation   = "VALIDATION_ERROR"
	CodeUnauthorized = "UNAUTHORIZED"
	CodeNotFound     = "NOT_FOUND"
	CodeConflict     = "CONFLICT"
	CodeRejected     = "REJECTED"
	CodeRateLimited  = "RATE_LIMITED"
	CodeUnavailable  = "UNAVAILABLE"
	CodeInternal     = "INTERNAL_ERROR"
)

// errorMapping - категория ошибки -> HTTP статус. Порядок важен:
// первая совпавшая категория определяет ответ.
var errorMapping = []struct {
	target error
	status int
	code   string
}{
	{engine.ErrValidation, http.StatusBadRequest, CodeValidation},
	{oracle.ErrInvalidPeriod, http.StatusBadRequest, CodeValidation},
	{insurance.ErrInvalidAmount, http.StatusBadRequest, CodeValidation},

	{engine.ErrUnauthorized, http.StatusForbidden, CodeUnauthorized},
	{insurance.ErrNotGovernance, http.StatusForbidden, CodeUnauthorized},
	{insurance.ErrUnauthorizedClaimant, http.StatusForbidden, CodeUnauthorized},

	{engine.ErrNotFound, http.StatusNotFound, CodeNotFound},
	{engine.ErrPositionNotFound, http.StatusNotFound, CodeNotFound},
	{insurance.ErrClaimNotFound, http.StatusNotFound, CodeNotFound},

	{engine.ErrConflict, http.StatusConflict, CodeConflict},
	{engine.ErrReentrancyDetected, http.StatusConflict, CodeConflict},
	{insurance.ErrInvalidClaimTransition, http.StatusConflict, CodeConflict},

	{engine.ErrRiskRejected, http.StatusUnprocessableEntity, CodeRejected},
	{engine.ErrMarginUnsafe, http.StatusUnprocessableEntity, CodeRejected},
	{engine.ErrInsufficientFunds, http.StatusUnprocessableEntity, CodeRejected},
	{insurance.ErrClaimTooLarge, http.StatusUnprocessableEntity, CodeRejected},
	{insurance.ErrInsufficientBalance, http.StatusUnprocessableEntity, CodeRejected},
	{insurance.ErrRefundTooLarge, http.StatusUnprocessableEntity, CodeRejected},
	{insurance.ErrNoContributors, http.StatusUnprocessableEntity, CodeRejected},

	{engine.ErrRateLimited, http.StatusTooManyRequests, CodeRateLimited},
	{insurance.ErrDistributionTooSoon, http.StatusTooManyRequests, CodeRateLimited},

	{engine.ErrInvalidPrice, http.StatusServiceUnavailable, CodeUnavailable},
	{oracle.ErrInsufficientSources, http.StatusServiceUnavailable, CodeUnavailable},
	{oracle.ErrNoPriceHistory, http.StatusServiceUnavailable, CodeUnavailable},
	{oracle.ErrUnknownSymbol, http.StatusServiceUnavailable, CodeUnavailable},
	{engine.ErrExecutionFailed, http.StatusServiceUnavailable, CodeUnavailable},
	{keeper.ErrPayoutFailed, http.StatusServiceUnavailable, CodeUnavailable},
	{service.ErrUnavailable, http.StatusServiceUnavailable, CodeUnavailable},
}

// StatusFor возвращает HTTP статус и код для ошибки
func StatusFor(err error) (int, string) {
	for _, m := range errorMapping {
		if errors.Is(err, m.target) {
			return m.status, m.code
		}
	}
	return http.StatusInternalServerError, CodeInternal
}

// respondWithJSON отправляет JSON ответ
func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(payload)
}

// respondWithError отправляет ErrorResponse со статусом по категории ошибки
func respondWithError(w http.ResponseWriter, err error) {
	status, code := StatusFor(err)
	resp := ErrorResponse{Error: http.StatusText(status), Code: code, Details: err.Error()}
	if status == http.StatusInternalServerError {
		utils.L().Error("request failed", utils.Err(err))
		resp.Details = ""
	}
	respondWithJSON(w, status, resp)
}

// respondWithMessage отправляет ErrorResponse с явным статусом
func respondWithMessage(w http.ResponseWriter, status int, code, details string) {
	respondWithJSON(w, status, ErrorResponse{Error: http.StatusText(status), Code: code, Details: details})
}

// decodeJSON разбирает тело запроса. Неизвестные поля - ошибка валидации.
func decodeJSON(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: invalid request body: %v", engine.ErrValidation, err)
	}
	return nil
}

// callerAddress извлекает адрес вызывающего из X-Trader-Address
func callerAddress(r *http.Request) (common.Address, error) {
	raw := r.Header.Get(TraderHeader)
	if raw == "" {
		return common.Address{}, fmt.Errorf("%w: %s header is required", engine.ErrValidation, TraderHeader)
	}
	addr, err := utils.ParseAddress(raw)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", engine.ErrValidation, err)
	}
	return addr, nil
}

// symbolFromPath собирает символ из {base}/{quote}: ETH/USD в пути - два сегмента
func symbolFromPath(r *http.Request) string {
	vars := mux.Vars(r)
	return strings.ToUpper(vars["base"] + "/" + vars["quote"])
}

// queryInt разбирает положительный целый параметр, fallback при отсутствии или ошибке
func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}
