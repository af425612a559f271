package engine

import (
	"errors"
	"fmt"
)

// Категории ошибок движка. Конкретные ошибки оборачивают категорию,
// поэтому errors.Is(err, ErrValidation) работает для всех ошибок валидации.
var (
	ErrValidation         = errors.New("validation error")
	ErrRiskRejected       = errors.New("risk check rejected")
	ErrInvalidPrice       = errors.New("invalid price")
	ErrPositionNotFound   = errors.New("position not found")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrReentrancyDetected = errors.New("reentrancy detected")
	ErrExecutionFailed    = errors.New("execution failed")
	ErrMarginUnsafe       = errors.New("margin unsafe")
	ErrRateLimited        = errors.New("rate limited")
	ErrNotFound           = errors.New("not found")
	ErrConflict           = errors.New("conflict")
)

// Конкретные ошибки
var (
	ErrInvalidSize       = fmt.Errorf("%w: size must be positive", ErrValidation)
	ErrInvalidCollateral = fmt.Errorf("%w: collateral must be positive", ErrValidation)
	ErrInvalidAmount     = fmt.Errorf("%w: amount must be positive", ErrValidation)
	ErrInvalidLeverage   = fmt.Errorf("%w: max leverage must be positive", ErrValidation)
	ErrInvalidSlippage   = fmt.Errorf("%w: slippage must be within [0, 10000] bps", ErrValidation)
	ErrMarketInactive    = fmt.Errorf("%w: market is not active", ErrValidation)
	ErrSlippageExceeded  = fmt.Errorf("%w: price moved beyond max slippage", ErrValidation)

	ErrNotOwner                = fmt.Errorf("%w: caller is not the position owner", ErrUnauthorized)
	ErrNotGovernance           = fmt.Errorf("%w: caller is not governance", ErrUnauthorized)
	ErrLiquidatorNotRegistered = fmt.Errorf("%w: liquidator not registered", ErrUnauthorized)
	ErrLiquidatorInactive      = fmt.Errorf("%w: liquidator is inactive", ErrUnauthorized)

	ErrMarketNotFound   = fmt.Errorf("%w: market", ErrNotFound)
	ErrMarketExists     = fmt.Errorf("%w: market already exists", ErrConflict)
	ErrLiquidatorExists = fmt.Errorf("%w: liquidator already registered", ErrConflict)
	ErrNotLiquidatable  = fmt.Errorf("%w: position is not liquidatable", ErrConflict)

	ErrFundingTooSoon       = fmt.Errorf("%w: funding updated too recently", ErrRateLimited)
	ErrLiquidationThrottled = fmt.Errorf("%w: liquidation limit for market reached", ErrRateLimited)
)
