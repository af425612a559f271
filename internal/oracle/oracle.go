// Package oracle предоставляет цены рынков: агрегацию нескольких источников
// со взвешенным средним, фильтрацию устаревших и отклоняющихся котировок и TWAP.
package oracle

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Ошибки оракула
var (
	ErrUnknownSymbol       = errors.New("unknown symbol")
	ErrInsufficientSources = errors.New("insufficient valid price sources")
	ErrNoPriceHistory      = errors.New("no price history")
	ErrInvalidPeriod       = errors.New("twap period must be positive")
	ErrInvalidObservation  = errors.New("invalid price observation")
)

// Значения по умолчанию
const (
	DefaultMaxPriceAge     = time.Hour
	DefaultMinConfidence   = 80
	DefaultMinValidSources = 1
	DefaultMaxDeviationBps = 500
)

// PriceData - цена символа
//
// Price - 18 знаков фиксированной точки. IsValid == false если цена старше
// MAX_PRICE_AGE или confidence < MIN_CONFIDENCE.
type PriceData struct {
	Price      decimal.Decimal `json:"price"`
	Timestamp  time.Time       `json:"timestamp"`
	Confidence uint8           `json:"confidence"`
	IsValid    bool            `json:"is_valid"`
}

// PriceFeed - интерфейс цен, потребляемый движком
type PriceFeed interface {
	GetPrice(ctx context.Context, symbol string) (PriceData, error)
	GetTWAP(ctx context.Context, symbol string, period time.Duration) (decimal.Decimal, error)
}

// Source - отдельный источник котировок (биржа, REST-адаптер, ручной ввод)
type Source interface {
	Name() string
	Fetch(ctx context.Context, symbol string) (PriceData, error)
}

// Validity проверяет правило IsValid относительно now
func Validity(p PriceData, now time.Time, maxAge time.Duration, minConfidence uint8) bool {
	if !p.Price.IsPositive() {
		return false
	}
	if now.Sub(p.Timestamp) > maxAge {
		return false
	}
	return p.Confidence >= minConfidence
}
