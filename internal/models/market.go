package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Market представляет бессрочный рынок (один символ)
type Market struct {
	Symbol                 string          `json:"symbol" db:"symbol"` // ETH/USD
	MaxLeverage            int64           `json:"max_leverage" db:"max_leverage"`
	FundingRate            int64           `json:"funding_rate_bps" db:"funding_rate"` // bp за FUNDING_INTERVAL, со знаком
	LastFundingTime        time.Time       `json:"last_funding_time" db:"last_funding_time"`
	OpenInterestLong       decimal.Decimal `json:"open_interest_long" db:"open_interest_long"`
	OpenInterestShort      decimal.Decimal `json:"open_interest_short" db:"open_interest_short"`
	CumulativeFundingIndex decimal.Decimal `json:"cumulative_funding_index" db:"cumulative_funding_index"` // в bp
	IsActive               bool            `json:"is_active" db:"is_active"`
	CreatedAt              time.Time       `json:"created_at" db:"created_at"`
}

// Clone возвращает копию рынка
func (m *Market) Clone() *Market {
	if m == nil {
		return nil
	}
	c := *m
	return &c
}

// RiskParameters - параметры риска рынка. Все *Ratio в базисных пунктах.
//
// Параметры считаются заданными только если MaxLeverage > 0, иначе
// применяются DefaultRiskParameters.
type RiskParameters struct {
	InitialMarginRatio     int64           `json:"initial_margin_ratio" yaml:"initial_margin_ratio" db:"initial_margin_ratio"`
	MaintenanceMarginRatio int64           `json:"maintenance_margin_ratio" yaml:"maintenance_margin_ratio" db:"maintenance_margin_ratio"`
	LiquidationFeeRatio    int64           `json:"liquidation_fee_ratio" yaml:"liquidation_fee_ratio" db:"liquidation_fee_ratio"`
	InsuranceFeeRatio      int64           `json:"insurance_fee_ratio" yaml:"insurance_fee_ratio" db:"insurance_fee_ratio"`
	MaxLeverage            int64           `json:"max_leverage" yaml:"max_leverage" db:"max_leverage"`
	MaxPositionSize        decimal.Decimal `json:"max_position_size" yaml:"max_position_size" db:"max_position_size"`
	LiquidationThreshold   int64           `json:"liquidation_threshold" yaml:"liquidation_threshold" db:"liquidation_threshold"`
	MaxLiquidationRatio    int64           `json:"max_liquidation_ratio" yaml:"max_liquidation_ratio" db:"max_liquidation_ratio"`
}

// ErrInvalidRiskParameters - параметры не прошли валидацию
var ErrInvalidRiskParameters = errors.New("invalid risk parameters")

// DefaultRiskParameters - параметры по умолчанию
//
// IMR 10%, MMR 5%, комиссия ликвидатору 1%, страховой фонд 0.5%,
// плечо 10x, частичная ликвидация до 50% позиции при ratio >= 3%.
func DefaultRiskParameters() RiskParameters {
	return RiskParameters{
		InitialMarginRatio:     1000,
		MaintenanceMarginRatio: 500,
		LiquidationFeeRatio:    100,
		InsuranceFeeRatio:      50,
		MaxLeverage:            10,
		MaxPositionSize:        decimal.NewFromInt(1_000_000),
		LiquidationThreshold:   300,
		MaxLiquidationRatio:    5000,
	}
}

// IsSet - параметры заданы (сентинел: MaxLeverage > 0)
func (p RiskParameters) IsSet() bool {
	return p.MaxLeverage > 0
}

// Validate проверяет initial > maintenance > 0 и диапазоны остальных полей
func (p RiskParameters) Validate() error {
	if p.MaintenanceMarginRatio <= 0 {
		return fmt.Errorf("%w: maintenance margin ratio must be positive", ErrInvalidRiskParameters)
	}
	if p.InitialMarginRatio <= p.MaintenanceMarginRatio {
		return fmt.Errorf("%w: initial margin ratio must exceed maintenance", ErrInvalidRiskParameters)
	}
	if p.InitialMarginRatio > 10000 {
		return fmt.Errorf("%w: initial margin ratio above 100%%", ErrInvalidRiskParameters)
	}
	if p.MaxLeverage <= 0 {
		return fmt.Errorf("%w: max leverage must be positive", ErrInvalidRiskParameters)
	}
	if !p.MaxPositionSize.IsPositive() {
		return fmt.Errorf("%w: max position size must be positive", ErrInvalidRiskParameters)
	}
	if p.LiquidationFeeRatio < 0 || p.InsuranceFeeRatio < 0 || p.LiquidationFeeRatio+p.InsuranceFeeRatio >= 10000 {
		return fmt.Errorf("%w: fee ratios out of range", ErrInvalidRiskParameters)
	}
	if p.LiquidationThreshold < 0 || p.LiquidationThreshold > p.MaintenanceMarginRatio {
		return fmt.Errorf("%w: liquidation threshold must be within [0, maintenance]", ErrInvalidRiskParameters)
	}
	if p.MaxLiquidationRatio <= 0 || p.MaxLiquidationRatio > 10000 {
		return fmt.Errorf("%w: max liquidation ratio must be within (0, 10000]", ErrInvalidRiskParameters)
	}
	return nil
}

// MarketSeed - начальная конфигурация рынка из YAML файла
type MarketSeed struct {
	Symbol         string          `yaml:"symbol" json:"symbol"`
	MaxLeverage    int64           `yaml:"max_leverage" json:"max_leverage"`
	Active         *bool           `yaml:"active,omitempty" json:"active,omitempty"` // nil - активен
	RiskParameters *RiskParameters `yaml:"risk_parameters,omitempty" json:"risk_parameters,omitempty"`
}
