package engine

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// Константы протокола
const (
	// FundingInterval - период, за который начисляется ставка фандинга
	FundingInterval = 8 * time.Hour

	// MaxFundingRateBps - ставка при полном дисбалансе открытого интереса
	MaxFundingRateBps = 100

	// PartialLiquidationBufferBps - частичная ликвидация восстанавливает
	// маржу до maintenance + 2%
	PartialLiquidationBufferBps = 200

	// Риск-скор трейдера
	MaxRiskScore             = 10000
	RiskScoreLiquidation     = 500
	RiskScoreHealthyClose    = 100
	HighRiskScoreThreshold   = 8000 // плечо не выше 5x, маржа +20%
	MediumRiskScoreThreshold = 6000 // плечо не выше 8x, маржа +10%
	HighRiskLeverageCap      = 5
	MediumRiskLeverageCap    = 8

	// DefaultReentryWait - сколько ждать внешний вызов чужой операции,
	// прежде чем считать ожидающего повторным входом
	DefaultReentryWait = 500 * time.Millisecond
)

// Config - параметры движка
type Config struct {
	// Governance - единственный принципал, которому доступны setters
	Governance common.Address
	// EngineAddress - адрес движка как заявителя страхового фонда
	EngineAddress common.Address

	FundingInterval    time.Duration
	FundingMinInterval time.Duration // не чаще одного обновления ставки на рынок
	MaxFundingRateBps  int64

	// HoldingFeeBpsPerDay - комиссия за удержание позиции (0 - выключена)
	HoldingFeeBpsPerDay int64

	MinReward decimal.Decimal
	MaxReward decimal.Decimal

	// Circuit breaker каскадных ликвидаций
	MaxLiquidationsPerWindow int
	LiquidationWindow        time.Duration

	// SettlePnLOnClose - выплачивать collateral+pnl+funding-fees вместо
	// исходного залога
	SettlePnLOnClose bool

	// TWAPPeriod - окно TWAP для проверки проскальзывания
	TWAPPeriod time.Duration

	// ReentryWait - см. Guard
	ReentryWait time.Duration
}

// DefaultConfig возвращает параметры по умолчанию
func DefaultConfig() Config {
	return Config{
		FundingInterval:          FundingInterval,
		FundingMinInterval:       time.Minute,
		MaxFundingRateBps:        MaxFundingRateBps,
		MinReward:                decimal.NewFromInt(1),
		MaxReward:                decimal.NewFromInt(10000),
		MaxLiquidationsPerWindow: 20,
		LiquidationWindow:        time.Minute,
		TWAPPeriod:               5 * time.Minute,
		ReentryWait:              DefaultReentryWait,
	}
}

func (c *Config) normalize() {
	if c.FundingInterval <= 0 {
		c.FundingInterval = FundingInterval
	}
	if c.MaxFundingRateBps <= 0 {
		c.MaxFundingRateBps = MaxFundingRateBps
	}
	if c.MaxReward.IsZero() {
		c.MaxReward = decimal.NewFromInt(10000)
	}
	if c.MinReward.GreaterThan(c.MaxReward) {
		c.MinReward = c.MaxReward
	}
	if c.LiquidationWindow <= 0 {
		c.LiquidationWindow = time.Minute
	}
	if c.TWAPPeriod <= 0 {
		c.TWAPPeriod = 5 * time.Minute
	}
	if c.ReentryWait <= 0 {
		c.ReentryWait = DefaultReentryWait
	}
}
