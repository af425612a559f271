package models

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// LiquidatorInfo - статистика зарегистрированного ликвидатора
type LiquidatorInfo struct {
	Address             common.Address  `json:"address"`
	IsActive            bool            `json:"is_active"`
	TotalLiquidations   uint64          `json:"total_liquidations"`
	FailedAttempts      uint64          `json:"failed_attempts"`
	TotalRewards        decimal.Decimal `json:"total_rewards"`
	SuccessRate         int64           `json:"success_rate_bps"` // EMA 9:1, bp
	LastLiquidationTime time.Time       `json:"last_liquidation_time"`
	RegisteredAt        time.Time       `json:"registered_at"`
}

// InitialSuccessRate - successRate нового ликвидатора (100%)
const InitialSuccessRate = 10000

// RecordAttempt обновляет successRate как EMA с весами 9:1
func (l *LiquidatorInfo) RecordAttempt(success bool) {
	sample := int64(0)
	if success {
		sample = 10000
	}
	l.SuccessRate = (l.SuccessRate*9 + sample) / 10
}
