package engine

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"perpetual/internal/models"
	"perpetual/pkg/utils"
)

// FundingEngine - ставка фандинга и накопленный индекс рынков
//
// Ставка (bp за FundingInterval) пропорциональна дисбалансу открытого
// интереса: (long - short) * MaxFundingRateBps / (long + short).
// Индекс растёт на rate * elapsed / FundingInterval. Рост индекса
// означает, что лонги платят шортам.
type FundingEngine struct {
	cfg     Config
	markets *MarketRegistry
}

// NewFundingEngine создаёт движок фандинга
func NewFundingEngine(cfg Config, markets *MarketRegistry) *FundingEngine {
	return &FundingEngine{cfg: cfg, markets: markets}
}

// ComputeRate возвращает ставку по открытому интересу (0 при нулевом интересе),
// округлённую к нулю до целых bp
func (f *FundingEngine) ComputeRate(oiLong, oiShort decimal.Decimal) int64 {
	total := oiLong.Add(oiShort)
	if total.IsZero() {
		return 0
	}
	imbalance := oiLong.Sub(oiShort)
	return utils.MulDiv(imbalance, decimal.NewFromInt(f.cfg.MaxFundingRateBps), total).Truncate(0).IntPart()
}

// Update пересчитывает ставку рынка и продвигает индекс на момент now.
// Вызовы чаще FundingMinInterval отклоняются ErrFundingTooSoon.
func (f *FundingEngine) Update(symbol string, now time.Time) (*models.Market, error) {
	return f.markets.updateFunding(symbol, func(m *models.Market) error {
		elapsed := now.Sub(m.LastFundingTime)
		if elapsed < 0 {
			elapsed = 0
		}
		if f.cfg.FundingMinInterval > 0 && elapsed < f.cfg.FundingMinInterval {
			return fmt.Errorf("%w: %s, next update in %s", ErrFundingTooSoon, symbol, f.cfg.FundingMinInterval-elapsed)
		}

		rate := f.ComputeRate(m.OpenInterestLong, m.OpenInterestShort)
		accrued := utils.MulDiv(
			decimal.NewFromInt(rate),
			decimal.NewFromInt(elapsed.Milliseconds()),
			decimal.NewFromInt(f.cfg.FundingInterval.Milliseconds()),
		)

		m.FundingRate = rate
		m.CumulativeFundingIndex = m.CumulativeFundingIndex.Add(accrued)
		m.LastFundingTime = now
		FundingRate.WithLabelValues(symbol).Set(float64(rate))
		return nil
	})
}

// Payment - платёж фандинга позиции со знаком (для лонга отрицателен при росте индекса):
// raw = (index - entryIndex) * size / 10000; long -> -raw, short -> +raw
func (f *FundingEngine) Payment(p *models.Position) (decimal.Decimal, error) {
	m, err := f.markets.Get(p.Symbol)
	if err != nil {
		return decimal.Zero, err
	}
	return FundingPayment(p, m.CumulativeFundingIndex), nil
}

// FundingPayment считает платёж фандинга при заданном индексе
func FundingPayment(p *models.Position, index decimal.Decimal) decimal.Decimal {
	raw := utils.MulDiv(index.Sub(p.FundingIndexAtEntry), p.Size, utils.BPS)
	if p.IsLong {
		return raw.Neg()
	}
	return raw
}
