package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"perpetual/internal/models"
	"perpetual/internal/oracle"
	"perpetual/pkg/utils"
)

// day - период HoldingFeeBpsPerDay
const day = 24 * time.Hour

// Assessment - оценка позиции при конкретной цене
type Assessment struct {
	Price       decimal.Decimal   `json:"price"`
	PnL         decimal.Decimal   `json:"pnl"`
	Funding     decimal.Decimal   `json:"funding"`
	Fees        decimal.Decimal   `json:"accrued_fees"`
	Equity      decimal.Decimal   `json:"effective_collateral"`
	MarginRatio int64             `json:"margin_ratio_bps"`
	Status      models.RiskStatus `json:"status"`
}

// RiskEngine - маржа, условия ликвидации, pre-trade проверки и риск-скоры трейдеров
//
// Функции:
//   - CanOpenPosition - проверка плеча, размера и начальной маржи
//   - CalculateMarginRatio / CheckLiquidation / IsPositionHealthy
//   - CalculateLiquidationPrice - обращение формулы маржи относительно цены
type RiskEngine struct {
	cfg     Config
	markets *MarketRegistry
	store   *PositionStore
	funding *FundingEngine
	feed    oracle.PriceFeed
	clock   utils.Clock

	mu     sync.RWMutex
	scores map[common.Address]int64
}

// NewRiskEngine создаёт движок риска
func NewRiskEngine(cfg Config, markets *MarketRegistry, store *PositionStore, funding *FundingEngine, feed oracle.PriceFeed, clock utils.Clock) *RiskEngine {
	return &RiskEngine{
		cfg:     cfg,
		markets: markets,
		store:   store,
		funding: funding,
		feed:    feed,
		clock:   utils.ClockOrSystem(clock),
		scores:  make(map[common.Address]int64),
	}
}

// ============ Цена ============

// Price возвращает валидную цену символа или ErrInvalidPrice
func (r *RiskEngine) Price(ctx context.Context, symbol string) (decimal.Decimal, error) {
	p, err := r.feed.GetPrice(ctx, symbol)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %s: %v", ErrInvalidPrice, symbol, err)
	}
	if !p.IsValid || !p.Price.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: %s: stale or low-confidence price", ErrInvalidPrice, symbol)
	}
	return p.Price, nil
}

// ============ Формулы ============

// CalculatePnL - (price-entry)*size/entry для лонга, (entry-price)*size/entry для шорта
func CalculatePnL(p *models.Position, price decimal.Decimal) decimal.Decimal {
	diff := price.Sub(p.EntryPrice)
	if !p.IsLong {
		diff = diff.Neg()
	}
	return utils.MulDiv(diff, p.Size, p.EntryPrice)
}

// AccruedFees - комиссия удержания size * feeBpsPerDay * elapsed / (10000 * day)
func (r *RiskEngine) AccruedFees(p *models.Position, now time.Time) decimal.Decimal {
	if r.cfg.HoldingFeeBpsPerDay <= 0 {
		return decimal.Zero
	}
	elapsed := now.Sub(p.EntryTime)
	if elapsed <= 0 {
		return decimal.Zero
	}
	num := p.Size.Mul(decimal.NewFromInt(r.cfg.HoldingFeeBpsPerDay)).Mul(decimal.NewFromInt(elapsed.Milliseconds()))
	den := utils.BPS.Mul(decimal.NewFromInt(day.Milliseconds()))
	return utils.Div(num, den)
}

// MarginRatio - effective*10000/size, 0 если effective <= 0
func MarginRatio(equity, size decimal.Decimal) int64 {
	if !equity.IsPositive() || !size.IsPositive() {
		return 0
	}
	return utils.RatioBps(equity, size)
}

// AssessAt оценивает позицию при цене price
func (r *RiskEngine) AssessAt(p *models.Position, price decimal.Decimal) (Assessment, error) {
	funding, err := r.funding.Payment(p)
	if err != nil {
		return Assessment{}, err
	}
	pnl := CalculatePnL(p, price)
	fees := r.AccruedFees(p, r.clock.Now())
	equity := p.Collateral.Add(pnl).Add(funding).Sub(fees)
	ratio := MarginRatio(equity, p.Size)

	return Assessment{
		Price:       price,
		PnL:         pnl,
		Funding:     funding,
		Fees:        fees,
		Equity:      equity,
		MarginRatio: ratio,
		Status:      models.ClassifyRisk(ratio, r.markets.RiskParameters(p.Symbol)),
	}, nil
}

// Assess оценивает позицию по текущей цене оракула
func (r *RiskEngine) Assess(ctx context.Context, p *models.Position) (Assessment, error) {
	price, err := r.Price(ctx, p.Symbol)
	if err != nil {
		return Assessment{}, err
	}
	return r.AssessAt(p, price)
}

func (r *RiskEngine) position(id common.Hash) (*models.Position, error) {
	p, ok := r.store.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPositionNotFound, id.Hex())
	}
	return p, nil
}

// ============ Pre-trade ============

// EffectiveMaxLeverage - min(плечо рынка, плечо параметров, ограничение риск-скора)
func (r *RiskEngine) EffectiveMaxLeverage(trader common.Address, symbol string) (int64, error) {
	m, err := r.markets.Get(symbol)
	if err != nil {
		return 0, err
	}
	lev := m.MaxLeverage
	if p := r.markets.RiskParameters(symbol); p.MaxLeverage < lev {
		lev = p.MaxLeverage
	}
	score := r.RiskScore(trader)
	switch {
	case score > HighRiskScoreThreshold && lev > HighRiskLeverageCap:
		lev = HighRiskLeverageCap
	case score > MediumRiskScoreThreshold && lev > MediumRiskLeverageCap:
		lev = MediumRiskLeverageCap
	}
	return lev, nil
}

// CanOpenPosition проверяет размер, плечо (равенство допустимо) и начальную маржу.
// Возвращает причину отказа.
func (r *RiskEngine) CanOpenPosition(trader common.Address, symbol string, size, collateral decimal.Decimal) (bool, string) {
	if !size.IsPositive() || !collateral.IsPositive() {
		return false, "size and collateral must be positive"
	}
	params := r.markets.RiskParameters(symbol)
	if size.GreaterThan(params.MaxPositionSize) {
		return false, fmt.Sprintf("size %s exceeds max position size %s", size, params.MaxPositionSize)
	}

	lev, err := r.EffectiveMaxLeverage(trader, symbol)
	if err != nil {
		return false, err.Error()
	}
	if size.GreaterThan(collateral.Mul(decimal.NewFromInt(lev))) {
		return false, fmt.Sprintf("leverage exceeds %dx", lev)
	}

	if collateral.Mul(utils.BPS).LessThan(size.Mul(decimal.NewFromInt(params.InitialMarginRatio))) {
		return false, fmt.Sprintf("collateral below initial margin %d bps", params.InitialMarginRatio)
	}
	return true, ""
}

// ============ Маржа ============

// CalculateMarginRatio возвращает margin ratio позиции (bp) по текущей цене
func (r *RiskEngine) CalculateMarginRatio(ctx context.Context, id common.Hash) (int64, error) {
	p, err := r.position(id)
	if err != nil {
		return 0, err
	}
	a, err := r.Assess(ctx, p)
	if err != nil {
		return 0, err
	}
	return a.MarginRatio, nil
}

// CheckLiquidation - margin ratio < maintenance margin ratio
func (r *RiskEngine) CheckLiquidation(ctx context.Context, id common.Hash) (bool, error) {
	ratio, err := r.CalculateMarginRatio(ctx, id)
	if err != nil {
		return false, err
	}
	p, err := r.position(id)
	if err != nil {
		return false, err
	}
	return ratio < r.markets.RiskParameters(p.Symbol).MaintenanceMarginRatio, nil
}

// HealthyThreshold - требуемый ratio с надбавкой для рискованных трейдеров
// (+20% при скоре > 8000, +10% при скоре > 6000)
func (r *RiskEngine) HealthyThreshold(trader common.Address, symbol string) int64 {
	mmr := r.markets.RiskParameters(symbol).MaintenanceMarginRatio
	score := r.RiskScore(trader)
	switch {
	case score > HighRiskScoreThreshold:
		return mmr * 120 / 100
	case score > MediumRiskScoreThreshold:
		return mmr * 110 / 100
	default:
		return mmr
	}
}

// HealthyAt проверяет здоровье позиции при цене price
func (r *RiskEngine) HealthyAt(p *models.Position, price decimal.Decimal) (bool, error) {
	a, err := r.AssessAt(p, price)
	if err != nil {
		return false, err
	}
	return a.MarginRatio >= r.HealthyThreshold(p.Trader, p.Symbol), nil
}

// IsPositionHealthy проверяет здоровье позиции по текущей цене
func (r *RiskEngine) IsPositionHealthy(ctx context.Context, id common.Hash) (bool, error) {
	p, err := r.position(id)
	if err != nil {
		return false, err
	}
	price, err := r.Price(ctx, p.Symbol)
	if err != nil {
		return false, err
	}
	return r.HealthyAt(p, price)
}

// CalculateLiquidationPrice - цена, при которой ratio достигает maintenance.
//
//	K = collateral + funding - fees - size*mmr/10000
//	long:  P = entry - K*entry/size (не ниже 0)
//	short: P = entry + K*entry/size (в пределах [0, MaxPrice])
func (r *RiskEngine) CalculateLiquidationPrice(id common.Hash) (decimal.Decimal, error) {
	p, err := r.position(id)
	if err != nil {
		return decimal.Zero, err
	}
	return r.LiquidationPrice(p)
}

// LiquidationPrice считает цену ликвидации для позиции
func (r *RiskEngine) LiquidationPrice(p *models.Position) (decimal.Decimal, error) {
	funding, err := r.funding.Payment(p)
	if err != nil {
		return decimal.Zero, err
	}
	mmr := r.markets.RiskParameters(p.Symbol).MaintenanceMarginRatio
	k := p.Collateral.Add(funding).Sub(r.AccruedFees(p, r.clock.Now())).Sub(utils.ApplyBps(p.Size, mmr))
	shift := utils.MulDiv(k, p.EntryPrice, p.Size)

	if p.IsLong {
		return utils.PositivePart(p.EntryPrice.Sub(shift)), nil
	}
	return utils.Clamp(p.EntryPrice.Add(shift), decimal.Zero, utils.MaxPrice), nil
}

// ============ Риск-скор ============

// RiskScore возвращает риск-скор трейдера в [0, 10000]
func (r *RiskEngine) RiskScore(trader common.Address) int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.scores[trader]
}

// AdjustRiskScore изменяет скор на delta с насыщением в [0, 10000]
func (r *RiskEngine) AdjustRiskScore(trader common.Address, delta int64) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := utils.ClampInt64(r.scores[trader]+delta, 0, MaxRiskScore)
	r.scores[trader] = s
	return s
}
