package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"perpetual/internal/ledger"
	"perpetual/internal/models"
	"perpetual/pkg/ratelimit"
	"perpetual/pkg/utils"
)

// InsuranceFund - страховой фонд с точки зрения движка
type InsuranceFund interface {
	Contribute(ctx context.Context, contributor common.Address, amount decimal.Decimal) error
	Refund(ctx context.Context, contributor common.Address, amount decimal.Decimal) error
	SubmitClaim(ctx context.Context, claimant common.Address, amount decimal.Decimal, reason string) (*models.InsuranceClaim, error)
	MaxClaimAmount(ctx context.Context) (decimal.Decimal, error)
}

// LiquidationResult - итог (или план) ликвидации
type LiquidationResult struct {
	PositionID          common.Hash     `json:"position_id"`
	Symbol              string          `json:"symbol"`
	Trader              common.Address  `json:"trader"`
	Liquidator          common.Address  `json:"liquidator"`
	Price               decimal.Decimal `json:"price"`
	MarginRatio         int64           `json:"margin_ratio_bps"`
	Full                bool            `json:"full"`
	LiquidatedSize      decimal.Decimal `json:"liquidated_size"`
	RemainingSize       decimal.Decimal `json:"remaining_size"`
	RemainingCollateral decimal.Decimal `json:"remaining_collateral"`
	Reward              decimal.Decimal `json:"reward"`
	RewardFromSurplus   decimal.Decimal `json:"reward_from_surplus"`
	InsuranceFee        decimal.Decimal `json:"insurance_fee"`
	RealizedLoss        decimal.Decimal `json:"realized_loss"`
	ReturnedToTrader    decimal.Decimal `json:"returned_to_trader"`
	Deficit             decimal.Decimal `json:"deficit"`
	ClaimID             uint64          `json:"claim_id,omitempty"`
}

// LiquidationCoordinator - полная и частичная ликвидация одной операцией,
// награды ликвидаторам, отчисления в страховой фонд и реестр ликвидаторов.
//
// Частичная ликвидация применяется при threshold <= ratio < mmr и снимает
// ровно столько, чтобы восстановить ratio до mmr + 2%, но не больше
// maxLiquidationRatio от размера. Иначе позиция ликвидируется целиком.
type LiquidationCoordinator struct {
	cfg       Config
	risk      *RiskEngine
	store     *PositionStore
	markets   *MarketRegistry
	vault     guardedVault
	insurance InsuranceFund
	limiter   *ratelimit.WindowLimiter
	clock     utils.Clock
	log       *utils.Logger

	mu          sync.RWMutex
	liquidators map[common.Address]*models.LiquidatorInfo
}

// NewLiquidationCoordinator создаёт координатор. insurance может быть nil,
// тогда страховые отчисления остаются в surplus хранилища.
func NewLiquidationCoordinator(cfg Config, risk *RiskEngine, store *PositionStore, markets *MarketRegistry,
	vault *ledger.Vault, insurance InsuranceFund, clock utils.Clock, log *utils.Logger) *LiquidationCoordinator {
	clock = utils.ClockOrSystem(clock)
	return &LiquidationCoordinator{
		cfg:         cfg,
		risk:        risk,
		store:       store,
		markets:     markets,
		vault:       guardedVault{vault},
		insurance:   insurance,
		limiter:     ratelimit.NewWindowLimiter(cfg.MaxLiquidationsPerWindow, cfg.LiquidationWindow, clock),
		clock:       clock,
		log:         log.WithComponent("liquidation"),
		liquidators: make(map[common.Address]*models.LiquidatorInfo),
	}
}

// ============ Реестр ликвидаторов ============

// Register регистрирует ликвидатора (successRate = 100%)
func (lc *LiquidationCoordinator) Register(addr common.Address) (*models.LiquidatorInfo, error) {
	if addr == (common.Address{}) {
		return nil, fmt.Errorf("%w: zero liquidator address", ErrValidation)
	}
	lc.mu.Lock()
	defer lc.mu.Unlock()
	if _, ok := lc.liquidators[addr]; ok {
		return nil, fmt.Errorf("%w: %s", ErrLiquidatorExists, addr.Hex())
	}
	info := &models.LiquidatorInfo{
		Address:      addr,
		IsActive:     true,
		TotalRewards: decimal.Zero,
		SuccessRate:  models.InitialSuccessRate,
		RegisteredAt: lc.clock.Now(),
	}
	lc.liquidators[addr] = info
	c := *info
	return &c, nil
}

// SetActive включает или отключает ликвидатора
func (lc *LiquidationCoordinator) SetActive(addr common.Address, active bool) error {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	info, ok := lc.liquidators[addr]
	if !ok {
		return fmt.Errorf("%w: %s", ErrLiquidatorNotRegistered, addr.Hex())
	}
	info.IsActive = active
	return nil
}

// Info возвращает копию статистики ликвидатора
func (lc *LiquidationCoordinator) Info(addr common.Address) (*models.LiquidatorInfo, bool) {
	lc.mu.RLock()
	defer lc.mu.RUnlock()
	info, ok := lc.liquidators[addr]
	if !ok {
		return nil, false
	}
	c := *info
	return &c, true
}

// All возвращает всех ликвидаторов
func (lc *LiquidationCoordinator) All() []*models.LiquidatorInfo {
	lc.mu.RLock()
	out := make([]*models.LiquidatorInfo, 0, len(lc.liquidators))
	for _, info := range lc.liquidators {
		c := *info
		out = append(out, &c)
	}
	lc.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Address.Hex() < out[j].Address.Hex() })
	return out
}

func (lc *LiquidationCoordinator) activeLiquidator(addr common.Address) (*models.LiquidatorInfo, error) {
	info, ok := lc.Info(addr)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrLiquidatorNotRegistered, addr.Hex())
	}
	if !info.IsActive {
		return nil, fmt.Errorf("%w: %s", ErrLiquidatorInactive, addr.Hex())
	}
	return info, nil
}

func (lc *LiquidationCoordinator) recordAttempt(addr common.Address, success bool, reward decimal.Decimal) {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	info, ok := lc.liquidators[addr]
	if !ok {
		return
	}
	info.RecordAttempt(success)
	if success {
		info.TotalLiquidations++
		info.TotalRewards = info.TotalRewards.Add(reward)
		info.LastLiquidationTime = lc.clock.Now()
	} else {
		info.FailedAttempts++
	}
}

// ============ Расчёт ============

// RewardMultiplier - множитель награды по successRate (bp * 100):
// > 95% -> 110, > 90% -> 105, иначе 100
func RewardMultiplier(successRate int64) int64 {
	switch {
	case successRate > 9500:
		return 110
	case successRate > 9000:
		return 105
	default:
		return 100
	}
}

// PartialLiquidationSize - объём, восстанавливающий ratio до mmr + 2%:
//
//	delta = (t*S - E) / (t - f), t = (mmr+200)/10000, f = (liqFee+insFee)/10000
//
// ограниченный maxLiquidationRatio*S/10000. Возвращает size для полной ликвидации.
func PartialLiquidationSize(size, equity decimal.Decimal, params models.RiskParameters) decimal.Decimal {
	t := params.MaintenanceMarginRatio + PartialLiquidationBufferBps
	f := params.LiquidationFeeRatio + params.InsuranceFeeRatio
	if t <= f {
		return size
	}
	num := size.Mul(decimal.NewFromInt(t)).Sub(equity.Mul(utils.BPS))
	delta := utils.Div(num, decimal.NewFromInt(t-f))
	if limit := utils.ApplyBps(size, params.MaxLiquidationRatio); delta.GreaterThan(limit) {
		delta = limit
	}
	if !delta.IsPositive() || delta.GreaterThanOrEqual(size) {
		return size
	}
	return delta
}

// Plan рассчитывает ликвидацию позиции без изменения состояния
func (lc *LiquidationCoordinator) Plan(ctx context.Context, p *models.Position, a Assessment, info *models.LiquidatorInfo) *LiquidationResult {
	params := lc.markets.RiskParameters(p.Symbol)

	surplus, err := lc.vault.Surplus(ctx)
	if err != nil {
		lc.log.Warn("read vault surplus", utils.Err(err))
		surplus = decimal.Zero
	}

	delta := p.Size
	if a.MarginRatio >= params.LiquidationThreshold && a.MarginRatio < params.MaintenanceMarginRatio {
		delta = PartialLiquidationSize(p.Size, a.Equity, params)
	}

	res := lc.settle(p, a, params, info, delta, surplus)
	if !res.Full && !res.RemainingCollateral.IsPositive() {
		res = lc.settle(p, a, params, info, p.Size, surplus)
	}
	return res
}

// settle раскладывает залог среза delta: убыток, награда, взнос в фонд, остаток.
// Награда не опускается ниже MinReward: при полной ликвидации недостающее
// берётся из залога до списания убытка (дефицит растёт на эту сумму),
// остаток недостачи - из surplus хранилища.
func (lc *LiquidationCoordinator) settle(p *models.Position, a Assessment, params models.RiskParameters, info *models.LiquidatorInfo, delta, surplus decimal.Decimal) *LiquidationResult {
	full := delta.GreaterThanOrEqual(p.Size)
	if full {
		delta = p.Size
	}

	// нереализованный результат среза: pnl + funding - fees
	unrealized := a.Equity.Sub(p.Collateral)
	sliceResult := utils.MulDiv(unrealized, delta, p.Size)

	loss := decimal.Zero
	if sliceResult.IsNegative() {
		loss = decimal.Min(sliceResult.Neg(), p.Collateral)
	}
	deficit := decimal.Zero
	if full && a.Equity.IsNegative() {
		deficit = a.Equity.Neg()
	}
	remaining := p.Collateral.Sub(loss)

	reward := utils.ApplyBps(delta, params.LiquidationFeeRatio)
	successRate := int64(models.InitialSuccessRate)
	if info != nil {
		successRate = info.SuccessRate
	}
	reward = utils.MulDiv(reward, decimal.NewFromInt(RewardMultiplier(successRate)), decimal.NewFromInt(100))
	reward = utils.Clamp(reward, lc.cfg.MinReward, lc.cfg.MaxReward)
	reward = decimal.Min(reward, remaining)
	remaining = remaining.Sub(reward)

	fromSurplus := decimal.Zero
	if shortfall := lc.cfg.MinReward.Sub(reward); shortfall.IsPositive() {
		if full {
			shift := decimal.Min(shortfall, loss)
			loss = loss.Sub(shift)
			deficit = deficit.Add(shift)
			reward = reward.Add(shift)
			shortfall = shortfall.Sub(shift)
		}
		if shortfall.IsPositive() && surplus.IsPositive() {
			fromSurplus = decimal.Min(shortfall, surplus)
			reward = reward.Add(fromSurplus)
		}
	}

	fee := decimal.Min(utils.ApplyBps(delta, params.InsuranceFeeRatio), remaining)
	remaining = remaining.Sub(fee)

	res := &LiquidationResult{
		PositionID:        p.ID,
		Symbol:            p.Symbol,
		Trader:            p.Trader,
		Price:             a.Price,
		MarginRatio:       a.MarginRatio,
		Full:              full,
		LiquidatedSize:    delta,
		Reward:            reward,
		RewardFromSurplus: fromSurplus,
		InsuranceFee:      fee,
		RealizedLoss:      loss,
		Deficit:           deficit,
	}
	if full {
		res.RemainingSize = decimal.Zero
		res.RemainingCollateral = decimal.Zero
		res.ReturnedToTrader = remaining
	} else {
		res.RemainingSize = p.Size.Sub(delta)
		res.RemainingCollateral = remaining
		res.ReturnedToTrader = decimal.Zero
	}
	return res
}

// Estimate возвращает план ликвидации по текущей цене (для keeper'а)
func (lc *LiquidationCoordinator) Estimate(ctx context.Context, liquidator common.Address, id common.Hash) (*LiquidationResult, error) {
	p, ok := lc.store.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPositionNotFound, id.Hex())
	}
	a, err := lc.risk.Assess(ctx, p)
	if err != nil {
		return nil, err
	}
	if a.MarginRatio >= lc.markets.RiskParameters(p.Symbol).MaintenanceMarginRatio {
		return nil, fmt.Errorf("%w: ratio %d bps", ErrNotLiquidatable, a.MarginRatio)
	}
	info, _ := lc.Info(liquidator)
	res := lc.Plan(ctx, p, a, info)
	res.Liquidator = liquidator
	return res, nil
}

// ============ Исполнение ============

// Liquidate ликвидирует позицию. Вызывается внутри операции guard'а.
func (lc *LiquidationCoordinator) Liquidate(ctx context.Context, call *Call, liquidator common.Address, id common.Hash) (*LiquidationResult, error) {
	info, err := lc.activeLiquidator(liquidator)
	if err != nil {
		return nil, err
	}

	p, ok := lc.store.Get(id)
	if !ok {
		lc.recordAttempt(liquidator, false, decimal.Zero)
		return nil, fmt.Errorf("%w: %s", ErrPositionNotFound, id.Hex())
	}

	a, err := lc.risk.Assess(ctx, p)
	if err != nil {
		return nil, err
	}
	params := lc.markets.RiskParameters(p.Symbol)
	if a.MarginRatio >= params.MaintenanceMarginRatio {
		lc.recordAttempt(liquidator, false, decimal.Zero)
		return nil, fmt.Errorf("%w: ratio %d bps >= maintenance %d bps", ErrNotLiquidatable, a.MarginRatio, params.MaintenanceMarginRatio)
	}

	if !lc.limiter.Allow(p.Symbol) {
		LiquidationsThrottled.WithLabelValues(p.Symbol).Inc()
		lc.log.Warn("liquidation throttled", utils.Symbol(p.Symbol), utils.PositionID(id.Hex()))
		return nil, fmt.Errorf("%w: %s", ErrLiquidationThrottled, p.Symbol)
	}
	symbol := p.Symbol
	call.OnRollback("throttle-slot", func(context.Context) error {
		lc.limiter.Release(symbol)
		return nil
	})

	res := lc.Plan(ctx, p, a, info)
	res.Liquidator = liquidator

	if err := lc.moveFunds(ctx, call, res); err != nil {
		return nil, err
	}
	if err := call.Check(); err != nil {
		return nil, err
	}

	// ============ Фиксация состояния ============
	now := lc.clock.Now()
	if res.Full {
		lc.store.Delete(p.ID)
		PositionsClosed.WithLabelValues(p.Symbol, "liquidation").Inc()
	} else {
		p.Size = res.RemainingSize
		p.Collateral = res.RemainingCollateral
		lc.store.Put(p)
	}
	if err := lc.markets.DecreaseOpenInterest(p.Symbol, p.IsLong, res.LiquidatedSize); err != nil {
		lc.log.Error("decrease open interest", utils.Symbol(p.Symbol), utils.Err(err))
	}

	score := lc.risk.AdjustRiskScore(p.Trader, RiskScoreLiquidation)
	lc.recordAttempt(liquidator, true, res.Reward)

	call.Emit(models.NewLiquidationEvent(p, liquidator, res.Price, res.Reward, res.LiquidatedSize, res.Full, now))
	if !res.Full {
		call.Emit(models.NewPartialLiquidationEvent(p, res.LiquidatedSize, now))
	}
	RecordLiquidation(p.Symbol, res.Full, res.Reward)

	if res.Deficit.IsPositive() {
		res.ClaimID = lc.fileDeficitClaim(ctx, p, res.Deficit)
	}

	lc.log.Info("position liquidated",
		utils.PositionID(id.Hex()),
		utils.Symbol(p.Symbol),
		utils.Liquidator(liquidator.Hex()),
		utils.MarginRatio(res.MarginRatio),
		utils.Bool("full", res.Full),
		utils.Decimal("liquidated_size", res.LiquidatedSize),
		utils.Decimal("reward", res.Reward),
		utils.Int64("risk_score", score),
	)
	return res, nil
}

// moveFunds выполняет переводы ликвидации, регистрируя шаги отката
func (lc *LiquidationCoordinator) moveFunds(ctx context.Context, call *Call, res *LiquidationResult) error {
	if res.RealizedLoss.IsPositive() {
		if err := lc.vault.Release(res.RealizedLoss); err != nil {
			return fmt.Errorf("%w: release realized loss: %v", ErrExecutionFailed, err)
		}
		loss := res.RealizedLoss
		call.OnRollback("relock-loss", func(ctx context.Context) error { return lc.vault.Relock(ctx, loss) })
	}

	if fromCollateral := res.Reward.Sub(res.RewardFromSurplus); fromCollateral.IsPositive() {
		if err := lc.vault.TransferOut(ctx, res.Liquidator, fromCollateral); err != nil {
			return fmt.Errorf("%w: pay reward: %v", ErrExecutionFailed, err)
		}
		liquidator := res.Liquidator
		call.OnRollback("reclaim-reward", func(ctx context.Context) error { return lc.vault.TransferIn(ctx, liquidator, fromCollateral) })
	}

	if res.RewardFromSurplus.IsPositive() {
		if err := lc.vault.PayFromSurplus(ctx, res.Liquidator, res.RewardFromSurplus); err != nil {
			return fmt.Errorf("%w: pay reward from surplus: %v", ErrExecutionFailed, err)
		}
		liquidator, topUp := res.Liquidator, res.RewardFromSurplus
		call.OnRollback("reclaim-reward-top-up", func(ctx context.Context) error { return lc.vault.Deposit(ctx, liquidator, topUp) })
	}

	if res.InsuranceFee.IsPositive() {
		fee := res.InsuranceFee
		if err := lc.vault.Release(fee); err != nil {
			return fmt.Errorf("%w: release insurance fee: %v", ErrExecutionFailed, err)
		}
		call.OnRollback("relock-insurance-fee", func(ctx context.Context) error { return lc.vault.Relock(ctx, fee) })

		if lc.insurance != nil {
			if err := lc.insurance.Contribute(ctx, lc.vault.Address(), fee); err != nil {
				return fmt.Errorf("%w: insurance contribution: %v", ErrExecutionFailed, err)
			}
			call.OnRollback("refund-insurance-fee", func(ctx context.Context) error {
				return lc.insurance.Refund(ctx, lc.vault.Address(), fee)
			})
		}
	}

	if res.Full && res.ReturnedToTrader.IsPositive() {
		trader, amount := res.Trader, res.ReturnedToTrader
		if err := lc.vault.TransferOut(ctx, trader, amount); err != nil {
			return fmt.Errorf("%w: return remainder: %v", ErrExecutionFailed, err)
		}
		call.OnRollback("reclaim-remainder", func(ctx context.Context) error { return lc.vault.TransferIn(ctx, trader, amount) })
	}
	return nil
}

// fileDeficitClaim подаёт заявку в страховой фонд на непокрытый дефицит,
// ограниченный MAX_CLAIM_RATIO баланса фонда. Ошибки только логируются.
func (lc *LiquidationCoordinator) fileDeficitClaim(ctx context.Context, p *models.Position, deficit decimal.Decimal) uint64 {
	BadDebt.WithLabelValues(p.Symbol).Add(deficit.InexactFloat64())
	if lc.insurance == nil {
		lc.log.Warn("bad debt without insurance fund", utils.PositionID(p.ID.Hex()), utils.Amount(deficit))
		return 0
	}

	limit, err := lc.insurance.MaxClaimAmount(ctx)
	if err != nil {
		lc.log.Error("read insurance claim limit", utils.Err(err))
		return 0
	}
	amount := decimal.Min(deficit, limit)
	if !amount.IsPositive() {
		lc.log.Warn("insurance fund cannot cover deficit", utils.PositionID(p.ID.Hex()), utils.Amount(deficit))
		return 0
	}

	claim, err := lc.insurance.SubmitClaim(ctx, lc.cfg.EngineAddress, amount,
		fmt.Sprintf("bad debt of liquidated position %s on %s", p.ID.Hex(), p.Symbol))
	if err != nil {
		lc.log.Error("submit insurance claim", utils.PositionID(p.ID.Hex()), utils.Err(err))
		return 0
	}
	return claim.ID
}
