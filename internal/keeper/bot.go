// Package keeper - бот ликвидаций: наблюдает за позициями у порога
// поддерживающей маржи и ликвидирует их батчами.
package keeper

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"perpetual/internal/engine"
	"perpetual/internal/ledger"
	"perpetual/internal/models"
	"perpetual/pkg/utils"
)

// Ошибки бота
var (
	ErrGasPriceTooHigh = fmt.Errorf("%w: gas price above keeper limit", engine.ErrValidation)
	ErrEmptyBatch      = fmt.Errorf("%w: no positions to liquidate", engine.ErrValidation)
	ErrRefreshTooSoon  = fmt.Errorf("%w: targets refreshed too recently", engine.ErrRateLimited)
	ErrPayoutFailed    = errors.New("keeper reward payout failed")
)

// Значения по умолчанию
const (
	DefaultUpdateInterval     = 30 * time.Second
	DefaultMaxGasPrice        = 500
	DefaultDiscoveryBufferBps = 200
	DefaultMaxBatchSize       = 20
)

// Исходы элемента батча
const (
	OutcomeLiquidated = "liquidated"
	OutcomeSkipped    = "skipped"
	OutcomeFailed     = "failed"
)

// Config - параметры бота
type Config struct {
	// Address - адрес ликвидатора бота, на него движок платит вознаграждения
	Address common.Address

	UpdateInterval     time.Duration
	ProfitThreshold    decimal.Decimal
	MaxGasPrice        uint64
	DiscoveryBufferBps int64
	MaxBatchSize       int
}

// DefaultConfig возвращает параметры по умолчанию
func DefaultConfig() Config {
	return Config{
		UpdateInterval:     DefaultUpdateInterval,
		ProfitThreshold:    decimal.NewFromInt(1),
		MaxGasPrice:        DefaultMaxGasPrice,
		DiscoveryBufferBps: DefaultDiscoveryBufferBps,
		MaxBatchSize:       DefaultMaxBatchSize,
	}
}

// Engine - операции движка, нужные боту
type Engine interface {
	RegisterLiquidator(ctx context.Context, addr common.Address) (*models.LiquidatorInfo, error)
	RefreshRiskStatus(ctx context.Context) []*engine.PositionRisk
	PositionRisk(ctx context.Context, id common.Hash) (*engine.PositionRisk, error)
	RiskParameters(symbol string) models.RiskParameters
	EstimateLiquidation(ctx context.Context, liquidator common.Address, id common.Hash) (*engine.LiquidationResult, error)
	Liquidate(ctx context.Context, liquidator common.Address, id common.Hash) (*engine.LiquidationResult, error)
}

// ItemResult - исход ликвидации одной позиции в батче
type ItemResult struct {
	PositionID common.Hash     `json:"position_id"`
	Outcome    string          `json:"outcome"`
	Full       bool            `json:"full,omitempty"`
	Reward     decimal.Decimal `json:"reward"`
	Error      string          `json:"error,omitempty"`
}

// BatchResult - итог батча ликвидаций
type BatchResult struct {
	RunID       string          `json:"run_id"`
	Keeper      common.Address  `json:"keeper"`
	GasPrice    uint64          `json:"gas_price"`
	Items       []ItemResult    `json:"items"`
	Liquidated  int             `json:"liquidated"`
	Skipped     int             `json:"skipped"`
	Failed      int             `json:"failed"`
	TotalReward decimal.Decimal `json:"total_reward"`
	StartedAt   time.Time       `json:"started_at"`
	Duration    time.Duration   `json:"duration_ns"`
}

// LiquidationBot - кипер ликвидаций
//
// Держит множество целей, упорядоченное по приоритету, и ликвидирует
// их через движок от своего адреса. Сумма вознаграждений батча
// переводится киперу одним переводом.
type LiquidationBot struct {
	cfg    Config
	engine Engine
	token  ledger.Token
	clock  utils.Clock
	log    *utils.Logger

	targets *TargetSet

	mu          sync.Mutex // сериализует батчи и обновления
	lastRefresh time.Time
}

// NewLiquidationBot создаёт бота
func NewLiquidationBot(cfg Config, eng Engine, token ledger.Token, clock utils.Clock, log *utils.Logger) (*LiquidationBot, error) {
	if eng == nil || token == nil {
		return nil, errors.New("keeper: engine and token are required")
	}
	if cfg.Address == (common.Address{}) {
		return nil, fmt.Errorf("%w: keeper address is required", engine.ErrValidation)
	}
	def := DefaultConfig()
	if cfg.UpdateInterval <= 0 {
		cfg.UpdateInterval = def.UpdateInterval
	}
	if cfg.MaxGasPrice == 0 {
		cfg.MaxGasPrice = def.MaxGasPrice
	}
	if cfg.DiscoveryBufferBps < 0 {
		cfg.DiscoveryBufferBps = 0
	}
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = def.MaxBatchSize
	}
	if log == nil {
		log = utils.NewNopLogger()
	}

	return &LiquidationBot{
		cfg:     cfg,
		engine:  eng,
		token:   token,
		clock:   utils.ClockOrSystem(clock),
		log:     log.WithComponent("keeper"),
		targets: NewTargetSet(),
	}, nil
}

// Address возвращает адрес ликвидатора бота
func (b *LiquidationBot) Address() common.Address { return b.cfg.Address }

// Config возвращает параметры бота
func (b *LiquidationBot) Config() Config { return b.cfg }

// Register регистрирует адрес бота как ликвидатора (повторная регистрация не ошибка)
func (b *LiquidationBot) Register(ctx context.Context) error {
	_, err := b.engine.RegisterLiquidator(ctx, b.cfg.Address)
	if err != nil && !errors.Is(err, engine.ErrLiquidatorExists) {
		return err
	}
	return nil
}

// ============ Цели ============

// watchLimit - граница наблюдения: поддерживающая маржа плюс буфер
func (b *LiquidationBot) watchLimit(symbol string) int64 {
	return b.engine.RiskParameters(symbol).MaintenanceMarginRatio + b.cfg.DiscoveryBufferBps
}

func (b *LiquidationBot) targetFrom(r *engine.PositionRisk) *Target {
	return &Target{
		PositionID:   r.Position.ID,
		Symbol:       r.Position.Symbol,
		Trader:       r.Position.Trader,
		Size:         r.Position.Size,
		MarginRatio:  r.Assessment.MarginRatio,
		Liquidatable: r.Liquidatable,
		UpdatedAt:    b.clock.Now(),
	}
}

// AddTarget ставит позицию под наблюдение независимо от её маржи
func (b *LiquidationBot) AddTarget(ctx context.Context, id common.Hash) (*Target, error) {
	r, err := b.engine.PositionRisk(ctx, id)
	if err != nil {
		return nil, err
	}
	t := b.targetFrom(r)
	b.targets.Upsert(t)
	MonitoredTargets.Set(float64(b.targets.Len()))
	snapshot := *t
	return &snapshot, nil
}

// RemoveTarget снимает позицию с наблюдения
func (b *LiquidationBot) RemoveTarget(id common.Hash) bool {
	ok := b.targets.Remove(id)
	MonitoredTargets.Set(float64(b.targets.Len()))
	return ok
}

// DiscoverTargets просматривает все позиции и ставит под наблюдение те,
// чья маржа ниже maintenance + DiscoveryBufferBps. Возвращает число новых целей.
func (b *LiquidationBot) DiscoverTargets(ctx context.Context) int {
	added := 0
	for _, r := range b.engine.RefreshRiskStatus(ctx) {
		if r.Assessment.MarginRatio >= b.watchLimit(r.Position.Symbol) {
			continue
		}
		if b.targets.Upsert(b.targetFrom(r)) {
			added++
		}
	}
	MonitoredTargets.Set(float64(b.targets.Len()))
	if added > 0 {
		b.log.Info("liquidation targets discovered", utils.Int("added", added), utils.Int("total", b.targets.Len()))
	}
	return added
}

// RefreshTargets пересчитывает маржу целей. Закрытые позиции и позиции,
// вернувшиеся выше границы наблюдения, снимаются. Не чаще UpdateInterval.
func (b *LiquidationBot) RefreshTargets(ctx context.Context) (int, error) {
	b.mu.Lock()
	now := b.clock.Now()
	if !b.lastRefresh.IsZero() && now.Sub(b.lastRefresh) < b.cfg.UpdateInterval {
		next := b.lastRefresh.Add(b.cfg.UpdateInterval)
		b.mu.Unlock()
		return 0, fmt.Errorf("%w: next refresh at %s", ErrRefreshTooSoon, next.Format(time.RFC3339))
	}
	b.lastRefresh = now
	b.mu.Unlock()

	removed := 0
	for _, id := range b.targets.IDs() {
		r, err := b.engine.PositionRisk(ctx, id)
		switch {
		case errors.Is(err, engine.ErrPositionNotFound):
			b.targets.Remove(id)
			removed++
		case err != nil:
			// цена недоступна - оставляем цель с прежней оценкой
			b.log.Debug("target refresh skipped", utils.PositionID(id.Hex()), utils.Err(err))
		case r.Assessment.MarginRatio >= b.watchLimit(r.Position.Symbol):
			b.targets.Remove(id)
			removed++
		default:
			b.targets.Upsert(b.targetFrom(r))
		}
	}
	MonitoredTargets.Set(float64(b.targets.Len()))
	return removed, nil
}

// TopTargets возвращает до n целей по убыванию приоритета
func (b *LiquidationBot) TopTargets(n int) []Target {
	return b.targets.Top(n, false)
}

// TargetCount возвращает число отслеживаемых позиций
func (b *LiquidationBot) TargetCount() int { return b.targets.Len() }

// Target возвращает цель по ID
func (b *LiquidationBot) Target(id common.Hash) (Target, bool) {
	return b.targets.Get(id)
}

// ============ Исполнение ============

// ExecuteLiquidations ликвидирует позиции ids от адреса бота и переводит
// сумму вознаграждений keeper одним переводом. Ошибка одной позиции не
// прерывает батч. Позиции с оценкой вознаграждения ниже ProfitThreshold
// пропускаются.
func (b *LiquidationBot) ExecuteLiquidations(ctx context.Context, keeper common.Address, ids []common.Hash, gasPrice uint64) (*BatchResult, error) {
	if len(ids) == 0 {
		Batches.WithLabelValues("rejected").Inc()
		return nil, ErrEmptyBatch
	}
	if gasPrice > b.cfg.MaxGasPrice {
		Batches.WithLabelValues("rejected").Inc()
		return nil, fmt.Errorf("%w: %d > %d", ErrGasPriceTooHigh, gasPrice, b.cfg.MaxGasPrice)
	}
	if keeper == (common.Address{}) {
		keeper = b.cfg.Address
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	res := &BatchResult{
		RunID:       uuid.NewString(),
		Keeper:      keeper,
		GasPrice:    gasPrice,
		Items:       make([]ItemResult, 0, len(ids)),
		TotalReward: decimal.Zero,
		StartedAt:   b.clock.Now(),
	}
	log := b.log.With(utils.String("run_id", res.RunID))

	for _, id := range ids {
		item := b.executeOne(ctx, id)
		res.Items = append(res.Items, item)
		BatchItems.WithLabelValues(item.Outcome).Inc()

		switch item.Outcome {
		case OutcomeLiquidated:
			res.Liquidated++
			res.TotalReward = res.TotalReward.Add(item.Reward)
		case OutcomeSkipped:
			res.Skipped++
		default:
			res.Failed++
			log.Warn("liquidation failed", utils.PositionID(id.Hex()), utils.String("error", item.Error))
		}
	}
	MonitoredTargets.Set(float64(b.targets.Len()))

	if res.TotalReward.IsPositive() && keeper != b.cfg.Address {
		if err := b.token.Transfer(ctx, b.cfg.Address, keeper, res.TotalReward); err != nil {
			Batches.WithLabelValues("payout_failed").Inc()
			res.Duration = b.clock.Now().Sub(res.StartedAt)
			log.Error("keeper payout failed", utils.String("keeper", keeper.Hex()), utils.Amount(res.TotalReward), utils.Err(err))
			return res, fmt.Errorf("%w: %v", ErrPayoutFailed, err)
		}
		RewardsPaid.Add(res.TotalReward.InexactFloat64())
	}

	Batches.WithLabelValues("ok").Inc()
	res.Duration = b.clock.Now().Sub(res.StartedAt)
	log.Info("liquidation batch executed",
		utils.String("keeper", keeper.Hex()),
		utils.Int("liquidated", res.Liquidated),
		utils.Int("skipped", res.Skipped),
		utils.Int("failed", res.Failed),
		utils.Decimal("reward", res.TotalReward),
	)
	return res, nil
}

func (b *LiquidationBot) executeOne(ctx context.Context, id common.Hash) ItemResult {
	item := ItemResult{PositionID: id, Reward: decimal.Zero}

	est, err := b.engine.EstimateLiquidation(ctx, b.cfg.Address, id)
	if err != nil {
		b.dropIfGone(id, err)
		item.Outcome = OutcomeFailed
		item.Error = err.Error()
		return item
	}
	if est.Reward.LessThan(b.cfg.ProfitThreshold) {
		item.Outcome = OutcomeSkipped
		item.Reward = est.Reward
		return item
	}

	liq, err := b.engine.Liquidate(ctx, b.cfg.Address, id)
	if err != nil {
		b.dropIfGone(id, err)
		item.Outcome = OutcomeFailed
		item.Error = err.Error()
		return item
	}

	item.Outcome = OutcomeLiquidated
	item.Full = liq.Full
	item.Reward = liq.Reward
	if liq.Full {
		b.targets.Remove(id)
	} else if r, err := b.engine.PositionRisk(ctx, id); err == nil {
		b.targets.Upsert(b.targetFrom(r))
	}
	return item
}

// dropIfGone снимает цель, если позиция закрыта
func (b *LiquidationBot) dropIfGone(id common.Hash, err error) {
	if errors.Is(err, engine.ErrPositionNotFound) {
		b.targets.Remove(id)
	}
}

// LiquidatableTargets возвращает ID до MaxBatchSize целей ниже поддерживающей маржи
func (b *LiquidationBot) LiquidatableTargets() []common.Hash {
	top := b.targets.Top(b.cfg.MaxBatchSize, true)
	ids := make([]common.Hash, len(top))
	for i, t := range top {
		ids[i] = t.PositionID
	}
	return ids
}
