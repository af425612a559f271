package keeper

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"perpetual/pkg/utils"
)

// DefaultRunInterval - период цикла кипера
const DefaultRunInterval = 15 * time.Second

// RunnerConfig - параметры фонового цикла
type RunnerConfig struct {
	Interval time.Duration
	// Beneficiary получает вознаграждения батчей (пусто - адрес бота)
	Beneficiary common.Address
	// GasPrice возвращает текущую цену газа для проверки лимита (nil - 0)
	GasPrice func() uint64
}

// Runner - фоновый цикл: обновление целей, поиск новых, ликвидация
type Runner struct {
	bot *LiquidationBot
	cfg RunnerConfig
	log *utils.Logger

	mu   sync.RWMutex
	last *BatchResult
}

// NewRunner создаёт цикл поверх бота
func NewRunner(bot *LiquidationBot, cfg RunnerConfig, log *utils.Logger) *Runner {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultRunInterval
	}
	if cfg.GasPrice == nil {
		cfg.GasPrice = func() uint64 { return 0 }
	}
	if log == nil {
		log = utils.NewNopLogger()
	}
	return &Runner{bot: bot, cfg: cfg, log: log.WithComponent("keeper_runner")}
}

// Run выполняет цикл до отмены контекста
func (r *Runner) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	r.log.Info("keeper runner started",
		utils.String("liquidator", r.bot.Address().Hex()),
		utils.Dur("interval", r.cfg.Interval),
	)
	for {
		select {
		case <-ctx.Done():
			r.log.Info("keeper runner stopped")
			return ctx.Err()
		case <-ticker.C:
			if _, err := r.RunOnce(ctx); err != nil {
				r.log.Warn("keeper cycle failed", utils.Err(err))
			}
		}
	}
}

// RunOnce выполняет один цикл. Возвращает nil-результат, если ликвидировать нечего.
func (r *Runner) RunOnce(ctx context.Context) (*BatchResult, error) {
	if _, err := r.bot.RefreshTargets(ctx); err != nil && !errors.Is(err, ErrRefreshTooSoon) {
		return nil, err
	}
	r.bot.DiscoverTargets(ctx)

	ids := r.bot.LiquidatableTargets()
	if len(ids) == 0 {
		return nil, nil
	}

	res, err := r.bot.ExecuteLiquidations(ctx, r.cfg.Beneficiary, ids, r.cfg.GasPrice())
	if res != nil {
		r.mu.Lock()
		r.last = res
		r.mu.Unlock()
	}
	return res, err
}

// LastBatch возвращает результат последнего батча
func (r *Runner) LastBatch() *BatchResult {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.last
}
