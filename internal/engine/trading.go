package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"perpetual/internal/ledger"
	"perpetual/internal/models"
	"perpetual/internal/oracle"
	"perpetual/pkg/utils"
)

// Deps - зависимости TradingEngine
type Deps struct {
	Config    Config
	Vault     *ledger.Vault
	Feed      oracle.PriceFeed
	Insurance InsuranceFund // nil - без страхового фонда
	Sink      EventSink
	Clock     utils.Clock
	Logger    *utils.Logger

	// DefaultRiskParameters применяются к рынкам без своих параметров
	DefaultRiskParameters models.RiskParameters
}

// CloseResult - итог закрытия позиции
type CloseResult struct {
	PositionID common.Hash     `json:"position_id"`
	ExitPrice  decimal.Decimal `json:"exit_price"`
	PnL        decimal.Decimal `json:"pnl"`
	Funding    decimal.Decimal `json:"funding"`
	Fees       decimal.Decimal `json:"accrued_fees"`
	Payout     decimal.Decimal `json:"payout"`
}

// PositionRisk - read model позиции с оценкой риска
type PositionRisk struct {
	Position         *models.Position `json:"position"`
	Assessment       Assessment       `json:"assessment"`
	LiquidationPrice decimal.Decimal  `json:"liquidation_price"`
	Healthy          bool             `json:"healthy"`
	Liquidatable     bool             `json:"liquidatable"`
}

// TradingEngine - оркестратор: открытие и закрытие позиций, управление
// залогом, фандинг, ликвидации и governance setters.
//
// Все изменяющие операции проходят через Guard: одна операция в момент
// времени, внешние переводы выполняются до фиксации состояния и
// откатываются при ошибке или повторном входе.
type TradingEngine struct {
	cfg   Config
	vault guardedVault
	feed  oracle.PriceFeed
	clock utils.Clock
	log   *utils.Logger

	guard        *Guard
	store        *PositionStore
	markets      *MarketRegistry
	funding      *FundingEngine
	risk         *RiskEngine
	liquidations *LiquidationCoordinator

	// nonce - следующий номер позиции, никогда не уменьшается
	nonce atomic.Uint64

	statusMu sync.Mutex
	statuses map[common.Hash]models.RiskStatus
}

// NewTradingEngine собирает движок из зависимостей
func NewTradingEngine(d Deps) (*TradingEngine, error) {
	if d.Vault == nil {
		return nil, errors.New("engine: vault is required")
	}
	if d.Feed == nil {
		return nil, errors.New("engine: price feed is required")
	}
	cfg := d.Config
	cfg.normalize()

	log := d.Logger
	if log == nil {
		log = utils.NewNopLogger()
	}
	clock := utils.ClockOrSystem(d.Clock)

	markets := NewMarketRegistry(d.DefaultRiskParameters)
	store := NewPositionStore()
	funding := NewFundingEngine(cfg, markets)
	risk := NewRiskEngine(cfg, markets, store, funding, d.Feed, clock)

	guard := NewGuard(d.Sink, log)
	guard.SetReentryWait(cfg.ReentryWait)

	e := &TradingEngine{
		cfg:      cfg,
		vault:    guardedVault{d.Vault},
		feed:     d.Feed,
		clock:    clock,
		log:      log.WithComponent("engine"),
		guard:    guard,
		store:    store,
		markets:  markets,
		funding:  funding,
		risk:     risk,
		statuses: make(map[common.Hash]models.RiskStatus),
	}
	e.liquidations = NewLiquidationCoordinator(cfg, risk, store, markets, d.Vault, guardInsurance(d.Insurance), clock, log)
	return e, nil
}

// run выполняет изменяющую операцию под guard'ом
func (e *TradingEngine) run(ctx context.Context, op string, fn func(ctx context.Context, call *Call) error) (err error) {
	start := time.Now()
	ctx, call, err := e.guard.Enter(ctx, op)
	if err != nil {
		RecordOperation(op, err, float64(time.Since(start).Microseconds())/1000)
		return err
	}
	defer func() {
		call.Finish(ctx, &err)
		RecordOperation(op, err, float64(time.Since(start).Microseconds())/1000)
	}()
	return fn(ctx, call)
}

// transferErr классифицирует ошибку перевода токена
func transferErr(step string, err error) error {
	if errors.Is(err, ledger.ErrInsufficientBalance) {
		return fmt.Errorf("%w: %s: %w", ErrInsufficientFunds, step, err)
	}
	return fmt.Errorf("%w: %s: %w", ErrExecutionFailed, step, err)
}

// checkSlippage сравнивает цену с TWAP. Без истории цен проверка пропускается.
func (e *TradingEngine) checkSlippage(ctx context.Context, symbol string, price decimal.Decimal, maxSlippageBps int64) error {
	if maxSlippageBps == 0 {
		return nil
	}
	twap, err := e.feed.GetTWAP(ctx, symbol, e.cfg.TWAPPeriod)
	if errors.Is(err, oracle.ErrNoPriceHistory) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: twap %s: %v", ErrInvalidPrice, symbol, err)
	}
	if !twap.IsPositive() {
		return nil
	}
	deviation := price.Sub(twap).Abs().Mul(utils.BPS)
	if deviation.GreaterThan(twap.Mul(decimal.NewFromInt(maxSlippageBps))) {
		return fmt.Errorf("%w: price %s, twap %s, max %d bps", ErrSlippageExceeded, price, twap, maxSlippageBps)
	}
	return nil
}

func validateSlippage(bps int64) error {
	if bps < 0 || bps > utils.BasisPoints {
		return ErrInvalidSlippage
	}
	return nil
}

// ============ Позиции ============

// OpenPosition открывает позицию и возвращает её снимок
func (e *TradingEngine) OpenPosition(ctx context.Context, trader common.Address, symbol string,
	size, collateral decimal.Decimal, isLong bool, maxSlippageBps int64) (*models.Position, error) {
	var opened *models.Position
	err := e.run(ctx, "open_position", func(ctx context.Context, call *Call) error {
		if trader == (common.Address{}) {
			return fmt.Errorf("%w: zero trader address", ErrValidation)
		}
		if !size.IsPositive() {
			return ErrInvalidSize
		}
		if !collateral.IsPositive() {
			return ErrInvalidCollateral
		}
		if err := validateSlippage(maxSlippageBps); err != nil {
			return err
		}
		sym, err := utils.NormalizeSymbol(symbol)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrValidation, err)
		}

		m, err := e.markets.Get(sym)
		if err != nil {
			return err
		}
		if !m.IsActive {
			return fmt.Errorf("%w: %s", ErrMarketInactive, sym)
		}
		if ok, reason := e.risk.CanOpenPosition(trader, sym, size, collateral); !ok {
			return fmt.Errorf("%w: %s", ErrRiskRejected, reason)
		}

		price, err := e.risk.Price(ctx, sym)
		if err != nil {
			return err
		}
		if err := e.checkSlippage(ctx, sym, price, maxSlippageBps); err != nil {
			return err
		}

		// nonce увеличивается до внешних вызовов и не откатывается
		nonce := e.nonce.Add(1) - 1
		id := PositionID(trader, nonce)

		if err := e.vault.TransferIn(ctx, trader, collateral); err != nil {
			return transferErr("pull collateral", err)
		}
		call.OnRollback("return-collateral", func(ctx context.Context) error {
			return e.vault.TransferOut(ctx, trader, collateral)
		})
		if err := call.Check(); err != nil {
			return err
		}

		// индекс фандинга читается после переводов
		m, err = e.markets.Get(sym)
		if err != nil {
			return err
		}
		p := &models.Position{
			ID:                  id,
			Trader:              trader,
			Symbol:              sym,
			Size:                size,
			Collateral:          collateral,
			EntryPrice:          price,
			EntryTime:           e.clock.Now(),
			IsLong:              isLong,
			FundingIndexAtEntry: m.CumulativeFundingIndex,
		}
		e.store.Put(p)
		if err := e.markets.IncreaseOpenInterest(sym, isLong, size); err != nil {
			return err
		}
		e.trackStatus(id, models.RiskHealthy)

		call.Emit(models.NewPositionOpenedEvent(p))
		PositionsOpened.WithLabelValues(sym, p.Side()).Inc()
		e.log.Info("position opened",
			utils.PositionID(id.Hex()),
			utils.Trader(trader.Hex()),
			utils.Symbol(sym),
			utils.Side(p.Side()),
			utils.Size(size),
			utils.Decimal("collateral", collateral),
			utils.Price(price),
		)
		opened = p.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return opened, nil
}

// ClosePosition закрывает позицию владельца и возвращает PnL.
//
// По умолчанию трейдер получает исходный залог. С SettlePnLOnClose
// выплата равна collateral + pnl + funding - fees в пределах [0, collateral + surplus].
func (e *TradingEngine) ClosePosition(ctx context.Context, trader common.Address, id common.Hash, maxSlippageBps int64) (*CloseResult, error) {
	var result *CloseResult
	err := e.run(ctx, "close_position", func(ctx context.Context, call *Call) error {
		if err := validateSlippage(maxSlippageBps); err != nil {
			return err
		}
		p, ok := e.store.Get(id)
		if !ok {
			return fmt.Errorf("%w: %s", ErrPositionNotFound, id.Hex())
		}
		if p.Trader != trader {
			return ErrNotOwner
		}

		price, err := e.risk.Price(ctx, p.Symbol)
		if err != nil {
			return err
		}
		if err := e.checkSlippage(ctx, p.Symbol, price, maxSlippageBps); err != nil {
			return err
		}
		a, err := e.risk.AssessAt(p, price)
		if err != nil {
			return err
		}
		healthy := a.MarginRatio >= e.risk.HealthyThreshold(p.Trader, p.Symbol)

		payout := p.Collateral
		if e.cfg.SettlePnLOnClose {
			surplus, err := e.vault.Surplus(ctx)
			if err != nil {
				return fmt.Errorf("%w: read surplus: %v", ErrExecutionFailed, err)
			}
			payout = utils.Clamp(a.Equity, decimal.Zero, p.Collateral.Add(surplus))
		}
		if err := e.settle(ctx, call, p, payout); err != nil {
			return err
		}
		if err := call.Check(); err != nil {
			return err
		}

		e.store.Delete(id)
		if err := e.markets.DecreaseOpenInterest(p.Symbol, p.IsLong, p.Size); err != nil {
			e.log.Error("decrease open interest", utils.Symbol(p.Symbol), utils.Err(err))
		}
		if healthy {
			e.risk.AdjustRiskScore(trader, -RiskScoreHealthyClose)
		}
		e.trackStatus(id, models.RiskClosed)

		now := e.clock.Now()
		call.Emit(models.NewPositionClosedEvent(p, price, a.PnL, a.Funding, payout, now))
		PositionsClosed.WithLabelValues(p.Symbol, "close").Inc()
		e.log.Info("position closed",
			utils.PositionID(id.Hex()),
			utils.Trader(trader.Hex()),
			utils.Price(price),
			utils.PNL(a.PnL),
			utils.Decimal("payout", payout),
			utils.Bool("healthy", healthy),
		)

		result = &CloseResult{
			PositionID: id,
			ExitPrice:  price,
			PnL:        a.PnL,
			Funding:    a.Funding,
			Fees:       a.Fees,
			Payout:     payout,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// settle выплачивает payout за закрываемую позицию с залогом p.Collateral
func (e *TradingEngine) settle(ctx context.Context, call *Call, p *models.Position, payout decimal.Decimal) error {
	trader := p.Trader
	if payout.GreaterThanOrEqual(p.Collateral) {
		collateral := p.Collateral
		if err := e.vault.TransferOut(ctx, trader, collateral); err != nil {
			return transferErr("return collateral", err)
		}
		call.OnRollback("reclaim-collateral", func(ctx context.Context) error {
			return e.vault.TransferIn(ctx, trader, collateral)
		})

		if profit := payout.Sub(collateral); profit.IsPositive() {
			if err := e.vault.PayFromSurplus(ctx, trader, profit); err != nil {
				return transferErr("pay profit", err)
			}
			call.OnRollback("reclaim-profit", func(ctx context.Context) error {
				return e.vault.Deposit(ctx, trader, profit)
			})
		}
		return nil
	}

	loss := p.Collateral.Sub(payout)
	if err := e.vault.Release(loss); err != nil {
		return fmt.Errorf("%w: release loss: %v", ErrExecutionFailed, err)
	}
	call.OnRollback("relock-loss", func(ctx context.Context) error { return e.vault.Relock(ctx, loss) })

	if payout.IsPositive() {
		if err := e.vault.TransferOut(ctx, trader, payout); err != nil {
			return transferErr("return remainder", err)
		}
		call.OnRollback("reclaim-remainder", func(ctx context.Context) error {
			return e.vault.TransferIn(ctx, trader, payout)
		})
	}
	return nil
}

// AddCollateral увеличивает залог позиции
func (e *TradingEngine) AddCollateral(ctx context.Context, trader common.Address, id common.Hash, amount decimal.Decimal) (*models.Position, error) {
	var updated *models.Position
	err := e.run(ctx, "add_collateral", func(ctx context.Context, call *Call) error {
		if !amount.IsPositive() {
			return ErrInvalidAmount
		}
		p, ok := e.store.Get(id)
		if !ok {
			return fmt.Errorf("%w: %s", ErrPositionNotFound, id.Hex())
		}
		if p.Trader != trader {
			return ErrNotOwner
		}

		if err := e.vault.TransferIn(ctx, trader, amount); err != nil {
			return transferErr("pull collateral", err)
		}
		call.OnRollback("return-collateral", func(ctx context.Context) error {
			return e.vault.TransferOut(ctx, trader, amount)
		})
		if err := call.Check(); err != nil {
			return err
		}

		old := p.Collateral
		p.Collateral = p.Collateral.Add(amount)
		e.store.Put(p)
		e.refreshStatus(ctx, p)

		call.Emit(models.NewCollateralEvent(models.EventCollateralAdded, p, old, e.clock.Now()))
		e.log.Info("collateral added", utils.PositionID(id.Hex()), utils.Amount(amount))
		updated = p.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// RemoveCollateral уменьшает залог, если позиция остаётся здоровой
func (e *TradingEngine) RemoveCollateral(ctx context.Context, trader common.Address, id common.Hash, amount decimal.Decimal) (*models.Position, error) {
	var updated *models.Position
	err := e.run(ctx, "remove_collateral", func(ctx context.Context, call *Call) error {
		if !amount.IsPositive() {
			return ErrInvalidAmount
		}
		p, ok := e.store.Get(id)
		if !ok {
			return fmt.Errorf("%w: %s", ErrPositionNotFound, id.Hex())
		}
		if p.Trader != trader {
			return ErrNotOwner
		}
		if amount.GreaterThanOrEqual(p.Collateral) {
			return fmt.Errorf("%w: collateral %s, requested %s", ErrInsufficientFunds, p.Collateral, amount)
		}

		price, err := e.risk.Price(ctx, p.Symbol)
		if err != nil {
			return err
		}
		candidate := p.Clone()
		candidate.Collateral = p.Collateral.Sub(amount)
		healthy, err := e.risk.HealthyAt(candidate, price)
		if err != nil {
			return err
		}
		if !healthy {
			return fmt.Errorf("%w: removing %s leaves position below maintenance", ErrMarginUnsafe, amount)
		}

		if err := e.vault.TransferOut(ctx, trader, amount); err != nil {
			return transferErr("return collateral", err)
		}
		call.OnRollback("reclaim-collateral", func(ctx context.Context) error {
			return e.vault.TransferIn(ctx, trader, amount)
		})
		if err := call.Check(); err != nil {
			return err
		}

		e.store.Put(candidate)
		if a, err := e.risk.AssessAt(candidate, price); err == nil {
			e.trackStatus(id, a.Status)
		}

		call.Emit(models.NewCollateralEvent(models.EventCollateralRemoved, candidate, p.Collateral, e.clock.Now()))
		e.log.Info("collateral removed", utils.PositionID(id.Hex()), utils.Amount(amount))
		updated = candidate.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// UpdateFundingRate пересчитывает ставку фандинга рынка (вызывает кто угодно)
func (e *TradingEngine) UpdateFundingRate(ctx context.Context, symbol string) (*models.Market, error) {
	var updated *models.Market
	err := e.run(ctx, "update_funding_rate", func(ctx context.Context, call *Call) error {
		sym, err := utils.NormalizeSymbol(symbol)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrValidation, err)
		}
		m, err := e.funding.Update(sym, e.clock.Now())
		if err != nil {
			return err
		}
		call.Emit(models.NewFundingRateEvent(m))
		e.log.Info("funding rate updated",
			utils.Symbol(sym),
			utils.Int64("rate_bps", m.FundingRate),
			utils.Decimal("funding_index", m.CumulativeFundingIndex),
		)
		updated = m
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// ============ Ликвидации ============

// RegisterLiquidator регистрирует адрес как ликвидатора
func (e *TradingEngine) RegisterLiquidator(ctx context.Context, addr common.Address) (*models.LiquidatorInfo, error) {
	var info *models.LiquidatorInfo
	err := e.run(ctx, "register_liquidator", func(ctx context.Context, call *Call) error {
		var err error
		info, err = e.liquidations.Register(addr)
		if err == nil {
			e.log.Info("liquidator registered", utils.Liquidator(addr.Hex()))
		}
		return err
	})
	return info, err
}

// Liquidate ликвидирует позицию полностью или частично
func (e *TradingEngine) Liquidate(ctx context.Context, liquidator common.Address, id common.Hash) (*LiquidationResult, error) {
	var result *LiquidationResult
	err := e.run(ctx, "liquidate", func(ctx context.Context, call *Call) error {
		res, err := e.liquidations.Liquidate(ctx, call, liquidator, id)
		if err != nil {
			return err
		}
		if res.Full {
			e.trackStatus(id, models.RiskClosed)
		} else if p, ok := e.store.Get(id); ok {
			if a, err := e.risk.AssessAt(p, res.Price); err == nil {
				e.trackStatus(id, a.Status)
			}
		}
		result = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// EstimateLiquidation возвращает план ликвидации без исполнения
func (e *TradingEngine) EstimateLiquidation(ctx context.Context, liquidator common.Address, id common.Hash) (*LiquidationResult, error) {
	return e.liquidations.Estimate(ctx, liquidator, id)
}

// Liquidator возвращает статистику ликвидатора
func (e *TradingEngine) Liquidator(addr common.Address) (*models.LiquidatorInfo, error) {
	info, ok := e.liquidations.Info(addr)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrLiquidatorNotRegistered, addr.Hex())
	}
	return info, nil
}

// Liquidators возвращает всех ликвидаторов
func (e *TradingEngine) Liquidators() []*models.LiquidatorInfo {
	return e.liquidations.All()
}

// ============ Governance ============

func (e *TradingEngine) requireGovernance(caller common.Address) error {
	if e.cfg.Governance == (common.Address{}) || caller != e.cfg.Governance {
		return ErrNotGovernance
	}
	return nil
}

// Governance возвращает адрес governance
func (e *TradingEngine) Governance() common.Address { return e.cfg.Governance }

// AddMarket создаёт рынок
func (e *TradingEngine) AddMarket(ctx context.Context, caller common.Address, symbol string, maxLeverage int64) (*models.Market, error) {
	var market *models.Market
	err := e.run(ctx, "add_market", func(ctx context.Context, call *Call) error {
		if err := e.requireGovernance(caller); err != nil {
			return err
		}
		m, err := e.markets.Add(symbol, maxLeverage, e.clock.Now())
		if err != nil {
			return err
		}
		call.Emit(models.NewMarketEvent(m, "added", m.CreatedAt))
		e.log.Info("market added", utils.Symbol(m.Symbol), utils.Int64("max_leverage", maxLeverage))
		market = m
		return nil
	})
	return market, err
}

// SetRiskParameters задаёт параметры риска рынка
func (e *TradingEngine) SetRiskParameters(ctx context.Context, caller common.Address, symbol string, params models.RiskParameters) error {
	return e.run(ctx, "set_risk_parameters", func(ctx context.Context, call *Call) error {
		if err := e.requireGovernance(caller); err != nil {
			return err
		}
		sym, err := utils.NormalizeSymbol(symbol)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrValidation, err)
		}
		m, err := e.markets.Get(sym)
		if err != nil {
			return err
		}
		if err := e.markets.SetRiskParameters(sym, params); err != nil {
			return err
		}
		call.Emit(models.NewMarketEvent(m, "risk_parameters", e.clock.Now()))
		e.log.Info("risk parameters updated",
			utils.Symbol(sym),
			utils.Int64("maintenance_bps", params.MaintenanceMarginRatio),
			utils.Int64("initial_bps", params.InitialMarginRatio),
		)
		return nil
	})
}

// SetMarketActive включает или останавливает рынок
func (e *TradingEngine) SetMarketActive(ctx context.Context, caller common.Address, symbol string, active bool) (*models.Market, error) {
	var market *models.Market
	err := e.run(ctx, "set_market_active", func(ctx context.Context, call *Call) error {
		if err := e.requireGovernance(caller); err != nil {
			return err
		}
		sym, err := utils.NormalizeSymbol(symbol)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrValidation, err)
		}
		m, err := e.markets.SetActive(sym, active)
		if err != nil {
			return err
		}
		call.Emit(models.NewMarketEvent(m, "active", e.clock.Now()))
		e.log.Info("market activity changed", utils.Symbol(sym), utils.Bool("active", active))
		market = m
		return nil
	})
	return market, err
}

// SetLiquidatorActive включает или отключает ликвидатора
func (e *TradingEngine) SetLiquidatorActive(ctx context.Context, caller, liquidator common.Address, active bool) error {
	return e.run(ctx, "set_liquidator_active", func(ctx context.Context, call *Call) error {
		if err := e.requireGovernance(caller); err != nil {
			return err
		}
		return e.liquidations.SetActive(liquidator, active)
	})
}

// RestoreMarket загружает рынок из хранилища при старте
func (e *TradingEngine) RestoreMarket(m *models.Market, params *models.RiskParameters) {
	e.markets.Restore(m, params)
}

// ============ Статус риска ============

// trackStatus переводит позицию в статус to по таблице переходов
func (e *TradingEngine) trackStatus(id common.Hash, to models.RiskStatus) {
	e.statusMu.Lock()
	defer e.statusMu.Unlock()

	from, ok := e.statuses[id]
	if !ok {
		if to != models.RiskClosed {
			e.statuses[id] = to
		}
		return
	}
	if from == to {
		return
	}
	if !from.CanTransition(to) {
		e.log.Warn("invalid risk status transition",
			utils.PositionID(id.Hex()),
			utils.String("from", string(from)),
			utils.String("to", string(to)),
		)
		return
	}
	RiskTransitions.WithLabelValues(string(from), string(to)).Inc()
	if to == models.RiskClosed {
		delete(e.statuses, id)
		return
	}
	e.statuses[id] = to
}

// refreshStatus пересчитывает статус по текущей цене (ошибки цены игнорируются)
func (e *TradingEngine) refreshStatus(ctx context.Context, p *models.Position) {
	a, err := e.risk.Assess(ctx, p)
	if err != nil {
		return
	}
	e.trackStatus(p.ID, a.Status)
}

// RiskStatus возвращает последний вычисленный статус позиции
func (e *TradingEngine) RiskStatus(id common.Hash) (models.RiskStatus, bool) {
	e.statusMu.Lock()
	defer e.statusMu.Unlock()
	s, ok := e.statuses[id]
	if !ok {
		return models.RiskClosed, false
	}
	return s, true
}

// ============ Read API ============

// GetPosition возвращает копию позиции
func (e *TradingEngine) GetPosition(id common.Hash) (*models.Position, error) {
	p, ok := e.store.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPositionNotFound, id.Hex())
	}
	return p, nil
}

// Positions возвращает все открытые позиции
func (e *TradingEngine) Positions() []*models.Position { return e.store.All() }

// PositionsByTrader возвращает позиции трейдера
func (e *TradingEngine) PositionsByTrader(trader common.Address) []*models.Position {
	return e.store.ByTrader(trader)
}

// Market возвращает рынок
func (e *TradingEngine) Market(symbol string) (*models.Market, error) {
	sym, err := utils.NormalizeSymbol(symbol)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return e.markets.Get(sym)
}

// Markets возвращает все рынки
func (e *TradingEngine) Markets() []*models.Market { return e.markets.All() }

// RiskParameters возвращает действующие параметры риска рынка
func (e *TradingEngine) RiskParameters(symbol string) models.RiskParameters {
	return e.markets.RiskParameters(symbol)
}

// TotalExposure - суммарный размер открытых позиций
func (e *TradingEngine) TotalExposure() decimal.Decimal { return e.store.TotalSize() }

// Risk возвращает движок риска
func (e *TradingEngine) Risk() *RiskEngine { return e.risk }

// Vault возвращает хранилище залога
func (e *TradingEngine) Vault() *ledger.Vault { return e.vault.Vault }

// RiskScore возвращает риск-скор трейдера
func (e *TradingEngine) RiskScore(trader common.Address) int64 { return e.risk.RiskScore(trader) }

// Nonce возвращает номер следующей позиции
func (e *TradingEngine) Nonce() uint64 { return e.nonce.Load() }

// CanOpenPosition - pre-trade проверка без изменения состояния
func (e *TradingEngine) CanOpenPosition(trader common.Address, symbol string, size, collateral decimal.Decimal) (bool, string) {
	sym, err := utils.NormalizeSymbol(symbol)
	if err != nil {
		return false, err.Error()
	}
	return e.risk.CanOpenPosition(trader, sym, size, collateral)
}

// CalculatePnL - PnL позиции по текущей цене
func (e *TradingEngine) CalculatePnL(ctx context.Context, id common.Hash) (decimal.Decimal, error) {
	p, err := e.GetPosition(id)
	if err != nil {
		return decimal.Zero, err
	}
	price, err := e.risk.Price(ctx, p.Symbol)
	if err != nil {
		return decimal.Zero, err
	}
	return CalculatePnL(p, price), nil
}

// GetFundingPayment - накопленный платёж фандинга позиции
func (e *TradingEngine) GetFundingPayment(id common.Hash) (decimal.Decimal, error) {
	p, err := e.GetPosition(id)
	if err != nil {
		return decimal.Zero, err
	}
	return e.funding.Payment(p)
}

// PositionRisk оценивает позицию по текущей цене и обновляет её статус
func (e *TradingEngine) PositionRisk(ctx context.Context, id common.Hash) (*PositionRisk, error) {
	p, err := e.GetPosition(id)
	if err != nil {
		return nil, err
	}
	return e.positionRisk(ctx, p)
}

func (e *TradingEngine) positionRisk(ctx context.Context, p *models.Position) (*PositionRisk, error) {
	a, err := e.risk.Assess(ctx, p)
	if err != nil {
		return nil, err
	}
	liqPrice, err := e.risk.LiquidationPrice(p)
	if err != nil {
		return nil, err
	}
	e.trackStatus(p.ID, a.Status)
	return &PositionRisk{
		Position:         p,
		Assessment:       a,
		LiquidationPrice: liqPrice,
		Healthy:          a.MarginRatio >= e.risk.HealthyThreshold(p.Trader, p.Symbol),
		Liquidatable:     a.Status.IsLiquidatable(),
	}, nil
}

// RefreshRiskStatus оценивает все позиции. Позиции без валидной цены пропускаются.
func (e *TradingEngine) RefreshRiskStatus(ctx context.Context) []*PositionRisk {
	positions := e.store.All()
	out := make([]*PositionRisk, 0, len(positions))
	for _, p := range positions {
		pr, err := e.positionRisk(ctx, p)
		if err != nil {
			e.log.Debug("skip position risk", utils.PositionID(p.ID.Hex()), utils.Err(err))
			continue
		}
		out = append(out, pr)
	}
	return out
}

// CheckSolvency проверяет balance >= locked = сумма залога позиций
func (e *TradingEngine) CheckSolvency(ctx context.Context) error {
	if err := e.vault.CheckSolvency(ctx); err != nil {
		return err
	}
	if total := e.store.TotalCollateral(); !total.Equal(e.vault.Locked()) {
		return fmt.Errorf("%w: locked %s, positions %s", ledger.ErrInsolvent, e.vault.Locked(), total)
	}
	return nil
}
