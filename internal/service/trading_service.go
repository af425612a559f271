package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"perpetual/internal/engine"
	"perpetual/internal/insurance"
	"perpetual/internal/keeper"
	"perpetual/internal/models"
	"perpetual/internal/oracle"
	"perpetual/pkg/utils"
)

// Ошибки сервиса
var (
	// ErrUnavailable - компонент не сконфигурирован (кипер, страховой фонд)
	ErrUnavailable = errors.New("component unavailable")

	ErrKeeperDisabled    = fmt.Errorf("%w: keeper is disabled", ErrUnavailable)
	ErrInsuranceDisabled = fmt.Errorf("%w: insurance fund is disabled", ErrUnavailable)
)

const (
	defaultTargetsLimit = 50
	maxTargetsLimit     = 500
	maxTWAPPeriod       = 24 * time.Hour
)

// ============ Запросы ============

// OpenPositionRequest - открытие позиции. Суммы - десятичные строки.
type OpenPositionRequest struct {
	Symbol         string `json:"symbol"`
	Size           string `json:"size"`
	Collateral     string `json:"collateral"`
	IsLong         bool   `json:"is_long"`
	MaxSlippageBps int64  `json:"max_slippage_bps"`
}

// ClosePositionRequest - закрытие позиции
type ClosePositionRequest struct {
	MaxSlippageBps int64 `json:"max_slippage_bps"`
}

// AmountRequest - запрос с одной суммой (залог, взнос в фонд)
type AmountRequest struct {
	Amount string `json:"amount"`
}

// ExecuteLiquidationsRequest - батч ликвидаций кипера.
// Пустой Keeper - вознаграждение остаётся на адресе бота.
type ExecuteLiquidationsRequest struct {
	PositionIDs []string `json:"position_ids"`
	GasPrice    uint64   `json:"gas_price"`
	Keeper      string   `json:"keeper,omitempty"`
}

// ============ Ответы ============

// MarketInfo - рынок вместе с действующими параметрами риска
type MarketInfo struct {
	*models.Market
	RiskParameters models.RiskParameters `json:"risk_parameters"`
}

// RefreshResult - итог обновления списка целей кипера
type RefreshResult struct {
	Removed    int `json:"removed"`
	Discovered int `json:"discovered"`
	Monitored  int `json:"monitored"`
}

// TradingService - операции трейдеров, ликвидаторов и читателей состояния.
//
// Разбирает HTTP запросы (десятичные строки, hex ID) и делегирует
// движку, киперу, оракулу и страховому фонду. Все ошибки разбора
// оборачивают engine.ErrValidation.
type TradingService struct {
	engine *engine.TradingEngine
	bot    *keeper.LiquidationBot
	runner *keeper.Runner
	prices *oracle.Aggregator
	fund   *insurance.Fund
	log    *utils.Logger
}

// NewTradingService создает TradingService. bot, runner и fund могут быть nil.
func NewTradingService(
	eng *engine.TradingEngine,
	bot *keeper.LiquidationBot,
	runner *keeper.Runner,
	prices *oracle.Aggregator,
	fund *insurance.Fund,
	log *utils.Logger,
) *TradingService {
	if log == nil {
		log = utils.NewNopLogger()
	}
	return &TradingService{
		engine: eng,
		bot:    bot,
		runner: runner,
		prices: prices,
		fund:   fund,
		log:    log.WithComponent("trading_service"),
	}
}

// ============ Позиции ============

// OpenPosition открывает позицию трейдера
func (s *TradingService) OpenPosition(ctx context.Context, trader common.Address, req *OpenPositionRequest) (*models.Position, error) {
	size, err := parseAmount("size", req.Size)
	if err != nil {
		return nil, err
	}
	collateral, err := parseAmount("collateral", req.Collateral)
	if err != nil {
		return nil, err
	}
	return s.engine.OpenPosition(ctx, trader, req.Symbol, size, collateral, req.IsLong, req.MaxSlippageBps)
}

// ClosePosition закрывает позицию владельца
func (s *TradingService) ClosePosition(ctx context.Context, trader common.Address, positionID string, req *ClosePositionRequest) (*engine.CloseResult, error) {
	id, err := parsePositionID(positionID)
	if err != nil {
		return nil, err
	}
	var bps int64
	if req != nil {
		bps = req.MaxSlippageBps
	}
	return s.engine.ClosePosition(ctx, trader, id, bps)
}

// AddCollateral добавляет залог
func (s *TradingService) AddCollateral(ctx context.Context, trader common.Address, positionID string, req *AmountRequest) (*models.Position, error) {
	id, amount, err := parseIDAndAmount(positionID, req)
	if err != nil {
		return nil, err
	}
	return s.engine.AddCollateral(ctx, trader, id, amount)
}

// RemoveCollateral выводит залог
func (s *TradingService) RemoveCollateral(ctx context.Context, trader common.Address, positionID string, req *AmountRequest) (*models.Position, error) {
	id, amount, err := parseIDAndAmount(positionID, req)
	if err != nil {
		return nil, err
	}
	return s.engine.RemoveCollateral(ctx, trader, id, amount)
}

// GetPosition возвращает позицию с оценкой риска
func (s *TradingService) GetPosition(ctx context.Context, positionID string) (*engine.PositionRisk, error) {
	id, err := parsePositionID(positionID)
	if err != nil {
		return nil, err
	}
	return s.engine.PositionRisk(ctx, id)
}

// ListPositions возвращает позиции трейдера или все позиции при пустом trader
func (s *TradingService) ListPositions(trader string) ([]*models.Position, error) {
	if trader == "" {
		return s.engine.Positions(), nil
	}
	addr, err := parseAddress(trader)
	if err != nil {
		return nil, err
	}
	return s.engine.PositionsByTrader(addr), nil
}

// ============ Рынки и фандинг ============

// Markets возвращает все рынки с параметрами риска
func (s *TradingService) Markets() []MarketInfo {
	markets := s.engine.Markets()
	out := make([]MarketInfo, 0, len(markets))
	for _, m := range markets {
		out = append(out, MarketInfo{Market: m, RiskParameters: s.engine.RiskParameters(m.Symbol)})
	}
	return out
}

// Market возвращает рынок по символу
func (s *TradingService) Market(symbol string) (*MarketInfo, error) {
	m, err := s.engine.Market(symbol)
	if err != nil {
		return nil, err
	}
	return &MarketInfo{Market: m, RiskParameters: s.engine.RiskParameters(m.Symbol)}, nil
}

// UpdateFunding пересчитывает ставку фандинга (permissionless)
func (s *TradingService) UpdateFunding(ctx context.Context, symbol string) (*models.Market, error) {
	return s.engine.UpdateFundingRate(ctx, symbol)
}

// ============ Ликвидации ============

// RegisterLiquidator регистрирует вызывающего как ликвидатора
func (s *TradingService) RegisterLiquidator(ctx context.Context, liquidator common.Address) (*models.LiquidatorInfo, error) {
	return s.engine.RegisterLiquidator(ctx, liquidator)
}

// Liquidator возвращает статистику ликвидатора
func (s *TradingService) Liquidator(address string) (*models.LiquidatorInfo, error) {
	addr, err := parseAddress(address)
	if err != nil {
		return nil, err
	}
	return s.engine.Liquidator(addr)
}

// Liquidators возвращает всех ликвидаторов
func (s *TradingService) Liquidators() []*models.LiquidatorInfo {
	return s.engine.Liquidators()
}

// Liquidate ликвидирует позицию от имени ликвидатора
func (s *TradingService) Liquidate(ctx context.Context, liquidator common.Address, positionID string) (*engine.LiquidationResult, error) {
	id, err := parsePositionID(positionID)
	if err != nil {
		return nil, err
	}
	return s.engine.Liquidate(ctx, liquidator, id)
}

// EstimateLiquidation считает итог ликвидации без изменения состояния
func (s *TradingService) EstimateLiquidation(ctx context.Context, liquidator common.Address, positionID string) (*engine.LiquidationResult, error) {
	id, err := parsePositionID(positionID)
	if err != nil {
		return nil, err
	}
	return s.engine.EstimateLiquidation(ctx, liquidator, id)
}

// ============ Кипер ============

// KeeperTargets возвращает цели кипера по убыванию приоритета
func (s *TradingService) KeeperTargets(limit int) ([]keeper.Target, error) {
	if s.bot == nil {
		return nil, ErrKeeperDisabled
	}
	if limit <= 0 {
		limit = defaultTargetsLimit
	}
	if limit > maxTargetsLimit {
		limit = maxTargetsLimit
	}
	return s.bot.TopTargets(limit), nil
}

// RefreshKeeperTargets обновляет оценки целей и ищет новые
func (s *TradingService) RefreshKeeperTargets(ctx context.Context) (*RefreshResult, error) {
	if s.bot == nil {
		return nil, ErrKeeperDisabled
	}
	removed, err := s.bot.RefreshTargets(ctx)
	if err != nil {
		return nil, err
	}
	discovered := s.bot.DiscoverTargets(ctx)
	return &RefreshResult{
		Removed:    removed,
		Discovered: discovered,
		Monitored:  s.bot.TargetCount(),
	}, nil
}

// ExecuteLiquidations выполняет батч ликвидаций кипера
func (s *TradingService) ExecuteLiquidations(ctx context.Context, req *ExecuteLiquidationsRequest) (*keeper.BatchResult, error) {
	if s.bot == nil {
		return nil, ErrKeeperDisabled
	}
	ids := make([]common.Hash, 0, len(req.PositionIDs))
	for _, raw := range req.PositionIDs {
		id, err := parsePositionID(raw)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	var beneficiary common.Address
	if req.Keeper != "" {
		addr, err := parseAddress(req.Keeper)
		if err != nil {
			return nil, err
		}
		beneficiary = addr
	}
	return s.bot.ExecuteLiquidations(ctx, beneficiary, ids, req.GasPrice)
}

// LastKeeperBatch возвращает итог последнего автоматического батча
func (s *TradingService) LastKeeperBatch() (*keeper.BatchResult, error) {
	if s.runner == nil {
		return nil, ErrKeeperDisabled
	}
	return s.runner.LastBatch(), nil
}

// ============ Цены ============

// Price возвращает агрегированную цену символа
func (s *TradingService) Price(ctx context.Context, symbol string) (oracle.PriceData, error) {
	sym, err := normalizeSymbol(symbol)
	if err != nil {
		return oracle.PriceData{}, err
	}
	return s.prices.GetPrice(ctx, sym)
}

// TWAP возвращает среднюю цену за period
func (s *TradingService) TWAP(ctx context.Context, symbol string, period time.Duration) (decimal.Decimal, error) {
	sym, err := normalizeSymbol(symbol)
	if err != nil {
		return decimal.Zero, err
	}
	if period <= 0 || period > maxTWAPPeriod {
		return decimal.Zero, fmt.Errorf("%w: twap period must be within (0, %s]", engine.ErrValidation, maxTWAPPeriod)
	}
	return s.prices.GetTWAP(ctx, sym, period)
}

// ============ Страховой фонд ============

// InsuranceStatus возвращает состояние страхового фонда
func (s *TradingService) InsuranceStatus() (*models.InsuranceStatus, error) {
	if s.fund == nil {
		return nil, ErrInsuranceDisabled
	}
	st := s.fund.Status()
	return &st, nil
}

// Contribute вносит средства в страховой фонд
func (s *TradingService) Contribute(ctx context.Context, contributor common.Address, req *AmountRequest) (*models.InsuranceStatus, error) {
	if s.fund == nil {
		return nil, ErrInsuranceDisabled
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		return nil, err
	}
	if err := s.fund.Contribute(ctx, contributor, amount); err != nil {
		return nil, err
	}
	st := s.fund.Status()
	return &st, nil
}

// Claims возвращает заявки фонда, опционально по статусу
func (s *TradingService) Claims(status string) ([]*models.InsuranceClaim, error) {
	if s.fund == nil {
		return nil, ErrInsuranceDisabled
	}
	st := models.ClaimStatus(status)
	switch st {
	case "", models.ClaimPending, models.ClaimApproved, models.ClaimPaid, models.ClaimRejected:
	default:
		return nil, fmt.Errorf("%w: unknown claim status %q", engine.ErrValidation, status)
	}
	return s.fund.Claims(st), nil
}

// DistributeRewards распределяет вознаграждения участникам фонда (permissionless)
func (s *TradingService) DistributeRewards(ctx context.Context) ([]insurance.Distribution, error) {
	if s.fund == nil {
		return nil, ErrInsuranceDisabled
	}
	return s.fund.DistributeRewards(ctx)
}

// ============ Состояние ============

// CheckSolvency проверяет баланс хранилища против заблокированного залога
func (s *TradingService) CheckSolvency(ctx context.Context) error {
	return s.engine.CheckSolvency(ctx)
}

// ============ Разбор входных данных ============

func parseAmount(field, raw string) (decimal.Decimal, error) {
	d, err := utils.ParseAmount(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %s: %v", engine.ErrValidation, field, err)
	}
	return d, nil
}

func parsePositionID(raw string) (common.Hash, error) {
	id, err := utils.ParsePositionID(raw)
	if err != nil {
		return common.Hash{}, fmt.Errorf("%w: %v", engine.ErrValidation, err)
	}
	return id, nil
}

func parseAddress(raw string) (common.Address, error) {
	addr, err := utils.ParseAddress(raw)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", engine.ErrValidation, err)
	}
	return addr, nil
}

func normalizeSymbol(raw string) (string, error) {
	sym, err := utils.NormalizeSymbol(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", engine.ErrValidation, err)
	}
	return sym, nil
}

func parseIDAndAmount(positionID string, req *AmountRequest) (common.Hash, decimal.Decimal, error) {
	id, err := parsePositionID(positionID)
	if err != nil {
		return common.Hash{}, decimal.Zero, err
	}
	if req == nil {
		return common.Hash{}, decimal.Zero, fmt.Errorf("%w: amount is required", engine.ErrValidation)
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		return common.Hash{}, decimal.Zero, err
	}
	return id, amount, nil
}
