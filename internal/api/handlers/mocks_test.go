package handlers

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"perpetual/internal/engine"
	"perpetual/internal/insurance"
	"perpetual/internal/keeper"
	"perpetual/internal/models"
	"perpetual/internal/oracle"
	"perpetual/internal/service"
)

// ErrMockDatabase - ошибка хранилища для тестов (500)
var ErrMockDatabase = errors.New("mock database error")

var (
	testTrader = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	testID     = common.HexToHash("0x01")
)

// ============ MockTradingService ============

// MockTradingService - мок TradingServiceInterface.
// Неиспользуемые методы приходят из встроенного интерфейса (nil) и паникуют.
type MockTradingService struct {
	service.TradingServiceInterface

	mu        sync.Mutex
	positions map[common.Hash]*models.Position
	markets   map[string]*service.MarketInfo
	errors    map[string]error

	lastTrader common.Address
	lastOpen   *service.OpenPositionRequest
	lastAmount string
	lastPeriod time.Duration
	lastLimit  int
	lastStatus string
}

func NewMockTradingService() *MockTradingService {
	m := &MockTradingService{
		positions: make(map[common.Hash]*models.Position),
		markets:   make(map[string]*service.MarketInfo),
		errors:    make(map[string]error),
	}
	m.markets["ETH/USD"] = &service.MarketInfo{
		Market:         &models.Market{Symbol: "ETH/USD", MaxLeverage: 20, IsActive: true},
		RiskParameters: models.DefaultRiskParameters(),
	}
	m.positions[testID] = &models.Position{
		ID:         testID,
		Trader:     testTrader,
		Symbol:     "ETH/USD",
		Size:       decimal.NewFromInt(1000),
		Collateral: decimal.NewFromInt(100),
		EntryPrice: decimal.NewFromInt(2000),
		IsLong:     true,
	}
	return m
}

func (m *MockTradingService) SetError(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors[op] = err
}

func (m *MockTradingService) err(op string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.errors[op]
}

func (m *MockTradingService) position(id string) (*models.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !strings.HasPrefix(id, "0x") {
		return nil, fmt.Errorf("%w: invalid position id", engine.ErrValidation)
	}
	pos, ok := m.positions[common.HexToHash(id)]
	if !ok {
		return nil, engine.ErrPositionNotFound
	}
	return pos, nil
}

func (m *MockTradingService) OpenPosition(ctx context.Context, trader common.Address, req *service.OpenPositionRequest) (*models.Position, error) {
	if err := m.err("open"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.lastTrader = trader
	m.lastOpen = req
	m.mu.Unlock()
	return &models.Position{ID: testID, Trader: trader, Symbol: req.Symbol, IsLong: req.IsLong}, nil
}

func (m *MockTradingService) ClosePosition(ctx context.Context, trader common.Address, positionID string, req *service.ClosePositionRequest) (*engine.CloseResult, error) {
	if err := m.err("close"); err != nil {
		return nil, err
	}
	pos, err := m.position(positionID)
	if err != nil {
		return nil, err
	}
	if pos.Trader != trader {
		return nil, engine.ErrNotOwner
	}
	return &engine.CloseResult{PositionID: pos.ID, Payout: decimal.NewFromInt(120)}, nil
}

func (m *MockTradingService) AddCollateral(ctx context.Context, trader common.Address, positionID string, req *service.AmountRequest) (*models.Position, error) {
	pos, err := m.position(positionID)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.lastAmount = req.Amount
	m.mu.Unlock()
	return pos, nil
}

func (m *MockTradingService) RemoveCollateral(ctx context.Context, trader common.Address, positionID string, req *service.AmountRequest) (*models.Position, error) {
	if err := m.err("remove"); err != nil {
		return nil, err
	}
	pos, err := m.position(positionID)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.lastAmount = req.Amount
	m.mu.Unlock()
	return pos, nil
}

func (m *MockTradingService) GetPosition(ctx context.Context, positionID string) (*engine.PositionRisk, error) {
	pos, err := m.position(positionID)
	if err != nil {
		return nil, err
	}
	return &engine.PositionRisk{Position: pos, Healthy: true}, nil
}

func (m *MockTradingService) ListPositions(trader string) ([]*models.Position, error) {
	if err := m.err("list"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.Position, 0, len(m.positions))
	for _, p := range m.positions {
		if trader == "" || strings.EqualFold(p.Trader.Hex(), trader) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *MockTradingService) Markets() []service.MarketInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]service.MarketInfo, 0, len(m.markets))
	for _, mi := range m.markets {
		out = append(out, *mi)
	}
	return out
}

func (m *MockTradingService) Market(symbol string) (*service.MarketInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mi, ok := m.markets[symbol]
	if !ok {
		return nil, engine.ErrMarketNotFound
	}
	return mi, nil
}

func (m *MockTradingService) UpdateFunding(ctx context.Context, symbol string) (*models.Market, error) {
	if err := m.err("funding"); err != nil {
		return nil, err
	}
	mi, err := m.Market(symbol)
	if err != nil {
		return nil, err
	}
	return mi.Market, nil
}

func (m *MockTradingService) RegisterLiquidator(ctx context.Context, liquidator common.Address) (*models.LiquidatorInfo, error) {
	if err := m.err("register"); err != nil {
		return nil, err
	}
	return &models.LiquidatorInfo{Address: liquidator, IsActive: true}, nil
}

func (m *MockTradingService) Liquidators() []*models.LiquidatorInfo {
	return []*models.LiquidatorInfo{{Address: testTrader, IsActive: true}}
}

func (m *MockTradingService) Liquidator(address string) (*models.LiquidatorInfo, error) {
	if !strings.EqualFold(address, testTrader.Hex()) {
		return nil, engine.ErrLiquidatorNotRegistered
	}
	return &models.LiquidatorInfo{Address: testTrader, IsActive: true}, nil
}

func (m *MockTradingService) Liquidate(ctx context.Context, liquidator common.Address, positionID string) (*engine.LiquidationResult, error) {
	if err := m.err("liquidate"); err != nil {
		return nil, err
	}
	pos, err := m.position(positionID)
	if err != nil {
		return nil, err
	}
	return &engine.LiquidationResult{PositionID: pos.ID, Liquidator: liquidator, Full: true}, nil
}

func (m *MockTradingService) EstimateLiquidation(ctx context.Context, liquidator common.Address, positionID string) (*engine.LiquidationResult, error) {
	return m.Liquidate(ctx, liquidator, positionID)
}

func (m *MockTradingService) KeeperTargets(limit int) ([]keeper.Target, error) {
	if err := m.err("targets"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.lastLimit = limit
	m.mu.Unlock()
	return []keeper.Target{{PositionID: testID, Symbol: "ETH/USD", Liquidatable: true}}, nil
}

func (m *MockTradingService) RefreshKeeperTargets(ctx context.Context) (*service.RefreshResult, error) {
	return &service.RefreshResult{Discovered: 1, Monitored: 1}, nil
}

func (m *MockTradingService) ExecuteLiquidations(ctx context.Context, req *service.ExecuteLiquidationsRequest) (*keeper.BatchResult, error) {
	if len(req.PositionIDs) == 0 {
		return nil, keeper.ErrEmptyBatch
	}
	return &keeper.BatchResult{RunID: "run-1", GasPrice: req.GasPrice, Liquidated: len(req.PositionIDs)}, nil
}

func (m *MockTradingService) LastKeeperBatch() (*keeper.BatchResult, error) {
	if err := m.err("last-batch"); err != nil {
		return nil, err
	}
	return nil, nil
}

func (m *MockTradingService) Price(ctx context.Context, symbol string) (oracle.PriceData, error) {
	if symbol != "ETH/USD" {
		return oracle.PriceData{}, oracle.ErrUnknownSymbol
	}
	return oracle.PriceData{Price: decimal.NewFromInt(2000), Confidence: 100, IsValid: true}, nil
}

func (m *MockTradingService) TWAP(ctx context.Context, symbol string, period time.Duration) (decimal.Decimal, error) {
	m.mu.Lock()
	m.lastPeriod = period
	m.mu.Unlock()
	if period > 24*time.Hour {
		return decimal.Zero, fmt.Errorf("%w: twap period too long", engine.ErrValidation)
	}
	return decimal.NewFromInt(2050), nil
}

func (m *MockTradingService) InsuranceStatus() (*models.InsuranceStatus, error) {
	if err := m.err("insurance"); err != nil {
		return nil, err
	}
	return &models.InsuranceStatus{Balance: decimal.NewFromInt(500)}, nil
}

func (m *MockTradingService) Contribute(ctx context.Context, contributor common.Address, req *service.AmountRequest) (*models.InsuranceStatus, error) {
	if err := m.err("contribute"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.lastTrader = contributor
	m.lastAmount = req.Amount
	m.mu.Unlock()
	return &models.InsuranceStatus{Balance: decimal.RequireFromString(req.Amount)}, nil
}

func (m *MockTradingService) Claims(status string) ([]*models.InsuranceClaim, error) {
	m.mu.Lock()
	m.lastStatus = status
	m.mu.Unlock()
	return []*models.InsuranceClaim{{ID: 1, Status: models.ClaimPending}}, nil
}

func (m *MockTradingService) DistributeRewards(ctx context.Context) ([]insurance.Distribution, error) {
	if err := m.err("distribute"); err != nil {
		return nil, err
	}
	return []insurance.Distribution{}, nil
}

func (m *MockTradingService) CheckSolvency(ctx context.Context) error {
	return m.err("solvency")
}

// ============ MockGovernanceService ============

type MockGovernanceService struct {
	service.GovernanceServiceInterface

	mu       sync.Mutex
	errors   map[string]error
	calls    []string
	lastBool bool
}

func NewMockGovernanceService() *MockGovernanceService {
	return &MockGovernanceService{errors: make(map[string]error)}
}

func (m *MockGovernanceService) SetError(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors[op] = err
}

func (m *MockGovernanceService) record(op string, b bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, op)
	m.lastBool = b
	return m.errors[op]
}

func (m *MockGovernanceService) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

func (m *MockGovernanceService) AddMarket(ctx context.Context, req *service.AddMarketRequest) (*service.MarketInfo, error) {
	if err := m.record("add-market", false); err != nil {
		return nil, err
	}
	return &service.MarketInfo{
		Market:         &models.Market{Symbol: req.Symbol, MaxLeverage: req.MaxLeverage, IsActive: true},
		RiskParameters: models.DefaultRiskParameters(),
	}, nil
}

func (m *MockGovernanceService) SetRiskParameters(ctx context.Context, symbol string, params models.RiskParameters) (*service.MarketInfo, error) {
	if err := m.record("risk:"+symbol, false); err != nil {
		return nil, err
	}
	return &service.MarketInfo{Market: &models.Market{Symbol: symbol}, RiskParameters: params}, nil
}

func (m *MockGovernanceService) SetMarketActive(ctx context.Context, symbol string, active bool) (*models.Market, error) {
	if err := m.record("active:"+symbol, active); err != nil {
		return nil, err
	}
	return &models.Market{Symbol: symbol, IsActive: active}, nil
}

func (m *MockGovernanceService) SetLiquidatorActive(ctx context.Context, address string, active bool) (*models.LiquidatorInfo, error) {
	if err := m.record("liquidator", active); err != nil {
		return nil, err
	}
	return &models.LiquidatorInfo{Address: common.HexToAddress(address), IsActive: active}, nil
}

func (m *MockGovernanceService) AuthorizeClaimant(address string, allowed bool) error {
	return m.record("claimant", allowed)
}

func (m *MockGovernanceService) claim(op string, id uint64, status models.ClaimStatus) (*models.InsuranceClaim, error) {
	if err := m.record(fmt.Sprintf("%s:%d", op, id), false); err != nil {
		return nil, err
	}
	return &models.InsuranceClaim{ID: id, Status: status}, nil
}

func (m *MockGovernanceService) ApproveClaim(ctx context.Context, id uint64) (*models.InsuranceClaim, error) {
	return m.claim("approve", id, models.ClaimApproved)
}

func (m *MockGovernanceService) RejectClaim(ctx context.Context, id uint64) (*models.InsuranceClaim, error) {
	return m.claim("reject", id, models.ClaimRejected)
}

func (m *MockGovernanceService) PayClaim(ctx context.Context, id uint64) (*models.InsuranceClaim, error) {
	return m.claim("pay", id, models.ClaimPaid)
}

func (m *MockGovernanceService) SetManualPrice(symbol string, req *service.ManualPriceRequest) error {
	return m.record("price:"+symbol, false)
}

// ============ MockEventService ============

type MockEventService struct {
	events   []*models.Event
	err      error
	lastType string
}

func NewMockEventService() *MockEventService {
	return &MockEventService{events: []*models.Event{
		{ID: "e1", Type: models.EventPositionOpened, PositionID: testID.Hex()},
		{ID: "e2", Type: models.EventPositionClosed, PositionID: testID.Hex()},
	}}
}

func (m *MockEventService) GetRecent(eventType string, limit int) ([]*models.Event, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.lastType = eventType
	out := make([]*models.Event, 0, len(m.events))
	for _, e := range m.events {
		if eventType == "" || e.Type == eventType {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *MockEventService) GetPositionHistory(positionID string) ([]*models.Event, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.events, nil
}

func (m *MockEventService) Count() (int, error) {
	return len(m.events), m.err
}
