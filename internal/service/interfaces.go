package service

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"perpetual/internal/engine"
	"perpetual/internal/insurance"
	"perpetual/internal/keeper"
	"perpetual/internal/models"
	"perpetual/internal/oracle"
	"perpetual/internal/repository"
	"perpetual/internal/websocket"
)

// EventRepositoryInterface определяет интерфейс журнала событий
type EventRepositoryInterface interface {
	Create(e *models.Event) error
	GetRecent(limit int) ([]*models.Event, error)
	GetByPosition(positionID string) ([]*models.Event, error)
	GetByType(eventType string, limit int) ([]*models.Event, error)
	Count() (int, error)
	DeleteOlderThan(timestamp time.Time) (int64, error)
}

// PositionRepositoryInterface определяет интерфейс зеркала позиций
type PositionRepositoryInterface interface {
	Upsert(p *models.Position) error
	UpdateCollateral(id common.Hash, collateral decimal.Decimal) error
	UpdateSize(id common.Hash, size, collateral decimal.Decimal) error
	Delete(id common.Hash) error
	GetByID(id common.Hash) (*models.Position, error)
	GetByTrader(trader common.Address) ([]*models.Position, error)
	GetAll() ([]*models.Position, error)
}

// MarketRepositoryInterface определяет интерфейс репозитория рынков
type MarketRepositoryInterface interface {
	SaveMarket(m *models.Market) error
	SaveRiskParameters(symbol string, p models.RiskParameters) error
	SetActive(symbol string, active bool) error
	GetAll() ([]*models.Market, error)
	GetRiskParameters(symbol string) (models.RiskParameters, error)
}

// EventBroadcaster - рассылка событий подписчикам (WebSocket hub)
type EventBroadcaster interface {
	BroadcastEvent(e models.Event)
}

// StateReader - чтение текущего состояния движка для зеркалирования
type StateReader interface {
	GetPosition(id common.Hash) (*models.Position, error)
	Market(symbol string) (*models.Market, error)
}

// Проверяем, что реальные репозитории реализуют интерфейсы
var _ EventRepositoryInterface = (*repository.EventRepository)(nil)
var _ PositionRepositoryInterface = (*repository.PositionRepository)(nil)
var _ MarketRepositoryInterface = (*repository.MarketRepository)(nil)
var _ EventBroadcaster = (*websocket.Hub)(nil)

// ============ Интерфейсы сервисов для Dependency Injection ============

// TradingServiceInterface определяет операции трейдеров, ликвидаторов и чтение состояния
type TradingServiceInterface interface {
	OpenPosition(ctx context.Context, trader common.Address, req *OpenPositionRequest) (*models.Position, error)
	ClosePosition(ctx context.Context, trader common.Address, positionID string, req *ClosePositionRequest) (*engine.CloseResult, error)
	AddCollateral(ctx context.Context, trader common.Address, positionID string, req *AmountRequest) (*models.Position, error)
	RemoveCollateral(ctx context.Context, trader common.Address, positionID string, req *AmountRequest) (*models.Position, error)
	GetPosition(ctx context.Context, positionID string) (*engine.PositionRisk, error)
	ListPositions(trader string) ([]*models.Position, error)

	Markets() []MarketInfo
	Market(symbol string) (*MarketInfo, error)
	UpdateFunding(ctx context.Context, symbol string) (*models.Market, error)

	RegisterLiquidator(ctx context.Context, liquidator common.Address) (*models.LiquidatorInfo, error)
	Liquidator(address string) (*models.LiquidatorInfo, error)
	Liquidators() []*models.LiquidatorInfo
	Liquidate(ctx context.Context, liquidator common.Address, positionID string) (*engine.LiquidationResult, error)
	EstimateLiquidation(ctx context.Context, liquidator common.Address, positionID string) (*engine.LiquidationResult, error)

	KeeperTargets(limit int) ([]keeper.Target, error)
	RefreshKeeperTargets(ctx context.Context) (*RefreshResult, error)
	ExecuteLiquidations(ctx context.Context, req *ExecuteLiquidationsRequest) (*keeper.BatchResult, error)
	LastKeeperBatch() (*keeper.BatchResult, error)

	Price(ctx context.Context, symbol string) (oracle.PriceData, error)
	TWAP(ctx context.Context, symbol string, period time.Duration) (decimal.Decimal, error)

	InsuranceStatus() (*models.InsuranceStatus, error)
	Contribute(ctx context.Context, contributor common.Address, req *AmountRequest) (*models.InsuranceStatus, error)
	Claims(status string) ([]*models.InsuranceClaim, error)
	DistributeRewards(ctx context.Context) ([]insurance.Distribution, error)

	CheckSolvency(ctx context.Context) error
}

// GovernanceServiceInterface определяет действия governance принципала
type GovernanceServiceInterface interface {
	AddMarket(ctx context.Context, req *AddMarketRequest) (*MarketInfo, error)
	SetRiskParameters(ctx context.Context, symbol string, params models.RiskParameters) (*MarketInfo, error)
	SetMarketActive(ctx context.Context, symbol string, active bool) (*models.Market, error)
	SetLiquidatorActive(ctx context.Context, address string, active bool) (*models.LiquidatorInfo, error)
	AuthorizeClaimant(address string, allowed bool) error
	ApproveClaim(ctx context.Context, id uint64) (*models.InsuranceClaim, error)
	RejectClaim(ctx context.Context, id uint64) (*models.InsuranceClaim, error)
	PayClaim(ctx context.Context, id uint64) (*models.InsuranceClaim, error)
	SetManualPrice(symbol string, req *ManualPriceRequest) error
}

// EventServiceInterface определяет чтение журнала событий
type EventServiceInterface interface {
	GetRecent(eventType string, limit int) ([]*models.Event, error)
	GetPositionHistory(positionID string) ([]*models.Event, error)
	Count() (int, error)
}

// Проверяем, что реальные сервисы реализуют интерфейсы
var _ TradingServiceInterface = (*TradingService)(nil)
var _ GovernanceServiceInterface = (*GovernanceService)(nil)
var _ EventServiceInterface = (*EventService)(nil)
