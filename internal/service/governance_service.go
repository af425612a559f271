package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"perpetual/internal/engine"
	"perpetual/internal/insurance"
	"perpetual/internal/models"
	"perpetual/internal/oracle"
	"perpetual/internal/repository"
	"perpetual/pkg/utils"
)

// ErrPersistence - состояние движка изменено, но запись в БД не удалась
var ErrPersistence = errors.New("persistence failed")

// AddMarketRequest - создание рынка
type AddMarketRequest struct {
	Symbol         string                 `json:"symbol"`
	MaxLeverage    int64                  `json:"max_leverage"`
	RiskParameters *models.RiskParameters `json:"risk_parameters,omitempty"`
}

// ManualPriceRequest - ручная цена (fallback источник оракула)
type ManualPriceRequest struct {
	Price      string `json:"price"`
	Confidence uint8  `json:"confidence"`
}

// GovernanceService - действия governance принципала.
//
// HTTP слой аутентифицирует принципала, сервис выполняет действие от
// адреса governance и сохраняет конфигурацию рынков в БД, чтобы после
// рестарта LoadMarkets восстановил её.
type GovernanceService struct {
	engine     *engine.TradingEngine
	fund       *insurance.Fund
	manual     *oracle.ManualSource
	markets    MarketRepositoryInterface
	governance common.Address
	log        *utils.Logger
}

// NewGovernanceService создает GovernanceService. fund и manual могут быть nil.
func NewGovernanceService(
	eng *engine.TradingEngine,
	fund *insurance.Fund,
	manual *oracle.ManualSource,
	markets MarketRepositoryInterface,
	log *utils.Logger,
) *GovernanceService {
	if log == nil {
		log = utils.NewNopLogger()
	}
	return &GovernanceService{
		engine:     eng,
		fund:       fund,
		manual:     manual,
		markets:    markets,
		governance: eng.Governance(),
		log:        log.WithComponent("governance"),
	}
}

// ============ Рынки ============

// AddMarket создает рынок и, если заданы, его параметры риска
func (s *GovernanceService) AddMarket(ctx context.Context, req *AddMarketRequest) (*MarketInfo, error) {
	if req.RiskParameters != nil {
		if err := req.RiskParameters.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %v", engine.ErrValidation, err)
		}
	}

	m, err := s.engine.AddMarket(ctx, s.governance, req.Symbol, req.MaxLeverage)
	if err != nil {
		return nil, err
	}
	if req.RiskParameters != nil {
		if err := s.engine.SetRiskParameters(ctx, s.governance, m.Symbol, *req.RiskParameters); err != nil {
			return nil, err
		}
	}

	if err := s.persistMarket(m.Symbol); err != nil {
		return nil, err
	}
	return &MarketInfo{Market: m, RiskParameters: s.engine.RiskParameters(m.Symbol)}, nil
}

// SetRiskParameters задаёт параметры риска рынка
func (s *GovernanceService) SetRiskParameters(ctx context.Context, symbol string, params models.RiskParameters) (*MarketInfo, error) {
	if err := s.engine.SetRiskParameters(ctx, s.governance, symbol, params); err != nil {
		return nil, err
	}
	m, err := s.engine.Market(symbol)
	if err != nil {
		return nil, err
	}
	if err := s.markets.SaveRiskParameters(m.Symbol, params); err != nil {
		return nil, s.persistFailed("save risk parameters", m.Symbol, err)
	}
	return &MarketInfo{Market: m, RiskParameters: params}, nil
}

// SetMarketActive включает или отключает рынок
func (s *GovernanceService) SetMarketActive(ctx context.Context, symbol string, active bool) (*models.Market, error) {
	m, err := s.engine.SetMarketActive(ctx, s.governance, symbol, active)
	if err != nil {
		return nil, err
	}
	if err := s.markets.SetActive(m.Symbol, active); err != nil {
		if !errors.Is(err, repository.ErrMarketNotFound) {
			return nil, s.persistFailed("set market active", m.Symbol, err)
		}
		if err := s.persistMarket(m.Symbol); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// persistMarket сохраняет рынок и его собственные параметры риска
func (s *GovernanceService) persistMarket(symbol string) error {
	m, err := s.engine.Market(symbol)
	if err != nil {
		return err
	}
	if err := s.markets.SaveMarket(m); err != nil {
		return s.persistFailed("save market", symbol, err)
	}
	if err := s.markets.SaveRiskParameters(symbol, s.engine.RiskParameters(symbol)); err != nil {
		return s.persistFailed("save risk parameters", symbol, err)
	}
	return nil
}

func (s *GovernanceService) persistFailed(op, symbol string, err error) error {
	s.log.Error("governance change not persisted", utils.String("op", op), utils.Symbol(symbol), utils.Err(err))
	return fmt.Errorf("%w: %s %s: %v", ErrPersistence, op, symbol, err)
}

// LoadMarkets восстанавливает рынки при старте.
//
// Если в БД есть рынки, они загружаются вместе с параметрами риска.
// Открытый интерес обнуляется: позиции при рестарте не восстанавливаются.
// Иначе рынки создаются из seed и сохраняются. Возвращает число рынков.
func (s *GovernanceService) LoadMarkets(ctx context.Context, seeds []models.MarketSeed) (int, error) {
	stored, err := s.markets.GetAll()
	if err != nil {
		return 0, fmt.Errorf("load markets: %w", err)
	}

	if len(stored) > 0 {
		for _, m := range stored {
			m.OpenInterestLong = decimal.Zero
			m.OpenInterestShort = decimal.Zero

			var params *models.RiskParameters
			p, err := s.markets.GetRiskParameters(m.Symbol)
			switch {
			case err == nil:
				params = &p
			case errors.Is(err, repository.ErrRiskParametersNotFound):
			default:
				return 0, fmt.Errorf("load risk parameters %s: %w", m.Symbol, err)
			}
			s.engine.RestoreMarket(m, params)
		}
		s.log.Info("markets restored from database", utils.Int("count", len(stored)))
		return len(stored), nil
	}

	for _, seed := range seeds {
		info, err := s.AddMarket(ctx, &AddMarketRequest{
			Symbol:         seed.Symbol,
			MaxLeverage:    seed.MaxLeverage,
			RiskParameters: seed.RiskParameters,
		})
		if err != nil {
			return 0, fmt.Errorf("seed market %s: %w", seed.Symbol, err)
		}
		if seed.Active != nil && !*seed.Active {
			if _, err := s.SetMarketActive(ctx, info.Symbol, false); err != nil {
				return 0, fmt.Errorf("seed market %s: %w", seed.Symbol, err)
			}
		}
	}
	s.log.Info("markets created from seed", utils.Int("count", len(seeds)))
	return len(seeds), nil
}

// ============ Ликвидаторы ============

// SetLiquidatorActive включает или отключает ликвидатора
func (s *GovernanceService) SetLiquidatorActive(ctx context.Context, address string, active bool) (*models.LiquidatorInfo, error) {
	addr, err := parseAddress(address)
	if err != nil {
		return nil, err
	}
	if err := s.engine.SetLiquidatorActive(ctx, s.governance, addr, active); err != nil {
		return nil, err
	}
	return s.engine.Liquidator(addr)
}

// ============ Страховой фонд ============

// AuthorizeClaimant разрешает или запрещает адресу подавать заявки
func (s *GovernanceService) AuthorizeClaimant(address string, allowed bool) error {
	if s.fund == nil {
		return ErrInsuranceDisabled
	}
	addr, err := parseAddress(address)
	if err != nil {
		return err
	}
	return s.fund.AuthorizeClaimant(s.governance, addr, allowed)
}

// ApproveClaim одобряет заявку
func (s *GovernanceService) ApproveClaim(ctx context.Context, id uint64) (*models.InsuranceClaim, error) {
	if s.fund == nil {
		return nil, ErrInsuranceDisabled
	}
	return s.fund.ApproveClaim(ctx, s.governance, id)
}

// RejectClaim отклоняет заявку
func (s *GovernanceService) RejectClaim(ctx context.Context, id uint64) (*models.InsuranceClaim, error) {
	if s.fund == nil {
		return nil, ErrInsuranceDisabled
	}
	return s.fund.RejectClaim(ctx, s.governance, id)
}

// PayClaim выплачивает одобренную заявку
func (s *GovernanceService) PayClaim(ctx context.Context, id uint64) (*models.InsuranceClaim, error) {
	if s.fund == nil {
		return nil, ErrInsuranceDisabled
	}
	return s.fund.PayClaim(ctx, s.governance, id)
}

// ============ Оракул ============

// SetManualPrice задаёт цену ручного источника оракула
func (s *GovernanceService) SetManualPrice(symbol string, req *ManualPriceRequest) error {
	if s.manual == nil {
		return fmt.Errorf("%w: manual price source is disabled", ErrUnavailable)
	}
	sym, err := normalizeSymbol(symbol)
	if err != nil {
		return err
	}
	price, err := parseAmount("price", req.Price)
	if err != nil {
		return err
	}
	if !price.IsPositive() {
		return fmt.Errorf("%w: price must be positive", engine.ErrValidation)
	}
	if req.Confidence > 100 {
		return fmt.Errorf("%w: confidence must be within [0, 100]", engine.ErrValidation)
	}
	s.manual.SetPrice(sym, price, req.Confidence)
	s.log.Info("manual price set", utils.Symbol(sym), utils.Price(price), utils.Int("confidence", int(req.Confidence)))
	return nil
}
