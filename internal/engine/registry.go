package engine

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"perpetual/internal/models"
	"perpetual/pkg/utils"
)

// MarketRegistry - конфигурация рынков, открытый интерес, состояние фандинга
// и параметры риска по символам.
//
// Параметры риска рынка применяются только если заданы (MaxLeverage > 0),
// иначе действуют параметры по умолчанию.
type MarketRegistry struct {
	mu       sync.RWMutex
	markets  map[string]*models.Market
	params   map[string]models.RiskParameters
	defaults models.RiskParameters
}

// NewMarketRegistry создаёт реестр с параметрами риска по умолчанию
func NewMarketRegistry(defaults models.RiskParameters) *MarketRegistry {
	if !defaults.IsSet() {
		defaults = models.DefaultRiskParameters()
	}
	return &MarketRegistry{
		markets:  make(map[string]*models.Market),
		params:   make(map[string]models.RiskParameters),
		defaults: defaults,
	}
}

// Add создаёт активный рынок
func (r *MarketRegistry) Add(symbol string, maxLeverage int64, now time.Time) (*models.Market, error) {
	symbol, err := utils.NormalizeSymbol(symbol)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if maxLeverage <= 0 {
		return nil, ErrInvalidLeverage
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.markets[symbol]; ok {
		return nil, fmt.Errorf("%w: %s", ErrMarketExists, symbol)
	}
	m := &models.Market{
		Symbol:                 symbol,
		MaxLeverage:            maxLeverage,
		LastFundingTime:        now,
		OpenInterestLong:       decimal.Zero,
		OpenInterestShort:      decimal.Zero,
		CumulativeFundingIndex: decimal.Zero,
		IsActive:               true,
		CreatedAt:              now,
	}
	r.markets[symbol] = m
	return m.Clone(), nil
}

// Restore загружает рынок из хранилища как есть (старт сервиса)
func (r *MarketRegistry) Restore(m *models.Market, params *models.RiskParameters) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.markets[m.Symbol] = m.Clone()
	if params != nil && params.IsSet() {
		r.params[m.Symbol] = *params
	}
}

// Get возвращает копию рынка
func (r *MarketRegistry) Get(symbol string) (*models.Market, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.markets[symbol]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMarketNotFound, symbol)
	}
	return m.Clone(), nil
}

// All возвращает копии всех рынков по алфавиту
func (r *MarketRegistry) All() []*models.Market {
	r.mu.RLock()
	out := make([]*models.Market, 0, len(r.markets))
	for _, m := range r.markets {
		out = append(out, m.Clone())
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// SetActive включает или выключает рынок
func (r *MarketRegistry) SetActive(symbol string, active bool) (*models.Market, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.markets[symbol]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMarketNotFound, symbol)
	}
	m.IsActive = active
	return m.Clone(), nil
}

// SetRiskParameters задаёт параметры риска рынка
func (r *MarketRegistry) SetRiskParameters(symbol string, p models.RiskParameters) error {
	if err := p.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.markets[symbol]; !ok {
		return fmt.Errorf("%w: %s", ErrMarketNotFound, symbol)
	}
	r.params[symbol] = p
	return nil
}

// RiskParameters возвращает параметры рынка или параметры по умолчанию
func (r *MarketRegistry) RiskParameters(symbol string) models.RiskParameters {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if p, ok := r.params[symbol]; ok && p.IsSet() {
		return p
	}
	return r.defaults
}

// DefaultRiskParameters возвращает параметры по умолчанию
func (r *MarketRegistry) DefaultRiskParameters() models.RiskParameters {
	return r.defaults
}

// IncreaseOpenInterest увеличивает открытый интерес стороны
func (r *MarketRegistry) IncreaseOpenInterest(symbol string, isLong bool, size decimal.Decimal) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.markets[symbol]
	if !ok {
		return fmt.Errorf("%w: %s", ErrMarketNotFound, symbol)
	}
	if isLong {
		m.OpenInterestLong = m.OpenInterestLong.Add(size)
	} else {
		m.OpenInterestShort = m.OpenInterestShort.Add(size)
	}
	RecordOpenInterest(symbol, m.OpenInterestLong, m.OpenInterestShort)
	return nil
}

// DecreaseOpenInterest уменьшает открытый интерес стороны, не ниже нуля
func (r *MarketRegistry) DecreaseOpenInterest(symbol string, isLong bool, size decimal.Decimal) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.markets[symbol]
	if !ok {
		return fmt.Errorf("%w: %s", ErrMarketNotFound, symbol)
	}
	if isLong {
		m.OpenInterestLong = utils.PositivePart(m.OpenInterestLong.Sub(size))
	} else {
		m.OpenInterestShort = utils.PositivePart(m.OpenInterestShort.Sub(size))
	}
	RecordOpenInterest(symbol, m.OpenInterestLong, m.OpenInterestShort)
	return nil
}

// updateFunding применяет функцию к рынку под блокировкой реестра
func (r *MarketRegistry) updateFunding(symbol string, fn func(m *models.Market) error) (*models.Market, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.markets[symbol]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMarketNotFound, symbol)
	}
	next := m.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	r.markets[symbol] = next
	return next.Clone(), nil
}
