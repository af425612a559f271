package service

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"perpetual/internal/engine"
	"perpetual/internal/models"
	"perpetual/internal/repository"
)

// ============ Mock EventRepository ============

type MockEventRepository struct {
	mu        sync.Mutex
	events    []*models.Event
	createErr error
}

func NewMockEventRepository() *MockEventRepository {
	return &MockEventRepository{}
}

func (m *MockEventRepository) Create(e *models.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	if e.ID == "" {
		return repository.ErrEventIDRequired
	}
	c := *e
	m.events = append(m.events, &c)
	return nil
}

func (m *MockEventRepository) GetRecent(limit int) ([]*models.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]*models.Event, 0, limit)
	for i := len(m.events) - 1; i >= 0 && len(result) < limit; i-- {
		result = append(result, m.events[i])
	}
	return result, nil
}

func (m *MockEventRepository) GetByPosition(positionID string) ([]*models.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*models.Event
	for _, e := range m.events {
		if e.PositionID == positionID {
			result = append(result, e)
		}
	}
	return result, nil
}

func (m *MockEventRepository) GetByType(eventType string, limit int) ([]*models.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*models.Event
	for i := len(m.events) - 1; i >= 0 && len(result) < limit; i-- {
		if m.events[i].Type == eventType {
			result = append(result, m.events[i])
		}
	}
	return result, nil
}

func (m *MockEventRepository) Count() (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events), nil
}

func (m *MockEventRepository) DeleteOlderThan(timestamp time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.events[:0]
	var n int64
	for _, e := range m.events {
		if e.Timestamp.Before(timestamp) {
			n++
			continue
		}
		kept = append(kept, e)
	}
	m.events = kept
	return n, nil
}

func (m *MockEventRepository) Types() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.events))
	for _, e := range m.events {
		out = append(out, e.Type)
	}
	return out
}

// ============ Mock PositionRepository ============

type MockPositionRepository struct {
	mu        sync.Mutex
	positions map[common.Hash]*models.Position
	upsertErr error
}

func NewMockPositionRepository() *MockPositionRepository {
	return &MockPositionRepository{positions: make(map[common.Hash]*models.Position)}
}

func (m *MockPositionRepository) Upsert(p *models.Position) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.upsertErr != nil {
		return m.upsertErr
	}
	c := *p
	m.positions[p.ID] = &c
	return nil
}

func (m *MockPositionRepository) UpdateCollateral(id common.Hash, collateral decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.positions[id]
	if !ok {
		return repository.ErrPositionNotFound
	}
	p.Collateral = collateral
	return nil
}

func (m *MockPositionRepository) UpdateSize(id common.Hash, size, collateral decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.positions[id]
	if !ok {
		return repository.ErrPositionNotFound
	}
	p.Size = size
	p.Collateral = collateral
	return nil
}

func (m *MockPositionRepository) Delete(id common.Hash) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.positions[id]; !ok {
		return repository.ErrPositionNotFound
	}
	delete(m.positions, id)
	return nil
}

func (m *MockPositionRepository) GetByID(id common.Hash) (*models.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.positions[id]
	if !ok {
		return nil, repository.ErrPositionNotFound
	}
	c := *p
	return &c, nil
}

func (m *MockPositionRepository) GetByTrader(trader common.Address) ([]*models.Position, error) {
	all, _ := m.GetAll()
	var result []*models.Position
	for _, p := range all {
		if p.Trader == trader {
			result = append(result, p)
		}
	}
	return result, nil
}

func (m *MockPositionRepository) GetAll() ([]*models.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]*models.Position, 0, len(m.positions))
	for _, p := range m.positions {
		c := *p
		result = append(result, &c)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID.Hex() < result[j].ID.Hex() })
	return result, nil
}

// ============ Mock MarketRepository ============

type MockMarketRepository struct {
	mu      sync.Mutex
	markets map[string]*models.Market
	params  map[string]models.RiskParameters
	saveErr error
	getErr  error
}

func NewMockMarketRepository() *MockMarketRepository {
	return &MockMarketRepository{
		markets: make(map[string]*models.Market),
		params:  make(map[string]models.RiskParameters),
	}
}

func (m *MockMarketRepository) SaveMarket(market *models.Market) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.markets[market.Symbol] = market.Clone()
	return nil
}

func (m *MockMarketRepository) SaveRiskParameters(symbol string, p models.RiskParameters) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.params[symbol] = p
	return nil
}

func (m *MockMarketRepository) SetActive(symbol string, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	market, ok := m.markets[symbol]
	if !ok {
		return repository.ErrMarketNotFound
	}
	market.IsActive = active
	return nil
}

func (m *MockMarketRepository) GetAll() ([]*models.Market, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	result := make([]*models.Market, 0, len(m.markets))
	for _, market := range m.markets {
		result = append(result, market.Clone())
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Symbol < result[j].Symbol })
	return result, nil
}

func (m *MockMarketRepository) GetRiskParameters(symbol string) (models.RiskParameters, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.params[symbol]
	if !ok {
		return models.RiskParameters{}, repository.ErrRiskParametersNotFound
	}
	return p, nil
}

func (m *MockMarketRepository) Market(symbol string) (*models.Market, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	market, ok := m.markets[symbol]
	return market.Clone(), ok
}

// ============ Mock StateReader ============

type MockStateReader struct {
	positions map[common.Hash]*models.Position
	markets   map[string]*models.Market
}

func NewMockStateReader() *MockStateReader {
	return &MockStateReader{
		positions: make(map[common.Hash]*models.Position),
		markets:   make(map[string]*models.Market),
	}
}

func (m *MockStateReader) GetPosition(id common.Hash) (*models.Position, error) {
	p, ok := m.positions[id]
	if !ok {
		return nil, engine.ErrPositionNotFound
	}
	return p, nil
}

func (m *MockStateReader) Market(symbol string) (*models.Market, error) {
	market, ok := m.markets[symbol]
	if !ok {
		return nil, engine.ErrMarketNotFound
	}
	return market, nil
}

// ============ Mock Broadcaster ============

type MockBroadcaster struct {
	mu     sync.Mutex
	events []models.Event
}

func (m *MockBroadcaster) BroadcastEvent(e models.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
}

func (m *MockBroadcaster) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

var errDatabase = errors.New("database is down")
