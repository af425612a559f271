package oracle

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"perpetual/pkg/utils"
)

// ManualSource - источник с ценами, выставляемыми вручную
// (governance API, симуляция, тесты)
type ManualSource struct {
	name  string
	clock utils.Clock

	mu     sync.RWMutex
	prices map[string]PriceData
	err    error
}

// NewManualSource создаёт ручной источник
func NewManualSource(name string, clock utils.Clock) *ManualSource {
	return &ManualSource{
		name:   name,
		clock:  utils.ClockOrSystem(clock),
		prices: make(map[string]PriceData),
	}
}

// Name возвращает имя источника
func (m *ManualSource) Name() string { return m.name }

// SetPrice выставляет цену с текущим временем часов
func (m *ManualSource) SetPrice(symbol string, price decimal.Decimal, confidence uint8) {
	m.SetPriceData(symbol, PriceData{
		Price:      price,
		Timestamp:  m.clock.Now(),
		Confidence: confidence,
		IsValid:    true,
	})
}

// SetPriceData выставляет котировку целиком (в том числе устаревшую)
func (m *ManualSource) SetPriceData(symbol string, p PriceData) {
	m.mu.Lock()
	m.prices[symbol] = p
	m.mu.Unlock()
}

// SetError заставляет Fetch возвращать err (nil - снять)
func (m *ManualSource) SetError(err error) {
	m.mu.Lock()
	m.err = err
	m.mu.Unlock()
}

// Fetch возвращает выставленную котировку
func (m *ManualSource) Fetch(_ context.Context, symbol string) (PriceData, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.err != nil {
		return PriceData{}, m.err
	}
	p, ok := m.prices[symbol]
	if !ok {
		return PriceData{}, fmt.Errorf("%w: %s at %s", ErrUnknownSymbol, symbol, m.name)
	}
	return p, nil
}

var _ Source = (*ManualSource)(nil)
