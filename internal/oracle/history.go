package oracle

import (
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/shopspring/decimal"

	"perpetual/pkg/utils"
)

// sample - точка истории цены
type sample struct {
	at    time.Time
	price decimal.Decimal
}

// series - ограниченная по длине история одного символа
type series struct {
	mu      sync.Mutex
	samples []sample
	limit   int
}

// History хранит последние цены по символам для TWAP.
// Символы вытесняются по LRU, точки внутри символа - FIFO.
type History struct {
	cache *lru.Cache
	limit int
	mu    sync.Mutex // сериализует создание series
}

// NewHistory создаёт историю на symbols символов по points точек
func NewHistory(symbols, points int) (*History, error) {
	if symbols <= 0 {
		symbols = 256
	}
	if points <= 0 {
		points = 720
	}
	cache, err := lru.New(symbols)
	if err != nil {
		return nil, fmt.Errorf("create price history cache: %w", err)
	}
	return &History{cache: cache, limit: points}, nil
}

func (h *History) get(symbol string, create bool) *series {
	if v, ok := h.cache.Get(symbol); ok {
		return v.(*series)
	}
	if !create {
		return nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if v, ok := h.cache.Get(symbol); ok {
		return v.(*series)
	}
	s := &series{limit: h.limit}
	h.cache.Add(symbol, s)
	return s
}

// Record добавляет цену. Точки с временем раньше последней игнорируются.
func (h *History) Record(symbol string, at time.Time, price decimal.Decimal) {
	s := h.get(symbol, true)
	s.mu.Lock()
	defer s.mu.Unlock()

	if n := len(s.samples); n > 0 && at.Before(s.samples[n-1].at) {
		return
	}
	s.samples = append(s.samples, sample{at: at, price: price})
	if len(s.samples) > s.limit {
		s.samples = s.samples[len(s.samples)-s.limit:]
	}
}

// Len возвращает число точек символа
func (h *History) Len(symbol string) int {
	s := h.get(symbol, false)
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.samples)
}

// TWAP считает среднюю цену, взвешенную по времени действия каждой точки,
// на окне [now-period, now]. Точка действует до следующей точки (или до now).
// Если окно начинается раньше первой точки, считается от первой точки.
func (h *History) TWAP(symbol string, now time.Time, period time.Duration) (decimal.Decimal, error) {
	if period <= 0 {
		return decimal.Zero, ErrInvalidPeriod
	}
	s := h.get(symbol, false)
	if s == nil {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrNoPriceHistory, symbol)
	}

	s.mu.Lock()
	samples := make([]sample, len(s.samples))
	copy(samples, s.samples)
	s.mu.Unlock()

	if len(samples) == 0 {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrNoPriceHistory, symbol)
	}

	start := now.Add(-period)
	weighted := decimal.Zero
	total := decimal.Zero
	for i, smp := range samples {
		segStart := smp.at
		segEnd := now
		if i+1 < len(samples) {
			segEnd = samples[i+1].at
		}
		if segStart.Before(start) {
			segStart = start
		}
		if !segEnd.After(segStart) {
			continue
		}
		dur := decimal.NewFromInt(int64(segEnd.Sub(segStart) / time.Millisecond))
		weighted = weighted.Add(smp.price.Mul(dur))
		total = total.Add(dur)
	}

	if total.IsZero() {
		// все точки в момент now: берём последнюю цену
		return samples[len(samples)-1].price, nil
	}
	return utils.Div(weighted, total), nil
}
