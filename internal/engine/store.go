package engine

import (
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"perpetual/internal/models"
)

// PositionStore - авторитетное хранилище открытых позиций по ID.
// Наружу отдаются только копии.
type PositionStore struct {
	mu        sync.RWMutex
	positions map[common.Hash]*models.Position
}

// NewPositionStore создаёт пустое хранилище
func NewPositionStore() *PositionStore {
	return &PositionStore{positions: make(map[common.Hash]*models.Position)}
}

// Get возвращает копию позиции
func (s *PositionStore) Get(id common.Hash) (*models.Position, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.positions[id]
	if !ok {
		return nil, false
	}
	return p.Clone(), true
}

// Put сохраняет копию позиции
func (s *PositionStore) Put(p *models.Position) {
	s.mu.Lock()
	s.positions[p.ID] = p.Clone()
	s.mu.Unlock()
}

// Delete удаляет позицию, возвращает false если её не было
func (s *PositionStore) Delete(id common.Hash) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.positions[id]; !ok {
		return false
	}
	delete(s.positions, id)
	return true
}

// All возвращает копии всех позиций, упорядоченные по времени открытия
func (s *PositionStore) All() []*models.Position {
	s.mu.RLock()
	out := make([]*models.Position, 0, len(s.positions))
	for _, p := range s.positions {
		out = append(out, p.Clone())
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].EntryTime.Equal(out[j].EntryTime) {
			return out[i].ID.Hex() < out[j].ID.Hex()
		}
		return out[i].EntryTime.Before(out[j].EntryTime)
	})
	return out
}

// ByTrader возвращает позиции трейдера
func (s *PositionStore) ByTrader(trader common.Address) []*models.Position {
	var out []*models.Position
	for _, p := range s.All() {
		if p.Trader == trader {
			out = append(out, p)
		}
	}
	return out
}

// BySymbol возвращает позиции рынка
func (s *PositionStore) BySymbol(symbol string) []*models.Position {
	var out []*models.Position
	for _, p := range s.All() {
		if p.Symbol == symbol {
			out = append(out, p)
		}
	}
	return out
}

// Count возвращает число открытых позиций
func (s *PositionStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.positions)
}

// TotalCollateral - сумма залога открытых позиций
func (s *PositionStore) TotalCollateral() decimal.Decimal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := decimal.Zero
	for _, p := range s.positions {
		total = total.Add(p.Collateral)
	}
	return total
}

// TotalSize - сумма номиналов открытых позиций (совокупная экспозиция)
func (s *PositionStore) TotalSize() decimal.Decimal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := decimal.Zero
	for _, p := range s.positions {
		total = total.Add(p.Size)
	}
	return total
}
