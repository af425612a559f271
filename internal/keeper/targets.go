package keeper

import (
	"bytes"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/btree"
	"github.com/shopspring/decimal"

	"perpetual/pkg/utils"
)

// Веса приоритета: 70% срочность (обратная маржа), 30% размер позиции
var (
	urgencyWeight = decimal.New(7, -1)
	sizeWeight    = decimal.New(3, -1)
	urgencyScale  = decimal.NewFromInt(utils.BasisPoints * 1000)
)

// Target - позиция под наблюдением бота
type Target struct {
	PositionID   common.Hash     `json:"position_id"`
	Symbol       string          `json:"symbol"`
	Trader       common.Address  `json:"trader"`
	Size         decimal.Decimal `json:"size"`
	MarginRatio  int64           `json:"margin_ratio_bps"`
	Liquidatable bool            `json:"liquidatable"`
	Priority     decimal.Decimal `json:"priority"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// Priority = 0.7 × (10000 × 1000 / marginRatio) + 0.3 × size.
// Нулевая маржа считается как 1 bp.
func Priority(marginRatio int64, size decimal.Decimal) decimal.Decimal {
	if marginRatio < 1 {
		marginRatio = 1
	}
	urgency := utils.Div(urgencyScale, decimal.NewFromInt(marginRatio))
	return urgency.Mul(urgencyWeight).Add(size.Mul(sizeWeight))
}

// targetLess - убывание приоритета, при равенстве по ID
func targetLess(a, b *Target) bool {
	if c := a.Priority.Cmp(b.Priority); c != 0 {
		return c > 0
	}
	return bytes.Compare(a.PositionID[:], b.PositionID[:]) < 0
}

// TargetSet - упорядоченное по приоритету множество целей
//
// btree хранит порядок, map - доступ по ID для обновления.
type TargetSet struct {
	mu    sync.RWMutex
	tree  *btree.BTreeG[*Target]
	index map[common.Hash]*Target
}

// NewTargetSet создаёт пустое множество
func NewTargetSet() *TargetSet {
	return &TargetSet{
		tree:  btree.NewG[*Target](16, targetLess),
		index: make(map[common.Hash]*Target),
	}
}

// Upsert добавляет цель или обновляет существующую. Возвращает true, если цель новая.
func (s *TargetSet) Upsert(t *Target) bool {
	t.Priority = Priority(t.MarginRatio, t.Size)

	s.mu.Lock()
	defer s.mu.Unlock()

	old, exists := s.index[t.PositionID]
	if exists {
		s.tree.Delete(old)
	}
	s.tree.ReplaceOrInsert(t)
	s.index[t.PositionID] = t
	return !exists
}

// Remove удаляет цель
func (s *TargetSet) Remove(id common.Hash) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	old, ok := s.index[id]
	if !ok {
		return false
	}
	s.tree.Delete(old)
	delete(s.index, id)
	return true
}

// Get возвращает копию цели
func (s *TargetSet) Get(id common.Hash) (Target, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.index[id]
	if !ok {
		return Target{}, false
	}
	return *t, true
}

// Len - число целей
func (s *TargetSet) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.index)
}

// IDs возвращает ID всех целей в порядке приоритета
func (s *TargetSet) IDs() []common.Hash {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]common.Hash, 0, len(s.index))
	s.tree.Ascend(func(t *Target) bool {
		out = append(out, t.PositionID)
		return true
	})
	return out
}

// Top возвращает до n целей в порядке приоритета (n <= 0 - все).
// onlyLiquidatable отбирает цели ниже поддерживающей маржи.
func (s *TargetSet) Top(n int, onlyLiquidatable bool) []Target {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Target, 0)
	s.tree.Ascend(func(t *Target) bool {
		if onlyLiquidatable && !t.Liquidatable {
			return true
		}
		out = append(out, *t)
		return n <= 0 || len(out) < n
	})
	return out
}
