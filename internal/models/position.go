package models

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// Position представляет открытую позицию трейдера
//
// Size - номинал позиции в единицах залогового токена, Collateral - залог.
// Обе величины > 0 пока позиция открыта. Symbol хранится в самой позиции,
// рынок не выводится из ID.
type Position struct {
	ID                  common.Hash     `json:"id" db:"id"`
	Trader              common.Address  `json:"trader" db:"trader"`
	Symbol              string          `json:"symbol" db:"symbol"`
	Size                decimal.Decimal `json:"size" db:"size"`
	Collateral          decimal.Decimal `json:"collateral" db:"collateral"`
	EntryPrice          decimal.Decimal `json:"entry_price" db:"entry_price"`
	EntryTime           time.Time       `json:"entry_time" db:"entry_time"`
	IsLong              bool            `json:"is_long" db:"is_long"`
	FundingIndexAtEntry decimal.Decimal `json:"funding_index_at_entry" db:"funding_index_at_entry"`
}

// Стороны позиции
const (
	SideLong  = "long"
	SideShort = "short"
)

// Side возвращает сторону позиции строкой
func (p *Position) Side() string {
	if p.IsLong {
		return SideLong
	}
	return SideShort
}

// Leverage возвращает текущее плечо size/collateral (0 при нулевом залоге)
func (p *Position) Leverage() decimal.Decimal {
	if p.Collateral.IsZero() {
		return decimal.Zero
	}
	return p.Size.DivRound(p.Collateral, 4)
}

// Clone возвращает независимую копию (decimal и массивы копируются по значению)
func (p *Position) Clone() *Position {
	if p == nil {
		return nil
	}
	c := *p
	return &c
}
