package models

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// Event - запись публичного журнала событий (индексация, WebSocket, БД)
//
// Денежные величины в Data хранятся строками decimal, адреса и ID - hex.
type Event struct {
	ID         string                 `json:"id" db:"id"` // uuid
	Timestamp  time.Time              `json:"timestamp" db:"timestamp"`
	Type       string                 `json:"type" db:"type"`
	Symbol     string                 `json:"symbol,omitempty" db:"symbol"`
	PositionID string                 `json:"position_id,omitempty" db:"position_id"`
	Trader     string                 `json:"trader,omitempty" db:"trader"`
	Data       map[string]interface{} `json:"data,omitempty" db:"data"` // JSON в БД
}

// Типы событий
const (
	EventPositionOpened        = "PositionOpened"
	EventPositionClosed        = "PositionClosed"
	EventCollateralAdded       = "CollateralAdded"
	EventCollateralRemoved     = "CollateralRemoved"
	EventLiquidationTriggered  = "LiquidationTriggered"
	EventPartialLiquidation    = "PartialLiquidation"
	EventFundingRateUpdated    = "FundingRateUpdated"
	EventInsuranceContribution = "InsuranceFundContribution"
	EventInsuranceRefund       = "InsuranceFundRefund"
	EventInsuranceClaim        = "InsuranceFundClaim"
	EventMarketUpdated         = "MarketUpdated"
)

func hashHex(id common.Hash) string { return id.Hex() }

// NewPositionOpenedEvent - PositionOpened{trader, positionId, symbol, size, collateral, entryPrice, isLong}
func NewPositionOpenedEvent(p *Position) Event {
	return Event{
		Type:       EventPositionOpened,
		Timestamp:  p.EntryTime,
		Symbol:     p.Symbol,
		PositionID: hashHex(p.ID),
		Trader:     p.Trader.Hex(),
		Data: map[string]interface{}{
			"size":        p.Size.String(),
			"collateral":  p.Collateral.String(),
			"entry_price": p.EntryPrice.String(),
			"is_long":     p.IsLong,
		},
	}
}

// NewPositionClosedEvent - PositionClosed{trader, positionId, exitPrice, pnl}
func NewPositionClosedEvent(p *Position, exitPrice, pnl, funding, payout decimal.Decimal, at time.Time) Event {
	return Event{
		Type:       EventPositionClosed,
		Timestamp:  at,
		Symbol:     p.Symbol,
		PositionID: hashHex(p.ID),
		Trader:     p.Trader.Hex(),
		Data: map[string]interface{}{
			"exit_price": exitPrice.String(),
			"pnl":        pnl.String(),
			"funding":    funding.String(),
			"payout":     payout.String(),
		},
	}
}

// NewCollateralEvent - CollateralAdded/Removed{positionId, old, new}
func NewCollateralEvent(eventType string, p *Position, oldCollateral decimal.Decimal, at time.Time) Event {
	return Event{
		Type:       eventType,
		Timestamp:  at,
		Symbol:     p.Symbol,
		PositionID: hashHex(p.ID),
		Trader:     p.Trader.Hex(),
		Data: map[string]interface{}{
			"old": oldCollateral.String(),
			"new": p.Collateral.String(),
		},
	}
}

// NewLiquidationEvent - LiquidationTriggered{positionId, liquidator, price, reward}
func NewLiquidationEvent(p *Position, liquidator common.Address, price, reward, liquidatedSize decimal.Decimal, full bool, at time.Time) Event {
	return Event{
		Type:       EventLiquidationTriggered,
		Timestamp:  at,
		Symbol:     p.Symbol,
		PositionID: hashHex(p.ID),
		Trader:     p.Trader.Hex(),
		Data: map[string]interface{}{
			"liquidator":      liquidator.Hex(),
			"price":           price.String(),
			"reward":          reward.String(),
			"liquidated_size": liquidatedSize.String(),
			"full":            full,
		},
	}
}

// NewPartialLiquidationEvent - PartialLiquidation{positionId, liquidatedSize, remainingSize}
func NewPartialLiquidationEvent(p *Position, liquidatedSize decimal.Decimal, at time.Time) Event {
	return Event{
		Type:       EventPartialLiquidation,
		Timestamp:  at,
		Symbol:     p.Symbol,
		PositionID: hashHex(p.ID),
		Trader:     p.Trader.Hex(),
		Data: map[string]interface{}{
			"liquidated_size": liquidatedSize.String(),
			"remaining_size":  p.Size.String(),
		},
	}
}

// NewFundingRateEvent - FundingRateUpdated{symbol, rate, timestamp}
func NewFundingRateEvent(m *Market) Event {
	return Event{
		Type:      EventFundingRateUpdated,
		Timestamp: m.LastFundingTime,
		Symbol:    m.Symbol,
		Data: map[string]interface{}{
			"rate_bps":      m.FundingRate,
			"funding_index": m.CumulativeFundingIndex.String(),
		},
	}
}

// NewMarketEvent - изменение конфигурации рынка (governance)
func NewMarketEvent(m *Market, action string, at time.Time) Event {
	return Event{
		Type:      EventMarketUpdated,
		Timestamp: at,
		Symbol:    m.Symbol,
		Data: map[string]interface{}{
			"action":       action,
			"max_leverage": m.MaxLeverage,
			"is_active":    m.IsActive,
		},
	}
}

// NewContributionEvent - InsuranceFundContribution{contributor, amount, balance}
func NewContributionEvent(contributor common.Address, amount, balance decimal.Decimal, at time.Time) Event {
	return Event{
		Type:      EventInsuranceContribution,
		Timestamp: at,
		Trader:    contributor.Hex(),
		Data: map[string]interface{}{
			"amount":  amount.String(),
			"balance": balance.String(),
		},
	}
}

// NewRefundEvent - InsuranceFundRefund{contributor, amount, balance},
// компенсирует взнос отменённой операции
func NewRefundEvent(contributor common.Address, amount, balance decimal.Decimal, at time.Time) Event {
	e := NewContributionEvent(contributor, amount, balance, at)
	e.Type = EventInsuranceRefund
	return e
}

// NewClaimEvent - InsuranceFundClaim{claimId, claimant, amount, status}
func NewClaimEvent(c *InsuranceClaim, at time.Time) Event {
	return Event{
		Type:      EventInsuranceClaim,
		Timestamp: at,
		Trader:    c.Claimant.Hex(),
		Data: map[string]interface{}{
			"claim_id": c.ID,
			"amount":   c.Amount.String(),
			"reason":   c.Reason,
			"status":   string(c.Status),
		},
	}
}
