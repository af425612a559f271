package models

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// ClaimStatus - статус страховой заявки
type ClaimStatus string

// Статусы заявки: Pending -> {Approved -> Paid | Rejected}
const (
	ClaimPending  ClaimStatus = "PENDING"
	ClaimApproved ClaimStatus = "APPROVED"
	ClaimPaid     ClaimStatus = "PAID"
	ClaimRejected ClaimStatus = "REJECTED"
)

// ValidClaimTransitions - линейная машина состояний заявки
var ValidClaimTransitions = map[ClaimStatus][]ClaimStatus{
	ClaimPending:  {ClaimApproved, ClaimRejected},
	ClaimApproved: {ClaimPaid},
	ClaimPaid:     {},
	ClaimRejected: {},
}

// CanTransition проверяет допустимость перехода заявки
func (s ClaimStatus) CanTransition(to ClaimStatus) bool {
	for _, a := range ValidClaimTransitions[s] {
		if a == to {
			return true
		}
	}
	return false
}

// InsuranceClaim - заявка на выплату из страхового фонда
type InsuranceClaim struct {
	ID        uint64          `json:"id"`
	Claimant  common.Address  `json:"claimant"`
	Amount    decimal.Decimal `json:"amount"`
	Reason    string          `json:"reason"`
	Timestamp time.Time       `json:"timestamp"`
	Status    ClaimStatus     `json:"status"`
}

// Approved - заявка одобрена (в том числе уже выплачена)
func (c *InsuranceClaim) Approved() bool {
	return c.Status == ClaimApproved || c.Status == ClaimPaid
}

// Paid - заявка выплачена
func (c *InsuranceClaim) Paid() bool {
	return c.Status == ClaimPaid
}

// InsuranceStatus - сводка по фонду для API
type InsuranceStatus struct {
	Balance            decimal.Decimal `json:"balance"`
	TotalContributions decimal.Decimal `json:"total_contributions"`
	TotalPaid          decimal.Decimal `json:"total_paid"`
	ReserveRatio       int64           `json:"reserve_ratio_bps"`
	PendingClaims      int             `json:"pending_claims"`
	Contributors       int             `json:"contributors"`
	LastDistribution   time.Time       `json:"last_distribution"`
}
