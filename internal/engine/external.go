package engine

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"perpetual/internal/ledger"
	"perpetual/internal/models"
)

// guardedVault - хранилище, переводы которого идут как внешние вызовы
// текущей операции: в них токен может вызвать callback
type guardedVault struct {
	*ledger.Vault
}

func (v guardedVault) TransferIn(ctx context.Context, from common.Address, amount decimal.Decimal) error {
	return External(ctx, func() error { return v.Vault.TransferIn(ctx, from, amount) })
}

func (v guardedVault) TransferOut(ctx context.Context, to common.Address, amount decimal.Decimal) error {
	return External(ctx, func() error { return v.Vault.TransferOut(ctx, to, amount) })
}

func (v guardedVault) PayFromSurplus(ctx context.Context, to common.Address, amount decimal.Decimal) error {
	return External(ctx, func() error { return v.Vault.PayFromSurplus(ctx, to, amount) })
}

func (v guardedVault) Deposit(ctx context.Context, from common.Address, amount decimal.Decimal) error {
	return External(ctx, func() error { return v.Vault.Deposit(ctx, from, amount) })
}

// guardedInsurance - страховой фонд за внешними вызовами
type guardedInsurance struct {
	fund InsuranceFund
}

func guardInsurance(fund InsuranceFund) InsuranceFund {
	if fund == nil {
		return nil
	}
	return guardedInsurance{fund: fund}
}

func (g guardedInsurance) Contribute(ctx context.Context, contributor common.Address, amount decimal.Decimal) error {
	return External(ctx, func() error { return g.fund.Contribute(ctx, contributor, amount) })
}

func (g guardedInsurance) Refund(ctx context.Context, contributor common.Address, amount decimal.Decimal) error {
	return External(ctx, func() error { return g.fund.Refund(ctx, contributor, amount) })
}

func (g guardedInsurance) SubmitClaim(ctx context.Context, claimant common.Address, amount decimal.Decimal, reason string) (*models.InsuranceClaim, error) {
	var claim *models.InsuranceClaim
	err := External(ctx, func() error {
		var err error
		claim, err = g.fund.SubmitClaim(ctx, claimant, amount, reason)
		return err
	})
	return claim, err
}

func (g guardedInsurance) MaxClaimAmount(ctx context.Context) (decimal.Decimal, error) {
	var limit decimal.Decimal
	err := External(ctx, func() error {
		var err error
		limit, err = g.fund.MaxClaimAmount(ctx)
		return err
	})
	return limit, err
}
