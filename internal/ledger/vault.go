package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// Ошибки хранилища залога
var (
	ErrInvalidAmount       = errors.New("amount must be positive")
	ErrInsufficientLocked  = errors.New("amount exceeds locked collateral")
	ErrInsufficientSurplus = errors.New("amount exceeds vault surplus")
	ErrTransferMismatch    = errors.New("token transfer delivered unexpected amount")
	ErrInsolvent           = errors.New("vault balance below locked collateral")
)

// Vault - хранилище залога (CollateralLedger)
//
// Функции:
//   - TransferIn / TransferOut - приём и возврат залога трейдеров
//   - Release - перевод реализованных убытков из locked в surplus
//   - PayFromSurplus - выплата из surplus (прибыль трейдера, выплаты фонда)
//
// Инвариант: Balance() >= Locked() = сумма залога открытых позиций.
// Surplus = Balance - Locked.
type Vault struct {
	token   Token
	address common.Address

	mu     sync.Mutex
	locked decimal.Decimal
}

// NewVault создаёт хранилище для токена, address - счёт хранилища в токене
func NewVault(token Token, address common.Address) *Vault {
	return &Vault{token: token, address: address}
}

// Address возвращает счёт хранилища
func (v *Vault) Address() common.Address { return v.address }

// Token возвращает залоговый токен
func (v *Vault) Token() Token { return v.token }

// Balance - фактический баланс хранилища в токене
func (v *Vault) Balance(ctx context.Context) (decimal.Decimal, error) {
	return v.token.BalanceOf(ctx, v.address)
}

// Locked - сумма залога открытых позиций
func (v *Vault) Locked() decimal.Decimal {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.locked
}

// Surplus - баланс сверх залога (реализованные убытки трейдеров)
func (v *Vault) Surplus(ctx context.Context) (decimal.Decimal, error) {
	bal, err := v.Balance(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	s := bal.Sub(v.Locked())
	if s.IsNegative() {
		return decimal.Zero, nil
	}
	return s, nil
}

// TransferIn забирает amount у from и блокирует его как залог.
// Если токен зачислил не ровно amount (fee-on-transfer), перевод
// возвращается и операция завершается ошибкой.
func (v *Vault) TransferIn(ctx context.Context, from common.Address, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}

	before, err := v.Balance(ctx)
	if err != nil {
		return fmt.Errorf("read vault balance: %w", err)
	}
	if err := v.token.Transfer(ctx, from, v.address, amount); err != nil {
		return fmt.Errorf("transfer in: %w", err)
	}
	after, err := v.Balance(ctx)
	if err != nil {
		return fmt.Errorf("read vault balance: %w", err)
	}

	received := after.Sub(before)
	if !received.Equal(amount) {
		mismatch := fmt.Errorf("%w: expected %s, got %s", ErrTransferMismatch, amount, received)
		if received.IsPositive() {
			// невозвращённый остаток висит на адресе хранилища как surplus
			if err := v.token.Transfer(ctx, v.address, from, received); err != nil {
				return errors.Join(mismatch, fmt.Errorf("return %s to %s: %w", received, from.Hex(), err))
			}
		}
		return mismatch
	}

	v.mu.Lock()
	v.locked = v.locked.Add(amount)
	v.mu.Unlock()
	return nil
}

// TransferOut разблокирует amount и отправляет его to.
// При ошибке токена блокировка восстанавливается.
func (v *Vault) TransferOut(ctx context.Context, to common.Address, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}

	v.mu.Lock()
	if v.locked.LessThan(amount) {
		v.mu.Unlock()
		return fmt.Errorf("%w: locked %s, requested %s", ErrInsufficientLocked, v.locked, amount)
	}
	v.locked = v.locked.Sub(amount)
	v.mu.Unlock()

	if err := v.token.Transfer(ctx, v.address, to, amount); err != nil {
		v.mu.Lock()
		v.locked = v.locked.Add(amount)
		v.mu.Unlock()
		return fmt.Errorf("transfer out: %w", err)
	}
	return nil
}

// Release переводит amount из locked в surplus без движения токенов
func (v *Vault) Release(amount decimal.Decimal) error {
	if amount.IsNegative() {
		return ErrInvalidAmount
	}
	if amount.IsZero() {
		return nil
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.locked.LessThan(amount) {
		return fmt.Errorf("%w: locked %s, release %s", ErrInsufficientLocked, v.locked, amount)
	}
	v.locked = v.locked.Sub(amount)
	return nil
}

// Relock возвращает amount из surplus в locked (откат Release)
func (v *Vault) Relock(ctx context.Context, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return ErrInvalidAmount
	}
	surplus, err := v.Surplus(ctx)
	if err != nil {
		return err
	}
	if surplus.LessThan(amount) {
		return fmt.Errorf("%w: surplus %s, relock %s", ErrInsufficientSurplus, surplus, amount)
	}

	v.mu.Lock()
	v.locked = v.locked.Add(amount)
	v.mu.Unlock()
	return nil
}

// PayFromSurplus отправляет amount из surplus, не затрагивая залог
func (v *Vault) PayFromSurplus(ctx context.Context, to common.Address, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	surplus, err := v.Surplus(ctx)
	if err != nil {
		return err
	}
	if surplus.LessThan(amount) {
		return fmt.Errorf("%w: surplus %s, requested %s", ErrInsufficientSurplus, surplus, amount)
	}
	if err := v.token.Transfer(ctx, v.address, to, amount); err != nil {
		return fmt.Errorf("pay from surplus: %w", err)
	}
	return nil
}

// Deposit принимает amount от from в surplus без блокировки
// (откат PayFromSurplus, пополнение резерва выплат)
func (v *Vault) Deposit(ctx context.Context, from common.Address, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	if err := v.token.Transfer(ctx, from, v.address, amount); err != nil {
		return fmt.Errorf("deposit: %w", err)
	}
	return nil
}

// CheckSolvency проверяет Balance >= Locked
func (v *Vault) CheckSolvency(ctx context.Context) error {
	bal, err := v.Balance(ctx)
	if err != nil {
		return err
	}
	locked := v.Locked()
	if bal.LessThan(locked) {
		return fmt.Errorf("%w: balance %s, locked %s", ErrInsolvent, bal, locked)
	}
	return nil
}
