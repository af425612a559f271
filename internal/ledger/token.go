package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"perpetual/pkg/utils"
)

// Ошибки токена
var (
	ErrInsufficientBalance = errors.New("insufficient token balance")
	ErrInvalidTransfer     = errors.New("invalid transfer")
)

// Token - залоговый токен (ERC20-подобный)
//
// Transfer должен быть атомарным: либо переведена вся сумма, либо ошибка
// и балансы не изменены.
type Token interface {
	BalanceOf(ctx context.Context, account common.Address) (decimal.Decimal, error)
	Transfer(ctx context.Context, from, to common.Address, amount decimal.Decimal) error
}

// TransferHook вызывается после зачисления перевода получателю.
// Ошибка хука откатывает перевод. Через хук в тестах моделируются
// токены с callback'ами и попытки reentrancy.
type TransferHook func(ctx context.Context, from, to common.Address, amount decimal.Decimal) error

// MemoryToken - токен в памяти для симуляции и тестов
type MemoryToken struct {
	mu       sync.Mutex
	balances map[common.Address]decimal.Decimal
	supply   decimal.Decimal

	// feeBps - комиссия за перевод (нестандартный fee-on-transfer токен)
	feeBps int64
	hook   TransferHook
}

// NewMemoryToken создаёт пустой токен
func NewMemoryToken() *MemoryToken {
	return &MemoryToken{balances: make(map[common.Address]decimal.Decimal)}
}

// Mint зачисляет amount на счёт
func (t *MemoryToken) Mint(to common.Address, amount decimal.Decimal) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.balances[to] = t.balances[to].Add(amount)
	t.supply = t.supply.Add(amount)
}

// SetTransferFee включает удержание feeBps с каждого перевода
func (t *MemoryToken) SetTransferFee(feeBps int64) {
	t.mu.Lock()
	t.feeBps = feeBps
	t.mu.Unlock()
}

// SetHook устанавливает хук получателя (nil - отключить)
func (t *MemoryToken) SetHook(h TransferHook) {
	t.mu.Lock()
	t.hook = h
	t.mu.Unlock()
}

// TotalSupply возвращает эмиссию
func (t *MemoryToken) TotalSupply() decimal.Decimal {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.supply
}

// BalanceOf возвращает баланс счёта
func (t *MemoryToken) BalanceOf(_ context.Context, account common.Address) (decimal.Decimal, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.balances[account], nil
}

// Transfer переводит amount с from на to. Хук вызывается без блокировки
// токена, поэтому может сам вызывать Transfer.
func (t *MemoryToken) Transfer(ctx context.Context, from, to common.Address, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return fmt.Errorf("%w: negative amount", ErrInvalidTransfer)
	}
	if amount.IsZero() {
		return nil
	}

	t.mu.Lock()
	if t.balances[from].LessThan(amount) {
		t.mu.Unlock()
		return fmt.Errorf("%w: %s has %s, needs %s", ErrInsufficientBalance, from.Hex(), t.balances[from], amount)
	}
	fee := utils.ApplyBps(amount, t.feeBps)
	received := amount.Sub(fee)
	t.balances[from] = t.balances[from].Sub(amount)
	t.balances[to] = t.balances[to].Add(received)
	t.supply = t.supply.Sub(fee)
	hook := t.hook
	t.mu.Unlock()

	if hook == nil {
		return nil
	}
	if err := hook(ctx, from, to, amount); err != nil {
		t.mu.Lock()
		t.balances[to] = t.balances[to].Sub(received)
		t.balances[from] = t.balances[from].Add(amount)
		t.supply = t.supply.Add(fee)
		t.mu.Unlock()
		return err
	}
	return nil
}

var _ Token = (*MemoryToken)(nil)
