package utils

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

// math.go - арифметика с фиксированной точкой (18 знаков)
//
// Все денежные величины и размеры позиций хранятся в decimal.Decimal в единицах
// токена. Любое деление округляет к нулю на 18-м знаке, как целочисленное
// деление над wei. Умножение точное.

const (
	// Decimals - количество дробных знаков фиксированной точки
	Decimals = 18

	// BasisPoints - 100% в базисных пунктах
	BasisPoints = 10000
)

var (
	// BPS - BasisPoints в виде decimal
	BPS = decimal.NewFromInt(BasisPoints)

	// MaxPrice - насыщающий максимум цены: (2^256-1) / 1e18
	MaxPrice = decimal.NewFromBigInt(new(uint256.Int).SetAllOne().ToBig(), -Decimals)
)

// Ошибки разбора сумм
var (
	ErrInvalidAmount  = errors.New("invalid amount")
	ErrNegativeAmount = errors.New("amount cannot be negative")
	ErrTooManyDigits  = errors.New("amount has more than 18 fractional digits")
)

// Div делит a на b с отсечением на 18-м знаке. Деление на ноль возвращает 0.
func Div(a, b decimal.Decimal) decimal.Decimal {
	if b.IsZero() {
		return decimal.Zero
	}
	q, _ := a.QuoRem(b, Decimals)
	return q
}

// MulDiv считает a*b/c (произведение точное, деление с отсечением)
func MulDiv(a, b, c decimal.Decimal) decimal.Decimal {
	return Div(a.Mul(b), c)
}

// ApplyBps возвращает amount * bps / 10000
//
// Примеры:
//   - ApplyBps(1000, 100) = 10
//   - ApplyBps(1000, 5000) = 500
func ApplyBps(amount decimal.Decimal, bps int64) decimal.Decimal {
	return MulDiv(amount, decimal.NewFromInt(bps), BPS)
}

// RatioBps возвращает num * 10000 / den, округленный к нулю до целых bps.
// При den == 0 возвращает 0.
func RatioBps(num, den decimal.Decimal) int64 {
	if den.IsZero() {
		return 0
	}
	return MulDiv(num, BPS, den).Truncate(0).IntPart()
}

// Clamp ограничивает v диапазоном [lo, hi]
func Clamp(v, lo, hi decimal.Decimal) decimal.Decimal {
	if v.LessThan(lo) {
		return lo
	}
	if v.GreaterThan(hi) {
		return hi
	}
	return v
}

// ClampInt64 ограничивает v диапазоном [lo, hi]
func ClampInt64(v, lo, hi int64) int64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// PositivePart возвращает max(v, 0)
func PositivePart(v decimal.Decimal) decimal.Decimal {
	if v.IsNegative() {
		return decimal.Zero
	}
	return v
}

// WeightedAverage считает средневзвешенное значение.
// Пустой вход или нулевая сумма весов дают 0.
func WeightedAverage(values, weights []decimal.Decimal) decimal.Decimal {
	if len(values) == 0 || len(values) != len(weights) {
		return decimal.Zero
	}
	sum := decimal.Zero
	total := decimal.Zero
	for i, v := range values {
		sum = sum.Add(v.Mul(weights[i]))
		total = total.Add(weights[i])
	}
	return Div(sum, total)
}

// ParseAmount разбирает неотрицательную сумму в фиксированной точке
func ParseAmount(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	if d.IsNegative() {
		return decimal.Zero, ErrNegativeAmount
	}
	if d.Exponent() < -Decimals {
		return decimal.Zero, ErrTooManyDigits
	}
	return d, nil
}
