package utils

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// validator.go - валидация входных данных API

var (
	ErrInvalidSymbol     = errors.New("invalid market symbol")
	ErrInvalidAddress    = errors.New("invalid address")
	ErrInvalidPositionID = errors.New("invalid position id")
)

// symbolRe - BASE/QUOTE или BASE-QUOTE, например ETH/USD, BTC-USDC
var symbolRe = regexp.MustCompile(`^[A-Z0-9]{2,12}[/-][A-Z0-9]{2,12}$`)

// NormalizeSymbol приводит символ к верхнему регистру и проверяет формат
func NormalizeSymbol(symbol string) (string, error) {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	if !symbolRe.MatchString(s) {
		return "", fmt.Errorf("%w: %q", ErrInvalidSymbol, symbol)
	}
	return s, nil
}

// ParseAddress разбирает hex адрес (0x + 40 hex символов). Нулевой адрес запрещен.
func ParseAddress(s string) (common.Address, error) {
	s = strings.TrimSpace(s)
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%w: %q", ErrInvalidAddress, s)
	}
	addr := common.HexToAddress(s)
	if addr == (common.Address{}) {
		return common.Address{}, fmt.Errorf("%w: zero address", ErrInvalidAddress)
	}
	return addr, nil
}

// ParsePositionID разбирает 32-байтный ID позиции в hex
func ParsePositionID(s string) (common.Hash, error) {
	s = strings.TrimSpace(s)
	raw := strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if len(raw) != 64 {
		return common.Hash{}, fmt.Errorf("%w: %q", ErrInvalidPositionID, s)
	}
	for _, c := range raw {
		if !strings.ContainsRune("0123456789abcdefABCDEF", c) {
			return common.Hash{}, fmt.Errorf("%w: %q", ErrInvalidPositionID, s)
		}
	}
	return common.HexToHash(raw), nil
}
