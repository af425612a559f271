package engine

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

// PositionID возвращает keccak256(trader ‖ uint256(nonce)).
// Nonce глобальный и строго возрастающий, поэтому ID не повторяются.
func PositionID(trader common.Address, nonce uint64) common.Hash {
	word := uint256.NewInt(nonce).Bytes32()
	return crypto.Keccak256Hash(trader.Bytes(), word[:])
}
