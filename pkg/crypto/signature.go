package crypto

import (
	"crypto/ecdsa"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// signature.go - подписи запросов трейдеров (EIP-191 personal_sign)
//
// Клиент подписывает ключом своего адреса сообщение
//
//	<METHOD> <PATH>
//	<unix timestamp>
//	<keccak256(body) hex>
//
// и передаёт подпись (65 байт hex, v = 27/28 или 0/1) вместе с адресом
// и timestamp. Сервер восстанавливает адрес из подписи и сравнивает.

// Ошибки подписей
var (
	ErrInvalidSignature = errors.New("invalid signature")
	ErrSignerMismatch   = errors.New("signature does not match address")
)

// RequestMessage - подписываемое сообщение запроса
func RequestMessage(method, path string, timestamp int64, body []byte) []byte {
	return []byte(fmt.Sprintf("%s %s\n%d\n%s",
		strings.ToUpper(method), path, timestamp, ethcrypto.Keccak256Hash(body).Hex()))
}

// SignRequest подписывает запрос ключом key (v = 27/28, как кошельки)
func SignRequest(key *ecdsa.PrivateKey, method, path string, timestamp int64, body []byte) (string, error) {
	sig, err := ethcrypto.Sign(accounts.TextHash(RequestMessage(method, path, timestamp, body)), key)
	if err != nil {
		return "", fmt.Errorf("sign request: %w", err)
	}
	sig[ethcrypto.RecoveryIDOffset] += 27
	return "0x" + hex.EncodeToString(sig), nil
}

// RecoverRequestSigner восстанавливает адрес, подписавший запрос
func RecoverRequestSigner(method, path string, timestamp int64, body []byte, signature string) (common.Address, error) {
	sig, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(signature), "0x"))
	if err != nil || len(sig) != ethcrypto.SignatureLength {
		return common.Address{}, ErrInvalidSignature
	}
	if v := sig[ethcrypto.RecoveryIDOffset]; v >= 27 {
		sig[ethcrypto.RecoveryIDOffset] = v - 27
	}

	pub, err := ethcrypto.SigToPub(accounts.TextHash(RequestMessage(method, path, timestamp, body)), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}

// VerifyRequest проверяет, что запрос подписан адресом signer
func VerifyRequest(signer common.Address, method, path string, timestamp int64, body []byte, signature string) error {
	recovered, err := RecoverRequestSigner(method, path, timestamp, body, signature)
	if err != nil {
		return err
	}
	if recovered != signer {
		return fmt.Errorf("%w: signed by %s", ErrSignerMismatch, recovered.Hex())
	}
	return nil
}
