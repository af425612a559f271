package main

import (
	"fmt"
	"io"

	"perpetual/pkg/crypto"
)

// hashTokenCommand печатает новый токен governance и его bcrypt хеш.
// Токен передаётся клиентам, хеш кладётся в GOVERNANCE_TOKEN_HASH.
func hashTokenCommand(w io.Writer, token string) error {
	if token == "" {
		generated, err := crypto.GenerateToken()
		if err != nil {
			return fmt.Errorf("generate token: %w", err)
		}
		token = generated
	}

	hash, err := crypto.HashToken(token, crypto.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash token: %w", err)
	}

	fmt.Fprintf(w, "GOVERNANCE_TOKEN=%s\n", token)
	fmt.Fprintf(w, "GOVERNANCE_TOKEN_HASH=%s\n", hash)
	return nil
}
