package types

import (
	"encoding/hex"
	"fmt"
)

// PublicKey is a 64-character hex encoded x-only secp256k1 public key, the
// canonical identity form used across the wallet store, signing sessions
// and the bunker protocol.
type PublicKey string

func (p PublicKey) String() string {
	return string(p)
}

// Validate checks the key is exactly 32 bytes of hex.
func (p PublicKey) Validate() error {
	if len(p) != 64 {
		return fmt.Errorf("public key must be 64 hex characters, got %d", len(p))
	}
	if _, err := hex.DecodeString(string(p)); err != nil {
		return fmt.Errorf("public key is not valid hex: %w", err)
	}
	return nil
}
