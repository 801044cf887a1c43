package types

import (
	"fmt"
	"time"
)

// CosignerKind distinguishes keys this process holds from remote bunkers.
type CosignerKind string

const (
	CosignerLocal        CosignerKind = "local"
	CosignerRemoteBunker CosignerKind = "remote_bunker"
)

// Cosigner is one participant in an m-of-n wallet.
type Cosigner struct {
	ID        string       `json:"id"`
	PublicKey PublicKey    `json:"public_key"`
	Label     string       `json:"label"`
	Kind      CosignerKind `json:"kind"`
	BunkerURI string       `json:"bunker_uri,omitempty"` // remote cosigners only
	IsSelf    bool         `json:"is_self"`
}

func (c *Cosigner) IsValid() error {
	if err := c.PublicKey.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSigner, err)
	}
	switch c.Kind {
	case CosignerLocal:
	case CosignerRemoteBunker:
		if c.BunkerURI == "" {
			return fmt.Errorf("%w: remote cosigner requires a bunker URI", ErrInvalidSigner)
		}
	default:
		return fmt.Errorf("%w: unknown cosigner kind %q", ErrInvalidSigner, c.Kind)
	}
	return nil
}

// Wallet is the persistent configuration of an m-of-n signing group.
// Invariant: 1 <= ThresholdM <= TotalN; cosigners are unique by public key
// and never exceed TotalN.
type Wallet struct {
	ID         string     `json:"wallet_id"`
	Name       string     `json:"name"`
	ThresholdM uint32     `json:"threshold_m"`
	TotalN     uint32     `json:"total_n"`
	Cosigners  []Cosigner `json:"cosigners"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// ValidateThreshold enforces 1 <= m <= n.
func ValidateThreshold(m, n uint32) error {
	if m == 0 || n == 0 {
		return fmt.Errorf("%w: threshold and total must be positive (got %d-of-%d)", ErrInvalidConfig, m, n)
	}
	if m > n {
		return fmt.Errorf("%w: threshold %d exceeds total %d", ErrInvalidConfig, m, n)
	}
	return nil
}

// HasCosigner reports whether pubkey is already a member.
func (w *Wallet) HasCosigner(pubkey PublicKey) bool {
	for i := range w.Cosigners {
		if w.Cosigners[i].PublicKey == pubkey {
			return true
		}
	}
	return false
}
