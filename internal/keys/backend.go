// Package keys defines the signing capability the responder and
// coordinator bottom out in, plus the secret-key storage it draws from.
// Key bytes crossing these interfaces travel inside securemem buffers.
package keys

import (
	"github.com/gnostr-org/signerd/internal/securemem"
	"github.com/gnostr-org/signerd/internal/types"
)

// KeyType selects the signature scheme for an identity.
type KeyType string

const (
	KeyTypeSecp256k1 KeyType = "secp256k1" // BIP-340 Schnorr, x-only pubkeys
)

// SigningBackend signs events and manages key material for one scheme.
type SigningBackend interface {
	// SignEvent hashes the event canonically and signs it under identity.
	// The returned buffer holds the hex signature and is owned by the
	// caller, who must free it after copying it out.
	SignEvent(eventJSON string, identity types.PublicKey) (*securemem.Buffer, error)

	// DerivePublicKey returns the x-only public key for a private key held
	// in buf. The buffer is borrowed, not consumed.
	DerivePublicKey(priv *securemem.Buffer) (types.PublicKey, error)

	// Verify checks a 64-byte hex signature over the event's canonical hash.
	Verify(eventJSON string, sigHex string, pubkey types.PublicKey) (bool, error)

	// GeneratePrivateKey creates a fresh key and returns it in a secure
	// buffer owned by the caller.
	GeneratePrivateKey() (*securemem.Buffer, error)

	// ValidPrivateKey reports whether buf holds usable key bytes.
	ValidPrivateKey(priv *securemem.Buffer) bool
}

// SecretStore holds private key material by identity. Only the signing
// backend integration touches it; the coordinator and responder never do.
type SecretStore interface {
	// LookupKey returns the private key for identity in a buffer owned by
	// the caller. types.ErrNotFound when absent, types.ErrWatchOnly when
	// the identity is known but carries no private key.
	LookupKey(identity types.PublicKey) (*securemem.Buffer, error)

	// StoreKey persists key material for identity, consuming the buffer.
	StoreKey(identity types.PublicKey, priv *securemem.Buffer) error

	// DeleteKey removes key material for identity.
	DeleteKey(identity types.PublicKey) error

	// IsWatchOnly reports whether identity has no usable private key.
	IsWatchOnly(identity types.PublicKey) bool
}
