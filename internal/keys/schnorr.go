package keys

import (
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/sirupsen/logrus"

	"github.com/gnostr-org/signerd/internal/securemem"
	"github.com/gnostr-org/signerd/internal/types"
)

const privKeyLen = 32

// Secp256k1Backend signs nostr events with BIP-340 Schnorr signatures.
// Private keys live in the secret store and only surface inside securemem
// buffers for the duration of one operation.
type Secp256k1Backend struct {
	store  SecretStore
	logger *logrus.Logger
}

var _ SigningBackend = (*Secp256k1Backend)(nil)

// NewSecp256k1Backend builds a backend over the given store.
func NewSecp256k1Backend(store SecretStore) *Secp256k1Backend {
	return &Secp256k1Backend{
		store:  store,
		logger: logrus.WithField("module", "keys").Logger,
	}
}

// SignEvent signs the canonical hash of eventJSON under identity and
// returns the 128-char hex signature in a caller-owned buffer.
func (b *Secp256k1Backend) SignEvent(eventJSON string, identity types.PublicKey) (*securemem.Buffer, error) {
	ev, err := ParseEvent(eventJSON)
	if err != nil {
		return nil, err
	}
	digest, err := ev.Hash()
	if err != nil {
		return nil, err
	}

	keyBuf, err := b.store.LookupKey(identity)
	if err != nil {
		return nil, err
	}
	defer keyBuf.Free()
	if keyBuf.Len() != privKeyLen {
		return nil, fmt.Errorf("%w: stored key has unexpected length", types.ErrBackend)
	}

	priv, _ := btcec.PrivKeyFromBytes(keyBuf.Bytes())
	defer priv.Zero()

	sig, err := schnorr.Sign(priv, digest[:])
	if err != nil {
		return nil, fmt.Errorf("%w: schnorr sign: %v", types.ErrBackend, err)
	}

	raw := sig.Serialize()
	out, err := securemem.Alloc(hex.EncodedLen(len(raw)))
	if err != nil {
		return nil, err
	}
	hex.Encode(out.Bytes(), raw)
	securemem.Clear(raw)
	return out, nil
}

// DerivePublicKey returns the x-only public key for key bytes in priv.
func (b *Secp256k1Backend) DerivePublicKey(priv *securemem.Buffer) (types.PublicKey, error) {
	if priv == nil || priv.Len() != privKeyLen {
		return "", fmt.Errorf("%w: private key must be %d bytes", types.ErrBackend, privKeyLen)
	}
	pk, pub := btcec.PrivKeyFromBytes(priv.Bytes())
	defer pk.Zero()
	return types.PublicKey(hex.EncodeToString(schnorr.SerializePubKey(pub))), nil
}

// Verify checks a 64-byte hex signature over the event's canonical hash.
func (b *Secp256k1Backend) Verify(eventJSON string, sigHex string, pubkey types.PublicKey) (bool, error) {
	ev, err := ParseEvent(eventJSON)
	if err != nil {
		return false, err
	}
	digest, err := ev.Hash()
	if err != nil {
		return false, err
	}

	sigBytes, err := hex.DecodeString(sigHex)
	if err != nil {
		return false, fmt.Errorf("fail to decode signature: %w", err)
	}
	sig, err := schnorr.ParseSignature(sigBytes)
	if err != nil {
		return false, fmt.Errorf("fail to parse signature: %w", err)
	}

	pkBytes, err := hex.DecodeString(string(pubkey))
	if err != nil {
		return false, fmt.Errorf("fail to decode pubkey: %w", err)
	}
	pk, err := schnorr.ParsePubKey(pkBytes)
	if err != nil {
		return false, fmt.Errorf("fail to parse pubkey: %w", err)
	}

	return sig.Verify(digest[:], pk), nil
}

// GeneratePrivateKey creates a fresh secp256k1 key in a secure buffer.
func (b *Secp256k1Backend) GeneratePrivateKey() (*securemem.Buffer, error) {
	priv, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("%w: generate key: %v", types.ErrBackend, err)
	}
	defer priv.Zero()

	buf, err := securemem.Alloc(privKeyLen)
	if err != nil {
		return nil, err
	}
	serialized := priv.Serialize()
	copy(buf.Bytes(), serialized)
	securemem.Clear(serialized)
	return buf, nil
}

// ValidPrivateKey reports whether buf holds a usable scalar.
func (b *Secp256k1Backend) ValidPrivateKey(priv *securemem.Buffer) bool {
	if priv == nil || priv.Len() != privKeyLen {
		return false
	}
	allZero := true
	for _, c := range priv.Bytes() {
		if c != 0 {
			allZero = false
			break
		}
	}
	return !allZero
}
