package multisig

import (
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"

	"github.com/gnostr-org/signerd/internal/types"
)

const sigHexLen = 128

// AggregateSignatures combines partial Schnorr signatures into one 64-byte
// signature: the R point of the first partial is kept and the s scalars
// are summed modulo the curve order. Callers are expected to run this over
// partials produced for an agreed nonce; the scheme is not hardened
// against rogue-key attacks.
func AggregateSignatures(partials []types.PartialSignatureRecord) (string, error) {
	if len(partials) == 0 {
		return "", fmt.Errorf("%w: no partial signatures to aggregate", types.ErrThresholdNotMet)
	}

	var rPoint []byte
	var sum btcec.ModNScalar
	for i, partial := range partials {
		raw, err := hex.DecodeString(partial.SignatureHex)
		if err != nil {
			return "", fmt.Errorf("%w: partial from %s is not hex", types.ErrInvalidSigner, partial.SignerPubkey)
		}
		if len(raw) != 64 {
			return "", fmt.Errorf("%w: partial from %s has length %d", types.ErrInvalidSigner, partial.SignerPubkey, len(raw))
		}

		if i == 0 {
			rPoint = raw[:32]
		}

		var s btcec.ModNScalar
		if overflow := s.SetByteSlice(raw[32:]); overflow {
			return "", fmt.Errorf("%w: partial from %s has s out of range", types.ErrInvalidSigner, partial.SignerPubkey)
		}
		sum.Add(&s)
	}

	out := make([]byte, 64)
	copy(out[:32], rPoint)
	sumBytes := sum.Bytes()
	copy(out[32:], sumBytes[:])
	return hex.EncodeToString(out), nil
}
