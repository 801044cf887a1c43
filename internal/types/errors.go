package types

import "errors"

// Error taxonomy shared by the wallet store, signing sessions and the
// bunker responder. Callers match with errors.Is after unwrapping.
var (
	ErrInvalidConfig   = errors.New("invalid threshold configuration")
	ErrInvalidSigner   = errors.New("invalid signer information")
	ErrNotFound        = errors.New("wallet or session not found")
	ErrThresholdNotMet = errors.New("signature threshold not met")
	ErrDuplicate       = errors.New("duplicate entry")
	ErrBackend         = errors.New("backend error")
	ErrTimeout         = errors.New("session timed out")
	ErrCanceled        = errors.New("signing canceled")
	ErrRemoteFailed    = errors.New("remote signer communication failed")

	// ErrWatchOnly is returned when a responder is started for an identity
	// that has no usable private key.
	ErrWatchOnly = errors.New("watch-only identity has no private key")

	// ErrRateLimited carries no remaining-seconds detail by itself; the
	// bunker wraps it with the cooldown so callers can present it.
	ErrRateLimited = errors.New("client is rate limited")
)
