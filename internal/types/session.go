package types

import "time"

// SignerStatus tracks one cosigner's progress inside a signing session.
type SignerStatus int

const (
	SignerPending SignerStatus = iota
	SignerRequested
	SignerSigned
	SignerRejected
	SignerTimedOut
	SignerError
)

func (s SignerStatus) String() string {
	switch s {
	case SignerPending:
		return "pending"
	case SignerRequested:
		return "requested"
	case SignerSigned:
		return "signed"
	case SignerRejected:
		return "rejected"
	case SignerTimedOut:
		return "timed_out"
	case SignerError:
		return "error"
	default:
		return "unknown"
	}
}

// Terminal reports whether the status can no longer change.
func (s SignerStatus) Terminal() bool {
	switch s {
	case SignerSigned, SignerRejected, SignerTimedOut, SignerError:
		return true
	}
	return false
}

// PartialSignatureRecord is one collected partial signature persisted for
// session recovery. Stored as plain hex; partial signatures are not secret
// key material, only the final aggregate matters.
type PartialSignatureRecord struct {
	SessionID    string    `json:"session_id"`
	SignerPubkey PublicKey `json:"signer_pubkey"`
	SignatureHex string    `json:"signature_hex"`
	ReceivedAt   time.Time `json:"received_at"`
}

// SessionStatus is a point-in-time snapshot of a signing session handed to
// API callers and progress callbacks. It deliberately carries no partial
// signatures and no final signature.
type SessionStatus struct {
	SessionID           string                      `json:"session_id"`
	WalletID            string                      `json:"wallet_id"`
	EventKind           int                         `json:"event_kind"`
	SignaturesCollected uint32                      `json:"signatures_collected"`
	SignaturesRequired  uint32                      `json:"signatures_required"`
	SignerStatus        map[PublicKey]SignerStatus  `json:"signer_status"`
	CreatedAt           time.Time                   `json:"created_at"`
	ExpiresAt           time.Time                   `json:"expires_at"`
	Complete            bool                        `json:"complete"`
}
