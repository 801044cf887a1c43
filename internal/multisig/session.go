// Package multisig drives m-of-n threshold signing sessions: local
// signing, remote dispatch, partial-signature collection, and final
// aggregation.
package multisig

import (
	"time"

	"github.com/gnostr-org/signerd/internal/securemem"
	"github.com/gnostr-org/signerd/internal/types"
)

type signerState struct {
	cosigner types.Cosigner
	status   types.SignerStatus
	partial  *securemem.Buffer // hex partial signature, set once status is Signed
}

// Session is one threshold signing attempt. All fields are guarded by the
// owning coordinator's mutex; nothing here locks.
type Session struct {
	id         string
	walletID   string
	walletName string
	eventJSON  string
	eventKind  int
	required   uint32
	collected  uint32
	signers    map[types.PublicKey]*signerState
	order      []types.PublicKey // arrival order of partials, first one fixes R
	createdAt  time.Time
	expiresAt  time.Time
	isComplete bool
	timer      *time.Timer
}

func (s *Session) snapshot() types.SessionStatus {
	statuses := make(map[types.PublicKey]types.SignerStatus, len(s.signers))
	for pk, state := range s.signers {
		statuses[pk] = state.status
	}
	return types.SessionStatus{
		SessionID:           s.id,
		WalletID:            s.walletID,
		EventKind:           s.eventKind,
		SignaturesCollected: s.collected,
		SignaturesRequired:  s.required,
		SignerStatus:        statuses,
		CreatedAt:           s.createdAt,
		ExpiresAt:           s.expiresAt,
		Complete:            s.isComplete,
	}
}

// reachable reports whether the threshold can still be met given the
// signers not yet in a terminal state.
func (s *Session) reachable() bool {
	open := uint32(0)
	for _, state := range s.signers {
		if !state.status.Terminal() {
			open++
		}
	}
	return s.collected+open >= s.required
}

// partials returns collected partial signatures in arrival order and
// wipes the session's buffers.
func (s *Session) takePartials() []types.PartialSignatureRecord {
	records := make([]types.PartialSignatureRecord, 0, len(s.order))
	for _, pk := range s.order {
		state := s.signers[pk]
		if state == nil || state.partial == nil {
			continue
		}
		records = append(records, types.PartialSignatureRecord{
			SessionID:    s.id,
			SignerPubkey: pk,
			SignatureHex: string(state.partial.Bytes()),
		})
		state.partial.Free()
		state.partial = nil
	}
	return records
}

// wipe releases any remaining partial-signature buffers.
func (s *Session) wipe() {
	for _, state := range s.signers {
		if state.partial != nil {
			state.partial.Free()
			state.partial = nil
		}
	}
}

func (s *Session) stopTimer() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}
