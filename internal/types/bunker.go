package types

import "time"

// BunkerConnection is the responder-side record of an authorized client.
type BunkerConnection struct {
	ClientPubkey PublicKey `json:"client_pubkey"`
	AppName      string    `json:"app_name,omitempty"`
	Permissions  []string  `json:"permissions,omitempty"`
	ConnectedAt  time.Time `json:"connected_at"`
	LastRequest  time.Time `json:"last_request,omitempty"`
	RequestCount uint64    `json:"request_count"`
}

// PendingSignRequest is a sign request parked while the approval capability
// decides. Removed once approved or denied.
type PendingSignRequest struct {
	RequestID    string    `json:"request_id"`
	ClientPubkey PublicKey `json:"client_pubkey"`
	Method       string    `json:"method"`
	EventJSON    string    `json:"-"` // full payload stays out of API listings
	EventKind    int       `json:"event_kind"`
	Preview      string    `json:"preview"`
	ReceivedAt   time.Time `json:"received_at"`
}

// HistoryOutcome classifies a signing decision for the event history log.
type HistoryOutcome string

const (
	HistoryApproved HistoryOutcome = "approved"
	HistoryDenied   HistoryOutcome = "denied"
	HistoryError    HistoryOutcome = "error"
)

// HistoryEntry is one line of the append-only signing decision log.
type HistoryEntry struct {
	ID           int64          `json:"id"`
	EventID      string         `json:"event_id,omitempty"`
	EventKind    int            `json:"event_kind"`
	ClientPubkey PublicKey      `json:"client_pubkey"`
	AppName      string         `json:"app_name,omitempty"`
	Identity     PublicKey      `json:"identity"`
	Method       string         `json:"method"`
	Outcome      HistoryOutcome `json:"outcome"`
	Preview      string         `json:"preview,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}
