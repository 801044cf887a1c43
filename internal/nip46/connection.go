// Package nip46 maintains coordinator-side connections to remote bunker
// cosigners and routes their responses back into the signing session.
package nip46

import (
	"time"

	"github.com/gnostr-org/signerd/internal/bunker"
	"github.com/gnostr-org/signerd/internal/types"
	"github.com/gnostr-org/signerd/relay"
)

// ConnState is the remote connection lifecycle.
type ConnState int

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
	StateError
)

func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Connection is the link to one remote signer, reused across sessions
// while connected. Guarded by the owning manager's mutex.
type Connection struct {
	uri            *bunker.URI
	transport      relay.Transport
	state          ConnState
	lastErr        string
	lastContact    time.Time
	pendingSession string
	handshake      chan error
}

// ConnectionInfo is the API-facing view of a connection.
type ConnectionInfo struct {
	Pubkey         types.PublicKey `json:"pubkey"`
	Relays         []string        `json:"relays"`
	State          string          `json:"state"`
	LastError      string          `json:"last_error,omitempty"`
	LastContact    time.Time       `json:"last_contact,omitempty"`
	PendingSession string          `json:"pending_session,omitempty"`
}

func (c *Connection) info() ConnectionInfo {
	return ConnectionInfo{
		Pubkey:         c.uri.Pubkey,
		Relays:         append([]string(nil), c.uri.Relays...),
		State:          c.state.String(),
		LastError:      c.lastErr,
		LastContact:    c.lastContact,
		PendingSession: c.pendingSession,
	}
}
