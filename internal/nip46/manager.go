package nip46

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/gnostr-org/signerd/internal/bunker"
	"github.com/gnostr-org/signerd/internal/types"
	"github.com/gnostr-org/signerd/relay"
)

const handshakeTimeout = 15 * time.Second

// SessionSink receives remote signing outcomes, keyed by session id.
// Implemented by the multisig coordinator.
type SessionSink interface {
	AddSignature(sessionID string, signer types.PublicKey, partialHex string) error
	Reject(sessionID string, signer types.PublicKey, reason string) error
}

// Manager keys remote signer connections by pubkey and reuses them across
// signing sessions.
type Manager struct {
	mu       sync.Mutex
	conns    map[types.PublicKey]*Connection
	sink     SessionSink
	identity types.PublicKey
	dial     func(relayURL string) relay.Transport
	logger   *logrus.Logger
	now      func() time.Time
}

// NewManager builds a manager signing as identity. The sink is attached
// later through SetSink because coordinator and manager reference each
// other.
func NewManager(identity types.PublicKey) *Manager {
	return &Manager{
		conns:    make(map[types.PublicKey]*Connection),
		identity: identity,
		dial:     func(relayURL string) relay.Transport { return relay.NewClient(relayURL) },
		logger:   logrus.WithField("service", "nip46").Logger,
		now:      time.Now,
	}
}

// SetSink attaches the session router.
func (m *Manager) SetSink(sink SessionSink) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sink = sink
}

// Connect opens (or reuses) the connection for bunkerURI and blocks until
// the remote acknowledges the handshake.
func (m *Manager) Connect(ctx context.Context, bunkerURI string) error {
	uri, err := bunker.ParseURI(bunkerURI)
	if err != nil {
		return err
	}
	if len(uri.Relays) == 0 {
		return fmt.Errorf("%w: bunker URI for %s names no relay", types.ErrInvalidConfig, uri.Pubkey)
	}

	m.mu.Lock()
	var stale relay.Transport
	if conn, ok := m.conns[uri.Pubkey]; ok {
		if conn.state == StateConnected {
			m.mu.Unlock()
			return nil
		}
		// A replaced connection must not keep its socket and read loop.
		stale = conn.transport
	}

	transport := m.dial(uri.Relays[0])
	conn := &Connection{
		uri:       uri,
		transport: transport,
		state:     StateConnecting,
		handshake: make(chan error, 1),
	}
	m.conns[uri.Pubkey] = conn
	m.mu.Unlock()

	if stale != nil {
		if err := stale.Close(); err != nil {
			m.logger.WithError(err).WithField("remote", uri.Pubkey).Debug("stale transport close failed")
		}
	}

	remote := uri.Pubkey
	transport.OnResponse(func(resp *relay.Response) { m.handleResponse(remote, resp) })

	if err := transport.Connect(ctx); err != nil {
		m.failConnection(remote, err)
		return fmt.Errorf("%w: %v", types.ErrRemoteFailed, err)
	}

	req := &relay.Request{
		ID:     "connect-" + string(remote),
		From:   string(m.identity),
		Method: "connect",
		Params: []string{string(remote), uri.Secret},
	}
	if err := transport.Send(ctx, req); err != nil {
		m.failConnection(remote, err)
		return fmt.Errorf("%w: %v", types.ErrRemoteFailed, err)
	}

	timeout := handshakeTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if until := time.Until(deadline); until < timeout {
			timeout = until
		}
	}
	select {
	case err := <-conn.handshake:
		if err != nil {
			return err
		}
	case <-time.After(timeout):
		m.failConnection(remote, types.ErrTimeout)
		return fmt.Errorf("%w: handshake with %s", types.ErrTimeout, uri.Redacted())
	case <-ctx.Done():
		m.failConnection(remote, ctx.Err())
		return ctx.Err()
	}
	return nil
}

// RequestSignature dispatches a sign request for sessionID. It opens the
// connection on first use and fails fast when it cannot reach Connected.
func (m *Manager) RequestSignature(ctx context.Context, cosigner types.Cosigner, sessionID, eventJSON string) error {
	if cosigner.Kind != types.CosignerRemoteBunker {
		return fmt.Errorf("%w: %s is not a remote cosigner", types.ErrInvalidSigner, cosigner.PublicKey)
	}
	if err := m.Connect(ctx, cosigner.BunkerURI); err != nil {
		return err
	}

	m.mu.Lock()
	conn, ok := m.conns[cosigner.PublicKey]
	if !ok || conn.state != StateConnected {
		m.mu.Unlock()
		return fmt.Errorf("%w: no connected signer at %s", types.ErrRemoteFailed, cosigner.PublicKey)
	}
	conn.pendingSession = sessionID
	transport := conn.transport
	m.mu.Unlock()

	req := &relay.Request{
		ID:     sessionID,
		From:   string(m.identity),
		Method: "sign_event",
		Params: []string{eventJSON},
	}
	if err := transport.Send(ctx, req); err != nil {
		return fmt.Errorf("%w: %v", types.ErrRemoteFailed, err)
	}
	return nil
}

// handleResponse routes one inbound frame by method name.
func (m *Manager) handleResponse(remote types.PublicKey, resp *relay.Response) {
	m.mu.Lock()
	conn, ok := m.conns[remote]
	if !ok {
		m.mu.Unlock()
		return
	}
	conn.lastContact = m.now().UTC()
	sink := m.sink
	m.mu.Unlock()

	switch resp.Method {
	case "connect":
		m.completeHandshake(remote, resp)

	case "sign_event":
		m.mu.Lock()
		if conn.pendingSession == resp.ID {
			conn.pendingSession = ""
		}
		m.mu.Unlock()
		if sink == nil {
			return
		}
		if resp.Error != "" {
			if err := sink.Reject(resp.ID, remote, resp.Error); err != nil {
				m.logger.WithError(err).WithField("session", resp.ID).Debug("rejection not routed")
			}
			return
		}
		if err := sink.AddSignature(resp.ID, remote, resp.Result); err != nil {
			m.logger.WithError(err).WithField("session", resp.ID).Debug("signature not routed")
		}

	default:
		m.logger.WithFields(logrus.Fields{
			"remote": remote,
			"method": resp.Method,
		}).Debug("ignoring frame for unknown method")
	}
}

func (m *Manager) completeHandshake(remote types.PublicKey, resp *relay.Response) {
	m.mu.Lock()
	conn, ok := m.conns[remote]
	if !ok || conn.state != StateConnecting {
		m.mu.Unlock()
		return
	}
	var result error
	if resp.Error != "" {
		conn.state = StateError
		conn.lastErr = resp.Error
		result = fmt.Errorf("%w: %s", types.ErrRemoteFailed, resp.Error)
	} else {
		conn.state = StateConnected
		conn.lastErr = ""
	}
	handshake := conn.handshake
	m.mu.Unlock()

	select {
	case handshake <- result:
	default:
	}
	m.logger.WithFields(logrus.Fields{
		"remote": remote,
		"state":  conn.state.String(),
	}).Info("remote signer handshake finished")
}

func (m *Manager) failConnection(remote types.PublicKey, cause error) {
	m.mu.Lock()
	conn, ok := m.conns[remote]
	if ok {
		conn.state = StateError
		conn.lastErr = cause.Error()
	}
	m.mu.Unlock()
}

// Disconnect closes and forgets the connection for remote.
func (m *Manager) Disconnect(remote types.PublicKey) error {
	m.mu.Lock()
	conn, ok := m.conns[remote]
	if ok {
		delete(m.conns, remote)
	}
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: connection %s", types.ErrNotFound, remote)
	}
	return conn.transport.Close()
}

// State reports the lifecycle state for remote.
func (m *Manager) State(remote types.PublicKey) ConnState {
	m.mu.Lock()
	defer m.mu.Unlock()
	if conn, ok := m.conns[remote]; ok {
		return conn.state
	}
	return StateDisconnected
}

// IsConnected reports whether remote is usable for sign requests.
func (m *Manager) IsConnected(remote types.PublicKey) bool {
	return m.State(remote) == StateConnected
}

// Connections lists every known connection.
func (m *Manager) Connections() []ConnectionInfo {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]ConnectionInfo, 0, len(m.conns))
	for _, conn := range m.conns {
		out = append(out, conn.info())
	}
	return out
}

// Close tears down every connection.
func (m *Manager) Close() {
	m.mu.Lock()
	conns := m.conns
	m.conns = make(map[types.PublicKey]*Connection)
	m.mu.Unlock()

	for remote, conn := range conns {
		if err := conn.transport.Close(); err != nil {
			m.logger.WithError(err).WithField("remote", remote).Debug("transport close failed")
		}
	}
}
