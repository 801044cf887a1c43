// Package bunker implements the responder side of remote signing: it
// authorizes clients, gates sign requests behind rate limiting, client
// sessions and interactive approval, and signs with the local identity.
package bunker

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/gnostr-org/signerd/internal/clientsession"
	"github.com/gnostr-org/signerd/internal/history"
	"github.com/gnostr-org/signerd/internal/keys"
	"github.com/gnostr-org/signerd/internal/ratelimit"
	"github.com/gnostr-org/signerd/internal/securemem"
	"github.com/gnostr-org/signerd/internal/types"
	"github.com/gnostr-org/signerd/relay"
)

// State is the responder lifecycle.
type State int

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateError
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

const previewLen = 80

// Approver is the interactive decision capability. Either call may block
// while a user decides.
type Approver interface {
	AuthorizeConnect(client types.PublicKey, appName string, permissions []string) bool
	ApproveSignRequest(req types.PendingSignRequest) bool
}

// Config carries the responder's policy knobs.
type Config struct {
	AllowedClients   []types.PublicKey // empty means any client may ask
	AutoApproveKinds []int
	SessionTTL       time.Duration
}

// Service is the signing responder. One mutex guards all state; the
// approver and the backend are always invoked outside it.
type Service struct {
	mu            sync.Mutex
	state         State
	lastErr       error
	identity      types.PublicKey
	relays        []string
	transport     relay.Transport
	backend       keys.SigningBackend
	secrets       keys.SecretStore
	limiter       *ratelimit.Limiter
	sessions      *clientsession.Registry
	history       *history.Store
	approver      Approver
	allowed       map[types.PublicKey]bool
	autoKinds     map[int]bool
	sessionTTL    time.Duration
	connections   map[types.PublicKey]*types.BunkerConnection
	pending       map[string]*types.PendingSignRequest
	currentClient types.PublicKey
	logger        *logrus.Logger
	now           func() time.Time
}

// NewService wires the responder. transport and historyStore may be nil
// in embedded or test setups; approver nil means non-allow-listed
// clients and non-auto-approved kinds are denied.
func NewService(backend keys.SigningBackend, secrets keys.SecretStore, limiter *ratelimit.Limiter, sessions *clientsession.Registry, historyStore *history.Store, transport relay.Transport, approver Approver, cfg Config) *Service {
	allowed := make(map[types.PublicKey]bool, len(cfg.AllowedClients))
	for _, pk := range cfg.AllowedClients {
		allowed[pk] = true
	}
	autoKinds := make(map[int]bool, len(cfg.AutoApproveKinds))
	for _, kind := range cfg.AutoApproveKinds {
		autoKinds[kind] = true
	}
	return &Service{
		state:       StateStopped,
		backend:     backend,
		secrets:     secrets,
		limiter:     limiter,
		sessions:    sessions,
		history:     historyStore,
		transport:   transport,
		approver:    approver,
		allowed:     allowed,
		autoKinds:   autoKinds,
		sessionTTL:  cfg.SessionTTL,
		connections: make(map[types.PublicKey]*types.BunkerConnection),
		pending:     make(map[string]*types.PendingSignRequest),
		logger:      logrus.WithField("service", "bunker").Logger,
		now:         time.Now,
	}
}

// Start brings the responder up for one identity. Fails for watch-only
// identities before touching the network.
func (s *Service) Start(ctx context.Context, relays []string, identity types.PublicKey) error {
	if err := identity.Validate(); err != nil {
		return err
	}
	if s.secrets.IsWatchOnly(identity) {
		return fmt.Errorf("%w: cannot start responder for %s", types.ErrWatchOnly, identity)
	}

	s.mu.Lock()
	if s.state == StateRunning || s.state == StateStarting {
		s.mu.Unlock()
		return fmt.Errorf("%w: responder already running", types.ErrDuplicate)
	}
	s.state = StateStarting
	s.identity = identity
	s.relays = append([]string(nil), relays...)
	s.lastErr = nil
	s.mu.Unlock()

	if s.transport != nil {
		s.transport.OnRequest(func(req *relay.Request) { s.handleRequest(context.Background(), req) })
		if err := s.transport.Connect(ctx); err != nil {
			s.mu.Lock()
			s.state = StateError
			s.lastErr = err
			s.mu.Unlock()
			return fmt.Errorf("%w: %v", types.ErrRemoteFailed, err)
		}
	}

	s.mu.Lock()
	s.state = StateRunning
	s.mu.Unlock()
	s.logger.WithFields(logrus.Fields{
		"identity": identity,
		"relays":   relays,
	}).Info("bunker responder running")
	return nil
}

// Stop drops every connection and pending request unconditionally.
func (s *Service) Stop() {
	s.mu.Lock()
	s.state = StateStopped
	s.connections = make(map[types.PublicKey]*types.BunkerConnection)
	s.pending = make(map[string]*types.PendingSignRequest)
	s.currentClient = ""
	transport := s.transport
	s.mu.Unlock()

	if transport != nil {
		if err := transport.Close(); err != nil {
			s.logger.WithError(err).Debug("transport close failed")
		}
	}
	s.logger.Info("bunker responder stopped")
}

// State returns the lifecycle state.
func (s *Service) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LastError returns the failure that moved the responder to StateError.
func (s *Service) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Authorize handles a connect request from client. On success the client
// becomes the current signing client.
func (s *Service) Authorize(client types.PublicKey, appName string, permissions []string) error {
	if s.State() != StateRunning {
		return fmt.Errorf("%w: responder is not running", types.ErrInvalidConfig)
	}
	if err := client.Validate(); err != nil {
		return err
	}

	status, remaining := s.limiter.Check(client)
	if status == ratelimit.Locked {
		s.logger.WithFields(logrus.Fields{
			"client":    client,
			"remaining": remaining,
		}).Warn("client is rate limited")
		return fmt.Errorf("%w: retry in %s", types.ErrRateLimited, remaining.Round(time.Second))
	}

	if len(s.allowed) > 0 && !s.allowed[client] {
		s.limiter.Record(client, false)
		return fmt.Errorf("%w: client %s is not allow-listed", types.ErrInvalidSigner, client)
	}

	if len(s.allowed) == 0 && s.approver != nil {
		if !s.approver.AuthorizeConnect(client, appName, permissions) {
			s.limiter.Record(client, false)
			return fmt.Errorf("%w: connect request denied", types.ErrCanceled)
		}
	}

	s.limiter.Record(client, true)

	now := s.now().UTC()
	s.mu.Lock()
	s.connections[client] = &types.BunkerConnection{
		ClientPubkey: client,
		AppName:      appName,
		Permissions:  permissions,
		ConnectedAt:  now,
	}
	s.currentClient = client
	s.mu.Unlock()

	s.logger.WithFields(logrus.Fields{
		"client": client,
		"app":    appName,
	}).Info("client authorized")
	return nil
}

// HandleConnectURI authorizes a client from a nostrconnect:// pairing
// URI, where the client advertises its own pubkey, app name and
// requested permissions.
func (s *Service) HandleConnectURI(uri string) error {
	u, err := url.Parse(uri)
	if err != nil {
		return fmt.Errorf("%w: %v", types.ErrInvalidConfig, err)
	}
	if u.Scheme != "nostrconnect" {
		return fmt.Errorf("%w: unexpected scheme %q", types.ErrInvalidConfig, u.Scheme)
	}
	client := types.PublicKey(u.Host)
	if client == "" {
		client = types.PublicKey(u.Opaque)
	}
	if err := client.Validate(); err != nil {
		return err
	}

	q := u.Query()
	var permissions []string
	if p := q.Get("perms"); p != "" {
		permissions = strings.Split(p, ",")
	}
	return s.Authorize(client, q.Get("name"), permissions)
}

// SignEvent runs the approval pipeline and signs eventJSON for client.
// The returned buffer holds the hex signature; the caller copies it into
// the protocol response and frees it.
func (s *Service) SignEvent(ctx context.Context, client types.PublicKey, eventJSON string) (*securemem.Buffer, error) {
	if s.State() != StateRunning {
		return nil, fmt.Errorf("%w: responder is not running", types.ErrInvalidConfig)
	}

	s.mu.Lock()
	conn := s.connections[client]
	identity := s.identity
	s.mu.Unlock()
	if conn == nil {
		return nil, fmt.Errorf("%w: client %s is not connected", types.ErrNotFound, client)
	}

	ev, err := keys.ParseEvent(eventJSON)
	if err != nil {
		s.record(ctx, client, conn.AppName, identity, -1, "", types.HistoryError, "")
		return nil, err
	}
	preview := ev.Content
	if len(preview) > previewLen {
		preview = preview[:previewLen]
	}

	approved, how := s.decide(client, identity, conn.AppName, ev, eventJSON, preview)
	if !approved {
		s.record(ctx, client, conn.AppName, identity, ev.Kind, ev.ID, types.HistoryDenied, preview)
		return nil, fmt.Errorf("%w: sign request denied", types.ErrCanceled)
	}

	sig, err := s.backend.SignEvent(eventJSON, identity)
	if err != nil {
		s.record(ctx, client, conn.AppName, identity, ev.Kind, ev.ID, types.HistoryError, preview)
		return nil, err
	}

	s.mu.Lock()
	if c := s.connections[client]; c != nil {
		c.LastRequest = s.now().UTC()
		c.RequestCount++
	}
	s.mu.Unlock()

	s.record(ctx, client, conn.AppName, identity, ev.Kind, ev.ID, types.HistoryApproved, preview)
	s.logger.WithFields(logrus.Fields{
		"client": client,
		"kind":   ev.Kind,
		"how":    how,
	}).Info("event signed")
	return sig, nil
}

// decide walks auto-approve kinds, then active client sessions, then the
// interactive approver.
func (s *Service) decide(client, identity types.PublicKey, appName string, ev *keys.Event, eventJSON, preview string) (bool, string) {
	if s.autoKinds[ev.Kind] {
		return true, "auto-approved kind"
	}

	if s.sessions != nil && s.sessions.HasActiveSession(client, identity) {
		s.sessions.TouchSession(client, identity)
		return true, "active session"
	}

	if s.approver == nil {
		return false, "no approver"
	}

	req := &types.PendingSignRequest{
		RequestID:    uuid.New().String(),
		ClientPubkey: client,
		Method:       "sign_event",
		EventJSON:    eventJSON,
		EventKind:    ev.Kind,
		Preview:      preview,
		ReceivedAt:   s.now().UTC(),
	}
	s.mu.Lock()
	s.pending[req.RequestID] = req
	s.mu.Unlock()

	approved := s.approver.ApproveSignRequest(*req)

	s.mu.Lock()
	delete(s.pending, req.RequestID)
	s.mu.Unlock()

	if approved && s.sessions != nil {
		ttl := int64(0)
		if s.sessionTTL > 0 {
			ttl = int64(s.sessionTTL / time.Second)
		}
		s.sessions.CreateSession(client, identity, appName, clientsession.PermConnect|clientsession.PermSignEvent, false, ttl)
	}
	return approved, "interactive approval"
}

func (s *Service) record(ctx context.Context, client types.PublicKey, appName string, identity types.PublicKey, kind int, eventID string, outcome types.HistoryOutcome, preview string) {
	s.history.Record(ctx, types.HistoryEntry{
		EventID:      eventID,
		EventKind:    kind,
		ClientPubkey: client,
		AppName:      appName,
		Identity:     identity,
		Method:       "sign_event",
		Outcome:      outcome,
		Preview:      preview,
	})
}

// BunkerURI renders the connection string clients use to reach this
// responder. The secret, when set, stays out of logs.
func (s *Service) BunkerURI(secret string) (string, error) {
	s.mu.Lock()
	identity := s.identity
	relays := append([]string(nil), s.relays...)
	s.mu.Unlock()

	if identity == "" {
		return "", fmt.Errorf("%w: responder has no identity", types.ErrInvalidConfig)
	}
	uri := &URI{Pubkey: identity, Relays: relays, Secret: secret}
	return uri.String(), nil
}

// Connections lists authorized clients.
func (s *Service) Connections() []types.BunkerConnection {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]types.BunkerConnection, 0, len(s.connections))
	for _, conn := range s.connections {
		out = append(out, *conn)
	}
	return out
}

// Disconnect removes one client. Its session, if any, is revoked too.
func (s *Service) Disconnect(client types.PublicKey) error {
	s.mu.Lock()
	_, ok := s.connections[client]
	if ok {
		delete(s.connections, client)
		if s.currentClient == client {
			s.currentClient = ""
		}
	}
	identity := s.identity
	s.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: client %s", types.ErrNotFound, client)
	}
	if s.sessions != nil {
		s.sessions.RevokeSession(client, identity)
	}
	return nil
}

// PendingRequests lists sign requests awaiting an interactive decision.
func (s *Service) PendingRequests() []types.PendingSignRequest {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]types.PendingSignRequest, 0, len(s.pending))
	for _, req := range s.pending {
		out = append(out, *req)
	}
	return out
}

// handleRequest services one inbound protocol frame.
func (s *Service) handleRequest(ctx context.Context, req *relay.Request) {
	client := types.PublicKey(req.From)
	resp := &relay.Response{ID: req.ID, Method: req.Method}

	switch req.Method {
	case "connect":
		appName := ""
		if len(req.Params) > 1 {
			appName = req.Params[1]
		}
		var perms []string
		if len(req.Params) > 2 {
			perms = req.Params[2:]
		}
		if err := s.Authorize(client, appName, perms); err != nil {
			resp.Error = err.Error()
		} else {
			resp.Result = "ack"
		}

	case "sign_event":
		if len(req.Params) == 0 {
			resp.Error = "missing event payload"
			break
		}
		sig, err := s.SignEvent(ctx, client, req.Params[0])
		if err != nil {
			resp.Error = err.Error()
			break
		}
		resp.Result = string(sig.Bytes())
		sig.Free()

	case "get_public_key":
		s.mu.Lock()
		resp.Result = string(s.identity)
		s.mu.Unlock()

	default:
		resp.Error = fmt.Sprintf("unsupported method %q", req.Method)
	}

	if s.transport == nil {
		return
	}
	if err := s.transport.SendResponse(ctx, resp); err != nil {
		s.logger.WithError(err).WithField("method", req.Method).Warn("failed to deliver response")
	}
}
