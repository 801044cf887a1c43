// Package clientsession tracks previously-approved (client, identity)
// pairs so that an approved client can keep signing without a prompt for
// the lifetime of its session.
package clientsession

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/gnostr-org/signerd/internal/types"
)

// Permission bits granted to a client session.
const (
	PermConnect uint32 = 1 << iota
	PermSignEvent
	PermGetPublicKey
	PermEncrypt
	PermDecrypt
)

// DefaultTTL is the sliding expiry for non-persistent sessions.
const DefaultTTL = 15 * time.Minute

// Session is one approved (client, identity) pair.
type Session struct {
	ClientPubkey types.PublicKey `json:"client_pubkey"`
	Identity     types.PublicKey `json:"identity"`
	AppName      string          `json:"app_name,omitempty"`
	Permissions  uint32          `json:"permissions"`
	Persistent   bool            `json:"persistent"`
	CreatedAt    time.Time       `json:"created_at"`
	LastActivity time.Time       `json:"last_activity"`
	ExpiresAt    time.Time       `json:"expires_at"` // zero means never
	RequestCount uint64          `json:"request_count"`
}

// Cache persists sessions across responder restarts. Implemented by
// storage.RedisStorage; nil is a valid (memory-only) configuration.
type Cache interface {
	PutClientSession(ctx context.Context, key string, session *Session, ttl time.Duration) error
	DeleteClientSession(ctx context.Context, key string) error
	ListClientSessions(ctx context.Context) (map[string]*Session, error)
}

type sessionKey struct {
	client   types.PublicKey
	identity types.PublicKey
}

// Registry is safe for concurrent use.
type Registry struct {
	mu       sync.Mutex
	sessions map[sessionKey]*Session
	ttl      time.Duration
	cache    Cache
	now      func() time.Time
	logger   *logrus.Logger
}

// New builds a registry; ttl 0 means DefaultTTL. Persistent sessions are
// reloaded from cache when one is supplied.
func New(ttl time.Duration, cache Cache) *Registry {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	r := &Registry{
		sessions: make(map[sessionKey]*Session),
		ttl:      ttl,
		cache:    cache,
		now:      time.Now,
		logger:   logrus.WithField("module", "clientsession").Logger,
	}
	r.reload()
	return r
}

func cacheKey(client, identity types.PublicKey) string {
	return "client-session-" + string(client) + "-" + string(identity)
}

func (r *Registry) reload() {
	if r.cache == nil {
		return
	}
	stored, err := r.cache.ListClientSessions(context.Background())
	if err != nil {
		r.logger.WithError(err).Warn("failed to reload persisted client sessions")
		return
	}
	for _, s := range stored {
		r.sessions[sessionKey{s.ClientPubkey, s.Identity}] = s
	}
}

// CreateSession registers an approval. ttlSeconds 0 uses the registry
// default; negative means the session never expires on its own.
func (r *Registry) CreateSession(client, identity types.PublicKey, appName string, permissions uint32, persistent bool, ttlSeconds int64) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	ttl := r.ttl
	if ttlSeconds > 0 {
		ttl = time.Duration(ttlSeconds) * time.Second
	}

	s := &Session{
		ClientPubkey: client,
		Identity:     identity,
		AppName:      appName,
		Permissions:  permissions,
		Persistent:   persistent,
		CreatedAt:    now,
		LastActivity: now,
	}
	if ttlSeconds >= 0 {
		s.ExpiresAt = now.Add(ttl)
	}

	r.sessions[sessionKey{client, identity}] = s
	r.persist(s, ttl)

	r.logger.WithFields(logrus.Fields{
		"client":     client,
		"identity":   identity,
		"persistent": persistent,
	}).Debug("client session created")
	return s
}

// HasActiveSession reports whether an unexpired session exists with the
// sign_event permission. Expired sessions are dropped on the way.
func (r *Registry) HasActiveSession(client, identity types.PublicKey) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.activeLocked(client, identity)
	return s != nil && s.Permissions&PermSignEvent != 0
}

// TouchSession refreshes activity and, for non-persistent sessions,
// extends the sliding expiry.
func (r *Registry) TouchSession(client, identity types.PublicKey) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.activeLocked(client, identity)
	if s == nil {
		return
	}
	now := r.now()
	s.LastActivity = now
	s.RequestCount++
	if !s.Persistent && !s.ExpiresAt.IsZero() {
		s.ExpiresAt = now.Add(r.ttl)
	}
	r.persist(s, r.ttl)
}

// RevokeSession removes one approval.
func (r *Registry) RevokeSession(client, identity types.PublicKey) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := sessionKey{client, identity}
	if _, ok := r.sessions[key]; !ok {
		return
	}
	delete(r.sessions, key)
	if r.cache != nil {
		if err := r.cache.DeleteClientSession(context.Background(), cacheKey(client, identity)); err != nil {
			r.logger.WithError(err).Warn("failed to delete persisted client session")
		}
	}
}

// ActiveSessions lists unexpired sessions, dropping expired ones.
func (r *Registry) ActiveSessions() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*Session
	now := r.now()
	for key, s := range r.sessions {
		if r.expired(s, now) {
			delete(r.sessions, key)
			continue
		}
		copied := *s
		out = append(out, &copied)
	}
	return out
}

// Sweep removes expired sessions. Run periodically by the responder.
func (r *Registry) Sweep() {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	for key, s := range r.sessions {
		if r.expired(s, now) {
			delete(r.sessions, key)
		}
	}
}

func (r *Registry) activeLocked(client, identity types.PublicKey) *Session {
	key := sessionKey{client, identity}
	s, ok := r.sessions[key]
	if !ok {
		return nil
	}
	if r.expired(s, r.now()) {
		delete(r.sessions, key)
		return nil
	}
	return s
}

func (r *Registry) expired(s *Session, now time.Time) bool {
	return !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt)
}

func (r *Registry) persist(s *Session, ttl time.Duration) {
	if r.cache == nil || !s.Persistent {
		return
	}
	if err := r.cache.PutClientSession(context.Background(), cacheKey(s.ClientPubkey, s.Identity), s, ttl); err != nil {
		r.logger.WithError(err).Warn("failed to persist client session")
	}
}
