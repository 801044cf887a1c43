// Package ratelimit tracks failed authorization attempts per client and
// enforces an exponential-backoff lockout once a client exceeds the
// configured attempt budget. The bunker responder consults it before every
// authorization decision and records the outcome after.
package ratelimit

import (
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/gnostr-org/signerd/internal/types"
)

// Status is the result of a pre-authorization check.
type Status int

const (
	Allowed Status = iota
	Locked
)

// Defaults mirror the responder's historical tuning: five strikes, then a
// lockout that doubles per failure up to five minutes.
const (
	DefaultMaxAttempts        = 5
	DefaultWindowSeconds      = 300
	DefaultBaseLockoutSeconds = 1
	MaxLockoutSeconds         = 300
	maxBackoffMultiplier      = 256
)

// Config tunes a Limiter. Zero fields fall back to defaults.
type Config struct {
	MaxAttempts        uint32
	WindowSeconds      uint32
	BaseLockoutSeconds uint32

	// StateFile, when set, persists client state across restarts.
	StateFile string

	// MaxIdle controls when untouched client entries are dropped by Sweep.
	MaxIdle time.Duration
}

type clientState struct {
	FailedAttempts    uint32    `json:"failed_attempts"`
	LockoutUntil      time.Time `json:"lockout_until"`
	BackoffMultiplier uint32    `json:"backoff_multiplier"`
	LastAttempt       time.Time `json:"last_attempt"`
}

// Limiter is safe for concurrent use. Construct with New; there is no
// process-wide instance, so tests can run isolated limiters in parallel.
type Limiter struct {
	mu      sync.Mutex
	cfg     Config
	clients map[types.PublicKey]*clientState
	now     func() time.Time
	logger  *logrus.Logger
}

// New builds a limiter and loads persisted state when a state file is
// configured.
func New(cfg Config) *Limiter {
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.WindowSeconds == 0 {
		cfg.WindowSeconds = DefaultWindowSeconds
	}
	if cfg.BaseLockoutSeconds == 0 {
		cfg.BaseLockoutSeconds = DefaultBaseLockoutSeconds
	}
	if cfg.MaxIdle == 0 {
		cfg.MaxIdle = 30 * time.Minute
	}

	l := &Limiter{
		cfg:     cfg,
		clients: make(map[types.PublicKey]*clientState),
		now:     time.Now,
		logger:  logrus.WithField("module", "ratelimit").Logger,
	}
	if cfg.StateFile != "" {
		l.load()
	}
	return l
}

// Check reports whether clientID may attempt authorization. When locked it
// returns the remaining cooldown so the rejection can carry actionable
// feedback.
func (l *Limiter) Check(clientID types.PublicKey) (Status, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	cs, ok := l.clients[clientID]
	if !ok {
		return Allowed, 0
	}

	now := l.now()
	if !cs.LockoutUntil.IsZero() {
		if now.Before(cs.LockoutUntil) {
			return Locked, cs.LockoutUntil.Sub(now)
		}
		// Lockout expired: keep the failure history for continued backoff
		// but allow the next attempt.
		cs.LockoutUntil = time.Time{}
	}
	return Allowed, 0
}

// Record updates client state after an authorization decision. Success
// clears all history for the client; failure increments the count and,
// once the attempt budget is spent, computes a lockout expiry.
func (l *Limiter) Record(clientID types.PublicKey, success bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if success {
		delete(l.clients, clientID)
		l.saveLocked()
		return
	}

	cs, ok := l.clients[clientID]
	if !ok {
		cs = &clientState{BackoffMultiplier: 1}
		l.clients[clientID] = cs
	}

	now := l.now()
	if !cs.LockoutUntil.IsZero() && now.Before(cs.LockoutUntil) {
		// Attempts while locked out do not extend the lockout.
		return
	}

	// Failures older than the window no longer count toward a lockout.
	window := time.Duration(l.cfg.WindowSeconds) * time.Second
	if !cs.LastAttempt.IsZero() && now.Sub(cs.LastAttempt) > window {
		cs.FailedAttempts = 0
	}

	cs.FailedAttempts++
	cs.LastAttempt = now
	if cs.BackoffMultiplier < maxBackoffMultiplier {
		cs.BackoffMultiplier *= 2
	}

	if cs.FailedAttempts >= l.cfg.MaxAttempts {
		lockout := time.Duration(l.cfg.BaseLockoutSeconds*cs.BackoffMultiplier) * time.Second
		if lockout > MaxLockoutSeconds*time.Second {
			lockout = MaxLockoutSeconds * time.Second
		}
		cs.LockoutUntil = now.Add(lockout)
		l.logger.WithFields(logrus.Fields{
			"client":   clientID,
			"attempts": cs.FailedAttempts,
			"lockout":  lockout,
		}).Info("client rate limit exceeded")
	}

	l.saveLocked()
}

// Reset clears all state for one client. Admin action.
func (l *Limiter) Reset(clientID types.PublicKey) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.clients, clientID)
	l.saveLocked()
}

// AttemptsRemaining reports how many failures are left before lockout.
func (l *Limiter) AttemptsRemaining(clientID types.PublicKey) uint32 {
	l.mu.Lock()
	defer l.mu.Unlock()

	cs, ok := l.clients[clientID]
	if !ok {
		return l.cfg.MaxAttempts
	}
	if cs.FailedAttempts >= l.cfg.MaxAttempts {
		return 0
	}
	return l.cfg.MaxAttempts - cs.FailedAttempts
}

// Sweep drops entries idle past MaxIdle and no longer locked. Callers run
// it periodically; it is not required for correctness.
func (l *Limiter) Sweep() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for id, cs := range l.clients {
		if !cs.LockoutUntil.IsZero() && now.Before(cs.LockoutUntil) {
			continue
		}
		if now.Sub(cs.LastAttempt) > l.cfg.MaxIdle {
			delete(l.clients, id)
		}
	}
	l.saveLocked()
}

func (l *Limiter) load() {
	buf, err := os.ReadFile(l.cfg.StateFile)
	if err != nil {
		if !os.IsNotExist(err) {
			l.logger.WithError(err).Warn("failed to read rate limit state")
		}
		return
	}
	var clients map[types.PublicKey]*clientState
	if err := json.Unmarshal(buf, &clients); err != nil {
		l.logger.WithError(err).Warn("failed to parse rate limit state")
		return
	}
	l.clients = clients
}

func (l *Limiter) saveLocked() {
	if l.cfg.StateFile == "" {
		return
	}
	buf, err := json.Marshal(l.clients)
	if err != nil {
		l.logger.WithError(err).Warn("failed to serialize rate limit state")
		return
	}
	if err := os.WriteFile(l.cfg.StateFile, buf, 0o600); err != nil {
		l.logger.WithError(err).Warn("failed to write rate limit state")
	}
}
