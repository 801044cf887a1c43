package clientsession

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/gnostr-org/signerd/internal/types"
)

const (
	clientA  = types.PublicKey("1111111111111111111111111111111111111111111111111111111111111111")
	identity = types.PublicKey("2222222222222222222222222222222222222222222222222222222222222222")
)

func newTestRegistry(ttl time.Duration) (*Registry, *time.Time) {
	r := New(ttl, nil)
	now := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }
	return r, &now
}

func TestNoSessionByDefault(t *testing.T) {
	r, _ := newTestRegistry(0)
	assert.False(t, r.HasActiveSession(clientA, identity))
}

func TestCreateAndQuerySession(t *testing.T) {
	r, _ := newTestRegistry(0)
	r.CreateSession(clientA, identity, "noteapp", PermConnect|PermSignEvent, false, 0)

	assert.True(t, r.HasActiveSession(clientA, identity))
	assert.False(t, r.HasActiveSession(clientA, "3333333333333333333333333333333333333333333333333333333333333333"))
}

func TestSessionWithoutSignPermissionIsNotActive(t *testing.T) {
	r, _ := newTestRegistry(0)
	r.CreateSession(clientA, identity, "", PermConnect|PermGetPublicKey, false, 0)
	assert.False(t, r.HasActiveSession(clientA, identity))
}

func TestSessionExpires(t *testing.T) {
	r, now := newTestRegistry(time.Minute)
	r.CreateSession(clientA, identity, "", PermSignEvent, false, 0)

	*now = now.Add(2 * time.Minute)
	assert.False(t, r.HasActiveSession(clientA, identity))
}

func TestTouchExtendsSlidingExpiry(t *testing.T) {
	r, now := newTestRegistry(time.Minute)
	r.CreateSession(clientA, identity, "", PermSignEvent, false, 0)

	*now = now.Add(50 * time.Second)
	r.TouchSession(clientA, identity)

	*now = now.Add(50 * time.Second)
	assert.True(t, r.HasActiveSession(clientA, identity), "touch should have extended expiry")
}

func TestNegativeTTLNeverExpires(t *testing.T) {
	r, now := newTestRegistry(time.Minute)
	r.CreateSession(clientA, identity, "", PermSignEvent, false, -1)

	*now = now.Add(24 * time.Hour)
	assert.True(t, r.HasActiveSession(clientA, identity))
}

func TestRevokeSession(t *testing.T) {
	r, _ := newTestRegistry(0)
	r.CreateSession(clientA, identity, "", PermSignEvent, false, 0)
	r.RevokeSession(clientA, identity)
	assert.False(t, r.HasActiveSession(clientA, identity))
}

func TestSweepDropsExpired(t *testing.T) {
	r, now := newTestRegistry(time.Minute)
	r.CreateSession(clientA, identity, "", PermSignEvent, false, 0)

	*now = now.Add(time.Hour)
	r.Sweep()
	assert.Empty(t, r.ActiveSessions())
}

func TestTouchCountsRequests(t *testing.T) {
	r, _ := newTestRegistry(0)
	r.CreateSession(clientA, identity, "", PermSignEvent, false, 0)
	r.TouchSession(clientA, identity)
	r.TouchSession(clientA, identity)

	sessions := r.ActiveSessions()
	assert.Len(t, sessions, 1)
	assert.Equal(t, uint64(2), sessions[0].RequestCount)
}
