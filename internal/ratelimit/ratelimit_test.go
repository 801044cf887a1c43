package ratelimit

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gnostr-org/signerd/internal/types"
)

const client = types.PublicKey("aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")

func newTestLimiter(cfg Config) (*Limiter, *time.Time) {
	l := New(cfg)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }
	return l, &now
}

func TestUnknownClientAllowed(t *testing.T) {
	l, _ := newTestLimiter(Config{})
	status, remaining := l.Check(client)
	assert.Equal(t, Allowed, status)
	assert.Zero(t, remaining)
}

func TestLockedAfterMaxConsecutiveFailures(t *testing.T) {
	l, _ := newTestLimiter(Config{MaxAttempts: 5})

	for i := 0; i < 4; i++ {
		l.Record(client, false)
		status, _ := l.Check(client)
		require.Equalf(t, Allowed, status, "attempt %d should not lock", i+1)
	}

	l.Record(client, false)
	status, remaining := l.Check(client)
	assert.Equal(t, Locked, status)
	assert.Greater(t, remaining, time.Duration(0))
}

func TestSuccessResets(t *testing.T) {
	l, _ := newTestLimiter(Config{MaxAttempts: 5})

	for i := 0; i < 5; i++ {
		l.Record(client, false)
	}
	status, _ := l.Check(client)
	require.Equal(t, Locked, status)

	l.Record(client, true)
	status, remaining := l.Check(client)
	assert.Equal(t, Allowed, status)
	assert.Zero(t, remaining)
	assert.Equal(t, uint32(5), l.AttemptsRemaining(client))
}

func TestLockoutExpires(t *testing.T) {
	l, now := newTestLimiter(Config{MaxAttempts: 3, BaseLockoutSeconds: 1})

	for i := 0; i < 3; i++ {
		l.Record(client, false)
	}
	status, remaining := l.Check(client)
	require.Equal(t, Locked, status)

	*now = now.Add(remaining + time.Second)
	status, _ = l.Check(client)
	assert.Equal(t, Allowed, status)
}

func TestBackoffGrowsAfterRepeatedLockouts(t *testing.T) {
	l, now := newTestLimiter(Config{MaxAttempts: 2, BaseLockoutSeconds: 1})

	l.Record(client, false)
	l.Record(client, false)
	_, first := l.Check(client)
	require.Greater(t, first, time.Duration(0))

	*now = now.Add(first + time.Second)
	l.Record(client, false)
	_, second := l.Check(client)
	assert.Greater(t, second, first)
}

func TestLockoutCappedAtMax(t *testing.T) {
	l, now := newTestLimiter(Config{MaxAttempts: 1, BaseLockoutSeconds: 100})

	for i := 0; i < 10; i++ {
		l.Record(client, false)
		_, remaining := l.Check(client)
		assert.LessOrEqual(t, remaining, MaxLockoutSeconds*time.Second)
		*now = now.Add(remaining + time.Second)
	}
}

func TestStaleFailuresAgeOutOfWindow(t *testing.T) {
	l, now := newTestLimiter(Config{MaxAttempts: 5, WindowSeconds: 10})

	for i := 0; i < 5; i++ {
		l.Record(client, false)
		*now = now.Add(time.Hour)
	}

	status, _ := l.Check(client)
	assert.Equal(t, Allowed, status)
	assert.Equal(t, uint32(4), l.AttemptsRemaining(client))
}

func TestFailuresInsideWindowStillLock(t *testing.T) {
	l, now := newTestLimiter(Config{MaxAttempts: 5, WindowSeconds: 10})

	for i := 0; i < 5; i++ {
		l.Record(client, false)
		*now = now.Add(time.Second)
	}

	status, _ := l.Check(client)
	assert.Equal(t, Locked, status)
}

func TestFailuresWhileLockedDoNotExtend(t *testing.T) {
	l, _ := newTestLimiter(Config{MaxAttempts: 2, BaseLockoutSeconds: 60})

	l.Record(client, false)
	l.Record(client, false)
	_, before := l.Check(client)

	l.Record(client, false)
	_, after := l.Check(client)
	assert.Equal(t, before, after)
}

func TestSweepDropsIdleClients(t *testing.T) {
	l, now := newTestLimiter(Config{MaxAttempts: 5, MaxIdle: time.Minute})

	l.Record(client, false)
	*now = now.Add(2 * time.Minute)
	l.Sweep()

	assert.Equal(t, uint32(5), l.AttemptsRemaining(client))
}

func TestStatePersistsAcrossRestart(t *testing.T) {
	stateFile := filepath.Join(t.TempDir(), "rate-limits.json")

	l, _ := newTestLimiter(Config{MaxAttempts: 2, StateFile: stateFile})
	l.Record(client, false)
	l.Record(client, false)

	l2 := New(Config{MaxAttempts: 2, StateFile: stateFile})
	l2.now = l.now
	status, _ := l2.Check(client)
	assert.Equal(t, Locked, status)
}
