package bunker

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gnostr-org/signerd/internal/types"
)

func TestChannelApproverResolve(t *testing.T) {
	a := NewChannelApprover(2 * time.Second)
	req := types.PendingSignRequest{RequestID: "req-1"}

	done := make(chan bool, 1)
	go func() { done <- a.ApproveSignRequest(req) }()

	require.Eventually(t, func() bool {
		return len(a.Waiting()) == 1
	}, time.Second, 10*time.Millisecond)
	require.NoError(t, a.Resolve("req-1", true))
	assert.True(t, <-done)

	go func() { done <- a.ApproveSignRequest(req) }()
	require.Eventually(t, func() bool {
		return len(a.Waiting()) == 1
	}, time.Second, 10*time.Millisecond)
	require.NoError(t, a.Resolve("req-1", false))
	assert.False(t, <-done)
}

func TestChannelApproverTimesOut(t *testing.T) {
	a := NewChannelApprover(50 * time.Millisecond)
	assert.False(t, a.ApproveSignRequest(types.PendingSignRequest{RequestID: "req-1"}))
	assert.Empty(t, a.Waiting())
}

func TestChannelApproverResolveUnknown(t *testing.T) {
	a := NewChannelApprover(0)
	err := a.Resolve("missing", true)
	assert.True(t, errors.Is(err, types.ErrNotFound))
}

func TestChannelApproverConnectKey(t *testing.T) {
	a := NewChannelApprover(2 * time.Second)
	client := types.PublicKey(strings.Repeat("a", 64))

	done := make(chan bool, 1)
	go func() { done <- a.AuthorizeConnect(client, "noteapp", nil) }()

	require.Eventually(t, func() bool {
		return len(a.Waiting()) == 1
	}, time.Second, 10*time.Millisecond)
	require.NoError(t, a.Resolve("connect-"+string(client), true))
	assert.True(t, <-done)
}
