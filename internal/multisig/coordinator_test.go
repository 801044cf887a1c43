package multisig

import (
	"context"
	"encoding/hex"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gnostr-org/signerd/internal/keys"
	"github.com/gnostr-org/signerd/internal/types"
)

const testEvent = `{"pubkey":"","created_at":1700000000,"kind":1,"tags":[],"content":"threshold me"}`

type fakeRequester struct {
	mu       sync.Mutex
	requests []types.Cosigner
}

func (f *fakeRequester) RequestSignature(_ context.Context, cosigner types.Cosigner, _ string, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, cosigner)
	return nil
}

type outcome struct {
	completions []string
	failures    []error
	mu          sync.Mutex
	done        chan struct{}
}

func newOutcome() *outcome {
	return &outcome{done: make(chan struct{}, 4)}
}

func (o *outcome) callbacks() Callbacks {
	return Callbacks{
		OnComplete: func(_ string, finalSig string) {
			o.mu.Lock()
			o.completions = append(o.completions, finalSig)
			o.mu.Unlock()
			o.done <- struct{}{}
		},
		OnFailure: func(_ string, err error) {
			o.mu.Lock()
			o.failures = append(o.failures, err)
			o.mu.Unlock()
			o.done <- struct{}{}
		},
	}
}

func (o *outcome) wait(t *testing.T) {
	t.Helper()
	select {
	case <-o.done:
	case <-time.After(5 * time.Second):
		t.Fatal("session never reported an outcome")
	}
}

func remotePubkey(last byte) types.PublicKey {
	return types.PublicKey(strings.Repeat("b", 63) + string(rune(last)))
}

func remoteCosigner(last byte) types.Cosigner {
	pk := remotePubkey(last)
	return types.Cosigner{
		PublicKey: pk,
		Kind:      types.CosignerRemoteBunker,
		BunkerURI: "bunker://" + string(pk) + "?relay=wss://relay.example.com",
	}
}

func remoteWallet(m uint32, members ...byte) *types.Wallet {
	cosigners := make([]types.Cosigner, 0, len(members))
	for _, b := range members {
		cosigners = append(cosigners, remoteCosigner(b))
	}
	return &types.Wallet{
		ID:         "wallet-remote",
		Name:       "remote wallet",
		ThresholdM: m,
		TotalN:     uint32(len(members)),
		Cosigners:  cosigners,
	}
}

func validPartial(sLast byte) string {
	raw := make([]byte, 64)
	for i := 0; i < 32; i++ {
		raw[i] = 0x11
	}
	raw[63] = sLast
	return hex.EncodeToString(raw)
}

func TestStartSigningRejectsUndersizedWallet(t *testing.T) {
	c := NewCoordinator(nil, &fakeRequester{}, nil, nil, time.Minute, Callbacks{})
	w := remoteWallet(3, '1', '2')
	w.ThresholdM = 3
	_, err := c.StartSigning(context.Background(), w, testEvent, false, "")
	assert.True(t, errors.Is(err, types.ErrInvalidConfig))
}

func TestLocalCosignersCompleteSession(t *testing.T) {
	store, err := keys.NewFileSecretStore(filepath.Join(t.TempDir(), "keys.json"), "pw")
	require.NoError(t, err)
	backend := keys.NewSecp256k1Backend(store)

	var cosigners []types.Cosigner
	for i := 0; i < 2; i++ {
		priv, err := backend.GeneratePrivateKey()
		require.NoError(t, err)
		pubkey, err := backend.DerivePublicKey(priv)
		require.NoError(t, err)
		require.NoError(t, store.StoreKey(pubkey, priv))
		cosigners = append(cosigners, types.Cosigner{PublicKey: pubkey, Kind: types.CosignerLocal})
	}
	cosigners = append(cosigners, remoteCosigner('9'))

	wallet := &types.Wallet{
		ID:         "wallet-1",
		Name:       "team",
		ThresholdM: 2,
		TotalN:     3,
		Cosigners:  cosigners,
	}

	requester := &fakeRequester{}
	o := newOutcome()
	c := NewCoordinator(backend, requester, nil, nil, time.Minute, o.callbacks())

	_, err = c.StartSigning(context.Background(), wallet, testEvent, true, "")
	require.NoError(t, err)

	o.wait(t)
	o.mu.Lock()
	defer o.mu.Unlock()
	require.Len(t, o.completions, 1, "completion fires exactly once")
	assert.Empty(t, o.failures)
	assert.Len(t, o.completions[0], 128)
}

func TestAddSignatureDuplicate(t *testing.T) {
	c := NewCoordinator(nil, &fakeRequester{}, nil, nil, time.Minute, Callbacks{})
	_, err := c.StartSigning(context.Background(), remoteWallet(2, '1', '2', '3'), testEvent, false, "sess-1")
	require.NoError(t, err)

	require.NoError(t, c.AddSignature("sess-1", remotePubkey('1'), validPartial(1)))
	err = c.AddSignature("sess-1", remotePubkey('1'), validPartial(2))
	assert.True(t, errors.Is(err, types.ErrDuplicate))

	status, err := c.SessionStatus("sess-1")
	require.NoError(t, err)
	assert.Equal(t, uint32(1), status.SignaturesCollected, "duplicate must not bump the count")
}

func TestAddSignatureUnknownSigner(t *testing.T) {
	c := NewCoordinator(nil, &fakeRequester{}, nil, nil, time.Minute, Callbacks{})
	_, err := c.StartSigning(context.Background(), remoteWallet(2, '1', '2'), testEvent, false, "sess-1")
	require.NoError(t, err)

	err = c.AddSignature("sess-1", remotePubkey('7'), validPartial(1))
	assert.True(t, errors.Is(err, types.ErrInvalidSigner))
}

func TestAddSignatureUnknownSession(t *testing.T) {
	c := NewCoordinator(nil, &fakeRequester{}, nil, nil, time.Minute, Callbacks{})
	err := c.AddSignature("no-such-session", remotePubkey('1'), validPartial(1))
	assert.True(t, errors.Is(err, types.ErrNotFound))
}

func TestThresholdCompletesExactlyOnce(t *testing.T) {
	o := newOutcome()
	c := NewCoordinator(nil, &fakeRequester{}, nil, nil, time.Minute, o.callbacks())
	_, err := c.StartSigning(context.Background(), remoteWallet(2, '1', '2', '3'), testEvent, false, "sess-1")
	require.NoError(t, err)

	require.NoError(t, c.AddSignature("sess-1", remotePubkey('1'), validPartial(1)))
	require.NoError(t, c.AddSignature("sess-1", remotePubkey('2'), validPartial(2)))

	o.wait(t)
	o.mu.Lock()
	require.Len(t, o.completions, 1)
	o.mu.Unlock()

	// The session is discarded once complete.
	err = c.AddSignature("sess-1", remotePubkey('3'), validPartial(3))
	assert.True(t, errors.Is(err, types.ErrNotFound))
}

func TestSessionTimeout(t *testing.T) {
	o := newOutcome()
	c := NewCoordinator(nil, &fakeRequester{}, nil, nil, 50*time.Millisecond, o.callbacks())
	_, err := c.StartSigning(context.Background(), remoteWallet(2, '1', '2'), testEvent, false, "sess-1")
	require.NoError(t, err)

	o.wait(t)
	o.mu.Lock()
	require.Len(t, o.failures, 1)
	assert.True(t, errors.Is(o.failures[0], types.ErrTimeout))
	o.mu.Unlock()

	err = c.AddSignature("sess-1", remotePubkey('1'), validPartial(1))
	assert.True(t, errors.Is(err, types.ErrNotFound), "late signatures are rejected after timeout")
}

func TestCancelFailsSession(t *testing.T) {
	o := newOutcome()
	c := NewCoordinator(nil, &fakeRequester{}, nil, nil, time.Minute, o.callbacks())
	_, err := c.StartSigning(context.Background(), remoteWallet(2, '1', '2'), testEvent, false, "sess-1")
	require.NoError(t, err)

	require.NoError(t, c.Cancel("sess-1"))
	o.wait(t)
	o.mu.Lock()
	require.Len(t, o.failures, 1)
	assert.True(t, errors.Is(o.failures[0], types.ErrCanceled))
	o.mu.Unlock()

	assert.Error(t, c.Cancel("sess-1"))
}

func TestRejectionMakesThresholdUnreachable(t *testing.T) {
	o := newOutcome()
	c := NewCoordinator(nil, &fakeRequester{}, nil, nil, time.Minute, o.callbacks())
	_, err := c.StartSigning(context.Background(), remoteWallet(2, '1', '2'), testEvent, false, "sess-1")
	require.NoError(t, err)

	require.NoError(t, c.Reject("sess-1", remotePubkey('1'), "declined"))
	o.wait(t)
	o.mu.Lock()
	require.Len(t, o.failures, 1)
	assert.True(t, errors.Is(o.failures[0], types.ErrThresholdNotMet))
	o.mu.Unlock()
}

func TestRemoteCosignersAreRequested(t *testing.T) {
	requester := &fakeRequester{}
	c := NewCoordinator(nil, requester, nil, nil, time.Minute, Callbacks{})
	_, err := c.StartSigning(context.Background(), remoteWallet(1, '1', '2'), testEvent, false, "sess-1")
	require.NoError(t, err)

	requester.mu.Lock()
	assert.Len(t, requester.requests, 2)
	requester.mu.Unlock()

	status, err := c.SessionStatus("sess-1")
	require.NoError(t, err)
	for _, s := range status.SignerStatus {
		assert.Equal(t, types.SignerRequested, s)
	}
}

func TestFinalSignature(t *testing.T) {
	o := newOutcome()
	c := NewCoordinator(nil, &fakeRequester{}, nil, nil, time.Minute, o.callbacks())
	_, err := c.StartSigning(context.Background(), remoteWallet(2, '1', '2'), testEvent, false, "sess-1")
	require.NoError(t, err)

	_, err = c.FinalSignature("sess-1")
	assert.True(t, errors.Is(err, types.ErrThresholdNotMet))
	_, err = c.FinalSignature("no-such-session")
	assert.True(t, errors.Is(err, types.ErrNotFound))

	require.NoError(t, c.AddSignature("sess-1", remotePubkey('1'), validPartial(1)))
	require.NoError(t, c.AddSignature("sess-1", remotePubkey('2'), validPartial(2)))
	o.wait(t)

	sig, err := c.FinalSignature("sess-1")
	require.NoError(t, err)
	o.mu.Lock()
	assert.Equal(t, o.completions[0], sig)
	o.mu.Unlock()
}
