package keys

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gnostr-org/signerd/internal/types"
)

const testEvent = `{"pubkey":"","created_at":1700000000,"kind":1,"tags":[],"content":"hello"}`

func newTestStore(t *testing.T) *FileSecretStore {
	t.Helper()
	store, err := NewFileSecretStore(filepath.Join(t.TempDir(), "keys.json"), "passphrase")
	require.NoError(t, err)
	return store
}

func TestSignAndVerifyRoundTrip(t *testing.T) {
	store := newTestStore(t)
	backend := NewSecp256k1Backend(store)

	priv, err := backend.GeneratePrivateKey()
	require.NoError(t, err)
	pubkey, err := backend.DerivePublicKey(priv)
	require.NoError(t, err)
	require.NoError(t, pubkey.Validate())
	require.NoError(t, store.StoreKey(pubkey, priv))

	sig, err := backend.SignEvent(testEvent, pubkey)
	require.NoError(t, err)
	defer sig.Free()
	assert.Len(t, sig.Bytes(), 128)

	ok, err := backend.Verify(testEvent, string(sig.Bytes()), pubkey)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = backend.Verify(`{"pubkey":"","created_at":1700000000,"kind":1,"tags":[],"content":"tampered"}`, string(sig.Bytes()), pubkey)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSignUnknownIdentity(t *testing.T) {
	backend := NewSecp256k1Backend(newTestStore(t))
	_, err := backend.SignEvent(testEvent, "1111111111111111111111111111111111111111111111111111111111111111")
	assert.True(t, errors.Is(err, types.ErrNotFound))
}

func TestWatchOnlyIdentity(t *testing.T) {
	store := newTestStore(t)
	backend := NewSecp256k1Backend(store)

	identity := types.PublicKey("2222222222222222222222222222222222222222222222222222222222222222")
	require.NoError(t, store.StoreKey(identity, nil))
	assert.True(t, store.IsWatchOnly(identity))

	_, err := backend.SignEvent(testEvent, identity)
	assert.True(t, errors.Is(err, types.ErrWatchOnly))
}

func TestStoreSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys.json")
	store, err := NewFileSecretStore(path, "passphrase")
	require.NoError(t, err)
	backend := NewSecp256k1Backend(store)

	priv, err := backend.GeneratePrivateKey()
	require.NoError(t, err)
	pubkey, err := backend.DerivePublicKey(priv)
	require.NoError(t, err)
	require.NoError(t, store.StoreKey(pubkey, priv))

	reopened, err := NewFileSecretStore(path, "passphrase")
	require.NoError(t, err)
	assert.False(t, reopened.IsWatchOnly(pubkey))

	buf, err := reopened.LookupKey(pubkey)
	require.NoError(t, err)
	defer buf.Free()
	assert.Equal(t, privKeyLen, buf.Len())
}

func TestDeleteKey(t *testing.T) {
	store := newTestStore(t)
	backend := NewSecp256k1Backend(store)

	priv, err := backend.GeneratePrivateKey()
	require.NoError(t, err)
	pubkey, err := backend.DerivePublicKey(priv)
	require.NoError(t, err)
	require.NoError(t, store.StoreKey(pubkey, priv))

	require.NoError(t, store.DeleteKey(pubkey))
	_, err = store.LookupKey(pubkey)
	assert.True(t, errors.Is(err, types.ErrNotFound))
}

func TestEventKind(t *testing.T) {
	assert.Equal(t, 1, EventKind(testEvent))
	assert.Equal(t, -1, EventKind("not json"))
}

func TestEventHashIsStable(t *testing.T) {
	ev, err := ParseEvent(testEvent)
	require.NoError(t, err)
	first, err := ev.Hash()
	require.NoError(t, err)
	second, err := ev.Hash()
	require.NoError(t, err)
	assert.Equal(t, first, second)

	ev.Content = "changed"
	third, err := ev.Hash()
	require.NoError(t, err)
	assert.NotEqual(t, first, third)
}
