package wallet

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gnostr-org/signerd/internal/types"
)

// memoryDB is an in-memory stand-in for the postgres backend.
type memoryDB struct {
	mu       sync.Mutex
	wallets  map[string]*types.Wallet
	partials map[string][]types.PartialSignatureRecord
	history  []types.HistoryEntry
}

func newMemoryDB() *memoryDB {
	return &memoryDB{
		wallets:  make(map[string]*types.Wallet),
		partials: make(map[string][]types.PartialSignatureRecord),
	}
}

func (m *memoryDB) Close() error { return nil }

func (m *memoryDB) CreateWallet(_ context.Context, w *types.Wallet) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *w
	copied.Cosigners = append([]types.Cosigner(nil), w.Cosigners...)
	m.wallets[w.ID] = &copied
	return nil
}

func (m *memoryDB) GetWallet(_ context.Context, id string) (*types.Wallet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.wallets[id]
	if !ok {
		return nil, fmt.Errorf("%w: wallet %s", types.ErrNotFound, id)
	}
	copied := *w
	copied.Cosigners = append([]types.Cosigner(nil), w.Cosigners...)
	return &copied, nil
}

func (m *memoryDB) ListWallets(ctx context.Context) ([]*types.Wallet, error) {
	m.mu.Lock()
	ids := make([]string, 0, len(m.wallets))
	for id := range m.wallets {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	var out []*types.Wallet
	for _, id := range ids {
		w, err := m.GetWallet(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, nil
}

func (m *memoryDB) UpdateWallet(_ context.Context, w *types.Wallet) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.wallets[w.ID]
	if !ok {
		return fmt.Errorf("%w: wallet %s", types.ErrNotFound, w.ID)
	}
	stored.Name = w.Name
	stored.ThresholdM = w.ThresholdM
	stored.TotalN = w.TotalN
	stored.UpdatedAt = w.UpdatedAt
	return nil
}

func (m *memoryDB) DeleteWallet(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.wallets[id]; !ok {
		return fmt.Errorf("%w: wallet %s", types.ErrNotFound, id)
	}
	delete(m.wallets, id)
	return nil
}

func (m *memoryDB) AddCosigner(_ context.Context, walletID string, c types.Cosigner) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.wallets[walletID]
	if !ok {
		return fmt.Errorf("%w: wallet %s", types.ErrNotFound, walletID)
	}
	w.Cosigners = append(w.Cosigners, c)
	w.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *memoryDB) RemoveCosigner(_ context.Context, walletID string, pubkey types.PublicKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.wallets[walletID]
	if !ok {
		return fmt.Errorf("%w: wallet %s", types.ErrNotFound, walletID)
	}
	for i := range w.Cosigners {
		if w.Cosigners[i].PublicKey == pubkey {
			w.Cosigners = append(w.Cosigners[:i], w.Cosigners[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("%w: cosigner %s", types.ErrNotFound, pubkey)
}

func (m *memoryDB) SavePartialSignature(_ context.Context, r types.PartialSignatureRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.partials[r.SessionID] {
		if existing.SignerPubkey == r.SignerPubkey {
			return nil
		}
	}
	m.partials[r.SessionID] = append(m.partials[r.SessionID], r)
	return nil
}

func (m *memoryDB) GetPartialSignatures(_ context.Context, sessionID string) ([]types.PartialSignatureRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]types.PartialSignatureRecord(nil), m.partials[sessionID]...), nil
}

func (m *memoryDB) DeletePartialSignatures(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.partials, sessionID)
	return nil
}

func (m *memoryDB) InsertHistoryEntry(_ context.Context, e types.HistoryEntry) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.ID = int64(len(m.history) + 1)
	m.history = append(m.history, e)
	return e.ID, nil
}

func (m *memoryDB) GetHistory(_ context.Context, identity types.PublicKey, take, skip int) ([]types.HistoryEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []types.HistoryEntry
	for i := len(m.history) - 1; i >= 0; i-- {
		if m.history[i].Identity == identity {
			out = append(out, m.history[i])
		}
	}
	if skip >= len(out) {
		return nil, nil
	}
	out = out[skip:]
	if take > 0 && take < len(out) {
		out = out[:take]
	}
	return out, nil
}

func (m *memoryDB) Pool() *pgxpool.Pool { return nil }

func cosigner(last byte, kind types.CosignerKind) types.Cosigner {
	pk := make([]byte, 64)
	for i := range pk {
		pk[i] = 'a'
	}
	pk[63] = last
	c := types.Cosigner{PublicKey: types.PublicKey(pk), Kind: kind}
	if kind == types.CosignerRemoteBunker {
		c.BunkerURI = "bunker://" + string(c.PublicKey) + "?relay=wss://relay.example.com"
	}
	return c
}

func TestCreateWallet(t *testing.T) {
	svc := NewService(newMemoryDB(), nil)
	w, err := svc.Create(context.Background(), "team wallet", 2, 3, []types.Cosigner{
		cosigner('1', types.CosignerLocal),
		cosigner('2', types.CosignerRemoteBunker),
	})
	require.NoError(t, err)
	assert.NotEmpty(t, w.ID)
	assert.Equal(t, uint32(2), w.ThresholdM)
	assert.Len(t, w.Cosigners, 2)
}

func TestCreateWalletInvalidThreshold(t *testing.T) {
	svc := NewService(newMemoryDB(), nil)

	_, err := svc.Create(context.Background(), "w", 0, 3, nil)
	assert.True(t, errors.Is(err, types.ErrInvalidConfig))

	_, err = svc.Create(context.Background(), "w", 4, 3, nil)
	assert.True(t, errors.Is(err, types.ErrInvalidConfig))
}

func TestCreateWalletRejectsDuplicateCosigners(t *testing.T) {
	svc := NewService(newMemoryDB(), nil)
	_, err := svc.Create(context.Background(), "w", 1, 2, []types.Cosigner{
		cosigner('1', types.CosignerLocal),
		cosigner('1', types.CosignerLocal),
	})
	assert.True(t, errors.Is(err, types.ErrDuplicate))
}

func TestAddCosignerUpToTotal(t *testing.T) {
	svc := NewService(newMemoryDB(), nil)
	w, err := svc.Create(context.Background(), "w", 2, 3, []types.Cosigner{cosigner('1', types.CosignerLocal)})
	require.NoError(t, err)

	w, err = svc.AddCosigner(context.Background(), w.ID, cosigner('2', types.CosignerLocal))
	require.NoError(t, err)
	w, err = svc.AddCosigner(context.Background(), w.ID, cosigner('3', types.CosignerRemoteBunker))
	require.NoError(t, err)
	assert.Len(t, w.Cosigners, 3)

	_, err = svc.AddCosigner(context.Background(), w.ID, cosigner('4', types.CosignerLocal))
	assert.True(t, errors.Is(err, types.ErrInvalidConfig), "wallet is full")
}

func TestAddDuplicateCosigner(t *testing.T) {
	svc := NewService(newMemoryDB(), nil)
	w, err := svc.Create(context.Background(), "w", 1, 3, []types.Cosigner{cosigner('1', types.CosignerLocal)})
	require.NoError(t, err)

	_, err = svc.AddCosigner(context.Background(), w.ID, cosigner('1', types.CosignerLocal))
	assert.True(t, errors.Is(err, types.ErrDuplicate))
}

func TestRemoveCosignerKeepsThresholdMargin(t *testing.T) {
	svc := NewService(newMemoryDB(), nil)
	w, err := svc.Create(context.Background(), "w", 1, 3, []types.Cosigner{
		cosigner('1', types.CosignerLocal),
		cosigner('2', types.CosignerLocal),
		cosigner('3', types.CosignerLocal),
	})
	require.NoError(t, err)

	w, err = svc.RemoveCosigner(context.Background(), w.ID, cosigner('3', types.CosignerLocal).PublicKey)
	require.NoError(t, err)
	assert.Len(t, w.Cosigners, 2)

	_, err = svc.RemoveCosigner(context.Background(), w.ID, cosigner('2', types.CosignerLocal).PublicKey)
	assert.True(t, errors.Is(err, types.ErrInvalidConfig))

	w, err = svc.Get(context.Background(), w.ID)
	require.NoError(t, err)
	assert.Len(t, w.Cosigners, 2, "failed removal must leave the wallet unchanged")
}

func TestRemoveUnknownCosigner(t *testing.T) {
	svc := NewService(newMemoryDB(), nil)
	w, err := svc.Create(context.Background(), "w", 1, 2, []types.Cosigner{cosigner('1', types.CosignerLocal)})
	require.NoError(t, err)

	_, err = svc.RemoveCosigner(context.Background(), w.ID, cosigner('9', types.CosignerLocal).PublicKey)
	assert.True(t, errors.Is(err, types.ErrNotFound))
}

func TestRenameWallet(t *testing.T) {
	svc := NewService(newMemoryDB(), nil)
	w, err := svc.Create(context.Background(), "old name", 1, 1, []types.Cosigner{cosigner('1', types.CosignerLocal)})
	require.NoError(t, err)

	w, err = svc.Rename(context.Background(), w.ID, "new name")
	require.NoError(t, err)
	assert.Equal(t, "new name", w.Name)
}
