package service

import (
	"context"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gnostr-org/signerd/config"
	"github.com/gnostr-org/signerd/internal/history"
	"github.com/gnostr-org/signerd/internal/tasks"
	"github.com/gnostr-org/signerd/internal/types"
	"github.com/gnostr-org/signerd/storage"
)

type historyDB struct {
	storage.DatabaseStorage
	entries []types.HistoryEntry
}

func (db *historyDB) InsertHistoryEntry(_ context.Context, entry types.HistoryEntry) (int64, error) {
	db.entries = append(db.entries, entry)
	return int64(len(db.entries)), nil
}

func newHistoryWorker(db *historyDB) *WorkerService {
	cfg := config.Config{}
	cfg.Signer.Identity = strings.Repeat("a", 64)
	return &WorkerService{
		cfg:     cfg,
		history: history.NewStore(db),
		logger:  logrus.WithField("service", "worker").Logger,
	}
}

func TestRecordOutcomeLogsSettledSession(t *testing.T) {
	db := &historyDB{}
	w := newHistoryWorker(db)

	p := tasks.ThresholdSignPayload{
		SessionID: "sess-1",
		WalletID:  "wallet-1",
		EventJSON: `{"id":"ev-1","kind":1,"content":"hello"}`,
	}
	w.recordOutcome(context.Background(), p, types.HistoryApproved)
	w.recordOutcome(context.Background(), p, types.HistoryError)

	require.Len(t, db.entries, 2)
	assert.Equal(t, "ev-1", db.entries[0].EventID)
	assert.Equal(t, 1, db.entries[0].EventKind)
	assert.Equal(t, "threshold_sign", db.entries[0].Method)
	assert.Equal(t, types.HistoryApproved, db.entries[0].Outcome)
	assert.Equal(t, types.PublicKey(strings.Repeat("a", 64)), db.entries[0].Identity)
	assert.False(t, db.entries[0].CreatedAt.IsZero())
	assert.Equal(t, types.HistoryError, db.entries[1].Outcome)
}

func TestRecordOutcomeToleratesUnreadableEvent(t *testing.T) {
	db := &historyDB{}
	w := newHistoryWorker(db)

	p := tasks.ThresholdSignPayload{SessionID: "sess-1", EventJSON: "not json"}
	w.recordOutcome(context.Background(), p, types.HistoryError)

	require.Len(t, db.entries, 1)
	assert.Equal(t, -1, db.entries[0].EventKind)
	assert.Empty(t, db.entries[0].EventID)
}
