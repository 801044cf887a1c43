// Package history keeps the append-only log of signing decisions.
package history

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/gnostr-org/signerd/internal/types"
	"github.com/gnostr-org/signerd/storage"
)

const defaultPageSize = 50

// Store records and lists signing decisions. Failures to record are
// logged, never propagated into the signing path.
type Store struct {
	db     storage.DatabaseStorage
	logger *logrus.Logger
	now    func() time.Time
}

func NewStore(db storage.DatabaseStorage) *Store {
	return &Store{
		db:     db,
		logger: logrus.WithField("module", "history").Logger,
		now:    time.Now,
	}
}

// Record appends one entry. Event payloads are never stored, only the
// kind and a short preview.
func (s *Store) Record(ctx context.Context, entry types.HistoryEntry) {
	if s == nil || s.db == nil {
		return
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.now().UTC()
	}
	if _, err := s.db.InsertHistoryEntry(ctx, entry); err != nil {
		s.logger.WithError(err).Warn("failed to record history entry")
	}
}

// List returns entries for identity, newest first.
func (s *Store) List(ctx context.Context, identity types.PublicKey, take, skip int) ([]types.HistoryEntry, error) {
	if take <= 0 {
		take = defaultPageSize
	}
	return s.db.GetHistory(ctx, identity, take, skip)
}
