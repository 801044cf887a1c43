package postgres

import (
	"context"
	"fmt"

	"github.com/gnostr-org/signerd/internal/types"
)

func (p *PostgresBackend) InsertHistoryEntry(ctx context.Context, entry types.HistoryEntry) (int64, error) {
	if p.pool == nil {
		return 0, fmt.Errorf("database pool is nil")
	}

	query := `INSERT INTO event_history
		(event_id, event_kind, client_pubkey, app_name, identity, method, outcome, preview, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id`

	var id int64
	err := p.pool.QueryRow(ctx, query,
		entry.EventID,
		entry.EventKind,
		entry.ClientPubkey,
		entry.AppName,
		entry.Identity,
		entry.Method,
		entry.Outcome,
		entry.Preview,
		entry.CreatedAt,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to insert history entry: %w", err)
	}
	return id, nil
}

func (p *PostgresBackend) GetHistory(ctx context.Context, identity types.PublicKey, take int, skip int) ([]types.HistoryEntry, error) {
	if p.pool == nil {
		return nil, fmt.Errorf("database pool is nil")
	}

	query := `SELECT id, event_id, event_kind, client_pubkey, app_name, identity, method, outcome, preview, created_at
		FROM event_history WHERE identity = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`
	rows, err := p.pool.Query(ctx, query, identity, take, skip)
	if err != nil {
		return nil, fmt.Errorf("failed to get history: %w", err)
	}
	defer rows.Close()

	var entries []types.HistoryEntry
	for rows.Next() {
		var e types.HistoryEntry
		if err := rows.Scan(&e.ID, &e.EventID, &e.EventKind, &e.ClientPubkey, &e.AppName, &e.Identity, &e.Method, &e.Outcome, &e.Preview, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan history entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
