package postgres

import (
	"context"
	"fmt"

	"github.com/gnostr-org/signerd/internal/types"
)

func (p *PostgresBackend) SavePartialSignature(ctx context.Context, record types.PartialSignatureRecord) error {
	if p.pool == nil {
		return fmt.Errorf("database pool is nil")
	}

	query := `INSERT INTO partial_signatures (session_id, signer_pubkey, signature_hex, received_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (session_id, signer_pubkey) DO NOTHING`
	_, err := p.pool.Exec(ctx, query, record.SessionID, record.SignerPubkey, record.SignatureHex, record.ReceivedAt)
	if err != nil {
		return fmt.Errorf("failed to save partial signature: %w", err)
	}
	return nil
}

func (p *PostgresBackend) GetPartialSignatures(ctx context.Context, sessionID string) ([]types.PartialSignatureRecord, error) {
	if p.pool == nil {
		return nil, fmt.Errorf("database pool is nil")
	}

	query := `SELECT session_id, signer_pubkey, signature_hex, received_at
		FROM partial_signatures WHERE session_id = $1 ORDER BY received_at`
	rows, err := p.pool.Query(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get partial signatures: %w", err)
	}
	defer rows.Close()

	var records []types.PartialSignatureRecord
	for rows.Next() {
		var r types.PartialSignatureRecord
		if err := rows.Scan(&r.SessionID, &r.SignerPubkey, &r.SignatureHex, &r.ReceivedAt); err != nil {
			return nil, fmt.Errorf("failed to scan partial signature: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

func (p *PostgresBackend) DeletePartialSignatures(ctx context.Context, sessionID string) error {
	if p.pool == nil {
		return fmt.Errorf("database pool is nil")
	}

	_, err := p.pool.Exec(ctx, `DELETE FROM partial_signatures WHERE session_id = $1`, sessionID)
	if err != nil {
		return fmt.Errorf("failed to delete partial signatures: %w", err)
	}
	return nil
}
