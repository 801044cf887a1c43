package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/gnostr-org/signerd/internal/types"
)

func (p *PostgresBackend) CreateWallet(ctx context.Context, wallet *types.Wallet) error {
	if p.pool == nil {
		return fmt.Errorf("database pool is nil")
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin db transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `INSERT INTO wallets (id, name, threshold_m, total_n, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		wallet.ID, wallet.Name, wallet.ThresholdM, wallet.TotalN, wallet.CreatedAt, wallet.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert wallet: %w", err)
	}

	for i := range wallet.Cosigners {
		if err := insertCosignerTx(ctx, tx, wallet.ID, &wallet.Cosigners[i]); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit db transaction: %w", err)
	}
	return nil
}

func insertCosignerTx(ctx context.Context, tx pgx.Tx, walletID string, c *types.Cosigner) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	_, err := tx.Exec(ctx, `INSERT INTO wallet_cosigners (id, wallet_id, public_key, label, kind, bunker_uri, is_self)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		c.ID, walletID, c.PublicKey, c.Label, c.Kind, c.BunkerURI, c.IsSelf)
	if err != nil {
		return fmt.Errorf("failed to insert cosigner: %w", err)
	}
	return nil
}

func (p *PostgresBackend) GetWallet(ctx context.Context, id string) (*types.Wallet, error) {
	if p.pool == nil {
		return nil, fmt.Errorf("database pool is nil")
	}

	var wallet types.Wallet
	query := `SELECT id, name, threshold_m, total_n, created_at, updated_at FROM wallets WHERE id = $1`
	err := p.pool.QueryRow(ctx, query, id).Scan(
		&wallet.ID,
		&wallet.Name,
		&wallet.ThresholdM,
		&wallet.TotalN,
		&wallet.CreatedAt,
		&wallet.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: wallet %s", types.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get wallet: %w", err)
	}

	cosigners, err := p.walletCosigners(ctx, id)
	if err != nil {
		return nil, err
	}
	wallet.Cosigners = cosigners
	return &wallet, nil
}

func (p *PostgresBackend) walletCosigners(ctx context.Context, walletID string) ([]types.Cosigner, error) {
	query := `SELECT id, public_key, label, kind, bunker_uri, is_self
		FROM wallet_cosigners WHERE wallet_id = $1 ORDER BY public_key`
	rows, err := p.pool.Query(ctx, query, walletID)
	if err != nil {
		return nil, fmt.Errorf("failed to get cosigners: %w", err)
	}
	defer rows.Close()

	var cosigners []types.Cosigner
	for rows.Next() {
		var c types.Cosigner
		if err := rows.Scan(&c.ID, &c.PublicKey, &c.Label, &c.Kind, &c.BunkerURI, &c.IsSelf); err != nil {
			return nil, fmt.Errorf("failed to scan cosigner: %w", err)
		}
		cosigners = append(cosigners, c)
	}
	return cosigners, rows.Err()
}

func (p *PostgresBackend) ListWallets(ctx context.Context) ([]*types.Wallet, error) {
	if p.pool == nil {
		return nil, fmt.Errorf("database pool is nil")
	}

	query := `SELECT id, name, threshold_m, total_n, created_at, updated_at FROM wallets ORDER BY created_at`
	rows, err := p.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list wallets: %w", err)
	}
	defer rows.Close()

	var wallets []*types.Wallet
	for rows.Next() {
		var w types.Wallet
		if err := rows.Scan(&w.ID, &w.Name, &w.ThresholdM, &w.TotalN, &w.CreatedAt, &w.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan wallet: %w", err)
		}
		wallets = append(wallets, &w)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, w := range wallets {
		cosigners, err := p.walletCosigners(ctx, w.ID)
		if err != nil {
			return nil, err
		}
		w.Cosigners = cosigners
	}
	return wallets, nil
}

func (p *PostgresBackend) UpdateWallet(ctx context.Context, wallet *types.Wallet) error {
	if p.pool == nil {
		return fmt.Errorf("database pool is nil")
	}

	tag, err := p.pool.Exec(ctx, `UPDATE wallets SET name = $2, threshold_m = $3, total_n = $4, updated_at = $5 WHERE id = $1`,
		wallet.ID, wallet.Name, wallet.ThresholdM, wallet.TotalN, wallet.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update wallet: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: wallet %s", types.ErrNotFound, wallet.ID)
	}
	return nil
}

func (p *PostgresBackend) DeleteWallet(ctx context.Context, id string) error {
	if p.pool == nil {
		return fmt.Errorf("database pool is nil")
	}

	tag, err := p.pool.Exec(ctx, `DELETE FROM wallets WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete wallet: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: wallet %s", types.ErrNotFound, id)
	}
	return nil
}

func (p *PostgresBackend) AddCosigner(ctx context.Context, walletID string, cosigner types.Cosigner) error {
	if p.pool == nil {
		return fmt.Errorf("database pool is nil")
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin db transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := insertCosignerTx(ctx, tx, walletID, &cosigner); err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `UPDATE wallets SET updated_at = NOW() WHERE id = $1`, walletID)
	if err != nil {
		return fmt.Errorf("failed to touch wallet: %w", err)
	}
	return tx.Commit(ctx)
}

func (p *PostgresBackend) RemoveCosigner(ctx context.Context, walletID string, pubkey types.PublicKey) error {
	if p.pool == nil {
		return fmt.Errorf("database pool is nil")
	}

	tag, err := p.pool.Exec(ctx, `DELETE FROM wallet_cosigners WHERE wallet_id = $1 AND public_key = $2`, walletID, pubkey)
	if err != nil {
		return fmt.Errorf("failed to remove cosigner: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: cosigner %s", types.ErrNotFound, pubkey)
	}
	return nil
}
