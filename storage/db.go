package storage

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gnostr-org/signerd/internal/types"
)

type DatabaseStorage interface {
	Close() error

	CreateWallet(ctx context.Context, wallet *types.Wallet) error
	GetWallet(ctx context.Context, id string) (*types.Wallet, error)
	ListWallets(ctx context.Context) ([]*types.Wallet, error)
	UpdateWallet(ctx context.Context, wallet *types.Wallet) error
	DeleteWallet(ctx context.Context, id string) error
	AddCosigner(ctx context.Context, walletID string, cosigner types.Cosigner) error
	RemoveCosigner(ctx context.Context, walletID string, pubkey types.PublicKey) error

	SavePartialSignature(ctx context.Context, record types.PartialSignatureRecord) error
	GetPartialSignatures(ctx context.Context, sessionID string) ([]types.PartialSignatureRecord, error)
	DeletePartialSignatures(ctx context.Context, sessionID string) error

	InsertHistoryEntry(ctx context.Context, entry types.HistoryEntry) (int64, error)
	GetHistory(ctx context.Context, identity types.PublicKey, take int, skip int) ([]types.HistoryEntry, error)

	Pool() *pgxpool.Pool
}
