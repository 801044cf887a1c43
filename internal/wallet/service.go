// Package wallet manages m-of-n threshold wallet configuration. Wallet
// records hold public keys and relay coordinates only, never private key
// material.
package wallet

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/gnostr-org/signerd/common"
	"github.com/gnostr-org/signerd/internal/types"
	"github.com/gnostr-org/signerd/storage"
)

// Service applies threshold invariants on top of the database layer.
type Service struct {
	db           storage.DatabaseStorage
	blockStorage *storage.BlockStorage
	logger       *logrus.Logger
}

// NewService builds the wallet service. blockStorage may be nil when
// backups are disabled.
func NewService(db storage.DatabaseStorage, blockStorage *storage.BlockStorage) *Service {
	return &Service{
		db:           db,
		blockStorage: blockStorage,
		logger:       logrus.WithField("service", "wallet").Logger,
	}
}

// Create builds an m-of-n wallet. Initial cosigners may be fewer than n;
// the rest join later through AddCosigner.
func (s *Service) Create(ctx context.Context, name string, thresholdM, totalN uint32, cosigners []types.Cosigner) (*types.Wallet, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: wallet name is empty", types.ErrInvalidConfig)
	}
	if err := types.ValidateThreshold(thresholdM, totalN); err != nil {
		return nil, err
	}
	if len(cosigners) > int(totalN) {
		return nil, fmt.Errorf("%w: %d cosigners exceed total %d", types.ErrInvalidConfig, len(cosigners), totalN)
	}

	seen := make(map[types.PublicKey]bool)
	for i := range cosigners {
		if err := cosigners[i].IsValid(); err != nil {
			return nil, err
		}
		if seen[cosigners[i].PublicKey] {
			return nil, fmt.Errorf("%w: cosigner %s", types.ErrDuplicate, cosigners[i].PublicKey)
		}
		seen[cosigners[i].PublicKey] = true
	}

	now := time.Now().UTC()
	wallet := &types.Wallet{
		ID:         uuid.New().String(),
		Name:       name,
		ThresholdM: thresholdM,
		TotalN:     totalN,
		Cosigners:  cosigners,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.db.CreateWallet(ctx, wallet); err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"wallet":    wallet.ID,
		"threshold": fmt.Sprintf("%d-of-%d", thresholdM, totalN),
	}).Info("wallet created")
	return wallet, nil
}

// Get loads one wallet with its cosigners.
func (s *Service) Get(ctx context.Context, walletID string) (*types.Wallet, error) {
	return s.db.GetWallet(ctx, walletID)
}

// List loads every wallet.
func (s *Service) List(ctx context.Context) ([]*types.Wallet, error) {
	return s.db.ListWallets(ctx)
}

// Delete removes a wallet and its cosigners.
func (s *Service) Delete(ctx context.Context, walletID string) error {
	return s.db.DeleteWallet(ctx, walletID)
}

// AddCosigner registers one more member. Fails on duplicates and when the
// wallet is already full.
func (s *Service) AddCosigner(ctx context.Context, walletID string, cosigner types.Cosigner) (*types.Wallet, error) {
	if err := cosigner.IsValid(); err != nil {
		return nil, err
	}

	wallet, err := s.db.GetWallet(ctx, walletID)
	if err != nil {
		return nil, err
	}
	if wallet.HasCosigner(cosigner.PublicKey) {
		return nil, fmt.Errorf("%w: cosigner %s", types.ErrDuplicate, cosigner.PublicKey)
	}
	if len(wallet.Cosigners) >= int(wallet.TotalN) {
		return nil, fmt.Errorf("%w: wallet already holds %d of %d cosigners", types.ErrInvalidConfig, len(wallet.Cosigners), wallet.TotalN)
	}

	if err := s.db.AddCosigner(ctx, walletID, cosigner); err != nil {
		return nil, err
	}
	return s.db.GetWallet(ctx, walletID)
}

// RemoveCosigner drops a member. Refuses when that would leave no margin
// over the threshold.
func (s *Service) RemoveCosigner(ctx context.Context, walletID string, pubkey types.PublicKey) (*types.Wallet, error) {
	wallet, err := s.db.GetWallet(ctx, walletID)
	if err != nil {
		return nil, err
	}
	if !wallet.HasCosigner(pubkey) {
		return nil, fmt.Errorf("%w: cosigner %s", types.ErrNotFound, pubkey)
	}
	if len(wallet.Cosigners)-1 <= int(wallet.ThresholdM) {
		return nil, fmt.Errorf("%w: removing %s leaves %d cosigners for threshold %d",
			types.ErrInvalidConfig, pubkey, len(wallet.Cosigners)-1, wallet.ThresholdM)
	}

	if err := s.db.RemoveCosigner(ctx, walletID, pubkey); err != nil {
		return nil, err
	}
	return s.db.GetWallet(ctx, walletID)
}

// Rename updates the display name.
func (s *Service) Rename(ctx context.Context, walletID, name string) (*types.Wallet, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: wallet name is empty", types.ErrInvalidConfig)
	}
	wallet, err := s.db.GetWallet(ctx, walletID)
	if err != nil {
		return nil, err
	}
	wallet.Name = name
	wallet.UpdatedAt = time.Now().UTC()
	if err := s.db.UpdateWallet(ctx, wallet); err != nil {
		return nil, err
	}
	return wallet, nil
}

// Backup encrypts the wallet configuration and stores it in block
// storage.
func (s *Service) Backup(ctx context.Context, walletID, passphrase string) error {
	if s.blockStorage == nil {
		return fmt.Errorf("%w: block storage is not configured", types.ErrInvalidConfig)
	}
	wallet, err := s.db.GetWallet(ctx, walletID)
	if err != nil {
		return err
	}
	buf, err := json.Marshal(wallet)
	if err != nil {
		return fmt.Errorf("fail to serialize wallet: %w", err)
	}
	encrypted, err := common.EncryptGCM(passphrase, buf)
	if err != nil {
		return fmt.Errorf("fail to encrypt wallet backup: %w", err)
	}
	return s.blockStorage.UploadBackupWithRetry(walletID, encrypted, 3)
}

// RestoreBackup fetches and decrypts a backup, recreating the wallet when
// it no longer exists locally.
func (s *Service) RestoreBackup(ctx context.Context, walletID, passphrase string) (*types.Wallet, error) {
	if s.blockStorage == nil {
		return nil, fmt.Errorf("%w: block storage is not configured", types.ErrInvalidConfig)
	}
	encrypted, err := s.blockStorage.GetBackup(walletID)
	if err != nil {
		return nil, err
	}
	buf, err := common.DecryptGCM(passphrase, encrypted)
	if err != nil {
		return nil, fmt.Errorf("fail to decrypt wallet backup: %w", err)
	}
	var wallet types.Wallet
	if err := json.Unmarshal(buf, &wallet); err != nil {
		return nil, fmt.Errorf("fail to parse wallet backup: %w", err)
	}

	if _, err := s.db.GetWallet(ctx, wallet.ID); err == nil {
		return &wallet, nil
	}
	if err := s.db.CreateWallet(ctx, &wallet); err != nil {
		return nil, err
	}
	return &wallet, nil
}
