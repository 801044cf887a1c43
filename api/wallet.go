package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/gnostr-org/signerd/internal/types"
)

func (s *Server) CreateWallet(c echo.Context) error {
	var req types.CreateWalletRequest
	if err := c.Bind(&req); err != nil {
		return fmt.Errorf("fail to parse request, err: %w", err)
	}
	if err := req.IsValid(); err != nil {
		return c.JSON(http.StatusBadRequest, err.Error())
	}
	if err := s.sdClient.Count("wallet.create", 1, nil, 1); err != nil {
		s.logger.Errorf("fail to count metric, err: %v", err)
	}

	w, err := s.walletService.Create(c.Request().Context(), req.Name, req.ThresholdM, req.TotalN, req.Cosigners)
	if err != nil {
		if errors.Is(err, types.ErrInvalidConfig) {
			return c.JSON(http.StatusBadRequest, err.Error())
		}
		return fmt.Errorf("fail to create wallet, err: %w", err)
	}
	return c.JSON(http.StatusOK, w)
}

func (s *Server) ListWallets(c echo.Context) error {
	wallets, err := s.walletService.List(c.Request().Context())
	if err != nil {
		return fmt.Errorf("fail to list wallets, err: %w", err)
	}
	return c.JSON(http.StatusOK, wallets)
}

func (s *Server) GetWallet(c echo.Context) error {
	walletID := c.Param("walletId")
	if walletID == "" {
		return fmt.Errorf("wallet id is required")
	}
	w, err := s.walletService.Get(c.Request().Context(), walletID)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return c.NoContent(http.StatusNotFound)
		}
		return fmt.Errorf("fail to get wallet, err: %w", err)
	}
	return c.JSON(http.StatusOK, w)
}

func (s *Server) DeleteWallet(c echo.Context) error {
	walletID := c.Param("walletId")
	if walletID == "" {
		return fmt.Errorf("wallet id is required")
	}
	if err := s.walletService.Delete(c.Request().Context(), walletID); err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return c.NoContent(http.StatusNotFound)
		}
		return fmt.Errorf("fail to delete wallet, err: %w", err)
	}
	return c.NoContent(http.StatusOK)
}

func (s *Server) RenameWallet(c echo.Context) error {
	var req types.RenameWalletRequest
	if err := c.Bind(&req); err != nil {
		return fmt.Errorf("fail to parse request, err: %w", err)
	}
	if req.WalletID == "" || req.Name == "" {
		return c.NoContent(http.StatusBadRequest)
	}
	w, err := s.walletService.Rename(c.Request().Context(), req.WalletID, req.Name)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return c.NoContent(http.StatusNotFound)
		}
		return fmt.Errorf("fail to rename wallet, err: %w", err)
	}
	return c.JSON(http.StatusOK, w)
}

func (s *Server) AddCosigner(c echo.Context) error {
	var req types.AddCosignerRequest
	if err := c.Bind(&req); err != nil {
		return fmt.Errorf("fail to parse request, err: %w", err)
	}
	if err := req.IsValid(); err != nil {
		return c.JSON(http.StatusBadRequest, err.Error())
	}
	w, err := s.walletService.AddCosigner(c.Request().Context(), req.WalletID, req.Cosigner)
	if err != nil {
		switch {
		case errors.Is(err, types.ErrNotFound):
			return c.NoContent(http.StatusNotFound)
		case errors.Is(err, types.ErrDuplicate), errors.Is(err, types.ErrInvalidConfig):
			return c.JSON(http.StatusBadRequest, err.Error())
		}
		return fmt.Errorf("fail to add cosigner, err: %w", err)
	}
	return c.JSON(http.StatusOK, w)
}

func (s *Server) RemoveCosigner(c echo.Context) error {
	walletID := c.Param("walletId")
	if walletID == "" {
		return fmt.Errorf("wallet id is required")
	}
	pubkey := types.PublicKey(c.Param("pubkey"))
	if err := pubkey.Validate(); err != nil {
		return c.JSON(http.StatusBadRequest, err.Error())
	}
	w, err := s.walletService.RemoveCosigner(c.Request().Context(), walletID, pubkey)
	if err != nil {
		switch {
		case errors.Is(err, types.ErrNotFound):
			return c.NoContent(http.StatusNotFound)
		case errors.Is(err, types.ErrInvalidConfig):
			return c.JSON(http.StatusBadRequest, err.Error())
		}
		return fmt.Errorf("fail to remove cosigner, err: %w", err)
	}
	return c.JSON(http.StatusOK, w)
}

func (s *Server) BackupWallet(c echo.Context) error {
	walletID := c.Param("walletId")
	if walletID == "" {
		return fmt.Errorf("wallet id is required")
	}
	var req types.WalletBackupRequest
	if err := c.Bind(&req); err != nil {
		return fmt.Errorf("fail to parse request, err: %w", err)
	}
	if req.Passphrase == "" {
		s.logger.Errorln("backup passphrase is required")
		return c.NoContent(http.StatusBadRequest)
	}
	if err := s.sdClient.Count("wallet.backup", 1, nil, 1); err != nil {
		s.logger.Errorf("fail to count metric, err: %v", err)
	}
	if err := s.walletService.Backup(c.Request().Context(), walletID, req.Passphrase); err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return c.NoContent(http.StatusNotFound)
		}
		return fmt.Errorf("fail to backup wallet, err: %w", err)
	}
	return c.NoContent(http.StatusOK)
}

func (s *Server) RestoreWallet(c echo.Context) error {
	walletID := c.Param("walletId")
	if walletID == "" {
		return fmt.Errorf("wallet id is required")
	}
	var req types.WalletBackupRequest
	if err := c.Bind(&req); err != nil {
		return fmt.Errorf("fail to parse request, err: %w", err)
	}
	if req.Passphrase == "" {
		s.logger.Errorln("backup passphrase is required")
		return c.NoContent(http.StatusBadRequest)
	}
	w, err := s.walletService.RestoreBackup(c.Request().Context(), walletID, req.Passphrase)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return c.NoContent(http.StatusNotFound)
		}
		return fmt.Errorf("fail to restore wallet backup, err: %w", err)
	}
	return c.JSON(http.StatusOK, w)
}
