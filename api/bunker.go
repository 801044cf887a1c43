package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/gnostr-org/signerd/common"
	"github.com/gnostr-org/signerd/internal/types"
)

// StartBunker brings the responder up for one identity.
func (s *Server) StartBunker(c echo.Context) error {
	var req types.BunkerStartRequest
	if err := c.Bind(&req); err != nil {
		return fmt.Errorf("fail to parse request, err: %w", err)
	}
	if err := req.IsValid(); err != nil {
		return c.JSON(http.StatusBadRequest, err.Error())
	}
	if err := s.sdClient.Count("bunker.start", 1, nil, 1); err != nil {
		s.logger.Errorf("fail to count metric, err: %v", err)
	}

	if err := s.bunkerService.Start(c.Request().Context(), req.Relays, req.Identity); err != nil {
		switch {
		case errors.Is(err, types.ErrWatchOnly), errors.Is(err, types.ErrDuplicate):
			return c.JSON(http.StatusBadRequest, err.Error())
		}
		return fmt.Errorf("fail to start bunker, err: %w", err)
	}
	return c.NoContent(http.StatusOK)
}

func (s *Server) StopBunker(c echo.Context) error {
	s.bunkerService.Stop()
	return c.NoContent(http.StatusOK)
}

func (s *Server) BunkerStatus(c echo.Context) error {
	status := map[string]interface{}{
		"state":       s.bunkerService.State().String(),
		"connections": len(s.bunkerService.Connections()),
		"pending":     len(s.bunkerService.PendingRequests()),
	}
	if err := s.bunkerService.LastError(); err != nil {
		status["last_error"] = err.Error()
	}
	return c.JSON(http.StatusOK, status)
}

// GetBunkerURI mints a connection URI with a fresh single-use secret.
func (s *Server) GetBunkerURI(c echo.Context) error {
	secret, err := common.RandomHex(16)
	if err != nil {
		return fmt.Errorf("fail to generate secret, err: %w", err)
	}
	uri, err := s.bunkerService.BunkerURI(secret)
	if err != nil {
		if errors.Is(err, types.ErrInvalidConfig) {
			return c.JSON(http.StatusBadRequest, err.Error())
		}
		return fmt.Errorf("fail to build bunker uri, err: %w", err)
	}
	return c.JSON(http.StatusOK, map[string]string{"uri": uri})
}

func (s *Server) ListBunkerConnections(c echo.Context) error {
	return c.JSON(http.StatusOK, s.bunkerService.Connections())
}

func (s *Server) DisconnectBunkerClient(c echo.Context) error {
	pubkey := types.PublicKey(c.Param("pubkey"))
	if err := pubkey.Validate(); err != nil {
		return c.JSON(http.StatusBadRequest, err.Error())
	}
	if err := s.bunkerService.Disconnect(pubkey); err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return c.NoContent(http.StatusNotFound)
		}
		return fmt.Errorf("fail to disconnect client, err: %w", err)
	}
	return c.NoContent(http.StatusOK)
}

func (s *Server) ListPendingSignRequests(c echo.Context) error {
	return c.JSON(http.StatusOK, s.bunkerService.PendingRequests())
}

// ApprovePendingRequest resolves one parked approval decision.
func (s *Server) ApprovePendingRequest(c echo.Context) error {
	requestID := c.Param("requestId")
	if requestID == "" {
		return fmt.Errorf("request id is required")
	}
	if s.approver == nil {
		return c.NoContent(http.StatusBadRequest)
	}
	approve := c.QueryParam("approve") != "false"
	if err := s.approver.Resolve(requestID, approve); err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return c.NoContent(http.StatusNotFound)
		}
		return fmt.Errorf("fail to resolve request, err: %w", err)
	}
	return c.NoContent(http.StatusOK)
}

// HandleConnectURI pairs a client from a nostrconnect:// URI.
func (s *Server) HandleConnectURI(c echo.Context) error {
	var req struct {
		URI string `json:"uri"`
	}
	if err := c.Bind(&req); err != nil {
		return fmt.Errorf("fail to parse request, err: %w", err)
	}
	if req.URI == "" {
		return c.NoContent(http.StatusBadRequest)
	}
	if err := s.bunkerService.HandleConnectURI(req.URI); err != nil {
		switch {
		case errors.Is(err, types.ErrInvalidConfig), errors.Is(err, types.ErrInvalidSigner):
			return c.JSON(http.StatusBadRequest, err.Error())
		case errors.Is(err, types.ErrRateLimited):
			return c.JSON(http.StatusTooManyRequests, err.Error())
		case errors.Is(err, types.ErrCanceled):
			return c.JSON(http.StatusForbidden, err.Error())
		}
		return fmt.Errorf("fail to handle connect uri, err: %w", err)
	}
	return c.NoContent(http.StatusOK)
}

// GetSessionStatus reports the persisted partial signatures of one
// signing session.
func (s *Server) GetSessionStatus(c echo.Context) error {
	sessionID := c.Param("sessionId")
	if sessionID == "" {
		return fmt.Errorf("session id is required")
	}
	partials, err := s.db.GetPartialSignatures(c.Request().Context(), sessionID)
	if err != nil {
		return fmt.Errorf("fail to load session signatures, err: %w", err)
	}
	signers := make([]types.PublicKey, 0, len(partials))
	for _, p := range partials {
		signers = append(signers, p.SignerPubkey)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"session_id": sessionID,
		"collected":  len(partials),
		"signers":    signers,
	})
}

// GetHistory lists signing decisions for one identity, newest first.
func (s *Server) GetHistory(c echo.Context) error {
	identity := types.PublicKey(c.Param("identity"))
	if err := identity.Validate(); err != nil {
		return c.JSON(http.StatusBadRequest, err.Error())
	}

	take, _ := strconv.Atoi(c.QueryParam("take"))
	skip, _ := strconv.Atoi(c.QueryParam("skip"))
	entries, err := s.historyStore.List(c.Request().Context(), identity, take, skip)
	if err != nil {
		return fmt.Errorf("fail to list history, err: %w", err)
	}
	return c.JSON(http.StatusOK, entries)
}
