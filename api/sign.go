package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/hibiken/asynq"
	"github.com/labstack/echo/v4"

	"github.com/gnostr-org/signerd/internal/tasks"
	"github.com/gnostr-org/signerd/internal/types"
)

// SignThreshold enqueues one threshold signing session.
func (s *Server) SignThreshold(c echo.Context) error {
	var req types.ThresholdSignRequest
	if err := c.Bind(&req); err != nil {
		return fmt.Errorf("fail to parse request, err: %w", err)
	}
	if err := req.IsValid(); err != nil {
		return c.JSON(http.StatusBadRequest, err.Error())
	}
	if err := s.sdClient.Count("sign.threshold", 1, nil, 1); err != nil {
		s.logger.Errorf("fail to count metric, err: %v", err)
	}

	// The session id dedupes retried submissions.
	result, err := s.redis.Get(c.Request().Context(), req.SessionID)
	if err == nil && result != "" {
		return c.JSON(http.StatusOK, result)
	}

	task, err := tasks.NewThresholdSign(req.WalletID, req.SessionID, req.EventJSON, req.AutoSignLocal)
	if err != nil {
		return fmt.Errorf("fail to create task, err: %w", err)
	}
	ti, err := s.client.EnqueueContext(c.Request().Context(),
		task,
		asynq.MaxRetry(-1),
		asynq.Timeout(7*time.Minute),
		asynq.Retention(10*time.Minute),
		asynq.Queue(tasks.QueueDefault))
	if err != nil {
		return fmt.Errorf("fail to enqueue task, err: %w", err)
	}

	if err := s.redis.Set(c.Request().Context(), req.SessionID, ti.ID, 30*time.Minute); err != nil {
		s.logger.Errorf("fail to set session, err: %v", err)
	}

	return c.JSON(http.StatusOK, ti.ID)
}

// GetSignResult returns the final signature once the worker completes the
// session.
func (s *Server) GetSignResult(c echo.Context) error {
	taskID := c.Param("taskId")
	if taskID == "" {
		return fmt.Errorf("task id is required")
	}
	result, err := tasks.GetTaskResult(s.inspector, taskID)
	if err != nil {
		if err.Error() == "task is still in progress" {
			return c.JSON(http.StatusOK, "Task is still in progress")
		}
		return err
	}

	var resp types.ThresholdSignResponse
	if err := json.Unmarshal(result, &resp); err != nil {
		return fmt.Errorf("fail to decode task result, err: %w", err)
	}
	return c.JSON(http.StatusOK, resp)
}
