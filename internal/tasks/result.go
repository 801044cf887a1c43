package tasks

import (
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
)

// GetTaskResult reads the stored result of a finished signing task.
func GetTaskResult(inspector *asynq.Inspector, taskID string) (json.RawMessage, error) {
	task, err := inspector.GetTaskInfo(QueueDefault, taskID)
	if err != nil {
		return nil, fmt.Errorf("fail to find task, err: %w", err)
	}

	switch task.State {
	case asynq.TaskStateCompleted:
		return task.Result, nil
	case asynq.TaskStatePending, asynq.TaskStateActive, asynq.TaskStateScheduled, asynq.TaskStateRetry:
		return nil, fmt.Errorf("task is still in progress")
	default:
		return nil, fmt.Errorf("task failed, err: %s", task.LastErr)
	}
}
