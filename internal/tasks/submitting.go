package tasks

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

func NewThresholdSign(
	walletID string,
	sessionID string,
	eventJSON string,
	autoSignLocal bool,
) (*asynq.Task, error) {
	payload, err := json.Marshal(ThresholdSignPayload{
		WalletID:      walletID,
		SessionID:     sessionID,
		EventJSON:     eventJSON,
		AutoSignLocal: autoSignLocal,
	})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeThresholdSign, payload), nil
}
