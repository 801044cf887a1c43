package types

import (
	"fmt"

	"github.com/google/uuid"
)

// ThresholdSignRequest asks the worker to collect an m-of-n signature for
// one event against a configured wallet.
type ThresholdSignRequest struct {
	WalletID      string `json:"wallet_id"`
	EventJSON     string `json:"event_json"`
	SessionID     string `json:"session_id"`      // UUID, used to dedupe retries
	AutoSignLocal bool   `json:"auto_sign_local"` // sign local cosigners without prompting
}

func (r *ThresholdSignRequest) IsValid() error {
	if r.WalletID == "" {
		return fmt.Errorf("wallet_id is required")
	}
	if r.EventJSON == "" {
		return fmt.Errorf("event_json is required")
	}
	if r.SessionID == "" {
		return fmt.Errorf("session_id is required")
	}
	if _, err := uuid.Parse(r.SessionID); err != nil {
		return fmt.Errorf("session_id is not valid")
	}
	return nil
}

// ThresholdSignResponse is the worker's task result payload.
type ThresholdSignResponse struct {
	SessionID    string `json:"session_id"`
	SignatureHex string `json:"signature_hex"`
}
