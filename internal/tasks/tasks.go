package tasks

const (
	TypeThresholdSign = "sign:threshold"

	QueueDefault = "default"
)

// ThresholdSignPayload is the queue payload for one signing session.
type ThresholdSignPayload struct {
	WalletID      string
	SessionID     string
	EventJSON     string
	AutoSignLocal bool
}
