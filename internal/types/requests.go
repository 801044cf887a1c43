package types

import "fmt"

// CreateWalletRequest is the control-API payload for a new wallet.
type CreateWalletRequest struct {
	Name       string     `json:"name"`
	ThresholdM uint32     `json:"threshold_m"`
	TotalN     uint32     `json:"total_n"`
	Cosigners  []Cosigner `json:"cosigners,omitempty"`
}

func (r *CreateWalletRequest) IsValid() error {
	if r.Name == "" {
		return fmt.Errorf("name is required")
	}
	return ValidateThreshold(r.ThresholdM, r.TotalN)
}

// AddCosignerRequest registers one new wallet member.
type AddCosignerRequest struct {
	WalletID string   `json:"wallet_id"`
	Cosigner Cosigner `json:"cosigner"`
}

func (r *AddCosignerRequest) IsValid() error {
	if r.WalletID == "" {
		return fmt.Errorf("wallet_id is required")
	}
	return r.Cosigner.IsValid()
}

// RenameWalletRequest updates a wallet's display name.
type RenameWalletRequest struct {
	WalletID string `json:"wallet_id"`
	Name     string `json:"name"`
}

// WalletBackupRequest protects the backup blob with a passphrase.
type WalletBackupRequest struct {
	Passphrase string `json:"passphrase"`
}

// BunkerStartRequest brings the responder up for one identity.
type BunkerStartRequest struct {
	Identity PublicKey `json:"identity"`
	Relays   []string  `json:"relays,omitempty"`
}

func (r *BunkerStartRequest) IsValid() error {
	return r.Identity.Validate()
}
