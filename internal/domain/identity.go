// Package domain contains core domain types for the dating-show orchestrator.
package domain

import (
	"time"
)

// Identity represents an agent or external user participating in the game.
type Identity struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Username  string    `json:"username"`
	Email     string    `json:"email,omitempty"`
	AvatarURL string    `json:"avatar_url,omitempty"`
	Score     int       `json:"score"`
	CreatedAt time.Time `json:"created_at"`

	// Asset registration metadata, populated for pre-registered agents and
	// for the derived identity minted at game end.
	Asset *AssetMetadata `json:"asset,omitempty"`
}

// AssetMetadata carries the on-registry references for an identity.
type AssetMetadata struct {
	IPID              string `json:"ip_id,omitempty"`
	WalletAddress     string `json:"wallet_address,omitempty"`
	WalletPublicKey   string `json:"wallet_public_key,omitempty"`
	LicenseTermID     string `json:"license_term_id,omitempty"`
	LicenseTermURI    string `json:"license_term_uri,omitempty"`
	RegistrationTxRef string `json:"registration_tx_ref,omitempty"`
}

// Standing is one row of the score table.
type Standing struct {
	AgentID string `json:"agent_id"`
	Name    string `json:"name"`
	Score   int    `json:"score"`
}
