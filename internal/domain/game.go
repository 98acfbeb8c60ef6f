package domain

import (
	"time"
)

// GameConfig is the singleton pacing record for the running game.
type GameConfig struct {
	RoundInterval time.Duration `json:"round_interval"`
	StartsAt      time.Time     `json:"starts_at"`
	EndsAt        time.Time     `json:"ends_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// NextRound returns the timestamp of the next scheduled round given the
// last completed one.
func (c *GameConfig) NextRound(lastRound time.Time) time.Time {
	return lastRound.Add(c.RoundInterval)
}

// Persona is a generated character description for a derived identity.
type Persona struct {
	Name        string `json:"name"`
	System      string `json:"system"`
	Description string `json:"description,omitempty"`
	AvatarURL   string `json:"avatar_url,omitempty"`
}

// DerivedIdentity is the new identity minted at game end, jointly owned by
// the host and the winning contestant.
type DerivedIdentity struct {
	ID             string   `json:"id"`
	HostID         string   `json:"host_id"`
	WinnerID       string   `json:"winner_id"`
	Persona        Persona  `json:"persona"`
	RegistrationID string   `json:"registration_id"`
	TxRef          string   `json:"tx_ref"`
	LicenseIDs     []string `json:"license_ids"`
	WalletAddress  string   `json:"wallet_address,omitempty"`
	Confirmation   string   `json:"confirmation"`
}

// Game-end protocol step cursor values. The cursor records the last step
// that completed, so a crashed run can resume instead of re-registering.
const (
	GameEndStepNone           = ""
	GameEndStepRegistered     = "registered"
	GameEndStepHostLicensed   = "host_licensed"
	GameEndStepWinnerLicensed = "winner_licensed"
	GameEndStepDerivative     = "derivative"
)

// GameEndState is the persisted saga state for the registration protocol.
type GameEndState struct {
	Step            string
	WinnerID        string
	PersonaJSON     string
	ChildID         string
	TxRef           string
	HostLicenseID   string
	WinnerLicenseID string
	UpdatedAt       time.Time
}
