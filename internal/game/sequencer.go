// Package game implements the one-shot end-of-game derivation protocol and
// the administrative game operations.
package game

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/storyprotocol/eliza/internal/config"
	"github.com/storyprotocol/eliza/internal/domain"
	"github.com/storyprotocol/eliza/internal/feed"
	"github.com/storyprotocol/eliza/internal/gateway"
	"github.com/storyprotocol/eliza/internal/registry"
	"github.com/storyprotocol/eliza/internal/store"
)

// Options configures a Sequencer.
type Options struct {
	Repo        store.Repository
	Gateway     gateway.Messenger
	Registry    registry.Registrar
	Hub         *feed.Hub // optional
	Host        config.AgentSeed
	Contestants []config.AgentSeed
	AdminSecret string

	DerivedWalletAddress string
	DerivedWalletKey     string
}

// Sequencer executes the winner-selection and asset-derivation protocol.
type Sequencer struct {
	repo        store.Repository
	gateway     gateway.Messenger
	registry    registry.Registrar
	hub         *feed.Hub
	host        config.AgentSeed
	contestants map[string]config.AgentSeed
	adminSecret string

	derivedWalletAddress string
	derivedWalletKey     string
}

// NewSequencer creates a sequencer from options.
func NewSequencer(opts Options) *Sequencer {
	contestants := make(map[string]config.AgentSeed, len(opts.Contestants))
	for _, seed := range opts.Contestants {
		contestants[seed.ID] = seed
	}
	return &Sequencer{
		repo:                 opts.Repo,
		gateway:              opts.Gateway,
		registry:             opts.Registry,
		hub:                  opts.Hub,
		host:                 opts.Host,
		contestants:          contestants,
		adminSecret:          opts.AdminSecret,
		derivedWalletAddress: opts.DerivedWalletAddress,
		derivedWalletKey:     opts.DerivedWalletKey,
	}
}

// Result is the successful outcome of the derivation protocol.
type Result struct {
	Winner  domain.Standing        `json:"winner"`
	Persona domain.Persona         `json:"persona"`
	Derived domain.DerivedIdentity `json:"derived"`
}

// Authorize checks the administrative shared secret in constant time.
func (s *Sequencer) Authorize(credential string) error {
	if subtle.ConstantTimeCompare([]byte(credential), []byte(s.adminSecret)) != 1 {
		return domain.ErrUnauthorized
	}
	return nil
}

// EndGame selects the winner and runs the derivation protocol: persona
// generation, identity registration, two license issuances (host first,
// then winner) and the derivative registration, in that order.
//
// Registration steps have irreversible external side effects, so there is
// no automatic rollback and no internal retry: any failure aborts and is
// returned verbatim. The step cursor and every intermediate identifier are
// persisted before each external call, so a crashed run resumes from the
// last completed step instead of re-registering.
func (s *Sequencer) EndGame(ctx context.Context, credential string) (Result, error) {
	if err := s.Authorize(credential); err != nil {
		return Result{}, err
	}

	winner, err := s.repo.TopContestant(ctx, s.host.ID)
	if err != nil {
		return Result{}, err
	}

	// Registration commits irreversible external state, so the winner must
	// have configured credentials before the first registry call.
	winnerSeed, ok := s.contestants[winner.AgentID]
	if !ok {
		return Result{}, fmt.Errorf("%w: no credentials configured for winner %s", domain.ErrNotFound, winner.AgentID)
	}

	state, err := s.repo.GetGameEndState(ctx)
	if err != nil {
		return Result{}, &domain.PersistenceError{Op: "read game end state", Err: err}
	}

	var persona domain.Persona
	if state != nil && state.WinnerID == winner.AgentID {
		if err := json.Unmarshal([]byte(state.PersonaJSON), &persona); err != nil {
			return Result{}, fmt.Errorf("decode persisted persona: %w", err)
		}
		slog.Info("resuming game end protocol", "step", state.Step, "winner", winner.Name)
	} else {
		// Persona generation commits nothing external; safe to redo.
		persona, err = s.gateway.GenerateCharacter(ctx, winner.AgentID)
		if err != nil {
			return Result{}, err
		}
		personaJSON, err := json.Marshal(persona)
		if err != nil {
			return Result{}, fmt.Errorf("encode persona: %w", err)
		}
		state = &domain.GameEndState{
			Step:        domain.GameEndStepNone,
			WinnerID:    winner.AgentID,
			PersonaJSON: string(personaJSON),
		}
		if err := s.repo.SaveGameEndState(ctx, state); err != nil {
			return Result{}, &domain.PersistenceError{Op: "save game end state", Err: err}
		}
	}

	if state.Step == domain.GameEndStepNone {
		reg, err := s.registry.RegisterIdentity(ctx, registry.IdentityMetadata{
			Name:        persona.Name,
			Description: persona.System,
			ImageURL:    persona.AvatarURL,
			IPType:      "character",
		})
		if err != nil {
			return Result{}, err
		}
		state.ChildID = reg.IdentityID
		state.TxRef = reg.TxRef
		state.Step = domain.GameEndStepRegistered
		if err := s.repo.SaveGameEndState(ctx, state); err != nil {
			return Result{}, &domain.PersistenceError{Op: "save registration", Err: err}
		}
		slog.Info("derived identity registered", "child_id", reg.IdentityID, "tx_ref", reg.TxRef)
	}

	if state.Step == domain.GameEndStepRegistered {
		licenseID, err := s.registry.IssueLicense(ctx, s.host.Credential, s.identityRef(ctx, s.host), state.ChildID)
		if err != nil {
			return Result{}, err
		}
		state.HostLicenseID = licenseID
		state.Step = domain.GameEndStepHostLicensed
		if err := s.repo.SaveGameEndState(ctx, state); err != nil {
			return Result{}, &domain.PersistenceError{Op: "save host license", Err: err}
		}
		slog.Info("host license issued", "license_id", licenseID)
	}

	if state.Step == domain.GameEndStepHostLicensed {
		licenseID, err := s.registry.IssueLicense(ctx, winnerSeed.Credential, s.identityRef(ctx, winnerSeed), state.ChildID)
		if err != nil {
			return Result{}, err
		}
		state.WinnerLicenseID = licenseID
		state.Step = domain.GameEndStepWinnerLicensed
		if err := s.repo.SaveGameEndState(ctx, state); err != nil {
			return Result{}, &domain.PersistenceError{Op: "save winner license", Err: err}
		}
		slog.Info("winner license issued", "license_id", licenseID)
	}

	derived := domain.DerivedIdentity{
		ID:             state.ChildID,
		HostID:         s.host.ID,
		WinnerID:       winner.AgentID,
		Persona:        persona,
		RegistrationID: state.ChildID,
		TxRef:          state.TxRef,
		LicenseIDs:     []string{state.HostLicenseID, state.WinnerLicenseID},
		WalletAddress:  s.derivedWalletAddress,
	}

	if state.Step == domain.GameEndStepWinnerLicensed {
		confirmation, err := s.registry.RegisterDerivative(ctx, s.derivedWalletKey, state.ChildID, derived.LicenseIDs)
		if err != nil {
			return Result{}, err
		}
		derived.Confirmation = confirmation
		state.Step = domain.GameEndStepDerivative
		if err := s.repo.SaveGameEndState(ctx, state); err != nil {
			return Result{}, &domain.PersistenceError{Op: "save derivative", Err: err}
		}
		slog.Info("derivative registered", "child_id", state.ChildID, "confirmation", confirmation)
	}

	if err := s.repo.SaveDerivedIdentity(ctx, &derived); err != nil {
		return Result{}, &domain.PersistenceError{Op: "persist derived identity", Err: err}
	}
	if err := s.repo.ClearGameEndState(ctx); err != nil {
		return Result{}, &domain.PersistenceError{Op: "clear game end state", Err: err}
	}

	slog.Info("game ended", "winner", winner.Name, "derived", persona.Name)
	if s.hub != nil {
		s.hub.Publish(feed.Event{
			Type:      feed.EventGameEnded,
			AgentID:   winner.AgentID,
			AgentName: winner.Name,
			Content:   persona.Name,
		})
	}

	return Result{Winner: *winner, Persona: persona, Derived: derived}, nil
}

// SetConfig writes the game pacing record after credential validation.
func (s *Sequencer) SetConfig(ctx context.Context, credential string, interval time.Duration, start, end time.Time) error {
	if err := s.Authorize(credential); err != nil {
		return err
	}
	if interval <= 0 {
		return fmt.Errorf("%w: interval must be positive", domain.ErrValidation)
	}
	cfg := &domain.GameConfig{RoundInterval: interval, StartsAt: start, EndsAt: end}
	if err := s.repo.UpsertGameConfig(ctx, cfg); err != nil {
		return &domain.PersistenceError{Op: "set game config", Err: err}
	}
	slog.Info("game config updated", "interval", interval, "starts_at", start, "ends_at", end)
	return nil
}

// Reset wipes all conversation, score and relationship state. Irreversible.
func (s *Sequencer) Reset(ctx context.Context, credential string) error {
	if err := s.Authorize(credential); err != nil {
		return err
	}
	if err := s.repo.ResetGame(ctx); err != nil {
		return &domain.PersistenceError{Op: "reset game", Err: err}
	}
	slog.Warn("game state reset")
	return nil
}

// identityRef resolves an agent's registry identity id, preferring the
// persisted account metadata over the static seed.
func (s *Sequencer) identityRef(ctx context.Context, seed config.AgentSeed) string {
	account, err := s.repo.GetAccount(ctx, seed.ID)
	if err == nil && account != nil && account.Asset != nil && account.Asset.IPID != "" {
		return account.Asset.IPID
	}
	if seed.IPID != "" {
		return seed.IPID
	}
	return seed.ID
}
