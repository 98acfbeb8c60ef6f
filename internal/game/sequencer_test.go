package game

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/storyprotocol/eliza/internal/config"
	"github.com/storyprotocol/eliza/internal/domain"
	"github.com/storyprotocol/eliza/internal/gateway"
	"github.com/storyprotocol/eliza/internal/registry"
	"github.com/storyprotocol/eliza/internal/store"
)

const testSecret = "s3cret"

// personaGateway serves GenerateCharacter only; the sequencer never sends
// conversation messages.
type personaGateway struct {
	persona   domain.Persona
	err       error
	generated int
}

func (g *personaGateway) SendMessage(ctx context.Context, agentID string, msg gateway.Message) ([]gateway.Reply, error) {
	return nil, errors.New("unexpected send")
}

func (g *personaGateway) GenerateCharacter(ctx context.Context, agentID string) (domain.Persona, error) {
	g.generated++
	if g.err != nil {
		return domain.Persona{}, g.err
	}
	return g.persona, nil
}

// fakeRegistry records calls in order and can fail a specific call.
type fakeRegistry struct {
	calls  []string
	failOn string
	err    error
}

func (r *fakeRegistry) fail(call string, err error) {
	r.failOn = call
	r.err = err
}

func (r *fakeRegistry) check(call string) error {
	r.calls = append(r.calls, call)
	if r.failOn != "" && call == r.failOn {
		return r.err
	}
	return nil
}

func (r *fakeRegistry) RegisterIdentity(ctx context.Context, meta registry.IdentityMetadata) (registry.Registration, error) {
	if err := r.check("register:" + meta.Name); err != nil {
		return registry.Registration{}, err
	}
	return registry.Registration{IdentityID: "child-1", TxRef: "tx-1"}, nil
}

func (r *fakeRegistry) IssueLicense(ctx context.Context, credential, issuerID, holderID string) (string, error) {
	if err := r.check(fmt.Sprintf("license:%s:%s", issuerID, holderID)); err != nil {
		return "", err
	}
	return "lic-" + issuerID, nil
}

func (r *fakeRegistry) RegisterDerivative(ctx context.Context, credential, childID string, licenseIDs []string) (string, error) {
	if err := r.check(fmt.Sprintf("derivative:%s:%d", childID, len(licenseIDs))); err != nil {
		return "", err
	}
	return "confirmed-1", nil
}

type sequencerFixture struct {
	repo      store.Repository
	gateway   *personaGateway
	registry  *fakeRegistry
	sequencer *Sequencer
}

func newFixture(t *testing.T) *sequencerFixture {
	t.Helper()
	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "show.db"))
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	t.Cleanup(func() {
		if err := repo.Close(); err != nil {
			t.Errorf("close store: %v", err)
		}
	})

	gw := &personaGateway{persona: domain.Persona{Name: "Starlet", System: "A radiant new character"}}
	reg := &fakeRegistry{}
	seq := NewSequencer(Options{
		Repo:     repo,
		Gateway:  gw,
		Registry: reg,
		Host:     config.AgentSeed{ID: "host-1", Name: "Marilyn", Host: true, Credential: "host-key", IPID: "ip-host"},
		Contestants: []config.AgentSeed{
			{ID: "agent-a", Name: "Alice", Credential: "alice-key", IPID: "ip-alice"},
			{ID: "agent-b", Name: "Bob", Credential: "bob-key", IPID: "ip-bob"},
		},
		AdminSecret:          testSecret,
		DerivedWalletAddress: "0xderived",
		DerivedWalletKey:     "derived-key",
	})
	return &sequencerFixture{repo: repo, gateway: gw, registry: reg, sequencer: seq}
}

func (f *sequencerFixture) score(t *testing.T, agentID string, score int) {
	t.Helper()
	if err := f.repo.AddScore(context.Background(), agentID, score); err != nil {
		t.Fatalf("AddScore failed: %v", err)
	}
}

func TestEndGameUnauthorized(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.score(t, "agent-a", 5)

	_, err := f.sequencer.EndGame(context.Background(), "wrong")
	if !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if len(f.registry.calls) != 0 {
		t.Fatalf("expected no registry calls, got %v", f.registry.calls)
	}
}

func TestEndGameNoContestants(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	_, err := f.sequencer.EndGame(context.Background(), testSecret)
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if len(f.registry.calls) != 0 {
		t.Fatalf("expected no registry calls, got %v", f.registry.calls)
	}
}

func TestEndGameRunsProtocolInOrder(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.score(t, "agent-a", 7)
	f.score(t, "agent-b", 3)
	f.score(t, "host-1", 99) // host never wins

	result, err := f.sequencer.EndGame(context.Background(), testSecret)
	if err != nil {
		t.Fatalf("EndGame failed: %v", err)
	}

	if result.Winner.AgentID != "agent-a" {
		t.Fatalf("expected agent-a to win, got %s", result.Winner.AgentID)
	}
	if result.Persona.Name != "Starlet" {
		t.Fatalf("unexpected persona %+v", result.Persona)
	}
	if result.Derived.ID != "child-1" || result.Derived.Confirmation != "confirmed-1" {
		t.Fatalf("unexpected derived identity %+v", result.Derived)
	}

	want := []string{
		"register:Starlet",
		"license:ip-host:child-1",
		"license:ip-alice:child-1",
		"derivative:child-1:2",
	}
	if len(f.registry.calls) != len(want) {
		t.Fatalf("expected %d registry calls, got %v", len(want), f.registry.calls)
	}
	for i, call := range want {
		if f.registry.calls[i] != call {
			t.Fatalf("call %d: expected %q, got %q", i, call, f.registry.calls[i])
		}
	}

	// The completed protocol clears its saga state and persists the identity.
	state, err := f.repo.GetGameEndState(context.Background())
	if err != nil {
		t.Fatalf("GetGameEndState failed: %v", err)
	}
	if state != nil {
		t.Fatalf("expected cleared saga state, got %+v", state)
	}
	account, err := f.repo.GetAccount(context.Background(), "child-1")
	if err != nil {
		t.Fatalf("GetAccount failed: %v", err)
	}
	if account == nil || account.Asset == nil || account.Asset.IPID != "child-1" {
		t.Fatalf("expected persisted derived identity, got %+v", account)
	}
	if account.Asset.WalletAddress != "0xderived" {
		t.Fatalf("expected configured wallet address on derived identity, got %q", account.Asset.WalletAddress)
	}
	if account.Asset.RegistrationTxRef != "tx-1" {
		t.Fatalf("expected registration tx ref on derived identity, got %q", account.Asset.RegistrationTxRef)
	}
}

// A winner with no configured credentials is rejected before any external
// side effect, not after registration has already committed.
func TestEndGameRejectsUncredentialedWinnerUpfront(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.score(t, "agent-x", 11) // scored via external chat, not in the cast file
	f.score(t, "agent-a", 7)

	_, err := f.sequencer.EndGame(context.Background(), testSecret)
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if len(f.registry.calls) != 0 {
		t.Fatalf("expected no registry calls, got %v", f.registry.calls)
	}
	if f.gateway.generated != 0 {
		t.Fatalf("expected no persona generated, got %d", f.gateway.generated)
	}
}

func TestEndGameResumesAfterMidProtocolFailure(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.score(t, "agent-a", 7)

	// First run dies on the winner's license.
	licenseErr := errors.New("registry unavailable")
	f.registry.fail("license:ip-alice:child-1", licenseErr)

	_, err := f.sequencer.EndGame(context.Background(), testSecret)
	if !errors.Is(err, licenseErr) {
		t.Fatalf("expected license failure, got %v", err)
	}

	state, err := f.repo.GetGameEndState(context.Background())
	if err != nil {
		t.Fatalf("GetGameEndState failed: %v", err)
	}
	if state == nil {
		t.Fatal("expected persisted saga state after failure")
	}
	if state.Step != domain.GameEndStepHostLicensed {
		t.Fatalf("expected cursor at host_licensed, got %q", state.Step)
	}
	if state.ChildID != "child-1" {
		t.Fatalf("expected registered child id preserved, got %q", state.ChildID)
	}

	// Second run resumes: no re-registration, no second host license.
	f.registry.fail("", nil)
	result, err := f.sequencer.EndGame(context.Background(), testSecret)
	if err != nil {
		t.Fatalf("resumed EndGame failed: %v", err)
	}
	if result.Derived.Confirmation != "confirmed-1" {
		t.Fatalf("unexpected derived identity %+v", result.Derived)
	}

	want := []string{
		"register:Starlet",
		"license:ip-host:child-1",
		"license:ip-alice:child-1", // failed attempt
		"license:ip-alice:child-1", // resumed attempt
		"derivative:child-1:2",
	}
	if len(f.registry.calls) != len(want) {
		t.Fatalf("expected %d registry calls, got %v", len(want), f.registry.calls)
	}
	for i, call := range want {
		if f.registry.calls[i] != call {
			t.Fatalf("call %d: expected %q, got %q", i, call, f.registry.calls[i])
		}
	}
	if f.gateway.generated != 1 {
		t.Fatalf("expected persona generated once, got %d", f.gateway.generated)
	}
}

func TestEndGamePrefersPersistedIdentityRef(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.score(t, "agent-a", 4)

	// The account row carries a fresher registry id than the static seed.
	if err := f.repo.UpsertAccount(context.Background(), &domain.Identity{
		ID:       "host-1",
		Name:     "Marilyn",
		Username: "marilyn",
		Asset:    &domain.AssetMetadata{IPID: "ip-host-live"},
	}); err != nil {
		t.Fatalf("UpsertAccount failed: %v", err)
	}

	if _, err := f.sequencer.EndGame(context.Background(), testSecret); err != nil {
		t.Fatalf("EndGame failed: %v", err)
	}
	if f.registry.calls[1] != "license:ip-host-live:child-1" {
		t.Fatalf("expected persisted ip id used for host license, got %q", f.registry.calls[1])
	}
}

func TestSetConfig(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	if err := f.sequencer.SetConfig(ctx, "wrong", 30*time.Second, time.Time{}, time.Time{}); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if err := f.sequencer.SetConfig(ctx, testSecret, 0, time.Time{}, time.Time{}); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation for zero interval, got %v", err)
	}

	if err := f.sequencer.SetConfig(ctx, testSecret, 45*time.Second, time.Time{}, time.Time{}); err != nil {
		t.Fatalf("SetConfig failed: %v", err)
	}
	cfg, err := f.repo.GetGameConfig(ctx)
	if err != nil {
		t.Fatalf("GetGameConfig failed: %v", err)
	}
	if cfg == nil || cfg.RoundInterval != 45*time.Second {
		t.Fatalf("expected 45s interval persisted, got %+v", cfg)
	}
}

func TestResetRequiresCredential(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	f.score(t, "agent-a", 9)

	if err := f.sequencer.Reset(ctx, "wrong"); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}

	if err := f.sequencer.Reset(ctx, testSecret); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	standings, err := f.repo.Standings(ctx)
	if err != nil {
		t.Fatalf("Standings failed: %v", err)
	}
	if len(standings) != 0 {
		t.Fatalf("expected cleared standings, got %v", standings)
	}
}
