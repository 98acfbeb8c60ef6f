package show

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/storyprotocol/eliza/internal/domain"
	"github.com/storyprotocol/eliza/internal/gateway"
	"github.com/storyprotocol/eliza/internal/ledger"
	"github.com/storyprotocol/eliza/internal/session"
	"github.com/storyprotocol/eliza/internal/store"
)

type sentMessage struct {
	AgentID string
	Msg     gateway.Message
}

type scriptedReply struct {
	replies []gateway.Reply
	err     error
}

// fakeGateway pops scripted replies per agent and records every send.
type fakeGateway struct {
	t *testing.T

	mu      sync.Mutex
	scripts map[string][]scriptedReply
	sent    []sentMessage
}

func newFakeGateway(t *testing.T) *fakeGateway {
	return &fakeGateway{t: t, scripts: make(map[string][]scriptedReply)}
}

func (g *fakeGateway) script(agentID string, err error, replies ...gateway.Reply) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.scripts[agentID] = append(g.scripts[agentID], scriptedReply{replies: replies, err: err})
}

func (g *fakeGateway) SendMessage(ctx context.Context, agentID string, msg gateway.Message) ([]gateway.Reply, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sent = append(g.sent, sentMessage{AgentID: agentID, Msg: msg})
	queue := g.scripts[agentID]
	if len(queue) == 0 {
		g.t.Fatalf("unexpected message to agent %s: %q", agentID, msg.Text)
	}
	next := queue[0]
	g.scripts[agentID] = queue[1:]
	return next.replies, next.err
}

func (g *fakeGateway) GenerateCharacter(ctx context.Context, agentID string) (domain.Persona, error) {
	return domain.Persona{Name: "Derived"}, nil
}

func (g *fakeGateway) sentTo(agentID string) []sentMessage {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []sentMessage
	for _, s := range g.sent {
		if s.AgentID == agentID {
			out = append(out, s)
		}
	}
	return out
}

func scored(text string, score int) gateway.Reply {
	return gateway.Reply{Text: text, Score: &score}
}

type schedulerFixture struct {
	gateway   *fakeGateway
	repo      store.Repository
	scheduler *Scheduler
}

func newFixture(t *testing.T) *schedulerFixture {
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

	gw := newFakeGateway(t)
	sched := NewScheduler(Options{
		Gateway: gw,
		Ledger:  ledger.New(repo),
		Repo:    repo,
		Bridge:  session.NewBridge(repo),
		Host:    Agent{ID: "host-1", Name: "Marilyn"},
		Contestants: []Agent{
			{ID: "agent-a", Name: "Alice"},
			{ID: "agent-b", Name: "Bob"},
		},
		RoomID:        "room-1",
		TurnDelay:     time.Millisecond,
		ContestantGap: time.Millisecond,
	})
	return &schedulerFixture{gateway: gw, repo: repo, scheduler: sched}
}

func standingsByID(t *testing.T, repo store.Repository) map[string]int {
	t.Helper()
	standings, err := repo.Standings(context.Background())
	if err != nil {
		t.Fatalf("Standings failed: %v", err)
	}
	out := make(map[string]int, len(standings))
	for _, s := range standings {
		out[s.AgentID] = s.Score
	}
	return out
}

func TestRunRoundScoresEveryContestant(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.gateway.script("host-1", nil, gateway.Reply{Text: "What makes a first date great?"})
	f.gateway.script("agent-a", nil, gateway.Reply{Text: "Good conversation"})
	f.gateway.script("host-1", nil, scored("Love that!", 7))
	f.gateway.script("agent-b", nil, gateway.Reply{Text: "Shared laughter"})
	f.gateway.script("host-1", nil, scored("Sweet answer", 3))

	if err := f.scheduler.runRound(context.Background()); err != nil {
		t.Fatalf("runRound failed: %v", err)
	}

	scores := standingsByID(t, f.repo)
	if scores["agent-a"] != 7 || scores["agent-b"] != 3 {
		t.Fatalf("expected scores a=7 b=3, got %v", scores)
	}

	// Every turn entry is closed by the host's reply.
	for _, agentID := range []string{"agent-a", "agent-b"} {
		open, err := f.repo.OpenEntry(context.Background(), agentID)
		if err != nil {
			t.Fatalf("OpenEntry failed: %v", err)
		}
		if open != nil {
			t.Fatalf("expected no open entry for %s, found %q", agentID, open.ContestantMessage)
		}
	}

	// The host's scoring calls carry each contestant's identity.
	hostCalls := f.gateway.sentTo("host-1")
	if len(hostCalls) != 3 {
		t.Fatalf("expected 3 host calls, got %d", len(hostCalls))
	}
	if hostCalls[1].Msg.UserID != "agent-a" || hostCalls[2].Msg.UserID != "agent-b" {
		t.Fatalf("expected host replies attributed to contestants, got %q then %q",
			hostCalls[1].Msg.UserID, hostCalls[2].Msg.UserID)
	}
}

func TestRunRoundSkipsWhenHostProducesNoTopic(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.gateway.script("host-1", nil)

	if err := f.scheduler.runRound(context.Background()); err != nil {
		t.Fatalf("runRound failed: %v", err)
	}

	if len(f.gateway.sentTo("agent-a")) != 0 || len(f.gateway.sentTo("agent-b")) != 0 {
		t.Fatal("expected no contestant turns without a topic")
	}
	if scores := standingsByID(t, f.repo); len(scores) != 0 {
		t.Fatalf("expected no scores, got %v", scores)
	}
}

func TestRunRoundContestantFailureDoesNotAbortRound(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.gateway.script("host-1", nil, gateway.Reply{Text: "What do you value most?"})
	f.gateway.script("agent-a", errors.New("agent unreachable"))
	f.gateway.script("agent-b", nil, gateway.Reply{Text: "Kindness"})
	f.gateway.script("host-1", nil, scored("Lovely", 5))

	if err := f.scheduler.runRound(context.Background()); err != nil {
		t.Fatalf("runRound failed: %v", err)
	}

	scores := standingsByID(t, f.repo)
	if _, ok := scores["agent-a"]; ok {
		t.Fatalf("expected no score for failed contestant, got %v", scores)
	}
	if scores["agent-b"] != 5 {
		t.Fatalf("expected b=5, got %v", scores)
	}
}

func TestRunRoundHostReplyFailureLeavesEntryOpen(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.gateway.script("host-1", nil, gateway.Reply{Text: "Describe your ideal partner"})
	f.gateway.script("agent-a", nil, gateway.Reply{Text: "Someone honest"})
	f.gateway.script("host-1", errors.New("gateway timeout"))
	f.gateway.script("agent-b", nil, gateway.Reply{Text: "Someone funny"})
	f.gateway.script("host-1", nil, scored("Great", 4))

	if err := f.scheduler.runRound(context.Background()); err != nil {
		t.Fatalf("runRound failed: %v", err)
	}

	open, err := f.repo.OpenEntry(context.Background(), "agent-a")
	if err != nil {
		t.Fatalf("OpenEntry failed: %v", err)
	}
	if open == nil {
		t.Fatal("expected agent-a entry to remain open after host failure")
	}
	if _, ok := standingsByID(t, f.repo)["agent-a"]; ok {
		t.Fatal("expected no score for agent-a after host failure")
	}
}

func TestHandleExternalChatReturnsScoredReply(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.gateway.script("host-1", nil, scored("Welcome to the show!", 6))

	result, err := f.scheduler.HandleExternalChat(context.Background(), "twitter-123", "Ada", "Hi Marilyn!")
	if err != nil {
		t.Fatalf("HandleExternalChat failed: %v", err)
	}
	if result.Message != "Welcome to the show!" {
		t.Fatalf("unexpected reply message %q", result.Message)
	}
	if result.Score != 6 {
		t.Fatalf("expected score 6, got %d", result.Score)
	}
	if result.Session.UserID == "" || result.Session.RoomID == "" {
		t.Fatalf("expected populated session, got %+v", result.Session)
	}

	// The turn is recorded against the derived identity and closed.
	open, err := f.repo.OpenEntry(context.Background(), result.Session.UserID)
	if err != nil {
		t.Fatalf("OpenEntry failed: %v", err)
	}
	if open != nil {
		t.Fatal("expected external entry closed by the host reply")
	}
	if scores := standingsByID(t, f.repo); scores[result.Session.UserID] != 6 {
		t.Fatalf("expected external user scored 6, got %v", scores)
	}

	// Repeat message reuses the same session.
	f.gateway.script("host-1", nil, scored("Back again?", 2))
	again, err := f.scheduler.HandleExternalChat(context.Background(), "twitter-123", "Ada", "Yes!")
	if err != nil {
		t.Fatalf("HandleExternalChat failed: %v", err)
	}
	if again.Session.UserID != result.Session.UserID {
		t.Fatalf("expected stable session, got %q then %q", result.Session.UserID, again.Session.UserID)
	}
	if scores := standingsByID(t, f.repo); scores[result.Session.UserID] != 8 {
		t.Fatalf("expected accumulated score 8, got %v", scores)
	}
}

func TestHandleExternalChatValidation(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	if _, err := f.scheduler.HandleExternalChat(context.Background(), "", "Ada", "hi"); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation for missing user id, got %v", err)
	}
	if _, err := f.scheduler.HandleExternalChat(context.Background(), "twitter-123", "Ada", ""); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation for missing message, got %v", err)
	}
}

func TestNewSchedulerAppliesPacingDefaults(t *testing.T) {
	t.Parallel()

	s := NewScheduler(Options{})
	if s.roundInterval != 5*time.Second {
		t.Fatalf("expected default round interval 5s, got %v", s.roundInterval)
	}
	if s.turnDelay != 5*time.Second {
		t.Fatalf("expected default turn delay 5s, got %v", s.turnDelay)
	}
	if s.contestantGap != time.Second {
		t.Fatalf("expected default contestant gap 1s, got %v", s.contestantGap)
	}
	if s.errorCooldown != 25*time.Second {
		t.Fatalf("expected default error cooldown 25s, got %v", s.errorCooldown)
	}
	if s.maxCooldown != 5*time.Minute {
		t.Fatalf("expected default max cooldown 5m, got %v", s.maxCooldown)
	}
}

func TestNextCooldownDoublesToCeiling(t *testing.T) {
	t.Parallel()

	s := NewScheduler(Options{
		ErrorCooldown: 25 * time.Second,
		MaxCooldown:   60 * time.Second,
	})

	want := []time.Duration{25 * time.Second, 50 * time.Second, 60 * time.Second, 60 * time.Second}
	for i, expected := range want {
		if got := s.nextCooldown(); got != expected {
			t.Fatalf("cooldown %d: expected %v, got %v", i, expected, got)
		}
	}

	s.markRoundComplete()
	if got := s.nextCooldown(); got != 25*time.Second {
		t.Fatalf("expected cooldown reset to 25s after success, got %v", got)
	}
}

func TestInterRoundIntervalUsesGameConfig(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	if got := f.scheduler.interRoundInterval(ctx); got != 5*time.Second {
		t.Fatalf("expected default interval 5s, got %v", got)
	}

	if err := f.repo.UpsertGameConfig(ctx, &domain.GameConfig{RoundInterval: 42 * time.Second}); err != nil {
		t.Fatalf("UpsertGameConfig failed: %v", err)
	}
	if got := f.scheduler.interRoundInterval(ctx); got != 42*time.Second {
		t.Fatalf("expected configured interval 42s, got %v", got)
	}
}
