// Package show drives the round-table conversation between the host and
// the contestants.
package show

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/storyprotocol/eliza/internal/domain"
	"github.com/storyprotocol/eliza/internal/feed"
	"github.com/storyprotocol/eliza/internal/gateway"
	"github.com/storyprotocol/eliza/internal/ledger"
	"github.com/storyprotocol/eliza/internal/session"
	"github.com/storyprotocol/eliza/internal/store"
)

const openTopicPrompt = "Start a group discussion with a thought-provoking dating or relationship question"

// Agent identifies one cast member on the show.
type Agent struct {
	ID   string
	Name string
}

// Options configures a Scheduler.
type Options struct {
	Gateway     gateway.Messenger
	Ledger      *ledger.Ledger
	Repo        store.Repository
	Bridge      *session.Bridge
	Hub         *feed.Hub // optional
	Host        Agent
	Contestants []Agent
	RoomID      string

	RoundInterval time.Duration // default; game config overrides per round
	TurnDelay     time.Duration
	ContestantGap time.Duration
	ErrorCooldown time.Duration
	MaxCooldown   time.Duration
}

// Scheduler runs the infinite round-table loop and the synchronous
// external-chat entry point.
type Scheduler struct {
	gateway     gateway.Messenger
	ledger      *ledger.Ledger
	repo        store.Repository
	bridge      *session.Bridge
	hub         *feed.Hub
	host        Agent
	contestants []Agent
	roomID      string

	roundInterval time.Duration
	turnDelay     time.Duration
	contestantGap time.Duration
	errorCooldown time.Duration
	maxCooldown   time.Duration

	mu        sync.Mutex
	lastRound time.Time
	cooldown  time.Duration
}

// NewScheduler creates a scheduler from options, applying pacing defaults.
func NewScheduler(opts Options) *Scheduler {
	s := &Scheduler{
		gateway:       opts.Gateway,
		ledger:        opts.Ledger,
		repo:          opts.Repo,
		bridge:        opts.Bridge,
		hub:           opts.Hub,
		host:          opts.Host,
		contestants:   opts.Contestants,
		roomID:        opts.RoomID,
		roundInterval: opts.RoundInterval,
		turnDelay:     opts.TurnDelay,
		contestantGap: opts.ContestantGap,
		errorCooldown: opts.ErrorCooldown,
		maxCooldown:   opts.MaxCooldown,
	}
	if s.roundInterval <= 0 {
		s.roundInterval = 5 * time.Second
	}
	if s.turnDelay <= 0 {
		s.turnDelay = 5 * time.Second
	}
	if s.contestantGap <= 0 {
		s.contestantGap = 1 * time.Second
	}
	if s.errorCooldown <= 0 {
		s.errorCooldown = 25 * time.Second
	}
	if s.maxCooldown < s.errorCooldown {
		s.maxCooldown = 5 * time.Minute
	}
	return s
}

// Run executes rounds until ctx is cancelled. Round failures never escape:
// they are logged and followed by a cooldown that doubles up to a ceiling,
// resetting after the next successful round.
func (s *Scheduler) Run(ctx context.Context) {
	slog.Info("round table starting",
		"host", s.host.Name, "contestants", len(s.contestants), "room_id", s.roomID)

	for {
		if ctx.Err() != nil {
			slog.Info("round table stopped")
			return
		}

		if err := s.runRound(ctx); err != nil {
			if ctx.Err() != nil {
				slog.Info("round table stopped")
				return
			}
			cooldown := s.nextCooldown()
			slog.Warn("round failed, cooling down", "error", err, "cooldown", cooldown)
			if !sleepCtx(ctx, cooldown) {
				return
			}
			continue
		}

		s.markRoundComplete()

		interval := s.interRoundInterval(ctx)
		slog.Info("round complete, waiting for next round", "interval", interval)
		if !sleepCtx(ctx, interval) {
			return
		}
	}
}

// LastRound returns the completion time of the last successful round.
// Zero until a round has completed; health checks use this as a liveness
// signal.
func (s *Scheduler) LastRound() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRound
}

// runRound performs one full cycle: the host opens a topic, then every
// contestant gets one scored turn.
func (s *Scheduler) runRound(ctx context.Context) error {
	topic, err := s.openTopic(ctx)
	if err != nil {
		return err
	}
	if topic == "" {
		// Host produced nothing; skip straight to the inter-round pause.
		slog.Warn("host produced no topic, skipping round")
		return nil
	}

	for _, contestant := range s.contestants {
		ok := s.runTurn(ctx, contestant, topic)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if ok {
			if !sleepCtx(ctx, s.turnDelay) {
				return ctx.Err()
			}
		}
		if !sleepCtx(ctx, s.contestantGap) {
			return ctx.Err()
		}
	}
	return nil
}

// openTopic asks the host to originate the round's discussion topic and
// persists it as a closed self-referential entry. Returns "" when the host
// produced no message.
func (s *Scheduler) openTopic(ctx context.Context) (string, error) {
	replies, err := s.gateway.SendMessage(ctx, s.host.ID, gateway.Message{
		Text:     openTopicPrompt,
		UserID:   s.host.ID,
		UserName: s.host.Name,
		RoomID:   s.roomID,
	})
	if err != nil {
		return "", fmt.Errorf("open topic: %w", err)
	}
	if len(replies) == 0 {
		return "", nil
	}

	topic := replies[0].Content()
	if topic == "" {
		return "", nil
	}

	if err := s.ledger.RecordTopic(ctx, s.host.ID, topic, s.roomID); err != nil {
		return "", fmt.Errorf("record topic: %w", err)
	}

	slog.Info("host opened discussion", "host", s.host.Name, "topic", topic)
	s.publish(feed.Event{
		Type:      feed.EventTopicOpened,
		AgentID:   s.host.ID,
		AgentName: s.host.Name,
		Content:   topic,
		RoomID:    s.roomID,
	})
	return topic, nil
}

// runTurn runs one contestant's turn and the host's scored reply. Failures
// are logged and the turn is skipped without retry; true means the turn
// completed through the host reply.
func (s *Scheduler) runTurn(ctx context.Context, contestant Agent, topic string) bool {
	replies, err := s.gateway.SendMessage(ctx, contestant.ID, gateway.Message{
		Text:     fmt.Sprintf("[Respond to the host's question: %s]", topic),
		UserID:   contestant.ID,
		UserName: contestant.Name,
		RoomID:   s.roomID,
	})
	if err != nil {
		slog.Warn("contestant turn failed", "contestant", contestant.Name, "error", err)
		return false
	}
	if len(replies) == 0 {
		slog.Warn("contestant produced no message", "contestant", contestant.Name)
		return false
	}

	message := replies[len(replies)-1].Content()
	if _, err := s.ledger.RecordContestantTurn(ctx, contestant.ID, message, s.roomID, topic); err != nil {
		slog.Warn("failed to record contestant turn", "contestant", contestant.Name, "error", err)
		return false
	}
	s.publish(feed.Event{
		Type:      feed.EventTurnRecorded,
		AgentID:   contestant.ID,
		AgentName: contestant.Name,
		Content:   message,
		RoomID:    s.roomID,
	})

	// The host's reply carries the contestant's identity so the gateway can
	// attribute the score to them.
	hostReplies, err := s.gateway.SendMessage(ctx, s.host.ID, gateway.Message{
		Text:     message,
		UserID:   contestant.ID,
		UserName: contestant.Name,
		RoomID:   s.roomID,
	})
	if err != nil {
		slog.Warn("host reply failed, entry left open", "contestant", contestant.Name, "error", err)
		return false
	}
	if len(hostReplies) == 0 {
		slog.Warn("host produced no reply, entry left open", "contestant", contestant.Name)
		return false
	}

	reply := hostReplies[len(hostReplies)-1]
	score := reply.ScoreOrZero()
	if err := s.ledger.RecordHostReply(ctx, contestant.ID, reply.Content(), score, topic); err != nil {
		slog.Warn("failed to record host reply", "contestant", contestant.Name, "error", err)
		return false
	}

	slog.Info("turn scored", "contestant", contestant.Name, "score", score)
	s.publish(feed.Event{
		Type:      feed.EventReplyScored,
		AgentID:   contestant.ID,
		AgentName: contestant.Name,
		Content:   reply.Content(),
		Score:     &score,
		RoomID:    s.roomID,
	})
	return true
}

// ChatResult is the synchronous response of the external-chat entry point.
type ChatResult struct {
	Message string         `json:"message"`
	Score   int            `json:"score"`
	Session domain.Session `json:"sessionInfo"`
}

// HandleExternalChat injects one contestant turn for an outside user,
// bypassing the round cadence, and returns the host's scored reply.
func (s *Scheduler) HandleExternalChat(ctx context.Context, externalUserID, userName, message string) (ChatResult, error) {
	if message == "" || externalUserID == "" {
		return ChatResult{}, fmt.Errorf("%w: message and userId are required", domain.ErrValidation)
	}

	sess, err := s.bridge.GetOrCreate(ctx, externalUserID, userName)
	if err != nil {
		return ChatResult{}, err
	}

	if _, err := s.ledger.RecordContestantTurn(ctx, sess.UserID, message, sess.RoomID, ""); err != nil {
		return ChatResult{}, err
	}

	name := userName
	if name == "" {
		name = "External User"
	}
	replies, err := s.gateway.SendMessage(ctx, s.host.ID, gateway.Message{
		Text:     message,
		UserID:   sess.UserID,
		UserName: name,
		RoomID:   sess.RoomID,
	})
	if err != nil {
		return ChatResult{}, err
	}
	if len(replies) == 0 {
		return ChatResult{}, &domain.GatewayError{Op: "external chat", Err: fmt.Errorf("host produced no reply")}
	}

	reply := replies[len(replies)-1]
	score := reply.ScoreOrZero()
	if err := s.ledger.RecordHostReply(ctx, sess.UserID, reply.Content(), score, ""); err != nil {
		return ChatResult{}, err
	}

	slog.Info("external chat scored", "external_user_id", externalUserID, "score", score)
	s.publish(feed.Event{
		Type:      feed.EventReplyScored,
		AgentID:   sess.UserID,
		AgentName: name,
		Content:   reply.Content(),
		Score:     &score,
		RoomID:    sess.RoomID,
	})

	return ChatResult{Message: reply.Content(), Score: score, Session: sess}, nil
}

// interRoundInterval reads the configured round cadence, falling back to
// the default when no game config has been written.
func (s *Scheduler) interRoundInterval(ctx context.Context) time.Duration {
	cfg, err := s.repo.GetGameConfig(ctx)
	if err != nil {
		slog.Warn("failed to read game config, using default interval", "error", err)
		return s.roundInterval
	}
	if cfg == nil || cfg.RoundInterval <= 0 {
		return s.roundInterval
	}
	return cfg.RoundInterval
}

func (s *Scheduler) markRoundComplete() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastRound = time.Now()
	s.cooldown = 0
}

// nextCooldown doubles the failure cooldown up to the ceiling.
func (s *Scheduler) nextCooldown() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cooldown == 0 {
		s.cooldown = s.errorCooldown
	} else {
		s.cooldown *= 2
		if s.cooldown > s.maxCooldown {
			s.cooldown = s.maxCooldown
		}
	}
	return s.cooldown
}

func (s *Scheduler) publish(event feed.Event) {
	if s.hub == nil {
		return
	}
	s.hub.Publish(event)
}

// sleepCtx sleeps for d unless ctx is cancelled first. Returns false when
// the context ended.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}
