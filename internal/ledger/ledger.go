// Package ledger implements append and score-accumulation logic over the
// conversation store.
package ledger

import (
	"context"
	"log/slog"
	"time"

	"github.com/storyprotocol/eliza/internal/domain"
	"github.com/storyprotocol/eliza/internal/store"
)

// Ledger records contestant turns and host replies and exposes the
// transcript query surface.
type Ledger struct {
	repo store.Repository
}

// New creates a ledger over the given repository.
func New(repo store.Repository) *Ledger {
	return &Ledger{repo: repo}
}

// RecordContestantTurn inserts a new open conversation entry and returns
// its id. A still-open prior entry for the same identity is left untouched;
// the new turn is a distinct row.
func (l *Ledger) RecordContestantTurn(ctx context.Context, agentID, message, roomID, topic string) (int64, error) {
	entry := &domain.ConversationEntry{
		AgentID:               agentID,
		ContestantMessage:     message,
		ContestantMessageTime: time.Now(),
		RoomID:                roomID,
	}
	if topic != "" {
		entry.Topic = &topic
	}

	id, err := l.repo.InsertEntry(ctx, entry)
	if err != nil {
		return 0, &domain.PersistenceError{Op: "record contestant turn", Err: err}
	}
	return id, nil
}

// RecordHostReply accumulates the score for agentID and closes its most
// recent open entry with the host's reply.
//
// The score upsert applies even when no open entry matches: the reply is
// then absent from the transcript while still counting toward the total.
// That asymmetry is deliberate, carried over from the system this replaces,
// and is surfaced as a warning so ordering bugs in callers stay visible.
func (l *Ledger) RecordHostReply(ctx context.Context, agentID, reply string, score int, topic string) error {
	if err := l.repo.AddScore(ctx, agentID, score); err != nil {
		return &domain.PersistenceError{Op: "accumulate score", Err: err}
	}

	matched, err := l.repo.CloseLatestOpenEntry(ctx, agentID, reply, score, topic)
	if err != nil {
		return &domain.PersistenceError{Op: "close open entry", Err: err}
	}
	if !matched {
		slog.Warn("host reply had no open entry; score recorded without transcript line",
			"agent_id", agentID, "score", score)
	}
	return nil
}

// RecordTopic persists the host's round-framing topic as a self-referential
// entry, closed immediately with score zero so it appears in transcripts.
func (l *Ledger) RecordTopic(ctx context.Context, hostID, topic, roomID string) error {
	now := time.Now()
	zero := 0
	entry := &domain.ConversationEntry{
		AgentID:               hostID,
		ContestantMessage:     topic,
		ContestantMessageTime: now,
		HostResponse:          &topic,
		HostResponseTime:      &now,
		InteractionScore:      &zero,
		RoomID:                roomID,
		Topic:                 &topic,
	}
	if _, err := l.repo.InsertClosedEntry(ctx, entry); err != nil {
		return &domain.PersistenceError{Op: "record topic", Err: err}
	}
	return nil
}

// Transcripts returns per-identity scores and interleaved transcripts for
// the window.
func (l *Ledger) Transcripts(ctx context.Context, since, until time.Time, nameFilter string) ([]domain.AgentTranscript, error) {
	transcripts, err := l.repo.Transcripts(ctx, since, until, nameFilter)
	if err != nil {
		return nil, &domain.PersistenceError{Op: "query transcripts", Err: err}
	}
	return transcripts, nil
}
