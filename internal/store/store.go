// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/storyprotocol/eliza/internal/domain"
)

// Repository defines the interface for the durable game ledger.
type Repository interface {
	// UpsertAccount creates or refreshes an identity record.
	UpsertAccount(ctx context.Context, account *domain.Identity) error

	// GetAccount retrieves an identity by id. Returns nil when absent.
	GetAccount(ctx context.Context, agentID string) (*domain.Identity, error)

	// InsertEntry inserts a new open conversation entry and returns its id.
	InsertEntry(ctx context.Context, entry *domain.ConversationEntry) (int64, error)

	// InsertClosedEntry inserts an entry that is opened and closed in one
	// statement. Used for the host's round-framing topic rows.
	InsertClosedEntry(ctx context.Context, entry *domain.ConversationEntry) (int64, error)

	// AddScore additively upserts the running score for an identity.
	// Repeated calls accumulate; they never overwrite.
	AddScore(ctx context.Context, agentID string, delta int) error

	// CloseLatestOpenEntry writes the host reply, reply time and score onto
	// the most recent open entry for agentID in a single conditional update.
	// The topic is backfilled only where the entry's topic was unset.
	// Returns false when no open entry matched.
	CloseLatestOpenEntry(ctx context.Context, agentID, reply string, score int, topic string) (bool, error)

	// OpenEntry returns the most recent open entry for agentID, or nil.
	OpenEntry(ctx context.Context, agentID string) (*domain.ConversationEntry, error)

	// Transcripts returns, per identity with recorded scores, the cumulative
	// score and the chronologically interleaved transcript within the window.
	Transcripts(ctx context.Context, since, until time.Time, nameFilter string) ([]domain.AgentTranscript, error)

	// Standings returns all identities with recorded scores, highest first.
	Standings(ctx context.Context) ([]domain.Standing, error)

	// TopContestant returns the highest-scoring identity excluding the host.
	// Returns domain.ErrNotFound when no contestant has a score.
	TopContestant(ctx context.Context, hostID string) (*domain.Standing, error)

	// UpsertGameConfig writes the singleton pacing record.
	UpsertGameConfig(ctx context.Context, cfg *domain.GameConfig) error

	// GetGameConfig reads the singleton pacing record. Returns nil when unset.
	GetGameConfig(ctx context.Context) (*domain.GameConfig, error)

	// SaveGameEndState persists the registration-protocol saga cursor.
	SaveGameEndState(ctx context.Context, state *domain.GameEndState) error

	// GetGameEndState reads the persisted saga cursor. Returns nil when unset.
	GetGameEndState(ctx context.Context) (*domain.GameEndState, error)

	// ClearGameEndState removes the saga cursor after a completed protocol.
	ClearGameEndState(ctx context.Context) error

	// SaveDerivedIdentity persists the minted identity record.
	SaveDerivedIdentity(ctx context.Context, derived *domain.DerivedIdentity) error

	// ResetGame truncates all conversation, score, account and saga state.
	// Irreversible.
	ResetGame(ctx context.Context) error

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
