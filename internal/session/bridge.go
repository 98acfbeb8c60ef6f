// Package session maps external user identifiers to stable internal
// identities and conversation rooms.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/storyprotocol/eliza/internal/domain"
	"github.com/storyprotocol/eliza/internal/store"
)

// Bridge resolves external user ids to sessions. Sessions live in memory
// for the lifetime of the process; the backing account row is durable.
type Bridge struct {
	repo store.Repository

	mu       sync.Mutex
	sessions map[string]*domain.Session

	now func() time.Time
}

// NewBridge creates a session bridge backed by the given repository.
func NewBridge(repo store.Repository) *Bridge {
	return &Bridge{
		repo:     repo,
		sessions: make(map[string]*domain.Session),
		now:      time.Now,
	}
}

// GetOrCreate returns the session for externalUserID, creating it on first
// use. Identity and room ids are immutable once assigned; repeated calls
// only refresh the last-interaction timestamp. The session is cached only
// after the account upsert succeeds.
func (b *Bridge) GetOrCreate(ctx context.Context, externalUserID, userName string) (domain.Session, error) {
	if externalUserID == "" {
		return domain.Session{}, fmt.Errorf("%w: user id is required", domain.ErrValidation)
	}

	b.mu.Lock()
	if existing, ok := b.sessions[externalUserID]; ok {
		existing.LastInteraction = b.now()
		s := *existing
		b.mu.Unlock()
		slog.Debug("reusing session", "external_user_id", externalUserID, "user_id", s.UserID, "room_id", s.RoomID)
		return s, nil
	}
	b.mu.Unlock()

	// Derivation is salted with creation time so restarted processes never
	// collide with rows written by an earlier incarnation.
	now := b.now()
	userID := uuid.NewSHA1(uuid.NameSpaceDNS, []byte(fmt.Sprintf("user-%s-%d", externalUserID, now.UnixNano()))).String()
	roomID := uuid.NewSHA1(uuid.NameSpaceDNS, []byte(fmt.Sprintf("room-%s-%d", userID, now.UnixNano()))).String()

	name := userName
	if name == "" {
		name = externalUserID
	}
	account := &domain.Identity{
		ID:       userID,
		Name:     name,
		Username: externalUserID,
		Email:    fmt.Sprintf("%s@example.com", externalUserID),
	}
	if err := b.repo.UpsertAccount(ctx, account); err != nil {
		return domain.Session{}, &domain.PersistenceError{Op: "upsert session account", Err: err}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	// A concurrent caller may have won the race while we were writing the
	// account row; the first cached session wins so ids stay stable.
	if existing, ok := b.sessions[externalUserID]; ok {
		existing.LastInteraction = b.now()
		return *existing, nil
	}

	created := &domain.Session{
		UserID:          userID,
		RoomID:          roomID,
		OriginalUserID:  externalUserID,
		LastInteraction: now,
	}
	b.sessions[externalUserID] = created

	slog.Info("session created", "external_user_id", externalUserID, "user_id", userID, "room_id", roomID)
	return *created, nil
}

// Count returns the number of live sessions.
func (b *Bridge) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.sessions)
}
