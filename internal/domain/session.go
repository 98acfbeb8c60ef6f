package domain

import (
	"time"
)

// Session binds an external user identifier to a stable internal identity
// and a conversation room. Identity and room are immutable for the lifetime
// of the session; only LastInteraction is refreshed on reuse.
type Session struct {
	UserID          string    `json:"user_id"`
	RoomID          string    `json:"room_id"`
	OriginalUserID  string    `json:"original_user_id"`
	LastInteraction time.Time `json:"-"`
}
