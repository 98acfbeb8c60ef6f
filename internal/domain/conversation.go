package domain

import (
	"time"
)

// ConversationEntry is one exchange between a contestant and the host.
// An entry is "open" until the host's reply and score have been written.
type ConversationEntry struct {
	ID                    int64
	AgentID               string
	ContestantMessage     string
	ContestantMessageTime time.Time
	HostResponse          *string
	HostResponseTime      *time.Time
	InteractionScore      *int
	RoomID                string
	Topic                 *string
}

// Open reports whether the entry is still awaiting the host's reply.
func (e *ConversationEntry) Open() bool {
	return e.HostResponse == nil
}

// TranscriptMessage is one line of an interleaved transcript.
type TranscriptMessage struct {
	Name      string    `json:"name"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// AgentTranscript groups one identity's cumulative score, profile and
// chronologically ordered transcript.
type AgentTranscript struct {
	AgentID  string              `json:"-"`
	Name     string              `json:"name"`
	Score    int                 `json:"score"`
	Profile  Profile             `json:"profile"`
	Messages []TranscriptMessage `json:"messages"`
	Topics   []string            `json:"topics,omitempty"`
}

// Profile is the public-facing description of a contestant.
type Profile struct {
	Name        string `json:"name"`
	PictureURL  string `json:"picture_url"`
	Description string `json:"description"`
}
