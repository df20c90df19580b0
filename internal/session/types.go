// Package session defines conversation snapshots and the session store
// contract the routing engine operates against. The engine itself never
// mutates a snapshot; all writes go through the Store.
package session

import (
	"strings"
	"time"
)

// State is the lifecycle state of a session.
type State string

const (
	// StateActive is the state of a session currently receiving messages.
	StateActive State = "active"
	// StatePaused marks a fork parent: suspended but resumable.
	StatePaused State = "paused"
	// StateArchived marks a session superseded by a new one.
	StateArchived State = "archived"
)

// Valid reports whether s is one of the three lifecycle states.
func (s State) Valid() bool {
	switch s {
	case StateActive, StatePaused, StateArchived:
		return true
	}
	return false
}

// Message is a single transcript entry. Immutable once appended; ordering
// follows monotonically increasing timestamps.
type Message struct {
	Role          string    `json:"role"`
	Content       string    `json:"content"`
	Timestamp     time.Time `json:"timestamp"`
	TokenEstimate int       `json:"token_estimate,omitempty"`
}

// IsUser reports whether the message came from the human side.
func (m Message) IsUser() bool {
	return strings.EqualFold(strings.TrimSpace(m.Role), "user")
}

// IsAssistant reports whether the message is an AI output.
func (m Message) IsAssistant() bool {
	return strings.EqualFold(strings.TrimSpace(m.Role), "assistant")
}

// Conversation is the read-only snapshot a routing call receives, and also
// the record shape the stores persist. ParentSessionID is a weak
// back-reference: messages are never copied across the link, only summary
// text travels.
type Conversation struct {
	ID              string    `json:"id"`
	Messages        []Message `json:"messages"`
	ModelMaxTokens  int       `json:"model_max_tokens"`
	ParentSessionID string    `json:"parent_session_id,omitempty"`
	Summary         string    `json:"summary,omitempty"`
	State           State     `json:"state"`
	IdempotencyKey  string    `json:"idempotency_key,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// LastMessage returns the newest message, or a zero Message for an empty
// transcript.
func (c *Conversation) LastMessage() (Message, bool) {
	if len(c.Messages) == 0 {
		return Message{}, false
	}
	return c.Messages[len(c.Messages)-1], true
}

// Recent returns up to n trailing messages without copying content.
func (c *Conversation) Recent(n int) []Message {
	if n <= 0 || len(c.Messages) == 0 {
		return nil
	}
	if n >= len(c.Messages) {
		return c.Messages
	}
	return c.Messages[len(c.Messages)-n:]
}
