package session

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a session id has no record.
var ErrNotFound = errors.New("session not found")

// CreateRequest describes the child session a lifecycle transition needs.
type CreateRequest struct {
	// ParentID is the weak back-reference to the session this one supersedes
	// or forks from. Empty for root sessions.
	ParentID string
	// CarryOver, when non-empty, becomes the first system message of the new
	// session.
	CarryOver string
	// ModelMaxTokens is inherited from the parent conversation.
	ModelMaxTokens int
	// IdempotencyKey dedupes retried creations: a second Create with the same
	// key returns the already-created session instead of a new one.
	IdempotencyKey string
}

// Store persists sessions. Implementations must honour the idempotency key on
// Create, since session creation is the only mutating step of a routing call.
type Store interface {
	// Create creates a new active session.
	Create(ctx context.Context, req CreateRequest) (*Conversation, error)

	// Get retrieves a session snapshot by ID.
	Get(ctx context.Context, id string) (*Conversation, error)

	// SetState transitions a session's lifecycle state.
	SetState(ctx context.Context, id string, state State) error

	// AppendMessage adds a message to a session transcript.
	AppendMessage(ctx context.Context, id string, msg Message) error

	// SetSummary replaces a session's rolling summary.
	SetSummary(ctx context.Context, id string, summary string) error

	// List returns all session IDs.
	List(ctx context.Context) ([]string, error)
}
