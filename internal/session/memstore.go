package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Store used by tests and by hosts that supply
// their own persistence behind the routing boundary.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Conversation
	byKey    map[string]string // idempotency key -> session id
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*Conversation),
		byKey:    make(map[string]string),
	}
}

// Seed inserts a conversation verbatim, for test setup and imports.
func (s *MemoryStore) Seed(conv *Conversation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := cloneConversation(conv)
	if cp.State == "" {
		cp.State = StateActive
	}
	s.sessions[cp.ID] = cp
	if cp.IdempotencyKey != "" {
		s.byKey[cp.IdempotencyKey] = cp.ID
	}
}

// Create creates a new active session, deduping on the idempotency key.
func (s *MemoryStore) Create(ctx context.Context, req CreateRequest) (*Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if req.IdempotencyKey != "" {
		if id, ok := s.byKey[req.IdempotencyKey]; ok {
			return cloneConversation(s.sessions[id]), nil
		}
	}

	now := time.Now()
	conv := &Conversation{
		ID:              uuid.NewString(),
		Messages:        []Message{},
		ModelMaxTokens:  req.ModelMaxTokens,
		ParentSessionID: req.ParentID,
		State:           StateActive,
		IdempotencyKey:  req.IdempotencyKey,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if req.CarryOver != "" {
		conv.Messages = append(conv.Messages, Message{Role: "system", Content: req.CarryOver, Timestamp: now})
		conv.Summary = req.CarryOver
	}
	s.sessions[conv.ID] = conv
	if req.IdempotencyKey != "" {
		s.byKey[req.IdempotencyKey] = conv.ID
	}
	return cloneConversation(conv), nil
}

// Get retrieves a session snapshot by ID.
func (s *MemoryStore) Get(ctx context.Context, id string) (*Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return cloneConversation(conv), nil
}

// SetState transitions a session's lifecycle state.
func (s *MemoryStore) SetState(ctx context.Context, id string, state State) error {
	if !state.Valid() {
		return fmt.Errorf("invalid session state %q", state)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.sessions[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	conv.State = state
	conv.UpdatedAt = time.Now()
	return nil
}

// AppendMessage adds a message to a session transcript.
func (s *MemoryStore) AppendMessage(ctx context.Context, id string, msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.sessions[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	conv.Messages = append(conv.Messages, msg)
	conv.UpdatedAt = time.Now()
	return nil
}

// SetSummary replaces the session's rolling summary.
func (s *MemoryStore) SetSummary(ctx context.Context, id string, summary string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.sessions[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	conv.Summary = summary
	conv.UpdatedAt = time.Now()
	return nil
}

// List returns all session IDs.
func (s *MemoryStore) List(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	return ids, nil
}

func cloneConversation(conv *Conversation) *Conversation {
	if conv == nil {
		return nil
	}
	cp := *conv
	cp.Messages = append([]Message(nil), conv.Messages...)
	return &cp
}
