package session

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"switchboard/internal/logging"
)

// FileStore persists one JSON document per session under a base directory.
type FileStore struct {
	baseDir string
	logger  logging.Logger

	mu sync.Mutex // serializes creates and read-mutate-write updates
}

// NewFileStore opens (creating if needed) a session directory.
func NewFileStore(baseDir string) *FileStore {
	if strings.HasPrefix(baseDir, "~/") {
		home, _ := os.UserHomeDir()
		baseDir = filepath.Join(home, baseDir[2:])
	}
	_ = os.MkdirAll(baseDir, 0755) // Ignore error - directory may already exist
	return &FileStore{
		baseDir: baseDir,
		logger:  logging.NewComponentLogger("SessionFileStore"),
	}
}

func (s *FileStore) path(id string) string {
	return filepath.Join(s.baseDir, fmt.Sprintf("%s.json", id))
}

// Create creates a new active session. A retried Create carrying an already
// seen idempotency key returns the session created the first time.
func (s *FileStore) Create(ctx context.Context, req CreateRequest) (*Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if req.IdempotencyKey != "" {
		if existing, err := s.findByIdempotencyKey(ctx, req.IdempotencyKey); err == nil && existing != nil {
			return existing, nil
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
		conv.Messages = append(conv.Messages, Message{
			Role:      "system",
			Content:   req.CarryOver,
			Timestamp: now,
		})
		conv.Summary = req.CarryOver
	}

	data, err := json.MarshalIndent(conv, "", "  ")
	if err != nil {
		return nil, err
	}

	// Create file exclusively (fail if exists)
	f, err := os.OpenFile(s.path(conv.ID), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to create session file: %w", err)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("failed to close session file: %w", closeErr)
		}
	}()

	if _, err := f.Write(data); err != nil {
		return nil, fmt.Errorf("failed to write session: %w", err)
	}
	return conv, nil
}

// Get retrieves a session by ID.
func (s *FileStore) Get(ctx context.Context, id string) (*Conversation, error) {
	data, err := os.ReadFile(s.path(id))
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	var conv Conversation
	if err := json.Unmarshal(data, &conv); err != nil {
		s.logger.Error("Failed to decode session file %s: %v", s.path(id), err)
		return nil, fmt.Errorf("failed to decode session %s: %w", id, err)
	}
	return &conv, nil
}

// SetState transitions a session's lifecycle state.
func (s *FileStore) SetState(ctx context.Context, id string, state State) error {
	if !state.Valid() {
		return fmt.Errorf("invalid session state %q", state)
	}
	return s.update(ctx, id, func(conv *Conversation) {
		conv.State = state
	})
}

// AppendMessage adds a message to a session transcript.
func (s *FileStore) AppendMessage(ctx context.Context, id string, msg Message) error {
	return s.update(ctx, id, func(conv *Conversation) {
		conv.Messages = append(conv.Messages, msg)
	})
}

// SetSummary replaces the session's rolling summary.
func (s *FileStore) SetSummary(ctx context.Context, id string, summary string) error {
	return s.update(ctx, id, func(conv *Conversation) {
		conv.Summary = summary
	})
}

// List returns all session IDs.
func (s *FileStore) List(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".json") {
			ids = append(ids, strings.TrimSuffix(entry.Name(), ".json"))
		}
	}
	return ids, nil
}

func (s *FileStore) update(ctx context.Context, id string, mutate func(*Conversation)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	mutate(conv)
	conv.UpdatedAt = time.Now()
	data, err := json.MarshalIndent(conv, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path(id), data, 0644)
}

func (s *FileStore) findByIdempotencyKey(ctx context.Context, key string) (*Conversation, error) {
	ids, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		conv, err := s.Get(ctx, id)
		if err != nil {
			s.logger.Warn("Skipping unreadable session %s during idempotency scan: %v", id, err)
			continue
		}
		if conv.IdempotencyKey == key {
			return conv, nil
		}
	}
	return nil, nil
}
