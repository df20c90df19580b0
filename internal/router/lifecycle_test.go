package router

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"switchboard/internal/session"
)

// flakyStore wraps a real store and fails selected operations.
type flakyStore struct {
	session.Store
	failSetState bool
	failCreate   bool
}

func (s *flakyStore) Create(ctx context.Context, req session.CreateRequest) (*session.Conversation, error) {
	if s.failCreate {
		return nil, errors.New("disk full")
	}
	return s.Store.Create(ctx, req)
}

func (s *flakyStore) SetState(ctx context.Context, id string, state session.State) error {
	if s.failSetState {
		return errors.New("disk full")
	}
	return s.Store.SetState(ctx, id, state)
}

func seedSession(store *session.MemoryStore, id, parentID string) *session.Conversation {
	conv := &session.Conversation{
		ID:              id,
		ParentSessionID: parentID,
		ModelMaxTokens:  100000,
		State:           session.StateActive,
	}
	store.Seed(conv)
	return conv
}

func TestApplyContinueAndPromptUserDoNotTransition(t *testing.T) {
	store := session.NewMemoryStore()
	conv := seedSession(store, "c1", "")
	lc := NewLifecycle(store)

	for _, decision := range []Decision{DecisionContinue, DecisionPromptUser} {
		id, err := lc.Apply(context.Background(), RouteResult{Decision: decision}, conv)
		require.NoError(t, err)
		assert.Equal(t, "c1", id)

		stored, err := store.Get(context.Background(), "c1")
		require.NoError(t, err)
		assert.Equal(t, session.StateActive, stored.State)
	}
}

func TestApplyNewSessionArchivesParent(t *testing.T) {
	store := session.NewMemoryStore()
	conv := seedSession(store, "c1", "")
	lc := NewLifecycle(store)

	result := RouteResult{
		Decision:         DecisionNewSession,
		Reason:           "context emergency",
		SummaryCarryOver: "we were discussing error wrapping",
	}
	childID, err := lc.Apply(context.Background(), result, conv)
	require.NoError(t, err)
	require.NotEqual(t, "c1", childID)

	parent, err := store.Get(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, session.StateArchived, parent.State)
	// Messages never travel across the link.
	assert.Empty(t, parent.ParentSessionID)

	child, err := store.Get(context.Background(), childID)
	require.NoError(t, err)
	assert.Equal(t, session.StateActive, child.State)
	assert.Equal(t, "c1", child.ParentSessionID)
	require.Len(t, child.Messages, 1)
	assert.Equal(t, "system", child.Messages[0].Role)
	assert.Equal(t, "we were discussing error wrapping", child.Messages[0].Content)
}

func TestApplyForkPausesParent(t *testing.T) {
	store := session.NewMemoryStore()
	conv := seedSession(store, "c1", "")
	lc := NewLifecycle(store)

	result := RouteResult{Decision: DecisionFork, Reason: "fork intent: branch off"}
	childID, err := lc.Apply(context.Background(), result, conv)
	require.NoError(t, err)

	parent, err := store.Get(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, session.StatePaused, parent.State)

	child, err := store.Get(context.Background(), childID)
	require.NoError(t, err)
	assert.Equal(t, "c1", child.ParentSessionID)
}

func TestApplyRetryIsIdempotent(t *testing.T) {
	store := session.NewMemoryStore()
	conv := seedSession(store, "c1", "")
	lc := NewLifecycle(store, WithLifecycleClock(func() time.Time {
		return time.Date(2026, 3, 10, 15, 0, 30, 0, time.UTC)
	}))

	result := RouteResult{Decision: DecisionNewSession, Reason: "context emergency"}

	first, err := lc.Apply(context.Background(), result, conv)
	require.NoError(t, err)
	second, err := lc.Apply(context.Background(), result, conv)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	ids, err := store.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, ids, 2) // parent plus exactly one child
}

func TestApplyDifferentMinuteBucketCreatesNewChild(t *testing.T) {
	store := session.NewMemoryStore()
	conv := seedSession(store, "c1", "")

	now := time.Date(2026, 3, 10, 15, 0, 30, 0, time.UTC)
	lc := NewLifecycle(store, WithLifecycleClock(func() time.Time { return now }))
	result := RouteResult{Decision: DecisionNewSession, Reason: "context emergency"}

	first, err := lc.Apply(context.Background(), result, conv)
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	second, err := lc.Apply(context.Background(), result, conv)
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
}

func TestApplyCreateFailureKeepsDecision(t *testing.T) {
	store := session.NewMemoryStore()
	conv := seedSession(store, "c1", "")
	lc := NewLifecycle(&flakyStore{Store: store, failCreate: true})

	id, err := lc.Apply(context.Background(), RouteResult{Decision: DecisionNewSession, Reason: "x"}, conv)
	require.ErrorIs(t, err, ErrStoreFailure)
	assert.Equal(t, "c1", id)
}

func TestApplyArchiveFailureStillReturnsChild(t *testing.T) {
	store := session.NewMemoryStore()
	conv := seedSession(store, "c1", "")
	lc := NewLifecycle(&flakyStore{Store: store, failSetState: true})

	id, err := lc.Apply(context.Background(), RouteResult{Decision: DecisionNewSession, Reason: "x"}, conv)
	require.ErrorIs(t, err, ErrStoreFailure)
	assert.NotEqual(t, "c1", id)

	child, getErr := store.Get(context.Background(), id)
	require.NoError(t, getErr)
	assert.Equal(t, "c1", child.ParentSessionID)
}

func TestApplyForkRefusesCyclicAncestry(t *testing.T) {
	store := session.NewMemoryStore()
	seedSession(store, "a", "b")
	seedSession(store, "b", "a")
	conv, err := store.Get(context.Background(), "a")
	require.NoError(t, err)

	lc := NewLifecycle(store)
	_, err = lc.Apply(context.Background(), RouteResult{Decision: DecisionFork, Reason: "x"}, conv)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cyclic")
}

func TestApplyForkToleratesDanglingParent(t *testing.T) {
	store := session.NewMemoryStore()
	conv := seedSession(store, "c1", "long-gone")
	lc := NewLifecycle(store)

	childID, err := lc.Apply(context.Background(), RouteResult{Decision: DecisionFork, Reason: "x"}, conv)
	require.NoError(t, err)
	assert.NotEqual(t, "c1", childID)
}

func TestIdempotencyKeyNormalizesReason(t *testing.T) {
	lc := NewLifecycle(session.NewMemoryStore(), WithLifecycleClock(func() time.Time {
		return time.Date(2026, 3, 10, 15, 0, 30, 0, time.UTC)
	}))

	a := lc.idempotencyKey("c1", "Context  Emergency")
	b := lc.idempotencyKey("c1", "context emergency")
	assert.Equal(t, a, b)
}
