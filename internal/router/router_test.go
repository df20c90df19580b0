package router

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"switchboard/internal/audit"
	"switchboard/internal/config"
	"switchboard/internal/session"
)

func newTestRouter(t *testing.T, store session.Store, opts ...RouterOption) *Router {
	t.Helper()
	opts = append([]RouterOption{
		WithStrategy(NewRuleEngine(WithClock(fixedClock), WithScorer(fixedScore(0.8)))),
	}, opts...)
	r, err := NewRouter(config.Default(), store, opts...)
	require.NoError(t, err)
	return r
}

func seedNominal(store *session.MemoryStore) *session.Conversation {
	conv := nominalConversation()
	store.Seed(conv)
	return conv
}

func TestNewRouterRejectsInvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.ContextCriticalPct = 1.5

	_, err := NewRouter(cfg, session.NewMemoryStore())
	require.Error(t, err)
	var cfgErr *config.ConfigError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestRouteContinue(t *testing.T) {
	store := session.NewMemoryStore()
	conv := seedNominal(store)
	r := newTestRouter(t, store)

	resp, err := r.Route(context.Background(), RouteRequest{
		ConversationID: conv.ID,
		Message:        "and what about errors.Join?",
	})
	require.NoError(t, err)
	assert.Equal(t, DecisionContinue, resp.Decision)
	assert.Equal(t, conv.ID, resp.SessionID)
}

func TestRouteRequiresConversationID(t *testing.T) {
	r := newTestRouter(t, session.NewMemoryStore())
	_, err := r.Route(context.Background(), RouteRequest{Message: "hello"})
	require.Error(t, err)
}

func TestRouteUnknownConversation(t *testing.T) {
	r := newTestRouter(t, session.NewMemoryStore())
	_, err := r.Route(context.Background(), RouteRequest{ConversationID: "nope", Message: "hello"})
	require.ErrorIs(t, err, session.ErrNotFound)
}

func TestRouteExplicitIntentTransitions(t *testing.T) {
	store := session.NewMemoryStore()
	conv := seedNominal(store)
	r := newTestRouter(t, store)

	resp, err := r.Route(context.Background(), RouteRequest{
		ConversationID: conv.ID,
		Message:        "let's start a new chat about deployments",
	})
	require.NoError(t, err)
	assert.Equal(t, DecisionNewSession, resp.Decision)
	require.NotEqual(t, conv.ID, resp.SessionID)

	parent, err := store.Get(context.Background(), conv.ID)
	require.NoError(t, err)
	assert.Equal(t, session.StateArchived, parent.State)

	child, err := store.Get(context.Background(), resp.SessionID)
	require.NoError(t, err)
	assert.Equal(t, conv.ID, child.ParentSessionID)
}

func TestRouteInvalidOverridesAreDropped(t *testing.T) {
	store := session.NewMemoryStore()
	conv := seedNominal(store)
	r := newTestRouter(t, store)

	bad := 2.0
	resp, err := r.Route(context.Background(), RouteRequest{
		ConversationID: conv.ID,
		Message:        "still on topic",
		Overrides:      &config.Overrides{SemanticLowThreshold: &bad},
	})
	require.NoError(t, err)
	assert.Equal(t, DecisionContinue, resp.Decision)
	assert.Contains(t, resp.Degraded, "config_override")
}

func TestRouteValidOverridesApply(t *testing.T) {
	store := session.NewMemoryStore()
	conv := seedNominal(store)
	// A high low-threshold makes the 0.8 score look unrelated.
	r := newTestRouter(t, store)

	low := 0.85
	high := 0.9
	resp, err := r.Route(context.Background(), RouteRequest{
		ConversationID: conv.ID,
		Message:        "still on topic",
		Overrides: &config.Overrides{
			SemanticLowThreshold:  &low,
			SemanticHighThreshold: &high,
		},
	})
	require.NoError(t, err)
	assert.Equal(t, DecisionPromptUser, resp.Decision)
	assert.Equal(t, "low semantic similarity", resp.Reason)
}

func TestRouteStoreFailureKeepsDecision(t *testing.T) {
	store := session.NewMemoryStore()
	conv := seedNominal(store)
	r := newTestRouter(t, &flakyStore{Store: store, failSetState: true})

	resp, err := r.Route(context.Background(), RouteRequest{
		ConversationID: conv.ID,
		Message:        "let's start a new chat about deployments",
	})
	require.ErrorIs(t, err, ErrStoreFailure)
	assert.Equal(t, DecisionNewSession, resp.Decision)
	assert.NotEmpty(t, resp.SessionID)
	assert.Contains(t, resp.Degraded, "session_store")
}

func TestConfirmAccept(t *testing.T) {
	store := session.NewMemoryStore()
	conv := seedNominal(store)
	r := newTestRouter(t, store)

	resp, err := r.Confirm(context.Background(), ConfirmRequest{
		ConversationID:   conv.ID,
		AcceptNewSession: true,
	})
	require.NoError(t, err)
	assert.Equal(t, DecisionNewSession, resp.Decision)
	assert.Equal(t, 1.0, resp.Confidence)
	assert.NotEqual(t, conv.ID, resp.SessionID)
	assert.NotEmpty(t, resp.SummaryCarryOver)

	parent, err := store.Get(context.Background(), conv.ID)
	require.NoError(t, err)
	assert.Equal(t, session.StateArchived, parent.State)
}

func TestConfirmDecline(t *testing.T) {
	store := session.NewMemoryStore()
	conv := seedNominal(store)
	r := newTestRouter(t, store)

	resp, err := r.Confirm(context.Background(), ConfirmRequest{ConversationID: conv.ID})
	require.NoError(t, err)
	assert.Equal(t, DecisionContinue, resp.Decision)
	assert.Equal(t, conv.ID, resp.SessionID)

	current, err := store.Get(context.Background(), conv.ID)
	require.NoError(t, err)
	assert.Equal(t, session.StateActive, current.State)
}

func TestRouteWritesDecisionLog(t *testing.T) {
	store := session.NewMemoryStore()
	conv := seedNominal(store)

	logPath := filepath.Join(t.TempDir(), "decisions.jsonl")
	r := newTestRouter(t, store, WithRecorder(audit.NewRecorder(logPath)))

	_, err := r.Route(context.Background(), RouteRequest{
		ConversationID: conv.ID,
		Message:        "and what about errors.Join?",
	})
	require.NoError(t, err)

	var rec audit.Record
	require.Eventually(t, func() bool {
		data, readErr := os.ReadFile(logPath)
		if readErr != nil || len(data) == 0 {
			return false
		}
		line := strings.TrimSpace(string(data))
		return json.Unmarshal([]byte(line), &rec) == nil
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, conv.ID, rec.ConversationID)
	assert.Equal(t, string(DecisionContinue), rec.Decision)
	assert.False(t, rec.UserOverride)
	assert.NotEmpty(t, rec.MessagePreview)
}

func TestConfirmIsAuditedAsOverride(t *testing.T) {
	store := session.NewMemoryStore()
	conv := seedNominal(store)

	logPath := filepath.Join(t.TempDir(), "decisions.jsonl")
	r := newTestRouter(t, store, WithRecorder(audit.NewRecorder(logPath)))

	_, err := r.Confirm(context.Background(), ConfirmRequest{ConversationID: conv.ID})
	require.NoError(t, err)

	var rec audit.Record
	require.Eventually(t, func() bool {
		data, readErr := os.ReadFile(logPath)
		if readErr != nil || len(data) == 0 {
			return false
		}
		line := strings.TrimSpace(string(data))
		return json.Unmarshal([]byte(line), &rec) == nil
	}, 2*time.Second, 10*time.Millisecond)

	assert.True(t, rec.UserOverride)
}

func TestStartSession(t *testing.T) {
	store := session.NewMemoryStore()
	r := newTestRouter(t, store)

	conv, err := r.StartSession(context.Background(), 128000)
	require.NoError(t, err)
	assert.Equal(t, session.StateActive, conv.State)
	assert.Equal(t, 128000, conv.ModelMaxTokens)
	assert.Empty(t, conv.ParentSessionID)
}
