package router

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"switchboard/internal/logging"
	"switchboard/internal/session"
)

// ErrStoreFailure marks a secondary lifecycle failure: the routing decision
// stands, but the store could not complete the transition. Callers surface a
// user-visible fallback instead of losing the message.
var ErrStoreFailure = errors.New("session store failure")

const (
	// idempotencyBucket groups retries of the same decision into one
	// creation: a retry within the bucket returns the session the first
	// attempt created.
	idempotencyBucket = time.Minute
	maxAncestryDepth  = 100
)

// Lifecycle performs the state transition a routing decision requires,
// exactly once per decision.
type Lifecycle struct {
	store  session.Store
	logger logging.Logger
	now    func() time.Time
}

// LifecycleOption customizes a Lifecycle manager.
type LifecycleOption func(*Lifecycle)

// WithLifecycleClock overrides the idempotency-bucket time source.
func WithLifecycleClock(now func() time.Time) LifecycleOption {
	return func(l *Lifecycle) { l.now = now }
}

// WithLifecycleLogger sets the log sink.
func WithLifecycleLogger(logger logging.Logger) LifecycleOption {
	return func(l *Lifecycle) { l.logger = logger }
}

// NewLifecycle builds a lifecycle manager over the abstract store.
func NewLifecycle(store session.Store, opts ...LifecycleOption) *Lifecycle {
	l := &Lifecycle{
		store:  store,
		logger: logging.NewComponentLogger("Lifecycle"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Apply executes the transition for result against conv and returns the id
// of the session the conversation should continue under. Continue and
// PromptUser never transition state. On store failure the returned id falls
// back to the current session and the error wraps ErrStoreFailure.
func (l *Lifecycle) Apply(ctx context.Context, result RouteResult, conv *session.Conversation) (string, error) {
	switch result.Decision {
	case DecisionContinue, DecisionPromptUser:
		return conv.ID, nil
	case DecisionNewSession:
		return l.newSession(ctx, result, conv)
	case DecisionFork:
		return l.fork(ctx, result, conv)
	default:
		return conv.ID, fmt.Errorf("unknown decision %q", result.Decision)
	}
}

// newSession creates the successor session with the carry-over as its first
// system message, then archives the old one. Messages stay with the session
// that wrote them; only the summary text travels.
func (l *Lifecycle) newSession(ctx context.Context, result RouteResult, conv *session.Conversation) (string, error) {
	child, err := l.store.Create(ctx, session.CreateRequest{
		ParentID:       conv.ID,
		CarryOver:      result.SummaryCarryOver,
		ModelMaxTokens: conv.ModelMaxTokens,
		IdempotencyKey: l.idempotencyKey(conv.ID, result.Reason),
	})
	if err != nil {
		return conv.ID, fmt.Errorf("%w: create session: %v", ErrStoreFailure, err)
	}
	if err := l.store.SetState(ctx, conv.ID, session.StateArchived); err != nil {
		// The child exists; report the half-applied transition but hand the
		// caller the new session.
		logging.OrNop(l.logger).Error("Failed to archive session %s: %v", conv.ID, err)
		return child.ID, fmt.Errorf("%w: archive parent: %v", ErrStoreFailure, err)
	}
	return child.ID, nil
}

// fork creates a linked child and pauses the parent, which stays resumable.
func (l *Lifecycle) fork(ctx context.Context, result RouteResult, conv *session.Conversation) (string, error) {
	if err := l.checkAncestry(ctx, conv); err != nil {
		return conv.ID, err
	}
	child, err := l.store.Create(ctx, session.CreateRequest{
		ParentID:       conv.ID,
		CarryOver:      result.SummaryCarryOver,
		ModelMaxTokens: conv.ModelMaxTokens,
		IdempotencyKey: l.idempotencyKey(conv.ID, result.Reason),
	})
	if err != nil {
		return conv.ID, fmt.Errorf("%w: create fork: %v", ErrStoreFailure, err)
	}
	if err := l.store.SetState(ctx, conv.ID, session.StatePaused); err != nil {
		logging.OrNop(l.logger).Error("Failed to pause fork parent %s: %v", conv.ID, err)
		return child.ID, fmt.Errorf("%w: pause parent: %v", ErrStoreFailure, err)
	}
	return child.ID, nil
}

// checkAncestry refuses to fork when the parent chain already contains a
// cycle, keeping the session graph acyclic.
func (l *Lifecycle) checkAncestry(ctx context.Context, conv *session.Conversation) error {
	seen := map[string]struct{}{conv.ID: {}}
	parentID := conv.ParentSessionID
	for depth := 0; parentID != ""; depth++ {
		if depth >= maxAncestryDepth {
			return fmt.Errorf("ancestry chain for %s exceeds %d levels", conv.ID, maxAncestryDepth)
		}
		if _, ok := seen[parentID]; ok {
			return fmt.Errorf("session %s has a cyclic ancestry through %s", conv.ID, parentID)
		}
		seen[parentID] = struct{}{}
		parent, err := l.store.Get(ctx, parentID)
		if err != nil {
			if errors.Is(err, session.ErrNotFound) {
				return nil // dangling weak reference, chain ends here
			}
			return fmt.Errorf("%w: walk ancestry: %v", ErrStoreFailure, err)
		}
		parentID = parent.ParentSessionID
	}
	return nil
}

func (l *Lifecycle) idempotencyKey(convID, reason string) string {
	bucket := l.now().Truncate(idempotencyBucket).Unix()
	normalized := strings.Join(strings.Fields(strings.ToLower(reason)), "-")
	return fmt.Sprintf("%s|%s|%d", convID, normalized, bucket)
}
