package router

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"switchboard/internal/async"
	"switchboard/internal/audit"
	"switchboard/internal/config"
	"switchboard/internal/logging"
	"switchboard/internal/observability"
	"switchboard/internal/session"
	"switchboard/internal/summary"
)

const summaryRefreshTimeout = 10 * time.Second

// RouteRequest is one incoming message to route.
type RouteRequest struct {
	ConversationID string            `json:"conversation_id"`
	Message        string            `json:"message"`
	TaskType       TaskType          `json:"task_type,omitempty"`
	Overrides      *config.Overrides `json:"overrides,omitempty"`
}

// ConfirmRequest resolves a pending prompt_user decision with the user's
// answer.
type ConfirmRequest struct {
	ConversationID   string `json:"conversation_id"`
	AcceptNewSession bool   `json:"accept_new_session"`
}

// RouteResponse is the caller-facing routing answer. SessionID is the session
// the conversation should continue under after any lifecycle transition.
type RouteResponse struct {
	RouteResult
	SessionID string   `json:"session_id"`
	Degraded  []string `json:"degraded,omitempty"`
}

// Router is the facade over the whole decision pipeline: it loads the
// conversation snapshot, runs the configured strategy, applies the lifecycle
// transition, and records the decision for audit and metrics.
type Router struct {
	cfg       config.RouterConfig
	store     session.Store
	strategy  Strategy
	lifecycle *Lifecycle
	carryOver *summary.CarryOver
	recorder  *audit.Recorder
	metrics   *observability.Metrics
	logger    logging.Logger
	now       func() time.Time
}

// RouterOption customizes the facade.
type RouterOption func(*Router)

// WithStrategy replaces the default rule engine, e.g. with a model strategy.
func WithStrategy(strategy Strategy) RouterOption {
	return func(r *Router) { r.strategy = strategy }
}

// WithRecorder attaches the JSONL decision log.
func WithRecorder(recorder *audit.Recorder) RouterOption {
	return func(r *Router) { r.recorder = recorder }
}

// WithMetrics attaches the metrics collector.
func WithMetrics(metrics *observability.Metrics) RouterOption {
	return func(r *Router) { r.metrics = metrics }
}

// WithRouterCarryOver replaces the carry-over builder used for background
// summary refreshes and user confirmations.
func WithRouterCarryOver(c *summary.CarryOver) RouterOption {
	return func(r *Router) { r.carryOver = c }
}

// WithRouterLogger sets the log sink.
func WithRouterLogger(logger logging.Logger) RouterOption {
	return func(r *Router) { r.logger = logger }
}

// WithRouterClock overrides the time source, for deterministic tests.
func WithRouterClock(now func() time.Time) RouterOption {
	return func(r *Router) { r.now = now }
}

// NewRouter validates the configuration and assembles the pipeline. An
// invalid configuration is the one fatal error in the system: everything
// downstream degrades instead of failing.
func NewRouter(cfg config.RouterConfig, store session.Store, opts ...RouterOption) (*Router, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := logging.NewComponentLogger("Router")
	r := &Router{
		cfg:       cfg,
		store:     store,
		strategy:  NewRuleEngine(),
		lifecycle: NewLifecycle(store),
		carryOver: summary.NewCarryOver(nil),
		logger:    logger,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// StartSession creates a root session with no parent.
func (r *Router) StartSession(ctx context.Context, modelMaxTokens int) (*session.Conversation, error) {
	conv, err := r.store.Create(ctx, session.CreateRequest{ModelMaxTokens: modelMaxTokens})
	if err != nil {
		return nil, err
	}
	r.metrics.IncrementActiveSessions(ctx)
	return conv, nil
}

// Session returns a session snapshot.
func (r *Router) Session(ctx context.Context, id string) (*session.Conversation, error) {
	return r.store.Get(ctx, id)
}

// Append records a message on a session transcript.
func (r *Router) Append(ctx context.Context, id string, msg session.Message) error {
	return r.store.AppendMessage(ctx, id, msg)
}

// Route decides what to do with the next message. The call always produces a
// decision: collaborator failures degrade individual signals, and a store
// failure during the transition is reported alongside the intact decision via
// ErrStoreFailure.
func (r *Router) Route(ctx context.Context, req RouteRequest) (RouteResponse, error) {
	start := r.now()

	if strings.TrimSpace(req.ConversationID) == "" {
		return RouteResponse{}, fmt.Errorf("conversation_id is required")
	}
	conv, err := r.store.Get(ctx, req.ConversationID)
	if err != nil {
		return RouteResponse{}, fmt.Errorf("load conversation %s: %w", req.ConversationID, err)
	}

	taskType := req.TaskType
	if taskType == "" {
		taskType = TaskGeneral
	}

	cfg, degraded := r.effectiveConfig(req.Overrides)
	outcome := r.strategy.Aggregate(ctx, req.Message, conv, taskType, cfg)
	outcome.Degraded = append(outcome.Degraded, degraded...)

	sessionID, lifeErr := r.lifecycle.Apply(ctx, outcome.Result, conv)
	if lifeErr != nil {
		if !errors.Is(lifeErr, ErrStoreFailure) {
			return RouteResponse{}, lifeErr
		}
		logging.OrNop(r.logger).Error("Lifecycle transition incomplete for %s: %v", conv.ID, lifeErr)
		outcome.Degraded = append(outcome.Degraded, "session_store")
	}
	r.trackTransition(ctx, outcome.Result.Decision, lifeErr)

	if outcome.SummarizeInBackground {
		r.refreshSummary(conv)
	}

	r.record(ctx, conv.ID, req.Message, outcome, false, r.now().Sub(start))

	return RouteResponse{
		RouteResult: outcome.Result,
		SessionID:   sessionID,
		Degraded:    outcome.Degraded,
	}, lifeErr
}

// Confirm resolves a prompt_user decision. Accepting starts a new session
// with a fresh carry-over; declining continues in place. Either way the
// resolution is audited as a user override.
func (r *Router) Confirm(ctx context.Context, req ConfirmRequest) (RouteResponse, error) {
	start := r.now()

	conv, err := r.store.Get(ctx, req.ConversationID)
	if err != nil {
		return RouteResponse{}, fmt.Errorf("load conversation %s: %w", req.ConversationID, err)
	}

	outcome := Outcome{Result: RouteResult{
		Decision:     DecisionContinue,
		Confidence:   1.0,
		Reason:       "user declined new session",
		SignalsFired: []string{"user_confirmation"},
	}}
	if req.AcceptNewSession {
		carry, degraded := r.carryOver.Build(ctx, conv)
		if degraded {
			outcome.Degraded = append(outcome.Degraded, "summarizer")
		}
		outcome.Result = RouteResult{
			Decision:         DecisionNewSession,
			Confidence:       1.0,
			Reason:           "user confirmed new session",
			SummaryCarryOver: carry,
			SignalsFired:     []string{"user_confirmation"},
		}
	}

	sessionID, lifeErr := r.lifecycle.Apply(ctx, outcome.Result, conv)
	if lifeErr != nil && !errors.Is(lifeErr, ErrStoreFailure) {
		return RouteResponse{}, lifeErr
	}
	if lifeErr != nil {
		logging.OrNop(r.logger).Error("Confirmation transition incomplete for %s: %v", conv.ID, lifeErr)
		outcome.Degraded = append(outcome.Degraded, "session_store")
	}
	r.trackTransition(ctx, outcome.Result.Decision, lifeErr)

	r.record(ctx, conv.ID, "", outcome, true, r.now().Sub(start))

	return RouteResponse{
		RouteResult: outcome.Result,
		SessionID:   sessionID,
		Degraded:    outcome.Degraded,
	}, lifeErr
}

// effectiveConfig merges per-call overrides onto the base configuration. An
// override set that breaks validation is dropped rather than failing the
// call.
func (r *Router) effectiveConfig(overrides *config.Overrides) (config.RouterConfig, []string) {
	if overrides == nil {
		return r.cfg, nil
	}
	merged := r.cfg.Merge(overrides)
	if err := merged.Validate(); err != nil {
		logging.OrNop(r.logger).Warn("Rejecting per-call overrides: %v", err)
		return r.cfg, []string{"config_override"}
	}
	return merged, nil
}

// refreshSummary regenerates the rolling summary off the routing path. The
// conversation snapshot is already in hand, so the refresh never blocks or
// fails the call that triggered it.
func (r *Router) refreshSummary(conv *session.Conversation) {
	async.Go(r.logger, "summary-refresh", func() {
		ctx, cancel := context.WithTimeout(context.Background(), summaryRefreshTimeout)
		defer cancel()
		text, _ := r.carryOver.Build(ctx, conv)
		if text == "" {
			return
		}
		if err := r.store.SetSummary(ctx, conv.ID, text); err != nil {
			logging.OrNop(r.logger).Warn("Failed to refresh summary for %s: %v", conv.ID, err)
		}
	})
}

func (r *Router) trackTransition(ctx context.Context, decision Decision, lifeErr error) {
	if lifeErr != nil {
		return
	}
	switch decision {
	case DecisionNewSession, DecisionFork:
		// Parent leaves the active set, child enters it.
		r.metrics.DecrementActiveSessions(ctx)
		r.metrics.IncrementActiveSessions(ctx)
	}
}

func (r *Router) record(ctx context.Context, convID, message string, outcome Outcome, userOverride bool, latency time.Duration) {
	r.metrics.RecordDecision(ctx, string(outcome.Result.Decision), outcome.Result.Reason, latency, outcome.Degraded)
	if r.recorder == nil {
		return
	}
	rec := audit.Record{
		Time:           r.now(),
		ConversationID: convID,
		MessagePreview: audit.Preview(message),
		Decision:       string(outcome.Result.Decision),
		Confidence:     outcome.Result.Confidence,
		Reason:         outcome.Result.Reason,
		SignalsFired:   outcome.Result.SignalsFired,
		Degraded:       outcome.Degraded,
		UserOverride:   userOverride,
		LatencyMS:      latency.Milliseconds(),
	}
	async.Go(r.logger, "decision-log", func() {
		r.recorder.Record(rec)
	})
}
