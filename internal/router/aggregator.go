package router

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"switchboard/internal/config"
	"switchboard/internal/logging"
	"switchboard/internal/session"
	"switchboard/internal/summary"
	"switchboard/internal/token"
)

// Outcome is what a strategy hands back to the router facade: the
// caller-facing result plus the bookkeeping the facade needs for the audit
// log, metrics, and background summarization.
type Outcome struct {
	Result RouteResult
	// Degraded names every signal that was unavailable this call.
	Degraded []string
	// SummarizeInBackground is set by the context warning band (60-80%):
	// refresh the rolling summary, take no routing action.
	SummarizeInBackground bool
}

// Strategy produces one routing outcome per incoming message. The rule-based
// aggregator is the default; a model-emitted strategy conforms to the same
// contract so the lifecycle manager and logger stay agnostic to which one
// decided.
type Strategy interface {
	Aggregate(ctx context.Context, message string, conv *session.Conversation, taskType TaskType, cfg config.RouterConfig) Outcome
}

// RuleEngine is the deterministic priority-list aggregator. Signals are
// evaluated in strict priority order and the first conclusive one wins; the
// rest only break ties.
type RuleEngine struct {
	intent    *IntentDetector
	scorer    Scorer
	health    *HealthAssessor
	estimator token.Estimator
	carryOver *summary.CarryOver
	logger    logging.Logger
	now       func() time.Time
}

// EngineOption customizes a RuleEngine.
type EngineOption func(*RuleEngine)

// WithScorer injects the semantic relevance collaborator. Without one the
// semantic signal is permanently unavailable and the engine still routes.
func WithScorer(scorer Scorer) EngineOption {
	return func(e *RuleEngine) { e.scorer = scorer }
}

// WithIntentClassifier injects the optional tier-3 intent collaborator.
func WithIntentClassifier(classifier IntentClassifier) EngineOption {
	return func(e *RuleEngine) { e.intent = NewIntentDetector(classifier) }
}

// WithContradictionClassifier injects the optional health collaborator.
func WithContradictionClassifier(classifier ContradictionClassifier) EngineOption {
	return func(e *RuleEngine) { e.health = NewHealthAssessor(classifier) }
}

// WithEstimator replaces the default token estimator.
func WithEstimator(estimator token.Estimator) EngineOption {
	return func(e *RuleEngine) { e.estimator = estimator }
}

// WithCarryOver replaces the carry-over builder.
func WithCarryOver(c *summary.CarryOver) EngineOption {
	return func(e *RuleEngine) { e.carryOver = c }
}

// WithClock overrides the time source, for deterministic tests.
func WithClock(now func() time.Time) EngineOption {
	return func(e *RuleEngine) { e.now = now }
}

// WithEngineLogger sets the engine log sink.
func WithEngineLogger(logger logging.Logger) EngineOption {
	return func(e *RuleEngine) { e.logger = logger }
}

// NewRuleEngine assembles the default aggregator.
func NewRuleEngine(opts ...EngineOption) *RuleEngine {
	e := &RuleEngine{
		intent:    NewIntentDetector(nil),
		health:    NewHealthAssessor(nil),
		estimator: token.Default(),
		carryOver: summary.NewCarryOver(nil),
		logger:    logging.NewComponentLogger("RuleEngine"),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// slowPath carries the joined slow-path readings.
type slowPath struct {
	score    float64
	scoreOK  bool
	health   HealthReport
	healthOK bool
}

// Aggregate runs the decision matrix. Explicit intent always logically
// precedes every other signal; the slow path only runs when the fast path is
// inconclusive, and any slow-path signal that misses the aggregate timeout is
// treated as unavailable, never as an error.
func (e *RuleEngine) Aggregate(ctx context.Context, message string, conv *session.Conversation, taskType TaskType, cfg config.RouterConfig) Outcome {
	fired := signalSet{}
	outcome := Outcome{}

	// Priority 1: explicit intent. Overrides everything, including a
	// stale or saturated context.
	if match := e.intent.Detect(ctx, message, cfg); match.Kind != IntentNone {
		fired.add(SignalResult{Signal: SignalIntent, Fired: true, Severity: SeverityCritical})
		outcome.Result = e.intentResult(ctx, match, conv)
		outcome.Result.SignalsFired = fired.names()
		return outcome
	}

	// Fast-path: time gap is synchronous and recorded even when a
	// higher-priority context band decides the route.
	gap := SignalResult{Signal: SignalTimeGap}
	if last, ok := conv.LastMessage(); ok {
		gap = EvaluateTimeGap(last.Timestamp, e.now(), taskType, HasOpenQuestion(conv), cfg)
	}
	fired.add(gap)

	// Priority 2-3: context pressure.
	load := EvaluateContext(conv, e.estimator, cfg)
	fired.add(load.Signal)
	outcome.SummarizeInBackground = load.Warning()

	if load.Emergency() || load.Critical() {
		carry, degraded := e.carryOver.Build(ctx, conv)
		if degraded {
			outcome.Degraded = append(outcome.Degraded, "summarizer")
		}
		result := RouteResult{
			Decision:         DecisionNewSession,
			Confidence:       0.85,
			Reason:           "context critical",
			SummaryCarryOver: carry,
		}
		if load.Emergency() {
			result.Confidence = 0.9
			result.Reason = "context emergency"
		}
		result.SignalsFired = fired.names()
		outcome.Result = result
		return outcome
	}

	// Slow path: semantic relevance and health, joined under one timeout.
	slow := e.runSlowPath(ctx, message, conv, cfg)
	if e.scorer != nil && !slow.scoreOK {
		outcome.Degraded = append(outcome.Degraded, SignalSemantic)
	}
	if !slow.healthOK {
		outcome.Degraded = append(outcome.Degraded, SignalHealth)
	}

	if slow.scoreOK {
		severity := SeverityNone
		if slow.score < cfg.SemanticLowThreshold {
			severity = SeverityHigh
		}
		fired.add(SignalResult{
			Signal:   SignalSemantic,
			Fired:    severity > SeverityNone,
			Severity: severity,
			Detail:   fmt.Sprintf("similarity %.2f", slow.score),
		})
	}
	unhealthy := slow.healthOK && slow.health.Unhealthy()
	if unhealthy {
		fired.add(SignalResult{Signal: SignalHealth, Fired: true, Severity: SeverityMedium})
	}

	outcome.Result = e.decide(ctx, conv, cfg, gap, slow, unhealthy)
	outcome.Result.SignalsFired = fired.names()
	return outcome
}

func (e *RuleEngine) intentResult(ctx context.Context, match IntentMatch, conv *session.Conversation) RouteResult {
	keyword := match.Keyword
	if keyword == "" {
		keyword = "classifier"
	}
	carry, _ := e.carryOver.Build(ctx, conv)
	if match.Kind == IntentFork {
		return RouteResult{
			Decision:         DecisionFork,
			Confidence:       0.95,
			Reason:           fmt.Sprintf("fork intent: %s", keyword),
			SummaryCarryOver: carry,
		}
	}
	return RouteResult{
		Decision:         DecisionNewSession,
		Confidence:       0.95,
		Reason:           fmt.Sprintf("explicit intent: %s", keyword),
		SummaryCarryOver: carry,
	}
}

// decide applies matrix rows 4-7 once intent and context have passed.
func (e *RuleEngine) decide(ctx context.Context, conv *session.Conversation, cfg config.RouterConfig, gap SignalResult, slow slowPath, unhealthy bool) RouteResult {
	// Row 4: semantic relevance low, only when the scorer actually answered.
	if slow.scoreOK && slow.score < cfg.SemanticLowThreshold {
		if unhealthy {
			carry, _ := e.carryOver.Build(ctx, conv)
			return RouteResult{
				Decision:         DecisionNewSession,
				Confidence:       0.8,
				Reason:           "low semantic similarity, unhealthy conversation",
				SummaryCarryOver: carry,
			}
		}
		return RouteResult{
			Decision:   DecisionPromptUser,
			Confidence: 0.7,
			Reason:     "low semantic similarity",
		}
	}

	// Row 5: ambiguous or unavailable relevance defers to the time gap.
	related := slow.scoreOK && slow.score >= cfg.SemanticHighThreshold
	if !related {
		switch gap.Severity {
		case SeverityHigh:
			return RouteResult{Decision: DecisionPromptUser, Confidence: 0.6, Reason: "long time gap"}
		case SeverityMedium:
			return RouteResult{Decision: DecisionPromptUser, Confidence: 0.5, Reason: "long time gap"}
		}
	}

	// Row 6: health alone, tie-break only.
	if unhealthy {
		return RouteResult{Decision: DecisionPromptUser, Confidence: 0.55, Reason: "unhealthy conversation"}
	}

	// Row 7: default.
	return RouteResult{Decision: DecisionContinue, Confidence: 0.9, Reason: "all signals normal"}
}

// runSlowPath fans out the semantic scorer and the health assessment under
// the aggregate timeout. A signal that misses the deadline is simply absent
// from the join; a collaborator that ignores cancellation cannot hold the
// routing call past the deadline either.
func (e *RuleEngine) runSlowPath(ctx context.Context, message string, conv *session.Conversation, cfg config.RouterConfig) slowPath {
	var (
		mu   sync.Mutex
		slow slowPath
	)

	slowCtx, cancel := context.WithTimeout(ctx, cfg.SlowPathTimeout)
	defer cancel()

	g, gctx := errgroup.WithContext(slowCtx)

	if e.scorer != nil && conv.Summary != "" {
		g.Go(func() error {
			score, err := e.scorer.Score(gctx, message, conv.Summary)
			if err != nil {
				logging.OrNop(e.logger).Warn("Semantic scorer unavailable: %v", err)
				return nil // degradation, not failure
			}
			mu.Lock()
			slow.score = score
			slow.scoreOK = true
			mu.Unlock()
			return nil
		})
	}

	g.Go(func() error {
		report := e.health.Assess(gctx, conv, cfg)
		if gctx.Err() != nil {
			return nil // joined too late, reading discarded
		}
		mu.Lock()
		slow.health = report
		slow.healthOK = true
		mu.Unlock()
		return nil
	})

	done := make(chan struct{})
	go func() {
		_ = g.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-slowCtx.Done():
	}

	mu.Lock()
	defer mu.Unlock()
	return slow
}
