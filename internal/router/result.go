// Package router implements the multi-signal decision engine: it reduces
// explicit intent, context-window pressure, semantic relevance, elapsed time,
// and conversation health to a single deterministic routing decision, then
// drives the session lifecycle transition that follows from it.
package router

import (
	"context"
	"sort"
)

// Decision is the routing verdict for one incoming message.
type Decision string

const (
	DecisionContinue   Decision = "continue"
	DecisionNewSession Decision = "new_session"
	DecisionFork       Decision = "fork"
	DecisionPromptUser Decision = "prompt_user"
)

// Valid reports whether d is one of the four routing decisions.
func (d Decision) Valid() bool {
	switch d {
	case DecisionContinue, DecisionNewSession, DecisionFork, DecisionPromptUser:
		return true
	}
	return false
}

// Severity grades how strongly a signal fired.
type Severity int

const (
	SeverityNone Severity = iota
	SeverityLow
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityNone:
		return "none"
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Signal names, fixed for observability and offline tuning.
const (
	SignalIntent   = "explicit_intent"
	SignalContext  = "context_pressure"
	SignalTimeGap  = "time_gap"
	SignalSemantic = "semantic_relevance"
	SignalHealth   = "conversation_health"
)

// SignalResult is the intermediate per-signal record the aggregator consumes.
// It never crosses the engine boundary.
type SignalResult struct {
	Signal   string
	Fired    bool
	Severity Severity
	Detail   string
}

// RouteResult is the engine's sole externally visible output. Every field is
// always populated; text fields use the empty string, never null.
type RouteResult struct {
	Decision         Decision `json:"decision"`
	Confidence       float64  `json:"confidence"`
	Reason           string   `json:"reason"`
	SummaryCarryOver string   `json:"summary_carry_over"`
	SignalsFired     []string `json:"signals_fired"`
}

// signalSet accumulates fired signals in deterministic order.
type signalSet map[string]struct{}

func (s signalSet) add(result SignalResult) {
	if result.Severity > SeverityNone {
		s[result.Signal] = struct{}{}
	}
}

func (s signalSet) names() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Scorer is the external semantic-similarity collaborator. Score returns a
// value in [0,1] or an error; timeouts surface as context errors.
type Scorer interface {
	Score(ctx context.Context, text, referenceSummary string) (float64, error)
}

// ScorerFunc adapts a function to the Scorer interface.
type ScorerFunc func(ctx context.Context, text, referenceSummary string) (float64, error)

func (f ScorerFunc) Score(ctx context.Context, text, referenceSummary string) (float64, error) {
	return f(ctx, text, referenceSummary)
}

// IntentClassifier is the optional tier-3 semantic intent collaborator. It
// reports whether the message paraphrases a new-session or fork request.
type IntentClassifier interface {
	ClassifyIntent(ctx context.Context, message string) (IntentKind, error)
}

// ContradictionClassifier is the optional health collaborator that judges
// whether two assistant claims conflict.
type ContradictionClassifier interface {
	Contradicts(ctx context.Context, a, b string) (bool, error)
}
