package router

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kaptinlin/jsonrepair"

	"switchboard/internal/config"
	"switchboard/internal/logging"
	"switchboard/internal/session"
)

// Decider is the model collaborator for the self-judgment strategy: it
// receives a routing prompt and answers with a structured decision, usually
// as JSON embedded in free text.
type Decider interface {
	Decide(ctx context.Context, prompt string) (string, error)
}

// DeciderFunc adapts a function to the Decider interface.
type DeciderFunc func(ctx context.Context, prompt string) (string, error)

func (f DeciderFunc) Decide(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

// ModelStrategy lets a model emit the routing decision directly. It conforms
// to the same Strategy contract as the rule engine, so the lifecycle manager
// and logger never know which one decided. Any malformed or out-of-contract
// model output falls back to the rule-based aggregator.
type ModelStrategy struct {
	decider  Decider
	fallback Strategy
	logger   logging.Logger
}

// NewModelStrategy wires the model strategy over a rule-based fallback.
func NewModelStrategy(decider Decider, fallback Strategy) *ModelStrategy {
	return &ModelStrategy{
		decider:  decider,
		fallback: fallback,
		logger:   logging.NewComponentLogger("ModelStrategy"),
	}
}

// modelVerdict is the structured decision schema the model must emit.
type modelVerdict struct {
	Decision   string  `json:"decision"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason"`
}

// Aggregate asks the model for a verdict and validates it against the
// RouteResult contract; anything else degrades to the fallback strategy.
func (s *ModelStrategy) Aggregate(ctx context.Context, message string, conv *session.Conversation, taskType TaskType, cfg config.RouterConfig) Outcome {
	if s.decider == nil {
		return s.fallback.Aggregate(ctx, message, conv, taskType, cfg)
	}

	raw, err := s.decider.Decide(ctx, buildRoutingPrompt(message, conv, taskType))
	if err != nil {
		logging.OrNop(s.logger).Warn("Model decider unavailable, using rule engine: %v", err)
		outcome := s.fallback.Aggregate(ctx, message, conv, taskType, cfg)
		outcome.Degraded = append(outcome.Degraded, "model_strategy")
		return outcome
	}

	verdict, err := parseVerdict(raw)
	if err != nil {
		logging.OrNop(s.logger).Warn("Model verdict rejected (%v), using rule engine. Raw: %.120s", err, raw)
		outcome := s.fallback.Aggregate(ctx, message, conv, taskType, cfg)
		outcome.Degraded = append(outcome.Degraded, "model_strategy")
		return outcome
	}

	return Outcome{Result: RouteResult{
		Decision:         Decision(verdict.Decision),
		Confidence:       verdict.Confidence,
		Reason:           verdict.Reason,
		SummaryCarryOver: "",
		SignalsFired:     []string{"model_judgment"},
	}}
}

// parseVerdict extracts and validates the model's JSON decision, repairing
// the usual LLM JSON damage (trailing commas, single quotes, prose wrapping)
// before giving up.
func parseVerdict(raw string) (modelVerdict, error) {
	candidate := extractJSONObject(raw)
	if candidate == "" {
		return modelVerdict{}, fmt.Errorf("no JSON object in model output")
	}

	var verdict modelVerdict
	if err := json.Unmarshal([]byte(candidate), &verdict); err != nil {
		repaired, repairErr := jsonrepair.JSONRepair(candidate)
		if repairErr != nil {
			return modelVerdict{}, fmt.Errorf("unparseable verdict: %w", err)
		}
		if err := json.Unmarshal([]byte(repaired), &verdict); err != nil {
			return modelVerdict{}, fmt.Errorf("unparseable verdict after repair: %w", err)
		}
	}

	if !Decision(verdict.Decision).Valid() {
		return modelVerdict{}, fmt.Errorf("invalid decision %q", verdict.Decision)
	}
	if verdict.Confidence < 0 || verdict.Confidence > 1 {
		return modelVerdict{}, fmt.Errorf("confidence %v out of [0,1]", verdict.Confidence)
	}
	if strings.TrimSpace(verdict.Reason) == "" {
		verdict.Reason = "model judgment"
	}
	return verdict, nil
}

func extractJSONObject(raw string) string {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return ""
	}
	return raw[start : end+1]
}

func buildRoutingPrompt(message string, conv *session.Conversation, taskType TaskType) string {
	var sb strings.Builder
	sb.WriteString("Decide whether the next message continues the current session, needs a new session, a fork, or user confirmation.\n")
	sb.WriteString(`Respond with JSON: {"decision":"continue|new_session|fork|prompt_user","confidence":0.0,"reason":"..."}` + "\n\n")
	fmt.Fprintf(&sb, "Task type: %s\n", taskType)
	if conv.Summary != "" {
		fmt.Fprintf(&sb, "Conversation summary: %s\n", conv.Summary)
	}
	for _, msg := range conv.Recent(4) {
		fmt.Fprintf(&sb, "%s: %.200s\n", msg.Role, msg.Content)
	}
	fmt.Fprintf(&sb, "\nNext message: %s\n", message)
	return sb.String()
}
