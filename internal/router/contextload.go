package router

import (
	"fmt"

	"switchboard/internal/config"
	"switchboard/internal/session"
	"switchboard/internal/token"
)

// ContextLoad is the context monitor's reading of window saturation.
type ContextLoad struct {
	Utilization float64
	Signal      SignalResult
}

// Warning reports the 60-80% band: trigger background summarization, no
// routing action.
func (c ContextLoad) Warning() bool { return c.Signal.Severity == SeverityLow }

// Critical reports the 80-95% band: recommend a new session with carry-over.
func (c ContextLoad) Critical() bool { return c.Signal.Severity == SeverityHigh }

// Emergency reports >=95% utilization: force a new session, bypassing user
// confirmation.
func (c ContextLoad) Emergency() bool { return c.Signal.Severity == SeverityCritical }

// EvaluateContext estimates window utilization from per-message token counts.
// Messages carrying a precomputed estimate keep it; the injected estimator
// covers the rest, so no tokenization scheme is assumed. Band edges are
// inclusive at the top: exactly 80% is critical and exactly 95% is emergency.
func EvaluateContext(conv *session.Conversation, estimator token.Estimator, cfg config.RouterConfig) ContextLoad {
	load := ContextLoad{Signal: SignalResult{Signal: SignalContext}}
	if conv == nil || conv.ModelMaxTokens <= 0 {
		return load
	}
	if estimator == nil {
		estimator = token.Default()
	}

	total := 0
	for _, msg := range conv.Messages {
		if msg.TokenEstimate > 0 {
			total += msg.TokenEstimate
			continue
		}
		total += estimator.Estimate(msg.Content)
	}

	load.Utilization = float64(total) / float64(conv.ModelMaxTokens)

	switch {
	case load.Utilization >= cfg.ContextEmergencyPct:
		load.Signal.Severity = SeverityCritical
	case load.Utilization >= cfg.ContextCriticalPct:
		load.Signal.Severity = SeverityHigh
	case load.Utilization >= cfg.ContextWarningPct:
		load.Signal.Severity = SeverityLow
	default:
		load.Signal.Severity = SeverityNone
	}
	load.Signal.Fired = load.Signal.Severity > SeverityNone
	if load.Signal.Fired {
		load.Signal.Detail = fmt.Sprintf("utilization %.1f%% of %d tokens", load.Utilization*100, conv.ModelMaxTokens)
	}
	return load
}
