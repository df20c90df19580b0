package router

import (
	"fmt"
	"strings"
	"time"

	"switchboard/internal/config"
	"switchboard/internal/session"
)

// TaskType adjusts time-gap tolerance. Coding and debugging sessions commonly
// resume after long breaks, so their thresholds are doubled.
type TaskType string

const (
	TaskGeneral   TaskType = "general"
	TaskCoding    TaskType = "coding"
	TaskDebugging TaskType = "debugging"
)

func (t TaskType) slowBurn() bool {
	switch t {
	case TaskCoding, TaskDebugging:
		return true
	}
	return false
}

const reinjectionGapHours = 1

// EvaluateTimeGap maps the gap since the last message to a severity.
// Band edges are strict: a gap exactly equal to a threshold belongs to the
// lower band. An unanswered question from the assistant suppresses escalation
// by one level, since an open question keeps the session alive longer.
func EvaluateTimeGap(last, now time.Time, taskType TaskType, openQuestion bool, cfg config.RouterConfig) SignalResult {
	result := SignalResult{Signal: SignalTimeGap}
	if last.IsZero() || !now.After(last) {
		return result
	}

	gap := now.Sub(last)
	promptAfter := hoursToDuration(cfg.TimeGapPromptHours)
	newSessionAfter := hoursToDuration(cfg.TimeGapNewSessionHours)
	reinjectAfter := time.Duration(reinjectionGapHours) * time.Hour
	if taskType.slowBurn() {
		promptAfter *= 2
		newSessionAfter *= 2
		reinjectAfter *= 2
	}

	var severity Severity
	switch {
	case gap > newSessionAfter:
		severity = SeverityHigh
	case gap > promptAfter:
		severity = SeverityMedium
	default:
		severity = SeverityNone
	}

	if openQuestion {
		severity = suppressOneLevel(severity)
	}

	result.Severity = severity
	result.Fired = severity > SeverityNone
	switch {
	case result.Fired:
		result.Detail = fmt.Sprintf("gap %s (%s task)", gap.Round(time.Minute), taskType)
	case gap > reinjectAfter:
		result.Detail = "recommend context re-injection"
	}
	return result
}

func suppressOneLevel(severity Severity) Severity {
	switch severity {
	case SeverityHigh:
		return SeverityMedium
	case SeverityMedium:
		return SeverityNone
	default:
		return severity
	}
}

func hoursToDuration(hours float64) time.Duration {
	return time.Duration(hours * float64(time.Hour))
}

// HasOpenQuestion reports whether the transcript ends with an assistant
// question that never got an answer.
func HasOpenQuestion(conv *session.Conversation) bool {
	last, ok := conv.LastMessage()
	if !ok || !last.IsAssistant() {
		return false
	}
	content := strings.TrimSpace(last.Content)
	return strings.HasSuffix(content, "?") || strings.HasSuffix(content, "？")
}
