package router

import (
	"context"
	"regexp"
	"strings"
	"unicode/utf8"

	"switchboard/internal/config"
	"switchboard/internal/logging"
	"switchboard/internal/session"
)

// HealthReport is the health assessor's verdict over the recent transcript.
// It is a tie-break input only: the aggregator never routes on health alone
// unless every stronger signal is inconclusive.
type HealthReport struct {
	ErrorLoop     bool `json:"error_loop"`
	Frustration   bool `json:"frustration"`
	Contradiction bool `json:"contradiction"`
	DeadEnd       bool `json:"dead_end"`
}

// Unhealthy reports whether any sub-check tripped.
func (r HealthReport) Unhealthy() bool {
	return r.ErrorLoop || r.Frustration || r.Contradiction || r.DeadEnd
}

func (r HealthReport) reasons() []string {
	var out []string
	if r.ErrorLoop {
		out = append(out, "error_loop")
	}
	if r.Frustration {
		out = append(out, "frustration")
	}
	if r.Contradiction {
		out = append(out, "contradiction")
	}
	if r.DeadEnd {
		out = append(out, "dead_end")
	}
	return out
}

// HealthAssessor scans recent messages for error loops, frustration markers,
// contradictions, and dead ends.
type HealthAssessor struct {
	classifier ContradictionClassifier
	logger     logging.Logger
}

// NewHealthAssessor builds an assessor. classifier may be nil; the
// contradiction sub-check is then a no-op.
func NewHealthAssessor(classifier ContradictionClassifier) *HealthAssessor {
	return &HealthAssessor{
		classifier: classifier,
		logger:     logging.NewComponentLogger("HealthAssessor"),
	}
}

// Frustration markers by locale. A short user message carrying one of these
// right after an assistant message counts as pushback.
var frustrationMarkers = []string{
	"no", "nope", "wrong", "not this", "that's wrong", "stop", "not what i",
	"不对", "不是", "错了", "不要", "不是这个",
}

// Assess inspects up to cfg.HealthWindowMessages trailing messages.
func (h *HealthAssessor) Assess(ctx context.Context, conv *session.Conversation, cfg config.RouterConfig) HealthReport {
	report := HealthReport{}
	if conv == nil || len(conv.Messages) == 0 {
		return report
	}
	recent := conv.Recent(cfg.HealthWindowMessages)

	report.ErrorLoop = detectErrorLoop(conv.Messages, cfg.HealthErrorRepeatThreshold)
	report.Frustration = detectFrustration(recent, cfg.FrustrationMaxRunes)
	report.Contradiction = h.detectContradiction(ctx, recent)
	report.DeadEnd = detectDeadEnd(conv)
	return report
}

// Hex literals must come first: with bare digits first the leading 0 of an
// address is consumed and the 0x branch never matches.
var errorLoopStrip = regexp.MustCompile(`0x[0-9a-fA-F]+|[0-9]+`)

// structuralErrorKey normalizes an error message so that repeats differing
// only in line numbers, addresses, or spacing still compare equal.
func structuralErrorKey(content string) string {
	normalized := strings.ToLower(strings.TrimSpace(content))
	normalized = errorLoopStrip.ReplaceAllString(normalized, "#")
	return strings.Join(strings.Fields(normalized), " ")
}

func looksLikeError(content string) bool {
	lower := strings.ToLower(content)
	for _, marker := range []string{"error", "failed", "failure", "exception", "panic", "cannot ", "unable to"} {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// detectErrorLoop looks for the same error text (structural match) repeated
// consecutively among AI outputs.
func detectErrorLoop(messages []session.Message, threshold int) bool {
	if threshold < 2 {
		threshold = 2
	}
	var lastKey string
	run := 0
	for _, msg := range messages {
		if !msg.IsAssistant() {
			continue
		}
		if !looksLikeError(msg.Content) {
			lastKey = ""
			run = 0
			continue
		}
		key := structuralErrorKey(msg.Content)
		if key == lastKey {
			run++
		} else {
			lastKey = key
			run = 1
		}
		if run >= threshold {
			return true
		}
	}
	return false
}

// detectFrustration flags a short negative user message immediately following
// an assistant message.
func detectFrustration(recent []session.Message, maxRunes int) bool {
	if maxRunes <= 0 {
		maxRunes = 30
	}
	for i := 1; i < len(recent); i++ {
		msg := recent[i]
		if !msg.IsUser() || !recent[i-1].IsAssistant() {
			continue
		}
		content := strings.ToLower(strings.TrimSpace(msg.Content))
		if content == "" || utf8.RuneCountInString(content) > maxRunes {
			continue
		}
		for _, marker := range frustrationMarkers {
			if strings.Contains(content, marker) {
				return true
			}
		}
	}
	return false
}

// detectContradiction defers to the injected classifier across assistant
// message pairs in the window. Classifier failure degrades to "no
// contradiction" rather than blocking the assessment.
func (h *HealthAssessor) detectContradiction(ctx context.Context, recent []session.Message) bool {
	if h.classifier == nil {
		return false
	}
	var assistant []string
	for _, msg := range recent {
		if msg.IsAssistant() && strings.TrimSpace(msg.Content) != "" {
			assistant = append(assistant, msg.Content)
		}
	}
	for i := 0; i < len(assistant); i++ {
		for j := i + 1; j < len(assistant); j++ {
			conflict, err := h.classifier.Contradicts(ctx, assistant[i], assistant[j])
			if err != nil {
				logging.OrNop(h.logger).Debug("Contradiction classifier unavailable: %v", err)
				return false
			}
			if conflict {
				return true
			}
		}
	}
	return false
}

var nextStepMarkers = []string{
	"?", "？", "try ", "run ", "you can", "you could", "next step", "option",
	"let me know", "would you", "shall i", "want me to", "1.", "- ", "* ",
	"试试", "可以", "下一步", "选项", "要不要",
}

// detectDeadEnd flags a most-recent assistant message that offers no
// question, instruction, or option to act on.
func detectDeadEnd(conv *session.Conversation) bool {
	last, ok := conv.LastMessage()
	if !ok || !last.IsAssistant() {
		return false
	}
	content := strings.ToLower(strings.TrimSpace(last.Content))
	if content == "" {
		return true
	}
	for _, marker := range nextStepMarkers {
		if strings.Contains(content, marker) {
			return false
		}
	}
	return true
}
