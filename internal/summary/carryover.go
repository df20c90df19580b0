// Package summary produces the carry-over digest injected as the first system
// message of a newly created session: topics discussed, decisions made, open
// questions. The digest normally comes from an external summarizer (an LLM
// call behind a timeout); when that collaborator fails, a deterministic
// transcript excerpt stands in so session creation never blocks on it.
package summary

import (
	"context"
	"fmt"
	"strings"
	"time"

	"switchboard/internal/logging"
	"switchboard/internal/session"
	"switchboard/internal/token"
)

// Summarizer is the external summarization collaborator.
type Summarizer interface {
	Summarize(ctx context.Context, conv *session.Conversation) (string, error)
}

// SummarizerFunc adapts a function to the Summarizer interface.
type SummarizerFunc func(ctx context.Context, conv *session.Conversation) (string, error)

func (f SummarizerFunc) Summarize(ctx context.Context, conv *session.Conversation) (string, error) {
	return f(ctx, conv)
}

const (
	defaultTimeout        = 2 * time.Second
	fallbackExcerptTokens = 400
	snippetLimit          = 140
)

// CarryOver builds carry-over text for NewSession transitions.
type CarryOver struct {
	summarizer Summarizer
	timeout    time.Duration
	logger     logging.Logger
}

// Option customizes a CarryOver builder.
type Option func(*CarryOver)

// WithTimeout bounds the external summarizer call.
func WithTimeout(d time.Duration) Option {
	return func(c *CarryOver) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithLogger sets the degradation log sink.
func WithLogger(logger logging.Logger) Option {
	return func(c *CarryOver) { c.logger = logger }
}

// NewCarryOver wires a builder around an optional external summarizer. A nil
// summarizer always takes the fallback path.
func NewCarryOver(summarizer Summarizer, opts ...Option) *CarryOver {
	c := &CarryOver{
		summarizer: summarizer,
		timeout:    defaultTimeout,
		logger:     logging.NewComponentLogger("CarryOver"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Build returns the carry-over text for conv and whether the builder had to
// degrade to the raw-transcript fallback.
func (c *CarryOver) Build(ctx context.Context, conv *session.Conversation) (text string, degraded bool) {
	if c.summarizer != nil {
		sctx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()
		out, err := c.summarizer.Summarize(sctx, conv)
		if err == nil && strings.TrimSpace(out) != "" {
			return strings.TrimSpace(out), false
		}
		if err != nil {
			logging.OrNop(c.logger).Warn("Summarizer degraded for session %s: %v", conv.ID, err)
		}
	}
	return Fallback(conv), true
}

// Fallback condenses the transcript into a deterministic digest: message
// volume, the opening and latest turns per role, plus a truncated excerpt of
// the tail. It is intentionally cheap and model-free.
func Fallback(conv *session.Conversation) string {
	if conv == nil || len(conv.Messages) == 0 {
		return "[carry-over] Previous session had no recorded messages."
	}

	var userCount, assistantCount int
	var firstUser, lastUser, firstAssistant, lastAssistant string

	for _, msg := range conv.Messages {
		snippet := snip(msg.Content, snippetLimit)
		switch {
		case msg.IsUser():
			userCount++
			if firstUser == "" {
				firstUser = snippet
			}
			lastUser = snippet
		case msg.IsAssistant():
			assistantCount++
			if firstAssistant == "" {
				firstAssistant = snippet
			}
			lastAssistant = snippet
		}
	}

	parts := []string{fmt.Sprintf("Earlier conversation had %d user message(s) and %d assistant response(s)", userCount, assistantCount)}

	var contextParts []string
	if firstUser != "" {
		contextParts = append(contextParts, fmt.Sprintf("user first asked: %s", firstUser))
	}
	if firstAssistant != "" {
		contextParts = append(contextParts, fmt.Sprintf("assistant first replied: %s", firstAssistant))
	}
	if lastUser != "" && lastUser != firstUser {
		contextParts = append(contextParts, fmt.Sprintf("recent user request: %s", lastUser))
	}
	if lastAssistant != "" && lastAssistant != firstAssistant {
		contextParts = append(contextParts, fmt.Sprintf("recent assistant reply: %s", lastAssistant))
	}
	if len(contextParts) > 0 {
		parts = append(parts, strings.Join(contextParts, " | "))
	}

	excerpt := tailExcerpt(conv, fallbackExcerptTokens)
	if excerpt != "" {
		parts = append(parts, "tail excerpt: "+excerpt)
	}

	return fmt.Sprintf("[carry-over, from transcript] %s.", strings.Join(parts, "; "))
}

func tailExcerpt(conv *session.Conversation, maxTokens int) string {
	var sb strings.Builder
	for _, msg := range conv.Recent(6) {
		if strings.TrimSpace(msg.Content) == "" {
			continue
		}
		sb.WriteString(msg.Role)
		sb.WriteString(": ")
		sb.WriteString(strings.TrimSpace(msg.Content))
		sb.WriteString(" / ")
	}
	return token.TruncateToTokens(strings.TrimSuffix(sb.String(), " / "), maxTokens)
}

func snip(content string, limit int) string {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" || limit <= 0 {
		return trimmed
	}
	runes := []rune(trimmed)
	if len(runes) <= limit {
		return trimmed
	}
	return strings.TrimSpace(string(runes[:limit])) + "…"
}
