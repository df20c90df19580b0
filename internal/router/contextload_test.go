package router

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"switchboard/internal/config"
	"switchboard/internal/session"
	"switchboard/internal/token"
)

func convWithTokens(window int, estimates ...int) *session.Conversation {
	conv := &session.Conversation{ID: "c1", ModelMaxTokens: window}
	for _, estimate := range estimates {
		conv.Messages = append(conv.Messages, session.Message{
			Role:          "user",
			Content:       "placeholder",
			TokenEstimate: estimate,
		})
	}
	return conv
}

func TestEvaluateContextBands(t *testing.T) {
	cfg := config.Default()

	tests := []struct {
		name      string
		estimates []int
		severity  Severity
	}{
		{"well below warning", []int{100}, SeverityNone},
		{"just under warning", []int{599}, SeverityNone},
		{"exactly warning", []int{600}, SeverityLow},
		{"inside critical band", []int{850}, SeverityHigh},
		{"exactly critical", []int{800}, SeverityHigh},
		{"exactly emergency", []int{950}, SeverityCritical},
		{"beyond window", []int{1200}, SeverityCritical},
		{"summed across messages", []int{400, 400}, SeverityHigh},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			load := EvaluateContext(convWithTokens(1000, tt.estimates...), nil, cfg)
			assert.Equal(t, tt.severity, load.Signal.Severity)
		})
	}
}

func TestEvaluateContextBandPredicates(t *testing.T) {
	cfg := config.Default()

	warning := EvaluateContext(convWithTokens(1000, 650), nil, cfg)
	assert.True(t, warning.Warning())
	assert.False(t, warning.Critical())
	assert.False(t, warning.Emergency())

	critical := EvaluateContext(convWithTokens(1000, 900), nil, cfg)
	assert.True(t, critical.Critical())
	assert.False(t, critical.Emergency())

	emergency := EvaluateContext(convWithTokens(1000, 980), nil, cfg)
	assert.True(t, emergency.Emergency())
	assert.False(t, emergency.Critical())
}

func TestEvaluateContextUnknownWindow(t *testing.T) {
	cfg := config.Default()
	conv := &session.Conversation{
		ID:       "c1",
		Messages: []session.Message{{Role: "user", Content: "hello", TokenEstimate: 500}},
	}

	load := EvaluateContext(conv, nil, cfg)
	assert.Equal(t, SeverityNone, load.Signal.Severity)
	assert.Zero(t, load.Utilization)
}

func TestEvaluateContextFallsBackToEstimator(t *testing.T) {
	cfg := config.Default()
	conv := &session.Conversation{
		ID:             "c1",
		ModelMaxTokens: 100,
		Messages: []session.Message{
			{Role: "user", Content: "no precomputed estimate on this message"},
		},
	}
	estimator := token.EstimatorFunc(func(text string) int { return 90 })

	load := EvaluateContext(conv, estimator, cfg)
	assert.Equal(t, SeverityHigh, load.Signal.Severity)
	assert.InDelta(t, 0.9, load.Utilization, 1e-9)
}
