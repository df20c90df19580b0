package router

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"switchboard/internal/config"
	"switchboard/internal/session"
)

type stubContradictionClassifier struct {
	conflict bool
	err      error
}

func (s stubContradictionClassifier) Contradicts(ctx context.Context, a, b string) (bool, error) {
	return s.conflict, s.err
}

func transcript(entries ...[2]string) *session.Conversation {
	conv := &session.Conversation{ID: "c1"}
	ts := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	for i, entry := range entries {
		conv.Messages = append(conv.Messages, session.Message{
			Role:      entry[0],
			Content:   entry[1],
			Timestamp: ts.Add(time.Duration(i) * time.Minute),
		})
	}
	return conv
}

func TestDetectErrorLoop(t *testing.T) {
	cfg := config.Default()
	assessor := NewHealthAssessor(nil)

	t.Run("same error repeated thrice", func(t *testing.T) {
		conv := transcript(
			[2]string{"assistant", "error: cannot find package foo at line 10"},
			[2]string{"user", "try again"},
			[2]string{"assistant", "error: cannot find package foo at line 42"},
			[2]string{"user", "again"},
			[2]string{"assistant", "ERROR: cannot find package foo at line 7"},
		)
		report := assessor.Assess(context.Background(), conv, cfg)
		assert.True(t, report.ErrorLoop)
	})

	t.Run("same panic at different addresses", func(t *testing.T) {
		conv := transcript(
			[2]string{"assistant", "panic: runtime error: invalid memory address (0xc0000b4000)"},
			[2]string{"assistant", "panic: runtime error: invalid memory address (0xc000212000)"},
			[2]string{"assistant", "panic: runtime error: invalid memory address (0xc0004fe120)"},
		)
		report := assessor.Assess(context.Background(), conv, cfg)
		assert.True(t, report.ErrorLoop)
	})

	t.Run("two repeats stay healthy", func(t *testing.T) {
		conv := transcript(
			[2]string{"assistant", "error: cannot find package foo"},
			[2]string{"assistant", "error: cannot find package foo"},
		)
		report := assessor.Assess(context.Background(), conv, cfg)
		assert.False(t, report.ErrorLoop)
	})

	t.Run("different errors break the run", func(t *testing.T) {
		conv := transcript(
			[2]string{"assistant", "error: cannot find package foo"},
			[2]string{"assistant", "error: undefined variable bar"},
			[2]string{"assistant", "error: cannot find package foo"},
		)
		report := assessor.Assess(context.Background(), conv, cfg)
		assert.False(t, report.ErrorLoop)
	})

	t.Run("success resets the run", func(t *testing.T) {
		conv := transcript(
			[2]string{"assistant", "error: build failed with exit code 1"},
			[2]string{"assistant", "error: build failed with exit code 1"},
			[2]string{"assistant", "build succeeded"},
			[2]string{"assistant", "error: build failed with exit code 1"},
		)
		report := assessor.Assess(context.Background(), conv, cfg)
		assert.False(t, report.ErrorLoop)
	})
}

func TestStructuralErrorKeyNormalizes(t *testing.T) {
	a := structuralErrorKey("Error: nil pointer at main.go:120 (0xc0000b4000)")
	b := structuralErrorKey("error:  nil pointer at main.go:57   (0xc000212000)")
	assert.Equal(t, a, b)
}

func TestDetectFrustration(t *testing.T) {
	cfg := config.Default()
	assessor := NewHealthAssessor(nil)

	t.Run("short pushback after assistant", func(t *testing.T) {
		conv := transcript(
			[2]string{"assistant", "I renamed the function as requested."},
			[2]string{"user", "no, that's wrong"},
		)
		report := assessor.Assess(context.Background(), conv, cfg)
		assert.True(t, report.Frustration)
	})

	t.Run("chinese pushback", func(t *testing.T) {
		conv := transcript(
			[2]string{"assistant", "我已经修改了配置。"},
			[2]string{"user", "不对"},
		)
		report := assessor.Assess(context.Background(), conv, cfg)
		assert.True(t, report.Frustration)
	})

	t.Run("long correction is not frustration", func(t *testing.T) {
		conv := transcript(
			[2]string{"assistant", "I renamed the function as requested."},
			[2]string{"user", "no, what I actually meant was renaming the interface method and keeping the struct field as it was before"},
		)
		report := assessor.Assess(context.Background(), conv, cfg)
		assert.False(t, report.Frustration)
	})
}

func TestDetectContradiction(t *testing.T) {
	cfg := config.Default()
	conv := transcript(
		[2]string{"assistant", "The cache is enabled by default."},
		[2]string{"user", "ok"},
		[2]string{"assistant", "You must enable the cache manually?"},
	)

	t.Run("classifier flags conflict", func(t *testing.T) {
		assessor := NewHealthAssessor(stubContradictionClassifier{conflict: true})
		report := assessor.Assess(context.Background(), conv, cfg)
		assert.True(t, report.Contradiction)
	})

	t.Run("classifier failure degrades to healthy", func(t *testing.T) {
		assessor := NewHealthAssessor(stubContradictionClassifier{err: errors.New("offline")})
		report := assessor.Assess(context.Background(), conv, cfg)
		assert.False(t, report.Contradiction)
	})

	t.Run("no classifier no check", func(t *testing.T) {
		report := NewHealthAssessor(nil).Assess(context.Background(), conv, cfg)
		assert.False(t, report.Contradiction)
	})
}

func TestDetectDeadEnd(t *testing.T) {
	cfg := config.Default()
	assessor := NewHealthAssessor(nil)

	t.Run("no way forward", func(t *testing.T) {
		conv := transcript(
			[2]string{"user", "the build still breaks"},
			[2]string{"assistant", "I am out of ideas here."},
		)
		report := assessor.Assess(context.Background(), conv, cfg)
		assert.True(t, report.DeadEnd)
	})

	t.Run("question offers a way forward", func(t *testing.T) {
		conv := transcript(
			[2]string{"assistant", "Could you paste the full output?"},
		)
		report := assessor.Assess(context.Background(), conv, cfg)
		assert.False(t, report.DeadEnd)
	})

	t.Run("instruction offers a way forward", func(t *testing.T) {
		conv := transcript(
			[2]string{"assistant", "Try running the build with verbose logging enabled."},
		)
		report := assessor.Assess(context.Background(), conv, cfg)
		assert.False(t, report.DeadEnd)
	})

	t.Run("user last message is fine", func(t *testing.T) {
		conv := transcript(
			[2]string{"user", "thanks"},
		)
		report := assessor.Assess(context.Background(), conv, cfg)
		assert.False(t, report.DeadEnd)
	})
}

func TestHealthReportUnhealthy(t *testing.T) {
	assert.False(t, HealthReport{}.Unhealthy())
	assert.True(t, HealthReport{Frustration: true}.Unhealthy())
	assert.Equal(t, []string{"error_loop", "dead_end"}, HealthReport{ErrorLoop: true, DeadEnd: true}.reasons())
}
