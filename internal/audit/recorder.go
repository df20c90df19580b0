// Package audit records every routing decision and its inputs to a
// write-only JSONL sink, feeding offline threshold tuning. Writes are
// fire-and-forget; a failed write never affects the routing call.
package audit

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"switchboard/internal/logging"
)

const previewLimit = 50

// Record is one decision log entry.
type Record struct {
	Time           time.Time `json:"time"`
	ConversationID string    `json:"conversation_id"`
	MessagePreview string    `json:"message_preview"`
	Decision       string    `json:"decision"`
	Confidence     float64   `json:"confidence"`
	Reason         string    `json:"reason"`
	SignalsFired   []string  `json:"signals_fired"`
	Degraded       []string  `json:"degraded,omitempty"`
	UserOverride   bool      `json:"user_override"`
	LatencyMS      int64     `json:"latency_ms"`
}

// Preview truncates a message to the logged prefix.
func Preview(message string) string {
	trimmed := strings.TrimSpace(message)
	runes := []rune(trimmed)
	if len(runes) <= previewLimit {
		return trimmed
	}
	return string(runes[:previewLimit])
}

// Recorder appends records to a JSONL file.
type Recorder struct {
	path   string
	mu     sync.Mutex
	logger logging.Logger
}

// NewRecorder opens a recorder on the given path, expanding a leading ~/.
func NewRecorder(path string) *Recorder {
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		path = filepath.Join(home, path[2:])
	}
	return &Recorder{
		path:   path,
		logger: logging.NewComponentLogger("DecisionLog"),
	}
}

// Record appends one entry. Failures are logged and swallowed: the decision
// log is observability, not a dependency of the routing path.
func (r *Recorder) Record(rec Record) {
	if r == nil {
		return
	}
	if rec.Time.IsZero() {
		rec.Time = time.Now()
	}
	data, err := json.Marshal(rec)
	if err != nil {
		logging.OrNop(r.logger).Error("Failed to encode decision record: %v", err)
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	f, err := os.OpenFile(r.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		logging.OrNop(r.logger).Error("Failed to open decision log %s: %v", r.path, err)
		return
	}
	defer func() { _ = f.Close() }()
	if _, err := f.Write(append(data, '\n')); err != nil {
		logging.OrNop(r.logger).Error("Failed to append decision record: %v", err)
	}
}
