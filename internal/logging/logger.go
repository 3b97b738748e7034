// Package logging provides leveled logging and decision tracing for pathsim.
// It offers two complementary outputs:
//   - A leveled slog.Logger for stderr (operational output)
//   - A DecisionLogger for structured JSONL traces of every generator batch
//     (<dir>/decisions.jsonl)
//
// Both plug into the circuit generator as generator.Observer values; nothing
// in pathsim logs through a global logger.
package logging

import (
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// LevelTrace is a custom slog level below Debug for per-batch output.
const LevelTrace = slog.LevelDebug - 4

// ParseLevel maps a string level name to a slog.Level.
// Supported values: "info", "debug", "trace" (case-insensitive).
// Unknown values default to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "trace":
		return LevelTrace
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a leveled slog.Logger writing to w.
func NewLogger(level string, w io.Writer) *slog.Logger {
	lvl := ParseLevel(level)
	opts := &slog.HandlerOptions{
		Level: lvl,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			// Label the custom trace level
			if a.Key == slog.LevelKey {
				if lvl, ok := a.Value.Any().(slog.Level); ok && lvl == LevelTrace {
					a.Value = slog.StringValue("TRACE")
				}
			}
			return a
		},
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// Decision is one line of decisions.jsonl. Event is "batch" for a
// generator iteration and "order" for an order outcome.
type Decision struct {
	Time     string         `json:"time"`
	Event    string         `json:"event"`
	Order    int            `json:"order"`
	Batch    int            `json:"batch,omitempty"`
	State    string         `json:"state,omitempty"`
	Quota    int            `json:"quota,omitempty"`
	Drawn    int            `json:"drawn"`
	Accepted int            `json:"accepted,omitempty"`
	Created  int            `json:"created"`
	Batches  int            `json:"batches,omitempty"`
	Rejected map[string]int `json:"rejected,omitempty"`
	Error    string         `json:"error,omitempty"`
}

// DecisionLogger appends Decisions to a JSONL file. It is safe for
// concurrent use, and every method is a no-op on a nil receiver.
type DecisionLogger struct {
	mu   sync.Mutex
	enc  *json.Encoder
	file *os.File
	now  func() time.Time
}

// NewDecisionLogger opens dir/decisions.jsonl for append when level is
// "debug" or "trace". At "info", or when the file cannot be opened, it
// returns nil.
func NewDecisionLogger(dir string, level string) *DecisionLogger {
	if ParseLevel(level) == slog.LevelInfo {
		return nil
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil
	}

	f, err := os.OpenFile(filepath.Join(dir, "decisions.jsonl"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil
	}
	return &DecisionLogger{file: f, enc: json.NewEncoder(f), now: time.Now}
}

// Record stamps d with the current time and appends it.
func (dl *DecisionLogger) Record(d Decision) {
	if dl == nil {
		return
	}

	dl.mu.Lock()
	defer dl.mu.Unlock()

	if dl.file == nil {
		return
	}
	d.Time = dl.now().UTC().Format(time.RFC3339Nano)
	_ = dl.enc.Encode(d)
}

// Close closes the underlying file.
func (dl *DecisionLogger) Close() {
	if dl == nil {
		return
	}

	dl.mu.Lock()
	defer dl.mu.Unlock()

	if dl.file != nil {
		dl.file.Close()
		dl.file = nil
	}
}
