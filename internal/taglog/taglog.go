// Package taglog writes structured per-activity tagging records as JSON
// lines, rotated so long-running deployments do not grow the file unbounded.
package taglog

import (
	"encoding/json"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Record is one tagging decision.
type Record struct {
	Timestamp    time.Time `json:"timestamp"`
	ActivityID   int64     `json:"activity_id"`
	ActivityText string    `json:"activity_text"`
	Source       string    `json:"source"`
	Tags         []string  `json:"tags"`
	Confidences  []float64 `json:"confidences"`
	NeedsReview  bool      `json:"needs_review"`
	Method       string    `json:"method,omitempty"`
}

// Logger appends records to a rotating JSONL file. A nil Logger discards.
type Logger struct {
	mu  sync.Mutex
	out *lumberjack.Logger
}

// New opens (or creates) the JSONL file at path. An empty path disables
// logging.
func New(path string) *Logger {
	if path == "" {
		return nil
	}
	return &Logger{out: &lumberjack.Logger{
		Filename:   path,
		MaxSize:    20, // MB
		MaxBackups: 3,
		Compress:   true,
	}}
}

// Log appends one record. Errors are swallowed: tagging never fails because
// its audit trail could not be written.
func (l *Logger) Log(rec Record) {
	if l == nil {
		return
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return
	}
	l.mu.Lock()
	_, _ = l.out.Write(append(data, '\n'))
	l.mu.Unlock()
}

// Close flushes and closes the underlying file.
func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	return l.out.Close()
}
