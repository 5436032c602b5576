// Package execlog accumulates the per-run execution log attached to a retrieval job.
package execlog

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/kiranshivaraju/vehiclefolders/pkg/models"
)

// Logger is an append-only log buffer for a single job run.
// Create one per run; it is safe for concurrent use but is never shared between runs.
type Logger struct {
	mu      sync.Mutex
	entries []models.LogEntry
	sealed  bool
	slog    *slog.Logger
	now     func() time.Time
}

// New creates an empty Logger. Entries are mirrored to sl (slog.Default() when nil).
func New(sl *slog.Logger) *Logger {
	if sl == nil {
		sl = slog.Default()
	}
	return &Logger{slog: sl, now: time.Now}
}

// Info appends an info-level orchestrator entry.
func (l *Logger) Info(msg string, data any) { l.append(models.LogLevelInfo, msg, data) }

// Warn appends a warn-level orchestrator entry.
func (l *Logger) Warn(msg string, data any) { l.append(models.LogLevelWarn, msg, data) }

// Error appends an error-level orchestrator entry.
func (l *Logger) Error(msg string, data any) { l.append(models.LogLevelError, msg, data) }

func (l *Logger) append(level, msg string, data any) {
	entry := models.LogEntry{
		Level:   level,
		Message: msg,
		Data:    marshalData(data),
		Origin:  models.LogOriginOrchestrator,
	}

	l.mu.Lock()
	if l.sealed {
		l.mu.Unlock()
		return
	}
	entry.Timestamp = l.now().UnixMilli()
	l.entries = append(l.entries, entry)
	l.mu.Unlock()

	l.slog.Log(context.Background(), slogLevel(level), msg, "origin", entry.Origin)
}

// AddLogs appends entries reported by the automation service. Timestamps are kept as reported.
func (l *Logger) AddLogs(entries []models.LogEntry) {
	if len(entries) == 0 {
		return
	}

	l.mu.Lock()
	if l.sealed {
		l.mu.Unlock()
		return
	}
	for _, e := range entries {
		e.Origin = models.LogOriginExternalService
		if e.Level == "" {
			e.Level = models.LogLevelInfo
		}
		l.entries = append(l.entries, e)
	}
	l.mu.Unlock()

	for _, e := range entries {
		l.slog.Debug(e.Message, "origin", models.LogOriginExternalService, "remote_level", e.Level)
	}
}

// Logs returns a snapshot of the entries in insertion order.
func (l *Logger) Logs() []models.LogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]models.LogEntry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Len returns the number of entries appended so far.
func (l *Logger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Seal freezes the log and returns its final contents. Later appends are dropped.
func (l *Logger) Seal() []models.LogEntry {
	l.mu.Lock()
	l.sealed = true
	l.mu.Unlock()
	return l.Logs()
}

// Sealed reports whether Seal has been called.
func (l *Logger) Sealed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sealed
}

func marshalData(data any) json.RawMessage {
	switch v := data.(type) {
	case nil:
		return nil
	case json.RawMessage:
		return v
	case error:
		data = map[string]string{"error": v.Error()}
	}
	b, err := json.Marshal(data)
	if err != nil {
		b, _ = json.Marshal(map[string]string{"unserializable": err.Error()})
	}
	return b
}

func slogLevel(level string) slog.Level {
	switch level {
	case models.LogLevelWarn:
		return slog.LevelWarn
	case models.LogLevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
