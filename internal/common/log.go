// File path: internal/common/log.go
package common

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"
)

// logHistory bounds how many recent records the in-memory capture keeps for
// the logs endpoint.
const logHistory = 1000

var (
	logger     *slog.Logger
	loggerOnce sync.Once
	capture    = &logBuffer{}
)

// LogEntry is one captured record as served by the logs endpoint. Component
// is derived from the conventional "component: message" prefix the service
// logs with.
type LogEntry struct {
	Time       time.Time              `json:"time"`
	Level      string                 `json:"level"`
	Message    string                 `json:"message"`
	Component  string                 `json:"component,omitempty"`
	Attributes map[string]interface{} `json:"attributes,omitempty"`
}

// Logger returns the process-wide slog logger. The level comes from
// LOG_LEVEL; records go to stdout and into the bounded capture buffer.
func Logger() *slog.Logger {
	loggerOnce.Do(func() {
		text := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel()})
		logger = slog.New(&captureHandler{next: text})
	})
	return logger
}

func logLevel() slog.Level {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("LOG_LEVEL"))) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// LogEntries returns a copy of the captured records, oldest first.
func LogEntries() []LogEntry {
	return capture.snapshot()
}

// captureHandler tees every record into the capture buffer after the wrapped
// handler has written it.
type captureHandler struct {
	next slog.Handler
}

func (h *captureHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *captureHandler) Handle(ctx context.Context, record slog.Record) error {
	err := h.next.Handle(ctx, record)
	capture.add(toEntry(record))
	return err
}

func (h *captureHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &captureHandler{next: h.next.WithAttrs(attrs)}
}

func (h *captureHandler) WithGroup(name string) slog.Handler {
	return &captureHandler{next: h.next.WithGroup(name)}
}

type logBuffer struct {
	mu      sync.RWMutex
	entries []LogEntry
}

func (b *logBuffer) add(entry LogEntry) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries = append(b.entries, entry)
	if len(b.entries) > logHistory {
		b.entries = b.entries[len(b.entries)-logHistory:]
	}
}

func (b *logBuffer) snapshot() []LogEntry {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(b.entries) == 0 {
		return nil
	}
	out := make([]LogEntry, len(b.entries))
	copy(out, b.entries)
	return out
}

func toEntry(record slog.Record) LogEntry {
	rec := record.Clone()
	entry := LogEntry{
		Time:    rec.Time.UTC(),
		Level:   strings.ToLower(rec.Level.String()),
		Message: rec.Message,
	}
	if rec.Time.IsZero() {
		entry.Time = time.Now().UTC()
	}
	if idx := strings.Index(rec.Message, ":"); idx > 0 {
		entry.Component = strings.TrimSpace(rec.Message[:idx])
	}
	rec.Attrs(func(a slog.Attr) bool {
		if entry.Attributes == nil {
			entry.Attributes = make(map[string]interface{}, rec.NumAttrs())
		}
		entry.Attributes[a.Key] = attrValue(a.Value)
		return true
	})
	return entry
}

func attrValue(v slog.Value) interface{} {
	switch v.Kind() {
	case slog.KindString:
		return v.String()
	case slog.KindBool:
		return v.Bool()
	case slog.KindInt64:
		return v.Int64()
	case slog.KindUint64:
		return v.Uint64()
	case slog.KindFloat64:
		return v.Float64()
	case slog.KindDuration:
		return v.Duration().String()
	case slog.KindTime:
		return v.Time().UTC()
	default:
		if err, ok := v.Any().(error); ok {
			return err.Error()
		}
		return v.Any()
	}
}
