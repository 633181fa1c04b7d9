package agent

import (
	"encoding/json"
	"strings"
	"sync/atomic"
	"time"

	"github.com/danmuck/rconsole/internal/protocol"
	"github.com/danmuck/rconsole/internal/protocol/wire"
	"github.com/rs/zerolog"
)

// LogWriter forwards zerolog JSON lines to the console as log records. Use it
// as one side of a zerolog.MultiLevelWriter. Lines written while the client is
// offline are dropped, as are lines from the session layer that carries them.
type LogWriter struct {
	client  *Client
	tag     string
	skip    map[string]struct{}
	dropped atomic.Int64
}

func NewLogWriter(c *Client, defaultTag string) *LogWriter {
	return &LogWriter{client: c, tag: defaultTag, skip: map[string]struct{}{"session": {}}}
}

// Dropped reports lines that could not be forwarded.
func (w *LogWriter) Dropped() int64 { return w.dropped.Load() }

func (w *LogWriter) Write(p []byte) (int, error) {
	if w.client == nil || !w.client.Connected() {
		w.dropped.Add(1)
		return len(p), nil
	}
	rec, ok := w.record(p)
	if !ok {
		return len(p), nil
	}
	if err := w.client.SendLog(rec); err != nil {
		w.dropped.Add(1)
	}
	return len(p), nil
}

func (w *LogWriter) record(p []byte) (*protocol.LogRecord, bool) {
	var fields map[string]any
	if err := json.Unmarshal(p, &fields); err != nil {
		return &protocol.LogRecord{
			Timestamp: time.Now().UnixMilli(),
			Level:     protocol.LevelLog,
			Tag:       wire.Str(w.tag),
			Message:   wire.Str(strings.TrimRight(string(p), "\n")),
		}, true
	}
	component := stringField(fields, "component")
	if _, skip := w.skip[component]; skip {
		return nil, false
	}
	rec := &protocol.LogRecord{
		Timestamp: parseTimestamp(fields[zerolog.TimestampFieldName]),
		Level:     levelFor(stringField(fields, zerolog.LevelFieldName)),
		Tag:       wire.Str(w.tag),
		Message:   wire.Str(stringField(fields, zerolog.MessageFieldName)),
	}
	if component != "" {
		rec.Tag = wire.Str(component)
	}
	if errText := stringField(fields, zerolog.ErrorFieldName); errText != "" {
		msg := rec.Message.Value
		if msg != "" {
			msg += ": "
		}
		rec.Message = wire.Str(msg + errText)
	}
	if stack := stringField(fields, zerolog.ErrorStackFieldName); stack != "" {
		rec.StackTrace = wire.Str(stack)
	}
	return rec, true
}

func levelFor(level string) protocol.LogLevel {
	switch level {
	case zerolog.LevelWarnValue:
		return protocol.LevelWarning
	case zerolog.LevelErrorValue:
		return protocol.LevelError
	case zerolog.LevelFatalValue, zerolog.LevelPanicValue:
		return protocol.LevelException
	default:
		return protocol.LevelLog
	}
}

func stringField(fields map[string]any, key string) string {
	v, _ := fields[key].(string)
	return v
}

func parseTimestamp(v any) int64 {
	switch t := v.(type) {
	case string:
		if ts, err := time.Parse(time.RFC3339Nano, t); err == nil {
			return ts.UnixMilli()
		}
	case float64:
		return int64(t) * 1000
	}
	return time.Now().UnixMilli()
}
