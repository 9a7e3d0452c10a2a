package core

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// StdLogger writes structured JSON log lines to an io.Writer.
// It is the production Logger used by cmd/assistant; library code
// receives it through the Logger interface and never constructs it.
type StdLogger struct {
	mu       sync.Mutex
	out      io.Writer
	service  string
	minLevel int
}

const (
	levelDebug = iota
	levelInfo
	levelWarn
	levelError
)

var levelNames = map[int]string{
	levelDebug: "debug",
	levelInfo:  "info",
	levelWarn:  "warn",
	levelError: "error",
}

// NewStdLogger creates a JSON logger writing to stdout.
// level is one of "debug", "info", "warn", "error" (default "info").
func NewStdLogger(service, level string) *StdLogger {
	min := levelInfo
	switch level {
	case "debug":
		min = levelDebug
	case "warn":
		min = levelWarn
	case "error":
		min = levelError
	}
	return &StdLogger{
		out:      os.Stdout,
		service:  service,
		minLevel: min,
	}
}

// NewStdLoggerWithWriter creates a JSON logger writing to the given writer.
// Used by tests to capture output.
func NewStdLoggerWithWriter(service, level string, out io.Writer) *StdLogger {
	l := NewStdLogger(service, level)
	l.out = out
	return l
}

func (l *StdLogger) log(level int, msg string, fields map[string]interface{}) {
	if level < l.minLevel {
		return
	}

	entry := make(map[string]interface{}, len(fields)+4)
	for k, v := range fields {
		entry[k] = v
	}
	entry["timestamp"] = time.Now().UTC().Format(time.RFC3339Nano)
	entry["level"] = levelNames[level]
	entry["service"] = l.service
	entry["message"] = msg

	data, err := json.Marshal(entry)
	if err != nil {
		// Fields contained something non-serializable; degrade to plain text
		data = []byte(fmt.Sprintf(`{"level":%q,"service":%q,"message":%q,"marshal_error":%q}`,
			levelNames[level], l.service, msg, err.Error()))
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	_, _ = l.out.Write(append(data, '\n'))
}

func (l *StdLogger) Info(msg string, fields map[string]interface{})  { l.log(levelInfo, msg, fields) }
func (l *StdLogger) Error(msg string, fields map[string]interface{}) { l.log(levelError, msg, fields) }
func (l *StdLogger) Warn(msg string, fields map[string]interface{})  { l.log(levelWarn, msg, fields) }
func (l *StdLogger) Debug(msg string, fields map[string]interface{}) { l.log(levelDebug, msg, fields) }
