package orchestrator

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// DebugLogger fans timestamped debug lines out to its sinks. A logger with
// no sinks, or a nil logger, discards everything. Log has the shape of the
// debug hooks taken by the gateway, decomposer and healer.
type DebugLogger struct {
	mu    sync.Mutex
	sinks []io.Writer
	files []*os.File
	now   func() time.Time
}

// DebugLogPath is where a project's debug log lives.
func DebugLogPath(projectRoot string) string {
	return filepath.Join(projectRoot, ".mender", "logs", "debug.log")
}

// NewDebugLogger returns a logger writing to the given sinks.
func NewDebugLogger(sinks ...io.Writer) *DebugLogger {
	return &DebugLogger{sinks: sinks, now: time.Now}
}

// NopLogger returns a logger that discards everything.
func NopLogger() *DebugLogger {
	return NewDebugLogger()
}

// AppendFile adds path as a sink, creating parent directories. The file is
// closed by Close.
func (l *DebugLogger) AppendFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}

	l.mu.Lock()
	l.sinks = append(l.sinks, f)
	l.files = append(l.files, f)
	l.mu.Unlock()

	fmt.Fprintf(f, "=== mender debug log opened at %s ===\n", l.now().Format(time.RFC3339))
	return nil
}

// Enabled reports whether anything is written.
func (l *DebugLogger) Enabled() bool {
	if l == nil {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.sinks) > 0
}

// Log writes one timestamped line to every sink.
func (l *DebugLogger) Log(format string, args ...interface{}) {
	if l == nil {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.sinks) == 0 {
		return
	}

	line := fmt.Sprintf("[%s] %s\n", l.now().Format("15:04:05.000"), fmt.Sprintf(format, args...))
	for _, w := range l.sinks {
		io.WriteString(w, line)
	}
}

// Close closes the files opened by AppendFile. Other sinks are left open.
func (l *DebugLogger) Close() error {
	if l == nil {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	var first error
	for _, f := range l.files {
		if err := f.Close(); err != nil && first == nil {
			first = err
		}
	}
	l.files = nil
	l.sinks = nil
	return first
}
