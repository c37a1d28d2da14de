package orchestrator

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
)

// DebugLogFile is the debug log location inside a workspace.
const DebugLogFile = "orchestrator-debug.log"

// DebugLogger writes detailed orchestration traces to a file, separate from
// the operator-facing log. A nil or zero DebugLogger discards everything.
type DebugLogger struct {
	mu     sync.Mutex
	out    *log.Logger
	closer io.Closer
}

// NewDebugLogger opens logPath for appending, creating parent directories.
// An empty path returns a logger that discards.
func NewDebugLogger(logPath string) (*DebugLogger, error) {
	if logPath == "" {
		return NopLogger(), nil
	}
	if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	l := newWriterLogger(f)
	l.closer = f
	return l, nil
}

func newWriterLogger(w io.Writer) *DebugLogger {
	return &DebugLogger{out: log.New(w, "", log.Ltime|log.Lmicroseconds)}
}

// NewDebugLoggerForWorkspace logs to .stepwise/logs in the workspace, or
// discards when the file cannot be opened.
func NewDebugLoggerForWorkspace(workspace string) *DebugLogger {
	l, err := NewDebugLogger(filepath.Join(workspace, ".stepwise", "logs", DebugLogFile))
	if err != nil {
		log.Printf("[orchestrator] WARNING: debug log disabled: %v", err)
		return NopLogger()
	}
	return l
}

// NopLogger returns a logger that discards everything.
func NopLogger() *DebugLogger {
	return &DebugLogger{}
}

// Log writes one line.
func (l *DebugLogger) Log(format string, args ...any) {
	if l == nil || l.out == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.out.Printf(format, args...)
}

// Close closes the underlying file, if any.
func (l *DebugLogger) Close() error {
	if l == nil || l.closer == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	err := l.closer.Close()
	l.out, l.closer = nil, nil
	return err
}
