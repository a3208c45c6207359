package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// InvocationLog is the record written once per finished invocation.
type InvocationLog struct {
	Timestamp    time.Time `json:"timestamp"`
	RequestID    string    `json:"request_id"`
	InvocationID string    `json:"invocation_id"`
	TraceID      string    `json:"trace_id,omitempty"`
	SpanID       string    `json:"span_id,omitempty"`
	Function     string    `json:"function,omitempty"`
	FunctionID   string    `json:"function_id"`
	DurationMs   int64     `json:"duration_ms"`
	Async        bool      `json:"async"`
	Success      bool      `json:"success"`
	Error        string    `json:"error,omitempty"`
	Outputs      int       `json:"outputs,omitempty"`
}

// Logger writes invocation logs as JSON lines to a file and, optionally,
// a one-line summary to the console.
type Logger struct {
	mu      sync.Mutex
	file    io.WriteCloser
	console io.Writer
}

var defaultLogger = &Logger{}

// Default returns the process-wide invocation logger. It discards records
// until SetOutput or SetConsole is called.
func Default() *Logger {
	return defaultLogger
}

// SetOutput appends invocation logs to the file at path.
func (l *Logger) SetOutput(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open invocation log: %w", err)
	}
	l.SetWriter(f)
	return nil
}

// SetWriter sends JSON lines to w, closing any previous destination.
func (l *Logger) SetWriter(w io.WriteCloser) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file != nil {
		l.file.Close()
	}
	l.file = w
}

// SetConsole sets the writer for human-readable summaries; nil disables them.
func (l *Logger) SetConsole(w io.Writer) {
	l.mu.Lock()
	l.console = w
	l.mu.Unlock()
}

// Log writes entry. The timestamp is set when zero.
func (l *Logger) Log(entry *InvocationLog) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil && l.console == nil {
		return
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}

	if l.console != nil {
		status := "ok"
		if !entry.Success {
			status = "failed"
		}
		mode := "sync"
		if entry.Async {
			mode = "async"
		}
		fmt.Fprintf(l.console, "[invoke] %s %s %s %dms [%s]\n",
			status, entry.InvocationID, entry.FunctionID, entry.DurationMs, mode)
		if entry.Error != "" {
			fmt.Fprintf(l.console, "[invoke]   error: %s\n", entry.Error)
		}
	}

	if l.file != nil {
		data, err := json.Marshal(entry)
		if err != nil {
			return
		}
		l.file.Write(append(data, '\n'))
	}
}

// Close closes the log file.
func (l *Logger) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file != nil {
		l.file.Close()
		l.file = nil
	}
}
