package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/tracdap/platform-gateway/internal/obslog"
)

// StdoutLogger writes audit entries to standard output as JSON lines.
type StdoutLogger struct {
	config *Config
	mu     sync.Mutex
}

// NewStdoutLogger creates a StdoutLogger.
func NewStdoutLogger(cfg *Config) *StdoutLogger {
	return &StdoutLogger{config: cfg}
}

// Log writes entry to stdout, unless auditing is disabled.
func (l *StdoutLogger) Log(_ context.Context, entry *Entry) error {
	if !l.config.Enabled {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	fmt.Println("[AUDIT]", string(data))
	return nil
}

// Query is not supported by StdoutLogger.
func (l *StdoutLogger) Query(_ context.Context, _ *QueryFilter) ([]*Entry, error) {
	return nil, fmt.Errorf("query not supported for stdout logger")
}

// Close is a no-op for StdoutLogger.
func (l *StdoutLogger) Close() error {
	return nil
}

// FileLogger writes audit entries to a file, buffering writes through a
// channel and flushing periodically.
type FileLogger struct {
	config *Config
	file   *os.File
	writer *bufio.Writer
	mu     sync.Mutex
	buffer chan *Entry
	done   chan struct{}
}

// NewFileLogger opens cfg.FilePath (default "audit.log") and starts the
// background flush loop.
func NewFileLogger(cfg *Config) (*FileLogger, error) {
	if cfg.FilePath == "" {
		cfg.FilePath = "audit.log"
	}

	file, err := os.OpenFile(cfg.FilePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log file: %w", err)
	}

	bufferSize := cfg.BufferSize
	if bufferSize <= 0 {
		bufferSize = 1000
	}

	l := &FileLogger{
		config: cfg,
		file:   file,
		writer: bufio.NewWriter(file),
		buffer: make(chan *Entry, bufferSize),
		done:   make(chan struct{}),
	}

	go l.processLoop()

	return l, nil
}

// Log enqueues entry for asynchronous writing. If the buffer is full it
// writes synchronously instead of blocking the caller.
func (l *FileLogger) Log(_ context.Context, entry *Entry) error {
	if !l.config.Enabled {
		return nil
	}

	select {
	case l.buffer <- entry:
		return nil
	default:
		return l.writeEntry(entry)
	}
}

// Query is not implemented for FileLogger.
func (l *FileLogger) Query(_ context.Context, _ *QueryFilter) ([]*Entry, error) {
	return nil, fmt.Errorf("query not implemented for file logger")
}

// Close stops the flush loop, drains the buffer, and closes the file.
func (l *FileLogger) Close() error {
	close(l.done)

	l.mu.Lock()
	defer l.mu.Unlock()

drain:
	for {
		select {
		case entry := <-l.buffer:
			if err := l.writeEntryUnsafe(entry); err != nil {
				obslog.Warn("failed to write audit entry during shutdown", "error", err)
			}
		default:
			break drain
		}
	}

	if err := l.writer.Flush(); err != nil {
		obslog.Warn("failed to flush audit writer", "error", err)
	}
	return l.file.Close()
}

func (l *FileLogger) processLoop() {
	flushPeriod := l.config.FlushPeriod
	if flushPeriod <= 0 {
		flushPeriod = 5 * time.Second
	}

	ticker := time.NewTicker(flushPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-l.done:
			return
		case entry := <-l.buffer:
			if err := l.writeEntry(entry); err != nil {
				obslog.Warn("failed to write audit entry", "error", err)
			}
		case <-ticker.C:
			l.flush()
		}
	}
}

func (l *FileLogger) writeEntry(entry *Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.writeEntryUnsafe(entry)
}

func (l *FileLogger) writeEntryUnsafe(entry *Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	_, err = l.writer.Write(append(data, '\n'))
	return err
}

func (l *FileLogger) flush() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.writer.Flush(); err != nil {
		obslog.Warn("failed to flush audit writer", "error", err)
	}
}

// New constructs the Logger backend named by cfg.Backend. A nil cfg uses
// DefaultConfig. An unknown backend falls back to stdout.
func New(cfg *Config) (Logger, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	if !cfg.Enabled {
		return &NoopLogger{}, nil
	}

	switch cfg.Backend {
	case "file":
		return NewFileLogger(cfg)
	case "stdout", "":
		return NewStdoutLogger(cfg), nil
	default:
		obslog.Warn("unknown audit backend, using stdout", "backend", cfg.Backend)
		return NewStdoutLogger(cfg), nil
	}
}

// NoopLogger discards all audit entries.
type NoopLogger struct{}

// Log discards entry.
func (l *NoopLogger) Log(_ context.Context, _ *Entry) error { return nil }

// Query always returns an empty result.
func (l *NoopLogger) Query(_ context.Context, _ *QueryFilter) ([]*Entry, error) {
	return nil, nil
}

// Close is a no-op.
func (l *NoopLogger) Close() error { return nil }

var globalLogger Logger = &NoopLogger{}
var globalMu sync.RWMutex

// SetGlobal installs l as the package-level default audit logger.
func SetGlobal(l Logger) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalLogger = l
}

// Get returns the current package-level default audit logger.
func Get() Logger {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalLogger
}

// Log records entry using the package-level default audit logger.
func Log(ctx context.Context, entry *Entry) error {
	return Get().Log(ctx, entry)
}
