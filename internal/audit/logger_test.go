package audit

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestStdoutLogger_DisabledIsNoop(t *testing.T) {
	l := NewStdoutLogger(&Config{Enabled: false})
	if err := l.Log(context.Background(), &Entry{ID: "1"}); err != nil {
		t.Fatalf("Log returned error: %v", err)
	}
}

func TestStdoutLogger_QueryUnsupported(t *testing.T) {
	l := NewStdoutLogger(&Config{Enabled: true})
	if _, err := l.Query(context.Background(), &QueryFilter{}); err == nil {
		t.Fatal("expected Query to return an error")
	}
}

func TestFileLogger_WritesAndFlushesOnClose(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audit.log")

	l, err := NewFileLogger(&Config{
		Enabled:     true,
		FilePath:    path,
		BufferSize:  10,
		FlushPeriod: time.Hour, // rely on Close to flush, not the ticker
	})
	if err != nil {
		t.Fatalf("NewFileLogger: %v", err)
	}

	entry := &Entry{
		ID:        "entry-1",
		Timestamp: time.Now(),
		Action:    ActionAddEntry,
		Outcome:   OutcomeSuccess,
		CacheName: "jobs",
		Key:       "job-42",
		TicketID:  "tkt-1",
		Revision:  1,
	}

	if err := l.Log(context.Background(), entry); err != nil {
		t.Fatalf("Log: %v", err)
	}

	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}

	var got Entry
	if err := json.Unmarshal(data[:len(data)-1], &got); err != nil { // trailing newline
		t.Fatalf("Unmarshal: %v", err)
	}
	if got.ID != entry.ID || got.TicketID != entry.TicketID {
		t.Errorf("round-tripped entry = %+v, want %+v", got, entry)
	}
}

func TestNew_UnknownBackendFallsBackToStdout(t *testing.T) {
	logger, err := New(&Config{Enabled: true, Backend: "carrier-pigeon"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, ok := logger.(*StdoutLogger); !ok {
		t.Errorf("expected fallback to *StdoutLogger, got %T", logger)
	}
}

func TestNew_DisabledReturnsNoop(t *testing.T) {
	logger, err := New(&Config{Enabled: false})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, ok := logger.(*NoopLogger); !ok {
		t.Errorf("expected *NoopLogger, got %T", logger)
	}
}

func TestGlobalLogger_SetAndLog(t *testing.T) {
	var captured *Entry
	SetGlobal(recorderLogger{capture: func(e *Entry) { captured = e }})
	defer SetGlobal(&NoopLogger{})

	if err := Log(context.Background(), &Entry{ID: "global-1"}); err != nil {
		t.Fatalf("Log: %v", err)
	}
	if captured == nil || captured.ID != "global-1" {
		t.Errorf("global Log did not reach the installed logger")
	}
}

type recorderLogger struct {
	capture func(*Entry)
}

func (r recorderLogger) Log(_ context.Context, e *Entry) error {
	r.capture(e)
	return nil
}
func (r recorderLogger) Query(_ context.Context, _ *QueryFilter) ([]*Entry, error) { return nil, nil }
func (r recorderLogger) Close() error                                             { return nil }
