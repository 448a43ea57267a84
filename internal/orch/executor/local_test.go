package executor

import (
	"context"
	"testing"
	"time"

	"github.com/tracdap/platform-gateway/internal/apperror"
)

func waitForTerminal(t *testing.T, x *LocalExecutor, batchID string) *BatchState {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		st, err := x.PollBatch(context.Background(), batchID)
		if err != nil {
			t.Fatalf("PollBatch: %v", err)
		}
		if st.Status == StatusComplete || st.Status == StatusFailed {
			return st
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("batch did not reach a terminal state in time")
	return nil
}

func TestLocalExecutor_RunToCompletion(t *testing.T) {
	x := NewLocalExecutor(t.TempDir(), 20)
	ctx := context.Background()

	batch, err := x.CreateBatch(ctx, "job-42", "/bin/sh", []string{"-c", "echo hello > out.txt"})
	if err != nil {
		t.Fatalf("CreateBatch: %v", err)
	}

	if err := x.CreateVolume(ctx, batch.ID, "outputs", VolumeResult); err != nil {
		t.Fatalf("CreateVolume: %v", err)
	}

	if err := x.StartBatch(ctx, batch.ID); err != nil {
		t.Fatalf("StartBatch: %v", err)
	}

	final := waitForTerminal(t, x, batch.ID)
	if final.Status != StatusComplete {
		t.Fatalf("batch status = %s, want COMPLETE (stderr tail: %s)", final.Status, final.StderrTail)
	}
	if final.ExitCode != 0 {
		t.Errorf("exit code = %d, want 0", final.ExitCode)
	}

	if err := x.DestroyBatch(ctx, batch.ID); err != nil {
		t.Fatalf("DestroyBatch: %v", err)
	}
}

func TestLocalExecutor_FailingCommandCapturesStderrTail(t *testing.T) {
	x := NewLocalExecutor(t.TempDir(), 5)
	ctx := context.Background()

	batch, err := x.CreateBatch(ctx, "job-fail", "/bin/sh", []string{"-c", "echo boom 1>&2; exit 3"})
	if err != nil {
		t.Fatalf("CreateBatch: %v", err)
	}
	if err := x.StartBatch(ctx, batch.ID); err != nil {
		t.Fatalf("StartBatch: %v", err)
	}

	final := waitForTerminal(t, x, batch.ID)
	if final.Status != StatusFailed {
		t.Fatalf("batch status = %s, want FAILED", final.Status)
	}
	if final.ExitCode != 3 {
		t.Errorf("exit code = %d, want 3", final.ExitCode)
	}
	if final.StderrTail == "" {
		t.Error("expected a non-empty stderr tail")
	}
}

func TestLocalExecutor_WriteThenReadFile(t *testing.T) {
	x := NewLocalExecutor(t.TempDir(), 20)
	ctx := context.Background()

	batch, _ := x.CreateBatch(ctx, "job-io", "/bin/sh", []string{"-c", "true"})
	if err := x.CreateVolume(ctx, batch.ID, "inputs", VolumeConfig); err != nil {
		t.Fatalf("CreateVolume: %v", err)
	}
	if err := x.WriteFile(ctx, batch.ID, "inputs", "config.json", []byte(`{"a":1}`)); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	// Writing the same file again before the batch starts must fail: a
	// volume file, once written, cannot be silently overwritten.
	if err := x.WriteFile(ctx, batch.ID, "inputs", "config.json", []byte(`{"a":2}`)); apperror.Code(err) != apperror.CodeKeyExists {
		t.Errorf("WriteFile over existing file: error = %v, want CodeKeyExists", err)
	}

	// ReadFile before the batch has started must report BatchNotComplete.
	if _, err := x.ReadFile(ctx, batch.ID, "inputs", "config.json"); apperror.Code(err) != apperror.CodeBatchNotComplete {
		t.Errorf("ReadFile before run: error = %v, want CodeBatchNotComplete", err)
	}

	if err := x.StartBatch(ctx, batch.ID); err != nil {
		t.Fatalf("StartBatch: %v", err)
	}

	// WriteFile is only legal before the batch starts.
	if err := x.WriteFile(ctx, batch.ID, "inputs", "late.json", []byte(`{}`)); err == nil {
		t.Error("expected WriteFile after StartBatch to fail")
	}

	waitForTerminal(t, x, batch.ID)

	data, err := x.ReadFile(ctx, batch.ID, "inputs", "config.json")
	if err != nil {
		t.Fatalf("ReadFile after run: %v", err)
	}
	if string(data) != `{"a":1}` {
		t.Errorf("ReadFile content = %q, want {\"a\":1}", data)
	}
}

func TestLocalExecutor_DestroyBatch_RemovesSandboxAndKillsRunning(t *testing.T) {
	x := NewLocalExecutor(t.TempDir(), 20)
	ctx := context.Background()

	batch, _ := x.CreateBatch(ctx, "job-kill", "/bin/sh", []string{"-c", "sleep 30"})
	if err := x.StartBatch(ctx, batch.ID); err != nil {
		t.Fatalf("StartBatch: %v", err)
	}

	time.Sleep(20 * time.Millisecond) // let it actually start running

	if err := x.DestroyBatch(ctx, batch.ID); err != nil {
		t.Fatalf("DestroyBatch: %v", err)
	}

	if _, err := x.PollBatch(ctx, batch.ID); apperror.Code(err) != apperror.CodeBatchNotFound {
		t.Errorf("PollBatch after DestroyBatch: error = %v, want CodeBatchNotFound", err)
	}
}

func TestLocalExecutor_CreateVolume_UnknownBatch(t *testing.T) {
	x := NewLocalExecutor(t.TempDir(), 20)
	err := x.CreateVolume(context.Background(), "does-not-exist", "vol", VolumeConfig)
	if apperror.Code(err) != apperror.CodeBatchNotFound {
		t.Errorf("error = %v, want CodeBatchNotFound", err)
	}
}

func TestLocalExecutor_CreateVolume_InvalidNameRejected(t *testing.T) {
	x := NewLocalExecutor(t.TempDir(), 20)
	ctx := context.Background()
	batch, err := x.CreateBatch(ctx, "job-vol", "/bin/sh", []string{"-c", "true"})
	if err != nil {
		t.Fatalf("CreateBatch: %v", err)
	}

	if err := x.CreateVolume(ctx, batch.ID, "../escape", VolumeConfig); apperror.Code(err) != apperror.CodeInvalidArgument {
		t.Errorf("error = %v, want CodeInvalidArgument for a non-identifier name", err)
	}
	if err := x.CreateVolume(ctx, batch.ID, "trac_internal", VolumeConfig); apperror.Code(err) != apperror.CodeInvalidArgument {
		t.Errorf("error = %v, want CodeInvalidArgument for the reserved prefix", err)
	}
}
