package executor

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tracdap/platform-gateway/internal/apperror"
	"github.com/tracdap/platform-gateway/internal/obslog"
)

// volumeNamePattern is the "valid identifier" a volume name must satisfy
// (§4.10): a letter followed by letters, digits, underscores or hyphens.
var volumeNamePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_-]*$`)

// reservedVolumePrefix is withheld from caller-chosen volume names so it
// stays free for sandbox-internal directories this executor may add later
// without risking a collision with a volume a caller already created.
const reservedVolumePrefix = "trac_"

func validateVolumeName(name string) error {
	if !volumeNamePattern.MatchString(name) {
		return apperror.New(apperror.CodeInvalidArgument, "volume name must be a valid identifier").WithField(name)
	}
	if strings.HasPrefix(name, reservedVolumePrefix) {
		return apperror.New(apperror.CodeInvalidArgument, "volume name must not use the reserved \"trac_\" prefix").WithField(name)
	}
	return nil
}

// LocalExecutor runs batches as child processes of the orchestrator,
// sandboxed under a per-batch temporary directory beneath Root.
type LocalExecutor struct {
	Root            string
	StderrTailLines int

	mu      sync.Mutex
	batches map[string]*runningBatch
}

type runningBatch struct {
	state  BatchState
	cmd    *exec.Cmd
	done   chan struct{}
	waited bool
}

// NewLocalExecutor constructs a LocalExecutor rooted at root. If
// stderrTailLines <= 0, a default of 20 is used.
func NewLocalExecutor(root string, stderrTailLines int) *LocalExecutor {
	if stderrTailLines <= 0 {
		stderrTailLines = 20
	}
	return &LocalExecutor{
		Root:            root,
		StderrTailLines: stderrTailLines,
		batches:         make(map[string]*runningBatch),
	}
}

func randomSuffix() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
}

func (x *LocalExecutor) CreateBatch(_ context.Context, jobKey, command string, args []string) (*BatchState, error) {
	if err := os.MkdirAll(x.Root, 0o755); err != nil {
		return nil, apperror.Wrap(err, apperror.CodeSandboxError, "create sandbox root")
	}

	dirName := fmt.Sprintf("tracdap_%s_%s", sanitize(jobKey), randomSuffix())
	sandboxDir := filepath.Join(x.Root, dirName)
	if err := os.Mkdir(sandboxDir, 0o755); err != nil {
		return nil, apperror.Wrap(err, apperror.CodeSandboxError, "create sandbox directory")
	}

	id := uuid.NewString()
	rb := &runningBatch{
		state: BatchState{
			ID:         id,
			Status:     StatusCreated,
			Command:    command,
			Args:       args,
			SandboxDir: sandboxDir,
		},
		done: make(chan struct{}),
	}

	x.mu.Lock()
	x.batches[id] = rb
	x.mu.Unlock()

	out := rb.state
	return &out, nil
}

func sanitize(s string) string {
	s = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, s)
	if s == "" {
		return "job"
	}
	return s
}

func (x *LocalExecutor) lookup(batchID string) (*runningBatch, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	rb, ok := x.batches[batchID]
	if !ok {
		return nil, apperror.ErrBatchNotFound
	}
	return rb, nil
}

func (x *LocalExecutor) CreateVolume(_ context.Context, batchID, volumeName string, volumeType VolumeType) error {
	if err := validateVolumeName(volumeName); err != nil {
		return err
	}
	rb, err := x.lookup(batchID)
	if err != nil {
		return err
	}
	dir := filepath.Join(rb.state.SandboxDir, volumeName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return apperror.Wrap(err, apperror.CodeSandboxError, "create volume directory")
	}
	obslog.Debug("created batch volume", "batch_id", batchID, "volume", volumeName, "volume_type", volumeType)
	return nil
}

func (x *LocalExecutor) resolvePath(batchID, volumeName, relativePath string) (string, error) {
	rb, err := x.lookup(batchID)
	if err != nil {
		return "", err
	}

	volumeDir := filepath.Join(rb.state.SandboxDir, volumeName)
	full := filepath.Join(volumeDir, filepath.Clean("/"+relativePath))
	if !strings.HasPrefix(full, volumeDir) {
		return "", apperror.New(apperror.CodeSandboxError, "path escapes volume directory").WithField(relativePath)
	}
	return full, nil
}

func (x *LocalExecutor) WriteFile(_ context.Context, batchID, volumeName, relativePath string, data []byte) error {
	rb, err := x.lookup(batchID)
	if err != nil {
		return err
	}

	x.mu.Lock()
	status := rb.state.Status
	x.mu.Unlock()
	if status != StatusCreated {
		return apperror.New(apperror.CodeSandboxError, "writeFile is only legal before the batch has started").WithField(batchID)
	}

	volumeDir := filepath.Join(rb.state.SandboxDir, volumeName)
	if info, statErr := os.Stat(volumeDir); validateVolumeName(volumeName) != nil || statErr != nil || !info.IsDir() {
		return apperror.New(apperror.CodeVolumeNotFound, "volume has not been created").WithField(volumeName)
	}

	full, err := x.resolvePath(batchID, volumeName, relativePath)
	if err != nil {
		return err
	}
	if _, statErr := os.Stat(full); statErr == nil {
		return apperror.New(apperror.CodeKeyExists, "file already exists in volume").WithField(relativePath)
	} else if !os.IsNotExist(statErr) {
		return apperror.Wrap(statErr, apperror.CodeSandboxError, "stat file")
	}

	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return apperror.Wrap(err, apperror.CodeSandboxError, "create parent directory")
	}
	if err := os.WriteFile(full, data, 0o644); err != nil {
		return apperror.Wrap(err, apperror.CodeSandboxError, "write file")
	}
	return nil
}

func (x *LocalExecutor) ReadFile(_ context.Context, batchID, volumeName, relativePath string) ([]byte, error) {
	rb, err := x.lookup(batchID)
	if err != nil {
		return nil, err
	}

	x.mu.Lock()
	status := rb.state.Status
	x.mu.Unlock()
	if status == StatusCreated || status == StatusRunning {
		return nil, apperror.New(apperror.CodeBatchNotComplete, "batch has not finished running")
	}

	full, err := x.resolvePath(batchID, volumeName, relativePath)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return nil, apperror.Wrap(err, apperror.CodeSandboxError, "read file")
	}
	return data, nil
}

func (x *LocalExecutor) StartBatch(_ context.Context, batchID string) error {
	rb, err := x.lookup(batchID)
	if err != nil {
		return err
	}

	x.mu.Lock()
	if rb.state.Status != StatusCreated {
		x.mu.Unlock()
		return apperror.New(apperror.CodeSandboxError, "batch has already been started")
	}
	x.mu.Unlock()

	stdoutPath := filepath.Join(rb.state.SandboxDir, "stdout.log")
	stderrPath := filepath.Join(rb.state.SandboxDir, "stderr.log")

	stdout, err := os.Create(stdoutPath)
	if err != nil {
		return apperror.Wrap(err, apperror.CodeSandboxError, "create stdout log")
	}
	stderr, err := os.Create(stderrPath)
	if err != nil {
		stdout.Close()
		return apperror.Wrap(err, apperror.CodeSandboxError, "create stderr log")
	}

	cmd := exec.Command(rb.state.Command, rb.state.Args...)
	cmd.Dir = rb.state.SandboxDir
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		stdout.Close()
		stderr.Close()
		return apperror.Wrap(err, apperror.CodeSandboxError, "start process")
	}

	x.mu.Lock()
	rb.cmd = cmd
	rb.state.Status = StatusRunning
	rb.state.StartedAt = time.Now()
	x.mu.Unlock()

	go func() {
		waitErr := cmd.Wait()
		stdout.Close()
		stderr.Close()

		x.mu.Lock()
		rb.state.FinishedAt = time.Now()
		rb.state.ExitCode = cmd.ProcessState.ExitCode()
		if waitErr != nil {
			rb.state.Status = StatusFailed
			rb.state.StderrTail = tailFile(stderrPath, x.StderrTailLines)
		} else {
			rb.state.Status = StatusComplete
		}
		rb.waited = true
		x.mu.Unlock()
		close(rb.done)
	}()

	return nil
}

func (x *LocalExecutor) PollBatch(_ context.Context, batchID string) (*BatchState, error) {
	rb, err := x.lookup(batchID)
	if err != nil {
		return nil, err
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	out := rb.state
	return &out, nil
}

func (x *LocalExecutor) DestroyBatch(_ context.Context, batchID string) error {
	x.mu.Lock()
	rb, ok := x.batches[batchID]
	if !ok {
		x.mu.Unlock()
		return apperror.ErrBatchNotFound
	}
	delete(x.batches, batchID)
	cmd := rb.cmd
	status := rb.state.Status
	sandboxDir := rb.state.SandboxDir
	x.mu.Unlock()

	if status == StatusRunning && cmd != nil && cmd.Process != nil {
		if err := cmd.Process.Kill(); err != nil {
			obslog.Warn("failed to kill running batch process", "batch_id", batchID, "error", err)
		}
		<-rb.done
	}

	if err := os.RemoveAll(sandboxDir); err != nil {
		return apperror.Wrap(err, apperror.CodeSandboxError, "remove sandbox directory")
	}
	return nil
}

// tailFile returns the last n lines of the file at path, or "" if it
// cannot be read.
func tailFile(path string, n int) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()

	lines := make([]string, 0, n)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
		if len(lines) > n {
			lines = lines[1:]
		}
	}
	return strings.Join(lines, "\n")
}
