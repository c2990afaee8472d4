package process

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/aescanero/dagrun/pkg/domain"
	"github.com/aescanero/dagrun/pkg/ports"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Backend runs isolated subtasks as child processes. The process reports its
// outcome as a JSON line {"status": ..., "result": ..., "error": ...} on
// stdout; without one the exit code decides.
type Backend struct {
	shell  string
	script string
	logger *zap.Logger

	mu   sync.Mutex
	runs map[string]*run
}

type run struct {
	cmd      *exec.Cmd
	cancel   context.CancelFunc
	stdout   *syncBuffer
	stderr   *syncBuffer
	done     chan struct{}
	exitCode int
}

// NewBackend creates a backend executing script with shell -c
func NewBackend(shell, script string, logger *zap.Logger) *Backend {
	return &Backend{
		shell:  shell,
		script: script,
		logger: logger,
		runs:   make(map[string]*run),
	}
}

// Start launches a process for req and returns its handle
func (b *Backend) Start(ctx context.Context, req ports.IsolationRequest) (string, error) {
	input, err := json.Marshal(req.Input)
	if err != nil {
		return "", fmt.Errorf("failed to marshal context: %w", err)
	}

	handle := fmt.Sprintf("worker-%s-%s", req.WorkerType, uuid.NewString()[:8])

	// The process outlives the caller's request context; Remove stops it.
	procCtx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(procCtx, b.shell, "-c", b.script)
	cmd.WaitDelay = time.Second
	cmd.Env = append(os.Environ(),
		"SUBTASK_ID="+req.SubtaskID,
		"WORKER_TYPE="+req.WorkerType,
		"TASK_CONTEXT="+string(input),
	)

	r := &run{
		cmd:    cmd,
		cancel: cancel,
		stdout: &syncBuffer{},
		stderr: &syncBuffer{},
		done:   make(chan struct{}),
	}
	cmd.Stdout = r.stdout
	cmd.Stderr = r.stderr

	if err := cmd.Start(); err != nil {
		cancel()
		return "", fmt.Errorf("failed to start process for subtask %s: %w", req.SubtaskID, err)
	}

	go func() {
		err := cmd.Wait()
		var exitErr *exec.ExitError
		switch {
		case err == nil:
			r.exitCode = 0
		case errors.As(err, &exitErr):
			r.exitCode = exitErr.ExitCode()
		default:
			r.exitCode = -1
		}
		close(r.done)
	}()

	b.mu.Lock()
	b.runs[handle] = r
	b.mu.Unlock()

	b.logger.Info("isolated process started",
		zap.String("handle", handle),
		zap.String("subtask_id", req.SubtaskID),
		zap.String("worker_type", req.WorkerType),
		zap.Int("pid", cmd.Process.Pid),
		zap.Int("tracked", b.running()))

	return handle, nil
}

// Status reports whether the process has exited
func (b *Backend) Status(ctx context.Context, handle string) (ports.IsolationStatus, error) {
	r, err := b.get(handle)
	if err != nil {
		return ports.IsolationStatus{}, err
	}

	select {
	case <-r.done:
		return ports.IsolationStatus{Exited: true, ExitCode: r.exitCode}, nil
	default:
		return ports.IsolationStatus{}, nil
	}
}

// Result parses the outcome of an exited process
func (b *Backend) Result(ctx context.Context, handle string) (ports.IsolationResult, error) {
	r, err := b.get(handle)
	if err != nil {
		return ports.IsolationResult{}, err
	}

	select {
	case <-r.done:
	default:
		return ports.IsolationResult{}, fmt.Errorf("process %s has not exited", handle)
	}

	out := r.stdout.String()
	if res, ok := parseReport(out); ok {
		return res, nil
	}

	if r.exitCode == 0 {
		return ports.IsolationResult{Status: domain.StatusCompleted, Result: strings.TrimSpace(out)}, nil
	}

	msg := strings.TrimSpace(r.stderr.String())
	if msg == "" {
		msg = strings.TrimSpace(out)
	}
	if msg == "" {
		msg = fmt.Sprintf("process exited with code %d", r.exitCode)
	}
	return ports.IsolationResult{Status: domain.StatusFailed, Error: msg}, nil
}

// Remove stops the process if needed and forgets the handle
func (b *Backend) Remove(ctx context.Context, handle string) error {
	b.mu.Lock()
	r, ok := b.runs[handle]
	delete(b.runs, handle)
	b.mu.Unlock()

	if !ok {
		return nil
	}

	r.cancel()
	select {
	case <-r.done:
	case <-time.After(5 * time.Second):
		return fmt.Errorf("process %s did not stop", handle)
	}

	b.logger.Debug("isolated process removed", zap.String("handle", handle))
	return nil
}

// running returns the number of tracked processes
func (b *Backend) running() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.runs)
}

func (b *Backend) get(handle string) (*run, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	r, ok := b.runs[handle]
	if !ok {
		return nil, fmt.Errorf("unknown process handle %s", handle)
	}
	return r, nil
}

type report struct {
	Status string `json:"status"`
	Result string `json:"result"`
	Error  string `json:"error"`
}

func parseReport(out string) (ports.IsolationResult, bool) {
	scanner := bufio.NewScanner(strings.NewReader(out))
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "{") {
			continue
		}
		var r report
		if err := json.Unmarshal([]byte(line), &r); err != nil || r.Status == "" {
			continue
		}
		status := domain.StatusFailed
		if domain.Status(r.Status) == domain.StatusCompleted {
			status = domain.StatusCompleted
		}
		return ports.IsolationResult{Status: status, Result: r.Result, Error: r.Error}, true
	}
	return ports.IsolationResult{}, false
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.String()
}
