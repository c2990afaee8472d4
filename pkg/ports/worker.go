package ports

import (
	"context"

	"github.com/aescanero/dagrun/pkg/domain"
)

// Worker executes one kind of subtask. The subtask is a private copy; the
// worker reports its result through the returned outcome only.
type Worker interface {
	Execute(ctx context.Context, subtask domain.Subtask, input map[string]interface{}) (domain.Outcome, error)
}

// WorkerFunc adapts a function to Worker.
type WorkerFunc func(ctx context.Context, subtask domain.Subtask, input map[string]interface{}) (domain.Outcome, error)

// Execute calls f.
func (f WorkerFunc) Execute(ctx context.Context, subtask domain.Subtask, input map[string]interface{}) (domain.Outcome, error) {
	return f(ctx, subtask, input)
}

// IsolationRequest describes one out-of-process run.
type IsolationRequest struct {
	WorkerType string
	SubtaskID  string
	Input      map[string]interface{}
}

// IsolationStatus is the coarse state of an isolated run.
type IsolationStatus struct {
	Exited   bool
	ExitCode int
}

// IsolationResult is what an exited run reported.
type IsolationResult struct {
	Status domain.Status
	Result string
	Error  string
}

// IsolationBackend runs subtasks in a sandboxed, separately monitored
// context.
type IsolationBackend interface {
	Start(ctx context.Context, req IsolationRequest) (handle string, err error)
	Status(ctx context.Context, handle string) (IsolationStatus, error)
	Result(ctx context.Context, handle string) (IsolationResult, error)
	Remove(ctx context.Context, handle string) error
}

// LLMClient generates text for LLM-backed workers.
type LLMClient interface {
	Complete(ctx context.Context, system, prompt string) (string, error)
}

// Planner turns a request into a subtask plan.
type Planner interface {
	Plan(ctx context.Context, req *domain.TaskRequest) ([]domain.Subtask, error)
}
