package domain

import "errors"

var (
	// ErrConfiguration marks a malformed plan (cycle, duplicate or unknown id).
	ErrConfiguration = errors.New("invalid task graph")

	// ErrInvalidRequest marks a submission rejected before planning.
	ErrInvalidRequest = errors.New("invalid task request")

	// ErrWorkerUnavailable is reported when no worker resolves for a type.
	ErrWorkerUnavailable = errors.New("no worker available")

	// ErrDependencyFailed is the cause attached to subtasks skipped because
	// an upstream subtask failed.
	ErrDependencyFailed = errors.New("dependency failed")

	// ErrWorkerExecution wraps any failure raised while a worker runs.
	ErrWorkerExecution = errors.New("worker execution failed")

	// ErrStoreUnavailable wraps transport failures of the state store.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrNotFound is returned by stores when a key is absent.
	ErrNotFound = errors.New("not found")

	// ErrTaskNotFound aborts an execution attempt whose task cannot be loaded.
	ErrTaskNotFound = errors.New("task not found")

	// ErrIsolationTimeout is reported when the isolation backend does not
	// exit within its bound.
	ErrIsolationTimeout = errors.New("isolation timeout")
)
