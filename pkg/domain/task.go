package domain

import "time"

// Status is shared by tasks and subtasks.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// IsTerminal reports whether no further transition is possible.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Dependency is a weak reference to another subtask of the same task.
type Dependency struct {
	SubtaskID string `json:"subtask_id"`
}

// Subtask is one node of the task graph.
type Subtask struct {
	ID           string       `json:"id"`
	Type         string       `json:"type"`
	Status       Status       `json:"status"`
	Description  string       `json:"description,omitempty"`
	Result       string       `json:"result,omitempty"`
	Error        string       `json:"error,omitempty"`
	Progress     float64      `json:"progress"`
	Dependencies []Dependency `json:"dependencies,omitempty"`
	ContainerID  string       `json:"container_id,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// DependencyIDs returns the ids this subtask waits on.
func (s *Subtask) DependencyIDs() []string {
	ids := make([]string, 0, len(s.Dependencies))
	for _, d := range s.Dependencies {
		ids = append(ids, d.SubtaskID)
	}
	return ids
}

// Task is the top-level unit of work.
type Task struct {
	ID        string    `json:"task_id"`
	Status    Status    `json:"status"`
	Result    string    `json:"result,omitempty"`
	Error     string    `json:"error,omitempty"`
	Progress  float64   `json:"progress"`
	Subtasks  []Subtask `json:"subtasks"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewTask builds a pending task around a plan. Subtask statuses are reset to
// pending and timestamps filled in.
func NewTask(id string, subtasks []Subtask, now time.Time) *Task {
	now = now.UTC()
	t := &Task{
		ID:        id,
		Status:    StatusPending,
		Subtasks:  make([]Subtask, len(subtasks)),
		CreatedAt: now,
		UpdatedAt: now,
	}
	for i, st := range subtasks {
		st.Status = StatusPending
		st.Progress = 0
		st.Result = ""
		st.Error = ""
		st.ContainerID = ""
		st.CreatedAt = now
		st.UpdatedAt = now
		t.Subtasks[i] = st
	}
	return t
}

// Subtask returns a pointer to the subtask with the given id.
func (t *Task) Subtask(id string) (*Subtask, bool) {
	for i := range t.Subtasks {
		if t.Subtasks[i].ID == id {
			return &t.Subtasks[i], true
		}
	}
	return nil, false
}

// Statuses maps subtask id to its current status.
func (t *Task) Statuses() map[string]Status {
	out := make(map[string]Status, len(t.Subtasks))
	for _, st := range t.Subtasks {
		out[st.ID] = st.Status
	}
	return out
}

// CompletedFraction is the share of subtasks in the completed state.
func (t *Task) CompletedFraction() float64 {
	if len(t.Subtasks) == 0 {
		return 0
	}
	done := 0
	for _, st := range t.Subtasks {
		if st.Status == StatusCompleted {
			done++
		}
	}
	return float64(done) / float64(len(t.Subtasks))
}

// Clone returns a deep copy safe to hand to readers.
func (t *Task) Clone() *Task {
	c := *t
	c.Subtasks = make([]Subtask, len(t.Subtasks))
	for i, st := range t.Subtasks {
		st.Dependencies = append([]Dependency(nil), st.Dependencies...)
		c.Subtasks[i] = st
	}
	return &c
}

// TaskRequest is the original submission, stored alongside the task so
// workers can read its context.
type TaskRequest struct {
	Task      string                 `json:"task" binding:"required"`
	Context   map[string]interface{} `json:"context"`
	Priority  int                    `json:"priority"`
	AgentType string                 `json:"agent_type,omitempty"`
	Subtasks  []Subtask              `json:"subtasks,omitempty"`
}

// Outcome is what a worker reports for one subtask.
type Outcome struct {
	Status      Status
	Progress    float64
	Result      string
	Error       string
	ContainerID string

	// Events are log entries produced while the unit ran (isolation
	// lifecycle). The scheduler merges them into the task log.
	Events []LogEntry
}

// Failed builds a failed outcome carrying msg.
func Failed(msg string) Outcome {
	return Outcome{Status: StatusFailed, Error: msg}
}

// Completed builds a completed outcome carrying result.
func Completed(result string) Outcome {
	return Outcome{Status: StatusCompleted, Progress: 1, Result: result}
}

// SubtaskResult is a completed upstream result exposed to later subtasks.
type SubtaskResult struct {
	ID     string `json:"id"`
	Type   string `json:"type"`
	Result string `json:"result"`
}

// Input keys handed to workers.
const (
	InputTask           = "task"
	InputContext        = "context"
	InputSubtaskResults = "subtask_results"
)
