// Package orchestrator runs task graphs.
//
// The manager validates and plans submissions, stores the pending task and
// starts one executor goroutine per task. The executor launches every ready
// subtask immediately, fails subtasks whose dependencies failed without
// invoking a worker, and writes a full snapshot plus the event log after each
// scheduling step. A task completes only when every subtask completed; its
// result is then a summary of all subtask results.
package orchestrator
