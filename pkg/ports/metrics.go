package ports

import "time"

// MetricsCollector records engine metrics.
type MetricsCollector interface {
	RecordTaskSubmitted(status string)
	RecordTaskCompleted(status string, duration time.Duration)
	RecordSubtaskExecuted(subtaskType, status string, duration time.Duration)
	RecordIsolationRun(outcome string)
	RecordStoreError(operation string)
	SetInFlightSubtasks(count int)
	SetActiveExecutions(count int)
	RecordReplaySession()
}
