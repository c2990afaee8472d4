package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector implements MetricsCollector using Prometheus
type Collector struct {
	tasksSubmitted   *prometheus.CounterVec
	tasksCompleted   *prometheus.CounterVec
	taskDuration     *prometheus.HistogramVec
	subtasksExecuted *prometheus.CounterVec
	subtaskDuration  *prometheus.HistogramVec
	isolationRuns    *prometheus.CounterVec
	storeErrors      *prometheus.CounterVec
	inFlight         prometheus.Gauge
	activeExecutions prometheus.Gauge
	replaySessions   prometheus.Counter
}

// NewCollector creates a Prometheus metrics collector registered on reg
func NewCollector(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		tasksSubmitted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dagrun_tasks_submitted_total",
				Help: "Total number of tasks submitted",
			},
			[]string{"status"},
		),
		tasksCompleted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dagrun_tasks_finished_total",
				Help: "Total number of tasks that reached a terminal status",
			},
			[]string{"status"},
		),
		taskDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dagrun_task_duration_seconds",
				Help:    "Task execution duration in seconds",
				Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
			},
			[]string{"status"},
		),
		subtasksExecuted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dagrun_subtasks_executed_total",
				Help: "Total number of subtasks executed",
			},
			[]string{"subtask_type", "status"},
		),
		subtaskDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dagrun_subtask_duration_seconds",
				Help:    "Subtask execution duration in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"subtask_type"},
		),
		isolationRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dagrun_isolation_runs_total",
				Help: "Total number of isolated subtask runs by outcome",
			},
			[]string{"outcome"},
		),
		storeErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dagrun_store_errors_total",
				Help: "Total number of failed state store operations",
			},
			[]string{"operation"},
		),
		inFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "dagrun_subtasks_in_flight",
				Help: "Number of subtasks currently being executed",
			},
		),
		activeExecutions: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "dagrun_active_executions",
				Help: "Number of currently running tasks",
			},
		),
		replaySessions: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "dagrun_replay_sessions_total",
				Help: "Total number of replay sessions started",
			},
		),
	}
}

// RecordTaskSubmitted records a task submission
func (c *Collector) RecordTaskSubmitted(status string) {
	c.tasksSubmitted.WithLabelValues(status).Inc()
}

// RecordTaskCompleted records a task reaching a terminal status
func (c *Collector) RecordTaskCompleted(status string, duration time.Duration) {
	c.tasksCompleted.WithLabelValues(status).Inc()
	c.taskDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// RecordSubtaskExecuted records one subtask outcome
func (c *Collector) RecordSubtaskExecuted(subtaskType, status string, duration time.Duration) {
	c.subtasksExecuted.WithLabelValues(subtaskType, status).Inc()
	c.subtaskDuration.WithLabelValues(subtaskType).Observe(duration.Seconds())
}

// RecordIsolationRun records an isolated run outcome (completed, failed, timeout)
func (c *Collector) RecordIsolationRun(outcome string) {
	c.isolationRuns.WithLabelValues(outcome).Inc()
}

// RecordStoreError records a failed store operation
func (c *Collector) RecordStoreError(operation string) {
	c.storeErrors.WithLabelValues(operation).Inc()
}

// SetInFlightSubtasks sets the number of subtasks being executed
func (c *Collector) SetInFlightSubtasks(count int) {
	c.inFlight.Set(float64(count))
}

// SetActiveExecutions sets the number of running tasks
func (c *Collector) SetActiveExecutions(count int) {
	c.activeExecutions.Set(float64(count))
}

// RecordReplaySession counts a replay session
func (c *Collector) RecordReplaySession() {
	c.replaySessions.Inc()
}
