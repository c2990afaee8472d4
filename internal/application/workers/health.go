package workers

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// HealthMonitor periodically reports dispatch activity
type HealthMonitor struct {
	dispatcher *Dispatcher
	interval   time.Duration
	logger     *zap.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// HealthStatus is a snapshot of dispatch activity
type HealthStatus struct {
	WorkerTypes []string
	InFlight    int64
	Finished    int64
	Failed      int64
	IsolationOn bool
	Healthy     bool
	Timestamp   time.Time
}

// NewHealthMonitor creates a new health monitor
func NewHealthMonitor(dispatcher *Dispatcher, interval time.Duration, logger *zap.Logger) *HealthMonitor {
	return &HealthMonitor{
		dispatcher: dispatcher,
		interval:   interval,
		logger:     logger,
	}
}

// Start starts the health monitor
func (h *HealthMonitor) Start() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.running {
		return
	}
	h.running = true
	h.stopCh = make(chan struct{})
	h.doneCh = make(chan struct{})

	go h.run(h.stopCh, h.doneCh)
}

// Stop stops the health monitor and waits for the loop to exit
func (h *HealthMonitor) Stop() {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return
	}
	h.running = false
	close(h.stopCh)
	done := h.doneCh
	h.mu.Unlock()

	<-done
}

// run is the main health monitoring loop
func (h *HealthMonitor) run(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			h.checkHealth()
		}
	}
}

// checkHealth logs dispatch activity
func (h *HealthMonitor) checkHealth() {
	status := h.GetStatus()

	h.logger.Info("dispatch health check",
		zap.Strings("worker_types", status.WorkerTypes),
		zap.Int64("in_flight", status.InFlight),
		zap.Int64("finished", status.Finished),
		zap.Int64("failed", status.Failed),
		zap.Bool("isolation", status.IsolationOn),
		zap.Bool("healthy", status.Healthy))

	if !status.Healthy {
		h.logger.Warn("no workers registered and isolation disabled")
	}
}

// GetStatus returns the current health status
func (h *HealthMonitor) GetStatus() *HealthStatus {
	inFlight, finished, failed := h.dispatcher.Stats()
	types := h.dispatcher.registry.Types()
	isolation := len(h.dispatcher.isolated) > 0

	return &HealthStatus{
		WorkerTypes: types,
		InFlight:    inFlight,
		Finished:    finished,
		Failed:      failed,
		IsolationOn: isolation,
		Healthy:     len(types) > 0 || isolation,
		Timestamp:   time.Now(),
	}
}

// IsHealthy returns true if at least one subtask type can be dispatched
func (h *HealthMonitor) IsHealthy() bool {
	return h.GetStatus().Healthy
}
