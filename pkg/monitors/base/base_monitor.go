package base

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Status is the externally visible state of a monitor, reported on
// /api/status.
type Status struct {
	Name      string                 `json:"name"`
	Running   bool                   `json:"running"`
	Runs      int                    `json:"runs"`
	LastRun   time.Time              `json:"last_run,omitempty"`
	LastError string                 `json:"last_error,omitempty"`
	Metrics   map[string]interface{} `json:"metrics,omitempty"`
}

// BaseMonitor provides the shared bookkeeping for monitors: name, logger,
// run/error tracking and a small metrics map.
type BaseMonitor struct {
	name      string
	interval  time.Duration
	running   bool
	runs      int
	lastRun   time.Time
	lastError error
	metrics   map[string]interface{}
	logger    zerolog.Logger
	mu        sync.Mutex
}

// NewBaseMonitor creates a BaseMonitor whose logger carries a "monitor" field.
func NewBaseMonitor(name string, logger zerolog.Logger) *BaseMonitor {
	return &BaseMonitor{
		name:    name,
		logger:  logger.With().Str("monitor", name).Logger(),
		metrics: make(map[string]interface{}),
	}
}

// Name returns the monitor's name.
func (b *BaseMonitor) Name() string {
	return b.name
}

// Logger returns the monitor's logger.
func (b *BaseMonitor) Logger() *zerolog.Logger {
	return &b.logger
}

// GetInterval returns the monitor's execution interval.
func (b *BaseMonitor) GetInterval() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.interval
}

// SetInterval sets the monitor's execution interval.
func (b *BaseMonitor) SetInterval(d time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.interval = d
}

// MarkRunning records the start of a run.
func (b *BaseMonitor) MarkRunning() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.running = true
	b.runs++
	b.lastRun = time.Now()
}

// MarkStopped records the end of a run and its error, if any.
func (b *BaseMonitor) MarkStopped(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.running = false
	if err != nil {
		b.lastError = err
	}
}

// RecordRun records a complete short run.
func (b *BaseMonitor) RecordRun(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.runs++
	b.lastRun = time.Now()
	b.lastError = err
}

// GetLastError returns the last error that occurred during execution.
func (b *BaseMonitor) GetLastError() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastError
}

// GetLastExecutionTime returns the last time the monitor was executed.
func (b *BaseMonitor) GetLastExecutionTime() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastRun
}

// GetMetrics returns a copy of the monitor's collected metrics.
func (b *BaseMonitor) GetMetrics() map[string]interface{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.copyMetrics()
}

// UpdateMetrics sets a metric value.
func (b *BaseMonitor) UpdateMetrics(key string, value interface{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.metrics[key] = value
}

// Status returns a snapshot of the monitor's state.
func (b *BaseMonitor) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()

	st := Status{
		Name:    b.name,
		Running: b.running,
		Runs:    b.runs,
		LastRun: b.lastRun,
		Metrics: b.copyMetrics(),
	}
	if b.lastError != nil {
		st.LastError = b.lastError.Error()
	}
	return st
}

func (b *BaseMonitor) copyMetrics() map[string]interface{} {
	dest := make(map[string]interface{}, len(b.metrics))
	for k, v := range b.metrics {
		dest[k] = v
	}
	return dest
}
