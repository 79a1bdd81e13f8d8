// pkg/errors/component_errors.go
package errors

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ComponentError represents a structured error from a dashboard component
// (stream listener, reactor, actions, ...).
type ComponentError struct {
	Component   string                 `json:"component"`
	ErrorType   string                 `json:"error_type"`
	Message     string                 `json:"message"`
	Details     map[string]interface{} `json:"details,omitempty"`
	Timestamp   time.Time              `json:"timestamp"`
	Severity    Severity               `json:"severity"`
	Recoverable bool                   `json:"recoverable"`
	Cause       error                  `json:"-"`
}

type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

// Error implements the error interface
func (ce *ComponentError) Error() string {
	if ce.Cause != nil {
		return fmt.Sprintf("[%s] %s: %s: %v", ce.Component, ce.ErrorType, ce.Message, ce.Cause)
	}
	return fmt.Sprintf("[%s] %s: %s", ce.Component, ce.ErrorType, ce.Message)
}

// Unwrap returns the underlying cause
func (ce *ComponentError) Unwrap() error {
	return ce.Cause
}

// ErrorHandler logs component errors and forwards them to a collector.
type ErrorHandler struct {
	logger    zerolog.Logger
	collector ErrorCollector
}

// ErrorCollector defines how errors are collected and reported
type ErrorCollector interface {
	CollectError(ctx context.Context, err *ComponentError) error
	GetErrorStats() ErrorStats
}

type ErrorStats struct {
	TotalErrors       int              `json:"total_errors"`
	ErrorsByType      map[string]int   `json:"errors_by_type"`
	ErrorsByComponent map[string]int   `json:"errors_by_component"`
	ErrorsBySeverity  map[Severity]int `json:"errors_by_severity"`
	LastError         *ComponentError  `json:"last_error,omitempty"`
	LastErrorMessage  string           `json:"last_error_message,omitempty"`
}

// NewErrorHandler creates a new error handler. collector may be nil.
func NewErrorHandler(logger zerolog.Logger, collector ErrorCollector) *ErrorHandler {
	return &ErrorHandler{
		logger:    logger,
		collector: collector,
	}
}

// HandleError logs err and hands it to the collector.
func (eh *ErrorHandler) HandleError(ctx context.Context, err *ComponentError) error {
	logEvent := eh.getLogEvent(err.Severity).
		Str("component", err.Component).
		Str("error_type", err.ErrorType).
		Str("message", err.Message).
		Bool("recoverable", err.Recoverable)

	if err.Details != nil {
		logEvent = logEvent.Interface("details", err.Details)
	}

	if err.Cause != nil {
		logEvent = logEvent.AnErr("cause", err.Cause)
	}

	logEvent.Msg("Component error occurred")

	if eh.collector != nil {
		return eh.collector.CollectError(ctx, err)
	}

	return nil
}

// getLogEvent returns the zerolog event for severity. Critical errors are
// logged at error level; the process keeps running.
func (eh *ErrorHandler) getLogEvent(severity Severity) *zerolog.Event {
	switch severity {
	case SeverityCritical, SeverityHigh:
		return eh.logger.Error()
	case SeverityMedium:
		return eh.logger.Warn()
	case SeverityLow:
		return eh.logger.Info()
	case SeverityInfo:
		return eh.logger.Debug()
	default:
		return eh.logger.Info()
	}
}

// StatsCollector is an in-memory ErrorCollector.
type StatsCollector struct {
	mu    sync.Mutex
	stats ErrorStats
}

// NewStatsCollector creates an empty collector.
func NewStatsCollector() *StatsCollector {
	return &StatsCollector{
		stats: ErrorStats{
			ErrorsByType:      make(map[string]int),
			ErrorsByComponent: make(map[string]int),
			ErrorsBySeverity:  make(map[Severity]int),
		},
	}
}

func (sc *StatsCollector) CollectError(_ context.Context, err *ComponentError) error {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	sc.stats.TotalErrors++
	sc.stats.ErrorsByType[err.ErrorType]++
	sc.stats.ErrorsByComponent[err.Component]++
	sc.stats.ErrorsBySeverity[err.Severity]++
	sc.stats.LastError = err
	sc.stats.LastErrorMessage = err.Error()
	return nil
}

// GetErrorStats returns a copy of the collected statistics.
func (sc *StatsCollector) GetErrorStats() ErrorStats {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	out := ErrorStats{
		TotalErrors:       sc.stats.TotalErrors,
		ErrorsByType:      make(map[string]int, len(sc.stats.ErrorsByType)),
		ErrorsByComponent: make(map[string]int, len(sc.stats.ErrorsByComponent)),
		ErrorsBySeverity:  make(map[Severity]int, len(sc.stats.ErrorsBySeverity)),
		LastError:         sc.stats.LastError,
		LastErrorMessage:  sc.stats.LastErrorMessage,
	}
	for k, v := range sc.stats.ErrorsByType {
		out.ErrorsByType[k] = v
	}
	for k, v := range sc.stats.ErrorsByComponent {
		out.ErrorsByComponent[k] = v
	}
	for k, v := range sc.stats.ErrorsBySeverity {
		out.ErrorsBySeverity[k] = v
	}
	return out
}

// Helper functions for creating common error types

func NewConfigError(component string, cause error, details map[string]interface{}) *ComponentError {
	return &ComponentError{
		Component:   component,
		ErrorType:   "configuration",
		Message:     "Configuration error occurred",
		Details:     details,
		Timestamp:   time.Now(),
		Severity:    SeverityHigh,
		Recoverable: true,
		Cause:       cause,
	}
}

func NewStreamError(component string, url string, cause error) *ComponentError {
	return &ComponentError{
		Component: component,
		ErrorType: "stream",
		Message:   "Telemetry stream unavailable",
		Details: map[string]interface{}{
			"url": url,
		},
		Timestamp:   time.Now(),
		Severity:    SeverityMedium,
		Recoverable: true,
		Cause:       cause,
	}
}

func NewDecodeError(component string, payload []byte, cause error) *ComponentError {
	excerpt := string(payload)
	if len(excerpt) > 256 {
		excerpt = excerpt[:256] + "..."
	}
	return &ComponentError{
		Component: component,
		ErrorType: "decode",
		Message:   "Discarded unreadable stream message",
		Details: map[string]interface{}{
			"payload": excerpt,
		},
		Timestamp:   time.Now(),
		Severity:    SeverityLow,
		Recoverable: true,
		Cause:       cause,
	}
}

func NewMitigationError(component string, token uint64, cause error) *ComponentError {
	return &ComponentError{
		Component: component,
		ErrorType: "mitigation",
		Message:   fmt.Sprintf("Mitigation request %d failed", token),
		Details: map[string]interface{}{
			"token": token,
		},
		Timestamp:   time.Now(),
		Severity:    SeverityMedium,
		Recoverable: true,
		Cause:       cause,
	}
}

func NewActionError(component string, action string, cause error) *ComponentError {
	return &ComponentError{
		Component: component,
		ErrorType: "action",
		Message:   fmt.Sprintf("Action failed: %s", action),
		Details: map[string]interface{}{
			"action": action,
		},
		Timestamp:   time.Now(),
		Severity:    SeverityMedium,
		Recoverable: true,
		Cause:       cause,
	}
}
