// pkg/events/event_bus.go
package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// EventType defines the kind of dashboard state change
type EventType string

const (
	EventSampleAppended    EventType = "sample_appended"
	EventAnomalyDetected   EventType = "anomaly_detected"
	EventMitigationUpdated EventType = "mitigation_updated"
	EventLoadingChanged    EventType = "loading_changed"
	EventStateCleared      EventType = "state_cleared"
	EventThresholdChanged  EventType = "threshold_changed"
	EventStreamStatus      EventType = "stream_status"
)

// AllEventTypes lists every type the store emits.
var AllEventTypes = []EventType{
	EventSampleAppended,
	EventAnomalyDetected,
	EventMitigationUpdated,
	EventLoadingChanged,
	EventStateCleared,
	EventThresholdChanged,
	EventStreamStatus,
}

// StateEvent announces one mutation of the dashboard state.
type StateEvent struct {
	ID        string                 `json:"id"`
	Type      EventType              `json:"type"`
	Source    string                 `json:"source"`
	Version   uint64                 `json:"version"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// EventHandler defines the interface for event handlers
type EventHandler interface {
	Handle(ctx context.Context, event StateEvent) error
	GetEventTypes() []EventType
}

// HandlerFunc adapts a function to EventHandler for the given types.
type HandlerFunc struct {
	Types []EventType
	Fn    func(ctx context.Context, event StateEvent) error
}

func (h HandlerFunc) Handle(ctx context.Context, event StateEvent) error {
	return h.Fn(ctx, event)
}

func (h HandlerFunc) GetEventTypes() []EventType {
	return h.Types
}

// EventBus delivers state events to subscribed handlers off the caller's
// goroutine. Publish never blocks; a full buffer drops the event.
type EventBus struct {
	handlers    map[EventType][]EventHandler
	buffer      chan StateEvent
	logger      zerolog.Logger
	mu          sync.RWMutex
	metrics     EventMetrics
	running     bool
	stopChannel chan struct{}
	wg          sync.WaitGroup
}

type EventMetrics struct {
	EventsPublished   int64            `json:"events_published"`
	EventsProcessed   int64            `json:"events_processed"`
	EventsDropped     int64            `json:"events_dropped"`
	EventsByType      map[string]int64 `json:"events_by_type"`
	HandlerErrors     int64            `json:"handler_errors"`
	AverageProcessing time.Duration    `json:"average_processing_time"`
}

// NewEventBus creates a new event bus
func NewEventBus(logger zerolog.Logger, bufferSize int) *EventBus {
	if bufferSize <= 0 {
		bufferSize = 256
	}

	return &EventBus{
		handlers:    make(map[EventType][]EventHandler),
		buffer:      make(chan StateEvent, bufferSize),
		logger:      logger.With().Str("component", "event_bus").Logger(),
		stopChannel: make(chan struct{}),
		metrics: EventMetrics{
			EventsByType: make(map[string]int64),
		},
	}
}

// Subscribe registers an event handler for specific event types
func (eb *EventBus) Subscribe(handler EventHandler) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	for _, eventType := range handler.GetEventTypes() {
		eb.handlers[eventType] = append(eb.handlers[eventType], handler)
		eb.logger.Debug().
			Str("event_type", string(eventType)).
			Msg("Handler subscribed to event type")
	}
}

// Publish queues an event for delivery.
func (eb *EventBus) Publish(ctx context.Context, event StateEvent) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case eb.buffer <- event:
		eb.updateMetrics(event, true)
		eb.logger.Debug().
			Str("event_id", event.ID).
			Str("type", string(event.Type)).
			Uint64("version", event.Version).
			Msg("Event published to bus")
		return nil
	default:
		eb.mu.Lock()
		eb.metrics.EventsDropped++
		eb.mu.Unlock()
		eb.logger.Warn().
			Str("event_id", event.ID).
			Str("type", string(event.Type)).
			Msg("Event bus buffer full, dropping event")
		return ErrEventBusBufferFull
	}
}

// Start begins processing events from the buffer
func (eb *EventBus) Start(ctx context.Context) {
	eb.mu.Lock()
	if eb.running {
		eb.mu.Unlock()
		return
	}
	eb.running = true
	eb.mu.Unlock()

	eb.logger.Info().Msg("Event bus starting...")

	eb.wg.Add(1)
	go func() {
		defer eb.wg.Done()
		for {
			select {
			case event := <-eb.buffer:
				eb.processEvent(ctx, event)
			case <-ctx.Done():
				eb.logger.Info().Msg("Event bus shutting down due to context cancellation...")
				return
			case <-eb.stopChannel:
				eb.logger.Info().Msg("Event bus shutting down...")
				return
			}
		}
	}()
}

// Stop gracefully shuts down the event bus
func (eb *EventBus) Stop() {
	eb.mu.Lock()
	if !eb.running {
		eb.mu.Unlock()
		return
	}
	eb.running = false
	eb.mu.Unlock()

	close(eb.stopChannel)
	eb.wg.Wait()
	eb.logger.Info().Msg("Event bus stopped")
}

// processEvent hands the event to each handler in subscription order.
// Handlers run sequentially so a view sees changes in publish order.
func (eb *EventBus) processEvent(ctx context.Context, event StateEvent) {
	start := time.Now()

	eb.mu.RLock()
	handlers := eb.handlers[event.Type]
	eb.mu.RUnlock()

	if len(handlers) == 0 {
		eb.logger.Debug().
			Str("event_type", string(event.Type)).
			Msg("No handlers registered for event type")
		return
	}

	errorCount := 0
	for _, h := range handlers {
		if err := h.Handle(ctx, event); err != nil {
			errorCount++
			eb.logger.Error().
				Err(err).
				Str("event_id", event.ID).
				Str("event_type", string(event.Type)).
				Msg("Handler error processing event")
		}
	}

	eb.mu.Lock()
	eb.metrics.HandlerErrors += int64(errorCount)
	eb.metrics.AverageProcessing = time.Since(start)
	eb.mu.Unlock()

	eb.updateMetrics(event, false)

	eb.logger.Debug().
		Str("event_id", event.ID).
		Dur("processing_time", time.Since(start)).
		Int("handlers", len(handlers)).
		Int("errors", errorCount).
		Msg("Event processed by all handlers")
}

// updateMetrics updates internal metrics
func (eb *EventBus) updateMetrics(event StateEvent, published bool) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if published {
		eb.metrics.EventsPublished++
		eb.metrics.EventsByType[string(event.Type)]++
	} else {
		eb.metrics.EventsProcessed++
	}
}

// GetMetrics returns current event bus metrics
func (eb *EventBus) GetMetrics() EventMetrics {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	metricsCopy := EventMetrics{
		EventsPublished:   eb.metrics.EventsPublished,
		EventsProcessed:   eb.metrics.EventsProcessed,
		EventsDropped:     eb.metrics.EventsDropped,
		HandlerErrors:     eb.metrics.HandlerErrors,
		AverageProcessing: eb.metrics.AverageProcessing,
		EventsByType:      make(map[string]int64, len(eb.metrics.EventsByType)),
	}

	for k, v := range eb.metrics.EventsByType {
		metricsCopy.EventsByType[k] = v
	}

	return metricsCopy
}

// Errors
var (
	ErrEventBusBufferFull = fmt.Errorf("event bus buffer is full")
)
