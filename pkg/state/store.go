// Package state holds the dashboard's single source of truth.
package state

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/lucid-vigil/nids-watch/pkg/events"
	"github.com/lucid-vigil/nids-watch/pkg/series"
	"github.com/lucid-vigil/nids-watch/pkg/telemetry"
	"github.com/rs/zerolog"
)

// ErrThresholdRange is returned by SetThreshold for values outside [0,1].
var ErrThresholdRange = errors.New("threshold must be within [0,1]")

// Publisher receives a notification after every mutation.
type Publisher interface {
	Publish(ctx context.Context, event events.StateEvent) error
}

// Snapshot is an immutable copy of the dashboard state.
type Snapshot struct {
	Version         uint64                  `json:"version"`
	Samples         []telemetry.Sample      `json:"samples"`
	Features        telemetry.FeatureVector `json:"features,omitempty"`
	FeaturesAt      time.Time               `json:"features_at,omitempty"`
	Mitigation      string                  `json:"mitigation"`
	HealLoading     bool                    `json:"heal_loading"`
	TriggerLoading  bool                    `json:"trigger_loading"`
	Threshold       float64                 `json:"threshold"`
	StreamConnected bool                    `json:"stream_connected"`
	UpdatedAt       time.Time               `json:"updated_at"`
}

// Store serialises every mutation of the dashboard state.
type Store struct {
	mu sync.RWMutex

	samples         *series.Rolling
	features        telemetry.FeatureVector
	featuresAt      time.Time
	mitigation      string
	healLoading     bool
	triggerLoading  bool
	threshold       float64
	streamConnected bool
	version         uint64
	updatedAt       time.Time

	publisher Publisher
	logger    zerolog.Logger
	now       func() time.Time
}

// NewStore creates a store. publisher may be nil.
func NewStore(windowSize int, threshold float64, publisher Publisher, logger zerolog.Logger) *Store {
	return &Store{
		samples:   series.NewRolling(windowSize),
		threshold: clamp(threshold),
		publisher: publisher,
		logger:    logger.With().Str("component", "state_store").Logger(),
		now:       time.Now,
	}
}

// AppendSample adds a point to the rolling series.
func (s *Store) AppendSample(sample telemetry.Sample) {
	s.mutate(events.EventSampleAppended, func() map[string]interface{} {
		s.samples.Append(sample)
		return map[string]interface{}{"probability": sample.Probability}
	})
}

// BeginAnomaly replaces the feature vector and raises the mitigation loading
// indicator in one mutation. A nil vector clears the feature panel.
func (s *Store) BeginAnomaly(features telemetry.FeatureVector) {
	fv := features.Clone()
	s.mutate(events.EventAnomalyDetected, func() map[string]interface{} {
		s.features = fv
		s.featuresAt = time.Time{}
		if fv != nil {
			s.featuresAt = s.now()
		}
		s.healLoading = true
		return map[string]interface{}{"features": len(fv)}
	})
}

// ResolveMitigation applies the outcome of a mitigation request in one
// mutation. When ok is false the current text is left in place.
func (s *Store) ResolveMitigation(text string, ok bool, clearLoading bool) {
	s.mutate(events.EventMitigationUpdated, func() map[string]interface{} {
		if ok {
			s.mitigation = text
		}
		if clearLoading {
			s.healLoading = false
		}
		return map[string]interface{}{"ok": ok, "heal_loading": s.healLoading}
	})
}

// SetTriggerLoading toggles the anomaly-trigger indicator.
func (s *Store) SetTriggerLoading(loading bool) {
	s.mutate(events.EventLoadingChanged, func() map[string]interface{} {
		s.triggerLoading = loading
		return map[string]interface{}{"trigger_loading": loading}
	})
}

// SetStreamConnected records the stream connection status.
func (s *Store) SetStreamConnected(connected bool) {
	s.mutate(events.EventStreamStatus, func() map[string]interface{} {
		s.streamConnected = connected
		return map[string]interface{}{"connected": connected}
	})
}

// SetThreshold changes the reference line. Values outside [0,1] are rejected.
func (s *Store) SetThreshold(threshold float64) error {
	if math.IsNaN(threshold) || threshold < 0 || threshold > 1 {
		return fmt.Errorf("%w: got %v", ErrThresholdRange, threshold)
	}
	s.mutate(events.EventThresholdChanged, func() map[string]interface{} {
		s.threshold = threshold
		return map[string]interface{}{"threshold": threshold}
	})
	return nil
}

// Clear drops the feature vector, the mitigation text and the loading
// indicator. The sample series is kept.
func (s *Store) Clear() {
	s.mutate(events.EventStateCleared, func() map[string]interface{} {
		s.features = nil
		s.featuresAt = time.Time{}
		s.mitigation = ""
		s.healLoading = false
		return nil
	})
}

// Snapshot returns a consistent copy of the state.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return Snapshot{
		Version:         s.version,
		Samples:         s.samples.Samples(),
		Features:        s.features.Clone(),
		FeaturesAt:      s.featuresAt,
		Mitigation:      s.mitigation,
		HealLoading:     s.healLoading,
		TriggerLoading:  s.triggerLoading,
		Threshold:       s.threshold,
		StreamConnected: s.streamConnected,
		UpdatedAt:       s.updatedAt,
	}
}

// Version returns the number of mutations applied so far.
func (s *Store) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

func (s *Store) mutate(eventType events.EventType, apply func() map[string]interface{}) {
	s.mu.Lock()
	data := apply()
	s.version++
	s.updatedAt = s.now()
	event := events.StateEvent{
		Type:      eventType,
		Source:    "state_store",
		Version:   s.version,
		Timestamp: s.updatedAt,
		Data:      data,
	}
	s.mu.Unlock()

	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(context.Background(), event); err != nil {
		s.logger.Warn().Err(err).Str("event_type", string(eventType)).Msg("State change notification dropped")
	}
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
