package main

import (
	"context"

	"github.com/lucid-vigil/nids-watch/pkg/config"
	"github.com/lucid-vigil/nids-watch/pkg/events"
	"github.com/rs/zerolog"
)

type thresholdSetter interface {
	SetThreshold(threshold float64) error
}

type actionToggle interface {
	SetEnabled(enabled bool)
}

// reloader re-applies the settings that can change without a restart.
type reloader struct {
	store    thresholdSetter
	actions  actionToggle
	setLevel func(level string)
	logger   zerolog.Logger
}

func (r *reloader) apply(next *config.Config) {
	r.setLevel(next.LogLevel)
	if err := r.store.SetThreshold(next.Dashboard.Threshold); err != nil {
		r.logger.Warn().Err(err).Msg("Ignoring threshold from config")
	}
	r.actions.SetEnabled(next.Actions.Enabled)
	r.logger.Info().
		Str("log_level", next.LogLevel).
		Float64("threshold", next.Dashboard.Threshold).
		Bool("actions_enabled", next.Actions.Enabled).
		Msg("Configuration reloaded")
}

// auditLog records the state changes an operator cares about: stream
// connectivity, resets and threshold edits. Per-sample events are left out.
func auditLog(logger zerolog.Logger) events.HandlerFunc {
	return events.HandlerFunc{
		Types: []events.EventType{
			events.EventStreamStatus,
			events.EventStateCleared,
			events.EventThresholdChanged,
		},
		Fn: func(_ context.Context, event events.StateEvent) error {
			logger.Info().
				Str("event_type", string(event.Type)).
				Uint64("version", event.Version).
				Interface("data", event.Data).
				Msg("Dashboard state changed")
			return nil
		},
	}
}
