package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/lucid-vigil/nids-watch/pkg/config"
	"github.com/lucid-vigil/nids-watch/pkg/metrics"
	"github.com/rs/zerolog/log"
)

// ConfigurableMonitor extends the Monitor interface to support configuration
type ConfigurableMonitor interface {
	Monitor
	Configure(config map[string]interface{}) error
}

// Monitor defines the interface for any monitor that can be scheduled.
// Interval monitors return after each pass; long-running monitors return
// when their work ends (for example a dropped connection).
type Monitor interface {
	Name() string
	Run(ctx context.Context) error
}

// Scheduler manages the registration and execution of various monitors.
type Scheduler struct {
	monitors []Monitor
	config   *config.Config
	wg       sync.WaitGroup
}

// NewScheduler creates and returns a new Scheduler instance.
func NewScheduler(cfg *config.Config) *Scheduler {
	return &Scheduler{
		config: cfg,
	}
}

// RegisterMonitor adds a monitor to the scheduler's list.
func (s *Scheduler) RegisterMonitor(m Monitor) {
	// Check if monitor supports configuration
	if configurable, ok := m.(ConfigurableMonitor); ok {
		monitorConfig := s.config.GetMonitorConfig(m.Name())
		if monitorConfig != nil && monitorConfig.Config != nil {
			if err := configurable.Configure(monitorConfig.Config); err != nil {
				log.Error().Err(err).Msgf("Failed to configure monitor '%s'", m.Name())
				return
			}
			log.Info().Msgf("Monitor '%s' configured successfully.", m.Name())
		}
	}

	s.monitors = append(s.monitors, m)
	log.Info().Msgf("Monitor '%s' registered.", m.Name())
}

// Monitors returns the registered monitors.
func (s *Scheduler) Monitors() []Monitor {
	out := make([]Monitor, len(s.monitors))
	copy(out, s.monitors)
	return out
}

// Start launches all enabled monitors. Monitors with an interval run on a
// ticker; monitors without one are supervised and restarted with backoff.
func (s *Scheduler) Start(ctx context.Context) {
	log.Info().Msg("Scheduler starting...")

	for _, mon := range s.monitors {
		monitorConfig := s.config.GetMonitorConfig(mon.Name())
		if monitorConfig == nil || !monitorConfig.Enabled {
			log.Info().Msgf("Monitor '%s' is disabled or not configured, skipping.", mon.Name())
			continue
		}

		if monitorConfig.Interval == "" {
			log.Info().Msgf("Starting long-running monitor '%s'", mon.Name())
			s.wg.Add(1)
			go s.superviseMonitor(ctx, mon)
			continue
		}

		duration, err := time.ParseDuration(monitorConfig.Interval)
		if err != nil || duration <= 0 {
			log.Error().Err(err).Msgf("Invalid interval for monitor '%s', skipping.", mon.Name())
			continue
		}

		log.Info().Msgf("Starting monitor '%s' with interval %s", mon.Name(), duration)
		s.wg.Add(1)
		go s.runMonitor(ctx, mon, duration)
	}

	log.Info().Msg("All configured monitors started.")
}

// Wait blocks until every started monitor goroutine has returned.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) runMonitor(ctx context.Context, m Monitor, interval time.Duration) {
	defer s.wg.Done()

	// Run immediately on start
	log.Debug().Msgf("Running monitor '%s' for the first time.", m.Name())
	s.runOnce(ctx, m)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			log.Debug().Msgf("Running monitor '%s'.", m.Name())
			s.runOnce(ctx, m)
		case <-ctx.Done():
			log.Info().Msgf("Monitor '%s' received shutdown signal.", m.Name())
			return
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context, m Monitor) {
	if err := m.Run(ctx); err != nil {
		log.Warn().Err(err).Msgf("Monitor '%s' run failed.", m.Name())
	}
}

func (s *Scheduler) superviseMonitor(ctx context.Context, m Monitor) {
	defer s.wg.Done()

	opts := s.config.Stream
	b := backoff.NewExponentialBackOff()
	if opts.InitialBackoff > 0 {
		b.InitialInterval = opts.InitialBackoff
	}
	if opts.MaxBackoff > 0 {
		b.MaxInterval = opts.MaxBackoff
	}
	b.Reset()

	for {
		started := time.Now()
		err := m.Run(ctx)
		if ctx.Err() != nil {
			log.Info().Msgf("Monitor '%s' received shutdown signal.", m.Name())
			return
		}

		if !opts.Reconnect {
			log.Warn().Err(err).Msgf("Monitor '%s' stopped; reconnect disabled.", m.Name())
			return
		}

		if opts.StableAfter > 0 && time.Since(started) >= opts.StableAfter {
			b.Reset()
		}
		wait := b.NextBackOff()

		metrics.MonitorRestartsTotal.WithLabelValues(m.Name()).Inc()
		log.Warn().Err(err).Dur("backoff", wait).Msgf("Monitor '%s' stopped, restarting.", m.Name())

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			log.Info().Msgf("Monitor '%s' received shutdown signal.", m.Name())
			return
		case <-timer.C:
		}
	}
}
