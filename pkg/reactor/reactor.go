// Package reactor turns streamed anomaly events into mitigation requests.
package reactor

import (
	"context"
	"errors"
	"sync"
	"time"

	dashboarderrors "github.com/lucid-vigil/nids-watch/pkg/errors"
	"github.com/lucid-vigil/nids-watch/pkg/metrics"
	"github.com/lucid-vigil/nids-watch/pkg/state"
	"github.com/lucid-vigil/nids-watch/pkg/telemetry"
	"github.com/rs/zerolog"
)

// Policy decides which mitigation response is displayed when requests
// overlap.
type Policy string

const (
	// PolicySupersede commits only the newest request; issuing a request
	// cancels the older ones.
	PolicySupersede Policy = "supersede"
	// PolicyLastResolved commits every response, so the most recently
	// resolved one wins regardless of which anomaly it answers.
	PolicyLastResolved Policy = "last_resolved"
)

const componentName = "anomaly_reactor"

// Mitigator fetches a mitigation text for a feature vector.
type Mitigator interface {
	Mitigation(ctx context.Context, features telemetry.FeatureVector) (string, error)
}

// Options tunes a Reactor.
type Options struct {
	Policy  Policy
	Timeout time.Duration
}

// Reactor appends every streamed sample to the store and, for anomaly
// events, replaces the feature snapshot and issues one mitigation request.
type Reactor struct {
	store      *state.Store
	mitigator  Mitigator
	policy     Policy
	timeout    time.Duration
	logger     zerolog.Logger
	errHandler *dashboarderrors.ErrorHandler

	baseCtx context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup

	mu         sync.Mutex
	token      uint64
	resetToken uint64
	inflight   map[uint64]context.CancelFunc
	closed     bool
}

// New creates a reactor. errHandler may be nil.
func New(store *state.Store, mitigator Mitigator, opts Options, logger zerolog.Logger, errHandler *dashboarderrors.ErrorHandler) *Reactor {
	if opts.Policy != PolicyLastResolved {
		opts.Policy = PolicySupersede
	}
	logger = logger.With().Str("component", componentName).Logger()
	if errHandler == nil {
		errHandler = dashboarderrors.NewErrorHandler(logger, nil)
	}
	ctx, stop := context.WithCancel(context.Background())
	return &Reactor{
		store:      store,
		mitigator:  mitigator,
		policy:     opts.Policy,
		timeout:    opts.Timeout,
		logger:     logger,
		errHandler: errHandler,
		baseCtx:    ctx,
		stop:       stop,
		inflight:   make(map[uint64]context.CancelFunc),
	}
}

// HandleMessage applies one decoded stream message.
func (r *Reactor) HandleMessage(_ context.Context, msg telemetry.StreamMessage) {
	r.store.AppendSample(msg.Sample())
	if !msg.Anomaly {
		return
	}

	metrics.AnomaliesTotal.Inc()
	r.react(msg.Features)
}

func (r *Reactor) react(features telemetry.FeatureVector) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}

	r.token++
	token := r.token

	if r.policy == PolicySupersede {
		for t, cancel := range r.inflight {
			cancel()
			delete(r.inflight, t)
		}
	}

	var (
		reqCtx context.Context
		cancel context.CancelFunc
	)
	if r.timeout > 0 {
		reqCtx, cancel = context.WithTimeout(r.baseCtx, r.timeout)
	} else {
		reqCtx, cancel = context.WithCancel(r.baseCtx)
	}
	r.inflight[token] = cancel

	r.store.BeginAnomaly(features)

	r.logger.Info().
		Uint64("token", token).
		Int("features", len(features)).
		Msg("Anomaly detected, requesting mitigation")

	r.wg.Add(1)
	go r.request(reqCtx, cancel, token, features.Clone())
}

func (r *Reactor) request(ctx context.Context, cancel context.CancelFunc, token uint64, features telemetry.FeatureVector) {
	defer r.wg.Done()
	defer cancel()

	start := time.Now()
	text, err := r.mitigator.Mitigation(ctx, features)
	metrics.MitigationDuration.Observe(time.Since(start).Seconds())

	r.commit(token, text, err)
}

func (r *Reactor) commit(token uint64, text string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.inflight, token)

	if r.closed {
		return
	}

	stale := token <= r.resetToken || (r.policy == PolicySupersede && token != r.token)
	if stale {
		metrics.MitigationRequestsTotal.WithLabelValues("stale").Inc()
		r.logger.Debug().
			Uint64("token", token).
			Uint64("current", r.token).
			Msg("Dropping superseded mitigation response")
		return
	}

	if err != nil {
		metrics.MitigationRequestsTotal.WithLabelValues("failure").Inc()
		if !errors.Is(err, context.Canceled) {
			r.errHandler.HandleError(context.Background(), dashboarderrors.NewMitigationError(componentName, token, err))
		}
		r.store.ResolveMitigation("", false, true)
		return
	}

	metrics.MitigationRequestsTotal.WithLabelValues("success").Inc()
	r.logger.Info().Uint64("token", token).Msg("Mitigation received")
	r.store.ResolveMitigation(text, true, true)
}

// Reset clears the feature snapshot and mitigation text and cancels
// in-flight requests so their responses are dropped. The sample series is
// kept.
func (r *Reactor) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.token++
	r.resetToken = r.token
	for t, cancel := range r.inflight {
		cancel()
		delete(r.inflight, t)
	}
	r.store.Clear()
	r.logger.Info().Msg("Dashboard anomaly state cleared")
}

// InFlight returns the number of mitigation requests not yet resolved.
func (r *Reactor) InFlight() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.inflight)
}

// Close cancels outstanding requests and waits for their goroutines.
func (r *Reactor) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	r.stop()
	r.wg.Wait()
}
