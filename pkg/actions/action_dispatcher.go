package actions

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/lucid-vigil/nids-watch/pkg/config"
	dashboarderrors "github.com/lucid-vigil/nids-watch/pkg/errors"
	"github.com/lucid-vigil/nids-watch/pkg/metrics"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

var (
	ErrUnknownAction   = errors.New("unknown action")
	ErrRateLimited     = errors.New("action rate limited")
	ErrActionsDisabled = errors.New("actions are disabled")
)

// ActionDispatcher manages and executes dashboard actions. Each action has
// its own token bucket.
type ActionDispatcher struct {
	actions    map[string]Action
	limiters   map[string]*rate.Limiter
	enabled    bool
	limit      rate.Limit
	burst      int
	errHandler *dashboarderrors.ErrorHandler
	mu         sync.RWMutex
}

// NewActionDispatcher creates a new action dispatcher. errHandler may be nil.
func NewActionDispatcher(cfg config.ActionsConfig, errHandler *dashboarderrors.ErrorHandler) *ActionDispatcher {
	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	if errHandler == nil {
		errHandler = dashboarderrors.NewErrorHandler(log.Logger, nil)
	}
	return &ActionDispatcher{
		actions:    make(map[string]Action),
		limiters:   make(map[string]*rate.Limiter),
		enabled:    cfg.Enabled,
		limit:      limit,
		burst:      burst,
		errHandler: errHandler,
	}
}

// RegisterAction registers a new action with the dispatcher
func (ad *ActionDispatcher) RegisterAction(action Action) {
	ad.mu.Lock()
	defer ad.mu.Unlock()

	ad.actions[action.Name()] = action
	ad.limiters[action.Name()] = rate.NewLimiter(ad.limit, ad.burst)
	log.Info().Msgf("Action '%s' registered.", action.Name())
}

// Names returns the registered action names, sorted.
func (ad *ActionDispatcher) Names() []string {
	ad.mu.RLock()
	defer ad.mu.RUnlock()

	names := make([]string, 0, len(ad.actions))
	for name := range ad.actions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Execute runs the specified action with the given data
func (ad *ActionDispatcher) Execute(ctx context.Context, actionName string, data map[string]interface{}) error {
	ad.mu.RLock()
	enabled := ad.enabled
	action, exists := ad.actions[actionName]
	limiter := ad.limiters[actionName]
	ad.mu.RUnlock()

	if !enabled {
		log.Info().Str("action", actionName).Msg("Actions are disabled, skipping execution.")
		return ErrActionsDisabled
	}

	if !exists {
		return fmt.Errorf("%w: %q", ErrUnknownAction, actionName)
	}

	if !limiter.Allow() {
		metrics.ActionsTotal.WithLabelValues(actionName, "rate_limited").Inc()
		log.Warn().Str("action", actionName).Msg("Action rate limited.")
		return fmt.Errorf("%w: %s", ErrRateLimited, actionName)
	}

	log.Info().Str("action", actionName).Msg("Executing dashboard action...")

	if err := action.Execute(ctx, data); err != nil {
		metrics.ActionsTotal.WithLabelValues(actionName, "failure").Inc()
		ad.errHandler.HandleError(ctx, dashboarderrors.NewActionError("action_dispatcher", actionName, err))
		return err
	}

	metrics.ActionsTotal.WithLabelValues(actionName, "success").Inc()
	log.Info().Str("action", actionName).Msg("Action executed successfully.")
	return nil
}

// IsEnabled returns whether actions are enabled
func (ad *ActionDispatcher) IsEnabled() bool {
	ad.mu.RLock()
	defer ad.mu.RUnlock()
	return ad.enabled
}

// SetEnabled enables or disables action execution
func (ad *ActionDispatcher) SetEnabled(enabled bool) {
	ad.mu.Lock()
	ad.enabled = enabled
	ad.mu.Unlock()
	log.Info().Bool("enabled", enabled).Msg("Action execution status changed.")
}
