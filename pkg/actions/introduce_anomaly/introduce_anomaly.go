package introduce_anomaly

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
)

// Injector asks the detection backend to emit an anomalous sample.
type Injector interface {
	IntroduceAnomaly(ctx context.Context) ([]byte, error)
}

// LoadingSink shows the trigger indicator while the request is running.
type LoadingSink interface {
	SetTriggerLoading(loading bool)
}

// IntroduceAnomalyAction implements the actions.Action interface. The
// backend's reply is only logged; the anomaly itself arrives on the stream.
// The trigger indicator stays on while any request is running.
type IntroduceAnomalyAction struct {
	Injector Injector
	Loading  LoadingSink

	mu       sync.Mutex
	inFlight int
}

// Name returns the unique name of the action.
func (a *IntroduceAnomalyAction) Name() string {
	return "introduce_anomaly"
}

// Execute posts to the backend. data is ignored.
func (a *IntroduceAnomalyAction) Execute(ctx context.Context, _ map[string]interface{}) error {
	a.begin()
	defer a.end()

	body, err := a.Injector.IntroduceAnomaly(ctx)
	if err != nil {
		return fmt.Errorf("introduce anomaly: %w", err)
	}

	log.Debug().Int("bytes", len(body)).Msg("Anomaly injection acknowledged.")
	return nil
}

func (a *IntroduceAnomalyAction) begin() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.inFlight++
	if a.inFlight == 1 && a.Loading != nil {
		a.Loading.SetTriggerLoading(true)
	}
}

func (a *IntroduceAnomalyAction) end() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.inFlight--
	if a.inFlight == 0 && a.Loading != nil {
		a.Loading.SetTriggerLoading(false)
	}
}
