package clear_state

import (
	"context"
)

// Resetter drops the dashboard's anomaly state.
type Resetter interface {
	Reset()
}

// ClearStateAction implements the actions.Action interface. It only touches
// local state.
type ClearStateAction struct {
	Resetter Resetter
}

// Name returns the unique name of the action.
func (a *ClearStateAction) Name() string {
	return "clear"
}

// Execute clears the feature snapshot and mitigation text. data is ignored.
func (a *ClearStateAction) Execute(_ context.Context, _ map[string]interface{}) error {
	a.Resetter.Reset()
	return nil
}
