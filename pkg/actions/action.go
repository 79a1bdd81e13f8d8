package actions

import (
	"context"
)

// Action defines the interface for any operator action the dashboard exposes.
// Each action must have a name and an execution method.
type Action interface {
	// Name returns the unique name of the action.
	Name() string
	// Execute performs the action. data carries optional request parameters.
	Execute(ctx context.Context, data map[string]interface{}) error
}
