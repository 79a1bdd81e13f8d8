package clear_state

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

type countingResetter struct{ resets int }

func (c *countingResetter) Reset() { c.resets++ }

func TestClearStateAction_Execute(t *testing.T) {
	r := &countingResetter{}
	a := &ClearStateAction{Resetter: r}

	assert.Equal(t, "clear", a.Name())
	assert.NoError(t, a.Execute(context.Background(), map[string]interface{}{"ignored": true}))
	assert.Equal(t, 1, r.resets)
}
