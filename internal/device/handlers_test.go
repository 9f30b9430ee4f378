package device

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiscoverHandlers(t *testing.T) {
	found := discoverHandlers(&testAdapter{})

	assert.Contains(t, found, "handle_power_on")
	assert.Contains(t, found, "handle_set_volume")
	assert.Contains(t, found, "handle_explode")
	assert.NotContains(t, found, "handle_misshapen", "wrong signature is ignored")
	assert.NotContains(t, found, "handle_", "bare Handle is ignored")
	assert.Len(t, found, 3)

	assert.Empty(t, discoverHandlers(nil))
}

// explicitAdapter registers power_on explicitly and also has a HandlePowerOn method.
type explicitAdapter struct {
	testAdapter
	explicitCalls int
}

func (a *explicitAdapter) Handlers() map[string]HandlerFunc {
	return map[string]HandlerFunc{
		"Power_On": func(context.Context, CommandDef, map[string]any) (CommandResult, error) {
			a.explicitCalls++
			return CommandResult{Success: true}, nil
		},
	}
}

func TestExplicitHandlerWinsOverConvention(t *testing.T) {
	adapter := &explicitAdapter{}
	d := newTestDevice(t, Definition{ID: "amp-1", Commands: []CommandDef{{Name: "power_on"}}}, adapter)

	result := d.Execute(context.Background(), "power_on", nil, SourceAPI)
	require.True(t, result.Success)

	assert.Equal(t, 1, adapter.explicitCalls)
	assert.Zero(t, adapter.count("power_on"), "convention method must not run")
}

func TestRegisterHandlerOverridesConvention(t *testing.T) {
	adapter := &testAdapter{}
	d := newTestDevice(t, Definition{ID: "amp-1"}, adapter)

	calls := 0
	d.RegisterHandler("power_on", func(context.Context, CommandDef, map[string]any) (CommandResult, error) {
		calls++
		return CommandResult{Success: true}, nil
	})

	d.Execute(context.Background(), "power_on", nil, SourceAPI)
	assert.Equal(t, 1, calls)
	assert.Zero(t, adapter.count("power_on"))
}

func TestHandlerLookupNormalisesAction(t *testing.T) {
	table := newHandlerTable(&testAdapter{})

	for _, action := range []string{"power_on", "POWER_ON", " power_on ", "powerOn", "PowerOn"} {
		_, ok := table.lookup(action)
		assert.True(t, ok, "lookup(%q)", action)
	}

	_, ok := table.lookup("self_destruct")
	assert.False(t, ok)
}

func TestHandlerNames(t *testing.T) {
	table := newHandlerTable(&explicitAdapter{})
	table.register("set", func(context.Context, CommandDef, map[string]any) (CommandResult, error) {
		return CommandResult{Success: true}, nil
	})

	assert.Equal(t, []string{"explode", "power_on", "set", "set_volume"}, table.names())
}
