// Package virtual provides an in-memory device adapter.
//
// A virtual device keeps its power and level in the device state and echoes
// every change to /devices/{id}/state. It needs no hardware, which makes it
// the default adapter for emulated devices and the reference for writing new
// adapters.
package virtual

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/nerrad567/devicehub/internal/device"
	"github.com/nerrad567/devicehub/internal/infrastructure/mqtt"
)

// Name is the adapter name used in device configuration.
const Name = "virtual"

// Power values.
const (
	PowerOn  = "on"
	PowerOff = "off"
)

// ErrNotSetUp is returned by handlers called before Setup.
var ErrNotSetUp = errors.New("virtual: adapter not set up")

func bound(v float64) *float64 { return &v }

// DefaultCommands is the command set used when a virtual device declares none.
func DefaultCommands() []device.CommandDef {
	return []device.CommandDef{
		{Name: "power_on", Group: "power", Description: "Switch on"},
		{Name: "power_off", Group: "power", Description: "Switch off"},
		{Name: "set_level", Group: "level", Description: "Set output level", Params: []device.ParamDef{
			{Name: "level", Type: device.ParamRange, Required: true, Min: bound(0), Max: bound(100)},
		}},
		{Name: "status", Description: "Publish current state"},
	}
}

// Adapter is a virtual device backend.
type Adapter struct {
	mu     sync.RWMutex
	device *device.Device
}

// New creates an adapter. It is bound to its device in Setup.
func New() *Adapter {
	return &Adapter{}
}

// Setup binds the adapter to d and seeds the initial state.
func (a *Adapter) Setup(_ context.Context, d *device.Device) error {
	a.mu.Lock()
	a.device = d
	a.mu.Unlock()

	d.UpdateState(map[string]any{"power": PowerOff, "level": 0.0})
	return nil
}

// Shutdown unbinds the adapter.
func (a *Adapter) Shutdown(context.Context) error {
	a.mu.Lock()
	a.device = nil
	a.mu.Unlock()
	return nil
}

// Handlers registers set, which writes any parameters straight into state.
func (a *Adapter) Handlers() map[string]device.HandlerFunc {
	return map[string]device.HandlerFunc{
		"set": a.set,
	}
}

// HandlePowerOn switches the device on.
func (a *Adapter) HandlePowerOn(_ context.Context, _ device.CommandDef, _ map[string]any) (device.CommandResult, error) {
	return a.apply(map[string]any{"power": PowerOn})
}

// HandlePowerOff switches the device off.
func (a *Adapter) HandlePowerOff(_ context.Context, _ device.CommandDef, _ map[string]any) (device.CommandResult, error) {
	return a.apply(map[string]any{"power": PowerOff})
}

// HandleSetLevel sets level and switches the device on when level > 0.
func (a *Adapter) HandleSetLevel(_ context.Context, _ device.CommandDef, params map[string]any) (device.CommandResult, error) {
	level, ok := number(params["level"])
	if !ok {
		return device.CommandResult{}, fmt.Errorf("level must be a number, got %v", params["level"])
	}
	power := PowerOff
	if level > 0 {
		power = PowerOn
	}
	return a.apply(map[string]any{"level": level, "power": power})
}

// HandleStatus republishes the current state without changing it.
func (a *Adapter) HandleStatus(_ context.Context, _ device.CommandDef, _ map[string]any) (device.CommandResult, error) {
	return a.apply(nil)
}

func (a *Adapter) set(_ context.Context, _ device.CommandDef, params map[string]any) (device.CommandResult, error) {
	if len(params) == 0 {
		return device.CommandResult{}, errors.New("set needs at least one parameter")
	}
	patch := make(map[string]any, len(params))
	for k, v := range params {
		switch k {
		case device.StateKeyID, device.StateKeyName, device.StateKeyLastCommand, device.StateKeyError:
			return device.CommandResult{}, fmt.Errorf("%q is reserved", k)
		}
		patch[k] = v
	}
	return a.apply(patch)
}

// apply returns patch as the state update together with a bus command that
// publishes the resulting state.
func (a *Adapter) apply(patch map[string]any) (device.CommandResult, error) {
	a.mu.RLock()
	d := a.device
	a.mu.RUnlock()
	if d == nil {
		return device.CommandResult{}, ErrNotSetUp
	}

	snapshot := make(map[string]any)
	for k, v := range d.State() {
		if k == device.StateKeyLastCommand {
			continue
		}
		snapshot[k] = v
	}
	for k, v := range patch {
		snapshot[k] = v
	}

	return device.CommandResult{
		Success: true,
		Data:    snapshot,
		State:   patch,
		BusCommand: &device.BusCommand{
			Topic:   mqtt.Topics{}.DeviceState(d.ID()),
			Payload: snapshot,
		},
	}, nil
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
