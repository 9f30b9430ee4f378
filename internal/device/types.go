package device

import (
	"context"
	"strings"
	"time"

	"github.com/nerrad567/devicehub/internal/infrastructure/mqtt"
)

// ParamType is the declared type of a command parameter.
type ParamType string

// Parameter types.
const (
	ParamString  ParamType = "string"
	ParamInteger ParamType = "integer"
	ParamFloat   ParamType = "float"
	ParamBoolean ParamType = "boolean"
	ParamRange   ParamType = "range"
)

// ParamDef declares one parameter of a command.
type ParamDef struct {
	Name     string    `json:"name"`
	Type     ParamType `json:"type"`
	Required bool      `json:"required,omitempty"`
	Default  any       `json:"default,omitempty"`

	// Min and Max are inclusive bounds, only checked for numeric and range types.
	Min *float64 `json:"min,omitempty"`
	Max *float64 `json:"max,omitempty"`
}

// CommandDef declares an invocable command on a device. Definitions are
// immutable once the device is constructed.
type CommandDef struct {
	Name        string     `json:"name"`
	Action      string     `json:"action,omitempty"`
	Topic       string     `json:"topic,omitempty"`
	Group       string     `json:"group,omitempty"`
	Description string     `json:"description,omitempty"`
	Params      []ParamDef `json:"params,omitempty"`
}

// ActionName returns the action the command dispatches to, defaulting to Name.
func (c CommandDef) ActionName() string {
	if c.Action != "" {
		return c.Action
	}
	return c.Name
}

// TopicFor returns the explicit topic, or the derived control topic for deviceID.
func (c CommandDef) TopicFor(deviceID string) string {
	if c.Topic != "" {
		return c.Topic
	}
	return mqtt.Topics{}.Control(deviceID, c.Name)
}

// BusCommand is a message a handler asks the dispatcher to publish.
type BusCommand struct {
	Topic   string `json:"topic"`
	Payload any    `json:"payload"`
	QoS     byte   `json:"qos,omitempty"`
	Retain  bool   `json:"retain,omitempty"`
}

// CommandResult is the outcome of a handler invocation.
type CommandResult struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
	Data    any    `json:"data,omitempty"`

	// State is a partial update merged into the device state together with
	// last_command.
	State map[string]any `json:"-"`

	BusCommand *BusCommand `json:"bus_command,omitempty"`
}

// Failed builds an unsuccessful result carrying err's text.
func Failed(err error) CommandResult {
	return CommandResult{Success: false, Error: err.Error()}
}

// Source tags who triggered a command.
type Source string

// Command sources.
const (
	SourceBus    Source = "bus"
	SourceAPI    Source = "api"
	SourceSystem Source = "system"
)

// LastCommand records the most recent dispatched command.
type LastCommand struct {
	Action    string         `json:"action"`
	Source    Source         `json:"source"`
	Timestamp time.Time      `json:"timestamp"`
	Params    map[string]any `json:"params"`
}

// State is a snapshot of a device's named fields.
type State map[string]any

// Clone returns a shallow copy of the state.
func (s State) Clone() State {
	out := make(State, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// LastCommand returns the last_command record, if present.
func (s State) LastCommand() (LastCommand, bool) {
	lc, ok := s[StateKeyLastCommand].(LastCommand)
	return lc, ok
}

// Reserved state keys.
const (
	StateKeyID          = "id"
	StateKeyName        = "name"
	StateKeyLastCommand = "last_command"
	StateKeyError       = "error"
)

// HandlerFunc implements a command. ctx is cancelled when the caller gives up.
type HandlerFunc func(ctx context.Context, cmd CommandDef, params map[string]any) (CommandResult, error)

// normaliseAction lowercases and trims an action name for lookup.
func normaliseAction(action string) string {
	return strings.ToLower(strings.TrimSpace(action))
}
