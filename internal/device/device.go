package device

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/devicehub/internal/infrastructure/mqtt"
)

// Bus is the subset of the bus client a device needs.
type Bus interface {
	Publish(topic string, payload any, qos byte, retained bool) error
	Subscribe(ownerID, topic string, qos byte, handler mqtt.MessageHandler) error
	UnsubscribeOwner(ownerID string) error
	RegisterPresence(ownerID, topic string, offlinePayload any) error
	RemovePresence(ownerID string) error
}

// Adapter is the device-specific collaborator. Action handlers are its
// Handle* methods and, optionally, the map returned by Handlers().
type Adapter interface {
	// Setup connects the adapter to its hardware. It is called once from
	// Registry.Start.
	Setup(ctx context.Context, d *Device) error

	// Shutdown releases whatever Setup acquired.
	Shutdown(ctx context.Context) error
}

// Definition is the static description of a device.
type Definition struct {
	ID        string
	Name      string
	Commands  []CommandDef
	Emulation bool
}

// CommandRecord is one dispatched command and its outcome.
type CommandRecord struct {
	DeviceID  string
	Action    string
	Source    Source
	Params    map[string]any
	Success   bool
	Error     string
	Timestamp time.Time
}

// CommandRecorder receives every dispatched command.
type CommandRecorder interface {
	RecordCommand(ctx context.Context, rec CommandRecord) error
}

// Option configures a Device.
type Option func(*Device)

// WithNotifier sets the notifier used for state changes.
func WithNotifier(n *Notifier) Option {
	return func(d *Device) {
		if n != nil {
			d.state.setNotifier(n)
		}
	}
}

// WithQoS sets the QoS used for the device's subscriptions and publishes.
func WithQoS(qos byte) Option {
	return func(d *Device) {
		d.qos = qos
	}
}

// WithLogger sets the device logger.
func WithLogger(logger Logger) Option {
	return func(d *Device) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// Device runs the command pipeline for one adapter instance.
type Device struct {
	id        string
	name      string
	commands  []CommandDef
	emulation bool
	qos       byte

	adapter  Adapter
	handlers *handlerTable
	state    *stateModel

	mu       sync.RWMutex
	bus      Bus
	recorder CommandRecorder
	logger   Logger
}

// New builds a device from def. Convention handlers are discovered on adapter
// here, once.
func New(def Definition, adapter Adapter, opts ...Option) (*Device, error) {
	if err := validateDefinition(def); err != nil {
		return nil, err
	}

	name := def.Name
	if name == "" {
		name = def.ID
	}

	commands := make([]CommandDef, len(def.Commands))
	copy(commands, def.Commands)

	d := &Device{
		id:        def.ID,
		name:      name,
		commands:  commands,
		emulation: def.Emulation,
		adapter:   adapter,
		handlers:  newHandlerTable(adapter),
		state:     newStateModel(def.ID, name, NewNotifier()),
		logger:    noopLogger{},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

func validateDefinition(def Definition) error {
	if def.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidDevice)
	}
	if strings.ContainsAny(def.ID, "/+#") {
		return fmt.Errorf("%w: id %q contains a topic separator or wildcard", ErrInvalidDevice, def.ID)
	}

	seen := make(map[string]bool, len(def.Commands))
	for _, cmd := range def.Commands {
		key := normaliseAction(cmd.Name)
		if key == "" {
			return fmt.Errorf("%w: device %s has a command without a name", ErrInvalidDevice, def.ID)
		}
		if seen[key] {
			return fmt.Errorf("%w: device %s declares command %q twice", ErrInvalidDevice, def.ID, cmd.Name)
		}
		seen[key] = true

		if cmd.Topic != "" {
			if err := mqtt.ValidatePattern(cmd.Topic); err != nil {
				return fmt.Errorf("%w: command %q: %w", ErrInvalidDevice, cmd.Name, err)
			}
		}
		if err := ValidateParamDefs(cmd.Params); err != nil {
			return fmt.Errorf("%w: command %q: %w", ErrInvalidDevice, cmd.Name, err)
		}
	}
	return nil
}

// ID returns the device identifier.
func (d *Device) ID() string { return d.id }

// Name returns the display name.
func (d *Device) Name() string { return d.name }

// Emulation reports whether virtual-presence topics are published.
func (d *Device) Emulation() bool { return d.emulation }

// Commands returns a copy of the command definitions in declaration order.
func (d *Device) Commands() []CommandDef {
	out := make([]CommandDef, len(d.commands))
	copy(out, d.commands)
	return out
}

// HandlerNames returns every action the device can handle, sorted.
func (d *Device) HandlerNames() []string {
	return d.handlers.names()
}

// RegisterHandler adds an explicit handler for action.
// It overrides any Handle* method for the same action.
func (d *Device) RegisterHandler(action string, fn HandlerFunc) {
	d.handlers.register(action, fn)
}

// State returns a copy of the current state.
func (d *Device) State() State {
	return d.state.current().Clone()
}

// UpdateState merges partial into the state and returns the changed keys.
// Adapters use it to report readings that did not come from a command.
func (d *Device) UpdateState(partial map[string]any) []string {
	return d.state.update(partial)
}

// SetLogger sets the device logger.
func (d *Device) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	d.mu.Lock()
	d.logger = logger
	d.mu.Unlock()
}

func (d *Device) getLogger() Logger {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.logger
}

func (d *Device) setBus(bus Bus) {
	d.mu.Lock()
	d.bus = bus
	d.mu.Unlock()
}

func (d *Device) getBus() Bus {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.bus
}

func (d *Device) setRecorder(rec CommandRecorder) {
	d.mu.Lock()
	d.recorder = rec
	d.mu.Unlock()
}

func (d *Device) getRecorder() CommandRecorder {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.recorder
}

// Publish sends payload on topic through the device's bus.
func (d *Device) Publish(topic string, payload any, retained bool) error {
	bus := d.getBus()
	if bus == nil {
		return ErrNoBus
	}
	return bus.Publish(topic, payload, d.qos, retained)
}

// findCommand returns the command named or actioned as action.
func (d *Device) findCommand(action string) (CommandDef, bool) {
	key := normaliseAction(action)
	for _, cmd := range d.commands {
		if normaliseAction(cmd.Name) == key {
			return cmd, true
		}
	}
	for _, cmd := range d.commands {
		if normaliseAction(cmd.ActionName()) == key {
			return cmd, true
		}
	}
	return CommandDef{}, false
}

// Execute runs action with params on behalf of source. Commands not declared
// on the device still run when a handler exists, with params passed through.
func (d *Device) Execute(ctx context.Context, action string, params map[string]any, source Source) CommandResult {
	cmd, ok := d.findCommand(action)
	if !ok {
		cmd = CommandDef{Name: action, Action: action}
	}
	return d.dispatch(ctx, cmd, params, source)
}

// HandleMessage is the bus entry point for every topic the device subscribes
// to. Every command whose topic matches runs, in declaration order.
// Retained messages are ignored.
func (d *Device) HandleMessage(msg mqtt.Message) error {
	if msg.Retained {
		return nil
	}

	logger := d.getLogger()
	commands := d.commandsForTopic(msg.Topic)
	if len(commands) == 0 {
		logger.Debug("no command for topic", "device_id", d.id, "topic", msg.Topic)
		return nil
	}

	ctx := context.Background()
	for _, cmd := range commands {
		params, err := DecodeParams(msg.Payload, cmd.Params)
		if err != nil {
			logger.Warn("dropping bus command",
				"device_id", d.id,
				"command", cmd.Name,
				"topic", msg.Topic,
				"error", err,
			)
			continue
		}

		result := d.dispatch(ctx, cmd, params, SourceBus)
		if !result.Success {
			logger.Warn("bus command failed",
				"device_id", d.id,
				"command", cmd.Name,
				"error", result.Error,
			)
		}
	}
	return nil
}

func (d *Device) commandsForTopic(topic string) []CommandDef {
	var matched []CommandDef
	for _, cmd := range d.commands {
		pattern := cmd.TopicFor(d.id)
		if pattern == topic || (mqtt.IsWildcard(pattern) && mqtt.Matches(pattern, topic)) {
			matched = append(matched, cmd)
		}
	}
	if len(matched) > 0 || !d.emulation {
		return matched
	}

	topics := mqtt.Topics{}
	for _, name := range d.handlers.names() {
		if topics.ControlOn(d.id, name) != topic {
			continue
		}
		if cmd, ok := d.findCommand(name); ok {
			return []CommandDef{cmd}
		}
		return []CommandDef{{Name: name, Action: name}}
	}
	return nil
}

// dispatch resolves params, invokes the handler and applies the outcome.
func (d *Device) dispatch(ctx context.Context, cmd CommandDef, raw map[string]any, source Source) CommandResult {
	logger := d.getLogger()
	action := cmd.ActionName()

	params, err := ResolveParams(cmd.Params, raw)
	if err != nil {
		logger.Warn("invalid command parameters",
			"device_id", d.id,
			"action", action,
			"error", err,
		)
		result := Failed(err)
		d.record(ctx, action, source, raw, result)
		return result
	}

	handler, ok := d.handlers.lookup(action)
	if !ok {
		logger.Warn("no handler for action", "device_id", d.id, "action", action)
		result := Failed(fmt.Errorf("%w: %s", ErrNoHandler, action))
		d.record(ctx, action, source, params, result)
		return result
	}

	result := d.invoke(ctx, handler, cmd, params)

	update := make(map[string]any, len(result.State)+2)
	for k, v := range result.State {
		update[k] = v
	}
	update[StateKeyLastCommand] = LastCommand{
		Action:    action,
		Source:    source,
		Timestamp: time.Now().UTC(),
		Params:    params,
	}
	if result.Success {
		update[StateKeyError] = nil
	} else {
		update[StateKeyError] = result.Error
	}
	d.state.update(update)

	if result.BusCommand != nil {
		d.publishBusCommand(result.BusCommand)
	}

	d.record(ctx, action, source, params, result)
	return result
}

// invoke calls fn and converts errors and panics into a failed result.
func (d *Device) invoke(ctx context.Context, fn HandlerFunc, cmd CommandDef, params map[string]any) (result CommandResult) {
	defer func() {
		if r := recover(); r != nil {
			d.getLogger().Error("command handler panic recovered",
				"device_id", d.id,
				"action", cmd.ActionName(),
				"panic", r,
			)
			result = Failed(fmt.Errorf("%w: %v", ErrHandlerPanic, r))
		}
	}()

	result, err := fn(ctx, cmd, params)
	if err != nil {
		failed := Failed(err)
		failed.Data = result.Data
		return failed
	}
	if !result.Success && result.Error == "" {
		result.Error = "command failed"
	}
	return result
}

func (d *Device) publishBusCommand(bc *BusCommand) {
	logger := d.getLogger()
	bus := d.getBus()
	if bus == nil {
		logger.Warn("dropping bus command", "device_id", d.id, "topic", bc.Topic, "error", ErrNoBus)
		return
	}
	if err := bus.Publish(bc.Topic, bc.Payload, bc.QoS, bc.Retain); err != nil {
		logger.Warn("publishing bus command failed",
			"device_id", d.id,
			"topic", bc.Topic,
			"error", err,
		)
	}
}

func (d *Device) record(ctx context.Context, action string, source Source, params map[string]any, result CommandResult) {
	rec := d.getRecorder()
	if rec == nil {
		return
	}
	err := rec.RecordCommand(ctx, CommandRecord{
		DeviceID:  d.id,
		Action:    action,
		Source:    source,
		Params:    params,
		Success:   result.Success,
		Error:     result.Error,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		d.getLogger().Warn("recording command failed", "device_id", d.id, "action", action, "error", err)
	}
}

// controlMeta is the emulation record for one control.
type controlMeta struct {
	Type     string `json:"type"`
	ReadOnly bool   `json:"readonly"`
}

// deviceMeta is the emulation record for the device.
type deviceMeta struct {
	Name   string `json:"name"`
	Driver string `json:"driver"`
}

// metaDriver identifies this service in emulated device metadata.
const metaDriver = "devicehub"

// PublishMeta publishes retained emulation metadata for the device and each
// of its handlers. It does nothing when emulation is off.
func (d *Device) PublishMeta() error {
	if !d.emulation {
		return nil
	}
	bus := d.getBus()
	if bus == nil {
		return ErrNoBus
	}

	topics := mqtt.Topics{}
	if err := bus.Publish(topics.DeviceMeta(d.id), deviceMeta{Name: d.name, Driver: metaDriver}, d.qos, true); err != nil {
		return fmt.Errorf("publishing device meta: %w", err)
	}
	for _, name := range d.handlers.names() {
		cmd, _ := d.findCommand(name)
		meta := controlMeta{Type: controlType(cmd)}
		if err := bus.Publish(topics.ControlMeta(d.id, name), meta, d.qos, true); err != nil {
			return fmt.Errorf("publishing control meta %s: %w", name, err)
		}
	}
	return nil
}

// controlType maps a command's parameter shape onto an emulated control type.
func controlType(cmd CommandDef) string {
	if len(cmd.Params) != 1 {
		if len(cmd.Params) == 0 {
			return "pushbutton"
		}
		return "text"
	}
	switch cmd.Params[0].Type {
	case ParamBoolean:
		return "switch"
	case ParamRange, ParamInteger, ParamFloat:
		return "range"
	default:
		return "text"
	}
}
