package device

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/nerrad567/devicehub/internal/infrastructure/mqtt"
)

// Availability payloads published on /devices/{id}/meta/available.
const (
	AvailableOnline  = "1"
	AvailableOffline = "0"
)

// Logger defines the logging interface used by the device package.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing (used when no logger is set).
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Stats summarises the registry.
type Stats struct {
	Devices       int `json:"devices"`
	Commands      int `json:"commands"`
	Subscriptions int `json:"subscriptions"`
	Emulated      int `json:"emulated"`
}

// Registry holds every device and connects them to the bus.
//
// All devices share one Notifier, so an observer added to the registry sees
// changes from every device.
//
// Thread Safety: all methods are safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	devices  map[string]*Device
	order    []string
	bus      Bus
	recorder CommandRecorder
	notifier *Notifier
	logger   Logger
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		devices:  make(map[string]*Device),
		notifier: NewNotifier(),
		logger:   noopLogger{},
	}
}

// SetLogger sets the logger for the registry, its notifier and its devices.
func (r *Registry) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	r.mu.Lock()
	r.logger = logger
	devices := r.listLocked()
	r.mu.Unlock()

	r.notifier.SetLogger(logger)
	for _, d := range devices {
		d.SetLogger(logger)
	}
}

// SetCommandRecorder sets the recorder for commands on every device.
func (r *Registry) SetCommandRecorder(rec CommandRecorder) {
	r.mu.Lock()
	r.recorder = rec
	devices := r.listLocked()
	r.mu.Unlock()

	for _, d := range devices {
		d.setRecorder(rec)
	}
}

// AddObserver registers an observer for state changes on any device.
func (r *Registry) AddObserver(o Observer) {
	r.notifier.Add(o)
}

// Add registers a device. The device is attached to the registry's notifier,
// logger and command recorder.
func (r *Registry) Add(d *Device) error {
	if d == nil {
		return fmt.Errorf("%w: nil device", ErrInvalidDevice)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.devices[d.id]; exists {
		return fmt.Errorf("%w: %s", ErrDeviceExists, d.id)
	}

	d.state.setNotifier(r.notifier)
	d.SetLogger(r.logger)
	d.setRecorder(r.recorder)

	r.devices[d.id] = d
	r.order = append(r.order, d.id)
	return nil
}

// Get returns the device with id.
func (r *Registry) Get(id string) (*Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.devices[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
	}
	return d, nil
}

// List returns all devices in the order they were added.
func (r *Registry) List() []*Device {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.listLocked()
}

func (r *Registry) listLocked() []*Device {
	out := make([]*Device, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.devices[id])
	}
	return out
}

// DeviceState returns a copy of the state of device id.
func (r *Registry) DeviceState(id string) (State, error) {
	d, err := r.Get(id)
	if err != nil {
		return nil, err
	}
	return d.State(), nil
}

// Execute runs action on device id.
func (r *Registry) Execute(ctx context.Context, id, action string, params map[string]any, source Source) (CommandResult, error) {
	d, err := r.Get(id)
	if err != nil {
		return CommandResult{}, err
	}
	return d.Execute(ctx, action, params, source), nil
}

// CollectSubscriptions returns the topics d listens on: one per command
// (explicit or derived, deduplicated, in declaration order) followed by one
// /on write topic per handler when emulation is enabled.
func CollectSubscriptions(d *Device) []string {
	seen := make(map[string]bool)
	var topics []string
	add := func(topic string) {
		if !seen[topic] {
			seen[topic] = true
			topics = append(topics, topic)
		}
	}

	for _, cmd := range d.commands {
		add(cmd.TopicFor(d.id))
	}
	if d.emulation {
		builder := mqtt.Topics{}
		for _, name := range d.handlers.names() {
			add(builder.ControlOn(d.id, name))
		}
	}
	return topics
}

// WireDevice subscribes every topic of d on bus, all bound to d.HandleMessage,
// and registers the device's offline availability marker.
// On failure the device's subscriptions are removed again.
func WireDevice(d *Device, bus Bus) error {
	if bus == nil {
		return ErrNoBus
	}
	d.setBus(bus)

	for _, topic := range CollectSubscriptions(d) {
		if err := bus.Subscribe(d.id, topic, d.qos, d.HandleMessage); err != nil {
			_ = bus.UnsubscribeOwner(d.id)
			return fmt.Errorf("subscribing %s to %s: %w", d.id, topic, err)
		}
	}

	availability := mqtt.Topics{}.Availability(d.id)
	if err := bus.RegisterPresence(d.id, availability, AvailableOffline); err != nil {
		_ = bus.UnsubscribeOwner(d.id)
		return fmt.Errorf("registering presence for %s: %w", d.id, err)
	}
	return nil
}

// WireAll wires every device to bus.
func (r *Registry) WireAll(bus Bus) error {
	r.mu.Lock()
	r.bus = bus
	devices := r.listLocked()
	r.mu.Unlock()

	for _, d := range devices {
		if err := WireDevice(d, bus); err != nil {
			return err
		}
	}
	return nil
}

// Start runs every adapter's Setup and announces the devices. A failing
// adapter does not stop the others; all errors are returned joined.
func (r *Registry) Start(ctx context.Context) error {
	var errs []error
	for _, d := range r.List() {
		if d.adapter == nil {
			continue
		}
		if err := d.adapter.Setup(ctx, d); err != nil {
			r.getLogger().Error("device setup failed", "device_id", d.id, "error", err)
			errs = append(errs, fmt.Errorf("setting up %s: %w", d.id, err))
		}
	}
	r.Announce()
	return errors.Join(errs...)
}

// Announce publishes availability and emulation metadata for every device.
// It is safe to call on every bus (re)connect; failures are logged.
func (r *Registry) Announce() {
	logger := r.getLogger()
	for _, d := range r.List() {
		if d.getBus() == nil {
			continue
		}
		if err := d.PublishMeta(); err != nil {
			logger.Warn("publishing device meta failed", "device_id", d.id, "error", err)
		}
		if err := d.Publish(mqtt.Topics{}.Availability(d.id), AvailableOnline, true); err != nil {
			logger.Warn("publishing availability failed", "device_id", d.id, "error", err)
		}
	}
}

// Stop marks every device offline, removes its subscriptions and shuts down
// its adapter.
func (r *Registry) Stop(ctx context.Context) error {
	r.mu.RLock()
	bus := r.bus
	devices := r.listLocked()
	r.mu.RUnlock()

	logger := r.getLogger()
	var errs []error
	for _, d := range devices {
		if bus != nil {
			if err := bus.RemovePresence(d.id); err != nil {
				logger.Warn("publishing offline marker failed", "device_id", d.id, "error", err)
			}
			if err := bus.UnsubscribeOwner(d.id); err != nil {
				logger.Warn("unsubscribing device failed", "device_id", d.id, "error", err)
			}
		}
		if d.adapter != nil {
			if err := d.adapter.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("shutting down %s: %w", d.id, err))
			}
		}
	}
	r.notifier.Wait()
	return errors.Join(errs...)
}

// WaitIdle blocks until all pending observer notifications have run.
func (r *Registry) WaitIdle() {
	r.notifier.Wait()
}

// Stats returns counts over all devices.
func (r *Registry) Stats() Stats {
	var s Stats
	for _, d := range r.List() {
		s.Devices++
		s.Commands += len(d.commands)
		s.Subscriptions += len(CollectSubscriptions(d))
		if d.emulation {
			s.Emulated++
		}
	}
	return s
}

func (r *Registry) getLogger() Logger {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.logger
}
