package device

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nerrad567/devicehub/internal/infrastructure/config"
	"github.com/nerrad567/devicehub/internal/infrastructure/mqtt"
)

// testAdapter exposes convention handlers and counts their calls.
type testAdapter struct {
	mu       sync.Mutex
	calls    map[string]int
	params   map[string]map[string]any
	setups   atomic.Int32
	shutdown atomic.Int32
	setupErr error
}

func (a *testAdapter) note(action string, params map[string]any) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.calls == nil {
		a.calls = make(map[string]int)
		a.params = make(map[string]map[string]any)
	}
	a.calls[action]++
	a.params[action] = params
}

func (a *testAdapter) count(action string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls[action]
}

func (a *testAdapter) lastParams(action string) map[string]any {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.params[action]
}

func (a *testAdapter) Setup(context.Context, *Device) error {
	a.setups.Add(1)
	return a.setupErr
}

func (a *testAdapter) Shutdown(context.Context) error {
	a.shutdown.Add(1)
	return nil
}

func (a *testAdapter) HandlePowerOn(_ context.Context, _ CommandDef, params map[string]any) (CommandResult, error) {
	a.note("power_on", params)
	return CommandResult{Success: true, State: map[string]any{"power": "on"}}, nil
}

func (a *testAdapter) HandleSetVolume(_ context.Context, _ CommandDef, params map[string]any) (CommandResult, error) {
	a.note("set_volume", params)
	return CommandResult{Success: true, Data: map[string]any{"level": params["level"]}}, nil
}

func (a *testAdapter) HandleExplode(context.Context, CommandDef, map[string]any) (CommandResult, error) {
	panic("boom")
}

// HandleMisshapen does not have the handler signature and must be ignored.
func (a *testAdapter) HandleMisshapen(string) {}

// Handle alone is not an action.
func (a *testAdapter) Handle(context.Context, CommandDef, map[string]any) (CommandResult, error) {
	return CommandResult{}, nil
}

func newTestDevice(t *testing.T, def Definition, adapter Adapter, opts ...Option) *Device {
	t.Helper()
	d, err := New(def, adapter, opts...)
	require.NoError(t, err)
	return d
}

type published struct {
	Topic    string
	Payload  any
	QoS      byte
	Retained bool
}

// fakeBus records bus calls and routes deliveries with mqtt.Matches.
type fakeBus struct {
	mu           sync.Mutex
	connected    bool
	subs         map[string]map[string]mqtt.MessageHandler // owner -> topic -> handler
	presence     map[string]published
	published    []published
	subscribeErr error
}

func newFakeBus() *fakeBus {
	return &fakeBus{
		connected: true,
		subs:      make(map[string]map[string]mqtt.MessageHandler),
		presence:  make(map[string]published),
	}
}

func (b *fakeBus) Publish(topic string, payload any, qos byte, retained bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.connected {
		return mqtt.ErrNotConnected
	}
	b.published = append(b.published, published{topic, payload, qos, retained})
	return nil
}

func (b *fakeBus) Subscribe(owner, topic string, _ byte, handler mqtt.MessageHandler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subscribeErr != nil {
		return b.subscribeErr
	}
	if b.subs[owner] == nil {
		b.subs[owner] = make(map[string]mqtt.MessageHandler)
	}
	b.subs[owner][topic] = handler
	return nil
}

func (b *fakeBus) UnsubscribeOwner(owner string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, owner)
	return nil
}

func (b *fakeBus) RegisterPresence(owner, topic string, payload any) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.presence[owner] = published{Topic: topic, Payload: payload, Retained: true}
	return nil
}

func (b *fakeBus) RemovePresence(owner string) error {
	b.mu.Lock()
	p, ok := b.presence[owner]
	delete(b.presence, owner)
	b.mu.Unlock()
	if !ok {
		return nil
	}
	return b.Publish(p.Topic, p.Payload, 0, true)
}

// deliver routes a message to every owner with a matching subscription,
// once per owner like mqtt.Client.
func (b *fakeBus) deliver(topic, payload string, retained bool) {
	b.mu.Lock()
	var handlers []mqtt.MessageHandler
	for _, topics := range b.subs {
		for pattern, h := range topics {
			if mqtt.Matches(pattern, topic) {
				handlers = append(handlers, h)
				break
			}
		}
	}
	b.mu.Unlock()

	msg := mqtt.Message{Topic: topic, Payload: payload, Raw: []byte(payload), Retained: retained}
	for _, h := range handlers {
		_ = h(msg)
	}
}

func (b *fakeBus) topicsFor(owner string) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []string
	for topic := range b.subs[owner] {
		out = append(out, topic)
	}
	return out
}

func (b *fakeBus) publishedTo(topic string) []published {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []published
	for _, p := range b.published {
		if p.Topic == topic {
			out = append(out, p)
		}
	}
	return out
}

// countingObserver counts notifications per device.
type countingObserver struct {
	mu     sync.Mutex
	counts map[string]int
}

func (o *countingObserver) StateChanged(id string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.counts == nil {
		o.counts = make(map[string]int)
	}
	o.counts[id]++
}

func (o *countingObserver) count(id string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.counts[id]
}

func messageOn(topic, payload string, retained bool) mqtt.Message {
	return mqtt.Message{Topic: topic, Payload: payload, Raw: []byte(payload), Retained: retained}
}

// loopbackTransport is an mqtt.Transport that never leaves the process.
// Tests inject inbound messages through deliver.
type loopbackTransport struct {
	mu        sync.Mutex
	handlers  mqtt.TransportHandlers
	connected bool
}

func (l *loopbackTransport) factory(_ config.MQTTConfig, _ mqtt.Will, handlers mqtt.TransportHandlers) mqtt.Transport {
	l.mu.Lock()
	l.handlers = handlers
	l.mu.Unlock()
	return l
}

func (l *loopbackTransport) Connect(context.Context) error {
	l.mu.Lock()
	l.connected = true
	l.mu.Unlock()
	return nil
}

func (l *loopbackTransport) Disconnect(uint) {
	l.mu.Lock()
	l.connected = false
	l.mu.Unlock()
}

func (l *loopbackTransport) IsConnected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.connected
}

func (l *loopbackTransport) Publish(string, byte, bool, []byte) error { return nil }
func (l *loopbackTransport) Subscribe(string, byte) error            { return nil }
func (l *loopbackTransport) Unsubscribe(...string) error             { return nil }

func (l *loopbackTransport) deliver(topic, payload string) {
	l.mu.Lock()
	onMessage := l.handlers.OnMessage
	l.mu.Unlock()
	onMessage(topic, []byte(payload), 0, false)
}

// newLoopbackClient returns a connected mqtt.Client running on a loopbackTransport.
func newLoopbackClient(t *testing.T) (*mqtt.Client, *loopbackTransport) {
	t.Helper()
	lt := &loopbackTransport{}
	c := mqtt.New(config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{Host: "127.0.0.1", Port: 1883, ClientID: "device-test"},
	}, mqtt.WithTransport(lt.factory))
	t.Cleanup(c.Disconnect)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, c.Connect(ctx, nil))
	return c, lt
}
