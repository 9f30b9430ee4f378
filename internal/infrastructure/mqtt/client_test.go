package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/devicehub/internal/infrastructure/config"
)

// testConfig returns an MQTT configuration for tests. No broker is needed:
// every client in this file runs on fakeBroker.
func testConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: "devicehub-test",
		},
		QoS: 1,
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     5,
			MaxAttempts:  3,
		},
	}
}

func newTestClient(t *testing.T, broker *fakeBroker, opts ...Option) *Client {
	t.Helper()
	opts = append([]Option{
		WithTransport(broker.factory),
		WithBackoff(time.Millisecond, 5*time.Millisecond),
	}, opts...)
	c := New(testConfig(), opts...)
	t.Cleanup(c.Disconnect)
	return c
}

func connect(t *testing.T, c *Client, subs map[string]MessageHandler) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, c.Connect(ctx, subs))
}

func noopHandler(Message) error { return nil }

// =============================================================================
// Connection Tests
// =============================================================================

func TestConnect(t *testing.T) {
	broker := &fakeBroker{}
	c := newTestClient(t, broker)

	connect(t, c, map[string]MessageHandler{
		"/devices/a/controls/x": noopHandler,
		"/devices/+/meta":       noopHandler,
	})

	assert.True(t, c.IsConnected())
	assert.Equal(t, StateConnected, c.State())
	assert.ElementsMatch(t, []string{"/devices/a/controls/x", "/devices/+/meta"}, broker.subscriptions())

	status := broker.publishesTo(DefaultStatusTopic)
	require.Len(t, status, 1)
	assert.True(t, status[0].retained)
	assert.Contains(t, status[0].payload, `"status":"online"`)
}

func TestConnectConfiguresServiceWill(t *testing.T) {
	broker := &fakeBroker{}
	c := newTestClient(t, broker)
	connect(t, c, nil)

	require.NotEmpty(t, broker.wills)
	will := broker.wills[0]
	assert.Equal(t, DefaultStatusTopic, will.Topic)
	assert.True(t, will.Retained)

	var payload statusPayload
	require.NoError(t, json.Unmarshal(will.Payload, &payload))
	assert.Equal(t, "offline", payload.Status)
	assert.Equal(t, "unexpected_disconnect", payload.Reason)
}

func TestConnectRetriesWithBackoff(t *testing.T) {
	broker := &fakeBroker{failFirst: 2}
	c := newTestClient(t, broker)

	connect(t, c, nil)

	assert.Equal(t, 3, broker.attemptCount())
	assert.True(t, c.IsConnected())
}

func TestConnectRetriesExhausted(t *testing.T) {
	broker := &fakeBroker{failFirst: 100}
	c := newTestClient(t, broker)

	var fatal atomic.Int32
	c.SetOnFatal(func(error) { fatal.Add(1) })

	err := c.Connect(context.Background(), nil)
	require.ErrorIs(t, err, ErrRetriesExhausted)

	assert.Equal(t, 3, broker.attemptCount())
	assert.Equal(t, StateFailed, c.State())
	assert.Error(t, c.LastError())
	assert.Equal(t, int32(1), fatal.Load())

	// Failed stays failed: no further attempts without an explicit Connect.
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 3, broker.attemptCount())

	// An explicit Connect starts a fresh attempt sequence.
	broker.setFailFirst(3)
	connect(t, c, nil)
	assert.Equal(t, 4, broker.attemptCount())
	assert.Equal(t, StateConnected, c.State())
}

func TestDisconnectStopsInterruptedConnect(t *testing.T) {
	broker := &fakeBroker{failFirst: 100}
	c := newTestClient(t, broker, WithBackoff(20*time.Millisecond, 20*time.Millisecond))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, c.Connect(ctx, nil), context.DeadlineExceeded)

	// The attempt loop outlives the cancelled Connect until Disconnect.
	c.Disconnect()
	assert.Equal(t, StateDisconnected, c.State())

	attempts := broker.attemptCount()
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, attempts, broker.attemptCount())
	assert.Less(t, attempts, 3)
}

func TestConnectTwice(t *testing.T) {
	broker := &fakeBroker{}
	c := newTestClient(t, broker)
	connect(t, c, nil)

	err := c.Connect(context.Background(), nil)
	assert.ErrorIs(t, err, ErrAlreadyConnected)
}

func TestBackoffIsLinear(t *testing.T) {
	c := New(testConfig(), WithBackoff(100*time.Millisecond, 250*time.Millisecond))

	assert.Equal(t, 100*time.Millisecond, c.backoff(1))
	assert.Equal(t, 200*time.Millisecond, c.backoff(2))
	assert.Equal(t, 250*time.Millisecond, c.backoff(3))
}

func TestNewDefaults(t *testing.T) {
	cfg := testConfig()
	cfg.Reconnect = config.MQTTReconnectConfig{}
	c := New(cfg)

	assert.Equal(t, defaultMaxAttempts, c.maxAttempts)
	assert.Equal(t, defaultBackoffBase, c.backoffBase)
	assert.Equal(t, StateDisconnected, c.State())
}

func TestReconnectReissuesSubscriptions(t *testing.T) {
	broker := &fakeBroker{}
	c := newTestClient(t, broker)

	var disconnects atomic.Int32
	c.SetOnDisconnect(func(error) { disconnects.Add(1) })
	var connects atomic.Int32
	c.SetOnConnect(func() { connects.Add(1) })

	connect(t, c, map[string]MessageHandler{"a/b": noopHandler, "a/#": noopHandler})
	require.Len(t, broker.subscriptions(), 2)

	broker.drop(errors.New("network down"))

	require.Eventually(t, func() bool {
		return len(broker.subscriptions()) == 4 && connects.Load() == 2
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, int32(1), disconnects.Load())
	assert.Equal(t, int32(2), connects.Load())
	assert.Len(t, broker.publishesTo(DefaultStatusTopic), 2)
}

func TestDisconnect(t *testing.T) {
	broker := &fakeBroker{}
	c := newTestClient(t, broker)
	connect(t, c, nil)

	c.Disconnect()

	assert.False(t, c.IsConnected())
	assert.Equal(t, StateDisconnected, c.State())
	assert.ErrorIs(t, c.Publish("a/b", "x", 0, false), ErrNotConnected)

	status := broker.publishesTo(DefaultStatusTopic)
	require.Len(t, status, 2)
	assert.Contains(t, status[1].payload, "graceful_shutdown")

	// Disconnect is idempotent.
	c.Disconnect()
}

func TestDisconnectBeforeConnect(t *testing.T) {
	c := New(testConfig(), WithTransport((&fakeBroker{}).factory))
	c.Disconnect()
	assert.Equal(t, StateDisconnected, c.State())
}

// =============================================================================
// Health Check Tests
// =============================================================================

func TestHealthCheck(t *testing.T) {
	broker := &fakeBroker{}
	c := newTestClient(t, broker)

	assert.ErrorIs(t, c.HealthCheck(context.Background()), ErrNotConnected)

	connect(t, c, nil)
	assert.NoError(t, c.HealthCheck(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, c.HealthCheck(ctx), context.Canceled)
}

// =============================================================================
// Publish Tests
// =============================================================================

func TestPublishBeforeConnect(t *testing.T) {
	c := New(testConfig(), WithTransport((&fakeBroker{}).factory))

	done := make(chan error, 1)
	go func() { done <- c.Publish("/devices/a/state", "x", 0, false) }()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrNotConnected)
	case <-time.After(time.Second):
		t.Fatal("Publish() blocked while disconnected")
	}
}

func TestPublishEncodesPayload(t *testing.T) {
	broker := &fakeBroker{}
	c := newTestClient(t, broker)
	connect(t, c, nil)

	require.NoError(t, c.Publish("t/bool", true, 0, false))
	require.NoError(t, c.Publish("t/num", 42, 1, false))
	require.NoError(t, c.Publish("t/obj", map[string]any{"level": 42}, 0, true))
	require.NoError(t, c.Publish("t/raw", "on", 1, true))

	assert.Equal(t, []publishedMessage{{topic: "t/bool", payload: "true"}}, broker.publishesTo("t/bool"))
	assert.Equal(t, []publishedMessage{{topic: "t/num", qos: 1, payload: "42"}}, broker.publishesTo("t/num"))
	assert.Equal(t, []publishedMessage{{topic: "t/obj", retained: true, payload: `{"level":42}`}}, broker.publishesTo("t/obj"))
	assert.Equal(t, []publishedMessage{{topic: "t/raw", qos: 1, retained: true, payload: "on"}}, broker.publishesTo("t/raw"))
}

func TestPublishValidation(t *testing.T) {
	broker := &fakeBroker{}
	c := newTestClient(t, broker)
	connect(t, c, nil)

	assert.ErrorIs(t, c.Publish("", "x", 0, false), ErrInvalidTopic)
	assert.ErrorIs(t, c.Publish("a/+", "x", 0, false), ErrInvalidTopic)
	assert.ErrorIs(t, c.Publish("a/b", "x", 3, false), ErrInvalidQoS)
	assert.ErrorIs(t, c.Publish("a/b", make([]byte, maxPayloadSize+1), 0, false), ErrPublishFailed)
}

// =============================================================================
// Subscription and Dispatch Tests
// =============================================================================

type recorder struct {
	mu   sync.Mutex
	msgs []Message
}

func (r *recorder) handle(msg Message) error {
	r.mu.Lock()
	r.msgs = append(r.msgs, msg)
	r.mu.Unlock()
	return nil
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.msgs)
}

func (r *recorder) last() Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.msgs[len(r.msgs)-1]
}

func TestDispatchExactMatch(t *testing.T) {
	broker := &fakeBroker{}
	c := newTestClient(t, broker)
	exact := &recorder{}
	connect(t, c, map[string]MessageHandler{"/devices/a/controls/x": exact.handle})

	broker.deliver("/devices/a/controls/x", []byte("1"), false)
	broker.deliver("/devices/a/controls/y", []byte("1"), false)

	require.Equal(t, 1, exact.count())
	assert.Equal(t, "1", exact.last().Payload)
	assert.Equal(t, "/devices/a/controls/x", exact.last().Topic)
}

func TestDispatchWildcardFanOut(t *testing.T) {
	broker := &fakeBroker{}
	c := newTestClient(t, broker)
	connect(t, c, nil)

	first, second, other := &recorder{}, &recorder{}, &recorder{}
	require.NoError(t, c.Subscribe("dev-1", "/devices/+/controls/#", 0, first.handle))
	require.NoError(t, c.Subscribe("dev-2", "/devices/a/+/x", 0, second.handle))
	require.NoError(t, c.Subscribe("dev-3", "/devices/b/#", 0, other.handle))

	broker.deliver("/devices/a/controls/x", []byte("on"), false)

	assert.Equal(t, 1, first.count())
	assert.Equal(t, 1, second.count())
	assert.Equal(t, 0, other.count())
}

func TestDispatchOverlappingPatternsSameOwner(t *testing.T) {
	broker := &fakeBroker{}
	c := newTestClient(t, broker)
	connect(t, c, nil)

	dev, other := &recorder{}, &recorder{}
	require.NoError(t, c.Subscribe("dev-1", "/x/+/c", 0, dev.handle))
	require.NoError(t, c.Subscribe("dev-1", "/x/#", 0, dev.handle))
	require.NoError(t, c.Subscribe("dev-2", "/x/#", 0, other.handle))

	broker.deliver("/x/y/c", []byte("1"), false)
	assert.Equal(t, 1, dev.count())
	assert.Equal(t, 1, other.count())

	broker.deliver("/x/y/z", []byte("1"), false)
	assert.Equal(t, 2, dev.count())
	assert.Equal(t, 2, other.count())
}

func TestDispatchSharedPattern(t *testing.T) {
	broker := &fakeBroker{}
	c := newTestClient(t, broker)
	connect(t, c, nil)

	a, b := &recorder{}, &recorder{}
	require.NoError(t, c.Subscribe("dev-a", "shared/topic", 0, a.handle))
	require.NoError(t, c.Subscribe("dev-b", "shared/topic", 0, b.handle))

	assert.Equal(t, 1, c.SubscriptionCount())
	assert.Equal(t, []string{"shared/topic"}, broker.subscriptions())

	broker.deliver("shared/topic", []byte("x"), false)
	assert.Equal(t, 1, a.count())
	assert.Equal(t, 1, b.count())
}

func TestDispatchRecoversPanic(t *testing.T) {
	broker := &fakeBroker{}
	c := newTestClient(t, broker)
	connect(t, c, nil)

	after := &recorder{}
	require.NoError(t, c.Subscribe("bad", "t/#", 0, func(Message) error { panic("boom") }))
	require.NoError(t, c.Subscribe("good", "t/+", 0, after.handle))
	require.NoError(t, c.Subscribe("err", "t/+", 0, func(Message) error { return errors.New("nope") }))

	assert.NotPanics(t, func() {
		broker.deliver("t/x", []byte("1"), false)
	})
	assert.Equal(t, 1, after.count())
	assert.True(t, c.IsConnected())
}

func TestDispatchRetainedAndLatin1(t *testing.T) {
	broker := &fakeBroker{}
	c := newTestClient(t, broker)
	rec := &recorder{}
	connect(t, c, map[string]MessageHandler{"t/x": rec.handle})

	broker.deliver("t/x", []byte{'c', 'a', 'f', 0xE9}, true)

	require.Equal(t, 1, rec.count())
	msg := rec.last()
	assert.True(t, msg.Retained)
	assert.Equal(t, "café", msg.Payload)
	assert.Equal(t, []byte{'c', 'a', 'f', 0xE9}, msg.Raw)
}

func TestSubscribeBeforeConnectIsDeferred(t *testing.T) {
	broker := &fakeBroker{}
	c := newTestClient(t, broker)

	require.NoError(t, c.Subscribe("dev", "a/b", 0, noopHandler))
	assert.Equal(t, 1, c.SubscriptionCount())
	assert.Empty(t, broker.subscriptions())

	connect(t, c, nil)
	assert.Equal(t, []string{"a/b"}, broker.subscriptions())
}

func TestSubscribeValidation(t *testing.T) {
	c := New(testConfig(), WithTransport((&fakeBroker{}).factory))

	assert.ErrorIs(t, c.Subscribe("o", "", 0, noopHandler), ErrInvalidTopic)
	assert.ErrorIs(t, c.Subscribe("o", "a/#/b", 0, noopHandler), ErrInvalidTopic)
	assert.ErrorIs(t, c.Subscribe("o", "a/b", 3, noopHandler), ErrInvalidQoS)
	assert.ErrorIs(t, c.Subscribe("o", "a/b", 0, nil), ErrSubscribeFailed)
	assert.Equal(t, 0, c.SubscriptionCount())
}

func TestUnsubscribeOwner(t *testing.T) {
	broker := &fakeBroker{}
	c := newTestClient(t, broker)
	connect(t, c, nil)

	require.NoError(t, c.Subscribe("dev-a", "shared", 0, noopHandler))
	require.NoError(t, c.Subscribe("dev-b", "shared", 0, noopHandler))
	require.NoError(t, c.Subscribe("dev-a", "only-a", 0, noopHandler))

	require.NoError(t, c.UnsubscribeOwner("dev-a"))
	assert.Equal(t, []string{"only-a"}, broker.unsubscriptions())
	assert.Equal(t, 1, c.SubscriptionCount())

	require.NoError(t, c.UnsubscribeOwner("dev-b"))
	assert.Equal(t, []string{"only-a", "shared"}, broker.unsubscriptions())
	assert.Equal(t, 0, c.SubscriptionCount())
}

// =============================================================================
// Presence Tests
// =============================================================================

func TestRemovePresencePublishesOfflineMarker(t *testing.T) {
	broker := &fakeBroker{}
	c := newTestClient(t, broker)
	connect(t, c, nil)

	require.NoError(t, c.RegisterPresence("dev-a", "/devices/dev-a/meta/available", "0"))
	assert.Equal(t, 1, c.PresenceCount())

	require.NoError(t, c.RemovePresence("dev-a"))
	assert.Equal(t, 0, c.PresenceCount())

	markers := broker.publishesTo("/devices/dev-a/meta/available")
	require.Len(t, markers, 1)
	assert.Equal(t, "0", markers[0].payload)
	assert.True(t, markers[0].retained)

	// Unknown owner is a no-op.
	assert.NoError(t, c.RemovePresence("dev-a"))
}

func TestRemovePresenceWhileDisconnected(t *testing.T) {
	c := New(testConfig(), WithTransport((&fakeBroker{}).factory))
	require.NoError(t, c.RegisterPresence("dev-a", "a/available", false))
	assert.NoError(t, c.RemovePresence("dev-a"))
}

func TestDisconnectPublishesRemainingPresence(t *testing.T) {
	broker := &fakeBroker{}
	c := newTestClient(t, broker)
	connect(t, c, nil)

	require.NoError(t, c.RegisterPresence("dev-a", "a/available", 0))
	require.NoError(t, c.RegisterPresence("dev-b", "b/available", map[string]any{"online": false}))

	c.Disconnect()

	assert.Equal(t, []publishedMessage{{topic: "a/available", qos: 1, retained: true, payload: "0"}}, broker.publishesTo("a/available"))
	assert.Equal(t, []publishedMessage{{topic: "b/available", qos: 1, retained: true, payload: `{"online":false}`}}, broker.publishesTo("b/available"))
}

func TestRegisterPresenceValidation(t *testing.T) {
	c := New(testConfig())
	assert.Error(t, c.RegisterPresence("", "a/b", "0"))
	assert.ErrorIs(t, c.RegisterPresence("o", "a/+", "0"), ErrInvalidTopic)
}

func TestConnectionStateString(t *testing.T) {
	assert.Equal(t, "connected", StateConnected.String())
	assert.Equal(t, "failed", StateFailed.String())
	assert.Equal(t, "unknown(9)", ConnectionState(9).String())
}
