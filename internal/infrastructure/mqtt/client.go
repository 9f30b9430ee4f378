package mqtt

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/devicehub/internal/infrastructure/config"
)

// ConnectionState is the lifecycle state of a Client.
type ConnectionState int

// Connection states.
const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateFailed
)

// String returns the state name used in logs and health output.
func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// connectOwner owns the subscriptions handed to Connect directly.
const connectOwner = "__connect__"

// Logger interface for optional logging support.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Client is the bus client: it owns the broker connection, the reconnect
// loop, topic subscriptions, presence registrations and inbound dispatch.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
//   - Subscriptions are re-issued after every successful connect.
//   - Inbound messages are dispatched sequentially by the transport.
type Client struct {
	cfg          config.MQTTConfig
	newTransport TransportFactory
	backoffBase  time.Duration
	backoffMax   time.Duration
	maxAttempts  int

	subs *subscriptionRegistry

	presence   map[string]presence
	presenceMu sync.RWMutex

	// transport, state and lastErr describe the live connection.
	transport Transport
	state     ConnectionState
	lastErr   error
	connMu    sync.RWMutex

	// lost receives connection-loss signals from the transport.
	lost chan error

	// cancel and done control the background run loop.
	cancel context.CancelFunc
	done   chan struct{}
	runMu  sync.Mutex

	onConnect    func()
	onDisconnect func(err error)
	onFatal      func(err error)
	callbackMu   sync.RWMutex

	logger   Logger
	loggerMu sync.RWMutex
}

// Option configures a Client.
type Option func(*Client)

// WithTransport replaces the paho transport, mainly for tests.
func WithTransport(factory TransportFactory) Option {
	return func(c *Client) {
		c.newTransport = factory
	}
}

// WithBackoff overrides the reconnect delay step and cap taken from config.
func WithBackoff(base, maxDelay time.Duration) Option {
	return func(c *Client) {
		c.backoffBase = base
		c.backoffMax = maxDelay
	}
}


// New creates a disconnected Client. Nothing touches the network until Connect.
func New(cfg config.MQTTConfig, opts ...Option) *Client {
	c := &Client{
		cfg:          cfg,
		newTransport: NewPahoTransport,
		backoffBase:  time.Duration(cfg.Reconnect.InitialDelay) * time.Second,
		backoffMax:   time.Duration(cfg.Reconnect.MaxDelay) * time.Second,
		maxAttempts:  cfg.Reconnect.MaxAttempts,
		subs:         newSubscriptionRegistry(),
		presence:     make(map[string]presence),
		lost:         make(chan error, 1),
		logger:       noopLogger{},
	}
	if c.backoffBase <= 0 {
		c.backoffBase = defaultBackoffBase
	}
	if c.maxAttempts <= 0 {
		c.maxAttempts = defaultMaxAttempts
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Connect registers subscriptions and starts the background connection loop.
//
// The loop connects with bounded linear backoff (attempt × base delay, up to
// the configured attempt count). After every successful connect it re-issues
// all registered subscriptions and publishes the service online status.
// When the connection drops it starts retrying again.
//
// Connect blocks until the first attempt sequence finishes: nil once
// connected, or an error wrapping ErrRetriesExhausted when every attempt
// failed. If ctx ends first, Connect returns ctx.Err() and the loop keeps
// trying in the background until Disconnect.
func (c *Client) Connect(ctx context.Context, subscriptions map[string]MessageHandler) error {
	for topic, handler := range subscriptions {
		if err := c.Subscribe(connectOwner, topic, byte(c.cfg.QoS), handler); err != nil {
			return err
		}
	}

	c.runMu.Lock()
	if c.done != nil {
		c.runMu.Unlock()
		return ErrAlreadyConnected
	}
	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	c.cancel = cancel
	c.done = done
	c.runMu.Unlock()

	c.setState(StateConnecting, nil)

	first := make(chan error, 1)
	go c.run(runCtx, first, done)

	select {
	case err := <-first:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run is the per-client background loop: connect, wait for loss, repeat.
func (c *Client) run(ctx context.Context, first chan<- error, done chan struct{}) {
	defer c.finishRun(done)

	reported := false
	report := func(err error) {
		if !reported {
			reported = true
			first <- err
		}
	}

	for {
		t, err := c.connectWithRetry(ctx)
		if err != nil {
			if ctx.Err() != nil {
				report(ErrClosed)
				return
			}
			c.setStateIfActive(ctx, StateFailed, err)
			c.getLogger().Error("MQTT connection failed permanently",
				"attempts", c.maxAttempts,
				"error", err,
			)
			c.fireFatal(err)
			// Release the run slot first so a caller reacting to the error
			// can Connect again straight away.
			c.releaseRun(done)
			report(err)
			return
		}

		if !c.handleConnect(ctx, t) {
			report(ErrClosed)
			return
		}
		report(nil)

		select {
		case <-ctx.Done():
			return
		case err := <-c.lost:
			c.getLogger().Warn("MQTT connection lost, reconnecting", "error", err)
			c.fireDisconnect(err)
		}
	}
}

func (c *Client) finishRun(done chan struct{}) {
	c.releaseRun(done)
	close(done)
}

func (c *Client) releaseRun(done chan struct{}) {
	c.runMu.Lock()
	if c.done == done {
		c.cancel()
		c.done = nil
		c.cancel = nil
	}
	c.runMu.Unlock()
}

// connectWithRetry makes up to maxAttempts connection attempts, sleeping
// attempt × backoffBase (capped at backoffMax) between them.
func (c *Client) connectWithRetry(ctx context.Context) (Transport, error) {
	var lastErr error

	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		c.drainLost()
		c.setStateIfActive(ctx, StateConnecting, nil)

		t := c.newTransport(c.cfg, buildWill(c.cfg), TransportHandlers{
			OnMessage:        c.dispatch,
			OnConnectionLost: c.handleConnectionLost,
		})

		err := t.Connect(ctx)
		if err == nil {
			return t, nil
		}
		t.Disconnect(0)

		lastErr = err
		c.getLogger().Warn("MQTT connection attempt failed",
			"attempt", attempt,
			"max_attempts", c.maxAttempts,
			"error", err,
		)

		if attempt == c.maxAttempts {
			break
		}

		timer := time.NewTimer(c.backoff(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	return nil, fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, c.maxAttempts, lastErr)
}

// backoff returns the delay after the given failed attempt.
func (c *Client) backoff(attempt int) time.Duration {
	delay := time.Duration(attempt) * c.backoffBase
	if c.backoffMax > 0 && delay > c.backoffMax {
		delay = c.backoffMax
	}
	return delay
}

func (c *Client) drainLost() {
	select {
	case <-c.lost:
	default:
	}
}

// handleConnect installs a freshly connected transport. It returns false if
// the client was disconnected while the attempt was in flight.
func (c *Client) handleConnect(ctx context.Context, t Transport) bool {
	c.connMu.Lock()
	if ctx.Err() != nil {
		c.connMu.Unlock()
		t.Disconnect(0)
		return false
	}
	c.transport = t
	c.state = StateConnected
	c.lastErr = nil
	c.connMu.Unlock()

	// Subscriptions go out strictly after the transport reports connected.
	c.restoreSubscriptions(t)
	c.publishOnlineStatus(t)

	c.getLogger().Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", c.cfg.Broker.Host, c.cfg.Broker.Port),
		"subscriptions", c.subs.count(),
	)

	c.callbackMu.RLock()
	callback := c.onConnect
	c.callbackMu.RUnlock()
	if callback != nil {
		callback()
	}

	return true
}

// handleConnectionLost is called by the transport when the connection drops.
func (c *Client) handleConnectionLost(err error) {
	c.connMu.Lock()
	if c.state == StateConnected {
		c.state = StateDisconnected
		c.lastErr = err
		c.transport = nil
	}
	c.connMu.Unlock()

	select {
	case c.lost <- err:
	default:
	}
}

// restoreSubscriptions issues every registered pattern on a new connection.
func (c *Client) restoreSubscriptions(t Transport) {
	for _, sub := range c.subs.snapshot() {
		if err := t.Subscribe(sub.topic, sub.qos); err != nil {
			c.getLogger().Error("MQTT re-subscribe failed",
				"topic", sub.topic,
				"error", err,
			)
		}
	}
}

// publishOnlineStatus publishes the service online status to the status topic.
func (c *Client) publishOnlineStatus(t Transport) {
	if err := t.Publish(statusTopic(c.cfg), willQoS, true, buildOnlinePayload(c.cfg.Broker.ClientID)); err != nil {
		c.getLogger().Warn("MQTT online status publish failed", "error", err)
	}
}

// Disconnect stops the background loop and closes the connection.
//
// The client is marked disconnected before anything else, so publishes
// from in-flight handlers fail with ErrNotConnected. If a connection was
// up, every registered presence publishes its offline marker and the
// service publishes a graceful offline status before the transport closes.
func (c *Client) Disconnect() {
	c.runMu.Lock()
	cancel, done := c.cancel, c.done
	c.runMu.Unlock()

	if cancel != nil {
		cancel()
	}

	c.connMu.Lock()
	t := c.transport
	wasConnected := c.state == StateConnected && t != nil
	c.transport = nil
	c.state = StateDisconnected
	c.lastErr = nil
	c.connMu.Unlock()

	if done != nil {
		<-done
	}

	if t == nil {
		return
	}

	if wasConnected {
		c.publishAllOffline(t)
		if err := t.Publish(statusTopic(c.cfg), willQoS, true, buildOfflinePayload(c.cfg.Broker.ClientID)); err != nil {
			c.getLogger().Warn("MQTT offline status publish failed", "error", err)
		}
	}

	t.Disconnect(defaultDisconnectQuiesce)
	c.getLogger().Info("MQTT disconnected")
}

// HealthCheck verifies the MQTT connection is alive.
func (c *Client) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("mqtt health check: %w", ctx.Err())
	default:
	}

	if !c.IsConnected() {
		if err := c.LastError(); err != nil {
			return fmt.Errorf("%w: %w", ErrNotConnected, err)
		}
		return ErrNotConnected
	}

	return nil
}

// IsConnected reports whether the client currently has a live connection.
func (c *Client) IsConnected() bool {
	return c.connectedTransport() != nil
}

// State returns the current connection state.
func (c *Client) State() ConnectionState {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.state
}

// LastError returns the error behind the most recent loss or failure, if any.
func (c *Client) LastError() error {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.lastErr
}

func (c *Client) connectedTransport() Transport {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	if c.state != StateConnected || c.transport == nil {
		return nil
	}
	return c.transport
}

func (c *Client) setState(state ConnectionState, err error) {
	c.connMu.Lock()
	c.state = state
	if err != nil {
		c.lastErr = err
	}
	c.connMu.Unlock()
}

// setStateIfActive changes state unless the run loop has been cancelled,
// so a concurrent Disconnect always has the last word.
func (c *Client) setStateIfActive(ctx context.Context, state ConnectionState, err error) {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if ctx.Err() != nil {
		return
	}
	c.state = state
	if err != nil {
		c.lastErr = err
	}
}

// SetOnConnect sets a callback invoked after every successful connect.
func (c *Client) SetOnConnect(callback func()) {
	c.callbackMu.Lock()
	c.onConnect = callback
	c.callbackMu.Unlock()
}

// SetOnDisconnect sets a callback invoked when an established connection drops.
func (c *Client) SetOnDisconnect(callback func(err error)) {
	c.callbackMu.Lock()
	c.onDisconnect = callback
	c.callbackMu.Unlock()
}

// SetOnFatal sets a callback invoked once the reconnect loop gives up.
func (c *Client) SetOnFatal(callback func(err error)) {
	c.callbackMu.Lock()
	c.onFatal = callback
	c.callbackMu.Unlock()
}

func (c *Client) fireDisconnect(err error) {
	c.callbackMu.RLock()
	callback := c.onDisconnect
	c.callbackMu.RUnlock()
	if callback != nil {
		callback(err)
	}
}

func (c *Client) fireFatal(err error) {
	c.callbackMu.RLock()
	callback := c.onFatal
	c.callbackMu.RUnlock()
	if callback != nil {
		callback(err)
	}
}

// SetLogger sets a logger for connection, handler and panic logging.
func (c *Client) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

func (c *Client) getLogger() Logger {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()
	return c.logger
}

// dispatch routes one inbound message to every matching handler in turn.
func (c *Client) dispatch(topic string, payload []byte, qos byte, retained bool) {
	handlers := c.subs.match(topic)
	if len(handlers) == 0 {
		return
	}

	msg := newMessage(topic, payload, qos, retained)
	for _, handler := range handlers {
		c.invoke(handler, msg)
	}
}

// invoke runs a handler with panic recovery so one bad handler cannot stop dispatch.
func (c *Client) invoke(handler MessageHandler, msg Message) {
	defer func() {
		if r := recover(); r != nil {
			c.getLogger().Error("MQTT handler panic recovered",
				"topic", msg.Topic,
				"panic", r,
			)
		}
	}()

	if err := handler(msg); err != nil && !errors.Is(err, context.Canceled) {
		c.getLogger().Warn("MQTT handler returned error",
			"topic", msg.Topic,
			"error", err,
		)
	}
}
