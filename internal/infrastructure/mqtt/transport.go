package mqtt

import (
	"context"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/devicehub/internal/infrastructure/config"
)

// Transport is the broker connection used by Client.
//
// One Transport is created per connection attempt. Inbound messages and
// connection loss are reported through the TransportHandlers given to the
// factory.
type Transport interface {
	Connect(ctx context.Context) error
	Disconnect(quiesceMillis uint)
	IsConnected() bool
	Publish(topic string, qos byte, retained bool, payload []byte) error
	Subscribe(topic string, qos byte) error
	Unsubscribe(topics ...string) error
}

// TransportHandlers receives events from a Transport.
type TransportHandlers struct {
	OnMessage        func(topic string, payload []byte, qos byte, retained bool)
	OnConnectionLost func(err error)
}

// TransportFactory creates a Transport for one connection attempt.
type TransportFactory func(cfg config.MQTTConfig, will Will, handlers TransportHandlers) Transport

// pahoTransport is the production Transport backed by paho.mqtt.golang.
type pahoTransport struct {
	client pahomqtt.Client
}

// NewPahoTransport is the default TransportFactory.
//
// Every subscription is registered without a per-topic callback, so all
// messages reach the default publish handler and are routed by Client.
func NewPahoTransport(cfg config.MQTTConfig, will Will, handlers TransportHandlers) Transport {
	opts := buildClientOptions(cfg)
	opts.SetBinaryWill(will.Topic, will.Payload, will.QoS, will.Retained)

	opts.SetDefaultPublishHandler(func(_ pahomqtt.Client, msg pahomqtt.Message) {
		if handlers.OnMessage != nil {
			handlers.OnMessage(msg.Topic(), msg.Payload(), msg.Qos(), msg.Retained())
		}
	})

	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		if handlers.OnConnectionLost != nil {
			handlers.OnConnectionLost(err)
		}
	})

	return &pahoTransport{client: pahomqtt.NewClient(opts)}
}

func (p *pahoTransport) Connect(ctx context.Context) error {
	return waitToken(ctx, p.client.Connect(), defaultConnectTimeout)
}

func (p *pahoTransport) Disconnect(quiesceMillis uint) {
	p.client.Disconnect(quiesceMillis)
}

func (p *pahoTransport) IsConnected() bool {
	return p.client.IsConnectionOpen()
}

func (p *pahoTransport) Publish(topic string, qos byte, retained bool, payload []byte) error {
	return waitToken(context.Background(), p.client.Publish(topic, qos, retained, payload), defaultPublishTimeout)
}

func (p *pahoTransport) Subscribe(topic string, qos byte) error {
	return waitToken(context.Background(), p.client.Subscribe(topic, qos, nil), defaultPublishTimeout)
}

func (p *pahoTransport) Unsubscribe(topics ...string) error {
	return waitToken(context.Background(), p.client.Unsubscribe(topics...), defaultPublishTimeout)
}

// waitToken blocks until a paho token completes, the context ends, or the timeout passes.
func waitToken(ctx context.Context, token pahomqtt.Token, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("%w after %v", ErrTimeout, timeout)
	}
}
