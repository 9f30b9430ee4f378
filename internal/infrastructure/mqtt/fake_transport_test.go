package mqtt

import (
	"context"
	"errors"
	"sync"

	"github.com/nerrad567/devicehub/internal/infrastructure/config"
)

// publishedMessage is a publish captured by fakeBroker.
type publishedMessage struct {
	topic    string
	qos      byte
	retained bool
	payload  string
}

// fakeBroker records everything the client sends and lets tests inject
// messages, connection failures and connection loss.
type fakeBroker struct {
	mu           sync.Mutex
	failFirst    int
	attempts     int
	current      *fakeTransport
	published    []publishedMessage
	subscribed   []string
	unsubscribed []string
	wills        []Will
}

func (b *fakeBroker) factory(_ config.MQTTConfig, will Will, handlers TransportHandlers) Transport {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.wills = append(b.wills, will)
	return &fakeTransport{broker: b, handlers: handlers}
}

func (b *fakeBroker) setFailFirst(n int) {
	b.mu.Lock()
	b.failFirst = n
	b.mu.Unlock()
}

func (b *fakeBroker) attemptCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attempts
}

func (b *fakeBroker) publishes() []publishedMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]publishedMessage(nil), b.published...)
}

func (b *fakeBroker) publishesTo(topic string) []publishedMessage {
	var out []publishedMessage
	for _, p := range b.publishes() {
		if p.topic == topic {
			out = append(out, p)
		}
	}
	return out
}

func (b *fakeBroker) subscriptions() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.subscribed...)
}

func (b *fakeBroker) unsubscriptions() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.unsubscribed...)
}

// deliver simulates an inbound message on the live connection.
func (b *fakeBroker) deliver(topic string, payload []byte, retained bool) {
	b.mu.Lock()
	cur := b.current
	b.mu.Unlock()
	if cur != nil {
		cur.handlers.OnMessage(topic, payload, 0, retained)
	}
}

// drop simulates an unexpected connection loss.
func (b *fakeBroker) drop(err error) {
	b.mu.Lock()
	cur := b.current
	b.current = nil
	if cur != nil {
		cur.connected = false
	}
	b.mu.Unlock()
	if cur != nil {
		cur.handlers.OnConnectionLost(err)
	}
}

type fakeTransport struct {
	broker    *fakeBroker
	handlers  TransportHandlers
	connected bool
}

func (f *fakeTransport) Connect(_ context.Context) error {
	b := f.broker
	b.mu.Lock()
	defer b.mu.Unlock()
	b.attempts++
	if b.attempts <= b.failFirst {
		return errors.New("connection refused")
	}
	f.connected = true
	b.current = f
	return nil
}

func (f *fakeTransport) Disconnect(uint) {
	b := f.broker
	b.mu.Lock()
	defer b.mu.Unlock()
	f.connected = false
	if b.current == f {
		b.current = nil
	}
}

func (f *fakeTransport) IsConnected() bool {
	f.broker.mu.Lock()
	defer f.broker.mu.Unlock()
	return f.connected
}

func (f *fakeTransport) Publish(topic string, qos byte, retained bool, payload []byte) error {
	b := f.broker
	b.mu.Lock()
	defer b.mu.Unlock()
	if !f.connected {
		return errors.New("not connected")
	}
	b.published = append(b.published, publishedMessage{topic: topic, qos: qos, retained: retained, payload: string(payload)})
	return nil
}

func (f *fakeTransport) Subscribe(topic string, _ byte) error {
	b := f.broker
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribed = append(b.subscribed, topic)
	return nil
}

func (f *fakeTransport) Unsubscribe(topics ...string) error {
	b := f.broker
	b.mu.Lock()
	defer b.mu.Unlock()
	b.unsubscribed = append(b.unsubscribed, topics...)
	return nil
}
