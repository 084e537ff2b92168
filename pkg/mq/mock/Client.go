// Package mock provides a recording mq.ClientInterface for tests.
package mock

import (
	"context"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"procodus.dev/timeclock/pkg/mq"
)

// MockClient records published payloads and serves a configurable delivery channel.
type MockClient struct {
	mu sync.Mutex

	// PushFunc overrides Push when set.
	PushFunc func(ctx context.Context, data []byte) error
	// PushError is returned by Push if PushFunc is nil.
	PushError error
	// Pushed holds every payload passed to Push or UnsafePush, in order.
	Pushed [][]byte

	// ConsumeChannel is returned by Consume.
	ConsumeChannel chan amqp.Delivery
	// ConsumeError is returned by Consume.
	ConsumeError error
	ConsumeCalls int

	CloseError error
	CloseCalls int
}

// NewMockClient creates a MockClient with a buffered delivery channel.
func NewMockClient() *MockClient {
	return &MockClient{
		ConsumeChannel: make(chan amqp.Delivery, 16),
	}
}

// Push implements mq.ClientInterface.
func (m *MockClient) Push(ctx context.Context, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.PushFunc != nil {
		if err := m.PushFunc(ctx, data); err != nil {
			return err
		}
	} else if m.PushError != nil {
		return m.PushError
	}
	m.Pushed = append(m.Pushed, append([]byte(nil), data...))
	return nil
}

// UnsafePush implements mq.ClientInterface.
func (m *MockClient) UnsafePush(ctx context.Context, data []byte) error {
	return m.Push(ctx, data)
}

// Consume implements mq.ClientInterface.
func (m *MockClient) Consume() (<-chan amqp.Delivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ConsumeCalls++
	if m.ConsumeError != nil {
		return nil, m.ConsumeError
	}
	return m.ConsumeChannel, nil
}

// Close implements mq.ClientInterface.
func (m *MockClient) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.CloseCalls++
	return m.CloseError
}

// Published returns a copy of the recorded payloads.
func (m *MockClient) Published() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([][]byte, len(m.Pushed))
	copy(out, m.Pushed)
	return out
}

// Deliver queues a delivery with the given body. The Acknowledger records acks.
func (m *MockClient) Deliver(body []byte, ack *Acknowledger) {
	m.ConsumeChannel <- amqp.Delivery{
		Acknowledger: ack,
		Body:         body,
		DeliveryTag:  ack.nextTag(),
	}
}

// Acknowledger is an amqp.Acknowledger that counts acks and nacks.
type Acknowledger struct {
	mu      sync.Mutex
	tag     uint64
	Acks    int
	Nacks   int
	Requeue int
}

func (a *Acknowledger) nextTag() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.tag++
	return a.tag
}

// Ack implements amqp.Acknowledger.
func (a *Acknowledger) Ack(uint64, bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Acks++
	return nil
}

// Nack implements amqp.Acknowledger.
func (a *Acknowledger) Nack(_ uint64, _ bool, requeue bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Nacks++
	if requeue {
		a.Requeue++
	}
	return nil
}

// Reject implements amqp.Acknowledger.
func (a *Acknowledger) Reject(tag uint64, requeue bool) error {
	return a.Nack(tag, false, requeue)
}

// Counts returns the ack and nack totals.
func (a *Acknowledger) Counts() (acks, nacks int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.Acks, a.Nacks
}

var _ mq.ClientInterface = (*MockClient)(nil)
