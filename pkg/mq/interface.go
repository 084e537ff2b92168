package mq

import (
	"context"

	amqp "github.com/rabbitmq/amqp091-go"
)

// ClientInterface is the subset of Client used by publishers and consumers.
type ClientInterface interface {
	// Push publishes data and waits for broker confirmation.
	Push(ctx context.Context, data []byte) error

	// UnsafePush publishes data without waiting for confirmation.
	UnsafePush(ctx context.Context, data []byte) error

	// Consume returns the delivery channel for the queue.
	Consume() (<-chan amqp.Delivery, error)

	// Close shuts down the channel and connection.
	Close() error
}

var _ ClientInterface = (*Client)(nil)
