package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"procodus.dev/timeclock/internal/punch"
	"procodus.dev/timeclock/pkg/mq"
)

// Publisher is a syncer.Sink that publishes each device batch to RabbitMQ.
type Publisher struct {
	logger *slog.Logger
	client mq.ClientInterface
}

// NewPublisher creates a Publisher.
func NewPublisher(logger *slog.Logger, client mq.ClientInterface) (*Publisher, error) {
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if client == nil {
		return nil, errors.New("mq client cannot be nil")
	}
	return &Publisher{logger: logger, client: client}, nil
}

// Deliver implements syncer.Sink.
func (p *Publisher) Deliver(ctx context.Context, deviceID string, events []punch.Event) error {
	batch := punch.NewBatch(deviceID, events)
	data, err := punch.MarshalBatch(batch)
	if err != nil {
		return fmt.Errorf("failed to encode batch: %w", err)
	}

	if err := p.client.Push(ctx, data); err != nil {
		return fmt.Errorf("failed to publish batch: %w", err)
	}

	p.logger.Debug("punch batch published",
		"batch_id", batch.ID,
		"device_id", deviceID,
		"events", len(events),
		"bytes", len(data))
	return nil
}
