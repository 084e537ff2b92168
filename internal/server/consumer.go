package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	amqp "github.com/rabbitmq/amqp091-go"

	"procodus.dev/timeclock/internal/attendance"
	"procodus.dev/timeclock/internal/punch"
	"procodus.dev/timeclock/pkg/metrics"
	"procodus.dev/timeclock/pkg/mq"
)

// Ingester stores events and refreshes the affected facts.
type Ingester interface {
	Ingest(ctx context.Context, events []punch.Event) (attendance.IngestResult, error)
}

// Consumer consumes punch batches from RabbitMQ and ingests them.
type Consumer struct {
	logger    *slog.Logger
	client    mq.ClientInterface
	ingester  Ingester
	queueName string
	metrics   *metrics.MQMetrics
	timeout   time.Duration
	done      chan struct{}
}

// ConsumerConfig holds the configuration for the Consumer.
type ConsumerConfig struct {
	Logger    *slog.Logger
	Client    mq.ClientInterface
	Ingester  Ingester
	QueueName string
	Metrics   *metrics.MQMetrics
	// StartTimeout bounds the wait for the broker connection. Defaults to 30s.
	StartTimeout time.Duration
}

// NewConsumer creates a new Consumer instance.
func NewConsumer(cfg *ConsumerConfig) (*Consumer, error) {
	if cfg == nil {
		return nil, errors.New("consumer config cannot be nil")
	}

	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	if cfg.Client == nil {
		return nil, errors.New("mq client cannot be nil")
	}

	if cfg.Ingester == nil {
		return nil, errors.New("ingester cannot be nil")
	}

	timeout := cfg.StartTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Consumer{
		logger:    cfg.Logger,
		client:    cfg.Client,
		ingester:  cfg.Ingester,
		queueName: cfg.QueueName,
		metrics:   cfg.Metrics,
		timeout:   timeout,
		done:      make(chan struct{}),
	}, nil
}

// Start begins consuming batches.
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info("starting consumer", "queue", c.queueName)

	deliveries, err := c.consume(ctx)
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	go c.processMessages(ctx, deliveries)
	return nil
}

// consume subscribes to the queue, waiting for the client to connect.
func (c *Consumer) consume(ctx context.Context) (<-chan amqp.Delivery, error) {
	deadline := time.NewTimer(c.timeout)
	defer deadline.Stop()
	tick := time.NewTicker(500 * time.Millisecond)
	defer tick.Stop()

	for {
		deliveries, err := c.client.Consume()
		if err == nil {
			return deliveries, nil
		}
		c.logger.Debug("queue not ready", "queue", c.queueName, "error", err)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return nil, err
		case <-tick.C:
		}
	}
}

// processMessages processes incoming messages from the deliveries channel.
func (c *Consumer) processMessages(ctx context.Context, deliveries <-chan amqp.Delivery) {
	defer close(c.done)
	for {
		select {
		case <-ctx.Done():
			c.logger.Info("context canceled, stopping message processing")
			return

		case delivery, ok := <-deliveries:
			if !ok {
				// The client reconnected; subscribe on the new channel.
				c.logger.Warn("deliveries channel closed, resubscribing")
				next, err := c.consume(ctx)
				if err != nil {
					c.logger.Error("failed to resubscribe", "error", err)
					return
				}
				deliveries = next
				continue
			}

			c.handleDelivery(ctx, delivery)
		}
	}
}

func (c *Consumer) failed(reason string) {
	if c.metrics != nil {
		c.metrics.BatchFailures.WithLabelValues(c.queueName, reason).Inc()
	}
}

// handleDelivery ingests a single batch. Undecodable batches are dropped;
// batches that fail to store are requeued.
func (c *Consumer) handleDelivery(ctx context.Context, delivery amqp.Delivery) {
	if c.metrics != nil {
		timer := prometheus.NewTimer(c.metrics.IngestDuration.WithLabelValues(c.queueName))
		defer timer.ObserveDuration()
	}

	batch, err := punch.UnmarshalBatch(delivery.Body)
	if err != nil {
		c.logger.Error("failed to decode punch batch", "error", err)
		c.failed("decode")
		if ackErr := delivery.Ack(false); ackErr != nil {
			c.logger.Error("failed to ack message", "error", ackErr)
		}
		return
	}

	res, err := c.ingester.Ingest(ctx, batch.Events)
	if err != nil {
		c.logger.Error("failed to ingest punch batch",
			"batch_id", batch.ID,
			"device_id", batch.DeviceID,
			"error", err,
		)
		c.failed("ingest")
		if nackErr := delivery.Nack(false, true); nackErr != nil {
			c.logger.Error("failed to nack message", "error", nackErr)
		}
		return
	}

	if err := delivery.Ack(false); err != nil {
		c.logger.Error("failed to ack message", "error", err)
		return
	}
	if c.metrics != nil {
		c.metrics.BatchesIngested.WithLabelValues(c.queueName).Inc()
		c.metrics.EventsPerBatch.WithLabelValues(c.queueName).Observe(float64(len(batch.Events)))
	}

	c.logger.Debug("punch batch ingested",
		"batch_id", batch.ID,
		"device_id", batch.DeviceID,
		"received", res.Received,
		"inserted", res.Inserted,
		"facts_updated", res.FactsUpdated,
	)
}

// Stop closes the MQ client and waits for the processing loop to exit.
func (c *Consumer) Stop() error {
	c.logger.Info("stopping consumer")

	if err := c.client.Close(); err != nil {
		return fmt.Errorf("failed to close mq client: %w", err)
	}

	<-c.done

	c.logger.Info("consumer stopped")
	return nil
}
