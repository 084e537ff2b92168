// Package mq provides a RabbitMQ client with automatic reconnection, used to
// carry normalized attendance event batches between the sync and derivation sides.
package mq

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	amqp "github.com/rabbitmq/amqp091-go"

	"procodus.dev/timeclock/pkg/metrics"
)

// ContentTypeProtobuf marks message bodies encoded as protobuf.
const ContentTypeProtobuf = "application/x-protobuf"

const (
	// When reconnecting to the server after connection failure.
	reconnectDelay = 5 * time.Second

	// When setting up the channel after a channel exception.
	reInitDelay = 2 * time.Second

	initialBackoff    = 100 * time.Millisecond
	maxBackoff        = 10 * time.Second
	backoffMultiplier = 2
	maxRetryAttempts  = 5
)

var (
	errNotConnected       = errors.New("not connected to a server")
	errAlreadyClosed      = errors.New("already closed: not connected to the server")
	errShutdown           = errors.New("client is shutting down")
	errMaxRetriesExceeded = errors.New("maximum retry attempts exceeded")
)

// Config holds the configuration for a Client.
type Config struct {
	URL       string
	QueueName string
	// ContentType is stamped on every published message. Defaults to ContentTypeProtobuf.
	ContentType string
	Logger      *slog.Logger
	Metrics     *metrics.MQMetrics
}

// Client is a RabbitMQ client that handles connection management,
// automatic reconnection, and provides methods for publishing and consuming messages.
type Client struct {
	m               *sync.Mutex
	log             *slog.Logger
	connection      *amqp.Connection
	channel         *amqp.Channel
	done            chan bool
	closeOnce       sync.Once
	notifyConnClose chan *amqp.Error
	notifyChanClose chan *amqp.Error
	notifyConfirm   chan amqp.Confirmation
	queueName       string
	contentType     string
	isReady         bool
	metrics         *metrics.MQMetrics
}

// New creates a client and starts connecting to the broker in the background.
func New(cfg *Config) (*Client, error) {
	if cfg == nil {
		return nil, errors.New("mq config cannot be nil")
	}
	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if cfg.QueueName == "" {
		return nil, errors.New("queue name cannot be empty")
	}
	if cfg.URL == "" {
		return nil, errors.New("broker url cannot be empty")
	}

	contentType := cfg.ContentType
	if contentType == "" {
		contentType = ContentTypeProtobuf
	}

	client := &Client{
		m:           &sync.Mutex{},
		log:         cfg.Logger.With("queue", cfg.QueueName),
		queueName:   cfg.QueueName,
		contentType: contentType,
		done:        make(chan bool),
		metrics:     cfg.Metrics,
	}
	go client.handleReconnect(cfg.URL)
	return client, nil
}

// QueueName returns the queue this client publishes to and consumes from.
func (client *Client) QueueName() string {
	return client.queueName
}

func (client *Client) ready() bool {
	client.m.Lock()
	defer client.m.Unlock()
	return client.isReady
}

func (client *Client) setReady(ready bool) {
	client.m.Lock()
	client.isReady = ready
	client.m.Unlock()
}

// handleReconnect waits for a connection error on notifyConnClose
// and then continuously attempts to reconnect.
func (client *Client) handleReconnect(addr string) {
	for {
		client.setReady(false)
		client.log.Info("attempting to connect")

		if client.metrics != nil {
			client.metrics.Reconnects.Inc()
		}

		conn, err := client.connect(addr)
		if err != nil {
			client.log.Error("failed to connect. Retrying...", "error", err)

			select {
			case <-client.done:
				return
			case <-time.After(reconnectDelay):
			}
			continue
		}

		if done := client.handleReInit(conn); done {
			break
		}
	}
}

func (client *Client) connect(addr string) (*amqp.Connection, error) {
	conn, err := amqp.Dial(addr)
	if err != nil {
		if client.metrics != nil {
			client.metrics.BrokerConnected.Set(0)
		}
		return nil, err
	}

	client.changeConnection(conn)
	client.log.Info("connected")

	if client.metrics != nil {
		client.metrics.BrokerConnected.Set(1)
	}

	return conn, nil
}

// handleReInit waits for a channel error and then re-initializes the channel.
// Returns true once the client is shutting down.
func (client *Client) handleReInit(conn *amqp.Connection) bool {
	for {
		client.setReady(false)

		err := client.init(conn)
		if err != nil {
			client.log.Error("failed to initialize channel, retrying...", "error", err)

			select {
			case <-client.done:
				return true
			case <-client.notifyConnClose:
				client.log.Info("connection closed, reconnecting...")
				return false
			case <-time.After(reInitDelay):
			}
			continue
		}

		select {
		case <-client.done:
			return true
		case <-client.notifyConnClose:
			client.log.Info("connection closed, reconnecting...")
			return false
		case <-client.notifyChanClose:
			client.log.Info("channel closed, re-running init...")
		}
	}
}

// init opens a confirm-mode channel and declares a durable queue.
func (client *Client) init(conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return err
	}

	if err := ch.Confirm(false); err != nil {
		return err
	}
	_, err = ch.QueueDeclare(
		client.queueName,
		true,  // Durable
		false, // Delete when unused
		false, // Exclusive
		false, // No-wait
		nil,   // Arguments
	)
	if err != nil {
		return err
	}

	client.changeChannel(ch)
	client.setReady(true)
	client.log.Info("client init done")

	return nil
}

func (client *Client) changeConnection(connection *amqp.Connection) {
	client.connection = connection
	client.notifyConnClose = make(chan *amqp.Error, 1)
	client.connection.NotifyClose(client.notifyConnClose)
}

func (client *Client) changeChannel(channel *amqp.Channel) {
	client.channel = channel
	client.notifyChanClose = make(chan *amqp.Error, 1)
	client.notifyConfirm = make(chan amqp.Confirmation, 1)
	client.channel.NotifyClose(client.notifyChanClose)
	client.channel.NotifyPublish(client.notifyConfirm)
}

// backoffWait sleeps for the current backoff and grows it.
// Returns a non-nil error when the wait was interrupted.
func (client *Client) backoffWait(ctx context.Context, backoff *time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-client.done:
		return errShutdown
	case <-time.After(*backoff):
	}
	*backoff *= backoffMultiplier
	if *backoff > maxBackoff {
		*backoff = maxBackoff
	}
	return nil
}

func (client *Client) pushFailed(reason string) {
	if client.metrics != nil {
		client.metrics.PublishFailures.WithLabelValues(client.queueName, reason).Inc()
	}
}

// Push publishes data and blocks until the broker confirms it.
// While the client is disconnected or the broker nacks, Push retries with
// exponential backoff and gives up after maxRetryAttempts.
func (client *Client) Push(ctx context.Context, data []byte) error {
	if client.metrics != nil {
		timer := prometheus.NewTimer(client.metrics.PublishDuration.WithLabelValues(client.queueName))
		defer timer.ObserveDuration()
	}

	backoff := initialBackoff
	for attempt := 0; ; attempt++ {
		if attempt >= maxRetryAttempts {
			client.log.Error("maximum retry attempts exceeded", "max_attempts", maxRetryAttempts)
			client.pushFailed("max_retries_exceeded")
			return errMaxRetriesExceeded
		}

		if !client.ready() {
			client.log.Info("not connected, waiting for reconnection",
				"backoff", backoff,
				"retry_count", attempt)
			if err := client.backoffWait(ctx, &backoff); err != nil {
				return err
			}
			continue
		}

		if err := client.UnsafePush(ctx, data); err != nil {
			client.log.Error("push failed, retrying with backoff",
				"error", err,
				"backoff", backoff,
				"retry_count", attempt)
			if err := client.backoffWait(ctx, &backoff); err != nil {
				return err
			}
			continue
		}

		select {
		case <-ctx.Done():
			client.pushFailed("context_canceled")
			return ctx.Err()
		case confirm := <-client.notifyConfirm:
			if confirm.Ack {
				if client.metrics != nil {
					client.metrics.BatchesPublished.WithLabelValues(client.queueName).Inc()
				}
				client.log.Debug("push confirmed",
					"delivery_tag", confirm.DeliveryTag,
					"retry_count", attempt)
				return nil
			}
			client.log.Warn("push not acknowledged, retrying",
				"delivery_tag", confirm.DeliveryTag,
				"backoff", backoff)
			if err := client.backoffWait(ctx, &backoff); err != nil {
				return err
			}
		}
	}
}

// UnsafePush publishes a persistent message without waiting for confirmation.
func (client *Client) UnsafePush(ctx context.Context, data []byte) error {
	if !client.ready() {
		return errNotConnected
	}

	return client.channel.PublishWithContext(
		ctx,
		"",               // Exchange
		client.queueName, // Routing key
		false,            // Mandatory
		false,            // Immediate
		amqp.Publishing{
			ContentType:  client.contentType,
			DeliveryMode: amqp.Persistent,
			MessageId:    uuid.NewString(),
			Timestamp:    time.Now().UTC(),
			Body:         data,
		},
	)
}

// Consume returns a delivery channel for the queue. Every delivery must be
// acked or nacked by the caller.
func (client *Client) Consume() (<-chan amqp.Delivery, error) {
	if !client.ready() {
		return nil, errNotConnected
	}

	if err := client.channel.Qos(
		1,     // prefetchCount
		0,     // prefetchSize
		false, // global
	); err != nil {
		return nil, err
	}

	return client.channel.Consume(
		client.queueName,
		"",    // Consumer
		false, // Auto-Ack
		false, // Exclusive
		false, // No-local
		false, // No-Wait
		nil,   // Args
	)
}

// Close stops reconnection and shuts down the channel and connection.
func (client *Client) Close() error {
	client.closeOnce.Do(func() { close(client.done) })

	client.m.Lock()
	defer client.m.Unlock()

	if !client.isReady {
		return errAlreadyClosed
	}
	client.isReady = false

	if client.metrics != nil {
		client.metrics.BrokerConnected.Set(0)
	}

	if err := client.channel.Close(); err != nil {
		return err
	}
	return client.connection.Close()
}
