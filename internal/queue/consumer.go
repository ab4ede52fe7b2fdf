package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"campaignengine/internal/metrics"
	"campaignengine/internal/models"
)

// ErrMalformed marks a message that can never be processed. It is dropped instead of requeued.
var ErrMalformed = errors.New("malformed message")

// Handler processes one message body
type Handler func(ctx context.Context, body []byte) error

// ReceiptHandler decodes delivery receipts and passes them to fn
func ReceiptHandler(fn func(ctx context.Context, receipt models.DeliveryReceipt) error) Handler {
	return func(ctx context.Context, body []byte) error {
		var receipt models.DeliveryReceipt
		if err := json.Unmarshal(body, &receipt); err != nil {
			return fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		if err := receipt.Validate(); err != nil {
			return fmt.Errorf("%w: %v", ErrMalformed, err)
		}

		metrics.ReceiptsReceivedTotal.WithLabelValues("queue").Inc()
		return fn(ctx, receipt)
	}
}

// acknowledger is the part of amqp.Delivery the consumer settles messages with
type acknowledger interface {
	Ack(multiple bool) error
	Nack(multiple, requeue bool) error
}

// Consumer consumes messages from RabbitMQ queue
type Consumer struct {
	conn      *Connection
	queueName string
	handler   Handler
	log       *zap.Logger
	stopChan  chan struct{}
	doneChan  chan struct{}

	// subscribe opens a fresh delivery channel; swapped out in tests
	subscribe func() (<-chan amqp.Delivery, error)
	backOff   func() backoff.BackOff

	// ResubscribeTimeout bounds how long Run retries a lost subscription before giving up
	ResubscribeTimeout time.Duration
}

// NewConsumer creates a new consumer instance and declares its queue
func NewConsumer(conn *Connection, queueName string, handler Handler, log *zap.Logger) (*Consumer, error) {
	if conn == nil {
		return nil, errors.New("connection cannot be nil")
	}

	if handler == nil {
		return nil, errors.New("handler cannot be nil")
	}

	if err := conn.DeclareQueue(queueName); err != nil {
		return nil, err
	}

	c := &Consumer{
		conn:               conn,
		queueName:          queueName,
		handler:            handler,
		log:                log,
		stopChan:           make(chan struct{}),
		doneChan:           make(chan struct{}),
		backOff:            func() backoff.BackOff { return backoff.NewExponentialBackOff() },
		ResubscribeTimeout: 2 * time.Minute,
	}
	c.subscribe = c.consume
	return c, nil
}

// Run consumes until ctx is done or Stop is called. A delivery channel closed
// by the broker is re-subscribed with backoff; Run fails only when
// resubscribing keeps failing for ResubscribeTimeout.
func (c *Consumer) Run(ctx context.Context) error {
	defer close(c.doneChan)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-c.stopChan:
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		msgs, err := backoff.Retry(ctx, c.subscribe,
			backoff.WithBackOff(c.backOff()),
			backoff.WithMaxElapsedTime(c.ResubscribeTimeout),
			backoff.WithNotify(func(err error, next time.Duration) {
				c.log.Warn("Failed to subscribe, retrying",
					zap.String("queue", c.queueName),
					zap.Duration("next", next),
					zap.Error(err))
			}),
		)
		if ctx.Err() != nil {
			c.log.Info("Consumer stopping", zap.String("queue", c.queueName))
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", c.queueName, err)
		}

		c.log.Info("Consumer started", zap.String("queue", c.queueName))
		if !c.drain(ctx, msgs) {
			c.log.Info("Consumer stopping", zap.String("queue", c.queueName))
			return nil
		}
		c.log.Warn("Delivery channel closed, resubscribing", zap.String("queue", c.queueName))
	}
}

// drain settles deliveries until ctx is done (false) or the channel closes (true)
func (c *Consumer) drain(ctx context.Context, msgs <-chan amqp.Delivery) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case d, ok := <-msgs:
			if !ok {
				return true
			}
			c.settle(ctx, d, d.Body)
		}
	}
}

func (c *Consumer) consume() (<-chan amqp.Delivery, error) {
	ch, err := c.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to get channel: %w", err)
	}

	// One unacknowledged message at a time
	if err := ch.Qos(1, 0, false); err != nil {
		return nil, fmt.Errorf("failed to set QoS: %w", err)
	}

	msgs, err := ch.Consume(
		c.queueName,
		"",    // consumer tag (auto-generated)
		false, // auto-ack (manual acknowledgement)
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,   // args
	)
	if err != nil {
		return nil, fmt.Errorf("failed to start consuming: %w", err)
	}
	return msgs, nil
}

// Stop stops consuming messages gracefully. Only valid while Run is active.
func (c *Consumer) Stop() {
	close(c.stopChan)
	<-c.doneChan
}

// settle runs the handler and acknowledges the message.
// Malformed messages are acked and dropped. Other failures are requeued.
func (c *Consumer) settle(ctx context.Context, d acknowledger, body []byte) {
	err := c.handler(ctx, body)
	switch {
	case err == nil:
		if ackErr := d.Ack(false); ackErr != nil {
			c.log.Warn("Failed to ack message", zap.Error(ackErr))
		}
	case errors.Is(err, ErrMalformed):
		c.log.Warn("Dropping malformed message",
			zap.String("queue", c.queueName),
			zap.ByteString("body", body),
			zap.Error(err))
		if ackErr := d.Ack(false); ackErr != nil {
			c.log.Warn("Failed to ack message", zap.Error(ackErr))
		}
	default:
		c.log.Error("Error processing message, requeueing",
			zap.String("queue", c.queueName),
			zap.Error(err))
		if nackErr := d.Nack(false, true); nackErr != nil {
			c.log.Warn("Failed to nack message", zap.Error(nackErr))
		}
	}
}
