package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const defaultReconnectTimeout = 30 * time.Second

// Connection represents a RabbitMQ connection with automatic reconnection support
type Connection struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	url     string
	mu      sync.Mutex
	log     *zap.Logger

	// ReconnectTimeout bounds how long Channel keeps retrying a lost connection
	ReconnectTimeout time.Duration
}

// NewConnection dials RabbitMQ, retrying with exponential backoff until ctx is done
func NewConnection(ctx context.Context, url string, log *zap.Logger) (*Connection, error) {
	if url == "" {
		return nil, errors.New("rabbitmq url cannot be empty")
	}

	c := &Connection{
		url:              url,
		log:              log,
		ReconnectTimeout: defaultReconnectTimeout,
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.dial(ctx); err != nil {
		return nil, err
	}

	log.Info("Connected to RabbitMQ")
	return c, nil
}

// Channel returns the channel, reconnecting if necessary
func (c *Connection) Channel() (*amqp.Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.channel != nil && !c.channel.IsClosed() && c.conn != nil && !c.conn.IsClosed() {
		return c.channel, nil
	}

	c.log.Warn("RabbitMQ channel is closed, reconnecting")
	c.closeLocked()

	ctx, cancel := context.WithTimeout(context.Background(), c.ReconnectTimeout)
	defer cancel()
	if err := c.dial(ctx); err != nil {
		return nil, fmt.Errorf("failed to reconnect: %w", err)
	}

	c.log.Info("Reconnected to RabbitMQ")
	return c.channel, nil
}

// dial opens a connection and channel. Callers hold mu.
func (c *Connection) dial(ctx context.Context) error {
	type session struct {
		conn    *amqp.Connection
		channel *amqp.Channel
	}

	s, err := backoff.Retry(ctx, func() (session, error) {
		conn, err := amqp.Dial(c.url)
		if err != nil {
			return session{}, fmt.Errorf("failed to connect to rabbitmq: %w", err)
		}
		channel, err := conn.Channel()
		if err != nil {
			conn.Close()
			return session{}, fmt.Errorf("failed to create channel: %w", err)
		}
		return session{conn: conn, channel: channel}, nil
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithNotify(func(err error, next time.Duration) {
			c.log.Warn("RabbitMQ dial failed, retrying", zap.Error(err), zap.Duration("retry_in", next))
		}),
	)
	if err != nil {
		return err
	}

	c.conn = s.conn
	c.channel = s.channel
	return nil
}

func (c *Connection) closeLocked() []error {
	var errs []error
	if c.channel != nil {
		if err := c.channel.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			errs = append(errs, fmt.Errorf("failed to close channel: %w", err))
		}
		c.channel = nil
	}
	if c.conn != nil {
		if err := c.conn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			errs = append(errs, fmt.Errorf("failed to close connection: %w", err))
		}
		c.conn = nil
	}
	return errs
}

// Close closes the connection gracefully
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if errs := c.closeLocked(); len(errs) > 0 {
		return fmt.Errorf("errors during close: %w", errors.Join(errs...))
	}

	c.log.Info("RabbitMQ connection closed")
	return nil
}

// IsConnected checks if the connection is active
func (c *Connection) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.conn != nil && !c.conn.IsClosed() && c.channel != nil && !c.channel.IsClosed()
}

// DeclareQueue declares a durable, non-exclusive queue
func (c *Connection) DeclareQueue(name string) error {
	if name == "" {
		return errors.New("queue name cannot be empty")
	}

	ch, err := c.Channel()
	if err != nil {
		return fmt.Errorf("failed to get channel: %w", err)
	}

	_, err = ch.QueueDeclare(
		name,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", name, err)
	}
	return nil
}
