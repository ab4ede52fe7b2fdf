package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"campaignengine/internal/models"
	"campaignengine/internal/notify"
)

// Publisher publishes JSON messages to one RabbitMQ queue
type Publisher struct {
	conn      *Connection
	queueName string
}

// NewPublisher creates a new publisher instance and declares its queue
func NewPublisher(conn *Connection, queueName string) (*Publisher, error) {
	if conn == nil {
		return nil, errors.New("connection cannot be nil")
	}

	if err := conn.DeclareQueue(queueName); err != nil {
		return nil, err
	}

	return &Publisher{
		conn:      conn,
		queueName: queueName,
	}, nil
}

// Publish marshals v and publishes it as a persistent message
func (p *Publisher) Publish(ctx context.Context, v interface{}) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	ch, err := p.conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to get channel: %w", err)
	}

	err = ch.PublishWithContext(
		ctx,
		"",          // exchange (default)
		p.queueName, // routing key
		false,       // mandatory
		false,       // immediate
		amqp.Publishing{
			DeliveryMode: amqp.Persistent,
			ContentType:  "application/json",
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", p.queueName, err)
	}

	return nil
}

// ReceiptPublisher forwards delivery receipts to the worker's batcher through the receipt queue
type ReceiptPublisher struct {
	*Publisher
}

// NewReceiptPublisher creates a receipt publisher on the given queue
func NewReceiptPublisher(conn *Connection, queueName string) (*ReceiptPublisher, error) {
	p, err := NewPublisher(conn, queueName)
	if err != nil {
		return nil, err
	}
	return &ReceiptPublisher{Publisher: p}, nil
}

// Submit publishes the receipt
func (p *ReceiptPublisher) Submit(ctx context.Context, receipt models.DeliveryReceipt) error {
	if err := p.Publish(ctx, receipt); err != nil {
		return fmt.Errorf("failed to publish receipt for campaign %d customer %d: %w", receipt.CampaignID, receipt.CustomerID, err)
	}
	return nil
}

// NotificationPublisher publishes campaign lifecycle notifications
type NotificationPublisher struct {
	*Publisher
}

// NewNotificationPublisher creates a notification publisher on the given queue
func NewNotificationPublisher(conn *Connection, queueName string) (*NotificationPublisher, error) {
	p, err := NewPublisher(conn, queueName)
	if err != nil {
		return nil, err
	}
	return &NotificationPublisher{Publisher: p}, nil
}

// Publish publishes the notification
func (p *NotificationPublisher) Publish(ctx context.Context, n notify.Notification) error {
	return p.Publisher.Publish(ctx, n)
}
