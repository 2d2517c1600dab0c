package util

import (
	"context"
	"fmt"
	"sync"
	"time"

	"swipeskills/internal/config"

	"github.com/pkg/errors"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

// RabbitMQClient owns one connection and one publishing channel. A closed
// channel is reopened on the next publish.
type RabbitMQClient struct {
	url     string
	mu      sync.Mutex
	conn    *amqp.Connection
	channel *amqp.Channel
}

func NewRabbitMQClient(cfg *config.Config) (*RabbitMQClient, error) {
	url := fmt.Sprintf("amqp://%s:%s@%s:%s/", cfg.RabbitMQUser, cfg.RabbitMQPassword, cfg.RabbitMQHost, cfg.RabbitMQPort)
	client := &RabbitMQClient{url: url}
	if err := client.connect(); err != nil {
		return nil, err
	}
	return client, nil
}

func (r *RabbitMQClient) connect() error {
	conn, err := amqp.Dial(r.url)
	if err != nil {
		return errors.Wrap(err, "failed to connect to RabbitMQ")
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return errors.Wrap(err, "failed to open RabbitMQ channel")
	}
	r.conn = conn
	r.channel = ch
	return nil
}

// DeclareQueue declares a durable direct exchange, a durable queue and the binding between them
func (r *RabbitMQClient) DeclareQueue(exchange, queue, routingKey string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.channel.ExchangeDeclare(exchange, "direct", true, false, false, false, nil); err != nil {
		return errors.Wrapf(err, "declare exchange %s", exchange)
	}
	if _, err := r.channel.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		return errors.Wrapf(err, "declare queue %s", queue)
	}
	if err := r.channel.QueueBind(queue, routingKey, exchange, false, nil); err != nil {
		return errors.Wrapf(err, "bind queue %s", queue)
	}
	return nil
}

// Publish sends a persistent JSON message
func (r *RabbitMQClient) Publish(ctx context.Context, exchange, routingKey string, body []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.channel == nil || r.channel.IsClosed() {
		logrus.Warn("RabbitMQ channel closed, reconnecting before publish")
		if r.conn != nil {
			_ = r.conn.Close()
		}
		if err := r.connect(); err != nil {
			return err
		}
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	return r.channel.PublishWithContext(ctx, exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		Body:         body,
	})
}

// Consume opens a dedicated channel for a consumer
func (r *RabbitMQClient) Consume(queue, consumer string) (<-chan amqp.Delivery, *amqp.Channel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ch, err := r.conn.Channel()
	if err != nil {
		return nil, nil, errors.Wrap(err, "open consumer channel")
	}
	if err := ch.Qos(10, 0, false); err != nil {
		_ = ch.Close()
		return nil, nil, errors.Wrap(err, "set consumer prefetch")
	}
	msgs, err := ch.Consume(queue, consumer, false, false, false, false, nil)
	if err != nil {
		_ = ch.Close()
		return nil, nil, errors.Wrapf(err, "consume %s", queue)
	}
	return msgs, ch, nil
}

// Close closes the channel and connection
func (r *RabbitMQClient) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.channel != nil {
		_ = r.channel.Close()
	}
	if r.conn != nil {
		return r.conn.Close()
	}
	return nil
}
