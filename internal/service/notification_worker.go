package service

import (
	"encoding/json"
	"sync"

	"swipeskills/internal/util"

	"github.com/pkg/errors"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

// NotificationWorker consumes notification messages from RabbitMQ and pushes to WebSocket
type NotificationWorker struct {
	rabbitMQ *util.RabbitMQClient
	wsHub    Broadcaster
	stopChan chan struct{}
	stopOnce sync.Once
	log      *logrus.Entry
}

// NewNotificationWorker creates a new notification worker
func NewNotificationWorker(rabbitMQ *util.RabbitMQClient, wsHub Broadcaster) *NotificationWorker {
	return &NotificationWorker{
		rabbitMQ: rabbitMQ,
		wsHub:    wsHub,
		stopChan: make(chan struct{}),
		log:      logrus.WithField("component", "notification_worker"),
	}
}

// Start declares the queue and starts consuming in a goroutine
func (w *NotificationWorker) Start() error {
	if w.rabbitMQ == nil {
		return nil // RabbitMQ not available, worker will not start
	}

	if err := w.rabbitMQ.DeclareQueue(NotificationExchange, NotificationQueueName, NotificationRoutingKey); err != nil {
		return err
	}

	msgs, channel, err := w.rabbitMQ.Consume(NotificationQueueName, "notification_worker")
	if err != nil {
		return err
	}

	go func() {
		defer channel.Close()
		w.log.Info("Notification worker started, consuming messages")
		for {
			select {
			case <-w.stopChan:
				w.log.Info("Notification worker stopped")
				return
			case msg, ok := <-msgs:
				if !ok {
					w.log.Warn("Notification queue closed")
					return
				}
				w.handle(msg)
			}
		}
	}()

	return nil
}

func (w *NotificationWorker) handle(msg amqp.Delivery) {
	if err := w.processNotificationMessage(msg.Body); err != nil {
		// a body that cannot be decoded will never succeed, so drop it
		w.log.WithError(err).Error("Error processing notification message")
		_ = msg.Nack(false, false)
		return
	}
	_ = msg.Ack(false)
}

// processNotificationMessage pushes one broker message to the hub
func (w *NotificationWorker) processNotificationMessage(body []byte) error {
	var message NotificationMessage
	if err := json.Unmarshal(body, &message); err != nil {
		return errors.Wrap(err, "decode notification message")
	}
	if message.Notification == nil || message.Notification.UserID == "" {
		return errors.New("notification message without recipient")
	}

	if w.wsHub != nil {
		w.wsHub.BroadcastToUser(message.Notification.UserID, NotificationPayload(message.Notification))
		w.log.WithFields(logrus.Fields{
			"user_id": message.Notification.UserID,
			"type":    message.Notification.Type,
		}).Debug("Notification pushed to WebSocket")
	}
	return nil
}

// Stop stops the notification worker
func (w *NotificationWorker) Stop() {
	w.stopOnce.Do(func() { close(w.stopChan) })
}
