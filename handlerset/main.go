package handlerset

import (
	"context"

	"github.com/cyverse-de/inquiry-notifier/common"
	"github.com/cyverse-de/inquiry-notifier/handlers"
	"github.com/cyverse-de/inquiry-notifier/logging"
	"github.com/cyverse-de/messaging/v9"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/streadway/amqp"
)

var log = logging.ForPackage("handlerset")

// HandlerSet represents a set of AMQP message handlers.
type HandlerSet struct {
	amqpClient *messaging.Client
	handlerFor map[string]handlers.MessageHandler
}

// New creates a new handler set. The AMQP client declares the exchange and the queue, binds the queue to the routing
// key of every handler and reconnects to the broker whenever the connection is lost.
func New(amqpSettings *common.AMQPSettings, handlerFor map[string]handlers.MessageHandler) (*HandlerSet, error) {
	wrapMsg := "unable to create the message handler set"

	// Create the AMQP client.
	amqpClient, err := messaging.NewClient(amqpSettings.URI, true)
	if err != nil {
		return nil, errors.Wrap(err, wrapMsg)
	}

	// Build the handler set.
	handlerSet := &HandlerSet{
		amqpClient: amqpClient,
		handlerFor: handlerFor,
	}

	// Register a consumer for each routing key.
	for routingKey := range handlerFor {
		amqpClient.AddConsumer(
			amqpSettings.ExchangeName,
			amqpSettings.ExchangeType,
			amqpSettings.QueueName,
			routingKey,
			handlerSet.Dispatch,
			amqpSettings.PrefetchCount,
		)
	}

	return handlerSet, nil
}

// Listen consumes deliveries until the context is done.
func (hs *HandlerSet) Listen(ctx context.Context) {
	go hs.amqpClient.Listen()
	log.Info("consuming inquiries")
	<-ctx.Done()
}

// Dispatch passes a delivery to the handler for its routing key, then acknowledges, rejects or requeues it.
func (hs *HandlerSet) Dispatch(ctx context.Context, delivery amqp.Delivery) {
	logger := log.WithFields(logrus.Fields{"routing_key": delivery.RoutingKey, "delivery_tag": delivery.DeliveryTag})

	handler, ok := hs.handlerFor[delivery.RoutingKey]
	if !ok {
		logger.Warn("no handler for routing key; rejecting the delivery")
		if err := delivery.Reject(false); err != nil {
			logger.Errorf("unable to reject the delivery: %s", err)
		}
		return
	}

	err := handler.HandleMessage(ctx, delivery.RoutingKey, delivery)
	switch {
	case err == nil:
		if err := delivery.Ack(false); err != nil {
			logger.Errorf("unable to acknowledge the delivery: %s", err)
		}
	case handlers.IsRecoverable(err):
		logger.Errorf("requeueing the delivery: %s", err)
		if err := delivery.Nack(false, true); err != nil {
			logger.Errorf("unable to requeue the delivery: %s", err)
		}
	default:
		logger.Errorf("rejecting the delivery: %s", err)
		if err := delivery.Reject(false); err != nil {
			logger.Errorf("unable to reject the delivery: %s", err)
		}
	}
}

// Close closes a message handler set.
func (hs *HandlerSet) Close() {
	if hs.amqpClient != nil {
		hs.amqpClient.Close()
	}
}
