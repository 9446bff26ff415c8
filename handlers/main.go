package handlers

import (
	"context"

	"github.com/streadway/amqp"
)

// MessageHandler describes the interface used to handle AMQP messages.
type MessageHandler interface {
	HandleMessage(ctx context.Context, routingKey string, delivery amqp.Delivery) error
}

// InitMessageHandlers returns a map from routing key to message handler.
func InitMessageHandlers(creator Creator, routingKey string) (map[string]MessageHandler, error) {
	inquiryHandler, err := NewInquiry(creator)
	if err != nil {
		return nil, err
	}
	return map[string]MessageHandler{
		routingKey: inquiryHandler,
	}, nil
}
