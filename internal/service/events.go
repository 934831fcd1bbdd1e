package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/streadway/amqp"
)

const eventsExchange = "sms.events"

// AMQPPublisher pushes verification lifecycle events to a topic exchange for
// higher-level orchestration to consume.
type AMQPPublisher struct {
	channel *amqp.Channel
	logger  *logrus.Logger
}

func NewAMQPPublisher(channel *amqp.Channel, logger *logrus.Logger) (*AMQPPublisher, error) {
	if err := channel.ExchangeDeclare(
		eventsExchange, // name
		"topic",        // type
		true,           // durable
		false,          // auto-deleted
		false,          // internal
		false,          // no-wait
		nil,            // arguments
	); err != nil {
		return nil, fmt.Errorf("failed to declare %s exchange: %w", eventsExchange, err)
	}

	return &AMQPPublisher{
		channel: channel,
		logger:  logger,
	}, nil
}

// Publish implements EventPublisher.
func (p *AMQPPublisher) Publish(ctx context.Context, routingKey string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	return p.channel.Publish(
		eventsExchange,
		routingKey,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         data,
			DeliveryMode: amqp.Persistent,
		},
	)
}
