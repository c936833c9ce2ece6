package notify

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	// EventsExchange carries terminal-state events for downstream
	// consumers (email, push, in-app feed).
	EventsExchange = "video.events"

	RoutingCompleted = "video.completed"
	RoutingFailed    = "video.failed"
)

// AMQPNotifier publishes terminal-state events to a direct exchange
type AMQPNotifier struct {
	conn *amqp.Connection
	ch   *amqp.Channel
}

// NewAMQPNotifier connects and declares the events exchange. Idempotent
// with respect to broker topology.
func NewAMQPNotifier(url string) (*AMQPNotifier, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open a channel: %w", err)
	}
	if err := ch.ExchangeDeclare(EventsExchange, "direct", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}
	return &AMQPNotifier{conn: conn, ch: ch}, nil
}

// Notify publishes the event with a routing key matching its outcome.
func (n *AMQPNotifier) Notify(ctx context.Context, ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	routingKey := RoutingFailed
	if ev.Outcome == "completed" {
		routingKey = RoutingCompleted
	}
	return n.ch.PublishWithContext(ctx,
		EventsExchange,
		routingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType: "application/json",
			Body:        body,
		})
}

// Close releases the channel and connection.
func (n *AMQPNotifier) Close() {
	n.ch.Close()
	n.conn.Close()
}
