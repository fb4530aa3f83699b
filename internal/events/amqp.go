package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

// AMQPPublisher publishes record updates as JSON to a durable topic exchange.
type AMQPPublisher struct {
	mu         sync.Mutex
	conn       *amqp.Connection
	channel    *amqp.Channel
	exchange   string
	routingKey string
}

// DialAMQP connects to url and declares exchange.
func DialAMQP(url, exchange, routingKey string) (*AMQPPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connecting to broker: %w", err)
	}
	p, err := NewAMQPPublisher(conn, exchange, routingKey)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return p, nil
}

// NewAMQPPublisher opens a channel on conn and declares exchange. Closing
// the publisher closes conn.
func NewAMQPPublisher(conn *amqp.Connection, exchange, routingKey string) (*AMQPPublisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("opening channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		return nil, fmt.Errorf("declaring exchange %s: %w", exchange, err)
	}
	return &AMQPPublisher{conn: conn, channel: ch, exchange: exchange, routingKey: routingKey}, nil
}

// RoutingKey returns the key an event is published under: the configured
// key followed by the record status, e.g. "record.updated.completed".
func (p *AMQPPublisher) RoutingKey(ev RecordUpdated) string {
	if ev.Status == "" {
		return p.routingKey
	}
	return p.routingKey + "." + ev.Status
}

func (p *AMQPPublisher) Publish(ctx context.Context, ev RecordUpdated) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.channel.PublishWithContext(ctx,
		p.exchange,
		p.RoutingKey(ev),
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    ev.RecordID,
			Timestamp:    ev.Timestamp,
			Body:         body,
		},
	)
}

func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.channel.Close(); err != nil {
		p.conn.Close()
		return err
	}
	return p.conn.Close()
}
