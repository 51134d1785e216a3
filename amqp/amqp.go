// Package amqp carries coordinator commands and status events over a
// RabbitMQ topic exchange.
//
// Routing keys follow <device>.<topic>.<name>: commands arrive on
// <device>.commands.<name>, results go out on <device>.replies.<name>, status
// events on <device>.events.<kind> and job snapshots on <device>.state.current
// in answer to <device>.state.get.
package amqp

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/jt05610/deoxy/env"
	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	TopicCommands = "commands"
	TopicReplies  = "replies"
	TopicEvents   = "events"
	TopicState    = "state"
)

var ErrRoutingKey = errors.New("invalid routing key")

// Message is a decoded delivery.
type Message struct {
	Device string
	Topic  string
	Name   string
	ID     string
	Body   []byte
}

func RoutingKey(device, topic, name string) string {
	return device + "." + topic + "." + name
}

func (m *Message) RoutingKey() string {
	return RoutingKey(m.Device, m.Topic, m.Name)
}

type Codec struct{}

func (Codec) Load(_ context.Context, data amqp.Delivery) (*Message, error) {
	sk := strings.Split(data.RoutingKey, ".")
	if len(sk) != 3 {
		return nil, ErrRoutingKey
	}
	id := ""
	if data.Headers != nil {
		if s, ok := data.Headers["x-event-id"].(string); ok {
			id = s
		}
	}
	return &Message{
		Device: sk[0],
		Topic:  sk[1],
		Name:   sk[2],
		ID:     id,
		Body:   data.Body,
	}, nil
}

func (Codec) Flush(_ context.Context, name, id string, data interface{}) (amqp.Publishing, error) {
	bytes, err := json.Marshal(data)
	if err != nil {
		var zero amqp.Publishing
		return zero, err
	}
	return amqp.Publishing{
		Body:         bytes,
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Headers: amqp.Table{
			"x-event-name": name,
			"x-event-id":   id,
		},
	}, nil
}

// Channel is the part of *amqp.Channel the server and client use.
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

var _ Channel = (*amqp.Channel)(nil)

// Declare sets up the topic exchange and an anonymous queue bound to keys.
func Declare(ch Channel, exchange string, keys ...string) (amqp.Queue, error) {
	err := ch.ExchangeDeclare(
		exchange, // name
		"topic",  // type
		false,    // durable
		false,    // delete when unused
		false,    // exclusive
		false,    // no-wait
		nil,      // arguments
	)
	if err != nil {
		return amqp.Queue{}, err
	}
	q, err := ch.QueueDeclare(
		"",    // name
		false, // durable
		false, // delete when unused
		true,  // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return amqp.Queue{}, err
	}
	for _, key := range keys {
		err := ch.QueueBind(
			q.Name,   // queue name
			key,      // routing key
			exchange, // exchange
			false,
			nil)
		if err != nil {
			return amqp.Queue{}, err
		}
	}
	return q, nil
}

type Connection struct {
	*amqp.Connection
	*amqp.Channel
}

func (c *Connection) Close() error {
	if c.Channel != nil {
		err := c.Channel.Close()
		if err != nil {
			return err
		}
	}
	return c.Connection.Close()
}

func Dial(environ *env.Environment) (*Connection, error) {
	conn, err := amqp.Dial(environ.URI)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	return &Connection{conn, ch}, nil
}
