package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	amqp2 "github.com/jt05610/deoxy/amqp"
	"github.com/jt05610/deoxy/amqp/server"
	"github.com/jt05610/deoxy/coord"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// Client commands a remote coordinator and follows its status events.
type Client struct {
	ch       amqp2.Channel
	q        amqp.Queue
	codec    amqp2.Codec
	exchange string
	deviceID string
	logger   *zap.Logger

	mu      sync.Mutex
	pending map[string]chan *amqp2.Message
	events  chan coord.Event
}

func New(ch amqp2.Channel, exchange, deviceID string, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	q, err := amqp2.Declare(ch, exchange,
		amqp2.RoutingKey(deviceID, amqp2.TopicReplies, "*"),
		amqp2.RoutingKey(deviceID, amqp2.TopicEvents, "*"),
		amqp2.RoutingKey(deviceID, amqp2.TopicState, "current"),
	)
	if err != nil {
		return nil, fmt.Errorf("declare reply queue: %w", err)
	}
	return &Client{
		ch:       ch,
		q:        q,
		exchange: exchange,
		deviceID: deviceID,
		logger:   logger,
		pending:  make(map[string]chan *amqp2.Message),
		events:   make(chan coord.Event, 64),
	}, nil
}

// Events delivers status events received after Listen was called.
func (c *Client) Events() <-chan coord.Event {
	return c.events
}

func (c *Client) Listen(ctx context.Context) error {
	msgs, err := c.ch.Consume(
		c.q.Name, // queue
		"",       // consumer
		true,     // auto-ack
		false,    // exclusive
		false,    // no-local
		false,    // no-wait
		nil,      // args
	)
	if err != nil {
		return fmt.Errorf("register consumer: %w", err)
	}
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-msgs:
				if !ok {
					return
				}
				c.dispatch(ctx, d)
			}
		}
	}()
	return nil
}

func (c *Client) dispatch(ctx context.Context, d amqp.Delivery) {
	m, err := c.codec.Load(ctx, d)
	if err != nil {
		c.logger.Warn("dropping delivery", zap.String("key", d.RoutingKey), zap.Error(err))
		return
	}
	if m.Topic == amqp2.TopicEvents {
		var ev coord.Event
		if err := json.Unmarshal(m.Body, &ev); err != nil {
			c.logger.Warn("bad event", zap.String("key", d.RoutingKey), zap.Error(err))
			return
		}
		select {
		case c.events <- ev:
		default:
			c.logger.Warn("event buffer full", zap.Stringer("event", ev.Kind))
		}
		return
	}
	c.mu.Lock()
	waiter, ok := c.pending[m.ID]
	delete(c.pending, m.ID)
	c.mu.Unlock()
	if ok {
		waiter <- m
	}
}

func (c *Client) call(ctx context.Context, key string, body interface{}) (*amqp2.Message, error) {
	id := uuid.NewString()
	waiter := make(chan *amqp2.Message, 1)
	c.mu.Lock()
	c.pending[id] = waiter
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()
	pub, err := c.codec.Flush(ctx, key, id, body)
	if err != nil {
		return nil, err
	}
	if err := c.ch.PublishWithContext(ctx, c.exchange, key, false, false, pub); err != nil {
		return nil, err
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case m := <-waiter:
		return m, nil
	}
}

// Command sends a command and waits for its reply. A rejected command is
// returned as an error carrying the server's code.
func (c *Client) Command(ctx context.Context, name string, body interface{}) error {
	m, err := c.call(ctx, amqp2.RoutingKey(c.deviceID, amqp2.TopicCommands, name), body)
	if err != nil {
		return err
	}
	var reply server.Reply
	if err := json.Unmarshal(m.Body, &reply); err != nil {
		return err
	}
	if !reply.OK {
		return &RemoteError{Code: reply.Code, Message: reply.Error}
	}
	return nil
}

func (c *Client) Job(ctx context.Context) (*coord.Job, error) {
	m, err := c.call(ctx, amqp2.RoutingKey(c.deviceID, amqp2.TopicState, "get"), nil)
	if err != nil {
		return nil, err
	}
	var j coord.Job
	if err := json.Unmarshal(m.Body, &j); err != nil {
		return nil, err
	}
	return &j, nil
}

type RemoteError struct {
	Code    string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Code returns the server code of a rejected command, or "".
func Code(err error) string {
	var re *RemoteError
	if errors.As(err, &re) {
		return re.Code
	}
	return ""
}
