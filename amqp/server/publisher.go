package server

import (
	"context"
	"time"

	amqp2 "github.com/jt05610/deoxy/amqp"
	"github.com/jt05610/deoxy/coord"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

type publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// Publisher forwards coordinator status events to the exchange.
type Publisher struct {
	ch       publisher
	codec    amqp2.Codec
	exchange string
	deviceID string
	logger   *zap.Logger
}

var _ coord.Subscriber = (*Publisher)(nil)

func NewPublisher(ch publisher, exchange, deviceID string, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{ch: ch, exchange: exchange, deviceID: deviceID, logger: logger}
}

func (p *Publisher) Handle(ev coord.Event, _ coord.Controller) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	name := ev.Kind.String()
	pub, err := p.codec.Flush(ctx, name, ev.Job.String(), ev)
	if err != nil {
		p.logger.Error("failed to encode event", zap.String("event", name), zap.Error(err))
		return
	}
	key := amqp2.RoutingKey(p.deviceID, amqp2.TopicEvents, name)
	if err := p.ch.PublishWithContext(ctx, p.exchange, key, false, false, pub); err != nil {
		p.logger.Error("failed to publish event", zap.String("key", key), zap.Error(err))
	}
}
