package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jt05610/deoxy"
	amqp2 "github.com/jt05610/deoxy/amqp"
	"github.com/jt05610/deoxy/coord"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

var (
	ErrIncorrectJob   = errors.New("command addressed to a different job")
	ErrUnknownCommand = errors.New("unknown command")
	ErrBadRequest     = errors.New("bad request")
)

type StartRequest struct {
	Protocol deoxy.Protocol `json:"protocol"`
	Job      *uuid.UUID     `json:"job,omitempty"`
}

// JobRequest scopes continue and halt to a job. A nil Job matches any.
type JobRequest struct {
	Job *uuid.UUID `json:"job,omitempty"`
}

type ExchangeStopRequest struct {
	Motor deoxy.MotorID `json:"motor"`
}

type Reply struct {
	OK    bool   `json:"ok"`
	Code  string `json:"code,omitempty"`
	Error string `json:"error,omitempty"`
}

func replyFor(err error) Reply {
	if err == nil {
		return Reply{OK: true}
	}
	code := "error"
	switch {
	case errors.Is(err, coord.ErrProtocolConversion):
		code = "invalid_protocol"
	case errors.Is(err, coord.ErrBusy):
		code = "busy"
	case errors.Is(err, coord.ErrUnknownMotor):
		code = "unknown_motor"
	case errors.Is(err, coord.ErrUnsafe):
		code = "unsafe"
	case errors.Is(err, coord.ErrClosed):
		code = "closed"
	case errors.Is(err, ErrIncorrectJob):
		code = "incorrect_job"
	case errors.Is(err, ErrUnknownCommand):
		code = "unknown_command"
	case errors.Is(err, ErrBadRequest):
		code = "bad_request"
	}
	return Reply{Code: code, Error: err.Error()}
}

// Server maps command deliveries onto coordinator messages.
type Server struct {
	ch       amqp2.Channel
	q        amqp.Queue
	codec    amqp2.Codec
	ctl      coord.Controller
	exchange string
	deviceID string
	logger   *zap.Logger
}

func New(ch amqp2.Channel, exchange, deviceID string, ctl coord.Controller, logger *zap.Logger) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	q, err := amqp2.Declare(ch, exchange,
		amqp2.RoutingKey(deviceID, amqp2.TopicCommands, "*"),
		amqp2.RoutingKey(deviceID, amqp2.TopicState, "get"),
	)
	if err != nil {
		return nil, fmt.Errorf("declare command queue: %w", err)
	}
	return &Server{
		ch:       ch,
		q:        q,
		ctl:      ctl,
		exchange: exchange,
		deviceID: deviceID,
		logger:   logger,
	}, nil
}

func decode(body []byte, v interface{}) error {
	if len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	return nil
}

func (s *Server) checkJob(ctx context.Context, body []byte) error {
	var req JobRequest
	if err := decode(body, &req); err != nil {
		return err
	}
	if req.Job == nil {
		return nil
	}
	j, err := s.ctl.Job(ctx)
	if err != nil {
		return err
	}
	if j.ID != *req.Job {
		return fmt.Errorf("%w: current job is %s", ErrIncorrectJob, j.ID)
	}
	return nil
}

func (s *Server) command(ctx context.Context, m *amqp2.Message) error {
	switch m.Name {
	case "start":
		var req StartRequest
		if err := decode(m.Body, &req); err != nil {
			return err
		}
		msg := coord.Start{Protocol: req.Protocol}
		if req.Job != nil {
			msg.Label = *req.Job
		}
		return s.ctl.Send(ctx, msg)
	case "continue":
		if err := s.checkJob(ctx, m.Body); err != nil {
			return err
		}
		return s.ctl.Send(ctx, coord.Continue{})
	case "halt":
		if err := s.checkJob(ctx, m.Body); err != nil {
			return err
		}
		return s.ctl.Send(ctx, coord.Halt{})
	case "stop":
		return s.ctl.Send(ctx, coord.Stop{})
	case "exchange_stop":
		var req ExchangeStopRequest
		if len(m.Body) == 0 {
			return fmt.Errorf("%w: exchange_stop needs a motor", ErrBadRequest)
		}
		if err := decode(m.Body, &req); err != nil {
			return err
		}
		return s.ctl.Send(ctx, coord.ExchangeStop{Motor: req.Motor})
	}
	return fmt.Errorf("%w: %q", ErrUnknownCommand, m.Name)
}

// Handle processes one delivery and returns the routing key and body of the
// response.
func (s *Server) Handle(ctx context.Context, d amqp.Delivery) (string, amqp.Publishing, error) {
	m, err := s.codec.Load(ctx, d)
	if err != nil {
		return "", amqp.Publishing{}, err
	}
	switch m.Topic {
	case amqp2.TopicState:
		j, err := s.ctl.Job(ctx)
		if err != nil {
			return "", amqp.Publishing{}, err
		}
		pub, err := s.codec.Flush(ctx, "current", m.ID, j)
		return amqp2.RoutingKey(s.deviceID, amqp2.TopicState, "current"), pub, err
	case amqp2.TopicCommands:
		err := s.command(ctx, m)
		if err != nil {
			s.logger.Warn("command rejected", zap.String("command", m.Name), zap.Error(err))
		} else {
			s.logger.Info("command accepted", zap.String("command", m.Name), zap.String("id", m.ID))
		}
		pub, ferr := s.codec.Flush(ctx, m.Name, m.ID, replyFor(err))
		return amqp2.RoutingKey(s.deviceID, amqp2.TopicReplies, m.Name), pub, ferr
	}
	return "", amqp.Publishing{}, fmt.Errorf("%w: topic %q", amqp2.ErrRoutingKey, m.Topic)
}

// Listen consumes commands until ctx is cancelled or the delivery channel
// closes.
func (s *Server) Listen(ctx context.Context) error {
	msgs, err := s.ch.Consume(
		s.q.Name, // queue
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
	s.logger.Info("listening for commands", zap.String("exchange", s.exchange), zap.String("device", s.deviceID))
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-msgs:
			if !ok {
				return errors.New("delivery channel closed")
			}
			key, pub, err := s.Handle(ctx, d)
			if err != nil {
				s.logger.Error("failed to handle delivery", zap.String("key", d.RoutingKey), zap.Error(err))
				continue
			}
			if err := s.ch.PublishWithContext(ctx, s.exchange, key, false, false, pub); err != nil {
				s.logger.Error("failed to publish response", zap.String("key", key), zap.Error(err))
			}
		}
	}
}
