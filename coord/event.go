package coord

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jt05610/deoxy"
	"go.uber.org/zap"
)

type EventKind int

const (
	Continued EventKind = iota
	Started
	Paused
	StopQueued
	Halted
	Finished
	Unsafe
)

var eventKinds = []string{
	Continued:  "continued",
	Started:    "started",
	Paused:     "paused",
	StopQueued: "stop_queued",
	Halted:     "halted",
	Finished:   "finished",
	Unsafe:     "unsafe",
}

func (k EventKind) String() string {
	if int(k) < 0 || int(k) >= len(eventKinds) {
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
	return eventKinds[k]
}

// Event is a status change broadcast to subscribers. Protocol is set for
// Started, Early for StopQueued and Err for a Halted that could not reach the
// safe state on its first attempt.
type Event struct {
	Kind     EventKind       `json:"kind"`
	Job      uuid.UUID       `json:"job"`
	Protocol *deoxy.Protocol `json:"protocol,omitempty"`
	Early    bool            `json:"early,omitempty"`
	Err      string          `json:"error,omitempty"`
	At       time.Time       `json:"at"`
}

// Controller lets a subscriber talk back to the coordinator.
type Controller interface {
	Send(ctx context.Context, msg Message) error
	Job(ctx context.Context) (*Job, error)
}

type Subscriber interface {
	Handle(ev Event, ctl Controller)
}

type SubscriberFunc func(ev Event, ctl Controller)

func (f SubscriberFunc) Handle(ev Event, ctl Controller) {
	f(ev, ctl)
}

const subscriberQueue = 64

type subscription struct {
	sub    Subscriber
	events chan Event
}

func (c *Coordinator) subscribe(s Subscriber) {
	sub := &subscription{sub: s, events: make(chan Event, subscriberQueue)}
	c.subs = append(c.subs, sub)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for ev := range sub.events {
			s.Handle(ev, c)
		}
	}()
}

func (c *Coordinator) publish(ev Event) {
	ev.Job = c.state.uuid
	ev.At = time.Now()
	c.logger.Info("status", zap.Stringer("event", ev.Kind), zap.Stringer("state", c.state.status))
	for _, s := range c.subs {
		select {
		case s.events <- ev:
		default:
			c.logger.Warn("subscriber queue full; dropping event", zap.Stringer("event", ev.Kind))
		}
	}
}

func (c *Coordinator) closeSubscribers() {
	for _, s := range c.subs {
		close(s.events)
	}
	c.subs = nil
}

func (k EventKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *EventKind) UnmarshalText(b []byte) error {
	for i, name := range eventKinds {
		if name == string(b) {
			*k = EventKind(i)
			return nil
		}
	}
	return fmt.Errorf("unknown event kind %q", string(b))
}
