// Package coord runs compiled programs against the pump and valve motors.
//
// The coordinator is a single goroutine that owns all run state. Control
// messages, timer continuations and motor faults all arrive through its inbox
// and are handled one at a time, so a Halt is never blocked behind a pending
// delay.
//
// Pump commands are the exception: the loop waits for the pump's reply, up
// to Timing.IOTimeout per command, so a wedged pump delays a Halt by at most
// that long before the failure escalates.
package coord

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jt05610/deoxy"
	"github.com/jt05610/deoxy/mail"
	"github.com/jt05610/deoxy/motor"
	"github.com/jt05610/deoxy/pump"
	"go.uber.org/zap"
)

// Devices is the hardware handed to a coordinator. It is only touched by Run,
// which turns every device into its own actor.
type Devices struct {
	Pump   *pump.Pump
	Motors []*motor.Motor
}

// Metrics receives coordinator activity. *metrics.Collector implements it.
type Metrics interface {
	Dispatched(kind string)
	Halted()
	Failed()
	MotorFault(motor string)
	SetPhase(phase string)
	Reject(reason string)
}

type nopMetrics struct{}

func (nopMetrics) Dispatched(string) {}
func (nopMetrics) Halted()           {}
func (nopMetrics) Failed()           {}
func (nopMetrics) MotorFault(string) {}
func (nopMetrics) SetPhase(string)   {}
func (nopMetrics) Reject(string)     {}

type Coordinator struct {
	devices  Devices
	timing   Timing
	waste    deoxy.MotorID
	notifier mail.Notifier
	admins   []string
	metrics  Metrics
	logger   *zap.Logger

	inbox   chan envelope
	done    chan struct{}
	started chan struct{}
	once    sync.Once
	wg      sync.WaitGroup

	pump   *pump.Handle
	motors []*motor.Handle
	labels map[int]string
	state  runState
	subs   []*subscription
	timer  *time.Timer
	epoch  uint64
	unsafe bool
}

type Option func(*Coordinator)

func WithLogger(logger *zap.Logger) Option {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func WithTiming(t Timing) Option {
	return func(c *Coordinator) {
		c.timing = t
	}
}

// WithWaste sets the valve that drains to waste. It defaults to 0.
func WithWaste(id deoxy.MotorID) Option {
	return func(c *Coordinator) {
		c.waste = id
	}
}

func WithNotifier(n mail.Notifier, admins []string) Option {
	return func(c *Coordinator) {
		if n != nil {
			c.notifier = n
		}
		c.admins = admins
	}
}

func WithMetrics(m Metrics) Option {
	return func(c *Coordinator) {
		if m != nil {
			c.metrics = m
		}
	}
}

func New(devices Devices, opts ...Option) *Coordinator {
	c := &Coordinator{
		devices:  devices,
		timing:   DefaultTiming(),
		notifier: mail.Discard{},
		metrics:  nopMetrics{},
		logger:   zap.NewNop(),
		inbox:    make(chan envelope),
		done:     make(chan struct{}),
		started:  make(chan struct{}),
		labels:   make(map[int]string),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.state.status = State{Phase: Stopped}
	return c
}

// Run spawns the device actors and handles messages until ctx is cancelled.
// On the way out the pump is stopped and every valve closed.
func (c *Coordinator) Run(ctx context.Context) error {
	if c.devices.Pump == nil || len(c.devices.Motors) == 0 {
		return errors.New("coord: a pump and at least one motor are required")
	}
	if int(c.waste) < 0 || int(c.waste) >= len(c.devices.Motors) {
		return fmt.Errorf("%w: waste valve %d", ErrUnknownMotor, c.waste)
	}
	started := false
	c.once.Do(func() { started = true })
	if !started {
		return errors.New("coord: already running")
	}
	actorCtx, cancelActors := context.WithCancel(context.Background())
	c.pump = pump.Spawn(actorCtx, c.devices.Pump)
	for i, m := range c.devices.Motors {
		h := motor.Spawn(actorCtx, m)
		c.motors = append(c.motors, h)
		if m.Label() != "" {
			c.labels[i] = m.Label()
		}
		c.wg.Add(1)
		go c.supervise(actorCtx, deoxy.MotorID(i), h)
	}
	c.devices = Devices{}
	c.metrics.SetPhase(string(Stopped))
	close(c.started)
	c.logger.Info("coordinator running", zap.Int("motors", len(c.motors)), zap.Int("waste", int(c.waste)))

	for {
		select {
		case <-ctx.Done():
			c.shutdown()
			cancelActors()
			<-c.pump.Done()
			close(c.done)
			c.closeSubscribers()
			c.wg.Wait()
			return nil
		case env := <-c.inbox:
			err := c.handle(env.msg)
			if env.reply != nil {
				env.reply <- err
			}
		}
	}
}

// supervise reports a motor whose wave loop died.
func (c *Coordinator) supervise(ctx context.Context, id deoxy.MotorID, h *motor.Handle) {
	defer c.wg.Done()
	select {
	case <-ctx.Done():
		return
	case <-h.Done():
	}
	if h.Err() == nil {
		return
	}
	select {
	case c.inbox <- envelope{msg: motorFault{id: id, err: h.Err()}}:
	case <-c.done:
	}
}

func (c *Coordinator) shutdown() {
	c.cancelPending()
	if err := c.safe(); err != nil {
		c.logger.Error("failed to reach safe state on shutdown", zap.Error(err))
	}
	timer := time.NewTimer(c.timing.Settle)
	<-timer.C
}

// Send delivers msg to the coordinator and waits for its result.
func (c *Coordinator) Send(ctx context.Context, msg Message) error {
	env := envelope{msg: msg, reply: make(chan error, 1)}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return ErrClosed
	case c.inbox <- env:
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-env.reply:
		return err
	}
}

// Job returns a snapshot of the current or most recent run.
func (c *Coordinator) Job(ctx context.Context) (*Job, error) {
	q := jobQuery{reply: make(chan *Job, 1)}
	if err := c.Send(ctx, q); err != nil {
		return nil, err
	}
	return <-q.reply, nil
}

// Started is closed once Run has spawned the device actors.
func (c *Coordinator) Started() <-chan struct{} {
	return c.started
}

// Done is closed once Run has returned.
func (c *Coordinator) Done() <-chan struct{} {
	return c.done
}

func (c *Coordinator) handle(msg Message) error {
	switch m := msg.(type) {
	case Start:
		err := c.start(m)
		if err != nil {
			c.metrics.Reject(rejectReason(err))
		}
		return err
	case Continue:
		c.resume()
		return nil
	case Stop:
		c.clear()
		return nil
	case ExchangeStop:
		return c.exchangeStop(m.Motor)
	case Halt:
		return c.halt(nil)
	case Subscribe:
		if m.Subscriber == nil {
			return errors.New("coord: nil subscriber")
		}
		c.subscribe(m.Subscriber)
		return nil
	case tick:
		if m.epoch != c.epoch {
			return nil
		}
		c.timer = nil
		if err := m.fn(); err != nil {
			c.escalate(err)
		}
		return nil
	case motorFault:
		c.motorFault(m)
		return nil
	case jobQuery:
		j := c.state.snapshot()
		if len(c.labels) > 0 {
			j.Labels = make(map[int]string, len(c.labels))
			for k, v := range c.labels {
				j.Labels[k] = v
			}
		}
		m.reply <- j
		return nil
	}
	return fmt.Errorf("coord: unknown message %T", msg)
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, ErrProtocolConversion):
		return "invalid"
	case errors.Is(err, ErrBusy):
		return "busy"
	case errors.Is(err, ErrUnknownMotor):
		return "unknown_motor"
	case errors.Is(err, ErrUnsafe):
		return "unsafe"
	}
	return "other"
}

func (c *Coordinator) setState(s State) {
	c.state.status = s
	c.metrics.SetPhase(string(s.Phase))
}

// schedule arranges for fn to run on the coordinator goroutine after d. Only
// one continuation is pending at a time; scheduling another or cancelling
// invalidates the previous one even if its timer already fired.
func (c *Coordinator) schedule(d time.Duration, fn func() error) {
	c.cancelPending()
	epoch := c.epoch
	c.timer = time.AfterFunc(d, func() {
		select {
		case c.inbox <- envelope{msg: tick{epoch: epoch, fn: fn}}:
		case <-c.done:
		}
	})
}

func (c *Coordinator) cancelPending() {
	c.epoch++
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func (c *Coordinator) notify(status mail.Status) {
	if len(c.admins) == 0 {
		return
	}
	admins := append([]string{}, c.admins...)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), mailTimeout)
		defer cancel()
		if err := c.notifier.Notify(ctx, admins, status); err != nil {
			c.logger.Warn("notification failed", zap.Stringer("status", status), zap.Error(err))
		}
	}()
}
