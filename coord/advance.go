package coord

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jt05610/deoxy"
	"github.com/jt05610/deoxy/mail"
	"github.com/jt05610/deoxy/motor"
	"go.uber.org/zap"
)

func (c *Coordinator) ioContext() (context.Context, context.CancelFunc) {
	d := c.timing.IOTimeout
	if d <= 0 {
		d = DefaultIOTimeout
	}
	return context.WithTimeout(context.Background(), d)
}

func (c *Coordinator) valve(id deoxy.MotorID) (*motor.Handle, error) {
	if int(id) < 0 || int(id) >= len(c.motors) {
		return nil, fmt.Errorf("%w: %d", ErrUnknownMotor, id)
	}
	return c.motors[id], nil
}

func (c *Coordinator) openValve(id deoxy.MotorID) error {
	v, err := c.valve(id)
	if err != nil {
		return err
	}
	if err := v.Open(); err != nil {
		return fmt.Errorf("open valve %d: %w", id, err)
	}
	return nil
}

func (c *Coordinator) closeValve(id deoxy.MotorID) error {
	v, err := c.valve(id)
	if err != nil {
		return err
	}
	if err := v.Close(); err != nil {
		return fmt.Errorf("close valve %d: %w", id, err)
	}
	return nil
}

func (c *Coordinator) closeAll() error {
	var errs []error
	for i := range c.motors {
		if err := c.closeValve(deoxy.MotorID(i)); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (c *Coordinator) stopPump() error {
	ctx, cancel := c.ioContext()
	defer cancel()
	if err := c.pump.Stop(ctx); err != nil {
		return fmt.Errorf("stop pump: %w", err)
	}
	return nil
}

// safe stops the pump and closes every valve, attempting all of them even
// when one fails.
func (c *Coordinator) safe() error {
	return errors.Join(c.stopPump(), c.closeAll())
}

func (c *Coordinator) start(m Start) error {
	prog, err := m.Protocol.Program()
	if err != nil {
		return &ConversionError{Err: err}
	}
	if c.state.status.Phase != Stopped {
		return ErrBusy
	}
	if c.unsafe {
		return ErrUnsafe
	}
	for _, a := range prog.Actions() {
		if a.Kind != deoxy.ActionPerfuse {
			continue
		}
		if _, err := c.valve(a.Motor); err != nil {
			return err
		}
		if a.Motor == c.waste {
			return fmt.Errorf("%w: %d is the waste valve", ErrUnknownMotor, a.Motor)
		}
	}
	for i, h := range c.motors {
		select {
		case <-h.Done():
			return fmt.Errorf("valve %d: %w", i, motor.ErrUnavailable)
		default:
		}
	}
	id := m.Label
	if id == uuid.Nil {
		id = uuid.New()
	}
	c.cancelPending()
	c.state = runState{
		protocol:  m.Protocol,
		program:   &prog,
		remaining: prog.Actions(),
		uuid:      id,
	}
	c.setState(State{Phase: Running})
	c.logger.Info("starting job", zap.Stringer("job", id), zap.Int("actions", prog.Len()))
	if err := c.closeAll(); err != nil {
		c.escalate(err)
		return err
	}
	p := m.Protocol
	c.publish(Event{Kind: Started, Protocol: &p})
	c.schedule(c.timing.Settle, c.advance)
	return nil
}

// advance dispatches the next action of the program. Every action that takes
// time schedules its own continuation, which ends by calling advance again.
func (c *Coordinator) advance() error {
	if len(c.state.remaining) == 0 {
		c.state.current = nil
		c.setState(State{Phase: Stopped})
		c.logger.Info("program complete", zap.Stringer("job", c.state.uuid))
		return nil
	}
	a := c.state.remaining[0]
	c.state.remaining = c.state.remaining[1:]
	c.setState(State{Phase: Running})
	c.state.completed = append(c.state.completed, a)
	c.state.current = &a
	c.metrics.Dispatched(a.Kind.String())
	c.logger.Info("dispatch", zap.Stringer("action", a), zap.Int("remaining", len(c.state.remaining)))

	switch a.Kind {
	case deoxy.ActionPerfuse:
		return c.perfuse(a.Motor)
	case deoxy.ActionSleep:
		c.schedule(a.Duration, c.advance)
	case deoxy.ActionHail:
		c.setState(State{Phase: Waiting})
		c.publish(Event{Kind: Paused})
	case deoxy.ActionDrain:
		return c.drain()
	case deoxy.ActionFinish:
		if err := c.safe(); err != nil {
			return err
		}
		c.notify(mail.FinishedStatus())
		c.state.current = nil
		c.publish(Event{Kind: Finished})
		c.schedule(c.timing.Settle, c.advance)
	case deoxy.ActionNotify:
		c.notify(mail.CustomStatus(a.Notification.Subject, a.Notification.Message))
		return c.advance()
	default:
		return fmt.Errorf("coord: unknown action %s", a.Kind)
	}
	return nil
}

func (c *Coordinator) perfuse(target deoxy.MotorID) error {
	if err := c.closeValve(c.waste); err != nil {
		return err
	}
	if err := c.openValve(target); err != nil {
		return err
	}
	ctx, cancel := c.ioContext()
	defer cancel()
	if err := c.pump.Perfuse(ctx); err != nil {
		return fmt.Errorf("perfuse: %w", err)
	}
	c.state.buffer = &target
	c.schedule(c.timing.Perfusion, func() error {
		if err := c.closeValve(target); err != nil {
			return err
		}
		if err := c.openValve(c.waste); err != nil {
			return err
		}
		c.schedule(c.timing.LineClear, func() error {
			if err := c.stopPump(); err != nil {
				return err
			}
			if err := c.closeValve(c.waste); err != nil {
				return err
			}
			return c.advance()
		})
		return nil
	})
	return nil
}

func (c *Coordinator) drain() error {
	if err := c.openValve(c.waste); err != nil {
		return err
	}
	ctx, cancel := c.ioContext()
	defer cancel()
	if err := c.pump.Drain(ctx); err != nil {
		return fmt.Errorf("drain: %w", err)
	}
	c.schedule(c.timing.Perfusion+c.timing.DrainMargin, func() error {
		if err := c.stopPump(); err != nil {
			return err
		}
		if err := c.closeValve(c.waste); err != nil {
			return err
		}
		return c.advance()
	})
	return nil
}

func (c *Coordinator) resume() {
	if c.state.status.Phase != Waiting {
		c.logger.Warn("continue ignored; not waiting", zap.Stringer("state", c.state.status))
		return
	}
	c.setState(State{Phase: Running})
	c.publish(Event{Kind: Continued})
	if err := c.advance(); err != nil {
		c.escalate(err)
	}
}

// clear drops everything from the first action it is safe to stop before.
func (c *Coordinator) clear() {
	cut := len(c.state.remaining)
	for i, a := range c.state.remaining {
		if a.IsDisjoint() {
			cut = i
			break
		}
	}
	early := cut < len(c.state.remaining)
	c.state.remaining = c.state.remaining[:cut]
	c.state.partial = true
	c.logger.Info("stop queued", zap.Bool("early", early), zap.Int("remaining", cut))
	c.publish(Event{Kind: StopQueued, Early: early})
}

func (c *Coordinator) exchangeStop(target deoxy.MotorID) error {
	if _, err := c.valve(target); err != nil {
		return err
	}
	if target == c.waste {
		return fmt.Errorf("%w: %d is the waste valve", ErrUnknownMotor, target)
	}
	if c.state.status.Phase == Stopped {
		c.logger.Warn("exchange stop ignored; not running", zap.Stringer("state", c.state.status))
		return nil
	}
	if c.state.buffer != nil && *c.state.buffer == target {
		c.clear()
		return nil
	}
	prog, err := deoxy.WithStep(deoxy.Perfuse(target)).Program()
	if err != nil {
		return &ConversionError{Err: err}
	}
	c.state.remaining = prog.Actions()
	c.state.partial = true
	c.logger.Info("exchange stop queued", zap.Int("target", int(target)))
	c.publish(Event{Kind: StopQueued, Early: true})
	return nil
}

// hcf cancels any pending continuation and forces the hardware safe. The
// action in flight, if any, is removed from the completed list.
func (c *Coordinator) hcf() error {
	c.cancelPending()
	err := c.safe()
	c.setState(State{Phase: Stopped, Early: true})
	if c.state.current != nil {
		if n := len(c.state.completed); n > 0 {
			c.state.completed = c.state.completed[:n-1]
		}
		c.state.current = nil
	}
	return err
}

// halt aborts the run. If the hardware cannot be confirmed safe the attempt
// is repeated HaltRetries times before the coordinator gives up and reports
// itself unsafe. Start is refused from the first failed attempt on.
func (c *Coordinator) halt(cause error) error {
	c.metrics.Halted()
	err := c.hcf()
	c.notify(mail.AbortedStatus())
	ev := Event{Kind: Halted}
	if err != nil {
		ev.Err = err.Error()
	}
	c.publish(ev)
	if err == nil {
		c.unsafe = false
		return nil
	}
	// Start stays locked out until a retry confirms the safe state.
	c.unsafe = true
	c.logger.Error("halt did not reach safe state", zap.NamedError("cause", cause), zap.Error(err))
	c.retryHalt(1)
	return fmt.Errorf("halt: %w", err)
}

func (c *Coordinator) retryHalt(attempt int) {
	c.schedule(c.timing.RetryBackoff, func() error {
		err := c.hcf()
		if err == nil {
			c.unsafe = false
			c.logger.Info("safe state reached", zap.Int("attempt", attempt))
			c.publish(Event{Kind: Halted})
			return nil
		}
		if attempt >= HaltRetries {
			c.metrics.Failed()
			c.logger.Error("Could not fully stop program; please take caution!",
				zap.Bool("critical", true),
				zap.Int("attempts", attempt+1),
				zap.Error(err),
			)
			c.publish(Event{Kind: Unsafe, Err: err.Error()})
			return nil
		}
		c.logger.Warn("retrying halt", zap.Int("attempt", attempt), zap.Error(err))
		c.retryHalt(attempt + 1)
		return nil
	})
}

// escalate handles a failure raised while advancing.
func (c *Coordinator) escalate(err error) {
	c.logger.Error("advance failed; aborting", zap.Error(err))
	_ = c.halt(err)
}

func (c *Coordinator) motorFault(f motorFault) {
	label := c.labels[int(f.id)]
	if label == "" {
		label = f.id.String()
	}
	c.metrics.MotorFault(label)
	c.logger.Error("motor failed", zap.Int("motor", int(f.id)), zap.String("label", label), zap.Error(f.err))
	if c.state.status.Phase == Stopped {
		return
	}
	c.escalate(fmt.Errorf("valve %d: %w", f.id, f.err))
}
