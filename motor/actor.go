package motor

import (
	"context"
	"fmt"
	"time"

	"github.com/jt05610/deoxy/angle"
	"github.com/jt05610/deoxy/pin"
	"go.uber.org/zap"
)

// Handle addresses a motor running in its own goroutine. Once spawned the
// motor must only be reached through its handle.
type Handle struct {
	label string
	inbox chan angle.Angle
	done  chan struct{}
	err   error
}

// Spawn starts the wave loop for m. The loop ends when ctx is cancelled or
// when the pin has failed Retries times in a row.
func Spawn(ctx context.Context, m *Motor) *Handle {
	h := &Handle{
		label: m.label,
		inbox: make(chan angle.Angle, 8),
		done:  make(chan struct{}),
	}
	go func() {
		defer close(h.done)
		if pwm, ok := m.out.(pin.Pwm); ok {
			h.err = h.runPwm(ctx, m, pwm)
		} else {
			h.err = h.runWave(ctx, m)
		}
		if h.err != nil {
			m.logger.Error("motor stopped", zap.Error(h.err))
		}
	}()
	return h
}

func (h *Handle) Label() string {
	return h.label
}

// Open queues an open command. It does not wait for the valve to move.
func (h *Handle) Open() error {
	return h.SetAngle(angle.Open)
}

func (h *Handle) Close() error {
	return h.SetAngle(angle.Closed)
}

func (h *Handle) SetAngle(a angle.Angle) error {
	if a < angle.Closed || a > angle.Max {
		return fmt.Errorf("%w: %s", ErrAngle, a)
	}
	select {
	case <-h.done:
		return ErrUnavailable
	case h.inbox <- a:
		return nil
	}
}

// Done is closed once the motor loop has exited.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Err returns why the loop exited. It is nil for a cancelled context and only
// meaningful after Done is closed.
func (h *Handle) Err() error {
	select {
	case <-h.done:
		return h.err
	default:
		return nil
	}
}

type failures struct {
	count  int
	logger *zap.Logger
}

func (f *failures) observe(err error) error {
	if err == nil {
		f.count = 0
		return nil
	}
	f.count++
	f.logger.Warn("pin failure", zap.Int("consecutive", f.count), zap.Error(err))
	if f.count >= Retries {
		return fmt.Errorf("%w after %d attempts: %v", ErrRetriesExhausted, f.count, err)
	}
	return nil
}

func (h *Handle) runWave(ctx context.Context, m *Motor) error {
	f := &failures{logger: m.logger}
	timer := time.NewTimer(0)
	defer timer.Stop()
	high := false
	var width time.Duration
	for {
		select {
		case <-ctx.Done():
			_ = m.out.SetLow()
			return nil
		case a := <-h.inbox:
			_ = m.SetAngle(a)
		case <-timer.C:
			var err error
			var next time.Duration
			if !high {
				width = m.width
				err = m.out.SetHigh()
				next = width
			} else {
				err = m.out.SetLow()
				next = m.period - width
			}
			high = !high
			if err := f.observe(err); err != nil {
				return err
			}
			timer.Reset(next)
		}
	}
}

func (h *Handle) runPwm(ctx context.Context, m *Motor, pwm pin.Pwm) error {
	f := &failures{logger: m.logger}
	retry := time.NewTimer(0)
	defer retry.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case a := <-h.inbox:
			_ = m.SetAngle(a)
			if !retry.Stop() {
				select {
				case <-retry.C:
				default:
				}
			}
			retry.Reset(0)
		case <-retry.C:
			if err := f.observe(pwm.SetPwm(m.period, m.width)); err != nil {
				return err
			}
			if f.count > 0 {
				retry.Reset(m.period)
			}
		}
	}
}
