// Package pump drives a reversible peristaltic pump through an H-bridge.
package pump

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jt05610/deoxy/pin"
	"go.uber.org/zap"
)

// Settle is how long the bridge is held off before reversing.
const Settle = 20 * time.Millisecond

var ErrUnavailable = errors.New("pump: unavailable")

type Direction int

const (
	Off Direction = iota
	Forward
	Backward
)

func (d Direction) String() string {
	switch d {
	case Off:
		return "off"
	case Forward:
		return "forward"
	case Backward:
		return "backward"
	}
	return fmt.Sprintf("Direction(%d)", int(d))
}

// bridge pairs: top-left/bottom-right drive forward, top-right/bottom-left
// drive backward.
var pairs = map[Direction][2]int{
	Forward:  {0, 3},
	Backward: {1, 2},
}

// Pump owns the four bridge pins, ordered top-left, top-right, bottom-left,
// bottom-right.
type Pump struct {
	pins   [4]pin.Out
	invert bool
	settle time.Duration
	dir    Direction
	logger *zap.Logger
}

type Option func(*Pump)

// WithInvert flips the logical level of every bridge pin.
func WithInvert(invert bool) Option {
	return func(p *Pump) {
		p.invert = invert
	}
}

func WithSettle(d time.Duration) Option {
	return func(p *Pump) {
		p.settle = d
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(p *Pump) {
		if logger != nil {
			p.logger = logger
		}
	}
}

func New(pins [4]pin.Out, opts ...Option) *Pump {
	p := &Pump{
		pins:   pins,
		settle: Settle,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Pump) drive(i int, high bool) error {
	var err error
	if high != p.invert {
		err = p.pins[i].SetHigh()
	} else {
		err = p.pins[i].SetLow()
	}
	if err != nil {
		return fmt.Errorf("pump pin %d: %w", i, err)
	}
	return nil
}

func (p *Pump) allLow() error {
	var errs []error
	for i := range p.pins {
		if err := p.drive(i, false); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// SetDirection drives the bridge. Reversing a running pump first drops every
// pin and waits for the settle delay. The direction only changes when every
// pin write succeeded.
func (p *Pump) SetDirection(ctx context.Context, dir Direction) error {
	if dir == Off {
		if err := p.allLow(); err != nil {
			return err
		}
		p.dir = Off
		return nil
	}
	pair, ok := pairs[dir]
	if !ok {
		return fmt.Errorf("pump: unknown direction %d", dir)
	}
	if p.dir != Off && p.dir != dir {
		if err := p.allLow(); err != nil {
			return err
		}
		p.dir = Off
		timer := time.NewTimer(p.settle)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	other := pairs[Forward]
	if dir == Forward {
		other = pairs[Backward]
	}
	for _, i := range other {
		if err := p.drive(i, false); err != nil {
			return err
		}
	}
	for _, i := range pair {
		if err := p.drive(i, true); err != nil {
			return err
		}
	}
	p.logger.Debug("pump direction", zap.Stringer("from", p.dir), zap.Stringer("to", dir))
	p.dir = dir
	return nil
}

func (p *Pump) Perfuse(ctx context.Context) error {
	return p.SetDirection(ctx, Forward)
}

func (p *Pump) Drain(ctx context.Context) error {
	return p.SetDirection(ctx, Backward)
}

func (p *Pump) Stop(ctx context.Context) error {
	return p.SetDirection(ctx, Off)
}

func (p *Pump) Direction() Direction {
	return p.dir
}

func (p *Pump) IsStopped() bool {
	return p.dir == Off
}
