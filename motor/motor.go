// Package motor drives a hobby-servo style valve actuator from a single
// output pin.
package motor

import (
	"errors"
	"fmt"
	"time"

	"github.com/jt05610/deoxy/angle"
	"github.com/jt05610/deoxy/pin"
	"go.uber.org/zap"
)

// Retries is the number of consecutive pin failures a running motor tolerates.
const Retries = 20

var (
	ErrAngle            = errors.New("motor: angle out of range")
	ErrRange            = errors.New("motor: invalid signal range")
	ErrRetriesExhausted = errors.New("motor: retries exhausted")
	ErrUnavailable      = errors.New("motor: unavailable")
)

type Motor struct {
	out    pin.Out
	period time.Duration
	start  time.Duration
	end    time.Duration
	width  time.Duration
	label  string
	logger *zap.Logger
}

type Option func(*Motor)

func WithLogger(logger *zap.Logger) Option {
	return func(m *Motor) {
		if logger != nil {
			m.logger = logger
		}
	}
}

func WithLabel(label string) Option {
	return func(m *Motor) {
		m.label = label
	}
}

// New returns a closed motor. The signal range maps 0° to start and 180° to
// end; both must fit inside period.
func New(out pin.Out, period, start, end time.Duration, opts ...Option) (*Motor, error) {
	if start < 0 || end <= start || end > period {
		return nil, fmt.Errorf("%w: %s..%s with period %s", ErrRange, start, end, period)
	}
	m := &Motor{
		out:    out,
		period: period,
		start:  start,
		end:    end,
		width:  start,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.label != "" {
		m.logger = m.logger.With(zap.String("motor", m.label))
	}
	return m, nil
}

// SetAngle updates the pulse width used from the next wave cycle on.
func (m *Motor) SetAngle(a angle.Angle) error {
	if a < angle.Closed || a > angle.Max {
		return fmt.Errorf("%w: %s", ErrAngle, a)
	}
	span := float64(m.end - m.start)
	m.width = m.start + time.Duration(span*a.Degrees()/angle.Max.Degrees())
	m.logger.Debug("set angle", zap.Stringer("angle", a), zap.Duration("width", m.width))
	return nil
}

func (m *Motor) Open() error {
	return m.SetAngle(angle.Open)
}

func (m *Motor) Close() error {
	return m.SetAngle(angle.Closed)
}

func (m *Motor) Width() time.Duration {
	return m.width
}

func (m *Motor) Period() time.Duration {
	return m.period
}

func (m *Motor) Label() string {
	return m.label
}
