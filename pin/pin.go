// Package pin defines the output primitives the actuators are driven through.
package pin

import (
	"errors"
	"time"
)

var ErrHardware = errors.New("pin: hardware error")

// Out is a boolean output.
type Out interface {
	SetHigh() error
	SetLow() error
}

// Pwm is an output with hardware pulse-width modulation.
type Pwm interface {
	SetPwm(period, width time.Duration) error
}
