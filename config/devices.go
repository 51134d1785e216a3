package config

import (
	"github.com/jt05610/deoxy/coord"
	"github.com/jt05610/deoxy/motor"
	"github.com/jt05610/deoxy/pin"
	"github.com/jt05610/deoxy/pump"
	"go.uber.org/zap"
)

// PinFactory returns the output for a GPIO number.
type PinFactory func(number int) pin.Out

// Devices builds the pump and motors described by c.
func (c *Config) Devices(factory PinFactory, logger *zap.Logger) (coord.Devices, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var pins [4]pin.Out
	for i, n := range c.Pump.Pins {
		pins[i] = factory(n)
	}
	d := coord.Devices{
		Pump: pump.New(pins,
			pump.WithInvert(c.Pump.Invert),
			pump.WithLogger(logger.Named("pump")),
		),
	}
	for _, mc := range c.Motors {
		m, err := motor.New(factory(mc.Pin), mc.Period, mc.Range[0], mc.Range[1],
			motor.WithLabel(mc.Label),
			motor.WithLogger(logger.Named("motor")),
		)
		if err != nil {
			return coord.Devices{}, err
		}
		d.Motors = append(d.Motors, m)
	}
	return d, nil
}
