package config

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jt05610/deoxy/pin"
	"github.com/shopspring/decimal"
)

const sample = `
pump: {pins: [24, 25, 5, 6], invert: true}
waste: 0
motors:
  - {pin: 4, period: 20ms, range: [1ms, 2ms], label: waste}
  - {pin: 27, period: 20ms, range: [1ms, 2ms], label: water}
  - {pin: 22, period: 20ms, range: [500us, 2500us]}
admins: [lab@example.com]
reservoir: {volume_ml: 250, rate_ml_per_s: 2.5}
timing: {line_clear: 5s, settle: 2s, io_timeout: 250ms}
`

func TestLoad(t *testing.T) {
	c, err := Load(strings.NewReader(sample))
	if err != nil {
		t.Fatal(err)
	}
	if !c.Pump.Invert || c.Pump.Pins != [4]int{24, 25, 5, 6} {
		t.Fatalf("unexpected pump %+v", c.Pump)
	}
	if len(c.Motors) != 3 {
		t.Fatalf("expected 3 motors, got %d", len(c.Motors))
	}
	if c.Motors[2].Range != [2]time.Duration{500 * time.Microsecond, 2500 * time.Microsecond} {
		t.Fatalf("unexpected range %v", c.Motors[2].Range)
	}
	if c.Label(1) != "water" || c.Label(2) != "motor 2" {
		t.Fatalf("unexpected labels %q %q", c.Label(1), c.Label(2))
	}
	timing := c.CoordTiming()
	if timing.Perfusion != 100*time.Second {
		t.Fatalf("expected 100s perfusion, got %s", timing.Perfusion)
	}
	if timing.LineClear != 5*time.Second || timing.Settle != 2*time.Second {
		t.Fatalf("overrides not applied: %+v", timing)
	}
	if timing.DrainMargin != 500*time.Millisecond {
		t.Fatalf("expected default drain margin, got %s", timing.DrainMargin)
	}
	if timing.IOTimeout != 250*time.Millisecond {
		t.Fatalf("expected io timeout override, got %s", timing.IOTimeout)
	}
}

func TestPerfusion(t *testing.T) {
	testCases := []struct {
		volume string
		rate   string
		want   time.Duration
	}{
		{"500", "5", 100 * time.Second},
		{"10", "3", 3333333333 * time.Nanosecond},
		{"1", "4", 250 * time.Millisecond},
	}
	for _, tc := range testCases {
		c := Default()
		c.Reservoir.Volume = decimal.RequireFromString(tc.volume)
		c.Reservoir.Rate = decimal.RequireFromString(tc.rate)
		if got := c.Perfusion(); got != tc.want {
			t.Fatalf("%s/%s: expected %s, got %s", tc.volume, tc.rate, tc.want, got)
		}
	}
}

func TestValidate(t *testing.T) {
	testCases := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"no motors", func(c *Config) { c.Motors = nil }},
		{"waste out of range", func(c *Config) { c.Waste = 5 }},
		{"shared pin", func(c *Config) { c.Motors[1].Pin = c.Pump.Pins[2] }},
		{"inverted range", func(c *Config) { c.Motors[0].Range = [2]time.Duration{2 * time.Millisecond, time.Millisecond} }},
		{"range past period", func(c *Config) { c.Motors[0].Period = time.Millisecond }},
		{"zero rate", func(c *Config) { c.Reservoir.Rate = decimal.Zero }},
	}
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config is invalid: %v", err)
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			c := Default()
			tc.mutate(c)
			if err := c.Validate(); !errors.Is(err, ErrInvalid) {
				t.Fatalf("expected invalid config, got %v", err)
			}
		})
	}
}

func TestSaveLoad(t *testing.T) {
	var buf bytes.Buffer
	if err := Default().Save(&buf); err != nil {
		t.Fatal(err)
	}
	c, err := Load(&buf)
	if err != nil {
		t.Fatalf("%v\n%s", err, buf.String())
	}
	if c.Perfusion() != 100*time.Second {
		t.Fatalf("unexpected perfusion %s", c.Perfusion())
	}
}

func TestDevices(t *testing.T) {
	c, err := Load(strings.NewReader(sample))
	if err != nil {
		t.Fatal(err)
	}
	made := make(map[int]*pin.Recorder)
	d, err := c.Devices(func(n int) pin.Out {
		r := pin.NewRecorder(n)
		made[n] = r
		return r
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(d.Motors) != 3 || d.Pump == nil {
		t.Fatalf("unexpected devices %+v", d)
	}
	if d.Motors[1].Label() != "water" {
		t.Fatalf("unexpected label %q", d.Motors[1].Label())
	}
	if len(made) != 7 {
		t.Fatalf("expected 7 pins, got %d", len(made))
	}
}
