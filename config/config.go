// Package config loads the apparatus description from YAML.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/jt05610/deoxy"
	"github.com/jt05610/deoxy/coord"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

const DefaultPath = "deoxy.yaml"

var ErrInvalid = errors.New("invalid config")

type PumpConfig struct {
	Pins   [4]int `yaml:"pins"`
	Invert bool   `yaml:"invert"`
}

type MotorConfig struct {
	Pin    int              `yaml:"pin"`
	Period time.Duration    `yaml:"period"`
	Range  [2]time.Duration `yaml:"range"`
	Label  string           `yaml:"label,omitempty"`
}

// Reservoir describes one buffer bottle and the pump's flow rate.
type Reservoir struct {
	Volume decimal.Decimal `yaml:"volume_ml"`
	Rate   decimal.Decimal `yaml:"rate_ml_per_s"`
}

// Timing overrides the fixed apparatus delays. Zero keeps the default.
type Timing struct {
	LineClear    time.Duration `yaml:"line_clear,omitempty"`
	DrainMargin  time.Duration `yaml:"drain_margin,omitempty"`
	Settle       time.Duration `yaml:"settle,omitempty"`
	RetryBackoff time.Duration `yaml:"retry_backoff,omitempty"`
	IOTimeout    time.Duration `yaml:"io_timeout,omitempty"`
}

type MailConfig struct {
	Sendmail string `yaml:"sendmail,omitempty"`
	From     string `yaml:"from,omitempty"`
}

type Config struct {
	Pump      PumpConfig    `yaml:"pump"`
	Waste     int           `yaml:"waste"`
	Motors    []MotorConfig `yaml:"motors"`
	Admins    []string      `yaml:"admins"`
	Reservoir Reservoir     `yaml:"reservoir"`
	Timing    Timing        `yaml:"timing,omitempty"`
	Mail      MailConfig    `yaml:"mail,omitempty"`
}

// Default is a two valve apparatus: waste on pin 4 and one buffer on pin 27.
func Default() *Config {
	return &Config{
		Pump:  PumpConfig{Pins: [4]int{24, 25, 5, 6}},
		Waste: 0,
		Motors: []MotorConfig{
			{Pin: 4, Period: 20 * time.Millisecond, Range: [2]time.Duration{time.Millisecond, 2 * time.Millisecond}, Label: "waste"},
			{Pin: 27, Period: 20 * time.Millisecond, Range: [2]time.Duration{time.Millisecond, 2 * time.Millisecond}, Label: "buffer"},
		},
		Reservoir: Reservoir{
			Volume: decimal.NewFromInt(500),
			Rate:   decimal.NewFromInt(5),
		},
	}
}

func Load(r io.Reader) (*Config, error) {
	var c Config
	if err := yaml.NewDecoder(r).Decode(&c); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func LoadFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = f.Close()
	}()
	return Load(f)
}

func (c *Config) Save(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return err
	}
	return enc.Close()
}

func (c *Config) Validate() error {
	if len(c.Motors) == 0 {
		return fmt.Errorf("%w: no motors", ErrInvalid)
	}
	if c.Waste < 0 || c.Waste >= len(c.Motors) {
		return fmt.Errorf("%w: waste valve %d out of range", ErrInvalid, c.Waste)
	}
	seen := make(map[int]string)
	claim := func(pin int, who string) error {
		if prev, ok := seen[pin]; ok {
			return fmt.Errorf("%w: pin %d used by %s and %s", ErrInvalid, pin, prev, who)
		}
		seen[pin] = who
		return nil
	}
	for i, p := range c.Pump.Pins {
		if err := claim(p, fmt.Sprintf("pump pin %d", i)); err != nil {
			return err
		}
	}
	for i, m := range c.Motors {
		if err := claim(m.Pin, fmt.Sprintf("motor %d", i)); err != nil {
			return err
		}
		if m.Range[0] < 0 || m.Range[0] >= m.Range[1] || m.Range[1] > m.Period {
			return fmt.Errorf("%w: motor %d range %s..%s does not fit period %s",
				ErrInvalid, i, m.Range[0], m.Range[1], m.Period)
		}
	}
	if !c.Reservoir.Volume.IsPositive() || !c.Reservoir.Rate.IsPositive() {
		return fmt.Errorf("%w: reservoir volume and rate must be positive", ErrInvalid)
	}
	return nil
}

// Perfusion is the time to pump one reservoir volume at the configured rate.
func (c *Config) Perfusion() time.Duration {
	secs := c.Reservoir.Volume.Div(c.Reservoir.Rate)
	return time.Duration(secs.Mul(decimal.NewFromInt(int64(time.Second))).IntPart())
}

func (c *Config) CoordTiming() coord.Timing {
	t := coord.DefaultTiming()
	t.Perfusion = c.Perfusion()
	if c.Timing.LineClear > 0 {
		t.LineClear = c.Timing.LineClear
	}
	if c.Timing.DrainMargin > 0 {
		t.DrainMargin = c.Timing.DrainMargin
	}
	if c.Timing.Settle > 0 {
		t.Settle = c.Timing.Settle
	}
	if c.Timing.RetryBackoff > 0 {
		t.RetryBackoff = c.Timing.RetryBackoff
	}
	if c.Timing.IOTimeout > 0 {
		t.IOTimeout = c.Timing.IOTimeout
	}
	return t
}

func (c *Config) WasteID() deoxy.MotorID {
	return deoxy.MotorID(c.Waste)
}

// Label returns the configured label of motor id, or its number.
func (c *Config) Label(id deoxy.MotorID) string {
	if int(id) >= 0 && int(id) < len(c.Motors) && c.Motors[id].Label != "" {
		return c.Motors[id].Label
	}
	return id.String()
}
