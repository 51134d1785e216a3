package pin

import (
	"fmt"
	"sync"
	"time"
)

type Op int

const (
	OpHigh Op = iota
	OpLow
	OpPwm
)

func (o Op) String() string {
	switch o {
	case OpHigh:
		return "high"
	case OpLow:
		return "low"
	case OpPwm:
		return "pwm"
	}
	return fmt.Sprintf("Op(%d)", int(o))
}

type Call struct {
	Op     Op
	Period time.Duration
	Width  time.Duration
}

// Recorder is an in-memory Out that remembers every successful call and can
// be told to fail. It backs the dry-run mode and the tests.
type Recorder struct {
	Number   int
	mu       sync.Mutex
	high     bool
	calls    []Call
	failNext int
	failAll  bool
	failures int
}

func NewRecorder(number int) *Recorder {
	return &Recorder{Number: number}
}

func (r *Recorder) fail() error {
	if r.failAll || r.failNext > 0 {
		if r.failNext > 0 {
			r.failNext--
		}
		r.failures++
		return fmt.Errorf("%w: pin %d", ErrHardware, r.Number)
	}
	return nil
}

func (r *Recorder) record(c Call) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fail(); err != nil {
		return err
	}
	switch c.Op {
	case OpHigh:
		r.high = true
	case OpLow:
		r.high = false
	}
	r.calls = append(r.calls, c)
	return nil
}

func (r *Recorder) SetHigh() error {
	return r.record(Call{Op: OpHigh})
}

func (r *Recorder) SetLow() error {
	return r.record(Call{Op: OpLow})
}

// High reports the level after the last successful call.
func (r *Recorder) High() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.high
}

func (r *Recorder) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	ret := make([]Call, len(r.calls))
	copy(ret, r.calls)
	return ret
}

func (r *Recorder) Last() (Call, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.calls) == 0 {
		return Call{}, false
	}
	return r.calls[len(r.calls)-1], true
}

// FailNext makes the next n calls fail.
func (r *Recorder) FailNext(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failNext = n
}

func (r *Recorder) FailAll(fail bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failAll = fail
}

func (r *Recorder) Failures() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.failures
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = nil
}

// PwmRecorder additionally records hardware PWM settings.
type PwmRecorder struct {
	*Recorder
}

func NewPwmRecorder(number int) *PwmRecorder {
	return &PwmRecorder{Recorder: NewRecorder(number)}
}

func (r *PwmRecorder) SetPwm(period, width time.Duration) error {
	return r.record(Call{Op: OpPwm, Period: period, Width: width})
}
