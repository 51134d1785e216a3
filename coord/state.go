package coord

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jt05610/deoxy"
)

var (
	ErrProtocolConversion = errors.New("protocol conversion failed")
	ErrBusy               = errors.New("coordinator is busy")
	ErrUnknownMotor       = errors.New("unknown motor")
	ErrUnsafe             = errors.New("hardware not confirmed safe; halt first")
	ErrClosed             = errors.New("coordinator closed")
)

// ConversionError wraps the validation error of a rejected protocol.
type ConversionError struct {
	Err error
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("%v: %v", ErrProtocolConversion, e.Err)
}

func (e *ConversionError) Unwrap() error {
	return e.Err
}

func (e *ConversionError) Is(target error) bool {
	return target == ErrProtocolConversion
}

type Phase string

const (
	Stopped Phase = "stopped"
	Running Phase = "running"
	Waiting Phase = "waiting"
)

// State is the coordinator's run status. Early is only meaningful when
// stopped and reports that the last run was aborted.
type State struct {
	Phase Phase `json:"phase"`
	Early bool  `json:"early,omitempty"`
}

func (s State) String() string {
	if s.Phase == Stopped && s.Early {
		return "stopped (early)"
	}
	return string(s.Phase)
}

// Timing holds the fixed physical delays of the apparatus.
type Timing struct {
	// Perfusion is the time to push one reservoir volume through the line.
	Perfusion time.Duration
	// LineClear is how long the pump keeps running into waste after a
	// perfusion.
	LineClear    time.Duration
	DrainMargin  time.Duration
	Settle       time.Duration
	RetryBackoff time.Duration
	// IOTimeout bounds each pump command. The coordinator loop waits for the
	// reply, so it is also how long a wedged pump can delay a Halt.
	IOTimeout time.Duration
}

const (
	HaltRetries      = 5
	DefaultIOTimeout = time.Second
	mailTimeout      = 30 * time.Second
)

func DefaultTiming() Timing {
	return Timing{
		Perfusion:    100 * time.Second,
		LineClear:    10 * time.Second,
		DrainMargin:  500 * time.Millisecond,
		Settle:       time.Second,
		RetryBackoff: 200 * time.Millisecond,
		IOTimeout:    DefaultIOTimeout,
	}
}

// runState is owned by the coordinator loop.
type runState struct {
	protocol  deoxy.Protocol
	program   *deoxy.Program
	partial   bool
	remaining []deoxy.Action
	current   *deoxy.Action
	buffer    *deoxy.MotorID
	status    State
	completed []deoxy.Action
	uuid      uuid.UUID
}

// Job is a snapshot of the current or most recent run. ID is uuid.Nil until
// the first job starts.
type Job struct {
	ID        uuid.UUID      `json:"id"`
	State     State          `json:"state"`
	Protocol  deoxy.Protocol `json:"protocol"`
	Program   []deoxy.Action `json:"program"`
	Partial   bool           `json:"partial"`
	Remaining []deoxy.Action `json:"remaining"`
	Current   *deoxy.Action  `json:"current,omitempty"`
	Buffer    *deoxy.MotorID `json:"buffer,omitempty"`
	Completed []deoxy.Action `json:"completed"`
	Labels    map[int]string `json:"labels,omitempty"`
}

func (s *runState) snapshot() *Job {
	j := &Job{
		ID:        s.uuid,
		State:     s.status,
		Protocol:  s.protocol,
		Partial:   s.partial,
		Remaining: append([]deoxy.Action{}, s.remaining...),
		Completed: append([]deoxy.Action{}, s.completed...),
	}
	if s.program != nil {
		j.Program = s.program.Actions()
	}
	if s.current != nil {
		cur := *s.current
		j.Current = &cur
	}
	if s.buffer != nil {
		b := *s.buffer
		j.Buffer = &b
	}
	return j
}
