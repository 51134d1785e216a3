package deoxy

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrInvalidProtocol = errors.New("invalid protocol")
	ErrEmpty           = fmt.Errorf("%w: protocol has no steps", ErrInvalidProtocol)
	ErrZeroDuration    = fmt.Errorf("%w: perfusion has a duration of zero", ErrInvalidProtocol)
	ErrNegative        = fmt.Errorf("%w: negative duration", ErrInvalidProtocol)
)

// LastStepError reports a protocol whose final step is not an indefinite
// perfusion.
type LastStepError struct {
	Step Step
}

func (e *LastStepError) Error() string {
	return fmt.Sprintf("%v: last step must be an indefinite perfusion, got %s", ErrInvalidProtocol, e.Step)
}

func (e *LastStepError) Is(target error) bool {
	return target == ErrInvalidProtocol
}

type StepKind int

const (
	StepPerfuse StepKind = iota
	StepPerfusePrompt
)

func (k StepKind) String() string {
	switch k {
	case StepPerfuse:
		return "Perfuse"
	case StepPerfusePrompt:
		return "PerfusePrompt"
	}
	return fmt.Sprintf("StepKind(%d)", int(k))
}

// Step is one user-facing element of a protocol.
//
// A Perfuse step with a nil Duration perfuses until the user continues. A
// PerfusePrompt step always carries a duration and both notifications.
type Step struct {
	Kind     StepKind
	Motor    MotorID
	Duration *time.Duration
	Begin    Notification
	End      Notification
}

// Perfuse returns an indefinite perfusion step.
func Perfuse(motor MotorID) Step {
	return Step{Kind: StepPerfuse, Motor: motor}
}

// PerfuseFor returns a perfusion step that drains automatically after d.
func PerfuseFor(motor MotorID, d time.Duration) Step {
	return Step{Kind: StepPerfuse, Motor: motor, Duration: &d}
}

func PerfusePrompt(motor MotorID, begin Notification, d time.Duration, end Notification) Step {
	return Step{Kind: StepPerfusePrompt, Motor: motor, Begin: begin, Duration: &d, End: end}
}

func (s Step) indefinite() bool {
	return s.Kind == StepPerfuse && s.Duration == nil
}

func (s Step) String() string {
	switch s.Kind {
	case StepPerfuse:
		if s.Duration == nil {
			return fmt.Sprintf("Perfuse(%d, indefinite)", s.Motor)
		}
		return fmt.Sprintf("Perfuse(%d, %s)", s.Motor, *s.Duration)
	case StepPerfusePrompt:
		var d time.Duration
		if s.Duration != nil {
			d = *s.Duration
		}
		return fmt.Sprintf("PerfusePrompt(%d, %q, %s, %q)", s.Motor, s.Begin.Subject, d, s.End.Subject)
	}
	return s.Kind.String()
}

// Protocol is an ordered sequence of steps authored by the user.
type Protocol struct {
	Steps []Step
}

func WithStep(step Step) Protocol {
	return Protocol{Steps: []Step{step}}
}

// Validate checks that the protocol is non-empty, has no zero-length or
// negative perfusions and ends in an indefinite bath.
func (p Protocol) Validate() error {
	if len(p.Steps) == 0 {
		return ErrEmpty
	}
	for _, step := range p.Steps {
		if step.Duration != nil && *step.Duration < 0 {
			return ErrNegative
		}
		if step.Kind == StepPerfuse && step.Duration != nil && *step.Duration == 0 {
			return ErrZeroDuration
		}
	}
	last := p.Steps[len(p.Steps)-1]
	if !last.indefinite() {
		return &LastStepError{Step: last}
	}
	return nil
}

func expand(step Step) []Action {
	switch step.Kind {
	case StepPerfuse:
		if step.Duration == nil {
			return []Action{PerfuseAction(step.Motor), Hail(), Drain()}
		}
		return []Action{PerfuseAction(step.Motor), Sleep(*step.Duration), Drain()}
	case StepPerfusePrompt:
		var d time.Duration
		if step.Duration != nil {
			d = *step.Duration
		}
		return []Action{
			PerfuseAction(step.Motor),
			Notify(step.Begin),
			Hail(),
			Sleep(d),
			Notify(step.End),
			Hail(),
			Drain(),
		}
	}
	panic(fmt.Sprintf("deoxy: unknown step kind %d", step.Kind))
}

// Program validates the protocol and compiles it into actions.
//
// The trailing Hail and Drain of the final indefinite perfusion are replaced
// with a single Finish, so the last bath is held rather than drained.
func (p Protocol) Program() (Program, error) {
	if err := p.Validate(); err != nil {
		return Program{}, err
	}
	actions := make([]Action, 0, 3*len(p.Steps))
	for _, step := range p.Steps {
		actions = append(actions, expand(step)...)
	}
	actions = append(actions[:len(actions)-2], Finish())
	if len(actions) < 2 || actions[0].Kind != ActionPerfuse {
		panic("deoxy: invalid program compiled; no initial perfusion")
	}
	return Program{actions: actions}, nil
}
