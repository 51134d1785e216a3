package deoxy

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"
)

func seconds(d time.Duration) float64 {
	return d.Seconds()
}

func fromSeconds(s float64) (time.Duration, error) {
	if s < 0 || math.IsNaN(s) || math.IsInf(s, 0) {
		return 0, fmt.Errorf("invalid duration %v", s)
	}
	ns := s * float64(time.Second)
	if ns >= math.MaxInt64 {
		return 0, fmt.Errorf("duration %vs out of range", s)
	}
	return time.Duration(ns), nil
}

type perfuseJSON struct {
	Motor           MotorID  `json:"motor"`
	DurationSeconds *float64 `json:"duration_seconds,omitempty"`
}

type perfusePromptJSON struct {
	Motor           MotorID      `json:"motor"`
	Begin           Notification `json:"begin"`
	DurationSeconds float64      `json:"duration_seconds"`
	End             Notification `json:"end"`
}

type stepJSON struct {
	Perfuse       *perfuseJSON       `json:"Perfuse,omitempty"`
	PerfusePrompt *perfusePromptJSON `json:"PerfusePrompt,omitempty"`
}

func (s Step) MarshalJSON() ([]byte, error) {
	var out stepJSON
	switch s.Kind {
	case StepPerfuse:
		out.Perfuse = &perfuseJSON{Motor: s.Motor}
		if s.Duration != nil {
			secs := seconds(*s.Duration)
			out.Perfuse.DurationSeconds = &secs
		}
	case StepPerfusePrompt:
		var d time.Duration
		if s.Duration != nil {
			d = *s.Duration
		}
		out.PerfusePrompt = &perfusePromptJSON{
			Motor:           s.Motor,
			Begin:           s.Begin,
			DurationSeconds: seconds(d),
			End:             s.End,
		}
	default:
		return nil, fmt.Errorf("unknown step kind %d", s.Kind)
	}
	return json.Marshal(out)
}

func (s *Step) UnmarshalJSON(b []byte) error {
	var in stepJSON
	if err := json.Unmarshal(b, &in); err != nil {
		return err
	}
	switch {
	case in.Perfuse != nil && in.PerfusePrompt != nil:
		return errors.New("step must be exactly one of Perfuse or PerfusePrompt")
	case in.Perfuse != nil:
		*s = Perfuse(in.Perfuse.Motor)
		if in.Perfuse.DurationSeconds != nil {
			d, err := fromSeconds(*in.Perfuse.DurationSeconds)
			if err != nil {
				return err
			}
			s.Duration = &d
		}
	case in.PerfusePrompt != nil:
		d, err := fromSeconds(in.PerfusePrompt.DurationSeconds)
		if err != nil {
			return err
		}
		*s = PerfusePrompt(in.PerfusePrompt.Motor, in.PerfusePrompt.Begin, d, in.PerfusePrompt.End)
	default:
		return errors.New("step must be one of Perfuse or PerfusePrompt")
	}
	return nil
}

// A protocol travels as a bare array of steps.

func (p Protocol) MarshalJSON() ([]byte, error) {
	steps := p.Steps
	if steps == nil {
		steps = []Step{}
	}
	return json.Marshal(steps)
}

func (p *Protocol) UnmarshalJSON(b []byte) error {
	return json.Unmarshal(b, &p.Steps)
}

type actionJSON struct {
	Kind            string        `json:"kind"`
	Motor           *MotorID      `json:"motor,omitempty"`
	DurationSeconds *float64      `json:"duration_seconds,omitempty"`
	Notification    *Notification `json:"notification,omitempty"`
}

func (a Action) MarshalJSON() ([]byte, error) {
	out := actionJSON{Kind: a.Kind.String()}
	switch a.Kind {
	case ActionPerfuse:
		m := a.Motor
		out.Motor = &m
	case ActionSleep:
		secs := seconds(a.Duration)
		out.DurationSeconds = &secs
	case ActionNotify:
		n := a.Notification
		out.Notification = &n
	}
	return json.Marshal(out)
}

func (a *Action) UnmarshalJSON(b []byte) error {
	var in actionJSON
	if err := json.Unmarshal(b, &in); err != nil {
		return err
	}
	kind, err := parseActionKind(in.Kind)
	if err != nil {
		return err
	}
	*a = Action{Kind: kind}
	switch kind {
	case ActionPerfuse:
		if in.Motor == nil {
			return errors.New("perfuse action without motor")
		}
		a.Motor = *in.Motor
	case ActionSleep:
		if in.DurationSeconds == nil {
			return errors.New("sleep action without duration")
		}
		a.Duration, err = fromSeconds(*in.DurationSeconds)
		if err != nil {
			return err
		}
	case ActionNotify:
		if in.Notification == nil {
			return errors.New("notify action without notification")
		}
		a.Notification = *in.Notification
	}
	return nil
}

func (p Program) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.Actions())
}
