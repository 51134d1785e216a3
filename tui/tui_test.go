package tui_test

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jt05610/deoxy"
	"github.com/jt05610/deoxy/coord"
	"github.com/jt05610/deoxy/tui"
)

type fakeCtl struct {
	job *coord.Job
	err error
}

func (f *fakeCtl) Send(context.Context, coord.Message) error { return nil }

func (f *fakeCtl) Job(context.Context) (*coord.Job, error) { return f.job, f.err }

func TestPrinter_Line(t *testing.T) {
	current := deoxy.PerfuseAction(1)
	j := &coord.Job{
		State:     coord.State{Phase: coord.Running},
		Completed: []deoxy.Action{current},
		Current:   &current,
		Remaining: []deoxy.Action{deoxy.Hail(), deoxy.Finish()},
	}
	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	tests := []struct {
		name string
		ev   coord.Event
		job  *coord.Job
		want []string
	}{
		{"started", coord.Event{Kind: coord.Started, At: at}, j, []string{"03:04:05", "started", "running", "1/3", "perfuse(1)"}},
		{"paused", coord.Event{Kind: coord.Paused, At: at}, j, []string{"paused", "waiting for continue"}},
		{"halt error", coord.Event{Kind: coord.Halted, Err: "pump: stuck", At: at}, nil, []string{"halted", "pump: stuck"}},
		{"unsafe", coord.Event{Kind: coord.Unsafe, At: at}, nil, []string{"unsafe", "safe state"}},
	}
	p := tui.New(&bytes.Buffer{})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			line := p.Line(tt.ev, tt.job)
			for _, want := range tt.want {
				if !strings.Contains(line, want) {
					t.Errorf("line %q missing %q", line, want)
				}
			}
		})
	}
}

func TestPrinter_Handle(t *testing.T) {
	var buf bytes.Buffer
	p := tui.New(&buf)
	p.Handle(coord.Event{Kind: coord.Finished, At: time.Now()}, &fakeCtl{err: errors.New("closed")})
	p.Handle(coord.Event{Kind: coord.Started, At: time.Now()}, &fakeCtl{job: &coord.Job{State: coord.State{Phase: coord.Stopped}}})
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d: %q", len(lines), buf.String())
	}
	if !strings.Contains(lines[0], "finished") || !strings.Contains(lines[1], "stopped") {
		t.Errorf("unexpected output %q", buf.String())
	}
}
