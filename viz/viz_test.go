package viz_test

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/jt05610/deoxy"
	"github.com/jt05610/deoxy/coord"
	"github.com/jt05610/deoxy/viz"
)

func program(t *testing.T) deoxy.Program {
	t.Helper()
	p := deoxy.Protocol{Steps: []deoxy.Step{
		deoxy.PerfuseFor(1, time.Hour),
		deoxy.Perfuse(2),
	}}
	prog, err := p.Program()
	if err != nil {
		t.Fatal(err)
	}
	return prog
}

func TestWriter_Flush(t *testing.T) {
	w := viz.New(&viz.Config{
		Labels: map[int]string{1: "SDS"},
	})
	var buf bytes.Buffer
	if err := w.Flush(&buf, program(t)); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"digraph", "SDS", "sleep", "drain", "finish", "rankdir=LR"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestWriter_FlushJob(t *testing.T) {
	actions := program(t).Actions()
	current := actions[1]
	j := &coord.Job{
		State:     coord.State{Phase: coord.Running},
		Completed: actions[:2],
		Current:   &current,
		Remaining: actions[2:],
		Labels:    map[int]string{2: "DNase"},
	}
	var buf bytes.Buffer
	if err := viz.New(&viz.Config{}).FlushJob(&buf, j); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"filled", "bold", "DNase"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}
