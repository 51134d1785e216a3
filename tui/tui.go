// Package tui prints coordinator status lines to a terminal.
package tui

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/jt05610/deoxy/coord"
)

const jobTimeout = time.Second

type styles struct {
	time    lipgloss.Style
	badge   map[coord.EventKind]lipgloss.Style
	state   lipgloss.Style
	current lipgloss.Style
	help    lipgloss.Style
	alert   lipgloss.Style
}

func newStyles(r *lipgloss.Renderer) styles {
	badge := func(color string) lipgloss.Style {
		return r.NewStyle().
			Bold(true).
			Width(12).
			Foreground(lipgloss.Color(color))
	}
	return styles{
		time: r.NewStyle().Foreground(lipgloss.Color("241")),
		badge: map[coord.EventKind]lipgloss.Style{
			coord.Started:    badge("69"),
			coord.Continued:  badge("69"),
			coord.Paused:     badge("214"),
			coord.StopQueued: badge("214"),
			coord.Finished:   badge("42"),
			coord.Halted:     badge("196"),
			coord.Unsafe:     badge("196"),
		},
		state:   r.NewStyle().Width(18),
		current: r.NewStyle().Italic(true),
		help:    r.NewStyle().Foreground(lipgloss.Color("241")),
		alert:   r.NewStyle().Bold(true).Foreground(lipgloss.Color("196")),
	}
}

// Printer is a coordinator subscriber that writes one styled line per event.
type Printer struct {
	mu     sync.Mutex
	out    io.Writer
	styles styles
}

func New(out io.Writer) *Printer {
	return &Printer{
		out:    out,
		styles: newStyles(lipgloss.NewRenderer(out)),
	}
}

func (p *Printer) Handle(ev coord.Event, ctl coord.Controller) {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()
	j, err := ctl.Job(ctx)
	if err != nil {
		j = nil
	}
	line := p.Line(ev, j)
	p.mu.Lock()
	defer p.mu.Unlock()
	_, _ = fmt.Fprintln(p.out, line)
}

// Line renders ev with the job snapshot taken after it; j may be nil.
func (p *Printer) Line(ev coord.Event, j *coord.Job) string {
	s := p.styles
	parts := []string{
		s.time.Render(ev.At.Format(time.TimeOnly)),
		s.badge[ev.Kind].Render(ev.Kind.String()),
	}
	if j != nil {
		parts = append(parts, s.state.Render(j.State.String()))
		total := len(j.Completed) + len(j.Remaining)
		parts = append(parts, fmt.Sprintf("%d/%d", len(j.Completed), total))
		if j.Current != nil {
			parts = append(parts, s.current.Render(j.Current.String()))
		}
	}
	switch {
	case ev.Kind == coord.Unsafe:
		parts = append(parts, s.alert.Render("could not reach a safe state; check the apparatus"))
	case ev.Err != "":
		parts = append(parts, s.alert.Render(ev.Err))
	case ev.Kind == coord.Paused:
		parts = append(parts, s.help.Render("waiting for continue"))
	}
	return strings.Join(parts, " ")
}
