// Package viz draws compiled programs and job progress with graphviz.
package viz

import (
	"fmt"
	"io"

	"github.com/goccy/go-graphviz"
	"github.com/goccy/go-graphviz/cgraph"
	"github.com/jt05610/deoxy"
	"github.com/jt05610/deoxy/coord"
)

type Font string

func (f Font) Or(other Font) Font {
	return f + "," + other
}

const (
	Helvetica Font = "Helvetica"
	Arial     Font = "Arial"
	SansSerif Font = "sans-serif"
	Times     Font = "Times"
)

type RankDir string

const (
	LeftToRight RankDir = "LR"
	TopToBottom RankDir = "TB"
)

type Config struct {
	Font
	RankDir
	Format graphviz.Format
	// Labels names perfusion targets; missing entries fall back to the motor id.
	Labels map[int]string
}

type Writer struct {
	*Config
	g *cgraph.Graph
}

func New(config *Config) *Writer {
	if config.Font == "" {
		config.Font = Helvetica
	}
	if config.RankDir == "" {
		config.RankDir = LeftToRight
	}
	if config.Format == "" {
		config.Format = graphviz.XDOT
	}
	return &Writer{Config: config}
}

type mark int

const (
	pending mark = iota
	done
	active
)

func (w *Writer) label(a deoxy.Action) string {
	switch a.Kind {
	case deoxy.ActionPerfuse:
		if name, ok := w.Labels[int(a.Motor)]; ok && name != "" {
			return "perfuse\n" + name
		}
	case deoxy.ActionSleep:
		return "sleep\n" + a.Duration.String()
	case deoxy.ActionNotify:
		return "notify\n" + a.Notification.Subject
	}
	return a.String()
}

func shape(k deoxy.ActionKind) cgraph.Shape {
	switch k {
	case deoxy.ActionPerfuse, deoxy.ActionDrain:
		return cgraph.BoxShape
	case deoxy.ActionHail:
		return cgraph.DiamondShape
	case deoxy.ActionFinish:
		return cgraph.DoubleCircleShape
	}
	return cgraph.EllipseShape
}

func (w *Writer) writeAction(i int, a deoxy.Action, m mark) (*cgraph.Node, error) {
	node, err := w.g.CreateNode(fmt.Sprintf("a%d", i))
	if err != nil {
		return nil, err
	}
	node.SetShape(shape(a.Kind))
	node.SetLabel(w.label(a))
	node.Set("fontname", string(w.Font))
	switch m {
	case done:
		node.SetStyle(cgraph.FilledNodeStyle)
		node.SetFillColor("lightgray")
	case active:
		node.SetStyle(cgraph.BoldNodeStyle)
		node.SetColor("blue")
	}
	return node, nil
}

func (w *Writer) flush(out io.Writer, actions []deoxy.Action, marks []mark) error {
	graph := graphviz.New()
	defer func() {
		_ = graph.Close()
	}()
	g, err := graph.Graph()
	if err != nil {
		return err
	}
	defer func() {
		_ = g.Close()
	}()
	g.SetRankDir(cgraph.RankDir(w.RankDir))
	w.g = g
	var prev *cgraph.Node
	for i, a := range actions {
		node, err := w.writeAction(i, a, marks[i])
		if err != nil {
			return err
		}
		if prev != nil {
			if _, err := g.CreateEdge(fmt.Sprintf("e%d", i), prev, node); err != nil {
				return err
			}
		}
		prev = node
	}
	return graph.Render(g, w.Format, out)
}

// Flush writes the program as a chain of action nodes.
func (w *Writer) Flush(out io.Writer, p deoxy.Program) error {
	actions := p.Actions()
	return w.flush(out, actions, make([]mark, len(actions)))
}

// FlushJob writes the job's completed and remaining actions, shading the
// completed ones and outlining the one in flight.
func (w *Writer) FlushJob(out io.Writer, j *coord.Job) error {
	if w.Labels == nil {
		w.Labels = j.Labels
	}
	actions := make([]deoxy.Action, 0, len(j.Completed)+len(j.Remaining))
	marks := make([]mark, 0, cap(actions))
	for i, a := range j.Completed {
		actions = append(actions, a)
		if j.Current != nil && i == len(j.Completed)-1 {
			marks = append(marks, active)
			continue
		}
		marks = append(marks, done)
	}
	for _, a := range j.Remaining {
		actions = append(actions, a)
		marks = append(marks, pending)
	}
	return w.flush(out, actions, marks)
}
