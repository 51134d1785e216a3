package coord

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jt05610/deoxy"
	"github.com/jt05610/deoxy/mail"
	"github.com/jt05610/deoxy/motor"
	"github.com/jt05610/deoxy/pin"
	"github.com/jt05610/deoxy/pump"
	"github.com/stretchr/testify/require"
)

const (
	closedWidth = time.Millisecond
	openWidth   = 2 * time.Millisecond
	wait        = 2 * time.Second
	poll        = time.Millisecond
)

func quickTiming() Timing {
	return Timing{
		Perfusion:    30 * time.Millisecond,
		LineClear:    10 * time.Millisecond,
		DrainMargin:  5 * time.Millisecond,
		Settle:       5 * time.Millisecond,
		RetryBackoff: 5 * time.Millisecond,
	}
}

type notes struct {
	mu       sync.Mutex
	statuses []mail.Status
}

func (n *notes) Notify(_ context.Context, _ []string, status mail.Status) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.statuses = append(n.statuses, status)
	return nil
}

func (n *notes) Mail(ctx context.Context, to []string, subject, body string) error {
	return n.Notify(ctx, to, mail.CustomStatus(subject, body))
}

func (n *notes) subjects() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	var ret []string
	for _, s := range n.statuses {
		subject, _ := s.Content()
		ret = append(ret, subject)
	}
	return ret
}

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) Handle(ev Event, _ Controller) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) all() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Event{}, l.events...)
}

func (l *eventLog) count(kind EventKind) int {
	n := 0
	for _, ev := range l.all() {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

type counters struct {
	mu     sync.Mutex
	faults []string
	halts  int
	failed int
	kinds  map[string]int
}

func (c *counters) Dispatched(kind string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.kinds == nil {
		c.kinds = make(map[string]int)
	}
	c.kinds[kind]++
}

func (c *counters) Halted() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.halts++
}

func (c *counters) Failed() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failed++
}

func (c *counters) MotorFault(m string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.faults = append(c.faults, m)
}

func (c *counters) SetPhase(string) {}
func (c *counters) Reject(string)   {}

type rig struct {
	t       *testing.T
	c       *Coordinator
	pump    [4]*pin.Recorder
	valves  []*pin.PwmRecorder
	notes   *notes
	events  *eventLog
	metrics *counters
	cancel  context.CancelFunc
}

func newRig(t *testing.T, valves int, timing Timing) *rig {
	t.Helper()
	return newRigPins(t, valves, timing, nil)
}

// newRigPins lets a test put its own pin in front of each pump recorder.
func newRigPins(t *testing.T, valves int, timing Timing, wrap func(i int, rec *pin.Recorder) pin.Out) *rig {
	t.Helper()
	r := &rig{
		t:       t,
		notes:   &notes{},
		events:  &eventLog{},
		metrics: &counters{},
	}
	var outs [4]pin.Out
	for i := range r.pump {
		r.pump[i] = pin.NewRecorder(i)
		outs[i] = r.pump[i]
		if wrap != nil {
			outs[i] = wrap(i, r.pump[i])
		}
	}
	var motors []*motor.Motor
	for i := 0; i < valves; i++ {
		rec := pin.NewPwmRecorder(10 + i)
		r.valves = append(r.valves, rec)
		m, err := motor.New(rec, 4*time.Millisecond, closedWidth, 3*time.Millisecond)
		require.NoError(t, err)
		motors = append(motors, m)
	}
	r.c = New(Devices{
		Pump:   pump.New(outs, pump.WithSettle(time.Millisecond)),
		Motors: motors,
	},
		WithTiming(timing),
		WithNotifier(r.notes, []string{"lab@example.com"}),
		WithMetrics(r.metrics),
	)
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	go func() {
		_ = r.c.Run(ctx)
	}()
	<-r.c.Started()
	require.NoError(t, r.send(Subscribe{Subscriber: r.events}))
	t.Cleanup(func() {
		cancel()
		<-r.c.Done()
	})
	return r
}

func (r *rig) send(msg Message) error {
	ctx, cancel := context.WithTimeout(context.Background(), wait)
	defer cancel()
	return r.c.Send(ctx, msg)
}

func (r *rig) job() *Job {
	ctx, cancel := context.WithTimeout(context.Background(), wait)
	defer cancel()
	j, err := r.c.Job(ctx)
	require.NoError(r.t, err)
	return j
}

func (r *rig) waitState(s State) {
	r.t.Helper()
	require.Eventually(r.t, func() bool {
		return r.job().State == s
	}, wait, poll, "never reached %s", s)
}

func (r *rig) waitCurrent(a deoxy.Action) {
	r.t.Helper()
	require.Eventually(r.t, func() bool {
		cur := r.job().Current
		return cur != nil && *cur == a
	}, wait, poll, "never dispatched %s", a)
}

func (r *rig) waitEvent(kind EventKind, n int) {
	r.t.Helper()
	require.Eventually(r.t, func() bool {
		return r.events.count(kind) >= n
	}, wait, poll, "never saw %d %s events", n, kind)
}

func (r *rig) pumpOff() bool {
	for _, p := range r.pump {
		if p.High() {
			return false
		}
	}
	return true
}

func (r *rig) pumpForward() bool {
	return r.pump[0].High() && r.pump[3].High() && !r.pump[1].High() && !r.pump[2].High()
}

func (r *rig) width(i int) time.Duration {
	c, ok := r.valves[i].Last()
	if !ok {
		return 0
	}
	return c.Width
}

func (r *rig) waitValvesClosed() {
	r.t.Helper()
	require.Eventually(r.t, func() bool {
		for i := range r.valves {
			if r.width(i) != closedWidth {
				return false
			}
		}
		return true
	}, wait, poll, "valves not closed")
}
