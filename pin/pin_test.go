package pin

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"
)

type scripted struct {
	out bytes.Buffer
	in  *strings.Reader
}

func (s *scripted) Read(p []byte) (int, error)  { return s.in.Read(p) }
func (s *scripted) Write(p []byte) (int, error) { return s.out.Write(p) }

func TestBridge(t *testing.T) {
	testCases := []struct {
		name    string
		replies string
		call    func(p *BridgePin) error
		sent    string
		wantErr bool
	}{
		{"high", "ok\n", (*BridgePin).SetHigh, "H 4\n", false},
		{"low", "ok\r\n", (*BridgePin).SetLow, "L 4\n", false},
		{"pwm", "ok\n", func(p *BridgePin) error {
			return p.SetPwm(20*time.Millisecond, 1500*time.Microsecond)
		}, "P 4 20000 1500\n", false},
		{"err reply", "err no such pin\n", (*BridgePin).SetHigh, "H 4\n", true},
		{"garbage", "what\n", (*BridgePin).SetHigh, "H 4\n", true},
		{"no reply", "", (*BridgePin).SetHigh, "H 4\n", true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			rw := &scripted{in: strings.NewReader(tc.replies)}
			b := NewBridge(rw, nil)
			err := tc.call(b.Out(4))
			if tc.wantErr {
				if !errors.Is(err, ErrHardware) {
					t.Fatalf("expected hardware error, got %v", err)
				}
			} else if err != nil {
				t.Fatal(err)
			}
			if rw.out.String() != tc.sent {
				t.Fatalf("sent %q, expected %q", rw.out.String(), tc.sent)
			}
		})
	}
}

func TestRecorder(t *testing.T) {
	r := NewRecorder(1)
	if err := r.SetHigh(); err != nil {
		t.Fatal(err)
	}
	if !r.High() {
		t.Fatal("expected high")
	}
	r.FailNext(2)
	if err := r.SetLow(); !errors.Is(err, ErrHardware) {
		t.Fatalf("expected failure, got %v", err)
	}
	if err := r.SetLow(); !errors.Is(err, ErrHardware) {
		t.Fatalf("expected failure, got %v", err)
	}
	if !r.High() {
		t.Fatal("failed call must not change the level")
	}
	if err := r.SetLow(); err != nil {
		t.Fatal(err)
	}
	if r.High() {
		t.Fatal("expected low")
	}
	if r.Failures() != 2 {
		t.Fatalf("expected 2 failures, got %d", r.Failures())
	}
	calls := r.Calls()
	if len(calls) != 2 || calls[0].Op != OpHigh || calls[1].Op != OpLow {
		t.Fatalf("unexpected calls %v", calls)
	}
	r.FailAll(true)
	for i := 0; i < 3; i++ {
		if err := r.SetHigh(); err == nil {
			t.Fatal("expected failure")
		}
	}
	r.FailAll(false)
	if err := r.SetHigh(); err != nil {
		t.Fatal(err)
	}
}

func TestPwmRecorder(t *testing.T) {
	r := NewPwmRecorder(2)
	var _ Out = r
	var _ Pwm = r
	if err := r.SetPwm(20*time.Millisecond, time.Millisecond); err != nil {
		t.Fatal(err)
	}
	c, ok := r.Last()
	if !ok || c.Op != OpPwm || c.Width != time.Millisecond {
		t.Fatalf("unexpected last call %+v", c)
	}
}
