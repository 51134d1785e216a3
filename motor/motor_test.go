package motor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jt05610/deoxy/angle"
	"github.com/jt05610/deoxy/pin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMotor(t *testing.T, out pin.Out) *Motor {
	t.Helper()
	m, err := New(out, 4*time.Millisecond, time.Millisecond, 3*time.Millisecond, WithLabel("test"))
	require.NoError(t, err)
	return m
}

func TestSetAngle(t *testing.T) {
	testCases := []struct {
		name  string
		angle angle.Angle
		width time.Duration
		err   error
	}{
		{"closed", angle.Closed, time.Millisecond, nil},
		{"open", angle.Open, 2 * time.Millisecond, nil},
		{"max", angle.Max, 3 * time.Millisecond, nil},
		{"quarter", 45, 1500 * time.Microsecond, nil},
		{"negative", -1, time.Millisecond, ErrAngle},
		{"too far", 181, time.Millisecond, ErrAngle},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			m := newTestMotor(t, pin.NewRecorder(0))
			err := m.SetAngle(tc.angle)
			if !errors.Is(err, tc.err) {
				t.Fatalf("expected %v, got %v", tc.err, err)
			}
			if m.Width() != tc.width {
				t.Fatalf("expected width %s, got %s", tc.width, m.Width())
			}
		})
	}
}

func TestNewRejectsRange(t *testing.T) {
	_, err := New(pin.NewRecorder(0), time.Millisecond, 2*time.Millisecond, time.Millisecond)
	require.ErrorIs(t, err, ErrRange)
	_, err = New(pin.NewRecorder(0), time.Millisecond, 0, 2*time.Millisecond)
	require.ErrorIs(t, err, ErrRange)
}

func TestWave(t *testing.T) {
	rec := pin.NewRecorder(0)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := Spawn(ctx, newTestMotor(t, rec))
	require.NoError(t, h.Open())
	require.Eventually(t, func() bool {
		return len(rec.Calls()) >= 6
	}, time.Second, time.Millisecond)
	calls := rec.Calls()
	for i, c := range calls {
		want := pin.OpHigh
		if i%2 == 1 {
			want = pin.OpLow
		}
		assert.Equal(t, want, c.Op, "call %d", i)
	}
	cancel()
	select {
	case <-h.Done():
	case <-time.After(time.Second):
		t.Fatal("motor did not stop")
	}
	assert.NoError(t, h.Err())
	assert.ErrorIs(t, h.Close(), ErrUnavailable)
}

func TestRetriesExhausted(t *testing.T) {
	rec := pin.NewRecorder(0)
	rec.FailAll(true)
	h := Spawn(context.Background(), newTestMotor(t, rec))
	select {
	case <-h.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("motor kept running")
	}
	require.ErrorIs(t, h.Err(), ErrRetriesExhausted)
	assert.Equal(t, Retries, rec.Failures())
	assert.ErrorIs(t, h.Open(), ErrUnavailable)
}

func TestTransientFailuresRecover(t *testing.T) {
	rec := pin.NewRecorder(0)
	rec.FailNext(Retries - 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := Spawn(ctx, newTestMotor(t, rec))
	require.Eventually(t, func() bool {
		return len(rec.Calls()) > 4
	}, 2*time.Second, time.Millisecond)
	rec.FailNext(Retries - 1)
	require.Eventually(t, func() bool {
		return rec.Failures() == 2*(Retries-1) && len(rec.Calls()) > 8
	}, 2*time.Second, time.Millisecond)
	select {
	case <-h.Done():
		t.Fatalf("motor stopped: %v", h.Err())
	default:
	}
}

func TestHardwarePwm(t *testing.T) {
	rec := pin.NewPwmRecorder(0)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := Spawn(ctx, newTestMotor(t, rec))
	require.NoError(t, h.Open())
	require.Eventually(t, func() bool {
		c, ok := rec.Last()
		return ok && c.Op == pin.OpPwm && c.Width == 2*time.Millisecond
	}, time.Second, time.Millisecond)
	for _, c := range rec.Calls() {
		assert.Equal(t, pin.OpPwm, c.Op)
		assert.Equal(t, 4*time.Millisecond, c.Period)
	}
}
