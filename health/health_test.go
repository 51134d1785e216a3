package health

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/jt05610/deoxy/coord"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func status(t *testing.T, r *Reporter) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	s, err := r.Status(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestReporter(t *testing.T) {
	r := New(nil)
	testCases := []struct {
		event coord.Event
		want  healthpb.HealthCheckResponse_ServingStatus
	}{
		{coord.Event{Kind: coord.Started}, healthpb.HealthCheckResponse_SERVING},
		{coord.Event{Kind: coord.Halted, Err: "stop pump: pin 0"}, healthpb.HealthCheckResponse_SERVING},
		{coord.Event{Kind: coord.Unsafe, Err: "stop pump: pin 0"}, healthpb.HealthCheckResponse_NOT_SERVING},
		{coord.Event{Kind: coord.Started}, healthpb.HealthCheckResponse_NOT_SERVING},
		{coord.Event{Kind: coord.Halted}, healthpb.HealthCheckResponse_SERVING},
	}
	for i, tc := range testCases {
		r.Handle(tc.event, nil)
		if got := status(t, r); got != tc.want {
			t.Fatalf("step %d (%s): expected %s, got %s", i, tc.event.Kind, tc.want, got)
		}
	}
}

func TestServe(t *testing.T) {
	r := New(nil)
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		_ = r.ServeListener(ctx, lis)
	}()
	dialCtx, dialCancel := context.WithTimeout(ctx, 5*time.Second)
	defer dialCancel()
	conn, err := grpc.DialContext(dialCtx, lis.Addr().String(),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithBlock(),
	)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	resp, err := healthpb.NewHealthClient(conn).Check(dialCtx, &healthpb.HealthCheckRequest{Service: Service})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Status != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("unexpected status %s", resp.Status)
	}
}
