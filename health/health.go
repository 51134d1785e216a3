// Package health reports over the gRPC health protocol whether the apparatus
// is believed to be in a safe state.
package health

import (
	"context"
	"net"

	"github.com/jt05610/deoxy/coord"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const Service = "deoxy.Coordinator"

// Reporter serves NOT_SERVING from an unrecoverable abort until a later halt
// reaches the safe state.
type Reporter struct {
	srv    *health.Server
	logger *zap.Logger
}

var _ coord.Subscriber = (*Reporter)(nil)

func New(logger *zap.Logger) *Reporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Reporter{srv: health.NewServer(), logger: logger}
	r.set(healthpb.HealthCheckResponse_SERVING)
	return r
}

func (r *Reporter) set(status healthpb.HealthCheckResponse_ServingStatus) {
	r.srv.SetServingStatus("", status)
	r.srv.SetServingStatus(Service, status)
}

func (r *Reporter) Handle(ev coord.Event, _ coord.Controller) {
	switch {
	case ev.Kind == coord.Unsafe:
		r.logger.Error("apparatus unsafe; reporting NOT_SERVING", zap.String("error", ev.Err))
		r.set(healthpb.HealthCheckResponse_NOT_SERVING)
	case ev.Kind == coord.Halted && ev.Err == "":
		r.set(healthpb.HealthCheckResponse_SERVING)
	}
}

func (r *Reporter) Status(ctx context.Context) (healthpb.HealthCheckResponse_ServingStatus, error) {
	resp, err := r.srv.Check(ctx, &healthpb.HealthCheckRequest{Service: Service})
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, err
	}
	return resp.Status, nil
}

// Serve registers the health service on a new gRPC server listening on addr.
func (r *Reporter) Serve(ctx context.Context, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return r.ServeListener(ctx, lis)
}

func (r *Reporter) ServeListener(ctx context.Context, lis net.Listener) error {
	opts := make([]grpc.ServerOption, 0)
	grpcServer := grpc.NewServer(opts...)
	healthpb.RegisterHealthServer(grpcServer, r.srv)
	go func() {
		<-ctx.Done()
		r.srv.Shutdown()
		grpcServer.GracefulStop()
	}()
	r.logger.Info("health server listening", zap.String("addr", lis.Addr().String()))
	return grpcServer.Serve(lis)
}
