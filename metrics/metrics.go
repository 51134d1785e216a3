// Package metrics exposes coordinator activity to Prometheus.
package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

var phases = []string{"stopped", "running", "waiting"}

// Collector is safe to use as a nil pointer, in which case every method is a
// no-op.
type Collector struct {
	reg         *prometheus.Registry
	Actions     *prometheus.CounterVec
	Halts       prometheus.Counter
	Unsafe      prometheus.Counter
	MotorFaults *prometheus.CounterVec
	Phase       *prometheus.GaugeVec
	Rejected    *prometheus.CounterVec
}

func New() *Collector {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	c := &Collector{
		reg: reg,
		Actions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "deoxy",
			Name:      "actions_total",
			Help:      "Program actions dispatched, by kind.",
		}, []string{"kind"}),
		Halts: f.NewCounter(prometheus.CounterOpts{
			Namespace: "deoxy",
			Name:      "halts_total",
			Help:      "Runs aborted through the halt path.",
		}),
		Unsafe: f.NewCounter(prometheus.CounterOpts{
			Namespace: "deoxy",
			Name:      "unsafe_total",
			Help:      "Aborts that could not confirm the safe state.",
		}),
		MotorFaults: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "deoxy",
			Name:      "motor_faults_total",
			Help:      "Motors that exhausted their retries.",
		}, []string{"motor"}),
		Phase: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "deoxy",
			Name:      "phase",
			Help:      "1 for the coordinator's current phase.",
		}, []string{"phase"}),
		Rejected: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "deoxy",
			Name:      "rejected_total",
			Help:      "Control messages rejected, by reason.",
		}, []string{"reason"}),
	}
	c.SetPhase("stopped")
	return c
}

func (c *Collector) Dispatched(kind string) {
	if c == nil {
		return
	}
	c.Actions.WithLabelValues(kind).Inc()
}

func (c *Collector) Halted() {
	if c == nil {
		return
	}
	c.Halts.Inc()
}

func (c *Collector) Failed() {
	if c == nil {
		return
	}
	c.Unsafe.Inc()
}

func (c *Collector) MotorFault(motor string) {
	if c == nil {
		return
	}
	c.MotorFaults.WithLabelValues(motor).Inc()
}

func (c *Collector) Reject(reason string) {
	if c == nil {
		return
	}
	c.Rejected.WithLabelValues(reason).Inc()
}

func (c *Collector) SetPhase(phase string) {
	if c == nil {
		return
	}
	for _, p := range phases {
		v := 0.0
		if p == phase {
			v = 1
		}
		c.Phase.WithLabelValues(p).Set(v)
	}
}

func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{Registry: c.reg})
}

// Serve exposes /metrics on addr until ctx is cancelled.
func (c *Collector) Serve(ctx context.Context, addr string, logger *zap.Logger) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		IdleTimeout:       time.Minute,
		ReadHeaderTimeout: 30 * time.Second,
	}
	go func() {
		<-ctx.Done()
		if err := srv.Shutdown(context.Background()); err != nil {
			logger.Error("metrics server shutdown", zap.Error(err))
		}
	}()
	logger.Info("metrics server listening", zap.String("addr", l.Addr().String()))
	if err := srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
