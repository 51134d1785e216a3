/*
Copyright © 2024 Jonathan Taylor <jonrtaylor12@gmail.com>

Permission is hereby granted, free of charge, to any person obtaining a copy
of this software and associated documentation files (the "Software"), to deal
in the Software without restriction, including without limitation the rights
to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
copies of the Software, and to permit persons to whom the Software is
furnished to do so, subject to the following conditions:

The above copyright notice and this permission notice shall be included in
all copies or substantial portions of the Software.

THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
THE SOFTWARE.
*/

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jt05610/deoxy/amqp"
	"github.com/jt05610/deoxy/amqp/server"
	"github.com/jt05610/deoxy/config"
	"github.com/jt05610/deoxy/coord"
	"github.com/jt05610/deoxy/env"
	"github.com/jt05610/deoxy/health"
	"github.com/jt05610/deoxy/journal"
	"github.com/jt05610/deoxy/mail"
	"github.com/jt05610/deoxy/metrics"
	"github.com/jt05610/deoxy/pin"
	"github.com/jt05610/deoxy/tui"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	dryRun bool
	quiet  bool
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the coordinator for the attached apparatus",
	Long: `Run the coordinator until interrupted. Commands arrive over AMQP when
RABBITMQ_URI is set; a protocol given with --input is started immediately.

Optional services are enabled by environment:
  RABBITMQ_URI     command server and status events
  COUCHDB_URI      job journal in CouchDB
  DEOXY_JOURNAL    job journal in a local SQLite file
  METRICS_ADDR     prometheus /metrics endpoint
  HEALTH_ADDR      gRPC health service
  SERIAL_PORT      pin bridge (required unless --dry-run)`,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := newLogger()
		defer func() {
			_ = logger.Sync()
		}()
		environ, err := env.LoadEnv(logger)
		if err != nil {
			return err
		}
		if dryRun {
			environ.DryRun = true
		}
		cfg, err := loadConfig(environ.ConfigPath)
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return run(ctx, environ, cfg, logger)
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVarP(&inputFile, "input", "i", "", "protocol to start once running")
	runCmd.Flags().BoolVar(&dryRun, "dry-run", false, "record pin writes instead of driving hardware")
	runCmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "no status lines on stdout")
}

func pinFactory(environ *env.Environment, logger *zap.Logger) (config.PinFactory, func() error, error) {
	if environ.DryRun {
		logger.Warn("dry run; pin writes are recorded only")
		return func(n int) pin.Out { return pin.NewPwmRecorder(n) }, func() error { return nil }, nil
	}
	if environ.SerialPort == "" {
		return nil, nil, errors.New("SERIAL_PORT is not set; use --dry-run to run without hardware")
	}
	bridge, err := pin.OpenBridge(environ.SerialPort, environ.Baud, logger.Named("pin"))
	if err != nil {
		return nil, nil, fmt.Errorf("open pin bridge: %w", err)
	}
	return func(n int) pin.Out { return bridge.Out(n) }, bridge.Close, nil
}

func notifier(cfg *config.Config, logger *zap.Logger) mail.Notifier {
	if len(cfg.Admins) == 0 {
		return mail.Discard{}
	}
	return mail.NewSendmail(cfg.Mail.Sendmail, cfg.Mail.From, logger.Named("mail"))
}

func openJournal(environ *env.Environment, logger *zap.Logger) (*journal.Journal, error) {
	var (
		store journal.Store
		err   error
	)
	switch {
	case environ.CouchURI != "":
		store, err = journal.OpenCouch(environ.CouchURI, environ.CouchDB)
	case environ.SQLitePath != "":
		store, err = journal.OpenSQLite(environ.SQLitePath)
	default:
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	return journal.New(store, logger.Named("journal")), nil
}

func run(ctx context.Context, environ *env.Environment, cfg *config.Config, logger *zap.Logger) error {
	factory, closePins, err := pinFactory(environ, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := closePins(); err != nil {
			logger.Error("failed to close pin bridge", zap.Error(err))
		}
	}()
	devices, err := cfg.Devices(factory, logger)
	if err != nil {
		return err
	}
	collector := metrics.New()
	c := coord.New(devices,
		coord.WithLogger(logger.Named("coord")),
		coord.WithTiming(cfg.CoordTiming()),
		coord.WithWaste(cfg.WasteID()),
		coord.WithNotifier(notifier(cfg, logger), cfg.Admins),
		coord.WithMetrics(collector),
	)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return c.Run(ctx)
	})
	select {
	case <-c.Started():
	case <-ctx.Done():
		return g.Wait()
	}
	fail := func(err error) error {
		cancel()
		return errors.Join(err, g.Wait())
	}

	var subs []coord.Subscriber
	if !quiet {
		subs = append(subs, tui.New(os.Stdout))
	}
	reporter := health.New(logger.Named("health"))
	subs = append(subs, reporter)
	if environ.HealthAddr != "" {
		g.Go(func() error {
			return reporter.Serve(ctx, environ.HealthAddr)
		})
	}
	if environ.MetricsAddr != "" {
		g.Go(func() error {
			return collector.Serve(ctx, environ.MetricsAddr, logger.Named("metrics"))
		})
	}
	j, err := openJournal(environ, logger)
	if err != nil {
		return fail(err)
	}
	if j != nil {
		defer func() {
			_ = j.Close()
		}()
		subs = append(subs, j)
	}
	if environ.URI != "" {
		conn, err := amqp.Dial(environ)
		if err != nil {
			return fail(fmt.Errorf("dial amqp: %w", err))
		}
		defer func() {
			_ = conn.Close()
		}()
		srv, err := server.New(conn.Channel, environ.Exchange, environ.DeviceID, c, logger.Named("amqp"))
		if err != nil {
			return fail(err)
		}
		subs = append(subs, server.NewPublisher(conn.Channel, environ.Exchange, environ.DeviceID, logger.Named("events")))
		g.Go(func() error {
			return srv.Listen(ctx)
		})
	}
	for _, s := range subs {
		if err := c.Send(ctx, coord.Subscribe{Subscriber: s}); err != nil {
			return fail(err)
		}
	}
	if inputFile != "" {
		p, err := readProtocol(inputFile)
		if err != nil {
			return fail(err)
		}
		if err := c.Send(ctx, coord.Start{Protocol: p}); err != nil {
			return fail(err)
		}
	}
	logger.Info("deoxy running", zap.String("device", environ.DeviceID), zap.Bool("dry_run", environ.DryRun))
	return g.Wait()
}
