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
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/google/uuid"
	"github.com/jt05610/deoxy"
	"github.com/jt05610/deoxy/amqp"
	"github.com/jt05610/deoxy/amqp/client"
	"github.com/jt05610/deoxy/amqp/server"
	"github.com/jt05610/deoxy/env"
	"github.com/jt05610/deoxy/tui"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	timeout  time.Duration
	jobID    string
	motorID  int
	deviceID string
)

// remoteCmd represents the remote command
var remoteCmd = &cobra.Command{
	Use:   "remote",
	Short: "Control a running coordinator over AMQP",
}

type session struct {
	conn   *amqp.Connection
	client *client.Client
	ctx    context.Context
	cancel context.CancelFunc
	logger *zap.Logger
}

func (s *session) Close() {
	s.cancel()
	_ = s.conn.Close()
	_ = s.logger.Sync()
}

func connect(withTimeout bool) (*session, error) {
	logger := newLogger()
	environ, err := env.LoadEnv(logger)
	if err != nil {
		return nil, err
	}
	if environ.URI == "" {
		return nil, fmt.Errorf("RABBITMQ_URI is not set")
	}
	if deviceID != "" {
		environ.DeviceID = deviceID
	}
	conn, err := amqp.Dial(environ)
	if err != nil {
		return nil, err
	}
	cl, err := client.New(conn.Channel, environ.Exchange, environ.DeviceID, logger.Named("client"))
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	var (
		ctx    context.Context
		cancel context.CancelFunc
	)
	if withTimeout {
		ctx, cancel = context.WithTimeout(context.Background(), timeout)
	} else {
		ctx, cancel = signal.NotifyContext(context.Background(), os.Interrupt)
	}
	if err := cl.Listen(ctx); err != nil {
		cancel()
		_ = conn.Close()
		return nil, err
	}
	return &session{conn: conn, client: cl, ctx: ctx, cancel: cancel, logger: logger}, nil
}

func jobRequest() (server.JobRequest, error) {
	if jobID == "" {
		return server.JobRequest{}, nil
	}
	id, err := uuid.Parse(jobID)
	if err != nil {
		return server.JobRequest{}, err
	}
	return server.JobRequest{Job: &id}, nil
}

func command(name string, body func() (interface{}, error)) *cobra.Command {
	return &cobra.Command{
		Use:   name,
		Short: fmt.Sprintf("Send %s to the coordinator", name),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := body()
			if err != nil {
				return err
			}
			s, err := connect(true)
			if err != nil {
				return err
			}
			defer s.Close()
			if err := s.client.Command(s.ctx, name, b); err != nil {
				return err
			}
			fmt.Println("ok")
			return nil
		},
	}
}

var startCmd = command("start", func() (interface{}, error) {
	p, err := readProtocol(inputFile)
	if err != nil {
		return nil, err
	}
	req := server.StartRequest{Protocol: p}
	if jobID != "" {
		id, err := uuid.Parse(jobID)
		if err != nil {
			return nil, err
		}
		req.Job = &id
	}
	return req, nil
})

var continueCmd = command("continue", func() (interface{}, error) { return jobRequest() })

var haltCmd = command("halt", func() (interface{}, error) { return jobRequest() })

var stopCmd = command("stop", func() (interface{}, error) { return struct{}{}, nil })

var exchangeStopCmd = command("exchange_stop", func() (interface{}, error) {
	return server.ExchangeStopRequest{Motor: deoxy.MotorID(motorID)}, nil
})

// statusCmd represents the status command
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the coordinator's current job",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := connect(true)
		if err != nil {
			return err
		}
		defer s.Close()
		j, err := s.client.Job(s.ctx)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(j)
	},
}

// watchCmd represents the watch command
var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow coordinator status events until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := connect(false)
		if err != nil {
			return err
		}
		defer s.Close()
		p := tui.New(os.Stdout)
		for {
			select {
			case <-s.ctx.Done():
				return nil
			case ev := <-s.client.Events():
				ctx, cancel := context.WithTimeout(s.ctx, timeout)
				j, err := s.client.Job(ctx)
				cancel()
				if err != nil {
					j = nil
				}
				fmt.Println(p.Line(ev, j))
			}
		}
	},
}

func init() {
	rootCmd.AddCommand(remoteCmd)
	remoteCmd.PersistentFlags().DurationVarP(&timeout, "timeout", "t", 10*time.Second, "reply timeout")
	remoteCmd.PersistentFlags().StringVar(&deviceID, "device", "", "device id (default $DEOXY_DEVICE_ID)")
	startCmd.Flags().StringVarP(&inputFile, "input", "i", "", "protocol file")
	startCmd.Flags().StringVar(&jobID, "job", "", "job id to assign")
	continueCmd.Flags().StringVar(&jobID, "job", "", "only continue this job")
	haltCmd.Flags().StringVar(&jobID, "job", "", "only halt this job")
	exchangeStopCmd.Flags().IntVarP(&motorID, "motor", "m", 0, "buffer to finish on")
	remoteCmd.AddCommand(startCmd, continueCmd, haltCmd, stopCmd, exchangeStopCmd, statusCmd, watchCmd)
}
