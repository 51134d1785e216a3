package mail

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

const DefaultFrom = "deoxy@localhost"

// Sendmail pipes messages to a local sendmail binary. Repeated failures trip
// a breaker so an unreachable MTA does not stall every notification.
type Sendmail struct {
	Path    string
	From    string
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
	run     func(ctx context.Context, path string, msg []byte) error
}

func newBreaker(name string, logger *zap.Logger) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("mail breaker state changed",
				zap.String("breaker", name),
				zap.Stringer("from", from),
				zap.Stringer("to", to),
			)
		},
	})
}

func NewSendmail(path, from string, logger *zap.Logger) *Sendmail {
	if logger == nil {
		logger = zap.NewNop()
	}
	if path == "" {
		path = "sendmail"
	}
	if from == "" {
		from = DefaultFrom
	}
	return &Sendmail{
		Path:    path,
		From:    from,
		breaker: newBreaker("sendmail", logger),
		logger:  logger,
		run:     runSendmail,
	}
}

func runSendmail(ctx context.Context, path string, msg []byte) error {
	cmd := exec.CommandContext(ctx, path, "-t")
	cmd.Stdin = bytes.NewReader(msg)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("sendmail: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

func compose(w io.Writer, from string, to []string, subject, body string) error {
	_, err := fmt.Fprintf(w, "From: %s\nTo: %s\nSubject: %s\n\n%s\n",
		from, strings.Join(to, ", "), subject, body)
	return err
}

func (s *Sendmail) Mail(ctx context.Context, to []string, subject, body string) error {
	if len(to) == 0 {
		return ErrNoRecipients
	}
	var buf bytes.Buffer
	if err := compose(&buf, s.From, to, subject, body); err != nil {
		return err
	}
	_, err := s.breaker.Execute(func() (interface{}, error) {
		return nil, s.run(ctx, s.Path, buf.Bytes())
	})
	if err != nil {
		s.logger.Warn("failed to send mail", zap.String("subject", subject), zap.Error(err))
		return err
	}
	s.logger.Info("sent mail", zap.String("subject", subject), zap.Strings("to", to))
	return nil
}

func (s *Sendmail) Notify(ctx context.Context, to []string, status Status) error {
	subject, body := status.Content()
	return s.Mail(ctx, to, subject, body)
}
