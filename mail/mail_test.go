package mail

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContent(t *testing.T) {
	testCases := []struct {
		status  Status
		subject string
		body    string
	}{
		{FinishedStatus(), "Completed", "The decellularization run has completed as scheduled."},
		{AbortedStatus(), "Aborted", "The decellularization run has been aborted manually."},
		{CustomStatus("Rinse", "Swap the PBS bottle"), "Rinse", "Swap the PBS bottle"},
	}
	for _, tc := range testCases {
		t.Run(tc.subject, func(t *testing.T) {
			subject, body := tc.status.Content()
			if subject != tc.subject || body != tc.body {
				t.Fatalf("got %q/%q", subject, body)
			}
		})
	}
}

func TestCompose(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, compose(&buf, "deoxy@localhost", []string{"a@lab", "b@lab"}, "Completed", "done"))
	assert.Equal(t, "From: deoxy@localhost\nTo: a@lab, b@lab\nSubject: Completed\n\ndone\n", buf.String())
}

func TestSendmail(t *testing.T) {
	s := NewSendmail("", "", nil)
	var sent [][]byte
	s.run = func(_ context.Context, path string, msg []byte) error {
		assert.Equal(t, "sendmail", path)
		sent = append(sent, msg)
		return nil
	}
	require.NoError(t, s.Notify(context.Background(), []string{"lab@example.com"}, AbortedStatus()))
	require.Len(t, sent, 1)
	assert.Contains(t, string(sent[0]), "Subject: Aborted\n")
	assert.ErrorIs(t, s.Mail(context.Background(), nil, "x", "y"), ErrNoRecipients)
}

func TestSendmailBreaker(t *testing.T) {
	s := NewSendmail("sendmail", "", nil)
	calls := 0
	failure := errors.New("no mta")
	s.run = func(context.Context, string, []byte) error {
		calls++
		return failure
	}
	to := []string{"lab@example.com"}
	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, s.Notify(context.Background(), to, FinishedStatus()), failure)
	}
	err := s.Notify(context.Background(), to, FinishedStatus())
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, 3, calls)
}
