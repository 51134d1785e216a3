// Package mail delivers run notifications to the apparatus administrators.
package mail

import (
	"context"
	"errors"
)

type StatusKind int

const (
	Finished StatusKind = iota
	Aborted
	Custom
)

// Status is what a notification reports.
type Status struct {
	Kind    StatusKind
	Subject string
	Message string
}

func FinishedStatus() Status { return Status{Kind: Finished} }
func AbortedStatus() Status  { return Status{Kind: Aborted} }

func CustomStatus(subject, message string) Status {
	return Status{Kind: Custom, Subject: subject, Message: message}
}

// Content returns the subject and body sent for s.
func (s Status) Content() (string, string) {
	switch s.Kind {
	case Finished:
		return "Completed", "The decellularization run has completed as scheduled."
	case Aborted:
		return "Aborted", "The decellularization run has been aborted manually."
	}
	return s.Subject, s.Message
}

func (s Status) String() string {
	subject, _ := s.Content()
	return subject
}

type Notifier interface {
	Notify(ctx context.Context, to []string, status Status) error
	Mail(ctx context.Context, to []string, subject, body string) error
}

// Discard drops every notification.
type Discard struct{}

func (Discard) Notify(context.Context, []string, Status) error { return nil }

func (Discard) Mail(context.Context, []string, string, string) error { return nil }

var ErrNoRecipients = errors.New("mail: no recipients")
