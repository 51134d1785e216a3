package coord

import (
	"github.com/google/uuid"
	"github.com/jt05610/deoxy"
)

// Message is a control message accepted by Send.
type Message interface {
	message()
}

// Start compiles Protocol and runs it. A nil Label gets a generated job id.
type Start struct {
	Protocol deoxy.Protocol
	Label    uuid.UUID
}

// Continue resumes a run paused on a hail.
type Continue struct{}

// Stop lets the current unit of work finish and then stops.
type Stop struct{}

// ExchangeStop moves the sample into Motor's buffer before stopping.
type ExchangeStop struct {
	Motor deoxy.MotorID
}

// Halt aborts immediately and drives the hardware to the safe state.
type Halt struct{}

type Subscribe struct {
	Subscriber Subscriber
}

func (Start) message()        {}
func (Continue) message()     {}
func (Stop) message()         {}
func (ExchangeStop) message() {}
func (Halt) message()         {}
func (Subscribe) message()    {}

type tick struct {
	epoch uint64
	fn    func() error
}

type motorFault struct {
	id  deoxy.MotorID
	err error
}

type jobQuery struct {
	reply chan *Job
}

func (tick) message()       {}
func (motorFault) message() {}
func (jobQuery) message()   {}

type envelope struct {
	msg   Message
	reply chan error
}
