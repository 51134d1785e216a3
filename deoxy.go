// Package deoxy holds the protocol model of the buffer-exchange apparatus and
// the compiler that turns a user protocol into the flat action program the
// coordinator executes.
package deoxy

import "strconv"

// MotorID identifies a valve/motor slot on the apparatus.
type MotorID int

func (m MotorID) String() string {
	return "motor " + strconv.Itoa(int(m))
}

// Notification is forwarded verbatim to the mail collaborator.
type Notification struct {
	Subject string `json:"subject"`
	Message string `json:"message"`
}
