package deoxy

import (
	"fmt"
	"time"
)

type ActionKind int

const (
	ActionPerfuse ActionKind = iota
	ActionSleep
	ActionHail
	ActionDrain
	ActionFinish
	ActionNotify
)

var actionKinds = []string{
	ActionPerfuse: "perfuse",
	ActionSleep:   "sleep",
	ActionHail:    "hail",
	ActionDrain:   "drain",
	ActionFinish:  "finish",
	ActionNotify:  "notify",
}

func (k ActionKind) String() string {
	if int(k) < 0 || int(k) >= len(actionKinds) {
		return fmt.Sprintf("ActionKind(%d)", int(k))
	}
	return actionKinds[k]
}

func parseActionKind(s string) (ActionKind, error) {
	for i, name := range actionKinds {
		if name == s {
			return ActionKind(i), nil
		}
	}
	return 0, fmt.Errorf("unknown action kind %q", s)
}

// Action is an atomic unit of a compiled program. Only the fields relevant to
// Kind are set.
type Action struct {
	Kind         ActionKind
	Motor        MotorID
	Duration     time.Duration
	Notification Notification
}

func PerfuseAction(motor MotorID) Action { return Action{Kind: ActionPerfuse, Motor: motor} }
func Sleep(d time.Duration) Action       { return Action{Kind: ActionSleep, Duration: d} }
func Hail() Action                       { return Action{Kind: ActionHail} }
func Drain() Action                      { return Action{Kind: ActionDrain} }
func Finish() Action                     { return Action{Kind: ActionFinish} }
func Notify(n Notification) Action       { return Action{Kind: ActionNotify, Notification: n} }

// IsDisjoint reports whether execution may safely stop before this action.
// Perfusions must not be cut off (the sample would be left dry) and
// notifications must not be skipped.
func (a Action) IsDisjoint() bool {
	switch a.Kind {
	case ActionSleep, ActionHail, ActionFinish, ActionDrain:
		return true
	case ActionPerfuse, ActionNotify:
		return false
	}
	return false
}

func (a Action) String() string {
	switch a.Kind {
	case ActionPerfuse:
		return fmt.Sprintf("perfuse(%d)", a.Motor)
	case ActionSleep:
		return fmt.Sprintf("sleep(%s)", a.Duration)
	case ActionNotify:
		return fmt.Sprintf("notify(%q)", a.Notification.Subject)
	}
	return a.Kind.String()
}

// Program is the flat action sequence compiled from a valid protocol.
type Program struct {
	actions []Action
}

// Actions returns a copy of the program's actions.
func (p Program) Actions() []Action {
	ret := make([]Action, len(p.actions))
	copy(ret, p.actions)
	return ret
}

func (p Program) Len() int {
	return len(p.actions)
}
