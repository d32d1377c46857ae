package jshost

import "strconv"

// State is the lifecycle state of a Host.
type State int32

const (
	StateUninitialized State = iota
	StateRunning
	StateClosed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateRunning:
		return "running"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	}
	return "State(" + strconv.Itoa(int(s)) + ")"
}
