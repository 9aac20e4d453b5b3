package session

import "fmt"

// State is a DeviceSession lifecycle state.
type State int32

const (
	Idle State = iota
	Discovering
	Connecting
	Subscribing
	Polling
	Stopping
)

var stateNames = [...]string{
	Idle:        "idle",
	Discovering: "discovering",
	Connecting:  "connecting",
	Subscribing: "subscribing",
	Polling:     "polling",
	Stopping:    "stopping",
}

func (s State) String() string {
	if s < Idle || s > Stopping {
		return fmt.Sprintf("state(%d)", int32(s))
	}
	return stateNames[s]
}

// establishing reports whether s is one of the start-up states.
func (s State) establishing() bool {
	return s == Discovering || s == Connecting || s == Subscribing
}
