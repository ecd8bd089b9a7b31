package session

import (
	"encoding/json"
	"fmt"
)

// State is the lifecycle state of a [Session].
type State int

const (
	// Idle is the initial state; no capture has been requested yet.
	Idle State = iota

	// Listening means a capture is active and frames are being compared.
	Listening

	// Detected means the current episode matched the reference signature.
	// Frames keep being processed.
	Detected

	// Stopped means the capture was released, by request or after a fatal
	// capture error.
	Stopped
)

var stateNames = [...]string{"idle", "listening", "detected", "stopped"}

// String implements [fmt.Stringer].
func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

// Active reports whether the state holds a capture.
func (s State) Active() bool {
	return s == Listening || s == Detected
}

// CanStart reports whether Start is allowed from s.
func (s State) CanStart() bool {
	return s == Idle || s == Stopped
}

// MarshalJSON encodes the state by name.
func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON decodes a state name.
func (s *State) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	for i, n := range stateNames {
		if n == name {
			*s = State(i)
			return nil
		}
	}
	return fmt.Errorf("session: unknown state %q", name)
}
