// Package detect classifies an assistant process as busy, idle, or waiting for
// input from the text its terminal currently renders.
package detect

import (
	"fmt"
	"strings"
)

// State is the activity classification of a session's primary process.
type State string

const (
	StateBusy         State = "busy"
	StateIdle         State = "idle"
	StateWaitingInput State = "waiting_input"
)

// Valid reports whether s is one of the known states.
func (s State) Valid() bool {
	switch s {
	case StateBusy, StateIdle, StateWaitingInput:
		return true
	}
	return false
}

func (s State) String() string { return string(s) }

// ParseState converts a config or hook name into a State. "waiting" is
// accepted as shorthand for waiting_input.
func ParseState(s string) (State, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "busy":
		return StateBusy, nil
	case "idle":
		return StateIdle, nil
	case "waiting_input", "waiting":
		return StateWaitingInput, nil
	}
	return "", fmt.Errorf("unknown state %q", s)
}
