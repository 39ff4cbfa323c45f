package engine

import (
	"fmt"
)

// RunState is the lifecycle state of a run.
//
//	pending -> running -> completed
//	                   -> aborted
type RunState int32

const (
	StatePending RunState = iota
	StateRunning
	StateCompleted
	StateAborted
)

func (s RunState) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition is possible.
func (s RunState) Terminal() bool {
	return s == StateCompleted || s == StateAborted
}

// MarshalText encodes the state by name.
func (s RunState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a state name.
func (s *RunState) UnmarshalText(b []byte) error {
	switch string(b) {
	case "pending":
		*s = StatePending
	case "running":
		*s = StateRunning
	case "completed":
		*s = StateCompleted
	case "aborted":
		*s = StateAborted
	default:
		return fmt.Errorf("unknown run state %q", b)
	}
	return nil
}

// Abort reasons reported in Result.AbortReason.
const (
	ReasonThreshold   = "threshold"
	ReasonInterrupted = "interrupted"
)
