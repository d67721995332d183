package core

import "fmt"

// JobState is the lifecycle state of a job.  States only move forward.
type JobState string

const (
	StateQueued    JobState = "queued"
	StateRunning   JobState = "running"
	StateSucceeded JobState = "succeeded"
	StateFailed    JobState = "failed"
	StateCancelled JobState = "cancelled"
)

// validTransitions maps from-state to allowed to-states.
var validTransitions = map[JobState]map[JobState]bool{
	StateQueued: {
		StateRunning:   true, // worker picks the job up
		StateCancelled: true, // cancelled before dispatch
	},
	StateRunning: {
		StateSucceeded: true,
		StateFailed:    true,
		StateCancelled: true, // abort observed at a checkpoint
	},
	// Terminal states.
	StateSucceeded: {},
	StateFailed:    {},
	StateCancelled: {},
}

// ValidateTransition checks if a state transition is valid.
func ValidateTransition(from, to JobState) error {
	allowed, ok := validTransitions[from]
	if !ok {
		return fmt.Errorf("unknown source state: %s", from)
	}
	if !allowed[to] {
		return fmt.Errorf("invalid transition from %s to %s", from, to)
	}
	return nil
}

// IsTerminal reports whether no further transition is possible from s.
func (s JobState) IsTerminal() bool {
	next, ok := validTransitions[s]
	return ok && len(next) == 0
}
