package queue

import "time"

// Transition names a job lifecycle change.
type Transition string

const (
	TransitionAdded     Transition = "added"
	TransitionActive    Transition = "active"
	TransitionProgress  Transition = "progress"
	TransitionCompleted Transition = "completed"
	TransitionRetrying  Transition = "retrying"
	TransitionFailed    Transition = "failed"
	TransitionStalled   Transition = "stalled"
)

// Event is published on every job lifecycle transition.
type Event struct {
	Queue      string        `json:"queue"`
	JobID      string        `json:"job_id"`
	JobName    string        `json:"job_name,omitempty"`
	Transition Transition    `json:"transition"`
	Attempt    int           `json:"attempt,omitempty"`
	Progress   int           `json:"progress,omitempty"`
	Duration   time.Duration `json:"duration,omitempty"`
	Error      string        `json:"error,omitempty"`
	Permanent  bool          `json:"permanent,omitempty"`
	At         time.Time     `json:"at"`
}
