package queue

import (
	"encoding/json"
	"time"
)

// JobState represents the lifecycle state of a job.
// A job is in exactly one state at any time.
type JobState string

const (
	StateWaiting   JobState = "waiting"
	StateActive    JobState = "active"
	StateDelayed   JobState = "delayed"
	StateCompleted JobState = "completed"
	StateFailed    JobState = "failed"
)

// States lists every job state in lifecycle order.
var States = []JobState{StateWaiting, StateActive, StateDelayed, StateCompleted, StateFailed}

// Valid reports whether s is a known job state.
func (s JobState) Valid() bool {
	switch s {
	case StateWaiting, StateActive, StateDelayed, StateCompleted, StateFailed:
		return true
	}
	return false
}

// Finished reports whether s is a terminal state.
func (s JobState) Finished() bool {
	return s == StateCompleted || s == StateFailed
}

// Priority represents job priority (0-100, lower value is leased first).
type Priority int

// Priority constants
const (
	PriorityMin      Priority = 0
	PriorityCritical Priority = 1
	PriorityHigh     Priority = 10
	PriorityNormal   Priority = 50
	PriorityLow      Priority = 90
	PriorityMax      Priority = 100
	PriorityDefault  Priority = PriorityNormal
)

// Valid checks if the priority is within valid range
func (p Priority) Valid() bool {
	return p >= PriorityMin && p <= PriorityMax
}

// Job is a single unit of work stored by the broker.
type Job struct {
	ID             string          `json:"id"`
	Queue          string          `json:"queue"`
	Name           string          `json:"name"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	Priority       Priority        `json:"priority"`
	State          JobState        `json:"state"`
	Attempts       int             `json:"attempts"`
	MaxAttempts    int             `json:"max_attempts"`
	Progress       int             `json:"progress"`
	Permanent      bool            `json:"permanent,omitempty"`
	LastError      string          `json:"last_error,omitempty"`
	WorkerID       string          `json:"worker_id,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	ScheduledAt    time.Time       `json:"scheduled_at"`
	ProcessedAt    *time.Time      `json:"processed_at,omitempty"`
	FinishedAt     *time.Time      `json:"finished_at,omitempty"`
	LeaseExpiresAt *time.Time      `json:"lease_expires_at,omitempty"`
}

// Clone returns a deep copy of the job so callers never share broker state.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	c := *j
	if j.Payload != nil {
		c.Payload = append(json.RawMessage(nil), j.Payload...)
	}
	c.ProcessedAt = cloneTime(j.ProcessedAt)
	c.FinishedAt = cloneTime(j.FinishedAt)
	c.LeaseExpiresAt = cloneTime(j.LeaseExpiresAt)
	return &c
}

// Counts holds the number of jobs per state for one queue.
// Paused is the number of waiting jobs held back by a pause.
type Counts struct {
	Waiting   int64 `json:"waiting"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Delayed   int64 `json:"delayed"`
	Paused    int64 `json:"paused"`
}

// Add returns the sum of two counters.
func (c Counts) Add(o Counts) Counts {
	return Counts{
		Waiting:   c.Waiting + o.Waiting,
		Active:    c.Active + o.Active,
		Completed: c.Completed + o.Completed,
		Failed:    c.Failed + o.Failed,
		Delayed:   c.Delayed + o.Delayed,
		Paused:    c.Paused + o.Paused,
	}
}

// Retention caps how many finished jobs are kept.
// A zero field means unbounded for that dimension.
type Retention struct {
	Age   time.Duration `json:"age"`
	Count int           `json:"count"`
}

// Failure describes a failed execution reported by a worker.
type Failure struct {
	Error      string
	Permanent  bool
	RetryDelay time.Duration
	Retention  Retention
}

// StalledJob is a job recovered by the stall reaper.
// State is either StateWaiting (requeued) or StateFailed (attempts exhausted).
type StalledJob struct {
	ID       string
	State    JobState
	Attempts int
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

func timePtr(t time.Time) *time.Time {
	return &t
}
