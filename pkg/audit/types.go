package audit

import (
	"context"
	"fmt"
	"time"
)

// Result represents the outcome of an audited action
type Result string

const (
	ResultSuccess Result = "success"
	ResultFailure Result = "failure"
	ResultError   Result = "error"
)

// Event represents a single audit log entry
type Event struct {
	ID         string         `json:"id"`
	Actor      string         `json:"actor"`
	Action     string         `json:"action"`
	Resource   string         `json:"resource"`
	ResourceID string         `json:"resource_id"`
	Result     Result         `json:"result"`
	Error      string         `json:"error,omitempty"`
	RequestID  string         `json:"request_id,omitempty"`
	IP         string         `json:"ip,omitempty"`
	UserAgent  string         `json:"user_agent,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Validate checks if the event has all required fields
func (e *Event) Validate() error {
	if e.Action == "" {
		return fmt.Errorf("%w: action is required", ErrEventValidation)
	}
	switch e.Result {
	case ResultSuccess, ResultFailure, ResultError:
	default:
		return fmt.Errorf("%w: unknown result %q", ErrEventValidation, e.Result)
	}
	return nil
}

// EventOption applies configuration to an Event during creation.
type EventOption func(*Event)

// Criteria filters stored events. Zero fields do not filter.
type Criteria struct {
	Actor      string
	Action     string
	Resource   string
	ResourceID string
	Result     Result
	StartTime  time.Time
	EndTime    time.Time
	Limit      int
	Offset     int
}

// Storage persists and queries audit events.
type Storage interface {
	Store(ctx context.Context, events ...Event) error
	Query(ctx context.Context, criteria Criteria) ([]Event, error)
}

// StorageCounter is implemented by storages that can count without loading rows.
type StorageCounter interface {
	Count(ctx context.Context, criteria Criteria) (int64, error)
}
