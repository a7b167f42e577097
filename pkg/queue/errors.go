package queue

import "errors"

// Common errors
var (
	// ErrBrokerNil is returned when a nil broker is provided
	ErrBrokerNil = errors.New("broker cannot be nil")

	// ErrBrokerUnavailable wraps every failure to reach the broker.
	// Callers must assume nothing was written.
	ErrBrokerUnavailable = errors.New("broker unavailable")

	// ErrPayloadNil is returned when attempting to enqueue a nil payload
	ErrPayloadNil = errors.New("payload cannot be nil")

	// ErrPayloadMarshal is returned when payload marshaling fails
	ErrPayloadMarshal = errors.New("failed to marshal payload to JSON")

	// ErrPayloadUnmarshal is returned when a stored payload cannot be decoded
	ErrPayloadUnmarshal = errors.New("failed to unmarshal job payload")

	// ErrInvalidPayload is returned when payload validation fails
	ErrInvalidPayload = errors.New("invalid job payload")

	// ErrPayloadMismatch is returned when the payload type differs from the queue processor's type
	ErrPayloadMismatch = errors.New("payload type does not match queue processor")

	// ErrInvalidPriority is returned when priority is outside valid range
	ErrInvalidPriority = errors.New("priority must be between 0 and 100")

	// ErrInvalidMaxAttempts is returned when max attempts is less than one
	ErrInvalidMaxAttempts = errors.New("max attempts must be at least 1")

	// ErrInvalidQueueName is returned when a queue name is empty or contains forbidden characters
	ErrInvalidQueueName = errors.New("invalid queue name")

	// ErrInvalidState is returned when an operation does not support the given job state
	ErrInvalidState = errors.New("invalid job state for operation")

	// ErrUnknownQueue is returned when a queue is not registered
	ErrUnknownQueue = errors.New("unknown queue")

	// ErrQueueAlreadyRegistered is returned when a queue is registered twice
	ErrQueueAlreadyRegistered = errors.New("queue already registered")

	// ErrProcessorNil is returned when registering a nil processor function
	ErrProcessorNil = errors.New("processor cannot be nil")

	// ErrProcessorAlreadyRegistered is returned when a queue gets a second processor
	ErrProcessorAlreadyRegistered = errors.New("processor already registered for queue")

	// ErrNoProcessors is returned when the engine starts without any processor
	ErrNoProcessors = errors.New("no job processors registered")

	// ErrAlreadyStarted is returned when Start is called on a running component
	ErrAlreadyStarted = errors.New("already started")

	// ErrJobNotFound is returned when a job does not exist in the queue
	ErrJobNotFound = errors.New("job not found")

	// ErrNoJobAvailable is returned by Lease when nothing is leasable
	ErrNoJobAvailable = errors.New("no job available")

	// ErrLeaseLost is returned when the caller no longer holds the job lease
	ErrLeaseLost = errors.New("job lease lost")

	// ErrInvalidSchedule is returned when schedule format is invalid
	ErrInvalidSchedule = errors.New("invalid schedule format")

	// ErrTriggerExists is returned when trying to register a duplicate trigger
	ErrTriggerExists = errors.New("trigger already registered")

	// ErrTriggerNotFound is returned when a trigger name is unknown
	ErrTriggerNotFound = errors.New("trigger not found")

	// ErrSchedulerNotConfigured is returned when scheduler has no triggers
	ErrSchedulerNotConfigured = errors.New("scheduler has no registered triggers")

	// ErrEnqueuerNil is returned when a scheduler is built without an enqueuer
	ErrEnqueuerNil = errors.New("enqueuer cannot be nil")
)

// permanentError marks a processor failure that retrying will not fix.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so the worker flags the job as permanently failing.
// The attempt is still consumed; the flag lets operators filter failed jobs.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err, or any error it wraps, was marked with Permanent.
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}

func brokerError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrBrokerUnavailable) {
		return err
	}
	return errors.Join(ErrBrokerUnavailable, err)
}
