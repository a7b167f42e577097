package queue

// Payload is the typed data carried by a job.
// QueueName routes the payload to its queue.
type Payload interface {
	QueueName() string
}

// Validatable payloads are validated before they are enqueued.
type Validatable interface {
	Validate() error
}
