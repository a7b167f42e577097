package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"reflect"

	"github.com/dmitrymomot/jobkit/pkg/logger"
)

// ProcessorFunc processes one job payload of type T.
// Returning an error schedules a retry until attempts run out; wrap the
// error with Permanent to flag failures a retry cannot fix.
type ProcessorFunc[T Payload] func(ctx context.Context, payload T, progress Progress) error

// Progress reports advisory completion percentage for the running job.
type Progress interface {
	Update(ctx context.Context, percent int) error
}

type processor interface {
	payloadType() reflect.Type
	process(ctx context.Context, job *Job, progress Progress) error
}

type typedProcessor[T Payload] struct {
	fn ProcessorFunc[T]
}

func (p typedProcessor[T]) payloadType() reflect.Type {
	return payloadType(newPayload[T]())
}

func (p typedProcessor[T]) process(ctx context.Context, job *Job, progress Progress) error {
	payload := newPayload[T]()
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return Permanent(errors.Join(ErrPayloadUnmarshal, err))
	}
	return p.fn(ctx, payload, progress)
}

// newPayload returns a usable zero value of T, allocating when T is a pointer.
func newPayload[T Payload]() T {
	var zero T
	t := reflect.TypeOf(&zero).Elem()
	if t.Kind() == reflect.Pointer {
		return reflect.New(t.Elem()).Interface().(T)
	}
	return zero
}

// RegisterProcessor binds fn to the queue named by T's QueueName.
// The queue must already be registered on the engine; opts override its config.
func RegisterProcessor[T Payload](e *Engine, fn ProcessorFunc[T], opts ...ProcessorOption) error {
	if fn == nil {
		return ErrProcessorNil
	}
	name := newPayload[T]().QueueName()
	if err := e.setProcessor(name, typedProcessor[T]{fn: fn}, opts...); err != nil {
		return fmt.Errorf("register processor for %s: %w", qualifiedStructName(newPayload[T]()), err)
	}
	return nil
}

type jobContextKey struct{}

// ContextWithJob returns a copy of ctx carrying job. Workers call it before
// invoking a processor; tests use it to run processors directly.
func ContextWithJob(ctx context.Context, job *Job) context.Context {
	return context.WithValue(ctx, jobContextKey{}, job)
}

// JobFromContext returns the job being processed.
// The returned job is a snapshot taken at lease time.
func JobFromContext(ctx context.Context) (*Job, bool) {
	job, ok := ctx.Value(jobContextKey{}).(*Job)
	return job, ok && job != nil
}

// LogExtractor adds the running job's queue and ID to every log record
// written with a processor context.
func LogExtractor() logger.ContextExtractor {
	return func(ctx context.Context) (slog.Attr, bool) {
		job, ok := JobFromContext(ctx)
		if !ok {
			return slog.Attr{}, false
		}
		return logger.Group("job",
			slog.String("id", job.ID),
			slog.String("queue", job.Queue),
			slog.Int("attempt", job.Attempts+1),
		), true
	}
}

type progressReporter struct {
	w     *Worker
	job   *Job
	token string
}

func (p *progressReporter) Update(ctx context.Context, percent int) error {
	percent = clampProgress(percent)
	if err := p.w.broker.UpdateProgress(ctx, p.job.Queue, p.job.ID, p.token, percent); err != nil {
		return err
	}
	p.w.emit(Event{
		Queue:      p.job.Queue,
		JobID:      p.job.ID,
		JobName:    p.job.Name,
		Transition: TransitionProgress,
		Attempt:    p.job.Attempts + 1,
		Progress:   percent,
	})
	return nil
}
