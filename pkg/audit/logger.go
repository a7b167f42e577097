package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ContextExtractor extracts a string value from context.
// It returns (value, found) where found indicates if extraction succeeded.
type ContextExtractor func(context.Context) (string, bool)

// Logger records audit events into a Storage.
type Logger struct {
	storage            Storage
	actorExtractor     ContextExtractor
	requestIDExtractor ContextExtractor
	ipExtractor        ContextExtractor
	userAgentExtractor ContextExtractor
	now                func() time.Time
}

// Option configures Logger behavior during initialization
type Option func(*Logger)

func WithActorExtractor(fn ContextExtractor) Option {
	return func(l *Logger) {
		l.actorExtractor = fn
	}
}

func WithRequestIDExtractor(fn ContextExtractor) Option {
	return func(l *Logger) {
		l.requestIDExtractor = fn
	}
}

func WithIPExtractor(fn ContextExtractor) Option {
	return func(l *Logger) {
		l.ipExtractor = fn
	}
}

func WithUserAgentExtractor(fn ContextExtractor) Option {
	return func(l *Logger) {
		l.userAgentExtractor = fn
	}
}

// WithClock overrides the time source for CreatedAt.
func WithClock(now func() time.Time) Option {
	return func(l *Logger) {
		if now != nil {
			l.now = now
		}
	}
}

// NewLogger creates a new audit logger
func NewLogger(storage Storage, opts ...Option) *Logger {
	if storage == nil {
		panic("audit: storage cannot be nil")
	}

	l := &Logger{
		storage: storage,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Log records a successful action
func (l *Logger) Log(ctx context.Context, action string, opts ...EventOption) error {
	return l.record(ctx, action, ResultSuccess, nil, opts)
}

// LogError records a failed action
func (l *Logger) LogError(ctx context.Context, action string, err error, opts ...EventOption) error {
	return l.record(ctx, action, ResultError, err, opts)
}

func (l *Logger) record(ctx context.Context, action string, result Result, err error, opts []EventOption) error {
	event := l.eventFromContext(ctx)
	event.ID = uuid.New().String()
	event.CreatedAt = l.now().UTC()
	event.Action = action
	event.Result = result
	if err != nil {
		event.Error = err.Error()
	}

	for _, opt := range opts {
		opt(&event)
	}

	if err := event.Validate(); err != nil {
		return err
	}

	return l.storage.Store(ctx, event)
}

func (l *Logger) eventFromContext(ctx context.Context) Event {
	var event Event
	extract := func(fn ContextExtractor, dst *string) {
		if fn == nil {
			return
		}
		if v, ok := fn(ctx); ok {
			*dst = v
		}
	}

	extract(l.actorExtractor, &event.Actor)
	extract(l.requestIDExtractor, &event.RequestID)
	extract(l.ipExtractor, &event.IP)
	extract(l.userAgentExtractor, &event.UserAgent)
	return event
}
