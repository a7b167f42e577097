package queue

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/jobkit/pkg/broadcast"
	"github.com/dmitrymomot/jobkit/pkg/logger"
)

// Engine owns the registered queues, their workers and the lifecycle event bus.
type Engine struct {
	broker       Broker
	logger       *slog.Logger
	reporter     *asyncReporter
	events       *broadcast.MemoryBroadcaster[Event]
	pollInterval time.Duration
	now          func() time.Time

	mu         sync.RWMutex
	queues     map[string]*Queue
	running    bool
	pumpCancel context.CancelFunc
	pumpDone   chan struct{}
}

// NewEngine creates an engine on top of broker.
func NewEngine(broker Broker, opts ...EngineOption) (*Engine, error) {
	if broker == nil {
		return nil, ErrBrokerNil
	}

	options := &engineOptions{
		logger:        slog.Default(),
		reportTimeout: 5 * time.Second,
		pollInterval:  time.Second,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(options)
	}

	return &Engine{
		broker:       broker,
		logger:       options.logger.With(logger.Component("queue")),
		reporter:     newAsyncReporter(options.reporter, options.logger, options.reportTimeout),
		events:       broadcast.NewMemoryBroadcaster[Event](1024),
		pollInterval: options.pollInterval,
		now:          options.now,
		queues:       make(map[string]*Queue),
	}, nil
}

// RegisterQueue registers a named queue. Zero config fields get defaults.
func (e *Engine) RegisterQueue(cfg QueueConfig) (*Queue, error) {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.queues[cfg.Name]; ok {
		return nil, fmt.Errorf("%w: %s", ErrQueueAlreadyRegistered, cfg.Name)
	}

	q := &Queue{cfg: cfg, broker: e.broker}
	e.queues[cfg.Name] = q
	return q, nil
}

func (e *Engine) setProcessor(name string, p processor, opts ...ProcessorOption) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running {
		return ErrAlreadyStarted
	}

	q, ok := e.queues[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownQueue, name)
	}
	if q.processor != nil {
		return fmt.Errorf("%w: %s", ErrProcessorAlreadyRegistered, name)
	}

	for _, opt := range opts {
		opt(&q.cfg)
	}
	q.processor = p
	q.worker = newWorker(q.cfg, e.broker, p, e.pollInterval, e.logger, e.reporter)
	return nil
}

// Queue returns the registered queue with the given name.
func (e *Engine) Queue(name string) (*Queue, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	q, ok := e.queues[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownQueue, name)
	}
	return q, nil
}

// Queues returns all registered queues sorted by name.
func (e *Engine) Queues() []*Queue {
	e.mu.RLock()
	defer e.mu.RUnlock()

	queues := make([]*Queue, 0, len(e.queues))
	for _, q := range e.queues {
		queues = append(queues, q)
	}
	slices.SortFunc(queues, func(a, b *Queue) int { return cmp.Compare(a.cfg.Name, b.cfg.Name) })
	return queues
}

// Broker returns the underlying broker.
func (e *Engine) Broker() Broker { return e.broker }

// Ping checks broker connectivity.
func (e *Engine) Ping(ctx context.Context) error { return e.broker.Ping(ctx) }

// Enqueue adds payload to the queue named by payload.QueueName and returns
// the job ID. When a job with the same ID already exists in the queue the
// existing ID is returned and nothing is written.
func (e *Engine) Enqueue(ctx context.Context, payload Payload, opts ...EnqueueOption) (string, error) {
	if isNilPayload(payload) {
		return "", ErrPayloadNil
	}

	cfg, p, err := e.enqueueTarget(payload.QueueName())
	if err != nil {
		return "", err
	}

	if p != nil && p.payloadType() != payloadType(payload) {
		return "", fmt.Errorf("%w: queue %s expects %s, got %s",
			ErrPayloadMismatch, cfg.Name, p.payloadType(), payloadType(payload))
	}

	if v, ok := payload.(Validatable); ok {
		if err := v.Validate(); err != nil {
			return "", errors.Join(ErrInvalidPayload, err)
		}
	}

	options := &enqueueOptions{
		priority:    cfg.DefaultPriority,
		maxAttempts: cfg.MaxAttempts,
	}
	for _, opt := range opts {
		opt(options)
	}

	if !options.priority.Valid() {
		return "", ErrInvalidPriority
	}
	if options.maxAttempts < 1 {
		return "", ErrInvalidMaxAttempts
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return "", errors.Join(ErrPayloadMarshal, err)
	}

	now := e.now()
	scheduledAt := now
	if options.scheduledAt != nil {
		scheduledAt = *options.scheduledAt
	} else if options.delay > 0 {
		scheduledAt = now.Add(options.delay)
	}

	id := options.jobID
	if id == "" {
		id = uuid.NewString()
	}

	job := &Job{
		ID:          id,
		Queue:       cfg.Name,
		Name:        qualifiedStructName(payload),
		Payload:     data,
		Priority:    options.priority,
		MaxAttempts: options.maxAttempts,
		CreatedAt:   now,
		ScheduledAt: scheduledAt,
	}

	created, err := e.broker.Add(ctx, job)
	if err != nil {
		return "", fmt.Errorf("enqueue into %s: %w", cfg.Name, err)
	}

	if !created {
		e.logger.DebugContext(ctx, "job already exists, skipping duplicate",
			logger.Queue(job.Queue),
			logger.JobID(job.ID))
		return job.ID, nil
	}

	e.logger.DebugContext(ctx, "job enqueued",
		logger.Queue(job.Queue),
		logger.JobID(job.ID),
		logger.JobName(job.Name),
		slog.String("state", string(job.State)))

	if err := e.broker.PublishEvent(ctx, Event{
		Queue:      job.Queue,
		JobID:      job.ID,
		JobName:    job.Name,
		Transition: TransitionAdded,
		At:         now,
	}); err != nil {
		e.logger.DebugContext(ctx, "failed to publish job event", logger.JobID(job.ID), logger.Error(err))
	}

	return job.ID, nil
}

// enqueueTarget snapshots the queue config and processor, which
// RegisterProcessor may change concurrently.
func (e *Engine) enqueueTarget(name string) (QueueConfig, processor, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	q, ok := e.queues[name]
	if !ok {
		return QueueConfig{}, nil, fmt.Errorf("%w: %s", ErrUnknownQueue, name)
	}
	return q.cfg, q.processor, nil
}

// Subscribe returns a subscriber receiving every lifecycle event from all
// processes sharing the broker. Slow subscribers miss events rather than
// slowing the engine down.
func (e *Engine) Subscribe(ctx context.Context) (broadcast.Subscriber[Event], error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.startPump(); err != nil {
		return nil, err
	}
	return e.events.Subscribe(ctx), nil
}

// startPump forwards broker events to local subscribers. Callers hold e.mu.
func (e *Engine) startPump() error {
	if e.pumpCancel != nil {
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	events, err := e.broker.SubscribeEvents(ctx)
	if err != nil {
		cancel()
		return fmt.Errorf("subscribe to job events: %w", err)
	}

	done := make(chan struct{})
	e.pumpCancel = cancel
	e.pumpDone = done

	go func() {
		defer close(done)
		for ev := range events {
			_ = e.events.Broadcast(ctx, broadcast.Message[Event]{Data: ev})
		}
	}()

	return nil
}

// Start starts a worker for every queue with a registered processor.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running {
		return ErrAlreadyStarted
	}

	var workers []*Worker
	for _, q := range e.queues {
		if q.worker != nil {
			workers = append(workers, q.worker)
		}
	}
	if len(workers) == 0 {
		return ErrNoProcessors
	}

	if err := e.startPump(); err != nil {
		return err
	}

	for i, w := range workers {
		if err := w.Start(ctx); err != nil {
			for _, started := range workers[:i] {
				_ = started.Stop()
			}
			return err
		}
	}

	e.running = true
	e.logger.InfoContext(ctx, "job engine started", slog.Int("workers", len(workers)))
	return nil
}

// Stop stops all workers, waiting for in-flight jobs, then stops the event
// pump and flushes pending error reports. It is safe to call more than once.
func (e *Engine) Stop() error {
	e.mu.Lock()
	var workers []*Worker
	for _, q := range e.queues {
		if q.worker != nil {
			workers = append(workers, q.worker)
		}
	}
	e.running = false
	pumpCancel, pumpDone := e.pumpCancel, e.pumpDone
	e.pumpCancel, e.pumpDone = nil, nil
	e.mu.Unlock()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, w := range workers {
		wg.Add(1)
		go func(w *Worker) {
			defer wg.Done()
			if err := w.Stop(); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()

	if pumpCancel != nil {
		pumpCancel()
		<-pumpDone
	}

	e.reporter.wait()
	return errors.Join(errs...)
}

// Run starts the engine and returns a function suitable for errgroup
func (e *Engine) Run(ctx context.Context) func() error {
	return func() error {
		if err := e.Start(ctx); err != nil {
			return err
		}

		<-ctx.Done()

		return e.Stop()
	}
}

// Close stops the engine and closes every event subscriber.
func (e *Engine) Close() error {
	err := e.Stop()
	return errors.Join(err, e.events.Close())
}
