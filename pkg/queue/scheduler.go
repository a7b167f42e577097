package queue

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/dmitrymomot/jobkit/pkg/logger"
)

// Enqueuer adds jobs; *Engine implements it.
type Enqueuer interface {
	Enqueue(ctx context.Context, payload Payload, opts ...EnqueueOption) (string, error)
}

// TriggerState is the lifecycle state of a trigger.
type TriggerState string

const (
	TriggerScheduled TriggerState = "scheduled"
	TriggerFiring    TriggerState = "firing"
	TriggerStopped   TriggerState = "stopped"
)

// PayloadFactory builds the payload enqueued when a trigger fires.
type PayloadFactory func(fireTime time.Time) (Payload, error)

// StaticPayload returns a factory that always enqueues p.
func StaticPayload(p Payload) PayloadFactory {
	return func(time.Time) (Payload, error) { return p, nil }
}

// Trigger periodically enqueues a job.
type Trigger struct {
	Name     string
	Schedule Schedule
	// Location the schedule is evaluated in; defaults to UTC.
	Location *time.Location
	Payload  PayloadFactory
	// Options are applied to every enqueue; the job ID is always derived
	// from the trigger name and fire time.
	Options []EnqueueOption
}

// TriggerStatus is a point-in-time view of a trigger.
type TriggerStatus struct {
	Name      string       `json:"name"`
	Spec      string       `json:"spec"`
	Location  string       `json:"location"`
	Queue     string       `json:"queue,omitempty"`
	State     TriggerState `json:"state"`
	NextRun   *time.Time   `json:"next_run,omitempty"`
	LastRun   *time.Time   `json:"last_run,omitempty"`
	LastJobID string       `json:"last_job_id,omitempty"`
	LastError string       `json:"last_error,omitempty"`
	FireCount int64        `json:"fire_count"`
}

// SchedulerOption is a functional option for configuring a Scheduler
type SchedulerOption func(*schedulerOptions)

type schedulerOptions struct {
	logger         *slog.Logger
	reporter       ErrorReporter
	reportTimeout  time.Duration
	enqueueTimeout time.Duration
}

// WithSchedulerLogger sets a custom logger for the scheduler
func WithSchedulerLogger(logger *slog.Logger) SchedulerOption {
	return func(o *schedulerOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithSchedulerReporter reports failed fires.
func WithSchedulerReporter(r ErrorReporter) SchedulerOption {
	return func(o *schedulerOptions) {
		if r != nil {
			o.reporter = r
		}
	}
}

// WithEnqueueTimeout bounds a single enqueue made by a firing trigger.
func WithEnqueueTimeout(d time.Duration) SchedulerOption {
	return func(o *schedulerOptions) {
		if d > 0 {
			o.enqueueTimeout = d
		}
	}
}

// Scheduler runs triggers on independent timers. Firing only enqueues, so it
// never waits on job execution.
type Scheduler struct {
	enqueuer       Enqueuer
	logger         *slog.Logger
	reporter       *asyncReporter
	enqueueTimeout time.Duration

	mu       sync.Mutex
	triggers map[string]*triggerRunner
	ctx      context.Context
	cancel   context.CancelFunc
}

type triggerRunner struct {
	trigger Trigger

	mu       sync.Mutex
	status   TriggerStatus
	disabled bool
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewScheduler creates a new scheduler that enqueues through enqueuer.
func NewScheduler(enqueuer Enqueuer, opts ...SchedulerOption) (*Scheduler, error) {
	if enqueuer == nil {
		return nil, ErrEnqueuerNil
	}

	options := &schedulerOptions{
		logger:         slog.Default(),
		reportTimeout:  5 * time.Second,
		enqueueTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(options)
	}

	log := options.logger.With(logger.Component("scheduler"))
	return &Scheduler{
		enqueuer:       enqueuer,
		logger:         log,
		reporter:       newAsyncReporter(options.reporter, log, options.reportTimeout),
		enqueueTimeout: options.enqueueTimeout,
		triggers:       make(map[string]*triggerRunner),
	}, nil
}

// Add registers a trigger. Triggers added to a running scheduler start at once.
func (s *Scheduler) Add(t Trigger) error {
	if t.Name == "" {
		return fmt.Errorf("%w: trigger name is required", ErrInvalidSchedule)
	}
	if t.Schedule == nil {
		return fmt.Errorf("%w: trigger %s has no schedule", ErrInvalidSchedule, t.Name)
	}
	if t.Payload == nil {
		return fmt.Errorf("%w: trigger %s has no payload factory", ErrInvalidSchedule, t.Name)
	}
	if t.Location == nil {
		t.Location = time.UTC
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.triggers[t.Name]; exists {
		return fmt.Errorf("%w: %s", ErrTriggerExists, t.Name)
	}

	r := &triggerRunner{
		trigger: t,
		status: TriggerStatus{
			Name:     t.Name,
			Spec:     t.Schedule.String(),
			Location: t.Location.String(),
			State:    TriggerStopped,
		},
	}
	s.triggers[t.Name] = r

	s.logger.Info("registered trigger",
		logger.Trigger(t.Name),
		slog.String("schedule", r.status.Spec),
		slog.String("location", r.status.Location))

	if s.ctx != nil {
		s.startRunner(r)
	}
	return nil
}

// AddCron registers a trigger from a cron expression evaluated in loc.
func (s *Scheduler) AddCron(name, spec string, loc *time.Location, payload PayloadFactory, opts ...EnqueueOption) error {
	sched, err := Cron(spec)
	if err != nil {
		return fmt.Errorf("trigger %s: %w", name, err)
	}
	return s.Add(Trigger{Name: name, Schedule: sched, Location: loc, Payload: payload, Options: opts})
}

// Start starts every registered trigger.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.triggers) == 0 {
		return ErrSchedulerNotConfigured
	}
	if s.ctx != nil {
		return fmt.Errorf("scheduler: %w", ErrAlreadyStarted)
	}

	s.ctx, s.cancel = context.WithCancel(ctx)
	for _, r := range s.triggers {
		s.startRunner(r)
	}

	s.logger.Info("scheduler started", slog.Int("triggers", len(s.triggers)))
	return nil
}

// Stop halts every trigger and waits for in-progress fires.
// It is safe to call Stop more than once.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	cancel := s.cancel
	s.ctx, s.cancel = nil, nil
	runners := make([]*triggerRunner, 0, len(s.triggers))
	for _, r := range s.triggers {
		runners = append(runners, r)
	}
	s.mu.Unlock()

	if cancel == nil {
		return nil
	}

	cancel()
	for _, r := range runners {
		r.wait()
	}

	s.reporter.wait()
	s.logger.Info("scheduler stopped")
	return nil
}

// Run starts the scheduler and returns a function suitable for errgroup
func (s *Scheduler) Run(ctx context.Context) func() error {
	return func() error {
		if err := s.Start(ctx); err != nil {
			return err
		}

		<-ctx.Done()

		return s.Stop()
	}
}

// StopTrigger halts one trigger; it stays listed as stopped.
// Stopping an already stopped trigger is a no-op.
func (s *Scheduler) StopTrigger(name string) error {
	s.mu.Lock()
	r, ok := s.triggers[name]
	s.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrTriggerNotFound, name)
	}

	r.mu.Lock()
	r.disabled = true
	cancel := r.cancel
	r.cancel = nil
	r.mu.Unlock()

	if cancel != nil {
		cancel()
		r.wait()
		s.logger.Info("trigger stopped", logger.Trigger(name))
	}
	return nil
}

// Triggers returns the status of every trigger sorted by name.
func (s *Scheduler) Triggers() []TriggerStatus {
	s.mu.Lock()
	runners := make([]*triggerRunner, 0, len(s.triggers))
	for _, r := range s.triggers {
		runners = append(runners, r)
	}
	s.mu.Unlock()

	statuses := make([]TriggerStatus, 0, len(runners))
	for _, r := range runners {
		statuses = append(statuses, r.snapshot())
	}
	slices.SortFunc(statuses, func(a, b TriggerStatus) int { return cmp.Compare(a.Name, b.Name) })
	return statuses
}

// startRunner must be called with s.mu held.
func (s *Scheduler) startRunner(r *triggerRunner) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.disabled || r.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(s.ctx)
	r.cancel = cancel
	r.done = make(chan struct{})
	go s.runTrigger(ctx, r, r.done)
}

func (s *Scheduler) runTrigger(ctx context.Context, r *triggerRunner, done chan struct{}) {
	defer close(done)
	defer r.setStopped()

	loc := r.trigger.Location
	var last time.Time

	for {
		from := time.Now().In(loc)
		if last.After(from) {
			from = last
		}

		next := r.trigger.Schedule.Next(from)
		if next.IsZero() {
			s.logger.Warn("trigger has no future fire time", logger.Trigger(r.trigger.Name))
			return
		}
		r.setScheduled(next)

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		s.fire(ctx, r, next)
		last = next
	}
}

func (s *Scheduler) fire(ctx context.Context, r *triggerRunner, fireTime time.Time) {
	name := r.trigger.Name
	r.setFiring()

	var (
		jobID string
		queue string
		err   error
	)

	payload, err := r.trigger.Payload(fireTime)
	if err == nil && isNilPayload(payload) {
		err = ErrPayloadNil
	}
	if err == nil {
		queue = payload.QueueName()

		enqueueCtx, cancel := context.WithTimeout(ctx, s.enqueueTimeout)
		opts := append(slices.Clone(r.trigger.Options), WithJobID(triggerJobID(name, fireTime)))
		jobID, err = s.enqueuer.Enqueue(enqueueCtx, payload, opts...)
		cancel()
	}

	r.recordFire(fireTime, queue, jobID, err)

	if err != nil {
		s.logger.Error("trigger failed to enqueue job",
			logger.Trigger(name),
			slog.Time("fire_time", fireTime),
			logger.Error(err))

		s.reporter.report(ErrorReport{
			Kind:    ReportTriggerError,
			Queue:   queue,
			Trigger: name,
			Error:   err.Error(),
			At:      time.Now(),
		})
		return
	}

	s.logger.Info("trigger fired",
		logger.Trigger(name),
		logger.Queue(queue),
		logger.JobID(jobID),
		slog.Time("fire_time", fireTime))
}

// triggerJobID makes repeated fires for the same instant collapse into one job.
func triggerJobID(name string, fireTime time.Time) string {
	return fmt.Sprintf("cron:%s:%d", name, fireTime.UnixMilli())
}

func (r *triggerRunner) setScheduled(next time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status.State = TriggerScheduled
	r.status.NextRun = &next
}

func (r *triggerRunner) setFiring() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status.State = TriggerFiring
}

func (r *triggerRunner) setStopped() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status.State = TriggerStopped
	r.status.NextRun = nil
	r.cancel = nil
}

func (r *triggerRunner) recordFire(fireTime time.Time, queue, jobID string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.status.LastRun = &fireTime
	r.status.FireCount++
	if queue != "" {
		r.status.Queue = queue
	}
	if err != nil {
		r.status.LastError = err.Error()
		return
	}
	r.status.LastJobID = jobID
	r.status.LastError = ""
}

func (r *triggerRunner) snapshot() TriggerStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	st := r.status
	st.NextRun = cloneTime(r.status.NextRun)
	st.LastRun = cloneTime(r.status.LastRun)
	return st
}

func (r *triggerRunner) wait() {
	r.mu.Lock()
	done := r.done
	r.mu.Unlock()

	if done != nil {
		<-done
	}
}
