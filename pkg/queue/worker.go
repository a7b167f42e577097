package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/jobkit/pkg/logger"
)

// outcomeTimeout bounds broker calls that record a job's result.
const outcomeTimeout = 10 * time.Second

// Worker leases jobs from one queue and runs them through its processor,
// at most cfg.Concurrency at a time.
type Worker struct {
	cfg          QueueConfig
	broker       WorkerBroker
	processor    processor
	id           string
	sem          chan struct{}
	wg           sync.WaitGroup // in-flight jobs
	loops        sync.WaitGroup // lease loop and stall reaper
	mu           sync.Mutex
	pollInterval time.Duration
	logger       *slog.Logger
	reporter     *asyncReporter

	cancel context.CancelFunc
}

func newWorker(cfg QueueConfig, broker WorkerBroker, p processor, pollInterval time.Duration, log *slog.Logger, reporter *asyncReporter) *Worker {
	id := workerID()
	return &Worker{
		cfg:          cfg,
		broker:       broker,
		processor:    p,
		id:           id,
		sem:          make(chan struct{}, cfg.Concurrency),
		pollInterval: pollInterval,
		logger: log.With(
			logger.Component("worker"),
			logger.Queue(cfg.Name),
			logger.WorkerID(id),
		),
		reporter: reporter,
	}
}

func workerID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown"
	}
	return fmt.Sprintf("%s:%d:%s", host, os.Getpid(), uuid.NewString()[:8])
}

// ID returns the worker identifier. Leased jobs record it as the prefix of
// their per-lease token.
func (w *Worker) ID() string { return w.id }

// Queue returns the name of the queue the worker consumes.
func (w *Worker) Queue() string { return w.cfg.Name }

// Active returns the number of jobs currently being processed.
func (w *Worker) Active() int { return len(w.sem) }

// Start begins leasing jobs in the background
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.cancel != nil {
		return fmt.Errorf("worker for queue %q: %w", w.cfg.Name, ErrAlreadyStarted)
	}

	ctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	w.loops.Add(2)
	go w.run(ctx)
	go w.reapStalled(ctx)

	w.logger.Info("worker started",
		slog.Int("concurrency", cap(w.sem)),
		slog.Duration("lease", w.cfg.LeaseDuration))

	return nil
}

// Stop stops leasing and waits for in-flight jobs to finish.
// It is safe to call Stop on a stopped worker.
func (w *Worker) Stop() error {
	w.mu.Lock()
	cancel := w.cancel
	w.cancel = nil
	w.mu.Unlock()

	if cancel == nil {
		return nil
	}

	cancel()
	w.loops.Wait()

	w.logger.Info("worker stopping, waiting for active jobs to complete",
		slog.Int("active", w.Active()))

	w.wg.Wait()

	w.logger.Info("worker stopped")
	return nil
}

// Run starts the worker and returns a function suitable for errgroup
func (w *Worker) Run(ctx context.Context) func() error {
	return func() error {
		if err := w.Start(ctx); err != nil {
			return err
		}

		<-ctx.Done()

		return w.Stop()
	}
}

// run is the lease loop. wg.Add only happens here, so once the loop has
// exited Stop can safely wait on wg.
func (w *Worker) run(ctx context.Context) {
	defer w.loops.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case w.sem <- struct{}{}:
		}

		token := w.leaseToken()
		job, err := w.lease(ctx, token)
		if err != nil {
			<-w.sem
			if ctx.Err() != nil {
				return
			}
			if !errors.Is(err, ErrNoJobAvailable) {
				w.logger.Error("failed to lease job", logger.Error(err))
				if !sleep(ctx, w.pollInterval) {
					return
				}
				continue
			}
			if err := w.broker.WaitForJob(ctx, w.cfg.Name, w.pollInterval); err != nil && ctx.Err() == nil {
				w.logger.Warn("failed to wait for job signal", logger.Error(err))
				if !sleep(ctx, w.pollInterval) {
					return
				}
			}
			continue
		}

		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			defer func() { <-w.sem }()
			w.process(ctx, job, token)
		}()
	}
}

// leaseToken identifies a single lease. Concurrency slots share the worker
// ID, so a slot whose lease expired must not be able to act on the job
// after another slot leased it again.
func (w *Worker) leaseToken() string {
	return w.id + ":" + uuid.NewString()
}

// lease runs detached from ctx so a shutdown never abandons a job the
// broker already handed out.
func (w *Worker) lease(ctx context.Context, token string) (*Job, error) {
	leaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), outcomeTimeout)
	defer cancel()
	return w.broker.Lease(leaseCtx, w.cfg.Name, token, w.cfg.LeaseDuration)
}

func (w *Worker) process(ctx context.Context, job *Job, token string) {
	start := time.Now()
	attempt := job.Attempts + 1
	log := w.logger.With(
		logger.JobID(job.ID),
		logger.JobName(job.Name),
		logger.Attempt(attempt),
	)

	log.Debug("job leased")
	w.emit(Event{Queue: job.Queue, JobID: job.ID, JobName: job.Name, Transition: TransitionActive, Attempt: attempt})

	// The processor context is not tied to the worker lifecycle so a graceful
	// shutdown lets in-flight jobs complete.
	jobCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	if w.cfg.JobTimeout > 0 {
		cancel()
		jobCtx, cancel = context.WithTimeout(context.WithoutCancel(ctx), w.cfg.JobTimeout)
	}
	defer cancel()
	jobCtx = ContextWithJob(jobCtx, job)

	stopRenewal := w.renewLease(context.WithoutCancel(jobCtx), job, token, log)
	err := w.execute(jobCtx, job, token, log)
	stopRenewal()

	outCtx, outCancel := context.WithTimeout(context.WithoutCancel(ctx), outcomeTimeout)
	defer outCancel()

	if err == nil {
		w.complete(outCtx, job, token, time.Since(start), log)
		return
	}
	w.fail(outCtx, job, token, err, time.Since(start), log)
}

func (w *Worker) execute(ctx context.Context, job *Job, token string, log *slog.Logger) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in processor: %v", r)
			log.Error("processor panicked", slog.Any("panic", r))
		}
	}()

	return w.processor.process(ctx, job, &progressReporter{w: w, job: job, token: token})
}

func (w *Worker) renewLease(ctx context.Context, job *Job, token string, log *slog.Logger) (stop func()) {
	done := make(chan struct{})
	stopped := make(chan struct{})

	go func() {
		defer close(stopped)

		ticker := time.NewTicker(max(w.cfg.LeaseDuration/2, time.Millisecond))
		defer ticker.Stop()

		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				err := w.broker.ExtendLease(ctx, job.Queue, job.ID, token, w.cfg.LeaseDuration)
				if errors.Is(err, ErrLeaseLost) {
					log.Warn("job lease lost while processing, result will be discarded")
					return
				}
				if err != nil {
					log.Warn("failed to extend job lease", logger.Error(err))
				}
			}
		}
	}()

	return func() {
		close(done)
		<-stopped
	}
}

func (w *Worker) complete(ctx context.Context, job *Job, token string, duration time.Duration, log *slog.Logger) {
	err := w.broker.Complete(ctx, job.Queue, job.ID, token, w.cfg.RemoveOnComplete)
	if errors.Is(err, ErrLeaseLost) {
		log.Warn("job finished after its lease was lost, result discarded", logger.Duration(duration))
		return
	}
	if err != nil {
		log.Error("failed to mark job completed", logger.Error(err))
		return
	}

	log.Info("job completed", logger.Duration(duration))
	w.emit(Event{
		Queue:      job.Queue,
		JobID:      job.ID,
		JobName:    job.Name,
		Transition: TransitionCompleted,
		Attempt:    job.Attempts + 1,
		Duration:   duration,
	})
}

func (w *Worker) fail(ctx context.Context, job *Job, token string, execErr error, duration time.Duration, log *slog.Logger) {
	attempt := job.Attempts + 1
	permanent := IsPermanent(execErr)
	delay := w.cfg.Backoff.Delay(attempt)

	state, err := w.broker.Fail(ctx, job.Queue, job.ID, token, Failure{
		Error:      execErr.Error(),
		Permanent:  permanent,
		RetryDelay: delay,
		Retention:  w.cfg.RemoveOnFail,
	})
	if errors.Is(err, ErrLeaseLost) {
		log.Warn("job failed after its lease was lost, result discarded", logger.Error(execErr))
		return
	}
	if err != nil {
		log.Error("failed to record job failure", logger.Error(errors.Join(execErr, err)))
		return
	}

	ev := Event{
		Queue:     job.Queue,
		JobID:     job.ID,
		JobName:   job.Name,
		Attempt:   attempt,
		Duration:  duration,
		Error:     execErr.Error(),
		Permanent: permanent,
	}

	if state == StateFailed {
		log.Error("job failed",
			slog.Int("max_attempts", job.MaxAttempts),
			slog.Bool("permanent", permanent),
			logger.Duration(duration),
			logger.Error(execErr))

		ev.Transition = TransitionFailed
		w.emit(ev)
		w.reporter.report(ErrorReport{
			Kind:        ReportJobFailed,
			Queue:       job.Queue,
			JobID:       job.ID,
			JobName:     job.Name,
			Attempts:    attempt,
			MaxAttempts: job.MaxAttempts,
			Error:       execErr.Error(),
			Permanent:   permanent,
			At:          time.Now(),
		})
		return
	}

	log.Warn("job failed, retry scheduled",
		slog.Duration("retry_in", delay),
		slog.Bool("permanent", permanent),
		logger.Error(execErr))

	ev.Transition = TransitionRetrying
	w.emit(ev)
}

func (w *Worker) reapStalled(ctx context.Context) {
	defer w.loops.Done()

	// recover jobs left behind by a crashed process right away
	_, _ = w.CheckStalled(ctx)

	ticker := time.NewTicker(w.cfg.StalledInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = w.CheckStalled(ctx)
		}
	}
}

// CheckStalled returns expired leases to waiting (or to failed when attempts
// are exhausted) and publishes a stalled event for each.
func (w *Worker) CheckStalled(ctx context.Context) ([]StalledJob, error) {
	stalled, err := w.broker.RequeueStalled(ctx, w.cfg.Name, w.cfg.RemoveOnFail)
	if err != nil {
		if ctx.Err() == nil {
			w.logger.Error("failed to requeue stalled jobs", logger.Error(err))
		}
		return nil, err
	}

	for _, s := range stalled {
		w.logger.Warn("job stalled, lease expired",
			logger.JobID(s.ID),
			logger.Attempt(s.Attempts),
			slog.String("state", string(s.State)))

		w.emit(Event{
			Queue:      w.cfg.Name,
			JobID:      s.ID,
			Transition: TransitionStalled,
			Attempt:    s.Attempts,
			Error:      stalledErrorMessage,
		})

		if s.State == StateFailed {
			w.emit(Event{
				Queue:      w.cfg.Name,
				JobID:      s.ID,
				Transition: TransitionFailed,
				Attempt:    s.Attempts,
				Error:      stalledErrorMessage,
			})
		}

		w.reporter.report(ErrorReport{
			Kind:     ReportJobStalled,
			Queue:    w.cfg.Name,
			JobID:    s.ID,
			Attempts: s.Attempts,
			Error:    stalledErrorMessage,
			At:       time.Now(),
		})
	}

	return stalled, nil
}

func (w *Worker) emit(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}

	ctx, cancel := context.WithTimeout(context.Background(), outcomeTimeout)
	defer cancel()

	if err := w.broker.PublishEvent(ctx, ev); err != nil {
		w.logger.Debug("failed to publish job event",
			logger.JobID(ev.JobID),
			logger.Event(string(ev.Transition)),
			logger.Error(err))
	}
}

// sleep waits for d or until ctx is done; it reports whether ctx is still live.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
