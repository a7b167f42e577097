package queue

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/dmitrymomot/jobkit/pkg/broadcast"
)

const stalledErrorMessage = "job stalled: lease expired"

// MemoryBroker is an in-process Broker for tests and local development.
// All state lives behind a single mutex; it is not shared across processes.
type MemoryBroker struct {
	mu     sync.Mutex
	queues map[string]*memoryQueue
	seq    uint64
	down   error
	now    func() time.Time
	events *broadcast.MemoryBroadcaster[Event]
}

type memoryQueue struct {
	jobs   map[string]*memoryJob
	paused bool
	notify chan struct{}
}

type memoryJob struct {
	job *Job
	seq uint64
}

// MemoryBrokerOption configures a MemoryBroker
type MemoryBrokerOption func(*MemoryBroker)

// WithMemoryClock overrides the broker clock.
func WithMemoryClock(now func() time.Time) MemoryBrokerOption {
	return func(b *MemoryBroker) {
		if now != nil {
			b.now = now
		}
	}
}

// NewMemoryBroker creates a new in-memory broker.
func NewMemoryBroker(opts ...MemoryBrokerOption) *MemoryBroker {
	b := &MemoryBroker{
		queues: make(map[string]*memoryQueue),
		now:    time.Now,
		events: broadcast.NewMemoryBroadcaster[Event](1024),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// SetUnavailable makes every subsequent call fail with ErrBrokerUnavailable
// wrapping err. Passing nil restores the broker.
func (b *MemoryBroker) SetUnavailable(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.down = err
}

// Close releases event subscribers.
func (b *MemoryBroker) Close() error {
	return b.events.Close()
}

func (b *MemoryBroker) Add(ctx context.Context, job *Job) (bool, error) {
	if job == nil {
		return false, fmt.Errorf("%w: job is nil", ErrInvalidPayload)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.available(); err != nil {
		return false, err
	}

	q := b.queue(job.Queue)
	if _, ok := q.jobs[job.ID]; ok {
		return false, nil
	}

	j := job.Clone()
	if j.ScheduledAt.After(b.now()) {
		j.State = StateDelayed
	} else {
		j.State = StateWaiting
		q.signal()
	}
	job.State = j.State

	b.seq++
	q.jobs[j.ID] = &memoryJob{job: j, seq: b.seq}

	return true, nil
}

func (b *MemoryBroker) Lease(ctx context.Context, queue, workerID string, lease time.Duration) (*Job, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.available(); err != nil {
		return nil, err
	}

	now := b.now()
	q := b.queue(queue)
	q.promote(now)

	if q.paused {
		return nil, ErrNoJobAvailable
	}

	var best *memoryJob
	for _, mj := range q.jobs {
		if mj.job.State != StateWaiting {
			continue
		}
		if best == nil || compareWaiting(mj, best) < 0 {
			best = mj
		}
	}
	if best == nil {
		return nil, ErrNoJobAvailable
	}

	j := best.job
	j.State = StateActive
	j.WorkerID = workerID
	j.ProcessedAt = timePtr(now)
	j.LeaseExpiresAt = timePtr(now.Add(lease))

	return j.Clone(), nil
}

func (b *MemoryBroker) Complete(ctx context.Context, queue, jobID, workerID string, keep Retention) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.available(); err != nil {
		return err
	}

	q := b.queue(queue)
	j, err := q.leased(jobID, workerID)
	if err != nil {
		return err
	}

	now := b.now()
	j.Attempts++
	j.State = StateCompleted
	j.Progress = 100
	j.FinishedAt = timePtr(now)
	j.WorkerID = ""
	j.LeaseExpiresAt = nil

	q.trim(StateCompleted, keep, now)
	return nil
}

func (b *MemoryBroker) Fail(ctx context.Context, queue, jobID, workerID string, f Failure) (JobState, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.available(); err != nil {
		return "", err
	}

	q := b.queue(queue)
	j, err := q.leased(jobID, workerID)
	if err != nil {
		return "", err
	}

	now := b.now()
	j.Attempts++
	j.LastError = f.Error
	j.Permanent = f.Permanent
	j.WorkerID = ""
	j.LeaseExpiresAt = nil

	if j.Attempts >= j.MaxAttempts {
		j.State = StateFailed
		j.FinishedAt = timePtr(now)
		q.trim(StateFailed, f.Retention, now)
		return StateFailed, nil
	}

	j.State = StateDelayed
	j.ScheduledAt = now.Add(f.RetryDelay)
	return StateDelayed, nil
}

func (b *MemoryBroker) ExtendLease(ctx context.Context, queue, jobID, workerID string, lease time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.available(); err != nil {
		return err
	}

	j, err := b.queue(queue).leased(jobID, workerID)
	if err != nil {
		return err
	}
	j.LeaseExpiresAt = timePtr(b.now().Add(lease))
	return nil
}

func (b *MemoryBroker) UpdateProgress(ctx context.Context, queue, jobID, workerID string, progress int) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.available(); err != nil {
		return err
	}

	j, err := b.queue(queue).leased(jobID, workerID)
	if err != nil {
		return err
	}
	j.Progress = clampProgress(progress)
	return nil
}

func (b *MemoryBroker) RequeueStalled(ctx context.Context, queue string, keep Retention) ([]StalledJob, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.available(); err != nil {
		return nil, err
	}

	now := b.now()
	q := b.queue(queue)

	var stalled []StalledJob
	var failed bool
	for _, mj := range q.jobs {
		j := mj.job
		if j.State != StateActive || j.LeaseExpiresAt == nil || !j.LeaseExpiresAt.Before(now) {
			continue
		}

		j.Attempts++
		j.WorkerID = ""
		j.LeaseExpiresAt = nil

		if j.Attempts >= j.MaxAttempts {
			j.State = StateFailed
			j.FinishedAt = timePtr(now)
			j.LastError = stalledErrorMessage
			failed = true
		} else {
			j.State = StateWaiting
			j.ScheduledAt = now
			q.signal()
		}
		stalled = append(stalled, StalledJob{ID: j.ID, State: j.State, Attempts: j.Attempts})
	}

	if failed {
		q.trim(StateFailed, keep, now)
	}

	slices.SortFunc(stalled, func(a, b StalledJob) int { return cmp.Compare(a.ID, b.ID) })
	return stalled, nil
}

func (b *MemoryBroker) WaitForJob(ctx context.Context, queue string, timeout time.Duration) error {
	b.mu.Lock()
	notify := b.queue(queue).notify
	b.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-notify:
	case <-timer.C:
	}
	return nil
}

func (b *MemoryBroker) PublishEvent(ctx context.Context, ev Event) error {
	return b.events.Broadcast(ctx, broadcast.Message[Event]{Data: ev})
}

func (b *MemoryBroker) SubscribeEvents(ctx context.Context) (<-chan Event, error) {
	sub := b.events.Subscribe(ctx)
	out := make(chan Event, 64)

	go func() {
		defer close(out)
		for msg := range sub.Receive(ctx) {
			select {
			case out <- msg.Data:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

func (b *MemoryBroker) Pause(ctx context.Context, queue string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.available(); err != nil {
		return err
	}
	b.queue(queue).paused = true
	return nil
}

func (b *MemoryBroker) Resume(ctx context.Context, queue string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.available(); err != nil {
		return err
	}
	q := b.queue(queue)
	q.paused = false
	q.signal()
	return nil
}

func (b *MemoryBroker) IsPaused(ctx context.Context, queue string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.available(); err != nil {
		return false, err
	}
	return b.queue(queue).paused, nil
}

func (b *MemoryBroker) Counts(ctx context.Context, queue string) (Counts, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.available(); err != nil {
		return Counts{}, err
	}

	q := b.queue(queue)
	var c Counts
	for _, mj := range q.jobs {
		switch mj.job.State {
		case StateWaiting:
			c.Waiting++
		case StateActive:
			c.Active++
		case StateDelayed:
			c.Delayed++
		case StateCompleted:
			c.Completed++
		case StateFailed:
			c.Failed++
		}
	}
	if q.paused {
		c.Paused = c.Waiting
	}
	return c, nil
}

func (b *MemoryBroker) Jobs(ctx context.Context, queue string, state JobState, offset, limit int) ([]*Job, error) {
	if !state.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidState, state)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.available(); err != nil {
		return nil, err
	}

	q := b.queue(queue)
	matched := q.inState(state)
	sortForListing(matched, state)

	if offset < 0 {
		offset = 0
	}
	if offset >= len(matched) {
		return []*Job{}, nil
	}
	matched = matched[offset:]
	if limit > 0 && limit < len(matched) {
		matched = matched[:limit]
	}

	jobs := make([]*Job, 0, len(matched))
	for _, mj := range matched {
		jobs = append(jobs, mj.job.Clone())
	}
	return jobs, nil
}

func (b *MemoryBroker) Job(ctx context.Context, queue, jobID string) (*Job, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.available(); err != nil {
		return nil, err
	}

	mj, ok := b.queue(queue).jobs[jobID]
	if !ok {
		return nil, ErrJobNotFound
	}
	return mj.job.Clone(), nil
}

func (b *MemoryBroker) Retry(ctx context.Context, queue, jobID string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.available(); err != nil {
		return false, err
	}

	q := b.queue(queue)
	mj, ok := q.jobs[jobID]
	if !ok {
		return false, ErrJobNotFound
	}
	if mj.job.State != StateFailed {
		return false, nil
	}

	j := mj.job
	j.State = StateWaiting
	j.Attempts = 0
	j.Progress = 0
	j.Permanent = false
	j.ScheduledAt = b.now()
	j.ProcessedAt = nil
	j.FinishedAt = nil
	q.signal()

	return true, nil
}

func (b *MemoryBroker) Remove(ctx context.Context, queue, jobID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.available(); err != nil {
		return err
	}

	q := b.queue(queue)
	if _, ok := q.jobs[jobID]; !ok {
		return ErrJobNotFound
	}
	delete(q.jobs, jobID)
	return nil
}

func (b *MemoryBroker) Clean(ctx context.Context, queue string, state JobState, olderThan time.Duration, limit int) (int, error) {
	if !state.Finished() {
		return 0, fmt.Errorf("%w: clean supports completed and failed, got %q", ErrInvalidState, state)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.available(); err != nil {
		return 0, err
	}

	q := b.queue(queue)
	cutoff := b.now().Add(-olderThan)

	candidates := q.inState(state)
	slices.SortFunc(candidates, func(a, b *memoryJob) int {
		return a.job.FinishedAt.Compare(*b.job.FinishedAt)
	})

	removed := 0
	for _, mj := range candidates {
		if limit > 0 && removed >= limit {
			break
		}
		if !mj.job.FinishedAt.Before(cutoff) {
			break
		}
		delete(q.jobs, mj.job.ID)
		removed++
	}
	return removed, nil
}

func (b *MemoryBroker) Ping(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.available()
}

func (b *MemoryBroker) available() error {
	if b.down != nil {
		return brokerError(b.down)
	}
	return nil
}

func (b *MemoryBroker) queue(name string) *memoryQueue {
	q, ok := b.queues[name]
	if !ok {
		q = &memoryQueue{
			jobs:   make(map[string]*memoryJob),
			notify: make(chan struct{}, 1),
		}
		b.queues[name] = q
	}
	return q
}

func (q *memoryQueue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *memoryQueue) promote(now time.Time) {
	for _, mj := range q.jobs {
		if mj.job.State == StateDelayed && !mj.job.ScheduledAt.After(now) {
			mj.job.State = StateWaiting
		}
	}
}

func (q *memoryQueue) leased(jobID, workerID string) (*Job, error) {
	mj, ok := q.jobs[jobID]
	if !ok || mj.job.State != StateActive || mj.job.WorkerID != workerID {
		return nil, ErrLeaseLost
	}
	return mj.job, nil
}

func (q *memoryQueue) inState(state JobState) []*memoryJob {
	var out []*memoryJob
	for _, mj := range q.jobs {
		if mj.job.State == state {
			out = append(out, mj)
		}
	}
	return out
}

// trim applies retention to finished jobs in state, keeping the newest.
func (q *memoryQueue) trim(state JobState, keep Retention, now time.Time) {
	if keep.Age <= 0 && keep.Count <= 0 {
		return
	}

	finished := q.inState(state)
	slices.SortFunc(finished, func(a, b *memoryJob) int {
		return b.job.FinishedAt.Compare(*a.job.FinishedAt)
	})

	cutoff := now.Add(-keep.Age)
	for i, mj := range finished {
		tooMany := keep.Count > 0 && i >= keep.Count
		tooOld := keep.Age > 0 && mj.job.FinishedAt.Before(cutoff)
		if tooMany || tooOld {
			delete(q.jobs, mj.job.ID)
		}
	}
}

// compareWaiting orders by priority, then ready time, then insertion order.
func compareWaiting(a, b *memoryJob) int {
	if c := cmp.Compare(a.job.Priority, b.job.Priority); c != 0 {
		return c
	}
	if c := a.job.ScheduledAt.Compare(b.job.ScheduledAt); c != 0 {
		return c
	}
	return cmp.Compare(a.seq, b.seq)
}

func sortForListing(jobs []*memoryJob, state JobState) {
	switch state {
	case StateWaiting:
		slices.SortFunc(jobs, compareWaiting)
	case StateDelayed:
		slices.SortFunc(jobs, func(a, b *memoryJob) int {
			return a.job.ScheduledAt.Compare(b.job.ScheduledAt)
		})
	case StateActive:
		slices.SortFunc(jobs, func(a, b *memoryJob) int {
			return a.job.LeaseExpiresAt.Compare(*b.job.LeaseExpiresAt)
		})
	case StateCompleted, StateFailed:
		slices.SortFunc(jobs, func(a, b *memoryJob) int {
			return b.job.FinishedAt.Compare(*a.job.FinishedAt)
		})
	}
}
