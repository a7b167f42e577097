package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisBroker stores queues in Redis.
//
// Per queue it keeps a hash per job and sorted sets for the waiting
// (priority then ready time), delayed (ready time), active (lease expiry),
// completed and failed (finish time) states. Every transition runs as a Lua
// script so concurrent workers in any number of processes never lease the
// same job twice.
type RedisBroker struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
	logger *slog.Logger
}

// RedisBrokerOption configures a RedisBroker
type RedisBrokerOption func(*RedisBroker)

// WithKeyPrefix sets the prefix of every key written by the broker.
func WithKeyPrefix(prefix string) RedisBrokerOption {
	return func(b *RedisBroker) {
		if prefix != "" {
			b.prefix = prefix
		}
	}
}

// WithRedisClock overrides the broker clock.
func WithRedisClock(now func() time.Time) RedisBrokerOption {
	return func(b *RedisBroker) {
		if now != nil {
			b.now = now
		}
	}
}

// WithRedisLogger sets the logger used for undecodable events.
func WithRedisLogger(logger *slog.Logger) RedisBrokerOption {
	return func(b *RedisBroker) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// NewRedisBroker creates a broker on top of an existing client.
func NewRedisBroker(client redis.UniversalClient, opts ...RedisBrokerOption) (*RedisBroker, error) {
	if client == nil {
		return nil, ErrBrokerNil
	}

	b := &RedisBroker{
		client: client,
		prefix: "jobkit",
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

type redisKeys struct {
	base      string
	waiting   string
	delayed   string
	active    string
	completed string
	failed    string
	paused    string
	notify    string
	events    string
}

// keys uses a hash tag so all keys of one queue share a cluster slot.
func (b *RedisBroker) keys(queue string) redisKeys {
	base := fmt.Sprintf("%s:{%s}", b.prefix, queue)
	return redisKeys{
		base:      base,
		waiting:   base + ":waiting",
		delayed:   base + ":delayed",
		active:    base + ":active",
		completed: base + ":completed",
		failed:    base + ":failed",
		paused:    base + ":paused",
		notify:    base + ":notify",
		events:    base + ":events",
	}
}

func (k redisKeys) set(state JobState) string {
	switch state {
	case StateWaiting:
		return k.waiting
	case StateDelayed:
		return k.delayed
	case StateActive:
		return k.active
	case StateCompleted:
		return k.completed
	case StateFailed:
		return k.failed
	}
	return ""
}

func (b *RedisBroker) Add(ctx context.Context, job *Job) (bool, error) {
	if job == nil {
		return false, fmt.Errorf("%w: job is nil", ErrInvalidPayload)
	}

	k := b.keys(job.Queue)
	now := b.now()
	readyAt := job.ScheduledAt.UnixMilli()

	args := []any{k.base, job.ID, readyAt, now.UnixMilli(), waitingScore(job.Priority, readyAt)}
	args = append(args, jobToHash(job)...)

	created, err := addScript.Run(ctx, b.client, []string{k.waiting, k.delayed, k.notify}, args...).Int()
	if err != nil {
		return false, brokerError(err)
	}

	if created == 1 {
		job.State = StateWaiting
		if job.ScheduledAt.After(now) {
			job.State = StateDelayed
		}
	}
	return created == 1, nil
}

func (b *RedisBroker) Lease(ctx context.Context, queue, workerID string, lease time.Duration) (*Job, error) {
	k := b.keys(queue)
	now := b.now()

	res, err := leaseScript.Run(ctx, b.client,
		[]string{k.waiting, k.delayed, k.active, k.paused},
		k.base, now.UnixMilli(), now.Add(lease).UnixMilli(), workerID,
	).StringSlice()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNoJobAvailable
	}
	if err != nil {
		return nil, brokerError(err)
	}

	return jobFromHash(pairsToMap(res))
}

func (b *RedisBroker) Complete(ctx context.Context, queue, jobID, workerID string, keep Retention) error {
	k := b.keys(queue)
	now := b.now()

	ok, err := completeScript.Run(ctx, b.client,
		[]string{k.active, k.completed},
		k.base, jobID, workerID, now.UnixMilli(), keep.Age.Milliseconds(), retentionCount(keep),
	).Int()
	if err != nil {
		return brokerError(err)
	}
	if ok == 0 {
		return ErrLeaseLost
	}
	return nil
}

func (b *RedisBroker) Fail(ctx context.Context, queue, jobID, workerID string, f Failure) (JobState, error) {
	k := b.keys(queue)
	now := b.now()

	res, err := failScript.Run(ctx, b.client,
		[]string{k.active, k.delayed, k.failed},
		k.base, jobID, workerID, now.UnixMilli(), f.Error, boolFlag(f.Permanent),
		f.RetryDelay.Milliseconds(), f.Retention.Age.Milliseconds(), retentionCount(f.Retention),
	).Text()
	if err != nil {
		return "", brokerError(err)
	}

	switch res {
	case "failed":
		return StateFailed, nil
	case "delayed":
		return StateDelayed, nil
	default:
		return "", ErrLeaseLost
	}
}

func (b *RedisBroker) ExtendLease(ctx context.Context, queue, jobID, workerID string, lease time.Duration) error {
	k := b.keys(queue)

	ok, err := extendScript.Run(ctx, b.client, []string{k.active},
		k.base, jobID, workerID, b.now().Add(lease).UnixMilli(),
	).Int()
	if err != nil {
		return brokerError(err)
	}
	if ok == 0 {
		return ErrLeaseLost
	}
	return nil
}

func (b *RedisBroker) UpdateProgress(ctx context.Context, queue, jobID, workerID string, progress int) error {
	k := b.keys(queue)

	ok, err := progressScript.Run(ctx, b.client, []string{k.active},
		k.base, jobID, workerID, clampProgress(progress),
	).Int()
	if err != nil {
		return brokerError(err)
	}
	if ok == 0 {
		return ErrLeaseLost
	}
	return nil
}

func (b *RedisBroker) RequeueStalled(ctx context.Context, queue string, keep Retention) ([]StalledJob, error) {
	k := b.keys(queue)

	res, err := stalledScript.Run(ctx, b.client,
		[]string{k.active, k.waiting, k.failed, k.notify},
		k.base, b.now().UnixMilli(), keep.Age.Milliseconds(), retentionCount(keep),
	).StringSlice()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, brokerError(err)
	}

	stalled := make([]StalledJob, 0, len(res)/3)
	for i := 0; i+2 < len(res); i += 3 {
		attempts, _ := strconv.Atoi(res[i+2])
		stalled = append(stalled, StalledJob{ID: res[i], State: JobState(res[i+1]), Attempts: attempts})
	}
	return stalled, nil
}

// WaitForJob blocks on the queue's notify list. Redis BLPOP has whole-second
// resolution, so timeouts are rounded up to at least one second.
func (b *RedisBroker) WaitForJob(ctx context.Context, queue string, timeout time.Duration) error {
	timeout = max(time.Second, timeout.Round(time.Second))

	err := b.client.BLPop(ctx, timeout, b.keys(queue).notify).Err()
	if err == nil || errors.Is(err, redis.Nil) {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return brokerError(err)
}

func (b *RedisBroker) PublishEvent(ctx context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := b.client.Publish(ctx, b.keys(ev.Queue).events, data).Err(); err != nil {
		return brokerError(err)
	}
	return nil
}

func (b *RedisBroker) SubscribeEvents(ctx context.Context) (<-chan Event, error) {
	ps := b.client.PSubscribe(ctx, b.prefix+":*:events")
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, brokerError(err)
	}

	out := make(chan Event, 64)
	go func() {
		defer close(out)
		defer ps.Close()

		ch := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var ev Event
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					b.logger.WarnContext(ctx, "dropping undecodable job event",
						slog.String("channel", msg.Channel),
						slog.String("error", err.Error()))
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

func (b *RedisBroker) Pause(ctx context.Context, queue string) error {
	return brokerError(b.client.Set(ctx, b.keys(queue).paused, "1", 0).Err())
}

func (b *RedisBroker) Resume(ctx context.Context, queue string) error {
	k := b.keys(queue)
	_, err := b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, k.paused)
		pipe.LPush(ctx, k.notify, "1")
		pipe.LTrim(ctx, k.notify, 0, 0)
		return nil
	})
	return brokerError(err)
}

func (b *RedisBroker) IsPaused(ctx context.Context, queue string) (bool, error) {
	n, err := b.client.Exists(ctx, b.keys(queue).paused).Result()
	if err != nil {
		return false, brokerError(err)
	}
	return n == 1, nil
}

func (b *RedisBroker) Counts(ctx context.Context, queue string) (Counts, error) {
	k := b.keys(queue)

	pipe := b.client.Pipeline()
	waiting := pipe.ZCard(ctx, k.waiting)
	active := pipe.ZCard(ctx, k.active)
	delayed := pipe.ZCard(ctx, k.delayed)
	completed := pipe.ZCard(ctx, k.completed)
	failed := pipe.ZCard(ctx, k.failed)
	paused := pipe.Exists(ctx, k.paused)
	if _, err := pipe.Exec(ctx); err != nil {
		return Counts{}, brokerError(err)
	}

	c := Counts{
		Waiting:   waiting.Val(),
		Active:    active.Val(),
		Delayed:   delayed.Val(),
		Completed: completed.Val(),
		Failed:    failed.Val(),
	}
	if paused.Val() == 1 {
		c.Paused = c.Waiting
	}
	return c, nil
}

func (b *RedisBroker) Jobs(ctx context.Context, queue string, state JobState, offset, limit int) ([]*Job, error) {
	if !state.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidState, state)
	}

	k := b.keys(queue)
	start := int64(max(offset, 0))
	stop := int64(-1)
	if limit > 0 {
		stop = start + int64(limit) - 1
	}

	var (
		ids []string
		err error
	)
	if state.Finished() {
		ids, err = b.client.ZRevRange(ctx, k.set(state), start, stop).Result()
	} else {
		ids, err = b.client.ZRange(ctx, k.set(state), start, stop).Result()
	}
	if err != nil {
		return nil, brokerError(err)
	}
	if len(ids) == 0 {
		return []*Job{}, nil
	}

	pipe := b.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, jobKey(k.base, id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, brokerError(err)
	}

	jobs := make([]*Job, 0, len(ids))
	for _, cmd := range cmds {
		job, err := jobFromHash(cmd.Val())
		if errors.Is(err, ErrJobNotFound) {
			// removed between the range and the hash reads
			continue
		}
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

func (b *RedisBroker) Job(ctx context.Context, queue, jobID string) (*Job, error) {
	h, err := b.client.HGetAll(ctx, jobKey(b.keys(queue).base, jobID)).Result()
	if err != nil {
		return nil, brokerError(err)
	}
	return jobFromHash(h)
}

func (b *RedisBroker) Retry(ctx context.Context, queue, jobID string) (bool, error) {
	k := b.keys(queue)

	res, err := retryScript.Run(ctx, b.client,
		[]string{k.failed, k.waiting, k.notify},
		k.base, jobID, b.now().UnixMilli(),
	).Int()
	if err != nil {
		return false, brokerError(err)
	}

	switch res {
	case -1:
		return false, ErrJobNotFound
	case 0:
		return false, nil
	default:
		return true, nil
	}
}

func (b *RedisBroker) Remove(ctx context.Context, queue, jobID string) error {
	k := b.keys(queue)

	res, err := removeScript.Run(ctx, b.client,
		[]string{k.waiting, k.delayed, k.active, k.completed, k.failed},
		k.base, jobID,
	).Int()
	if err != nil {
		return brokerError(err)
	}
	if res == 0 {
		return ErrJobNotFound
	}
	return nil
}

func (b *RedisBroker) Clean(ctx context.Context, queue string, state JobState, olderThan time.Duration, limit int) (int, error) {
	if !state.Finished() {
		return 0, fmt.Errorf("%w: clean supports completed and failed, got %q", ErrInvalidState, state)
	}

	k := b.keys(queue)
	cutoff := b.now().Add(-olderThan).UnixMilli()

	n, err := cleanScript.Run(ctx, b.client, []string{k.set(state)},
		k.base, cutoff, max(limit, 0),
	).Int()
	if err != nil {
		return 0, brokerError(err)
	}
	return n, nil
}

func (b *RedisBroker) Ping(ctx context.Context) error {
	return brokerError(b.client.Ping(ctx).Err())
}

func jobKey(base, id string) string {
	return base + ":job:" + id
}

func waitingScore(p Priority, readyAtMs int64) string {
	return strconv.FormatInt(int64(p)*1e13+readyAtMs, 10)
}

func retentionCount(r Retention) int {
	if r.Count <= 0 {
		return -1
	}
	return r.Count
}

func boolFlag(v bool) string {
	if v {
		return "1"
	}
	return "0"
}

func pairsToMap(pairs []string) map[string]string {
	m := make(map[string]string, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		m[pairs[i]] = pairs[i+1]
	}
	return m
}

func jobToHash(j *Job) []any {
	return []any{
		"id", j.ID,
		"queue", j.Queue,
		"name", j.Name,
		"payload", string(j.Payload),
		"priority", int(j.Priority),
		"attempts", j.Attempts,
		"max_attempts", j.MaxAttempts,
		"progress", j.Progress,
		"permanent", boolFlag(j.Permanent),
		"last_error", j.LastError,
		"created_at", j.CreatedAt.UnixMilli(),
		"scheduled_at", j.ScheduledAt.UnixMilli(),
	}
}

func jobFromHash(h map[string]string) (*Job, error) {
	if len(h) == 0 {
		return nil, ErrJobNotFound
	}

	j := &Job{
		ID:        h["id"],
		Queue:     h["queue"],
		Name:      h["name"],
		State:     JobState(h["state"]),
		LastError: h["last_error"],
		WorkerID:  h["worker_id"],
		Permanent: h["permanent"] == "1",
	}
	if p := h["payload"]; p != "" {
		j.Payload = json.RawMessage(p)
	}

	ints := []struct {
		field string
		dst   *int
	}{
		{"attempts", &j.Attempts},
		{"max_attempts", &j.MaxAttempts},
		{"progress", &j.Progress},
	}
	for _, f := range ints {
		v, err := hashInt(h, f.field)
		if err != nil {
			return nil, err
		}
		*f.dst = int(v)
	}

	prio, err := hashInt(h, "priority")
	if err != nil {
		return nil, err
	}
	j.Priority = Priority(prio)

	if j.CreatedAt, err = hashTime(h, "created_at"); err != nil {
		return nil, err
	}
	if j.ScheduledAt, err = hashTime(h, "scheduled_at"); err != nil {
		return nil, err
	}
	if j.ProcessedAt, err = hashTimePtr(h, "processed_at"); err != nil {
		return nil, err
	}
	if j.FinishedAt, err = hashTimePtr(h, "finished_at"); err != nil {
		return nil, err
	}
	if j.LeaseExpiresAt, err = hashTimePtr(h, "lease_expires_at"); err != nil {
		return nil, err
	}

	return j, nil
}

func hashInt(h map[string]string, field string) (int64, error) {
	v, ok := h[field]
	if !ok || v == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("job field %s: %w", field, err)
	}
	return n, nil
}

func hashTime(h map[string]string, field string) (time.Time, error) {
	ms, err := hashInt(h, field)
	if err != nil || ms == 0 {
		return time.Time{}, err
	}
	return time.UnixMilli(ms).UTC(), nil
}

func hashTimePtr(h map[string]string, field string) (*time.Time, error) {
	t, err := hashTime(h, field)
	if err != nil || t.IsZero() {
		return nil, err
	}
	return &t, nil
}
