package broadcast

import (
	"context"
	"sync"
)

// SlowSubscriberPolicy decides what happens when a subscriber's buffer is full.
type SlowSubscriberPolicy int

const (
	// DropMessage skips the message for that subscriber only.
	DropMessage SlowSubscriberPolicy = iota
	// DropSubscriber ends the subscription of a subscriber that fell behind.
	DropSubscriber
)

// Option configures a MemoryBroadcaster.
type Option func(*MemoryBroadcasterConfig)

// MemoryBroadcasterConfig holds the tunables of a MemoryBroadcaster.
type MemoryBroadcasterConfig struct {
	Policy SlowSubscriberPolicy
}

// WithSlowSubscriberPolicy sets how slow subscribers are handled.
func WithSlowSubscriberPolicy(p SlowSubscriberPolicy) Option {
	return func(c *MemoryBroadcasterConfig) { c.Policy = p }
}

// MemoryBroadcaster is an in-process Broadcaster. Broadcast never waits on a
// subscriber.
type MemoryBroadcaster[T any] struct {
	size   int
	policy SlowSubscriberPolicy

	mu     sync.RWMutex
	subs   map[uint64]*subscriber[T]
	nextID uint64
	closed bool
}

// NewMemoryBroadcaster creates a broadcaster whose subscribers buffer up to
// bufferSize messages (at least one).
func NewMemoryBroadcaster[T any](bufferSize int, opts ...Option) *MemoryBroadcaster[T] {
	var cfg MemoryBroadcasterConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	return &MemoryBroadcaster[T]{
		size:   max(bufferSize, 1),
		policy: cfg.Policy,
		subs:   make(map[uint64]*subscriber[T]),
	}
}

// Subscribe registers a subscriber that lives until ctx is done, it is
// closed, or the broadcaster is closed. Subscribing to a closed broadcaster
// yields an already closed subscriber.
func (b *MemoryBroadcaster[T]) Subscribe(ctx context.Context) Subscriber[T] {
	sub := &subscriber[T]{ch: make(chan Message[T], b.size)}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		sub.shutdown()
		return sub
	}

	b.nextID++
	id := b.nextID
	b.subs[id] = sub

	stop := context.AfterFunc(ctx, func() { _ = sub.Close() })
	sub.release = func() {
		stop()
		b.remove(id)
	}
	return sub
}

// Broadcast offers msg to every subscriber. It always returns nil.
func (b *MemoryBroadcaster[T]) Broadcast(_ context.Context, msg Message[T]) error {
	var slow []*subscriber[T]

	b.mu.RLock()
	for _, sub := range b.subs {
		if !sub.offer(msg) && b.policy == DropSubscriber {
			slow = append(slow, sub)
		}
	}
	b.mu.RUnlock()

	for _, sub := range slow {
		_ = sub.Close()
	}
	return nil
}

// Len returns the number of live subscribers.
func (b *MemoryBroadcaster[T]) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close ends every subscription. Later calls are no-ops.
func (b *MemoryBroadcaster[T]) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	subs := b.subs
	b.subs = make(map[uint64]*subscriber[T])
	b.mu.Unlock()

	for _, sub := range subs {
		_ = sub.Close()
	}
	return nil
}

func (b *MemoryBroadcaster[T]) remove(id uint64) {
	b.mu.Lock()
	delete(b.subs, id)
	b.mu.Unlock()
}
