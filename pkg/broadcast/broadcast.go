package broadcast

import (
	"context"
	"sync"
	"sync/atomic"
)

// Message wraps a broadcast payload.
type Message[T any] struct {
	Data T
}

// Subscriber receives broadcast messages.
type Subscriber[T any] interface {
	// Receive returns the delivery channel. It is closed when the
	// subscription ends.
	Receive(ctx context.Context) <-chan Message[T]

	// Dropped counts messages skipped because the buffer was full.
	Dropped() uint64

	Close() error
}

// Broadcaster fans messages out to every subscriber.
type Broadcaster[T any] interface {
	Subscribe(ctx context.Context) Subscriber[T]
	Broadcast(ctx context.Context, msg Message[T]) error
	Close() error
}

type subscriber[T any] struct {
	ch      chan Message[T]
	dropped atomic.Uint64

	mu     sync.RWMutex
	closed bool

	// release detaches the subscriber from its broadcaster and context.
	release func()
	once    sync.Once
}

func (s *subscriber[T]) Receive(context.Context) <-chan Message[T] { return s.ch }

func (s *subscriber[T]) Dropped() uint64 { return s.dropped.Load() }

func (s *subscriber[T]) Close() error {
	s.shutdown()
	s.once.Do(func() {
		if s.release != nil {
			s.release()
		}
	})
	return nil
}

func (s *subscriber[T]) shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// offer delivers msg without blocking. ok is false when the buffer was full
// or the subscriber is gone.
func (s *subscriber[T]) offer(msg Message[T]) (ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false
	}
	select {
	case s.ch <- msg:
		return true
	default:
		s.dropped.Add(1)
		return false
	}
}
