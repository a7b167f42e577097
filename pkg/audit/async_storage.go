package audit

import (
	"context"
	"errors"
	"sync"
	"time"
)

// AsyncOptions configures batching for AsyncStorage.
type AsyncOptions struct {
	BufferSize     int           // Max events queued in memory before falling back to sync writes
	BatchSize      int           // Events per Store call
	BatchTimeout   time.Duration // Max time a partial batch waits
	StorageTimeout time.Duration // Per-batch storage timeout
}

// AsyncStorage batches writes to the wrapped storage in a background goroutine.
// Store returns once the batch holding the event has been written.
type AsyncStorage struct {
	storage   Storage
	eventChan chan pendingEvent
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
	options   AsyncOptions
}

type pendingEvent struct {
	events []Event
	result chan error
}

// NewAsyncStorage starts the batching goroutine. Call Close on shutdown.
func NewAsyncStorage(storage Storage, opts AsyncOptions) *AsyncStorage {
	if storage == nil {
		panic("audit: storage cannot be nil")
	}

	if opts.BufferSize <= 0 {
		opts.BufferSize = 1000
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	if opts.BatchTimeout <= 0 {
		opts.BatchTimeout = 100 * time.Millisecond
	}
	if opts.StorageTimeout <= 0 {
		opts.StorageTimeout = 5 * time.Second
	}

	as := &AsyncStorage{
		storage:   storage,
		eventChan: make(chan pendingEvent, opts.BufferSize),
		done:      make(chan struct{}),
		options:   opts,
	}

	as.wg.Add(1)
	go as.worker()

	return as
}

// Store queues events for the next batch and waits for the write result.
func (as *AsyncStorage) Store(ctx context.Context, events ...Event) error {
	if len(events) == 0 {
		return nil
	}

	select {
	case <-as.done:
		return ErrStorageNotAvailable
	default:
	}

	result := make(chan error, 1)
	select {
	case as.eventChan <- pendingEvent{events: events, result: result}:
		select {
		case err := <-result:
			return err
		case <-ctx.Done():
			return errors.Join(ErrStorageTimeout, ctx.Err())
		}
	case <-ctx.Done():
		return errors.Join(ErrStorageTimeout, ctx.Err())
	default:
		// Buffer full: write synchronously so no event is dropped.
		return as.storage.Store(ctx, events...)
	}
}

// Query reads straight from the wrapped storage.
func (as *AsyncStorage) Query(ctx context.Context, criteria Criteria) ([]Event, error) {
	return as.storage.Query(ctx, criteria)
}

func (as *AsyncStorage) worker() {
	defer as.wg.Done()

	batch := make([]Event, 0, as.options.BatchSize)
	waiters := make([]chan error, 0, as.options.BatchSize)

	ticker := time.NewTicker(as.options.BatchTimeout)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}

		// Detached from callers so one caller's deadline cannot fail the whole batch.
		ctx, cancel := context.WithTimeout(context.Background(), as.options.StorageTimeout)
		err := as.storage.Store(ctx, batch...)
		cancel()

		for _, w := range waiters {
			w <- err
		}

		clear(batch)
		batch = batch[:0]
		clear(waiters)
		waiters = waiters[:0]
	}

	for {
		select {
		case p := <-as.eventChan:
			batch = append(batch, p.events...)
			waiters = append(waiters, p.result)
			if len(batch) >= as.options.BatchSize {
				flush()
			}

		case <-ticker.C:
			flush()

		case <-as.done:
			for {
				select {
				case p := <-as.eventChan:
					batch = append(batch, p.events...)
					waiters = append(waiters, p.result)
				default:
					flush()
					return
				}
			}
		}
	}
}

// Close flushes queued events and stops the worker.
// The context bounds how long Close waits for the final flush.
func (as *AsyncStorage) Close(ctx context.Context) error {
	as.closeOnce.Do(func() { close(as.done) })

	finished := make(chan struct{})
	go func() {
		as.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return errors.Join(ErrStorageTimeout, ctx.Err())
	}
}
