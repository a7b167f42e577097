package audit

import (
	"context"
	"slices"
	"sync"
)

// MemoryStorage keeps events in process. Used in development and tests.
type MemoryStorage struct {
	mu     sync.RWMutex
	events []Event
}

// NewMemoryStorage creates an empty in-memory storage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{}
}

// Store appends events.
func (s *MemoryStorage) Store(ctx context.Context, events ...Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events = append(s.events, events...)
	return nil
}

// Query returns matching events, newest first.
func (s *MemoryStorage) Query(ctx context.Context, criteria Criteria) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []Event
	for _, e := range slices.Backward(s.events) {
		if criteria.matches(e) {
			matched = append(matched, e)
		}
	}

	if criteria.Offset >= len(matched) {
		return []Event{}, nil
	}
	matched = matched[criteria.Offset:]
	if criteria.Limit > 0 && len(matched) > criteria.Limit {
		matched = matched[:criteria.Limit]
	}
	return matched, nil
}

// Count returns the number of matching events.
func (s *MemoryStorage) Count(ctx context.Context, criteria Criteria) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	for _, e := range s.events {
		if criteria.matches(e) {
			n++
		}
	}
	return n, nil
}

func (c Criteria) matches(e Event) bool {
	switch {
	case c.Actor != "" && e.Actor != c.Actor:
		return false
	case c.Action != "" && e.Action != c.Action:
		return false
	case c.Resource != "" && e.Resource != c.Resource:
		return false
	case c.ResourceID != "" && e.ResourceID != c.ResourceID:
		return false
	case c.Result != "" && e.Result != c.Result:
		return false
	case !c.StartTime.IsZero() && e.CreatedAt.Before(c.StartTime):
		return false
	case !c.EndTime.IsZero() && !e.CreatedAt.Before(c.EndTime):
		return false
	}
	return true
}
