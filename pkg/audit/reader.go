package audit

import "context"

// Reader queries stored audit events.
type Reader struct {
	storage Storage
}

// NewReader creates a new audit reader
func NewReader(storage Storage) *Reader {
	if storage == nil {
		panic("audit: storage cannot be nil")
	}
	return &Reader{storage: storage}
}

// Find retrieves audit events based on the criteria, newest first.
func (r *Reader) Find(ctx context.Context, criteria Criteria) ([]Event, error) {
	return r.storage.Query(ctx, criteria)
}

// Count returns the count of audit events matching the criteria.
// If the storage implements StorageCounter, it uses the optimized Count method.
// Otherwise, it falls back to loading all records and counting them in memory.
func (r *Reader) Count(ctx context.Context, criteria Criteria) (int64, error) {
	if counter, ok := r.storage.(StorageCounter); ok {
		return counter.Count(ctx, criteria)
	}

	criteria.Limit = 0
	criteria.Offset = 0
	events, err := r.storage.Query(ctx, criteria)
	if err != nil {
		return 0, err
	}
	return int64(len(events)), nil
}
