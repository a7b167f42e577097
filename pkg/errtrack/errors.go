package errtrack

import "errors"

// ErrIndexerNil is returned when an IndexReporter is built without an indexer.
var ErrIndexerNil = errors.New("document indexer cannot be nil")
