package opensearch

import "errors"

var (
	// ErrConnectionFailed indicates the client could not be created.
	ErrConnectionFailed = errors.New("opensearch connection failed")

	// ErrHealthcheckFailed indicates the cluster is unreachable or unhealthy.
	ErrHealthcheckFailed = errors.New("opensearch healthcheck failed")

	// ErrNoAddresses is returned by New when Config has no addresses.
	ErrNoAddresses = errors.New("opensearch addresses are not configured")

	// ErrClientNil is returned when an indexer is built without a client.
	ErrClientNil = errors.New("opensearch client cannot be nil")

	// ErrIndexFailed wraps every failure to store a document.
	ErrIndexFailed = errors.New("opensearch index request failed")
)
