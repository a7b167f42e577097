package monitor

import "errors"

var (
	// ErrEngineNil is returned when the monitor is built without an engine
	ErrEngineNil = errors.New("engine cannot be nil")

	// ErrAdminTokenRequired is returned when the admin API is built without a token
	ErrAdminTokenRequired = errors.New("admin token is required")

	// ErrInvalidParameter is returned for malformed query or path parameters
	ErrInvalidParameter = errors.New("invalid parameter")

	// ErrAlreadyRunning is returned when Run is called twice
	ErrAlreadyRunning = errors.New("monitor already running")
)
