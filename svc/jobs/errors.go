package jobs

import "errors"

var (
	ErrNoJobContext      = errors.New("jobs: processor called outside of a job")
	ErrUnknownTemplate   = errors.New("jobs: unknown email template")
	ErrUnknownProvider   = errors.New("jobs: integration provider is not configured")
	ErrIntegrationFailed = errors.New("jobs: integration sync failed")
	ErrMissingDependency = errors.New("jobs: missing dependency")
)
