// Package logger builds the process *slog.Logger.
//
// New picks a text or JSON handler, applies the level and static attributes,
// and wraps the handler so ContextExtractor callbacks can add attributes from
// the context on every record:
//
//	log := logger.New(
//		logger.WithEnvironment(env.String(), "jobsd"),
//		logger.WithContextExtractors(requestid.LoggerExtractor(), queue.LogExtractor()),
//	)
//	logger.SetAsDefault(log)
//
// Development logs text at debug level; staging and production log JSON.
//
// The attribute helpers (Queue, JobID, JobName, WorkerID, Trigger, Attempt,
// Duration, Component, Event) keep key names identical across packages. Error
// and Errors return an empty attribute for nil errors, so they can be passed
// unconditionally.
package logger
