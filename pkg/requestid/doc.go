// Package requestid attaches a correlation ID to every admin API request.
//
// Middleware reuses a valid incoming X-Request-ID header (alphanumerics, '-'
// and '_', at most 128 characters) or generates a UUID, stores it in the
// request context and echoes it in the response header.
//
// The ID reaches structured logs through LoggerExtractor and audit events
// through Extractor:
//
//	log := logger.New(logger.WithContextExtractors(requestid.LoggerExtractor()))
//	trail := audit.NewLogger(storage, audit.WithRequestIDExtractor(requestid.Extractor))
package requestid
