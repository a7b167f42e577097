// Package jobkit is a background job toolkit backed by Redis.
//
// The building blocks live under pkg:
//
//   - pkg/queue: brokers (Redis and in-memory), workers with leases and
//     retries, the lifecycle event bus and the timezone-aware scheduler.
//   - pkg/monitor: queue statistics, health and the admin HTTP API mounted
//     under /jobs.
//   - pkg/errtrack: error reporters for terminal job failures.
//   - pkg/audit: the audit trail of admin actions, stored in Postgres.
//
// svc/jobs holds the application's job types and processors, and cmd/jobsd
// runs the engine, scheduler and admin API as one process.
package jobkit
