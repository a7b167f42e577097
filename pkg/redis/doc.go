// Package redis provides helpers for connecting to the Redis server that backs
// the job broker.
//
// The package wraps the go-redis client and adds:
//
//   - Connect, which retries the connection using the supplied configuration.
//   - Healthcheck, a probe usable by the monitor and HTTP readiness checks.
//
// Configuration is described by the Config struct whose fields are populated
// from environment variables via github.com/caarlos0/env.
//
// # Usage
//
//	client, err := redis.Connect(ctx, cfg)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	broker := queue.NewRedisBroker(client)
//
// # Errors
//
// Sentinel errors (e.g. ErrRedisNotReady) wrap the underlying go-redis errors
// using errors.Join and can be checked with errors.Is.
package redis
