package httpserver

import (
	"log/slog"
	"time"
)

// Option configures the HTTP server. Invalid values panic when the option
// is built, since they are programming errors.
type Option func(*config)

// WithAddr sets the listen address. Use ":0" to pick a free port.
func WithAddr(addr string) Option {
	if addr == "" {
		panic("httpserver: empty listen address")
	}
	return func(c *config) { c.addr = addr }
}

func WithReadTimeout(d time.Duration) Option {
	return timeout("read", d, func(c *config) *time.Duration { return &c.readTimeout })
}

func WithReadHeaderTimeout(d time.Duration) Option {
	return timeout("read header", d, func(c *config) *time.Duration { return &c.readHeaderTimeout })
}

func WithWriteTimeout(d time.Duration) Option {
	return timeout("write", d, func(c *config) *time.Duration { return &c.writeTimeout })
}

func WithIdleTimeout(d time.Duration) Option {
	return timeout("idle", d, func(c *config) *time.Duration { return &c.idleTimeout })
}

// WithShutdownTimeout bounds how long in-flight requests may drain.
func WithShutdownTimeout(d time.Duration) Option {
	return timeout("shutdown", d, func(c *config) *time.Duration { return &c.shutdownTimeout })
}

func timeout(name string, d time.Duration, field func(*config) *time.Duration) Option {
	if d <= 0 {
		panic("httpserver: " + name + " timeout must be positive")
	}
	return func(c *config) { *field(c) = d }
}

// WithLogger sets the server logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}
