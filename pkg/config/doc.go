// Package config loads typed configuration from environment variables.
//
// Each package owns a Config struct annotated with caarlos0/env tags
// (redis.Config, queue.Config, monitor.Config, ...). The daemon composes them
// into one struct and loads it with a single call:
//
//	type Config struct {
//		Env     string `env:"APP_ENV" envDefault:"development"`
//		Redis   redis.Config
//		Queue   queue.Config
//		Monitor monitor.Config
//	}
//
//	cfg, err := config.Load[Config]()
//
// A .env file in the working directory is read once through joho/godotenv
// before the first parse. Variables already set in the process win over the
// file. Tests pass WithEnvironment to parse from a map instead.
//
// Parse failures are joined with ErrParsingConfig.
package config
