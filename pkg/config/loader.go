package config

import (
	"errors"
	"fmt"
	"io/fs"
	"sync"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

var defaultEnvLoaded sync.Once

// Option adjusts how a configuration struct is parsed.
type Option func(*env.Options)

// WithPrefix prepends prefix to every variable name, e.g. "WORKER_".
func WithPrefix(prefix string) Option {
	return func(o *env.Options) {
		o.Prefix = prefix
	}
}

// WithEnvironment parses from vars instead of the process environment.
// The default .env file is not read in that case.
func WithEnvironment(vars map[string]string) Option {
	return func(o *env.Options) {
		o.Environment = vars
	}
}

// RequiredIfNoDefault makes every field without envDefault mandatory.
func RequiredIfNoDefault() Option {
	return func(o *env.Options) {
		o.RequiredIfNoDef = true
	}
}

// Load parses environment variables into a new T using its env tags.
// The .env file in the working directory, when present, is loaded into the
// process environment once before the first parse; real variables win.
//
//	type Config struct {
//		Redis redis.Config
//		Queue queue.Config
//	}
//
//	cfg, err := config.Load[Config]()
func Load[T any](opts ...Option) (T, error) {
	var cfg T

	o := env.Options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.Environment == nil {
		defaultEnvLoaded.Do(func() {
			_ = godotenv.Load()
		})
	}

	if err := env.ParseWithOptions(&cfg, o); err != nil {
		return cfg, errors.Join(ErrParsingConfig, err)
	}
	return cfg, nil
}

// MustLoad works like Load but panics on failure. Use it for configuration
// the process cannot start without.
func MustLoad[T any](opts ...Option) T {
	cfg, err := Load[T](opts...)
	if err != nil {
		panic(fmt.Sprintf("config: %v", err))
	}
	return cfg
}

// LoadEnv loads the named .env files into the process environment without
// overriding variables that are already set. Missing files are an error.
func LoadEnv(files ...string) error {
	if len(files) == 0 {
		return nil
	}
	if err := godotenv.Load(files...); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return errors.Join(ErrEnvFileNotFound, err)
		}
		return errors.Join(ErrParsingConfig, err)
	}
	return nil
}
