package opensearch

// Config holds OpenSearch connection parameters. An empty Addresses list
// means error tracking runs without an OpenSearch sink.
type Config struct {
	Addresses    []string `env:"OPENSEARCH_ADDRESSES" envSeparator:","`
	Username     string   `env:"OPENSEARCH_USERNAME"`
	Password     string   `env:"OPENSEARCH_PASSWORD"`
	MaxRetries   int      `env:"OPENSEARCH_MAX_RETRIES" envDefault:"3"`
	DisableRetry bool     `env:"OPENSEARCH_DISABLE_RETRY" envDefault:"false"`
	IndexPrefix  string   `env:"OPENSEARCH_INDEX_PREFIX" envDefault:"jobkit-errors"`
}

// Enabled reports whether any address is configured.
func (c Config) Enabled() bool { return len(c.Addresses) > 0 }
