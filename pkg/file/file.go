package file

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"
)

// Object describes a stored blob.
type Object struct {
	Key         string
	Size        int64
	ContentType string
	ModifiedAt  time.Time
}

// Storage keeps job artifacts such as rendered invoices and database dumps.
type Storage interface {
	// Put stores body under key, replacing any existing object.
	Put(ctx context.Context, key string, body io.Reader, contentType string) (*Object, error)
	// Get opens the object for reading. The caller closes the reader.
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	// Delete removes the object. Missing objects yield ErrFileNotFound.
	Delete(ctx context.Context, key string) error
	// Exists reports whether the object exists.
	Exists(ctx context.Context, key string) (bool, error)
	// List returns every object under prefix, recursively.
	List(ctx context.Context, prefix string) ([]Object, error)
	// URL returns the public URL for an object.
	URL(key string) string
}

// Config selects and configures the storage backend.
// S3 is used when a bucket is configured, the local directory otherwise.
type Config struct {
	S3           S3Config `envPrefix:"S3_"`
	LocalDir     string   `env:"FILES_LOCAL_DIR" envDefault:"./tmp/files"`
	LocalBaseURL string   `env:"FILES_BASE_URL" envDefault:"/files/"`
}

// NewStorage builds the storage backend described by cfg.
func NewStorage(ctx context.Context, cfg Config, opts ...S3Option) (Storage, error) {
	if cfg.S3.Enabled() {
		return NewS3Storage(ctx, cfg.S3, opts...)
	}
	return NewLocalStorage(cfg.LocalDir, cfg.LocalBaseURL)
}

// CleanKey normalizes an object key and rejects keys that escape the root.
func CleanKey(key string) (string, error) {
	key = strings.TrimPrefix(strings.ReplaceAll(key, "\\", "/"), "/")
	if key == "" {
		return "", fmt.Errorf("%w: empty key", ErrInvalidPath)
	}
	for _, part := range strings.Split(key, "/") {
		if part == ".." {
			return "", fmt.Errorf("%w: %s", ErrInvalidPath, key)
		}
	}
	return path.Clean(key), nil
}

func cleanPrefix(prefix string) (string, error) {
	if strings.Trim(prefix, "/") == "" {
		return "", nil
	}
	p, err := CleanKey(prefix)
	if err != nil {
		return "", err
	}
	return p + "/", nil
}

// countingReader records how many bytes were read through it.
type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
