package file

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// S3Client defines the S3 operations used by S3Storage.
type S3Client interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3Storage implements Storage for Amazon S3 and S3-compatible services.
// It is safe for concurrent use.
type S3Storage struct {
	client        S3Client
	bucket        string
	baseURL       string
	uploadTimeout time.Duration
}

// S3Config contains configuration for S3 storage.
type S3Config struct {
	Bucket         string `env:"BUCKET"`
	Region         string `env:"REGION" envDefault:"us-east-1"`
	AccessKeyID    string `env:"ACCESS_KEY_ID"`
	SecretKey      string `env:"SECRET_KEY"`
	Endpoint       string `env:"ENDPOINT"`         // S3-compatible services
	BaseURL        string `env:"BASE_URL"`         // Public URL base for serving files
	ForcePathStyle bool   `env:"FORCE_PATH_STYLE"` // MinIO and friends
}

// Enabled reports whether a bucket is configured.
func (c S3Config) Enabled() bool {
	return c.Bucket != ""
}

// S3Option configures S3Storage.
type S3Option func(*s3Options)

type s3Options struct {
	client        S3Client
	loadOptions   []func(*config.LoadOptions) error
	clientOptions []func(*s3.Options)
	uploadTimeout time.Duration
}

// WithS3Client replaces the SDK client, e.g. with a fake in tests.
func WithS3Client(client S3Client) S3Option {
	return func(o *s3Options) { o.client = client }
}

// WithHTTPClient routes SDK requests through client.
func WithHTTPClient(client *http.Client) S3Option {
	return func(o *s3Options) {
		o.loadOptions = append(o.loadOptions, config.WithHTTPClient(client))
	}
}

// WithS3ClientOption tweaks the SDK client after the endpoint settings are applied.
func WithS3ClientOption(option func(*s3.Options)) S3Option {
	return func(o *s3Options) { o.clientOptions = append(o.clientOptions, option) }
}

// WithS3UploadTimeout bounds each upload. Zero leaves the caller's deadline in charge.
func WithS3UploadTimeout(timeout time.Duration) S3Option {
	return func(o *s3Options) { o.uploadTimeout = timeout }
}

// NewS3Storage builds an S3 backed artifact store. Static credentials are used
// when both keys are set, otherwise the default AWS provider chain applies.
func NewS3Storage(ctx context.Context, cfg S3Config, opts ...S3Option) (*S3Storage, error) {
	if cfg.Bucket == "" || cfg.Region == "" {
		return nil, ErrInvalidConfig
	}

	var o s3Options
	for _, opt := range opts {
		opt(&o)
	}

	if o.client == nil {
		client, err := newS3Client(ctx, cfg, o)
		if err != nil {
			return nil, err
		}
		o.client = client
	}

	return &S3Storage{
		client:        o.client,
		bucket:        cfg.Bucket,
		baseURL:       publicBaseURL(cfg),
		uploadTimeout: o.uploadTimeout,
	}, nil
}

func newS3Client(ctx context.Context, cfg S3Config, o s3Options) (*s3.Client, error) {
	load := append([]func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}, o.loadOptions...)
	if cfg.AccessKeyID != "" && cfg.SecretKey != "" {
		load = append(load, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, load...)
	if err != nil {
		return nil, errors.Join(ErrFailedToLoadConfig, err)
	}

	return s3.NewFromConfig(awsCfg, func(so *s3.Options) {
		if cfg.Endpoint != "" {
			so.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		so.UsePathStyle = cfg.ForcePathStyle
		for _, fn := range o.clientOptions {
			fn(so)
		}
	}), nil
}

// publicBaseURL picks BASE_URL, then the custom endpoint, then the virtual
// hosted AWS address. The result always ends with a slash.
func publicBaseURL(cfg S3Config) string {
	base := cfg.BaseURL
	switch {
	case base != "":
	case cfg.Endpoint != "":
		base = strings.TrimSuffix(cfg.Endpoint, "/") + "/" + cfg.Bucket
	default:
		base = "https://" + cfg.Bucket + ".s3." + cfg.Region + ".amazonaws.com"
	}
	return strings.TrimSuffix(base, "/") + "/"
}

// s3Codes maps S3 API error codes to package errors.
var s3Codes = map[string]error{
	"NoSuchKey":          ErrFileNotFound,
	"NotFound":           ErrFileNotFound,
	"NoSuchBucket":       ErrBucketNotFound,
	"AccessDenied":       ErrAccessDenied,
	"RequestTimeout":     ErrRequestTimeout,
	"SlowDown":           ErrServiceUnavailable,
	"ServiceUnavailable": ErrServiceUnavailable,
	"InvalidObjectState": ErrInvalidObjectState,
}

// s3Error translates an SDK error for op into a package error while keeping
// the original as the cause.
func s3Error(err error, op string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %s", ErrOperationTimeout, op)
	case errors.Is(err, context.Canceled):
		return fmt.Errorf("%w: %s", ErrOperationCanceled, op)
	}

	var nsk *types.NoSuchKey
	var nf *types.NotFound
	if errors.As(err, &nsk) || errors.As(err, &nf) {
		return fmt.Errorf("%w: %s: %w", ErrFileNotFound, op, err)
	}
	var nsb *types.NoSuchBucket
	if errors.As(err, &nsb) {
		return fmt.Errorf("%w: %s: %w", ErrBucketNotFound, op, err)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		if known, ok := s3Codes[apiErr.ErrorCode()]; ok {
			return fmt.Errorf("%w: %s: %w", known, op, err)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

// Put uploads body to S3. Non-seekable bodies are buffered so the request
// carries a content length.
func (s *S3Storage) Put(ctx context.Context, key string, body io.Reader, contentType string) (*Object, error) {
	key, err := CleanKey(key)
	if err != nil {
		return nil, err
	}

	if s.uploadTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.uploadTimeout)
		defer cancel()
	}

	rs, ok := body.(io.ReadSeeker)
	if !ok {
		data, err := io.ReadAll(body)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrFailedToReadFile, err)
		}
		rs = bytes.NewReader(data)
	}
	size, err := rs.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFailedToReadFile, err)
	}
	if _, err := rs.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFailedToReadFile, err)
	}

	if contentType == "" {
		contentType = "application/octet-stream"
	}

	if _, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          rs,
		ContentLength: aws.Int64(size),
		ContentType:   aws.String(contentType),
	}); err != nil {
		return nil, s3Error(err, "put object")
	}

	return &Object{
		Key:         key,
		Size:        size,
		ContentType: contentType,
		ModifiedAt:  time.Now().UTC(),
	}, nil
}

// Get downloads an object.
func (s *S3Storage) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	key, err := CleanKey(key)
	if err != nil {
		return nil, err
	}

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, s3Error(err, "get object")
	}
	return out.Body, nil
}

// Delete removes a single object.
func (s *S3Storage) Delete(ctx context.Context, key string) error {
	key, err := CleanKey(key)
	if err != nil {
		return err
	}

	// DeleteObject succeeds for missing keys; the head request keeps the
	// not-found contract shared with LocalStorage.
	if _, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}); err != nil {
		return s3Error(err, "head object")
	}

	if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}); err != nil {
		return s3Error(err, "delete object")
	}
	return nil
}

// Exists checks if an object exists.
func (s *S3Storage) Exists(ctx context.Context, key string) (bool, error) {
	key, err := CleanKey(key)
	if err != nil {
		return false, err
	}

	_, err = s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		err = s3Error(err, "head object")
		if errors.Is(err, ErrFileNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// List returns every object under prefix.
func (s *S3Storage) List(ctx context.Context, prefix string) ([]Object, error) {
	prefix, err := cleanPrefix(prefix)
	if err != nil {
		return nil, err
	}

	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})

	var objects []Object
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, s3Error(err, "list objects")
		}
		for _, obj := range page.Contents {
			o := Object{Key: aws.ToString(obj.Key), Size: aws.ToInt64(obj.Size)}
			if obj.LastModified != nil {
				o.ModifiedAt = obj.LastModified.UTC()
			}
			objects = append(objects, o)
		}
	}
	return objects, nil
}

// URL returns the public URL for an object.
func (s *S3Storage) URL(key string) string {
	return s.baseURL + strings.TrimPrefix(key, "/")
}
