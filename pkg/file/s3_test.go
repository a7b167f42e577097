package file_test

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/jobkit/pkg/file"
)

// MockS3Client is a mock implementation of the S3Client interface
type MockS3Client struct {
	mock.Mock
}

func (m *MockS3Client) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*s3.PutObjectOutput), args.Error(1)
}

func (m *MockS3Client) GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*s3.GetObjectOutput), args.Error(1)
}

func (m *MockS3Client) HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*s3.HeadObjectOutput), args.Error(1)
}

func (m *MockS3Client) ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*s3.ListObjectsV2Output), args.Error(1)
}

func (m *MockS3Client) DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*s3.DeleteObjectOutput), args.Error(1)
}

func newS3(t *testing.T, client file.S3Client, opts ...file.S3Option) *file.S3Storage {
	t.Helper()
	opts = append([]file.S3Option{file.WithS3Client(client)}, opts...)
	s, err := file.NewS3Storage(context.Background(), file.S3Config{Bucket: "artifacts", Region: "us-east-1"}, opts...)
	require.NoError(t, err)
	return s
}

func keyIs(key string) any {
	return mock.MatchedBy(func(in *s3.HeadObjectInput) bool { return aws.ToString(in.Key) == key })
}

func TestNewS3Storage(t *testing.T) {
	t.Parallel()

	_, err := file.NewS3Storage(context.Background(), file.S3Config{Region: "us-east-1"})
	assert.ErrorIs(t, err, file.ErrInvalidConfig)

	s := newS3(t, &MockS3Client{})
	assert.Equal(t, "https://artifacts.s3.us-east-1.amazonaws.com/invoices/a.pdf", s.URL("/invoices/a.pdf"))

	minio, err := file.NewS3Storage(context.Background(), file.S3Config{
		Bucket:         "artifacts",
		Region:         "us-east-1",
		Endpoint:       "http://localhost:9000/",
		ForcePathStyle: true,
	}, file.WithS3Client(&MockS3Client{}))
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:9000/artifacts/a.pdf", minio.URL("a.pdf"))

	cdn, err := file.NewS3Storage(context.Background(), file.S3Config{
		Bucket:  "artifacts",
		Region:  "us-east-1",
		BaseURL: "https://cdn.example.com",
	}, file.WithS3Client(&MockS3Client{}))
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/a.pdf", cdn.URL("a.pdf"))
}

func TestS3Storage_Put(t *testing.T) {
	t.Parallel()

	t.Run("uploads with length and type", func(t *testing.T) {
		t.Parallel()

		var body []byte
		client := &MockS3Client{}
		client.On("PutObject", mock.Anything, mock.MatchedBy(func(in *s3.PutObjectInput) bool {
			return aws.ToString(in.Bucket) == "artifacts" &&
				aws.ToString(in.Key) == "invoices/inv-1.pdf" &&
				aws.ToInt64(in.ContentLength) == 8 &&
				aws.ToString(in.ContentType) == "application/pdf"
		})).Run(func(args mock.Arguments) {
			body, _ = io.ReadAll(args.Get(1).(*s3.PutObjectInput).Body)
		}).Return(&s3.PutObjectOutput{}, nil)

		// io.MultiReader is not seekable, so the body is buffered.
		obj, err := newS3(t, client).Put(context.Background(), "/invoices/inv-1.pdf",
			io.MultiReader(strings.NewReader("%PDF"), strings.NewReader("-1.7")), "application/pdf")
		require.NoError(t, err)
		assert.Equal(t, "invoices/inv-1.pdf", obj.Key)
		assert.Equal(t, int64(8), obj.Size)
		assert.Equal(t, "%PDF-1.7", string(body))
		client.AssertExpectations(t)
	})

	t.Run("defaults the content type", func(t *testing.T) {
		t.Parallel()

		client := &MockS3Client{}
		client.On("PutObject", mock.Anything, mock.MatchedBy(func(in *s3.PutObjectInput) bool {
			return aws.ToString(in.ContentType) == "application/octet-stream"
		})).Return(&s3.PutObjectOutput{}, nil)

		_, err := newS3(t, client).Put(context.Background(), "dump.bin", strings.NewReader("x"), "")
		require.NoError(t, err)
	})

	t.Run("classifies errors", func(t *testing.T) {
		t.Parallel()

		client := &MockS3Client{}
		client.On("PutObject", mock.Anything, mock.Anything).
			Return(nil, &smithy.GenericAPIError{Code: "SlowDown", Message: "reduce request rate"})

		_, err := newS3(t, client).Put(context.Background(), "a.pdf", strings.NewReader("x"), "")
		assert.ErrorIs(t, err, file.ErrServiceUnavailable)
	})

	t.Run("rejects traversal", func(t *testing.T) {
		t.Parallel()

		_, err := newS3(t, &MockS3Client{}).Put(context.Background(), "../a.pdf", strings.NewReader("x"), "")
		assert.ErrorIs(t, err, file.ErrInvalidPath)
	})
}

func TestS3Storage_Get(t *testing.T) {
	t.Parallel()

	client := &MockS3Client{}
	client.On("GetObject", mock.Anything, mock.MatchedBy(func(in *s3.GetObjectInput) bool {
		return aws.ToString(in.Key) == "a.pdf"
	})).Return(&s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader("content"))}, nil)
	client.On("GetObject", mock.Anything, mock.Anything).Return(nil, &types.NoSuchKey{})

	s := newS3(t, client)
	rc, err := s.Get(context.Background(), "a.pdf")
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "content", string(data))

	_, err = s.Get(context.Background(), "missing.pdf")
	assert.ErrorIs(t, err, file.ErrFileNotFound)
}

func TestS3Storage_ExistsDelete(t *testing.T) {
	t.Parallel()

	client := &MockS3Client{}
	client.On("HeadObject", mock.Anything, keyIs("a.pdf")).Return(&s3.HeadObjectOutput{}, nil)
	client.On("HeadObject", mock.Anything, keyIs("missing.pdf")).Return(nil, &types.NotFound{})
	client.On("HeadObject", mock.Anything, keyIs("secret.pdf")).
		Return(nil, &smithy.GenericAPIError{Code: "AccessDenied"})
	client.On("DeleteObject", mock.Anything, mock.Anything).Return(&s3.DeleteObjectOutput{}, nil).Once()

	s := newS3(t, client)
	ctx := context.Background()

	ok, err := s.Exists(ctx, "a.pdf")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Exists(ctx, "missing.pdf")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.Exists(ctx, "secret.pdf")
	assert.ErrorIs(t, err, file.ErrAccessDenied)

	require.NoError(t, s.Delete(ctx, "a.pdf"))
	assert.ErrorIs(t, s.Delete(ctx, "missing.pdf"), file.ErrFileNotFound)
	client.AssertExpectations(t)
}

func listInput(prefix, token string) any {
	return mock.MatchedBy(func(in *s3.ListObjectsV2Input) bool {
		return aws.ToString(in.Bucket) == "artifacts" &&
			aws.ToString(in.Prefix) == prefix &&
			aws.ToString(in.ContinuationToken) == token
	})
}

func TestS3Storage_List(t *testing.T) {
	t.Parallel()

	t.Run("follows continuation tokens", func(t *testing.T) {
		t.Parallel()

		modified := time.Date(2025, 1, 2, 3, 0, 0, 0, time.UTC)
		client := &MockS3Client{}
		client.On("ListObjectsV2", mock.Anything, listInput("backups/", "")).Return(&s3.ListObjectsV2Output{
			Contents:              []types.Object{{Key: aws.String("backups/a.csv"), Size: aws.Int64(10), LastModified: &modified}},
			IsTruncated:           aws.Bool(true),
			NextContinuationToken: aws.String("page-2"),
		}, nil).Once()
		client.On("ListObjectsV2", mock.Anything, listInput("backups/", "page-2")).Return(&s3.ListObjectsV2Output{
			Contents:    []types.Object{{Key: aws.String("backups/2025/b.csv"), Size: aws.Int64(20)}},
			IsTruncated: aws.Bool(false),
		}, nil).Once()

		objects, err := newS3(t, client).List(context.Background(), "/backups")
		require.NoError(t, err)
		require.Len(t, objects, 2)
		assert.Equal(t, file.Object{Key: "backups/a.csv", Size: 10, ModifiedAt: modified}, objects[0])
		assert.Equal(t, "backups/2025/b.csv", objects[1].Key)
		assert.Equal(t, int64(20), objects[1].Size)
		client.AssertExpectations(t)
	})

	t.Run("deadline errors are classified", func(t *testing.T) {
		t.Parallel()

		client := &MockS3Client{}
		client.On("ListObjectsV2", mock.Anything, mock.Anything).Return(nil, context.DeadlineExceeded)

		_, err := newS3(t, client).List(context.Background(), "")
		assert.ErrorIs(t, err, file.ErrOperationTimeout)
	})

	t.Run("unknown errors keep their cause", func(t *testing.T) {
		t.Parallel()

		cause := errors.New("connection reset")
		client := &MockS3Client{}
		client.On("ListObjectsV2", mock.Anything, mock.Anything).Return(nil, cause)

		_, err := newS3(t, client).List(context.Background(), "")
		assert.ErrorIs(t, err, cause)
	})

	t.Run("missing bucket", func(t *testing.T) {
		t.Parallel()

		client := &MockS3Client{}
		client.On("ListObjectsV2", mock.Anything, mock.Anything).Return(nil, &types.NoSuchBucket{})

		_, err := newS3(t, client).List(context.Background(), "")
		assert.ErrorIs(t, err, file.ErrBucketNotFound)
	})
}
