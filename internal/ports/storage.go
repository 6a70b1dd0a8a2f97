package ports

import (
	"context"
	"io"
	"time"
)

type PutObjectInput struct {
	Bucket      string
	ObjectKey   string
	ContentType string
	Reader      io.Reader
	Size        int64
}

type PutObjectOutput struct {
	ObjectKey string
	Size      int64
}

type SignedURLOutput struct {
	URL       string
	ExpiresAt time.Time
}

// StorageProvider is implemented by s3, localfs and gdrive.
type StorageProvider interface {
	Provider() string

	PutObject(ctx context.Context, in PutObjectInput) (PutObjectOutput, error)
	GetObject(ctx context.Context, bucket, objectKey string) (rc io.ReadCloser, contentType string, size int64, err error)
	DeleteObject(ctx context.Context, bucket, objectKey string) error
	GetSignedURL(ctx context.Context, bucket, objectKey string, expiresIn time.Duration) (SignedURLOutput, error)
}
