package localfs

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"mvrender/internal/ports"
)

// LocalFS implements ports.StorageProvider on the local filesystem.
// Objects live at root/bucket/key.
type LocalFS struct {
	root string
}

func New(root string) *LocalFS {
	return &LocalFS{root: root}
}

func (l *LocalFS) Provider() string { return "localfs" }

func (l *LocalFS) path(bucket, objectKey string) (string, error) {
	if bucket == "" || objectKey == "" {
		return "", fmt.Errorf("bucket and object_key are required")
	}
	rel := filepath.Join(filepath.FromSlash(bucket), filepath.FromSlash(objectKey))
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return "", fmt.Errorf("object key escapes storage root: %s/%s", bucket, objectKey)
	}
	return filepath.Join(l.root, rel), nil
}

func (l *LocalFS) PutObject(ctx context.Context, in ports.PutObjectInput) (ports.PutObjectOutput, error) {
	dst, err := l.path(in.Bucket, in.ObjectKey)
	if err != nil {
		return ports.PutObjectOutput{}, err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return ports.PutObjectOutput{}, err
	}

	outF, err := os.Create(dst)
	if err != nil {
		return ports.PutObjectOutput{}, err
	}

	n, err := io.Copy(outF, in.Reader)
	if cerr := outF.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		// A partial object must not be served later.
		_ = os.Remove(dst)
		return ports.PutObjectOutput{}, err
	}

	return ports.PutObjectOutput{ObjectKey: in.ObjectKey, Size: n}, nil
}

func (l *LocalFS) GetObject(ctx context.Context, bucket, objectKey string) (rc io.ReadCloser, contentType string, size int64, err error) {
	p, err := l.path(bucket, objectKey)
	if err != nil {
		return nil, "", 0, err
	}
	f, err := os.Open(p)
	if err != nil {
		return nil, "", 0, err
	}

	if st, statErr := f.Stat(); statErr == nil {
		size = st.Size()
	}

	// Extension first, then sniff. Object keys like "Project.Audio/<uuid>" have none.
	contentType = mime.TypeByExtension(filepath.Ext(p))
	if contentType == "" {
		buf := make([]byte, 512)
		n, _ := f.Read(buf)
		_, _ = f.Seek(0, io.SeekStart)
		contentType = http.DetectContentType(buf[:n])
	}

	return f, contentType, size, nil
}

func (l *LocalFS) DeleteObject(ctx context.Context, bucket, objectKey string) error {
	p, err := l.path(bucket, objectKey)
	if err != nil {
		return err
	}
	return os.Remove(p)
}

// GetSignedURL returns a file:// URL; local objects need no signature.
func (l *LocalFS) GetSignedURL(ctx context.Context, bucket, objectKey string, expiresIn time.Duration) (ports.SignedURLOutput, error) {
	p, err := l.path(bucket, objectKey)
	if err != nil {
		return ports.SignedURLOutput{}, err
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return ports.SignedURLOutput{}, err
	}
	u := url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}
	return ports.SignedURLOutput{URL: u.String(), ExpiresAt: time.Now().UTC().Add(expiresIn)}, nil
}
