package gdrive

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"strings"
	"time"

	"mvrender/internal/ports"

	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
)

const bucketProperty = "bucket"

// Client implements ports.StorageProvider backed by Google Drive.
// The object key is the Drive file name and the bucket is kept as an
// appProperty, so (bucket, key) lookups are a files.list query.
type Client struct {
	srv      *drive.Service
	folderID string
}

func NewClient(srv *drive.Service, folderID string) *Client {
	return &Client{srv: srv, folderID: folderID}
}

func (c *Client) Provider() string { return "gdrive" }

func (c *Client) PutObject(ctx context.Context, in ports.PutObjectInput) (ports.PutObjectOutput, error) {
	if in.Bucket == "" || in.ObjectKey == "" {
		return ports.PutObjectOutput{}, fmt.Errorf("bucket and object_key are required")
	}

	file := &drive.File{
		Name:          in.ObjectKey,
		AppProperties: map[string]string{bucketProperty: in.Bucket},
	}
	if c.folderID != "" {
		file.Parents = []string{c.folderID}
	}

	call := c.srv.Files.Create(file).SupportsAllDrives(true)
	if in.ContentType != "" {
		call = call.Media(in.Reader, googleapi.ContentType(in.ContentType))
	} else {
		call = call.Media(in.Reader)
	}

	created, err := call.Context(ctx).Do()
	if err != nil {
		return ports.PutObjectOutput{}, fmt.Errorf("gdrive upload failed: %w", err)
	}

	size := in.Size
	if created.Size > 0 {
		size = created.Size
	}
	return ports.PutObjectOutput{ObjectKey: in.ObjectKey, Size: size}, nil
}

func (c *Client) GetObject(ctx context.Context, bucket, objectKey string) (rc io.ReadCloser, contentType string, size int64, err error) {
	f, err := c.lookup(ctx, bucket, objectKey)
	if err != nil {
		return nil, "", 0, err
	}

	resp, err := c.srv.Files.Get(f.Id).
		SupportsAllDrives(true).
		Context(ctx).
		Download()
	if err != nil {
		return nil, "", 0, fmt.Errorf("gdrive download failed: %w", err)
	}

	contentType = resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = f.MimeType
	}
	return resp.Body, contentType, resp.ContentLength, nil
}

func (c *Client) DeleteObject(ctx context.Context, bucket, objectKey string) error {
	f, err := c.lookup(ctx, bucket, objectKey)
	if err != nil {
		return err
	}
	return c.srv.Files.Delete(f.Id).
		SupportsAllDrives(true).
		Context(ctx).
		Do()
}

// GetSignedURL returns the file's download link. Drive links don't expire,
// ExpiresAt only mirrors the requested window.
func (c *Client) GetSignedURL(ctx context.Context, bucket, objectKey string, expiresIn time.Duration) (ports.SignedURLOutput, error) {
	f, err := c.lookup(ctx, bucket, objectKey)
	if err != nil {
		return ports.SignedURLOutput{}, err
	}
	link := f.WebContentLink
	if link == "" {
		link = f.WebViewLink
	}
	return ports.SignedURLOutput{URL: link, ExpiresAt: time.Now().UTC().Add(expiresIn)}, nil
}

// lookup returns the newest file with this name in the bucket.
func (c *Client) lookup(ctx context.Context, bucket, objectKey string) (*drive.File, error) {
	list, err := c.srv.Files.List().
		Q(lookupQuery(c.folderID, bucket, objectKey)).
		Fields("files(id, name, mimeType, size, webContentLink, webViewLink)").
		OrderBy("createdTime desc").
		PageSize(1).
		SupportsAllDrives(true).
		IncludeItemsFromAllDrives(true).
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("gdrive lookup failed: %w", err)
	}
	if len(list.Files) == 0 {
		return nil, fmt.Errorf("gdrive object %s/%s: %w", bucket, objectKey, fs.ErrNotExist)
	}
	return list.Files[0], nil
}

func lookupQuery(folderID, bucket, objectKey string) string {
	q := []string{
		fmt.Sprintf("name = '%s'", escapeQuery(objectKey)),
		fmt.Sprintf("appProperties has { key='%s' and value='%s' }", bucketProperty, escapeQuery(bucket)),
		"trashed = false",
	}
	if folderID != "" {
		q = append(q, fmt.Sprintf("'%s' in parents", escapeQuery(folderID)))
	}
	return strings.Join(q, " and ")
}

func escapeQuery(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `'`, `\'`)
}
