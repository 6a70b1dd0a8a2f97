package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"mvrender/internal/ports"
)

type OutputHandler struct {
	sp ports.StorageProvider
}

func NewOutputHandler(sp ports.StorageProvider) *OutputHandler {
	return &OutputHandler{sp: sp}
}

// FindVideo returns the most recently modified .mp4 in dir.
func FindVideo(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("read output directory: %w", err)
	}

	var newest string
	var newestMod int64
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".mp4") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if mod := info.ModTime().UnixNano(); newest == "" || mod > newestMod {
			newest, newestMod = e.Name(), mod
		}
	}

	if newest == "" {
		return "", fmt.Errorf("no video found in %s", dir)
	}
	return filepath.Join(dir, newest), nil
}

// Upload stores the local file at path under bucket/key.
func (oh *OutputHandler) Upload(ctx context.Context, bucket, key, path string) (ports.PutObjectOutput, error) {
	st, err := os.Stat(path)
	if err != nil {
		return ports.PutObjectOutput{}, fmt.Errorf("video file not found: %w", err)
	}

	f, err := os.Open(path)
	if err != nil {
		return ports.PutObjectOutput{}, fmt.Errorf("failed to open video: %w", err)
	}
	defer f.Close()

	out, err := oh.sp.PutObject(ctx, ports.PutObjectInput{
		Bucket:      bucket,
		ObjectKey:   key,
		ContentType: "video/mp4",
		Reader:      f,
		Size:        st.Size(),
	})
	if err != nil {
		return ports.PutObjectOutput{}, fmt.Errorf("failed to upload video: %w", err)
	}
	return out, nil
}
