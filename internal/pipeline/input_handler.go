package pipeline

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"mvrender/internal/pkg/errors"
	"mvrender/internal/ports"
)

// Asset maps an object key in the project bucket to a local file.
type Asset struct {
	Key  string
	Path string
}

type InputHandler struct {
	sp ports.StorageProvider
}

func NewInputHandler(sp ports.StorageProvider) *InputHandler {
	return &InputHandler{sp: sp}
}

// Materialize downloads every asset, stopping at the first failure.
func (ih *InputHandler) Materialize(ctx context.Context, bucket string, assets []Asset) error {
	for _, a := range assets {
		if err := ih.materializeInput(ctx, bucket, a); err != nil {
			return err
		}
	}
	return nil
}

func (ih *InputHandler) materializeInput(ctx context.Context, bucket string, a Asset) error {
	rc, _, _, err := ih.sp.GetObject(ctx, bucket, a.Key)
	if err != nil {
		code := errors.CodeTransport
		if errors.Is(err, fs.ErrNotExist) {
			code = errors.CodeNotFound
		}
		return errors.WrapWithCode(err, code, "inputs.download", "download input failed").
			WithField("bucket", bucket).
			WithField("key", a.Key)
	}
	defer rc.Close()

	if err := saveToLocal(a.Path, rc); err != nil {
		return errors.WrapWithCode(err, errors.CodeInternal, "inputs.save", "failed to save input locally").
			WithField("path", a.Path)
	}
	return nil
}

func saveToLocal(path string, rc io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := io.Copy(f, rc); err != nil {
		return err
	}
	return f.Close()
}
