package pipeline

import (
	stderrors "errors"
	"os"
	"path/filepath"
	"strings"
	"syscall"
)

type Cleanup struct {
	enabled bool
}

func NewCleanup(enabled bool) *Cleanup {
	return &Cleanup{enabled: enabled}
}

// Frames removes the intermediate frame images in dir, then the directory
// itself if nothing else is left in it.
func (c *Cleanup) Frames(dir string) (int, error) {
	if !c.enabled {
		return 0, nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}

	removed := 0
	var firstErr error
	for _, e := range entries {
		if e.IsDir() || !isFrameImage(e.Name()) {
			continue
		}
		if err := os.Remove(filepath.Join(dir, e.Name())); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		removed++
	}

	err = os.Remove(dir)
	if err == nil || os.IsNotExist(err) {
		return removed, firstErr
	}

	// Non-empty: the video (and anything else) stays.
	if stderrors.Is(err, syscall.ENOTEMPTY) || stderrors.Is(err, syscall.EEXIST) {
		return removed, firstErr
	}
	if firstErr == nil {
		firstErr = err
	}
	return removed, firstErr
}

func isFrameImage(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".png", ".jpg", ".jpeg":
		return true
	default:
		return false
	}
}
