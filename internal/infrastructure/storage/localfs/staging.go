package localfs

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// StagingStorage lands uploaded bodies on local disk. Files stay here only
// until the intake stage relocates them to the content path.
type StagingStorage struct {
	dir string
}

func NewStagingStorage(dir string) (*StagingStorage, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create staging dir: %w", err)
	}
	return &StagingStorage{dir: dir}, nil
}

func (s *StagingStorage) Stage(ctx context.Context, filename string, data io.Reader) (string, int64, error) {
	if err := ctx.Err(); err != nil {
		return "", 0, err
	}

	path := filepath.Join(s.dir, filename)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
	if err != nil {
		return "", 0, fmt.Errorf("create staged file: %w", err)
	}

	size, err := io.Copy(f, data)
	if err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return "", 0, fmt.Errorf("write staged file: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return "", 0, fmt.Errorf("sync staged file: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", 0, fmt.Errorf("close staged file: %w", err)
	}
	return path, size, nil
}
