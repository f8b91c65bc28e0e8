package fileproc

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
)

// Processor bundles validation, metadata extraction, thumbnail generation,
// and file relocation behind a single adapter.
type Processor struct {
	validator *Validator
	logger    *slog.Logger
}

func NewProcessor(validator *Validator, logger *slog.Logger) *Processor {
	return &Processor{validator: validator, logger: logger}
}

func (p *Processor) Validate(path string) error {
	return p.validator.Validate(path)
}

// MoveToFinalDestination relocates a staged file to its permanent content
// path. Rename is preferred; a cross-device copy is the fallback when staging
// and content live on different mounts.
func (p *Processor) MoveToFinalDestination(tempPath, finalPath string) error {
	if err := os.MkdirAll(filepath.Dir(finalPath), 0o755); err != nil {
		return fmt.Errorf("create content dir: %w", err)
	}

	if err := os.Rename(tempPath, finalPath); err == nil {
		return nil
	}

	src, err := os.Open(tempPath)
	if err != nil {
		return fmt.Errorf("open staged file: %w", err)
	}
	defer src.Close()

	dst, err := os.OpenFile(finalPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("create final file: %w", err)
	}

	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()
		_ = os.Remove(finalPath)
		return fmt.Errorf("copy to final path: %w", err)
	}
	if err := dst.Sync(); err != nil {
		_ = dst.Close()
		return fmt.Errorf("sync final file: %w", err)
	}
	if err := dst.Close(); err != nil {
		return fmt.Errorf("close final file: %w", err)
	}
	return nil
}

// CleanupTempFile is best effort. The staged file may already be gone after a
// successful rename.
func (p *Processor) CleanupTempFile(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		p.logger.Warn("staged_file_cleanup_failed", "path", path, "error", err)
	}
}
