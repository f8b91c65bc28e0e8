package fileproc

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/metrodocs/document-pipeline/internal/core/domain"
)

// DefaultMinFileSize rejects files too small to hold real content. Truncated
// uploads surface here instead of failing deep inside OCR.
const DefaultMinFileSize = 100

// DefaultMaxFileSize caps uploads at 50 MB.
const DefaultMaxFileSize = 50 << 20

var defaultAllowedExtensions = []string{
	".pdf", ".png", ".jpg", ".jpeg", ".tiff", ".tif", ".doc", ".docx", ".dwg", ".dxf",
}

// Validator checks uploaded files before any processing stage touches them.
// Every rejection is a validation error, which the pipeline treats as
// terminal and never retries.
type Validator struct {
	minSize int64
	maxSize int64
	allowed map[string]struct{}
}

func NewValidator(minSize, maxSize int64, extensions []string) *Validator {
	if minSize <= 0 {
		minSize = DefaultMinFileSize
	}
	if maxSize <= 0 {
		maxSize = DefaultMaxFileSize
	}
	if len(extensions) == 0 {
		extensions = defaultAllowedExtensions
	}
	allowed := make(map[string]struct{}, len(extensions))
	for _, ext := range extensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		allowed[ext] = struct{}{}
	}
	return &Validator{minSize: minSize, maxSize: maxSize, allowed: allowed}
}

func (v *Validator) Validate(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return domain.WrapError(domain.ErrFileNotFound, "validate file", fmt.Errorf("path %s", path))
		}
		return fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return domain.WrapError(domain.ErrInvalidInput, "validate file", fmt.Errorf("%s is a directory", path))
	}

	if info.Size() < v.minSize {
		return domain.WrapError(domain.ErrFileEmpty, "validate file",
			fmt.Errorf("size %d below minimum %d", info.Size(), v.minSize))
	}
	if info.Size() > v.maxSize {
		return domain.WrapError(domain.ErrFileTooLarge, "validate file",
			fmt.Errorf("size %d exceeds limit %d", info.Size(), v.maxSize))
	}

	ext := strings.ToLower(filepath.Ext(path))
	if _, ok := v.allowed[ext]; !ok {
		return domain.WrapError(domain.ErrUnsupportedType, "validate file",
			fmt.Errorf("extension %q not allowed", ext))
	}
	return nil
}
