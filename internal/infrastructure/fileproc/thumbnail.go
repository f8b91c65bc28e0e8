package fileproc

import (
	"fmt"
	"image"
	"image/jpeg"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/image/draw"
)

const (
	thumbnailMaxWidth  = 300
	thumbnailMaxHeight = 300
	thumbnailQuality   = 80
)

// GenerateThumbnail renders a JPEG preview for raster images, fitting inside
// 300x300 without upscaling. Non-image types return an empty path and no
// error; there is nothing to preview.
func (p *Processor) GenerateThumbnail(path, outPath string) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png", ".jpg", ".jpeg", ".gif":
	default:
		return "", nil
	}

	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open image: %w", err)
	}
	defer f.Close()

	src, _, err := image.Decode(f)
	if err != nil {
		return "", fmt.Errorf("decode image: %w", err)
	}

	bounds := src.Bounds()
	width, height := fitWithin(bounds.Dx(), bounds.Dy(), thumbnailMaxWidth, thumbnailMaxHeight)

	var out image.Image = src
	if width != bounds.Dx() || height != bounds.Dy() {
		dst := image.NewRGBA(image.Rect(0, 0, width, height))
		draw.CatmullRom.Scale(dst, dst.Bounds(), src, bounds, draw.Over, nil)
		out = dst
	}

	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return "", fmt.Errorf("create thumbnail dir: %w", err)
	}
	dst, err := os.Create(outPath)
	if err != nil {
		return "", fmt.Errorf("create thumbnail file: %w", err)
	}
	if err := jpeg.Encode(dst, out, &jpeg.Options{Quality: thumbnailQuality}); err != nil {
		_ = dst.Close()
		_ = os.Remove(outPath)
		return "", fmt.Errorf("encode thumbnail: %w", err)
	}
	if err := dst.Close(); err != nil {
		return "", fmt.Errorf("close thumbnail file: %w", err)
	}
	return outPath, nil
}

// fitWithin scales (w, h) to fit inside (maxW, maxH) preserving aspect ratio.
// Images already inside the box keep their original dimensions.
func fitWithin(w, h, maxW, maxH int) (int, int) {
	if w <= maxW && h <= maxH {
		return w, h
	}
	scaleW := float64(maxW) / float64(w)
	scaleH := float64(maxH) / float64(h)
	scale := scaleW
	if scaleH < scale {
		scale = scaleH
	}
	outW := int(float64(w) * scale)
	outH := int(float64(h) * scale)
	if outW < 1 {
		outW = 1
	}
	if outH < 1 {
		outH = 1
	}
	return outW, outH
}
