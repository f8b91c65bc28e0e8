package fileproc

import (
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
)

// ExtractMetadata gathers whatever properties the file yields. It never
// fails: unreadable properties are simply absent from the map, and the stage
// proceeds with what was collected.
func (p *Processor) ExtractMetadata(path string) map[string]any {
	meta := map[string]any{}

	ext := strings.ToLower(filepath.Ext(path))
	meta["extension"] = ext
	if mimeType := mime.TypeByExtension(ext); mimeType != "" {
		meta["mime_type"] = mimeType
	}

	info, err := os.Stat(path)
	if err != nil {
		p.logger.Warn("metadata_stat_failed", "path", path, "error", err)
		return meta
	}
	meta["size_bytes"] = info.Size()
	meta["modified_at"] = info.ModTime().UTC().Format("2006-01-02T15:04:05Z07:00")

	switch ext {
	case ".png", ".jpg", ".jpeg", ".gif":
		p.collectImageMetadata(path, meta)
	case ".pdf":
		p.collectPDFMetadata(path, meta)
	}
	return meta
}

func (p *Processor) collectImageMetadata(path string, meta map[string]any) {
	f, err := os.Open(path)
	if err != nil {
		p.logger.Warn("metadata_open_failed", "path", path, "error", err)
		return
	}
	defer f.Close()

	cfg, format, err := image.DecodeConfig(f)
	if err != nil {
		p.logger.Warn("metadata_image_decode_failed", "path", path, "error", err)
		return
	}
	meta["width"] = cfg.Width
	meta["height"] = cfg.Height
	meta["format"] = format
	meta["color_model"] = colorModelName(cfg)
}

func (p *Processor) collectPDFMetadata(path string, meta map[string]any) {
	pages, err := api.PageCountFile(path)
	if err != nil {
		p.logger.Warn("metadata_pdf_pagecount_failed", "path", path, "error", err)
		return
	}
	meta["page_count"] = pages
}

func colorModelName(cfg image.Config) string {
	switch cfg.ColorModel {
	case color.RGBAModel, color.RGBA64Model:
		return "rgba"
	case color.NRGBAModel, color.NRGBA64Model:
		return "nrgba"
	case color.GrayModel, color.Gray16Model:
		return "grayscale"
	case color.YCbCrModel:
		return "ycbcr"
	case color.CMYKModel:
		return "cmyk"
	default:
		if _, ok := cfg.ColorModel.(color.Palette); ok {
			return "paletted"
		}
		return "unknown"
	}
}
