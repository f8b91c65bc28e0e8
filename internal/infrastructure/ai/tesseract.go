package ai

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// LocalOCREngine shells out to the tesseract binary and parses its TSV
// output into plain text plus a mean word confidence.
type LocalOCREngine struct {
	binaryPath string
	language   string
}

func NewLocalOCREngine(binaryPath, language string) *LocalOCREngine {
	if binaryPath == "" {
		binaryPath = "tesseract"
	}
	if language == "" {
		language = "eng"
	}
	return &LocalOCREngine{binaryPath: binaryPath, language: language}
}

// Recognize runs tesseract over the image at path. The returned confidence
// is the mean over recognized words, 0..100.
func (e *LocalOCREngine) Recognize(ctx context.Context, path string) (string, float64, error) {
	cmd := exec.CommandContext(ctx, e.binaryPath, path, "stdout", "-l", e.language, "tsv")

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		detail := strings.TrimSpace(stderr.String())
		if detail != "" {
			return "", 0, fmt.Errorf("tesseract: %w: %s", err, detail)
		}
		return "", 0, fmt.Errorf("tesseract: %w", err)
	}

	text, confidence := parseTSV(stdout.String())
	return text, confidence, nil
}

// parseTSV walks tesseract's TSV rows. Word rows carry a confidence of 0 or
// more; structural rows use -1 and are skipped. Line boundaries come from the
// line_num column.
func parseTSV(raw string) (string, float64) {
	var (
		lines     []string
		current   []string
		lastLine  = -1
		confSum   float64
		confCount int
	)

	flush := func() {
		if len(current) > 0 {
			lines = append(lines, strings.Join(current, " "))
			current = current[:0]
		}
	}

	for i, row := range strings.Split(raw, "\n") {
		if i == 0 {
			continue // header
		}
		cols := strings.Split(row, "\t")
		if len(cols) < 12 {
			continue
		}

		conf, err := strconv.ParseFloat(cols[10], 64)
		if err != nil || conf < 0 {
			continue
		}
		word := strings.TrimSpace(cols[11])
		if word == "" {
			continue
		}

		lineNum, _ := strconv.Atoi(cols[4])
		if lineNum != lastLine {
			flush()
			lastLine = lineNum
		}
		current = append(current, word)
		confSum += conf
		confCount++
	}
	flush()

	if confCount == 0 {
		return "", 0
	}
	return strings.Join(lines, "\n"), confSum / float64(confCount)
}
