// Package image performs OCR on image documents by shelling out to an
// external OCR engine (tesseract by default).
package image

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"

	"github.com/custodia-labs/docdispatch/internal/core/domain"
	"github.com/custodia-labs/docdispatch/internal/core/ports/driven"
)

// Ensure Extractor implements the interface.
var _ driven.Extractor = (*Extractor)(nil)

// partialThreshold marks OCR output as partial when mean word
// confidence falls below it.
const partialThreshold = 0.6

// Extractor handles image documents via external OCR.
type Extractor struct {
	command   string
	languages string
}

// New creates an OCR extractor. command is the OCR binary, languages
// its language pack argument (e.g. "eng+mal" for bilingual English and
// Malayalam content).
func New(command, languages string) *Extractor {
	if command == "" {
		command = "tesseract"
	}
	if languages == "" {
		languages = "eng"
	}
	return &Extractor{command: command, languages: languages}
}

// Type returns the file type this extractor handles.
func (e *Extractor) Type() domain.FileType {
	return domain.TypeImage
}

// Check verifies the OCR binary is on PATH.
func (e *Extractor) Check(_ context.Context) error {
	if _, err := exec.LookPath(e.command); err != nil {
		return fmt.Errorf("%w: %s not found on PATH", domain.ErrExtractorUnavailable, e.command)
	}
	return nil
}

// Extract runs the OCR engine in TSV mode and reassembles its word
// boxes into text, carrying the engine's own mean word confidence in
// the result. Low-confidence output is marked partial so downstream
// consumers know the text may be incomplete.
func (e *Extractor) Extract(ctx context.Context, src io.Reader) (*driven.ExtractionResult, error) {
	cmd := exec.CommandContext(ctx, e.command, "stdin", "stdout", "-l", e.languages, "tsv")
	cmd.Stdin = src

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		switch {
		case errors.Is(ctx.Err(), context.DeadlineExceeded):
			return nil, fmt.Errorf("%w: ocr exceeded time bound", domain.ErrExtractorTimeout)
		case isNotFound(err):
			return nil, fmt.Errorf("%w: %s not found on PATH", domain.ErrExtractorUnavailable, e.command)
		default:
			return nil, fmt.Errorf("%w: ocr failed: %v: %s",
				domain.ErrCorruptContent, err, strings.TrimSpace(stderr.String()))
		}
	}

	text, confidence := parseTSV(stdout.String())

	res := &driven.ExtractionResult{
		Text:          text,
		OCRConfidence: confidence,
		Metadata: map[string]string{
			"format":        "image",
			"ocr_languages": e.languages,
		},
	}
	if text == "" {
		res.Warnings = append(res.Warnings, "ocr produced no text")
		res.Partial = true
	} else if confidence < partialThreshold {
		res.Warnings = append(res.Warnings,
			fmt.Sprintf("low ocr confidence %.2f; text may be incomplete", confidence))
		res.Partial = true
	}
	return res, nil
}

func isNotFound(err error) bool {
	var execErr *exec.Error
	return errors.As(err, &execErr) && errors.Is(execErr.Err, exec.ErrNotFound)
}

// parseTSV reassembles tesseract TSV output. Word rows are level 5; the
// conf column holds per-word confidence 0-100 (-1 for non-word rows).
// Lines break on the line_num column.
func parseTSV(tsv string) (string, float64) {
	var sb strings.Builder
	var confSum float64
	var words int
	lastLine := ""

	for i, row := range strings.Split(tsv, "\n") {
		if i == 0 || strings.TrimSpace(row) == "" {
			continue // header
		}
		cols := strings.Split(row, "\t")
		if len(cols) < 12 || cols[0] != "5" {
			continue
		}

		word := strings.TrimSpace(cols[11])
		if word == "" {
			continue
		}

		// page/block/paragraph/line identify the text line.
		lineKey := strings.Join(cols[1:5], "/")
		if sb.Len() > 0 {
			if lineKey != lastLine {
				sb.WriteString("\n")
			} else {
				sb.WriteString(" ")
			}
		}
		lastLine = lineKey
		sb.WriteString(word)

		if conf, err := strconv.ParseFloat(cols[10], 64); err == nil && conf >= 0 {
			confSum += conf
			words++
		}
	}

	if words == 0 {
		return sb.String(), 0
	}
	return sb.String(), confSum / float64(words) / 100
}
