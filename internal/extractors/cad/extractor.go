// Package cad extracts annotation text from CAD drawings. ASCII DXF
// files carry TEXT/MTEXT entities we can lift; binary DWG files have no
// accessible text layer and yield an empty result with a warning, which
// still classifies through the detected-type rule.
package cad

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/custodia-labs/docdispatch/internal/core/domain"
	"github.com/custodia-labs/docdispatch/internal/core/ports/driven"
)

// Ensure Extractor implements the interface.
var _ driven.Extractor = (*Extractor)(nil)

// Extractor handles CAD drawings.
type Extractor struct{}

// New creates a CAD extractor.
func New() *Extractor {
	return &Extractor{}
}

// Type returns the file type this extractor handles.
func (e *Extractor) Type() domain.FileType {
	return domain.TypeCAD
}

// Extract lifts TEXT and MTEXT entity values from a DXF drawing.
func (e *Extractor) Extract(ctx context.Context, src io.Reader) (*driven.ExtractionResult, error) {
	data, err := io.ReadAll(src)
	if err != nil {
		return nil, fmt.Errorf("%w: reading drawing: %v", domain.ErrUnreadableInput, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if bytes.HasPrefix(data, []byte("AC10")) {
		return &driven.ExtractionResult{
			Warnings: []string{"binary dwg drawing has no accessible text layer"},
			Partial:  true,
			Metadata: map[string]string{"format": "dwg"},
		}, nil
	}

	texts, entities, err := parseDXF(data)
	if err != nil {
		return nil, err
	}

	res := &driven.ExtractionResult{
		Text: strings.Join(texts, "\n"),
		Metadata: map[string]string{
			"format":        "dxf",
			"text_entities": strconv.Itoa(entities),
		},
	}
	if len(texts) == 0 {
		res.Warnings = append(res.Warnings, "drawing carries no text entities")
	}
	return res, nil
}

// parseDXF walks the group-code/value pairs of an ASCII DXF file and
// collects the string values (codes 1 and 3) of TEXT and MTEXT
// entities.
func parseDXF(data []byte) ([]string, int, error) {
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	var texts []string
	entities := 0
	entity := ""
	sawSection := false

	for scanner.Scan() {
		code := strings.TrimSpace(scanner.Text())
		if !scanner.Scan() {
			break
		}
		value := strings.TrimSpace(scanner.Text())

		switch code {
		case "0":
			if value == "SECTION" {
				sawSection = true
			}
			entity = value
			if entity == "TEXT" || entity == "MTEXT" {
				entities++
			}
		case "1", "3":
			if entity == "TEXT" || entity == "MTEXT" {
				if text := cleanMText(value); text != "" {
					texts = append(texts, text)
				}
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, 0, fmt.Errorf("%w: scanning drawing: %v", domain.ErrUnreadableInput, err)
	}
	if !sawSection {
		return nil, 0, fmt.Errorf("%w: no dxf sections found", domain.ErrCorruptContent)
	}
	return texts, entities, nil
}

// cleanMText strips the most common MTEXT inline formatting: paragraph
// breaks and brace groups.
func cleanMText(s string) string {
	s = strings.ReplaceAll(s, `\P`, "\n")
	s = strings.ReplaceAll(s, "{", "")
	s = strings.ReplaceAll(s, "}", "")
	return strings.TrimSpace(s)
}
