// Package text handles plain text documents.
package text

import (
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

// Extractor handles plain text documents.
type Extractor struct{}

// New creates a plain text extractor.
func New() *Extractor {
	return &Extractor{}
}

// Type returns the file type this extractor handles.
func (e *Extractor) Type() domain.FileType {
	return domain.TypeText
}

// Extract reads the content as-is, repairing any invalid UTF-8.
func (e *Extractor) Extract(ctx context.Context, src io.Reader) (*driven.ExtractionResult, error) {
	data, err := io.ReadAll(src)
	if err != nil {
		return nil, fmt.Errorf("%w: reading text: %v", domain.ErrUnreadableInput, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	content := strings.ToValidUTF8(string(data), "�")
	return &driven.ExtractionResult{
		Text: content,
		Metadata: map[string]string{
			"format": "text",
			"lines":  strconv.Itoa(strings.Count(content, "\n") + 1),
		},
	}, nil
}
