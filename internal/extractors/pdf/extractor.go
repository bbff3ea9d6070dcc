// Package pdf extracts machine text from PDF documents via pdfcpu.
package pdf

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/custodia-labs/docdispatch/internal/core/domain"
	"github.com/custodia-labs/docdispatch/internal/core/ports/driven"
)

// Ensure Extractor implements the interface.
var _ driven.Extractor = (*Extractor)(nil)

// Extractor handles PDF documents.
type Extractor struct {
	conf *model.Configuration
	ocr  driven.Extractor
}

// New creates a PDF extractor. Validation is relaxed: real-world scans
// are frequently non-conformant but still readable.
func New() *Extractor {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return &Extractor{conf: conf}
}

// NewWithOCR creates a PDF extractor that hands the embedded images of
// pages without a text layer to ocr. Scanned PDFs carry one full-page
// image per page, so OCR over the embedded images recovers the printed
// text.
func NewWithOCR(ocr driven.Extractor) *Extractor {
	e := New()
	e.ocr = ocr
	return e
}

// Type returns the file type this extractor handles.
func (e *Extractor) Type() domain.FileType {
	return domain.TypePDF
}

// Extract parses the PDF and lifts the text layer from every page's
// content stream. A PDF without a text layer (a pure scan) yields empty
// text with a warning; classification can still use filename and
// channel signals.
func (e *Extractor) Extract(ctx context.Context, src io.Reader) (*driven.ExtractionResult, error) {
	data, err := io.ReadAll(src)
	if err != nil {
		return nil, fmt.Errorf("%w: reading pdf: %v", domain.ErrUnreadableInput, err)
	}

	pdfCtx, err := api.ReadContext(bytes.NewReader(data), e.conf)
	if err != nil {
		return nil, fmt.Errorf("%w: parsing pdf: %v", domain.ErrCorruptContent, err)
	}
	if err := api.ValidateContext(pdfCtx); err != nil {
		return nil, fmt.Errorf("%w: validating pdf: %v", domain.ErrCorruptContent, err)
	}

	res := &driven.ExtractionResult{
		Metadata: map[string]string{
			"format":     "pdf",
			"page_count": strconv.Itoa(pdfCtx.PageCount),
		},
	}

	var sb strings.Builder
	for page := 1; page <= pdfCtx.PageCount; page++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		r, err := pdfcpu.ExtractPageContent(pdfCtx, page)
		if err != nil {
			res.Warnings = append(res.Warnings, fmt.Sprintf("page %d: %v", page, err))
			res.Partial = true
			continue
		}
		if r == nil {
			continue
		}
		content, err := io.ReadAll(r)
		if err != nil {
			res.Warnings = append(res.Warnings, fmt.Sprintf("page %d: %v", page, err))
			res.Partial = true
			continue
		}

		if text := decodeContentText(content); text != "" {
			if sb.Len() > 0 {
				sb.WriteString("\n")
			}
			sb.WriteString(text)
		}
	}

	res.Text = strings.TrimSpace(sb.String())
	if res.Text == "" {
		if err := e.ocrFallback(ctx, pdfCtx, res); err != nil {
			return nil, err
		}
	}
	if res.Text == "" {
		res.Warnings = append(res.Warnings, "no text layer; document may be a scan")
	}
	return res, nil
}

// ocrFallback feeds every embedded image to the OCR extractor and
// adopts its text and confidence. Timeout and unavailable errors
// propagate so the document is retried; anything else degrades to a
// partial result.
func (e *Extractor) ocrFallback(ctx context.Context, pdfCtx *model.Context, res *driven.ExtractionResult) error {
	if e.ocr == nil {
		return nil
	}
	if err := api.OptimizeContext(pdfCtx); err != nil {
		res.Warnings = append(res.Warnings, fmt.Sprintf("ocr fallback: %v", err))
		res.Partial = true
		return nil
	}

	var sb strings.Builder
	var confSum float64
	var ocrRuns int
	for page := 1; page <= pdfCtx.PageCount; page++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		images, err := pdfcpu.ExtractPageImages(pdfCtx, page, false)
		if err != nil {
			res.Warnings = append(res.Warnings, fmt.Sprintf("page %d images: %v", page, err))
			res.Partial = true
			continue
		}
		res.Images += len(images)

		for _, img := range sortedImages(images) {
			ocrRes, err := e.ocr.Extract(ctx, img)
			if err != nil {
				if domain.Retryable(err) {
					return err
				}
				res.Warnings = append(res.Warnings, fmt.Sprintf("page %d ocr: %v", page, err))
				res.Partial = true
				continue
			}
			if ocrRes.Text != "" {
				if sb.Len() > 0 {
					sb.WriteString("\n")
				}
				sb.WriteString(ocrRes.Text)
			}
			confSum += ocrRes.OCRConfidence
			ocrRuns++
			if ocrRes.Partial {
				res.Partial = true
			}
		}
	}

	if ocrRuns == 0 {
		return nil
	}
	res.Text = strings.TrimSpace(sb.String())
	res.OCRConfidence = confSum / float64(ocrRuns)
	res.Metadata["ocr_fallback"] = "true"
	return nil
}

// sortedImages orders a page's images by object number so OCR output is
// deterministic.
func sortedImages(m map[int]model.Image) []model.Image {
	nrs := make([]int, 0, len(m))
	for nr := range m {
		nrs = append(nrs, nr)
	}
	sort.Ints(nrs)
	out := make([]model.Image, 0, len(m))
	for _, nr := range nrs {
		out = append(out, m[nr])
	}
	return out
}

// decodeContentText lifts string literals out of a page content stream.
// It understands literal strings with escapes and hex strings, and
// treats text-positioning operators as line breaks. This covers the
// text PDFs producers actually emit; exotic encodings surface as noise
// the classifier simply will not match.
func decodeContentText(content []byte) string {
	var sb strings.Builder
	i := 0
	for i < len(content) {
		switch content[i] {
		case '(':
			literal, next := parseLiteral(content, i)
			sb.WriteString(literal)
			sb.WriteByte(' ')
			i = next
		case '<':
			if i+1 < len(content) && content[i+1] == '<' {
				i += 2 // dictionary open, not a string
				continue
			}
			literal, next := parseHex(content, i)
			sb.WriteString(literal)
			sb.WriteByte(' ')
			i = next
		case 'T':
			// Td, TD and T* move the text cursor to a new line.
			if i+1 < len(content) && (content[i+1] == 'd' || content[i+1] == 'D' || content[i+1] == '*') {
				sb.WriteByte('\n')
				i += 2
				continue
			}
			i++
		default:
			i++
		}
	}
	return strings.Join(strings.FieldsFunc(sb.String(), func(r rune) bool {
		return r == ' '
	}), " ")
}

// parseLiteral consumes a ( ... ) string starting at i and returns the
// decoded text plus the index after the closing parenthesis.
func parseLiteral(content []byte, i int) (string, int) {
	var sb strings.Builder
	depth := 0
	for ; i < len(content); i++ {
		c := content[i]
		switch c {
		case '\\':
			if i+1 < len(content) {
				i++
				switch content[i] {
				case 'n':
					sb.WriteByte('\n')
				case 't':
					sb.WriteByte('\t')
				case 'r', 'f', 'b':
					// positioning escapes carry no text
				default:
					sb.WriteByte(content[i])
				}
			}
		case '(':
			depth++
			if depth > 1 {
				sb.WriteByte(c)
			}
		case ')':
			depth--
			if depth == 0 {
				return sb.String(), i + 1
			}
			sb.WriteByte(c)
		default:
			sb.WriteByte(c)
		}
	}
	return sb.String(), i
}

// parseHex consumes a < ... > hex string starting at i.
func parseHex(content []byte, i int) (string, int) {
	end := bytes.IndexByte(content[i:], '>')
	if end < 0 {
		return "", len(content)
	}
	hexDigits := make([]byte, 0, end)
	for _, c := range content[i+1 : i+end] {
		if isHexDigit(c) {
			hexDigits = append(hexDigits, c)
		}
	}
	if len(hexDigits)%2 == 1 {
		hexDigits = append(hexDigits, '0')
	}

	var sb strings.Builder
	for j := 0; j+1 < len(hexDigits); j += 2 {
		b := hexVal(hexDigits[j])<<4 | hexVal(hexDigits[j+1])
		if b >= 0x20 && b < 0x7f {
			sb.WriteByte(b)
		}
	}
	return sb.String(), i + end + 1
}

func isHexDigit(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

func hexVal(c byte) byte {
	switch {
	case c >= '0' && c <= '9':
		return c - '0'
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10
	default:
		return c - 'A' + 10
	}
}
