package pdf

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"io"
	"strings"
	"testing"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/docdispatch/internal/core/domain"
	"github.com/custodia-labs/docdispatch/internal/core/ports/driven"
)

// stubOCR stands in for the image extractor.
type stubOCR struct {
	text string
	conf float64
	err  error

	calls int
}

func (s *stubOCR) Type() domain.FileType { return domain.TypeImage }

func (s *stubOCR) Extract(_ context.Context, _ io.Reader) (*driven.ExtractionResult, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return &driven.ExtractionResult{Text: s.text, OCRConfidence: s.conf}, nil
}

// scannedPDF builds a one-page PDF whose only content is an embedded
// image, the shape of a scanner's output.
func scannedPDF(t *testing.T) []byte {
	t.Helper()

	var img bytes.Buffer
	require.NoError(t, png.Encode(&img, image.NewGray(image.Rect(0, 0, 8, 8))))

	var pdf bytes.Buffer
	require.NoError(t, api.ImportImages(nil, &pdf, []io.Reader{&img}, nil, nil))
	return pdf.Bytes()
}

func TestDecodeContentText(t *testing.T) {
	t.Run("literal strings with show operators", func(t *testing.T) {
		content := []byte(`BT /F1 12 Tf (Purchase Order) Tj 0 -14 Td (No. 4711) Tj ET`)
		got := decodeContentText(content)
		assert.Contains(t, got, "Purchase Order")
		assert.Contains(t, got, "No. 4711")
	})

	t.Run("escaped parentheses and nesting", func(t *testing.T) {
		content := []byte(`(outer \(inner\) text) Tj ((nested) group) Tj`)
		got := decodeContentText(content)
		assert.Contains(t, got, "outer (inner) text")
		assert.Contains(t, got, "(nested) group")
	})

	t.Run("hex strings decode printable bytes", func(t *testing.T) {
		// "Invoice"
		content := []byte(`<496E766F696365> Tj`)
		got := decodeContentText(content)
		assert.Contains(t, got, "Invoice")
	})

	t.Run("dictionaries are not strings", func(t *testing.T) {
		content := []byte(`<</Length 42>> stream (real text) Tj`)
		got := decodeContentText(content)
		assert.Contains(t, got, "real text")
		assert.NotContains(t, got, "Length")
	})
}

func TestExtractor_Extract(t *testing.T) {
	t.Run("garbage fails with corrupt content", func(t *testing.T) {
		e := New()
		_, err := e.Extract(context.Background(), strings.NewReader("not a pdf"))
		assert.ErrorIs(t, err, domain.ErrCorruptContent)
	})

	t.Run("scan without ocr engine yields empty text with warning", func(t *testing.T) {
		e := New()
		res, err := e.Extract(context.Background(), bytes.NewReader(scannedPDF(t)))
		require.NoError(t, err)
		assert.Empty(t, res.Text)
		require.NotEmpty(t, res.Warnings)
		assert.Contains(t, res.Warnings[len(res.Warnings)-1], "no text layer")
	})
}

func TestExtractor_OCRFallback(t *testing.T) {
	ctx := context.Background()

	t.Run("scan recovers text through the ocr engine", func(t *testing.T) {
		ocr := &stubOCR{text: "maintenance invoice 4711", conf: 0.88}
		e := NewWithOCR(ocr)

		res, err := e.Extract(ctx, bytes.NewReader(scannedPDF(t)))
		require.NoError(t, err)
		assert.Equal(t, "maintenance invoice 4711", res.Text)
		assert.InDelta(t, 0.88, res.OCRConfidence, 1e-9)
		assert.Equal(t, "true", res.Metadata["ocr_fallback"])
		assert.Equal(t, 1, res.Images)
		assert.Equal(t, 1, ocr.calls)
	})

	t.Run("fatal ocr failure degrades to a partial result", func(t *testing.T) {
		ocr := &stubOCR{err: domain.ErrCorruptContent}
		e := NewWithOCR(ocr)

		res, err := e.Extract(ctx, bytes.NewReader(scannedPDF(t)))
		require.NoError(t, err)
		assert.Empty(t, res.Text)
		assert.True(t, res.Partial)
		assert.Equal(t, 1, res.Images)
	})

	t.Run("unavailable ocr engine propagates for retry", func(t *testing.T) {
		e := NewWithOCR(&stubOCR{err: domain.ErrExtractorUnavailable})
		_, err := e.Extract(ctx, bytes.NewReader(scannedPDF(t)))
		assert.ErrorIs(t, err, domain.ErrExtractorUnavailable)
	})
}

func TestExtractor_Type(t *testing.T) {
	assert.Equal(t, domain.TypePDF, New().Type())
}
