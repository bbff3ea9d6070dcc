package driven

import (
	"context"
	"io"

	"github.com/custodia-labs/docdispatch/internal/core/domain"
)

// ContentOpener returns a fresh reader over a document's bytes. Each call
// must return an independent reader; the gateway may open the content
// once for detection and again for extraction.
type ContentOpener func() (io.ReadCloser, error)

// ExtractionResult is the normalised output of one extractor call.
type ExtractionResult struct {
	// Text is the extracted machine text. May be empty for content
	// with no text layer (binary CAD, blank scans).
	Text string

	// Tables holds tabular content lifted from spreadsheets.
	Tables []domain.Table

	// Images is the number of embedded images observed. Recorded in
	// document metadata; for PDFs it is what the OCR fallback ran over.
	Images int

	// Warnings carries non-fatal extraction notes.
	Warnings []string

	// Partial marks OCR-class output that covered only part of the
	// document.
	Partial bool

	// OCRConfidence is the extractor's own confidence in Text for
	// OCR-class extraction, within [0,1]. Recorded in document
	// metadata; it is never the classification confidence. Zero when
	// not applicable.
	OCRConfidence float64

	// Metadata carries extractor-specific details (page count, OCR
	// language, sheet names).
	Metadata map[string]string
}

// Extractor converts bytes of one detected file type into text/tables.
// Implementations wrap external tooling and normalise its errors onto the
// domain taxonomy; they never touch Document state.
type Extractor interface {
	// Type returns the file type this extractor handles.
	Type() domain.FileType

	// Extract converts content into an ExtractionResult. The context
	// carries the gateway's deadline; implementations must observe it.
	Extract(ctx context.Context, src io.Reader) (*ExtractionResult, error)
}

// ExtractionGateway is the pipeline's single entry into extraction: it
// detects the content type and dispatches to the type-appropriate
// extractor under a per-type timeout and concurrency cap.
type ExtractionGateway interface {
	// DetectType determines the file type from the content signature,
	// falling back to the filename extension when the signature is
	// ambiguous. Unreadable content fails with
	// domain.ErrUnreadableInput.
	DetectType(ctx context.Context, name string, open ContentOpener) (domain.FileType, error)

	// Extract runs the extractor registered for the document's
	// detected type. Fails with domain.ErrUnsupportedType,
	// ErrExtractorUnavailable, ErrExtractorTimeout or
	// ErrCorruptContent.
	Extract(ctx context.Context, doc *domain.Document, open ContentOpener) (*ExtractionResult, error)

	// Available reports per-type readiness, for configuration checks.
	Available(ctx context.Context) map[domain.FileType]error
}
