package driven

import (
	"context"

	"github.com/custodia-labs/docdispatch/internal/core/domain"
)

// IntakeRecord carries everything the ledger needs to create a Document
// for a fingerprint it has never seen, or to append provenance to one it
// has.
type IntakeRecord struct {
	Fingerprint domain.ContentHash
	Provenance  domain.Provenance
	SizeBytes   int64
}

// TransitionPayload carries the data a transition commits alongside the
// status change. Only the fields relevant to the target status are set.
// Department and Confidence are applied together or not at all.
type TransitionPayload struct {
	DetectedType *domain.FileType

	ExtractedText   *string
	ExtractedTables []domain.Table

	Department *domain.Department
	Confidence *float64
	Reasons    []domain.RuleMatch

	// Metadata entries are merged into the document's metadata.
	Metadata map[string]string

	// Note is recorded on the history entry.
	Note string
}

// QueryFilter narrows a ledger query. Zero values mean "any".
type QueryFilter struct {
	Department domain.Department
	Status     domain.Status
	Channel    domain.SourceChannel

	// Text is a full-text query over original name and extracted text.
	Text string

	Limit int
}

// Counts is an aggregate snapshot used by the status surface.
type Counts struct {
	ByStatus     map[domain.Status]int
	ByDepartment map[domain.Department]int
	Total        int
}

// Ledger is the authoritative state store for Documents and the only
// writer of status and history. CreateOrGetByFingerprint and Transition
// are the pipeline's only serialisation points; both are atomic per
// fingerprint / document.
type Ledger interface {
	// CreateOrGetByFingerprint creates a Document for a new fingerprint
	// or appends provenance to the existing one. Concurrent callers
	// with the same fingerprint observe exactly one isNew=true.
	CreateOrGetByFingerprint(ctx context.Context, rec IntakeRecord) (doc *domain.Document, isNew bool, err error)

	// Transition moves a document from one status to another under an
	// optimistic concurrency guard. When the document's current status
	// is not `from`, it fails with domain.ErrConcurrencyConflict and
	// commits nothing. An undefined edge fails with
	// domain.ErrInvalidTransition.
	Transition(ctx context.Context, id string, from, to domain.Status, payload TransitionPayload) (*domain.Document, error)

	// RecordFailure increments the retry count and either rewinds the
	// document to its retry entry point (retryable, under the limit)
	// or moves it to FAILED. The causing error is preserved as
	// LastError either way.
	RecordFailure(ctx context.Context, id string, cause error, retryable bool) (*domain.Document, error)

	// Resubmit re-enters a terminal document as a fresh attempt. The
	// terminal history is retained; status rewinds to RECEIVED with
	// retry count reset. Non-terminal documents are rejected.
	Resubmit(ctx context.Context, id string) (*domain.Document, error)

	// Get retrieves a document by ID.
	Get(ctx context.Context, id string) (*domain.Document, error)

	// GetByFingerprint retrieves a document by content hash.
	GetByFingerprint(ctx context.Context, fp domain.ContentHash) (*domain.Document, error)

	// Query returns documents matching the filter, newest first.
	Query(ctx context.Context, filter QueryFilter) ([]domain.Document, error)

	// Counts returns aggregate counts for the status surface.
	Counts(ctx context.Context) (*Counts, error)

	// Close releases resources.
	Close() error
}
