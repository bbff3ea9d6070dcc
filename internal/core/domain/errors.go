package domain

import "errors"

// Domain errors represent business logic failures.
// These are distinct from infrastructure errors.
var (
	// ErrNotFound indicates a requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput indicates malformed or invalid input.
	ErrInvalidInput = errors.New("invalid input")

	// ErrUnreadableInput indicates the intake source could not be read.
	// Never retried automatically; surfaced to the submitter.
	ErrUnreadableInput = errors.New("unreadable input")

	// ErrQueueFull indicates the intake queue rejected a submission.
	ErrQueueFull = errors.New("intake queue full")

	// Ledger errors.

	// ErrInvalidTransition indicates a requested status change is not
	// defined by the state machine.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrConcurrencyConflict indicates the ledger's optimistic guard
	// rejected a transition because the document's current status is
	// not the expected one. The caller re-reads and decides whether to
	// no-op or resume; it never blindly retries.
	ErrConcurrencyConflict = errors.New("concurrency conflict")

	// ErrTerminalDocument indicates an operation other than explicit
	// resubmission was attempted on a STORED or FAILED document.
	ErrTerminalDocument = errors.New("document is terminal")

	// Extraction errors.

	// ErrUnsupportedType indicates no extractor handles the detected
	// type. Fatal; the document fails immediately.
	ErrUnsupportedType = errors.New("unsupported type")

	// ErrExtractorUnavailable indicates the extractor exists but cannot
	// run right now (missing binary, closed adapter). Retryable.
	ErrExtractorUnavailable = errors.New("extractor unavailable")

	// ErrExtractorTimeout indicates an extractor exceeded its time
	// bound. Retryable up to the configured limit.
	ErrExtractorTimeout = errors.New("extractor timeout")

	// ErrCorruptContent indicates the bytes do not parse as the
	// detected type. Fatal; retrying cannot help.
	ErrCorruptContent = errors.New("corrupt content")
)

// Retryable reports whether an error belongs to the transient class that
// the orchestrator retries up to the configured limit. Everything else
// fails the document immediately.
func Retryable(err error) bool {
	return errors.Is(err, ErrExtractorTimeout) || errors.Is(err, ErrExtractorUnavailable)
}
