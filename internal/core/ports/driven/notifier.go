package driven

import (
	"context"

	"github.com/custodia-labs/docdispatch/internal/core/domain"
)

// Notification announces a document reaching a terminal state.
type Notification struct {
	DocumentID string
	Status     domain.Status
	Department domain.Department
	Confidence float64

	// Err is the failure text for FAILED documents, empty otherwise.
	Err string
}

// Notifier consumes terminal notifications (search indexer, statistics,
// reporting). Delivery is fire-and-forget: the orchestrator logs a
// returned error and moves on; a notifier failure never rolls back the
// ledger transition that produced it.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}
