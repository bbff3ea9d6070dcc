package driven

import (
	"context"

	"github.com/custodia-labs/docdispatch/internal/core/domain"
)

// Channel is an intake source the orchestrator polls for new documents.
// Adapters own everything source-specific: credentials, staging, marking
// items as consumed. They surface documents purely as IntakeEvents.
type Channel interface {
	// Name identifies the channel in provenance records.
	Name() domain.SourceChannel

	// Poll returns the events that arrived since the previous poll.
	// An empty slice means nothing new; polling again is always safe
	// because adapters track what they have already emitted.
	Poll(ctx context.Context) ([]domain.IntakeEvent, error)

	// Check verifies the channel is usable (directories exist,
	// credentials resolve). Used by configuration checks only.
	Check(ctx context.Context) error
}

// Watcher is implemented by channels that can push events as they occur
// instead of waiting for the next poll. Watch blocks until the context
// is cancelled.
type Watcher interface {
	Watch(ctx context.Context, events chan<- domain.IntakeEvent) error
}
