package driving

import (
	"context"
	"time"

	"github.com/custodia-labs/docdispatch/internal/core/domain"
)

// IntakeQueue is the intake boundary. Channel adapters and the CLI submit
// events here; every accepted event resolves to STORED or FAILED, never
// silently dropped.
type IntakeQueue interface {
	// Submit enqueues an intake event. Fails with domain.ErrQueueFull
	// when the bounded queue is saturated and domain.ErrUnreadableInput
	// when the event's content cannot be opened.
	Submit(ctx context.Context, event domain.IntakeEvent) error
}

// RunSummary reports one completed pipeline pass.
type RunSummary struct {
	Polled     int
	Accepted   int
	Duplicates int
	Stored     int
	Failed     int

	ByDepartment map[domain.Department]int

	Elapsed time.Duration
}

// PipelineStatus is the live view of the pipeline.
type PipelineStatus struct {
	// Queued is the number of events waiting in the intake queue.
	Queued int

	// InFlight is the number of events being processed right now.
	InFlight int

	ByStatus     map[domain.Status]int
	ByDepartment map[domain.Department]int
}

// Diagnostic is one configuration-check finding.
type Diagnostic struct {
	Component string
	OK        bool
	Detail    string
}

// Pipeline is the operational surface over the dispatch orchestrator.
type Pipeline interface {
	IntakeQueue

	// RunOnce polls every channel adapter once, drains the queue,
	// resumes parked documents with staged content and returns a
	// summary.
	RunOnce(ctx context.Context) (*RunSummary, error)

	// Start runs continuously: watchers, poll ticker and worker pool.
	// Blocks until the context is cancelled, then drains gracefully.
	Start(ctx context.Context) error

	// Status reports queue depth, in-flight work and ledger counts.
	Status(ctx context.Context) (*PipelineStatus, error)

	// CheckConfiguration validates configuration, rules, ledger
	// connectivity and extractor availability.
	CheckConfiguration(ctx context.Context) []Diagnostic
}
