package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/custodia-labs/docdispatch/internal/core/domain"
	"github.com/custodia-labs/docdispatch/internal/core/ports/driven"
	"github.com/custodia-labs/docdispatch/internal/core/ports/driving"
	"github.com/custodia-labs/docdispatch/internal/logger"
)

// Ensure Orchestrator implements the interface.
var _ driving.Pipeline = (*Orchestrator)(nil)

// maxBackoff caps the exponential retry delay.
const maxBackoff = 30 * time.Second

// OrchestratorOptions bound the orchestrator. Zero values fall back to
// safe defaults.
type OrchestratorOptions struct {
	Workers      int
	QueueSize    int
	RetryLimit   int
	RetryBackoff time.Duration
	PollInterval time.Duration
}

func (o *OrchestratorOptions) applyDefaults() {
	if o.Workers < 1 {
		o.Workers = 4
	}
	if o.QueueSize < 1 {
		o.QueueSize = 256
	}
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = 500 * time.Millisecond
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 30 * time.Second
	}
}

// Orchestrator drives every intake event through the state machine to a
// terminal outcome. The ledger is the only serialisation point: each
// step commits through a guarded transition, so a crash between a
// gateway call and its commit is recovered by re-entering at the last
// committed status, never by resuming mid-extraction.
type Orchestrator struct {
	ledger     driven.Ledger
	gateway    driven.ExtractionGateway
	classifier *Classifier
	channels   []driven.Channel
	notifiers  []driven.Notifier
	opts       OrchestratorOptions

	queue    chan domain.IntakeEvent
	inFlight atomic.Int64
}

// NewOrchestrator creates the dispatch orchestrator.
func NewOrchestrator(
	ledger driven.Ledger,
	gateway driven.ExtractionGateway,
	classifier *Classifier,
	channels []driven.Channel,
	notifiers []driven.Notifier,
	opts OrchestratorOptions,
) *Orchestrator {
	opts.applyDefaults()
	return &Orchestrator{
		ledger:     ledger,
		gateway:    gateway,
		classifier: classifier,
		channels:   channels,
		notifiers:  notifiers,
		opts:       opts,
		queue:      make(chan domain.IntakeEvent, opts.QueueSize),
	}
}

// Submit enqueues an intake event for processing.
func (o *Orchestrator) Submit(ctx context.Context, event domain.IntakeEvent) error {
	if event.Open == nil {
		return fmt.Errorf("%w: event has no content", domain.ErrUnreadableInput)
	}
	if event.SourceChannel == "" {
		event.SourceChannel = domain.ChannelManual
	}
	select {
	case o.queue <- event:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return fmt.Errorf("%w: %d events queued", domain.ErrQueueFull, len(o.queue))
	}
}

// RunOnce polls every channel adapter once, drains the queue, resumes
// documents parked at RECEIVED with staged content and processes
// everything with the bounded worker pool.
func (o *Orchestrator) RunOnce(ctx context.Context) (*driving.RunSummary, error) {
	start := time.Now()
	tally := newRunTally()

	events := o.drainQueue()
	polled, err := o.pollChannels(ctx)
	if err != nil {
		return nil, err
	}
	tally.polled(len(polled))
	events = append(events, polled...)
	parked := o.resumable(ctx)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.opts.Workers)
	for _, event := range events {
		g.Go(func() error {
			o.process(gctx, event, tally)
			return nil
		})
	}
	for _, r := range parked {
		g.Go(func() error {
			o.inFlight.Add(1)
			defer o.inFlight.Add(-1)
			logger.Info("resuming document %s from staged content", r.doc.ID)
			o.advance(gctx, r.doc, r.open, tally)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	summary := tally.summary()
	summary.Elapsed = time.Since(start)
	return summary, nil
}

// Start runs continuously: watcher channels push events, a ticker polls
// the rest and the worker pool drains the queue. Blocks until the
// context is cancelled, then drains in-flight work.
func (o *Orchestrator) Start(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	tally := newRunTally()

	// Watcher channels push events as they occur.
	pushed := make(chan domain.IntakeEvent)
	for _, ch := range o.channels {
		watcher, ok := ch.(driven.Watcher)
		if !ok {
			continue
		}
		g.Go(func() error {
			if err := watcher.Watch(gctx, pushed); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("channel %s watch: %w", ch.Name(), err)
			}
			return nil
		})
	}
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case event := <-pushed:
				if err := o.Submit(gctx, event); err != nil {
					logger.Warn("dropping pushed event %s: %v", event.OriginalName, err)
				}
			}
		}
	})

	// Poll ticker for channels that cannot push.
	g.Go(func() error {
		ticker := time.NewTicker(o.opts.PollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				events, err := o.pollChannels(gctx)
				if err != nil {
					logger.Error("polling channels: %v", err)
					continue
				}
				for _, event := range events {
					if err := o.Submit(gctx, event); err != nil {
						logger.Warn("dropping polled event %s: %v", event.OriginalName, err)
					}
				}
				for _, r := range o.resumable(gctx) {
					logger.Info("resuming document %s from staged content", r.doc.ID)
					o.advance(gctx, r.doc, r.open, tally)
				}
			}
		}
	})

	// Worker pool.
	for i := 0; i < o.opts.Workers; i++ {
		g.Go(func() error {
			for {
				select {
				case event := <-o.queue:
					// Finish in-flight work even during shutdown; each
					// step is short and commits through the ledger.
					o.process(context.WithoutCancel(gctx), event, tally)
				case <-gctx.Done():
					for {
						select {
						case event := <-o.queue:
							o.process(context.WithoutCancel(gctx), event, tally)
						default:
							return nil
						}
					}
				}
			}
		})
	}

	return g.Wait()
}

// Status reports queue depth, in-flight work and ledger counts.
func (o *Orchestrator) Status(ctx context.Context) (*driving.PipelineStatus, error) {
	counts, err := o.ledger.Counts(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading ledger counts: %w", err)
	}
	return &driving.PipelineStatus{
		Queued:       len(o.queue),
		InFlight:     int(o.inFlight.Load()),
		ByStatus:     counts.ByStatus,
		ByDepartment: counts.ByDepartment,
	}, nil
}

// CheckConfiguration validates ledger connectivity, extractor
// availability, channel readiness and the rule table.
func (o *Orchestrator) CheckConfiguration(ctx context.Context) []driving.Diagnostic {
	var diags []driving.Diagnostic

	if _, err := o.ledger.Counts(ctx); err != nil {
		diags = append(diags, driving.Diagnostic{Component: "ledger", Detail: err.Error()})
	} else {
		diags = append(diags, driving.Diagnostic{Component: "ledger", OK: true, Detail: "reachable"})
	}

	diags = append(diags, driving.Diagnostic{
		Component: "classifier",
		OK:        o.classifier.RuleCount() > 0,
		Detail:    fmt.Sprintf("%d rules loaded", o.classifier.RuleCount()),
	})

	for ft, err := range o.gateway.Available(ctx) {
		d := driving.Diagnostic{Component: "extractor/" + string(ft), OK: err == nil, Detail: "ready"}
		if err != nil {
			d.Detail = err.Error()
		}
		diags = append(diags, d)
	}

	for _, ch := range o.channels {
		d := driving.Diagnostic{Component: "channel/" + string(ch.Name()), OK: true, Detail: "ready"}
		if err := ch.Check(ctx); err != nil {
			d.OK = false
			d.Detail = err.Error()
		}
		diags = append(diags, d)
	}

	return diags
}

// drainQueue empties the intake queue without blocking.
func (o *Orchestrator) drainQueue() []domain.IntakeEvent {
	var events []domain.IntakeEvent
	for {
		select {
		case event := <-o.queue:
			events = append(events, event)
		default:
			return events
		}
	}
}

// resumableDoc pairs a parked document with a fresh opener over its
// staged content.
type resumableDoc struct {
	doc  *domain.Document
	open driven.ContentOpener
}

// resumable lists documents parked at RECEIVED whose content is still
// on local disk, so an operator resubmission is picked up on the next
// pass without waiting for a redelivery. Channels that stream content
// without staging leave no local copy; their documents rejoin when the
// same bytes are delivered again.
func (o *Orchestrator) resumable(ctx context.Context) []resumableDoc {
	docs, err := o.ledger.Query(ctx, driven.QueryFilter{Status: domain.StatusReceived})
	if err != nil {
		logger.Error("listing parked documents: %v", err)
		return nil
	}

	var out []resumableDoc
	for i := range docs {
		doc := &docs[i]
		path := doc.Metadata["staged_path"]
		if path == "" {
			path = doc.Metadata["source_path"]
		}
		if path == "" {
			continue
		}
		if _, err := os.Stat(path); err != nil {
			logger.Debug("document %s: staged content missing at %s", doc.ID, path)
			continue
		}
		out = append(out, resumableDoc{
			doc:  doc,
			open: func() (io.ReadCloser, error) { return os.Open(path) },
		})
	}
	return out
}

// pollChannels polls every channel adapter once. A single failing
// channel is logged and skipped, not fatal to the run.
func (o *Orchestrator) pollChannels(ctx context.Context) ([]domain.IntakeEvent, error) {
	var events []domain.IntakeEvent
	for _, ch := range o.channels {
		polled, err := ch.Poll(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			logger.Error("polling channel %s: %v", ch.Name(), err)
			continue
		}
		logger.Debug("channel %s: %d new events", ch.Name(), len(polled))
		events = append(events, polled...)
	}
	return events, nil
}

// process drives one intake event to its terminal outcome.
func (o *Orchestrator) process(ctx context.Context, event domain.IntakeEvent, tally *runTally) {
	o.inFlight.Add(1)
	defer o.inFlight.Add(-1)

	fp, size, err := FingerprintContent(event.Open)
	if err != nil {
		logger.Error("fingerprinting %s from %s: %v", event.OriginalName, event.SourceChannel, err)
		tally.failed()
		return
	}

	doc, isNew, err := o.ledger.CreateOrGetByFingerprint(ctx, driven.IntakeRecord{
		Fingerprint: fp,
		Provenance:  event.Provenance(),
		SizeBytes:   size,
	})
	if err != nil {
		logger.Error("recording intake of %s: %v", event.OriginalName, err)
		tally.failed()
		return
	}
	tally.accepted()

	if !isNew {
		switch {
		case doc.Status == domain.StatusReceived:
			// A document parked at RECEIVED is a resubmitted or
			// interrupted attempt with no committed progress; this
			// delivery carries the bytes needed to drive it forward.
			// The transition guard keeps a racing twin delivery safe.
			logger.Info("re-entering document %s at RECEIVED on redelivery", doc.ID)

		case doc.Status == domain.StatusFailed && doc.RetryCount <= o.opts.RetryLimit:
			// A FAILED document with retries remaining gets a fresh
			// attempt on redelivery.
			doc, err = o.ledger.Resubmit(ctx, doc.ID)
			if err != nil {
				logger.Error("re-entering failed document %s: %v", doc.ID, err)
				tally.duplicate()
				return
			}
			logger.Info("re-entering failed document %s on redelivery", doc.ID)

		default:
			logger.Info("duplicate delivery of %s (document %s)", event.OriginalName, doc.ID)
			tally.duplicate()
			return
		}
	}

	o.advance(ctx, doc, event.Open, tally)
}

// advance loops the document forward from its current committed status.
// Each iteration performs at most one side effect and one ledger commit,
// so re-entry after a conflict or crash is idempotent.
func (o *Orchestrator) advance(ctx context.Context, doc *domain.Document, open driven.ContentOpener, tally *runTally) {
	for {
		if doc == nil {
			return
		}
		if doc.Status.Terminal() {
			o.finish(ctx, doc, tally)
			return
		}

		next, err := o.step(ctx, doc, open)
		if err == nil {
			doc = next
			continue
		}

		switch {
		case errors.Is(err, domain.ErrConcurrencyConflict):
			// Another worker moved the document; re-read and decide.
			logger.Debug("document %s: transition conflict, re-reading", doc.ID)
			doc, err = o.ledger.Get(ctx, doc.ID)
			if err != nil {
				logger.Error("re-reading document after conflict: %v", err)
				return
			}
			if doc.Status.Terminal() {
				// The worker that committed the terminal transition
				// owns the notification.
				return
			}
		default:
			doc = o.fail(ctx, doc, err)
		}
	}
}

// step performs the single action the document's current status calls
// for and commits it.
func (o *Orchestrator) step(ctx context.Context, doc *domain.Document, open driven.ContentOpener) (*domain.Document, error) {
	switch doc.Status {
	case domain.StatusReceived:
		ft, err := o.gateway.DetectType(ctx, doc.OriginalName, open)
		if err != nil {
			return nil, err
		}
		logger.Debug("document %s: detected type %s", doc.ID, ft)
		return o.ledger.Transition(ctx, doc.ID, domain.StatusReceived, domain.StatusTyped,
			driven.TransitionPayload{DetectedType: &ft, Note: "type detected: " + string(ft)})

	case domain.StatusTyped:
		return o.ledger.Transition(ctx, doc.ID, domain.StatusTyped, domain.StatusExtracting,
			driven.TransitionPayload{Note: "extraction started"})

	case domain.StatusExtracting:
		res, err := o.gateway.Extract(ctx, doc, open)
		if err != nil {
			return nil, err
		}
		return o.ledger.Transition(ctx, doc.ID, domain.StatusExtracting, domain.StatusExtracted,
			driven.TransitionPayload{
				ExtractedText:   &res.Text,
				ExtractedTables: res.Tables,
				Metadata:        extractionMetadata(res),
				Note:            fmt.Sprintf("extracted %d characters", len(res.Text)),
			})

	case domain.StatusExtracted:
		return o.ledger.Transition(ctx, doc.ID, domain.StatusExtracted, domain.StatusClassifying,
			driven.TransitionPayload{Note: "classification started"})

	case domain.StatusClassifying:
		verdict := o.classifier.Classify(doc)
		logger.Debug("document %s: classified %s (%.2f)", doc.ID, verdict.Department, verdict.Confidence)
		return o.ledger.Transition(ctx, doc.ID, domain.StatusClassifying, domain.StatusClassified,
			driven.TransitionPayload{
				Department: &verdict.Department,
				Confidence: &verdict.Confidence,
				Reasons:    verdict.Reasons,
				Note:       fmt.Sprintf("%s at %.2f", verdict.Department, verdict.Confidence),
			})

	case domain.StatusClassified:
		return o.ledger.Transition(ctx, doc.ID, domain.StatusClassified, domain.StatusStored,
			driven.TransitionPayload{Note: "stored"})

	default:
		return nil, fmt.Errorf("%w: cannot advance from %s", domain.ErrInvalidTransition, doc.Status)
	}
}

// fail records a failure and returns the updated document: rewound to
// its retry entry point for transient errors under the limit, FAILED
// otherwise. Transient rewinds back off before the next attempt.
func (o *Orchestrator) fail(ctx context.Context, doc *domain.Document, cause error) *domain.Document {
	retryable := domain.Retryable(cause)
	updated, err := o.ledger.RecordFailure(ctx, doc.ID, cause, retryable)
	if err != nil {
		logger.Error("recording failure of document %s: %v", doc.ID, err)
		updated, err = o.ledger.Get(ctx, doc.ID)
		if err != nil {
			return nil
		}
		return updated
	}

	if updated.Status == domain.StatusFailed {
		logger.Error("document %s failed: %v", doc.ID, cause)
		return updated
	}

	logger.Warn("document %s: attempt %d failed (%v), retrying from %s",
		doc.ID, updated.RetryCount, cause, updated.Status)
	o.backoff(ctx, updated.RetryCount)
	return updated
}

// backoff sleeps the exponential retry delay, cut short by cancellation.
func (o *Orchestrator) backoff(ctx context.Context, attempt int) {
	delay := o.opts.RetryBackoff
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maxBackoff {
			delay = maxBackoff
			break
		}
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

// finish tallies a terminal document and fans the notification out.
func (o *Orchestrator) finish(ctx context.Context, doc *domain.Document, tally *runTally) {
	n := driven.Notification{
		DocumentID: doc.ID,
		Status:     doc.Status,
		Department: doc.Department,
		Confidence: doc.Confidence,
		Err:        doc.LastError,
	}

	if doc.Status == domain.StatusStored {
		tally.stored(doc.Department)
		logger.Info("document %s stored: %s (%.2f)", doc.ID, doc.Department, doc.Confidence)
	} else {
		tally.failed()
	}

	// Fire-and-forget: a notifier failure never affects the outcome.
	for _, notifier := range o.notifiers {
		if err := notifier.Notify(ctx, n); err != nil {
			logger.Warn("notifying for document %s: %v", doc.ID, err)
		}
	}
}

// extractionMetadata flattens the informational parts of an extraction
// result into document metadata.
func extractionMetadata(res *driven.ExtractionResult) map[string]string {
	md := make(map[string]string, len(res.Metadata)+3)
	for k, v := range res.Metadata {
		md[k] = v
	}
	if res.OCRConfidence > 0 {
		md["ocr_confidence"] = fmt.Sprintf("%.2f", res.OCRConfidence)
	}
	if res.Partial {
		md["extraction_partial"] = "true"
	}
	if res.Images > 0 {
		md["image_count"] = fmt.Sprintf("%d", res.Images)
	}
	if len(res.Warnings) > 0 {
		md["extraction_warnings"] = fmt.Sprintf("%d", len(res.Warnings))
	}
	return md
}

// runTally accumulates a RunSummary across workers.
type runTally struct {
	mu           sync.Mutex
	summaryData  driving.RunSummary
	byDepartment map[domain.Department]int
}

func newRunTally() *runTally {
	return &runTally{byDepartment: make(map[domain.Department]int)}
}

func (t *runTally) polled(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.summaryData.Polled += n
}

func (t *runTally) accepted() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.summaryData.Accepted++
}

func (t *runTally) duplicate() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.summaryData.Duplicates++
}

func (t *runTally) stored(dept domain.Department) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.summaryData.Stored++
	t.byDepartment[dept]++
}

func (t *runTally) failed() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.summaryData.Failed++
}

func (t *runTally) summary() *driving.RunSummary {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.summaryData
	s.ByDepartment = make(map[domain.Department]int, len(t.byDepartment))
	for k, v := range t.byDepartment {
		s.ByDepartment[k] = v
	}
	return &s
}
