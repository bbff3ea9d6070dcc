// Package memory provides an in-memory implementation of the ledger
// port. It mirrors the SQLite ledger's semantics exactly, including the
// optimistic transition guard, which makes it the reference double for
// service tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/custodia-labs/docdispatch/internal/core/domain"
	"github.com/custodia-labs/docdispatch/internal/core/ports/driven"
)

// Ensure Ledger implements the interface.
var _ driven.Ledger = (*Ledger)(nil)

// Ledger is an in-memory implementation of driven.Ledger.
type Ledger struct {
	mu            sync.Mutex
	byID          map[string]*domain.Document
	byFingerprint map[domain.ContentHash]string
	retryLimit    int
}

// NewLedger creates an in-memory ledger. retryLimit is the number of
// retryable failures a document may absorb before FAILED.
func NewLedger(retryLimit int) *Ledger {
	return &Ledger{
		byID:          make(map[string]*domain.Document),
		byFingerprint: make(map[domain.ContentHash]string),
		retryLimit:    retryLimit,
	}
}

// CreateOrGetByFingerprint creates a Document for a new fingerprint or
// appends provenance to the existing one.
func (l *Ledger) CreateOrGetByFingerprint(_ context.Context, rec driven.IntakeRecord) (*domain.Document, bool, error) {
	if rec.Fingerprint == "" {
		return nil, false, fmt.Errorf("%w: empty fingerprint", domain.ErrInvalidInput)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now().UTC()

	if id, ok := l.byFingerprint[rec.Fingerprint]; ok {
		doc := l.byID[id]
		doc.History = append(doc.History, domain.HistoryEntry{
			Seq:       doc.NextSeq(),
			Status:    doc.Status,
			Actor:     string(rec.Provenance.Channel),
			Detail:    "duplicate delivery: " + rec.Provenance.OriginalName,
			Timestamp: now,
		})
		doc.UpdatedAt = now
		return clone(doc), false, nil
	}

	doc := &domain.Document{
		ID:            uuid.NewString(),
		Fingerprint:   rec.Fingerprint,
		SourceChannel: rec.Provenance.Channel,
		OriginalName:  rec.Provenance.OriginalName,
		SizeBytes:     rec.SizeBytes,
		ReceivedAt:    rec.Provenance.ReceivedAt,
		DetectedType:  domain.TypeUnknown,
		Status:        domain.StatusReceived,
		Department:    domain.DeptUnclassified,
		Metadata:      cloneMap(rec.Provenance.Metadata),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	doc.History = []domain.HistoryEntry{{
		Seq:       1,
		Status:    domain.StatusReceived,
		Actor:     string(rec.Provenance.Channel),
		Detail:    "received: " + rec.Provenance.OriginalName,
		Timestamp: now,
	}}

	l.byID[doc.ID] = doc
	l.byFingerprint[doc.Fingerprint] = doc.ID
	return clone(doc), true, nil
}

// Transition moves a document between statuses under the optimistic
// guard and commits the payload atomically with the status change.
func (l *Ledger) Transition(_ context.Context, id string, from, to domain.Status, payload driven.TransitionPayload) (*domain.Document, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	doc, ok := l.byID[id]
	if !ok {
		return nil, fmt.Errorf("document %s: %w", id, domain.ErrNotFound)
	}
	if doc.Status != from {
		return nil, fmt.Errorf("document %s is %s, expected %s: %w",
			id, doc.Status, from, domain.ErrConcurrencyConflict)
	}
	if doc.Status.Terminal() {
		return nil, fmt.Errorf("document %s: %w", id, domain.ErrTerminalDocument)
	}
	if !from.CanTransitionTo(to) {
		return nil, fmt.Errorf("%s → %s: %w", from, to, domain.ErrInvalidTransition)
	}

	now := time.Now().UTC()
	doc.Status = to
	applyPayload(doc, payload)
	doc.History = append(doc.History, domain.HistoryEntry{
		Seq:       doc.NextSeq(),
		Status:    to,
		Actor:     "orchestrator",
		Detail:    payload.Note,
		Timestamp: now,
	})
	doc.UpdatedAt = now
	return clone(doc), nil
}

// RecordFailure increments the retry count and either rewinds to the
// retry entry point or moves the document to FAILED.
func (l *Ledger) RecordFailure(_ context.Context, id string, cause error, retryable bool) (*domain.Document, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	doc, ok := l.byID[id]
	if !ok {
		return nil, fmt.Errorf("document %s: %w", id, domain.ErrNotFound)
	}
	if doc.Status.Terminal() {
		return nil, fmt.Errorf("document %s: %w", id, domain.ErrTerminalDocument)
	}

	now := time.Now().UTC()
	doc.RetryCount++
	doc.LastError = cause.Error()

	if retryable && doc.RetryCount <= l.retryLimit {
		entry := doc.Status.RetryEntryPoint()
		doc.Status = entry
		doc.History = append(doc.History, domain.HistoryEntry{
			Seq:       doc.NextSeq(),
			Status:    entry,
			Actor:     "orchestrator",
			Detail:    fmt.Sprintf("retry %d/%d: %s", doc.RetryCount, l.retryLimit, cause),
			Timestamp: now,
		})
	} else {
		doc.Status = domain.StatusFailed
		doc.History = append(doc.History, domain.HistoryEntry{
			Seq:       doc.NextSeq(),
			Status:    domain.StatusFailed,
			Actor:     "orchestrator",
			Detail:    cause.Error(),
			Timestamp: now,
		})
	}
	doc.UpdatedAt = now
	return clone(doc), nil
}

// Resubmit re-enters a terminal document as a fresh attempt.
func (l *Ledger) Resubmit(_ context.Context, id string) (*domain.Document, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	doc, ok := l.byID[id]
	if !ok {
		return nil, fmt.Errorf("document %s: %w", id, domain.ErrNotFound)
	}
	if !doc.Status.Terminal() {
		return nil, fmt.Errorf("document %s is %s: %w", id, doc.Status, domain.ErrInvalidTransition)
	}

	now := time.Now().UTC()
	doc.Status = domain.StatusReceived
	doc.DetectedType = domain.TypeUnknown
	doc.ExtractedText = ""
	doc.ExtractedTables = nil
	doc.Department = domain.DeptUnclassified
	doc.Confidence = 0
	doc.ClassificationReasons = nil
	doc.RetryCount = 0
	doc.LastError = ""
	doc.History = append(doc.History, domain.HistoryEntry{
		Seq:       doc.NextSeq(),
		Status:    domain.StatusReceived,
		Actor:     "operator",
		Detail:    "resubmitted",
		Timestamp: now,
	})
	doc.UpdatedAt = now
	return clone(doc), nil
}

// Get retrieves a document by ID.
func (l *Ledger) Get(_ context.Context, id string) (*domain.Document, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	doc, ok := l.byID[id]
	if !ok {
		return nil, fmt.Errorf("document %s: %w", id, domain.ErrNotFound)
	}
	return clone(doc), nil
}

// GetByFingerprint retrieves a document by content hash.
func (l *Ledger) GetByFingerprint(_ context.Context, fp domain.ContentHash) (*domain.Document, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	id, ok := l.byFingerprint[fp]
	if !ok {
		return nil, fmt.Errorf("fingerprint %s: %w", fp, domain.ErrNotFound)
	}
	return clone(l.byID[id]), nil
}

// Query returns documents matching the filter, newest first.
func (l *Ledger) Query(_ context.Context, filter driven.QueryFilter) ([]domain.Document, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []domain.Document
	for _, doc := range l.byID {
		if filter.Department != "" && doc.Department != filter.Department {
			continue
		}
		if filter.Status != "" && doc.Status != filter.Status {
			continue
		}
		if filter.Channel != "" && doc.SourceChannel != filter.Channel {
			continue
		}
		if filter.Text != "" {
			q := strings.ToLower(filter.Text)
			name := strings.ToLower(doc.OriginalName)
			text := strings.ToLower(doc.ExtractedText)
			if !strings.Contains(name, q) && !strings.Contains(text, q) {
				continue
			}
		}
		out = append(out, *clone(doc))
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})

	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// Counts returns aggregate counts for the status surface.
func (l *Ledger) Counts(_ context.Context) (*driven.Counts, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	counts := &driven.Counts{
		ByStatus:     make(map[domain.Status]int),
		ByDepartment: make(map[domain.Department]int),
	}
	for _, doc := range l.byID {
		counts.ByStatus[doc.Status]++
		counts.ByDepartment[doc.Department]++
		counts.Total++
	}
	return counts, nil
}

// Close releases resources. A no-op for the in-memory ledger.
func (l *Ledger) Close() error {
	return nil
}

// applyPayload merges a transition payload into the document.
func applyPayload(doc *domain.Document, p driven.TransitionPayload) {
	if p.DetectedType != nil {
		doc.DetectedType = *p.DetectedType
	}
	if p.ExtractedText != nil {
		doc.ExtractedText = *p.ExtractedText
	}
	if p.ExtractedTables != nil {
		doc.ExtractedTables = p.ExtractedTables
	}
	if p.Department != nil && p.Confidence != nil {
		doc.Department = *p.Department
		doc.Confidence = *p.Confidence
		doc.ClassificationReasons = p.Reasons
	}
	if len(p.Metadata) > 0 {
		if doc.Metadata == nil {
			doc.Metadata = make(map[string]string, len(p.Metadata))
		}
		for k, v := range p.Metadata {
			doc.Metadata[k] = v
		}
	}
}

func clone(d *domain.Document) *domain.Document {
	cp := *d
	cp.ExtractedTables = append([]domain.Table(nil), d.ExtractedTables...)
	cp.ClassificationReasons = append([]domain.RuleMatch(nil), d.ClassificationReasons...)
	cp.History = append([]domain.HistoryEntry(nil), d.History...)
	cp.Metadata = cloneMap(d.Metadata)
	return &cp
}

func cloneMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	cp := make(map[string]string, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return cp
}
