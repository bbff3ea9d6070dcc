package sqlite

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/docdispatch/internal/core/domain"
	"github.com/custodia-labs/docdispatch/internal/core/ports/driven"
)

func newTestLedger(t *testing.T, retryLimit int) *Ledger {
	t.Helper()
	l, err := NewLedger(t.TempDir(), retryLimit)
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

func testRecord(fp string) driven.IntakeRecord {
	return driven.IntakeRecord{
		Fingerprint: domain.ContentHash(fp),
		Provenance: domain.Provenance{
			Channel:      domain.ChannelManual,
			OriginalName: "report.pdf",
			ReceivedAt:   time.Now().UTC(),
		},
		SizeBytes: 128,
	}
}

func typePtr(t domain.FileType) *domain.FileType     { return &t }
func deptPtr(d domain.Department) *domain.Department { return &d }
func floatPtr(f float64) *float64                    { return &f }
func strPtr(s string) *string                        { return &s }

func TestNewLedger(t *testing.T) {
	t.Run("creates database file in data directory", func(t *testing.T) {
		dir := t.TempDir()
		l, err := NewLedger(dir, 3)
		require.NoError(t, err)
		defer l.Close()

		assert.Equal(t, filepath.Join(dir, "ledger.db"), l.Path())
	})

	t.Run("reopening an existing database is idempotent", func(t *testing.T) {
		ctx := context.Background()
		dir := t.TempDir()

		l, err := NewLedger(dir, 3)
		require.NoError(t, err)
		doc, _, err := l.CreateOrGetByFingerprint(ctx, testRecord("fp-persist"))
		require.NoError(t, err)
		require.NoError(t, l.Close())

		reopened, err := NewLedger(dir, 3)
		require.NoError(t, err)
		defer reopened.Close()

		got, err := reopened.Get(ctx, doc.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusReceived, got.Status)
		assert.Len(t, got.History, 1)
	})
}

func TestLedger_CreateOrGetByFingerprint(t *testing.T) {
	ctx := context.Background()

	t.Run("new fingerprint creates a document in RECEIVED", func(t *testing.T) {
		l := newTestLedger(t, 3)
		doc, isNew, err := l.CreateOrGetByFingerprint(ctx, testRecord("fp-1"))
		require.NoError(t, err)
		assert.True(t, isNew)
		assert.NotEmpty(t, doc.ID)
		assert.Equal(t, domain.StatusReceived, doc.Status)
		assert.Equal(t, domain.TypeUnknown, doc.DetectedType)
		assert.Equal(t, domain.DeptUnclassified, doc.Department)
		require.Len(t, doc.History, 1)
		assert.Equal(t, 1, doc.History[0].Seq)
		assert.Equal(t, string(domain.ChannelManual), doc.History[0].Actor)
	})

	t.Run("duplicate appends provenance, no second document", func(t *testing.T) {
		l := newTestLedger(t, 3)
		first, _, err := l.CreateOrGetByFingerprint(ctx, testRecord("fp-1"))
		require.NoError(t, err)

		rec := testRecord("fp-1")
		rec.Provenance.Channel = domain.ChannelEmail
		rec.Provenance.OriginalName = "report-copy.pdf"
		second, isNew, err := l.CreateOrGetByFingerprint(ctx, rec)
		require.NoError(t, err)

		assert.False(t, isNew)
		assert.Equal(t, first.ID, second.ID)
		require.Len(t, second.History, 2)
		assert.Equal(t, string(domain.ChannelEmail), second.History[1].Actor)
		assert.Contains(t, second.History[1].Detail, "report-copy.pdf")
		// First delivery's channel wins.
		assert.Equal(t, domain.ChannelManual, second.SourceChannel)
	})

	t.Run("concurrent same-fingerprint intake observes exactly one isNew", func(t *testing.T) {
		l := newTestLedger(t, 3)
		const n = 16

		var wg sync.WaitGroup
		newCount := make(chan bool, n)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, isNew, err := l.CreateOrGetByFingerprint(ctx, testRecord("fp-racy"))
				require.NoError(t, err)
				newCount <- isNew
			}()
		}
		wg.Wait()
		close(newCount)

		total := 0
		for isNew := range newCount {
			if isNew {
				total++
			}
		}
		assert.Equal(t, 1, total)
	})

	t.Run("empty fingerprint rejected", func(t *testing.T) {
		l := newTestLedger(t, 3)
		_, _, err := l.CreateOrGetByFingerprint(ctx, driven.IntakeRecord{})
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	})
}

func TestLedger_Transition(t *testing.T) {
	ctx := context.Background()

	create := func(t *testing.T, l *Ledger) *domain.Document {
		t.Helper()
		doc, _, err := l.CreateOrGetByFingerprint(ctx, testRecord("fp-t"))
		require.NoError(t, err)
		return doc
	}

	t.Run("commits payload with the status change", func(t *testing.T) {
		l := newTestLedger(t, 3)
		doc := create(t, l)

		got, err := l.Transition(ctx, doc.ID, domain.StatusReceived, domain.StatusTyped,
			driven.TransitionPayload{DetectedType: typePtr(domain.TypePDF), Note: "detected PDF"})
		require.NoError(t, err)
		assert.Equal(t, domain.StatusTyped, got.Status)
		assert.Equal(t, domain.TypePDF, got.DetectedType)
		assert.Equal(t, "detected PDF", got.History[len(got.History)-1].Detail)
		assert.Equal(t, "orchestrator", got.History[len(got.History)-1].Actor)
	})

	t.Run("wrong expected status fails with concurrency conflict", func(t *testing.T) {
		l := newTestLedger(t, 3)
		doc := create(t, l)

		_, err := l.Transition(ctx, doc.ID, domain.StatusTyped, domain.StatusExtracting, driven.TransitionPayload{})
		assert.ErrorIs(t, err, domain.ErrConcurrencyConflict)

		// Nothing committed.
		got, err := l.Get(ctx, doc.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusReceived, got.Status)
		assert.Len(t, got.History, 1)
	})

	t.Run("undefined edge fails with invalid transition", func(t *testing.T) {
		l := newTestLedger(t, 3)
		doc := create(t, l)

		_, err := l.Transition(ctx, doc.ID, domain.StatusReceived, domain.StatusStored, driven.TransitionPayload{})
		assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	})

	t.Run("concurrent attempts admit exactly one winner", func(t *testing.T) {
		l := newTestLedger(t, 3)
		doc := create(t, l)

		const n = 16
		var wg sync.WaitGroup
		errs := make(chan error, n)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := l.Transition(ctx, doc.ID, domain.StatusReceived, domain.StatusTyped, driven.TransitionPayload{})
				errs <- err
			}()
		}
		wg.Wait()
		close(errs)

		wins, conflicts := 0, 0
		for err := range errs {
			switch {
			case err == nil:
				wins++
			case errors.Is(err, domain.ErrConcurrencyConflict):
				conflicts++
			default:
				t.Fatalf("unexpected error: %v", err)
			}
		}
		assert.Equal(t, 1, wins)
		assert.Equal(t, n-1, conflicts)

		got, err := l.Get(ctx, doc.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusTyped, got.Status)
		assert.Len(t, got.History, 2)
	})

	t.Run("extracted text and tables persist as JSON", func(t *testing.T) {
		l := newTestLedger(t, 3)
		doc := create(t, l)

		_, err := l.Transition(ctx, doc.ID, domain.StatusReceived, domain.StatusTyped,
			driven.TransitionPayload{DetectedType: typePtr(domain.TypeOffice)})
		require.NoError(t, err)
		_, err = l.Transition(ctx, doc.ID, domain.StatusTyped, domain.StatusExtracting, driven.TransitionPayload{})
		require.NoError(t, err)

		got, err := l.Transition(ctx, doc.ID, domain.StatusExtracting, domain.StatusExtracted,
			driven.TransitionPayload{
				ExtractedText:   strPtr("purchase order for brake pads"),
				ExtractedTables: []domain.Table{{Name: "Sheet1", Rows: [][]string{{"Item", "Qty"}}}},
				Metadata:        map[string]string{"extraction_partial": "false"},
			})
		require.NoError(t, err)
		assert.Equal(t, "purchase order for brake pads", got.ExtractedText)
		require.Len(t, got.ExtractedTables, 1)
		assert.Equal(t, "Sheet1", got.ExtractedTables[0].Name)
		assert.Equal(t, "false", got.Metadata["extraction_partial"])
	})

	t.Run("department and confidence commit together", func(t *testing.T) {
		l := newTestLedger(t, 3)
		doc := create(t, l)

		steps := []struct{ from, to domain.Status }{
			{domain.StatusReceived, domain.StatusTyped},
			{domain.StatusTyped, domain.StatusExtracting},
			{domain.StatusExtracting, domain.StatusExtracted},
			{domain.StatusExtracted, domain.StatusClassifying},
		}
		for _, s := range steps {
			_, err := l.Transition(ctx, doc.ID, s.from, s.to, driven.TransitionPayload{})
			require.NoError(t, err)
		}

		got, err := l.Transition(ctx, doc.ID, domain.StatusClassifying, domain.StatusClassified,
			driven.TransitionPayload{
				Department: deptPtr(domain.DeptSafety),
				Confidence: floatPtr(0.75),
				Reasons:    []domain.RuleMatch{{RuleID: "saf-kw-00", Weight: 0.5}},
			})
		require.NoError(t, err)
		assert.Equal(t, domain.DeptSafety, got.Department)
		assert.InDelta(t, 0.75, got.Confidence, 1e-9)
		require.Len(t, got.ClassificationReasons, 1)
		assert.Equal(t, "saf-kw-00", got.ClassificationReasons[0].RuleID)
	})

	t.Run("missing document fails with not found", func(t *testing.T) {
		l := newTestLedger(t, 3)
		_, err := l.Transition(ctx, "nope", domain.StatusReceived, domain.StatusTyped, driven.TransitionPayload{})
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})
}

func TestLedger_RecordFailure(t *testing.T) {
	ctx := context.Background()

	advanceTo := func(t *testing.T, l *Ledger, id string, target domain.Status) {
		t.Helper()
		path := []domain.Status{
			domain.StatusReceived, domain.StatusTyped, domain.StatusExtracting,
			domain.StatusExtracted, domain.StatusClassifying, domain.StatusClassified,
			domain.StatusStored,
		}
		doc, err := l.Get(ctx, id)
		require.NoError(t, err)
		start := 0
		for i, s := range path {
			if s == doc.Status {
				start = i
			}
		}
		for i := start; i+1 < len(path); i++ {
			if path[i] == target {
				return
			}
			_, err := l.Transition(ctx, id, path[i], path[i+1], driven.TransitionPayload{})
			require.NoError(t, err)
			if path[i+1] == target {
				return
			}
		}
	}

	t.Run("retryable under limit rewinds to entry point", func(t *testing.T) {
		l := newTestLedger(t, 3)
		doc, _, err := l.CreateOrGetByFingerprint(ctx, testRecord("fp-r"))
		require.NoError(t, err)
		advanceTo(t, l, doc.ID, domain.StatusExtracting)

		got, err := l.RecordFailure(ctx, doc.ID, domain.ErrExtractorTimeout, true)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusTyped, got.Status)
		assert.Equal(t, 1, got.RetryCount)
		assert.Contains(t, got.LastError, "timeout")
		assert.Contains(t, got.History[len(got.History)-1].Detail, "retry 1/3")
	})

	t.Run("retryable over limit moves to FAILED preserving the error", func(t *testing.T) {
		l := newTestLedger(t, 2)
		doc, _, err := l.CreateOrGetByFingerprint(ctx, testRecord("fp-r"))
		require.NoError(t, err)

		for i := 0; i < 2; i++ {
			advanceTo(t, l, doc.ID, domain.StatusExtracting)
			got, err := l.RecordFailure(ctx, doc.ID, domain.ErrExtractorTimeout, true)
			require.NoError(t, err)
			require.Equal(t, domain.StatusTyped, got.Status, "retry %d should rewind", i+1)
		}

		advanceTo(t, l, doc.ID, domain.StatusExtracting)
		got, err := l.RecordFailure(ctx, doc.ID, domain.ErrExtractorTimeout, true)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusFailed, got.Status)
		assert.Equal(t, 3, got.RetryCount)
		assert.Contains(t, got.LastError, "timeout")
	})

	t.Run("fatal failure goes straight to FAILED", func(t *testing.T) {
		l := newTestLedger(t, 3)
		doc, _, err := l.CreateOrGetByFingerprint(ctx, testRecord("fp-f"))
		require.NoError(t, err)
		advanceTo(t, l, doc.ID, domain.StatusExtracting)

		got, err := l.RecordFailure(ctx, doc.ID, domain.ErrCorruptContent, false)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusFailed, got.Status)
		assert.Equal(t, 1, got.RetryCount)
	})

	t.Run("terminal document rejected", func(t *testing.T) {
		l := newTestLedger(t, 3)
		doc, _, err := l.CreateOrGetByFingerprint(ctx, testRecord("fp-t"))
		require.NoError(t, err)
		advanceTo(t, l, doc.ID, domain.StatusStored)

		_, err = l.RecordFailure(ctx, doc.ID, errors.New("late"), false)
		assert.ErrorIs(t, err, domain.ErrTerminalDocument)
	})
}

func TestLedger_Resubmit(t *testing.T) {
	ctx := context.Background()

	t.Run("terminal document rewinds to RECEIVED with history retained", func(t *testing.T) {
		l := newTestLedger(t, 3)
		doc, _, err := l.CreateOrGetByFingerprint(ctx, testRecord("fp-rs"))
		require.NoError(t, err)
		_, err = l.Transition(ctx, doc.ID, domain.StatusReceived, domain.StatusTyped, driven.TransitionPayload{})
		require.NoError(t, err)
		failed, err := l.RecordFailure(ctx, doc.ID, domain.ErrCorruptContent, false)
		require.NoError(t, err)
		require.Equal(t, domain.StatusFailed, failed.Status)

		got, err := l.Resubmit(ctx, doc.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusReceived, got.Status)
		assert.Equal(t, domain.TypeUnknown, got.DetectedType)
		assert.Zero(t, got.RetryCount)
		assert.Empty(t, got.LastError)
		assert.Equal(t, "operator", got.History[len(got.History)-1].Actor)
		assert.Greater(t, len(got.History), len(failed.History))
	})

	t.Run("non-terminal document rejected", func(t *testing.T) {
		l := newTestLedger(t, 3)
		doc, _, err := l.CreateOrGetByFingerprint(ctx, testRecord("fp-nt"))
		require.NoError(t, err)

		_, err = l.Resubmit(ctx, doc.ID)
		assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	})
}

func TestLedger_QueryAndCounts(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t, 3)

	for i := 0; i < 3; i++ {
		rec := testRecord(fmt.Sprintf("fp-%d", i))
		rec.Provenance.OriginalName = fmt.Sprintf("doc-%d.pdf", i)
		_, _, err := l.CreateOrGetByFingerprint(ctx, rec)
		require.NoError(t, err)
	}

	t.Run("filter by status", func(t *testing.T) {
		docs, err := l.Query(ctx, driven.QueryFilter{Status: domain.StatusReceived})
		require.NoError(t, err)
		assert.Len(t, docs, 3)
	})

	t.Run("full-text filter over original name", func(t *testing.T) {
		docs, err := l.Query(ctx, driven.QueryFilter{Text: "doc-1"})
		require.NoError(t, err)
		require.Len(t, docs, 1)
		assert.Equal(t, "doc-1.pdf", docs[0].OriginalName)
	})

	t.Run("full-text filter over extracted text", func(t *testing.T) {
		target, err := l.GetByFingerprint(ctx, "fp-2")
		require.NoError(t, err)
		_, err = l.Transition(ctx, target.ID, domain.StatusReceived, domain.StatusTyped,
			driven.TransitionPayload{DetectedType: typePtr(domain.TypePDF)})
		require.NoError(t, err)
		_, err = l.Transition(ctx, target.ID, domain.StatusTyped, domain.StatusExtracting, driven.TransitionPayload{})
		require.NoError(t, err)
		_, err = l.Transition(ctx, target.ID, domain.StatusExtracting, domain.StatusExtracted,
			driven.TransitionPayload{ExtractedText: strPtr("invoice for escalator maintenance")})
		require.NoError(t, err)

		docs, err := l.Query(ctx, driven.QueryFilter{Text: "escalator maintenance"})
		require.NoError(t, err)
		require.Len(t, docs, 1)
		assert.Equal(t, target.ID, docs[0].ID)
	})

	t.Run("limit caps results", func(t *testing.T) {
		docs, err := l.Query(ctx, driven.QueryFilter{Limit: 2})
		require.NoError(t, err)
		assert.Len(t, docs, 2)
	})

	t.Run("counts aggregate by status and department", func(t *testing.T) {
		counts, err := l.Counts(ctx)
		require.NoError(t, err)
		assert.Equal(t, 3, counts.Total)
		assert.Equal(t, 3, counts.ByDepartment[domain.DeptUnclassified])
	})
}

func TestFTSQuery(t *testing.T) {
	assert.Equal(t, `"purchase" "order"`, ftsQuery("purchase order"))
	assert.Equal(t, `"say ""hi"""`, ftsQuery(`say"hi"`))
	assert.Empty(t, ftsQuery("   "))
}
