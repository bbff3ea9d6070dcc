package extractors

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/custodia-labs/docdispatch/internal/core/domain"
	"github.com/custodia-labs/docdispatch/internal/core/ports/driven"
	"github.com/custodia-labs/docdispatch/internal/logger"
)

// Ensure Gateway implements the interface.
var _ driven.ExtractionGateway = (*Gateway)(nil)

// defaultTimeout applies to types without a configured bound.
const defaultTimeout = 60 * time.Second

// availabilityChecker is implemented by extractors whose readiness
// depends on external tooling.
type availabilityChecker interface {
	Check(ctx context.Context) error
}

// Options bound the gateway per file type. Keys are FileType strings.
type Options struct {
	// Timeouts is the per-call time bound per type.
	Timeouts map[string]time.Duration

	// Concurrency caps concurrent extractions per type. Types without
	// an entry run uncapped.
	Concurrency map[string]int64
}

// Gateway detects file types and dispatches extraction to the
// registered per-type extractors. It owns the time bounds and
// concurrency caps; extractor implementations stay oblivious to both.
type Gateway struct {
	extractors map[domain.FileType]driven.Extractor
	timeouts   map[domain.FileType]time.Duration
	sems       map[domain.FileType]*semaphore.Weighted
}

// NewGateway creates a gateway over the given extractors. Registering
// two extractors for the same type is a wiring bug and panics.
func NewGateway(opts Options, extractors ...driven.Extractor) *Gateway {
	g := &Gateway{
		extractors: make(map[domain.FileType]driven.Extractor, len(extractors)),
		timeouts:   make(map[domain.FileType]time.Duration),
		sems:       make(map[domain.FileType]*semaphore.Weighted),
	}
	for _, ex := range extractors {
		ft := ex.Type()
		if _, dup := g.extractors[ft]; dup {
			panic(fmt.Sprintf("duplicate extractor for type %s", ft))
		}
		g.extractors[ft] = ex

		if d, ok := opts.Timeouts[string(ft)]; ok && d > 0 {
			g.timeouts[ft] = d
		} else {
			g.timeouts[ft] = defaultTimeout
		}
		if n, ok := opts.Concurrency[string(ft)]; ok && n > 0 {
			g.sems[ft] = semaphore.NewWeighted(n)
		}
	}
	return g
}

// DetectType determines the file type from the content signature with
// extension fallback.
func (g *Gateway) DetectType(_ context.Context, name string, open driven.ContentOpener) (domain.FileType, error) {
	return Detect(name, open)
}

// Extract runs the extractor registered for the document's detected
// type under its time bound and concurrency cap.
func (g *Gateway) Extract(ctx context.Context, doc *domain.Document, open driven.ContentOpener) (*driven.ExtractionResult, error) {
	ex, ok := g.extractors[doc.DetectedType]
	if !ok {
		return nil, fmt.Errorf("%w: no extractor for %s", domain.ErrUnsupportedType, doc.DetectedType)
	}

	if sem, capped := g.sems[doc.DetectedType]; capped {
		if err := sem.Acquire(ctx, 1); err != nil {
			return nil, fmt.Errorf("%w: waiting for %s slot: %v",
				domain.ErrExtractorTimeout, doc.DetectedType, err)
		}
		defer sem.Release(1)
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeouts[doc.DetectedType])
	defer cancel()

	rc, err := open()
	if err != nil {
		return nil, fmt.Errorf("%w: opening content: %v", domain.ErrUnreadableInput, err)
	}
	defer rc.Close()

	start := time.Now()
	res, err := ex.Extract(ctx, rc)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %s extraction exceeded %s",
				domain.ErrExtractorTimeout, doc.DetectedType, g.timeouts[doc.DetectedType])
		}
		return nil, err
	}

	logger.Debug("extracted %s document %s in %s (%d chars)",
		doc.DetectedType, doc.ID, time.Since(start).Round(time.Millisecond), len(res.Text))
	return res, nil
}

// Available reports per-type readiness.
func (g *Gateway) Available(ctx context.Context) map[domain.FileType]error {
	out := make(map[domain.FileType]error, len(g.extractors))
	for ft, ex := range g.extractors {
		var err error
		if checker, ok := ex.(availabilityChecker); ok {
			err = checker.Check(ctx)
		}
		out[ft] = err
	}
	return out
}
