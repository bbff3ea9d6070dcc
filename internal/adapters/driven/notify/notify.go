// Package notify provides terminal-state notifiers: consumers of the
// orchestrator's STORED/FAILED announcements. Delivery is fire and
// forget; a notifier error is logged by the orchestrator and never
// affects the ledger.
package notify

import (
	"context"
	"sync"

	"github.com/custodia-labs/docdispatch/internal/core/domain"
	"github.com/custodia-labs/docdispatch/internal/core/ports/driven"
	"github.com/custodia-labs/docdispatch/internal/logger"
)

var (
	_ driven.Notifier = (*LogNotifier)(nil)
	_ driven.Notifier = (*StatsNotifier)(nil)
)

// LogNotifier writes terminal outcomes to the verbose log.
type LogNotifier struct{}

// NewLogNotifier creates a LogNotifier.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

// Notify implements driven.Notifier.
func (n *LogNotifier) Notify(_ context.Context, notification driven.Notification) error {
	if notification.Status == domain.StatusFailed {
		logger.Warn("document %s failed: %s", notification.DocumentID, notification.Err)
		return nil
	}
	logger.Info("document %s stored: %s (confidence %.2f)",
		notification.DocumentID, notification.Department, notification.Confidence)
	return nil
}

// StatsSnapshot is an aggregate view of the outcomes seen so far.
type StatsSnapshot struct {
	Stored       int
	Failed       int
	ByDepartment map[domain.Department]int
}

// StatsNotifier accumulates terminal outcomes for reporting.
type StatsNotifier struct {
	mu           sync.Mutex
	stored       int
	failed       int
	byDepartment map[domain.Department]int
}

// NewStatsNotifier creates an empty StatsNotifier.
func NewStatsNotifier() *StatsNotifier {
	return &StatsNotifier{byDepartment: make(map[domain.Department]int)}
}

// Notify implements driven.Notifier.
func (n *StatsNotifier) Notify(_ context.Context, notification driven.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	switch notification.Status {
	case domain.StatusStored:
		n.stored++
		n.byDepartment[notification.Department]++
	case domain.StatusFailed:
		n.failed++
	}
	return nil
}

// Snapshot returns a copy of the accumulated counts.
func (n *StatsNotifier) Snapshot() StatsSnapshot {
	n.mu.Lock()
	defer n.mu.Unlock()

	byDept := make(map[domain.Department]int, len(n.byDepartment))
	for k, v := range n.byDepartment {
		byDept[k] = v
	}
	return StatsSnapshot{Stored: n.stored, Failed: n.failed, ByDepartment: byDept}
}
