package driven

import (
	"context"

	"github.com/gandiwan/CDP-Quip-Runbooker/internal/domain/model"
)

// TransportObserver receives every throttled transport transition. Observe
// must be safe for concurrent use and must not block for long.
type TransportObserver interface {
	Observe(ev model.TransportEvent)
}

// RunJournal persists diagnostics for CLI runs.
type RunJournal interface {
	TransportObserver

	// StartRun opens a new run; subsequent events are attributed to it.
	StartRun(ctx context.Context, command string) (string, error)

	// FinishRun stores the final counters of the run identified by summary.ID.
	FinishRun(ctx context.Context, summary model.RunSummary) error

	// LatestRun returns the most recently started run, or nil if none exist.
	LatestRun(ctx context.Context) (*model.RunSummary, error)

	// Events returns the events recorded for runID in insertion order.
	Events(ctx context.Context, runID string) ([]model.TransportEvent, error)
}
