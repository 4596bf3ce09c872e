package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/tkilaker/newsroom/internal/database"
	"github.com/tkilaker/newsroom/internal/normalize"
)

// maxErrorSummary bounds the error text stored on a run
const maxErrorSummary = 8000

// LedgerStore persists job runs
type LedgerStore interface {
	CreateJobRun(ctx context.Context, run *database.JobRun) error
	FinishJobRun(ctx context.Context, run *database.JobRun) error
}

// RunHandle identifies a started run
type RunHandle struct {
	run *database.JobRun
}

// ID returns the run identifier
func (h *RunHandle) ID() uuid.UUID { return h.run.ID }

// Counters are the final tallies of a run
type Counters struct {
	Found     int
	Processed int
	Failed    int
	Errors    []string
	RunFailed bool
}

// Ledger writes exactly two records per run: one at start, one at finish
type Ledger struct {
	store LedgerStore
	newID func() uuid.UUID
}

// NewLedger creates a Ledger
func NewLedger(store LedgerStore) *Ledger {
	return &Ledger{store: store, newID: uuid.New}
}

// StartRun records a RUNNING job run. requestedCount is only kept for manual runs.
func (l *Ledger) StartRun(ctx context.Context, runType database.RunType, requestedCount *int) (*RunHandle, error) {
	run := &database.JobRun{
		ID:      l.newID(),
		RunType: runType,
		Status:  database.RunRunning,
	}
	if runType == database.RunManual {
		run.RequestedCount = requestedCount
	}
	if err := l.store.CreateJobRun(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to start run: %w", err)
	}
	return &RunHandle{run: run}, nil
}

// FinishRun writes the final counters and status of a run
func (l *Ledger) FinishRun(ctx context.Context, h *RunHandle, c Counters) error {
	run := *h.run
	run.Status = database.RunCompleted
	if c.RunFailed {
		run.Status = database.RunFailed
	}
	run.ArticlesFound = c.Found
	run.ArticlesProcessed = c.Processed
	run.ArticlesFailed = c.Failed
	if len(c.Errors) > 0 {
		summary := normalize.Truncate(strings.Join(c.Errors, "\n"), maxErrorSummary)
		run.ErrorSummary = &summary
	}

	if err := l.store.FinishJobRun(ctx, &run); err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	*h.run = run
	return nil
}
