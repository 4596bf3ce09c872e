package pipeline

import (
	"sync"
	"time"
)

// ProgressStatus represents the current phase of an ingestion run
type ProgressStatus string

const (
	StatusIdle       ProgressStatus = "idle"
	StatusStarting   ProgressStatus = "starting"
	StatusFetching   ProgressStatus = "fetching"
	StatusProcessing ProgressStatus = "processing"
	StatusCompleted  ProgressStatus = "completed"
	StatusFailed     ProgressStatus = "failed"
)

// ProgressUpdate is a snapshot of the run in flight
type ProgressUpdate struct {
	Status      ProgressStatus `json:"status"`
	Message     string         `json:"message,omitempty"`
	RunID       string         `json:"runId,omitempty"`
	RunType     string         `json:"runType,omitempty"`
	CurrentItem int            `json:"currentItem"`
	TotalItems  int            `json:"totalItems"`
	Processed   int            `json:"processed"`
	Failed      int            `json:"failed"`
	Skipped     int            `json:"skipped"`
	Timestamp   time.Time      `json:"timestamp"`
}

// ProgressTracker publishes the state of the most recently started run to
// pollers and subscribers. Runs may overlap; the tracker stays active until
// every started run has finished, and only the run it is showing may move
// the snapshot.
type ProgressTracker struct {
	mu        sync.RWMutex
	current   ProgressUpdate
	listeners []chan ProgressUpdate
	inflight  map[string]struct{}
}

// NewProgressTracker creates an idle tracker
func NewProgressTracker() *ProgressTracker {
	return &ProgressTracker{
		current: ProgressUpdate{
			Status:    StatusIdle,
			Timestamp: time.Now(),
		},
		inflight: make(map[string]struct{}),
	}
}

// Update replaces the current snapshot and fans it out
func (pt *ProgressTracker) Update(update ProgressUpdate) {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	pt.publishLocked(update)
}

func (pt *ProgressTracker) publishLocked(update ProgressUpdate) {
	update.Timestamp = time.Now()
	pt.current = update

	for _, listener := range pt.listeners {
		select {
		case listener <- update:
		default:
			// slow subscriber, drop
		}
	}
}

// Begin marks a new run as active and resets counters
func (pt *ProgressTracker) Begin(runID, runType string) {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	pt.inflight[runID] = struct{}{}
	pt.publishLocked(ProgressUpdate{
		Status:  StatusStarting,
		RunID:   runID,
		RunType: runType,
	})
}

// UpdateStatus changes the phase and message
func (pt *ProgressTracker) UpdateStatus(runID string, status ProgressStatus, message string) {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	if pt.current.RunID != runID {
		return
	}
	update := pt.current
	update.Status = status
	update.Message = message
	pt.publishLocked(update)
}

// UpdateProgress moves the item cursor
func (pt *ProgressTracker) UpdateProgress(runID string, current, total int, message string) {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	if pt.current.RunID != runID {
		return
	}
	update := pt.current
	update.CurrentItem = current
	update.TotalItems = total
	update.Message = message
	pt.publishLocked(update)
}

// Record counts one article outcome
func (pt *ProgressTracker) Record(runID string, outcome Outcome) {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	if pt.current.RunID != runID {
		return
	}
	update := pt.current
	switch outcome {
	case OutcomeCompleted:
		update.Processed++
	case OutcomeFailed:
		update.Failed++
	case OutcomeSkipped:
		update.Skipped++
	}
	pt.publishLocked(update)
}

// Finish marks the run as done. The terminal status is published only when
// runID is the run currently shown.
func (pt *ProgressTracker) Finish(runID string, status ProgressStatus, message string) {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	delete(pt.inflight, runID)
	if pt.current.RunID != runID {
		return
	}
	update := pt.current
	update.Status = status
	update.Message = message
	pt.publishLocked(update)
}

// GetCurrent returns the latest snapshot
func (pt *ProgressTracker) GetCurrent() ProgressUpdate {
	pt.mu.RLock()
	defer pt.mu.RUnlock()
	return pt.current
}

// IsActive reports whether any run is in flight
func (pt *ProgressTracker) IsActive() bool {
	pt.mu.RLock()
	defer pt.mu.RUnlock()
	return len(pt.inflight) > 0
}

// Subscribe creates a listener channel that immediately receives the current snapshot
func (pt *ProgressTracker) Subscribe() chan ProgressUpdate {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	ch := make(chan ProgressUpdate, 10)
	pt.listeners = append(pt.listeners, ch)
	ch <- pt.current

	return ch
}

// Unsubscribe removes and closes a listener channel
func (pt *ProgressTracker) Unsubscribe(ch chan ProgressUpdate) {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	for i, listener := range pt.listeners {
		if listener == ch {
			pt.listeners = append(pt.listeners[:i], pt.listeners[i+1:]...)
			close(ch)
			break
		}
	}
}
