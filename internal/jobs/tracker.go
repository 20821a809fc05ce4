package jobs

import (
	"errors"
	"fmt"
	"sync"

	"media-annotator/internal/domain"
)

// ErrUnknownJob is returned when transitioning a job that was never tracked.
var ErrUnknownJob = errors.New("unknown job")

// Record is the tracked lifecycle snapshot of one job.
type Record struct {
	ID     string           `json:"id"`
	Kind   domain.JobKind   `json:"kind"`
	Inputs []string         `json:"inputs"`
	Status domain.JobStatus `json:"status"`
}

// Tracker keeps the status of every submitted job and validates transitions.
type Tracker struct {
	mu       sync.RWMutex
	records  map[string]*Record
	order    []string
	keepDone int
}

// NewTracker creates a tracker that retains at most keepDone finished jobs.
func NewTracker(keepDone int) *Tracker {
	if keepDone <= 0 {
		keepDone = 100
	}
	return &Tracker{
		records:  make(map[string]*Record),
		keepDone: keepDone,
	}
}

// Add registers job in queued state.
func (t *Tracker) Add(job domain.Job) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.records[job.ID] = &Record{
		ID:     job.ID,
		Kind:   job.Kind,
		Inputs: append([]string(nil), job.Inputs...),
		Status: domain.JobStatusQueued,
	}
	t.order = append(t.order, job.ID)
	t.prune()
}

// Transition validates and applies a state transition for job id.
func (t *Tracker) Transition(id string, status domain.JobStatus) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.records[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, id)
	}
	if status == rec.Status {
		return nil
	}
	if !isValidTransition(rec.Status, status) {
		return fmt.Errorf("invalid transition: %s -> %s", rec.Status, status)
	}

	rec.Status = status
	return nil
}

// Get returns a snapshot of one job.
func (t *Tracker) Get(id string) (Record, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	rec, ok := t.records[id]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// Active returns queued and running jobs in submission order.
func (t *Tracker) Active() []Record {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]Record, 0)
	for _, id := range t.order {
		rec := t.records[id]
		if isActive(rec.Status) {
			out = append(out, *rec)
		}
	}
	return out
}

// prune drops the oldest finished jobs beyond the retention limit.
func (t *Tracker) prune() {
	done := 0
	for _, id := range t.order {
		if !isActive(t.records[id].Status) {
			done++
		}
	}

	kept := t.order[:0]
	for _, id := range t.order {
		if done > t.keepDone && !isActive(t.records[id].Status) {
			delete(t.records, id)
			done--
			continue
		}
		kept = append(kept, id)
	}
	t.order = kept
}

// isActive checks if a status represents pending or running work.
func isActive(status domain.JobStatus) bool {
	return status == domain.JobStatusQueued || status == domain.JobStatusRunning
}

// isValidTransition enforces the allowed job state machine edges.
func isValidTransition(from, to domain.JobStatus) bool {
	switch from {
	case domain.JobStatusQueued:
		return to == domain.JobStatusRunning || to == domain.JobStatusFailed
	case domain.JobStatusRunning:
		return to == domain.JobStatusDone || to == domain.JobStatusFailed
	default:
		return false
	}
}
