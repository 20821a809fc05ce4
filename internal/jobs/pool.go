package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"

	"github.com/google/uuid"

	"media-annotator/internal/domain"
)

// ErrQueueFull is returned by Submit when no queue slot is free.
var ErrQueueFull = errors.New("job queue is full")

// ErrPoolClosed is returned by Submit after Close.
var ErrPoolClosed = errors.New("job pool is closed")

// Emit delivers one event from a running job.
type Emit func(Event)

// RunFunc is the body of a job. Errors it returns become error events.
type RunFunc func(ctx context.Context, emit Emit) error

type task struct {
	job domain.Job
	run RunFunc
}

// Pool runs jobs on a fixed set of worker goroutines and posts their events
// to a mailbox.
type Pool struct {
	size    int
	queue   chan task
	out     *Mailbox
	tracker *Tracker

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// DefaultWorkers returns min(NumCPU, 4).
func DefaultWorkers() int {
	return min(runtime.NumCPU(), 4)
}

// NewPool creates a pool of size workers with a bounded queue.
func NewPool(size, queueSize int, out *Mailbox, tracker *Tracker) *Pool {
	if size <= 0 {
		size = DefaultWorkers()
	}
	if queueSize <= 0 {
		queueSize = 256
	}
	if tracker == nil {
		tracker = NewTracker(0)
	}
	return &Pool{
		size:    size,
		queue:   make(chan task, queueSize),
		out:     out,
		tracker: tracker,
	}
}

// Start launches the workers. Cancelling ctx aborts running jobs.
func (p *Pool) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	for i := 0; i < p.size; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
	slog.Debug("job pool started", "workers", p.size, "queue", cap(p.queue))
}

// Submit enqueues job without blocking. The job id is assigned when empty.
func (p *Pool) Submit(job domain.Job, run RunFunc) (domain.Job, error) {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return job, ErrPoolClosed
	}

	p.tracker.Add(job)
	select {
	case p.queue <- task{job: job, run: run}:
		return job, nil
	default:
		_ = p.tracker.Transition(job.ID, domain.JobStatusFailed)
		return job, ErrQueueFull
	}
}

// Tracker exposes job status tracking.
func (p *Pool) Tracker() *Tracker {
	return p.tracker
}

// Close stops accepting jobs, lets queued jobs finish and waits for workers.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	p.wg.Wait()
	if p.cancel != nil {
		p.cancel()
	}
}

func (p *Pool) worker(ctx context.Context, id int) {
	defer p.wg.Done()
	for t := range p.queue {
		p.execute(ctx, t)
	}
	slog.Debug("job worker stopped", "worker", id)
}

// execute runs one job, converting errors and panics into error events and
// always emitting exactly one finished event.
func (p *Pool) execute(ctx context.Context, t task) {
	job := t.job
	emit := func(ev Event) {
		ev.JobID = job.ID
		ev.Kind = job.Kind
		p.out.Publish(ev)
	}

	_ = p.tracker.Transition(job.ID, domain.JobStatusRunning)
	status := domain.JobStatusDone

	defer func() {
		if r := recover(); r != nil {
			slog.Error("job panicked", "job", job.ID, "kind", job.Kind, "panic", r)
			emit(Event{
				Type:    EventTypeError,
				Message: fmt.Sprintf("internal error: %v", r),
				Path:    firstInput(job),
			})
			status = domain.JobStatusFailed
		}
		_ = p.tracker.Transition(job.ID, status)
		emit(Event{Type: EventTypeFinished, Status: status})
	}()

	if err := t.run(ctx, emit); err != nil {
		status = domain.JobStatusFailed
		slog.Warn("job failed", "job", job.ID, "kind", job.Kind, "err", err)
		emit(ErrorEvent(err, firstInput(job)))
	}
}

// ErrorEvent builds an error event, preferring the path carried by err.
func ErrorEvent(err error, fallbackPath string) Event {
	path := domain.PathOf(err)
	if path == "" {
		path = fallbackPath
	}
	return Event{
		Type:      EventTypeError,
		Message:   err.Error(),
		Path:      path,
		ErrorKind: domain.KindOf(err),
		Status:    domain.JobStatusFailed,
	}
}

func firstInput(job domain.Job) string {
	if len(job.Inputs) == 0 {
		return ""
	}
	return job.Inputs[0]
}
