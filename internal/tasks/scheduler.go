// Package tasks runs the sync pipelines as background jobs with
// at-least-once execution, exponential backoff on transient failures and
// cooperative cancellation.
package tasks

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/akslabs/cloudgallery/internal/blob"
)

// Status of a scheduled task.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusDone      Status = "done"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Snapshot is a point-in-time view of a task's progress, the signal the
// trigger surface returns instead of blocking.
type Snapshot struct {
	ID        string `json:"id"`
	Kind      string `json:"kind"`
	Status    Status `json:"status"`
	Current   int    `json:"current"`
	Total     int    `json:"total"`
	Failed    int    `json:"failed"`
	LastError string `json:"lastError,omitempty"`
}

// Progress is the mutable progress signal handed to a running task.
type Progress struct {
	mu        sync.Mutex
	current   int
	total     int
	failed    int
	lastError string
}

// Set updates the current/total counters.
func (p *Progress) Set(current, total int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.current = current
	p.total = total
}

// Fail records one failed item without aborting the batch.
func (p *Progress) Fail(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failed++
	if p.lastError == "" && err != nil {
		p.lastError = err.Error()
	}
}

func (p *Progress) snapshot() (int, int, int, string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current, p.total, p.failed, p.lastError
}

// Func is the unit of work a task executes. It must honor ctx cancellation
// and report item-level progress through p.
type Func func(ctx context.Context, p *Progress) error

// Handle identifies and controls one scheduled task.
type Handle struct {
	ID   string
	Kind string

	progress *Progress
	cancel   context.CancelFunc
	done     chan struct{}

	mu     sync.Mutex
	status Status
	err    error
}

// Snapshot returns the task's current progress view.
func (h *Handle) Snapshot() Snapshot {
	current, total, failed, lastError := h.progress.snapshot()
	h.mu.Lock()
	status := h.status
	err := h.err
	h.mu.Unlock()
	if lastError == "" && err != nil {
		lastError = err.Error()
	}
	return Snapshot{
		ID:        h.ID,
		Kind:      h.Kind,
		Status:    status,
		Current:   current,
		Total:     total,
		Failed:    failed,
		LastError: lastError,
	}
}

// Cancel requests cooperative cancellation.
func (h *Handle) Cancel() { h.cancel() }

// Done is closed when the task finishes in any terminal state.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Err returns the terminal error, if any. Valid after Done is closed.
func (h *Handle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

func (h *Handle) setStatus(status Status, err error) {
	h.mu.Lock()
	h.status = status
	h.err = err
	h.mu.Unlock()
}

// Scheduler owns the background task set. Tasks do not share locks; the
// index store is the only shared resource and every index mutation is a
// self-contained transaction.
type Scheduler struct {
	mu       sync.Mutex
	handles  map[string]*Handle
	wg       sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc
	maxDelay time.Duration
	maxTries uint64
}

// NewScheduler creates a scheduler rooted at ctx; cancelling ctx cancels
// every task it runs.
func NewScheduler(ctx context.Context) *Scheduler {
	child, cancel := context.WithCancel(ctx)
	return &Scheduler{
		handles:  make(map[string]*Handle),
		ctx:      child,
		cancel:   cancel,
		maxDelay: 2 * time.Minute,
		maxTries: 8,
	}
}

// Enqueue schedules fn to run in the background and returns immediately.
// Transient failures (transport errors) are retried with exponential
// backoff; terminal errors stop the task and are reported on the handle.
func (s *Scheduler) Enqueue(kind string, fn Func) *Handle {
	taskCtx, taskCancel := context.WithCancel(s.ctx)
	handle := &Handle{
		ID:       uuid.NewString(),
		Kind:     kind,
		progress: &Progress{},
		cancel:   taskCancel,
		done:     make(chan struct{}),
		status:   StatusPending,
	}

	s.mu.Lock()
	s.handles[handle.ID] = handle
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(handle.done)
		defer taskCancel()

		handle.setStatus(StatusRunning, nil)
		err := s.runWithRetry(taskCtx, handle, fn)
		switch {
		case err == nil:
			handle.setStatus(StatusDone, nil)
		case taskCtx.Err() != nil:
			handle.setStatus(StatusCancelled, taskCtx.Err())
		default:
			log.Printf("task %s (%s) failed: %v", handle.ID, kind, err)
			handle.setStatus(StatusFailed, err)
		}
	}()
	return handle
}

// EnqueuePeriodic runs fn every interval until the handle is cancelled. Each
// tick gets the same retry treatment as a one-shot task; a failed tick does
// not stop the schedule.
func (s *Scheduler) EnqueuePeriodic(kind string, interval time.Duration, fn Func) *Handle {
	taskCtx, taskCancel := context.WithCancel(s.ctx)
	handle := &Handle{
		ID:       uuid.NewString(),
		Kind:     kind,
		progress: &Progress{},
		cancel:   taskCancel,
		done:     make(chan struct{}),
		status:   StatusRunning,
	}

	s.mu.Lock()
	s.handles[handle.ID] = handle
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(handle.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-taskCtx.Done():
				handle.setStatus(StatusCancelled, taskCtx.Err())
				return
			case <-ticker.C:
				if err := s.runWithRetry(taskCtx, handle, fn); err != nil && taskCtx.Err() == nil {
					log.Printf("periodic task %s (%s) tick failed: %v", handle.ID, kind, err)
				}
			}
		}
	}()
	return handle
}

func (s *Scheduler) runWithRetry(ctx context.Context, handle *Handle, fn Func) error {
	policy := backoff.NewExponentialBackOff()
	policy.MaxInterval = s.maxDelay
	wrapped := backoff.WithMaxRetries(backoff.WithContext(policy, ctx), s.maxTries)

	return backoff.Retry(func() error {
		err := fn(ctx, handle.progress)
		if err == nil {
			return nil
		}
		if blob.IsTransient(err) && ctx.Err() == nil {
			log.Printf("task %s (%s): transient failure, will retry: %v", handle.ID, handle.Kind, err)
			return err
		}
		return backoff.Permanent(err)
	}, wrapped)
}

// Handle looks up a task by id.
func (s *Scheduler) Handle(id string) (*Handle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	handle, ok := s.handles[id]
	return handle, ok
}

// Cancel cancels the task with the given id.
func (s *Scheduler) Cancel(id string) bool {
	handle, ok := s.Handle(id)
	if !ok {
		return false
	}
	handle.Cancel()
	return true
}

// Shutdown cancels everything and waits for tasks to wind down or the grace
// context to expire.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.cancel()
	finished := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown grace period expired: %w", ctx.Err())
	}
}
