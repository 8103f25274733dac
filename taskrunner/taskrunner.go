// Package taskrunner runs migration tasks with bounded concurrency.
package taskrunner

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrClosed is returned when task is submitted after LimitedRunner has been closed.
	ErrClosed = errors.New("scaling.taskrunner.LimitedRunner: Closed.")
	// ErrTooBusy is returned when task is submitted but LimitedRunner's queue is full.
	ErrTooBusy = errors.New("scaling.taskrunner.LimitedRunner: Too busy.")
)

var (
	// DefaultMaxConcurrency is the default value of maxConcurrency.
	DefaultMaxConcurrency = 8
)

// Task is a unit of work. It should return promptly when ctx is done.
type Task func(ctx context.Context) error

// LimitedRunner runs tasks in at most maxConcurrency go routines. Extra tasks are queued
// (maxQueue < 0 for unlimited queue, 0 for no queue).
//
// The first task error cancels the context passed to all tasks, after which queued tasks
// are dropped. Wait returns that first error.
type LimitedRunner struct {
	maxConcurrency int
	maxQueue       int

	ctx    context.Context
	cancel context.CancelFunc

	cond   *sync.Cond
	mu     sync.Mutex // protect the following
	closed bool
	c      int // current running go routines: c <= maxConcurrency
	q      []Task
	err    error
}

// NewLimitedRunner creates a new LimitedRunner. If maxConcurrency <= 0, then
// DefaultMaxConcurrency will be used.
func NewLimitedRunner(ctx context.Context, maxConcurrency, maxQueue int) *LimitedRunner {
	if maxConcurrency <= 0 {
		maxConcurrency = DefaultMaxConcurrency
	}
	r := &LimitedRunner{
		maxConcurrency: maxConcurrency,
		maxQueue:       maxQueue,
	}
	r.ctx, r.cancel = context.WithCancel(ctx)
	r.cond = sync.NewCond(&r.mu)
	return r
}

// Submit submits a task. It never blocks.
func (r *LimitedRunner) Submit(task Task) error {
	canRun := false
	var err error

	r.mu.Lock()
	switch {
	case r.closed:
		err = ErrClosed

	case r.c < r.maxConcurrency:
		r.c++
		canRun = true

	case r.maxQueue < 0 || len(r.q) < r.maxQueue:
		r.q = append(r.q, task)

	default:
		err = ErrTooBusy
	}
	r.mu.Unlock()

	if canRun {
		go r.taskLoop(task)
	}
	return err
}

func (r *LimitedRunner) taskLoop(task Task) {
	for task != nil {
		var err error
		if r.ctx.Err() == nil {
			err = task(r.ctx)
		}

		r.mu.Lock()
		if err != nil && r.err == nil {
			r.err = err
			r.cancel()
		}
		task = nil
		if len(r.q) > 0 && r.err == nil {
			task = r.q[0]
			r.q[0] = nil
			r.q = r.q[1:]
		} else {
			r.q = nil
			r.c--
			r.cond.Broadcast()
		}
		r.mu.Unlock()
	}
}

// Wait closes the runner, waits all running and queued tasks to finish and returns the
// first task error.
func (r *LimitedRunner) Wait() error {
	r.mu.Lock()
	r.closed = true
	for r.c != 0 {
		r.cond.Wait()
	}
	err := r.err
	r.mu.Unlock()

	r.cancel()
	return err
}

// Stop cancels running tasks then waits.
func (r *LimitedRunner) Stop() error {
	r.cancel()
	return r.Wait()
}
